// Package notify provides notification functionality for analysis verdicts.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"chart-analyst/internal/config"
	apperrors "chart-analyst/internal/errors"
	"chart-analyst/internal/models"
	"chart-analyst/internal/security"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	SendVerdict(ctx context.Context, record *models.AnalysisRecord) error
	SendBatchSummary(ctx context.Context, summary *models.BatchSummary) error
	SendError(ctx context.Context, err error, errContext string) error
}

// NotificationChannel defines the interface for a notification channel.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
}

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationVerdict    NotificationType = "verdict"
	NotificationDivergence NotificationType = "divergence"
	NotificationSummary    NotificationType = "summary"
	NotificationError      NotificationType = "error"
)

// NotificationLevel represents the notification level filter.
type NotificationLevel string

const (
	LevelAll            NotificationLevel = "all"
	LevelDivergenceOnly NotificationLevel = "divergence_only"
	LevelErrorsOnly     NotificationLevel = "errors_only"
)

// MultiNotifier sends notifications to multiple channels.
type MultiNotifier struct {
	channels []NotificationChannel
	level    NotificationLevel
	mu       sync.RWMutex
}

// New builds the notifier described by cfg. Disabled notifications yield
// a NoOpNotifier.
func New(cfg *config.Config) Notifier {
	if !cfg.Notifications.Enabled {
		return NewNoOpNotifier()
	}
	return NewMultiNotifier(&cfg.Notifications, cfg.Credentials.Telegram.BotToken)
}

// NewMultiNotifier creates a new MultiNotifier with the given configuration.
func NewMultiNotifier(cfg *config.NotificationConfig, botToken string) *MultiNotifier {
	mn := &MultiNotifier{
		channels: make([]NotificationChannel, 0),
		level:    NotificationLevel(cfg.Level),
	}

	if mn.level == "" {
		mn.level = LevelDivergenceOnly
	}

	if cfg.Terminal.Enabled {
		mn.channels = append(mn.channels, NewTerminalNotifier(cfg.Terminal))
	}
	if cfg.Webhook.Enabled {
		mn.channels = append(mn.channels, NewWebhookNotifier(cfg.Webhook))
	}
	if cfg.Telegram.Enabled {
		mn.channels = append(mn.channels, NewTelegramNotifier(cfg.Telegram, botToken))
	}

	return mn
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch NotificationChannel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// shouldSend checks if a notification should be sent based on the level filter.
func (mn *MultiNotifier) shouldSend(notifType NotificationType) bool {
	switch mn.level {
	case LevelDivergenceOnly:
		return notifType == NotificationDivergence
	case LevelErrorsOnly:
		return notifType == NotificationError
	default:
		return true
	}
}

// Send sends a notification to all enabled channels.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if !mn.shouldSend(n.Type) {
		return nil
	}

	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	mn.mu.RLock()
	channels := mn.channels
	mn.mu.RUnlock()

	var errs []string
	for _, ch := range channels {
		if ch.IsEnabled() {
			if err := ch.Send(ctx, n); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), security.RedactError(err)))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SendVerdict sends a verdict notification. Divergent verdicts are typed
// as divergence so the divergence_only level lets them through.
func (mn *MultiNotifier) SendVerdict(ctx context.Context, record *models.AnalysisRecord) error {
	in := record.Integrated
	meta := record.Metadata

	notifType := NotificationVerdict
	title := fmt.Sprintf("📊 %s %s: %s", meta.Symbol, meta.Timeframe, strings.ToUpper(string(in.Alignment)))
	if in.DivergenceDetected {
		notifType = NotificationDivergence
		title = fmt.Sprintf("⚠️ Divergence: %s %s", meta.Symbol, meta.Timeframe)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Quantitative: %s | Visual: %s\n", in.QuantSentiment, in.VisualSentiment))
	sb.WriteString(fmt.Sprintf("Confidence: %d/10\n", in.Confidence))
	sb.WriteString(fmt.Sprintf("Latest Price: %s\n", formatPrice(record.Quant.LatestPrice)))
	for _, r := range in.Risks {
		sb.WriteString(fmt.Sprintf("• %s\n", r))
	}
	sb.WriteString(in.Recommendation)

	return mn.Send(ctx, Notification{
		Type:    notifType,
		Title:   title,
		Message: sb.String(),
		Data: map[string]interface{}{
			"run_id":       meta.RunID,
			"symbol":       meta.Symbol,
			"timeframe":    meta.Timeframe,
			"alignment":    in.Alignment,
			"confidence":   in.Confidence,
			"divergence":   in.DivergenceDetected,
			"risks":        in.Risks,
			"latest_price": record.Quant.LatestPrice,
		},
	})
}

// SendBatchSummary sends a batch summary notification.
func (mn *MultiNotifier) SendBatchSummary(ctx context.Context, summary *models.BatchSummary) error {
	title := fmt.Sprintf("📋 Batch Complete - %s", summary.Timeframe)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Total: %d\n", summary.TotalSymbols))
	sb.WriteString(fmt.Sprintf("Successful: %d | Failed: %d | Skipped: %d\n",
		summary.Successful, summary.Failed, summary.Skipped))

	var divergent []string
	for _, r := range summary.Results {
		if r.Divergence {
			divergent = append(divergent, r.Symbol)
		}
	}
	if len(divergent) > 0 {
		sb.WriteString(fmt.Sprintf("\n⚠️ Divergent: %s", strings.Join(divergent, ", ")))
	}

	return mn.Send(ctx, Notification{
		Type:    NotificationSummary,
		Title:   title,
		Message: sb.String(),
		Data: map[string]interface{}{
			"run_id":     summary.RunID,
			"total":      summary.TotalSymbols,
			"successful": summary.Successful,
			"failed":     summary.Failed,
			"skipped":    summary.Skipped,
			"divergent":  divergent,
		},
	})
}

// SendError sends an error notification.
func (mn *MultiNotifier) SendError(ctx context.Context, err error, errContext string) error {
	title := "❌ Analysis Failed"
	err = security.RedactError(err)
	message := fmt.Sprintf("Context: %s\nKind: %s\nError: %v\nTime: %s",
		errContext, apperrors.Kind(err), err, time.Now().Format("15:04:05"))

	return mn.Send(ctx, Notification{
		Type:    NotificationError,
		Title:   title,
		Message: message,
		Data: map[string]interface{}{
			"context": errContext,
			"kind":    apperrors.Kind(err),
			"error":   err.Error(),
		},
	})
}

// formatPrice formats a price with thousands separators and two decimals.
func formatPrice(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	str := fmt.Sprintf("%.2f", amount)
	intPart, decPart, _ := strings.Cut(str, ".")

	var b strings.Builder
	for i, ch := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(ch)
	}

	result := b.String() + "." + decPart
	if negative {
		result = "-" + result
	}
	return result
}

// WebhookNotifier sends notifications via HTTP webhook.
type WebhookNotifier struct {
	url     string
	enabled bool
	client  *http.Client
}

// NewWebhookNotifier creates a new WebhookNotifier.
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		url:     cfg.URL,
		enabled: cfg.Enabled && cfg.URL != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the notifier.
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// IsEnabled returns whether the notifier is enabled.
func (w *WebhookNotifier) IsEnabled() bool {
	return w.enabled
}

// Send sends a notification via webhook.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	if !w.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"type":      n.Type,
		"title":     n.Title,
		"message":   n.Message,
		"data":      n.Data,
		"timestamp": n.Timestamp.Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ChartAnalyst/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// NoOpNotifier is a notifier that does nothing.
type NoOpNotifier struct{}

// NewNoOpNotifier creates a new NoOpNotifier.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

func (n *NoOpNotifier) SendVerdict(ctx context.Context, record *models.AnalysisRecord) error {
	return nil
}

func (n *NoOpNotifier) SendBatchSummary(ctx context.Context, summary *models.BatchSummary) error {
	return nil
}

func (n *NoOpNotifier) SendError(ctx context.Context, err error, errContext string) error {
	return nil
}
