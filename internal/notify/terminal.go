package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"chart-analyst/internal/config"
)

// TerminalNotifier prints notifications to the terminal.
type TerminalNotifier struct {
	out     io.Writer
	bell    bool
	enabled bool
	mu      sync.Mutex
}

// NewTerminalNotifier creates a notifier writing to stderr.
func NewTerminalNotifier(cfg config.TerminalConfig) *TerminalNotifier {
	return &TerminalNotifier{
		out:     os.Stderr,
		bell:    cfg.Bell,
		enabled: cfg.Enabled,
	}
}

// SetOutput redirects terminal notifications.
func (tn *TerminalNotifier) SetOutput(w io.Writer) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.out = w
}

// Name returns the name of the notifier.
func (tn *TerminalNotifier) Name() string {
	return "terminal"
}

// IsEnabled returns whether the notifier is enabled.
func (tn *TerminalNotifier) IsEnabled() bool {
	return tn.enabled
}

// Send prints the notification. Writes are serialised so concurrent batch
// workers do not interleave lines.
func (tn *TerminalNotifier) Send(ctx context.Context, n Notification) error {
	if !tn.enabled {
		return nil
	}

	tn.mu.Lock()
	defer tn.mu.Unlock()

	if tn.bell {
		fmt.Fprint(tn.out, "\a")
	}
	_, err := fmt.Fprintln(tn.out, FormatNotification(n))
	return err
}

// FormatNotification formats a notification for terminal display.
func FormatNotification(n Notification) string {
	var sb strings.Builder

	var typeIndicator string
	var paint *color.Color
	switch n.Type {
	case NotificationDivergence:
		typeIndicator = "⚠️  DIVERGENCE"
		paint = color.New(color.FgYellow, color.Bold)
	case NotificationVerdict:
		typeIndicator = "📊 VERDICT"
		paint = color.New(color.FgCyan)
	case NotificationSummary:
		typeIndicator = "📋 SUMMARY"
		paint = color.New(color.FgMagenta)
	case NotificationError:
		typeIndicator = "❌ ERROR"
		paint = color.New(color.FgRed)
	default:
		typeIndicator = "ℹ️  INFO"
		paint = color.New(color.FgWhite)
	}

	sb.WriteString(paint.Sprintf("[%s] %s", n.Timestamp.Format("15:04:05"), typeIndicator))
	sb.WriteString(fmt.Sprintf(" | %s", n.Title))

	for _, line := range strings.Split(strings.TrimSpace(n.Message), "\n") {
		if line == "" {
			continue
		}
		sb.WriteString(fmt.Sprintf("\n    → %s", line))
	}

	return sb.String()
}
