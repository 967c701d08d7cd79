package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chart-analyst/internal/models"
	"chart-analyst/internal/pipeline"
)

func TestRegisterRejectsBadSpec(t *testing.T) {
	s := New(context.Background(), nil, nil, zerolog.Nop())
	if err := s.Register("every four hours"); err == nil {
		t.Error("expected error for invalid cron spec")
	}
	// Five-field specs are rejected because seconds come first.
	if err := s.Register("0 */4 * * *"); err == nil {
		t.Error("expected error for five-field spec")
	}
	if err := s.Register("0 5 */4 * * *"); err != nil {
		t.Errorf("Register() error = %v", err)
	}
}

func TestSchedulerRunsBatch(t *testing.T) {
	var calls atomic.Int32
	run := func(ctx context.Context, symbols []string) (*pipeline.BatchResult, error) {
		calls.Add(1)
		return &pipeline.BatchResult{Summary: &models.BatchSummary{TotalSymbols: len(symbols)}}, nil
	}

	s := New(context.Background(), run, []string{"BTC/USDT", "ETH/USDT"}, zerolog.Nop())
	if err := s.Register("* * * * * *"); err != nil {
		t.Fatal(err)
	}
	if s.Next().IsZero() {
		t.Error("Next() should report the upcoming run")
	}
	s.Start()
	defer s.Stop()

	select {
	case res := <-s.Results():
		if res.Summary.TotalSymbols != 2 {
			t.Errorf("TotalSymbols = %d", res.Summary.TotalSymbols)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled batch did not run")
	}
	if calls.Load() < 1 {
		t.Error("batch func not called")
	}
}

func TestSchedulerSkipsOverlappingRuns(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var calls atomic.Int32
	run := func(ctx context.Context, symbols []string) (*pipeline.BatchResult, error) {
		calls.Add(1)
		started <- struct{}{}
		<-release
		return &pipeline.BatchResult{Summary: &models.BatchSummary{}}, nil
	}

	s := New(context.Background(), run, []string{"BTC/USDT"}, zerolog.Nop())
	done := make(chan struct{})
	go func() {
		s.RunNow()
		close(done)
	}()
	<-started

	s.RunNow() // returns immediately while the first batch is running
	close(release)
	<-done

	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestSchedulerIdleAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	run := func(ctx context.Context, symbols []string) (*pipeline.BatchResult, error) {
		calls.Add(1)
		return nil, nil
	}
	s := New(ctx, run, []string{"BTC/USDT"}, zerolog.Nop())
	s.RunNow()
	if calls.Load() != 0 {
		t.Error("no batch should start once the context is cancelled")
	}
}
