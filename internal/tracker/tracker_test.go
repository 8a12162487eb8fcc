package tracker

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestWaitReturnsImmediatelyWhenIdle(t *testing.T) {
	tr := New(nil, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tr.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestWaitBlocksUntilAllSettled(t *testing.T) {
	tr := New(nil, time.Minute)
	release := make(chan struct{})
	var order []string
	var mu sync.Mutex

	tr.Go("op1", func() error {
		<-release
		mu.Lock()
		order = append(order, "op1")
		mu.Unlock()
		return nil
	})

	waited := make(chan struct{})
	go func() {
		_ = tr.Wait(context.Background())
		mu.Lock()
		order = append(order, "wait")
		mu.Unlock()
		close(waited)
	}()

	time.Sleep(20 * time.Millisecond)
	if tr.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", tr.Pending())
	}
	close(release)
	<-waited

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "op1" || order[1] != "wait" {
		t.Errorf("order = %v", order)
	}
}

func TestWaitCoversOperationsStartedMidWait(t *testing.T) {
	tr := New(nil, time.Minute)
	first := make(chan struct{})
	second := make(chan struct{})

	tr.Go("first", func() error {
		<-first
		return nil
	})
	// Second operation starts while the first is still pending, before any
	// waiter could have observed idle.
	tr.Go("second", func() error {
		<-second
		return nil
	})

	done := make(chan struct{})
	go func() {
		_ = tr.Wait(context.Background())
		close(done)
	}()

	close(first)
	select {
	case <-done:
		t.Fatal("Wait returned with second operation still pending")
	case <-time.After(50 * time.Millisecond):
	}
	close(second)
	<-done
}

func TestWaitHonorsContext(t *testing.T) {
	tr := New(nil, time.Minute)
	block := make(chan struct{})
	defer close(block)
	tr.Go("stuck", func() error {
		<-block
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := tr.Wait(ctx); err == nil {
		t.Fatal("expected context error")
	}
}

func TestWatchdogLogsLongOperations(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	logger := slog.New(slog.NewTextHandler(&lockedWriter{w: &buf, mu: &mu}, nil))
	tr := New(logger, 20*time.Millisecond)

	release := make(chan struct{})
	tr.Go("slow-save", func() error {
		<-release
		return nil
	})
	time.Sleep(80 * time.Millisecond)
	close(release)
	_ = tr.Wait(context.Background())

	mu.Lock()
	out := buf.String()
	mu.Unlock()
	if !strings.Contains(out, "watchdog") || !strings.Contains(out, "slow-save") {
		t.Errorf("expected watchdog warning, got: %s", out)
	}
}

func TestDoTracksInline(t *testing.T) {
	tr := New(nil, time.Minute)
	err := tr.Do(context.Background(), "inline", func(context.Context) error {
		if tr.Pending() != 1 {
			t.Errorf("pending inside Do = %d, want 1", tr.Pending())
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if tr.Pending() != 0 {
		t.Errorf("pending after Do = %d", tr.Pending())
	}
}

type lockedWriter struct {
	w  *bytes.Buffer
	mu *sync.Mutex
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
