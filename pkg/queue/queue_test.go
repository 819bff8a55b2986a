package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pocketpay/transferd/pkg/transfer"
)

type countingProcessor struct {
	mu    sync.Mutex
	calls int

	failUntil int
	err       error
}

func (p *countingProcessor) Process(m transfer.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++

	if p.calls <= p.failUntil {
		return p.err
	}

	return nil
}

func (p *countingProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.calls
}

type recordingMessager struct {
	mu   sync.Mutex
	errs []error
}

func (m *recordingMessager) Notify(ctx context.Context, message string) error {
	return nil
}

func (m *recordingMessager) NotifyWarning(ctx context.Context, err error) error {
	return nil
}

func (m *recordingMessager) NotifyError(ctx context.Context, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.errs = append(m.errs, err)
	return nil
}

func (m *recordingMessager) errCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.errs)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatal("condition not met in time")
}

func TestQueue(t *testing.T) {
	t.Run("delivers a message once", func(t *testing.T) {
		wm := &recordingMessager{}
		s := NewService(3, 10, context.Background(), wm)

		p := &countingProcessor{}

		go s.Start(p)
		defer s.Close()

		s.Enqueue(transfer.Message{ID: "m1", Message: "payload"})

		waitFor(t, func() bool { return p.count() == 1 })
	})

	t.Run("retries until the processor succeeds", func(t *testing.T) {
		wm := &recordingMessager{}
		s := NewService(3, 10, context.Background(), wm)

		p := &countingProcessor{failUntil: 2, err: errors.New("transient")}

		go s.Start(p)
		defer s.Close()

		s.Enqueue(transfer.Message{ID: "m1", Message: "payload"})

		waitFor(t, func() bool { return p.count() == 3 })

		if wm.errCount() != 0 {
			t.Fatalf("got %d error notifications, want 0", wm.errCount())
		}
	})

	t.Run("requeue does not block the consumer", func(t *testing.T) {
		wm := &recordingMessager{}

		// an unbuffered channel makes a blocking requeue from the consumer
		// goroutine deadlock immediately
		s := NewService(3, 0, context.Background(), wm)

		p := &countingProcessor{failUntil: 1, err: errors.New("transient")}

		go s.Start(p)
		defer s.Close()

		s.Enqueue(transfer.Message{ID: "m1", Message: "payload"})

		waitFor(t, func() bool { return p.count() == 2 })
	})

	t.Run("drops and reports after retries are exhausted", func(t *testing.T) {
		wm := &recordingMessager{}
		s := NewService(2, 10, context.Background(), wm)

		p := &countingProcessor{failUntil: 10, err: errors.New("permanent")}

		go s.Start(p)
		defer s.Close()

		s.Enqueue(transfer.Message{ID: "m1", Message: "payload"})

		// initial attempt plus two retries
		waitFor(t, func() bool { return wm.errCount() == 1 })

		if p.count() != 3 {
			t.Fatalf("processor called %d times, want 3", p.count())
		}
	})
}
