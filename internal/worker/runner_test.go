package worker

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeWorker struct {
	name string
	run  func(ctx context.Context) error
}

func (f *fakeWorker) Name() string                  { return f.name }
func (f *fakeWorker) Run(ctx context.Context) error { return f.run(ctx) }

func TestRunner_CancelsSiblingsOnError(t *testing.T) {
	boom := errors.New("boom")
	siblingSawCancel := make(chan struct{})

	failing := &fakeWorker{name: "failing", run: func(ctx context.Context) error {
		return boom
	}}
	sibling := &fakeWorker{name: "sibling", run: func(ctx context.Context) error {
		<-ctx.Done()
		close(siblingSawCancel)
		return ctx.Err()
	}}

	r := NewRunner(nil, failing, sibling)
	err := r.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want %v", err, boom)
	}
	select {
	case <-siblingSawCancel:
	case <-time.After(time.Second):
		t.Fatal("sibling worker was never cancelled")
	}
}

func TestRunner_AllSucceed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	w := &fakeWorker{name: "w", run: func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}}

	r := NewRunner(nil, w)
	go func() {
		if err := r.Run(ctx); err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run never returned after cancellation")
	}
}
