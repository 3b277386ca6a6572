package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestStealSerializesAccess(t *testing.T) {
	h := startSession(t, "primary")

	// Two goroutines hammer the same counter through steals. The run loop
	// serializes the closures, so no increment is lost.
	var n int
	var wg sync.WaitGroup
	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, err := Steal(context.Background(), h.sess, func(*Service) int {
					n++
					return n
				}); err != nil {
					t.Errorf("Steal: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, err := Steal(context.Background(), h.sess, func(*Service) int { return n })
	if err != nil {
		t.Fatal(err)
	}
	if got != 100 {
		t.Fatalf("counter = %d, want 100", got)
	}
}

func TestStealAfterLoopStops(t *testing.T) {
	h := startSession(t, "primary")
	h.cancel()
	<-h.sess.Done()

	_, err := Steal(context.Background(), h.sess, func(*Service) int { return 1 })
	if !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("Steal after stop = %v, want ErrChannelClosed", err)
	}
}

func TestStealContextAbandonsWaitNotClosure(t *testing.T) {
	h := startSession(t, "primary")

	started := make(chan struct{})
	var ran bool
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := Steal(ctx, h.sess, func(*Service) int {
		close(started)
		time.Sleep(50 * time.Millisecond)
		ran = true
		return 1
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("abandoned Steal = %v, want context.Canceled", err)
	}

	// The closure still ran to completion; the next steal is serialized
	// after it and observes the effect.
	got, err := Steal(context.Background(), h.sess, func(*Service) bool { return ran })
	if err != nil {
		t.Fatal(err)
	}
	if !got {
		t.Fatal("abandoned closure did not run to completion")
	}
}
