package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Lanes runs jobs serially per key and concurrently across keys. Each key has
// a FIFO queue drained by one goroutine that exits once the queue is empty.
type Lanes struct {
	mu     sync.Mutex
	queues map[string][]func()
	wg     sync.WaitGroup
}

// NewLanes creates an empty set of lanes.
func NewLanes() *Lanes {
	return &Lanes{queues: make(map[string][]func())}
}

// Submit appends fn to the lane for key and returns immediately.
func (l *Lanes) Submit(key string, fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	q, running := l.queues[key]
	l.queues[key] = append(q, fn)
	if running {
		return
	}
	l.wg.Add(1)
	go l.drain(key)
}

// Do submits fn to the lane for key and waits for it to finish. A cancelled
// ctx stops the wait, not the job.
func (l *Lanes) Do(ctx context.Context, key string, fn func() error) error {
	done := make(chan error, 1)
	l.Submit(key, func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Lanes.Do: job panicked", "key", key, "panic", fmt.Sprint(r))
				err = fmt.Errorf("job for %s panicked: %v", key, r)
			}
			done <- err
		}()
		err = fn()
	})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every lane is idle.
func (l *Lanes) Wait() {
	l.wg.Wait()
}

// Active returns the number of keys with queued or running jobs.
func (l *Lanes) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queues)
}

func (l *Lanes) drain(key string) {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		q := l.queues[key]
		if len(q) == 0 {
			delete(l.queues, key)
			l.mu.Unlock()
			return
		}
		fn := q[0]
		q[0] = nil
		l.queues[key] = q[1:]
		l.mu.Unlock()

		run(key, fn)
	}
}

func run(key string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Lanes.run: job panicked", "key", key, "panic", fmt.Sprint(r))
		}
	}()
	fn()
}
