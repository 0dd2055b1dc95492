// Package uiloop runs functions on a single goroutine locked to its OS
// thread. Clipboard and keystroke calls that need thread affinity go through
// it; worker goroutines post to it and wait for the result.
package uiloop

import (
	"context"
	"errors"
	"runtime"
	"sync"
)

var ErrClosed = errors.New("ui loop closed")

type job struct {
	fn   func() error
	done chan error
}

type Loop struct {
	jobs chan job
	quit chan struct{}
	wg   sync.WaitGroup

	// mu orders enqueues against Close: once closed is set no job can land
	// in jobs, so Close sees every leftover.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// Start launches the loop goroutine. Close stops it after the queued jobs run.
func Start() *Loop {
	l := &Loop{jobs: make(chan job, 16), quit: make(chan struct{})}
	l.wg.Add(1)
	go l.run()
	return l
}

func (l *Loop) run() {
	defer l.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case j := <-l.jobs:
			j.done <- j.fn()
		case <-l.quit:
			for {
				select {
				case j := <-l.jobs:
					j.done <- j.fn()
				default:
					return
				}
			}
		}
	}
}

// Post queues fn and returns without waiting.
func (l *Loop) Post(fn func()) error {
	return l.enqueue(job{fn: func() error { fn(); return nil }, done: make(chan error, 1)})
}

// Call runs fn on the loop and waits for its error. If ctx ends first Call
// returns ctx.Err(); fn still runs.
func (l *Loop) Call(ctx context.Context, fn func() error) error {
	j := job{fn: fn, done: make(chan error, 1)}
	if err := l.enqueue(j); err != nil {
		return err
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) enqueue(j job) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}

	select {
	case l.jobs <- j:
		return nil
	case <-l.quit:
		return ErrClosed
	}
}

// Close stops the loop after the queued jobs run. A job that raced in after
// the loop exited fails with ErrClosed instead of being dropped.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		close(l.quit)
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
	})
	l.wg.Wait()

	for {
		select {
		case j := <-l.jobs:
			j.done <- ErrClosed
		default:
			return
		}
	}
}
