package progress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"goa.design/clue/log"
)

var (
	// ErrClosed is returned by Send once the display has finished.
	ErrClosed = errors.New("progress display has completed")
	// ErrFull is returned by TrySend when the display is behind.
	ErrFull = errors.New("progress queue is full")
)

const queueSize = 50

// Options configures a Reporter.
type Options struct {
	Output   io.Writer
	Total    int      // Number of servers being loaded
	Disabled []string // Disabled servers, shown once up front
	TTY      bool     // Animate with bubbletea instead of printing lines
}

// Reporter owns the display goroutine. It stops after a Terminate message.
type Reporter struct {
	ch   chan Msg
	done chan struct{}
	err  error
	once sync.Once
}

// Start launches the display.
func Start(ctx context.Context, opts Options) *Reporter {
	r := &Reporter{
		ch:   make(chan Msg, queueSize),
		done: make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		var err error
		if opts.TTY {
			err = runProgram(ctx, opts, r.ch)
		} else {
			err = runLines(ctx, opts, r.ch)
		}
		if err != nil {
			r.err = err
			log.Error(ctx, err, log.KV{K: "msg", V: "progress display failed"})
		}
	}()
	return r
}

// Send queues a message for display.
func (r *Reporter) Send(ctx context.Context, msg Msg) error {
	select {
	case <-r.done:
		return ErrClosed
	default:
	}
	select {
	case r.ch <- msg:
		return nil
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend queues msg without blocking. A display that has fallen a full
// queue behind loses the message.
func (r *Reporter) TrySend(msg Msg) error {
	select {
	case <-r.done:
		return ErrClosed
	default:
	}
	select {
	case r.ch <- msg:
		return nil
	default:
		return ErrFull
	}
}

// Wait blocks until the display has finished.
func (r *Reporter) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tally tracks counts shared by both renderers.
type tally struct {
	total    int
	complete int
	failed   int
}

// apply updates the counts and returns the text to print for msg.
func (t *tally) apply(s Styles, msg Msg) (string, bool) {
	switch m := msg.(type) {
	case Done:
		t.complete++
		return s.Success(m.Name, m.Time), false
	case Error:
		t.failed++
		return s.Failure(m.Name, m.Message, m.Time), false
	case Warn:
		t.complete++
		return s.Warning(m.Name, m.Message, m.Time), false
	case SignInNotice:
		return s.SignIn(m.Name), false
	case Terminate:
		if len(m.StillLoading) > 0 && t.total > 0 {
			return s.Incomplete(t.complete, t.total, m.StillLoading), true
		}
		return "", true
	}
	return "", false
}

// runLines prints one line per event. Used when output is not a terminal.
func runLines(ctx context.Context, opts Options, ch <-chan Msg) error {
	s := NewStyles(opts.Output)
	t := &tally{total: opts.Total}
	for _, name := range opts.Disabled {
		if _, err := fmt.Fprintln(opts.Output, s.Disabled(name)); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			text, stop := t.apply(s, msg)
			if text != "" {
				if _, err := fmt.Fprintln(opts.Output, text); err != nil {
					return err
				}
			}
			if stop {
				return nil
			}
		}
	}
}
