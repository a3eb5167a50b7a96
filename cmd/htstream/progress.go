package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const progressTick = 100 * time.Millisecond

// ProgressPrinter keeps a single console line updated with the current phase
// of a slow operation and how long it has been running, or how long remains
// in countdown mode. Reaching a phase named as a stop phase shuts the
// printer down.
//
// A printer is single use: Start at most once, then Stop exactly once, e.g.
//
//	p := NewProgressPrinter(...)
//	p.Start()
//	defer p.Stop()
type ProgressPrinter struct {
	out        io.Writer
	prefix     string
	phase      atomic.Value
	stopPhases map[string]struct{}
	countdown  bool
	duration   time.Duration
	startedAt  time.Time
	started    atomic.Bool
	stopOnce   sync.Once
	quit       chan struct{}
	done       chan struct{}
}

// NewProgressPrinter creates a printer that shows elapsed time.
func NewProgressPrinter(prefix, phase string, stopPhases ...string) *ProgressPrinter {
	return newProgressPrinter(prefix, phase, false, 0, stopPhases)
}

// NewCountdownProgressPrinter creates a printer that counts down from
// duration instead of showing elapsed time.
func NewCountdownProgressPrinter(prefix, phase string, duration time.Duration, stopPhases ...string) *ProgressPrinter {
	return newProgressPrinter(prefix, phase, true, duration, stopPhases)
}

func newProgressPrinter(prefix, phase string, countdown bool, duration time.Duration, stopPhases []string) *ProgressPrinter {
	p := &ProgressPrinter{
		out:        os.Stdout,
		prefix:     prefix,
		stopPhases: make(map[string]struct{}, len(stopPhases)),
		countdown:  countdown,
		duration:   duration,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, name := range stopPhases {
		p.stopPhases[name] = struct{}{}
	}
	p.phase.Store(phase)
	return p
}

// Start prints the initial progress line and begins updating it in a
// background goroutine. Panics when called twice on the same instance.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter started twice")
	}
	p.startedAt = time.Now()
	p.render(p.phase.Load().(string), 0)
	go p.loop()
}

func (p *ProgressPrinter) loop() {
	defer close(p.done)
	ticker := time.NewTicker(progressTick)
	defer ticker.Stop()

	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			phase := p.phase.Load().(string)
			if _, stop := p.stopPhases[phase]; stop {
				return
			}
			p.render(phase, p.seconds())
		}
	}
}

// seconds returns the whole-second figure shown next to the phase. Zero means
// the figure is omitted.
func (p *ProgressPrinter) seconds() int {
	elapsed := time.Since(p.startedAt)
	if !p.countdown {
		return int(elapsed.Seconds())
	}
	if left := p.duration - elapsed; left > 0 {
		return int(left.Seconds() + 0.5)
	}
	return 0
}

func (p *ProgressPrinter) render(phase string, seconds int) {
	if seconds > 0 {
		fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
	}
}

// Callback returns a function that moves the printer to a new phase. Moving
// to a stop phase stops the printer. Safe to call from any goroutine.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, stop := p.stopPhases[phase]; stop {
			p.Stop()
		}
	}
}

// Stop ends the updates and clears the progress line. Safe to call more than
// once and from multiple goroutines.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
		if p.started.Load() {
			<-p.done
		}
		fmt.Fprint(p.out, "\r\033[K")
	})
}
