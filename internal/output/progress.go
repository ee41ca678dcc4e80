package output

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"
)

// Counters are the live totals shown while a run is in progress.
type Counters interface {
	RecordCount() int64
	TimerCount() int64
	ErrorCount() int64
}

const (
	barWidth    = 50
	waitingLine = "waiting for all requests to finish..."
)

// ProgressReporter displays real-time progress updates.
type ProgressReporter struct {
	counters Counters
	runTime  time.Duration
	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
	start    time.Time
	lastLen  int
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(counters Counters, runTime, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		counters: counters,
		runTime:  runTime,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
		start:    time.Now(),
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	p.start = time.Now()
	go p.run()
}

// Stop halts progress updates.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			p.print(p.Line(time.Since(p.start)))
		case <-p.done:
			if p.lastLen > 0 {
				fmt.Fprintln(p.writer)
			}
			return
		}
	}
}

// print overwrites the previous line in place.
func (p *ProgressReporter) print(line string) {
	pad := ""
	if n := p.lastLen - len(line); n > 0 {
		pad = strings.Repeat(" ", n)
	}
	fmt.Fprint(p.writer, "\r"+line+pad)
	p.lastLen = len(line)
}

// Line renders the progress line for elapsed time into the run.
func (p *ProgressReporter) Line(elapsed time.Duration) string {
	if elapsed > p.runTime {
		return waitingLine
	}
	return fmt.Sprintf("%s   transactions: %d  timers: %d  errors: %d",
		ProgressBar(elapsed, p.runTime), p.counters.RecordCount(), p.counters.TimerCount(), p.counters.ErrorCount())
}

// ProgressBar renders a fixed-width bar with the completed percentage.
func ProgressBar(elapsed, total time.Duration) string {
	pct := 100
	if total > 0 && elapsed < total {
		pct = int(elapsed * 100 / total)
	}
	if pct < 0 {
		pct = 0
	}
	filled := pct * barWidth / 100
	return fmt.Sprintf("[%s%s] %3d%%", strings.Repeat("=", filled), strings.Repeat(" ", barWidth-filled), pct)
}
