// Package sink consumes the result channel of a run. It is the only reader
// of the channel: it writes the record file, keeps live counters and
// statistics, and forwards records to an optional publisher.
package sink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/multimech/internal/metrics"
	"github.com/torosent/multimech/internal/runner"
)

// DefaultPublishBuffer is the number of records that may wait for the
// publisher before new ones are shed.
const DefaultPublishBuffer = 16384

const maxPublishBatch = 256

// Entry is one consumed record handed to a Publisher.
type Entry struct {
	Seq    int64
	Record runner.ResultRecord
}

// Publisher receives consumed records in batches on its own goroutine, so a
// slow publisher never holds up the result channel. Publish must not keep
// batch after returning.
type Publisher interface {
	Publish(ctx context.Context, batch []Entry) error
}

// Options configure a Sink.
type Options struct {
	Console       io.Writer // console mode echo target, stdout when nil
	Publisher     Publisher // optional
	PublishBuffer int       // DefaultPublishBuffer when zero
	Logger        *zap.Logger
}

type Sink struct {
	opts Options

	groups  *metrics.Set
	timers  *metrics.Set
	started atomic.Bool
	done    chan struct{}
	path    string
	err     error

	queue     chan Entry
	forwarded chan struct{}

	recordCount    atomic.Int64
	timerCount     atomic.Int64
	errorCount     atomic.Int64
	publishFails   atomic.Int64
	publishDropped atomic.Int64
}

func New(opts Options) *Sink {
	if opts.Console == nil {
		opts.Console = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PublishBuffer <= 0 {
		opts.PublishBuffer = DefaultPublishBuffer
	}
	return &Sink{
		opts:   opts,
		groups: metrics.NewSet(),
		timers: metrics.NewSet(),
		done:   make(chan struct{}),
	}
}

// Start creates outputDir and its record file, then consumes ch in the
// background until the channel is closed. With console set every line is
// also echoed.
func (s *Sink) Start(ch *runner.ResultChannel, outputDir string, console bool) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("sink already started")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	s.path = filepath.Join(outputDir, RawFileName)
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("create record file: %w", err)
	}
	if s.opts.Publisher != nil {
		s.queue = make(chan Entry, s.opts.PublishBuffer)
		s.forwarded = make(chan struct{})
		go s.forward()
	}
	go s.consume(ch.Records(), f, console)
	return nil
}

func (s *Sink) consume(records <-chan runner.ResultRecord, f *os.File, console bool) {
	defer close(s.done)
	w := bufio.NewWriter(f)

	for rec := range records {
		seq := s.recordCount.Add(1)
		s.timerCount.Add(int64(len(rec.CustomTimers)))
		if rec.Failed() {
			s.errorCount.Add(1)
		}

		s.groups.Get(rec.Group).Record(seconds(rec.Duration), rec.Error)
		for name, val := range rec.CustomTimers {
			if math.IsNaN(val) || math.IsInf(val, 0) {
				continue
			}
			s.timers.Get(name).Record(seconds(val), rec.Error)
		}

		line := FormatRecord(seq, rec)
		if s.err == nil {
			if _, err := w.WriteString(line); err != nil {
				s.err = fmt.Errorf("write record file: %w", err)
			}
		}
		if console {
			fmt.Fprint(s.opts.Console, line)
		}
		if s.queue != nil {
			select {
			case s.queue <- Entry{Seq: seq, Record: rec}:
			default:
				s.publishDropped.Add(1)
			}
		}
	}

	if err := w.Flush(); err != nil && s.err == nil {
		s.err = fmt.Errorf("flush record file: %w", err)
	}
	if err := f.Close(); err != nil && s.err == nil {
		s.err = fmt.Errorf("close record file: %w", err)
	}
	if s.queue != nil {
		close(s.queue)
		<-s.forwarded
	}
}

// forward hands queued records to the publisher, batching whatever is
// already waiting.
func (s *Sink) forward() {
	defer close(s.forwarded)
	ctx := context.Background()
	batch := make([]Entry, 0, maxPublishBatch)
	for first := range s.queue {
		batch = append(batch[:0], first)
	fill:
		for len(batch) < maxPublishBatch {
			select {
			case e, ok := <-s.queue:
				if !ok {
					break fill
				}
				batch = append(batch, e)
			default:
				break fill
			}
		}
		if err := s.opts.Publisher.Publish(ctx, batch); err != nil {
			if s.publishFails.Add(int64(len(batch))) == int64(len(batch)) {
				s.opts.Logger.Warn("publishing records failed", zap.Error(err))
			}
		}
	}
}

// Finalize waits until every record has been consumed and the record file
// is closed. The result channel must be closed first.
func (s *Sink) Finalize(ctx context.Context) error {
	if !s.started.Load() {
		return errors.New("sink not started")
	}
	select {
	case <-s.done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for results to drain: %w", ctx.Err())
	}
	if n := s.publishFails.Load(); n > 0 {
		s.opts.Logger.Warn("records not published", zap.Int64("count", n))
	}
	if n := s.publishDropped.Load(); n > 0 {
		s.opts.Logger.Warn("records shed while the publisher lagged", zap.Int64("count", n))
	}
	return s.err
}

// Path returns the record file path once started.
func (s *Sink) Path() string { return s.path }

func (s *Sink) RecordCount() int64 { return s.recordCount.Load() }

func (s *Sink) TimerCount() int64 { return s.timerCount.Load() }

func (s *Sink) ErrorCount() int64 { return s.errorCount.Load() }

// PublishDropped counts records never handed to the publisher because its
// buffer was full.
func (s *Sink) PublishDropped() int64 { return s.publishDropped.Load() }

// GroupStats returns live statistics per group.
func (s *Sink) GroupStats(elapsed time.Duration) map[string]metrics.Stats {
	return s.groups.Stats(elapsed)
}

// TimerStats returns live statistics per custom timer.
func (s *Sink) TimerStats(elapsed time.Duration) map[string]metrics.Stats {
	return s.timers.Stats(elapsed)
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
