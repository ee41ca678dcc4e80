// Package stream publishes records to a Redis stream while a run is in
// progress.
package stream

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/torosent/multimech/internal/runner"
	"github.com/torosent/multimech/internal/sink"
)

const (
	// DefaultKey is the stream key used when none is configured.
	DefaultKey = "multimech:results"
	// MaxLen bounds the stream length (approximate trimming).
	MaxLen = 100000
)

// Publisher appends records to a Redis stream with XADD. It implements
// sink.Publisher.
type Publisher struct {
	client *redis.Client
	key    string
	runID  string
}

// New connects to the redis:// URL and checks the server answers.
func New(ctx context.Context, url, key, runID string) (*Publisher, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, fmt.Errorf("parse results stream URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect results stream: %w", err)
	}
	if strings.TrimSpace(key) == "" {
		key = DefaultKey
	}
	return &Publisher{client: client, key: key, runID: runID}, nil
}

// Key returns the stream key records are appended to.
func (p *Publisher) Key() string { return p.key }

// Publish appends a batch of records in one pipelined round trip.
func (p *Publisher) Publish(ctx context.Context, batch []sink.Entry) error {
	if len(batch) == 0 {
		return nil
	}
	_, err := p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range batch {
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: p.key,
				MaxLen: MaxLen,
				Approx: true,
				Values: Values(p.runID, e.Seq, e.Record),
			})
		}
		return nil
	})
	return err
}

func (p *Publisher) Close() error {
	return p.client.Close()
}

// Values renders a record as stream entry fields, encoded the same way as
// the record file.
func Values(runID string, seq int64, rec runner.ResultRecord) map[string]interface{} {
	values := map[string]interface{}{
		"run_id":        runID,
		"seq":           strconv.FormatInt(seq, 10),
		"elapsed":       strconv.FormatFloat(rec.Elapsed, 'f', 3, 64),
		"epoch":         strconv.FormatFloat(rec.Epoch, 'f', 3, 64),
		"group":         rec.Group,
		"duration":      strconv.FormatFloat(rec.Duration, 'f', 6, 64),
		"error":         rec.Error,
		"custom_timers": string(sink.EncodeTimers(rec.CustomTimers)),
	}
	if len(rec.CustomFields) > 0 {
		values["custom_fields"] = string(sink.EncodeFields(rec.CustomFields))
	}
	return values
}
