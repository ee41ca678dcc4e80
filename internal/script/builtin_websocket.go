package script

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/torosent/multimech/internal/extractor"
	"github.com/torosent/multimech/internal/runner"
	"github.com/torosent/multimech/internal/websocket"
)

func init() {
	Register(Definition{Name: "websocket", Capability: GroupConfigOnly, New: newWebSocketTransaction})
}

// wsTransaction opens a connection, sends the configured messages and
// closes it on every iteration. Group keys: url, messages ("|"-separated),
// header.<Name>, binary, expect_reply, timeout (seconds) and the extractor
// keys, which are applied to the last reply.
type wsTransaction struct {
	opt         websocket.Options
	messages    [][]byte
	expectReply bool
	extract     []extractor.Rule

	timers map[string]float64
	fields map[string]any
}

func newWebSocketTransaction(env Env) (runner.Transaction, error) {
	cfg := env.GroupConfig
	opt := websocket.Options{URL: strings.TrimSpace(cfg["url"]), Header: http.Header{}}
	if opt.URL == "" {
		return nil, fmt.Errorf("%s: target URL is required", env.Group)
	}
	for key, val := range cfg {
		if name, ok := strings.CutPrefix(key, "header."); ok {
			opt.Header.Set(name, val)
		}
	}

	if raw := strings.TrimSpace(cfg["timeout"]); raw != "" {
		secs, err := strconv.ParseFloat(raw, 64)
		if err != nil || secs < 0 {
			return nil, fmt.Errorf("%s.timeout: invalid value %q", env.Group, raw)
		}
		opt.Timeout = time.Duration(secs * float64(time.Second))
	}

	var err error
	if opt.Binary, err = settingBool(cfg, "binary"); err != nil {
		return nil, fmt.Errorf("%s.%w", env.Group, err)
	}
	expectReply, err := settingBool(cfg, "expect_reply")
	if err != nil {
		return nil, fmt.Errorf("%s.%w", env.Group, err)
	}

	rules, err := extractor.FromSettings(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", env.Group, err)
	}
	if len(rules) > 0 && !expectReply {
		return nil, fmt.Errorf("%s: extract keys need expect_reply", env.Group)
	}

	var messages [][]byte
	for _, part := range strings.Split(cfg["messages"], "|") {
		if part = strings.TrimSpace(part); part != "" {
			messages = append(messages, []byte(part))
		}
	}

	return &wsTransaction{
		opt:         opt,
		messages:    messages,
		expectReply: expectReply,
		extract:     rules,
	}, nil
}

func settingBool(cfg map[string]string, key string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(cfg[key])) {
	case "", "false", "no", "off", "0":
		return false, nil
	case "true", "yes", "on", "1":
		return true, nil
	}
	return false, fmt.Errorf("%s: invalid value %q", key, cfg[key])
}

func (t *wsTransaction) Run(ctx context.Context) error {
	t.timers = map[string]float64{}
	t.fields = nil

	start := time.Now()
	conn, err := websocket.Dial(ctx, t.opt)
	if err != nil {
		return err
	}
	defer conn.Close()
	t.timers["ws_connect"] = time.Since(start).Seconds()

	start = time.Now()
	last, err := conn.Exchange(ctx, t.messages, t.expectReply)
	t.timers["ws_exchange"] = time.Since(start).Seconds()

	stats := conn.Stats()
	t.fields = map[string]any{
		"bytes_sent":     stats.BytesSent,
		"bytes_received": stats.BytesReceived,
	}
	if err != nil {
		return err
	}
	extracted, err := extractor.Apply(last, t.extract)
	for k, v := range extracted {
		t.fields[k] = v
	}
	return err
}

func (t *wsTransaction) CustomTimers() map[string]float64 { return t.timers }

func (t *wsTransaction) CustomFields() map[string]any { return t.fields }
