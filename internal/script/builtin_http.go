package script

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/torosent/multimech/internal/extractor"
	"github.com/torosent/multimech/internal/httpclient"
	"github.com/torosent/multimech/internal/runner"
	"github.com/torosent/multimech/internal/tracing"
)

func init() {
	Register(Definition{Name: "http", Capability: GroupConfigOnly, New: newHTTPTransaction})
}

// httpTransaction sends one request per iteration. Group keys: url,
// method, body, body_file, header.<Name>, timeout (seconds), expect_status
// and the extractor keys (extract, extract.<name>, extract_regex.<name>).
type httpTransaction struct {
	client  *http.Client
	builder *httpclient.RequestBuilder
	expect  int
	extract []extractor.Rule

	timers map[string]float64
	fields map[string]any
}

func newHTTPTransaction(env Env) (runner.Transaction, error) {
	cfg := env.GroupConfig
	spec := httpclient.RequestSpec{
		Method:   cfg["method"],
		URL:      cfg["url"],
		Body:     cfg["body"],
		BodyFile: cfg["body_file"],
		BaseDir:  env.ScriptsDir,
		Headers:  map[string]string{},
	}
	for key, val := range cfg {
		if name, ok := strings.CutPrefix(key, "header."); ok {
			spec.Headers[name] = val
		}
	}
	builder, err := httpclient.NewRequestBuilder(spec)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", env.Group, err)
	}

	timeout := 30 * time.Second
	if raw := strings.TrimSpace(cfg["timeout"]); raw != "" {
		secs, err := strconv.ParseFloat(raw, 64)
		if err != nil || secs < 0 {
			return nil, fmt.Errorf("%s.timeout: invalid value %q", env.Group, raw)
		}
		timeout = time.Duration(secs * float64(time.Second))
	}

	expect := 0
	if raw := strings.TrimSpace(cfg["expect_status"]); raw != "" {
		expect, err = strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%s.expect_status: invalid value %q", env.Group, raw)
		}
	}

	rules, err := extractor.FromSettings(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", env.Group, err)
	}

	return &httpTransaction{
		client:  httpclient.NewClient(timeout),
		builder: builder,
		expect:  expect,
		extract: rules,
	}, nil
}

func (t *httpTransaction) Run(ctx context.Context) error {
	t.timers = map[string]float64{}
	t.fields = nil

	req, err := t.builder.Build(ctx)
	if err != nil {
		return err
	}
	tracing.InjectHTTPHeaders(ctx, req.Header)
	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	t.timers["http_request"] = time.Since(start).Seconds()
	if err != nil {
		return err
	}

	if t.expect != 0 {
		if resp.StatusCode != t.expect {
			return fmt.Errorf("expected status %d got %d", t.expect, resp.StatusCode)
		}
	} else if resp.StatusCode >= 400 {
		return fmt.Errorf("http status %d", resp.StatusCode)
	}

	t.fields, err = extractor.Apply(body, t.extract)
	return err
}

func (t *httpTransaction) CustomTimers() map[string]float64 { return t.timers }

func (t *httpTransaction) CustomFields() map[string]any { return t.fields }
