package script

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/torosent/multimech/internal/httpclient"
	"github.com/torosent/multimech/internal/runner"
	"github.com/torosent/multimech/internal/tracing"
)

const (
	constructorName = "Transaction"
	capabilityName  = "CAPABILITY"
	helperTimeout   = 30 * time.Second
	maxHelperBody   = 10 << 20
)

// jsModule is a compiled script shared by the workers of one group. The
// program is compiled once; every worker evaluates it in its own runtime.
type jsModule struct {
	name       string
	program    *goja.Program
	capability Capability
	log        *zap.Logger
}

func (m *jsModule) NewTransaction(w runner.WorkerEnv) (runner.Transaction, error) {
	tx := newJSRuntime(m.log, w)
	if _, err := tx.vm.RunProgram(m.program); err != nil {
		return nil, fmt.Errorf("%s: %w", m.name, jsError(err))
	}
	ctor := tx.vm.Get(constructorName)
	if !defined(ctor) {
		return nil, fmt.Errorf("%s: %s is not defined", m.name, constructorName)
	}

	env := envFor(m.capability, w)
	var args []goja.Value
	if m.capability >= GroupConfigOnly {
		args = append(args, tx.vm.ToValue(settingsObject(env.GroupConfig)))
	}
	if m.capability == GroupAndGlobalConfig {
		args = append(args, tx.vm.ToValue(settingsObject(env.GlobalConfig)))
	}

	obj, err := tx.vm.New(ctor, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: new %s: %w", m.name, constructorName, jsError(err))
	}
	run, ok := goja.AssertFunction(obj.Get("run"))
	if !ok {
		return nil, fmt.Errorf("%s: %s has no run method", m.name, constructorName)
	}
	_ = obj.Set("thread_num", w.ThreadNum)
	_ = obj.Set("process_num", w.ProcessNum)
	_ = obj.Set("custom_timers", tx.vm.NewObject())

	tx.obj = obj
	tx.run = run
	return tx, nil
}

// jsTransaction is one worker's script instance. A goja runtime is not safe
// for concurrent use, so each worker owns one.
type jsTransaction struct {
	vm     *goja.Runtime
	obj    *goja.Object
	run    goja.Callable
	client *http.Client
	log    *zap.Logger
	ctx    context.Context
}

func newJSRuntime(log *zap.Logger, w runner.WorkerEnv) *jsTransaction {
	if log == nil {
		log = zap.NewNop()
	}
	tx := &jsTransaction{
		vm:     goja.New(),
		client: httpclient.NewClient(helperTimeout),
		log:    log.With(zap.String("group", w.Group), zap.Int("thread", w.ThreadNum)),
		ctx:    context.Background(),
	}
	tx.vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	tx.installHelpers()
	return tx
}

func (t *jsTransaction) Run(ctx context.Context) error {
	t.ctx = ctx
	defer func() { t.ctx = context.Background() }()
	if _, err := t.run(t.obj); err != nil {
		return jsError(err)
	}
	return nil
}

func (t *jsTransaction) CustomTimers() map[string]float64 {
	raw := exportMap(t.obj.Get("custom_timers"))
	if len(raw) == 0 {
		return nil
	}
	timers := make(map[string]float64, len(raw))
	for k, v := range raw {
		switch n := v.(type) {
		case int64:
			timers[k] = float64(n)
		case float64:
			timers[k] = n
		}
	}
	return timers
}

func (t *jsTransaction) CustomFields() map[string]any {
	return exportMap(t.obj.Get("custom_fields"))
}

func (t *jsTransaction) installHelpers() {
	vm := t.vm

	console := vm.NewObject()
	logAt := func(write func(string, ...zap.Field)) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = arg.String()
			}
			write(strings.Join(parts, " "))
			return goja.Undefined()
		}
	}
	_ = console.Set("log", logAt(t.log.Info))
	_ = console.Set("info", logAt(t.log.Info))
	_ = console.Set("warn", logAt(t.log.Warn))
	_ = console.Set("error", logAt(t.log.Error))
	_ = vm.Set("console", console)

	_ = vm.Set("sleep", func(call goja.FunctionCall) goja.Value {
		secs := call.Argument(0).ToFloat()
		if secs > 0 {
			time.Sleep(time.Duration(secs * float64(time.Second)))
		}
		return goja.Undefined()
	})
	_ = vm.Set("now", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(float64(time.Now().UnixNano()) / float64(time.Second))
	})
	_ = vm.Set("gjson", func(call goja.FunctionCall) goja.Value {
		res := gjson.Get(call.Argument(0).String(), call.Argument(1).String())
		if !res.Exists() {
			return goja.Undefined()
		}
		return vm.ToValue(res.Value())
	})

	httpObj := vm.NewObject()
	_ = httpObj.Set("get", func(call goja.FunctionCall) goja.Value {
		return t.doRequest(http.MethodGet, call.Argument(0).String(), nil, call.Argument(1))
	})
	_ = httpObj.Set("post", func(call goja.FunctionCall) goja.Value {
		var body *string
		if arg := call.Argument(1); defined(arg) {
			s := arg.String()
			body = &s
		}
		return t.doRequest(http.MethodPost, call.Argument(0).String(), body, call.Argument(2))
	})
	_ = vm.Set("http", httpObj)
}

// httpResponse is what http.get and http.post return to scripts.
type httpResponse struct {
	Status  int               `json:"status"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
}

func (t *jsTransaction) doRequest(method, url string, body *string, headers goja.Value) goja.Value {
	spec := httpclient.RequestSpec{Method: method, URL: url, Headers: map[string]string{}}
	if body != nil {
		spec.Body = *body
	}
	for k, v := range exportMap(headers) {
		spec.Headers[k] = fmt.Sprint(v)
	}
	if body != nil && spec.Headers["Content-Type"] == "" {
		spec.Headers["Content-Type"] = "application/json"
	}

	builder, err := httpclient.NewRequestBuilder(spec)
	if err != nil {
		panic(t.vm.NewGoError(err))
	}
	req, err := builder.Build(t.ctx)
	if err != nil {
		panic(t.vm.NewGoError(err))
	}
	tracing.InjectHTTPHeaders(t.ctx, req.Header)
	resp, err := t.client.Do(req)
	if err != nil {
		panic(t.vm.NewGoError(err))
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxHelperBody))
	if err != nil {
		panic(t.vm.NewGoError(err))
	}

	out := httpResponse{Status: resp.StatusCode, Body: string(data), Headers: map[string]string{}}
	for k := range resp.Header {
		out.Headers[k] = resp.Header.Get(k)
	}
	return t.vm.ToValue(out)
}

// jsError turns a script exception into a plain error carrying only the
// thrown message.
func jsError(err error) error {
	var ex *goja.Exception
	if !errors.As(err, &ex) {
		return err
	}
	val := ex.Value()
	if obj, ok := val.(*goja.Object); ok {
		if msg := obj.Get("message"); defined(msg) {
			return errors.New(msg.String())
		}
	}
	if val == nil {
		return err
	}
	return errors.New(val.String())
}

func defined(v goja.Value) bool {
	return v != nil && !goja.IsUndefined(v) && !goja.IsNull(v)
}

func exportMap(v goja.Value) map[string]any {
	if !defined(v) {
		return nil
	}
	m, _ := v.Export().(map[string]interface{})
	return m
}

func settingsObject(settings map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(settings))
	for k, v := range settings {
		out[k] = v
	}
	return out
}
