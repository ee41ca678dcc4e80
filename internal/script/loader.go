package script

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/torosent/multimech/internal/runner"
)

// ErrScriptsDirNotFound is returned when a project has no test_scripts
// directory.
var ErrScriptsDirNotFound = errors.New("can not find project")

// Loader resolves the transaction identifiers named by group sections. An
// identifier ending in ".js" is a script in the project's scripts
// directory; anything else names a registered compiled-in transaction.
type Loader struct {
	log *zap.Logger

	mu      sync.Mutex
	dir     string
	scripts map[string]*jsModule
}

func NewLoader(log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{log: log, scripts: make(map[string]*jsModule)}
}

// LoadAll compiles every script in dir. With validate set, it also checks
// that each script defines a Transaction constructor with a run method and
// a known CAPABILITY. All failures are reported together.
func (l *Loader) LoadAll(dir string, validate bool) error {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrScriptsDirNotFound, dir)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.dir = dir
	l.scripts = make(map[string]*jsModule)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read scripts: %w", err)
	}
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !isScriptFile(entry.Name()) {
			continue
		}
		mod, err := l.compile(entry.Name(), validate)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		l.scripts[entry.Name()] = mod
	}
	return errors.Join(errs...)
}

// Load returns the module for identifier. Scripts not seen by LoadAll are
// compiled on first use.
func (l *Loader) Load(identifier string) (runner.Module, error) {
	identifier = strings.TrimSpace(identifier)
	if !isScriptFile(identifier) {
		def, ok := lookup(identifier)
		if !ok {
			return nil, fmt.Errorf("unknown transaction %q", identifier)
		}
		l.mu.Lock()
		defer l.mu.Unlock()
		return goModule{def: def, dir: l.dir}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if mod, ok := l.scripts[identifier]; ok {
		return mod, nil
	}
	if l.dir == "" {
		return nil, fmt.Errorf("script %s: no scripts directory loaded", identifier)
	}
	mod, err := l.compile(identifier, false)
	if err != nil {
		return nil, err
	}
	l.scripts[identifier] = mod
	return mod, nil
}

// Resolve reports whether identifier can be loaded.
func (l *Loader) Resolve(identifier string) error {
	_, err := l.Load(identifier)
	return err
}

// Scripts returns the names of the compiled scripts, sorted.
func (l *Loader) Scripts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.scripts))
	for name := range l.scripts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// compile must be called with l.mu held.
func (l *Loader) compile(name string, validate bool) (*jsModule, error) {
	if filepath.Base(name) != name {
		return nil, fmt.Errorf("script %s: must be a file name inside the scripts directory", name)
	}
	src, err := os.ReadFile(filepath.Join(l.dir, name))
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", name, err)
	}
	program, err := goja.Compile(name, string(src), false)
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", name, err)
	}

	// Evaluate once in a scratch runtime to read the declared capability.
	probe := newJSRuntime(zap.NewNop(), runner.WorkerEnv{Group: "probe"})
	if _, err := probe.vm.RunProgram(program); err != nil {
		return nil, fmt.Errorf("script %s: %w", name, jsError(err))
	}
	capability := NoConfig
	if v := probe.vm.Get(capabilityName); defined(v) {
		capability, err = ParseCapability(v.String())
		if err != nil {
			return nil, fmt.Errorf("script %s: %w", name, err)
		}
	}

	mod := &jsModule{name: name, program: program, capability: capability, log: l.log}
	if validate {
		if err := validateScript(probe, mod); err != nil {
			return nil, fmt.Errorf("script %s: %w", name, err)
		}
	}
	return mod, nil
}

// validateScript checks the constructor contract. When run is not on the
// prototype, a probe instance is built with empty configuration.
func validateScript(probe *jsTransaction, mod *jsModule) error {
	ctor := probe.vm.Get(constructorName)
	if !defined(ctor) {
		return fmt.Errorf("%s is not defined", constructorName)
	}
	if _, ok := goja.AssertConstructor(ctor); !ok {
		return fmt.Errorf("%s is not a constructor", constructorName)
	}
	if proto := ctor.ToObject(probe.vm).Get("prototype"); defined(proto) {
		if _, ok := goja.AssertFunction(proto.ToObject(probe.vm).Get("run")); ok {
			return nil
		}
	}
	_, err := mod.NewTransaction(runner.WorkerEnv{Group: "probe"})
	return err
}

func isScriptFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".js")
}
