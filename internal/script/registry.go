package script

import (
	"fmt"
	"sort"
	"sync"

	"github.com/torosent/multimech/internal/runner"
)

// Env is what a transaction constructor receives. GroupConfig and
// GlobalConfig are nil unless the transaction's capability includes them.
type Env struct {
	Group        string
	ProcessNum   int
	ThreadNum    int
	GroupConfig  map[string]string
	GlobalConfig map[string]string
	// ScriptsDir is the project's scripts directory, empty when none was
	// loaded. Relative file settings resolve against it.
	ScriptsDir string
}

// Factory builds one transaction instance for one worker.
type Factory func(env Env) (runner.Transaction, error)

// Definition is a compiled-in transaction type.
type Definition struct {
	Name       string
	Capability Capability
	New        Factory
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Definition{}
)

// Register makes a compiled-in transaction available to groups under its
// name. It panics if the name is empty, ends in ".js" or is already taken.
func Register(def Definition) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if def.Name == "" || isScriptFile(def.Name) {
		panic(fmt.Sprintf("script: invalid transaction name %q", def.Name))
	}
	if def.New == nil {
		panic("script: Register factory is nil for " + def.Name)
	}
	if _, dup := registry[def.Name]; dup {
		panic("script: Register called twice for " + def.Name)
	}
	registry[def.Name] = def
}

func lookup(name string) (Definition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	def, ok := registry[name]
	return def, ok
}

// Registered returns the names of compiled-in transactions, sorted.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// goModule runs a registered Definition.
type goModule struct {
	def Definition
	dir string
}

func (m goModule) NewTransaction(w runner.WorkerEnv) (runner.Transaction, error) {
	env := envFor(m.def.Capability, w)
	env.ScriptsDir = m.dir
	return m.def.New(env)
}

func envFor(c Capability, w runner.WorkerEnv) Env {
	env := Env{Group: w.Group, ProcessNum: w.ProcessNum, ThreadNum: w.ThreadNum}
	if c >= GroupConfigOnly {
		env.GroupConfig = copySettings(w.GroupSettings)
	}
	if c == GroupAndGlobalConfig {
		env.GlobalConfig = copySettings(w.GlobalSettings)
	}
	return env
}

func copySettings(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
