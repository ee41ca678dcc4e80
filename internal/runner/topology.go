package runner

import (
	"fmt"
	"strings"
	"time"
)

// GlobalSpec holds run-wide settings that shape the topology.
type GlobalSpec struct {
	RunTime         time.Duration
	Rampup          time.Duration // baseline added to every group's own ramp-up
	ResultsInterval time.Duration
	Settings        map[string]string
}

// GroupSpec describes one configured user group.
type GroupSpec struct {
	Name       string
	Script     string
	Processes  int
	Threads    int
	Rampup     time.Duration
	StartDelay time.Duration
	MaxRate    float64 // iterations per second shared by the group's workers, 0 = unlimited
	Arrival    string  // ArrivalUniform (default) or ArrivalPoisson
	Settings   map[string]string
}

// Resolver confirms that a transaction source can be loaded.
type Resolver interface {
	Resolve(identifier string) error
}

// TopologyEntry is one group process instance.
type TopologyEntry struct {
	Group      GroupSpec
	ProcessNum int
	Rampup     time.Duration // global + group ramp-up
}

// Topology is the immutable list of group instances for a run.
type Topology struct {
	Global  GlobalSpec
	Entries []TopologyEntry
}

// BuildTopology expands every group into Processes entries, numbering
// processes sequentially across the run in configuration order.
func BuildTopology(global GlobalSpec, groups []GroupSpec, resolver Resolver) (Topology, error) {
	if global.RunTime <= 0 {
		return Topology{}, &ConfigurationError{Reason: "run time must be greater than zero"}
	}
	if global.Rampup < 0 {
		return Topology{}, &ConfigurationError{Reason: "global ramp-up must not be negative"}
	}
	if len(groups) == 0 {
		return Topology{}, &ConfigurationError{Reason: "at least one user group is required"}
	}

	seen := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		if err := validateGroupSpec(g); err != nil {
			return Topology{}, err
		}
		if _, dup := seen[g.Name]; dup {
			return Topology{}, &ConfigurationError{Group: g.Name, Reason: "duplicate group name"}
		}
		seen[g.Name] = struct{}{}
		if resolver != nil {
			if err := resolver.Resolve(g.Script); err != nil {
				return Topology{}, &ConfigurationError{
					Group:  g.Name,
					Reason: fmt.Sprintf("transaction %q cannot be loaded", g.Script),
					Err:    err,
				}
			}
		}
	}

	topo := Topology{Global: global}
	processNum := 0
	for _, g := range groups {
		for i := 0; i < g.Processes; i++ {
			topo.Entries = append(topo.Entries, TopologyEntry{
				Group:      g,
				ProcessNum: processNum,
				Rampup:     global.Rampup + g.Rampup,
			})
			processNum++
		}
	}
	return topo, nil
}

func validateGroupSpec(g GroupSpec) error {
	switch {
	case strings.TrimSpace(g.Name) == "":
		return &ConfigurationError{Reason: "group name is required"}
	case strings.TrimSpace(g.Script) == "":
		return &ConfigurationError{Group: g.Name, Reason: "script is required"}
	case g.Processes < 1:
		return &ConfigurationError{Group: g.Name, Reason: "processes must be at least 1"}
	case g.Threads < 1:
		return &ConfigurationError{Group: g.Name, Reason: "threads must be at least 1"}
	case g.Rampup < 0:
		return &ConfigurationError{Group: g.Name, Reason: "rampup must not be negative"}
	case g.StartDelay < 0:
		return &ConfigurationError{Group: g.Name, Reason: "starttime must not be negative"}
	case g.MaxRate < 0:
		return &ConfigurationError{Group: g.Name, Reason: "max_rate must not be negative"}
	case g.Arrival != "" && g.Arrival != ArrivalUniform && g.Arrival != ArrivalPoisson:
		return &ConfigurationError{Group: g.Name, Reason: fmt.Sprintf("unknown arrival model %q", g.Arrival)}
	}
	return nil
}

// Processes returns the number of group instances.
func (t Topology) Processes() int { return len(t.Entries) }

// Workers returns the total number of workers across all group instances.
func (t Topology) Workers() int {
	total := 0
	for _, e := range t.Entries {
		total += e.Group.Threads
	}
	return total
}

// GroupNames returns the distinct group names in configuration order.
func (t Topology) GroupNames() []string {
	var names []string
	seen := map[string]bool{}
	for _, e := range t.Entries {
		if !seen[e.Group.Name] {
			seen[e.Group.Name] = true
			names = append(names, e.Group.Name)
		}
	}
	return names
}
