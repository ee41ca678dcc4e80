package script

import (
	"fmt"
	"strings"
)

// Capability declares which configuration a transaction constructor takes.
type Capability int

const (
	NoConfig Capability = iota
	GroupConfigOnly
	GroupAndGlobalConfig
)

func (c Capability) String() string {
	switch c {
	case GroupConfigOnly:
		return "group"
	case GroupAndGlobalConfig:
		return "group_and_global"
	default:
		return "none"
	}
}

// ParseCapability reads a capability name. An empty name means NoConfig.
func ParseCapability(s string) (Capability, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return NoConfig, nil
	case "group":
		return GroupConfigOnly, nil
	case "group_and_global":
		return GroupAndGlobalConfig, nil
	default:
		return NoConfig, fmt.Errorf("unknown capability %q (expected none, group or group_and_global)", s)
	}
}
