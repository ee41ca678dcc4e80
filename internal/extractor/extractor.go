// Package extractor pulls named values out of response bodies. Rules come
// from group settings: extract (gjson path saved as "extract"),
// extract.<name> (gjson path) and extract_regex.<name> (regular expression;
// the first capture group wins, else the whole match).
package extractor

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// Rule extracts one named value.
type Rule struct {
	Name     string
	JSONPath string
	Regex    *regexp.Regexp
}

// FromSettings builds the rules declared in a group section, sorted by
// name. Invalid patterns are reported here so a bad group fails before the
// run starts.
func FromSettings(settings map[string]string) ([]Rule, error) {
	var rules []Rule
	for key, val := range settings {
		val = strings.TrimSpace(val)
		if val == "" {
			continue
		}
		switch {
		case key == "extract":
			rules = append(rules, Rule{Name: "extract", JSONPath: jsonPath(val)})
		case strings.HasPrefix(key, "extract."):
			rules = append(rules, Rule{Name: strings.TrimPrefix(key, "extract."), JSONPath: jsonPath(val)})
		case strings.HasPrefix(key, "extract_regex."):
			re, err := regexp.Compile(val)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			rules = append(rules, Rule{Name: strings.TrimPrefix(key, "extract_regex."), Regex: re})
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Name < rules[j].Name })
	return rules, nil
}

// jsonPath accepts the "$.a.b" spelling as well as plain gjson paths.
func jsonPath(path string) string {
	switch {
	case path == "$":
		return "@this"
	case strings.HasPrefix(path, "$."):
		return path[2:]
	}
	return path
}

// Apply runs every rule against body. A rule that finds nothing fails the
// whole extraction.
func Apply(body []byte, rules []Rule) (map[string]any, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(rules))
	for _, r := range rules {
		if r.Regex != nil {
			match := r.Regex.FindSubmatch(body)
			if match == nil {
				return nil, fmt.Errorf("extract pattern %q not found", r.Regex.String())
			}
			if len(match) > 1 {
				out[r.Name] = string(match[1])
			} else {
				out[r.Name] = string(match[0])
			}
			continue
		}
		res := gjson.GetBytes(body, r.JSONPath)
		if !res.Exists() {
			return nil, fmt.Errorf("extract path %q not found", r.JSONPath)
		}
		out[r.Name] = res.Value()
	}
	return out, nil
}
