package bake

import (
	"fmt"
	"sort"
	"strings"
)

// Override replaces the template of every build-arg named Key.
type Override struct {
	Key   string
	Value string
}

// Overrides are applied in order; the last value for a key wins.
type Overrides []Override

// ParseOverride parses a KEY=VALUE pair. The value may be empty or contain '='.
func ParseOverride(raw string) (Override, error) {
	key, value, ok := strings.Cut(raw, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return Override{}, fmt.Errorf("%w: override %q must be KEY=VALUE", ErrConfiguration, raw)
	}
	return Override{Key: key, Value: value}, nil
}

// ParseOverrides parses every KEY=VALUE pair in order.
func ParseOverrides(raw []string) (Overrides, error) {
	out := make(Overrides, 0, len(raw))
	for _, r := range raw {
		o, err := ParseOverride(r)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// Values collapses the overrides into a map, last value winning.
func (o Overrides) Values() map[string]string {
	out := make(map[string]string, len(o))
	for _, ov := range o {
		out[ov.Key] = ov.Value
	}
	return out
}

// Apply returns copies of targets with matching build-arg templates replaced.
// Build-args a target does not declare are never added, and tags, dependencies
// and every other field are left alone.
func (o Overrides) Apply(targets []Target) []Target {
	values := o.Values()
	out := make([]Target, 0, len(targets))
	for _, t := range targets {
		c := t.clone()
		for name := range c.BuildArgs {
			if v, ok := values[name]; ok {
				c.BuildArgs[name] = v
			}
		}
		out = append(out, c)
	}
	return out
}

// Unused returns the override keys that match no build-arg of any target.
func (o Overrides) Unused(targets []Target) []string {
	declared := map[string]struct{}{}
	for _, t := range targets {
		for name := range t.BuildArgs {
			declared[name] = struct{}{}
		}
	}
	var out []string
	for key := range o.Values() {
		if _, ok := declared[key]; !ok {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}
