package binding

import (
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Binding is one bridge's event-to-action mapping.
type Binding struct {
	Context Context `json:"context"`
	Events  []Event `json:"events"`
}

// Context carries the bridge's connection options and an optional
// discovery query used to locate the target.
type Context struct {
	Options        map[string]any  `json:"options,omitempty"`
	DiscoveryQuery *DiscoveryQuery `json:"discoveryQuery,omitempty"`
}

// DiscoveryQuery names an mDNS record whose answer supplies the target
// host and port.
type DiscoveryQuery struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Event maps one local event name to an action.
type Event struct {
	Name        string         `json:"event"`
	Enabled     *bool          `json:"enabled,omitempty"`
	Description string         `json:"description,omitempty"`
	Action      map[string]any `json:"action"`
}

// IsEnabled reports whether the event is active. Events are enabled
// unless explicitly disabled.
func (e Event) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// EventsFor returns the enabled events bound to name, in file order.
func (b *Binding) EventsFor(name string) []Event {
	if b == nil {
		return nil
	}
	var out []Event
	for _, e := range b.Events {
		if e.Name == name && e.IsEnabled() {
			out = append(out, e)
		}
	}
	return out
}

// HasEvents reports whether at least one event is enabled.
func (b *Binding) HasEvents() bool {
	if b == nil {
		return false
	}
	for _, e := range b.Events {
		if e.IsEnabled() {
			return true
		}
	}
	return false
}

// String returns a string option or "".
func (c Context) String(key string) string {
	switch v := c.Options[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int returns a numeric option, or def when absent or not numeric.
func (c Context) Int(key string, def int) int {
	switch v := c.Options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v) // #nosec G115 -- option values are small port/size numbers
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Decode fills v from the options using its yaml tags, so bridge client
// configs can be declared once for both the root config and bindings.
func (c Context) Decode(v any) error {
	data, err := yaml.Marshal(c.Options)
	if err != nil {
		return fmt.Errorf("encoding options: %w", err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding options: %w", err)
	}
	return nil
}

// clone returns a deep copy safe to modify.
func (b *Binding) clone() *Binding {
	out := &Binding{
		Context: Context{Options: cloneMap(b.Context.Options)},
		Events:  make([]Event, len(b.Events)),
	}
	if q := b.Context.DiscoveryQuery; q != nil {
		cp := *q
		out.Context.DiscoveryQuery = &cp
	}
	for i, e := range b.Events {
		e.Action = cloneMap(e.Action)
		out.Events[i] = e
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
