package binding

import (
	"fmt"
	"regexp"
	"strings"
	"text/template"
)

// Vars is the data an action is rendered against.
type Vars struct {
	Event   string
	Channel string
	Data    any
	Options map[string]any
}

func (v Vars) asMap() map[string]any {
	return map[string]any{
		"event":   v.Event,
		"channel": v.Channel,
		"data":    v.Data,
		"options": v.Options,
	}
}

// singleRef matches a string that is exactly one field reference such as
// "{{ .data.temp }}"; those resolve to the raw value so numbers stay numbers.
var singleRef = regexp.MustCompile(`^\{\{\s*\.([A-Za-z_][\w]*(?:\.[A-Za-z_][\w]*)*)\s*\}\}$`)

// Render walks maps, slices and strings in value and expands template
// expressions against vars. Non-string leaves are returned unchanged.
func Render(value any, vars Vars) (any, error) {
	return render(value, vars.asMap())
}

func render(value any, data map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		return renderString(v, data)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			r, err := render(item, data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			r, err := render(item, data)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = r
		}
		return out, nil
	default:
		return value, nil
	}
}

func renderString(s string, data map[string]any) (any, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}

	if m := singleRef.FindStringSubmatch(s); m != nil {
		if v, ok := lookup(data, strings.Split(m[1], ".")); ok {
			return v, nil
		}
	}

	tmpl, err := template.New("action").Option("missingkey=error").Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTemplate, err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTemplate, err)
	}
	return sb.String(), nil
}

func lookup(data any, path []string) (any, bool) {
	cur := data
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// RenderString renders value and formats the result as a string.
func RenderString(value any, vars Vars) (string, error) {
	r, err := Render(value, vars)
	if err != nil {
		return "", err
	}
	switch v := r.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return fmt.Sprint(v), nil
	}
}
