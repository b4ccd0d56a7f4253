package binding

import (
	"errors"
	"reflect"
	"testing"
)

func TestRender(t *testing.T) {
	vars := Vars{
		Event:   "temps",
		Data:    map[string]any{"air": 21.5, "water": 27, "label": "pool"},
		Options: map[string]any{"site": "home"},
	}

	tests := []struct {
		name  string
		value any
		want  any
	}{
		{name: "plain string", value: "static", want: "static"},
		{name: "single ref keeps type", value: "{{.data.air}}", want: 21.5},
		{name: "single ref with spaces", value: "{{ .data.water }}", want: 27},
		{name: "mixed text", value: "{{.options.site}}/{{.event}}", want: "home/temps"},
		{name: "number untouched", value: 5, want: 5},
		{
			name:  "nested map",
			value: map[string]any{"fields": map[string]any{"air": "{{.data.air}}"}, "tag": "{{.data.label}}"},
			want:  map[string]any{"fields": map[string]any{"air": 21.5}, "tag": "pool"},
		},
		{
			name:  "slice",
			value: []any{"{{.event}}", true},
			want:  []any{"temps", true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.value, vars)
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Render() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestRender_Errors(t *testing.T) {
	vars := Vars{Event: "temps", Data: map[string]any{}}

	for _, value := range []any{"{{.data.missing}} C", "{{ .event", map[string]any{"k": "{{if}}"}} {
		if _, err := Render(value, vars); !errors.Is(err, ErrTemplate) {
			t.Errorf("Render(%v) error = %v, want ErrTemplate", value, err)
		}
	}
}

func TestRenderString(t *testing.T) {
	vars := Vars{Data: map[string]any{"air": 21.5}}

	got, err := RenderString("{{.data.air}}", vars)
	if err != nil {
		t.Fatalf("RenderString() error = %v", err)
	}
	if got != "21.5" {
		t.Errorf("RenderString() = %q, want 21.5", got)
	}

	got, err = RenderString(nil, vars)
	if err != nil || got != "" {
		t.Errorf("RenderString(nil) = %q, %v", got, err)
	}
}
