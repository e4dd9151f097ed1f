package nodes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"agentflow"
)

// templateFuncs are available to every store template.
var templateFuncs = template.FuncMap{
	"json": func(v any) (string, error) {
		data, err := json.Marshal(v)
		return string(data), err
	},
	"default": func(def, v any) any {
		if v == nil || v == "" {
			return def
		}
		return v
	},
}

// storeTemplate renders text against the store snapshot. Text without
// actions is returned as is.
type storeTemplate struct {
	raw  string
	tmpl *template.Template
}

func compileTemplate(name, text string) (storeTemplate, error) {
	if !strings.Contains(text, "{{") {
		return storeTemplate{raw: text}, nil
	}
	tmpl, err := template.New(name).Funcs(templateFuncs).Parse(text)
	if err != nil {
		return storeTemplate{}, fmt.Errorf("compile %s template: %w", name, err)
	}
	return storeTemplate{raw: text, tmpl: tmpl}, nil
}

func (t storeTemplate) render(data map[string]any) (string, error) {
	if t.tmpl == nil {
		return t.raw, nil
	}
	var buf strings.Builder
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func compileTemplateMap(prefix string, m map[string]string) (map[string]storeTemplate, error) {
	out := make(map[string]storeTemplate, len(m))
	for k, v := range m {
		t, err := compileTemplate(prefix+"."+k, v)
		if err != nil {
			return nil, err
		}
		out[k] = t
	}
	return out, nil
}

// decodeOutput turns raw tool output into a Value: JSON when asked for and
// well formed, otherwise the text with surrounding whitespace trimmed.
func decodeOutput(raw []byte, asJSON bool) agentflow.Value {
	if asJSON {
		var parsed agentflow.Value
		if err := json.Unmarshal(raw, &parsed); err == nil {
			return parsed
		}
	}
	return agentflow.String(string(bytes.TrimSpace(raw)))
}

// writeOutput stores v under key. With no key a map value is merged into
// the store entry by entry and anything else is dropped.
func writeOutput(store *agentflow.Store, key string, v agentflow.Value) {
	if key != "" {
		store.Set(key, v)
		return
	}
	if v.Kind() == agentflow.KindMap {
		store.Merge(agentflow.StoreFromValue(v, ItemKey))
	}
}
