package notify

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	"sync"
	texttemplate "text/template"
)

//go:embed templates/*
var templateFS embed.FS

// Templates renders the embedded message templates. Files ending in .html
// are parsed with html/template, everything else with text/template.
type Templates struct {
	mu    sync.Mutex
	html  map[string]*htmltemplate.Template
	plain map[string]*texttemplate.Template
}

func NewTemplates() *Templates {
	return &Templates{
		html:  make(map[string]*htmltemplate.Template),
		plain: make(map[string]*texttemplate.Template),
	}
}

func (m *Templates) Render(name string, data interface{}) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var buf bytes.Buffer
	if strings.HasSuffix(name, ".html") {
		tmpl, ok := m.html[name]
		if !ok {
			var err error
			tmpl, err = htmltemplate.ParseFS(templateFS, "templates/"+name)
			if err != nil {
				return "", fmt.Errorf("failed to parse template %s: %w", name, err)
			}
			m.html[name] = tmpl
		}
		if err := tmpl.Execute(&buf, data); err != nil {
			return "", fmt.Errorf("failed to execute template %s: %w", name, err)
		}
		return buf.String(), nil
	}

	tmpl, ok := m.plain[name]
	if !ok {
		var err error
		tmpl, err = texttemplate.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return "", fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		m.plain[name] = tmpl
	}
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}
	return buf.String(), nil
}
