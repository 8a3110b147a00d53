package delivery

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/fan-automation/internal/pkg/logger"
)

// Template is the liquid source of one action type's message.
type Template struct {
	Subject string
	HTML    string
	Text    string
}

// Message is a rendered template.
type Message struct {
	Subject string
	HTML    string
	Text    string
}

// TemplateService renders liquid templates with parsed templates cached by key.
type TemplateService struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewTemplateService creates a template service with the message filters
// registered.
func NewTemplateService() *TemplateService {
	ts := &TemplateService{engine: liquid.NewEngine()}
	ts.registerFilters()
	return ts
}

func (ts *TemplateService) registerFilters() {
	// {{ first_name | default: "there" }}
	ts.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	ts.engine.RegisterFilter("urlencode", func(s string) string {
		return url.QueryEscape(s)
	})

	// {{ platform | platform_name }} turns apple_music into Apple Music.
	ts.engine.RegisterFilter("platform_name", func(s string) string {
		words := strings.Split(strings.ReplaceAll(s, "-", "_"), "_")
		for i, w := range words {
			if w == "" {
				continue
			}
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
		return strings.Join(words, " ")
	})

	ts.engine.RegisterFilter("mask_email", func(email string) string {
		return logger.RedactEmail(email)
	})
}

// Parse compiles a template string and returns any syntax error.
func (ts *TemplateService) Parse(src string) error {
	_, err := ts.engine.ParseString(src)
	return err
}

// Render renders src with vars. A non-empty cacheKey caches the parsed
// template under that key.
func (ts *TemplateService) Render(cacheKey, src string, vars map[string]interface{}) (string, error) {
	if src == "" {
		return "", nil
	}
	if cacheKey != "" {
		if cached, ok := ts.cache.Load(cacheKey); ok {
			return cached.(*liquid.Template).RenderString(vars)
		}
	}
	tpl, err := ts.engine.ParseString(src)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", cacheKey, err)
	}
	if cacheKey != "" {
		ts.cache.Store(cacheKey, tpl)
	}
	out, err := tpl.RenderString(vars)
	if err != nil {
		return "", fmt.Errorf("render template %s: %w", cacheKey, err)
	}
	return out, nil
}

// RenderMessage renders all parts of t. Parts are cached under name.
func (ts *TemplateService) RenderMessage(name string, t Template, vars map[string]interface{}) (Message, error) {
	var (
		m   Message
		err error
	)
	if m.Subject, err = ts.Render(name+":subject", t.Subject, vars); err != nil {
		return Message{}, err
	}
	if m.HTML, err = ts.Render(name+":html", t.HTML, vars); err != nil {
		return Message{}, err
	}
	if m.Text, err = ts.Render(name+":text", t.Text, vars); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Vars builds the render context of an action.
func Vars(recipientID string, payload map[string]string) map[string]interface{} {
	vars := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		vars[k] = v
	}
	vars["recipient_id"] = recipientID
	return vars
}
