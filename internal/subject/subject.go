// Package subject builds message subjects from submitted fields.
//
// A subject function never sees the raw submission: it receives only the
// parameters it declared, projected out of the fields with Project.
package subject

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/shineum/contact-form-lite/internal/form"
)

// Default is used when no subject is configured.
const Default = "New message"

// Param declares one named argument of a subject function.
type Param struct {
	Name     string `yaml:"name"`
	Default  string `yaml:"default"`
	Required bool   `yaml:"required"`
}

// MissingFieldError is returned when a required parameter has no matching field.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

// Project returns the declared parameters, valued from fields when present and
// from their defaults otherwise. Undeclared fields are never included.
func Project(fields form.Fields, params []Param) (map[string]string, error) {
	args := make(map[string]string, len(params))
	for _, p := range params {
		if v, ok := fields.Get(p.Name); ok {
			args[p.Name] = v
			continue
		}
		if p.Required {
			return nil, &MissingFieldError{Field: p.Name}
		}
		args[p.Name] = p.Default
	}
	return args, nil
}

// Template is a subject function together with its declared parameters.
type Template struct {
	Params []Param
	Render func(args map[string]string) (string, error)
}

// Execute projects fields onto the template parameters and renders it.
func (t *Template) Execute(fields form.Fields) (string, error) {
	args, err := Project(fields, t.Params)
	if err != nil {
		return "", err
	}
	return t.Render(args)
}

// NewTextTemplate compiles a text/template subject such as "Message from {{.name}}".
// Only the declared params are visible to the template.
func NewTextTemplate(text string, params []Param) (*Template, error) {
	tmpl, err := template.New("subject").Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse subject template: %w", err)
	}
	return &Template{
		Params: params,
		Render: func(args map[string]string) (string, error) {
			var b strings.Builder
			if err := tmpl.Execute(&b, args); err != nil {
				return "", fmt.Errorf("failed to render subject: %w", err)
			}
			return b.String(), nil
		},
	}, nil
}

// Spec selects how a subject is produced: unset, a literal string, or a template.
type Spec struct {
	literal  string
	template *Template
	set      bool
}

// Literal returns a Spec that always yields s unchanged.
func Literal(s string) Spec {
	return Spec{literal: s, set: true}
}

// FromTemplate returns a Spec backed by t.
func FromTemplate(t *Template) Spec {
	return Spec{template: t, set: true}
}

// IsSet reports whether a subject was configured.
func (s Spec) IsSet() bool {
	return s.set
}

// Template returns the template, or nil for unset and literal specs.
func (s Spec) Template() *Template {
	return s.template
}

// LiteralValue returns the literal subject and whether s holds one.
func (s Spec) LiteralValue() (string, bool) {
	return s.literal, s.set && s.template == nil
}
