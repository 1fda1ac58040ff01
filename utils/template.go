package utils

import (
	"bytes"
	"fmt"
	"text/template"

	"leadpulse/models"
)

// ScriptData is what script templates can reference, e.g.
// "Hi {{.FirstName}}, ...".
type ScriptData struct {
	FirstName string
	LastName  string
	Company   string
	Email     string
}

// RenderScript substitutes lead fields into the script text. Scripts without
// template actions pass through unchanged; a malformed template is an error
// so the attempt fails instead of sending broken text.
func RenderScript(text string, lead *models.Lead) (string, error) {
	tmpl, err := template.New("script").Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse script template: %w", err)
	}

	data := ScriptData{
		FirstName: lead.FirstName,
		LastName:  lead.LastName,
		Company:   lead.Company,
		Email:     lead.Email,
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render script template: %w", err)
	}
	return buf.String(), nil
}
