package pipeline

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/cuongbtq/media-pipeline/internal/domain"
)

var defaultPrompts = map[domain.MediaType]string{
	domain.MediaImage: `Describe this image for someone in a chat conversation.
{{- if .Instruction}}
They asked: "{{.Instruction}}". Answer that first.
{{- end}}
{{- if .Excerpt}}
The message it was shared with said: "{{.Excerpt}}".
{{- end}}
Keep the answer short and conversational.`,

	domain.MediaVideo: `Summarize what happens in this video for someone in a chat conversation.
{{- if .Instruction}}
They asked: "{{.Instruction}}". Answer that first.
{{- end}}
{{- if .Excerpt}}
The message it was shared with said: "{{.Excerpt}}".
{{- end}}
Mention the key moments in order and keep it brief.`,
}

// PromptBuilder renders the analysis prompt for a job
type PromptBuilder struct {
	templates map[domain.MediaType]*template.Template
}

// NewPromptBuilder parses the default templates, replaced by any overrides
func NewPromptBuilder(overrides map[domain.MediaType]string) (*PromptBuilder, error) {
	b := &PromptBuilder{templates: make(map[domain.MediaType]*template.Template)}

	for media, text := range defaultPrompts {
		if o, ok := overrides[media]; ok && strings.TrimSpace(o) != "" {
			text = o
		}
		tmpl, err := template.New(string(media)).Option("missingkey=zero").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s prompt template: %w", media, err)
		}
		b.templates[media] = tmpl
	}
	return b, nil
}

// Build renders the prompt for the job's media type and context
func (b *PromptBuilder) Build(job domain.Job) (string, error) {
	tmpl, ok := b.templates[job.MediaType]
	if !ok {
		return "", domain.NewValidationError("no prompt template for media type %q", job.MediaType)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, job.Context); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
