// Package prompts holds the persona catalog and the prompt templates for the
// speech model and the feedback model.
package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Persona is an interviewer character.
type Persona struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	Style       string `yaml:"style"`
}

type file struct {
	DefaultPersona string    `yaml:"default_persona"`
	Personas       []Persona `yaml:"personas"`
	SystemPrompt   string    `yaml:"system_prompt"`
	Feedback       struct {
		Block      string `yaml:"block"`
		Interview  string `yaml:"interview"`
		Transcript string `yaml:"transcript"`
	} `yaml:"feedback"`
}

// Catalog is a parsed prompt file.
type Catalog struct {
	defaultPersona string
	personas       map[string]Persona

	system             *template.Template
	blockFeedback      *template.Template
	interviewFeedback  *template.Template
	transcriptFeedback *template.Template
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("built-in prompt catalog: %v", err))
	}
	return c
}

// Load reads a catalog from path, or the built-in one when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a catalog.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse prompts yaml: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}

	c := &Catalog{defaultPersona: f.DefaultPersona, personas: make(map[string]Persona, len(f.Personas))}
	for _, p := range f.Personas {
		c.personas[p.ID] = p
	}

	var err error
	if c.system, err = template.New("system").Parse(f.SystemPrompt); err != nil {
		return nil, fmt.Errorf("system_prompt: %w", err)
	}
	if c.blockFeedback, err = template.New("block").Parse(f.Feedback.Block); err != nil {
		return nil, fmt.Errorf("feedback.block: %w", err)
	}
	if c.interviewFeedback, err = template.New("interview").Parse(f.Feedback.Interview); err != nil {
		return nil, fmt.Errorf("feedback.interview: %w", err)
	}
	if c.transcriptFeedback, err = template.New("transcript").Parse(f.Feedback.Transcript); err != nil {
		return nil, fmt.Errorf("feedback.transcript: %w", err)
	}
	return c, nil
}

func (f *file) validate() error {
	if len(f.Personas) == 0 {
		return fmt.Errorf("prompts: at least one persona is required")
	}
	seen := make(map[string]bool, len(f.Personas))
	for i, p := range f.Personas {
		if p.ID == "" {
			return fmt.Errorf("prompts: persona %d must have an id", i)
		}
		if p.Description == "" {
			return fmt.Errorf("prompts: persona %s must have a description", p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("prompts: duplicate persona %s", p.ID)
		}
		seen[p.ID] = true
	}
	if !seen[f.DefaultPersona] {
		return fmt.Errorf("prompts: default_persona %q is not defined", f.DefaultPersona)
	}
	if strings.TrimSpace(f.SystemPrompt) == "" {
		return fmt.Errorf("prompts: system_prompt is required")
	}
	if f.Feedback.Block == "" || f.Feedback.Interview == "" || f.Feedback.Transcript == "" {
		return fmt.Errorf("prompts: feedback.block, feedback.interview and feedback.transcript are required")
	}
	return nil
}

// Persona looks up id, falling back to the default persona.
func (c *Catalog) Persona(id string) Persona {
	if p, ok := c.personas[id]; ok {
		return p
	}
	return c.personas[c.defaultPersona]
}

// HasPersona reports whether id is defined.
func (c *Catalog) HasPersona(id string) bool {
	_, ok := c.personas[id]
	return ok
}

// SessionInput feeds the speech model system prompt.
type SessionInput struct {
	PersonaID       string
	JobDescription  string
	Resume          string
	Language        string
	Question        string
	BlockNumber     int32
	TotalBlocks     int32
	DurationMinutes int
}

// SystemPrompt renders the speech model instructions for one session.
func (c *Catalog) SystemPrompt(in SessionInput) (string, error) {
	data := struct {
		SessionInput
		Persona Persona
	}{in, c.Persona(in.PersonaID)}
	return render(c.system, data)
}

// BlockFeedbackInput feeds the per-answer review prompt.
type BlockFeedbackInput struct {
	JobDescription string
	Question       string
	Transcript     string
}

func (c *Catalog) BlockFeedbackPrompt(in BlockFeedbackInput) (string, error) {
	return render(c.blockFeedback, in)
}

// BlockSummary is one answer's feedback, summarised into the overall review.
type BlockSummary struct {
	Number                   int32
	Question                 string
	Summary                  string
	Strengths                string
	ContentAndStructure      string
	CommunicationAndDelivery string
	Presentation             string
}

// InterviewFeedbackInput feeds the holistic review prompt.
type InterviewFeedbackInput struct {
	JobDescription string
	Blocks         []BlockSummary
}

func (c *Catalog) InterviewFeedbackPrompt(in InterviewFeedbackInput) (string, error) {
	return render(c.interviewFeedback, in)
}

// TranscriptFeedbackInput feeds the review of a legacy single-session interview.
type TranscriptFeedbackInput struct {
	JobDescription string
	Transcript     string
}

func (c *Catalog) TranscriptFeedbackPrompt(in TranscriptFeedbackInput) (string, error) {
	return render(c.transcriptFeedback, in)
}

func render(t *template.Template, data any) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", t.Name(), err)
	}
	return strings.TrimSpace(sb.String()), nil
}
