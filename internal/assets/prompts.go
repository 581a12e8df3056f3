// Package assets provides embedded static assets for the application.
//
// Prompt templates are stored as text files under prompts/ and embedded at
// compile time.
package assets

import (
	"bytes"
	_ "embed"
	"text/template"
)

// --- Static prompts ---

// OutlineSystemPrompt instructs the model to plan a topic outline.
//
//go:embed prompts/outline-system.txt
var OutlineSystemPrompt string

// SlideSystemPrompt carries the layout priority order and the content-fidelity rules.
//
//go:embed prompts/slide-system.txt
var SlideSystemPrompt string

// RegenerateSystemPrompt instructs the model to rewrite one slide.
//
//go:embed prompts/regenerate-system.txt
var RegenerateSystemPrompt string

// --- Dynamic prompt templates ---

//go:embed prompts/outline-user.txt
var outlineUserTemplate string

//go:embed prompts/slide-user.txt
var slideUserTemplate string

//go:embed prompts/regenerate-user.txt
var regenerateUserTemplate string

//go:embed prompts/image.txt
var imageTemplate string

// template.Must panics on malformed templates at program startup rather than at call time.
var (
	outlineUserTmpl    = template.Must(template.New("outline").Parse(outlineUserTemplate))
	slideUserTmpl      = template.Must(template.New("slide").Parse(slideUserTemplate))
	regenerateUserTmpl = template.Must(template.New("regenerate").Parse(regenerateUserTemplate))
	imageTmpl          = template.Must(template.New("image").Parse(imageTemplate))
)

// OutlineData fills the topic outline prompt.
type OutlineData struct {
	Topic    string
	Audience string
}

// SlideData fills the slide generation prompt.
type SlideData struct {
	Theme   string
	Title   string
	Content string
}

// RegenerateData fills the slide regeneration prompt.
type RegenerateData struct {
	Theme       string
	SlideJSON   string
	Instruction string
}

// ImageData fills the illustration prompt.
type ImageData struct {
	Theme  string
	Prompt string
}

// RenderOutlinePrompt renders the topic-mode user prompt.
func RenderOutlinePrompt(d OutlineData) string {
	return render(outlineUserTmpl, d)
}

// RenderSlidePrompt renders the per-slide user prompt.
func RenderSlidePrompt(d SlideData) string {
	if d.Theme == "" {
		d.Theme = "default"
	}
	return render(slideUserTmpl, d)
}

// RenderRegeneratePrompt renders the regeneration user prompt.
func RenderRegeneratePrompt(d RegenerateData) string {
	if d.Theme == "" {
		d.Theme = "default"
	}
	return render(regenerateUserTmpl, d)
}

// RenderImagePrompt wraps a slide's image prompt with the deck's style hints.
func RenderImagePrompt(d ImageData) string {
	if d.Theme == "" {
		d.Theme = "modern minimal"
	}
	return render(imageTmpl, d)
}

func render(tmpl *template.Template, data any) string {
	var buf bytes.Buffer
	// Execution errors are not expected with these templates; whatever rendered is returned.
	_ = tmpl.Execute(&buf, data)
	return buf.String()
}
