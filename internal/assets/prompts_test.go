package assets

import (
	"strings"
	"testing"
)

func TestStaticPromptsEmbedded(t *testing.T) {
	for name, p := range map[string]string{
		"outline":    OutlineSystemPrompt,
		"slide":      SlideSystemPrompt,
		"regenerate": RegenerateSystemPrompt,
	} {
		if strings.TrimSpace(p) == "" {
			t.Errorf("%s system prompt is empty", name)
		}
	}
	if !strings.Contains(SlideSystemPrompt, "IMAGE_TEXT") {
		t.Error("slide prompt is missing the layout priority order")
	}
}

func TestRenderSlidePrompt(t *testing.T) {
	got := RenderSlidePrompt(SlideData{Title: "Loops", Content: "for i := range n {}"})
	if !strings.Contains(got, "Slide title: Loops") {
		t.Errorf("title missing from prompt: %q", got)
	}
	if !strings.Contains(got, "for i := range n {}") {
		t.Errorf("content missing from prompt: %q", got)
	}
	if !strings.Contains(got, "default") {
		t.Errorf("theme default not applied: %q", got)
	}
}

func TestRenderOutlinePromptAudienceOptional(t *testing.T) {
	got := RenderOutlinePrompt(OutlineData{Topic: "Intro to Binary Search"})
	if strings.Contains(got, "Audience") {
		t.Errorf("unexpected audience line: %q", got)
	}
	got = RenderOutlinePrompt(OutlineData{Topic: "x", Audience: "students"})
	if !strings.Contains(got, "Audience: students") {
		t.Errorf("audience missing: %q", got)
	}
}

func TestRenderImagePrompt(t *testing.T) {
	got := RenderImagePrompt(ImageData{Theme: "dark", Prompt: "a sorted row of books"})
	if !strings.Contains(got, "Style: dark") || !strings.Contains(got, "a sorted row of books") {
		t.Errorf("unexpected image prompt: %q", got)
	}
}
