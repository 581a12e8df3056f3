package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fpang/ai-deck-builder/internal/deck"
	"github.com/fpang/ai-deck-builder/internal/generr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type call struct {
	model  string
	prompt string
	config *genai.GenerateContentConfig
}

// fakeGenerator returns canned responses in order and records every call.
type fakeGenerator struct {
	responses []*genai.GenerateContentResponse
	errs      []error
	calls     []call
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var prompt strings.Builder
	for _, c := range contents {
		for _, p := range c.Parts {
			prompt.WriteString(p.Text)
		}
	}
	i := len(f.calls)
	f.calls = append(f.calls, call{model: model, prompt: prompt.String(), config: config})
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return nil, errors.New("fake: no response queued")
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

func TestGenerateOutline(t *testing.T) {
	gen := &fakeGenerator{responses: []*genai.GenerateContentResponse{textResponse(
		`[{"title":"What is it","description":"Halving search."},{"title":"","description":"x"},{"title":"Blank","description":"  "},{"title":"Missing"},{"title":"Cost","description":"O(log n)"}]`,
	)}}
	svc := NewService(gen, "text-model", "image-model")

	items, err := svc.GenerateOutline(context.Background(), "Intro to Binary Search", "")

	require.NoError(t, err)
	assert.Equal(t, []deck.OutlineItem{
		{Title: "What is it", Description: "Halving search."},
		{Title: "Cost", Description: "O(log n)"},
	}, items)

	require.Len(t, gen.calls, 1)
	assert.Equal(t, "text-model", gen.calls[0].model)
	assert.Equal(t, "application/json", gen.calls[0].config.ResponseMIMEType)
	assert.Equal(t, OutlineSchema, gen.calls[0].config.ResponseSchema)
	assert.Contains(t, gen.calls[0].prompt, "Intro to Binary Search")
}

func TestGenerateOutline_Failures(t *testing.T) {
	tests := []struct {
		name string
		resp *genai.GenerateContentResponse
		err  error
		kind generr.Kind
	}{
		{"not an array", textResponse(`{"title":"x"}`), nil, generr.KindGeneration},
		{"empty text", textResponse(""), nil, generr.KindGeneration},
		{"rate limited", nil, errors.New("Error 429, Message: quota, Status: RESOURCE_EXHAUSTED"), generr.KindTransient},
		{"server error", nil, errors.New("Error 500, Message: internal"), generr.KindGeneration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{
				responses: []*genai.GenerateContentResponse{tt.resp},
				errs:      []error{tt.err},
			}
			_, err := NewService(gen, "m", "i").GenerateOutline(context.Background(), "topic", "")
			require.Error(t, err)
			assert.True(t, generr.Is(err, tt.kind), "got %v", err)
		})
	}
}

func TestGenerateSlide(t *testing.T) {
	gen := &fakeGenerator{responses: []*genai.GenerateContentResponse{textResponse(
		"```json\n" + `{"layout":"image_text","title":" Lighthouse ","bullets":["tall"," ",""],"imagePrompt":"a lighthouse at dusk","speakerNotes":"notes"}` + "\n```",
	)}}
	svc := NewService(gen, "m", "i")

	p, err := svc.GenerateSlide(context.Background(), deck.OutlineItem{Title: "Lighthouses", Description: "Tall towers."}, "dark")

	require.NoError(t, err)
	assert.Equal(t, deck.LayoutImageText, p.Layout)
	assert.Equal(t, "Lighthouse", p.Title)
	assert.Equal(t, []string{"tall"}, p.Bullets)
	assert.True(t, p.NeedsImage())
	assert.Contains(t, gen.calls[0].prompt, "Tall towers.")
	assert.Contains(t, gen.calls[0].prompt, "dark")
}

func TestGenerateSlide_SchemaMismatch(t *testing.T) {
	tests := map[string]string{
		"missing title":  `{"layout":"BULLETS","speakerNotes":""}`,
		"unknown layout": `{"layout":"CHART","title":"x","speakerNotes":""}`,
		"missing notes":  `{"layout":"BULLETS","title":"x"}`,
		"not json":       `I cannot help with that.`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			gen := &fakeGenerator{responses: []*genai.GenerateContentResponse{textResponse(body)}}
			_, err := NewService(gen, "m", "i").GenerateSlide(context.Background(), deck.OutlineItem{Title: "t"}, "")
			require.Error(t, err)
			assert.True(t, generr.IsGeneration(err))
			assert.False(t, generr.IsTransient(err))
		})
	}
}

func TestRegenerateSlide(t *testing.T) {
	gen := &fakeGenerator{responses: []*genai.GenerateContentResponse{textResponse(
		`{"layout":"QUOTE","title":"Wisdom","quote":"Know thyself","author":"Socrates","speakerNotes":"n"}`,
	)}}
	cur := deck.Slide{ID: "s1", SlidePayload: deck.SlidePayload{
		Layout: deck.LayoutBullets, Title: "Old", Bullets: []string{"a"}, ImageURL: "data:image/png;base64,AAAA",
	}}

	p, err := NewService(gen, "m", "i").RegenerateSlide(context.Background(), cur, "make it a quote", "")

	require.NoError(t, err)
	assert.Equal(t, deck.LayoutQuote, p.Layout)
	assert.Equal(t, "Know thyself", p.Quote)
	assert.Contains(t, gen.calls[0].prompt, "make it a quote")
	assert.Contains(t, gen.calls[0].prompt, `"title": "Old"`)
	assert.NotContains(t, gen.calls[0].prompt, "base64")
	assert.NotContains(t, gen.calls[0].prompt, `"id"`)
}

func TestRegenerateSlide_EmptyInstruction(t *testing.T) {
	gen := &fakeGenerator{}
	_, err := NewService(gen, "m", "i").RegenerateSlide(context.Background(), deck.Slide{ID: "x"}, "  ", "")
	assert.True(t, generr.IsGeneration(err))
	assert.Empty(t, gen.calls)
}

func TestGenerateImage(t *testing.T) {
	gen := &fakeGenerator{responses: []*genai.GenerateContentResponse{{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{
			{Text: "Here is your image"},
			{InlineData: &genai.Blob{MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8}}},
		}}}},
	}}}

	data, mime, err := NewService(gen, "m", "img-model").GenerateImage(context.Background(), "a cat", "")

	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8}, data)
	assert.Equal(t, "image/jpeg", mime)
	assert.Equal(t, "img-model", gen.calls[0].model)
	assert.Equal(t, []string{"IMAGE", "TEXT"}, gen.calls[0].config.ResponseModalities)
}

func TestGenerateImage_NoImage(t *testing.T) {
	gen := &fakeGenerator{responses: []*genai.GenerateContentResponse{textResponse("sorry")}}
	_, _, err := NewService(gen, "m", "i").GenerateImage(context.Background(), "a cat", "")
	assert.True(t, generr.IsGeneration(err))
}

func TestIsRateLimited(t *testing.T) {
	assert.True(t, IsRateLimited(&genai.APIError{Code: 429}))
	assert.True(t, IsRateLimited(&genai.APIError{Code: 400, Status: "RESOURCE_EXHAUSTED"}))
	assert.False(t, IsRateLimited(&genai.APIError{Code: 500, Message: "internal"}))
	assert.True(t, IsRateLimited(errors.New("googleapi: Error 429: Resource has been exhausted")))
	assert.False(t, IsRateLimited(errors.New("connection reset")))
	assert.False(t, IsRateLimited(nil))
}

func TestIsRateLimited_MessageForms(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"Error 429, Message: Resource has been exhausted, Status: RESOURCE_EXHAUSTED", true},
		{"HTTP 429 Too Many Requests", true},
		{"rpc error: code = 429", true},
		{"429 Too Many Requests", true},
		{"you exceeded your current quota", true},
		{"read 4290 bytes from upstream", false},
		{"request id 1429 failed: bad gateway", false},
		{"slide s-429 has no body", false},
		{"Error 500, Message: internal", false},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRateLimited(errors.New(tt.msg)))
		})
	}
}

func TestModelResolution(t *testing.T) {
	t.Setenv("DECK_TEXT_MODEL", "")
	t.Setenv("GEMINI_MODEL", "legacy-model")
	assert.Equal(t, "legacy-model", GetTextModel())

	t.Setenv("DECK_TEXT_MODEL", "deck-model")
	assert.Equal(t, "deck-model", GetTextModel())

	t.Setenv("DECK_IMAGE_MODEL", "")
	assert.Equal(t, DefaultImageModel, GetImageModel())
}
