package chat

// service.go implements the four remote generation steps of a deck run:
// topic outline, slide content, slide regeneration, and slide illustration.
//
// Each method makes exactly one Gemini call. Retries, per-call timeouts and
// local layout enforcement are applied by the caller (package pipeline), so a
// failure here is classified once and returned.

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fpang/ai-deck-builder/internal/assets"
	"github.com/fpang/ai-deck-builder/internal/deck"
	"github.com/fpang/ai-deck-builder/internal/generr"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// Service calls Gemini for deck content.
type Service struct {
	gen        ContentGenerator
	textModel  string
	imageModel string
}

// NewService wraps gen. Empty model names fall back to GetTextModel / GetImageModel.
func NewService(gen ContentGenerator, textModel, imageModel string) *Service {
	if textModel == "" {
		textModel = GetTextModel()
	}
	if imageModel == "" {
		imageModel = GetImageModel()
	}
	return &Service{gen: gen, textModel: textModel, imageModel: imageModel}
}

// TextModel returns the model used for text generation.
func (s *Service) TextModel() string { return s.textModel }

// ImageModel returns the model used for illustrations.
func (s *Service) ImageModel() string { return s.imageModel }

func jsonConfig(system string, schema *genai.Schema) *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		},
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	}
}

// generateText makes one text call and returns the response text.
func (s *Service) generateText(ctx context.Context, op, prompt string, config *genai.GenerateContentConfig) (string, error) {
	log.Debug().
		Str("op", op).
		Str("model", s.textModel).
		Int("prompt_length", len(prompt)).
		Msg("Starting Gemini API call")

	callStart := time.Now()
	resp, err := s.gen.GenerateContent(ctx, s.textModel, genai.Text(prompt), config)
	duration := time.Since(callStart)
	if err != nil {
		return "", classifyError(op, err)
	}
	if resp == nil {
		return "", generr.Generationf(op, "received empty response from Gemini API")
	}

	text := resp.Text()
	log.Debug().
		Str("op", op).
		Int("response_length", len(text)).
		Dur("duration", duration).
		Msg("Gemini API response received")
	return text, nil
}

// GenerateOutline asks for a 5–8 item outline of topic. The raw item list is
// returned after schema validation; bounding its length is the caller's job.
func (s *Service) GenerateOutline(ctx context.Context, topic, audience string) ([]deck.OutlineItem, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, generr.Generationf("outline", "topic is empty")
	}

	prompt := assets.RenderOutlinePrompt(assets.OutlineData{Topic: topic, Audience: audience})
	text, err := s.generateText(ctx, "outline", prompt, jsonConfig(assets.OutlineSystemPrompt, OutlineSchema))
	if err != nil {
		return nil, err
	}

	items, err := parseOutline(text)
	if err != nil {
		return nil, err
	}
	log.Info().Str("topic", topic).Int("items", len(items)).Msg("Outline generated")
	return items, nil
}

// GenerateSlide builds one slide payload from an outline item. theme is a
// styling hint only.
func (s *Service) GenerateSlide(ctx context.Context, item deck.OutlineItem, theme string) (deck.SlidePayload, error) {
	prompt := assets.RenderSlidePrompt(assets.SlideData{
		Theme:   theme,
		Title:   item.Title,
		Content: item.Description,
	})
	text, err := s.generateText(ctx, "slide", prompt, jsonConfig(assets.SlideSystemPrompt, SlideSchema))
	if err != nil {
		return deck.SlidePayload{}, err
	}

	p, err := parseSlide("slide", text)
	if err != nil {
		return deck.SlidePayload{}, err
	}
	log.Debug().Str("title", p.Title).Str("layout", string(p.Layout)).Msg("Slide generated")
	return p, nil
}

// RegenerateSlide asks for a full replacement of current following
// instruction. The result carries no identity; the caller keeps current.ID.
func (s *Service) RegenerateSlide(ctx context.Context, current deck.Slide, instruction, theme string) (deck.SlidePayload, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return deck.SlidePayload{}, generr.Generationf("regenerate", "instruction is empty")
	}

	cur := current.SlidePayload
	cur.ImageURL = ""
	slideJSON, err := json.MarshalIndent(cur, "", "  ")
	if err != nil {
		return deck.SlidePayload{}, fmt.Errorf("failed to encode current slide: %w", err)
	}

	prompt := assets.RenderRegeneratePrompt(assets.RegenerateData{
		Theme:       theme,
		SlideJSON:   string(slideJSON),
		Instruction: instruction,
	})
	text, err := s.generateText(ctx, "regenerate", prompt, jsonConfig(assets.RegenerateSystemPrompt, SlideSchema))
	if err != nil {
		return deck.SlidePayload{}, err
	}
	return parseSlide("regenerate", text)
}

// GenerateImage renders an illustration for prompt and returns the image
// bytes and MIME type.
func (s *Service) GenerateImage(ctx context.Context, prompt, theme string) ([]byte, string, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, "", generr.Generationf("image", "image prompt is empty")
	}

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	}
	full := assets.RenderImagePrompt(assets.ImageData{Theme: theme, Prompt: prompt})

	log.Debug().Str("model", s.imageModel).Int("prompt_length", len(full)).Msg("Requesting illustration")
	callStart := time.Now()
	resp, err := s.gen.GenerateContent(ctx, s.imageModel, genai.Text(full), config)
	if err != nil {
		return nil, "", classifyError("image", err)
	}

	data, mimeType, ok := firstImage(resp)
	if !ok {
		return nil, "", generr.Generationf("image", "response contained no image")
	}
	log.Debug().
		Int("image_bytes", len(data)).
		Str("mime_type", mimeType).
		Dur("duration", time.Since(callStart)).
		Msg("Illustration received")
	return data, mimeType, nil
}

func firstImage(resp *genai.GenerateContentResponse) ([]byte, string, bool) {
	if resp == nil {
		return nil, "", false
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				mimeType := part.InlineData.MIMEType
				if mimeType == "" {
					mimeType = "image/png"
				}
				return part.InlineData.Data, mimeType, true
			}
		}
	}
	return nil, "", false
}
