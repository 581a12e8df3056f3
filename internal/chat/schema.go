package chat

// schema.go holds the response schemas sent to Gemini and the explicit
// validation applied to decoded payloads. The model is asked for structured
// output, but its compliance is not assumed: every payload is decoded into
// presence-aware wire types and checked before it becomes a deck value.

import (
	"fmt"
	"strings"

	"github.com/fpang/ai-deck-builder/internal/deck"
	"github.com/fpang/ai-deck-builder/internal/generr"
	"github.com/fpang/ai-deck-builder/internal/jsonutil"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

func stringSchema(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: desc}
}

func stringArraySchema(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeArray, Description: desc, Items: &genai.Schema{Type: genai.TypeString}}
}

// OutlineSchema is an array of {title, description}, both required.
var OutlineSchema = &genai.Schema{
	Type: genai.TypeArray,
	Items: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title":       stringSchema("Short slide heading"),
			"description": stringSchema("Raw material for the slide"),
		},
		Required:         []string{"title", "description"},
		PropertyOrdering: []string{"title", "description"},
	},
}

// SlideSchema requires title, layout and speakerNotes; every variant field is optional.
var SlideSchema = func() *genai.Schema {
	enum := make([]string, len(deck.Layouts))
	for i, l := range deck.Layouts {
		enum[i] = string(l)
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"layout":       {Type: genai.TypeString, Enum: enum},
			"title":        stringSchema("Slide heading"),
			"subtitle":     stringSchema(""),
			"bullets":      stringArraySchema("Key points"),
			"columnLeft":   stringArraySchema("Left side of a comparison"),
			"columnRight":  stringArraySchema("Right side of a comparison"),
			"quote":        stringSchema(""),
			"author":       stringSchema(""),
			"statistic":    stringSchema("The dominant number, e.g. 73%"),
			"description":  stringSchema(""),
			"code":         stringSchema("Code body without fence markers"),
			"language":     stringSchema("Programming language of code"),
			"imagePrompt":  stringSchema("One visually precise sentence describing an illustration"),
			"speakerNotes": stringSchema("What the presenter says"),
		},
		Required: []string{"title", "layout", "speakerNotes"},
		PropertyOrdering: []string{
			"layout", "title", "subtitle", "bullets", "columnLeft", "columnRight", "quote",
			"author", "statistic", "description", "code", "language", "imagePrompt", "speakerNotes",
		},
	}
}()

// outlineWire distinguishes a missing field from an empty one.
type outlineWire struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

type slideWire struct {
	Layout       *string  `json:"layout"`
	Title        *string  `json:"title"`
	Subtitle     string   `json:"subtitle"`
	Bullets      []string `json:"bullets"`
	ColumnLeft   []string `json:"columnLeft"`
	ColumnRight  []string `json:"columnRight"`
	Quote        string   `json:"quote"`
	Author       string   `json:"author"`
	Statistic    string   `json:"statistic"`
	Description  string   `json:"description"`
	Code         string   `json:"code"`
	Language     string   `json:"language"`
	ImagePrompt  string   `json:"imagePrompt"`
	SpeakerNotes *string  `json:"speakerNotes"`
}

// parseOutline decodes and validates an outline response. Items with a
// missing or blank title or description are dropped; a response that is not an array fails.
func parseOutline(text string) ([]deck.OutlineItem, error) {
	if strings.TrimSpace(text) == "" {
		return nil, generr.Generationf("outline", "empty response")
	}
	raw, err := jsonutil.ParseJSON[[]outlineWire](text)
	if err != nil {
		return nil, generr.Generation("outline", "response does not match outline schema", err)
	}

	items := make([]deck.OutlineItem, 0, len(raw))
	for i, w := range raw {
		if w.Title == nil || strings.TrimSpace(*w.Title) == "" ||
			w.Description == nil || strings.TrimSpace(*w.Description) == "" {
			log.Warn().Int("index", i).Msg("Dropping outline item missing title or description")
			continue
		}
		items = append(items, deck.OutlineItem{
			Title:       strings.TrimSpace(*w.Title),
			Description: *w.Description,
		})
	}
	return items, nil
}

// parseSlide decodes and validates a slide response.
func parseSlide(op, text string) (deck.SlidePayload, error) {
	if strings.TrimSpace(text) == "" {
		return deck.SlidePayload{}, generr.Generationf(op, "empty response")
	}
	w, err := jsonutil.ParseJSON[slideWire](text)
	if err != nil {
		return deck.SlidePayload{}, generr.Generation(op, "response does not match slide schema", err)
	}
	if err := w.validate(); err != nil {
		return deck.SlidePayload{}, generr.Generation(op, "response does not match slide schema", err)
	}
	return w.payload(), nil
}

func (w slideWire) validate() error {
	switch {
	case w.Title == nil || strings.TrimSpace(*w.Title) == "":
		return fmt.Errorf("missing title")
	case w.Layout == nil:
		return fmt.Errorf("missing layout")
	case !deck.Layout(strings.ToUpper(strings.TrimSpace(*w.Layout))).Valid():
		return fmt.Errorf("unknown layout %q", *w.Layout)
	case w.SpeakerNotes == nil:
		return fmt.Errorf("missing speakerNotes")
	}
	return nil
}

func (w slideWire) payload() deck.SlidePayload {
	return deck.SlidePayload{
		Layout:       deck.Layout(strings.ToUpper(strings.TrimSpace(*w.Layout))),
		Title:        strings.TrimSpace(*w.Title),
		Subtitle:     w.Subtitle,
		Bullets:      nonEmpty(w.Bullets),
		ColumnLeft:   nonEmpty(w.ColumnLeft),
		ColumnRight:  nonEmpty(w.ColumnRight),
		Quote:        w.Quote,
		Author:       w.Author,
		Statistic:    w.Statistic,
		Description:  w.Description,
		Code:         w.Code,
		Language:     w.Language,
		ImagePrompt:  strings.TrimSpace(w.ImagePrompt),
		SpeakerNotes: *w.SpeakerNotes,
	}
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
