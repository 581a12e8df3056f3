// Package deck holds the presentation data model and the authoritative,
// concurrency-safe deck store that merges progressively generated slides and
// asynchronously generated images by slide identity.
package deck

import (
	"time"
)

// Layout is the closed set of slide variants a renderer understands.
type Layout string

const (
	LayoutTitle     Layout = "TITLE"
	LayoutBullets   Layout = "BULLETS"
	LayoutTwoColumn Layout = "TWO_COLUMN"
	LayoutQuote     Layout = "QUOTE"
	LayoutBigNumber Layout = "BIG_NUMBER"
	LayoutCode      Layout = "CODE"
	LayoutImageText Layout = "IMAGE_TEXT"
)

// Layouts lists every valid layout in schema order.
var Layouts = []Layout{
	LayoutTitle,
	LayoutBullets,
	LayoutTwoColumn,
	LayoutQuote,
	LayoutBigNumber,
	LayoutCode,
	LayoutImageText,
}

// Valid reports whether l is one of the enumerated layouts.
func (l Layout) Valid() bool {
	for _, v := range Layouts {
		if l == v {
			return true
		}
	}
	return false
}

// NeedsImage reports whether slides of this layout are illustrated.
func (l Layout) NeedsImage() bool {
	return l == LayoutImageText
}

// OutlineItem is one titled unit of raw content destined to become a slide.
// Description carries the verbatim source text in document mode.
type OutlineItem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// SlidePayload is everything about a slide except its identity. Fields that do
// not apply to the active layout may still be populated; renderers read only
// the ones they understand.
type SlidePayload struct {
	Layout       Layout   `json:"layout" dynamodbav:"layout"`
	Title        string   `json:"title" dynamodbav:"title"`
	Subtitle     string   `json:"subtitle,omitempty" dynamodbav:"subtitle,omitempty"`
	Bullets      []string `json:"bullets,omitempty" dynamodbav:"bullets,omitempty"`
	ColumnLeft   []string `json:"columnLeft,omitempty" dynamodbav:"columnLeft,omitempty"`
	ColumnRight  []string `json:"columnRight,omitempty" dynamodbav:"columnRight,omitempty"`
	Quote        string   `json:"quote,omitempty" dynamodbav:"quote,omitempty"`
	Author       string   `json:"author,omitempty" dynamodbav:"author,omitempty"`
	Statistic    string   `json:"statistic,omitempty" dynamodbav:"statistic,omitempty"`
	Description  string   `json:"description,omitempty" dynamodbav:"description,omitempty"`
	Code         string   `json:"code,omitempty" dynamodbav:"code,omitempty"`
	Language     string   `json:"language,omitempty" dynamodbav:"language,omitempty"`
	ImagePrompt  string   `json:"imagePrompt,omitempty" dynamodbav:"imagePrompt,omitempty"`
	ImageURL     string   `json:"imageUrl,omitempty" dynamodbav:"imageUrl,omitempty"`
	SpeakerNotes string   `json:"speakerNotes,omitempty" dynamodbav:"speakerNotes,omitempty"`
}

// NeedsImage reports whether the payload should be sent for image enrichment.
func (p SlidePayload) NeedsImage() bool {
	return p.Layout.NeedsImage() && p.ImagePrompt != ""
}

// Slide is the identity-bearing unit of a deck. ID never changes once assigned.
type Slide struct {
	ID string `json:"id" dynamodbav:"id"`
	SlidePayload
}

// clone returns a deep copy so callers never alias store-owned slices.
func (s Slide) clone() Slide {
	s.Bullets = cloneStrings(s.Bullets)
	s.ColumnLeft = cloneStrings(s.ColumnLeft)
	s.ColumnRight = cloneStrings(s.ColumnRight)
	return s
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// Deck is a snapshot of the presentation state.
type Deck struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Theme           string    `json:"theme"`
	BackgroundImage string    `json:"backgroundImage,omitempty"`
	Slides          []Slide   `json:"slides"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Slide returns the slide with the given ID and its position, or -1.
func (d *Deck) Slide(id string) (Slide, int) {
	for i, s := range d.Slides {
		if s.ID == id {
			return s, i
		}
	}
	return Slide{}, -1
}

// SlidePatch is a direct user edit. Nil fields are left untouched. Layout is
// deliberately absent: a layout change requires full replacement.
type SlidePatch struct {
	Title        *string   `json:"title,omitempty"`
	Subtitle     *string   `json:"subtitle,omitempty"`
	Bullets      *[]string `json:"bullets,omitempty"`
	ColumnLeft   *[]string `json:"columnLeft,omitempty"`
	ColumnRight  *[]string `json:"columnRight,omitempty"`
	Quote        *string   `json:"quote,omitempty"`
	Author       *string   `json:"author,omitempty"`
	Statistic    *string   `json:"statistic,omitempty"`
	Description  *string   `json:"description,omitempty"`
	Code         *string   `json:"code,omitempty"`
	Language     *string   `json:"language,omitempty"`
	SpeakerNotes *string   `json:"speakerNotes,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p SlidePatch) Empty() bool {
	return p == SlidePatch{}
}

func (p SlidePatch) apply(s *SlidePayload) {
	setString(&s.Title, p.Title)
	setString(&s.Subtitle, p.Subtitle)
	setStrings(&s.Bullets, p.Bullets)
	setStrings(&s.ColumnLeft, p.ColumnLeft)
	setStrings(&s.ColumnRight, p.ColumnRight)
	setString(&s.Quote, p.Quote)
	setString(&s.Author, p.Author)
	setString(&s.Statistic, p.Statistic)
	setString(&s.Description, p.Description)
	setString(&s.Code, p.Code)
	setString(&s.Language, p.Language)
	setString(&s.SpeakerNotes, p.SpeakerNotes)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setStrings(dst *[]string, v *[]string) {
	if v != nil {
		*dst = cloneStrings(*v)
	}
}
