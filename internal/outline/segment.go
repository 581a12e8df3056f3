// Package outline turns source documents into ordered outline items.
//
// Document mode is local and deterministic: the text is split into sections at
// Markdown headers, and long sections are paginated into "Title (Part N)"
// items whose descriptions are exact, contiguous substrings of the section.
// Splits only happen at sentence boundaries, paragraph breaks, list items, or
// around fenced code blocks. Topic mode happens remotely (see package chat);
// ClampTopic bounds what comes back.
package outline

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/fpang/ai-deck-builder/internal/deck"
	"github.com/fpang/ai-deck-builder/internal/generr"
	"github.com/rs/zerolog/log"
)

// ErrEmptyDocument is wrapped in an ingestion error when a document has no text.
var ErrEmptyDocument = errors.New("document is empty")

// Limits controls pagination.
type Limits struct {
	// MaxWords is the word budget of one part.
	MaxWords int
	// LargeCodeLines is the body length above which a code block gets its own part.
	LargeCodeLines int
	// MaxCodeLines is the body length above which a code block is itself split.
	MaxCodeLines int
}

// DefaultLimits returns the standard pagination thresholds.
func DefaultLimits() Limits {
	return Limits{MaxWords: 150, LargeCodeLines: 12, MaxCodeLines: 40}
}

// Section is a header-delimited region of a document.
type Section struct {
	Title string
	Body  string
}

var headerPattern = regexp.MustCompile(`^ {0,3}(#{1,6})[ \t]+(.*?)(?:[ \t]+#+)?[ \t]*$`)

// FromDocument segments and paginates doc with the default limits. title is
// used for text that precedes the first header.
func FromDocument(doc, title string) ([]deck.OutlineItem, error) {
	return Split(doc, title, DefaultLimits())
}

// Split segments and paginates doc.
func Split(doc, title string, limits Limits) ([]deck.OutlineItem, error) {
	if strings.TrimSpace(doc) == "" {
		return nil, generr.Ingestion("outline", ErrEmptyDocument)
	}

	var items []deck.OutlineItem
	sections := Sections(doc, title)
	for _, sec := range sections {
		items = append(items, Paginate(sec, limits)...)
	}

	log.Debug().
		Int("sections", len(sections)).
		Int("items", len(items)).
		Msg("Document outline built")
	return items, nil
}

// Sections splits doc at ATX headers that are not inside fenced code.
// Bodies are trimmed of surrounding whitespace. Non-blank text before the
// first header becomes a section named after the document (or "Introduction").
func Sections(doc, title string) []Section {
	doc = strings.ReplaceAll(doc, "\r\n", "\n")
	lines := strings.SplitAfter(doc, "\n")

	preTitle := strings.TrimSpace(title)
	if preTitle == "" {
		preTitle = "Introduction"
	}

	var (
		sections []Section
		current  = Section{Title: preTitle}
		body     strings.Builder
		fence    string
		started  bool
	)
	flush := func() {
		current.Body = strings.TrimSpace(body.String())
		if started || current.Body != "" {
			sections = append(sections, current)
		}
		body.Reset()
	}

	for _, line := range lines {
		if fence != "" {
			if isFenceClose(line, fence) {
				fence = ""
			}
			body.WriteString(line)
			continue
		}
		if f, ok := fenceOpen(line); ok {
			fence = f
			body.WriteString(line)
			continue
		}
		if m := headerPattern.FindStringSubmatch(strings.TrimRight(line, "\n")); m != nil {
			flush()
			current = Section{Title: strings.TrimSpace(m[2])}
			started = true
			continue
		}
		body.WriteString(line)
	}
	flush()
	return sections
}

// Paginate splits one section into outline items. A section under the word
// budget without a large code block yields a single item with the section's
// own title.
func Paginate(sec Section, limits Limits) []deck.OutlineItem {
	units := splitUnits(sec.Body)
	if !needsSplit(units, limits) {
		return []deck.OutlineItem{{Title: sec.Title, Description: sec.Body}}
	}

	var (
		parts    []string
		cur      strings.Builder
		curWords int
	)
	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
			curWords = 0
		}
	}

	for _, u := range units {
		if u.code && u.codeLines > limits.LargeCodeLines {
			flush()
			if u.codeLines > limits.MaxCodeLines {
				parts = append(parts, u.chunk(limits.MaxCodeLines)...)
			} else {
				parts = append(parts, u.text)
			}
			continue
		}
		if cur.Len() > 0 && curWords+u.words > limits.MaxWords {
			flush()
		}
		cur.WriteString(u.text)
		curWords += u.words
	}
	flush()

	if len(parts) == 1 {
		return []deck.OutlineItem{{Title: sec.Title, Description: parts[0]}}
	}
	items := make([]deck.OutlineItem, len(parts))
	for i, p := range parts {
		items[i] = deck.OutlineItem{
			Title:       fmt.Sprintf("%s (Part %d)", sec.Title, i+1),
			Description: p,
		}
	}
	return items
}

func needsSplit(units []unit, limits Limits) bool {
	words := 0
	for _, u := range units {
		if u.code && u.codeLines > limits.LargeCodeLines {
			return true
		}
		words += u.words
	}
	return words > limits.MaxWords
}
