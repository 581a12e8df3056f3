// Package export turns finalized deck snapshots into portable artifacts: a
// Markdown rendering of every layout and a zip bundle with the deck JSON,
// the Markdown, full-size images and thumbnails. Bundles can be uploaded to
// S3 behind a presigned download link.
package export

import (
	"fmt"
	"strings"

	"github.com/fpang/ai-deck-builder/internal/deck"
)

// MarkdownOptions controls Markdown rendering.
type MarkdownOptions struct {
	// ImagePath returns the reference written for a slide's image. Nil keeps
	// ImageURL as is. An empty result renders the placeholder.
	ImagePath func(s deck.Slide) string
	// OmitNotes drops speaker notes.
	OmitNotes bool
}

// Markdown renders d with default options.
func Markdown(d deck.Deck) string {
	return RenderMarkdown(d, MarkdownOptions{})
}

// RenderMarkdown renders d as a Markdown document with one section per slide,
// separated by horizontal rules. Speaker notes become HTML comments.
func RenderMarkdown(d deck.Deck, opts MarkdownOptions) string {
	var b strings.Builder
	if d.Title != "" {
		fmt.Fprintf(&b, "# %s\n\n", d.Title)
	}
	for i, s := range d.Slides {
		if i > 0 || d.Title != "" {
			b.WriteString("---\n\n")
		}
		renderSlide(&b, s, opts)
	}
	return b.String()
}

func renderSlide(b *strings.Builder, s deck.Slide, opts MarkdownOptions) {
	switch s.Layout {
	case deck.LayoutTitle:
		fmt.Fprintf(b, "# %s\n\n", s.Title)
		if s.Subtitle != "" {
			fmt.Fprintf(b, "### %s\n\n", s.Subtitle)
		}

	case deck.LayoutTwoColumn:
		heading(b, s)
		columns(b, s.ColumnLeft, s.ColumnRight)
		paragraph(b, s.Description)

	case deck.LayoutQuote:
		heading(b, s)
		for _, line := range strings.Split(s.Quote, "\n") {
			fmt.Fprintf(b, "> %s\n", line)
		}
		if s.Author != "" {
			fmt.Fprintf(b, ">\n> -- %s\n", s.Author)
		}
		b.WriteString("\n")

	case deck.LayoutBigNumber:
		heading(b, s)
		fmt.Fprintf(b, "**%s**\n\n", s.Statistic)
		paragraph(b, s.Description)

	case deck.LayoutCode:
		heading(b, s)
		paragraph(b, s.Description)
		fence := codeFence(s.Code)
		fmt.Fprintf(b, "%s%s\n%s\n%s\n\n", fence, s.Language, strings.TrimRight(s.Code, "\n"), fence)

	case deck.LayoutImageText:
		heading(b, s)
		ref := s.ImageURL
		if opts.ImagePath != nil {
			ref = opts.ImagePath(s)
		}
		if ref != "" {
			fmt.Fprintf(b, "![%s](%s)\n\n", altText(s), ref)
		} else if s.ImagePrompt != "" {
			fmt.Fprintf(b, "_Illustration pending: %s_\n\n", s.ImagePrompt)
		}
		paragraph(b, s.Description)

	default:
		heading(b, s)
		list(b, s.Bullets)
	}

	if !opts.OmitNotes && strings.TrimSpace(s.SpeakerNotes) != "" {
		fmt.Fprintf(b, "<!--\nNotes: %s\n-->\n\n", strings.ReplaceAll(s.SpeakerNotes, "-->", "- ->"))
	}
}

func heading(b *strings.Builder, s deck.Slide) {
	fmt.Fprintf(b, "## %s\n\n", s.Title)
	if s.Subtitle != "" {
		fmt.Fprintf(b, "_%s_\n\n", s.Subtitle)
	}
}

func paragraph(b *strings.Builder, text string) {
	if text = strings.TrimSpace(text); text != "" {
		b.WriteString(text)
		b.WriteString("\n\n")
	}
}

func list(b *strings.Builder, items []string) {
	if len(items) == 0 {
		return
	}
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
	b.WriteString("\n")
}

// columns renders two item lists side by side as a table.
func columns(b *strings.Builder, left, right []string) {
	n := max(len(left), len(right))
	if n == 0 {
		return
	}
	b.WriteString("| | |\n|---|---|\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(b, "| %s | %s |\n", cell(left, i), cell(right, i))
	}
	b.WriteString("\n")
}

func cell(items []string, i int) string {
	if i >= len(items) {
		return ""
	}
	return strings.NewReplacer("|", "\\|", "\n", " ").Replace(items[i])
}

// codeFence returns a backtick fence longer than any run inside code.
func codeFence(code string) string {
	longest, run := 0, 0
	for _, r := range code {
		if r == '`' {
			run++
			longest = max(longest, run)
		} else {
			run = 0
		}
	}
	return strings.Repeat("`", max(3, longest+1))
}

func altText(s deck.Slide) string {
	alt := s.ImagePrompt
	if alt == "" {
		alt = s.Title
	}
	return strings.NewReplacer("[", "(", "]", ")", "\n", " ").Replace(alt)
}
