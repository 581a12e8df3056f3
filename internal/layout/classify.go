// Package layout enforces the slide layout rules locally after the remote
// model has proposed a payload.
//
// The model is asked to follow the layout priority order, but its answer is
// not trusted: fenced code in the source always yields a CODE slide, and a
// proposed layout whose required fields are missing is repaired with the
// fallback order QUOTE, BIG_NUMBER, TWO_COLUMN, BULLETS.
package layout

import (
	"regexp"
	"strings"

	"github.com/fpang/ai-deck-builder/internal/deck"
	"github.com/rs/zerolog/log"
)

// fencePattern matches one fenced code block. Group 1 is the info string
// (language tag), group 2 the body.
var fencePattern = regexp.MustCompile("(?s)(?:^|\\n)[ \\t]*(```|~~~)[ \\t]*([A-Za-z0-9_+#.\\-]*)[^\\n]*\\n(.*?)\\n?[ \\t]*(?:```|~~~)[ \\t]*(?:\\n|$)")

// CodeBlock is a fenced block found in raw content.
type CodeBlock struct {
	Code     string
	Language string
	// Prose is the raw content with the block removed, trimmed.
	Prose string
}

// ExtractCode finds the first fenced code block in raw. It reports false when
// raw has no fence.
func ExtractCode(raw string) (CodeBlock, bool) {
	loc := fencePattern.FindStringSubmatchIndex(raw)
	if loc == nil {
		return CodeBlock{}, false
	}
	lang := ""
	if loc[4] >= 0 {
		lang = raw[loc[4]:loc[5]]
	}
	body := raw[loc[6]:loc[7]]
	prose := strings.TrimSpace(raw[:loc[0]] + "\n" + raw[loc[1]:])
	return CodeBlock{
		Code:     strings.TrimRight(body, "\n"),
		Language: strings.ToLower(strings.TrimSpace(lang)),
		Prose:    prose,
	}, true
}

// StripFences removes fence markers wrapping code, returning the body and the
// fence's language tag (if any). Unfenced code is returned trimmed.
func StripFences(code string) (string, string) {
	trimmed := strings.TrimSpace(code)
	if !strings.HasPrefix(trimmed, "```") && !strings.HasPrefix(trimmed, "~~~") {
		return strings.Trim(code, "\n"), ""
	}
	if cb, ok := ExtractCode(trimmed); ok {
		return cb.Code, cb.Language
	}
	// Opening fence without a closing one.
	first, rest, _ := strings.Cut(trimmed, "\n")
	lang := strings.TrimLeft(first, "`~")
	return strings.Trim(rest, "\n"), strings.ToLower(strings.TrimSpace(lang))
}

// Normalize cleans fields that must never carry markup: code loses its fence
// markers and language is lowercased.
func Normalize(p deck.SlidePayload) deck.SlidePayload {
	if p.Code != "" {
		code, lang := StripFences(p.Code)
		p.Code = code
		if p.Language == "" {
			p.Language = lang
		}
	}
	p.Language = strings.ToLower(strings.TrimSpace(p.Language))
	p.Title = strings.TrimSpace(p.Title)
	return p
}

// Consistent reports whether p's layout is valid and its required fields are present.
func Consistent(p deck.SlidePayload) bool {
	switch p.Layout {
	case deck.LayoutTitle:
		return p.Title != ""
	case deck.LayoutBullets:
		return true
	case deck.LayoutTwoColumn:
		return len(p.ColumnLeft) > 0 || len(p.ColumnRight) > 0
	case deck.LayoutQuote:
		return p.Quote != ""
	case deck.LayoutBigNumber:
		return p.Statistic != ""
	case deck.LayoutCode:
		return p.Code != ""
	case deck.LayoutImageText:
		return p.ImagePrompt != ""
	default:
		return false
	}
}

// Classify picks a layout from the populated fields using the fallback order.
func Classify(p deck.SlidePayload) deck.Layout {
	switch {
	case p.Quote != "":
		return deck.LayoutQuote
	case p.Statistic != "":
		return deck.LayoutBigNumber
	case len(p.ColumnLeft) > 0 || len(p.ColumnRight) > 0:
		return deck.LayoutTwoColumn
	default:
		return deck.LayoutBullets
	}
}

// Enforce applies the local layout rules to a payload generated from raw
// source content. raw may be empty (regeneration), in which case only the
// consistency repair applies.
func Enforce(raw string, p deck.SlidePayload) deck.SlidePayload {
	p = Normalize(p)

	if cb, ok := ExtractCode(raw); ok {
		if p.Layout != deck.LayoutCode {
			log.Debug().Str("proposed", string(p.Layout)).Msg("Source has fenced code, forcing CODE layout")
		}
		p.Layout = deck.LayoutCode
		p.Code = cb.Code
		if cb.Language != "" {
			p.Language = cb.Language
		}
		if p.Description == "" {
			p.Description = cb.Prose
		}
		return p
	}

	if Consistent(p) {
		return p
	}

	fallback := Classify(p)
	log.Debug().
		Str("proposed", string(p.Layout)).
		Str("fallback", string(fallback)).
		Msg("Repairing inconsistent layout")
	p.Layout = fallback
	if fallback == deck.LayoutBullets && len(p.Bullets) == 0 && p.Description != "" {
		p.Bullets = []string{p.Description}
	}
	return p
}
