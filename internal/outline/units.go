package outline

import (
	"strings"
)

// unit is an indivisible run of section text: one sentence, one list item,
// or one fenced code block. Concatenating a section's units reproduces it.
type unit struct {
	text      string
	words     int
	code      bool
	codeLines int

	// Code blocks only.
	openLine  string
	closeLine string
	bodyLines []string
}

// closers may follow sentence-ending punctuation before the whitespace.
const closers = `"')]}*_`

func splitUnits(body string) []unit {
	var units []unit
	add := func(u unit) {
		if strings.TrimSpace(u.text) == "" {
			if n := len(units); n > 0 {
				units[n-1].text += u.text
				return
			}
		}
		if n := len(units); n > 0 && !units[n-1].code && strings.TrimSpace(units[n-1].text) == "" {
			u.text = units[n-1].text + u.text
			units[n-1] = u
			return
		}
		units = append(units, u)
	}
	addProse := func(s string) {
		for _, p := range proseUnits(s) {
			add(p)
		}
	}

	proseStart, pos := 0, 0
	for pos < len(body) {
		next := lineEnd(body, pos)
		fence, ok := fenceOpen(body[pos:next])
		if !ok {
			pos = next
			continue
		}

		addProse(body[proseStart:pos])

		u := unit{code: true, openLine: strings.TrimRight(body[pos:next], "\n")}
		end := next
		for end < len(body) {
			le := lineEnd(body, end)
			line := body[end:le]
			end = le
			if isFenceClose(line, fence) {
				u.closeLine = strings.TrimRight(line, "\n")
				break
			}
			u.bodyLines = append(u.bodyLines, strings.TrimRight(line, "\n"))
		}
		if u.closeLine == "" {
			u.closeLine = fence
		}
		u.text = body[pos:end]
		u.codeLines = len(u.bodyLines)
		u.words = len(strings.Fields(strings.Join(u.bodyLines, "\n")))
		add(u)

		pos, proseStart = end, end
	}
	addProse(body[proseStart:])
	return units
}

// chunk splits an oversized code block at line boundaries, re-fencing each
// chunk with the block's own fence lines.
func (u unit) chunk(maxLines int) []string {
	var out []string
	for start := 0; start < len(u.bodyLines); start += maxLines {
		end := min(start+maxLines, len(u.bodyLines))
		var b strings.Builder
		b.WriteString(u.openLine)
		b.WriteByte('\n')
		for _, l := range u.bodyLines[start:end] {
			b.WriteString(l)
			b.WriteByte('\n')
		}
		b.WriteString(u.closeLine)
		b.WriteByte('\n')
		out = append(out, b.String())
	}
	return out
}

// proseUnits splits prose after sentence terminators, at paragraph breaks,
// and before list items. Each boundary absorbs the whitespace that follows it.
func proseUnits(s string) []unit {
	if s == "" {
		return nil
	}
	var out []unit
	start := 0
	for i := 0; i < len(s); i++ {
		boundary := -1
		switch c := s[i]; {
		case c == '.' || c == '!' || c == '?':
			j := i + 1
			for j < len(s) {
				if strings.IndexByte(closers, s[j]) >= 0 {
					j++
				} else if strings.HasPrefix(s[j:], "”") || strings.HasPrefix(s[j:], "’") {
					j += len("”")
				} else {
					break
				}
			}
			if j < len(s) && isSpace(s[j]) {
				boundary = skipSpace(s, j)
			}
		case c == '\n':
			k := i + 1
			for k < len(s) && (s[k] == ' ' || s[k] == '\t' || s[k] == '\r') {
				k++
			}
			if k < len(s) && (s[k] == '\n' || listMarker(s[k:])) {
				boundary = skipSpace(s, i)
				// Keep indentation with the list item it belongs to.
				if boundary < len(s) && listMarker(s[boundary:]) {
					for boundary > i+1 && (s[boundary-1] == ' ' || s[boundary-1] == '\t') {
						boundary--
					}
				}
			}
		}
		if boundary > start && boundary < len(s) {
			out = append(out, proseUnit(s[start:boundary]))
			start = boundary
			i = boundary - 1
		}
	}
	if start < len(s) {
		out = append(out, proseUnit(s[start:]))
	}
	return out
}

func proseUnit(s string) unit {
	return unit{text: s, words: len(strings.Fields(s))}
}

func listMarker(s string) bool {
	if strings.HasPrefix(s, "- ") || strings.HasPrefix(s, "* ") || strings.HasPrefix(s, "+ ") {
		return true
	}
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return i > 0 && i+1 < len(s) && (s[i] == '.' || s[i] == ')') && s[i+1] == ' '
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func skipSpace(s string, i int) int {
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	return i
}

func lineEnd(s string, pos int) int {
	if i := strings.IndexByte(s[pos:], '\n'); i >= 0 {
		return pos + i + 1
	}
	return len(s)
}

// fenceOpen reports whether line opens a fenced code block, returning the
// fence marker.
func fenceOpen(line string) (string, bool) {
	t := strings.TrimLeft(line, " ")
	if len(line)-len(t) > 3 {
		return "", false
	}
	for _, ch := range []byte{'`', '~'} {
		n := 0
		for n < len(t) && t[n] == ch {
			n++
		}
		if n >= 3 {
			return t[:n], true
		}
	}
	return "", false
}

func isFenceClose(line, fence string) bool {
	t := strings.TrimSpace(line)
	return strings.HasPrefix(t, fence) && strings.Trim(t, fence[:1]) == ""
}
