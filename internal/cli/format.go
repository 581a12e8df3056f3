package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/glamour"
)

// FormatDurationShort formats a duration in a short format (M:SS or H:MM:SS).
func FormatDurationShort(d time.Duration) string {
	totalSeconds := int(d.Seconds())
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// RenderMarkdown styles md for the terminal. GLAMOUR_STYLE overrides the
// auto-detected style. On renderer failure md is returned unchanged.
func RenderMarkdown(md string, width int) string {
	style := glamour.WithAutoStyle()
	if s := os.Getenv("GLAMOUR_STYLE"); s != "" {
		style = glamour.WithStandardStyle(s)
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}
