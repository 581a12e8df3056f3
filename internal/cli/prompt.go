package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ncruces/zenity"
	"github.com/rs/zerolog/log"
)

// ErrNoSelection is returned when the user dismisses the file picker.
var ErrNoSelection = errors.New("no document selected")

// Prompt writes label to w and reads one line from r. It returns def when
// the user enters nothing.
func Prompt(r io.Reader, w io.Writer, label, def string) string {
	if def != "" {
		fmt.Fprintf(w, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(w, "%s: ", label)
	}

	input, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && input == "" {
		if !errors.Is(err, io.EOF) {
			log.Warn().Err(err).Msg("Failed to read input")
		}
		return def
	}
	if input = strings.TrimSpace(input); input == "" {
		return def
	}
	return input
}

// PickDocument opens the native file dialog filtered to supported documents.
func PickDocument() (string, error) {
	path, err := zenity.SelectFile(
		zenity.Title("Select a source document"),
		zenity.FileFilters{
			{Name: "Documents", Patterns: []string{"*.md", "*.markdown", "*.txt", "*.text"}, CaseFold: true},
		},
	)
	if errors.Is(err, zenity.ErrCanceled) {
		return "", ErrNoSelection
	}
	if err != nil {
		return "", fmt.Errorf("file picker: %w", err)
	}
	return path, nil
}
