package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"bare", `[{"title":"A","description":"a"}]`},
		{"fenced", "```json\n[{\"title\":\"A\",\"description\":\"a\"}]\n```"},
		{"prose around", "Here you go:\n[{\"title\":\"A\",\"description\":\"a\"}]\nHope that helps {smile}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseJSON[[]item](tt.raw)
			require.NoError(t, err)
			assert.Equal(t, []item{{Title: "A", Description: "a"}}, got)
		})
	}
}

func TestExtractJSON_IgnoresBracketsInStrings(t *testing.T) {
	got, err := ExtractJSON(`{"code":"if (x) { y[0] = \"}\" }"} trailing }`)
	require.NoError(t, err)
	assert.Equal(t, `{"code":"if (x) { y[0] = \"}\" }"}`, got)
}

func TestParseJSON_Errors(t *testing.T) {
	_, err := ParseJSON[item]("no json at all")
	assert.ErrorIs(t, err, ErrNoJSON)

	_, err = ParseJSON[item](`{"title": "unterminated"`)
	assert.Error(t, err)

	_, err = ParseJSON[item](`{"title": 5}`)
	assert.Error(t, err)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "abc", Preview("abc", 5))
	assert.Equal(t, "ab...", Preview("abcdef", 2))
}
