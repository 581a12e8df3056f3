package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/ai-deck-builder/internal/config"
	"github.com/fpang/ai-deck-builder/internal/deck"
	"github.com/fpang/ai-deck-builder/internal/ingest"
	"github.com/fpang/ai-deck-builder/internal/store"
)

func TestFormatDurationShort(t *testing.T) {
	assert.Equal(t, "0:05", FormatDurationShort(5*time.Second))
	assert.Equal(t, "2:03", FormatDurationShort(123*time.Second))
	assert.Equal(t, "1:00:01", FormatDurationShort(time.Hour+time.Second))
}

func TestPrompt(t *testing.T) {
	var out strings.Builder
	got := Prompt(strings.NewReader("  Solar power \n"), &out, "Topic", "")
	assert.Equal(t, "Solar power", got)
	assert.Equal(t, "Topic: ", out.String())

	out.Reset()
	got = Prompt(strings.NewReader("\n"), &out, "Theme", "clean light")
	assert.Equal(t, "clean light", got)
	assert.Equal(t, "Theme [clean light]: ", out.String())

	assert.Equal(t, "x", Prompt(strings.NewReader(""), &out, "Empty", "x"))
}

func TestResolveDocument(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(doc, []byte("# Notes"), 0o644))
	bin := filepath.Join(dir, "image.png")
	require.NoError(t, os.WriteFile(bin, []byte{0x89}, 0o644))

	got, err := ResolveDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, doc, got)

	_, err = ResolveDocument(dir)
	assert.ErrorContains(t, err, "is a directory")

	_, err = ResolveDocument(filepath.Join(dir, "missing.md"))
	assert.ErrorContains(t, err, "not found")

	_, err = ResolveDocument(bin)
	assert.ErrorIs(t, err, ingest.ErrUnsupported)
}

func TestRenderMarkdown(t *testing.T) {
	t.Setenv("GLAMOUR_STYLE", "notty")
	out := RenderMarkdown("# Title\n\nBody text", 80)
	assert.Contains(t, out, "Title")
	assert.Contains(t, out, "Body text")
}

func TestOpenStorage_Local(t *testing.T) {
	ctx := context.Background()

	mem, err := OpenStorage(ctx, config.Config{Store: config.StoreMemory}, nil)
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryStore{}, mem.Decks)
	assert.Nil(t, mem.Uploader)
	assert.NoError(t, mem.Close())

	path := filepath.Join(t.TempDir(), "nested", "decks.db")
	db, err := OpenStorage(ctx, config.Config{Store: config.StoreSQLite, SQLitePath: path}, nil)
	require.NoError(t, err)
	defer db.Close()

	d := deck.Deck{ID: "deck-1", Title: "T"}
	require.NoError(t, db.Decks.PutDeck(ctx, d))
	got, err := db.Decks.GetDeck(ctx, "deck-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "T", got.Title)
}
