package deck

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePrompt = "a lighthouse at dusk"

func sampleSlide(i int) Slide {
	return Slide{
		ID: fmt.Sprintf("slide-%d", i),
		SlidePayload: SlidePayload{
			Layout:       LayoutImageText,
			Title:        fmt.Sprintf("Slide %d", i),
			Bullets:      []string{"a", "b"},
			ImagePrompt:  samplePrompt,
			SpeakerNotes: fmt.Sprintf("notes %d", i),
		},
	}
}

func filledStore(t *testing.T, n int) (*Store, uint64) {
	t.Helper()
	s := NewStore("deck-test")
	gen := s.Reset("Test", "modern")
	for i := 0; i < n; i++ {
		added, err := s.Append(gen, sampleSlide(i))
		require.NoError(t, err)
		require.True(t, added)
	}
	return s, gen
}

func TestStore_IdentityStableUnderOutOfOrderMerge(t *testing.T) {
	const n, m = 8, 5
	s, gen := filledStore(t, n)
	before := s.Snapshot()

	targets := rand.New(rand.NewSource(7)).Perm(n)[:m]
	var wg sync.WaitGroup
	for _, idx := range targets {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			assert.True(t, s.PatchImage(gen, before.Slides[idx].ID, samplePrompt, fmt.Sprintf("data:image/png;base64,%d", idx)))
		}(idx)
	}
	wg.Wait()

	after := s.Snapshot()
	require.Len(t, after.Slides, n)

	patched := make(map[int]bool, m)
	for _, idx := range targets {
		patched[idx] = true
	}
	for i := range after.Slides {
		want := before.Slides[i]
		if patched[i] {
			want.ImageURL = fmt.Sprintf("data:image/png;base64,%d", i)
		}
		assert.Equal(t, want, after.Slides[i], "slide %d", i)
	}
}

func TestStore_AppendIsIdempotent(t *testing.T) {
	s, gen := filledStore(t, 3)
	before := s.Snapshot()

	dup := sampleSlide(1)
	dup.Title = "changed"
	added, err := s.Append(gen, dup)

	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, before.Slides, s.Snapshot().Slides)
}

func TestStore_AppendRejectsMissingID(t *testing.T) {
	s := NewStore("deck-test")
	gen := s.Reset("T", "")
	_, err := s.Append(gen, Slide{})
	assert.Error(t, err)
}

func TestStore_StaleGenerationDiscarded(t *testing.T) {
	s, oldGen := filledStore(t, 2)
	id := s.Snapshot().Slides[0].ID

	newGen := s.Reset("Second run", "modern")
	require.NotEqual(t, oldGen, newGen)

	_, err := s.Append(oldGen, sampleSlide(9))
	assert.ErrorIs(t, err, ErrStaleGeneration)

	added, err := s.Append(newGen, sampleSlide(0))
	require.NoError(t, err)
	require.True(t, added)

	assert.False(t, s.PatchImage(oldGen, id, samplePrompt, "data:image/png;base64,AA=="))
	got, ok := s.Get(id)
	require.True(t, ok)
	assert.Empty(t, got.ImageURL)
}

func TestStore_PatchImageMissingSlideIsNoop(t *testing.T) {
	s, gen := filledStore(t, 2)
	before := s.Snapshot()
	assert.False(t, s.PatchImage(gen, "gone", samplePrompt, "data:image/png;base64,AA=="))
	assert.Equal(t, before.Slides, s.Snapshot().Slides)
}

func TestStore_PatchImageRejectsReplacedPayload(t *testing.T) {
	s, gen := filledStore(t, 2)

	_, err := s.Replace("slide-0", SlidePayload{Layout: LayoutBullets, Title: "Plain", Bullets: []string{"x"}})
	require.NoError(t, err)
	assert.False(t, s.PatchImage(gen, "slide-0", samplePrompt, "data:image/png;base64,AA=="))

	_, err = s.Replace("slide-1", SlidePayload{Layout: LayoutImageText, Title: "New", ImagePrompt: "a harbour at dawn"})
	require.NoError(t, err)
	assert.False(t, s.PatchImage(gen, "slide-1", samplePrompt, "data:image/png;base64,AA=="))
	assert.True(t, s.PatchImage(gen, "slide-1", "a harbour at dawn", "data:image/png;base64,BB=="))

	plain, _ := s.Get("slide-0")
	assert.Empty(t, plain.ImageURL)
	fresh, _ := s.Get("slide-1")
	assert.Equal(t, "data:image/png;base64,BB==", fresh.ImageURL)
}

func TestStore_PatchPreservesSiblings(t *testing.T) {
	s, gen := filledStore(t, 3)
	id := s.Snapshot().Slides[1].ID
	require.True(t, s.PatchImage(gen, id, samplePrompt, "data:image/png;base64,AA=="))

	notes := "rewritten notes"
	got, err := s.Patch(id, SlidePatch{SpeakerNotes: &notes})
	require.NoError(t, err)

	assert.Equal(t, notes, got.SpeakerNotes)
	assert.Equal(t, "Slide 1", got.Title)
	assert.Equal(t, "data:image/png;base64,AA==", got.ImageURL)
	assert.Equal(t, []string{"a", "b"}, got.Bullets)
	assert.Equal(t, LayoutImageText, got.Layout)

	order := s.Snapshot().Slides
	assert.Equal(t, []string{"slide-0", "slide-1", "slide-2"}, []string{order[0].ID, order[1].ID, order[2].ID})

	_, err = s.Patch("missing", SlidePatch{SpeakerNotes: &notes})
	assert.ErrorIs(t, err, ErrSlideNotFound)
}

func TestStore_ReplaceKeepsID(t *testing.T) {
	s, _ := filledStore(t, 2)
	id := s.Snapshot().Slides[0].ID

	got, err := s.Replace(id, SlidePayload{Layout: LayoutQuote, Title: "Q", Quote: "To be", Author: "W.S."})
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, LayoutQuote, got.Layout)
	assert.Empty(t, got.Bullets)
	assert.Equal(t, 0, func() int { snap := s.Snapshot(); _, i := snap.Slide(id); return i }())
}

func TestStore_SnapshotIsDeepCopy(t *testing.T) {
	s, _ := filledStore(t, 1)
	snap := s.Snapshot()
	snap.Slides[0].Bullets[0] = "mutated"

	got, _ := s.Get(snap.Slides[0].ID)
	assert.Equal(t, "a", got.Bullets[0])
}

func TestStore_LoadDropsDuplicates(t *testing.T) {
	s := NewStore("deck-test")
	before := s.Generation()
	gen := s.Load(Deck{
		Title:  "Loaded",
		Slides: []Slide{sampleSlide(0), sampleSlide(0), sampleSlide(1)},
	})

	assert.Greater(t, gen, before)
	snap := s.Snapshot()
	assert.Equal(t, "Loaded", snap.Title)
	assert.Len(t, snap.Slides, 2)
}

func TestStore_Subscribe(t *testing.T) {
	s := NewStore("deck-test")
	events, cancel := s.Subscribe()
	defer cancel()

	gen := s.Reset("T", "")
	_, err := s.Append(gen, sampleSlide(0))
	require.NoError(t, err)
	s.PatchImage(gen, "slide-0", samplePrompt, "data:image/png;base64,AA==")

	want := []EventType{EventReset, EventSlideAdded, EventImageReady}
	for _, w := range want {
		ev := <-events
		assert.Equal(t, w, ev.Type)
		assert.Equal(t, "deck-test", ev.DeckID)
	}

	cancel()
	cancel()
	_, open := <-events
	assert.False(t, open)
}

func TestDataURIRoundTrip(t *testing.T) {
	uri := EncodeDataURI("image/png", []byte{0x89, 'P', 'N', 'G'})
	assert.True(t, IsDataURI(uri))

	mime, data, err := DecodeDataURI(uri)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data)

	_, _, err = DecodeDataURI("https://example.com/a.png")
	assert.ErrorIs(t, err, ErrNotDataURI)
}
