package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fpang/ai-deck-builder/internal/deck"
	"github.com/fpang/ai-deck-builder/internal/generr"
	"github.com/fpang/ai-deck-builder/internal/images"
	"github.com/fpang/ai-deck-builder/internal/metrics"
	"github.com/fpang/ai-deck-builder/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	metrics.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// fakeService answers outline and slide requests deterministically. The slide
// for an outline title fails as many times as failures lists for it.
type fakeService struct {
	mu        sync.Mutex
	outline   []deck.OutlineItem
	failures  map[string]int
	slideErr  error
	regen     func(deck.Slide, string) (deck.SlidePayload, error)
	calls     []string
	blockNext chan struct{}
}

func (f *fakeService) GenerateOutline(_ context.Context, topic, _ string) ([]deck.OutlineItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "outline:"+topic)
	return append([]deck.OutlineItem(nil), f.outline...), nil
}

func (f *fakeService) GenerateSlide(ctx context.Context, item deck.OutlineItem, _ string) (deck.SlidePayload, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "slide:"+item.Title)
	block := f.blockNext
	if f.failures[item.Title] > 0 {
		f.failures[item.Title]--
		err := f.slideErr
		f.mu.Unlock()
		return deck.SlidePayload{}, err
	}
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return deck.SlidePayload{}, ctx.Err()
		}
	}

	p := deck.SlidePayload{
		Layout:       deck.LayoutBullets,
		Title:        item.Title,
		Bullets:      []string{item.Description},
		SpeakerNotes: "Notes for " + item.Title,
	}
	if strings.Contains(item.Title, "Picture") {
		p.Layout = deck.LayoutImageText
		p.ImagePrompt = "diagram of " + item.Title
		p.Bullets = nil
		p.Description = item.Description
	}
	return p, nil
}

func (f *fakeService) RegenerateSlide(_ context.Context, current deck.Slide, instruction, _ string) (deck.SlidePayload, error) {
	if f.regen != nil {
		return f.regen(current, instruction)
	}
	p := current.SlidePayload
	p.Title = current.Title + " (" + instruction + ")"
	return p, nil
}

type fakeImages struct{}

func (fakeImages) GenerateImage(_ context.Context, prompt, _ string) ([]byte, string, error) {
	return []byte(prompt), "image/png", nil
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func testOptions() Options {
	n := 0
	var mu sync.Mutex
	return Options{
		Retry: retry.Policy{Retries: 2, InitialDelay: time.Millisecond, Sleep: noSleep},
		Sleep: noSleep,
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("slide-%02d", n)
		},
		Images: images.Options{
			Stagger: -1,
			Retry:   retry.Policy{Retries: 1, InitialDelay: time.Millisecond, Sleep: noSleep},
		},
	}
}

func binarySearchOutline() []deck.OutlineItem {
	return []deck.OutlineItem{
		{Title: "What is Binary Search", Description: "Finding items in sorted data"},
		{Title: "Picture of the Search Space", Description: "Halving the range each step"},
		{Title: "Complexity", Description: "O(log n) comparisons"},
		{Title: "Implementation", Description: "Loop with low and high bounds"},
		{Title: "Pitfalls", Description: "Off-by-one errors and overflow"},
		{Title: "Summary", Description: "Sorted input, logarithmic time"},
	}
}

func newBuilder(t *testing.T, svc ContentService, opts Options) *Builder {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, svc, fakeImages{}, deck.NewStore("deck-test"), opts)
}

func TestRun_TopicEndToEnd(t *testing.T) {
	svc := &fakeService{outline: binarySearchOutline()}
	b := newBuilder(t, svc, testOptions())

	require.NoError(t, b.Run(context.Background(), Request{Topic: "Intro to Binary Search"}))
	d := b.Finalize(context.Background(), 5*time.Second)

	assert.Equal(t, "Intro to Binary Search", d.Title)
	require.GreaterOrEqual(t, len(d.Slides), 5)
	require.LessOrEqual(t, len(d.Slides), 8)

	seen := map[string]bool{}
	for i, s := range d.Slides {
		assert.NotEmpty(t, s.ID)
		assert.False(t, seen[s.ID], "duplicate id %s", s.ID)
		seen[s.ID] = true
		assert.True(t, s.Layout.Valid(), "slide %d layout %q", i, s.Layout)
		assert.Equal(t, binarySearchOutline()[i].Title, s.Title, "slides follow outline order")
	}
	assert.True(t, deck.IsDataURI(d.Slides[1].ImageURL), "illustrated slide receives its image")

	st := b.Status()
	assert.Equal(t, StateComplete, st.State)
	assert.Equal(t, len(d.Slides), st.Completed)
	assert.Equal(t, 0, st.ImagesPending)
}

func TestRun_TrimsLongTopicOutline(t *testing.T) {
	var items []deck.OutlineItem
	for i := 0; i < 11; i++ {
		items = append(items, deck.OutlineItem{Title: fmt.Sprintf("Item %d", i), Description: "d"})
	}
	b := newBuilder(t, &fakeService{outline: items}, testOptions())

	require.NoError(t, b.Run(context.Background(), Request{Topic: "Many"}))
	assert.Equal(t, 8, b.Store().Len())
}

func TestRun_DocumentModeSkipsRemoteOutline(t *testing.T) {
	svc := &fakeService{}
	b := newBuilder(t, svc, testOptions())

	doc := "# Setup\nInstall the tool.\n\n# Usage\nRun it with a file.\n"
	require.NoError(t, b.Run(context.Background(), Request{Document: doc, Title: "Guide"}))

	d := b.Store().Snapshot()
	require.Len(t, d.Slides, 2)
	assert.Equal(t, "Setup", d.Slides[0].Title)
	assert.Equal(t, "Usage", d.Slides[1].Title)
	for _, c := range svc.calls {
		assert.False(t, strings.HasPrefix(c, "outline:"), "no remote outline call in document mode")
	}
}

func TestRun_CodeSectionBecomesCodeSlide(t *testing.T) {
	b := newBuilder(t, &fakeService{}, testOptions())

	doc := "# Hello\nExplanation text.\n```python\nprint('hi')\n```\n"
	require.NoError(t, b.Run(context.Background(), Request{Document: doc}))

	d := b.Store().Snapshot()
	require.Len(t, d.Slides, 1)
	s := d.Slides[0]
	assert.Equal(t, deck.LayoutCode, s.Layout)
	assert.Equal(t, "print('hi')", s.Code)
	assert.Equal(t, "python", s.Language)
}

func TestRun_EmptyInputs(t *testing.T) {
	b := newBuilder(t, &fakeService{}, testOptions())

	assert.ErrorIs(t, b.Run(context.Background(), Request{Topic: "   "}), ErrEmptyRequest)

	err := b.Run(context.Background(), Request{Document: "   \n"})
	require.Error(t, err)
	assert.True(t, generr.IsIngestion(err))
	assert.Equal(t, StateFailed, b.Status().State)
}

func TestRun_FailureKeepsSlidesAndResumes(t *testing.T) {
	svc := &fakeService{
		outline:  binarySearchOutline(),
		failures: map[string]int{"Implementation": 1},
		slideErr: errors.New("model returned garbage"),
	}
	b := newBuilder(t, svc, testOptions())

	err := b.Run(context.Background(), Request{Topic: "Intro to Binary Search"})
	require.Error(t, err)
	assert.True(t, generr.IsGeneration(err))

	st := b.Status()
	assert.Equal(t, StateFailed, st.State)
	assert.True(t, st.Resumable())
	assert.Equal(t, 3, st.Completed)
	assert.NotEmpty(t, st.Error)
	assert.Equal(t, 3, b.Store().Len(), "merged slides survive the failure")
	before := b.Store().Snapshot().Slides
	gen := b.Store().Generation()

	require.NoError(t, b.Resume(context.Background()))
	after := b.Store().Snapshot()
	assert.Len(t, after.Slides, 6)
	assert.Equal(t, gen, b.Store().Generation(), "resume keeps the generation")
	for i := range before {
		assert.Equal(t, before[i].ID, after.Slides[i].ID)
	}
	assert.Equal(t, "Implementation", after.Slides[3].Title)
	assert.ErrorIs(t, b.Resume(context.Background()), ErrNotResumable)
}

func TestRun_ExhaustedRateLimitIsGenerationFailure(t *testing.T) {
	svc := &fakeService{
		outline:  binarySearchOutline(),
		failures: map[string]int{"What is Binary Search": 10},
		slideErr: generr.Transient("slide", errors.New("429 RESOURCE_EXHAUSTED")),
	}
	b := newBuilder(t, svc, testOptions())

	err := b.Run(context.Background(), Request{Topic: "Intro to Binary Search"})
	require.Error(t, err)
	assert.True(t, generr.IsGeneration(err))
	assert.True(t, generr.IsTransient(err))

	slideCalls := 0
	for _, c := range svc.calls {
		if c == "slide:What is Binary Search" {
			slideCalls++
		}
	}
	assert.Equal(t, 3, slideCalls, "first attempt plus two retries")
}

func TestStart_NewRunSupersedesOld(t *testing.T) {
	block := make(chan struct{})
	svc := &fakeService{outline: binarySearchOutline(), blockNext: block}
	b := newBuilder(t, svc, testOptions())

	firstGen, err := b.Start(Request{Topic: "First"})
	require.NoError(t, err)

	svc.mu.Lock()
	svc.blockNext = nil
	svc.mu.Unlock()
	secondGen, err := b.Start(Request{Topic: "Second"})
	require.NoError(t, err)
	assert.Greater(t, secondGen, firstGen)
	close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Wait(ctx))

	d := b.Store().Snapshot()
	assert.Equal(t, "Second", d.Title)
	assert.Len(t, d.Slides, 6)
	assert.Equal(t, StateComplete, b.Status().State)
}

func TestRegenerate_Success(t *testing.T) {
	b := newBuilder(t, &fakeService{outline: binarySearchOutline()}, testOptions())
	require.NoError(t, b.Run(context.Background(), Request{Topic: "Intro to Binary Search"}))
	target := b.Store().Snapshot().Slides[2]

	got, err := b.Regenerate(context.Background(), target.ID, "shorter")
	require.NoError(t, err)
	assert.Equal(t, target.ID, got.ID)
	assert.Equal(t, "Complexity (shorter)", got.Title)

	d := b.Store().Snapshot()
	assert.Equal(t, got, d.Slides[2])
	assert.Len(t, d.Slides, 6)
}

func TestRegenerate_FailureLeavesSlideUntouched(t *testing.T) {
	svc := &fakeService{outline: binarySearchOutline()}
	b := newBuilder(t, svc, testOptions())
	require.NoError(t, b.Run(context.Background(), Request{Topic: "Intro to Binary Search"}))
	b.Finalize(context.Background(), 5*time.Second)
	before := b.Store().Snapshot()

	svc.regen = func(deck.Slide, string) (deck.SlidePayload, error) {
		return deck.SlidePayload{}, generr.Generationf("regenerate", "payload failed validation")
	}
	_, err := b.Regenerate(context.Background(), before.Slides[1].ID, "make it a quote")
	require.Error(t, err)
	assert.True(t, generr.IsGeneration(err))

	after := b.Store().Snapshot()
	assert.Equal(t, before.Slides, after.Slides)
}

func TestRegenerate_UnknownSlide(t *testing.T) {
	b := newBuilder(t, &fakeService{}, testOptions())
	_, err := b.Regenerate(context.Background(), "missing", "anything")
	assert.ErrorIs(t, err, deck.ErrSlideNotFound)
}

func TestRegenerate_NewImagePromptSchedulesImage(t *testing.T) {
	svc := &fakeService{outline: binarySearchOutline()}
	b := newBuilder(t, svc, testOptions())
	require.NoError(t, b.Run(context.Background(), Request{Topic: "Intro to Binary Search"}))
	target := b.Store().Snapshot().Slides[0]

	svc.regen = func(cur deck.Slide, _ string) (deck.SlidePayload, error) {
		p := cur.SlidePayload
		p.Layout = deck.LayoutImageText
		p.ImagePrompt = "a sorted bookshelf"
		p.Description = "Finding a book"
		return p, nil
	}
	_, err := b.Regenerate(context.Background(), target.ID, "add a picture")
	require.NoError(t, err)

	d := b.Finalize(context.Background(), 5*time.Second)
	got, _ := d.Slide(target.ID)
	assert.Equal(t, deck.LayoutImageText, got.Layout)
	assert.Equal(t, deck.EncodeDataURI("image/png", []byte("a sorted bookshelf")), got.ImageURL)
}

// gatedImages holds every image call until gate is closed, then fails the
// prompts listed in fail.
type gatedImages struct {
	gate chan struct{}
	fail map[string]bool
}

func (g gatedImages) GenerateImage(ctx context.Context, prompt, _ string) ([]byte, string, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
	if g.fail[prompt] {
		return nil, "", errors.New("image refused")
	}
	return []byte(prompt), "image/png", nil
}

func TestRegenerate_InFlightImageDoesNotLandOnReplacement(t *testing.T) {
	tests := []struct {
		name    string
		payload deck.SlidePayload
	}{
		{"now bullets", deck.SlidePayload{Layout: deck.LayoutBullets, Title: "Halving", Bullets: []string{"Split the range"}, SpeakerNotes: "n"}},
		{"new prompt that fails", deck.SlidePayload{Layout: deck.LayoutImageText, Title: "Halving", ImagePrompt: "a refused prompt", Description: "d", SpeakerNotes: "n"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{outline: binarySearchOutline()}
			gate := make(chan struct{})
			imgs := gatedImages{gate: gate, fail: map[string]bool{"a refused prompt": true}}
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			b := New(ctx, svc, imgs, deck.NewStore("deck-test"), testOptions())

			require.NoError(t, b.Run(context.Background(), Request{Topic: "Intro to Binary Search"}))
			target := b.Store().Snapshot().Slides[1]
			require.True(t, target.NeedsImage())

			svc.regen = func(deck.Slide, string) (deck.SlidePayload, error) { return tt.payload, nil }
			_, err := b.Regenerate(context.Background(), target.ID, "rework")
			require.NoError(t, err)

			close(gate)
			d := b.Finalize(context.Background(), 5*time.Second)
			got, _ := d.Slide(target.ID)
			assert.Equal(t, tt.payload.Layout, got.Layout)
			assert.Empty(t, got.ImageURL)
		})
	}
}

func TestFinalize_DuringRunningStart(t *testing.T) {
	var doc strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&doc, "## Picture %d\n\nA scene worth showing.\n\n", i)
	}
	b := newBuilder(t, &fakeService{}, testOptions())

	_, err := b.Start(Request{Document: doc.String(), Title: "Gallery"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				b.Finalize(context.Background(), 50*time.Millisecond)
			}
		}()
	}

	d := b.Finalize(context.Background(), 10*time.Second)
	wg.Wait()

	require.Len(t, d.Slides, 40)
	for _, sl := range d.Slides {
		assert.NotEmpty(t, sl.ImageURL, sl.Title)
	}
	assert.Equal(t, StateComplete, b.Status().State)
}

func TestLoad_RestoresCompleteState(t *testing.T) {
	b := newBuilder(t, &fakeService{}, testOptions())
	b.Load(deck.Deck{
		ID:    "deck-test",
		Title: "Saved",
		Theme: "dark",
		Slides: []deck.Slide{
			{ID: "a", SlidePayload: deck.SlidePayload{Layout: deck.LayoutTitle, Title: "Saved"}},
		},
	})

	st := b.Status()
	assert.Equal(t, StateComplete, st.State)
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, "dark", b.Request().Theme)

	got, err := b.Regenerate(context.Background(), "a", "bolder")
	require.NoError(t, err)
	assert.Equal(t, "Saved (bolder)", got.Title)
}

func TestStatusPublishedToSubscribers(t *testing.T) {
	b := newBuilder(t, &fakeService{outline: binarySearchOutline()}, testOptions())
	events, cancel := b.Store().Subscribe()
	defer cancel()

	require.NoError(t, b.Run(context.Background(), Request{Topic: "Intro to Binary Search"}))

	var last Status
	added := 0
	for {
		select {
		case ev := <-events:
			switch ev.Type {
			case deck.EventStatus:
				last = ev.Status.(Status)
			case deck.EventSlideAdded:
				added++
			}
			continue
		default:
		}
		break
	}
	assert.Equal(t, 6, added)
	assert.Equal(t, StateComplete, last.State)
}
