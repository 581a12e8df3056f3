package store

import (
	"context"
	"sync"

	"github.com/fpang/ai-deck-builder/internal/deck"
)

// MemoryStore keeps decks in process memory. It backs the "memory" store
// kind and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	decks map[string]deck.Deck
}

var _ DeckStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{decks: make(map[string]deck.Deck)}
}

func (m *MemoryStore) PutDeck(_ context.Context, d deck.Deck) error {
	d.Slides = append([]deck.Slide(nil), d.Slides...)
	m.mu.Lock()
	m.decks[d.ID] = d
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetDeck(_ context.Context, id string) (*deck.Deck, error) {
	m.mu.RLock()
	d, ok := m.decks[id]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	d.Slides = append([]deck.Slide{}, d.Slides...)
	return &d, nil
}

func (m *MemoryStore) ListDecks(_ context.Context) ([]DeckSummary, error) {
	m.mu.RLock()
	out := make([]DeckSummary, 0, len(m.decks))
	for _, d := range m.decks {
		out = append(out, summarize(d))
	}
	m.mu.RUnlock()
	sortSummaries(out)
	return out, nil
}

func (m *MemoryStore) DeleteDeck(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.decks, id)
	m.mu.Unlock()
	return nil
}
