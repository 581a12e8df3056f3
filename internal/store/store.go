// Package store persists finalized and in-progress decks so they survive
// process restarts and Lambda container recycling.
//
// Two backends implement DeckStore: DynamoStore, a single-table DynamoDB
// layout where every record of a deck shares the partition key DECK#{id}
// (sort keys META and SLIDE#nnnn, with a TTL attribute), and SQLiteStore for
// local CLI and web use. OffloadingStore wraps either backend and moves
// inline data-URI images to S3 so deck records stay small.
package store

import (
	"context"
	"time"

	"github.com/fpang/ai-deck-builder/internal/deck"
)

// DeckTTL is how long an untouched deck record is kept in DynamoDB.
const DeckTTL = 30 * 24 * time.Hour

// DeckSummary is a list entry.
type DeckSummary struct {
	ID        string    `json:"id" dynamodbav:"id"`
	Title     string    `json:"title" dynamodbav:"title"`
	Theme     string    `json:"theme,omitempty" dynamodbav:"theme"`
	Slides    int       `json:"slides" dynamodbav:"slideCount"`
	UpdatedAt time.Time `json:"updatedAt" dynamodbav:"updatedAt"`
}

// DeckStore persists decks. Each method is safe for concurrent use.
//
// GetDeck returns (nil, nil) when the deck does not exist. PutDeck performs
// full replacement: slides absent from d are removed.
type DeckStore interface {
	PutDeck(ctx context.Context, d deck.Deck) error
	GetDeck(ctx context.Context, id string) (*deck.Deck, error)
	ListDecks(ctx context.Context) ([]DeckSummary, error)
	DeleteDeck(ctx context.Context, id string) error
}

func summarize(d deck.Deck) DeckSummary {
	return DeckSummary{
		ID:        d.ID,
		Title:     d.Title,
		Theme:     d.Theme,
		Slides:    len(d.Slides),
		UpdatedAt: d.UpdatedAt,
	}
}
