package outline

import (
	"strings"

	"github.com/fpang/ai-deck-builder/internal/deck"
	"github.com/fpang/ai-deck-builder/internal/generr"
	"github.com/rs/zerolog/log"
)

const (
	// MinTopicItems is the smallest outline a topic run asks for.
	MinTopicItems = 5
	// MaxTopicItems caps a topic outline; extra items are dropped.
	MaxTopicItems = 8
)

// ClampTopic drops items with a blank title or description and trims a topic outline to
// MaxTopicItems. An outline with no usable item is a generation failure; a
// short one is accepted with a warning.
func ClampTopic(topic string, items []deck.OutlineItem) ([]deck.OutlineItem, error) {
	out := make([]deck.OutlineItem, 0, len(items))
	for _, it := range items {
		it.Title = strings.TrimSpace(it.Title)
		if it.Title == "" || strings.TrimSpace(it.Description) == "" {
			continue
		}
		out = append(out, it)
	}

	if len(out) == 0 {
		return nil, generr.Generationf("outline", "model returned no usable outline items for %q", topic)
	}
	if len(out) > MaxTopicItems {
		log.Debug().Int("returned", len(out)).Int("kept", MaxTopicItems).Msg("Trimming topic outline")
		out = out[:MaxTopicItems]
	}
	if len(out) < MinTopicItems {
		log.Warn().Str("topic", topic).Int("items", len(out)).Msg("Topic outline shorter than requested")
	}
	return out, nil
}
