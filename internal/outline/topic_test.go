package outline

import (
	"fmt"
	"testing"

	"github.com/fpang/ai-deck-builder/internal/deck"
	"github.com/fpang/ai-deck-builder/internal/generr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func items(n int) []deck.OutlineItem {
	out := make([]deck.OutlineItem, n)
	for i := range out {
		out[i] = deck.OutlineItem{Title: fmt.Sprintf("Item %d", i), Description: "d"}
	}
	return out
}

func TestClampTopic(t *testing.T) {
	got, err := ClampTopic("x", items(11))
	require.NoError(t, err)
	assert.Len(t, got, MaxTopicItems)
	assert.Equal(t, "Item 7", got[7].Title)

	got, err = ClampTopic("x", items(3))
	require.NoError(t, err)
	assert.Len(t, got, 3)

	blank := append(items(1), deck.OutlineItem{Title: "   ", Description: "d"})
	got, err = ClampTopic("x", blank)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	undescribed := append(items(2),
		deck.OutlineItem{Title: "Empty"},
		deck.OutlineItem{Title: "Spaces", Description: " \t\n"},
	)
	got, err = ClampTopic("x", undescribed)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"Item 0", "Item 1"}, []string{got[0].Title, got[1].Title})

	_, err = ClampTopic("x", []deck.OutlineItem{{Title: "Only", Description: "  "}})
	require.Error(t, err)
	assert.True(t, generr.IsGeneration(err))

	_, err = ClampTopic("x", []deck.OutlineItem{{Title: ""}})
	require.Error(t, err)
	assert.True(t, generr.IsGeneration(err))
}
