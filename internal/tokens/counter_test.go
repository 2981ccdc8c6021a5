package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stackconsulting/orchestra/internal/envelope"
)

func TestCountString(t *testing.T) {
	c := NewCounter()

	assert.Equal(t, 0, c.CountString(""))
	assert.Equal(t, 1, c.CountString("hi"))
	assert.Equal(t, 25, c.CountString(strings.Repeat("a", 100)))
}

func TestCountStringUnicode(t *testing.T) {
	c := NewCounter()

	// Rune count, not byte count.
	assert.Equal(t, 1, c.CountString("日本語辞書"))
	assert.Equal(t, 2, c.CountString("日本語辞書日本語辞"))
}

func TestCountMap(t *testing.T) {
	c := NewCounter()

	assert.Equal(t, 0, c.CountMap(nil))
	m := map[string]string{
		strings.Repeat("k", 8): strings.Repeat("v", 16),
	}
	assert.Equal(t, 6, c.CountMap(m))
}

func TestLayerCounts(t *testing.T) {
	c := NewCounter()
	env := &envelope.Envelope{
		User: envelope.UserLayer{
			UserID:         "alice",
			HistorySummary: strings.Repeat("session notes ", 20),
		},
		Intent: envelope.IntentLayer{
			Primary:         envelope.IntentTroubleshooting,
			SuccessCriteria: "root cause identified and fix validated",
		},
		Rules: envelope.RulesLayer{
			HardWalls: []envelope.HardRule{
				{ID: "no-live-exec", Kind: envelope.HardForbidAction, Actions: []string{"execute_live_code"}},
			},
		},
	}

	counts := c.LayerCounts(env)
	assert.Len(t, counts, 6)
	assert.Greater(t, counts[envelope.LayerUser], 0)
	assert.Greater(t, counts[envelope.LayerIntent], 0)
	assert.Greater(t, counts[envelope.LayerRules], 0)
	assert.Equal(t, 0, counts[envelope.LayerDomain])

	total := 0
	for _, n := range counts {
		total += n
	}
	assert.Equal(t, total, c.CountEnvelope(env))
}
