package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doorcache/internal/common"
)

func TestPatternMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		glob string
		key  string
		want bool
	}{
		// Literal
		{"a_1", "a_1", true},
		{"a_1", "a_10", false},

		// Prefix
		{"a_*", "a_1", true},
		{"a_*", "a_", true},
		{"a_*", "b_1", false},
		{"controller_425036451_*", "controller_425036451_cards_list", true},
		{"controller_425036451_*", "controller_4250364510_cards_list", false},

		// Suffix
		{"*_status", "controller_1_status", true},
		{"*_status", "controller_1_status_old", false},

		// Infix and multiple stars
		{"controller_*_card_778899", "controller_1_card_778899", true},
		{"controller_*_card_778899", "controller_1_card_7788990", false},
		{"controller_*_card_*", "controller_1_card_2", true},
		{"controller_*_card_*", "controller_1_cards_list", false},
		{"a*b*c", "abc", true},
		{"a*b*c", "aXbYc", true},
		{"a*b*c", "acb", false},
		{"ab*ba", "aba", false},

		// Wildcard only
		{"*", "anything", true},
		{"**", "", true},

		// Other glob metacharacters are literal
		{"a?", "ab", false},
		{"a?", "a?", true},
		{"[ab]*", "a1", false},

		// Separators folded like keys
		{"controller/1_*", "controller_1_status", true},
	}

	for _, tt := range tests {
		t.Run(tt.glob+"~"+tt.key, func(t *testing.T) {
			t.Parallel()
			p, err := CompilePattern(tt.glob)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Match(tt.key))
		})
	}
}

func TestCompilePatternEmpty(t *testing.T) {
	t.Parallel()
	_, err := CompilePattern("")
	assert.ErrorIs(t, err, common.ErrInvalidKey)
}
