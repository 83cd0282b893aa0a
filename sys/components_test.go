package sys

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateCenter(t *testing.T) {
	assert.Equal(t, "short", TruncateCenter("short", 100))

	got := TruncateCenter(strings.Repeat("x", 120), 100)
	assert.LessOrEqual(t, utf8.RuneCountInString(got), 100)
	assert.Contains(t, got, "...")

	assert.Equal(t, "ab", TruncateCenter("abcdef", 2))
	assert.Equal(t, "日本語", TruncateCenter("日本語のタイトル", 3))
}

func TestTruncateCenter_MultibyteRunes(t *testing.T) {
	title := strings.Repeat("曲", 120)
	got := TruncateCenter(title, 100)

	assert.True(t, utf8.ValidString(got), "the cut lands on a rune boundary, never inside one")
	assert.LessOrEqual(t, utf8.RuneCountInString(got), 100)
	assert.True(t, strings.HasPrefix(got, "曲"))
	assert.True(t, strings.HasSuffix(got, "曲"))
}

func TestTruncateWithPreserve(t *testing.T) {
	title := strings.Repeat("あ", 150)
	got := TruncateWithPreserve(title, 100, "🕘 ", " · アーティスト")

	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, utf8.RuneCountInString(got), 100, "the affixes count against the limit")
	assert.True(t, strings.HasPrefix(got, "🕘 "))
	assert.True(t, strings.HasSuffix(got, " · アーティスト"), "the artist survives the cut whole")
}

func TestTruncateWithPreserve_ShortPassesThrough(t *testing.T) {
	assert.Equal(t, "🕘 Title · Artist", TruncateWithPreserve("Title", 100, "🕘 ", " · Artist"))
}

func TestTruncateWithPreserve_OversizedAffixes(t *testing.T) {
	got := TruncateWithPreserve("middle", 100, strings.Repeat("p", 60), strings.Repeat("s", 60))

	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, utf8.RuneCountInString(got), 100)
}
