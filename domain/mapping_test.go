package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatCopyComment(t *testing.T) {
	assert.Equal(t, "Copy_45817113_L1", FormatCopyComment("45817113", 0.01))
	assert.Equal(t, "Copy_45817113_L250", FormatCopyComment("45817113", 2.50))
	assert.Equal(t, "Copy_abc-9_L10", FormatCopyComment("abc-9", 0.10))
}

func TestParseCopyComment(t *testing.T) {
	id, ok := ParseCopyComment("Copy_45817113_L250")
	require.True(t, ok)
	assert.Equal(t, "45817113", id)

	id, ok = ParseCopyComment("Copy_abc-9_L10")
	require.True(t, ok)
	assert.Equal(t, "abc-9", id)

	for _, comment := range []string{"", "manual entry", "Copy_45817113", "copy_45817113_L1", "Copy_45817113_Lx"} {
		_, ok := ParseCopyComment(comment)
		assert.False(t, ok, "comment %q should not parse", comment)
	}
}

func TestParseCopyComment_RoundTrip(t *testing.T) {
	comment := FormatCopyComment("45817113", 2.50)
	id, ok := ParseCopyComment(comment)
	require.True(t, ok)
	assert.Equal(t, "45817113", id)
}

func TestMappingKeyAndLiveness(t *testing.T) {
	mapping := &PositionMapping{
		SourceAccountID:  "src_1",
		SourcePositionID: "45817113",
		DestAccountID:    "dst_1",
	}
	assert.Equal(t, "src_1::45817113::dst_1", mapping.Key())
	assert.True(t, mapping.IsLive())

	closedAt := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	mapping.ClosedAt = &closedAt
	assert.False(t, mapping.IsLive())
}
