package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseItemID(t *testing.T) {
	id, err := ParseItemID("42")
	require.NoError(t, err)
	assert.Equal(t, ItemID(42), id)
	assert.Equal(t, "42", id.String())

	_, err = ParseItemID("abc")
	assert.Error(t, err)

	_, err = ParseItemID("-1")
	assert.Error(t, err)
}

func TestMediaKind(t *testing.T) {
	tests := []struct {
		kind     MediaKind
		hasMedia bool
		valid    bool
	}{
		{KindText, false, true},
		{KindNone, false, true},
		{KindVideo, true, true},
		{KindPhoto, true, true},
		{KindDocument, true, true},
		{KindAudio, true, true},
		{KindVoice, true, true},
		{MediaKind("sticker"), false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.hasMedia, tt.kind.HasMedia())
			assert.Equal(t, tt.valid, tt.kind.IsValid())
		})
	}
}

func TestHash_IsValid(t *testing.T) {
	assert.True(t, Hash("").IsZero())
	assert.False(t, Hash("abc").IsValid())
	assert.True(t, Hash("2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824").IsValid())
}
