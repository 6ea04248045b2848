package checkpoint

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDescription(t *testing.T) {
	assert.Equal(t, "[sess1] idx:3 Fixed the bug in parser", EncodeDescription("sess1", 3, "Fixed the bug in parser"))
	assert.Equal(t, "[s] idx:0 ", EncodeDescription("s", 0, ""))
}

func TestDecodeDescription(t *testing.T) {
	tests := []struct {
		name        string
		description string
		want        Metadata
	}{
		{
			name:        "encoded",
			description: "[sess1] idx:3 Fixed the bug in parser",
			want:        Metadata{SessionID: "sess1", HasSession: true, MessageIndex: 3, HasIndex: true, Label: "Fixed the bug in parser"},
		},
		{
			name:        "no brackets",
			description: "no brackets here",
			want:        Metadata{},
		},
		{
			name:        "structured payload dropped",
			description: `[s] idx:12 Update config {"tool":"edit"}`,
			want:        Metadata{SessionID: "s", HasSession: true, MessageIndex: 12, HasIndex: true, Label: "Update config"},
		},
		{
			name:        "no index keeps description",
			description: "[s] forked branch",
			want:        Metadata{SessionID: "s", HasSession: true, Label: "[s] forked branch"},
		},
		{
			name:        "text before bracket",
			description: "auto [abc] idx:2 msg",
			want:        Metadata{SessionID: "abc", HasSession: true, MessageIndex: 2, HasIndex: true, Label: "msg"},
		},
		{
			name:        "no opening bracket",
			description: "abc] idx:1 msg",
			want:        Metadata{SessionID: "abc", HasSession: true, MessageIndex: 1, HasIndex: true, Label: "msg"},
		},
		{
			name:        "index overflow",
			description: "[s] idx:99999999999999999999999 msg",
			want:        Metadata{SessionID: "s", HasSession: true, Label: "[s] idx:99999999999999999999999 msg"},
		},
		{
			name:        "marker without digits",
			description: "[s] idx:x msg",
			want:        Metadata{SessionID: "s", HasSession: true, Label: "[s] idx:x msg"},
		},
		{
			name:        "empty",
			description: "",
			want:        Metadata{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeDescription(tt.description))
		})
	}
}

func TestDescriptionRoundTrip(t *testing.T) {
	sessions := []string{"sess1", "a1b2-c3d4", "", "日本語", "with space"}
	messages := []string{"", "hello", "multi\nline", "emoji 🎉 ok", strings.Repeat("x", 250)}

	for _, sid := range sessions {
		for idx, msg := range messages {
			md := DecodeDescription(EncodeDescription(sid, idx*7, msg))
			require.True(t, md.HasSession)
			require.True(t, md.HasIndex)
			assert.Equal(t, sid, md.SessionID)
			assert.Equal(t, idx*7, md.MessageIndex)
		}
	}
}

func TestDescriptionTruncation(t *testing.T) {
	message := strings.Repeat("a", 150)
	md := DecodeDescription(EncodeDescription("s", 1, message))
	assert.Equal(t, strings.Repeat("a", 100)+"...", md.Label)

	t.Run("counts characters not bytes", func(t *testing.T) {
		message := strings.Repeat("é", 150)
		encoded := EncodeDescription("s", 1, message)
		require.True(t, utf8.ValidString(encoded))

		md := DecodeDescription(encoded)
		assert.Equal(t, strings.Repeat("é", 100)+"...", md.Label)
	})

	t.Run("exactly at the cap", func(t *testing.T) {
		message := strings.Repeat("b", 100)
		assert.Equal(t, message, DecodeDescription(EncodeDescription("s", 1, message)).Label)
	})
}
