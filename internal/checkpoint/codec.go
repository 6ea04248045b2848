// internal/checkpoint/codec.go
package checkpoint

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// maxLabelRunes caps the free-text part of a description
const maxLabelRunes = 100

const indexMarker = "idx:"

// Metadata is what DecodeDescription recovers from a store description
type Metadata struct {
	SessionID    string
	HasSession   bool
	MessageIndex int
	HasIndex     bool
	Label        string
}

// EncodeDescription builds "[<session>] idx:<n> <message>" with the message truncated
func EncodeDescription(sessionID string, messageIndex int, message string) string {
	return fmt.Sprintf("[%s] %s%d %s", sessionID, indexMarker, messageIndex, truncateLabel(message))
}

// DecodeDescription recovers session id, message index and label. Descriptions
// without a closing bracket yield an empty Metadata.
func DecodeDescription(description string) Metadata {
	end := strings.IndexByte(description, ']')
	if end < 0 {
		return Metadata{}
	}

	start := strings.LastIndexByte(description[:end], '[')
	md := Metadata{
		SessionID:  description[start+1 : end],
		HasSession: true,
	}

	rest := description[end+1:]
	if pos := strings.Index(rest, indexMarker); pos >= 0 {
		digits := leadingDigits(rest[pos+len(indexMarker):])
		if n, err := strconv.Atoi(digits); err == nil {
			md.MessageIndex = n
			md.HasIndex = true
		}
	}

	md.Label = cleanLabel(description, md.MessageIndex)
	return md
}

func leadingDigits(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i]
}

// cleanLabel strips the "] idx:<n>" prefix and any trailing structured payload
func cleanLabel(description string, messageIndex int) string {
	prefix := "] " + indexMarker + strconv.Itoa(messageIndex)
	pos := strings.Index(description, prefix)
	if pos < 0 {
		return description
	}

	label := strings.TrimLeft(description[pos+len(prefix):], " \t\r\n")
	if brace := strings.IndexByte(label, '{'); brace >= 0 {
		label = label[:brace]
	}
	return truncateLabel(strings.TrimSpace(label))
}

func truncateLabel(s string) string {
	if utf8.RuneCountInString(s) <= maxLabelRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLabelRunes]) + "..."
}
