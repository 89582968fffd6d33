package tools

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

const (
	// DefaultMaxResultChars bounds tool output handed back to the model.
	DefaultMaxResultChars = 30000

	headRatio = 0.85
	gapMarker = "\n...\n"
)

var (
	// base64Pattern matches inline data URIs: data:...;base64,...
	base64Pattern = regexp.MustCompile(`data:[a-zA-Z0-9+/=\-]+;base64,[A-Za-z0-9+/=]{64,}`)

	// hexBlobPattern matches contiguous hex strings of 256 characters or more.
	hexBlobPattern = regexp.MustCompile(`[0-9a-fA-F]{256,}`)
)

// Truncate shortens content to at most maxChars characters plus the gap
// marker. Processing order:
//  1. Strip inline base64 data URIs
//  2. Strip large hex blobs
//  3. Keep the head and the tail, head weighted, joined by a gap marker
//
// Content that already fits is returned unchanged. maxChars <= 0 uses
// DefaultMaxResultChars.
func Truncate(content string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxResultChars
	}
	if utf8.RuneCountInString(content) <= maxChars {
		return content
	}

	content = stripBase64Blocks(content)
	if utf8.RuneCountInString(content) <= maxChars {
		return content
	}

	content = stripHexBlobs(content)
	runes := []rune(content)
	if len(runes) <= maxChars {
		return content
	}

	headLen := max(int(float64(maxChars)*headRatio), 1)
	tailLen := max(maxChars-headLen, 1)
	return string(runes[:headLen]) + gapMarker + string(runes[len(runes)-tailLen:])
}

func stripBase64Blocks(s string) string {
	return base64Pattern.ReplaceAllStringFunc(s, func(match string) string {
		return fmt.Sprintf("[base64 data removed, %d bytes]", len(match))
	})
}

func stripHexBlobs(s string) string {
	return hexBlobPattern.ReplaceAllStringFunc(s, func(match string) string {
		return fmt.Sprintf("[hex data removed, %d bytes]", len(match))
	})
}
