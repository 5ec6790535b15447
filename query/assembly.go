package query

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// DetailLevel controls how verbosely each context item is formatted.
type DetailLevel string

const (
	DetailConcise  DetailLevel = "concise"
	DetailFull     DetailLevel = "full"
	DetailVerbose  DetailLevel = "verbose"
)

// tokensPerWordFallback is the "rough 1.3 tokens/word" estimate used
// when tiktoken has no encoding for the configured model.
const tokensPerWordFallback = 1.3

var tiktokenEncoding *tiktoken.Tiktoken

func init() {
	// cl100k_base covers every OpenAI-compatible model this plane's
	// local engine is likely configured to emulate; if this lookup
	// itself fails (offline environments with no bundled ranks file),
	// countTokens silently falls back to the word-count heuristic.
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err == nil {
		tiktokenEncoding = enc
	}
}

// countTokens returns a real tiktoken count when available, falling
// back to the 1.3 tokens/word heuristic otherwise.
func countTokens(s string) int {
	if tiktokenEncoding != nil {
		return len(tiktokenEncoding.Encode(s, nil, nil))
	}
	words := len(strings.Fields(s))
	return int(float64(words) * tokensPerWordFallback)
}

// FormatHit renders one hit at the given detail level.
func FormatHit(h Hit, level DetailLevel) string {
	switch level {
	case DetailVerbose:
		return fmt.Sprintf("### [%s] %s\nscore: %.3f | success_rate: %.2f | verified: %v\n\n%s\n",
			h.Collection, h.ID, h.Score, h.SuccessRate, h.VerifiedSolution, h.Content)
	case DetailFull:
		return fmt.Sprintf("[%s] %s\n%s\n", h.Collection, h.ID, h.Content)
	default: // DetailConcise
		content := h.Content
		if len(content) > 280 {
			content = content[:280] + "..."
		}
		return content
	}
}

// AssembleContext formats hits at the given detail level, in the
// order given, truncating to tokenBudget. It returns the
// assembled context string, the ids actually included (in inclusion
// order), and the token count spent.
func AssembleContext(hits []Hit, level DetailLevel, tokenBudget int) (context string, includedIDs []string, tokenCount int) {
	var b strings.Builder
	for _, h := range hits {
		piece := FormatHit(h, level)
		pieceTokens := countTokens(piece)
		if tokenCount+pieceTokens > tokenBudget && tokenCount > 0 {
			break
		}
		b.WriteString(piece)
		b.WriteString("\n")
		tokenCount += pieceTokens
		includedIDs = append(includedIDs, h.ID)
	}
	return b.String(), includedIDs, tokenCount
}
