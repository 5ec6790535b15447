package query

import (
	"context"
	"strings"

	"github.com/itsneelabh/hybrid-coordinator/llmengine"
)

// ExpansionMode selects how additional query paraphrases are generated.
type ExpansionMode string

const (
	ExpansionNone     ExpansionMode = "none"
	ExpansionKeyword  ExpansionMode = "keyword"
	ExpansionLLM      ExpansionMode = "llm"
)

// domainSynonyms is a small keyword-expansion map covering the
// infrastructure/NixOS-adjacent vocabulary this coordination plane's
// retrieval collections are populated with. It is illustrative rather
// than exhaustive; the exact synonym set is refinable.
var domainSynonyms = map[string][]string{
	"error":      {"failure", "issue", "problem"},
	"fix":        {"resolve", "solve", "repair"},
	"config":     {"configuration", "settings"},
	"keyring":    {"credential store", "secret storage"},
	"restart":    {"reboot", "reload"},
	"permission": {"access", "authorization"},
}

// Expand returns the original query first, followed by up to 2-3
// paraphrases, depending on mode. ExpansionNone returns just the
// original.
func Expand(ctx context.Context, llm *llmengine.Client, original string, mode ExpansionMode) []string {
	queries := []string{original}
	switch mode {
	case ExpansionKeyword:
		queries = append(queries, keywordExpansions(original)...)
	case ExpansionLLM:
		if llm != nil {
			if paraphrases, err := llmExpansions(ctx, llm, original); err == nil {
				queries = append(queries, paraphrases...)
			}
		}
	}
	return dedupeStrings(queries)
}

func keywordExpansions(query string) []string {
	lower := strings.ToLower(query)
	var variants []string
	for term, synonyms := range domainSynonyms {
		if !strings.Contains(lower, term) {
			continue
		}
		for _, syn := range synonyms {
			variants = append(variants, strings.Replace(lower, term, syn, 1))
			if len(variants) >= 3 {
				return variants
			}
		}
	}
	return variants
}

func llmExpansions(ctx context.Context, llm *llmengine.Client, query string) ([]string, error) {
	resp, err := llm.Chat(ctx, llmengine.ChatRequest{
		Messages: []llmengine.ChatMessage{
			{Role: "system", Content: "Generate 2-3 alternative phrasings of the user's query, one per line, no numbering or commentary."},
			{Role: "user", Content: query},
		},
		Temperature: 0.3,
		MaxTokens:   200,
	})
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(resp.Content, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
		if len(out) >= 3 {
			break
		}
	}
	return out, nil
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
