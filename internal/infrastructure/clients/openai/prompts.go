package openai

import (
	"fmt"
	"strings"

	"github.com/zatekoja/voiceshop/backend/internal/domain/providers"
)

const baseSystemPrompt = `You are the language layer of a voice shopping assistant. Utterances are speech transcripts and may contain filler words or recognition errors. Never invent products, prices or URLs.`

var taskPrompts = map[providers.NLUTask]string{
	providers.NLUTaskExtractParams: `Extract product search parameters from the utterance. "query" is the product itself without price, size or feature words. Prices are plain numbers in the shopper's currency. Use the conversation history only to resolve references such as "those" or "the same but".`,
	providers.NLUTaskExtractPreferences: `List durable shopping preferences the shopper expressed, such as materials, colors, sizes, styles, features or price limits. Give each a category and a priority from 1 (passing mention) to 10 (explicit, repeated requirement). Return an empty list when the utterance only describes a one-off search.`,
	providers.NLUTaskDetectRefinement: `Decide whether the utterance modifies the current search shown in the context rather than starting a new one. If it does, classify the change. Use "custom" only for modifications that fit no other type. For price changes give target_percentage when the shopper names one.`,
	providers.NLUTaskSelectTool: `Pick exactly one tool that fulfils the utterance. Use refine_search when the shopper reacts to results they were just shown.`,
}

func systemPrompt(task providers.NLUTask) string {
	if p, ok := taskPrompts[task]; ok {
		return baseSystemPrompt + "\n\n" + p
	}
	return baseSystemPrompt
}

func buildUserPrompt(req providers.NLURequest) string {
	var b strings.Builder
	if ctx := strings.TrimSpace(req.Context); ctx != "" {
		fmt.Fprintf(&b, "Context:\n%s\n\n", ctx)
	}
	fmt.Fprintf(&b, "Utterance: %s", strings.TrimSpace(req.Utterance))
	return b.String()
}

// stripCodeFence removes a Markdown code fence some models wrap JSON in
func stripCodeFence(text string) string {
	cleaned := strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(cleaned, "```json"):
		cleaned = strings.TrimPrefix(cleaned, "```json")
	case strings.HasPrefix(cleaned, "```"):
		cleaned = strings.TrimPrefix(cleaned, "```")
	default:
		return cleaned
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(cleaned), "```"))
}
