package llm

import (
	"context"
	"strconv"
	"strings"

	"github.com/signalworks/intelgraph/internal/core/domain"
)

const (
	promptKeyAnalyze       = "prompt_analyze"
	promptKeyNormalize     = "prompt_normalize_entities"
	promptKeyRelationships = "prompt_extract_relationships"
	promptKeyClassify      = "prompt_classify_parent"

	promptTypePlaceholder  = "{{SOURCE_TYPE}}"
	promptCountPlaceholder = "{{ITEM_COUNT}}"
)

const defaultAnalyzePrompt = `You are an intelligence analyst scoring harvested {{SOURCE_TYPE}} items. Return STRICT JSON ONLY.
Output must be a single JSON object: {"results": [{"id": string, "analysis": {...}}]} with one result per submitted id ({{ITEM_COUNT}} total).
Use double quotes. No trailing commas. No markdown. No extra keys.

Each "analysis" object must include:
- value_score: integer 0-10, the strategic intelligence value of the item
  - 0-3 = noise, marketing, routine chatter
  - 4-6 = notable signal worth tracking
  - 7-10 = significant development, breakthrough or major market move
- ai_summary: string, ONE factual sentence, <= 240 chars, no meta-language
- ai_keywords: array of short keyword strings (3-8 entries)
- candidate_companies: array of company names explicitly mentioned
- candidate_technologies: array of technologies/methods explicitly mentioned
- candidate_persons: array of notable people explicitly mentioned
- candidate_products: array of products explicitly mentioned

Only list names that literally appear in the item text. Empty arrays are fine.

Items:`

const defaultNormalizePrompt = `You normalize entity name variants. Return STRICT JSON ONLY.
Given candidate {{SOURCE_TYPE}} names, group variants that refer to the same real-world entity.
Output: {"normalized_groups": [{"primary_name": string, "aliases": [string]}]}.
Pick the most official full form as primary_name. Every input name must appear in exactly one group, either as primary_name or as an alias. Do not invent names.

Candidates:`

const defaultRelationshipsPrompt = `You extract relationships between known entities from intelligence text. Return STRICT JSON ONLY.
Only relate entities from the provided list, referenced by their ids.
Output: {"extracted_relationships": [{"source_id": string, "target_id": string, "type": string, "strength": number 0..1, "description": string}]}.
type is a short snake_case verb phrase (e.g. "partners_with", "acquires", "competes_with", "develops", "invests_in").
strength reflects how explicit and strong the stated relationship is. Omit relationships the text does not state.

Entities and text:`

const defaultClassifyPrompt = `You classify a technology into a taxonomy. Return STRICT JSON ONLY.
Given an uncategorized technology and a list of candidate parent categories, pick the single best-fit parent.
Output: {"parent_id": string}, where parent_id is one of the candidate ids, or "" if none fits.

Input:`

// PromptStore allows prompt templates to be overridden from the settings
// table; defaults are used when no override exists.
type PromptStore interface {
	GetSetting(ctx context.Context, key string, target interface{}) error
}

func (c *openaiClient) loadPrompt(ctx context.Context, key, fallback string) string {
	prompt := ""
	if c.promptStore != nil {
		if err := c.promptStore.GetSetting(ctx, key, &prompt); err != nil {
			c.logger.Debug().Err(err).Str("key", key).Msg("could not load prompt override")
		}
	}

	if strings.TrimSpace(prompt) == "" {
		return fallback
	}

	return prompt
}

func applyPromptTokens(template string, sourceType string, count int) string {
	out := strings.ReplaceAll(template, promptTypePlaceholder, sourceType)

	return strings.ReplaceAll(out, promptCountPlaceholder, strconv.Itoa(count))
}

func taskTypeLabel(t domain.TaskType) string {
	switch t {
	case domain.TaskTypeNews:
		return "news article"
	case domain.TaskTypePaper:
		return "research paper"
	case domain.TaskTypePatent:
		return "patent filing"
	case domain.TaskTypeRepo:
		return "open-source repository"
	case domain.TaskTypeJob:
		return "job posting"
	default:
		return string(t)
	}
}
