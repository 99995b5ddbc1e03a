// Package llm wraps the large-language-model service behind the narrow
// request/response contracts the pipeline depends on: batched task analysis,
// entity normalization, relationship extraction, parent classification and
// batched embeddings.
package llm

import (
	"context"
	"errors"

	"github.com/signalworks/intelgraph/internal/core/domain"
)

// AnalysisInput is one task submitted to the batched analysis call.
type AnalysisInput struct {
	ID   string
	Text string
}

// NormalizedGroup is one cluster returned by entity normalization: a primary
// name plus the free-text variants the model folded into it.
type NormalizedGroup struct {
	PrimaryName string   `json:"primary_name"`
	Aliases     []string `json:"aliases"`
}

// EntityRef names an entity for prompts that operate over known entities.
type EntityRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ExtractedRelationship is one pairwise semantic relationship returned by
// the extraction call. Strength is 0..1.
type ExtractedRelationship struct {
	SourceID    string  `json:"source_id"`
	TargetID    string  `json:"target_id"`
	Type        string  `json:"type"`
	Strength    float32 `json:"strength"`
	Description string  `json:"description"`
}

// ParentCandidate is an already-categorized entity offered to the hierarchy
// classifier as a possible parent.
type ParentCandidate struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Summary string `json:"summary"`
}

// ErrNoResultsExtracted indicates no parsable payload in an LLM response.
var ErrNoResultsExtracted = errors.New("failed to extract any results from LLM response")

// ErrCircuitOpen indicates the circuit breaker is rejecting calls.
var ErrCircuitOpen = errors.New("llm circuit breaker is open")

// Client is the LLM service contract. Every method degrades a single call
// to an error; callers decide how far the failure spreads, which is always
// narrower than the whole run.
type Client interface {
	// AnalyzeBatch submits one completion request for a group of same-type
	// tasks and demultiplexes per-task results by ID. IDs missing from the
	// response are absent from the returned map; unknown IDs are dropped.
	AnalyzeBatch(ctx context.Context, taskType domain.TaskType, inputs []AnalysisInput) (map[string]domain.Analysis, error)

	// NormalizeEntities clusters free-text candidate names of one entity
	// type into primary-name groups with aliases.
	NormalizeEntities(ctx context.Context, entityType domain.EntityType, candidates []string) ([]NormalizedGroup, error)

	// ExtractRelationships asks for explicit relationships among exactly
	// the given entities, described in the finding text.
	ExtractRelationships(ctx context.Context, text string, entities []EntityRef) ([]ExtractedRelationship, error)

	// ClassifyParent picks the best-fit parent for an orphan technology
	// entity from the candidate list. Empty string means no fit.
	ClassifyParent(ctx context.Context, orphan EntityRef, summary string, candidates []ParentCandidate) (string, error)

	// EmbedBatch returns one vector per input text, order preserved.
	// Individual nil vectors are permitted on partial provider failures.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
