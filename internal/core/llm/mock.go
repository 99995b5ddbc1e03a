package llm

import (
	"context"

	"github.com/signalworks/intelgraph/internal/core/domain"
)

// MockClient is a test double with overridable behavior per method.
// Zero-value methods return empty results.
type MockClient struct {
	AnalyzeBatchFunc         func(ctx context.Context, taskType domain.TaskType, inputs []AnalysisInput) (map[string]domain.Analysis, error)
	NormalizeEntitiesFunc    func(ctx context.Context, entityType domain.EntityType, candidates []string) ([]NormalizedGroup, error)
	ExtractRelationshipsFunc func(ctx context.Context, text string, entities []EntityRef) ([]ExtractedRelationship, error)
	ClassifyParentFunc       func(ctx context.Context, orphan EntityRef, summary string, candidates []ParentCandidate) (string, error)
	EmbedBatchFunc           func(ctx context.Context, texts []string) ([][]float32, error)
}

func (m *MockClient) AnalyzeBatch(ctx context.Context, taskType domain.TaskType, inputs []AnalysisInput) (map[string]domain.Analysis, error) {
	if m.AnalyzeBatchFunc != nil {
		return m.AnalyzeBatchFunc(ctx, taskType, inputs)
	}

	return map[string]domain.Analysis{}, nil
}

func (m *MockClient) NormalizeEntities(ctx context.Context, entityType domain.EntityType, candidates []string) ([]NormalizedGroup, error) {
	if m.NormalizeEntitiesFunc != nil {
		return m.NormalizeEntitiesFunc(ctx, entityType, candidates)
	}

	return nil, nil
}

func (m *MockClient) ExtractRelationships(ctx context.Context, text string, entities []EntityRef) ([]ExtractedRelationship, error) {
	if m.ExtractRelationshipsFunc != nil {
		return m.ExtractRelationshipsFunc(ctx, text, entities)
	}

	return nil, nil
}

func (m *MockClient) ClassifyParent(ctx context.Context, orphan EntityRef, summary string, candidates []ParentCandidate) (string, error) {
	if m.ClassifyParentFunc != nil {
		return m.ClassifyParentFunc(ctx, orphan, summary, candidates)
	}

	return "", nil
}

func (m *MockClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if m.EmbedBatchFunc != nil {
		return m.EmbedBatchFunc(ctx, texts)
	}

	return make([][]float32, len(texts)), nil
}

var _ Client = (*MockClient)(nil)
