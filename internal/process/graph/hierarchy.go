package graph

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/signalworks/intelgraph/internal/core/domain"
	"github.com/signalworks/intelgraph/internal/core/llm"
	"github.com/signalworks/intelgraph/internal/platform/config"
	"github.com/signalworks/intelgraph/internal/platform/observability"
	"github.com/signalworks/intelgraph/internal/storage"
)

const (
	classifiedParent = "classified"
	classifiedNone   = "no_parent"
	classifiedBad    = "invalid_parent"
)

// HierarchyRepository is the registry surface of the taxonomy classifier.
type HierarchyRepository interface {
	ListOrphanTechnologies(ctx context.Context, limit int) ([]domain.Entity, error)
	ListParentCandidates(ctx context.Context, limit int) ([]domain.Entity, error)
	SetEntityParent(ctx context.Context, id, parentID string) error
	StampEntityVisited(ctx context.Context, id, note string) error
}

var _ HierarchyRepository = (*storage.DB)(nil)

// Hierarchy assigns orphan technology entities a parent in the taxonomy.
// Every orphan is stamped as visited whether or not a parent was found, so
// the backlog always shrinks.
type Hierarchy struct {
	cfg    *config.Config
	repo   HierarchyRepository
	client llm.Client
	logger *zerolog.Logger
}

func NewHierarchy(cfg *config.Config, repo HierarchyRepository, client llm.Client, logger *zerolog.Logger) *Hierarchy {
	return &Hierarchy{
		cfg:    cfg,
		repo:   repo,
		client: client,
		logger: logger,
	}
}

// RunOnce classifies one batch of orphans, returning how many were visited.
func (h *Hierarchy) RunOnce(ctx context.Context) (int, error) {
	orphans, err := h.repo.ListOrphanTechnologies(ctx, h.cfg.HierarchyBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list orphan technologies: %w", err)
	}

	if len(orphans) == 0 {
		return 0, nil
	}

	parents, err := h.repo.ListParentCandidates(ctx, h.cfg.HierarchyCandidateCap)
	if err != nil {
		return 0, fmt.Errorf("list parent candidates: %w", err)
	}

	for i := range orphans {
		if err := ctx.Err(); err != nil {
			return i, err //nolint:wrapcheck
		}

		if err := h.classify(ctx, &orphans[i], parents); err != nil {
			return i, err
		}
	}

	return len(orphans), nil
}

func (h *Hierarchy) classify(ctx context.Context, orphan *domain.Entity, parents []domain.Entity) error {
	candidates := make([]llm.ParentCandidate, 0, len(parents))
	valid := make(map[string]struct{}, len(parents))

	for i := range parents {
		p := &parents[i]
		if p.ID == orphan.ID {
			continue
		}

		candidates = append(candidates, llm.ParentCandidate{ID: p.ID, Name: p.PrimaryName, Summary: p.Summary})
		valid[p.ID] = struct{}{}
	}

	if len(candidates) == 0 {
		observability.HierarchyClassified.WithLabelValues(classifiedNone).Inc()

		return h.repo.StampEntityVisited(ctx, orphan.ID, "no parent candidates available") //nolint:wrapcheck
	}

	parentID, err := h.client.ClassifyParent(ctx, llm.EntityRef{ID: orphan.ID, Name: orphan.PrimaryName}, orphan.Summary, candidates)
	if err != nil {
		// Left unstamped on purpose so a transient model failure retries.
		return fmt.Errorf("classify parent for %s: %w", orphan.ID, err)
	}

	switch {
	case parentID == "":
		observability.HierarchyClassified.WithLabelValues(classifiedNone).Inc()

		return h.repo.StampEntityVisited(ctx, orphan.ID, "no suitable parent") //nolint:wrapcheck
	case !isValidParent(parentID, valid):
		observability.HierarchyClassified.WithLabelValues(classifiedBad).Inc()
		h.logger.Warn().
			Str("entity_id", orphan.ID).
			Str("parent_id", parentID).
			Msg("classifier suggested a parent outside the candidate set")

		return h.repo.StampEntityVisited(ctx, orphan.ID, "invalid parent suggestion: "+parentID) //nolint:wrapcheck
	default:
		observability.HierarchyClassified.WithLabelValues(classifiedParent).Inc()

		return h.repo.SetEntityParent(ctx, orphan.ID, parentID) //nolint:wrapcheck
	}
}

func isValidParent(parentID string, valid map[string]struct{}) bool {
	_, ok := valid[parentID]

	return ok
}
