package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/signalworks/intelgraph/internal/core/domain"
)

// ChainRepository is the evidence-lookup surface the chain builder needs.
type ChainRepository interface {
	LatestChainCandidate(ctx context.Context, taskType domain.TaskType, entityIDs []string, since, until time.Time) (*domain.ChainEntry, error)
}

// chainBuilder cross-references a new evidence record against the other
// source collections: for every other collection it picks the most recent
// record inside the lookback window that shares at least one linked entity.
// The result is an ordered, bounded chain of corroborating records.
type chainBuilder struct {
	repo         ChainRepository
	windowDays   int
	maxEntries   int
	maxEntityIDs int
	logger       *zerolog.Logger
}

// Build returns the evidence chain for a new record. The record's own entry
// always leads the chain and counts toward the entry cap. Candidates must
// fall within windowDays on either side of the record's publication date.
// A lookup failure on one collection is logged and skipped.
func (b *chainBuilder) Build(ctx context.Context, primary domain.ChainEntry, entityIDs []string) []domain.ChainEntry {
	chain := []domain.ChainEntry{primary}

	if len(entityIDs) == 0 {
		return chain
	}

	if len(entityIDs) > b.maxEntityIDs {
		entityIDs = entityIDs[:b.maxEntityIDs]
	}

	anchor := primary.PublishedAt
	if anchor.IsZero() {
		anchor = time.Now().UTC()
	}

	since := anchor.AddDate(0, 0, -b.windowDays)
	until := anchor.AddDate(0, 0, b.windowDays)

	for _, taskType := range domain.AllTaskTypes {
		if taskType == primary.TaskType || len(chain) >= b.maxEntries {
			continue
		}

		entry, err := b.repo.LatestChainCandidate(ctx, taskType, entityIDs, since, until)
		if err != nil {
			b.logger.Warn().Err(err).
				Str("task_type", string(taskType)).
				Msg("chain lookup failed, skipping collection")

			continue
		}

		if entry != nil {
			chain = append(chain, *entry)
		}
	}

	return chain
}
