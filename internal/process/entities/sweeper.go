package entities

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/signalworks/intelgraph/internal/core/domain"
	"github.com/signalworks/intelgraph/internal/core/llm"
	"github.com/signalworks/intelgraph/internal/platform/checkpoint"
	"github.com/signalworks/intelgraph/internal/platform/observability"
	"github.com/signalworks/intelgraph/internal/storage"
)

// SweepRepository is the registry surface the normalization sweep needs.
type SweepRepository interface {
	ListEntitiesPage(ctx context.Context, entityType domain.EntityType, offset, limit int) ([]domain.Entity, error)
	MergeEntities(ctx context.Context, survivorID string, mergedIDs, survivorAliases []string) error
	MarkEntityNormalized(ctx context.Context, id string, aliases []string) error
}

var _ SweepRepository = (*storage.DB)(nil)

// Sweeper walks the registry in deterministic id order and normalizes
// pending_review entities batch by batch, persisting a cursor after every
// batch so an interrupted sweep resumes instead of restarting.
type Sweeper struct {
	repo      SweepRepository
	client    llm.Client
	store     checkpoint.Store
	batchSize int
	logger    *zerolog.Logger
}

func NewSweeper(repo SweepRepository, client llm.Client, store checkpoint.Store, batchSize int, logger *zerolog.Logger) *Sweeper {
	return &Sweeper{
		repo:      repo,
		client:    client,
		store:     store,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run sweeps every entity type until its backlog is exhausted or the
// context is canceled. Each type keeps its own cursor.
func (s *Sweeper) Run(ctx context.Context) error {
	for _, entityType := range domain.AllEntityTypes {
		if err := s.sweepType(ctx, entityType); err != nil {
			return fmt.Errorf("sweep %s entities: %w", entityType, err)
		}
	}

	return nil
}

func (s *Sweeper) sweepType(ctx context.Context, entityType domain.EntityType) error {
	cursor := checkpoint.NewCursor(s.store, "sweep_normalize_"+string(entityType))

	offset, err := cursor.Load(ctx)
	if err != nil {
		return err //nolint:wrapcheck
	}

	for {
		if err := ctx.Err(); err != nil {
			return err //nolint:wrapcheck
		}

		page, err := s.repo.ListEntitiesPage(ctx, entityType, offset, s.batchSize)
		if err != nil {
			return err //nolint:wrapcheck
		}

		if len(page) == 0 {
			return cursor.Clear(ctx) //nolint:wrapcheck
		}

		if err := s.normalizeBatch(ctx, entityType, page); err != nil {
			return err
		}

		// Merged rows drop out of later pages, but the cursor still
		// advances by the page we saw; a few rows may be revisited on
		// the next full sweep, which normalization tolerates.
		offset += len(page)

		observability.SweepCheckpointPosition.WithLabelValues(string(entityType)).Set(float64(offset))

		if err := cursor.Save(ctx, offset); err != nil {
			return err //nolint:wrapcheck
		}

		if len(page) < s.batchSize {
			return cursor.Clear(ctx) //nolint:wrapcheck
		}
	}
}

// normalizeBatch reviews one page. Only pending_review rows are sent to the
// model; already-normalized neighbors in the page stay untouched.
func (s *Sweeper) normalizeBatch(ctx context.Context, entityType domain.EntityType, page []domain.Entity) error {
	pending := make(map[string]*domain.Entity)

	var names []string

	for i := range page {
		e := &page[i]
		if e.MonitoringStatus != domain.EntityStatusPendingReview {
			continue
		}

		pending[nameKey(e.PrimaryName)] = e

		names = append(names, e.PrimaryName)
	}

	if len(names) == 0 {
		return nil
	}

	groups, err := s.client.NormalizeEntities(ctx, entityType, names)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("entity_type", string(entityType)).
			Msg("sweep normalization call failed, batch left pending")

		return nil
	}

	for _, group := range groups {
		if err := s.applyGroup(ctx, pending, group); err != nil {
			return err
		}
	}

	return nil
}

// applyGroup merges one normalized group. The survivor is the member whose
// primary name matches the group's primary form, falling back to the first
// member found in this batch. Members the model invented are ignored.
func (s *Sweeper) applyGroup(ctx context.Context, pending map[string]*domain.Entity, group llm.NormalizedGroup) error {
	members := make([]*domain.Entity, 0, len(group.Aliases)+1)
	seen := make(map[string]struct{})

	for _, name := range append([]string{group.PrimaryName}, group.Aliases...) {
		e, ok := pending[nameKey(name)]
		if !ok {
			continue
		}

		if _, dup := seen[e.ID]; dup {
			continue
		}

		seen[e.ID] = struct{}{}

		members = append(members, e)
	}

	if len(members) == 0 {
		return nil
	}

	survivor := members[0]
	if e, ok := pending[nameKey(group.PrimaryName)]; ok {
		survivor = e
	}

	aliases := survivor.Aliases
	aliases = append(aliases, group.Aliases...)

	var mergedIDs []string

	for _, m := range members {
		if m.ID == survivor.ID {
			continue
		}

		mergedIDs = append(mergedIDs, m.ID)

		aliases = append(aliases, m.PrimaryName)
		aliases = append(aliases, m.Aliases...)
	}

	aliases = domain.DedupeStrings(aliases)

	if len(mergedIDs) == 0 {
		return s.repo.MarkEntityNormalized(ctx, survivor.ID, aliases) //nolint:wrapcheck
	}

	return s.repo.MergeEntities(ctx, survivor.ID, domain.SortStrings(mergedIDs), aliases) //nolint:wrapcheck
}
