package entities

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/signalworks/intelgraph/internal/core/domain"
	"github.com/signalworks/intelgraph/internal/core/llm"
	"github.com/signalworks/intelgraph/internal/platform/observability"
	"github.com/signalworks/intelgraph/internal/storage"
)

const trivialNameLength = 2

// Repository is the registry surface the resolver needs.
type Repository interface {
	ListLiveEntities(ctx context.Context) ([]domain.Entity, error)
	CreateEntities(ctx context.Context, entities []domain.Entity) error
}

var _ Repository = (*storage.DB)(nil)

// Resolver maps sanitized candidate names to canonical registry ids,
// creating pending_review entities for names the registry has never seen.
type Resolver struct {
	repo   Repository
	client llm.Client
	dict   *Dictionary
	logger *zerolog.Logger
}

func NewResolver(repo Repository, client llm.Client, logger *zerolog.Logger) *Resolver {
	return &Resolver{
		repo:   repo,
		client: client,
		dict:   NewDictionary(),
		logger: logger,
	}
}

// LoadDictionary seeds the run-scoped dictionary from the registry. Call
// once at the start of a pipeline run.
func (r *Resolver) LoadDictionary(ctx context.Context) error {
	existing, err := r.repo.ListLiveEntities(ctx)
	if err != nil {
		return err //nolint:wrapcheck
	}

	r.dict = NewDictionary()
	r.dict.Load(existing)

	return nil
}

// Resolve turns candidate names of one type into registry ids. Known names
// resolve from the dictionary; unknown ones go through one LLM normalization
// call, then either match an existing entity by normalized form or become a
// new pending_review row with a deterministic id. When normalization fails
// the unknown names are dropped for this item and only known ids return.
func (r *Resolver) Resolve(ctx context.Context, entityType domain.EntityType, candidates []string) ([]string, error) {
	candidates = domain.DedupeStrings(candidates)

	var (
		ids     []string
		unknown []string
	)

	for _, name := range candidates {
		if id, ok := r.dict.Lookup(entityType, name); ok {
			ids = append(ids, id)

			continue
		}

		unknown = append(unknown, name)
	}

	if len(unknown) == 0 {
		return domain.DedupeStrings(ids), nil
	}

	groups, err := r.client.NormalizeEntities(ctx, entityType, unknown)
	if err != nil {
		r.logger.Warn().Err(err).
			Str("entity_type", string(entityType)).
			Int("candidates", len(unknown)).
			Msg("entity normalization failed, dropping unknown candidates")

		return domain.DedupeStrings(ids), nil
	}

	created, groupIDs := r.absorbGroups(entityType, groups)

	if len(created) > 0 {
		if err := r.repo.CreateEntities(ctx, created); err != nil {
			return nil, err //nolint:wrapcheck
		}

		observability.EntitiesCreated.WithLabelValues(string(entityType)).Add(float64(len(created)))
	}

	return domain.DedupeStrings(append(ids, groupIDs...)), nil
}

// absorbGroups registers each normalized group in the dictionary, creating
// registry rows for groups whose primary form is still unknown.
func (r *Resolver) absorbGroups(entityType domain.EntityType, groups []llm.NormalizedGroup) ([]domain.Entity, []string) {
	var (
		created []domain.Entity
		ids     []string
	)

	for _, group := range groups {
		primary := nameKey(group.PrimaryName)
		if primary == "" {
			continue
		}

		id, known := r.lookupGroup(entityType, group)
		if !known {
			// A trivial primary form never becomes a registry row.
			if len([]rune(primary)) <= trivialNameLength {
				r.logger.Debug().
					Str("entity_type", string(entityType)).
					Str("name", group.PrimaryName).
					Msg("rejecting trivial primary name")

				continue
			}

			id = domain.EntityID(entityType, group.PrimaryName)
			created = append(created, domain.Entity{
				ID:               id,
				PrimaryName:      group.PrimaryName,
				EntityType:       entityType,
				Aliases:          domain.DedupeStrings(group.Aliases),
				MonitoringStatus: domain.EntityStatusPendingReview,
				CreatedAt:        time.Now().UTC(),
			})
		}

		r.dict.Register(entityType, id, group.PrimaryName, group.Aliases)

		ids = append(ids, id)
	}

	return created, ids
}

// lookupGroup checks whether any member of a normalized group already maps
// to a registry id, so a new alias of a known entity does not spawn a
// duplicate row.
func (r *Resolver) lookupGroup(entityType domain.EntityType, group llm.NormalizedGroup) (string, bool) {
	if id, ok := r.dict.Lookup(entityType, group.PrimaryName); ok {
		return id, true
	}

	for _, alias := range group.Aliases {
		if id, ok := r.dict.Lookup(entityType, alias); ok {
			return id, true
		}
	}

	return "", false
}
