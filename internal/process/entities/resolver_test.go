package entities

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalworks/intelgraph/internal/core/domain"
	"github.com/signalworks/intelgraph/internal/core/llm"
)

type fakeRegistry struct {
	existing []domain.Entity
	created  []domain.Entity
}

func (f *fakeRegistry) ListLiveEntities(_ context.Context) ([]domain.Entity, error) {
	return f.existing, nil
}

func (f *fakeRegistry) CreateEntities(_ context.Context, entities []domain.Entity) error {
	f.created = append(f.created, entities...)

	return nil
}

func newTestResolver(t *testing.T, repo *fakeRegistry, client llm.Client) *Resolver {
	t.Helper()

	logger := zerolog.Nop()
	r := NewResolver(repo, client, &logger)
	require.NoError(t, r.LoadDictionary(context.Background()))

	return r
}

func TestResolveKnownNamesSkipLLM(t *testing.T) {
	repo := &fakeRegistry{existing: []domain.Entity{
		{ID: "comp-acme-inc", PrimaryName: "Acme Inc", EntityType: domain.EntityTypeCompany, Aliases: []string{"Acme"}},
	}}
	client := &llm.MockClient{
		NormalizeEntitiesFunc: func(_ context.Context, _ domain.EntityType, _ []string) ([]llm.NormalizedGroup, error) {
			t.Fatal("normalization must not be called for known names")

			return nil, nil
		},
	}

	r := newTestResolver(t, repo, client)

	ids, err := r.Resolve(context.Background(), domain.EntityTypeCompany, []string{"Acme", "acme inc"})
	require.NoError(t, err)
	assert.Equal(t, []string{"comp-acme-inc"}, ids)
	assert.Empty(t, repo.created)
}

func TestResolveCreatesNewEntities(t *testing.T) {
	repo := &fakeRegistry{}
	client := &llm.MockClient{
		NormalizeEntitiesFunc: func(_ context.Context, _ domain.EntityType, candidates []string) ([]llm.NormalizedGroup, error) {
			assert.ElementsMatch(t, []string{"Widgets Intl", "Widgets International"}, candidates)

			return []llm.NormalizedGroup{
				{PrimaryName: "Widgets International", Aliases: []string{"Widgets Intl"}},
			}, nil
		},
	}

	r := newTestResolver(t, repo, client)

	ids, err := r.Resolve(context.Background(), domain.EntityTypeCompany, []string{"Widgets Intl", "Widgets International"})
	require.NoError(t, err)
	assert.Equal(t, []string{"comp-widgets-international"}, ids)

	require.Len(t, repo.created, 1)
	assert.Equal(t, "comp-widgets-international", repo.created[0].ID)
	assert.Equal(t, "Widgets International", repo.created[0].PrimaryName)
	assert.Equal(t, domain.EntityStatusPendingReview, repo.created[0].MonitoringStatus)
	assert.Equal(t, []string{"Widgets Intl"}, repo.created[0].Aliases)
}

func TestResolveMatchesGroupByAlias(t *testing.T) {
	repo := &fakeRegistry{existing: []domain.Entity{
		{ID: "comp-acme-inc", PrimaryName: "Acme Inc", EntityType: domain.EntityTypeCompany},
	}}
	client := &llm.MockClient{
		NormalizeEntitiesFunc: func(_ context.Context, _ domain.EntityType, _ []string) ([]llm.NormalizedGroup, error) {
			// The model picks a new primary form but one alias is known.
			return []llm.NormalizedGroup{
				{PrimaryName: "Acme Incorporated", Aliases: []string{"Acme Inc"}},
			}, nil
		},
	}

	r := newTestResolver(t, repo, client)

	ids, err := r.Resolve(context.Background(), domain.EntityTypeCompany, []string{"Acme Incorporated"})
	require.NoError(t, err)
	assert.Equal(t, []string{"comp-acme-inc"}, ids)
	assert.Empty(t, repo.created, "known entity must not be recreated")

	// The new form now resolves without another LLM call.
	ids, err = r.Resolve(context.Background(), domain.EntityTypeCompany, []string{"Acme Incorporated"})
	require.NoError(t, err)
	assert.Equal(t, []string{"comp-acme-inc"}, ids)
}

func TestResolveDropsUnknownOnLLMFailure(t *testing.T) {
	repo := &fakeRegistry{existing: []domain.Entity{
		{ID: "comp-acme-inc", PrimaryName: "Acme Inc", EntityType: domain.EntityTypeCompany},
	}}
	client := &llm.MockClient{
		NormalizeEntitiesFunc: func(_ context.Context, _ domain.EntityType, _ []string) ([]llm.NormalizedGroup, error) {
			return nil, errors.New("model unavailable")
		},
	}

	r := newTestResolver(t, repo, client)

	ids, err := r.Resolve(context.Background(), domain.EntityTypeCompany, []string{"Acme Inc", "Mystery Startup"})
	require.NoError(t, err)
	assert.Equal(t, []string{"comp-acme-inc"}, ids)
	assert.Empty(t, repo.created)
}

func TestResolveSkipsTrivialPrimaryNames(t *testing.T) {
	repo := &fakeRegistry{}
	client := &llm.MockClient{
		NormalizeEntitiesFunc: func(_ context.Context, _ domain.EntityType, _ []string) ([]llm.NormalizedGroup, error) {
			return []llm.NormalizedGroup{{PrimaryName: "AI"}}, nil
		},
	}

	r := newTestResolver(t, repo, client)

	ids, err := r.Resolve(context.Background(), domain.EntityTypeTechnology, []string{"AI"})
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, repo.created, "trivial names never become registry rows")
}

func TestResolveDeterministicIDs(t *testing.T) {
	client := &llm.MockClient{
		NormalizeEntitiesFunc: func(_ context.Context, _ domain.EntityType, candidates []string) ([]llm.NormalizedGroup, error) {
			groups := make([]llm.NormalizedGroup, 0, len(candidates))
			for _, c := range candidates {
				groups = append(groups, llm.NormalizedGroup{PrimaryName: c})
			}

			return groups, nil
		},
	}

	first := newTestResolver(t, &fakeRegistry{}, client)
	second := newTestResolver(t, &fakeRegistry{}, client)

	idsA, err := first.Resolve(context.Background(), domain.EntityTypeTechnology, []string{"Edge Computing"})
	require.NoError(t, err)

	idsB, err := second.Resolve(context.Background(), domain.EntityTypeTechnology, []string{"Edge Computing"})
	require.NoError(t, err)

	assert.Equal(t, idsA, idsB, "same name must derive the same id in independent runs")
	assert.Equal(t, []string{"tech-edge-computing"}, idsA)
}
