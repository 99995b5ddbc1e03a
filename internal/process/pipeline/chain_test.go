package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalworks/intelgraph/internal/core/domain"
)

type fakeChainRepo struct {
	entries map[domain.TaskType]*domain.ChainEntry
	failing map[domain.TaskType]bool

	queriedTypes []domain.TaskType
	lastIDs      []string
	lastSince    time.Time
	lastUntil    time.Time
}

func (f *fakeChainRepo) LatestChainCandidate(_ context.Context, taskType domain.TaskType, entityIDs []string, since, until time.Time) (*domain.ChainEntry, error) {
	f.queriedTypes = append(f.queriedTypes, taskType)
	f.lastIDs = entityIDs
	f.lastSince = since
	f.lastUntil = until

	if f.failing[taskType] {
		return nil, errors.New("lookup unavailable")
	}

	entry := f.entries[taskType]
	if entry == nil || entry.PublishedAt.Before(since) || entry.PublishedAt.After(until) {
		return nil, nil
	}

	return entry, nil
}

func testChainBuilder(repo ChainRepository, maxEntries, maxEntityIDs int) *chainBuilder {
	logger := zerolog.Nop()

	return &chainBuilder{
		repo:         repo,
		windowDays:   90,
		maxEntries:   maxEntries,
		maxEntityIDs: maxEntityIDs,
		logger:       &logger,
	}
}

func newsPrimary(published time.Time) domain.ChainEntry {
	return domain.ChainEntry{
		EvidenceID:  "ev-self",
		TaskType:    domain.TaskTypeNews,
		Title:       "Primary story",
		PublishedAt: published,
	}
}

func TestChainBuilderCrossReferencesOtherCollections(t *testing.T) {
	published := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakeChainRepo{entries: map[domain.TaskType]*domain.ChainEntry{
		domain.TaskTypePaper:  {EvidenceID: "ev-paper", TaskType: domain.TaskTypePaper, Title: "Related paper", PublishedAt: published.AddDate(0, 0, -10)},
		domain.TaskTypePatent: {EvidenceID: "ev-patent", TaskType: domain.TaskTypePatent, Title: "Related patent", PublishedAt: published.AddDate(0, 0, -20)},
	}}

	b := testChainBuilder(repo, 5, 10)

	chain := b.Build(context.Background(), newsPrimary(published), []string{"comp-acme"})

	require.Len(t, chain, 3)
	assert.Equal(t, "ev-self", chain[0].EvidenceID, "own entry leads the chain")
	assert.Equal(t, "ev-paper", chain[1].EvidenceID)
	assert.Equal(t, "ev-patent", chain[2].EvidenceID)

	assert.NotContains(t, repo.queriedTypes, domain.TaskTypeNews, "own collection is never chained")
	assert.Equal(t, published.AddDate(0, 0, -90), repo.lastSince)
	assert.Equal(t, published.AddDate(0, 0, 90), repo.lastUntil)
}

func TestChainBuilderExcludesRecordsOutsideWindow(t *testing.T) {
	published := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakeChainRepo{entries: map[domain.TaskType]*domain.ChainEntry{
		domain.TaskTypePaper: {EvidenceID: "ev-future", TaskType: domain.TaskTypePaper, PublishedAt: published.AddDate(1, 0, 0)},
		domain.TaskTypeRepo:  {EvidenceID: "ev-stale", TaskType: domain.TaskTypeRepo, PublishedAt: published.AddDate(0, 0, -91)},
	}}

	b := testChainBuilder(repo, 5, 10)

	chain := b.Build(context.Background(), newsPrimary(published), []string{"comp-acme"})

	require.Len(t, chain, 1, "records beyond 90 days on either side never chain")
	assert.Equal(t, "ev-self", chain[0].EvidenceID)
}

func TestChainBuilderNoEntitiesNoLookups(t *testing.T) {
	repo := &fakeChainRepo{}
	b := testChainBuilder(repo, 5, 10)

	chain := b.Build(context.Background(), newsPrimary(time.Now()), nil)

	require.Len(t, chain, 1, "only the record's own entry remains")
	assert.Empty(t, repo.queriedTypes, "no query without linked entities")
}

func TestChainBuilderCapsEntityIDs(t *testing.T) {
	repo := &fakeChainRepo{}
	b := testChainBuilder(repo, 5, 2)

	b.Build(context.Background(), newsPrimary(time.Now()), []string{"comp-a", "comp-b", "comp-c"})

	assert.Equal(t, []string{"comp-a", "comp-b"}, repo.lastIDs)
}

func TestChainBuilderCapsEntriesIncludingPrimary(t *testing.T) {
	published := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakeChainRepo{entries: map[domain.TaskType]*domain.ChainEntry{
		domain.TaskTypePaper:  {EvidenceID: "ev-1", TaskType: domain.TaskTypePaper, PublishedAt: published},
		domain.TaskTypePatent: {EvidenceID: "ev-2", TaskType: domain.TaskTypePatent, PublishedAt: published},
		domain.TaskTypeRepo:   {EvidenceID: "ev-3", TaskType: domain.TaskTypeRepo, PublishedAt: published},
	}}

	b := testChainBuilder(repo, 3, 10)

	chain := b.Build(context.Background(), newsPrimary(published), []string{"comp-a"})

	require.Len(t, chain, 3)
	assert.Equal(t, "ev-self", chain[0].EvidenceID, "own entry counts toward the cap")
}

func TestChainBuilderSkipsFailingCollections(t *testing.T) {
	published := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakeChainRepo{
		entries: map[domain.TaskType]*domain.ChainEntry{
			domain.TaskTypePatent: {EvidenceID: "ev-patent", TaskType: domain.TaskTypePatent, PublishedAt: published},
		},
		failing: map[domain.TaskType]bool{domain.TaskTypePaper: true},
	}

	b := testChainBuilder(repo, 5, 10)

	chain := b.Build(context.Background(), newsPrimary(published), []string{"comp-a"})

	require.Len(t, chain, 2, "one failing collection never aborts the build")
	assert.Equal(t, "ev-patent", chain[1].EvidenceID)
}
