package graph

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

type fakeHierarchyRepo struct {
	orphans []domain.Entity
	parents []domain.Entity

	parented map[string]string
	stamped  map[string]string
}

func newFakeHierarchyRepo() *fakeHierarchyRepo {
	return &fakeHierarchyRepo{
		parented: map[string]string{},
		stamped:  map[string]string{},
	}
}

func (f *fakeHierarchyRepo) ListOrphanTechnologies(_ context.Context, limit int) ([]domain.Entity, error) {
	if len(f.orphans) > limit {
		return f.orphans[:limit], nil
	}

	return f.orphans, nil
}

func (f *fakeHierarchyRepo) ListParentCandidates(_ context.Context, _ int) ([]domain.Entity, error) {
	return f.parents, nil
}

func (f *fakeHierarchyRepo) SetEntityParent(_ context.Context, id, parentID string) error {
	f.parented[id] = parentID

	return nil
}

func (f *fakeHierarchyRepo) StampEntityVisited(_ context.Context, id, note string) error {
	f.stamped[id] = note

	return nil
}

func tech(id, name string) domain.Entity {
	return domain.Entity{ID: id, PrimaryName: name, EntityType: domain.EntityTypeTechnology}
}

func runHierarchy(t *testing.T, repo *fakeHierarchyRepo, client llm.Client) int {
	t.Helper()

	logger := zerolog.Nop()
	h := NewHierarchy(graphConfig(), repo, client, &logger)

	visited, err := h.RunOnce(context.Background())
	require.NoError(t, err)

	return visited
}

func TestHierarchyAssignsParent(t *testing.T) {
	repo := newFakeHierarchyRepo()
	repo.orphans = []domain.Entity{tech("tech-rust", "Rust")}
	repo.parents = []domain.Entity{tech("tech-programming-languages", "Programming Languages")}

	client := &llm.MockClient{
		ClassifyParentFunc: func(_ context.Context, orphan llm.EntityRef, _ string, candidates []llm.ParentCandidate) (string, error) {
			assert.Equal(t, "tech-rust", orphan.ID)
			require.Len(t, candidates, 1)

			return candidates[0].ID, nil
		},
	}

	visited := runHierarchy(t, repo, client)

	assert.Equal(t, 1, visited)
	assert.Equal(t, "tech-programming-languages", repo.parented["tech-rust"])
	assert.Empty(t, repo.stamped)
}

func TestHierarchyStampsWhenNoParentFits(t *testing.T) {
	repo := newFakeHierarchyRepo()
	repo.orphans = []domain.Entity{tech("tech-odd", "Odd Tech")}
	repo.parents = []domain.Entity{tech("tech-root", "Root")}

	client := &llm.MockClient{
		ClassifyParentFunc: func(_ context.Context, _ llm.EntityRef, _ string, _ []llm.ParentCandidate) (string, error) {
			return "", nil
		},
	}

	runHierarchy(t, repo, client)

	assert.Empty(t, repo.parented)
	assert.Contains(t, repo.stamped, "tech-odd", "visited orphans are stamped so they leave the backlog")
}

func TestHierarchyRejectsInventedParent(t *testing.T) {
	repo := newFakeHierarchyRepo()
	repo.orphans = []domain.Entity{tech("tech-odd", "Odd Tech")}
	repo.parents = []domain.Entity{tech("tech-root", "Root")}

	client := &llm.MockClient{
		ClassifyParentFunc: func(_ context.Context, _ llm.EntityRef, _ string, _ []llm.ParentCandidate) (string, error) {
			return "tech-not-a-candidate", nil
		},
	}

	runHierarchy(t, repo, client)

	assert.Empty(t, repo.parented)
	assert.Contains(t, repo.stamped["tech-odd"], "invalid parent suggestion")
}

func TestHierarchyExcludesOrphanFromCandidates(t *testing.T) {
	repo := newFakeHierarchyRepo()
	repo.orphans = []domain.Entity{tech("tech-self", "Self")}
	repo.parents = []domain.Entity{tech("tech-self", "Self")}

	client := &llm.MockClient{
		ClassifyParentFunc: func(_ context.Context, _ llm.EntityRef, _ string, _ []llm.ParentCandidate) (string, error) {
			t.Fatal("classification must not run without candidates")

			return "", nil
		},
	}

	runHierarchy(t, repo, client)

	assert.Empty(t, repo.parented)
	assert.Contains(t, repo.stamped, "tech-self")
}

func TestHierarchyLeavesOrphanOnModelFailure(t *testing.T) {
	repo := newFakeHierarchyRepo()
	repo.orphans = []domain.Entity{tech("tech-rust", "Rust")}
	repo.parents = []domain.Entity{tech("tech-root", "Root")}

	client := &llm.MockClient{
		ClassifyParentFunc: func(_ context.Context, _ llm.EntityRef, _ string, _ []llm.ParentCandidate) (string, error) {
			return "", errors.New("model unavailable")
		},
	}

	logger := zerolog.Nop()
	h := NewHierarchy(graphConfig(), repo, client, &logger)

	_, err := h.RunOnce(context.Background())
	require.Error(t, err)

	assert.Empty(t, repo.parented)
	assert.Empty(t, repo.stamped, "a transient failure must not consume the orphan")
}
