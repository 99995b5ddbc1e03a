package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalworks/intelgraph/internal/core/domain"
	"github.com/signalworks/intelgraph/internal/core/llm"
	"github.com/signalworks/intelgraph/internal/platform/config"
)

type fakePipelineRepo struct {
	tasks          []domain.Task
	deleted        []string
	evidence       []domain.Evidence
	findings       []domain.Finding
	existingHashes map[string]string
	chainEntries   map[domain.TaskType]*domain.ChainEntry
}

func (f *fakePipelineRepo) FetchPendingTasks(_ context.Context, limit int) ([]domain.Task, error) {
	if len(f.tasks) > limit {
		return f.tasks[:limit], nil
	}

	return f.tasks, nil
}

func (f *fakePipelineRepo) DeleteTasks(_ context.Context, ids []string) error {
	f.deleted = append(f.deleted, ids...)

	return nil
}

func (f *fakePipelineRepo) CountPendingTasks(_ context.Context) (int64, error) {
	return int64(len(f.tasks)), nil
}

func (f *fakePipelineRepo) EvidenceIDByHash(_ context.Context, hash string) (string, error) {
	return f.existingHashes[hash], nil
}

func (f *fakePipelineRepo) SaveEvidence(_ context.Context, ev *domain.Evidence) (bool, error) {
	if _, exists := f.existingHashes[ev.DedupHash]; exists {
		return false, nil
	}

	if f.existingHashes == nil {
		f.existingHashes = map[string]string{}
	}

	f.existingHashes[ev.DedupHash] = ev.ID
	f.evidence = append(f.evidence, *ev)

	return true, nil
}

func (f *fakePipelineRepo) SaveFinding(_ context.Context, finding *domain.Finding) error {
	f.findings = append(f.findings, *finding)

	return nil
}

func (f *fakePipelineRepo) LatestChainCandidate(_ context.Context, taskType domain.TaskType, _ []string, _, _ time.Time) (*domain.ChainEntry, error) {
	return f.chainEntries[taskType], nil
}

// fakeResolver derives ids deterministically without touching an LLM.
type fakeResolver struct {
	loads int
}

func (f *fakeResolver) LoadDictionary(_ context.Context) error {
	f.loads++

	return nil
}

func (f *fakeResolver) Resolve(_ context.Context, entityType domain.EntityType, candidates []string) ([]string, error) {
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, domain.EntityID(entityType, c))
	}

	return ids, nil
}

func testConfig() *config.Config {
	return &config.Config{
		TaskBatchSize:      20,
		IngestionThreshold: 4,
		TermMinLength:      2,
		TermMaxLength:      80,
		ChainWindowDays:    90,
		ChainMaxEntries:    5,
		ChainMaxEntityIDs:  10,
	}
}

func newTask(id string, taskType domain.TaskType, title string) domain.Task {
	return domain.Task{
		ID:       id,
		TaskType: taskType,
		Payload: domain.TaskPayload{
			Title:           title,
			Summary:         "summary of " + title,
			URL:             "https://example.com/" + id,
			PublicationDate: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		},
	}
}

func scoringClient(scores map[string]int) *llm.MockClient {
	return &llm.MockClient{
		AnalyzeBatchFunc: func(_ context.Context, _ domain.TaskType, inputs []llm.AnalysisInput) (map[string]domain.Analysis, error) {
			out := make(map[string]domain.Analysis, len(inputs))

			for _, in := range inputs {
				score, ok := scores[in.ID]
				if !ok {
					continue
				}

				out[in.ID] = domain.Analysis{
					ValueScore:         score,
					Summary:            "analyzed " + in.ID,
					Keywords:           []string{"kw"},
					CandidateCompanies: []string{"Acme Inc"},
				}
			}

			return out, nil
		},
	}
}

func runPipeline(t *testing.T, repo *fakePipelineRepo, client llm.Client) (Summary, *fakePipelineRepo) {
	t.Helper()

	logger := zerolog.Nop()
	p := New(testConfig(), repo, client, &fakeResolver{}, &logger)

	summary, err := p.RunOnce(context.Background())
	require.NoError(t, err)

	return summary, repo
}

func TestPipelineRetainsHighValueAndFiltersNoise(t *testing.T) {
	repo := &fakePipelineRepo{
		tasks: []domain.Task{
			newTask("t1", domain.TaskTypeNews, "Acme raises series C"),
			newTask("t2", domain.TaskTypeNews, "Weekly marketing roundup"),
		},
		chainEntries: map[domain.TaskType]*domain.ChainEntry{
			domain.TaskTypePaper: {EvidenceID: "ev-paper", TaskType: domain.TaskTypePaper},
		},
	}

	summary, repo := runPipeline(t, repo, scoringClient(map[string]int{"t1": 8, "t2": 2}))

	assert.Equal(t, 2, summary.Fetched)
	assert.Equal(t, 1, summary.Analyzed)
	assert.Equal(t, 1, summary.Filtered)

	require.Len(t, repo.evidence, 1)
	ev := repo.evidence[0]
	assert.Equal(t, "t1", ev.TaskID)
	assert.Equal(t, 8, ev.AIValueScore)
	assert.Equal(t, []string{"comp-acme-inc"}, ev.LinkedEntityIDs)
	assert.Equal(t, domain.DedupHash(ev.URL, ev.Title), ev.DedupHash)
	require.Len(t, ev.EvidenceChain, 2)
	assert.Equal(t, ev.ID, ev.EvidenceChain[0].EvidenceID, "own entry leads the chain")
	assert.Equal(t, domain.TaskTypeNews, ev.EvidenceChain[0].TaskType)
	assert.Equal(t, "ev-paper", ev.EvidenceChain[1].EvidenceID)

	require.Len(t, repo.findings, 1)
	finding := repo.findings[0]
	assert.Equal(t, ev.ID, finding.PrimaryEvidenceID)
	assert.Equal(t, domain.FindingStatusSignalIdentified, finding.Status)
	assert.Equal(t, ev.LinkedEntityIDs, finding.LinkedEntityIDs)

	assert.ElementsMatch(t, []string{"t1", "t2"}, repo.deleted, "both handled tasks leave the queue")
}

func TestPipelineDeduplicatesAgainstExistingEvidence(t *testing.T) {
	task := newTask("t1", domain.TaskTypeNews, "Acme raises series C")
	repo := &fakePipelineRepo{
		tasks: []domain.Task{task},
		existingHashes: map[string]string{
			domain.DedupHash(task.Payload.URL, task.Payload.Title): "ev-existing",
		},
	}

	summary, repo := runPipeline(t, repo, scoringClient(map[string]int{"t1": 9}))

	assert.Equal(t, 1, summary.Deduped)
	assert.Empty(t, repo.evidence)
	assert.Empty(t, repo.findings)
	assert.Equal(t, []string{"t1"}, repo.deleted, "duplicate task still leaves the queue")
}

func TestPipelineLeavesTasksQueuedWhenAnalyzerFails(t *testing.T) {
	repo := &fakePipelineRepo{tasks: []domain.Task{newTask("t1", domain.TaskTypeNews, "A story")}}
	client := &llm.MockClient{
		AnalyzeBatchFunc: func(_ context.Context, _ domain.TaskType, _ []llm.AnalysisInput) (map[string]domain.Analysis, error) {
			return nil, errors.New("model unavailable")
		},
	}

	summary, repo := runPipeline(t, repo, client)

	assert.Equal(t, 1, summary.Fetched)
	assert.Zero(t, summary.Analyzed)
	assert.Zero(t, summary.Failed)
	assert.Empty(t, repo.deleted, "tasks stay queued for the next poll")
}

func TestPipelineCountsMissingResultsAsFailed(t *testing.T) {
	repo := &fakePipelineRepo{
		tasks: []domain.Task{
			newTask("t1", domain.TaskTypeNews, "Covered story"),
			newTask("t2", domain.TaskTypeNews, "Dropped story"),
		},
	}

	summary, repo := runPipeline(t, repo, scoringClient(map[string]int{"t1": 7}))

	assert.Equal(t, 1, summary.Analyzed)
	assert.Equal(t, 1, summary.Failed)
	assert.ElementsMatch(t, []string{"t1", "t2"}, repo.deleted)
}

func TestPipelineAttachesEmbedding(t *testing.T) {
	repo := &fakePipelineRepo{tasks: []domain.Task{newTask("t1", domain.TaskTypeNews, "Acme story")}}
	client := scoringClient(map[string]int{"t1": 8})
	client.EmbedBatchFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		require.Len(t, texts, 1)

		return [][]float32{{0.1, 0.2, 0.3}}, nil
	}

	_, repo = runPipeline(t, repo, client)

	require.Len(t, repo.evidence, 1)
	assert.True(t, repo.evidence[0].HasEmbedding)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, repo.evidence[0].Embedding)
}

func TestPipelineEmbedsSurvivorsInOneBatch(t *testing.T) {
	repo := &fakePipelineRepo{
		tasks: []domain.Task{
			newTask("t1", domain.TaskTypeNews, "First story"),
			newTask("t2", domain.TaskTypeNews, "Low-value story"),
			newTask("t3", domain.TaskTypeNews, "Third story"),
		},
	}

	client := scoringClient(map[string]int{"t1": 8, "t2": 2, "t3": 9})

	embedCalls := 0
	client.EmbedBatchFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		embedCalls++
		require.Len(t, texts, 2, "only surviving tasks are embedded")

		return [][]float32{{0.1}, {0.2}}, nil
	}

	summary, repo := runPipeline(t, repo, client)

	assert.Equal(t, 2, summary.Analyzed)
	assert.Equal(t, 1, embedCalls, "one embedding request per run")

	require.Len(t, repo.evidence, 2)

	byTask := map[string][]float32{}
	for _, ev := range repo.evidence {
		byTask[ev.TaskID] = ev.Embedding
	}

	assert.Equal(t, []float32{0.1}, byTask["t1"], "vectors map back by position")
	assert.Equal(t, []float32{0.2}, byTask["t3"])
}

func TestPipelineSurvivesEmbeddingFailure(t *testing.T) {
	repo := &fakePipelineRepo{tasks: []domain.Task{newTask("t1", domain.TaskTypeNews, "Acme story")}}
	client := scoringClient(map[string]int{"t1": 8})
	client.EmbedBatchFunc = func(_ context.Context, _ []string) ([][]float32, error) {
		return nil, errors.New("embedding service down")
	}

	summary, repo := runPipeline(t, repo, client)

	assert.Equal(t, 1, summary.Analyzed)
	require.Len(t, repo.evidence, 1)
	assert.False(t, repo.evidence[0].HasEmbedding)
}

func TestPipelineMixedTypesFanOut(t *testing.T) {
	repo := &fakePipelineRepo{
		tasks: []domain.Task{
			newTask("t1", domain.TaskTypeNews, "News item"),
			newTask("t2", domain.TaskTypePaper, "Paper item"),
		},
	}

	var (
		mu    sync.Mutex
		calls []domain.TaskType
	)

	client := &llm.MockClient{
		AnalyzeBatchFunc: func(_ context.Context, taskType domain.TaskType, inputs []llm.AnalysisInput) (map[string]domain.Analysis, error) {
			mu.Lock()
			calls = append(calls, taskType)
			mu.Unlock()

			out := make(map[string]domain.Analysis, len(inputs))
			for _, in := range inputs {
				out[in.ID] = domain.Analysis{ValueScore: 5, Summary: "s"}
			}

			return out, nil
		},
	}

	summary, _ := runPipeline(t, repo, client)

	assert.Equal(t, 2, summary.Analyzed)
	assert.ElementsMatch(t, []domain.TaskType{domain.TaskTypeNews, domain.TaskTypePaper}, calls)
}
