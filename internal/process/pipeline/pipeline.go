// Package pipeline implements Stage 1 of the processing flow: drain the
// task queue in batches, score each item with the analyzer, filter out
// low-value noise, resolve candidate names against the entity registry and
// persist the survivors as evidence plus findings.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/signalworks/intelgraph/internal/core/domain"
	"github.com/signalworks/intelgraph/internal/core/llm"
	"github.com/signalworks/intelgraph/internal/platform/config"
	"github.com/signalworks/intelgraph/internal/platform/observability"
	"github.com/signalworks/intelgraph/internal/storage"
)

const (
	statusAnalyzed = "analyzed"
	statusFiltered = "filtered"
	statusDeduped  = "deduplicated"
	statusFailed   = "failed"
)

// Repository is the datastore surface of one pipeline run.
type Repository interface {
	ChainRepository

	FetchPendingTasks(ctx context.Context, limit int) ([]domain.Task, error)
	DeleteTasks(ctx context.Context, ids []string) error
	CountPendingTasks(ctx context.Context) (int64, error)
	EvidenceIDByHash(ctx context.Context, hash string) (string, error)
	SaveEvidence(ctx context.Context, ev *domain.Evidence) (bool, error)
	SaveFinding(ctx context.Context, f *domain.Finding) error
}

var _ Repository = (*storage.DB)(nil)

// EntityResolver resolves sanitized candidate names to registry ids.
type EntityResolver interface {
	LoadDictionary(ctx context.Context) error
	Resolve(ctx context.Context, entityType domain.EntityType, candidates []string) ([]string, error)
}

// Summary is the accounting of one pipeline run.
type Summary struct {
	Fetched  int
	Analyzed int
	Filtered int
	Deduped  int
	Failed   int
}

// Pipeline is the Stage 1 orchestrator.
type Pipeline struct {
	cfg       *config.Config
	repo      Repository
	client    llm.Client
	resolver  EntityResolver
	sanitizer *Sanitizer
	chains    *chainBuilder
	logger    *zerolog.Logger
}

func New(cfg *config.Config, repo Repository, client llm.Client, resolver EntityResolver, logger *zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		repo:      repo,
		client:    client,
		resolver:  resolver,
		sanitizer: NewSanitizer(cfg),
		chains: &chainBuilder{
			repo:         repo,
			windowDays:   cfg.ChainWindowDays,
			maxEntries:   cfg.ChainMaxEntries,
			maxEntityIDs: cfg.ChainMaxEntityIDs,
			logger:       logger,
		},
		logger: logger,
	}
}

// RunOnce processes one batch of queued tasks end to end. Tasks whose
// analyzer call failed stay in the queue for the next poll; everything else
// is deleted from the queue exactly once, at the end of the run.
func (p *Pipeline) RunOnce(ctx context.Context) (Summary, error) {
	start := time.Now()

	var summary Summary

	tasks, err := p.repo.FetchPendingTasks(ctx, p.cfg.TaskBatchSize)
	if err != nil {
		return summary, fmt.Errorf("fetch tasks: %w", err)
	}

	p.updateBacklogGauge(ctx)

	if len(tasks) == 0 {
		return summary, nil
	}

	summary.Fetched = len(tasks)

	if err := p.resolver.LoadDictionary(ctx); err != nil {
		return summary, fmt.Errorf("load entity dictionary: %w", err)
	}

	analyses := p.analyzeByType(ctx, tasks)

	done := make([]string, 0, len(tasks))
	pending := make([]pendingEvidence, 0, len(tasks))

	for i := range tasks {
		task := &tasks[i]

		byID, called := analyses[task.TaskType]
		if !called {
			// The whole batch call for this type failed; leave the task
			// queued and let the next poll retry it.
			continue
		}

		status, pend, err := p.screenTask(ctx, task, byID)
		if err != nil {
			return summary, err
		}

		done = append(done, task.ID)

		if pend != nil {
			pending = append(pending, *pend)

			continue
		}

		p.recordStatus(&summary, task.TaskType, status)
	}

	vectors := p.embedAll(ctx, pending)

	for i := range pending {
		status, err := p.persistResult(ctx, &pending[i], vectors[i])
		if err != nil {
			return summary, err
		}

		p.recordStatus(&summary, pending[i].task.TaskType, status)
	}

	if err := p.repo.DeleteTasks(ctx, done); err != nil {
		return summary, fmt.Errorf("delete tasks: %w", err)
	}

	observability.PipelineBatchDurationSeconds.Observe(time.Since(start).Seconds())

	p.logger.Info().
		Int("fetched", summary.Fetched).
		Int("analyzed", summary.Analyzed).
		Int("filtered", summary.Filtered).
		Int("deduplicated", summary.Deduped).
		Int("failed", summary.Failed).
		Dur("took", time.Since(start)).
		Msg("pipeline batch complete")

	return summary, nil
}

// analyzeByType fans one analyzer call out per task type present in the
// batch. Goroutines publish whole per-type result maps under a mutex; a
// failed call publishes nothing, which keeps its tasks queued.
func (p *Pipeline) analyzeByType(ctx context.Context, tasks []domain.Task) map[domain.TaskType]map[string]domain.Analysis {
	grouped := make(map[domain.TaskType][]llm.AnalysisInput)

	for i := range tasks {
		task := &tasks[i]
		grouped[task.TaskType] = append(grouped[task.TaskType], llm.AnalysisInput{
			ID:   task.ID,
			Text: analysisText(&task.Payload),
		})
	}

	results := make(map[domain.TaskType]map[string]domain.Analysis, len(grouped))

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for taskType, inputs := range grouped {
		wg.Add(1)

		go func(taskType domain.TaskType, inputs []llm.AnalysisInput) {
			defer wg.Done()

			byID, err := p.client.AnalyzeBatch(ctx, taskType, inputs)
			if err != nil {
				p.logger.Error().Err(err).
					Str("task_type", string(taskType)).
					Int("tasks", len(inputs)).
					Msg("batch analysis failed")

				return
			}

			mu.Lock()
			results[taskType] = byID
			mu.Unlock()
		}(taskType, inputs)
	}

	wg.Wait()

	return results
}

// pendingEvidence is a task that survived filtering and deduplication and
// awaits the run's batched embedding call and persistence.
type pendingEvidence struct {
	task      *domain.Task
	analysis  domain.Analysis
	entityIDs []string
	hash      string
}

// screenTask carries one analyzed task through filter, dedup and entity
// resolution. Survivors come back as a pendingEvidence with an empty status;
// everything else gets its terminal status immediately.
func (p *Pipeline) screenTask(ctx context.Context, task *domain.Task, byID map[string]domain.Analysis) (string, *pendingEvidence, error) {
	analysis, ok := byID[task.ID]
	if !ok {
		p.logger.Warn().Str("task_id", task.ID).Msg("analyzer returned no result for task")

		return statusFailed, nil, nil
	}

	if analysis.ValueScore < p.cfg.IngestionThreshold {
		return statusFiltered, nil, nil
	}

	hash := domain.DedupHash(task.Payload.URL, task.Payload.Title)

	existingID, err := p.repo.EvidenceIDByHash(ctx, hash)
	if err != nil {
		return "", nil, fmt.Errorf("dedup lookup: %w", err)
	}

	if existingID != "" {
		observability.EvidenceDeduplicated.Inc()

		return statusDeduped, nil, nil
	}

	entityIDs, err := p.resolveCandidates(ctx, &analysis)
	if err != nil {
		return "", nil, err
	}

	return "", &pendingEvidence{task: task, analysis: analysis, entityIDs: entityIDs, hash: hash}, nil
}

func (p *Pipeline) recordStatus(summary *Summary, taskType domain.TaskType, status string) {
	switch status {
	case statusAnalyzed:
		summary.Analyzed++
	case statusFiltered:
		summary.Filtered++
	case statusDeduped:
		summary.Deduped++
	case statusFailed:
		summary.Failed++
	}

	observability.TasksProcessed.WithLabelValues(string(taskType), status).Inc()
}

// resolveCandidates sanitizes and resolves each candidate list, collecting
// the union of linked entity ids across types.
func (p *Pipeline) resolveCandidates(ctx context.Context, analysis *domain.Analysis) ([]string, error) {
	var entityIDs []string

	for _, entityType := range domain.AllEntityTypes {
		candidates := p.sanitizer.SanitizeTerms(analysis.Candidates()[entityType])
		if len(candidates) == 0 {
			continue
		}

		ids, err := p.resolver.Resolve(ctx, entityType, candidates)
		if err != nil {
			return nil, fmt.Errorf("resolve %s candidates: %w", entityType, err)
		}

		entityIDs = append(entityIDs, ids...)
	}

	return domain.DedupeStrings(entityIDs), nil
}

// persistResult writes the evidence record and its finding, returning the
// terminal status of the task.
func (p *Pipeline) persistResult(ctx context.Context, pend *pendingEvidence, vector []float32) (string, error) {
	task := pend.task
	evidenceID := uuid.NewString()

	chain := p.chains.Build(ctx, domain.ChainEntry{
		EvidenceID:  evidenceID,
		TaskType:    task.TaskType,
		Title:       task.Payload.Title,
		PublishedAt: task.Payload.PublicationDate,
	}, pend.entityIDs)

	evidence := &domain.Evidence{
		ID:              evidenceID,
		TaskID:          task.ID,
		TaskType:        task.TaskType,
		SourceID:        task.Payload.SourceID,
		Title:           task.Payload.Title,
		URL:             task.Payload.URL,
		AISummary:       pend.analysis.Summary,
		AIKeywords:      pend.analysis.Keywords,
		AIValueScore:    pend.analysis.ValueScore,
		Embedding:       vector,
		HasEmbedding:    len(vector) > 0,
		LinkedEntityIDs: pend.entityIDs,
		EvidenceChain:   chain,
		PublishedAt:     task.Payload.PublicationDate,
		DedupHash:       pend.hash,
	}

	created, err := p.repo.SaveEvidence(ctx, evidence)
	if err != nil {
		return "", fmt.Errorf("save evidence: %w", err)
	}

	if !created {
		// Lost a dedup race to a concurrent writer.
		observability.EvidenceDeduplicated.Inc()

		return statusDeduped, nil
	}

	finding := &domain.Finding{
		ID:                uuid.NewString(),
		PrimaryEvidenceID: evidence.ID,
		TaskType:          task.TaskType,
		Summary:           pend.analysis.Summary,
		ValueScore:        pend.analysis.ValueScore,
		LinkedEntityIDs:   pend.entityIDs,
		EvidenceChain:     chain,
		Status:            domain.FindingStatusSignalIdentified,
		PublishedAt:       task.Payload.PublicationDate,
	}

	if err := p.repo.SaveFinding(ctx, finding); err != nil {
		return "", fmt.Errorf("save finding: %w", err)
	}

	observability.EvidenceWritten.WithLabelValues(string(task.TaskType)).Inc()

	return statusAnalyzed, nil
}

// embedAll issues the run's single batched embedding request, one text per
// surviving task, vectors mapped back by position. A provider failure leaves
// every vector nil; the evidence is stored without an embedding, never lost.
func (p *Pipeline) embedAll(ctx context.Context, pending []pendingEvidence) [][]float32 {
	vectors := make([][]float32, len(pending))
	if len(pending) == 0 {
		return vectors
	}

	texts := make([]string, len(pending))
	for i := range pending {
		texts[i] = embeddingText(&pending[i])
	}

	embedded, err := p.client.EmbedBatch(ctx, texts)
	if err != nil {
		p.logger.Warn().Err(err).Int("texts", len(texts)).Msg("batch embedding failed, storing without vectors")

		return vectors
	}

	for i := range vectors {
		if i < len(embedded) {
			vectors[i] = embedded[i]
		}
	}

	return vectors
}

func (p *Pipeline) updateBacklogGauge(ctx context.Context) {
	backlog, err := p.repo.CountPendingTasks(ctx)
	if err != nil {
		p.logger.Debug().Err(err).Msg("could not count queue backlog")

		return
	}

	observability.QueueBacklog.Set(float64(backlog))
}

func analysisText(payload *domain.TaskPayload) string {
	if payload.Summary == "" {
		return payload.Title
	}

	return payload.Title + ". " + payload.Summary
}

func embeddingText(pend *pendingEvidence) string {
	if pend.analysis.Summary == "" {
		return pend.task.Payload.Title
	}

	return pend.task.Payload.Title + ". " + pend.analysis.Summary
}
