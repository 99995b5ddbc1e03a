// Package graph implements Stage 2 of the processing flow: mining analyzed
// findings for entity relationships, folding each observation into the
// weighted knowledge-graph edges, and classifying orphan technologies into
// the taxonomy.
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/signalworks/intelgraph/internal/core/domain"
	"github.com/signalworks/intelgraph/internal/core/llm"
	"github.com/signalworks/intelgraph/internal/platform/config"
	"github.com/signalworks/intelgraph/internal/platform/observability"
	"github.com/signalworks/intelgraph/internal/storage"
)

const (
	resultAnalyzed = "analyzed"
	resultSkipped  = "skipped"
	resultFailed   = "failed"

	minEntitiesForExtraction = 2
)

// Repository is the datastore surface of the relationship extractor.
type Repository interface {
	GetUnprocessedFindings(ctx context.Context, limit int) ([]domain.Finding, error)
	UpdateFindingStatus(ctx context.Context, id, status, note string) error
	GetEntitiesByIDs(ctx context.Context, ids []string) ([]domain.Entity, error)
	GetRelationships(ctx context.Context, ids []string) (map[string]domain.Relationship, error)
	UpsertRelationships(ctx context.Context, edges []domain.Relationship) error
}

var _ Repository = (*storage.DB)(nil)

// Extractor drains unprocessed findings and merges extracted relationships
// into the graph. Edges are buffered and flushed in chunks; a finding is
// marked analyzed only after the edges it produced are durable.
type Extractor struct {
	cfg    *config.Config
	repo   Repository
	client llm.Client
	logger *zerolog.Logger
}

func NewExtractor(cfg *config.Config, repo Repository, client llm.Client, logger *zerolog.Logger) *Extractor {
	return &Extractor{
		cfg:    cfg,
		repo:   repo,
		client: client,
		logger: logger,
	}
}

// RunOnce processes one batch of findings. Returns the number of findings
// handled so the caller can tell an idle poll from a productive one.
func (e *Extractor) RunOnce(ctx context.Context) (int, error) {
	findings, err := e.repo.GetUnprocessedFindings(ctx, e.cfg.FindingBatchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch findings: %w", err)
	}

	if len(findings) == 0 {
		return 0, nil
	}

	buffer := newEdgeBuffer(e.repo)

	// Finding ids whose status update waits on the next edge flush.
	var pendingAnalyzed []string

	for i := range findings {
		if err := ctx.Err(); err != nil {
			return i, err //nolint:wrapcheck
		}

		finding := &findings[i]

		handled, err := e.processFinding(ctx, finding, buffer)
		if err != nil {
			return i, err
		}

		if handled {
			pendingAnalyzed = append(pendingAnalyzed, finding.ID)
		}

		if buffer.size() >= e.cfg.GraphFlushSize {
			if pendingAnalyzed, err = e.flush(ctx, buffer, pendingAnalyzed); err != nil {
				return i, err
			}
		}
	}

	if _, err := e.flush(ctx, buffer, pendingAnalyzed); err != nil {
		return len(findings), err
	}

	return len(findings), nil
}

// processFinding extracts relationships from one finding. The returned bool
// reports whether the finding still needs its analyzed status applied after
// the next flush; findings resolved inline (skipped, failed) return false.
func (e *Extractor) processFinding(ctx context.Context, finding *domain.Finding, buffer *edgeBuffer) (bool, error) {
	if len(finding.LinkedEntityIDs) < minEntitiesForExtraction {
		observability.FindingsAnalyzed.WithLabelValues(resultSkipped).Inc()

		// Nothing to relate; the finding is done.
		err := e.repo.UpdateFindingStatus(ctx, finding.ID, domain.FindingStatusAnalyzed, "fewer than two linked entities")
		if err != nil {
			return false, fmt.Errorf("update finding status: %w", err)
		}

		return false, nil
	}

	entities, err := e.repo.GetEntitiesByIDs(ctx, finding.LinkedEntityIDs)
	if err != nil {
		return false, fmt.Errorf("load linked entities: %w", err)
	}

	refs := make([]llm.EntityRef, 0, len(entities))
	known := make(map[string]struct{}, len(entities))

	for i := range entities {
		refs = append(refs, llm.EntityRef{ID: entities[i].ID, Name: entities[i].PrimaryName})
		known[entities[i].ID] = struct{}{}
	}

	extracted, err := e.client.ExtractRelationships(ctx, extractionText(finding), refs)
	if err != nil {
		observability.FindingsAnalyzed.WithLabelValues(resultFailed).Inc()
		e.logger.Error().Err(err).Str("finding_id", finding.ID).Msg("relationship extraction failed")

		statusErr := e.repo.UpdateFindingStatus(ctx, finding.ID, domain.FindingStatusAnalysisFailed, err.Error())
		if statusErr != nil {
			return false, fmt.Errorf("update finding status: %w", statusErr)
		}

		return false, nil
	}

	seenAt := finding.PublishedAt
	if seenAt.IsZero() {
		seenAt = finding.CreatedAt
	}

	for _, rel := range extracted {
		if !validExtraction(&rel, known) {
			e.logger.Debug().
				Str("finding_id", finding.ID).
				Str("source", rel.SourceID).
				Str("target", rel.TargetID).
				Msg("dropping extraction outside the linked entity set")

			continue
		}

		if err := buffer.observe(ctx, &rel, finding.ID, seenAt); err != nil {
			return false, err
		}
	}

	observability.FindingsAnalyzed.WithLabelValues(resultAnalyzed).Inc()

	return true, nil
}

// flush writes buffered edges, then marks the findings that produced them.
func (e *Extractor) flush(ctx context.Context, buffer *edgeBuffer, pendingAnalyzed []string) ([]string, error) {
	flushed, err := buffer.flush(ctx)
	if err != nil {
		return pendingAnalyzed, err
	}

	if flushed > 0 {
		observability.EdgesUpserted.Add(float64(flushed))
	}

	for _, id := range pendingAnalyzed {
		if err := e.repo.UpdateFindingStatus(ctx, id, domain.FindingStatusAnalyzed, ""); err != nil {
			return nil, fmt.Errorf("update finding status: %w", err)
		}
	}

	return nil, nil
}

// validExtraction keeps only edges between distinct entities the finding
// actually links; the model may not introduce ids of its own.
func validExtraction(rel *llm.ExtractedRelationship, known map[string]struct{}) bool {
	if rel.SourceID == rel.TargetID || rel.Type == "" {
		return false
	}

	if _, ok := known[rel.SourceID]; !ok {
		return false
	}

	_, ok := known[rel.TargetID]

	return ok
}

// extractionText gives the model the finding summary plus chained titles,
// so corroborating records from other collections inform the extraction.
func extractionText(finding *domain.Finding) string {
	text := finding.Summary

	for _, entry := range finding.EvidenceChain {
		// The chain leads with the finding's own record; only the
		// cross-collection entries add context here.
		if entry.EvidenceID == finding.PrimaryEvidenceID || entry.Title == "" {
			continue
		}

		text += "\nRelated " + string(entry.TaskType) + ": " + entry.Title
	}

	return text
}

// edgeBuffer accumulates edge mutations between flushes. An edge is read
// from the datastore at most once per batch; later observations in the same
// batch merge into the buffered copy.
type edgeBuffer struct {
	repo  Repository
	edges map[string]*domain.Relationship
}

func newEdgeBuffer(repo Repository) *edgeBuffer {
	return &edgeBuffer{
		repo:  repo,
		edges: make(map[string]*domain.Relationship),
	}
}

func (b *edgeBuffer) size() int {
	return len(b.edges)
}

func (b *edgeBuffer) observe(ctx context.Context, rel *llm.ExtractedRelationship, findingID string, seenAt time.Time) error {
	id := domain.RelationshipID(rel.SourceID, rel.TargetID, rel.Type)

	edge, ok := b.edges[id]
	if !ok {
		existing, err := b.repo.GetRelationships(ctx, []string{id})
		if err != nil {
			return fmt.Errorf("load edge: %w", err)
		}

		if found, present := existing[id]; present {
			edge = &found
		} else {
			source, target := domain.SortedPair(rel.SourceID, rel.TargetID)
			edge = &domain.Relationship{
				ID:               id,
				SourceEntityID:   source,
				TargetEntityID:   target,
				RelationshipType: rel.Type,
				FirstSeenAt:      seenAt,
			}
		}

		b.edges[id] = edge
	}

	edge.Observe(rel.Strength, findingID, seenAt)

	return nil
}

func (b *edgeBuffer) flush(ctx context.Context) (int, error) {
	if len(b.edges) == 0 {
		return 0, nil
	}

	out := make([]domain.Relationship, 0, len(b.edges))
	for _, edge := range b.edges {
		out = append(out, *edge)
	}

	if err := b.repo.UpsertRelationships(ctx, out); err != nil {
		return 0, fmt.Errorf("flush edges: %w", err)
	}

	flushed := len(out)
	b.edges = make(map[string]*domain.Relationship)

	return flushed, nil
}
