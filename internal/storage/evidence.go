package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/signalworks/intelgraph/internal/core/domain"
)

// EvidenceIDByHash returns the id of the evidence record carrying the given
// dedup hash, or "" when none exists.
func (db *DB) EvidenceIDByHash(ctx context.Context, hash string) (string, error) {
	var id string

	err := db.Pool.QueryRow(ctx, `SELECT id FROM evidence WHERE dedup_hash = $1`, hash).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("evidence by hash: %w", err)
	}

	return id, nil
}

// SaveEvidence inserts an evidence record. The dedup hash carries a unique
// constraint, so a concurrent duplicate loses the race and reports
// created=false instead of erroring.
func (db *DB) SaveEvidence(ctx context.Context, ev *domain.Evidence) (bool, error) {
	chain, err := json.Marshal(ev.EvidenceChain)
	if err != nil {
		return false, fmt.Errorf("marshal evidence chain: %w", err)
	}

	var embedding interface{}
	if ev.HasEmbedding {
		embedding = pgvector.NewVector(ev.Embedding)
	}

	tag, err := db.Pool.Exec(ctx, `
		INSERT INTO evidence (
			id, task_id, task_type, source_id, title, url,
			ai_summary, ai_keywords, ai_value_score, embedding, has_embedding,
			linked_entity_ids, evidence_chain, published_at, dedup_hash
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (dedup_hash) DO NOTHING`,
		ev.ID, toText(ev.TaskID), string(ev.TaskType), toText(ev.SourceID),
		ev.Title, toText(ev.URL),
		ev.AISummary, ev.AIKeywords, ev.AIValueScore, embedding, ev.HasEmbedding,
		ev.LinkedEntityIDs, chain, toTimestamptz(ev.PublishedAt), ev.DedupHash)
	if err != nil {
		return false, fmt.Errorf("save evidence: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// LatestChainCandidate finds the most recent evidence record of the given
// source type that shares at least one linked entity with entityIDs and was
// published within [since, until]. It returns nil when no such record
// exists.
func (db *DB) LatestChainCandidate(ctx context.Context, taskType domain.TaskType, entityIDs []string, since, until time.Time) (*domain.ChainEntry, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}

	var entry domain.ChainEntry

	err := db.Pool.QueryRow(ctx, `
		SELECT id, task_type, title, published_at
		FROM evidence
		WHERE task_type = $1
		  AND linked_entity_ids && $2
		  AND published_at >= $3
		  AND published_at <= $4
		ORDER BY published_at DESC
		LIMIT 1`,
		string(taskType), entityIDs, since, until).
		Scan(&entry.EvidenceID, &entry.TaskType, &entry.Title, &entry.PublishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("chain candidate: %w", err)
	}

	return &entry, nil
}
