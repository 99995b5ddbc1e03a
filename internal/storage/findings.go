package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/signalworks/intelgraph/internal/core/domain"
)

// SaveFinding inserts a finding in its initial signal_identified state.
func (db *DB) SaveFinding(ctx context.Context, f *domain.Finding) error {
	chain, err := json.Marshal(f.EvidenceChain)
	if err != nil {
		return fmt.Errorf("marshal evidence chain: %w", err)
	}

	_, err = db.Pool.Exec(ctx, `
		INSERT INTO findings (
			id, primary_evidence_id, task_type, summary, value_score,
			linked_entity_ids, evidence_chain, status, status_note, published_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		f.ID, f.PrimaryEvidenceID, string(f.TaskType), f.Summary, f.ValueScore,
		f.LinkedEntityIDs, chain, f.Status, toText(f.StatusNote),
		toTimestamptz(f.PublishedAt))
	if err != nil {
		return fmt.Errorf("save finding: %w", err)
	}

	return nil
}

// GetUnprocessedFindings returns up to limit findings still awaiting
// relationship extraction, oldest first.
func (db *DB) GetUnprocessedFindings(ctx context.Context, limit int) ([]domain.Finding, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, primary_evidence_id, task_type, summary, value_score,
		       linked_entity_ids, evidence_chain, status, status_note,
		       published_at, created_at
		FROM findings
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2`,
		domain.FindingStatusSignalIdentified, limit)
	if err != nil {
		return nil, fmt.Errorf("get unprocessed findings: %w", err)
	}
	defer rows.Close()

	return scanFindings(rows)
}

// FindingsBetween returns all findings created within [from, to), regardless
// of status. The snapshot generator partitions them per entity.
func (db *DB) FindingsBetween(ctx context.Context, from, to time.Time) ([]domain.Finding, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, primary_evidence_id, task_type, summary, value_score,
		       linked_entity_ids, evidence_chain, status, status_note,
		       published_at, created_at
		FROM findings
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at, id`,
		from, to)
	if err != nil {
		return nil, fmt.Errorf("findings between: %w", err)
	}
	defer rows.Close()

	return scanFindings(rows)
}

// UpdateFindingStatus advances a finding through its state machine.
func (db *DB) UpdateFindingStatus(ctx context.Context, id, status, note string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE findings SET status = $2, status_note = $3 WHERE id = $1`,
		id, status, toText(note))
	if err != nil {
		return fmt.Errorf("update finding status: %w", err)
	}

	return nil
}

type findingRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanFindings(rows findingRows) ([]domain.Finding, error) {
	var findings []domain.Finding

	for rows.Next() {
		var (
			f     domain.Finding
			chain []byte
			note  pgtype.Text
		)

		if err := rows.Scan(&f.ID, &f.PrimaryEvidenceID, &f.TaskType, &f.Summary,
			&f.ValueScore, &f.LinkedEntityIDs, &chain, &f.Status, &note,
			&f.PublishedAt, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}

		f.StatusNote = fromText(note)

		if len(chain) > 0 {
			if err := json.Unmarshal(chain, &f.EvidenceChain); err != nil {
				return nil, fmt.Errorf("unmarshal evidence chain: %w", err)
			}
		}

		findings = append(findings, f)
	}

	return findings, rows.Err() //nolint:wrapcheck
}
