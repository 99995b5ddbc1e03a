package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/signalworks/intelgraph/internal/core/domain"
)

// GetRelationships returns the existing edges for the given ids, keyed by
// id. Unknown ids are simply absent from the result.
func (db *DB) GetRelationships(ctx context.Context, ids []string) (map[string]domain.Relationship, error) {
	out := make(map[string]domain.Relationship, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT id, source_entity_id, target_entity_id, relationship_type,
		       strength_score, occurrence_count, supporting_finding_ids,
		       first_seen_at, last_seen_at
		FROM relationships
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get relationships: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r domain.Relationship

		if err := rows.Scan(&r.ID, &r.SourceEntityID, &r.TargetEntityID,
			&r.RelationshipType, &r.StrengthScore, &r.OccurrenceCount,
			&r.SupportingFindingIDs, &r.FirstSeenAt, &r.LastSeenAt); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}

		out[r.ID] = r
	}

	return out, rows.Err() //nolint:wrapcheck
}

// UpsertRelationships writes a batch of merged edges. The caller has already
// folded new observations into the running mean, so the row is replaced
// wholesale.
func (db *DB) UpsertRelationships(ctx context.Context, edges []domain.Relationship) error {
	if len(edges) == 0 {
		return nil
	}

	batch := &pgx.Batch{}

	for i := range edges {
		r := &edges[i]
		batch.Queue(`
			INSERT INTO relationships (
				id, source_entity_id, target_entity_id, relationship_type,
				strength_score, occurrence_count, supporting_finding_ids,
				first_seen_at, last_seen_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				strength_score = EXCLUDED.strength_score,
				occurrence_count = EXCLUDED.occurrence_count,
				supporting_finding_ids = EXCLUDED.supporting_finding_ids,
				last_seen_at = EXCLUDED.last_seen_at`,
			r.ID, r.SourceEntityID, r.TargetEntityID, r.RelationshipType,
			r.StrengthScore, r.OccurrenceCount, r.SupportingFindingIDs,
			toTimestamptz(r.FirstSeenAt), toTimestamptz(r.LastSeenAt))
	}

	if err := db.Pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert relationships: %w", err)
	}

	return nil
}
