package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/signalworks/intelgraph/internal/core/domain"
)

const entityColumns = `id, primary_name, entity_type, aliases, parent_id,
	merged_into_id, monitoring_status, summary, last_ai_processed, ai_note,
	created_at`

// ListLiveEntities returns every entity that has not been merged away. The
// pipeline loads this once per run to seed its resolution dictionary.
func (db *DB) ListLiveEntities(ctx context.Context) ([]domain.Entity, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+entityColumns+`
		FROM entities
		WHERE monitoring_status <> $1
		ORDER BY id`,
		domain.EntityStatusMergedInto)
	if err != nil {
		return nil, fmt.Errorf("list live entities: %w", err)
	}
	defer rows.Close()

	return scanEntities(rows)
}

// CreateEntities inserts new registry rows. Ids are derived from primary
// names, so a concurrent writer producing the same entity is a no-op here.
func (db *DB) CreateEntities(ctx context.Context, entities []domain.Entity) error {
	if len(entities) == 0 {
		return nil
	}

	batch := &pgx.Batch{}

	for i := range entities {
		e := &entities[i]
		batch.Queue(`
			INSERT INTO entities (
				id, primary_name, entity_type, aliases, parent_id,
				merged_into_id, monitoring_status, summary, ai_note
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING`,
			e.ID, e.PrimaryName, string(e.EntityType), e.Aliases,
			toText(e.ParentID), toText(e.MergedIntoID), e.MonitoringStatus,
			toText(e.Summary), toText(e.AINote))
	}

	if err := db.Pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("create entities: %w", err)
	}

	return nil
}

// GetEntitiesByIDs returns the entities for the given ids, skipping unknown
// ones.
func (db *DB) GetEntitiesByIDs(ctx context.Context, ids []string) ([]domain.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT `+entityColumns+`
		FROM entities
		WHERE id = ANY($1)
		ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("entities by ids: %w", err)
	}
	defer rows.Close()

	return scanEntities(rows)
}

// ListEntitiesPage returns one page of the entity backlog for a type,
// ordered by id so a checkpointed sweep sees a stable sequence.
func (db *DB) ListEntitiesPage(ctx context.Context, entityType domain.EntityType, offset, limit int) ([]domain.Entity, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+entityColumns+`
		FROM entities
		WHERE entity_type = $1 AND monitoring_status <> $2
		ORDER BY id
		OFFSET $3 LIMIT $4`,
		string(entityType), domain.EntityStatusMergedInto, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list entities page: %w", err)
	}
	defer rows.Close()

	return scanEntities(rows)
}

// ListOrphanTechnologies returns technologies with no parent that the
// hierarchy classifier has not visited yet.
func (db *DB) ListOrphanTechnologies(ctx context.Context, limit int) ([]domain.Entity, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+entityColumns+`
		FROM entities
		WHERE entity_type = $1
		  AND monitoring_status <> $2
		  AND parent_id IS NULL
		  AND last_ai_processed IS NULL
		ORDER BY created_at, id
		LIMIT $3`,
		string(domain.EntityTypeTechnology), domain.EntityStatusMergedInto, limit)
	if err != nil {
		return nil, fmt.Errorf("list orphan technologies: %w", err)
	}
	defer rows.Close()

	return scanEntities(rows)
}

// ListParentCandidates returns technologies usable as taxonomy parents:
// ones already classified under a parent or already serving as one.
func (db *DB) ListParentCandidates(ctx context.Context, limit int) ([]domain.Entity, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+entityColumns+`
		FROM entities e
		WHERE e.entity_type = $1
		  AND e.monitoring_status <> $2
		  AND (e.parent_id IS NOT NULL
		       OR EXISTS (SELECT 1 FROM entities c WHERE c.parent_id = e.id))
		ORDER BY e.id
		LIMIT $3`,
		string(domain.EntityTypeTechnology), domain.EntityStatusMergedInto, limit)
	if err != nil {
		return nil, fmt.Errorf("list parent candidates: %w", err)
	}
	defer rows.Close()

	return scanEntities(rows)
}

// SetEntityParent attaches a technology to its taxonomy parent and stamps
// the AI visit.
func (db *DB) SetEntityParent(ctx context.Context, id, parentID string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE entities
		SET parent_id = $2, last_ai_processed = now(), ai_note = NULL
		WHERE id = $1`,
		id, parentID)
	if err != nil {
		return fmt.Errorf("set entity parent: %w", err)
	}

	return nil
}

// StampEntityVisited records an AI pass over an entity without changing it,
// so the classifier does not reconsider the same orphan every cycle.
func (db *DB) StampEntityVisited(ctx context.Context, id, note string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE entities SET last_ai_processed = now(), ai_note = $2 WHERE id = $1`,
		id, toText(note))
	if err != nil {
		return fmt.Errorf("stamp entity visited: %w", err)
	}

	return nil
}

// MarkEntityNormalized promotes a reviewed entity and stores its alias set.
func (db *DB) MarkEntityNormalized(ctx context.Context, id string, aliases []string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE entities
		SET monitoring_status = $2, aliases = $3
		WHERE id = $1 AND monitoring_status = $4`,
		id, domain.EntityStatusNormalized, aliases, domain.EntityStatusPendingReview)
	if err != nil {
		return fmt.Errorf("mark entity normalized: %w", err)
	}

	return nil
}

// MergeEntities folds duplicate entities into a survivor inside one
// transaction: losers are tombstoned with merged_into pointers, the survivor
// absorbs the alias set and is promoted out of pending_review.
func (db *DB) MergeEntities(ctx context.Context, survivorID string, mergedIDs, survivorAliases []string) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin merge: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if len(mergedIDs) > 0 {
		if _, err := tx.Exec(ctx, `
			UPDATE entities
			SET monitoring_status = $2, merged_into_id = $3
			WHERE id = ANY($1)`,
			mergedIDs, domain.EntityStatusMergedInto, survivorID); err != nil {
			return fmt.Errorf("tombstone merged entities: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE entities
		SET aliases = $2,
		    monitoring_status = CASE WHEN monitoring_status = $3 THEN $4 ELSE monitoring_status END
		WHERE id = $1`,
		survivorID, survivorAliases,
		domain.EntityStatusPendingReview, domain.EntityStatusNormalized); err != nil {
		return fmt.Errorf("update merge survivor: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit merge: %w", err)
	}

	return nil
}

type entityRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEntities(rows entityRows) ([]domain.Entity, error) {
	var entities []domain.Entity

	for rows.Next() {
		var (
			e                    domain.Entity
			parentID, mergedInto pgtype.Text
			summary, aiNote      pgtype.Text
			lastProcessed        pgtype.Timestamptz
		)

		if err := rows.Scan(&e.ID, &e.PrimaryName, &e.EntityType, &e.Aliases,
			&parentID, &mergedInto, &e.MonitoringStatus, &summary,
			&lastProcessed, &aiNote, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}

		e.ParentID = fromText(parentID)
		e.MergedIntoID = fromText(mergedInto)
		e.Summary = fromText(summary)
		e.AINote = fromText(aiNote)
		e.LastAIProcessed = fromTimestamptz(lastProcessed)

		entities = append(entities, e)
	}

	return entities, rows.Err() //nolint:wrapcheck
}
