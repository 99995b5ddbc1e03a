package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/signalworks/intelgraph/internal/core/domain"
)

// UpsertSnapshots writes one day's snapshots. The (entity, date) derived id
// is the primary key, so regenerating a day overwrites it.
func (db *DB) UpsertSnapshots(ctx context.Context, snapshots []domain.DailySnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	batch := &pgx.Batch{}

	for i := range snapshots {
		s := &snapshots[i]
		batch.Queue(`
			INSERT INTO daily_snapshots (
				id, entity_id, snapshot_date, influence_score,
				market_attention_score, innovation_activity,
				talent_demand_score, related_findings_count
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				influence_score = EXCLUDED.influence_score,
				market_attention_score = EXCLUDED.market_attention_score,
				innovation_activity = EXCLUDED.innovation_activity,
				talent_demand_score = EXCLUDED.talent_demand_score,
				related_findings_count = EXCLUDED.related_findings_count`,
			s.ID, s.EntityID, s.SnapshotDate, s.InfluenceScore,
			s.MarketAttentionScore, s.InnovationActivity,
			s.TalentDemandScore, s.RelatedFindingsCount)
	}

	if err := db.Pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert snapshots: %w", err)
	}

	return nil
}
