// Package snapshot aggregates one day's findings into per-entity metric
// snapshots. Regenerating the same day is an idempotent overwrite.
package snapshot

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/signalworks/intelgraph/internal/core/domain"
	"github.com/signalworks/intelgraph/internal/platform/observability"
	"github.com/signalworks/intelgraph/internal/storage"
)

// Sub-score weights. Attention and activity scale with the analyzer's value
// scores; demand scales with the plain count of talent-flow findings. The
// composite is a fixed linear combination. All four are capped at 100.
const (
	attentionWeight = 4
	activityWeight  = 4
	demandWeight    = 10

	influenceAttentionShare = 0.40
	influenceActivityShare  = 0.35
	influenceDemandShare    = 0.25

	maxScore = 100

	dateLayout = "2006-01-02"
)

// innovationSources are the collections whose findings count toward the
// innovation-activity sub-score.
var innovationSources = map[domain.TaskType]bool{
	domain.TaskTypePaper:  true,
	domain.TaskTypePatent: true,
	domain.TaskTypeRepo:   true,
}

// Repository is the datastore surface of the snapshot generator.
type Repository interface {
	FindingsBetween(ctx context.Context, from, to time.Time) ([]domain.Finding, error)
	UpsertSnapshots(ctx context.Context, snapshots []domain.DailySnapshot) error
}

var _ Repository = (*storage.DB)(nil)

// Generator builds daily snapshots.
type Generator struct {
	repo   Repository
	logger *zerolog.Logger
}

func New(repo Repository, logger *zerolog.Logger) *Generator {
	return &Generator{repo: repo, logger: logger}
}

// Run generates snapshots for the UTC day containing the given moment.
func (g *Generator) Run(ctx context.Context, day time.Time) (int, error) {
	from := day.UTC().Truncate(24 * time.Hour)
	to := from.AddDate(0, 0, 1)

	findings, err := g.repo.FindingsBetween(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("load day findings: %w", err)
	}

	snapshots := Aggregate(findings, from)
	if len(snapshots) == 0 {
		g.logger.Info().Str("date", from.Format(dateLayout)).Msg("no findings to snapshot")

		return 0, nil
	}

	if err := g.repo.UpsertSnapshots(ctx, snapshots); err != nil {
		return 0, fmt.Errorf("upsert snapshots: %w", err)
	}

	observability.SnapshotsWritten.Add(float64(len(snapshots)))

	g.logger.Info().
		Str("date", from.Format(dateLayout)).
		Int("findings", len(findings)).
		Int("snapshots", len(snapshots)).
		Msg("daily snapshots written")

	return len(snapshots), nil
}

// Aggregate partitions findings by linked entity and computes the metric
// snapshot for each. Pure function; the result is ordered by entity id.
func Aggregate(findings []domain.Finding, date time.Time) []domain.DailySnapshot {
	type tally struct {
		attention float32
		activity  float32
		demand    float32
		count     int
	}

	perEntity := make(map[string]*tally)

	for i := range findings {
		f := &findings[i]

		for _, entityID := range f.LinkedEntityIDs {
			entry, ok := perEntity[entityID]
			if !ok {
				entry = &tally{}
				perEntity[entityID] = entry
			}

			entry.count++

			switch {
			case f.TaskType == domain.TaskTypeNews:
				entry.attention += float32(f.ValueScore * attentionWeight)
			case innovationSources[f.TaskType]:
				entry.activity += float32(f.ValueScore * activityWeight)
			case f.TaskType == domain.TaskTypeJob:
				entry.demand += demandWeight
			}
		}
	}

	dateKey := date.Format(dateLayout)

	snapshots := make([]domain.DailySnapshot, 0, len(perEntity))

	for entityID, entry := range perEntity {
		attention := capScore(entry.attention)
		activity := capScore(entry.activity)
		demand := capScore(entry.demand)

		snapshots = append(snapshots, domain.DailySnapshot{
			ID:                   domain.SnapshotID(entityID, dateKey),
			EntityID:             entityID,
			SnapshotDate:         date,
			InfluenceScore:       capScore(influenceAttentionShare*attention + influenceActivityShare*activity + influenceDemandShare*demand),
			MarketAttentionScore: attention,
			InnovationActivity:   activity,
			TalentDemandScore:    demand,
			RelatedFindingsCount: entry.count,
		})
	}

	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].EntityID < snapshots[j].EntityID })

	return snapshots
}

func capScore(v float32) float32 {
	if v > maxScore {
		return maxScore
	}

	return v
}
