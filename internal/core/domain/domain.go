// Package domain defines the core records of the intelligence pipeline:
// queued tasks, analyzed evidence, findings, the entity registry, the
// relationship graph and daily snapshots.
package domain

import "time"

// TaskType identifies the harvester source a task came from.
type TaskType string

const (
	TaskTypeNews   TaskType = "news"
	TaskTypePaper  TaskType = "paper"
	TaskTypePatent TaskType = "patent"
	TaskTypeRepo   TaskType = "repo"
	TaskTypeJob    TaskType = "job"
)

// AllTaskTypes lists every known source kind in a stable order.
var AllTaskTypes = []TaskType{TaskTypeNews, TaskTypePaper, TaskTypePatent, TaskTypeRepo, TaskTypeJob}

// EntityType identifies the kind of real-world concept an entity represents.
type EntityType string

const (
	EntityTypeCompany    EntityType = "company"
	EntityTypeTechnology EntityType = "technology"
	EntityTypePerson     EntityType = "person"
	EntityTypeProduct    EntityType = "product"
)

// AllEntityTypes lists every entity type in a stable order.
var AllEntityTypes = []EntityType{EntityTypeCompany, EntityTypeTechnology, EntityTypePerson, EntityTypeProduct}

// Entity monitoring statuses. merged_into is terminal: the entity has been
// absorbed into another and its aliases point at the survivor.
const (
	EntityStatusPendingReview = "pending_review"
	EntityStatusNormalized    = "normalized"
	EntityStatusEnriched      = "enriched"
	EntityStatusActive        = "active"
	EntityStatusMergedInto    = "merged_into"
)

// Finding statuses. A finding only ever moves forward from signal_identified.
const (
	FindingStatusSignalIdentified = "signal_identified"
	FindingStatusAnalyzed         = "analyzed"
	FindingStatusAnalysisFailed   = "analysis_failed"
)

// TaskPayload is the common envelope shared by every harvester source.
// Per-source extras are decoded separately by task type.
type TaskPayload struct {
	Title           string    `json:"title"`
	Summary         string    `json:"summary"`
	URL             string    `json:"url"`
	PublicationDate time.Time `json:"publication_date"`
	TriggerEntityID string    `json:"trigger_entity_id,omitempty"`
	SourceID        string    `json:"source_id,omitempty"`
}

// Task is one harvested raw item awaiting AI analysis. The queue owns it
// until the pipeline deletes it at end of run.
type Task struct {
	ID        string
	TaskType  TaskType
	Payload   TaskPayload
	CreatedAt time.Time
}

// Analysis is the per-task result of the batched AI scoring call.
// Candidate name lists arrive unsanitized and must pass SanitizeTerms
// before resolution.
type Analysis struct {
	ValueScore          int
	Summary             string
	Keywords            []string
	CandidateCompanies  []string
	CandidateTechnology []string
	CandidatePersons    []string
	CandidateProducts   []string
}

// Candidates returns the candidate name lists keyed by entity type.
func (a *Analysis) Candidates() map[EntityType][]string {
	return map[EntityType][]string{
		EntityTypeCompany:    a.CandidateCompanies,
		EntityTypeTechnology: a.CandidateTechnology,
		EntityTypePerson:     a.CandidatePersons,
		EntityTypeProduct:    a.CandidateProducts,
	}
}

// ChainEntry is one link in an evidence chain: a temporally-near record in
// another source collection that shares at least one linked entity.
type ChainEntry struct {
	EvidenceID  string    `json:"evidence_id"`
	TaskType    TaskType  `json:"task_type"`
	Title       string    `json:"title"`
	PublishedAt time.Time `json:"published_at"`
}

// Evidence is the immutable analyzed representation of one task.
type Evidence struct {
	ID              string
	TaskID          string
	TaskType        TaskType
	SourceID        string
	Title           string
	URL             string
	AISummary       string
	AIKeywords      []string
	AIValueScore    int
	Embedding       []float32
	HasEmbedding    bool
	LinkedEntityIDs []string
	EvidenceChain   []ChainEntry
	PublishedAt     time.Time
	DedupHash       string
	CreatedAt       time.Time
}

// Finding is the mutable analytical wrapper around an evidence record,
// tracked through the signal_identified state machine.
type Finding struct {
	ID                string
	PrimaryEvidenceID string
	TaskType          TaskType
	Summary           string
	ValueScore        int
	LinkedEntityIDs   []string
	EvidenceChain     []ChainEntry
	Status            string
	StatusNote        string
	PublishedAt       time.Time
	CreatedAt         time.Time
}

// Entity is a canonical registry row. The ID is derived from the primary
// name, so the same name always resolves to the same ID before any merge.
type Entity struct {
	ID               string
	PrimaryName      string
	EntityType       EntityType
	Aliases          []string
	ParentID         string
	MergedIntoID     string
	MonitoringStatus string
	Summary          string
	LastAIProcessed  time.Time
	AINote           string
	CreatedAt        time.Time
}

// Relationship is a weighted, undirected-by-construction graph edge.
// StrengthScore is the running mean of all observed extraction strengths;
// OccurrenceCount is the number of observations folded into that mean.
type Relationship struct {
	ID                   string
	SourceEntityID       string
	TargetEntityID       string
	RelationshipType     string
	StrengthScore        float32
	OccurrenceCount      int
	SupportingFindingIDs []string
	FirstSeenAt          time.Time
	LastSeenAt           time.Time
}

// Observe folds one extraction-strength observation into the running mean.
func (r *Relationship) Observe(strength float32, findingID string, seenAt time.Time) {
	old := float64(r.StrengthScore) * float64(r.OccurrenceCount)
	r.OccurrenceCount++
	r.StrengthScore = float32((old + float64(strength)) / float64(r.OccurrenceCount))

	if findingID != "" && !containsString(r.SupportingFindingIDs, findingID) {
		r.SupportingFindingIDs = append(r.SupportingFindingIDs, findingID)
	}

	if seenAt.After(r.LastSeenAt) {
		r.LastSeenAt = seenAt
	}
}

// DailySnapshot aggregates one entity's findings for one day.
// One row per (entity, date); regenerating the same day overwrites it.
type DailySnapshot struct {
	ID                   string
	EntityID             string
	SnapshotDate         time.Time
	InfluenceScore       float32
	MarketAttentionScore float32
	InnovationActivity   float32
	TalentDemandScore    float32
	RelatedFindingsCount int
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}

	return false
}
