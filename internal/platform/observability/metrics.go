package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intelgraph_tasks_processed_total",
		Help: "The total number of queue tasks processed by the pipeline",
	}, []string{"task_type", "status"})

	QueueBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "intelgraph_queue_backlog_size",
		Help: "Number of pending tasks in the queue",
	})

	PipelineBatchDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "intelgraph_pipeline_batch_duration_seconds",
		Help:    "Duration in seconds to process one pipeline batch",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
	})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "intelgraph_llm_request_duration_seconds",
		Help:    "Duration of LLM requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})

	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intelgraph_llm_requests_total",
		Help: "Total number of LLM requests",
	}, []string{"task", "status"})

	EmbeddingRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intelgraph_embedding_requests_total",
		Help: "Total number of embedding batch requests",
	}, []string{"status"})

	EntitiesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intelgraph_entities_created_total",
		Help: "Total number of new registry entities created by the resolver",
	}, []string{"entity_type"})

	EvidenceWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intelgraph_evidence_written_total",
		Help: "Total number of evidence records written",
	}, []string{"task_type"})

	EvidenceDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "intelgraph_evidence_deduplicated_total",
		Help: "Total number of tasks dropped as duplicates of existing evidence",
	})

	FindingsAnalyzed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intelgraph_findings_analyzed_total",
		Help: "Total number of findings processed by the relationship extractor",
	}, []string{"status"})

	EdgesUpserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "intelgraph_graph_edges_upserted_total",
		Help: "Total number of relationship edges flushed to the datastore",
	})

	HierarchyClassified = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intelgraph_hierarchy_classified_total",
		Help: "Total number of orphan technology entities visited by the hierarchy classifier",
	}, []string{"result"})

	SnapshotsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "intelgraph_snapshots_written_total",
		Help: "Total number of daily entity snapshots upserted",
	})

	TasksHarvested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intelgraph_tasks_harvested_total",
		Help: "Total number of tasks enqueued by the harvester",
	}, []string{"task_type", "status"})

	SweepCheckpointPosition = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "intelgraph_sweep_checkpoint_position",
		Help: "Last persisted cursor position of the entity normalization sweep",
	}, []string{"entity_type"})
)
