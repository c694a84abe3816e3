package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task metrics
	TasksQueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_tasks_queued_total",
			Help: "Total number of tasks queued by workload type",
		},
		[]string{"workload"},
	)

	TasksCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_tasks_completed_total",
			Help: "Total number of terminal task results by status",
		},
		[]string{"status"},
	)

	TasksRelayed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_tasks_relayed_total",
			Help: "Total number of worker-originated sub-requests re-dispatched by the controller",
		},
	)

	// Pool metrics
	PoolWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_pool_workers",
			Help: "Current number of live workers by pool workload type",
		},
		[]string{"workload"},
	)

	WorkersSpawned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_workers_spawned_total",
			Help: "Total number of worker processes spawned by workload type",
		},
		[]string{"workload"},
	)

	// Blobstore metrics
	BlobstoreRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_blobstore_requests_total",
			Help: "Total number of dynamic content requests by outcome (hit, miss)",
		},
		[]string{"outcome"},
	)

	BlobstoreGenerations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_blobstore_generations_total",
			Help: "Total number of content generations by result (ok, error)",
		},
		[]string{"result"},
	)
)

// Register registers all relay metrics with the default registry.
// Safe to call once per process.
func Register() {
	prometheus.MustRegister(
		TasksQueued,
		TasksCompleted,
		TasksRelayed,
		PoolWorkers,
		WorkersSpawned,
		BlobstoreRequests,
		BlobstoreGenerations,
	)
}

// Handler returns the HTTP handler for scraping metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
