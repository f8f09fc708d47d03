package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RetentionRowsDeleted counts rows removed per retention category.
	RetentionRowsDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailquill_retention_rows_deleted_total",
		Help: "Rows deleted by retention cleanup, per category.",
	}, []string{"category"})

	// RetentionRuns counts cleanup passes by outcome.
	RetentionRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailquill_retention_runs_total",
		Help: "Retention cleanup passes by outcome (ok, safety_failed, error).",
	}, []string{"outcome"})

	// RetentionCampaignsSkipped counts campaigns the safety verifier kept.
	RetentionCampaignsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailquill_retention_campaigns_skipped_total",
		Help: "Completed campaigns skipped by the archive safety check.",
	})

	// TrackingEventsEnqueued counts ingress events handed to the queue.
	TrackingEventsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailquill_tracking_events_enqueued_total",
		Help: "Tracking events enqueued from the ingress path, per type.",
	}, []string{"type"})

	// FollowUpJobsScheduled counts delayed follow-up jobs created.
	FollowUpJobsScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailquill_followup_jobs_scheduled_total",
		Help: "Follow-up step jobs enqueued.",
	})
)
