package core

import (
	"time"

	"go.uber.org/zap"
)

// Lifecycle event types published to the sink.
const (
	EventPlanSubmitted = "plan_submitted"
	EventStageStarted  = "stage_started"
	EventStageComplete = "stage_complete"
	EventStageFailed   = "stage_failed"
	EventShardFailed   = "shard_failed"
	EventSLOBreach     = "slo_breach"
	EventPlanComplete  = "plan_complete"
	EventPlanFailed    = "plan_failed"
	EventPlanAborted   = "plan_aborted"
)

// Event is a fire-and-forget lifecycle notification.
type Event struct {
	Type      string         `json:"type"`
	PlanID    string         `json:"plan_id"`
	StageID   string         `json:"stage_id,omitempty"`
	CASID     string         `json:"cas_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventSink receives lifecycle notifications. Publish must not block the
// orchestrator; slow consumers should buffer or drop.
type EventSink interface {
	Publish(Event)
}

// SinkFunc adapts a function to the EventSink interface.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// NewLogSink returns a sink that writes events to the logger.
func NewLogSink(logger *zap.Logger) EventSink {
	return SinkFunc(func(e Event) {
		logger.Info("lifecycle event",
			zap.String("type", e.Type),
			zap.String("plan_id", e.PlanID),
			zap.String("stage_id", e.StageID),
			zap.String("cas_id", e.CASID),
			zap.String("message", e.Message))
	})
}

// nopSink drops events.
type nopSink struct{}

func (nopSink) Publish(Event) {}
