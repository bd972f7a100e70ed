package agent

import (
	"github.com/google/uuid"

	"github.com/aseven02/streamget/internal/capture"
	"github.com/aseven02/streamget/internal/douyin"
	"github.com/aseven02/streamget/internal/progress"
	"github.com/aseven02/streamget/pkg/metrics"
)

// hubNotifier bridges orchestrator progress into the event hub and the
// agent metrics. One notifier exists per job so events carry the job id.
type hubNotifier struct {
	runID   uuid.UUID
	roomURL string
	hub     *progress.Hub
	metrics *metrics.Metrics
}

func (n *hubNotifier) RunResolved(meta douyin.RoomMetadata) {
	n.hub.Publish(progress.Event{
		Type:       progress.EventRunResolved,
		RunID:      n.runID,
		RoomURL:    n.roomURL,
		AnchorName: meta.AnchorName,
		RoomStatus: meta.Status.String(),
	})
}

func (n *hubNotifier) SessionStarted(q douyin.Quality) {
	n.metrics.SessionStarted()
	n.hub.Publish(progress.Event{
		Type:    progress.EventSessionStarted,
		RunID:   n.runID,
		RoomURL: n.roomURL,
		Quality: q,
	})
}

func (n *hubNotifier) SessionFinished(out capture.Outcome) {
	n.metrics.SessionFinished(string(out.Status))
	n.hub.Publish(progress.Event{
		Type:    progress.EventSessionFinished,
		RunID:   n.runID,
		RoomURL: n.roomURL,
		Quality: out.Quality,
		Status:  out.Status,
		Detail:  out.ErrorDetail,
	})
}
