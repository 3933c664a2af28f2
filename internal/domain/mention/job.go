package mention

import (
	"time"

	"github.com/google/uuid"
)

// DispatchJob is one unit of downstream work. It is created exactly once,
// by whichever source won the claim on its event, and may be delivered more
// than once by the queue's retry policy.
type DispatchJob struct {
	JobID         uuid.UUID `json:"job_id"`
	Event         Event     `json:"event"`
	DiscoveredVia Source    `json:"discovered_via"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	Attempt       int       `json:"attempt"`
}

// NewDispatchJob builds a first-attempt job for a freshly claimed event.
func NewDispatchJob(ev Event, via Source) *DispatchJob {
	return &DispatchJob{
		JobID:         uuid.New(),
		Event:         ev,
		DiscoveredVia: via,
		EnqueuedAt:    time.Now().UTC(),
		Attempt:       1,
	}
}
