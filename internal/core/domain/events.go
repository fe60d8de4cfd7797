package domain

// StatusEvent is pushed to the owning user's sockets as a job moves
// through its lifecycle. Fields are omitted when they do not apply to
// the given status.
type StatusEvent struct {
	JobID     JobID     `json:"job_id"`
	Status    JobStatus `json:"status"`
	Position  *int      `json:"position,omitempty"`
	Progress  *float64  `json:"progress,omitempty"`
	ImagePath string    `json:"image_path,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// StatusCancelling is event-only: a running job that received a cancel
// request stays "running" in the registry until the upstream lets go.
const StatusCancelling JobStatus = "cancelling"
