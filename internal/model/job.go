package model

import "time"

// JobStatus represents the scheduler state of a processing job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further chunk advances.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is one submitted property list moving through chunked scanning.
// The scheduler owns all writes; CurrentChunk is monotonically non-decreasing
// and equals TotalChunks only in a terminal state.
type Job struct {
	ID           string     `json:"id"`
	ContactID    string     `json:"contact_id"`
	Status       JobStatus  `json:"status"`
	Properties   []Property `json:"properties"`
	TotalChunks  int        `json:"total_chunks"`
	CurrentChunk int        `json:"current_chunk"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Chunk returns the property slice for chunk index k given the chunk size.
// Out-of-range indexes return an empty slice.
func (j *Job) Chunk(k, size int) []Property {
	if size <= 0 || k < 0 {
		return nil
	}
	start := k * size
	if start >= len(j.Properties) {
		return nil
	}
	end := start + size
	if end > len(j.Properties) {
		end = len(j.Properties)
	}
	return j.Properties[start:end]
}

// TotalChunksFor computes ceil(n / size).
func TotalChunksFor(n, size int) int {
	if n <= 0 || size <= 0 {
		return 0
	}
	return (n + size - 1) / size
}
