package models

import "time"

// JobState tracks where a refresh currently is.
type JobState string

const (
	JobFetching   JobState = "fetching"
	JobExtracting JobState = "extracting"
	JobAugmenting JobState = "augmenting"
	JobAssembling JobState = "assembling"
	JobStoring    JobState = "storing"
	JobDone       JobState = "done"
	JobFailed     JobState = "failed"
)

// Job is the in-flight record of one refresh. It only lives while the
// refresh runs.
type Job struct {
	ID        string    `json:"id"`
	Ref       RepoRef   `json:"ref"`
	State     JobState  `json:"state"`
	Error     string    `json:"error,omitempty"`
	UseLLM    bool      `json:"useLlm"`
	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
