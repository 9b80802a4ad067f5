// Package provider talks to the upstream batch API (status queries) and the
// downstream job API (completion triggers).
package provider

import (
	"context"

	"github.com/me/batchpoll/pkg/model"
)

// State is the normalized upstream batch state.
type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateErrored   State = "errored"
)

// StatusResult is a successful status observation. Detail carries the raw
// upstream status and any error message it reported.
type StatusResult struct {
	State  State
	Detail string
}

// TriggerResult acknowledges a completion trigger.
type TriggerResult struct {
	RunID  string
	Detail string
}

// StatusClient queries the state of an upstream batch.
type StatusClient interface {
	QueryStatus(ctx context.Context, handle string, cred model.Credential) (StatusResult, error)
}

// Trigger starts the downstream run for a finished batch. jobID is used to
// tag the run so it can be traced back.
type Trigger interface {
	TriggerCompletion(ctx context.Context, jobID string, cred model.Credential, target model.Target) (TriggerResult, error)
}
