package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/me/batchpoll/pkg/model"
)

const opJobCreate = "keboola.jobs.create"

// TagPrefix prefixes the tag attached to every triggered run.
const TagPrefix = "batchpoll-"

// KeboolaClient fires configuration runs through the Keboola Storage API.
type KeboolaClient struct {
	caller caller
}

// NewKeboolaClient creates a trigger client. The stack URL comes from each
// job's target, so Options.BaseURL is ignored here.
func NewKeboolaClient(opts Options, logger *slog.Logger) *KeboolaClient {
	return &KeboolaClient{caller: newCaller(opts, logger.With("component", "keboola-client"))}
}

type jobRequest struct {
	Config    string `json:"config"`
	Component string `json:"component,omitempty"`
	Tag       string `json:"tag"`
}

type jobResponse struct {
	ID     json.RawMessage `json:"id"`
	Status string          `json:"status"`
	URL    string          `json:"url"`
	RunID  string          `json:"runId"`
}

// TriggerCompletion implements Trigger.
func (c *KeboolaClient) TriggerCompletion(ctx context.Context, jobID string, cred model.Credential, target model.Target) (TriggerResult, error) {
	kc, ok := cred.(model.KeboolaCredential)
	if !ok {
		return TriggerResult{}, wrongCredential(opJobCreate, cred)
	}
	if !target.IsComplete() {
		return TriggerResult{}, &Error{Op: opJobCreate, Message: "incomplete target"}
	}

	payload, err := json.Marshal(jobRequest{
		Config:    target.ConfigurationID,
		Component: target.ComponentID,
		Tag:       TagPrefix + jobID,
	})
	if err != nil {
		return TriggerResult{}, &Error{Op: opJobCreate, Message: "encode request", Err: err}
	}
	endpoint := strings.TrimRight(target.StackURL, "/") + "/v2/storage/jobs"

	body, _, err := c.caller.do(ctx, opJobCreate, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-StorageApi-Token", kc.Token)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return TriggerResult{}, err
	}

	var jr jobResponse
	if err := json.Unmarshal(body, &jr); err != nil {
		return TriggerResult{}, malformed(opJobCreate, "decode: %v", err)
	}
	id := rawID(jr.ID)
	if id == "" {
		return TriggerResult{}, malformed(opJobCreate, "no job id in response")
	}

	detail := "run " + id
	if jr.Status != "" {
		detail += " " + jr.Status
	}
	if jr.URL != "" {
		detail += " " + jr.URL
	}
	return TriggerResult{RunID: id, Detail: detail}, nil
}

// rawID accepts the id as either a JSON string or number.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
