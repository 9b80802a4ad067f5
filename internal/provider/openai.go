package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/me/batchpoll/pkg/model"
)

const opBatchGet = "openai.batches.get"

// batchStates maps every known OpenAI batch status. Anything else is malformed.
var batchStates = map[string]State{
	"validating":  StateRunning,
	"in_progress": StateRunning,
	"finalizing":  StateRunning,
	"cancelling":  StateRunning,
	"completed":   StateSucceeded,
	"failed":      StateErrored,
	"expired":     StateErrored,
	"cancelled":   StateErrored,
}

// OpenAIClient queries batch status from the OpenAI Batch API.
type OpenAIClient struct {
	baseURL string
	caller  caller
}

// NewOpenAIClient creates a status client. BaseURL defaults to the public API.
func NewOpenAIClient(opts Options, logger *slog.Logger) *OpenAIClient {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		baseURL: base,
		caller:  newCaller(opts, logger.With("component", "openai-client")),
	}
}

type batchResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	RequestCounts *struct {
		Total     int `json:"total"`
		Completed int `json:"completed"`
		Failed    int `json:"failed"`
	} `json:"request_counts"`
	Errors *struct {
		Data []struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"data"`
	} `json:"errors"`
}

// QueryStatus implements StatusClient.
func (c *OpenAIClient) QueryStatus(ctx context.Context, handle string, cred model.Credential) (StatusResult, error) {
	oc, ok := cred.(model.OpenAICredential)
	if !ok {
		return StatusResult{}, wrongCredential(opBatchGet, cred)
	}

	body, _, err := c.caller.do(ctx, opBatchGet, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/batches/"+url.PathEscape(handle), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+oc.APIKey)
		if oc.Organization != "" {
			req.Header.Set("OpenAI-Organization", oc.Organization)
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return StatusResult{}, err
	}

	var br batchResponse
	if err := json.Unmarshal(body, &br); err != nil {
		return StatusResult{}, malformed(opBatchGet, "decode: %v", err)
	}
	state, ok := batchStates[br.Status]
	if !ok {
		return StatusResult{}, malformed(opBatchGet, "unknown batch status %q", br.Status)
	}
	return StatusResult{State: state, Detail: describeBatch(br)}, nil
}

func describeBatch(br batchResponse) string {
	var b strings.Builder
	b.WriteString(br.Status)
	if rc := br.RequestCounts; rc != nil && rc.Total > 0 {
		fmt.Fprintf(&b, " (%d/%d completed, %d failed)", rc.Completed, rc.Total, rc.Failed)
	}
	if br.Errors != nil && len(br.Errors.Data) > 0 {
		e := br.Errors.Data[0]
		fmt.Fprintf(&b, ": %s %s", e.Code, e.Message)
	}
	return b.String()
}
