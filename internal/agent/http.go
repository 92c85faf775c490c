package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// RemoteRequest is the body POSTed to a remote agent.
type RemoteRequest struct {
	Task    string `json:"task"`
	SubGoal string `json:"sub_goal"`
	SubTask string `json:"sub_task"`
	Round   int    `json:"round"`
	Context string `json:"context,omitempty"`
}

// RemoteResponse is the body a remote agent answers with.
type RemoteResponse struct {
	Output string `json:"output"`
	// Status is "success" (default), "partial" or "error".
	Status string `json:"status,omitempty"`
}

// HTTP is an agent reached over HTTP.
type HTTP struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
}

// NewHTTP creates a remote agent posting to url. A nil client uses http.DefaultClient.
func NewHTTP(name, url string, headers map[string]string, client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{name: name, url: url, headers: headers, client: client}
}

// Invoke posts the sub-task and decodes the reply.
func (a *HTTP) Invoke(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(RemoteRequest{
		Task:    req.Task,
		SubGoal: req.SubGoalID,
		SubTask: req.SubTask,
		Round:   req.Round,
		Context: renderContext(req),
	})
	if err != nil {
		return Response{}, fmt.Errorf("%s: encode request: %w: %v", a.name, ErrExecution, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("%s: build request: %w: %v", a.name, ErrExecution, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range a.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, fmt.Errorf("%s: %w: %v", a.name, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Response{}, fmt.Errorf("%s: read response: %w: %v", a.name, ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusGatewayTimeout || resp.StatusCode == http.StatusRequestTimeout:
		return Response{}, fmt.Errorf("%s: status %d: %w", a.name, resp.StatusCode, ErrTimeout)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return Response{}, fmt.Errorf("%s: status %d: %w", a.name, resp.StatusCode, ErrUnavailable)
	case resp.StatusCode >= 400:
		return Response{}, fmt.Errorf("%s: status %d: %w: %s", a.name, resp.StatusCode, ErrExecution, strings.TrimSpace(string(raw)))
	}

	var out RemoteResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Response{}, fmt.Errorf("%s: decode response: %w: %v", a.name, ErrExecution, err)
	}
	switch out.Status {
	case "", "success":
		return Response{Payload: out.Output}, nil
	case "partial":
		return Response{Payload: out.Output, Partial: true}, nil
	default:
		return Response{}, fmt.Errorf("%s: %w: %s", a.name, ErrExecution, out.Output)
	}
}

func renderContext(req Request) string {
	if len(req.View) == 0 {
		return ""
	}
	var b strings.Builder
	for _, c := range req.View {
		fmt.Fprintf(&b, "[%s] %s\n", c.Producer, strings.TrimSpace(c.Payload))
	}
	return b.String()
}
