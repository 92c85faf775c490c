package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/magentic/internal/backend"
)

var _ backend.Backend = (*Client)(nil)

// Complete sends a single-turn request and returns the concatenated text blocks.
// Overload, rate-limit, 5xx and network failures wrap backend.ErrUnavailable.
func (c *Client) Complete(ctx context.Context, p backend.Prompt) (string, error) {
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(p.User)),
		},
	}
	if p.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: p.System}}
	}

	resp, err := c.inner.Messages.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}
	c.tracker.Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

	var out strings.Builder
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			out.WriteString(text.Text)
		}
	}
	return out.String(), nil
}

// classify maps SDK errors onto the backend error taxonomy.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("anthropic status %d: %w", apiErr.StatusCode, backend.ErrUnavailable)
		}
		return fmt.Errorf("anthropic request failed: %w", err)
	}

	// Anything else never reached the API (DNS, refused connections, resets).
	return fmt.Errorf("%v: %w", err, backend.ErrUnavailable)
}
