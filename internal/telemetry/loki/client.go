// Package loki pushes session audit events to Grafana Loki.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"session-authority/backend/internal/telemetry"
)

// PushRequest is the Loki push API request body (v1).
type PushRequest struct {
	Streams []Stream `json:"streams"`
}

// Stream is a single stream with labels and log entries.
type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"` // each entry is [timestamp_ns, log_line]
}

// labelSanitize replaces characters that are invalid in Loki label values.
var labelSanitize = regexp.MustCompile(`[^a-zA-Z0-9_\-:]`)

// Client is a telemetry.EventEmitter pushing one line per event. Only low-cardinality fields
// (job, event type, source) become labels; subject and session ids go in the line.
type Client struct {
	url  string
	job  string
	http *http.Client
}

// NewClient returns a Loki client for baseURL (e.g. http://localhost:3100).
func NewClient(baseURL, job string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("loki: base URL is empty")
	}
	if job == "" {
		job = "session-authority"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		url:  strings.TrimSuffix(baseURL, "/") + "/loki/api/v1/push",
		job:  job,
		http: &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}, nil
}

type logLine struct {
	Event      string            `json:"event"`
	SubjectID  string            `json:"subject_id,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Emit implements telemetry.EventEmitter.
func (c *Client) Emit(ctx context.Context, event *telemetry.Event) error {
	if event == nil {
		return nil
	}
	line, err := json.Marshal(logLine{
		Event:      string(event.Type),
		SubjectID:  event.SubjectID,
		SessionID:  event.SessionID,
		Attributes: event.Attributes,
	})
	if err != nil {
		return err
	}
	ts := event.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return c.push(ctx, ts, string(line), map[string]string{
		"event_type": string(event.Type),
		"source":     event.Source,
	})
}

func (c *Client) push(ctx context.Context, ts time.Time, line string, labels map[string]string) error {
	streamLabels := map[string]string{"job": c.job}
	for k, v := range labels {
		if sanitized := labelSanitize.ReplaceAllString(strings.TrimSpace(v), "_"); sanitized != "" {
			streamLabels[k] = sanitized
		}
	}
	payload, err := json.Marshal(PushRequest{Streams: []Stream{{
		Stream: streamLabels,
		Values: [][]string{{strconv.FormatInt(ts.UnixNano(), 10), line}},
	}}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("loki: push returned %s", resp.Status)
	}
	return nil
}
