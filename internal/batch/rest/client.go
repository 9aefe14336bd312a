// Package rest implements the batch service boundary over its REST
// API. A Client is scoped to one job and safe for concurrent use, so a
// single instance serves every submission worker and the completion
// monitor at once.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/taskferry/taskferry/internal/batch"
	"github.com/taskferry/taskferry/internal/task"
)

// validationStatusValidated is the wire value for count integrity the
// service has verified against its task table.
const validationStatusValidated = "validated"

// Client talks to one job's task endpoints. It implements
// batch.Service.
type Client struct {
	baseURL    string
	jobID      string
	apiKey     string
	httpClient *http.Client
}

var _ batch.Service = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithTimeout bounds each HTTP exchange. The default is no timeout:
// submission attempts are expected to run as long as the service needs.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a Client for the job hosted at baseURL.
func NewClient(baseURL, jobID string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("service endpoint not set")
	}
	if jobID == "" {
		return nil, fmt.Errorf("job id not set")
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		jobID:      jobID,
		httpClient: &http.Client{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// addRequest is the task submission request body.
type addRequest struct {
	Value []task.Descriptor `json:"value"`
}

// addResponse carries the per-task verdicts, in request order.
type addResponse struct {
	Value []batch.AddResult `json:"value"`
}

type countsResponse struct {
	Active           int    `json:"active"`
	Running          int    `json:"running"`
	Completed        int    `json:"completed"`
	Failed           int    `json:"failed"`
	ValidationStatus string `json:"validationStatus"`
}

type listResponse struct {
	Value []batch.TaskState `json:"value"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AddTaskCollection submits the given tasks in one request and returns
// the per-task verdicts in request order. A non-2xx response comes back
// as a *batch.RequestRejectedError carrying the service's error code.
func (c *Client) AddTaskCollection(ctx context.Context, items []task.Descriptor) ([]batch.AddResult, error) {
	reqBytes, err := json.Marshal(addRequest{Value: items})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("taskcollection"), bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	status, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, rejection(status, body)
	}

	var respData addResponse
	if err := json.Unmarshal(body, &respData); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return respData.Value, nil
}

// TaskCounts fetches the aggregate per-state counts for the job.
func (c *Client) TaskCounts(ctx context.Context, totalExpected int) (batch.Counts, error) {
	q := url.Values{}
	q.Set("expected", strconv.Itoa(totalExpected))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("taskcounts")+"?"+q.Encode(), nil)
	if err != nil {
		return batch.Counts{}, fmt.Errorf("create request: %w", err)
	}

	status, body, err := c.do(req)
	if err != nil {
		return batch.Counts{}, err
	}
	if status != http.StatusOK {
		return batch.Counts{}, rejection(status, body)
	}

	var respData countsResponse
	if err := json.Unmarshal(body, &respData); err != nil {
		return batch.Counts{}, fmt.Errorf("unmarshal response: %w", err)
	}

	return batch.Counts{
		Active:    respData.Active,
		Running:   respData.Running,
		Completed: respData.Completed,
		Failed:    respData.Failed,
		Validated: respData.ValidationStatus == validationStatusValidated,
	}, nil
}

// ListTaskStates enumerates every task in the job as (id, state) pairs.
func (c *Client) ListTaskStates(ctx context.Context) ([]batch.TaskState, error) {
	q := url.Values{}
	q.Set("select", "id,state")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("tasks")+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	status, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, rejection(status, body)
	}

	var respData listResponse
	if err := json.Unmarshal(body, &respData); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return respData.Value, nil
}

// Ping checks that the service is reachable. The health endpoint sits
// outside the job scope and requires no credentials.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}

// JobID returns the job this client is scoped to.
func (c *Client) JobID() string {
	return c.jobID
}

// endpoint builds the URL for a job-scoped path.
func (c *Client) endpoint(path string) string {
	return fmt.Sprintf("%s/api/jobs/%s/%s", c.baseURL, url.PathEscape(c.jobID), path)
}

// do sends the request with auth and correlation headers and returns
// the status code and body.
func (c *Client) do(req *http.Request) (int, []byte, error) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("client-request-id", uuid.NewString())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}

	return resp.StatusCode, body, nil
}

// rejection maps a non-2xx response to a *batch.RequestRejectedError.
// Oversized requests are recognized by status 413 or by the service's
// RequestBodyTooLarge code, whichever arrives.
func rejection(status int, body []byte) error {
	var e errorResponse
	_ = json.Unmarshal(body, &e)

	reason := batch.RejectedOther
	if status == http.StatusRequestEntityTooLarge || e.Code == "RequestBodyTooLarge" {
		reason = batch.RejectedOversized
	}

	msg := e.Message
	if msg == "" {
		msg = http.StatusText(status)
	}

	return &batch.RequestRejectedError{
		Reason:     reason,
		Code:       e.Code,
		Message:    msg,
		StatusCode: status,
	}
}
