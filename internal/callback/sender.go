package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/a2v-stg/api-mock-lab/internal/models"
	"github.com/a2v-stg/api-mock-lab/internal/signing"
)

var ErrUnsupportedMethod = errors.New("unsupported callback method")

// Job is one outbound callback.
type Job struct {
	EntityID   string
	EndpointID string
	URL        string
	Method     string
	Payload    map[string]any
	Headers    map[string]string
	Delay      time.Duration
}

type SendResult struct {
	StatusCode   int
	ResponseBody string
	LatencyMs    int64
	Error        string
}

// Success treats any 2xx or 3xx status as delivered.
func (r *SendResult) Success() bool {
	return r.Error == "" && r.StatusCode >= 200 && r.StatusCode < 400
}

type Sender struct {
	client    *http.Client
	signer    *signing.Signer
	userAgent string
}

func NewSender(timeout time.Duration, signer *signing.Signer, userAgent string) *Sender {
	return &Sender{
		client: &http.Client{
			Timeout: timeout,
		},
		signer:    signer,
		userAgent: userAgent,
	}
}

func (s *Sender) Send(ctx context.Context, job Job) *SendResult {
	start := time.Now()
	fail := func(format string, args ...any) *SendResult {
		return &SendResult{
			Error:     fmt.Sprintf(format, args...),
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}

	req, body, err := buildRequest(ctx, job)
	if err != nil {
		return fail("failed to create request: %v", err)
	}

	for k, v := range job.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	s.signer.Apply(req.Header, body)

	resp, err := s.client.Do(req)
	if err != nil {
		return fail("request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	return &SendResult{
		StatusCode:   resp.StatusCode,
		ResponseBody: string(respBody),
		LatencyMs:    time.Since(start).Milliseconds(),
	}
}

// buildRequest encodes the payload the way each method carries it: query
// parameters for GET, a JSON body for POST/PUT/PATCH, and for DELETE a JSON
// body only when the payload is non-empty.
func buildRequest(ctx context.Context, job Job) (*http.Request, []byte, error) {
	switch job.Method {
	case http.MethodGet:
		u, err := url.Parse(job.URL)
		if err != nil {
			return nil, nil, err
		}
		q := u.Query()
		for k, v := range job.Payload {
			q.Set(k, queryValue(v))
		}
		u.RawQuery = q.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		return req, nil, err

	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		var body []byte
		if job.Method != http.MethodDelete || len(job.Payload) > 0 {
			var err error
			if body, err = json.Marshal(job.Payload); err != nil {
				return nil, nil, err
			}
		}
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, job.Method, job.URL, reader)
		return req, body, err

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, job.Method)
	}
}

func queryValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func checkMethod(method string) error {
	if !models.IsSupportedMethod(method) {
		return fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
	return nil
}
