package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const (
	defaultTimeout  = 3 * time.Second
	defaultAttempts = 3
	defaultBackoff  = 100 * time.Millisecond
)

// HTTPClientConfig configures HTTPClient.
type HTTPClientConfig struct {
	BaseURL string
	// Timeout bounds each attempt. Zero uses 3s.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt. Negative disables retries.
	MaxRetries int
	// Backoff is the base of the exponential backoff between attempts.
	Backoff time.Duration
}

// HTTPClient talks to the user service's internal API.
type HTTPClient struct {
	base       string
	http       *http.Client
	maxRetries uint64
	backoff    time.Duration
	logger     *zap.Logger
}

// NewHTTPClient returns a directory client for cfg.BaseURL.
func NewHTTPClient(cfg HTTPClientConfig, logger *zap.Logger) (*HTTPClient, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("directory: invalid base url %q", cfg.BaseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := uint64(defaultAttempts - 1)
	if cfg.MaxRetries > 0 {
		retries = uint64(cfg.MaxRetries)
	} else if cfg.MaxRetries < 0 {
		retries = 0
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	return &HTTPClient{
		base:       strings.TrimRight(cfg.BaseURL, "/"),
		http:       &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		maxRetries: retries,
		backoff:    backoff,
		logger:     logger,
	}, nil
}

type credentialsRequest struct {
	Nickname string `json:"nickname"`
	Password string `json:"password"`
}

type credentialsResponse struct {
	Valid bool `json:"valid"`
}

func (c *HTTPClient) Create(ctx context.Context, nickname, password string) (*Profile, error) {
	if strings.TrimSpace(nickname) == "" || password == "" {
		return nil, ErrInvalidInput
	}
	var p Profile
	status, err := c.do(ctx, http.MethodPost, "/api/v1/internal/users", credentialsRequest{Nickname: nickname, Password: password}, &p, false)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusCreated, http.StatusOK:
		return &p, nil
	case http.StatusConflict:
		return nil, ErrNicknameTaken
	case http.StatusBadRequest:
		return nil, ErrInvalidInput
	default:
		return nil, fmt.Errorf("directory: create user: unexpected status %d", status)
	}
}

func (c *HTTPClient) VerifyCredentials(ctx context.Context, nickname, password string) (bool, error) {
	var out credentialsResponse
	status, err := c.do(ctx, http.MethodPost, "/api/v1/internal/users/validate-credentials", credentialsRequest{Nickname: nickname, Password: password}, &out, true)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK:
		return out.Valid, nil
	case http.StatusUnauthorized, http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("directory: validate credentials: unexpected status %d", status)
	}
}

func (c *HTTPClient) FindByID(ctx context.Context, id string) (*Profile, error) {
	return c.findProfile(ctx, "/api/v1/internal/users/"+url.PathEscape(id))
}

func (c *HTTPClient) FindByNickname(ctx context.Context, nickname string) (*Profile, error) {
	return c.findProfile(ctx, "/api/v1/internal/users/by-nickname/"+url.PathEscape(nickname))
}

func (c *HTTPClient) findProfile(ctx context.Context, path string) (*Profile, error) {
	var p Profile
	status, err := c.do(ctx, http.MethodGet, path, nil, &p, true)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		return &p, nil
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("directory: get %s: unexpected status %d", path, status)
	}
}

// do sends the request, retrying transport errors and 502/503/504 with exponential backoff.
// Non-idempotent requests are only retried on 503, where the server did not act on the request.
// The decoded body is written to out only for 2xx responses.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any, idempotent bool) (int, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		payload = b
	}
	b := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.backoff))
	var status int
	var decodeErr error
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("directory request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
			if idempotent {
				return retry.RetryableError(err)
			}
			return err
		}
		defer resp.Body.Close()
		status = resp.StatusCode
		if retryableStatus(status, idempotent) {
			_, _ = io.Copy(io.Discard, resp.Body)
			c.logger.Warn("directory unavailable", zap.String("path", path), zap.Int("status", status))
			return retry.RetryableError(fmt.Errorf("status %d", status))
		}
		if status >= 200 && status < 300 && out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				decodeErr = fmt.Errorf("directory: decode %s: %w", path, err)
			}
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if decodeErr != nil {
		return 0, decodeErr
	}
	return status, nil
}

func retryableStatus(status int, idempotent bool) bool {
	switch status {
	case http.StatusServiceUnavailable:
		return true
	case http.StatusBadGateway, http.StatusGatewayTimeout:
		return idempotent
	}
	return false
}
