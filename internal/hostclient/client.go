// Package hostclient is the core's JSON-over-HTTP client to the host
// runtime: session listing/creation/deletion, message reading, non-blocking
// prompt delivery, toast publication, and the session event stream. It is
// the only component allowed to talk to the host process directly.
package hostclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	sidecarerrors "github.com/opencode-sh/reflection3/internal/errors"
	"github.com/opencode-sh/reflection3/internal/types"
)

// ToastVariant is the severity of a toast notification.
type ToastVariant string

const (
	ToastInfo    ToastVariant = "info"
	ToastSuccess ToastVariant = "success"
	ToastWarning ToastVariant = "warning"
	ToastError   ToastVariant = "error"
)

// SessionRef is the minimal session identity returned by list/create.
type SessionRef struct {
	ID        string `json:"id"`
	Directory string `json:"directory"`
	ParentID  string `json:"parentId,omitempty"`
}

// ModelSpec names a candidate judge or follow-up model, in "provider/model"
// form. An empty ModelSpec means "let the host choose its default" (spec
// §9 Open Question resolution).
type ModelSpec string

// PromptPart mirrors types.Part for the subset the host accepts in a
// prompt request (only text is ever posted by the core).
type PromptPart struct {
	Text string `json:"text"`
}

// PromptRequest is the body of a promptAsync call.
type PromptRequest struct {
	Parts []PromptPart `json:"parts"`
	Model ModelSpec    `json:"model,omitempty"`
}

// Event is one item from the session event stream (spec §6.1).
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Status    string `json:"status,omitempty"`
	Error     *struct {
		Name    string `json:"name"`
		Message string `json:"message,omitempty"`
	} `json:"error,omitempty"`
}

const (
	EventSessionIdle   = "session.idle"
	EventSessionError  = "session.error"
	EventSessionStatus = "session.status"
)

// Client is the behavioral contract spec §6.1 requires of the host
// runtime. internal/assessment, internal/crossreview, and
// internal/orchestrator depend only on this interface, never on HTTPClient
// directly, so they can be tested against a fake.
type Client interface {
	ListSessions(ctx context.Context, directory string) ([]SessionRef, error)
	GetSession(ctx context.Context, id string) (types.Session, error)
	CreateSession(ctx context.Context, directory string) (SessionRef, error)
	DeleteSession(ctx context.Context, id, directory string) error
	Messages(ctx context.Context, id string) ([]types.Message, error)
	PromptAsync(ctx context.Context, id string, req PromptRequest) error
	Toast(ctx context.Context, directory string, title, message string, variant ToastVariant, durationMs int) error
	Events(ctx context.Context) (<-chan Event, error)
}

// HTTPClient is the production Client implementation, grounded on the
// teacher's GatewayClient.Invoke (marshal, NewRequestWithContext, bearer
// header, read+unmarshal, non-200 handling) and ToolExecutor's
// executeWithRetry (exponential backoff on transient failures only).
type HTTPClient struct {
	BaseURL string
	Token   string

	HTTP       *http.Client
	MaxRetries int
	Logger     *slog.Logger
}

// NewHTTPClient constructs an HTTPClient with sane defaults.
func NewHTTPClient(baseURL, token string, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTP:       &http.Client{Timeout: 30 * time.Second},
		MaxRetries: 3,
		Logger:     logger,
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("hostclient: marshalling request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("hostclient: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return sidecarerrors.Wrap(sidecarerrors.ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return sidecarerrors.Wrap(sidecarerrors.ErrTransport, fmt.Errorf("reading response body: %w", err))
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		err := fmt.Errorf("host runtime returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		if resp.StatusCode >= http.StatusInternalServerError {
			return sidecarerrors.Wrap(sidecarerrors.ErrTransport, err)
		}
		return fmt.Errorf("hostclient: %w", err)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("hostclient: unmarshalling response: %w", err)
		}
	}

	return nil
}

// doWithRetry wraps do with the teacher's executeWithRetry backoff,
// retrying only when the failure is transient (network-level or 5xx).
func (c *HTTPClient) doWithRetry(ctx context.Context, method, path string, body, out interface{}) error {
	maxAttempts := c.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var lastErr error
	backoff := 500 * time.Millisecond

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if c.Logger != nil {
				c.Logger.Warn("retrying host runtime request",
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
				)
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}

		err := c.do(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if !sidecarerrors.IsTransient(err) {
			return err
		}
	}

	return lastErr
}

// ListSessions implements Client.
func (c *HTTPClient) ListSessions(ctx context.Context, directory string) ([]SessionRef, error) {
	var out []SessionRef
	path := "/sessions?directory=" + strings.TrimSpace(directory)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSession implements Client.
func (c *HTTPClient) GetSession(ctx context.Context, id string) (types.Session, error) {
	var out types.Session
	if err := c.do(ctx, http.MethodGet, "/sessions/"+id, nil, &out); err != nil {
		return types.Session{}, err
	}
	return out, nil
}

// CreateSession implements Client.
func (c *HTTPClient) CreateSession(ctx context.Context, directory string) (SessionRef, error) {
	var out SessionRef
	body := map[string]string{"directory": directory}
	if err := c.do(ctx, http.MethodPost, "/sessions", body, &out); err != nil {
		return SessionRef{}, err
	}
	return out, nil
}

// DeleteSession implements Client. Per spec §6.1, deletion is treated as
// idempotent from the caller's perspective: failures are logged, not
// surfaced, so cleanup paths never abort on a delete error (invariant I4).
func (c *HTTPClient) DeleteSession(ctx context.Context, id, directory string) error {
	path := "/sessions/" + id + "?directory=" + strings.TrimSpace(directory)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		if c.Logger != nil {
			c.Logger.Warn("session delete failed, treating as tolerated",
				slog.String("session_id", id), slog.String("error", err.Error()))
		}
		return nil
	}
	return nil
}

// Messages implements Client.
func (c *HTTPClient) Messages(ctx context.Context, id string) ([]types.Message, error) {
	var out []types.Message
	if err := c.do(ctx, http.MethodGet, "/sessions/"+id+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PromptAsync implements Client. Retried with backoff since prompt posting
// can race a transient host-side 5xx (teacher's executeWithRetry rationale,
// adapted).
func (c *HTTPClient) PromptAsync(ctx context.Context, id string, req PromptRequest) error {
	return c.doWithRetry(ctx, http.MethodPost, "/sessions/"+id+"/prompt-async", req, nil)
}

// Toast implements Client.
func (c *HTTPClient) Toast(ctx context.Context, directory, title, message string, variant ToastVariant, durationMs int) error {
	body := map[string]interface{}{
		"directory":  directory,
		"title":      title,
		"message":    message,
		"variant":    variant,
		"durationMs": durationMs,
	}
	return c.do(ctx, http.MethodPost, "/tui/toast", body, nil)
}
