package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/postday/reactions/internal/domain"
	apperrors "github.com/postday/reactions/internal/errors"
	"github.com/postday/reactions/internal/retry"
)

const maxErrorBodySize = 4 << 10

// NewUserID mints the self-assigned opaque token a first-time visitor
// identifies as. There is no account system; the token only has to be
// unique and stable once persisted by the caller.
func NewUserID() string {
	return uuid.NewString()
}

// Reaction mirrors the API's reaction payload: the post snapshot plus the
// calling user's resulting selection.
type Reaction struct {
	PostID       string         `json:"post_id"`
	Rev          int64          `json:"rev"`
	Counts       map[string]int `json:"counts"`
	UserReaction *string        `json:"user_reaction"`
	Transition   string         `json:"transition,omitempty"`
}

// Snapshot converts the payload to a domain snapshot.
func (r Reaction) Snapshot() domain.Snapshot {
	return domain.Snapshot{PostID: r.PostID, Rev: r.Rev, Counts: r.Counts}
}

// Selection returns the user's selection, mapping null to "none".
func (r Reaction) Selection() string {
	if r.UserReaction == nil {
		return domain.NoSelection
	}
	return *r.UserReaction
}

// APIError is a non-2xx response decoded into the service's error envelope.
type APIError struct {
	StatusCode int
	Type       apperrors.ErrorType
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Type, e.Message)
}

// Client talks to the reaction service over HTTP. Reads are retried with
// backoff; submits are not, because a submit that timed out may already
// have applied and replaying it would toggle the reaction off again. The
// reconciler handles submit failures by rolling back instead.
type Client struct {
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy
}

type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy replaces the read retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		policy: retry.Policy{
			MaxAttempts:      3,
			InitialBackoff:   200 * time.Millisecond,
			RateLimitBackoff: 2 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot fetches the current counts for a post.
func (c *Client) Snapshot(ctx context.Context, postID string) (domain.Snapshot, error) {
	reaction, err := c.getReactions(ctx, postID, "")
	if err != nil {
		return domain.Snapshot{}, err
	}
	return reaction.Snapshot(), nil
}

// State fetches the current counts plus the given user's selection.
func (c *Client) State(ctx context.Context, postID, userID string) (Reaction, error) {
	return c.getReactions(ctx, postID, userID)
}

func (c *Client) getReactions(ctx context.Context, postID, userID string) (Reaction, error) {
	endpoint := c.baseURL + "/api/reactions/" + url.PathEscape(postID)
	if userID != "" {
		endpoint += "?user_id=" + url.QueryEscape(userID)
	}

	return retry.Do(ctx, c.policy, classifyAPIError, func() (Reaction, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return Reaction{}, err
		}
		return c.do(req)
	})
}

// Submit sets the user's reaction for a post. A single attempt, no retry.
func (c *Client) Submit(ctx context.Context, postID, userID, emoji string) (Reaction, error) {
	body, err := json.Marshal(map[string]string{"user_id": userID, "emoji": emoji})
	if err != nil {
		return Reaction{}, err
	}

	endpoint := c.baseURL + "/api/reactions/" + url.PathEscape(postID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Reaction{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

func (c *Client) do(req *http.Request) (Reaction, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Reaction{}, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Reaction{}, decodeAPIError(resp)
	}

	var reaction Reaction
	if err := json.NewDecoder(resp.Body).Decode(&reaction); err != nil {
		return Reaction{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return reaction, nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Type: apperrors.TypeInternal}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil {
		apiErr.Message = "failed to read error body"
		return apiErr
	}

	var envelope apperrors.ErrorResponse
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Type == "" {
		apiErr.Message = strings.TrimSpace(string(body))
		return apiErr
	}

	apiErr.Type = envelope.Type
	apiErr.Message = envelope.Error
	return apiErr
}

// classifyAPIError decides whether a read is worth another attempt.
// Network errors and 5xx responses are transient, 429 waits longer,
// anything else is final.
func classifyAPIError(err error) retry.Action {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		// Transport-level failure, e.g. connection refused.
		return retry.Retry
	}

	switch {
	case apiErr.Type == apperrors.TypeRateLimited:
		return retry.After
	case apiErr.Type == apperrors.TypeConflict || apiErr.Type == apperrors.TypeUnavailable:
		return retry.Retry
	case apiErr.StatusCode >= 500:
		return retry.Retry
	default:
		return retry.Stop
	}
}
