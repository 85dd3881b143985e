package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/colonyforge/hiveforge/pkg/event"
	"github.com/colonyforge/hiveforge/pkg/version"
)

const defaultGitHubBaseURL = "https://api.github.com"

// GitHubAPIError reports a non-2xx response from the GitHub API.
type GitHubAPIError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *GitHubAPIError) Error() string {
	return fmt.Sprintf("GitHub returned HTTP %d for %s: %s", e.StatusCode, e.URL, e.Body)
}

// GitHubSink mirrors run lifecycles into GitHub issues:
// run.started opens an issue, task.completed comments, sentinel alerts
// label and comment, and run terminal events comment and close. Issue
// numbers survive restarts through the checkpoint state.
type GitHubSink struct {
	httpClient *http.Client
	baseURL    string
	token      string
	owner      string
	repo       string
	log        *slog.Logger

	mu     sync.Mutex
	issues map[string]int // run ID → issue number
}

// GitHubOption configures a GitHubSink.
type GitHubOption func(*GitHubSink)

// WithGitHubBaseURL points the sink at a different API host (tests,
// GitHub Enterprise).
func WithGitHubBaseURL(url string) GitHubOption {
	return func(s *GitHubSink) { s.baseURL = strings.TrimRight(url, "/") }
}

// NewGitHubSink builds a sink posting to owner/repo. token may be empty
// only when the base URL points at an unauthenticated test server.
func NewGitHubSink(owner, repo, token string, opts ...GitHubOption) *GitHubSink {
	s := &GitHubSink{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    defaultGitHubBaseURL,
		token:      token,
		owner:      owner,
		repo:       repo,
		log:        slog.With("component", "github_sink"),
		issues:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *GitHubSink) Name() string { return "github" }

// RestoreState reloads the issue number recorded in the stream's
// checkpoint.
func (s *GitHubSink) RestoreState(streamID string, state map[string]any) {
	n := event.Int(state, "issue_number")
	if n == 0 {
		return
	}
	s.mu.Lock()
	s.issues[streamID] = n
	s.mu.Unlock()
}

// CaptureState exposes the issue number for checkpoint persistence.
func (s *GitHubSink) CaptureState(streamID string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.issues[streamID]
	if !ok {
		return nil
	}
	return map[string]any{"issue_number": n}
}

// Apply translates one event into GitHub calls. Events the sink does not
// mirror are no-ops.
func (s *GitHubSink) Apply(ctx context.Context, streamID string, e *event.Event) error {
	switch e.Type {
	case event.TypeRunStarted:
		return s.openIssue(ctx, streamID, e)
	case event.TypeTaskCompleted:
		return s.comment(ctx, streamID, fmt.Sprintf("Task `%s` completed.", e.TaskID))
	case event.TypeSentinelAlertRaised:
		if err := s.addLabels(ctx, streamID, []string{"alert"}); err != nil {
			return err
		}
		return s.comment(ctx, streamID, fmt.Sprintf("Alert raised: %s", event.Str(e.Payload, "reason")))
	case event.TypeRunCompleted:
		return s.closeIssue(ctx, streamID, fmt.Sprintf("Run completed: %s", event.Str(e.Payload, "summary")))
	case event.TypeRunFailed:
		return s.closeIssue(ctx, streamID, fmt.Sprintf("Run failed: %s", event.Str(e.Payload, "reason")))
	case event.TypeRunAborted:
		return s.closeIssue(ctx, streamID, fmt.Sprintf("Run aborted: %s", event.Str(e.Payload, "reason")))
	}
	return nil
}

func (s *GitHubSink) openIssue(ctx context.Context, streamID string, e *event.Event) error {
	goal := event.Str(e.Payload, "goal")
	var created struct {
		Number int `json:"number"`
	}
	err := s.call(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/issues", s.owner, s.repo), map[string]any{
		"title": fmt.Sprintf("Run %s: %s", streamID, goal),
		"body":  fmt.Sprintf("Tracking issue for run `%s`.\n\nGoal: %s", streamID, goal),
	}, &created)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.issues[streamID] = created.Number
	s.mu.Unlock()
	s.log.Info("Opened tracking issue", "run_id", streamID, "issue_number", created.Number)
	return nil
}

func (s *GitHubSink) comment(ctx context.Context, streamID, body string) error {
	n, ok := s.issue(streamID)
	if !ok {
		// No tracking issue for this run (stream predates the sink).
		s.log.Debug("No tracking issue, skipping comment", "run_id", streamID)
		return nil
	}
	return s.call(ctx, http.MethodPost,
		fmt.Sprintf("/repos/%s/%s/issues/%d/comments", s.owner, s.repo, n),
		map[string]any{"body": body}, nil)
}

func (s *GitHubSink) addLabels(ctx context.Context, streamID string, labels []string) error {
	n, ok := s.issue(streamID)
	if !ok {
		return nil
	}
	return s.call(ctx, http.MethodPost,
		fmt.Sprintf("/repos/%s/%s/issues/%d/labels", s.owner, s.repo, n),
		map[string]any{"labels": labels}, nil)
}

func (s *GitHubSink) closeIssue(ctx context.Context, streamID, body string) error {
	n, ok := s.issue(streamID)
	if !ok {
		return nil
	}
	if err := s.call(ctx, http.MethodPost,
		fmt.Sprintf("/repos/%s/%s/issues/%d/comments", s.owner, s.repo, n),
		map[string]any{"body": body}, nil); err != nil {
		return err
	}
	return s.call(ctx, http.MethodPatch,
		fmt.Sprintf("/repos/%s/%s/issues/%d", s.owner, s.repo, n),
		map[string]any{"state": "closed"}, nil)
}

func (s *GitHubSink) issue(streamID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.issues[streamID]
	return n, ok
}

// call performs one JSON request against the API, decoding the response
// into out when non-nil.
func (s *GitHubSink) call(ctx context.Context, method, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	url := s.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &GitHubAPIError{StatusCode: resp.StatusCode, URL: url, Body: strings.TrimSpace(string(data))}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response from %s: %w", url, err)
		}
	}
	return nil
}
