package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/spec-kit/incident-sync/internal/config"
	"github.com/spec-kit/incident-sync/internal/domain"
)

// ErrIdentityNotFound is returned when no ticket-system account matches an
// internal user.
var ErrIdentityNotFound = errors.New("no external identity for user")

// Issue is the ticket system's representation of a synced ticket.
type Issue struct {
	Key         string  `json:"key"`
	Status      string  `json:"status"`
	Priority    string  `json:"priority"`
	Summary     string  `json:"summary"`
	Description string  `json:"description"`
	AssigneeID  *string `json:"assigneeAccountId,omitempty"`
}

// IssueCreate carries the fields for creating a ticket.
type IssueCreate struct {
	ProjectKey   string `json:"projectKey"`
	Summary      string `json:"summary"`
	Description  string `json:"description"`
	PriorityName string `json:"priority"`
}

// TicketClient is the collaborator contract for the external ticket system.
// Every method performs one synchronous remote call; retry policy is the
// caller's concern.
type TicketClient interface {
	GetIssue(ctx context.Context, key string) (*Issue, error)
	CreateIssue(ctx context.Context, in IssueCreate) (*Issue, error)
	UpdateFields(ctx context.Context, key string, patch map[string]any) error
	Transition(ctx context.Context, key, targetState string) error
	ExternalIdentityFor(ctx context.Context, user *domain.User) (string, error)
}

type httpTicketClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPTicketClient builds a JSON/REST client for the ticket system.
func NewHTTPTicketClient(cfg config.SyncConfig) TicketClient {
	timeout := time.Duration(cfg.HTTPTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &httpTicketClient{
		baseURL: cfg.TicketBaseURL,
		token:   cfg.TicketAPIToken,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *httpTicketClient) GetIssue(ctx context.Context, key string) (*Issue, error) {
	var issue Issue
	if err := c.do(ctx, http.MethodGet, "/issues/"+url.PathEscape(key), nil, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

func (c *httpTicketClient) CreateIssue(ctx context.Context, in IssueCreate) (*Issue, error) {
	var issue Issue
	if err := c.do(ctx, http.MethodPost, "/issues", in, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

func (c *httpTicketClient) UpdateFields(ctx context.Context, key string, patch map[string]any) error {
	return c.do(ctx, http.MethodPut, "/issues/"+url.PathEscape(key)+"/fields", patch, nil)
}

func (c *httpTicketClient) Transition(ctx context.Context, key, targetState string) error {
	body := map[string]string{"transition": targetState}
	return c.do(ctx, http.MethodPost, "/issues/"+url.PathEscape(key)+"/transitions", body, nil)
}

func (c *httpTicketClient) ExternalIdentityFor(ctx context.Context, user *domain.User) (string, error) {
	if user.ExternalAccountID != nil && *user.ExternalAccountID != "" {
		return *user.ExternalAccountID, nil
	}
	var accounts []struct {
		AccountID string `json:"accountId"`
	}
	path := "/users/search?email=" + url.QueryEscape(user.Email)
	if err := c.do(ctx, http.MethodGet, path, nil, &accounts); err != nil {
		return "", err
	}
	if len(accounts) == 0 {
		return "", ErrIdentityNotFound
	}
	return accounts[0].AccountID, nil
}

func (c *httpTicketClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ticket system returned %d for %s %s", resp.StatusCode, method, path)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
