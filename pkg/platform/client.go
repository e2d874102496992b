// Package platform talks to the downstream platform API that CRM customers
// are synced into.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rotisserie/eris"

	"github.com/quartermile/ledgerd/pkg/ldlog"
)

// Contact is the customer info extracted from a CRM purchase event
type Contact struct {
	FirstName string
	LastName  string
	Email     string
	Product   string
	Plan      string
}

// User mirrors the platform API's user resource
type User struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Plan      string `json:"plan"`
}

// SyncResult describes what Upsert did
type SyncResult struct {
	Action string `json:"action"`
	UserID string `json:"user_id"`
}

// Client wraps the platform API with bearer auth and retries
type Client struct {
	baseURL string
	token   string
	http    *retryablehttp.Client
}

func NewClient(baseURL, token string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 15 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    rc,
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload interface{}, dest interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return eris.Wrap(err, "failed to encode request payload")
		}
		body = bytes.NewReader(encoded)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return eris.Wrapf(err, "failed to build %s request for %s", method, path)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "platform request %s %s failed", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return eris.Errorf("platform request %s %s returned status %d", method, path, resp.StatusCode)
	}

	if dest != nil {
		err = json.NewDecoder(resp.Body).Decode(dest)
		if err != nil {
			return eris.Wrapf(err, "failed to decode response for %s %s", method, path)
		}
	}
	return nil
}

// UserByEmail looks up an existing user. A nil result means no user exists
// for that address.
func (c *Client) UserByEmail(ctx context.Context, email string) (*User, error) {
	var users []User
	query := url.Values{"email": []string{email}}
	err := c.do(ctx, http.MethodGet, "/users", query, nil, &users)
	if err != nil {
		return nil, err
	}

	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}

// CreateUser registers a new user on the platform
func (c *Client) CreateUser(ctx context.Context, contact Contact) (*User, error) {
	payload := map[string]interface{}{
		"id":         uuid.NewString(),
		"first_name": contact.FirstName,
		"last_name":  contact.LastName,
		"email":      contact.Email,
		"plan":       contact.Plan,
		"joined":     time.Now().UTC().Format(time.RFC3339),
	}

	var user User
	err := c.do(ctx, http.MethodPost, "/users", nil, payload, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUser updates the plan of an existing user
func (c *Client) UpdateUser(ctx context.Context, userID string, contact Contact) (*User, error) {
	payload := map[string]interface{}{
		"plan":         contact.Plan,
		"last_updated": time.Now().UTC().Format(time.RFC3339),
	}

	var user User
	err := c.do(ctx, http.MethodPut, "/users/"+userID, nil, payload, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Upsert creates or updates the user belonging to the given contact
func (c *Client) Upsert(ctx context.Context, contact Contact) (SyncResult, error) {
	existing, err := c.UserByEmail(ctx, contact.Email)
	if err != nil {
		return SyncResult{}, err
	}

	if existing != nil {
		ldlog.Log(ctx).Debug().Msgf("Updating platform user %s", existing.ID)
		_, err = c.UpdateUser(ctx, existing.ID, contact)
		if err != nil {
			return SyncResult{}, err
		}

		return SyncResult{Action: "updated", UserID: existing.ID}, nil
	}

	ldlog.Log(ctx).Debug().Msgf("Creating platform user for %s", contact.Email)
	user, err := c.CreateUser(ctx, contact)
	if err != nil {
		return SyncResult{}, err
	}

	return SyncResult{Action: "created", UserID: user.ID}, nil
}
