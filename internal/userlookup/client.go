// Package userlookup implements domain.UserLookup against the identity
// service's REST API. No gRPC/user-service SDK appears anywhere in the
// example pack for this concern, so this talks to the documented HTTP API
// directly with net/http, the same way internal/notify.OneSignalClient
// talks to the OneSignal REST API.
package userlookup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopmindai/chatcore/internal/domain"
)

// Client implements domain.UserLookup against a base URL such as
// http://user-service:8080.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client bound to baseURL. An empty baseURL yields a Client
// whose lookups always report "not found" rather than erroring, so
// deployments that haven't wired an identity service up yet still run.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type userResponse struct {
	ID             int64  `json:"id"`
	DisplayName    string `json:"displayName"`
	EmailLocalPart string `json:"emailLocalPart"`
	IsAdmin        bool   `json:"isAdmin"`
	AvatarRef      string `json:"avatarRef"`
	FrameRef       string `json:"frameRef"`
	BadgeRef       string `json:"badgeRef"`
}

func (u userResponse) toDomain() *domain.User {
	return &domain.User{
		ID:             domain.UserID(u.ID),
		DisplayName:    u.DisplayName,
		EmailLocalPart: u.EmailLocalPart,
		IsAdmin:        u.IsAdmin,
		AvatarRef:      u.AvatarRef,
		FrameRef:       u.FrameRef,
		BadgeRef:       u.BadgeRef,
	}
}

// GetUser implements domain.UserLookup.
func (c *Client) GetUser(id domain.UserID) (*domain.User, bool, error) {
	if c.baseURL == "" {
		return nil, false, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.http.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/users/%d", c.baseURL, id), nil)
	if err != nil {
		return nil, false, fmt.Errorf("userlookup: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("userlookup: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("userlookup: unexpected status %d", resp.StatusCode)
	}

	var parsed userResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, false, fmt.Errorf("userlookup: decode response: %w", err)
	}
	return parsed.toDomain(), true, nil
}

// GetUsers implements domain.UserLookup, batching the lookup into a single
// request so rendering a page of N messages costs one round trip, not N.
func (c *Client) GetUsers(ids []domain.UserID) (map[domain.UserID]*domain.User, error) {
	out := make(map[domain.UserID]*domain.User, len(ids))
	if c.baseURL == "" || len(ids) == 0 {
		return out, nil
	}

	q := url.Values{}
	for _, id := range ids {
		q.Add("id", strconv.FormatInt(int64(id), 10))
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.http.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/users?%s", c.baseURL, q.Encode()), nil)
	if err != nil {
		return nil, fmt.Errorf("userlookup: build batch request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userlookup: batch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userlookup: unexpected batch status %d", resp.StatusCode)
	}

	var parsed []userResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("userlookup: decode batch response: %w", err)
	}
	for _, u := range parsed {
		d := u.toDomain()
		out[d.ID] = d
	}
	return out, nil
}
