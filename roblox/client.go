// Package roblox is a small client for the public Roblox web APIs used by the bot:
// username lookup, user profiles, avatar thumbnails and group roles.
package roblox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultUsersURL      = "https://users.roblox.com"
	defaultThumbnailsURL = "https://thumbnails.roblox.com"
	defaultGroupsURL     = "https://groups.roblox.com"

	userAgent = "botto-link/1.0"
)

// ErrNotFound - Returned when a username or id does not exist
var ErrNotFound = errors.New("roblox: not found")

// User - The public profile of a Roblox account
type User struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
}

// GroupRole - A user's role inside one group
type GroupRole struct {
	GroupID   int64
	GroupName string
	RoleID    int64
	RoleName  string
	Rank      int
}

// Role - A role defined by a group
type Role struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Rank        int    `json:"rank"`
	MemberCount int64  `json:"memberCount"`
}

// ProfileURL - Get the public profile page of an account
func ProfileURL(id int64) string {
	return fmt.Sprintf("https://www.roblox.com/users/%d/profile", id)
}

// Client - Talks to the Roblox web APIs
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger

	// Overridden in tests
	usersURL      string
	thumbnailsURL string
	groupsURL     string
}

// NewClient - Create a Client using httpClient for all requests.
// Requests wait on limiter when it is not nil.
func NewClient(httpClient *http.Client, limiter *rate.Limiter, logger *zap.Logger) *Client {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &Client{
		httpClient:    httpClient,
		limiter:       limiter,
		logger:        logger.Named("roblox"),
		usersURL:      defaultUsersURL,
		thumbnailsURL: defaultThumbnailsURL,
		groupsURL:     defaultGroupsURL,
	}
}

// ResolveID - Get the id of the account with the given username
func (c *Client) ResolveID(ctx context.Context, username string) (int64, error) {
	body := map[string]interface{}{
		"usernames":          []string{username},
		"excludeBannedUsers": true,
	}
	var resp struct {
		Data []struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, c.usersURL+"/v1/usernames/users", body, &resp); err != nil {
		return 0, err
	}
	if len(resp.Data) == 0 {
		return 0, fmt.Errorf("username %q: %w", username, ErrNotFound)
	}
	return resp.Data[0].ID, nil
}

// User - Get the public profile of an account, including its description
func (c *Client) User(ctx context.Context, id int64) (User, error) {
	var u User
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/v1/users/%d", c.usersURL, id), nil, &u)
	return u, err
}

// Thumbnail - Get the avatar image url of an account, or an empty string if none is ready
func (c *Client) Thumbnail(ctx context.Context, id int64) (string, error) {
	q := url.Values{}
	q.Set("userIds", strconv.FormatInt(id, 10))
	q.Set("size", "720x720")
	q.Set("format", "Png")
	q.Set("isCircular", "false")

	var resp struct {
		Data []struct {
			TargetID int64  `json:"targetId"`
			State    string `json:"state"`
			ImageURL string `json:"imageUrl"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, c.thumbnailsURL+"/v1/users/avatar?"+q.Encode(), nil, &resp); err != nil {
		return "", err
	}
	for _, t := range resp.Data {
		if t.TargetID == id && t.State == "Completed" {
			return t.ImageURL, nil
		}
	}
	return "", nil
}

// GroupRoles - Get the roles an account holds across all of its groups
func (c *Client) GroupRoles(ctx context.Context, id int64) ([]GroupRole, error) {
	var resp struct {
		Data []struct {
			Group struct {
				ID   int64  `json:"id"`
				Name string `json:"name"`
			} `json:"group"`
			Role Role `json:"role"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/v2/users/%d/groups/roles", c.groupsURL, id), nil, &resp); err != nil {
		return nil, err
	}

	roles := make([]GroupRole, 0, len(resp.Data))
	for _, d := range resp.Data {
		roles = append(roles, GroupRole{
			GroupID:   d.Group.ID,
			GroupName: d.Group.Name,
			RoleID:    d.Role.ID,
			RoleName:  d.Role.Name,
			Rank:      d.Role.Rank,
		})
	}
	return roles, nil
}

// GroupRolesList - Get the roles defined by a group
func (c *Client) GroupRolesList(ctx context.Context, groupID int64) ([]Role, error) {
	var resp struct {
		Roles []Role `json:"roles"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/v1/groups/%d/roles", c.groupsURL, groupID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Roles, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, in, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for rate limit: %w", err)
	}

	var reqBody io.Reader
	if in != nil {
		bts, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(bts)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("request failed", zap.String("method", method), zap.String("url", endpoint), zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusBadRequest && method == http.MethodGet:
		// Invalid ids are reported as 400 by the users and groups APIs
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		c.logger.Warn("unexpected status", zap.String("url", endpoint), zap.Int("status", resp.StatusCode))
		return fmt.Errorf("roblox: %s %s returned status %d", method, endpoint, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
