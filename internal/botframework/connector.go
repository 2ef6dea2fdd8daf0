// ABOUTME: REST client for the Bot Framework connector service
// ABOUTME: Creates conversations, posts activities and lists Teams channels

package botframework

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/2389/coven-botkit/internal/activity"
	"github.com/2389/coven-botkit/internal/transport"
)

// maxErrorBody bounds how much of a failed response is kept in an APIError.
const maxErrorBody = 4 << 10

// APIError is a non-2xx response from the connector service.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Channel is a Teams channel in a team.
type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Connector talks to one connector service URL.
type Connector struct {
	baseURL   string
	client    *http.Client
	userAgent string
}

var _ transport.ConnectorClient = (*Connector)(nil)

func newConnector(baseURL string, client *http.Client, userAgent string) *Connector {
	return &Connector{baseURL: baseURL, client: client, userAgent: userAgent}
}

// BaseURL returns the service URL this connector posts to.
func (c *Connector) BaseURL() string {
	return c.baseURL
}

// CreateConversation starts a new conversation.
func (c *Connector) CreateConversation(ctx context.Context, params *transport.ConversationParameters) (*transport.ConversationResourceResponse, error) {
	var resp transport.ConversationResourceResponse
	if err := c.do(ctx, http.MethodPost, "/v3/conversations", params, &resp); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	return &resp, nil
}

// SendToConversation appends act to the end of a conversation.
func (c *Connector) SendToConversation(ctx context.Context, conversationID string, act *activity.Activity) (*transport.ResourceResponse, error) {
	path := "/v3/conversations/" + url.PathEscape(conversationID) + "/activities"
	var resp transport.ResourceResponse
	if err := c.do(ctx, http.MethodPost, path, act, &resp); err != nil {
		return nil, fmt.Errorf("sending to conversation: %w", err)
	}
	return &resp, nil
}

// ReplyToActivity posts act as a reply to another activity.
func (c *Connector) ReplyToActivity(ctx context.Context, conversationID, activityID string, act *activity.Activity) (*transport.ResourceResponse, error) {
	path := "/v3/conversations/" + url.PathEscape(conversationID) + "/activities/" + url.PathEscape(activityID)
	var resp transport.ResourceResponse
	if err := c.do(ctx, http.MethodPost, path, act, &resp); err != nil {
		return nil, fmt.Errorf("replying to activity: %w", err)
	}
	return &resp, nil
}

// ListTeamChannels returns the channels of a Teams team as reported by the
// service, without naming the default channel.
func (c *Connector) ListTeamChannels(ctx context.Context, teamID string) ([]Channel, error) {
	var resp struct {
		Conversations []Channel `json:"conversations"`
	}
	path := "/v3/teams/" + url.PathEscape(teamID) + "/conversations"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("listing team channels: %w", err)
	}
	return resp.Conversations, nil
}

func (c *Connector) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Method: method, URL: u, StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}

	if out == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
