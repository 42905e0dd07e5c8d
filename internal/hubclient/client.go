// Package hubclient is the agent-side transport to the coordination hub.
// Hub error codes are mapped back onto the comms error taxonomy, and any
// failure to reach the hub is reported as comms.ErrTransport.
package hubclient

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dyluth/warren/pkg/comms"
)

// DefaultTimeout bounds every request, on top of any long-poll wait.
const DefaultTimeout = 10 * time.Second

// Client talks to one hub over HTTP/JSON. It is safe for concurrent use.
type Client struct {
	http    *resty.Client
	timeout time.Duration
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// New creates a client for the hub at baseURL. A non-positive timeout uses DefaultTimeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json"),
		timeout: timeout,
	}
}

// Register registers (or re-registers) an agent.
func (c *Client) Register(ctx context.Context, reg comms.Registration) (comms.RegisterAck, error) {
	var ack comms.RegisterAck
	err := c.do(ctx, 0, "POST", "/v1/agents/register", reg, &ack)
	return ack, err
}

// Heartbeat refreshes an agent's liveness. Returns comms.ErrNotFound if the hub does not know the agent.
func (c *Client) Heartbeat(ctx context.Context, agentID string) (comms.HeartbeatAck, error) {
	var ack comms.HeartbeatAck
	err := c.do(ctx, 0, "POST", "/v1/agents/"+url.PathEscape(agentID)+"/heartbeat", nil, &ack)
	return ack, err
}

// SetActivity reports a qualitative activity state.
func (c *Client) SetActivity(ctx context.Context, agentID, state, detail string) (comms.Agent, error) {
	var agent comms.Agent
	body := map[string]string{"state": state, "detail": detail}
	err := c.do(ctx, 0, "PUT", "/v1/agents/"+url.PathEscape(agentID)+"/activity", body, &agent)
	return agent, err
}

// SetStatus sets an agent's status explicitly.
func (c *Client) SetStatus(ctx context.Context, agentID string, status comms.Status) (comms.Agent, error) {
	var agent comms.Agent
	body := map[string]comms.Status{"status": status}
	err := c.do(ctx, 0, "PUT", "/v1/agents/"+url.PathEscape(agentID)+"/status", body, &agent)
	return agent, err
}

// ListAgents returns every agent known to the hub.
func (c *Client) ListAgents(ctx context.Context) ([]comms.Agent, error) {
	var agents []comms.Agent
	err := c.do(ctx, 0, "GET", "/v1/agents", nil, &agents)
	return agents, err
}

// Send sends a message. An empty to, or comms.BroadcastSentinel, broadcasts.
func (c *Client) Send(ctx context.Context, from, to, body string) (comms.SendReceipt, error) {
	var receipt comms.SendReceipt
	req := map[string]string{"from_agent": from, "to_agent": to, "body": body}
	err := c.do(ctx, 0, "POST", "/v1/communications", req, &receipt)
	return receipt, err
}

// Reply sends a direct message answering the message with id inReplyTo.
func (c *Client) Reply(ctx context.Context, from, to, inReplyTo, body string) (comms.SendReceipt, error) {
	var receipt comms.SendReceipt
	req := map[string]string{"from_agent": from, "to_agent": to, "body": body, "in_reply_to": inReplyTo}
	err := c.do(ctx, 0, "POST", "/v1/communications", req, &receipt)
	return receipt, err
}

// Poll fetches up to limit messages past the after cursor. A positive wait
// asks the hub to hold the request until a message arrives.
func (c *Client) Poll(ctx context.Context, agentID string, after uint64, limit int, wait time.Duration) ([]comms.Message, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatUint(after, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if wait > 0 {
		q.Set("wait", wait.String())
	}

	var msgs []comms.Message
	path := "/v1/agents/" + url.PathEscape(agentID) + "/messages?" + q.Encode()
	err := c.do(ctx, wait, "GET", path, nil, &msgs)
	return msgs, err
}

// Recent returns up to limit of the newest messages, newest first.
func (c *Client) Recent(ctx context.Context, limit int) ([]comms.Message, error) {
	var msgs []comms.Message
	err := c.do(ctx, 0, "GET", "/v1/communications?limit="+strconv.Itoa(limit), nil, &msgs)
	return msgs, err
}

// Clear truncates the hub's communication log.
func (c *Client) Clear(ctx context.Context) error {
	return c.do(ctx, 0, "DELETE", "/v1/communications", nil, nil)
}

// Stats returns the hub's derived counters.
func (c *Client) Stats(ctx context.Context) (comms.Stats, error) {
	var stats comms.Stats
	err := c.do(ctx, 0, "GET", "/v1/stats", nil, &stats)
	return stats, err
}

func (c *Client) do(ctx context.Context, extra time.Duration, method, path string, body, result interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout+extra)
	defer cancel()

	var apiErr errorBody
	req := c.http.R().SetContext(ctx).SetError(&apiErr)
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", comms.ErrTransport, method, path, err)
	}
	if resp.IsError() {
		if apiErr.Code != "" {
			return comms.FromCode(apiErr.Code, apiErr.Error)
		}
		return fmt.Errorf("%w: %s %s returned %d", comms.ErrTransport, method, path, resp.StatusCode())
	}
	return nil
}
