package comms

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Client is an instance-scoped Redis store for agent and communication records.
// All keys are namespaced with the instance name. The client is safe for
// concurrent use.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates a Redis store for the specified instance.
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// SaveAgent upserts an agent record and adds its id to the agent index.
func (c *Client) SaveAgent(ctx context.Context, a *Agent) error {
	hash, err := AgentToHash(a)
	if err != nil {
		return fmt.Errorf("failed to serialize agent: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, AgentKey(c.instanceName, a.ID), hash)
	pipe.SAdd(ctx, AgentsKey(c.instanceName), a.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write agent to Redis: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent by id.
// Returns (nil, redis.Nil) if the agent does not exist.
func (c *Client) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	hashData, err := c.rdb.HGetAll(ctx, AgentKey(c.instanceName, agentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read agent from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	agent, err := HashToAgent(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize agent: %w", err)
	}
	return agent, nil
}

// LoadAgents returns every stored agent. Index entries whose hash has gone are skipped.
func (c *Client) LoadAgents(ctx context.Context) ([]*Agent, error) {
	ids, err := c.rdb.SMembers(ctx, AgentsKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read agent index: %w", err)
	}

	agents := make([]*Agent, 0, len(ids))
	for _, id := range ids {
		agent, err := c.GetAgent(ctx, id)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, nil
}

// SaveMessage writes a communication and appends it to the log ZSET.
// Writing the same message twice is safe.
func (c *Client) SaveMessage(ctx context.Context, m *Message) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, MessageKey(c.instanceName, m.ID), MessageToHash(m))
	pipe.ZAdd(ctx, MessagesKey(c.instanceName), redis.Z{
		Score:  float64(m.Seq),
		Member: m.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write message to Redis: %w", err)
	}
	return nil
}

// TrimMessages deletes all but the newest keep communications.
func (c *Client) TrimMessages(ctx context.Context, keep int) error {
	key := MessagesKey(c.instanceName)
	// ZRANGE 0..-(keep+1) selects everything older than the newest keep members.
	stale, err := c.rdb.ZRange(ctx, key, 0, int64(-(keep + 1))).Result()
	if err != nil {
		return fmt.Errorf("failed to read message log: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	pipe := c.rdb.TxPipeline()
	for _, id := range stale {
		pipe.Del(ctx, MessageKey(c.instanceName, id))
	}
	pipe.ZRem(ctx, key, toMembers(stale)...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to trim message log: %w", err)
	}
	return nil
}

// LoadMessages returns up to limit of the newest communications in ascending sequence order.
func (c *Client) LoadMessages(ctx context.Context, limit int) ([]*Message, error) {
	if limit <= 0 {
		return []*Message{}, nil
	}

	ids, err := c.rdb.ZRange(ctx, MessagesKey(c.instanceName), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read message log: %w", err)
	}

	messages := make([]*Message, 0, len(ids))
	for _, id := range ids {
		hashData, err := c.rdb.HGetAll(ctx, MessageKey(c.instanceName, id)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read message %s: %w", id, err)
		}
		if len(hashData) == 0 {
			continue
		}
		m, err := HashToMessage(hashData)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize message %s: %w", id, err)
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// ClearMessages removes every stored communication.
func (c *Client) ClearMessages(ctx context.Context) error {
	key := MessagesKey(c.instanceName)
	ids, err := c.rdb.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read message log: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, MessageKey(c.instanceName, id))
	}
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to clear message log: %w", err)
	}
	return nil
}

// SaveHead records the last sequence number issued.
func (c *Client) SaveHead(ctx context.Context, seq uint64) error {
	if err := c.rdb.Set(ctx, HeadKey(c.instanceName), seq, 0).Err(); err != nil {
		return fmt.Errorf("failed to write sequence head: %w", err)
	}
	return nil
}

// LoadHead returns the last sequence number recorded, or 0 if none was.
func (c *Client) LoadHead(ctx context.Context) (uint64, error) {
	head, err := c.rdb.Get(ctx, HeadKey(c.instanceName)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read sequence head: %w", err)
	}
	return head, nil
}

func toMembers(ids []string) []interface{} {
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	return members
}
