package comms

import "fmt"

// Redis key pattern helpers
//
// All Redis keys are namespaced by instance name so multiple hubs can share
// one Redis server.
//
// Key pattern: warren:{instance_name}:{entity}:{id}

// AgentKey returns the Redis key for an agent hash.
// Pattern: warren:{instance_name}:agent:{agent_id}
func AgentKey(instanceName, agentID string) string {
	return fmt.Sprintf("warren:%s:agent:%s", instanceName, agentID)
}

// AgentsKey returns the Redis key for the set of known agent ids.
// Pattern: warren:{instance_name}:agents
func AgentsKey(instanceName string) string {
	return fmt.Sprintf("warren:%s:agents", instanceName)
}

// MessageKey returns the Redis key for a communication hash.
// Pattern: warren:{instance_name}:comm:{message_id}
func MessageKey(instanceName, messageID string) string {
	return fmt.Sprintf("warren:%s:comm:%s", instanceName, messageID)
}

// MessagesKey returns the Redis key for the communications log ZSET.
// Members are message ids scored by sequence number.
// Pattern: warren:{instance_name}:comms
func MessagesKey(instanceName string) string {
	return fmt.Sprintf("warren:%s:comms", instanceName)
}

// HeadKey returns the Redis key holding the last sequence number issued.
// It survives a clear of the communications log.
// Pattern: warren:{instance_name}:head
func HeadKey(instanceName string) string {
	return fmt.Sprintf("warren:%s:head", instanceName)
}
