package natsbus

import "fmt"

// Topic patterns for NATS pub/sub communication. Channel traffic is mirrored
// onto these topics so out-of-process workers can participate.

func TopicSwarmBroadcast(sessionID string) string {
	return fmt.Sprintf("swarm.%s.broadcast", sessionID)
}

func TopicSwarmChannel(sessionID, channelID string) string {
	return fmt.Sprintf("swarm.%s.channel.%s", sessionID, channelID)
}

func TopicAgentInbox(agentID string) string {
	return fmt.Sprintf("agent.%s.inbox", agentID)
}

func TopicAgentResults(agentID string) string {
	return fmt.Sprintf("agent.%s.results", agentID)
}

func TopicEventsSwarmID(sessionID string) string {
	return fmt.Sprintf("events.swarm.%s", sessionID)
}

const (
	TopicEventsAll   = "events.>"
	TopicEventsSwarm = "events.swarm.*"
)
