package domain

import "strings"

// TurnRole defines who authored a conversation turn.
type TurnRole string

const (
	RoleSystem      TurnRole = "system"
	RoleUser        TurnRole = "user"
	RoleAssistant   TurnRole = "assistant"
	RoleObservation TurnRole = "observation"
)

// Turn is a single entry in the loop's conversation.
type Turn struct {
	Role    TurnRole `json:"role"`
	Content string   `json:"content"`
}

// Conversation is the append-only turn sequence owned by one agent loop
// invocation. It is discarded when the loop terminates; only the final answer
// and the trimmed log survive into the job record.
type Conversation struct {
	Turns []Turn `json:"turns"`
}

// NewConversation seeds a conversation with the system frame and user query.
func NewConversation(systemFrame, query string) *Conversation {
	return &Conversation{Turns: []Turn{
		{Role: RoleSystem, Content: systemFrame},
		{Role: RoleUser, Content: "Query: " + query},
	}}
}

// Append adds a turn.
func (c *Conversation) Append(role TurnRole, content string) {
	c.Turns = append(c.Turns, Turn{Role: role, Content: content})
}

// Render flattens the conversation into a single prompt string for providers
// that take plain text.
func (c *Conversation) Render() string {
	parts := make([]string, 0, len(c.Turns))
	for _, t := range c.Turns {
		switch t.Role {
		case RoleObservation:
			parts = append(parts, "OBSERVATION:\n"+t.Content)
		default:
			parts = append(parts, t.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}
