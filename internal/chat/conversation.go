package chat

// Conversation is the ordered history of Turns exchanged between the user and
// the assistant. It is mutated only by appending a completed Turn; the
// repairer produces a new value rather than editing history in place.
type Conversation struct {
	ID    string `json:"id"`
	Turns []Turn `json:"turns"`
}

// NewConversation creates an empty conversation.
func NewConversation(id string) Conversation {
	return Conversation{ID: id}
}

// Append returns the conversation with the Turn added. The receiver is not
// modified.
func (c Conversation) Append(turn Turn) Conversation {
	turns := make([]Turn, 0, len(c.Turns)+1)
	turns = append(turns, c.Turns...)
	turns = append(turns, turn)
	return Conversation{ID: c.ID, Turns: turns}
}

// Clone returns a deep copy of the conversation.
func (c Conversation) Clone() Conversation {
	out := Conversation{ID: c.ID}
	if c.Turns != nil {
		out.Turns = make([]Turn, len(c.Turns))
		for i, t := range c.Turns {
			out.Turns[i] = t.Clone()
		}
	}
	return out
}

// IssuedToolCallIDs collects every ToolCall id emitted across assistant Turns.
func (c Conversation) IssuedToolCallIDs() map[string]struct{} {
	ids := make(map[string]struct{})
	for _, t := range c.Turns {
		if t.Role != RoleAssistant {
			continue
		}
		for _, p := range t.Parts {
			if p.Kind == PartToolCall && p.ToolCall != nil {
				ids[p.ToolCall.ID] = struct{}{}
			}
		}
	}
	return ids
}

// ReduceToLatestRequest returns a conversation holding only the system
// instruction (when a dedicated system Turn carries one) and the latest
// genuine user request. It is the discard-history form sent when the full
// history is corrupted beyond incremental repair. The second return is false
// when no user request exists to reduce to.
func (c Conversation) ReduceToLatestRequest() (Conversation, bool) {
	latest, ok := c.LatestUserRequest()
	if !ok {
		return Conversation{}, false
	}
	turns := make([]Turn, 0, 2)
	for _, t := range c.Turns {
		if t.Role == RoleSystem {
			turns = append(turns, SystemTurn(t.Text()))
			break
		}
	}
	turns = append(turns, latest)
	return Conversation{ID: c.ID, Turns: turns}, true
}

// LatestUserRequest returns the most recent genuine user request: the last
// user Turn that carries a text Part and is not an internal analysis prompt.
// The returned Turn contains only that text.
func (c Conversation) LatestUserRequest() (Turn, bool) {
	for i := len(c.Turns) - 1; i >= 0; i-- {
		t := c.Turns[i]
		if t.Role != RoleUser || t.Internal {
			continue
		}
		for _, p := range t.Parts {
			if p.Kind == PartText && p.Text != "" {
				return UserTurn(p.Text), true
			}
		}
	}
	return Turn{}, false
}
