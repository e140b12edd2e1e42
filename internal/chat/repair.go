package chat

// RepairPolicy controls when a conversation with orphaned tool results is
// considered corrupted beyond incremental repair. The thresholds are tuned
// policy, not invariants, so they come from configuration.
type RepairPolicy struct {
	// MinOrphans is the minimum number of orphaned tool results before
	// discard is considered.
	MinOrphans int

	// DiscardRatio is the minimum orphaned/total tool-result ratio before
	// history is discarded.
	DiscardRatio float64
}

// DefaultRepairPolicy returns the tuned defaults: at least 3 orphans making
// up at least 80% of all tool results.
func DefaultRepairPolicy() RepairPolicy {
	return RepairPolicy{MinOrphans: 3, DiscardRatio: 0.8}
}

// RepairResult is the outcome of a repair pass.
type RepairResult struct {
	Conversation Conversation

	// DiscardHistory signals that the history is corrupted beyond safe
	// incremental repair; translators should send only the latest genuine
	// user request plus system and tool configuration.
	DiscardHistory bool

	// OrphanIDs lists tool-result ids with no matching prior tool call,
	// recorded for diagnostics and dropped during translation.
	OrphanIDs []string
}

// Repair inspects a conversation for tool results that reference tool calls
// no assistant Turn ever issued. The response is graduated: a clean history
// is returned unchanged; isolated orphans are left in place for translators
// to drop; a history where orphans dominate is flagged for discard. The
// input conversation is never mutated.
func Repair(c Conversation, policy RepairPolicy) RepairResult {
	issued := c.IssuedToolCallIDs()

	var total int
	var orphans []string
	for _, t := range c.Turns {
		if t.Role != RoleUser {
			continue
		}
		for _, p := range t.Parts {
			if p.Kind != PartToolResult || p.ToolResult == nil {
				continue
			}
			total++
			if _, ok := issued[p.ToolResult.ToolCallID]; !ok {
				orphans = append(orphans, p.ToolResult.ToolCallID)
			}
		}
	}

	if len(orphans) == 0 {
		return RepairResult{Conversation: c}
	}

	ratio := float64(len(orphans)) / float64(total)
	if len(orphans) >= policy.MinOrphans && ratio >= policy.DiscardRatio {
		return RepairResult{Conversation: c, DiscardHistory: true, OrphanIDs: orphans}
	}

	// Isolated orphans: keep the turns intact, translation drops only the
	// orphaned tool-result parts.
	return RepairResult{Conversation: c, OrphanIDs: orphans}
}
