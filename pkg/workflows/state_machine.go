package workflows

import "sort"

// StateMachine enforces status transitions over an explicit adjacency table.
type StateMachine struct {
	allowedTransitions map[string][]string
}

// NewStateMachine creates a state machine from an adjacency table. The
// table is copied; later changes to the argument have no effect.
func NewStateMachine(table map[string][]string) *StateMachine {
	allowed := make(map[string][]string, len(table))
	for from, tos := range table {
		allowed[from] = append([]string(nil), tos...)
	}
	return &StateMachine{allowedTransitions: allowed}
}

// CanTransition checks if a status transition is allowed
func (sm *StateMachine) CanTransition(from, to string) bool {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return false
	}
	for _, allowedTo := range allowed {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// GetAllowedTransitions returns the allowed next statuses for a given status
func (sm *StateMachine) GetAllowedTransitions(from string) []string {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []string{}
	}
	return append([]string(nil), allowed...)
}

// States returns every status that appears in the table, sorted.
func (sm *StateMachine) States() []string {
	seen := make(map[string]struct{})
	for from, tos := range sm.allowedTransitions {
		seen[from] = struct{}{}
		for _, to := range tos {
			seen[to] = struct{}{}
		}
	}
	states := make([]string, 0, len(seen))
	for s := range seen {
		states = append(states, s)
	}
	sort.Strings(states)
	return states
}
