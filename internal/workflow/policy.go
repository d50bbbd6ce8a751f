package workflow

import (
	"sort"
	"strings"

	"controlled-docs/edms-backend/internal/models"
	"controlled-docs/edms-backend/pkg/workflows"
)

// Gate is the set of capabilities any one of which admits an actor to an edge.
type Gate uint8

const (
	// GateAuthor admits the document author or the workflow initiator.
	GateAuthor Gate = 1 << iota
	GateReviewer
	// GateApprover requires a senior approver on high and critical documents.
	GateApprover
	// GateSystem admits the scheduler actor and superusers.
	GateSystem
	// GateAssignee admits the current assignee and approver-capable users.
	GateAssignee
)

func (g Gate) Has(o Gate) bool { return g&o != 0 }

func (g Gate) String() string {
	names := []struct {
		gate Gate
		name string
	}{
		{GateAuthor, "AUTHOR"},
		{GateReviewer, "REVIEWER"},
		{GateApprover, "APPROVER"},
		{GateSystem, "SYSTEM"},
		{GateAssignee, "ASSIGNEE"},
	}
	var parts []string
	for _, n := range names {
		if g.Has(n.gate) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Handoff names who is expected to act after an edge.
type Handoff uint8

const (
	HandoffNone Handoff = iota
	HandoffReviewer
	HandoffApprover
	HandoffAuthor
)

type DependencyCheck uint8

const (
	CheckNone DependencyCheck = iota
	// CheckObsolescence blocks on critical dependents that are still effective.
	CheckObsolescence
	// CheckActivation blocks a new version that critically depends on a
	// retired document or sits on a cycle.
	CheckActivation
)

// Edge is one allowed move in a workflow type's policy.
type Edge struct {
	From            string
	To              string
	Gate            Gate
	Handoff         Handoff
	Reject          bool
	RequiresComment bool
	DependencyCheck DependencyCheck
}

// NeedsComment is true for rejections and edges that demand a justification.
func (e Edge) NeedsComment() bool { return e.Reject || e.RequiresComment }

// Policy is the adjacency table and gates of one workflow type.
type Policy struct {
	Type models.WorkflowTypeCode
	// StartStates are the document statuses a workflow of this type can
	// start from.
	StartStates []string
	StartGate   Gate
	// Completion is the state that marks the workflow completed. Empty
	// means completion happens through a dedicated operation.
	Completion string

	edges   map[[2]string]Edge
	machine *workflows.StateMachine
}

func newPolicy(t models.WorkflowTypeCode, start []string, gate Gate, completion string, edges []Edge) *Policy {
	p := &Policy{
		Type:        t,
		StartStates: start,
		StartGate:   gate,
		Completion:  completion,
		edges:       make(map[[2]string]Edge, len(edges)),
	}
	table := make(map[string][]string)
	for _, e := range edges {
		p.edges[[2]string{e.From, e.To}] = e
		table[e.From] = append(table[e.From], e.To)
	}
	p.machine = workflows.NewStateMachine(table)
	return p
}

// Edge returns the policy edge from -> to.
func (p *Policy) Edge(from, to string) (Edge, bool) {
	if !p.machine.CanTransition(from, to) {
		return Edge{}, false
	}
	e, ok := p.edges[[2]string{from, to}]
	return e, ok
}

// Allowed lists the targets reachable from a state, sorted.
func (p *Policy) Allowed(from string) []string {
	out := p.machine.GetAllowedTransitions(from)
	sort.Strings(out)
	return out
}

// States lists every state the policy mentions.
func (p *Policy) States() []string { return p.machine.States() }

func (p *Policy) CanStartFrom(status string) bool {
	for _, s := range p.StartStates {
		if s == status {
			return true
		}
	}
	return false
}

func (p *Policy) IsCompletion(state string) bool {
	return p.Completion != "" && state == p.Completion
}

// Fallback is the state a terminated workflow leaves the document in.
func (p *Policy) Fallback(current string) string {
	switch {
	case p.Type.IsReviewClass():
		return models.StateDraft
	case p.Type == models.WorkflowObsolete:
		return models.StateEffective
	default:
		return current
	}
}

// activationEdges are shared by every review-class type from APPROVED on.
func activationEdges(check DependencyCheck) []Edge {
	return []Edge{
		{From: models.StateApproved, To: models.StateApprovedPendingEffective, Gate: GateAuthor | GateApprover, DependencyCheck: check},
		{From: models.StateApproved, To: models.StateEffective, Gate: GateApprover | GateSystem, DependencyCheck: check},
		{From: models.StateApprovedPendingEffective, To: models.StateEffective, Gate: GateSystem, DependencyCheck: check},
		{From: models.StateEffective, To: models.StateSuperseded, Gate: GateSystem},
	}
}

func reviewEdges(check DependencyCheck) []Edge {
	edges := []Edge{
		{From: models.StateDraft, To: models.StatePendingReview, Gate: GateAuthor, Handoff: HandoffReviewer},
		{From: models.StatePendingReview, To: models.StateUnderReview, Gate: GateReviewer},
		{From: models.StateUnderReview, To: models.StateReviewCompleted, Gate: GateReviewer, Handoff: HandoffAuthor},
		{From: models.StateUnderReview, To: models.StateDraft, Gate: GateReviewer, Reject: true},
		{From: models.StateReviewCompleted, To: models.StatePendingApproval, Gate: GateAuthor, Handoff: HandoffApprover},
		{From: models.StatePendingApproval, To: models.StateUnderApproval, Gate: GateApprover},
		{From: models.StateUnderApproval, To: models.StateApproved, Gate: GateApprover, Handoff: HandoffAuthor},
		{From: models.StateUnderApproval, To: models.StateDraft, Gate: GateApprover, Reject: true},
	}
	return append(edges, activationEdges(check)...)
}

var policies = map[models.WorkflowTypeCode]*Policy{
	models.WorkflowReview: newPolicy(models.WorkflowReview,
		[]string{models.StateDraft}, GateAuthor, models.StateEffective,
		reviewEdges(CheckNone)),

	models.WorkflowUpVersion: newPolicy(models.WorkflowUpVersion,
		[]string{models.StateDraft}, GateAuthor, models.StateEffective,
		reviewEdges(CheckActivation)),

	models.WorkflowApproval: newPolicy(models.WorkflowApproval,
		[]string{models.StateDraft}, GateAuthor, models.StateEffective,
		append([]Edge{
			{From: models.StateDraft, To: models.StatePendingApproval, Gate: GateAuthor, Handoff: HandoffApprover},
			{From: models.StatePendingApproval, To: models.StateUnderApproval, Gate: GateApprover},
			{From: models.StateUnderApproval, To: models.StateApproved, Gate: GateApprover},
			{From: models.StateUnderApproval, To: models.StateDraft, Gate: GateApprover, Reject: true},
		}, activationEdges(CheckNone)...)),

	models.WorkflowObsolete: newPolicy(models.WorkflowObsolete,
		[]string{models.StateEffective}, GateAuthor|GateApprover, models.StateObsolete,
		[]Edge{
			{From: models.StateEffective, To: models.StatePendingObsoletion, Gate: GateAuthor, Handoff: HandoffApprover},
			{From: models.StatePendingObsoletion, To: models.StateScheduledForObsolescence, Gate: GateApprover, DependencyCheck: CheckObsolescence},
			{From: models.StatePendingObsoletion, To: models.StateEffective, Gate: GateApprover, Reject: true},
			{From: models.StateScheduledForObsolescence, To: models.StateObsolete, Gate: GateSystem, DependencyCheck: CheckObsolescence},
		}),

	models.WorkflowPeriodicReview: newPolicy(models.WorkflowPeriodicReview,
		[]string{models.StateEffective}, GateAuthor|GateSystem, "",
		[]Edge{
			{From: models.StateEffective, To: models.StateEffective, Gate: GateAssignee},
		}),

	models.WorkflowTerminate: newPolicy(models.WorkflowTerminate,
		[]string{models.StateDraft}, GateAuthor, models.StateTerminated,
		[]Edge{
			{From: models.StateDraft, To: models.StateTerminated, Gate: GateAuthor, RequiresComment: true},
		}),
}

// PolicyFor returns the policy of a workflow type.
func PolicyFor(t models.WorkflowTypeCode) (*Policy, bool) {
	p, ok := policies[t]
	return p, ok
}
