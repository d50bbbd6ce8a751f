package dependencies

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"controlled-docs/edms-backend/internal/models"
)

var (
	ErrSelfDependency = errors.New("a document cannot depend on itself or another version of itself")
	ErrInvalidType    = errors.New("unknown dependency type")
)

// CycleError reports the family path the candidate edge would close.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency would create a cycle: %s", strings.Join(e.Path, " -> "))
}

// GraphReader is the read side the validator needs. Pass the transaction's
// repository when validating writes.
type GraphReader interface {
	ListActiveDependencyEdges(ctx context.Context) ([]models.DependencyEdge, error)
	ListIncomingDependencyEdges(ctx context.Context, documentID uuid.UUID) ([]models.DependencyEdge, error)
}

// Result of an obsolescence or activation check.
type Result struct {
	Valid    bool                    `json:"valid"`
	Reason   string                  `json:"reason,omitempty"`
	Blocking []models.DependencyEdge `json:"blocking,omitempty"`
	Warnings []models.DependencyEdge `json:"warnings,omitempty"`
}

// Validator works on document families: every version of a document is
// one node.
type Validator struct {
	repo GraphReader
}

func NewValidator(repo GraphReader) *Validator {
	return &Validator{repo: repo}
}

type graph map[string][]string

func (v *Validator) familyGraph(ctx context.Context) (graph, error) {
	edges, err := v.repo.ListActiveDependencyEdges(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load dependency edges: %w", err)
	}
	g := make(graph)
	seen := make(map[[2]string]bool)
	for _, e := range edges {
		key := [2]string{e.FromFamily, e.ToFamily}
		if seen[key] {
			continue
		}
		seen[key] = true
		g[e.FromFamily] = append(g[e.FromFamily], e.ToFamily)
	}
	for from := range g {
		sort.Strings(g[from])
	}
	return g, nil
}

// path returns a family path from start to target, or nil.
func (g graph) path(start, target string) []string {
	visited := make(map[string]bool)
	var walk func(node string, trail []string) []string
	walk = func(node string, trail []string) []string {
		trail = append(trail, node)
		if node == target {
			return trail
		}
		visited[node] = true
		for _, next := range g[node] {
			if visited[next] {
				continue
			}
			if found := walk(next, trail); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(start, nil)
}

// HasCycle reports whether adding from -> dependsOn would close a cycle in
// the family graph.
func (v *Validator) HasCycle(ctx context.Context, from, dependsOn *models.Document) (bool, error) {
	err := v.ValidateCandidate(ctx, from, dependsOn)
	var cycle *CycleError
	switch {
	case err == nil:
		return false, nil
	case errors.As(err, &cycle), errors.Is(err, ErrSelfDependency):
		return true, nil
	default:
		return false, err
	}
}

// ValidateCandidate returns ErrSelfDependency, a *CycleError or nil.
func (v *Validator) ValidateCandidate(ctx context.Context, from, dependsOn *models.Document) error {
	if from.ID == dependsOn.ID || from.FamilyKey == dependsOn.FamilyKey {
		return ErrSelfDependency
	}
	g, err := v.familyGraph(ctx)
	if err != nil {
		return err
	}
	// The new edge closes a cycle iff dependsOn already reaches from.
	if p := g.path(dependsOn.FamilyKey, from.FamilyKey); p != nil {
		return &CycleError{Path: append([]string{from.FamilyKey}, p...)}
	}
	return nil
}

const (
	white = iota
	grey
	black
)

// DetectAllCycles lists every cycle found by a coloring DFS over the family
// graph. Each cycle starts and ends at the same family.
func (v *Validator) DetectAllCycles(ctx context.Context) ([][]string, error) {
	g, err := v.familyGraph(ctx)
	if err != nil {
		return nil, err
	}

	nodes := make([]string, 0, len(g))
	for n := range g {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	color := make(map[string]int)
	var stack []string
	var cycles [][]string

	var visit func(n string)
	visit = func(n string) {
		color[n] = grey
		stack = append(stack, n)
		for _, next := range g[n] {
			switch color[next] {
			case white:
				visit(next)
			case grey:
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == next {
						cycle := append([]string(nil), stack[i:]...)
						cycles = append(cycles, append(cycle, next))
						break
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
	}

	for _, n := range nodes {
		if color[n] == white {
			visit(n)
		}
	}
	return cycles, nil
}

// ValidateObsolescence blocks when a still-effective document critically
// depends on doc. Non-critical dependents are returned as warnings.
func (v *Validator) ValidateObsolescence(ctx context.Context, doc *models.Document) (*Result, error) {
	incoming, err := v.repo.ListIncomingDependencyEdges(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load dependents: %w", err)
	}

	res := &Result{Valid: true}
	for _, e := range incoming {
		if e.DocumentID == doc.ID {
			continue
		}
		if e.IsCritical && e.FromStatus == models.StateEffective {
			res.Blocking = append(res.Blocking, e)
			continue
		}
		res.Warnings = append(res.Warnings, e)
	}
	if len(res.Blocking) > 0 {
		res.Valid = false
		res.Reason = fmt.Sprintf("%d effective document(s) critically depend on %s: %s",
			len(res.Blocking), doc.DocumentNumber, edgeSources(res.Blocking))
	}
	return res, nil
}

// ValidateActivation checks a new version before it becomes effective: it
// must not critically depend on a retired document and its family must not
// sit on a dependency cycle.
func (v *Validator) ValidateActivation(ctx context.Context, doc *models.Document) (*Result, error) {
	edges, err := v.repo.ListActiveDependencyEdges(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load dependency edges: %w", err)
	}

	res := &Result{Valid: true}
	for _, e := range edges {
		if e.DocumentID != doc.ID {
			continue
		}
		retired := e.ToStatus == models.StateObsolete || e.ToStatus == models.StateSuperseded
		if retired && e.IsCritical {
			res.Blocking = append(res.Blocking, e)
		} else if retired {
			res.Warnings = append(res.Warnings, e)
		}
	}

	cycles, err := v.DetectAllCycles(ctx)
	if err != nil {
		return nil, err
	}
	var onCycle []string
	for _, c := range cycles {
		for _, fam := range c {
			if fam == doc.FamilyKey {
				onCycle = c
				break
			}
		}
	}

	switch {
	case len(res.Blocking) > 0:
		res.Valid = false
		res.Reason = fmt.Sprintf("%s critically depends on retired document(s): %s",
			doc.DocumentNumber, edgeTargets(res.Blocking))
	case onCycle != nil:
		res.Valid = false
		res.Reason = fmt.Sprintf("%s is part of a dependency cycle: %s",
			doc.DocumentNumber, strings.Join(onCycle, " -> "))
	}
	return res, nil
}

func edgeSources(edges []models.DependencyEdge) string {
	out := make([]string, len(edges))
	for i, e := range edges {
		out[i] = e.FromNumber
	}
	return strings.Join(out, ", ")
}

func edgeTargets(edges []models.DependencyEdge) string {
	out := make([]string, len(edges))
	for i, e := range edges {
		out[i] = e.ToNumber
	}
	return strings.Join(out, ", ")
}
