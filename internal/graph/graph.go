// Package graph builds the execution DAG for one pipeline: a node per
// scheduled job, an edge per dependency, with stage barriers expressed as
// implicit edges. The graph is immutable once built.
package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/vk/pipewright/internal/config"
	"github.com/vk/pipewright/internal/ctxlog"
	"github.com/vk/pipewright/internal/rules"
)

// Node is one schedulable job in the graph.
type Node struct {
	// Job is the fully resolved job definition.
	Job *config.Job
	// Decision is Run or Manual; Skip-decided jobs never become nodes.
	Decision rules.Decision
	// AllowFailure is the effective flag after any rule-level override.
	AllowFailure bool
	// Deps are the nodes this job waits for, keyed by job name. Includes
	// implicit stage-barrier edges.
	Deps map[string]*Node
	// Dependents are the nodes waiting for this job.
	Dependents map[string]*Node
	// Fanout is the number of transitive dependents, the scheduler's
	// critical-path dispatch heuristic.
	Fanout int
}

// Graph is the validated execution DAG.
type Graph struct {
	// Nodes holds every scheduled job, keyed by name.
	Nodes map[string]*Node
	// Skipped lists jobs excluded by their rules, for result reporting.
	Skipped []string
	// Stages is the pipeline's ordered stage list.
	Stages []string
}

// Build constructs and validates the graph from a resolved document and the
// per-job rule outcomes. Referencing an unknown job or one skipped by its own
// rules in `needs` is a contract violation, not a silent skip.
func Build(ctx context.Context, doc *config.Document, outcomes map[string]rules.Outcome) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)

	g := &Graph{
		Nodes:  make(map[string]*Node),
		Stages: doc.Stages,
	}

	// First pass: one node per job whose decision is not Skip. Templates are
	// not in doc.Jobs and can never end up here.
	for _, name := range sortedJobNames(doc) {
		job := doc.Jobs[name]
		if config.IsReservedName(name) {
			return nil, &config.ConfigError{Job: name, Detail: "job name is reserved"}
		}
		out, ok := outcomes[name]
		if !ok {
			return nil, fmt.Errorf("no rule outcome for job %q", name)
		}
		if out.Decision == rules.Skip {
			g.Skipped = append(g.Skipped, name)
			continue
		}
		allowFailure := job.AllowedFailure()
		if out.AllowFailure != nil {
			allowFailure = *out.AllowFailure
		}
		g.Nodes[name] = &Node{
			Job:          job,
			Decision:     out.Decision,
			AllowFailure: allowFailure,
			Deps:         make(map[string]*Node),
			Dependents:   make(map[string]*Node),
		}
	}
	logger.Debug("Graph nodes created.", "scheduled", len(g.Nodes), "skipped", len(g.Skipped))

	// Second pass: explicit needs edges, then implicit stage barriers for
	// jobs that declared none.
	skipped := make(map[string]bool, len(g.Skipped))
	for _, name := range g.Skipped {
		skipped[name] = true
	}
	for name, node := range g.Nodes {
		for _, need := range node.Job.Needs {
			dep, ok := g.Nodes[need]
			if !ok {
				if skipped[need] {
					return nil, &config.ConfigError{Job: name, Field: "needs",
						Detail: fmt.Sprintf("needed job %q is excluded by its own rules", need)}
				}
				return nil, &config.ConfigError{Job: name, Field: "needs",
					Detail: fmt.Sprintf("unknown job %q", need)}
			}
			addEdge(dep, node)
		}
	}
	if err := g.linkStageBarriers(); err != nil {
		return nil, err
	}
	logger.Debug("Graph linking complete.")

	if err := g.detectCycles(); err != nil {
		return nil, err
	}

	g.computeFanout()
	return g, nil
}

// StageIndex returns the position of a stage in the pipeline order, or -1.
func (g *Graph) StageIndex(stage string) int {
	for i, s := range g.Stages {
		if s == stage {
			return i
		}
	}
	return -1
}

// linkStageBarriers gives every job without explicit needs an edge from each
// scheduled job of the nearest prior stage that has scheduled jobs. Stages
// emptied by rule skips collapse out of the barrier chain.
func (g *Graph) linkStageBarriers() error {
	byStage := make(map[string][]*Node)
	for _, n := range g.Nodes {
		byStage[n.Job.Stage] = append(byStage[n.Job.Stage], n)
	}

	for _, node := range g.Nodes {
		if len(node.Job.Needs) > 0 {
			continue
		}
		idx := g.StageIndex(node.Job.Stage)
		if idx < 0 {
			return &config.ConfigError{Job: node.Job.Name, Field: "stage",
				Detail: fmt.Sprintf("unknown stage %q", node.Job.Stage)}
		}
		for prior := idx - 1; prior >= 0; prior-- {
			prev := byStage[g.Stages[prior]]
			if len(prev) == 0 {
				continue
			}
			for _, dep := range prev {
				addEdge(dep, node)
			}
			break
		}
	}
	return nil
}

// computeFanout counts transitive dependents per node. The graph is known
// acyclic by the time this runs.
func (g *Graph) computeFanout() {
	for _, n := range g.Nodes {
		seen := make(map[string]bool)
		var walk func(*Node)
		walk = func(cur *Node) {
			for name, dep := range cur.Dependents {
				if !seen[name] {
					seen[name] = true
					walk(dep)
				}
			}
		}
		walk(n)
		n.Fanout = len(seen)
	}
}

func addEdge(from, to *Node) {
	to.Deps[from.Job.Name] = from
	from.Dependents[to.Job.Name] = to
}

func sortedJobNames(doc *config.Document) []string {
	names := make([]string, 0, len(doc.Jobs))
	for name := range doc.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
