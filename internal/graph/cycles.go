package graph

import (
	"sort"
	"strings"

	"github.com/vk/pipewright/internal/config"
)

// detectCycles runs a depth-first search with the classic three-color
// marking. Unlike a plain reachability check it keeps the active path so the
// reported error names the full cycle, e.g. "a -> b -> a". Self-references
// surface the same way.
func (g *Graph) detectCycles() error {
	permanent := make(map[string]bool)
	inStack := make(map[string]bool)
	var path []string

	var visit func(n *Node) *config.ConfigError
	visit = func(n *Node) *config.ConfigError {
		name := n.Job.Name
		if permanent[name] {
			return nil
		}
		if inStack[name] {
			// Trim the path to the cycle entry point before reporting.
			start := 0
			for i, p := range path {
				if p == name {
					start = i
					break
				}
			}
			cycle := append(append([]string{}, path[start:]...), name)
			return &config.ConfigError{Job: name, Field: "needs",
				Detail: "dependency cycle: " + strings.Join(cycle, " -> ")}
		}

		inStack[name] = true
		path = append(path, name)
		for _, depName := range sortedKeys(n.Dependents) {
			if err := visit(n.Dependents[depName]); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		delete(inStack, name)
		permanent[name] = true
		return nil
	}

	for _, name := range sortedKeys(g.Nodes) {
		if !permanent[name] {
			if err := visit(g.Nodes[name]); err != nil {
				return err
			}
		}
	}
	return nil
}

func sortedKeys(m map[string]*Node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
