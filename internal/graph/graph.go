// Package graph holds the dependency algorithms: cycle prevention on insert,
// ready/blocked classification and the critical path. It works on an
// in-memory copy of the edge set loaded by the caller inside its transaction.
package graph

import (
	"sort"

	"filigree/internal/domain"
)

// Node is the slice of an issue the graph needs for classification.
type Node struct {
	ID        string
	Category  string
	Priority  int
	CreatedAt string
}

type Blocked struct {
	ID        string   `json:"id"`
	BlockedBy []string `json:"blocked_by"`
}

type Readiness struct {
	Ready   []string
	Blocked []Blocked
}

// Graph maps each issue to the issues it depends on.
type Graph struct {
	deps  map[string][]string
	edges map[[2]string]bool
}

// New builds a graph from blocking edges. Edges of other types are ignored.
func New(edges []domain.Dependency) *Graph {
	g := &Graph{deps: map[string][]string{}, edges: map[[2]string]bool{}}
	for _, e := range edges {
		if e.Type != "" && e.Type != domain.DependencyBlocks {
			continue
		}
		g.add(e.IssueID, e.DependsOnID)
	}
	for id := range g.deps {
		sort.Strings(g.deps[id])
	}
	return g
}

func (g *Graph) add(from, to string) bool {
	key := [2]string{from, to}
	if g.edges[key] {
		return false
	}
	g.edges[key] = true
	g.deps[from] = append(g.deps[from], to)
	return true
}

// Add records from -> to after CheckAdd. It returns false for a duplicate.
func (g *Graph) Add(from, to string) (bool, error) {
	if err := g.CheckAdd(from, to); err != nil {
		return false, err
	}
	return g.add(from, to), nil
}

// DependsOn returns the direct blockers of id.
func (g *Graph) DependsOn(id string) []string {
	return append([]string(nil), g.deps[id]...)
}

// CheckAdd rejects self edges and any edge from -> to where from is already
// reachable from to, since adding it would close a cycle.
func (g *Graph) CheckAdd(from, to string) error {
	if from == to {
		return domain.Validation("issue %s cannot depend on itself", from)
	}
	if path := g.path(to, from); path != nil {
		return domain.Cycle(from, to, append([]string{from}, path...))
	}
	return nil
}

// path runs a breadth-first search along depends-on edges and returns the
// route from start to target, or nil when target is unreachable.
func (g *Graph) path(start, target string) []string {
	parent := map[string]string{start: ""}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == target {
			var out []string
			for n := cur; n != ""; n = parent[n] {
				out = append(out, n)
			}
			for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
				out[i], out[j] = out[j], out[i]
			}
			return out
		}
		for _, next := range g.deps[cur] {
			if _, seen := parent[next]; !seen {
				parent[next] = cur
				queue = append(queue, next)
			}
		}
	}
	return nil
}

// Readiness splits open issues into ready and blocked. An issue is blocked
// while any of its blockers is outside the done category; blockers missing
// from nodes count as not done. Both lists come back in work order: priority,
// then age, then id.
func (g *Graph) Readiness(nodes []Node) Readiness {
	byID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	sorted := append([]Node(nil), nodes...)
	SortByWorkOrder(sorted)

	var res Readiness
	for _, n := range sorted {
		if n.Category != domain.CategoryOpen {
			continue
		}
		var blockers []string
		for _, dep := range g.deps[n.ID] {
			if b, ok := byID[dep]; !ok || b.Category != domain.CategoryDone {
				blockers = append(blockers, dep)
			}
		}
		if len(blockers) == 0 {
			res.Ready = append(res.Ready, n.ID)
			continue
		}
		res.Blocked = append(res.Blocked, Blocked{ID: n.ID, BlockedBy: blockers})
	}
	return res
}

// SortByWorkOrder orders nodes by priority, creation time and id.
func SortByWorkOrder(nodes []Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return a.ID < b.ID
	})
}

// CriticalPath returns the longest chain of not-done issues linked by
// blocking edges, ordered from the unblocked root to the most deeply blocked
// issue. Among chains of equal length the one ending at the smallest id wins,
// and each step prefers the smallest predecessor id. A result needs at least
// two issues; otherwise nil.
func (g *Graph) CriticalPath(nodes []Node) []string {
	active := map[string]bool{}
	for _, n := range nodes {
		if n.Category != domain.CategoryDone {
			active[n.ID] = true
		}
	}
	blocks := map[string][]string{}
	indeg := map[string]int{}
	for id := range active {
		indeg[id] += 0
		for _, dep := range g.deps[id] {
			if active[dep] {
				blocks[dep] = append(blocks[dep], id)
				indeg[id]++
			}
		}
	}
	for id := range blocks {
		sort.Strings(blocks[id])
	}

	var queue []string
	for id, d := range indeg {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	dist := map[string]int{}
	pred := map[string]string{}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, v := range blocks[u] {
			cand := dist[u] + 1
			if cand > dist[v] || (cand == dist[v] && u < pred[v]) {
				dist[v] = cand
				pred[v] = u
			}
			indeg[v]--
			if indeg[v] == 0 {
				queue = insertSorted(queue, v)
			}
		}
	}

	end, best := "", 0
	for id, d := range dist {
		if d > best || (d == best && d > 0 && id < end) {
			end, best = id, d
		}
	}
	if best == 0 {
		return nil
	}
	path := []string{end}
	for n := pred[end]; n != ""; n = pred[n] {
		path = append(path, n)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

func insertSorted(list []string, v string) []string {
	i := sort.SearchStrings(list, v)
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = v
	return list
}
