package plan

import "sort"

// depGraph is a directed graph over task indexes. Indexes are assigned in
// declaration order, which the topological sort uses as its tie-break.
type depGraph struct {
	count int
	from  map[int][]int
	to    map[int][]int
}

func newDepGraph(count int) *depGraph {
	return &depGraph{
		count: count,
		from:  make(map[int][]int),
		to:    make(map[int][]int),
	}
}

// addEdge records that `to` depends on `from`.
func (g *depGraph) addEdge(from, to int) {
	g.from[from] = append(g.from[from], to)
	g.to[to] = append(g.to[to], from)
}

// topoSort returns node indexes in topological order using Kahn's algorithm.
// Among ready nodes the smallest index is always chosen, so the result is a
// pure function of the declared configuration. Returns false if the graph
// contains a cycle.
func (g *depGraph) topoSort() ([]int, bool) {
	inDegree := make(map[int]int, g.count)
	for i := 0; i < g.count; i++ {
		inDegree[i] = len(g.to[i])
	}

	var ready []int
	for i := 0; i < g.count; i++ {
		if inDegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]int, 0, g.count)
	for len(ready) > 0 {
		sort.Ints(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, succ := range g.from[next] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				ready = append(ready, succ)
			}
		}
	}

	if len(order) != g.count {
		// Return the partial order so callers can identify cycle members.
		return order, false
	}
	return order, true
}

// cycleMembers returns the indexes left with unsatisfied dependencies after
// a failed sort, i.e. the nodes participating in (or downstream of) a cycle.
func (g *depGraph) cycleMembers() []int {
	order, ok := g.topoSort()
	if ok {
		return nil
	}
	sorted := make(map[int]struct{}, len(order))
	for _, i := range order {
		sorted[i] = struct{}{}
	}
	var members []int
	for i := 0; i < g.count; i++ {
		if _, ok := sorted[i]; !ok {
			members = append(members, i)
		}
	}
	return members
}
