package scheduler

import "fmt"

// stronglyConnectedComponents runs Tarjan's algorithm over adj (adjacency
// list by manifest index) and returns each component as a set of indices.
// Manifests in the same component have a cyclic dependency and must share
// a phase (spec.md §4.5: "Cycles across kinds are allowed within a phase").
func stronglyConnectedComponents(adj [][]int) [][]int {
	n := len(adj)
	index := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = -1
	}
	var stack []int
	var components [][]int
	next := 0

	var strongconnect func(v int)
	strongconnect = func(v int) {
		index[v] = next
		low[v] = next
		next++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if index[w] == -1 {
				strongconnect(w)
				if low[w] < low[v] {
					low[v] = low[w]
				}
			} else if onStack[w] {
				if index[w] < low[v] {
					low[v] = index[w]
				}
			}
		}

		if low[v] == index[v] {
			var comp []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			components = append(components, comp)
		}
	}

	for v := 0; v < n; v++ {
		if index[v] == -1 {
			strongconnect(v)
		}
	}
	return components
}

// topologicalLayers condenses adj by the given SCCs and returns the
// components in dependency order (producers before consumers), via Kahn's
// algorithm over the condensation graph. Each returned group is the set of
// original manifest indices belonging to one phase.
func topologicalLayers(adj [][]int, sccs [][]int) ([][]int, error) {
	compOf := make([]int, len(adj))
	for ci, comp := range sccs {
		for _, v := range comp {
			compOf[v] = ci
		}
	}

	numComp := len(sccs)
	condAdj := make(map[int]map[int]bool, numComp)
	indegree := make([]int, numComp)
	for ci := range sccs {
		condAdj[ci] = make(map[int]bool)
	}
	for v, neighbors := range adj {
		for _, w := range neighbors {
			cv, cw := compOf[v], compOf[w]
			if cv == cw {
				continue
			}
			if !condAdj[cv][cw] {
				condAdj[cv][cw] = true
				indegree[cw]++
			}
		}
	}

	var queue []int
	for ci := 0; ci < numComp; ci++ {
		if indegree[ci] == 0 {
			queue = append(queue, ci)
		}
	}

	// Peel the whole zero-indegree frontier at once: every component in the
	// current frontier is mutually independent (neither derives a kind the
	// other uses), so they belong in one phase together rather than one
	// phase each. Only decrementing indegrees after the whole frontier is
	// collected exposes the next frontier in the following iteration.
	var order [][]int
	total := 0
	for len(queue) > 0 {
		frontier := queue
		queue = nil
		order = append(order, frontier)
		total += len(frontier)
		for _, ci := range frontier {
			for cw := range condAdj[ci] {
				indegree[cw]--
				if indegree[cw] == 0 {
					queue = append(queue, cw)
				}
			}
		}
	}
	if total != numComp {
		return nil, fmt.Errorf("scheduler: cyclic phase definition detected across kind producers/consumers")
	}

	result := make([][]int, len(order))
	for i, layer := range order {
		var group []int
		for _, ci := range layer {
			group = append(group, sccs[ci]...)
		}
		result[i] = group
	}
	return result, nil
}
