// Package toposort orders the accounts of a context so that every account
// comes after the accounts it depends on.
package toposort

import (
	"github.com/emirpasic/gods/queues/priorityqueue"
	"github.com/emirpasic/gods/sets/treeset"
	"github.com/emirpasic/gods/utils"
)

// Sort runs Kahn's algorithm over nodes, where deps[n] lists the nodes n
// depends on. Ready nodes leave in ascending name order. Dependencies on
// names outside nodes are ignored. Nodes Kahn's algorithm cannot place,
// the members of a cycle and every node depending on one, are appended in
// ascending name order and also returned as unordered.
func Sort(nodes []string, deps map[string][]string) (order []string, unordered []string) {
	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		known[n] = true
	}

	indegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for n := range known {
		seen := map[string]bool{}
		for _, d := range deps[n] {
			if !known[d] || d == n || seen[d] {
				continue
			}
			seen[d] = true
			indegree[n]++
			dependents[d] = append(dependents[d], n)
		}
	}

	ready := priorityqueue.NewWith(utils.StringComparator)
	for n := range known {
		if indegree[n] == 0 {
			ready.Enqueue(n)
		}
	}

	order = make([]string, 0, len(known))
	for !ready.Empty() {
		v, _ := ready.Dequeue()
		n := v.(string)
		order = append(order, n)
		for _, m := range dependents[n] {
			indegree[m]--
			if indegree[m] == 0 {
				ready.Enqueue(m)
			}
		}
	}

	if len(order) == len(known) {
		return order, nil
	}

	rest := treeset.NewWithStringComparator()
	for n := range known {
		if indegree[n] > 0 {
			rest.Add(n)
		}
	}
	for _, v := range rest.Values() {
		unordered = append(unordered, v.(string))
	}
	return append(order, unordered...), unordered
}
