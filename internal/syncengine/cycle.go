package syncengine

// move is one parent change accepted in Phase B, before cycle resolution.
type move struct {
	id        [16]byte
	localMove bool     // true if this file's new parent came from the local side
	timestamp int64    // Unix second at which Phase B registered the move, used to break revert ties
	revertTo  [16]byte // parent to restore if this move is picked for reversion
}

// resolveCycles finds every cycle in the restricted graph of changed-parent
// edges (parent[id] = newParent) and returns the set of ids whose move must
// be reverted to break all cycles, preferring local moves over remote ones
// and, among local moves, the one with the latest timestamp. Timestamps are
// taken when Phase B registers each move, not when the user made it, so
// moves registered in the same second fall through to the file-id tie-break.
//
// This is a direct application of Tarjan's strongly-connected-components
// algorithm restricted to the subgraph of files whose parent changed since
// the watermark: any SCC of size > 1, or a self-loop, is a cycle that must
// be broken.
func resolveCycles(parent map[[16]byte][16]byte, moves map[[16]byte]move) map[[16]byte]bool {
	reverted := make(map[[16]byte]bool)

	for _, scc := range tarjanSCCs(parent) {
		if len(scc) == 1 {
			id := scc[0]
			if parent[id] == id {
				reverted[id] = true
			}

			continue
		}

		for _, id := range minimalRevertSet(scc, moves) {
			reverted[id] = true
		}
	}

	return reverted
}

// minimalRevertSet picks, within one cycle, the smallest set of moves to
// revert that breaks it. A cycle over a parent-pointer graph (each node has
// out-degree exactly 1) is always a single ring, so reverting exactly one
// edge suffices. Preference order: a local move over a remote one; among
// local moves, the one with the latest timestamp; ties broken by file id.
func minimalRevertSet(scc [][16]byte, moves map[[16]byte]move) [][16]byte {
	var best [16]byte

	haveBest := false

	for _, id := range scc {
		m, ok := moves[id]
		if !ok {
			continue
		}

		if !haveBest {
			best = id
			haveBest = true

			continue
		}

		if better(m, moves[best], id, best) {
			best = id
		}
	}

	if !haveBest {
		// No move metadata available (shouldn't happen for a restricted-graph
		// cycle); fall back to the lowest id for determinism.
		best = lowestID(scc)
	}

	return [][16]byte{best}
}

func better(a, b move, aID, bID [16]byte) bool {
	if a.localMove != b.localMove {
		return a.localMove // prefer reverting a local move over a remote one
	}

	if a.timestamp != b.timestamp {
		return a.timestamp > b.timestamp // prefer the most recent local move
	}

	return idLess(aID, bID)
}

func lowestID(ids [][16]byte) [16]byte {
	best := ids[0]

	for _, id := range ids[1:] {
		if idLess(id, best) {
			best = id
		}
	}

	return best
}

func idLess(a, b [16]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}

	return false
}

// tarjanSCCs computes the strongly connected components of the functional
// graph defined by parent (each node has exactly one outgoing edge, to its
// new parent). Returns every SCC, including trivial ones of size 1.
func tarjanSCCs(parent map[[16]byte][16]byte) [][][16]byte {
	type nodeState struct {
		index   int
		lowlink int
		onStack bool
	}

	index := 0
	stack := make([][16]byte, 0, len(parent))
	states := make(map[[16]byte]*nodeState, len(parent))

	var sccs [][][16]byte

	var strongconnect func(v [16]byte)

	strongconnect = func(v [16]byte) {
		states[v] = &nodeState{index: index, lowlink: index, onStack: true}
		index++
		stack = append(stack, v)

		if w, ok := parent[v]; ok {
			if states[w] == nil {
				strongconnect(w)

				if states[w].lowlink < states[v].lowlink {
					states[v].lowlink = states[w].lowlink
				}
			} else if states[w].onStack {
				if states[w].index < states[v].lowlink {
					states[v].lowlink = states[w].index
				}
			}
		}

		if states[v].lowlink == states[v].index {
			var scc [][16]byte

			for {
				n := len(stack) - 1
				w := stack[n]
				stack = stack[:n]
				states[w].onStack = false

				scc = append(scc, w)

				if w == v {
					break
				}
			}

			sccs = append(sccs, scc)
		}
	}

	for v := range parent {
		if states[v] == nil {
			strongconnect(v)
		}
	}

	return sccs
}
