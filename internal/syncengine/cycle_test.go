package syncengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveCyclesTwoCycle(t *testing.T) {
	// a and b swap parents: a's new parent is b, b's new parent is a.
	a := [16]byte{1}
	b := [16]byte{2}

	parent := map[[16]byte][16]byte{a: b, b: a}
	moves := map[[16]byte]move{
		a: {id: a, localMove: true, timestamp: 100},
		b: {id: b, localMove: false, timestamp: 100},
	}

	reverted := resolveCycles(parent, moves)

	assert.Len(t, reverted, 1)
	assert.True(t, reverted[a], "local move should be the one reverted over the remote move")
}

func TestResolveCyclesThreeCycleOneMoveReverted(t *testing.T) {
	a, b, c := [16]byte{1}, [16]byte{2}, [16]byte{3}

	// a -> b -> c -> a, all local moves; most recent (c, ts=300) reverts.
	parent := map[[16]byte][16]byte{a: b, b: c, c: a}
	moves := map[[16]byte]move{
		a: {id: a, localMove: true, timestamp: 100},
		b: {id: b, localMove: true, timestamp: 200},
		c: {id: c, localMove: true, timestamp: 300},
	}

	reverted := resolveCycles(parent, moves)

	assert.Len(t, reverted, 1)
	assert.True(t, reverted[c])
}

func TestResolveCyclesTwoTwoCyclesBothBroken(t *testing.T) {
	// Two independent 2-cycles in the restricted graph both need breaking.
	a, b, c, d := [16]byte{1}, [16]byte{2}, [16]byte{3}, [16]byte{4}

	parent := map[[16]byte][16]byte{a: b, b: a, c: d, d: c}
	moves := map[[16]byte]move{
		a: {id: a, localMove: true, timestamp: 1},
		b: {id: b, localMove: false, timestamp: 1},
		c: {id: c, localMove: true, timestamp: 1},
		d: {id: d, localMove: true, timestamp: 2},
	}

	reverted := resolveCycles(parent, moves)

	assert.True(t, reverted[a])
	assert.True(t, reverted[d]) // the more recent of the two local moves in that cycle
	assert.Len(t, reverted, 2)
}

func TestResolveCyclesNoCycleIsNoOp(t *testing.T) {
	a, b := [16]byte{1}, [16]byte{2}

	parent := map[[16]byte][16]byte{a: b}
	moves := map[[16]byte]move{a: {id: a, localMove: true, timestamp: 1}}

	reverted := resolveCycles(parent, moves)
	assert.Empty(t, reverted)
}

func TestResolveCyclesSelfLoopIsReverted(t *testing.T) {
	// A file erroneously moved to become its own parent is a length-1 cycle.
	f := [16]byte{1}

	parent := map[[16]byte][16]byte{f: f}

	reverted := resolveCycles(parent, nil)
	assert.True(t, reverted[f])
}
