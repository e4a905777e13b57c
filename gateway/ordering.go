package gateway

import "boardsync/domain"

// positionGap is the spacing between freshly assigned positions. The gap
// leaves room for later drops in between without rewriting neighbors.
const positionGap = 1000

// positionForIndex computes the position value a task should take to land at
// index among siblings (the target column's tasks in position order, with the
// moving task already excluded). ok is false when the neighboring positions
// have no integer between them and the sibling group needs rebalancing first.
func positionForIndex(siblings []domain.Task, index int) (int, bool) {
	if len(siblings) == 0 {
		return positionGap, true
	}
	if index <= 0 {
		return siblings[0].Position - positionGap, true
	}
	if index >= len(siblings) {
		return siblings[len(siblings)-1].Position + positionGap, true
	}
	before := siblings[index-1].Position
	after := siblings[index].Position
	mid := before + (after-before)/2
	if mid == before || mid == after {
		return 0, false
	}
	return mid, true
}

// appendPosition returns the position for a task added to the end of a column.
func appendPosition(siblings []domain.Task) int {
	if len(siblings) == 0 {
		return positionGap
	}
	return siblings[len(siblings)-1].Position + positionGap
}

// rebalanced returns the sibling group re-spaced to even gaps, preserving
// order. Used when a midpoint insert has run out of integers.
func rebalanced(siblings []domain.Task) []domain.Task {
	out := make([]domain.Task, len(siblings))
	copy(out, siblings)
	for i := range out {
		out[i].Position = (i + 1) * positionGap
	}
	return out
}
