package gateway

import (
	"testing"

	"boardsync/domain"
)

func tasksAt(positions ...int) []domain.Task {
	out := make([]domain.Task, len(positions))
	for i, p := range positions {
		out[i] = domain.Task{ID: string(rune('a' + i)), Position: p}
	}
	return out
}

func TestPositionForIndexEmptyColumn(t *testing.T) {
	pos, ok := positionForIndex(nil, 0)
	if !ok || pos != positionGap {
		t.Fatalf("expected first position %d, got %d (ok=%v)", positionGap, pos, ok)
	}
}

func TestPositionForIndexFront(t *testing.T) {
	pos, ok := positionForIndex(tasksAt(1000, 2000), 0)
	if !ok || pos != 0 {
		t.Fatalf("expected first-minus-gap 0, got %d (ok=%v)", pos, ok)
	}
}

func TestPositionForIndexEnd(t *testing.T) {
	pos, ok := positionForIndex(tasksAt(1000, 2000), 2)
	if !ok || pos != 3000 {
		t.Fatalf("expected last-plus-gap 3000, got %d (ok=%v)", pos, ok)
	}
	// indexes past the end clamp to append
	pos, ok = positionForIndex(tasksAt(1000, 2000), 99)
	if !ok || pos != 3000 {
		t.Fatalf("expected clamp to append, got %d (ok=%v)", pos, ok)
	}
}

func TestPositionForIndexMidpoint(t *testing.T) {
	pos, ok := positionForIndex(tasksAt(1000, 2000), 1)
	if !ok || pos != 1500 {
		t.Fatalf("expected midpoint 1500, got %d (ok=%v)", pos, ok)
	}
}

func TestPositionForIndexGapExhausted(t *testing.T) {
	if _, ok := positionForIndex(tasksAt(1000, 1001), 1); ok {
		t.Fatal("adjacent positions must report gap exhaustion")
	}
}

func TestAppendPosition(t *testing.T) {
	if got := appendPosition(nil); got != positionGap {
		t.Fatalf("empty column append: got %d", got)
	}
	if got := appendPosition(tasksAt(1000, 2500)); got != 3500 {
		t.Fatalf("append after 2500: got %d", got)
	}
}

func TestRebalancedRestoresEvenGaps(t *testing.T) {
	group := rebalanced(tasksAt(999, 1000, 1001))
	for i, task := range group {
		if want := (i + 1) * positionGap; task.Position != want {
			t.Fatalf("index %d: expected %d, got %d", i, want, task.Position)
		}
	}
	// order preserved
	if group[0].ID != "a" || group[2].ID != "c" {
		t.Fatalf("rebalance changed order: %+v", group)
	}

	// midpoint insert works again afterwards
	if pos, ok := positionForIndex(group, 1); !ok || pos != 1500 {
		t.Fatalf("expected midpoint after rebalance, got %d (ok=%v)", pos, ok)
	}
}
