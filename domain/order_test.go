package domain

import (
	"errors"
	"fmt"
	"sort"
	"testing"
)

// applyShifts merges the planned shifts back into the group and returns the
// resulting rank per id.
func applyShifts(members []member, shifts []member) map[string]int {
	ranks := map[string]int{}
	for _, m := range members {
		ranks[m.ID] = m.Rank
	}
	for _, sh := range shifts {
		ranks[sh.ID] = sh.Rank
	}
	return ranks
}

// assertDense fails unless the ranks are exactly {1..N}.
func assertDense(t *testing.T, ranks map[string]int) {
	t.Helper()
	got := make([]int, 0, len(ranks))
	for _, r := range ranks {
		got = append(got, r)
	}
	sort.Ints(got)
	for i, r := range got {
		if r != i+1 {
			t.Fatalf("ranks not dense: %v", ranks)
		}
	}
}

func group(ids ...string) []member {
	ms := make([]member, len(ids))
	for i, id := range ids {
		ms[i] = member{ID: id, Rank: i + 1}
	}
	return ms
}

func without(members []member, id string) ([]member, int) {
	var rank int
	out := make([]member, 0, len(members))
	for _, m := range members {
		if m.ID == id {
			rank = m.Rank
			continue
		}
		out = append(out, m)
	}
	return out, rank
}

func TestFrontInsertShiftsEveryMember(t *testing.T) {
	members := group("a", "b", "c")
	shifts := frontInsertShifts(members)
	if len(shifts) != 3 {
		t.Fatalf("expected 3 shifts, got %d", len(shifts))
	}
	ranks := applyShifts(members, shifts)
	ranks["new"] = 1
	assertDense(t, ranks)
	if ranks["a"] != 2 || ranks["b"] != 3 || ranks["c"] != 4 {
		t.Fatalf("unexpected ranks: %v", ranks)
	}
}

func TestPlanMoveRejectsRankBelowOne(t *testing.T) {
	others, current := without(group("a", "b", "c"), "a")
	for _, requested := range []int{0, -1, -100} {
		if _, _, err := planMove(others, current, requested); !errors.Is(err, ErrInvalidOrder) {
			t.Fatalf("requested=%d: expected ErrInvalidOrder, got %v", requested, err)
		}
	}
}

func TestPlanMoveClampsPastEnd(t *testing.T) {
	members := group("a", "b", "c")
	others, current := without(members, "a")
	target, shifts, err := planMove(others, current, 99)
	if err != nil {
		t.Fatalf("plan move: %v", err)
	}
	if target != 3 {
		t.Fatalf("expected clamp to 3, got %d", target)
	}
	ranks := applyShifts(members, shifts)
	ranks["a"] = target
	assertDense(t, ranks)
	if ranks["b"] != 1 || ranks["c"] != 2 || ranks["a"] != 3 {
		t.Fatalf("unexpected ranks: %v", ranks)
	}
}

func TestPlanMoveSamePositionIsNoop(t *testing.T) {
	others, current := without(group("a", "b", "c"), "b")
	target, shifts, err := planMove(others, current, current)
	if err != nil {
		t.Fatalf("plan move: %v", err)
	}
	if target != current {
		t.Fatalf("expected target %d, got %d", current, target)
	}
	if len(shifts) != 0 {
		t.Fatalf("expected no shifts, got %v", shifts)
	}
}

// Front-inserting C, B, A gives C=1, B=2, A=3; moving A to the front must
// yield A=1, C=2, B=3.
func TestPlanMoveToFront(t *testing.T) {
	members := []member{{ID: "C", Rank: 1}, {ID: "B", Rank: 2}, {ID: "A", Rank: 3}}
	others, current := without(members, "A")
	target, shifts, err := planMove(others, current, 1)
	if err != nil {
		t.Fatalf("plan move: %v", err)
	}
	ranks := applyShifts(members, shifts)
	ranks["A"] = target
	assertDense(t, ranks)
	if ranks["A"] != 1 || ranks["C"] != 2 || ranks["B"] != 3 {
		t.Fatalf("unexpected ranks: %v", ranks)
	}
}

func TestPlanMoveMatchesRemoveReinsert(t *testing.T) {
	const n = 6
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("t%d", i+1)
	}
	for from := 1; from <= n; from++ {
		for to := 1; to <= n; to++ {
			members := group(ids...)
			moving := ids[from-1]
			others, current := without(members, moving)
			target, shifts, err := planMove(others, current, to)
			if err != nil {
				t.Fatalf("from=%d to=%d: %v", from, to, err)
			}
			ranks := applyShifts(members, shifts)
			ranks[moving] = target
			assertDense(t, ranks)

			// Reference: stable list removal + reinsertion at position to.
			rest := append([]string{}, ids[:from-1]...)
			rest = append(rest, ids[from:]...)
			want := append([]string{}, rest[:to-1]...)
			want = append(want, moving)
			want = append(want, rest[to-1:]...)
			for pos, id := range want {
				if ranks[id] != pos+1 {
					t.Fatalf("from=%d to=%d: got %v, want order %v", from, to, ranks, want)
				}
			}
		}
	}
}

func TestCompactClosesGap(t *testing.T) {
	members := group("a", "b", "c", "d")
	remaining, removed := without(members, "b")
	shifts := compactShifts(remaining, removed)
	ranks := applyShifts(remaining, shifts)
	assertDense(t, ranks)
	if ranks["a"] != 1 || ranks["c"] != 2 || ranks["d"] != 3 {
		t.Fatalf("unexpected ranks: %v", ranks)
	}
}

func TestCompactAfterLastIsNoop(t *testing.T) {
	members := group("a", "b", "c")
	remaining, removed := without(members, "c")
	if shifts := compactShifts(remaining, removed); len(shifts) != 0 {
		t.Fatalf("expected no shifts, got %v", shifts)
	}
}

func TestRenumberRepairsSparseRanks(t *testing.T) {
	members := []member{{ID: "a", Rank: 2}, {ID: "b", Rank: 5}, {ID: "c", Rank: 9}}
	shifts := renumber(members)
	ranks := applyShifts(members, shifts)
	assertDense(t, ranks)
	if ranks["a"] != 1 || ranks["b"] != 2 || ranks["c"] != 3 {
		t.Fatalf("unexpected ranks: %v", ranks)
	}
}

func TestRenumberDenseIsNoop(t *testing.T) {
	if shifts := renumber(group("a", "b", "c")); len(shifts) != 0 {
		t.Fatalf("expected no shifts, got %v", shifts)
	}
}
