package domain

import "sort"

// member pairs an item id with its rank inside one ordered group. Ranks are
// 1-based and dense: a group of N members holds exactly the ranks 1..N.
type member struct {
	ID   string
	Rank int
}

// byRank returns a copy of members sorted ascending by rank.
func byRank(members []member) []member {
	out := append([]member(nil), members...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

// frontInsertShifts pushes every existing member down one slot so that a new
// item can take rank 1.
func frontInsertShifts(members []member) []member {
	shifts := make([]member, 0, len(members))
	for _, m := range members {
		shifts = append(shifts, member{ID: m.ID, Rank: m.Rank + 1})
	}
	return shifts
}

// planMove computes the destination rank for an item currently at current and
// the rank changes of the other group members. others must not contain the
// moving item itself. A requested rank past the end of the group is clamped
// to the last slot; a rank below 1 fails with ErrInvalidOrder.
//
// The single-pass shift produces the same dense result as removing the item
// and reinserting it at the requested position.
func planMove(others []member, current, requested int) (int, []member, error) {
	if requested < 1 {
		return 0, nil, ErrInvalidOrder
	}
	if max := len(others) + 1; requested > max {
		requested = max
	}
	var shifts []member
	switch {
	case current < requested:
		for _, m := range others {
			if m.Rank > current && m.Rank <= requested {
				shifts = append(shifts, member{ID: m.ID, Rank: m.Rank - 1})
			}
		}
	case current > requested:
		for _, m := range others {
			if m.Rank >= requested && m.Rank < current {
				shifts = append(shifts, member{ID: m.ID, Rank: m.Rank + 1})
			}
		}
	}
	return requested, shifts, nil
}

// compactShifts closes the gap left behind at removedRank, preserving the
// relative order of the remaining members.
func compactShifts(members []member, removedRank int) []member {
	var shifts []member
	for _, m := range members {
		if m.Rank > removedRank {
			shifts = append(shifts, member{ID: m.ID, Rank: m.Rank - 1})
		}
	}
	return shifts
}

// renumber reassigns dense ranks 1..N preserving the current relative order,
// returning only the members whose rank actually changes.
func renumber(members []member) []member {
	var shifts []member
	for i, m := range byRank(members) {
		if m.Rank != i+1 {
			shifts = append(shifts, member{ID: m.ID, Rank: i + 1})
		}
	}
	return shifts
}
