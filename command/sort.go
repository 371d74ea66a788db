package command

import "sort"

// Less is the deterministic ordering relation over commands: priority_class
// ascending, then source_id-present commands before anonymous ones ordered by
// (source_id ascending, source_seq ascending), then arrival_seq ascending.
// This is the sole determinism boundary for concurrent producers: two
// submitters racing to set the same coordinate in the same tick resolve by
// comparing source_id, never by submission timing.
func Less(a, b Command) bool {
	if a.PriorityClass != b.PriorityClass {
		return a.PriorityClass < b.PriorityClass
	}
	aHas, bHas := a.SourceID != nil, b.SourceID != nil
	if aHas != bHas {
		return aHas // present-source_id commands sort before anonymous ones
	}
	if aHas && bHas {
		if *a.SourceID != *b.SourceID {
			return lessUUID(*a.SourceID, *b.SourceID)
		}
		if a.SourceSeq != b.SourceSeq {
			return a.SourceSeq < b.SourceSeq
		}
	}
	return a.ArrivalSeq < b.ArrivalSeq
}

// Order stable-sorts cmds under Less.
func Order(cmds []Command) {
	sort.SliceStable(cmds, func(i, j int) bool { return Less(cmds[i], cmds[j]) })
}

func lessUUID(a, b [16]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
