package history

import "fmt"

// DivergenceError explains why a prior history does not lead to the current
// one. Index is the first diverging ply, or -1 for a header mismatch.
type DivergenceError struct {
	Index   int
	Header  string
	Prior   string
	Current string
}

func (e *DivergenceError) Error() string {
	if e.Header != "" {
		return fmt.Sprintf("header %s differs: prior %q, current %q", e.Header, e.Prior, e.Current)
	}
	return fmt.Sprintf("move %d differs: prior %q, current %q", e.Index, e.Prior, e.Current)
}

// CheckPrior returns nil when prev is current itself or an earlier state of
// it: every tag in prev carries the same value in current and prev's moves
// are a positional prefix of current's.
func CheckPrior(prev, current string) error {
	if prev == current {
		return nil
	}

	prevHeaders := parseHeaderList(prev)
	curHeaders := ParseHeaders(current)
	for _, kv := range prevHeaders {
		if cv, ok := curHeaders[kv.Key]; !ok || cv != kv.Value {
			return &DivergenceError{Index: -1, Header: kv.Key, Prior: kv.Value, Current: cv}
		}
	}

	prevMoves := ParseMoves(prev)
	curMoves := ParseMoves(current)
	for i, mv := range prevMoves {
		if i >= len(curMoves) {
			return &DivergenceError{Index: i, Prior: mv}
		}
		if curMoves[i] != mv {
			return &DivergenceError{Index: i, Prior: mv, Current: curMoves[i]}
		}
	}
	return nil
}

// IsValidPriorHistory reports whether prev is a valid earlier (or equal)
// state of current.
func IsValidPriorHistory(prev, current string) bool {
	return CheckPrior(prev, current) == nil
}
