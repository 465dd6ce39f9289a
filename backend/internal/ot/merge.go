package ot

// mergeText is the best-effort three-way merge used when transformation
// fails: diff current-vs-base and desired-vs-base, splice both changes
// when they touch disjoint regions of base, and let the client's (desired)
// change win when it subsumes the server's. Returns false when no
// consistent result exists.
func mergeText(base, current, desired string) (string, bool) {
	if current == desired {
		return current, true
	}
	if current == base {
		return desired, true
	}
	if desired == base {
		return current, true
	}

	b := []rune(base)
	curStart, curEnd, curRepl := changedRegion(b, []rune(current))
	desStart, desEnd, desRepl := changedRegion(b, []rune(desired))

	switch {
	case curEnd <= desStart:
		out := make([]rune, 0, len(b)+len(curRepl)+len(desRepl))
		out = append(out, b[:curStart]...)
		out = append(out, curRepl...)
		out = append(out, b[curEnd:desStart]...)
		out = append(out, desRepl...)
		out = append(out, b[desEnd:]...)
		return string(out), true
	case desEnd <= curStart:
		out := make([]rune, 0, len(b)+len(curRepl)+len(desRepl))
		out = append(out, b[:desStart]...)
		out = append(out, desRepl...)
		out = append(out, b[desEnd:curStart]...)
		out = append(out, curRepl...)
		out = append(out, b[curEnd:]...)
		return string(out), true
	case desStart <= curStart && desEnd >= curEnd:
		// The client rewrote a region covering the server's change: the
		// client's span wins.
		out := make([]rune, 0, len(b)+len(desRepl))
		out = append(out, b[:desStart]...)
		out = append(out, desRepl...)
		out = append(out, b[desEnd:]...)
		return string(out), true
	default:
		return "", false
	}
}

// changedRegion reduces an edit to a single replaced span of base:
// base[start:end] became repl.
func changedRegion(base, other []rune) (start, end int, repl []rune) {
	p := 0
	for p < len(base) && p < len(other) && base[p] == other[p] {
		p++
	}
	s := 0
	for s < len(base)-p && s < len(other)-p && base[len(base)-1-s] == other[len(other)-1-s] {
		s++
	}
	return p, len(base) - s, other[p : len(other)-s]
}
