package docstore

// VersionVector tracks, per peer, how many writes of a document that peer has
// made or observed. Comparing two vectors tells whether one revision was
// derived from the other or whether they were written concurrently.
type VersionVector map[string]uint64

// Ordering is the causal relation between two revisions.
type Ordering int

const (
	Equal Ordering = iota
	Before
	After
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	}
	return "unknown"
}

// Clone returns a copy of v (never nil).
func (v VersionVector) Clone() VersionVector {
	out := make(VersionVector, len(v))
	for k, n := range v {
		out[k] = n
	}
	return out
}

// Bump returns a copy of v with peer's counter incremented.
func (v VersionVector) Bump(peer string) VersionVector {
	out := v.Clone()
	out[peer]++
	return out
}

// Merge returns the element-wise maximum of v and o.
func (v VersionVector) Merge(o VersionVector) VersionVector {
	out := v.Clone()
	for k, n := range o {
		if n > out[k] {
			out[k] = n
		}
	}
	return out
}

// Compare reports how v relates to o: Before means o descends from v.
func (v VersionVector) Compare(o VersionVector) Ordering {
	less, greater := false, false
	for k, n := range v {
		m := o[k]
		if n < m {
			less = true
		} else if n > m {
			greater = true
		}
	}
	for k, m := range o {
		if _, ok := v[k]; !ok && m > 0 {
			less = true
		}
	}
	switch {
	case less && greater:
		return Concurrent
	case less:
		return Before
	case greater:
		return After
	}
	return Equal
}
