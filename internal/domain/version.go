package domain

// VersionPair carries the protocol's two independent edit counters.
// N counts client edits the server has accepted, M counts server edits
// the client has confirmed. There is no total order across the two:
// each counter is compared on its own against the peer's advertised
// value, and a mismatch means an edit was lost in flight.
type VersionPair struct {
	N uint64 `json:"n"`
	M uint64 `json:"m"`
}

func (v VersionPair) Equal(other VersionPair) bool {
	return v.N == other.N && v.M == other.M
}
