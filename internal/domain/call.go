package domain

// CallState is the per-participant projection of a call session.
type CallState string

const (
	CallIdle     CallState = "idle"
	CallCalling  CallState = "calling"
	CallIncoming CallState = "incoming"
	CallOngoing  CallState = "ongoing"
)

// Pair is the unordered key of two participants. A is always the lesser id.
type Pair struct {
	A UserID
	B UserID
}

func PairOf(x, y UserID) Pair {
	if y < x {
		x, y = y, x
	}
	return Pair{A: x, B: y}
}

func (p Pair) Has(id UserID) bool { return p.A == id || p.B == id }

// Other returns the participant that is not id.
func (p Pair) Other(id UserID) UserID {
	if p.A == id {
		return p.B
	}
	return p.A
}
