package reconcile

import "fmt"

// ConnectionState tracks broker link health. Disconnected is also the
// state before the first successful query, so "never queried" is never
// confused with "confirmed empty".
type ConnectionState int

const (
	Connected ConnectionState = iota
	Reconnecting
	Disconnected
)

func (s ConnectionState) String() string {
	switch s {
	case Connected:
		return "CONNECTED"
	case Reconnecting:
		return "RECONNECTING"
	case Disconnected:
		return "DISCONNECTED"
	}
	return fmt.Sprintf("ConnectionState(%d)", int(s))
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// next returns the state after a query outcome. failures counts
// consecutive failures including this one.
func next(cur ConnectionState, ok bool, failures, maxFailures int) ConnectionState {
	if ok {
		return Connected
	}
	switch cur {
	case Connected:
		return Reconnecting
	case Reconnecting:
		if failures >= maxFailures {
			return Disconnected
		}
		return Reconnecting
	}
	return Disconnected
}
