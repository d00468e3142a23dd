package market

import (
	"fmt"
	"strings"
)

// Side is the direction of a futures position.
type Side int

const (
	Buy Side = iota + 1
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Sign is +1 for Buy and -1 for Sell. P/L math multiplies the price move by it.
func (s Side) Sign() float64 {
	if s == Sell {
		return -1
	}
	return 1
}

func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// ParseSide accepts "buy"/"sell" in any case, plus the "long"/"short" aliases
// some brokers report.
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "buy", "long":
		return Buy, nil
	case "sell", "short":
		return Sell, nil
	default:
		return 0, fmt.Errorf("unknown side %q", v)
	}
}

// MarshalText lets Side round-trip through YAML, JSON and CSV as its name.
func (s Side) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid side %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
