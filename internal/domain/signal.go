package domain

type Signal int

const (
	SignalShort Signal = -1
	SignalNone  Signal = 0
	SignalLong  Signal = 1
)

func (s Signal) String() string {
	switch s {
	case SignalLong:
		return "long"
	case SignalShort:
		return "short"
	}
	return "none"
}

// Side maps a directional signal to a position side; SignalNone maps to "".
func (s Signal) Side() Side {
	switch s {
	case SignalLong:
		return SideLong
	case SignalShort:
		return SideShort
	}
	return ""
}
