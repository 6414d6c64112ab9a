package pd

import "fmt"

type Move uint8

const (
	MoveUnset Move = 0
	Cooperate Move = 'C'
	Defect    Move = 'D'
)

func (m Move) String() string {
	switch m {
	case Cooperate:
		return "C"
	case Defect:
		return "D"
	default:
		return ""
	}
}

func (m Move) Valid() bool { return m == Cooperate || m == Defect }

func ParseMove(s string) (Move, error) {
	switch s {
	case "C", "c", "Cooperate", "cooperate":
		return Cooperate, nil
	case "D", "d", "Defect", "defect":
		return Defect, nil
	case "":
		return MoveUnset, nil
	}
	return MoveUnset, fmt.Errorf("unknown move %q", s)
}

func (m Move) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Move) UnmarshalText(b []byte) error {
	v, err := ParseMove(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
