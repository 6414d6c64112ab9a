package pd

type Portrayal struct {
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Move   Move   `json:"move"`
	Shape  string `json:"shape"`
	Color  string `json:"color"`
	Filled bool   `json:"filled"`
	Layer  int    `json:"layer"`
}

const (
	ColorCooperate = "blue"
	ColorDefect    = "red"
)

// Portrayal describes how each cell is drawn. Cooperators are blue, defectors
// red.
func (m *Model) Portrayal() []Portrayal {
	out := make([]Portrayal, 0, len(m.agents))
	for _, a := range m.agents {
		c := ColorDefect
		if a.Move == Cooperate {
			c = ColorCooperate
		}
		out = append(out, Portrayal{
			X:      a.Pos.X,
			Y:      a.Pos.Y,
			Move:   a.Move,
			Shape:  "rect",
			Color:  c,
			Filled: true,
		})
	}
	return out
}
