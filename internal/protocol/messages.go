package protocol

// HELLO (worker -> coordinator)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Rank            int    `json:"rank"`
	WorldSize       int    `json:"world_size"`
	RunID           string `json:"run_id,omitempty"`
	Host            string `json:"host,omitempty"`
}

// WELCOME (coordinator -> worker)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	RunID           string `json:"run_id,omitempty"`
	WorldSize       int    `json:"world_size"`
}

// REDUCE (worker -> coordinator): this rank's contribution.
type ReduceMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Rank            int     `json:"rank"`
	Op              string  `json:"op"`
	Value           float64 `json:"value"`
}

// REDUCED (coordinator -> every worker) once all ranks contributed. Receiving
// it is the barrier.
type ReducedMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	Op              string    `json:"op"`
	WorldSize       int       `json:"world_size"`
	Result          float64   `json:"result"`
	Values          []float64 `json:"values"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

func NewError(code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: msg}
}
