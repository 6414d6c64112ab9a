// Package protocol defines the JSON messages ranks exchange with the
// coordinator during the wall-time reduction.
package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeReduce  = "REDUCE"
	TypeReduced = "REDUCED"
	TypeError   = "ERROR"
)

// Reduction operators.
const (
	OpSum = "SUM"
)

// BaseMessage is decoded first to route a message by its type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
