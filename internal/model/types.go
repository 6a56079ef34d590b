package model

import "errors"

// ErrSessionReleased is returned when a session is used after its last
// reference was released.
var ErrSessionReleased = errors.New("session released")

// ErrSessionsClosed is returned when a session is requested after the cache
// was closed.
var ErrSessionsClosed = errors.New("session cache closed")

// Graph is a compiled network. Run must be safe for concurrent use.
type Graph interface {
	Run(input []float32) ([]float32, error)
	Close() error
}

// Runtime compiles model bytes into a Graph.
type Runtime interface {
	Compile(data []byte) (Graph, error)
}

// Metadata describes the single input and the classifier output of a model.
type Metadata struct {
	InputName   string  `json:"input_name"`
	OutputName  string  `json:"output_name"`
	InputShape  []int64 `json:"input_shape"`
	OutputShape []int64 `json:"output_shape"`
}
