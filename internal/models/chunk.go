package models

// Chunk is one normalized unit of incremental text output.
// IsFinal marks the backend's own end-of-stream signal.
type Chunk struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"-"`
}

// StreamEvent is what a provider client sends over its stream channel.
// Exactly one of Chunk or Err is meaningful; an event with Err is always the last one.
type StreamEvent struct {
	Chunk Chunk
	Err   error
}
