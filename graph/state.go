package graph

import (
	"encoding/json"
	"fmt"
)

// deepCopy creates an independent copy of state via a JSON round-trip.
//
// Tasks that run in the same superstep each receive a deep copy, so a node that
// appends to a slice it was handed cannot leak into a sibling's view. State
// types therefore must be JSON-serializable, which checkpoint persistence
// requires anyway.
func deepCopy[S any](state S) (S, error) {
	var zero S

	data, err := json.Marshal(state)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal state: %w", err)
	}

	var copied S
	if err := json.Unmarshal(data, &copied); err != nil {
		return zero, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return copied, nil
}
