package http

import "encoding/json"

// BatchRequest groups up to 100 operations. Atomic batches execute as
// one backend changeset; non-atomic batches run sequentially with
// per-operation outcomes.
type BatchRequest struct {
	Atomic     bool                    `json:"atomic"`
	Operations []BatchOperationRequest `json:"operations"`
}

type BatchOperationRequest struct {
	Method string          `json:"method"`
	Entity string          `json:"entity"`
	ID     string          `json:"id,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}
