package engine

// GenerateRequest is one generation call: system instructions, the user
// message and the sampling temperature.
type GenerateRequest struct {
	System      string
	User        string
	Temperature float64
}

// PullProgress reports download progress for a model pull operation.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}
