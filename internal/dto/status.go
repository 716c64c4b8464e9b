package dto

// LoopState is the scheduling state shared by the readiness callbacks and the scheduler.
type LoopState struct {
	ModelReady        bool `json:"modelReady"`
	CaptureReady      bool `json:"captureReady"`
	InferenceInFlight bool `json:"inferenceInFlight"`
}

// Status is the operator-facing view of the session published to viewers.
type Status struct {
	LoopState
	Supported    bool   `json:"supported"`
	Activated    bool   `json:"activated"`
	Running      bool   `json:"running"`
	ModelError   string `json:"modelError,omitempty"`
	CaptureError string `json:"captureError,omitempty"`
	Cycles       uint64 `json:"cycles"`
	Failures     uint64 `json:"failures"`
	Elements     int    `json:"elements"`
}
