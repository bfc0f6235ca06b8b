package export

// State is the orchestrator's lifecycle state.
type State string

const (
	StateNotInitialized State = "not_initialized"
	StateInitializing   State = "initializing"
	StateReady          State = "ready"
	StateProcessing     State = "processing"
	StateError          State = "error"
)

// Status is a point-in-time snapshot of the orchestrator.
type Status struct {
	State    State  `json:"state"`
	Ready    bool   `json:"ready"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
	ExportID string `json:"export_id,omitempty"`
}

// Processing reports whether an export is running.
func (s Status) Processing() bool {
	return s.State == StateProcessing
}
