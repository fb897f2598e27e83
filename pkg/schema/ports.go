package schema

// Well-known port names. A port is a named data channel into or out of a
// node; the scheduler routes each output port to the edges declared for it.
// Absence of a port in a result means no data flows that way.
const (
	PortMain      = "main"
	PortTrue      = "true"
	PortFalse     = "false"
	PortCompleted = "completed"
	PortCancelled = "cancelled"
	PortTimeout   = "timeout"
	PortError     = "error"
	PortFiltered  = "filtered"
	PortMerged    = "merged"
	PortIteration = "iteration"
	PortDefault   = "default"
)

// Ports maps port names to data values.
type Ports map[string]any

// Has reports whether the port carries data.
func (p Ports) Has(name string) bool {
	_, ok := p[name]
	return ok
}

// PauseReason classifies why a runner requested suspension.
type PauseReason string

const (
	PauseReasonDelay PauseReason = "delay"
	PauseReasonWait  PauseReason = "wait"
	PauseReasonTimer PauseReason = "timeout"
	PauseReasonHuman PauseReason = "human_interaction"
)

// PauseSignal is a runner result meaning "suspend this node, resume me later
// on ResumePort". Suspension is never silent: the reason is always set, and
// DelayMs/TimeoutMs state the expected wake-up where one exists.
type PauseSignal struct {
	Reason     PauseReason `json:"reason"`
	ResumePort string      `json:"resume_port"`
	// DelayMs is set for pure delays: resume after this many milliseconds.
	DelayMs int64 `json:"delay_ms,omitempty"`
	// TimeoutMs is set for bounded waits: if nothing resumes the node first,
	// the scheduler fires the timeout port after this many milliseconds.
	TimeoutMs int64 `json:"timeout_ms,omitempty"`
	// InteractionID links a human-in-the-loop pause to its interaction record.
	InteractionID string `json:"interaction_id,omitempty"`
	// Payload is carried across the suspension and re-delivered on resume.
	Payload any `json:"payload,omitempty"`
}
