package device

// StepType is the persisted tag of an action step.
type StepType string

// Step types, as written to the "type" field of a serialised step.
const (
	StepNop         StepType = "nop"
	StepMQTTPublish StepType = "mqtt_publish"
	StepAudioPlay   StepType = "audio_play"
	StepAudioStop   StepType = "audio_stop"
	StepSetFlag     StepType = "set_flag"
	StepWaitFlags   StepType = "wait_flags"
	StepLoop        StepType = "loop"
	StepDelay       StepType = "delay"
	StepEvent       StepType = "event"
)

// Step is one entry of a scenario script.
//
// DelayMS is waited before the action runs. The step interpreter is an
// external consumer; this package only defines and persists the format.
type Step struct {
	DelayMS uint32
	Action  Action
}

// Type returns the step's tag. A step without an action is a no-op.
func (s Step) Type() StepType {
	if s.Action == nil {
		return StepNop
	}
	return s.Action.StepType()
}

// Clone returns a deep copy of the step.
func (s Step) Clone() Step {
	if w, ok := s.Action.(WaitFlags); ok && w.Requirements != nil {
		reqs := make([]FlagRequirement, len(w.Requirements))
		copy(reqs, w.Requirements)
		w.Requirements = reqs
		s.Action = w
	}
	return s
}

// Action is the variant payload of a Step.
//
// The variants are value types; a type switch over them is exhaustive for
// the step kinds listed above.
type Action interface {
	StepType() StepType
}

// Nop does nothing.
type Nop struct{}

// Publish sends Payload to Topic.
type Publish struct {
	Topic   string
	Payload string
	QoS     uint8
	Retain  bool
}

// PlayAudio starts a track. Blocking steps wait for playback to finish.
type PlayAudio struct {
	Track    string
	Blocking bool
}

// StopAudio stops playback.
type StopAudio struct{}

// SetFlag sets a named boolean flag.
type SetFlag struct {
	Flag  string
	Value bool
}

// WaitMode selects how WaitFlags combines its requirements.
type WaitMode string

// Wait modes.
const (
	WaitAll WaitMode = "all"
	WaitAny WaitMode = "any"
)

// FlagRequirement is one condition of a WaitFlags step.
type FlagRequirement struct {
	Flag  string
	State bool
}

// WaitFlags blocks until the requirements hold or TimeoutMS elapses.
// A zero timeout waits forever.
type WaitFlags struct {
	Mode         WaitMode
	TimeoutMS    uint32
	Requirements []FlagRequirement
}

// Loop jumps back to TargetStep. MaxIterations of zero loops forever.
type Loop struct {
	TargetStep    int
	MaxIterations int
}

// Delay only waits for the step's DelayMS.
type Delay struct{}

// Event emits a named event, optionally mirrored to an MQTT topic.
type Event struct {
	Event   string
	Topic   string
	Payload string
}

func (Nop) StepType() StepType       { return StepNop }
func (Publish) StepType() StepType   { return StepMQTTPublish }
func (PlayAudio) StepType() StepType { return StepAudioPlay }
func (StopAudio) StepType() StepType { return StepAudioStop }
func (SetFlag) StepType() StepType   { return StepSetFlag }
func (WaitFlags) StepType() StepType { return StepWaitFlags }
func (Loop) StepType() StepType      { return StepLoop }
func (Delay) StepType() StepType     { return StepDelay }
func (Event) StepType() StepType     { return StepEvent }
