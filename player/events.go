package player

// Event names emitted to the host.
const (
	EventPlay             = "play"
	EventPause            = "pause"
	EventEnded            = "ended"
	EventTimeUpdate       = "time-update"
	EventTranscriptClick  = "transcript-click"
	EventSpeedChange      = "speed-change"
	EventTranscriptToggle = "transcript-toggle"

	// EventError is a host notification sent when the engine enters the
	// Error state.
	EventError = "error"
)

// Event is one emitted event with its payload.
type Event struct {
	Type    string
	Payload any
}

type PlaybackPayload struct {
	CurrentTime float64 `json:"currentTime"`
}

type EndedPayload struct{}

type TimeUpdatePayload struct {
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
	Progress    float64 `json:"progress"`
}

type TranscriptClickPayload struct {
	Time    float64 `json:"time"`
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
}

type SpeedChangePayload struct {
	Speed float64 `json:"speed"`
}

type TranscriptTogglePayload struct {
	IsVisible bool `json:"isVisible"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// Emitter receives engine events. Emit is called with the engine lock held
// and must not block or call back into the engine.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(e Event) { f(e) }

type nopEmitter struct{}

func (nopEmitter) Emit(Event) {}
