package player

// Media is the audio element the engine drives. Implementations report
// progress back through Engine.Tick and Engine.MediaEnded.
type Media interface {
	Load(uri string) error
	Play() error
	Pause() error
	Seek(seconds float64) error
	SetRate(rate float64) error
}

// NopMedia accepts every command. Hosts that drive playback themselves and
// only feed ticks into the engine use it.
type NopMedia struct{}

func (NopMedia) Load(string) error     { return nil }
func (NopMedia) Play() error           { return nil }
func (NopMedia) Pause() error          { return nil }
func (NopMedia) Seek(float64) error    { return nil }
func (NopMedia) SetRate(float64) error { return nil }
