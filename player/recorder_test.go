package player

// Recorder collects events in memory.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Emit(e Event) {
	r.Events = append(r.Events, e)
}

// Types returns the recorded event names in order.
func (r *Recorder) Types() []string {
	types := make([]string, len(r.Events))
	for i, e := range r.Events {
		types[i] = e.Type
	}
	return types
}

// Last returns the most recent event.
func (r *Recorder) Last() (Event, bool) {
	if len(r.Events) == 0 {
		return Event{}, false
	}
	return r.Events[len(r.Events)-1], true
}

// Reset drops recorded events.
func (r *Recorder) Reset() {
	r.Events = nil
}
