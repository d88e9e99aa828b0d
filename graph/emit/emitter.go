package emit

// Emitter receives observability events from the engine.
//
// Implementations must be safe for concurrent use; multiple runs emit in
// parallel. Emit must not block for long: the engine calls it inline on the
// run's execution path.
type Emitter interface {
	Emit(event Event)
}

// Null discards all events. Useful as a default when no observability
// sink is configured.
type Null struct{}

// NewNull creates an emitter that discards all events.
func NewNull() *Null {
	return &Null{}
}

// Emit implements Emitter by doing nothing.
func (*Null) Emit(Event) {}

// Multi fans out each event to several emitters in order.
type Multi struct {
	emitters []Emitter
}

// NewMulti combines emitters. Nil entries are skipped.
func NewMulti(emitters ...Emitter) *Multi {
	kept := make([]Emitter, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			kept = append(kept, e)
		}
	}
	return &Multi{emitters: kept}
}

// Emit implements Emitter.
func (m *Multi) Emit(event Event) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}
