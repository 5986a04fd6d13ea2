package emit

// Emitter receives and processes observability events.
//
// Implementations must be safe to call from the goroutine running the
// engine and must not block for long; a slow emitter slows the run.
type Emitter interface {
	// Emit sends an event to the configured backend.
	Emit(event Event)
}

// Multi fans each event out to every emitter in order. Nil entries are skipped.
func Multi(emitters ...Emitter) Emitter {
	out := make(multiEmitter, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

type multiEmitter []Emitter

func (m multiEmitter) Emit(event Event) {
	for _, e := range m {
		e.Emit(event)
	}
}
