// Package fx is the pluggable lighting-effect boundary. Selection is
// table-driven: each Effect names what it hands off to when it
// finishes, so effects can be added without touching the render loop.
//
// Standby and MajorPeak are default, testable implementations; a full
// peak-to-color mapping and fader-curve library would plug in behind
// the same Effect interface.
package fx

import "github.com/wisslanding/aircast/internal/frame"

// DMXState is the outbound 16-byte DMX state.
type DMXState [16]byte

// Effect is one lighting effect driven by a stream of Ready frames.
type Effect interface {
	// Name identifies the effect for the registry and for
	// NextOnFinish lookups.
	Name() string
	// Render consumes one Ready frame's peak summary and writes the
	// next 16-byte DMX state. finished reports that this effect has
	// completed a cycle and the render loop should consider switching
	// via NextOnFinish.
	Render(f *frame.Frame) (state DMXState, finished bool)
	// NextOnFinish names the effect to switch to once Render reports
	// finished, or "" if there is no default successor (the render
	// loop decides what happens next, as with Standby's ALL_STOP).
	NextOnFinish() string
}

// Registry is the effect table, seeded with Standby and MajorPeak.
type Registry struct {
	effects map[string]Effect
}

// NewRegistry builds a Registry from a set of effects, keyed by Name().
func NewRegistry(effects ...Effect) *Registry {
	r := &Registry{effects: make(map[string]Effect, len(effects))}
	for _, e := range effects {
		r.effects[e.Name()] = e
	}
	return r
}

// Get looks up an effect by name.
func (r *Registry) Get(name string) (Effect, bool) {
	e, ok := r.effects[name]
	return e, ok
}
