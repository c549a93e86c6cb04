// Package effects records the side effects attempted after a committed
// state transition. Side effects are never rolled back or retried; the
// report tells the caller which of them failed.
package effects

import (
	"encoding/json"
	"strings"
)

// Effect is one attempted side effect.
type Effect struct {
	Name string
	Err  error
}

// Report is the result of a mutating lifecycle operation.
type Report struct {
	StateChanged bool
	Effects      []Effect
}

// Record appends the outcome of a side effect and returns err unchanged.
func (r *Report) Record(name string, err error) error {
	r.Effects = append(r.Effects, Effect{Name: name, Err: err})
	return err
}

// Skip records a side effect that was not attempted because a prerequisite
// failed. It counts as a failure.
func (r *Report) Skip(name string, cause error) {
	r.Effects = append(r.Effects, Effect{Name: name, Err: &skipped{cause: cause}})
}

// OK reports whether every attempted side effect succeeded.
func (r *Report) OK() bool {
	for _, e := range r.Effects {
		if e.Err != nil {
			return false
		}
	}
	return true
}

// Failed returns the names of the side effects that failed.
func (r *Report) Failed() []string {
	var out []string
	for _, e := range r.Effects {
		if e.Err != nil {
			out = append(out, e.Name)
		}
	}
	return out
}

// Effect looks up a recorded side effect by name.
func (r *Report) Effect(name string) (Effect, bool) {
	for _, e := range r.Effects {
		if e.Name == name {
			return e, true
		}
	}
	return Effect{}, false
}

type sideEffectJSON struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type reportJSON struct {
	StateChanged bool             `json:"stateChanged"`
	Complete     bool             `json:"complete"`
	SideEffects  []sideEffectJSON `json:"sideEffects"`
}

func (r Report) MarshalJSON() ([]byte, error) {
	out := reportJSON{
		StateChanged: r.StateChanged,
		Complete:     r.OK(),
		SideEffects:  make([]sideEffectJSON, 0, len(r.Effects)),
	}
	for _, e := range r.Effects {
		se := sideEffectJSON{Name: e.Name, OK: e.Err == nil}
		if e.Err != nil {
			se.Error = e.Err.Error()
		}
		out.SideEffects = append(out.SideEffects, se)
	}
	return json.Marshal(out)
}

// String renders a compact summary for logs.
func (r Report) String() string {
	if len(r.Effects) == 0 {
		return "no side effects"
	}
	parts := make([]string, len(r.Effects))
	for i, e := range r.Effects {
		status := "ok"
		if e.Err != nil {
			status = "failed"
		}
		parts[i] = e.Name + "=" + status
	}
	return strings.Join(parts, " ")
}

type skipped struct {
	cause error
}

func (s *skipped) Error() string {
	if s.cause == nil {
		return "skipped"
	}
	return "skipped: " + s.cause.Error()
}

func (s *skipped) Unwrap() error { return s.cause }
