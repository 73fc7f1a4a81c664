// Package ticket defines the shared contract types between the monitor and
// its plugins: the availability state enumeration and the result record a
// plugin produces for one page check. Everything else in the system depends
// on this package; it depends on nothing.
package ticket

import "fmt"

// State is the availability state of a ticketed event. The set is closed: a
// plugin must resolve every page to exactly one of these five values.
type State string

// Availability states.
const (
	StateUnknown      State = "UNKNOWN"
	StateNotAvailable State = "NOT_AVAILABLE"
	StateComingSoon   State = "COMING_SOON"
	StateAvailable    State = "AVAILABLE"
	StateSoldOut      State = "SOLD_OUT"
)

// ParseState converts a string to a State. It rejects anything outside the
// closed enumeration so a misbehaving plugin cannot invent a sixth state.
func ParseState(s string) (State, error) {
	switch State(s) {
	case StateUnknown, StateNotAvailable, StateComingSoon, StateAvailable, StateSoldOut:
		return State(s), nil
	}
	return StateUnknown, fmt.Errorf("invalid ticket state %q", s)
}

// String returns the wire representation of the state.
func (s State) String() string { return string(s) }

// CheckResult is the outcome of one plugin parse invocation. It is a value
// type: constructed once by the plugin bridge, consumed by one poll cycle,
// never mutated.
type CheckResult struct {
	// State is the availability classification. Required.
	State State

	// Details is a free-text summary of what the plugin saw on the page.
	Details string

	// EventName is the event title extracted from the page, if any.
	EventName string
}
