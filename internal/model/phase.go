package model

// Phase is the room-wide stage of play
type Phase string

const (
	PhaseLobby    Phase = "lobby"    // Waiting for players to ready up
	PhaseWriting  Phase = "writing"  // Players are writing stories
	PhaseGuessing Phase = "guessing" // Players guess the author of the active story
	PhaseReveal   Phase = "reveal"   // Author and guesses are disclosed
)

// validTransitions lists the only phase changes a room may make.
// reveal -> lobby is the play-again reset; nothing else goes backwards.
var validTransitions = map[Phase][]Phase{
	PhaseLobby:    {PhaseWriting},
	PhaseWriting:  {PhaseGuessing},
	PhaseGuessing: {PhaseReveal},
	PhaseReveal:   {PhaseLobby},
}

// Valid reports whether p is a known phase
func (p Phase) Valid() bool {
	_, ok := validTransitions[p]
	return ok
}

// CanTransitionTo reports whether a room in phase p may move to target
func (p Phase) CanTransitionTo(target Phase) bool {
	for _, next := range validTransitions[p] {
		if next == target {
			return true
		}
	}
	return false
}

// AllPhases returns every phase in round order
func AllPhases() []Phase {
	return []Phase{PhaseLobby, PhaseWriting, PhaseGuessing, PhaseReveal}
}
