package room

import (
	"fmt"
	"slices"
)

// Phase is the lifecycle phase of the room session.
type Phase string

const (
	Idle          Phase = "idle"
	PendingCreate Phase = "pending_create"
	PendingJoin   Phase = "pending_join"
	Joined        Phase = "joined"
	Left          Phase = "left"
	Ended         Phase = "ended"
	Expired       Phase = "expired"
	Errored       Phase = "errored"
)

// validTransitions defines the allowed phase transitions. Terminal phases
// only lead back to idle once the session has been cleared.
var validTransitions = map[Phase][]Phase{
	Idle:          {PendingCreate, PendingJoin},
	PendingCreate: {Joined, Errored, Left, Idle},
	PendingJoin:   {Joined, Errored, Left, Idle},
	Joined:        {PendingJoin, Left, Ended, Expired},
	Left:          {Idle},
	Ended:         {Idle},
	Expired:       {Idle},
	Errored:       {Idle},
}

// Pending reports whether p waits for the server to confirm a create or join.
func (p Phase) Pending() bool {
	return p == PendingCreate || p == PendingJoin
}

// Terminal reports whether p ends the session.
func (p Phase) Terminal() bool {
	return p == Left || p == Ended || p == Expired || p == Errored
}

func checkTransition(from, to Phase) error {
	if !slices.Contains(validTransitions[from], to) {
		return fmt.Errorf("invalid room transition from %s to %s", from, to)
	}
	return nil
}

// PhaseChange is the payload of bus.RoomPhaseChanged.
type PhaseChange struct {
	Handle string
	From   Phase
	To     Phase
}
