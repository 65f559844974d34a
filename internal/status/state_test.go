package status

import (
	"testing"

	"github.com/matheus3301/campuschat/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Disconnected {
		t.Errorf("initial state = %s, want DISCONNECTED", m.Current())
	}
	s := m.Snapshot()
	if s.UserID != nil || s.RetryCount != 0 || s.Authenticated() {
		t.Errorf("initial session = %+v, want zero session", s)
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, Connecting},
		{Connecting, Connected},
		{Connecting, Disconnected},
		{Connected, Authenticated},
		{Connected, Disconnected},
		{Authenticated, Disconnected},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

// TestAuthenticatedRequiresConnected verifies that no state is skipped:
// CONNECTING cannot jump to AUTHENTICATED without the transport being open.
func TestAuthenticatedRequiresConnected(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Connecting)

	if err := m.Authenticate(7); err == nil {
		t.Fatal("Authenticate from CONNECTING should fail")
	}
	if m.Current() != Connecting {
		t.Errorf("state = %s, want CONNECTING (should not have changed)", m.Current())
	}
	if m.Snapshot().UserID != nil {
		t.Error("user id recorded on a failed transition")
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Connected); err == nil {
		t.Error("Transition(DISCONNECTED -> CONNECTED) should fail")
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("conn.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.BeginAttempt(); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.ConnStatusChanged {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.ConnStatusChanged)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Disconnected || change.To != Connecting {
		t.Errorf("change = %v -> %v, want DISCONNECTED -> CONNECTING", change.From, change.To)
	}
}

func TestAuthenticateResetsRetries(t *testing.T) {
	m := NewMachine(nil)
	for i := 1; i <= 2; i++ {
		if n, ok := m.NextRetry(3); !ok || n != i {
			t.Fatalf("NextRetry = %d, %v; want %d, true", n, ok, i)
		}
	}
	walkTo(t, m, Connected)
	if err := m.Authenticate(42); err != nil {
		t.Fatal(err)
	}

	s := m.Snapshot()
	if s.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0", s.RetryCount)
	}
	if s.UserID == nil || *s.UserID != 42 {
		t.Errorf("user id = %v, want 42", s.UserID)
	}
}

func TestNextRetryStopsAtMax(t *testing.T) {
	m := NewMachine(nil)
	for i := 1; i <= 3; i++ {
		if _, ok := m.NextRetry(3); !ok {
			t.Fatalf("attempt %d refused", i)
		}
	}
	if n, ok := m.NextRetry(3); ok {
		t.Errorf("NextRetry past max = %d, true; want refusal", n)
	}
	if got := m.Snapshot().RetryCount; got != 3 {
		t.Errorf("retry count = %d, want 3", got)
	}
}

// TestDropClearsIdentity simulates a connection loss after authentication and
// a fresh attempt: the previous user id must not leak into the new attempt.
func TestDropClearsIdentity(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Authenticated)

	if !m.Drop() {
		t.Fatal("Drop() = false from AUTHENTICATED")
	}
	if m.Drop() {
		t.Error("second Drop() = true, want false")
	}
	if err := m.BeginAttempt(); err != nil {
		t.Fatal(err)
	}
	if m.Snapshot().UserID != nil {
		t.Error("user id survived reconnect attempt")
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	switch target {
	case Disconnected:
	case Connecting:
		mustDo(t, m.BeginAttempt())
	case Connected:
		mustDo(t, m.BeginAttempt())
		mustDo(t, m.Transition(Connected))
	case Authenticated:
		mustDo(t, m.BeginAttempt())
		mustDo(t, m.Transition(Connected))
		mustDo(t, m.Authenticate(1))
	}
}

func mustDo(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("walkTo: %v", err)
	}
}
