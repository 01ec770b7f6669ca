package tracking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNext(t *testing.T) {
	fg := Status{State: ActiveForeground, Interval: 5 * time.Second}
	bg := Status{State: ActiveBackground, Interval: 15 * time.Second}
	bgDenied := Status{State: Suspended, Reason: BackgroundPermissionDenied}

	tests := []struct {
		name string
		from Status
		ev   Event
		want Status
		ok   bool
	}{
		{"start from stopped", Status{}, Event{Kind: StartRequested}, Status{State: Starting}, true},
		{"start from suspended", bgDenied, Event{Kind: StartRequested}, Status{State: Starting}, true},
		{"start while active", fg, Event{Kind: StartRequested}, fg, false},
		{"started", Status{State: Starting}, Event{Kind: StartSucceeded, Interval: time.Second}, Status{State: ActiveForeground, Interval: time.Second}, true},
		{"start denied", Status{State: Starting}, Event{Kind: StartFailed, Reason: PermissionDenied}, Status{State: Stopped, Reason: PermissionDenied}, true},
		{"backgrounded", fg, Event{Kind: Backgrounded, Interval: 15 * time.Second}, bg, true},
		{"backgrounded while suspended", bgDenied, Event{Kind: Backgrounded}, bgDenied, false},
		{"background refused", fg, Event{Kind: BackgroundRefused, Reason: BackgroundPermissionDenied}, bgDenied, true},
		{"foregrounded", bg, Event{Kind: Foregrounded, Interval: 5 * time.Second}, fg, true},
		{"foregrounded after refusal", bgDenied, Event{Kind: Foregrounded, Interval: 5 * time.Second}, fg, true},
		{"foregrounded after revocation", Status{State: Suspended, Reason: PermissionRevoked}, Event{Kind: Foregrounded}, Status{State: Suspended, Reason: PermissionRevoked}, false},
		{"revoked in foreground", fg, Event{Kind: AccessLost}, Status{State: Suspended, Reason: PermissionRevoked}, true},
		{"revoked in background", bg, Event{Kind: AccessLost}, Status{State: Suspended, Reason: PermissionRevoked}, true},
		{"revoked while stopped", Status{}, Event{Kind: AccessLost}, Status{}, false},
		{"services lost", fg, Event{Kind: ServicesLost}, Status{State: Suspended, Reason: LocationDisabled}, true},
		{"budget exhausted", bg, Event{Kind: Exhausted}, Status{State: Stopped, Reason: BudgetExhausted}, true},
		{"budget exhausted in foreground", fg, Event{Kind: Exhausted}, fg, false},
		{"stop from anywhere", bg, Event{Kind: StopRequested}, Status{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Next(tt.from, tt.ev)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClamp(t *testing.T) {
	cfg := DefaultConfig("alice")
	assert.Equal(t, 5*time.Second, cfg.Clamp(0))
	assert.Equal(t, time.Second, cfg.Clamp(10*time.Millisecond))
	assert.Equal(t, 30*time.Second, cfg.Clamp(time.Hour))
	assert.Equal(t, 12*time.Second, cfg.Clamp(12*time.Second))

	assert.Equal(t, 15*time.Second, cfg.BackgroundInterval(5*time.Second))
	assert.Equal(t, 20*time.Second, cfg.BackgroundInterval(20*time.Second))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "Stopped", Status{}.String())
	assert.Equal(t, "Suspended(PermissionRevoked)", Status{State: Suspended, Reason: PermissionRevoked}.String())
	assert.Equal(t, "Stopped(BudgetExhausted)", Status{State: Stopped, Reason: BudgetExhausted}.String())
	assert.Equal(t, "ActiveForeground@5s", Status{State: ActiveForeground, Interval: 5 * time.Second}.String())
}
