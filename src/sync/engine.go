package sync

import (
	"context"
	"time"

	"potpie.org/locationshare/src/db"
	"potpie.org/locationshare/src/location"
	"potpie.org/locationshare/src/relationship"
	"potpie.org/locationshare/src/retry"
)

// Identity supplies the signed-in user.
type Identity interface {
	CurrentUser() (string, bool)
}

// StaticIdentity is an Identity fixed at construction. An empty value means
// nobody is signed in.
type StaticIdentity string

func (s StaticIdentity) CurrentUser() (string, bool) {
	return string(s), s != ""
}

// Directory lists the friends that authorised viewer to see them.
type Directory interface {
	AuthorizedFriends(ctx context.Context, viewer string) ([]string, error)
}

// Attempt is an outbound broadcast that is in flight or backing off.
type Attempt struct {
	ID          string
	Location    location.Location
	Count       int
	NextRetryAt time.Time
}

type Config struct {
	Broadcast       retry.Policy
	Subscription    retry.Policy
	PermissionGated retry.Policy

	// BreakerThreshold is the number of consecutive retryable backend
	// failures that open the circuit.
	BreakerThreshold uint32
	BreakerTimeout   time.Duration

	SharingEnabled bool
	Now            func() time.Time
}

func DefaultConfig() Config {
	return Config{
		Broadcast:        retry.Broadcast(),
		Subscription:     retry.Subscription(),
		PermissionGated:  retry.PermissionGated(),
		BreakerThreshold: 10,
		BreakerTimeout:   30 * time.Second,
		Now:              time.Now,
	}
}

type Engine interface {
	// BroadcastLocation writes fix to the backend for the current user,
	// retrying per the broadcast policy.
	BroadcastLocation(ctx context.Context, fix location.Location) error
	// Enqueue hands fix to the outbound worker without blocking. A fix that
	// has not started sending yet is replaced by a newer one.
	Enqueue(fix location.Location)
	// CancelPending cancels queued and in-flight broadcasts after grace.
	CancelPending(grace time.Duration)
	Pending() []Attempt

	SubscribeToFriend(ctx context.Context, friendID string) (<-chan location.Location, error)
	// SubscribeToFriends emits the full id -> location map on every change.
	// With no ids it follows everyone the directory lists.
	SubscribeToFriends(ctx context.Context, friendIDs []string) (<-chan map[string]location.Location, error)

	EnableSharing(ctx context.Context) error
	DisableSharing(ctx context.Context) error
	SharingEnabled() bool
	// LoadSharing reads the sharing switch from the backend.
	LoadSharing(ctx context.Context) error

	RequestSharingPermission(ctx context.Context, friendID string) (relationship.Permission, error)
	GrantSharingPermission(ctx context.Context, friendID string) (relationship.Permission, error)
	DenySharingPermission(ctx context.Context, friendID string) (relationship.Permission, error)
	RevokeSharingPermission(ctx context.Context, friendID string) (relationship.Permission, error)

	// Errors streams failures the UI should surface.
	Errors() (<-chan error, func())
	Close()
}

var _ Directory = db.Client(nil)
