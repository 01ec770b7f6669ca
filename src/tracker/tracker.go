package tracker

import (
	"context"
	"time"

	"potpie.org/locationshare/src/cache"
	"potpie.org/locationshare/src/location"
	"potpie.org/locationshare/src/permission"
	"potpie.org/locationshare/src/relationship"
	"potpie.org/locationshare/src/tracking"
)

// DefaultFixTimeout bounds GetCurrentLocation when the caller gives no
// timeout.
const DefaultFixTimeout = 10 * time.Second

// Tracker is what UI collaborators talk to: tracking control, read-only
// streams, permissions and sharing control.
type Tracker interface {
	StartTracking(ctx context.Context, desiredInterval time.Duration) error
	StopTracking() error
	GetCurrentLocation(ctx context.Context, timeout time.Duration) (location.Location, error)

	AppBackgrounded(ctx context.Context) error
	AppForegrounded(ctx context.Context) error

	SelfLocationUpdates() (<-chan location.Location, func())
	TrackingStateChanges() (<-chan tracking.Status, func())
	TrackingStatus() tracking.Status
	// FriendLocationUpdates emits the whole id -> location map on every
	// change until ctx is done. No ids means every authorised friend.
	FriendLocationUpdates(ctx context.Context, ids []string) (<-chan map[string]location.Location, error)
	// CachedLocation is the last known location of ownerID, for use while
	// live sync is unavailable.
	CachedLocation(ownerID string) (cache.Entry, bool)
	CachedLocations() map[string]cache.Entry

	CheckForegroundPermission() permission.State
	CheckBackgroundPermission() permission.State
	RequestForegroundPermission(ctx context.Context) (permission.State, error)
	RequestBackgroundPermission(ctx context.Context) (permission.State, error)

	EnableSharing(ctx context.Context) error
	DisableSharing(ctx context.Context) error
	SharingEnabled() bool
	RequestSharingPermission(ctx context.Context, friendID string) (relationship.Permission, error)
	GrantSharingPermission(ctx context.Context, friendID string) (relationship.Permission, error)
	DenySharingPermission(ctx context.Context, friendID string) (relationship.Permission, error)
	RevokeSharingPermission(ctx context.Context, friendID string) (relationship.Permission, error)
	// SyncErrors streams sync failures the UI should surface.
	SyncErrors() (<-chan error, func())

	Close()
}
