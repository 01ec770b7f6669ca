package tracker

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"

	"potpie.org/locationshare/src/cache"
	"potpie.org/locationshare/src/location"
	"potpie.org/locationshare/src/permission"
	"potpie.org/locationshare/src/relationship"
	"potpie.org/locationshare/src/sync"
	"potpie.org/locationshare/src/tracking"
)

type tracker struct {
	session tracking.Session
	engine  sync.Engine
	gate    permission.Gate
	cache   cache.Cache
}

func NewTracker(session tracking.Session, engine sync.Engine, gate permission.Gate, c cache.Cache) Tracker {
	return &tracker{
		session: session,
		engine:  engine,
		gate:    gate,
		cache:   c,
	}
}

func (t *tracker) StartTracking(ctx context.Context, desiredInterval time.Duration) error {
	return t.session.Start(ctx, desiredInterval)
}

func (t *tracker) StopTracking() error {
	return t.session.Stop()
}

func (t *tracker) GetCurrentLocation(ctx context.Context, timeout time.Duration) (location.Location, error) {
	if timeout <= 0 {
		timeout = DefaultFixTimeout
	}
	return t.session.CurrentLocation(ctx, timeout)
}

func (t *tracker) AppBackgrounded(ctx context.Context) error {
	return t.session.AppBackgrounded(ctx)
}

func (t *tracker) AppForegrounded(ctx context.Context) error {
	return t.session.AppForegrounded(ctx)
}

func (t *tracker) SelfLocationUpdates() (<-chan location.Location, func()) {
	return t.session.Locations()
}

func (t *tracker) TrackingStateChanges() (<-chan tracking.Status, func()) {
	return t.session.States()
}

func (t *tracker) TrackingStatus() tracking.Status {
	return t.session.Status()
}

func (t *tracker) FriendLocationUpdates(ctx context.Context, ids []string) (<-chan map[string]location.Location, error) {
	return t.engine.SubscribeToFriends(ctx, ids)
}

func (t *tracker) CachedLocation(ownerID string) (cache.Entry, bool) {
	return t.cache.Get(ownerID)
}

func (t *tracker) CachedLocations() map[string]cache.Entry {
	return t.cache.Snapshot()
}

func (t *tracker) CheckForegroundPermission() permission.State {
	return t.gate.CheckForeground()
}

func (t *tracker) CheckBackgroundPermission() permission.State {
	return t.gate.CheckBackground()
}

func (t *tracker) RequestForegroundPermission(ctx context.Context) (permission.State, error) {
	return t.gate.RequestForeground(ctx)
}

func (t *tracker) RequestBackgroundPermission(ctx context.Context) (permission.State, error) {
	return t.gate.RequestBackground(ctx)
}

func (t *tracker) EnableSharing(ctx context.Context) error {
	return t.engine.EnableSharing(ctx)
}

func (t *tracker) DisableSharing(ctx context.Context) error {
	return t.engine.DisableSharing(ctx)
}

func (t *tracker) SharingEnabled() bool {
	return t.engine.SharingEnabled()
}

func (t *tracker) RequestSharingPermission(ctx context.Context, friendID string) (relationship.Permission, error) {
	return t.engine.RequestSharingPermission(ctx, friendID)
}

func (t *tracker) GrantSharingPermission(ctx context.Context, friendID string) (relationship.Permission, error) {
	return t.engine.GrantSharingPermission(ctx, friendID)
}

func (t *tracker) DenySharingPermission(ctx context.Context, friendID string) (relationship.Permission, error) {
	return t.engine.DenySharingPermission(ctx, friendID)
}

func (t *tracker) RevokeSharingPermission(ctx context.Context, friendID string) (relationship.Permission, error) {
	return t.engine.RevokeSharingPermission(ctx, friendID)
}

func (t *tracker) SyncErrors() (<-chan error, func()) {
	return t.engine.Errors()
}

// Close tears down in dependency order: sampling first, so nothing new
// reaches the engine, then the engine, then the cache.
func (t *tracker) Close() {
	t.session.Close()
	t.engine.Close()
	t.gate.Close()
	if err := t.cache.Close(); err != nil {
		logger.Warnf("Failed to close location cache: %v", err)
	}
	logger.Info("Tracker closed")
}
