package db

import (
	"context"

	"potpie.org/locationshare/src/location"
	"potpie.org/locationshare/src/relationship"
)

type EventType string

const (
	LocationUpdated EventType = "location"
	SharingStopped  EventType = "inactive"
	// AccessRevoked tells Viewer that the channel's owner no longer shares
	// with them.
	AccessRevoked EventType = "revoked"
)

// Event is one message on a user's location channel.
type Event struct {
	Type     EventType          `json:"type"`
	UserID   string             `json:"userId"`
	Viewer   string             `json:"viewer,omitempty"`
	Location *location.Location `json:"location,omitempty"`
}

// Client is the backend location store: a latest-location record, sharing
// and activity flags per user, one permission record per owner/viewer pair,
// and a pub/sub channel per user.
type Client interface {
	PutLocation(ctx context.Context, userID string, loc location.Location) error
	GetLocation(ctx context.Context, userID string) (location.Location, bool, error)
	SetSharing(ctx context.Context, userID string, enabled bool) error
	SharingEnabled(ctx context.Context, userID string) (bool, error)
	// SetActive flags whether the user's record is live. Going inactive is
	// announced on the user's channel.
	SetActive(ctx context.Context, userID string, active bool) error
	GetPermission(ctx context.Context, rec relationship.Record) (relationship.Permission, error)
	// SetPermission stores p. Anything short of Granted is announced on the
	// owner's channel so a viewer following them stops.
	SetPermission(ctx context.Context, rec relationship.Record, p relationship.Permission) error
	// AuthorizedFriends lists owners that granted viewer access.
	AuthorizedFriends(ctx context.Context, viewer string) ([]string, error)
	// MonitorLocation subscribes to userID's channel. The returned channel
	// closes when ctx is done or the connection drops.
	MonitorLocation(ctx context.Context, userID string) (<-chan Event, error)
	Close() error
}
