package wsservice

import (
	"potpie.org/locationshare/src/location"
)

type RequestType int

const (
	START_TRACKING RequestType = iota
	STOP_TRACKING
	GET_CURRENT_LOCATION
	APP_BACKGROUNDED
	APP_FOREGROUNDED
	CHECK_PERMISSION
	REQUEST_PERMISSION
	ENABLE_SHARING
	DISABLE_SHARING
	SHARING_PERMISSION
	SUBSCRIBE_FRIENDS
	GET_CACHED_LOCATION
)

type ResponseType int

const (
	TRACKING_STATE ResponseType = iota
	SELF_LOCATION
	FRIEND_LOCATIONS
	SYNC_ERROR
	CURRENT_LOCATION
	PERMISSION_STATE
	SHARING_STATE
	SHARING_PERMISSION_STATE
	CACHED_LOCATION
	ERROR
)

type TrackingRequest struct {
	IntervalMillis int64
}

type LocationRequest struct {
	TimeoutMillis int64
}

type PermissionRequest struct {
	// Scope is "foreground" or "background".
	Scope string
}

type SharingPermissionRequest struct {
	FriendId string
	// Action is one of request, grant, deny, revoke.
	Action string
}

type FriendsRequest struct {
	FriendIds []string
}

type CachedLocationRequest struct {
	OwnerId string
}

type StateResponse struct {
	Type           ResponseType
	State          string
	Reason         string
	IntervalMillis int64
	Hint           string `json:",omitempty"`
}

type LocationResponse struct {
	Type     ResponseType
	Location location.Location
}

type FriendLocationsResponse struct {
	Type      ResponseType
	Locations map[string]location.Location
}

type PermissionResponse struct {
	Type  ResponseType
	Scope string
	State string
}

type SharingResponse struct {
	Type    ResponseType
	Enabled bool
}

type SharingPermissionResponse struct {
	Type       ResponseType
	FriendId   string
	Permission string
}

type CachedLocationResponse struct {
	Type     ResponseType
	OwnerId  string
	Found    bool
	Location *location.Location `json:",omitempty"`
	CachedAt int64              `json:",omitempty"`
}

type ErrorResponse struct {
	Type        ResponseType
	RequestType *RequestType `json:",omitempty"`
	Kind        string
	Message     string
	Hint        string `json:",omitempty"`
}
