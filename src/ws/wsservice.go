package wsservice

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"potpie.org/locationshare/src/fault"
	"potpie.org/locationshare/src/permission"
	"potpie.org/locationshare/src/relationship"
	"potpie.org/locationshare/src/tracker"
	"potpie.org/locationshare/src/tracking"

	logger "github.com/sirupsen/logrus"
)

type service struct {
	tracker tracker.Tracker

	mu          sync.Mutex
	connections map[string]*connection
}

type connection struct {
	id     string
	conn   net.Conn
	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	friendsMu     sync.Mutex
	friendsCancel context.CancelFunc
}

func (this *connection) send(v interface{}) error {
	msg, err := json.Marshal(v)
	if err != nil {
		return err
	}
	this.writeMu.Lock()
	defer this.writeMu.Unlock()
	return wsutil.WriteServerMessage(this.conn, ws.OpText, msg)
}

func (this *connection) sendError(reqType *RequestType, err error) {
	kind := fault.KindOf(err)
	response := ErrorResponse{Type: ERROR, RequestType: reqType, Kind: kind.String(), Message: err.Error(), Hint: kind.Hint()}
	if err := this.send(response); err != nil {
		logger.Warn(err)
	}
}

func newService(t tracker.Tracker) *service {
	return &service{tracker: t, connections: make(map[string]*connection)}
}

func stateResponse(st tracking.Status) StateResponse {
	return StateResponse{
		Type:           TRACKING_STATE,
		State:          st.State.String(),
		Reason:         st.Reason.String(),
		IntervalMillis: st.Interval.Milliseconds(),
		Hint:           st.Reason.Kind().Hint(),
	}
}

// push relays the tracker's streams to the connection until it closes.
func (this *service) push(c *connection) {
	states, cancelStates := this.tracker.TrackingStateChanges()
	fixes, cancelFixes := this.tracker.SelfLocationUpdates()
	errs, cancelErrs := this.tracker.SyncErrors()
	defer cancelStates()
	defer cancelFixes()
	defer cancelErrs()

	for {
		var err error
		select {
		case <-c.ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			err = c.send(stateResponse(st))
		case fix, ok := <-fixes:
			if !ok {
				return
			}
			err = c.send(LocationResponse{Type: SELF_LOCATION, Location: fix})
		case syncErr, ok := <-errs:
			if !ok {
				return
			}
			kind := fault.KindOf(syncErr)
			err = c.send(ErrorResponse{Type: SYNC_ERROR, Kind: kind.String(), Message: syncErr.Error(), Hint: kind.Hint()})
		}
		if err != nil {
			logger.WithField("connection", c.id).Warn(err)
			c.cancel()
			return
		}
	}
}

func (this *service) StartTracking(c *connection, tr TrackingRequest) error {
	logger.Infof("StartTracking: %dms", tr.IntervalMillis)
	return this.tracker.StartTracking(c.ctx, time.Duration(tr.IntervalMillis)*time.Millisecond)
}

func (this *service) StopTracking(c *connection) error {
	logger.Infof("StopTracking")
	return this.tracker.StopTracking()
}

func (this *service) GetCurrentLocation(c *connection, lr LocationRequest) error {
	fix, err := this.tracker.GetCurrentLocation(c.ctx, time.Duration(lr.TimeoutMillis)*time.Millisecond)
	if err != nil {
		return err
	}
	return c.send(LocationResponse{Type: CURRENT_LOCATION, Location: fix})
}

func parseScope(s string) (permission.Scope, error) {
	switch s {
	case "", "foreground":
		return permission.ScopeForeground, nil
	case "background":
		return permission.ScopeBackground, nil
	}
	return permission.ScopeForeground, fault.Newf(fault.MalformedPayload, "ws.parseScope", "unknown scope %q", s)
}

func (this *service) CheckPermission(c *connection, pr PermissionRequest) error {
	scope, err := parseScope(pr.Scope)
	if err != nil {
		return err
	}
	state := this.tracker.CheckForegroundPermission()
	if scope == permission.ScopeBackground {
		state = this.tracker.CheckBackgroundPermission()
	}
	return c.send(PermissionResponse{Type: PERMISSION_STATE, Scope: scope.String(), State: state.String()})
}

func (this *service) RequestPermission(c *connection, pr PermissionRequest) error {
	scope, err := parseScope(pr.Scope)
	if err != nil {
		return err
	}
	logger.Infof("RequestPermission: %s", scope)
	var state permission.State
	if scope == permission.ScopeBackground {
		state, err = this.tracker.RequestBackgroundPermission(c.ctx)
	} else {
		state, err = this.tracker.RequestForegroundPermission(c.ctx)
	}
	if err != nil {
		return err
	}
	return c.send(PermissionResponse{Type: PERMISSION_STATE, Scope: scope.String(), State: state.String()})
}

func (this *service) SetSharing(c *connection, enabled bool) error {
	logger.Infof("SetSharing: %t", enabled)
	var err error
	if enabled {
		err = this.tracker.EnableSharing(c.ctx)
	} else {
		err = this.tracker.DisableSharing(c.ctx)
	}
	if err != nil {
		return err
	}
	return c.send(SharingResponse{Type: SHARING_STATE, Enabled: this.tracker.SharingEnabled()})
}

func (this *service) SharingPermission(c *connection, sr SharingPermissionRequest) error {
	action, ok := relationship.ParseAction(sr.Action)
	if !ok {
		return fault.Newf(fault.MalformedPayload, "ws.SharingPermission", "unknown action %q", sr.Action)
	}
	logger.Infof("SharingPermission: %s %s", action, sr.FriendId)

	var p relationship.Permission
	var err error
	switch action {
	case relationship.Request:
		p, err = this.tracker.RequestSharingPermission(c.ctx, sr.FriendId)
	case relationship.Grant:
		p, err = this.tracker.GrantSharingPermission(c.ctx, sr.FriendId)
	case relationship.Deny:
		p, err = this.tracker.DenySharingPermission(c.ctx, sr.FriendId)
	case relationship.Revoke:
		p, err = this.tracker.RevokeSharingPermission(c.ctx, sr.FriendId)
	}
	if err != nil {
		return err
	}
	return c.send(SharingPermissionResponse{Type: SHARING_PERMISSION_STATE, FriendId: sr.FriendId, Permission: p.String()})
}

// SubscribeFriends replaces the connection's friend subscription.
func (this *service) SubscribeFriends(c *connection, fr FriendsRequest) error {
	logger.Infof("SubscribeFriends: %v", fr.FriendIds)
	ctx, cancel := context.WithCancel(c.ctx)

	c.friendsMu.Lock()
	if c.friendsCancel != nil {
		c.friendsCancel()
	}
	c.friendsCancel = cancel
	c.friendsMu.Unlock()

	snapshots, err := this.tracker.FriendLocationUpdates(ctx, fr.FriendIds)
	if err != nil {
		cancel()
		return err
	}
	go func() {
		for snapshot := range snapshots {
			if err := c.send(FriendLocationsResponse{Type: FRIEND_LOCATIONS, Locations: snapshot}); err != nil {
				logger.Warn(err)
				cancel()
			}
		}
	}()
	return nil
}

func (this *service) GetCachedLocation(c *connection, cr CachedLocationRequest) error {
	response := CachedLocationResponse{Type: CACHED_LOCATION, OwnerId: cr.OwnerId}
	if entry, ok := this.tracker.CachedLocation(cr.OwnerId); ok {
		loc := entry.Location
		response.Found = true
		response.Location = &loc
		response.CachedAt = entry.CachedAt.UnixMilli()
	}
	return c.send(response)
}

func unmarshalField(objmap map[string]json.RawMessage, field string, v interface{}) error {
	raw, ok := objmap[field]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fault.Wrap(fault.MalformedPayload, "ws."+field, err)
	}
	return nil
}

func (this *service) HandleMsg(c *connection, msg []byte) {
	var objmap map[string]json.RawMessage
	if err := json.Unmarshal(msg, &objmap); err != nil {
		logger.Warn(err)
		c.sendError(nil, fault.Wrap(fault.MalformedPayload, "ws.HandleMsg", err))
		return
	}

	var reqType RequestType
	if err := json.Unmarshal(objmap["RequestType"], &reqType); err != nil {
		logger.Warn(err)
		c.sendError(nil, fault.Wrap(fault.MalformedPayload, "ws.HandleMsg", err))
		return
	}

	var err error
	switch reqType {
	case START_TRACKING:
		var tr TrackingRequest
		if err = unmarshalField(objmap, "TrackingRequest", &tr); err == nil {
			err = this.StartTracking(c, tr)
		}
	case STOP_TRACKING:
		err = this.StopTracking(c)
	case GET_CURRENT_LOCATION:
		var lr LocationRequest
		if err = unmarshalField(objmap, "LocationRequest", &lr); err == nil {
			// may wait on the positioning hardware for the whole timeout
			go func() {
				if err := this.GetCurrentLocation(c, lr); err != nil {
					logger.Warn(err)
					c.sendError(&reqType, err)
				}
			}()
		}
	case APP_BACKGROUNDED:
		err = this.tracker.AppBackgrounded(c.ctx)
	case APP_FOREGROUNDED:
		err = this.tracker.AppForegrounded(c.ctx)
	case CHECK_PERMISSION:
		var pr PermissionRequest
		if err = unmarshalField(objmap, "PermissionRequest", &pr); err == nil {
			err = this.CheckPermission(c, pr)
		}
	case REQUEST_PERMISSION:
		var pr PermissionRequest
		if err = unmarshalField(objmap, "PermissionRequest", &pr); err == nil {
			// blocks until the user answers the prompt
			go func() {
				if err := this.RequestPermission(c, pr); err != nil {
					logger.Warn(err)
					c.sendError(&reqType, err)
				}
			}()
		}
	case ENABLE_SHARING:
		err = this.SetSharing(c, true)
	case DISABLE_SHARING:
		err = this.SetSharing(c, false)
	case SHARING_PERMISSION:
		var sr SharingPermissionRequest
		if err = unmarshalField(objmap, "SharingPermissionRequest", &sr); err == nil {
			err = this.SharingPermission(c, sr)
		}
	case SUBSCRIBE_FRIENDS:
		var fr FriendsRequest
		if err = unmarshalField(objmap, "FriendsRequest", &fr); err == nil {
			err = this.SubscribeFriends(c, fr)
		}
	case GET_CACHED_LOCATION:
		var cr CachedLocationRequest
		if err = unmarshalField(objmap, "CachedLocationRequest", &cr); err == nil {
			err = this.GetCachedLocation(c, cr)
		}
	default:
		err = fault.Newf(fault.MalformedPayload, "ws.HandleMsg", "unknown request type %d", reqType)
	}
	if err != nil {
		logger.Warn(err)
		c.sendError(&reqType, err)
	}
}

func (this *service) serve(conn net.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &connection{id: uuid.New().String(), conn: conn, ctx: ctx, cancel: cancel}

	this.mu.Lock()
	this.connections[c.id] = c
	this.mu.Unlock()
	log := logger.WithField("connection", c.id)
	log.Info("Client connected")

	defer func() {
		cancel()
		conn.Close()
		this.mu.Lock()
		delete(this.connections, c.id)
		this.mu.Unlock()
		log.Info("Client disconnected")
	}()

	go this.push(c)

	for {
		msg, _, err := wsutil.ReadClientData(conn)
		if err != nil {
			log.Debug(err)
			return
		}
		log.Debugf("Msg read : %s", string(msg))
		this.HandleMsg(c, msg)
	}
}

// Connections is the number of open client connections.
func (this *service) Connections() int {
	this.mu.Lock()
	defer this.mu.Unlock()
	return len(this.connections)
}

func StartService(t tracker.Tracker) http.HandlerFunc {
	newService := newService(t)
	handler := http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(request, writer)
		if err != nil {
			logger.Warn(err)
			return
		}
		go newService.serve(conn)
	})

	return handler
}
