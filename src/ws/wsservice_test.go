package wsservice

import (
	"context"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"potpie.org/locationshare/src/background"
	"potpie.org/locationshare/src/cache"
	"potpie.org/locationshare/src/db"
	"potpie.org/locationshare/src/permission"
	"potpie.org/locationshare/src/platform"
	"potpie.org/locationshare/src/sync"
	"potpie.org/locationshare/src/tracker"
	"potpie.org/locationshare/src/tracking"
)

type bufferedConn struct {
	net.Conn
	r io.Reader
}

func (c bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func newTestTracker(t *testing.T) tracker.Tracker {
	t.Helper()
	mr := miniredis.RunT(t)
	simCfg := platform.DefaultSimulatorConfig()
	simCfg.FixLatency = time.Millisecond
	simCfg.Foreground = permission.ForegroundGranted
	sim := platform.NewSimulator(simCfg)

	backend := db.NewClient(mr.Addr())
	t.Cleanup(func() { backend.Close() })
	gate := permission.NewGate(sim)
	c := cache.New(cache.DefaultTTL)
	engine := sync.NewEngine(backend, backend, sync.StaticIdentity("alice"), c, sync.DefaultConfig())
	cfg := tracking.DefaultConfig("alice")
	cfg.ForegroundMin = time.Millisecond
	session := tracking.NewSession(sim, gate, background.NewCoordinator(sim, background.DefaultConfig()), c, engine, cfg)

	tr := tracker.NewTracker(session, engine, gate, c)
	t.Cleanup(tr.Close)
	return tr
}

func dial(t *testing.T, tr tracker.Tracker) net.Conn {
	t.Helper()
	srv := httptest.NewServer(StartService(tr))
	t.Cleanup(srv.Close)

	conn, br, _, err := ws.Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	if br != nil {
		return bufferedConn{Conn: conn, r: io.MultiReader(br, conn)}
	}
	return conn
}

func send(t *testing.T, conn net.Conn, req map[string]interface{}) {
	t.Helper()
	msg, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, wsutil.WriteClientText(conn, msg))
}

// readUntil skips pushed messages until one of type want arrives.
func readUntil(t *testing.T, conn net.Conn, want ResponseType) map[string]json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		msg, err := wsutil.ReadServerText(conn)
		require.NoError(t, err)
		var objmap map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(msg, &objmap))
		var typ ResponseType
		require.NoError(t, json.Unmarshal(objmap["Type"], &typ))
		if typ == want {
			return objmap
		}
	}
}

func field(t *testing.T, objmap map[string]json.RawMessage, name string, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(objmap[name], v))
}

func readState(t *testing.T, conn net.Conn, want string) {
	t.Helper()
	for {
		var state string
		field(t, readUntil(t, conn, TRACKING_STATE), "State", &state)
		if state == want {
			return
		}
	}
}

func TestTrackingOverWebSocket(t *testing.T) {
	conn := dial(t, newTestTracker(t))

	readState(t, conn, "Stopped")
	send(t, conn, map[string]interface{}{
		"RequestType":     START_TRACKING,
		"TrackingRequest": TrackingRequest{IntervalMillis: 5},
	})
	readState(t, conn, "ActiveForeground")

	var self map[string]interface{}
	field(t, readUntil(t, conn, SELF_LOCATION), "Location", &self)
	assert.Contains(t, self, "latitude")

	send(t, conn, map[string]interface{}{
		"RequestType":           GET_CACHED_LOCATION,
		"CachedLocationRequest": CachedLocationRequest{OwnerId: "alice"},
	})
	var found bool
	field(t, readUntil(t, conn, CACHED_LOCATION), "Found", &found)
	assert.True(t, found)

	send(t, conn, map[string]interface{}{"RequestType": STOP_TRACKING})
	readState(t, conn, "Stopped")
}

func TestCurrentLocationOverWebSocket(t *testing.T) {
	conn := dial(t, newTestTracker(t))

	send(t, conn, map[string]interface{}{
		"RequestType":     GET_CURRENT_LOCATION,
		"LocationRequest": LocationRequest{TimeoutMillis: 1000},
	})
	var fix map[string]interface{}
	field(t, readUntil(t, conn, CURRENT_LOCATION), "Location", &fix)
	assert.Contains(t, fix, "timestamp")
}

func TestPermissionsAndSharingOverWebSocket(t *testing.T) {
	conn := dial(t, newTestTracker(t))

	send(t, conn, map[string]interface{}{
		"RequestType":       CHECK_PERMISSION,
		"PermissionRequest": PermissionRequest{Scope: "background"},
	})
	resp := readUntil(t, conn, PERMISSION_STATE)
	var scope, state string
	field(t, resp, "Scope", &scope)
	field(t, resp, "State", &state)
	assert.Equal(t, "background", scope)
	assert.Equal(t, "Unknown", state)

	send(t, conn, map[string]interface{}{"RequestType": ENABLE_SHARING})
	var enabled bool
	field(t, readUntil(t, conn, SHARING_STATE), "Enabled", &enabled)
	assert.True(t, enabled)

	send(t, conn, map[string]interface{}{
		"RequestType":              SHARING_PERMISSION,
		"SharingPermissionRequest": SharingPermissionRequest{FriendId: "bob", Action: "request"},
	})
	var perm string
	field(t, readUntil(t, conn, SHARING_PERMISSION_STATE), "Permission", &perm)
	assert.Equal(t, "Requested", perm)

	send(t, conn, map[string]interface{}{"RequestType": SUBSCRIBE_FRIENDS, "FriendsRequest": FriendsRequest{}})
	var locations map[string]interface{}
	field(t, readUntil(t, conn, FRIEND_LOCATIONS), "Locations", &locations)
	assert.Empty(t, locations)
}

func TestErrorsOverWebSocket(t *testing.T) {
	conn := dial(t, newTestTracker(t))

	require.NoError(t, wsutil.WriteClientText(conn, []byte("not json")))
	var kind string
	field(t, readUntil(t, conn, ERROR), "Kind", &kind)
	assert.Equal(t, "MalformedPayload", kind)

	send(t, conn, map[string]interface{}{
		"RequestType":              SHARING_PERMISSION,
		"SharingPermissionRequest": SharingPermissionRequest{FriendId: "alice", Action: "grant"},
	})
	resp := readUntil(t, conn, ERROR)
	field(t, resp, "Kind", &kind)
	assert.Equal(t, "InvalidSequence", kind)
	var reqType RequestType
	field(t, resp, "RequestType", &reqType)
	assert.Equal(t, SHARING_PERMISSION, reqType)

	send(t, conn, map[string]interface{}{
		"RequestType":              SHARING_PERMISSION,
		"SharingPermissionRequest": SharingPermissionRequest{FriendId: "bob", Action: "befriend"},
	})
	field(t, readUntil(t, conn, ERROR), "Kind", &kind)
	assert.Equal(t, "MalformedPayload", kind)

	send(t, conn, map[string]interface{}{"RequestType": 99})
	field(t, readUntil(t, conn, ERROR), "Kind", &kind)
	assert.Equal(t, "MalformedPayload", kind)
}
