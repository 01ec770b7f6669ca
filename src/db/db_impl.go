package db

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/gomodule/redigo/redis"
	logger "github.com/sirupsen/logrus"

	"potpie.org/locationshare/src/fault"
	"potpie.org/locationshare/src/location"
	"potpie.org/locationshare/src/relationship"
)

type client struct {
	pool *redis.Pool
}

func NewClient(redisUrl string) Client {
	pool := &redis.Pool{
		MaxIdle:     3,
		IdleTimeout: 240 * time.Second,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", redisUrl)
		},
	}
	return &client{
		pool: pool,
	}
}

func locationKey(userID string) string { return fmt.Sprintf("location:%s", userID) }
func userKey(userID string) string { return fmt.Sprintf("user:%s", userID) }
func channelKey(userID string) string { return fmt.Sprintf("channel:%s", userID) }
func permissionsKey(owner string) string { return fmt.Sprintf("permissions:%s", owner) }
func visibleKey(viewer string) string { return fmt.Sprintf("visible:%s", viewer) }

func (c *client) conn(ctx context.Context, op string) (redis.Conn, error) {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return nil, classify(op, err)
	}
	return conn, nil
}

func (c *client) PutLocation(ctx context.Context, userID string, loc location.Location) error {
	conn, err := c.conn(ctx, "db.PutLocation")
	if err != nil {
		return err
	}
	defer conn.Close()

	args := redis.Args{}.Add(locationKey(userID)).
		Add("latitude", loc.Latitude()).
		Add("longitude", loc.Longitude()).
		Add("accuracy", loc.Accuracy()).
		Add("timestamp", loc.Timestamp())
	if alt, ok := loc.Altitude(); ok {
		args = args.Add("altitude", alt)
	}
	if _, err := redis.DoContext(conn, ctx, "HSET", args...); err != nil {
		return classify("db.PutLocation", err)
	}

	msg, err := json.Marshal(Event{Type: LocationUpdated, UserID: userID, Location: &loc})
	if err != nil {
		return fault.Wrap(fault.MalformedPayload, "db.PutLocation", err)
	}
	if _, err := redis.DoContext(conn, ctx, "PUBLISH", channelKey(userID), msg); err != nil {
		return classify("db.PutLocation", err)
	}
	return nil
}

func (c *client) GetLocation(ctx context.Context, userID string) (location.Location, bool, error) {
	conn, err := c.conn(ctx, "db.GetLocation")
	if err != nil {
		return location.Location{}, false, err
	}
	defer conn.Close()

	values, err := redis.Values(redis.DoContext(conn, ctx, "HMGET", locationKey(userID),
		"latitude", "longitude", "accuracy", "timestamp", "altitude"))
	if err != nil {
		return location.Location{}, false, classify("db.GetLocation", err)
	}
	if len(values) != 5 || values[0] == nil {
		return location.Location{}, false, nil
	}
	nums := make([]float64, 4)
	for i := range nums {
		if nums[i], err = redis.Float64(values[i], nil); err != nil {
			return location.Location{}, false, fault.Wrap(fault.MalformedPayload, "db.GetLocation", err)
		}
	}
	var opts []location.Option
	if values[4] != nil {
		alt, err := redis.Float64(values[4], nil)
		if err != nil {
			return location.Location{}, false, fault.Wrap(fault.MalformedPayload, "db.GetLocation", err)
		}
		opts = append(opts, location.WithAltitude(alt))
	}
	loc, err := location.New(nums[0], nums[1], nums[2], int64(nums[3]), opts...)
	if err != nil {
		return location.Location{}, false, err
	}
	return loc, true, nil
}

func (c *client) SetSharing(ctx context.Context, userID string, enabled bool) error {
	conn, err := c.conn(ctx, "db.SetSharing")
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := redis.DoContext(conn, ctx, "HSET", userKey(userID), "sharing", enabled); err != nil {
		return classify("db.SetSharing", err)
	}
	return nil
}

func (c *client) SharingEnabled(ctx context.Context, userID string) (bool, error) {
	conn, err := c.conn(ctx, "db.SharingEnabled")
	if err != nil {
		return false, err
	}
	defer conn.Close()

	enabled, err := redis.Bool(redis.DoContext(conn, ctx, "HGET", userKey(userID), "sharing"))
	if errors.Is(err, redis.ErrNil) {
		return false, nil
	}
	if err != nil {
		return false, classify("db.SharingEnabled", err)
	}
	return enabled, nil
}

func (c *client) SetActive(ctx context.Context, userID string, active bool) error {
	conn, err := c.conn(ctx, "db.SetActive")
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := redis.DoContext(conn, ctx, "HSET", userKey(userID), "active", active); err != nil {
		return classify("db.SetActive", err)
	}
	if active {
		return nil
	}
	msg, err := json.Marshal(Event{Type: SharingStopped, UserID: userID})
	if err != nil {
		return fault.Wrap(fault.MalformedPayload, "db.SetActive", err)
	}
	if _, err := redis.DoContext(conn, ctx, "PUBLISH", channelKey(userID), msg); err != nil {
		return classify("db.SetActive", err)
	}
	return nil
}

func (c *client) GetPermission(ctx context.Context, rec relationship.Record) (relationship.Permission, error) {
	conn, err := c.conn(ctx, "db.GetPermission")
	if err != nil {
		return relationship.None, err
	}
	defer conn.Close()

	p, err := redis.String(redis.DoContext(conn, ctx, "HGET", permissionsKey(rec.Owner), rec.Viewer))
	if errors.Is(err, redis.ErrNil) {
		return relationship.None, nil
	}
	if err != nil {
		return relationship.None, classify("db.GetPermission", err)
	}
	return relationship.Parse(p), nil
}

func (c *client) SetPermission(ctx context.Context, rec relationship.Record, p relationship.Permission) error {
	conn, err := c.conn(ctx, "db.SetPermission")
	if err != nil {
		return err
	}
	defer conn.Close()

	var revoked []byte
	if p != relationship.Granted {
		revoked, err = json.Marshal(Event{Type: AccessRevoked, UserID: rec.Owner, Viewer: rec.Viewer})
		if err != nil {
			return fault.Wrap(fault.MalformedPayload, "db.SetPermission", err)
		}
	}

	conn.Send("MULTI")
	conn.Send("HSET", permissionsKey(rec.Owner), rec.Viewer, p.String())
	if p == relationship.Granted {
		conn.Send("SADD", visibleKey(rec.Viewer), rec.Owner)
	} else {
		conn.Send("SREM", visibleKey(rec.Viewer), rec.Owner)
		conn.Send("PUBLISH", channelKey(rec.Owner), revoked)
	}
	if _, err := redis.DoContext(conn, ctx, "EXEC"); err != nil {
		return classify("db.SetPermission", err)
	}
	logger.WithFields(logger.Fields{"owner": rec.Owner, "viewer": rec.Viewer}).Infof("Sharing permission now %s", p)
	return nil
}

func (c *client) AuthorizedFriends(ctx context.Context, viewer string) ([]string, error) {
	conn, err := c.conn(ctx, "db.AuthorizedFriends")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	owners, err := redis.Strings(redis.DoContext(conn, ctx, "SMEMBERS", visibleKey(viewer)))
	if err != nil {
		return nil, classify("db.AuthorizedFriends", err)
	}
	sort.Strings(owners)
	return owners, nil
}

func (c *client) MonitorLocation(ctx context.Context, userID string) (<-chan Event, error) {
	conn, err := c.conn(ctx, "db.MonitorLocation")
	if err != nil {
		return nil, err
	}

	channel := channelKey(userID)
	psc := redis.PubSubConn{Conn: conn}
	if err := psc.Subscribe(channel); err != nil {
		conn.Close()
		return nil, classify("db.MonitorLocation", err)
	}
	// wait for the confirmation so a dead connection fails here
	switch v := psc.ReceiveContext(ctx).(type) {
	case redis.Subscription:
		logger.Infof("%s: %s %d", v.Channel, v.Kind, v.Count)
	case error:
		conn.Close()
		return nil, classify("db.MonitorLocation", v)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			switch v := psc.ReceiveContext(ctx).(type) {
			case redis.Message:
				var ev Event
				if err := json.Unmarshal(v.Data, &ev); err != nil {
					logger.Warnf("%s: dropping unreadable message: %v", v.Channel, err)
					continue
				}
				ev.UserID = userID
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			case redis.Subscription:
				logger.Infof("%s: %s %d", v.Channel, v.Kind, v.Count)
			case error:
				if ctx.Err() == nil {
					logger.Warnf("%s: subscription lost: %v", channel, v)
				}
				return
			}
		}
	}()
	return out, nil
}

func (c *client) Close() error {
	return c.pool.Close()
}

func classify(op string, err error) error {
	var redisErr redis.Error
	var netErr net.Error
	switch {
	case errors.As(err, &redisErr):
		return fault.Wrap(fault.ServerError, op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fault.Wrap(fault.Timeout, op, err)
	case errors.Is(err, context.Canceled):
		return err
	case errors.As(err, &netErr),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, redis.ErrPoolExhausted):
		return fault.Wrap(fault.NetworkUnavailable, op, err)
	}
	return fault.Wrap(fault.Unknown, op, err)
}
