package sync

import (
	"context"
	"sync"

	logger "github.com/sirupsen/logrus"

	"potpie.org/locationshare/src/db"
	"potpie.org/locationshare/src/fault"
	"potpie.org/locationshare/src/location"
	"potpie.org/locationshare/src/metrics"
	"potpie.org/locationshare/src/quality"
	"potpie.org/locationshare/src/relationship"
	"potpie.org/locationshare/src/stream"
)

type friendUpdate struct {
	id       string
	location location.Location
	removed  bool
}

func (e *engine) SubscribeToFriend(ctx context.Context, friendID string) (<-chan location.Location, error) {
	const op = "sync.SubscribeToFriend"
	user, err := e.user(op)
	if err != nil {
		return nil, err
	}
	if err := e.authorize(ctx, user, friendID); err != nil {
		return nil, err
	}

	hub := stream.NewHub[location.Location]()
	out, unsubscribe := hub.Subscribe()
	context.AfterFunc(ctx, unsubscribe)
	updates := make(chan friendUpdate)
	go func() {
		defer close(updates)
		e.follow(ctx, user, friendID, e.seed(friendID), updates)
	}()
	go func() {
		defer hub.Finish()
		for u := range updates {
			if !u.removed {
				hub.Publish(u.location)
			}
		}
	}()
	return out, nil
}

func (e *engine) SubscribeToFriends(ctx context.Context, friendIDs []string) (<-chan map[string]location.Location, error) {
	const op = "sync.SubscribeToFriends"
	user, err := e.user(op)
	if err != nil {
		return nil, err
	}

	var ids []string
	if len(friendIDs) == 0 {
		err := e.cfg.PermissionGated.Do(ctx, func(ctx context.Context) error {
			var err error
			ids, err = e.directory.AuthorizedFriends(ctx, user)
			return err
		})
		if err != nil {
			return nil, err
		}
	} else {
		for _, id := range friendIDs {
			if err := e.authorize(ctx, user, id); err != nil {
				logger.WithField("friend", id).Warnf("Not following friend: %v", err)
				continue
			}
			ids = append(ids, id)
		}
	}

	snapshot := make(map[string]location.Location)
	seeds := make(map[string]*location.Location)
	for _, id := range ids {
		if seed := e.seed(id); seed != nil {
			snapshot[id] = *seed
			seeds[id] = seed
		}
	}

	hub := stream.NewHub[map[string]location.Location]()
	out, unsubscribe := hub.SubscribeFrom(copyMap(snapshot))
	context.AfterFunc(ctx, unsubscribe)

	updates := make(chan friendUpdate)
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			e.follow(ctx, user, id, seeds[id], updates)
		}(id)
	}
	go func() {
		wg.Wait()
		close(updates)
	}()
	go func() {
		defer hub.Finish()
		for u := range updates {
			if u.removed {
				if _, ok := snapshot[u.id]; !ok {
					continue
				}
				delete(snapshot, u.id)
			} else {
				snapshot[u.id] = u.location
			}
			hub.Publish(copyMap(snapshot))
		}
	}()
	return out, nil
}

// authorize checks that owner granted viewer access to their location.
func (e *engine) authorize(ctx context.Context, viewer, owner string) error {
	const op = "sync.authorize"
	if owner == "" {
		return fault.Newf(fault.InvalidSequence, op, "empty friend id")
	}
	if owner == viewer {
		return nil
	}
	var p relationship.Permission
	err := e.cfg.PermissionGated.Do(ctx, func(ctx context.Context) error {
		var err error
		p, err = e.backend.GetPermission(ctx, relationship.Record{Owner: owner, Viewer: viewer})
		return err
	})
	if err != nil {
		return err
	}
	if p != relationship.Granted {
		return fault.Newf(fault.Forbidden, op, "%s has not granted access (%s)", owner, p)
	}
	return nil
}

func (e *engine) seed(id string) *location.Location {
	entry, ok := e.cache.Get(id)
	if !ok {
		return nil
	}
	loc := entry.Location
	return &loc
}

// follow relays id's channel into out until ctx is done, id stops sharing
// with viewer, or reconnecting fails. Access is checked again on every
// connect. Fixes that fail the background quality thresholds, or are older
// than the last relayed one, are dropped. A removal is sent when the friend
// stops sharing and when following ends.
func (e *engine) follow(ctx context.Context, viewer, id string, last *location.Location, out chan<- friendUpdate) {
	metrics.ActiveSubscriptions.Inc()
	defer metrics.ActiveSubscriptions.Dec()

	f := &follower{
		e:      e,
		ctx:    ctx,
		viewer: viewer,
		id:     id,
		last:   last,
		out:    out,
		log:    logger.WithFields(logger.Fields{"friend": id, "viewer": viewer}),
	}
	defer func() {
		if ctx.Err() == nil {
			f.send(friendUpdate{id: id, removed: true})
		}
	}()

	for {
		if !f.connect() {
			return
		}
		f.log.Info("Friend subscription dropped, reconnecting")
		if err := e.cfg.Subscription.Wait(ctx, e.cfg.Subscription.NextDelay(0)); err != nil {
			return
		}
	}
}

type follower struct {
	e      *engine
	ctx    context.Context
	viewer string
	id     string
	last   *location.Location
	out    chan<- friendUpdate
	log    *logger.Entry
}

func (f *follower) send(u friendUpdate) bool {
	select {
	case f.out <- u:
		return true
	case <-f.ctx.Done():
		return false
	}
}

func (f *follower) evict() {
	if err := f.e.cache.Delete(f.id); err != nil {
		f.log.Warnf("Failed to evict cached location: %v", err)
	}
}

// connect subscribes once and relays until the connection drops. It
// reports whether following should go on.
func (f *follower) connect() bool {
	ctx, disconnect := context.WithCancel(f.ctx)
	defer disconnect()

	var events <-chan db.Event
	err := f.e.cfg.Subscription.Do(ctx, func(ctx context.Context) error {
		var err error
		events, err = f.e.backend.MonitorLocation(ctx, f.id)
		return err
	})
	if err == nil {
		// checked after subscribing so a revocation in between is not missed
		err = f.e.authorize(ctx, f.viewer, f.id)
	}
	if err != nil {
		switch {
		case f.ctx.Err() != nil:
		case fault.KindOf(err) == fault.Forbidden:
			f.log.Info("Friend no longer shares with us")
			f.evict()
		default:
			f.log.Warnf("Giving up on friend subscription: %v", err)
			f.e.errors.Publish(err)
		}
		return false
	}

	for ev := range events {
		switch ev.Type {
		case db.AccessRevoked:
			if ev.Viewer != f.viewer {
				continue
			}
			metrics.FriendUpdates.WithLabelValues("revoked").Inc()
			f.log.Info("Friend revoked our access")
			f.evict()
			return false
		case db.SharingStopped:
			metrics.FriendUpdates.WithLabelValues("inactive").Inc()
			f.log.Info("Friend stopped sharing")
			f.evict()
			if !f.send(friendUpdate{id: f.id, removed: true}) {
				return false
			}
		case db.LocationUpdated:
			if ev.Location == nil {
				continue
			}
			fix := *ev.Location
			if d := quality.Accept(fix, quality.Background, f.e.cfg.Now()); !d.Accepted {
				metrics.FriendUpdates.WithLabelValues("rejected").Inc()
				f.log.Debugf("Dropping friend fix: %s", d.Reason)
				continue
			}
			if f.last != nil && f.last.NewerThan(fix) {
				metrics.FriendUpdates.WithLabelValues("out_of_order").Inc()
				f.log.Debugf("Dropping out of order fix %d < %d", fix.Timestamp(), f.last.Timestamp())
				continue
			}
			if _, err := f.e.cache.Put(f.id, fix); err != nil {
				f.log.Warnf("Failed to persist friend location: %v", err)
			}
			f.last = &fix
			metrics.FriendUpdates.WithLabelValues("emitted").Inc()
			if !f.send(friendUpdate{id: f.id, location: fix}) {
				return false
			}
		}
	}
	return f.ctx.Err() == nil
}

func copyMap(m map[string]location.Location) map[string]location.Location {
	out := make(map[string]location.Location, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
