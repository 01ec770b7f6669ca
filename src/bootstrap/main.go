package main

import (
	"context"
	"time"

	"potpie.org/locationshare/src/background"
	"potpie.org/locationshare/src/cache"
	"potpie.org/locationshare/src/db"
	"potpie.org/locationshare/src/permission"
	"potpie.org/locationshare/src/platform"
	"potpie.org/locationshare/src/server"
	trackingservice "potpie.org/locationshare/src/service"
	"potpie.org/locationshare/src/settings"
	"potpie.org/locationshare/src/sync"
	"potpie.org/locationshare/src/tracker"
	"potpie.org/locationshare/src/tracking"
	wsservice "potpie.org/locationshare/src/ws"

	logger "github.com/sirupsen/logrus"
)

func newTracker(s settings.Settings) (tracker.Tracker, db.Client, error) {
	simCfg := platform.DefaultSimulatorConfig()
	simCfg.Latitude = s.SimLatitude
	simCfg.Longitude = s.SimLongitude
	simCfg.Accuracy = s.SimAccuracy
	simCfg.Grant = s.BudgetGrant
	simCfg.MaxRenewals = s.BudgetMaxRenewals
	sim := platform.NewSimulator(simCfg)

	var opts []cache.Option
	if s.CacheDir != "" {
		persister, err := cache.NewBadgerPersister(s.CacheDir)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, cache.WithPersister(persister))
	}
	c := cache.New(s.CacheTTL, opts...)

	backend := db.NewClient(s.RedisUrl)
	syncCfg := sync.DefaultConfig()
	syncCfg.BreakerThreshold = s.BreakerThreshold
	engine := sync.NewEngine(backend, backend, sync.StaticIdentity(s.UserId), c, syncCfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := engine.LoadSharing(ctx); err != nil {
		logger.Warnf("Could not read sharing switch, leaving it off: %v", err)
	}

	gate := permission.NewGate(sim)
	bgCfg := background.DefaultConfig()
	bgCfg.MaxRenewals = s.BudgetMaxRenewals
	coord := background.NewCoordinator(sim, bgCfg)

	trackCfg := tracking.DefaultConfig(s.UserId)
	trackCfg.ForegroundDefault = s.ForegroundInterval
	trackCfg.BackgroundMin = s.BackgroundMinInterval
	session := tracking.NewSession(sim, gate, coord, c, engine, trackCfg)

	return tracker.NewTracker(session, engine, gate, c), backend, nil
}

func main() {
	s := settings.Load(settings.GrpcUnaryInterceptor(nil))

	level, err := logger.ParseLevel(s.LogLevel)
	if err != nil {
		logger.Warnf("Unknown log level %q, using info", s.LogLevel)
		level = logger.InfoLevel
	}
	logger.SetLevel(level)
	if s.UserId == "" {
		logger.Warn("USER_ID is not set, sync operations will fail as unauthenticated")
	}

	t, backend, err := newTracker(s)
	if err != nil {
		logger.Fatalf("Failed to open location cache: %v", err)
	}
	defer backend.Close()
	defer t.Close()

	handler := wsservice.StartService(t)
	srv := server.NewServer(settings.GrpcUnaryInterceptor(nil))
	health := trackingservice.StartService(srv.GrpcServer(), t)
	defer health.Stop()

	if err := srv.Start(handler); err != nil {
		logger.Errorf("Server failed: %v", err)
	}
}
