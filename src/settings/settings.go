package settings

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"google.golang.org/grpc"
)

type Settings struct {
	// runtime options
	GrpcUnaryInterceptor grpc.ServerOption
	// env config
	GrpcPort int    `envconfig:"GRPC_PORT" default:"8082"`
	RedisUrl string `envconfig:"REDIS_URL" default:"localhost:6379"`
	WSPort   int    `envconfig:"WS_PORT" default:"8081"`
	UserId   string `envconfig:"USER_ID"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// empty keeps the cache in memory only
	CacheDir string        `envconfig:"CACHE_DIR"`
	CacheTTL time.Duration `envconfig:"CACHE_TTL" default:"30m"`

	ForegroundInterval    time.Duration `envconfig:"FOREGROUND_INTERVAL" default:"5s"`
	BackgroundMinInterval time.Duration `envconfig:"BACKGROUND_MIN_INTERVAL" default:"15s"`
	BudgetGrant           time.Duration `envconfig:"BUDGET_GRANT" default:"30s"`
	BudgetMaxRenewals     int           `envconfig:"BUDGET_MAX_RENEWALS" default:"3"`
	BreakerThreshold      uint32        `envconfig:"BREAKER_THRESHOLD" default:"10"`

	SimLatitude  float64 `envconfig:"SIM_LATITUDE" default:"45.5017"`
	SimLongitude float64 `envconfig:"SIM_LONGITUDE" default:"-73.5673"`
	SimAccuracy  float64 `envconfig:"SIM_ACCURACY" default:"10"`
}

type Option func(*Settings)

func NewSettings() Settings {
	var s Settings

	err := envconfig.Process("", &s)
	if err != nil {
		panic(err)
	}

	return s
}

// Load is NewSettings with opts applied.
func Load(opts ...Option) Settings {
	s := NewSettings()
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func GrpcUnaryInterceptor(i grpc.UnaryServerInterceptor) Option {
	return func(s *Settings) {
		if i == nil {
			return
		}
		s.GrpcUnaryInterceptor = grpc.UnaryInterceptor(i)
	}
}

func UserId(id string) Option {
	return func(s *Settings) {
		s.UserId = id
	}
}

func RedisUrl(url string) Option {
	return func(s *Settings) {
		s.RedisUrl = url
	}
}

func Ports(grpcPort, wsPort int) Option {
	return func(s *Settings) {
		s.GrpcPort = grpcPort
		s.WSPort = wsPort
	}
}

func CacheDir(dir string) Option {
	return func(s *Settings) {
		s.CacheDir = dir
	}
}
