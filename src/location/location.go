package location

import (
	"math"
	"time"

	"github.com/goccy/go-json"

	"potpie.org/locationshare/src/fault"
)

// Location is an immutable position fix. The only way to obtain a non-zero
// Location is New (or decoding JSON, which goes through New), so a value
// with out-of-range coordinates never exists.
type Location struct {
	latitude    float64
	longitude   float64
	accuracy    float64
	timestamp   int64
	altitude    float64
	hasAltitude bool
}

type Option func(*Location)

func WithAltitude(altitude float64) Option {
	return func(l *Location) {
		l.altitude = altitude
		l.hasAltitude = true
	}
}

// New validates the coordinates and builds a Location. timestamp is in
// milliseconds since the epoch.
func New(latitude float64, longitude float64, accuracy float64, timestamp int64, opts ...Option) (Location, error) {
	if math.IsNaN(latitude) || latitude < -90 || latitude > 90 {
		return Location{}, fault.Newf(fault.MalformedPayload, "location.New", "latitude %v out of range", latitude)
	}
	if math.IsNaN(longitude) || longitude < -180 || longitude > 180 {
		return Location{}, fault.Newf(fault.MalformedPayload, "location.New", "longitude %v out of range", longitude)
	}
	if math.IsNaN(accuracy) || accuracy < 0 {
		return Location{}, fault.Newf(fault.MalformedPayload, "location.New", "accuracy %v is negative", accuracy)
	}
	l := Location{
		latitude:  latitude,
		longitude: longitude,
		accuracy:  accuracy,
		timestamp: timestamp,
	}
	for _, opt := range opts {
		opt(&l)
	}
	return l, nil
}

func (l Location) Latitude() float64 { return l.latitude }
func (l Location) Longitude() float64 { return l.longitude }
func (l Location) Accuracy() float64 { return l.accuracy }
func (l Location) Timestamp() int64 { return l.timestamp }

func (l Location) Altitude() (float64, bool) {
	return l.altitude, l.hasAltitude
}

func (l Location) Time() time.Time {
	return time.UnixMilli(l.timestamp)
}

// Age is how old the fix is at now. Fixes stamped in the future have a
// negative age.
func (l Location) Age(now time.Time) time.Duration {
	return now.Sub(l.Time())
}

func (l Location) IsZero() bool {
	return l == Location{}
}

// NewerThan reports whether l is strictly more recent than other.
func (l Location) NewerThan(other Location) bool {
	return l.timestamp > other.timestamp
}

type wireLocation struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  float64  `json:"accuracy"`
	Timestamp int64    `json:"timestamp"`
	Altitude  *float64 `json:"altitude,omitempty"`
}

func (l Location) MarshalJSON() ([]byte, error) {
	w := wireLocation{
		Latitude:  l.latitude,
		Longitude: l.longitude,
		Accuracy:  l.accuracy,
		Timestamp: l.timestamp,
	}
	if l.hasAltitude {
		alt := l.altitude
		w.Altitude = &alt
	}
	return json.Marshal(w)
}

func (l *Location) UnmarshalJSON(data []byte) error {
	var w wireLocation
	if err := json.Unmarshal(data, &w); err != nil {
		return fault.Wrap(fault.MalformedPayload, "location.UnmarshalJSON", err)
	}
	var opts []Option
	if w.Altitude != nil {
		opts = append(opts, WithAltitude(*w.Altitude))
	}
	decoded, err := New(w.Latitude, w.Longitude, w.Accuracy, w.Timestamp, opts...)
	if err != nil {
		return err
	}
	*l = decoded
	return nil
}
