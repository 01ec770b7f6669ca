package location

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"potpie.org/locationshare/src/fault"
)

func TestNewAcceptsInBoundCoordinates(t *testing.T) {
	cases := [][2]float64{
		{0, 0}, {90, 180}, {-90, -180}, {45.5, -73.6}, {-33.86, 151.2},
	}
	for _, c := range cases {
		l, err := New(c[0], c[1], 5, 1000)
		require.NoError(t, err, "lat=%v lon=%v", c[0], c[1])
		assert.Equal(t, c[0], l.Latitude())
		assert.Equal(t, c[1], l.Longitude())
	}
}

func TestNewRejectsOutOfBoundCoordinates(t *testing.T) {
	cases := [][2]float64{
		{90.0001, 0}, {-90.5, 0}, {0, 180.01}, {0, -181}, {math.NaN(), 0}, {0, math.NaN()},
	}
	for _, c := range cases {
		l, err := New(c[0], c[1], 5, 1000)
		require.Error(t, err, "lat=%v lon=%v", c[0], c[1])
		assert.True(t, errors.Is(err, fault.ErrMalformedPayload))
		assert.True(t, l.IsZero())
	}
}

func TestNewRejectsNegativeAccuracy(t *testing.T) {
	_, err := New(10, 10, -1, 1000)
	assert.True(t, errors.Is(err, fault.ErrMalformedPayload))
}

func TestAgeAndOrdering(t *testing.T) {
	now := time.UnixMilli(10_000)
	older, err := New(1, 1, 1, 4_000)
	require.NoError(t, err)
	newer, err := New(1, 1, 1, 9_000)
	require.NoError(t, err)

	assert.Equal(t, 6*time.Second, older.Age(now))
	assert.True(t, newer.NewerThan(older))
	assert.False(t, older.NewerThan(newer))
	assert.False(t, older.NewerThan(older))
}

func TestJSONKeepsAltitudeAndValidates(t *testing.T) {
	l, err := New(48.85, 2.35, 12.5, 1700000000000, WithAltitude(35))
	require.NoError(t, err)

	data, err := json.Marshal(l)
	require.NoError(t, err)

	var decoded Location
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, l, decoded)
	alt, ok := decoded.Altitude()
	assert.True(t, ok)
	assert.Equal(t, 35.0, alt)

	err = decoded.UnmarshalJSON([]byte(`{"latitude":91,"longitude":0,"accuracy":1,"timestamp":1}`))
	assert.True(t, errors.Is(err, fault.ErrMalformedPayload))
	assert.Equal(t, l, decoded)
}
