package quality

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"potpie.org/locationshare/src/fault"
	"potpie.org/locationshare/src/location"
)

var now = time.UnixMilli(1_700_000_000_000)

func fix(t *testing.T, accuracy float64, age time.Duration) location.Location {
	t.Helper()
	l, err := location.New(45, -73, accuracy, now.Add(-age).UnixMilli())
	require.NoError(t, err)
	return l
}

func TestInaccurateInForegroundAcceptedInBackground(t *testing.T) {
	for _, acc := range []float64{50.5, 75, 120, 199.9, 200} {
		f := fix(t, acc, time.Second)
		assert.Equal(t, Decision{Reason: fault.InaccurateFix}, Accept(f, Foreground, now), "accuracy %v", acc)
		assert.Equal(t, Decision{Accepted: true}, Accept(f, Background, now), "accuracy %v", acc)
	}
}

func TestAccuracyBoundaryIsInclusive(t *testing.T) {
	assert.True(t, Accept(fix(t, 50, 0), Foreground, now).Accepted)
	assert.False(t, Accept(fix(t, 200.1, 0), Background, now).Accepted)
}

func TestStaleFix(t *testing.T) {
	d := Accept(fix(t, 10, 31*time.Second), Foreground, now)
	assert.Equal(t, fault.StaleFix, d.Reason)
	assert.True(t, errors.Is(d.Err(), fault.ErrStaleFix))

	assert.True(t, Accept(fix(t, 10, 31*time.Second), Background, now).Accepted)
	assert.False(t, Accept(fix(t, 10, 301*time.Second), Background, now).Accepted)
}

func TestAccuracyCheckedBeforeAge(t *testing.T) {
	d := Accept(fix(t, 500, time.Hour), Background, now)
	assert.Equal(t, fault.InaccurateFix, d.Reason)
}

func TestFutureTimestampIsFresh(t *testing.T) {
	assert.True(t, Accept(fix(t, 5, -10*time.Second), Foreground, now).Accepted)
}

func TestValidatorUsesClock(t *testing.T) {
	v := NewValidator(func() time.Time { return now.Add(time.Minute) })
	assert.False(t, v.Accept(fix(t, 5, 0), Foreground).Accepted)
	assert.True(t, v.Accept(fix(t, 5, 0), Background).Accepted)
	assert.NoError(t, Decision{Accepted: true}.Err())
}
