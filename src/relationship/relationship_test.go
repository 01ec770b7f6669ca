package relationship

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"potpie.org/locationshare/src/fault"
)

func TestApply(t *testing.T) {
	cases := []struct {
		from   Permission
		action Action
		want   Permission
		ok     bool
	}{
		{None, Request, Requested, true},
		{Denied, Request, Requested, true},
		{Requested, Request, Requested, true},
		{Granted, Request, Granted, false},
		{None, Grant, Granted, true},
		{Requested, Grant, Granted, true},
		{Requested, Deny, Denied, true},
		{Denied, Deny, Denied, true},
		{Granted, Deny, Granted, false},
		{Granted, Revoke, None, true},
		{Requested, Revoke, Requested, false},
	}
	for _, c := range cases {
		got, err := Apply(c.from, c.action)
		assert.Equal(t, c.want, got, "%s from %s", c.action, c.from)
		if c.ok {
			assert.NoError(t, err)
		} else {
			assert.True(t, errors.Is(err, fault.ErrInvalidSequence))
		}
	}
}

func TestRecordFor(t *testing.T) {
	assert.Equal(t, Record{Owner: "bob", Viewer: "alice"}, RecordFor("alice", "bob", Request))
	assert.Equal(t, Record{Owner: "alice", Viewer: "bob"}, RecordFor("alice", "bob", Grant))
	assert.Equal(t, Record{Owner: "alice", Viewer: "bob"}, RecordFor("alice", "bob", Revoke))
}

func TestParse(t *testing.T) {
	for _, p := range []Permission{None, Requested, Granted, Denied} {
		assert.Equal(t, p, Parse(p.String()))
	}
	a, ok := ParseAction("revoke")
	assert.True(t, ok)
	assert.Equal(t, Revoke, a)
	_, ok = ParseAction("bogus")
	assert.False(t, ok)
}
