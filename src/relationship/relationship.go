package relationship

import (
	"potpie.org/locationshare/src/fault"
)

// Permission is the sharing permission on one owner -> viewer relationship.
type Permission int

const (
	None Permission = iota
	Requested
	Granted
	Denied
)

func (p Permission) String() string {
	switch p {
	case Requested:
		return "Requested"
	case Granted:
		return "Granted"
	case Denied:
		return "Denied"
	}
	return "None"
}

func Parse(s string) Permission {
	switch s {
	case "Requested":
		return Requested
	case "Granted":
		return Granted
	case "Denied":
		return Denied
	}
	return None
}

type Action int

const (
	Request Action = iota
	Grant
	Deny
	Revoke
)

func (a Action) String() string {
	switch a {
	case Grant:
		return "grant"
	case Deny:
		return "deny"
	case Revoke:
		return "revoke"
	}
	return "request"
}

func ParseAction(s string) (Action, bool) {
	switch s {
	case "request":
		return Request, true
	case "grant":
		return Grant, true
	case "deny":
		return Deny, true
	case "revoke":
		return Revoke, true
	}
	return Request, false
}

// Apply returns the permission that results from a user action on current.
func Apply(current Permission, action Action) (Permission, error) {
	switch action {
	case Request:
		switch current {
		case None, Denied, Requested:
			return Requested, nil
		}
	case Grant:
		return Granted, nil
	case Deny:
		switch current {
		case Requested, Denied:
			return Denied, nil
		}
	case Revoke:
		if current == Granted {
			return None, nil
		}
	}
	return current, fault.Newf(fault.InvalidSequence, "relationship.Apply", "cannot %s from %s", action, current)
}

// Record identifies a relationship record. Owner is the user whose location
// is shared and Viewer is the user who may see it.
type Record struct {
	Owner  string
	Viewer string
}

// RecordFor returns the record an action performed by actor on friend
// mutates: a request asks friend to share with actor, every other action
// governs who sees actor.
func RecordFor(actor, friend string, action Action) Record {
	if action == Request {
		return Record{Owner: friend, Viewer: actor}
	}
	return Record{Owner: actor, Viewer: friend}
}
