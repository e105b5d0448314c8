package docstore

import "fmt"

type Op string

const (
	OpRead   Op = "read"
	OpWrite  Op = "write"
	OpDelete Op = "delete"
)

// Request describes one client operation for authorization.
type Request struct {
	Caller     string
	Op         Op
	Path       string
	Collection bool
	Existing   Snapshot
	Fields     map[string]any
	Merge      bool
}

// Authorize enforces who may touch which document:
//
//	trips/{id}                  create with adminId == caller; update/delete by the admin only
//	trips/{id}/locations        readable collection
//	trips/{id}/locations/{uid}  written by uid only
//	resortStatus                read-only
func Authorize(req Request) error {
	if req.Caller == "" {
		return ErrUnauthenticated
	}
	segs, err := Segments(req.Path)
	if err != nil {
		return err
	}
	if segs[0] == ResortStatusPath && len(segs) == 1 && !req.Collection {
		if req.Op == OpRead {
			return nil
		}
		return deny(req, "resort status is read-only")
	}
	if segs[0] != "trips" {
		return deny(req, "unknown collection")
	}

	switch {
	case len(segs) == 2 && !req.Collection:
		return authorizeTrip(req)
	case len(segs) == 3 && segs[2] == "locations" && req.Collection && req.Op == OpRead:
		return nil
	case len(segs) == 4 && segs[2] == "locations" && !req.Collection:
		return authorizeLocation(req, segs[3])
	}
	return deny(req, "unsupported path")
}

func authorizeTrip(req Request) error {
	if req.Op == OpRead {
		return nil
	}
	if !req.Existing.Exists {
		if req.Op == OpDelete {
			return nil
		}
		if stringField(req.Fields, "adminId") != req.Caller {
			return deny(req, "creator must be admin")
		}
		return nil
	}
	admin := stringField(req.Existing.Data, "adminId")
	if admin != req.Caller {
		return deny(req, "admin only")
	}
	v, ok := req.Fields["adminId"]
	if ok && v != admin {
		return deny(req, "admin cannot be reassigned")
	}
	// a replace without adminId would leave the trip with no admin
	if req.Op == OpWrite && !req.Merge && !ok {
		return deny(req, "replace must keep adminId")
	}
	return nil
}

func authorizeLocation(req Request, owner string) error {
	if req.Op == OpRead {
		return nil
	}
	if owner != req.Caller {
		return deny(req, "presence is owner-written")
	}
	if v, ok := req.Fields["uid"]; ok && v != owner {
		return deny(req, "uid field must match path")
	}
	return nil
}

func deny(req Request, reason string) error {
	return fmt.Errorf("%w: %s %s: %s", ErrPermissionDenied, req.Op, req.Path, reason)
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}
