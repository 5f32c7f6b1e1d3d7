package group

import (
	"context"

	"github.com/whoisdsmith/SmartFileOrganizer/id"
)

// Store defines the persistence contract for job groups. Group status
// is derived from member jobs, so the record stores only identity,
// policy flags, and membership.
type Store interface {
	// SaveGroup inserts or overwrites the group record keyed by its id.
	SaveGroup(ctx context.Context, g *Group) error

	// GetGroup retrieves a group by id.
	GetGroup(ctx context.Context, groupID id.GroupID) (*Group, error)

	// DeleteGroup removes a group record by id.
	DeleteGroup(ctx context.Context, groupID id.GroupID) error

	// ListGroups returns all group records ordered by CreatedAt
	// ascending.
	ListGroups(ctx context.Context) ([]*Group, error)
}
