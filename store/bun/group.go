package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	batch "github.com/whoisdsmith/SmartFileOrganizer"
	"github.com/whoisdsmith/SmartFileOrganizer/group"
	"github.com/whoisdsmith/SmartFileOrganizer/id"
)

// SaveGroup inserts or overwrites the group record keyed by its id.
func (s *Store) SaveGroup(ctx context.Context, g *group.Group) error {
	m := toGroupModel(g)
	_, err := s.db.NewInsert().Model(m).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("sequential = EXCLUDED.sequential").
		Set("cancel_on_failure = EXCLUDED.cancel_on_failure").
		Set("member_ids = EXCLUDED.member_ids").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("batch/bun: save group: %w", err)
	}
	return nil
}

// GetGroup retrieves a group by id.
func (s *Store) GetGroup(ctx context.Context, groupID id.GroupID) (*group.Group, error) {
	m := new(groupModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", groupID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, batch.ErrGroupNotFound
		}
		return nil, fmt.Errorf("batch/bun: get group: %w", err)
	}
	return fromGroupModel(m)
}

// DeleteGroup removes a group record by id.
func (s *Store) DeleteGroup(ctx context.Context, groupID id.GroupID) error {
	res, err := s.db.NewDelete().
		TableExpr("batch_groups").
		Where("id = ?", groupID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("batch/bun: delete group: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return batch.ErrGroupNotFound
	}
	return nil
}

// ListGroups returns all group records ordered by CreatedAt ascending.
func (s *Store) ListGroups(ctx context.Context) ([]*group.Group, error) {
	var models []groupModel
	err := s.db.NewSelect().Model(&models).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("batch/bun: list groups: %w", err)
	}

	groups := make([]*group.Group, 0, len(models))
	for i := range models {
		g, convErr := fromGroupModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("batch/bun: list groups convert: %w", convErr)
		}
		groups = append(groups, g)
	}
	return groups, nil
}
