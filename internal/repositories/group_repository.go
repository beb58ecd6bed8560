package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"chatsync/internal/models"
)

var (
	ErrGroupNotFound = errors.New("group not found")
	ErrNotGroupAdmin = errors.New("only the group admin may change members")
	ErrAdminRemoval  = errors.New("the group admin cannot be removed")
)

// GroupRepository abstracts group persistence. Membership mutations enforce
// the admin invariant: the admin is always a member and is the only actor
// allowed to add or remove members.
type GroupRepository interface {
	CreateGroup(ctx context.Context, adminID, name string, memberIDs []string) (models.Group, error)
	GetGroup(ctx context.Context, groupID string) (models.Group, error)
	ListGroupsForUser(ctx context.Context, userID string) ([]models.Group, error)
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
	AddMembers(ctx context.Context, groupID, actorID string, memberIDs []string) error
	RemoveMember(ctx context.Context, groupID, actorID, memberID string) error
}

// GroupRepo is a sqlx implementation of GroupRepository.
type GroupRepo struct {
	db *sqlx.DB
}

// NewGroupRepo constructs a GroupRepo.
func NewGroupRepo(db *sqlx.DB) *GroupRepo {
	return &GroupRepo{db: db}
}

// CreateGroup creates a group and its members atomically. The admin is added
// to the member set whether or not the caller listed them.
func (r *GroupRepo) CreateGroup(ctx context.Context, adminID, name string, memberIDs []string) (models.Group, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Group{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	group := models.Group{ID: uuid.NewString(), Name: name, AdminID: adminID}
	if err = tx.QueryRowxContext(ctx, `INSERT INTO groups (id, name, admin_id) VALUES ($1, $2, $3) RETURNING created_at, updated_at`,
		group.ID, group.Name, group.AdminID).
		Scan(&group.CreatedAt, &group.UpdatedAt); err != nil {
		return models.Group{}, err
	}

	memberSet := map[string]struct{}{adminID: {}}
	for _, id := range memberIDs {
		memberSet[id] = struct{}{}
	}
	ids := make([]string, 0, len(memberSet))
	for id := range memberSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if _, err = tx.ExecContext(ctx, `INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)`, group.ID, id); err != nil {
			return models.Group{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Group{}, err
	}
	group.Members = ids
	return group, nil
}

// GetGroup fetches a single group with its member set.
func (r *GroupRepo) GetGroup(ctx context.Context, groupID string) (models.Group, error) {
	var group models.Group
	err := r.db.GetContext(ctx, &group, `SELECT id, name, admin_id, created_at, updated_at FROM groups WHERE id=$1`, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Group{}, ErrGroupNotFound
	}
	if err != nil {
		return models.Group{}, err
	}
	if err := r.db.SelectContext(ctx, &group.Members, `SELECT user_id FROM group_members WHERE group_id=$1 ORDER BY user_id`, groupID); err != nil {
		return models.Group{}, err
	}
	return group, nil
}

// ListGroupsForUser returns groups that include the user, members populated.
func (r *GroupRepo) ListGroupsForUser(ctx context.Context, userID string) ([]models.Group, error) {
	var groups []models.Group
	err := r.db.SelectContext(ctx, &groups, `SELECT g.id, g.name, g.admin_id, g.created_at, g.updated_at FROM groups g
        INNER JOIN group_members gm ON gm.group_id = g.id WHERE gm.user_id=$1 ORDER BY g.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	for i := range groups {
		if err := r.db.SelectContext(ctx, &groups[i].Members, `SELECT user_id FROM group_members WHERE group_id=$1 ORDER BY user_id`, groups[i].ID); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

// IsMember checks membership.
func (r *GroupRepo) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id=$1 AND user_id=$2)`, groupID, userID)
	return exists, err
}

// AddMembers adds users to the group. Admin only.
func (r *GroupRepo) AddMembers(ctx context.Context, groupID, actorID string, memberIDs []string) error {
	group, err := r.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if group.AdminID != actorID {
		return ErrNotGroupAdmin
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, id := range memberIDs {
		if _, err = tx.ExecContext(ctx, `INSERT INTO group_members (group_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, groupID, id); err != nil {
			return err
		}
	}
	if _, err = tx.ExecContext(ctx, `UPDATE groups SET updated_at = NOW() WHERE id=$1`, groupID); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveMember removes a user from the group. Admin only; removing the admin
// itself is rejected so the admin invariant cannot be broken.
func (r *GroupRepo) RemoveMember(ctx context.Context, groupID, actorID, memberID string) error {
	group, err := r.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if group.AdminID != actorID {
		return ErrNotGroupAdmin
	}
	if memberID == group.AdminID {
		return ErrAdminRemoval
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id=$1 AND user_id=$2`, groupID, memberID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `UPDATE groups SET updated_at = NOW() WHERE id=$1`, groupID); err != nil {
		return err
	}
	return tx.Commit()
}
