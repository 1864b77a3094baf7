package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const groupColumns = `id, name, website, description, email, discord, twitter, reddit, irc, logo`

func scanGroup(row scanner) (*Group, error) {
	var g Group
	err := row.Scan(&g.ID, &g.Name, &g.Website, &g.Description, &g.Email,
		&g.Discord, &g.Twitter, &g.Reddit, &g.IRC, &g.Logo)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// GroupRepository handles scanlation groups, their members and roles
type GroupRepository struct {
	q Querier
}

func NewGroupRepository(q Querier) *GroupRepository {
	return &GroupRepository{q: q}
}

func (r *GroupRepository) Get(ctx context.Context, id int64) (*Group, error) {
	g, err := scanGroup(r.q.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return g, nil
}

func (r *GroupRepository) List(ctx context.Context) ([]*Group, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+groupColumns+` FROM groups ORDER BY casefold(name), id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group row: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating group rows: %w", err)
	}
	return groups, nil
}

func (r *GroupRepository) Create(ctx context.Context, g *Group) error {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO groups (name, website, description, email, discord, twitter, reddit, irc, logo)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, g.Name, g.Website, g.Description, g.Email, g.Discord, g.Twitter, g.Reddit, g.IRC, g.Logo)
	if err != nil {
		return wrapWriteErr("create group", err)
	}
	if g.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get group id: %w", err)
	}
	return nil
}

func (r *GroupRepository) Update(ctx context.Context, g *Group) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE groups SET name = ?, website = ?, description = ?, email = ?,
		       discord = ?, twitter = ?, reddit = ?, irc = ?, logo = ?
		WHERE id = ?
	`, g.Name, g.Website, g.Description, g.Email, g.Discord, g.Twitter, g.Reddit, g.IRC, g.Logo, g.ID)
	if err != nil {
		return wrapWriteErr("update group", err)
	}
	return affected(res, "update group")
}

func (r *GroupRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	return affected(res, "delete group")
}

func (r *GroupRepository) CreateMember(ctx context.Context, m *Member) error {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO members (name, twitter, discord, irc, reddit) VALUES (?, ?, ?, ?, ?)
	`, m.Name, m.Twitter, m.Discord, m.IRC, m.Reddit)
	if err != nil {
		return wrapWriteErr("create member", err)
	}
	if m.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get member id: %w", err)
	}
	return nil
}

// AddRole gives a member a role in a group. Duplicates return ErrConflict.
func (r *GroupRepository) AddRole(ctx context.Context, memberID, groupID int64, role string) error {
	if _, ok := RoleNames[role]; !ok {
		return fmt.Errorf("unknown role %q", role)
	}
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO roles (member_id, group_id, role) VALUES (?, ?, ?)`, memberID, groupID, role)
	return wrapWriteErr("add role", err)
}

func (r *GroupRepository) RemoveRole(ctx context.Context, memberID, groupID int64, role string) error {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM roles WHERE member_id = ? AND group_id = ? AND role = ?`, memberID, groupID, role)
	if err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}
	return affected(res, "remove role")
}

// Roles returns the member roles of a group ordered by member name.
func (r *GroupRepository) Roles(ctx context.Context, groupID int64) ([]Role, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT r.member_id, m.name, r.group_id, r.role
		FROM roles r JOIN members m ON m.id = r.member_id
		WHERE r.group_id = ?
		ORDER BY casefold(m.name), r.role
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get group roles: %w", err)
	}
	defer rows.Close()

	roles := []Role{}
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.MemberID, &role.MemberName, &role.GroupID, &role.Role); err != nil {
			return nil, fmt.Errorf("failed to scan role row: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}
