package repository

import (
	"context"
	"fmt"

	"github.com/arturkryukov/radadmin/internal/domain/model"
)

// MembershipRepository — членство пользователей в группах (таблица radusergroup).
type MembershipRepository interface {
	// ListGroups возвращает группы пользователя по возрастанию priority.
	ListGroups(ctx context.Context, username string) ([]string, error)
	// ListRows возвращает строки членства пользователя по возрастанию priority.
	ListRows(ctx context.Context, username string) ([]*model.UserGroupRow, error)
	// Add добавляет пользователя в группы, назначая priority после существующих.
	Add(ctx context.Context, username string, groups []string) error
	// Remove удаляет членство пользователя в указанных группах.
	Remove(ctx context.Context, username string, groups []string) (int, error)
	// RemoveAll удаляет все членства пользователя.
	RemoveAll(ctx context.Context, username string) (int, error)
}

// membershipRepo — реализация MembershipRepository.
type membershipRepo struct {
	db DBTX
}

// NewMembershipRepository создаёт репозиторий членства в группах.
func NewMembershipRepository(db DBTX) MembershipRepository {
	return &membershipRepo{db: db}
}

func (r *membershipRepo) ListGroups(ctx context.Context, username string) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT groupname
		FROM radusergroup
		WHERE username = $1
		ORDER BY priority, id`, username)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения групп пользователя: %w", err)
	}
	defer rows.Close()

	groups := []string{}
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("ошибка сканирования группы: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (r *membershipRepo) ListRows(ctx context.Context, username string) ([]*model.UserGroupRow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, username, groupname, priority
		FROM radusergroup
		WHERE username = $1
		ORDER BY priority, id`, username)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения строк членства: %w", err)
	}
	defer rows.Close()

	var result []*model.UserGroupRow
	for rows.Next() {
		row := &model.UserGroupRow{}
		if err := rows.Scan(&row.ID, &row.Username, &row.Groupname, &row.Priority); err != nil {
			return nil, fmt.Errorf("ошибка сканирования строки членства: %w", err)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func (r *membershipRepo) Add(ctx context.Context, username string, groups []string) error {
	if len(groups) == 0 {
		return nil
	}

	// Новые строки получают max(priority)+1, +2, … в порядке groups,
	// существующие строки не переписываются.
	query := `
		INSERT INTO radusergroup (username, groupname, priority)
		SELECT $1, g.groupname,
			(COALESCE((SELECT MAX(priority) FROM radusergroup WHERE username = $1), 0) + g.ord)::int
		FROM unnest($2::text[]) WITH ORDINALITY AS g(groupname, ord)`

	if _, err := r.db.Exec(ctx, query, username, groups); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: пользователь %q уже состоит в одной из групп %v", ErrConflict, username, groups)
		}
		return fmt.Errorf("ошибка добавления в группы: %w", err)
	}
	return nil
}

func (r *membershipRepo) Remove(ctx context.Context, username string, groups []string) (int, error) {
	if len(groups) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM radusergroup WHERE username = $1 AND groupname = ANY($2)`,
		username, groups)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления из групп: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *membershipRepo) RemoveAll(ctx context.Context, username string) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM radusergroup WHERE username = $1`, username)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления членства: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
