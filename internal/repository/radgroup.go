package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/arturkryukov/radadmin/internal/domain/model"
)

// GroupRepository — группы RADIUS поверх radusergroup и radgroupcheck.
// Группа существует, пока на неё ссылается хотя бы одна из таблиц.
type GroupRepository interface {
	// Count возвращает количество различных групп в обеих таблицах.
	Count(ctx context.Context) (int, error)
	// List возвращает все группы (упорядочены по имени, но вызывающий код не должен на это полагаться).
	List(ctx context.Context) ([]*model.RadGroup, error)
	// Get возвращает группу или ErrNotFound.
	Get(ctx context.Context, groupname string) (*model.RadGroup, error)
	// SimultaneousUse возвращает лимит сессий группы или nil, если он не задан.
	// Нечисловое значение возвращается как ErrInvalidValue.
	SimultaneousUse(ctx context.Context, groupname string) (*int, error)
	// SetSimultaneousUse атомарно создаёт или обновляет лимит. Возвращает true, если строка создана.
	SetSimultaneousUse(ctx context.Context, groupname string, limit int) (bool, error)
	// UserCount возвращает количество различных пользователей группы.
	UserCount(ctx context.Context, groupname string) (int, error)
}

// groupRepo — реализация GroupRepository.
type groupRepo struct {
	db DBTX
}

// NewGroupRepository создаёт репозиторий групп RADIUS.
func NewGroupRepository(db DBTX) GroupRepository {
	return &groupRepo{db: db}
}

// groupUnion — объединение имён групп из обеих таблиц (UNION убирает дубликаты).
const groupUnion = `
		SELECT groupname FROM radusergroup
		UNION
		SELECT groupname FROM radgroupcheck`

var simUseCond = kindCond("", model.RowSimultaneousUse)

func (r *groupRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM (`+groupUnion+`) AS g`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта групп: %w", err)
	}
	return count, nil
}

func (r *groupRepo) List(ctx context.Context) ([]*model.RadGroup, error) {
	rows, err := r.db.Query(ctx, `SELECT g.groupname FROM (`+groupUnion+`) AS g ORDER BY g.groupname`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка групп: %w", err)
	}
	defer rows.Close()

	var result []*model.RadGroup
	for rows.Next() {
		g := &model.RadGroup{}
		if err := rows.Scan(&g.Name); err != nil {
			return nil, fmt.Errorf("ошибка сканирования группы: %w", err)
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

func (r *groupRepo) Get(ctx context.Context, groupname string) (*model.RadGroup, error) {
	query := `
		SELECT EXISTS (SELECT 1 FROM radgroupcheck WHERE groupname = $1)
			OR EXISTS (SELECT 1 FROM radusergroup WHERE groupname = $1)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, groupname).Scan(&exists); err != nil {
		return nil, fmt.Errorf("ошибка получения группы: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}
	return &model.RadGroup{Name: groupname}, nil
}

func (r *groupRepo) SimultaneousUse(ctx context.Context, groupname string) (*int, error) {
	var value string
	err := r.db.QueryRow(ctx,
		`SELECT value FROM radgroupcheck WHERE groupname = $1 AND `+simUseCond,
		groupname).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка получения Simultaneous-Use: %w", err)
	}

	limit, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("%w: Simultaneous-Use %q для группы %q: %v", ErrInvalidValue, value, groupname, err)
	}
	return &limit, nil
}

func (r *groupRepo) SetSimultaneousUse(ctx context.Context, groupname string, limit int) (bool, error) {
	// xmax = 0 только у строки, вставленной этим запросом
	query := `
		INSERT INTO radgroupcheck (groupname, attribute, op, value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (groupname) WHERE ` + simUseCond + ` DO UPDATE SET
			value = EXCLUDED.value
		RETURNING (xmax = 0)`

	k := model.RowSimultaneousUse
	var created bool
	err := r.db.QueryRow(ctx, query, groupname, k.Attribute(), k.Op(), kindValue(k, strconv.Itoa(limit))).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("ошибка установки Simultaneous-Use: %w", err)
	}
	return created, nil
}

func (r *groupRepo) UserCount(ctx context.Context, groupname string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(DISTINCT username) FROM radusergroup WHERE groupname = $1`,
		groupname).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта пользователей группы: %w", err)
	}
	return count, nil
}
