package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/arturkryukov/radadmin/internal/domain/model"
)

// UserRepository — строки пароля и маркеры блокировки в таблице radcheck.
type UserRepository interface {
	// Create создаёт строку User-Password := password.
	Create(ctx context.Context, username, password string) (*model.RadUser, error)
	// GetOrCreate возвращает существующего пользователя или атомарно создаёт его.
	GetOrCreate(ctx context.Context, username, password string) (*model.RadUser, bool, error)
	// GetByUsername возвращает пользователя по имени (без групп).
	GetByUsername(ctx context.Context, username string) (*model.RadUser, error)
	// ListActive возвращает пользователей без маркера блокировки.
	ListActive(ctx context.Context) ([]*model.RadUser, error)
	// ListSuspended возвращает заблокированных пользователей.
	ListSuspended(ctx context.Context) ([]*model.RadUser, error)
	// CountSummary возвращает счётчики total/suspended/active.
	CountSummary(ctx context.Context) (*model.UserSummary, error)
	// SetPassword перезаписывает значение строки пароля.
	SetPassword(ctx context.Context, username, password string) error
	// IsSuspended проверяет наличие маркера блокировки.
	IsSuspended(ctx context.Context, username string) (bool, error)
	// Suspend создаёт маркер блокировки, если его нет. Возвращает true, если маркер создан.
	Suspend(ctx context.Context, username string) (bool, error)
	// Unsuspend удаляет все маркеры блокировки. Возвращает количество удалённых строк.
	Unsuspend(ctx context.Context, username string) (int, error)
	// Delete удаляет строку пароля.
	Delete(ctx context.Context, username string) error
}

// userRepo — реализация UserRepository.
type userRepo struct {
	db DBTX
}

// NewUserRepository создаёт репозиторий пользователей RADIUS.
func NewUserRepository(db DBTX) UserRepository {
	return &userRepo{db: db}
}

// Условия отбора строк radcheck.
var (
	passwordCond = kindCond("", model.RowPassword)
	suspendCond  = kindCond("", model.RowSuspendMarker)

	// suspendedExists — коррелированный подзапрос к той же таблице по username.
	suspendedExists = `EXISTS (
			SELECT 1 FROM radcheck AS rc
			WHERE rc.username = radcheck.username
			  AND ` + kindCond("rc.", model.RowSuspendMarker) + `
		)`

	userColumns = `radcheck.id, radcheck.username, radcheck.value, ` + suspendedExists
)

// insertCheckRow — вставка строки radcheck ($1 username, $2 attribute, $3 op, $4 value).
const insertCheckRow = `
		INSERT INTO radcheck (username, attribute, op, value)
		VALUES ($1, $2, $3, $4)`

func (r *userRepo) Create(ctx context.Context, username, password string) (*model.RadUser, error) {
	query := insertCheckRow + `
		RETURNING id`

	k := model.RowPassword
	u := &model.RadUser{Username: username, Password: password}
	err := r.db.QueryRow(ctx, query, username, k.Attribute(), k.Op(), kindValue(k, password)).Scan(&u.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: пароль для %q уже задан", ErrConflict, username)
		}
		return nil, fmt.Errorf("ошибка создания пользователя: %w", err)
	}

	// Маркер мог остаться от ранее удалённого пользователя
	suspended, err := r.IsSuspended(ctx, username)
	if err != nil {
		return nil, err
	}
	u.IsSuspended = suspended
	return u, nil
}

func (r *userRepo) GetOrCreate(ctx context.Context, username, password string) (*model.RadUser, bool, error) {
	query := insertCheckRow + `
		ON CONFLICT (username) WHERE ` + passwordCond + ` DO NOTHING
		RETURNING id`

	k := model.RowPassword
	var id int64
	err := r.db.QueryRow(ctx, query, username, k.Attribute(), k.Op(), kindValue(k, password)).Scan(&id)
	switch {
	case err == nil:
		u, getErr := r.GetByUsername(ctx, username)
		if getErr != nil {
			return nil, false, getErr
		}
		return u, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		// Строка уже существовала — возвращаем её без изменений
		u, getErr := r.GetByUsername(ctx, username)
		if getErr != nil {
			return nil, false, getErr
		}
		return u, false, nil
	default:
		return nil, false, fmt.Errorf("ошибка get-or-create пользователя: %w", err)
	}
}

func (r *userRepo) GetByUsername(ctx context.Context, username string) (*model.RadUser, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM radcheck
		WHERE username = $1 AND %s`, userColumns, passwordCond)

	u := &model.RadUser{}
	err := r.db.QueryRow(ctx, query, username).Scan(&u.ID, &u.Username, &u.Password, &u.IsSuspended)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}
	return u, nil
}

func (r *userRepo) ListActive(ctx context.Context) ([]*model.RadUser, error) {
	return r.list(ctx, "NOT "+suspendedExists)
}

func (r *userRepo) ListSuspended(ctx context.Context) ([]*model.RadUser, error) {
	return r.list(ctx, suspendedExists)
}

// list выбирает строки пароля с дополнительным условием.
func (r *userRepo) list(ctx context.Context, cond string) ([]*model.RadUser, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM radcheck
		WHERE %s AND %s
		ORDER BY radcheck.username, radcheck.id`, userColumns, passwordCond, cond)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка пользователей: %w", err)
	}
	defer rows.Close()

	var result []*model.RadUser
	for rows.Next() {
		u := &model.RadUser{}
		if err := rows.Scan(&u.ID, &u.Username, &u.Password, &u.IsSuspended); err != nil {
			return nil, fmt.Errorf("ошибка сканирования пользователя: %w", err)
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (r *userRepo) CountSummary(ctx context.Context) (*model.UserSummary, error) {
	// Маркеры пользователей без строки пароля не попадают ни в один счётчик.
	query := fmt.Sprintf(`
		SELECT
			(SELECT COUNT(DISTINCT username) FROM radcheck WHERE %[1]s),
			(SELECT COUNT(DISTINCT username) FROM radcheck WHERE %[1]s AND %[2]s)`,
		passwordCond, suspendedExists)

	s := &model.UserSummary{}
	if err := r.db.QueryRow(ctx, query).Scan(&s.Total, &s.Suspended); err != nil {
		return nil, fmt.Errorf("ошибка подсчёта пользователей: %w", err)
	}
	s.Active = s.Total - s.Suspended
	return s, nil
}

func (r *userRepo) SetPassword(ctx context.Context, username, password string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE radcheck SET value = $2 WHERE username = $1 AND `+passwordCond,
		username, password)
	if err != nil {
		return fmt.Errorf("ошибка обновления пароля: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepo) IsSuspended(ctx context.Context, username string) (bool, error) {
	var suspended bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM radcheck WHERE username = $1 AND `+suspendCond+`)`,
		username).Scan(&suspended)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки блокировки: %w", err)
	}
	return suspended, nil
}

func (r *userRepo) Suspend(ctx context.Context, username string) (bool, error) {
	query := insertCheckRow + `
		ON CONFLICT (username) WHERE ` + suspendCond + ` DO NOTHING`

	k := model.RowSuspendMarker
	tag, err := r.db.Exec(ctx, query, username, k.Attribute(), k.Op(), kindValue(k, ""))
	if err != nil {
		return false, fmt.Errorf("ошибка установки блокировки: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *userRepo) Unsuspend(ctx context.Context, username string) (int, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM radcheck WHERE username = $1 AND `+suspendCond, username)
	if err != nil {
		return 0, fmt.Errorf("ошибка снятия блокировки: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *userRepo) Delete(ctx context.Context, username string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM radcheck WHERE username = $1 AND `+passwordCond, username)
	if err != nil {
		return fmt.Errorf("ошибка удаления пользователя: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
