// Пакет repository — слой доступа к таблицам FreeRADIUS в PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM. Условия отбора строк
// строятся из model.RowKind, вызывающий код не строит тройки сам.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arturkryukov/radadmin/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ключ).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrInvalidValue — значение строки не соответствует ожидаемому формату.
	ErrInvalidValue = errors.New("некорректное значение в строке")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store — набор репозиториев, привязанных к одному DBTX.
type Store struct {
	Users       UserRepository
	Memberships MembershipRepository
	Groups      GroupRepository
}

// NewStore создаёт репозитории поверх пула или транзакции.
func NewStore(db DBTX) *Store {
	return &Store{
		Users:       NewUserRepository(db),
		Memberships: NewMembershipRepository(db),
		Groups:      NewGroupRepository(db),
	}
}

// Transactor выполняет функцию над Store, привязанным к одной транзакции.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(store *Store) error) error
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается.
// При успехе — коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// WithinTx реализует Transactor: fn получает Store, работающий в транзакции.
func (r *TxRunner) WithinTx(ctx context.Context, fn func(store *Store) error) error {
	return r.RunInTx(ctx, func(tx pgx.Tx) error {
		return fn(NewStore(tx))
	})
}

// kindCond возвращает SQL-условие отбора строк вида k; prefix — квалификатор
// столбцов ("" или "rc."). Текст совпадает с предикатами частичных уникальных
// индексов миграции 000002, иначе ON CONFLICT не найдёт индекс.
func kindCond(prefix string, k model.RowKind) string {
	cond := fmt.Sprintf("%sattribute = '%s' AND %sop = '%s'", prefix, k.Attribute(), prefix, k.Op())
	if v, ok := k.FixedValue(); ok {
		cond += fmt.Sprintf(" AND %svalue = '%s'", prefix, v)
	}
	return cond
}

// kindValue возвращает значение столбца value для новой строки вида k.
func kindValue(k model.RowKind, value string) string {
	if v, ok := k.FixedValue(); ok {
		return v
	}
	return value
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
