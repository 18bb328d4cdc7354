// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/arturkryukov/radadmin/internal/repository"
)

var (
	// ErrNotFound — пользователь или группа не найдены.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — конфликт уникальности (дублирующийся ключ).
	ErrConflict = errors.New("конфликт — ресурс уже существует")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrPartialUpdate — составное обновление прервано после фиксации части полей.
	ErrPartialUpdate = errors.New("обновление применено частично")
)

// Имена полей составного обновления пользователя.
const (
	FieldPassword    = "password"
	FieldIsSuspended = "is_suspended"
	FieldGroups      = "groups"
)

// UpdateError — ошибка одного из шагов составного обновления пользователя.
// Applied перечисляет поля, изменения которых уже зафиксированы и остаются в силе.
// При RolledBack все изменения отменены транзакцией.
type UpdateError struct {
	Username   string
	Field      string
	Applied    []string
	RolledBack bool
	Err        error
}

func (e *UpdateError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "обновление пользователя %q: поле %s: %v", e.Username, e.Field, e.Err)
	switch {
	case e.RolledBack:
		b.WriteString(" (изменения отменены)")
	case len(e.Applied) > 0:
		fmt.Fprintf(&b, " (уже применены: %s)", strings.Join(e.Applied, ", "))
	}
	return b.String()
}

// Unwrap возвращает исходную ошибку хранилища.
func (e *UpdateError) Unwrap() error {
	return e.Err
}

// Is сопоставляет ошибку с ErrPartialUpdate, если часть полей осталась применённой.
func (e *UpdateError) Is(target error) bool {
	return target == ErrPartialUpdate && !e.RolledBack && len(e.Applied) > 0
}

// mapRepoError переводит ошибки репозитория в ошибки сервиса.
// Прочие ошибки хранилища возвращаются без изменений.
func mapRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return err
	}
}
