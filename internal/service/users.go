// Пакет service — бизнес-логика radadmin.
// users.go — сервис пользователей RADIUS: пароль, блокировка, членство в группах.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/radadmin/internal/domain/model"
	"github.com/arturkryukov/radadmin/internal/repository"
)

// Prometheus-метрики изменений пользователей.
var userFieldUpdatesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "radadmin_user_field_updates_total",
		Help: "Количество изменений полей пользователя RADIUS по результату.",
	},
	[]string{"field", "result"},
)

// UserUpdate — набор изменений пользователя.
// nil-поле означает «не изменять». Groups = &[]string{} удаляет все группы.
type UserUpdate struct {
	Password    *string
	IsSuspended *bool
	Groups      *[]string
}

// UserService — сервис пользователей RADIUS.
type UserService struct {
	store  *repository.Store
	tx     repository.Transactor
	stats  *StatsCache
	logger *slog.Logger
}

// NewUserService создаёт сервис пользователей.
// stats может быть nil — кэш счётчиков отключён.
func NewUserService(
	store *repository.Store,
	tx repository.Transactor,
	stats *StatsCache,
	logger *slog.Logger,
) *UserService {
	return &UserService{
		store:  store,
		tx:     tx,
		stats:  stats,
		logger: logger.With(slog.String("component", "user_service")),
	}
}

// CreateUser создаёт пользователя с паролем и группами в одной транзакции.
func (s *UserService) CreateUser(ctx context.Context, username, password string, groups []string) (*model.RadUser, error) {
	if username == "" {
		return nil, fmt.Errorf("%w: пустое имя пользователя", ErrValidation)
	}

	err := s.tx.WithinTx(ctx, func(store *repository.Store) error {
		if _, err := store.Users.Create(ctx, username, password); err != nil {
			return err
		}
		return store.Memberships.Add(ctx, username, normalizeGroups(groups))
	})
	if err != nil {
		return nil, fmt.Errorf("создание пользователя %q: %w", username, mapRepoError(err))
	}
	s.stats.Invalidate()

	s.logger.Info("Пользователь создан",
		slog.String("username", username),
		slog.Any("groups", normalizeGroups(groups)),
	)
	return s.GetUser(ctx, username)
}

// GetOrCreateUser возвращает пользователя или создаёт его с указанным паролем.
// Существующий пароль не перезаписывается.
func (s *UserService) GetOrCreateUser(ctx context.Context, username, password string) (*model.RadUser, bool, error) {
	if username == "" {
		return nil, false, fmt.Errorf("%w: пустое имя пользователя", ErrValidation)
	}

	_, created, err := s.store.Users.GetOrCreate(ctx, username, password)
	if err != nil {
		return nil, false, fmt.Errorf("get-or-create пользователя %q: %w", username, mapRepoError(err))
	}
	if created {
		s.stats.Invalidate()
		s.logger.Info("Пользователь создан", slog.String("username", username))
	}

	u, err := s.GetUser(ctx, username)
	if err != nil {
		return nil, false, err
	}
	return u, created, nil
}

// GetUser возвращает пользователя с признаком блокировки и группами.
func (s *UserService) GetUser(ctx context.Context, username string) (*model.RadUser, error) {
	return s.loadUser(ctx, s.store, username)
}

// loadUser собирает RadUser из строки пароля, маркера блокировки и radusergroup.
func (s *UserService) loadUser(ctx context.Context, store *repository.Store, username string) (*model.RadUser, error) {
	u, err := store.Users.GetByUsername(ctx, username)
	if err != nil {
		return nil, mapRepoError(err)
	}
	groups, err := store.Memberships.ListGroups(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("группы пользователя %q: %w", username, err)
	}
	u.Groups = groups
	return u, nil
}

// ListActiveUsers возвращает пользователей без маркера блокировки (группы не загружаются).
func (s *UserService) ListActiveUsers(ctx context.Context) ([]*model.RadUser, error) {
	return s.store.Users.ListActive(ctx)
}

// ListSuspendedUsers возвращает заблокированных пользователей (группы не загружаются).
func (s *UserService) ListSuspendedUsers(ctx context.Context) ([]*model.RadUser, error) {
	return s.store.Users.ListSuspended(ctx)
}

// CountSummary возвращает счётчики пользователей (через кэш, если он включён).
func (s *UserService) CountSummary(ctx context.Context) (*model.UserSummary, error) {
	if cached, ok := s.stats.UserSummary(); ok {
		return cached, nil
	}
	gen := s.stats.Generation()
	summary, err := s.store.Users.CountSummary(ctx)
	if err != nil {
		return nil, err
	}
	s.stats.SetUserSummary(summary, gen)
	return summary, nil
}

// ChangePassword перезаписывает пароль пользователя.
func (s *UserService) ChangePassword(ctx context.Context, username, password string) error {
	defer s.stats.Invalidate()
	return mapRepoError(s.changePassword(ctx, s.store, username, password))
}

// ToggleSuspended блокирует (true) или разблокирует (false) пользователя.
func (s *UserService) ToggleSuspended(ctx context.Context, username string, suspended bool) error {
	if _, err := s.store.Users.GetByUsername(ctx, username); err != nil {
		return mapRepoError(err)
	}
	defer s.stats.Invalidate()
	return s.toggleSuspended(ctx, s.store, username, suspended)
}

// ChangeGroups приводит членство пользователя к заданному набору групп.
// Удаление и добавление строк выполняются в одной транзакции.
func (s *UserService) ChangeGroups(ctx context.Context, username string, groups []string) error {
	if _, err := s.store.Users.GetByUsername(ctx, username); err != nil {
		return mapRepoError(err)
	}
	defer s.stats.Invalidate()
	return mapRepoError(s.tx.WithinTx(ctx, func(store *repository.Store) error {
		return s.changeGroups(ctx, store, username, groups)
	}))
}

// Update применяет изменения пользователя шаг за шагом: пароль, блокировка, группы.
//
// Обновление не атомарно: каждый шаг фиксируется отдельно, шаг групп —
// целиком в своей транзакции. При ошибке возвращается *UpdateError с именем
// поля и списком уже применённых полей, они остаются в силе; поле, на котором
// произошла ошибка, не изменено. Для атомарного обновления используйте UpdateAtomic.
func (s *UserService) Update(ctx context.Context, username string, upd UserUpdate) (*model.RadUser, error) {
	current, err := s.store.Users.GetByUsername(ctx, username)
	if err != nil {
		return nil, mapRepoError(err)
	}

	applied, stepErr := s.applyUpdate(ctx, s.store, s.tx, current, upd)
	if len(applied) > 0 {
		s.stats.Invalidate()
	}
	if stepErr != nil {
		s.logger.Error("Обновление пользователя прервано",
			slog.String("username", username),
			slog.String("field", stepErr.field),
			slog.Any("applied", applied),
			slog.String("error", stepErr.err.Error()),
		)
		return nil, &UpdateError{Username: username, Field: stepErr.field, Applied: applied, Err: stepErr.err}
	}

	if len(applied) > 0 {
		s.logger.Info("Пользователь обновлён",
			slog.String("username", username),
			slog.Any("fields", applied),
		)
	}
	return s.GetUser(ctx, username)
}

// UpdateAtomic применяет те же изменения, что и Update, в одной транзакции.
// При ошибке любого шага все изменения откатываются.
func (s *UserService) UpdateAtomic(ctx context.Context, username string, upd UserUpdate) (*model.RadUser, error) {
	var (
		applied []string
		updErr  *UpdateError
	)

	err := s.tx.WithinTx(ctx, func(store *repository.Store) error {
		current, err := store.Users.GetByUsername(ctx, username)
		if err != nil {
			return mapRepoError(err)
		}
		var stepErr *stepError
		applied, stepErr = s.applyUpdate(ctx, store, currentTx{store: store}, current, upd)
		if stepErr != nil {
			updErr = &UpdateError{Username: username, Field: stepErr.field, RolledBack: true, Err: stepErr.err}
			return updErr
		}
		return nil
	})
	if err != nil {
		if updErr != nil {
			s.logger.Error("Атомарное обновление пользователя отменено",
				slog.String("username", username),
				slog.String("field", updErr.Field),
				slog.String("error", updErr.Err.Error()),
			)
			return nil, updErr
		}
		return nil, err
	}

	if len(applied) > 0 {
		s.stats.Invalidate()
		s.logger.Info("Пользователь обновлён атомарно",
			slog.String("username", username),
			slog.Any("fields", applied),
		)
	}
	return s.GetUser(ctx, username)
}

// DeleteUser удаляет строку пароля, маркеры блокировки и членство в группах.
func (s *UserService) DeleteUser(ctx context.Context, username string) error {
	err := s.tx.WithinTx(ctx, func(store *repository.Store) error {
		if err := store.Users.Delete(ctx, username); err != nil {
			return err
		}
		if _, err := store.Users.Unsuspend(ctx, username); err != nil {
			return err
		}
		_, err := store.Memberships.RemoveAll(ctx, username)
		return err
	})
	if err != nil {
		return mapRepoError(err)
	}
	s.stats.Invalidate()

	s.logger.Info("Пользователь удалён", slog.String("username", username))
	return nil
}

// stepError — ошибка конкретного шага составного обновления.
type stepError struct {
	field string
	err   error
}

// currentTx — Transactor, выполняющий fn в уже открытой транзакции.
type currentTx struct {
	store *repository.Store
}

func (t currentTx) WithinTx(_ context.Context, fn func(store *repository.Store) error) error {
	return fn(t.store)
}

// applyUpdate выполняет шаги обновления над store; шаг групп выполняется
// через groupsTx. Возвращает список применённых полей и ошибку первого
// неудачного шага, переведённую в ошибки сервиса.
func (s *UserService) applyUpdate(
	ctx context.Context,
	store *repository.Store,
	groupsTx repository.Transactor,
	current *model.RadUser,
	upd UserUpdate,
) ([]string, *stepError) {
	var applied []string

	if upd.Password != nil && *upd.Password != current.Password {
		if err := s.changePassword(ctx, store, current.Username, *upd.Password); err != nil {
			userFieldUpdatesTotal.WithLabelValues(FieldPassword, "error").Inc()
			return applied, &stepError{field: FieldPassword, err: mapRepoError(err)}
		}
		userFieldUpdatesTotal.WithLabelValues(FieldPassword, "ok").Inc()
		applied = append(applied, FieldPassword)
	}

	if upd.IsSuspended != nil {
		if err := s.toggleSuspended(ctx, store, current.Username, *upd.IsSuspended); err != nil {
			userFieldUpdatesTotal.WithLabelValues(FieldIsSuspended, "error").Inc()
			return applied, &stepError{field: FieldIsSuspended, err: mapRepoError(err)}
		}
		userFieldUpdatesTotal.WithLabelValues(FieldIsSuspended, "ok").Inc()
		applied = append(applied, FieldIsSuspended)
	}

	if upd.Groups != nil {
		err := groupsTx.WithinTx(ctx, func(store *repository.Store) error {
			return s.changeGroups(ctx, store, current.Username, *upd.Groups)
		})
		if err != nil {
			userFieldUpdatesTotal.WithLabelValues(FieldGroups, "error").Inc()
			return applied, &stepError{field: FieldGroups, err: mapRepoError(err)}
		}
		userFieldUpdatesTotal.WithLabelValues(FieldGroups, "ok").Inc()
		applied = append(applied, FieldGroups)
	}

	return applied, nil
}

func (s *UserService) changePassword(ctx context.Context, store *repository.Store, username, password string) error {
	if err := store.Users.SetPassword(ctx, username, password); err != nil {
		return err
	}
	s.logger.Debug("Пароль изменён", slog.String("username", username))
	return nil
}

func (s *UserService) toggleSuspended(ctx context.Context, store *repository.Store, username string, suspended bool) error {
	if suspended {
		created, err := store.Users.Suspend(ctx, username)
		if err != nil {
			return err
		}
		s.logger.Debug("Пользователь заблокирован",
			slog.String("username", username),
			slog.Bool("marker_created", created),
		)
		return nil
	}

	removed, err := store.Users.Unsuspend(ctx, username)
	if err != nil {
		return err
	}
	if removed > 1 {
		s.logger.Warn("Удалено несколько маркеров блокировки",
			slog.String("username", username),
			slog.Int("removed", removed),
		)
	}
	return nil
}

func (s *UserService) changeGroups(ctx context.Context, store *repository.Store, username string, groups []string) error {
	current, err := store.Memberships.ListGroups(ctx, username)
	if err != nil {
		return err
	}

	toAdd, toRemove := diffGroups(current, groups)
	if len(toAdd) == 0 && len(toRemove) == 0 {
		return nil
	}

	if _, err := store.Memberships.Remove(ctx, username, toRemove); err != nil {
		return err
	}
	if err := store.Memberships.Add(ctx, username, toAdd); err != nil {
		return err
	}

	s.logger.Debug("Группы пользователя изменены",
		slog.String("username", username),
		slog.Any("added", toAdd),
		slog.Any("removed", toRemove),
	)
	return nil
}

// diffGroups вычисляет разность наборов групп. toAdd сохраняет порядок desired,
// toRemove — порядок current. Группы, присутствующие в обоих наборах, не трогаются.
func diffGroups(current, desired []string) (toAdd, toRemove []string) {
	want := normalizeGroups(desired)

	have := make(map[string]bool, len(current))
	for _, g := range current {
		have[g] = true
	}
	keep := make(map[string]bool, len(want))
	for _, g := range want {
		keep[g] = true
		if !have[g] {
			toAdd = append(toAdd, g)
		}
	}
	removed := make(map[string]bool)
	for _, g := range current {
		if !keep[g] && !removed[g] {
			removed[g] = true
			toRemove = append(toRemove, g)
		}
	}
	return toAdd, toRemove
}

// normalizeGroups убирает пустые имена и дубликаты, сохраняя порядок.
func normalizeGroups(groups []string) []string {
	seen := make(map[string]bool, len(groups))
	result := make([]string, 0, len(groups))
	for _, g := range groups {
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		result = append(result, g)
	}
	return result
}
