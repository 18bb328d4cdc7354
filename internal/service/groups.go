// groups.go — сервис групп RADIUS: лимит одновременных сессий и счётчики.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/arturkryukov/radadmin/internal/domain/model"
	"github.com/arturkryukov/radadmin/internal/repository"
)

// GroupService — сервис групп RADIUS.
type GroupService struct {
	groups repository.GroupRepository
	stats  *StatsCache
	logger *slog.Logger
}

// NewGroupService создаёт сервис групп.
func NewGroupService(groups repository.GroupRepository, stats *StatsCache, logger *slog.Logger) *GroupService {
	return &GroupService{
		groups: groups,
		stats:  stats,
		logger: logger.With(slog.String("component", "group_service")),
	}
}

// CountGroups возвращает количество различных групп.
func (s *GroupService) CountGroups(ctx context.Context) (int, error) {
	if n, ok := s.stats.GroupCount(); ok {
		return n, nil
	}
	gen := s.stats.Generation()
	n, err := s.groups.Count(ctx)
	if err != nil {
		return 0, err
	}
	s.stats.SetGroupCount(n, gen)
	return n, nil
}

// ListGroups возвращает все группы (только имена).
func (s *GroupService) ListGroups(ctx context.Context) ([]*model.RadGroup, error) {
	return s.groups.List(ctx)
}

// GetGroup возвращает группу с лимитом сессий и количеством пользователей.
func (s *GroupService) GetGroup(ctx context.Context, groupname string) (*model.RadGroup, error) {
	g, err := s.groups.Get(ctx, groupname)
	if err != nil {
		return nil, mapRepoError(err)
	}

	if g.SimultaneousUse, err = s.SimultaneousUse(ctx, groupname); err != nil {
		return nil, fmt.Errorf("группа %q: %w", groupname, err)
	}
	if g.UserCount, err = s.groups.UserCount(ctx, groupname); err != nil {
		return nil, fmt.Errorf("группа %q: %w", groupname, err)
	}
	return g, nil
}

// SimultaneousUse возвращает лимит сессий группы или nil, если он не задан.
// Нечисловое значение, записанное внешними инструментами, считается
// незаданным лимитом.
func (s *GroupService) SimultaneousUse(ctx context.Context, groupname string) (*int, error) {
	limit, err := s.groups.SimultaneousUse(ctx, groupname)
	if errors.Is(err, repository.ErrInvalidValue) {
		s.logger.Warn("Некорректный Simultaneous-Use, лимит не учитывается",
			slog.String("group", groupname),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	return limit, err
}

// SetSimultaneousUse задаёт лимит сессий группы. Если группа ещё не
// упоминалась, строка radgroupcheck создаёт её.
func (s *GroupService) SetSimultaneousUse(ctx context.Context, groupname string, limit int) error {
	if groupname == "" {
		return fmt.Errorf("%w: пустое имя группы", ErrValidation)
	}
	if limit < 0 {
		return fmt.Errorf("%w: отрицательный Simultaneous-Use %d", ErrValidation, limit)
	}

	created, err := s.groups.SetSimultaneousUse(ctx, groupname, limit)
	if err != nil {
		return err
	}
	s.stats.Invalidate()

	s.logger.Info("Simultaneous-Use установлен",
		slog.String("group", groupname),
		slog.Int("limit", limit),
		slog.Bool("created", created),
	)
	return nil
}

// UserCount возвращает количество пользователей группы.
func (s *GroupService) UserCount(ctx context.Context, groupname string) (int, error) {
	return s.groups.UserCount(ctx, groupname)
}
