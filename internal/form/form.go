// Пакет form — валидация входных данных пользователя RADIUS перед передачей в сервис.
package form

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/arturkryukov/radadmin/internal/service"
)

// ErrValidation — ошибка валидации поля формы.
var ErrValidation = errors.New("ошибка валидации формы")

// Ограничения полей.
const (
	UsernameMinLen = 3
	UsernameMaxLen = 20
	PasswordMaxLen = 20
	GroupsMaxLen   = 50

	// DefaultGroups — список групп, если поле не заполнено.
	DefaultGroups = "default"
)

var (
	usernameRe = regexp.MustCompile(`^[0-9a-zA-Z.@_-]+$`)
	groupsRe   = regexp.MustCompile(`^[0-9a-zA-Z._,]+$`)
)

// RadUser — форма пользователя RADIUS.
// Groups — список групп через запятую, например "default,test".
type RadUser struct {
	Username    string
	Password    string
	IsSuspended bool
	Groups      string
}

// Validate проверяет поля и нормализует список групп: пустые элементы
// отбрасываются, пустой список заменяется на DefaultGroups.
// Ошибки всех полей объединяются; каждая оборачивает ErrValidation.
func (f *RadUser) Validate() error {
	var errs []error

	switch n := utf8.RuneCountInString(f.Username); {
	case n == 0:
		errs = append(errs, fmt.Errorf("%w: username: обязательное поле", ErrValidation))
	case n < UsernameMinLen || n > UsernameMaxLen:
		errs = append(errs, fmt.Errorf("%w: username: длина должна быть от %d до %d символов",
			ErrValidation, UsernameMinLen, UsernameMaxLen))
	case !usernameRe.MatchString(f.Username):
		errs = append(errs, fmt.Errorf("%w: username: допустимы только буквы, цифры и .@-_", ErrValidation))
	}

	if utf8.RuneCountInString(f.Password) > PasswordMaxLen {
		errs = append(errs, fmt.Errorf("%w: password: не более %d символов", ErrValidation, PasswordMaxLen))
	}

	switch {
	case f.Groups == "":
		f.Groups = DefaultGroups
	case utf8.RuneCountInString(f.Groups) > GroupsMaxLen:
		errs = append(errs, fmt.Errorf("%w: groups: не более %d символов", ErrValidation, GroupsMaxLen))
	case !groupsRe.MatchString(f.Groups):
		errs = append(errs, fmt.Errorf("%w: groups: допустимы только буквы, цифры и ._", ErrValidation))
	default:
		f.Groups = strings.Join(splitGroups(f.Groups), ",")
		if f.Groups == "" {
			f.Groups = DefaultGroups
		}
	}

	return errors.Join(errs...)
}

// GroupList возвращает группы формы списком.
func (f *RadUser) GroupList() []string {
	return splitGroups(f.Groups)
}

// Update переводит проверенную форму в изменения для UserService.Update.
// Пустой пароль означает «не менять пароль».
func (f *RadUser) Update() service.UserUpdate {
	groups := f.GroupList()
	suspended := f.IsSuspended
	upd := service.UserUpdate{IsSuspended: &suspended, Groups: &groups}
	if f.Password != "" {
		password := f.Password
		upd.Password = &password
	}
	return upd
}

func splitGroups(s string) []string {
	groups := []string{}
	for _, g := range strings.Split(s, ",") {
		if g != "" {
			groups = append(groups, g)
		}
	}
	return groups
}
