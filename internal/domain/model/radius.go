// Пакет model — доменные модели radadmin поверх схемы FreeRADIUS.
package model

// Константы атрибутов и операторов FreeRADIUS, используемые доменным слоем.
const (
	AttrUserPassword    = "User-Password"
	AttrAuthType        = "Auth-Type"
	AttrSimultaneousUse = "Simultaneous-Use"

	// OpSet — оператор ":=" (установить значение, заменив существующее).
	OpSet = ":="

	// AuthTypeReject — значение Auth-Type, при котором FreeRADIUS отклоняет пользователя.
	AuthTypeReject = "Reject"
)

// RowKind — назначение строки в таблицах check-атрибутов.
// Одна физическая таблица хранит несколько видов строк, различаемых
// тройкой (attribute, op[, value]). Репозитории строят по RowKind
// условия отбора и значения вставляемых строк.
type RowKind int

const (
	// RowPassword — пароль пользователя в radcheck.
	RowPassword RowKind = iota + 1
	// RowSuspendMarker — маркер блокировки пользователя в radcheck.
	RowSuspendMarker
	// RowSimultaneousUse — лимит одновременных сессий группы в radgroupcheck.
	RowSimultaneousUse
)

// String возвращает имя вида строки для логов.
func (k RowKind) String() string {
	switch k {
	case RowPassword:
		return "password"
	case RowSuspendMarker:
		return "suspend_marker"
	case RowSimultaneousUse:
		return "simultaneous_use"
	default:
		return "unknown"
	}
}

// Attribute возвращает имя RADIUS-атрибута строки.
func (k RowKind) Attribute() string {
	switch k {
	case RowPassword:
		return AttrUserPassword
	case RowSuspendMarker:
		return AttrAuthType
	case RowSimultaneousUse:
		return AttrSimultaneousUse
	default:
		return ""
	}
}

// Op возвращает оператор строки. Все виды строк используют ":=".
func (k RowKind) Op() string {
	return OpSet
}

// FixedValue возвращает значение, являющееся частью ключа строки.
// Только маркер блокировки имеет фиксированное значение.
func (k RowKind) FixedValue() (string, bool) {
	if k == RowSuspendMarker {
		return AuthTypeReject, true
	}
	return "", false
}

// UserGroupRow — строка таблицы radusergroup (членство пользователя в группе).
type UserGroupRow struct {
	ID        int64
	Username  string
	Groupname string
	// Priority — порядок обработки групп FreeRADIUS (по возрастанию)
	Priority int
}

// RadUser — пользователь RADIUS.
// Не хранится отдельной записью — собирается из строки пароля в radcheck,
// наличия маркера блокировки и строк radusergroup.
type RadUser struct {
	// ID — идентификатор строки пароля в radcheck
	ID int64
	// Username — имя пользователя (ключ)
	Username string
	// Password — значение строки User-Password
	Password string
	// IsSuspended — существует ли маркер Auth-Type := Reject
	IsSuspended bool
	// Groups — группы по возрастанию priority; nil, если не загружались
	Groups []string
}

// RadGroup — группа RADIUS.
// Существует, пока на неё ссылается radusergroup или radgroupcheck.
type RadGroup struct {
	// Name — имя группы (ключ)
	Name string
	// SimultaneousUse — лимит одновременных сессий, nil если не задан
	SimultaneousUse *int
	// UserCount — количество различных пользователей в группе
	UserCount int
}

// UserSummary — агрегированные счётчики пользователей.
type UserSummary struct {
	// Total — различные username со строкой пароля
	Total int
	// Suspended — различные username с маркером блокировки и строкой пароля
	Suspended int
	// Active — Total − Suspended
	Active int
}
