package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/arturkryukov/radadmin/internal/domain/model"
	"github.com/arturkryukov/radadmin/internal/repository"
)

// --- In-memory хранилище для unit-тестов ---

// checkRow — строка radcheck в памяти.
type checkRow struct {
	ID        int64
	Username  string
	Attribute string
	Op        string
	Value     string
}

// kind определяет вид строки по тем же правилам, что и SQL-условия репозитория.
func (r checkRow) kind() model.RowKind {
	for _, k := range []model.RowKind{model.RowPassword, model.RowSuspendMarker} {
		if r.Attribute != k.Attribute() || r.Op != k.Op() {
			continue
		}
		if v, ok := k.FixedValue(); ok && r.Value != v {
			continue
		}
		return k
	}
	return 0
}

// groupCheckRow — строка radgroupcheck в памяти.
type groupCheckRow struct {
	ID        int64
	Groupname string
	Attribute string
	Op        string
	Value     string
}

// memDB хранит строки radcheck, radusergroup и radgroupcheck в памяти.
// fail позволяет подменить результат метода ошибкой (ключ — имя метода).
type memDB struct {
	mu          sync.Mutex
	nextID      int64
	checks      []checkRow
	members     []model.UserGroupRow
	groupChecks []groupCheckRow
	fail        map[string]error
	calls       map[string]int
}

func newMemDB() *memDB {
	return &memDB{fail: map[string]error{}, calls: map[string]int{}}
}

// newTestStore создаёт хранилище, Store поверх него и Transactor.
func newTestStore() (*memDB, *repository.Store, *memTx) {
	db := newMemDB()
	store := &repository.Store{
		Users:       &memUsers{db: db},
		Memberships: &memMembers{db: db},
		Groups:      &memGroups{db: db},
	}
	return db, store, &memTx{db: db, store: store}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// enter блокирует db, учитывает вызов и возвращает подменённую ошибку.
func (db *memDB) enter(method string) error {
	db.mu.Lock()
	db.calls[method]++
	return db.fail[method]
}

func (db *memDB) id() int64 {
	db.nextID++
	return db.nextID
}

func (db *memDB) hasPassword(username string) bool {
	for _, r := range db.checks {
		if r.Username == username && r.kind() == model.RowPassword {
			return true
		}
	}
	return false
}

func (db *memDB) hasMarker(username string) bool {
	for _, r := range db.checks {
		if r.Username == username && r.kind() == model.RowSuspendMarker {
			return true
		}
	}
	return false
}

func (db *memDB) markerCount(username string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, r := range db.checks {
		if r.Username == username && r.kind() == model.RowSuspendMarker {
			n++
		}
	}
	return n
}

func (db *memDB) userRows(username string) []model.UserGroupRow {
	db.mu.Lock()
	defer db.mu.Unlock()
	var rows []model.UserGroupRow
	for _, r := range db.members {
		if r.Username == username {
			rows = append(rows, r)
		}
	}
	return rows
}

func (db *memDB) addMarkerRaw(username string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.checks = append(db.checks, checkRow{
		ID: db.id(), Username: username,
		Attribute: model.AttrAuthType, Op: model.OpSet, Value: model.AuthTypeReject,
	})
}

// memSnapshot — копия строк memDB для отката транзакции.
type memSnapshot struct {
	nextID      int64
	checks      []checkRow
	members     []model.UserGroupRow
	groupChecks []groupCheckRow
}

func (db *memDB) snapshot() memSnapshot {
	db.mu.Lock()
	defer db.mu.Unlock()
	return memSnapshot{
		nextID:      db.nextID,
		checks:      append([]checkRow(nil), db.checks...),
		members:     append([]model.UserGroupRow(nil), db.members...),
		groupChecks: append([]groupCheckRow(nil), db.groupChecks...),
	}
}

func (db *memDB) restore(s memSnapshot) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.nextID, db.checks, db.members, db.groupChecks = s.nextID, s.checks, s.members, s.groupChecks
}

// memTx — Transactor: при ошибке fn восстанавливает снимок состояния.
type memTx struct {
	db      *memDB
	store   *repository.Store
	commits int
	aborts  int
}

func (t *memTx) WithinTx(_ context.Context, fn func(store *repository.Store) error) error {
	snap := t.db.snapshot()
	if err := fn(t.store); err != nil {
		t.db.restore(snap)
		t.aborts++
		return err
	}
	t.commits++
	return nil
}

// --- UserRepository ---

type memUsers struct{ db *memDB }

func (r *memUsers) Create(_ context.Context, username, password string) (*model.RadUser, error) {
	db := r.db
	if err := db.enter("Users.Create"); err != nil {
		db.mu.Unlock()
		return nil, err
	}
	defer db.mu.Unlock()

	if db.hasPassword(username) {
		return nil, repository.ErrConflict
	}
	row := checkRow{ID: db.id(), Username: username, Attribute: model.AttrUserPassword, Op: model.OpSet, Value: password}
	db.checks = append(db.checks, row)
	return &model.RadUser{ID: row.ID, Username: username, Password: password, IsSuspended: db.hasMarker(username)}, nil
}

func (r *memUsers) GetOrCreate(ctx context.Context, username, password string) (*model.RadUser, bool, error) {
	u, err := r.GetByUsername(ctx, username)
	if err == nil {
		return u, false, nil
	}
	u, err = r.Create(ctx, username, password)
	if err != nil {
		return nil, false, err
	}
	return u, true, nil
}

func (r *memUsers) GetByUsername(_ context.Context, username string) (*model.RadUser, error) {
	db := r.db
	if err := db.enter("Users.GetByUsername"); err != nil {
		db.mu.Unlock()
		return nil, err
	}
	defer db.mu.Unlock()

	for _, row := range db.checks {
		if row.Username == username && row.kind() == model.RowPassword {
			return &model.RadUser{ID: row.ID, Username: username, Password: row.Value, IsSuspended: db.hasMarker(username)}, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memUsers) list(method string, suspended bool) ([]*model.RadUser, error) {
	db := r.db
	if err := db.enter(method); err != nil {
		db.mu.Unlock()
		return nil, err
	}
	defer db.mu.Unlock()

	var result []*model.RadUser
	for _, row := range db.checks {
		if row.kind() != model.RowPassword || db.hasMarker(row.Username) != suspended {
			continue
		}
		result = append(result, &model.RadUser{ID: row.ID, Username: row.Username, Password: row.Value, IsSuspended: suspended})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Username < result[j].Username })
	return result, nil
}

func (r *memUsers) ListActive(_ context.Context) ([]*model.RadUser, error) {
	return r.list("Users.ListActive", false)
}

func (r *memUsers) ListSuspended(_ context.Context) ([]*model.RadUser, error) {
	return r.list("Users.ListSuspended", true)
}

func (r *memUsers) CountSummary(_ context.Context) (*model.UserSummary, error) {
	db := r.db
	if err := db.enter("Users.CountSummary"); err != nil {
		db.mu.Unlock()
		return nil, err
	}
	defer db.mu.Unlock()

	total := map[string]bool{}
	suspended := map[string]bool{}
	for _, row := range db.checks {
		if row.kind() == model.RowPassword {
			total[row.Username] = true
			if db.hasMarker(row.Username) {
				suspended[row.Username] = true
			}
		}
	}
	return &model.UserSummary{Total: len(total), Suspended: len(suspended), Active: len(total) - len(suspended)}, nil
}

func (r *memUsers) SetPassword(_ context.Context, username, password string) error {
	db := r.db
	if err := db.enter("Users.SetPassword"); err != nil {
		db.mu.Unlock()
		return err
	}
	defer db.mu.Unlock()

	for i, row := range db.checks {
		if row.Username == username && row.kind() == model.RowPassword {
			db.checks[i].Value = password
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *memUsers) IsSuspended(_ context.Context, username string) (bool, error) {
	db := r.db
	if err := db.enter("Users.IsSuspended"); err != nil {
		db.mu.Unlock()
		return false, err
	}
	defer db.mu.Unlock()
	return db.hasMarker(username), nil
}

func (r *memUsers) Suspend(_ context.Context, username string) (bool, error) {
	db := r.db
	if err := db.enter("Users.Suspend"); err != nil {
		db.mu.Unlock()
		return false, err
	}
	defer db.mu.Unlock()

	if db.hasMarker(username) {
		return false, nil
	}
	db.checks = append(db.checks, checkRow{
		ID: db.id(), Username: username,
		Attribute: model.AttrAuthType, Op: model.OpSet, Value: model.AuthTypeReject,
	})
	return true, nil
}

func (r *memUsers) Unsuspend(_ context.Context, username string) (int, error) {
	db := r.db
	if err := db.enter("Users.Unsuspend"); err != nil {
		db.mu.Unlock()
		return 0, err
	}
	defer db.mu.Unlock()

	kept := db.checks[:0:0]
	removed := 0
	for _, row := range db.checks {
		if row.Username == username && row.kind() == model.RowSuspendMarker {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	db.checks = kept
	return removed, nil
}

func (r *memUsers) Delete(_ context.Context, username string) error {
	db := r.db
	if err := db.enter("Users.Delete"); err != nil {
		db.mu.Unlock()
		return err
	}
	defer db.mu.Unlock()

	for i, row := range db.checks {
		if row.Username == username && row.kind() == model.RowPassword {
			db.checks = append(db.checks[:i:i], db.checks[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

// --- MembershipRepository ---

type memMembers struct{ db *memDB }

func (r *memMembers) rowsOf(username string) []model.UserGroupRow {
	var rows []model.UserGroupRow
	for _, row := range r.db.members {
		if row.Username == username {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Priority != rows[j].Priority {
			return rows[i].Priority < rows[j].Priority
		}
		return rows[i].ID < rows[j].ID
	})
	return rows
}

func (r *memMembers) ListGroups(_ context.Context, username string) ([]string, error) {
	db := r.db
	if err := db.enter("Memberships.ListGroups"); err != nil {
		db.mu.Unlock()
		return nil, err
	}
	defer db.mu.Unlock()

	groups := []string{}
	for _, row := range r.rowsOf(username) {
		groups = append(groups, row.Groupname)
	}
	return groups, nil
}

func (r *memMembers) ListRows(_ context.Context, username string) ([]*model.UserGroupRow, error) {
	db := r.db
	if err := db.enter("Memberships.ListRows"); err != nil {
		db.mu.Unlock()
		return nil, err
	}
	defer db.mu.Unlock()

	var result []*model.UserGroupRow
	for _, row := range r.rowsOf(username) {
		row := row
		result = append(result, &row)
	}
	return result, nil
}

func (r *memMembers) Add(_ context.Context, username string, groups []string) error {
	db := r.db
	if err := db.enter("Memberships.Add"); err != nil {
		db.mu.Unlock()
		return err
	}
	defer db.mu.Unlock()

	maxPriority := 0
	for _, row := range r.rowsOf(username) {
		if row.Groupname != "" && contains(groups, row.Groupname) {
			return repository.ErrConflict
		}
		if row.Priority > maxPriority {
			maxPriority = row.Priority
		}
	}
	for i, g := range groups {
		db.members = append(db.members, model.UserGroupRow{
			ID: db.id(), Username: username, Groupname: g, Priority: maxPriority + i + 1,
		})
	}
	return nil
}

func (r *memMembers) Remove(_ context.Context, username string, groups []string) (int, error) {
	db := r.db
	if err := db.enter("Memberships.Remove"); err != nil {
		db.mu.Unlock()
		return 0, err
	}
	defer db.mu.Unlock()

	kept := db.members[:0:0]
	removed := 0
	for _, row := range db.members {
		if row.Username == username && contains(groups, row.Groupname) {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	db.members = kept
	return removed, nil
}

func (r *memMembers) RemoveAll(_ context.Context, username string) (int, error) {
	db := r.db
	if err := db.enter("Memberships.RemoveAll"); err != nil {
		db.mu.Unlock()
		return 0, err
	}
	defer db.mu.Unlock()

	kept := db.members[:0:0]
	removed := 0
	for _, row := range db.members {
		if row.Username == username {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	db.members = kept
	return removed, nil
}

// --- GroupRepository ---

type memGroups struct{ db *memDB }

func (r *memGroups) names() []string {
	set := map[string]bool{}
	for _, row := range r.db.members {
		set[row.Groupname] = true
	}
	for _, row := range r.db.groupChecks {
		set[row.Groupname] = true
	}
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *memGroups) Count(_ context.Context) (int, error) {
	db := r.db
	if err := db.enter("Groups.Count"); err != nil {
		db.mu.Unlock()
		return 0, err
	}
	defer db.mu.Unlock()
	return len(r.names()), nil
}

func (r *memGroups) List(_ context.Context) ([]*model.RadGroup, error) {
	db := r.db
	if err := db.enter("Groups.List"); err != nil {
		db.mu.Unlock()
		return nil, err
	}
	defer db.mu.Unlock()

	var result []*model.RadGroup
	for _, n := range r.names() {
		result = append(result, &model.RadGroup{Name: n})
	}
	return result, nil
}

func (r *memGroups) Get(_ context.Context, groupname string) (*model.RadGroup, error) {
	db := r.db
	if err := db.enter("Groups.Get"); err != nil {
		db.mu.Unlock()
		return nil, err
	}
	defer db.mu.Unlock()

	if !contains(r.names(), groupname) {
		return nil, repository.ErrNotFound
	}
	return &model.RadGroup{Name: groupname}, nil
}

func (r *memGroups) SimultaneousUse(_ context.Context, groupname string) (*int, error) {
	db := r.db
	if err := db.enter("Groups.SimultaneousUse"); err != nil {
		db.mu.Unlock()
		return nil, err
	}
	defer db.mu.Unlock()

	for _, row := range db.groupChecks {
		if row.Groupname == groupname && row.Attribute == model.AttrSimultaneousUse && row.Op == model.OpSet {
			n, err := strconv.Atoi(row.Value)
			if err != nil {
				return nil, fmt.Errorf("%w: Simultaneous-Use %q: %v", repository.ErrInvalidValue, row.Value, err)
			}
			return &n, nil
		}
	}
	return nil, nil
}

func (r *memGroups) SetSimultaneousUse(_ context.Context, groupname string, limit int) (bool, error) {
	db := r.db
	if err := db.enter("Groups.SetSimultaneousUse"); err != nil {
		db.mu.Unlock()
		return false, err
	}
	defer db.mu.Unlock()

	for i, row := range db.groupChecks {
		if row.Groupname == groupname && row.Attribute == model.AttrSimultaneousUse && row.Op == model.OpSet {
			db.groupChecks[i].Value = strconv.Itoa(limit)
			return false, nil
		}
	}
	db.groupChecks = append(db.groupChecks, groupCheckRow{
		ID: db.id(), Groupname: groupname,
		Attribute: model.AttrSimultaneousUse, Op: model.OpSet, Value: strconv.Itoa(limit),
	})
	return true, nil
}

func (r *memGroups) UserCount(_ context.Context, groupname string) (int, error) {
	db := r.db
	if err := db.enter("Groups.UserCount"); err != nil {
		db.mu.Unlock()
		return 0, err
	}
	defer db.mu.Unlock()

	users := map[string]bool{}
	for _, row := range db.members {
		if row.Groupname == groupname {
			users[row.Username] = true
		}
	}
	return len(users), nil
}

func (db *memDB) simUseRows(groupname string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, row := range db.groupChecks {
		if row.Groupname == groupname && row.Attribute == model.AttrSimultaneousUse {
			n++
		}
	}
	return n
}

func (db *memDB) addGroupCheckRaw(groupname, attribute, value string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.groupChecks = append(db.groupChecks, groupCheckRow{
		ID: db.id(), Groupname: groupname, Attribute: attribute, Op: model.OpSet, Value: value,
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
