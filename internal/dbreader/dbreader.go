// Package dbreader implements the Database Reader (spec.md §4.5): a
// read-only path over the application's on-disk SQLite store, answering
// list/get/search operations without touching the running app. Query and
// null-handling style is grounded on the teacher's sync.Syncer.getTask —
// the same manual sql.NullInt64/sql.NullString-to-pointer conversion, the
// same explicit UTC Unix-timestamp decoding — adapted here from the
// teacher's own custom cache schema to a schema modeled on Things' real
// Core Data-backed store (TMTask/TMArea/TMTag, Z-prefixed columns,
// Core Data reference dates measured in seconds since 2001-01-01) so
// reads exercise the genuine on-disk shape rather than an invented one.
package dbreader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/thingsmcp/bridge/internal/errcode"
	"github.com/thingsmcp/bridge/internal/model"
)

// coreDataEpoch is 2001-01-01T00:00:00Z, the reference date Core Data (and
// therefore Things' ZxxxDATE columns) measures every timestamp from.
var coreDataEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

func fromCoreDataSeconds(v sql.NullFloat64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := coreDataEpoch.Add(time.Duration(v.Float64) * time.Second)
	return &t
}

// Reader opens a Things SQLite store read-only. Open reports a locked,
// absent, or schema-mismatched file via errcode.BackendUnavailable; a query
// that fails afterwards is reported via errcode.BackendError.
type Reader struct {
	db *sql.DB
}

// Open opens path read-only (mode=ro) and verifies the expected schema is
// present.
func Open(path string) (*Reader, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&immutable=0", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errcode.Wrap(errcode.BackendUnavailable, "opening Things database", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errcode.Wrap(errcode.BackendUnavailable, "Things database is locked or absent", err)
	}
	r := &Reader{db: db}
	if err := r.checkSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) checkSchema() error {
	row := r.db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='TMTask'`)
	var name string
	if err := row.Scan(&name); err != nil {
		return errcode.Wrap(errcode.BackendUnavailable, "Things database schema mismatch", err)
	}
	return nil
}

// Close releases the underlying connection.
func (r *Reader) Close() error { return r.db.Close() }

const todoColumns = `
	Z_PK, ZUUID, ZTITLE, ZNOTES, ZSTATUS,
	ZCREATIONDATE, ZMODIFICATIONDATE, ZDUEDATE, ZSTARTDATE,
	ZSTOPDATE, ZCANCELLATIONDATE, ZPROJECT, ZAREA, ZHEADING, ZREMINDERTIME`

// ZTYPE on TMTask distinguishes a plain to-do (0) from a project (1) from a
// heading (2) — the same table backs all three in Things' real schema.
const (
	taskTypeTodo    = 0
	taskTypeProject = 1
)

func (r *Reader) scanTodo(scan func(dest ...any) error) (model.Todo, error) {
	var (
		pk                int64
		uuid              string
		title             sql.NullString
		notes             sql.NullString
		status            int
		creation          sql.NullFloat64
		modification      sql.NullFloat64
		due               sql.NullFloat64
		start             sql.NullFloat64
		stop              sql.NullFloat64
		cancellation      sql.NullFloat64
		projectPK         sql.NullInt64
		areaPK            sql.NullInt64
		headingPK         sql.NullInt64
		reminderSeconds   sql.NullFloat64
	)
	if err := scan(&pk, &uuid, &title, &notes, &status, &creation, &modification,
		&due, &start, &stop, &cancellation, &projectPK, &areaPK, &headingPK, &reminderSeconds); err != nil {
		return model.Todo{}, err
	}

	t := model.Todo{
		ID:     uuid,
		Title:  title.String,
		Notes:  notes.String,
		Status: model.Status(status),
	}
	if ts := fromCoreDataSeconds(creation); ts != nil {
		t.CreationTime = *ts
	}
	if ts := fromCoreDataSeconds(modification); ts != nil {
		t.ModificationTime = *ts
	}
	t.DueDate = fromCoreDataSeconds(due)
	t.ActivationDate = fromCoreDataSeconds(start)
	if status == int(model.StatusCompleted) {
		t.CompletionTime = fromCoreDataSeconds(stop)
	}
	if status == int(model.StatusCanceled) {
		t.CancellationTime = fromCoreDataSeconds(stop)
		_ = cancellation // Things stores both under ZSTOPDATE; ZCANCELLATIONDATE is legacy/unused in modern stores
	}
	if projectPK.Valid {
		t.ProjectID = fmt.Sprintf("%d", projectPK.Int64)
	}
	if areaPK.Valid {
		t.AreaID = fmt.Sprintf("%d", areaPK.Int64)
	}
	if headingPK.Valid {
		t.HeadingID = fmt.Sprintf("%d", headingPK.Int64)
	}
	if reminderSeconds.Valid {
		offset := time.Duration(reminderSeconds.Float64) * time.Second
		t.ReminderTime = fmt.Sprintf("%02d:%02d", int(offset.Hours()), int(offset.Minutes())%60)
	}
	return t, nil
}

// GetByID fetches a single Todo by its uuid.
func (r *Reader) GetByID(ctx context.Context, id string) (model.Todo, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+todoColumns+` FROM TMTask WHERE ZUUID = ?`, id)
	t, err := r.scanTodo(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Todo{}, errcode.New(errcode.NotFound, fmt.Sprintf("no todo with id %q", id))
	}
	if err != nil {
		return model.Todo{}, errcode.Wrap(errcode.BackendError, "reading todo", err)
	}
	t.Tags, err = r.tagsForTodo(ctx, id)
	if err != nil {
		return model.Todo{}, err
	}
	return t, nil
}

// Start-bucket values on TMTask.ZSTART, Things' real on-disk encoding of
// which of the inbox/anytime/someday shelves a todo sits on.
const (
	startInbox   = 0
	startAnytime = 1
	startSomeday = 2
)

// listPredicate returns the extra WHERE clause (and its bound args) that
// restricts a todo query to list's membership. Things' built-in lists are a
// start-bucket (ZSTART) plus start-date (ZSTARTDATE) concern rather than a
// stored list id — see _examples/other_examples/c822134d_moonD4rk-things3__interfaces.go.go's
// StartFilterBuilder (Inbox/Anytime/Someday) and DateFilterBuilder.StartDate:
// inbox/someday are plain ZSTART buckets, while the anytime bucket
// (ZSTART = startAnytime) further splits into anytime/today/upcoming on
// whether ZSTARTDATE is unset, due, or still in the future. list == ""
// (get_todos) and list == ListLogbook/ListTrash (handled via the
// trashed/status arguments) add no further restriction here.
func listPredicate(list model.BuiltinList, now time.Time) (string, []any) {
	nowSeconds := now.Sub(coreDataEpoch).Seconds()
	switch list {
	case model.ListInbox:
		return ` AND ZSTART = ?`, []any{startInbox}
	case model.ListSomeday:
		return ` AND ZSTART = ?`, []any{startSomeday}
	case model.ListAnytime:
		return ` AND ZSTART = ? AND ZSTARTDATE IS NULL`, []any{startAnytime}
	case model.ListToday:
		return ` AND ZSTART = ? AND ZSTARTDATE IS NOT NULL AND ZSTARTDATE <= ?`, []any{startAnytime, nowSeconds}
	case model.ListUpcoming:
		return ` AND ZSTART = ? AND ZSTARTDATE IS NOT NULL AND ZSTARTDATE > ?`, []any{startAnytime, nowSeconds}
	default:
		return "", nil
	}
}

// ListByStatus lists todos filtered by built-in list membership and status
// (status < 0 means "any"), bounded by limit (0 returns an empty slice, per
// validate.Limit semantics). list == "" answers the unrestricted get_todos
// view; model.ListTrash flips the trashed predicate instead of using
// ZSTART/ZSTARTDATE, since trash is a disposition, not a shelf.
func (r *Reader) ListByStatus(ctx context.Context, list model.BuiltinList, status int, limit int) ([]model.Todo, error) {
	if limit == 0 {
		return nil, nil
	}
	trashed := 0
	if list == model.ListTrash {
		trashed = 1
	}
	q := `SELECT ` + todoColumns + ` FROM TMTask WHERE ZTRASHED = ? AND ZTYPE = ?`
	args := []any{trashed, taskTypeTodo}
	if status >= 0 {
		q += ` AND ZSTATUS = ?`
		args = append(args, status)
	}
	clause, clauseArgs := listPredicate(list, time.Now())
	q += clause
	args = append(args, clauseArgs...)
	q += ` ORDER BY ZMODIFICATIONDATE DESC LIMIT ?`
	args = append(args, limit)

	return r.queryTodos(ctx, q, args...)
}

// Search performs a LIKE-based full-text search over title and notes.
// Things' real store has no FTS index on these columns in every version,
// so this degrades gracefully to a LIKE scan rather than requiring FTS5.
func (r *Reader) Search(ctx context.Context, query string, limit int) ([]model.Todo, error) {
	if limit == 0 {
		return nil, nil
	}
	like := "%" + escapeLike(query) + "%"
	q := `SELECT ` + todoColumns + ` FROM TMTask
		WHERE ZTRASHED = 0 AND ZTYPE = 0 AND (ZTITLE LIKE ? ESCAPE '\' OR ZNOTES LIKE ? ESCAPE '\')
		ORDER BY ZMODIFICATIONDATE DESC LIMIT ?`
	return r.queryTodos(ctx, q, like, like, limit)
}

// ListTags returns every known tag name, optionally with item counts.
func (r *Reader) ListTags(ctx context.Context, withCounts bool) ([]model.Tag, error) {
	q := `SELECT ZTITLE, ZSHORTCUT FROM TMTag ORDER BY ZTITLE`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, errcode.Wrap(errcode.BackendError, "listing tags", err)
	}
	defer rows.Close()

	var tags []model.Tag
	for rows.Next() {
		var name string
		var shortcut sql.NullString
		if err := rows.Scan(&name, &shortcut); err != nil {
			return nil, errcode.Wrap(errcode.BackendError, "scanning tag row", err)
		}
		tag := model.Tag{Name: name, Shortcut: shortcut.String}
		if withCounts {
			tag.ItemCount, _ = r.tagItemCount(ctx, name)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func (r *Reader) tagItemCount(ctx context.Context, name string) (int, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM Z_5TAGS t
		JOIN TMTag tag ON tag.Z_PK = t.Z_13TAGS
		WHERE tag.ZTITLE = ?`, name)
	var n int
	err := row.Scan(&n)
	return n, err
}

func (r *Reader) tagsForTodo(ctx context.Context, id string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tag.ZTITLE FROM TMTask task
		JOIN Z_5TAGS jt ON jt.Z_5TASKS = task.Z_PK
		JOIN TMTag tag ON tag.Z_PK = jt.Z_13TAGS
		WHERE task.ZUUID = ?
		ORDER BY tag.ZTITLE`, id)
	if err != nil {
		return nil, errcode.Wrap(errcode.BackendError, "reading todo tags", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errcode.Wrap(errcode.BackendError, "scanning tag row", err)
		}
		tags = append(tags, name)
	}
	return tags, rows.Err()
}

func (r *Reader) queryTodos(ctx context.Context, q string, args ...any) ([]model.Todo, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errcode.Wrap(errcode.BackendError, "querying todos", err)
	}
	defer rows.Close()

	var out []model.Todo
	for rows.Next() {
		t, err := r.scanTodo(rows.Scan)
		if err != nil {
			return nil, errcode.Wrap(errcode.BackendError, "scanning todo row", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errcode.Wrap(errcode.BackendError, "iterating todo rows", err)
	}
	for i := range out {
		out[i].Tags, _ = r.tagsForTodo(ctx, out[i].ID)
	}
	return out, nil
}

// ListProjects lists project-type rows from TMTask (ZTYPE = 1).
func (r *Reader) ListProjects(ctx context.Context, limit int) ([]model.Project, error) {
	if limit == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT ZUUID, ZTITLE, ZNOTES, ZSTATUS, ZAREA FROM TMTask
		WHERE ZTRASHED = 0 AND ZTYPE = `+fmt.Sprintf("%d", taskTypeProject)+`
		ORDER BY ZMODIFICATIONDATE DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errcode.Wrap(errcode.BackendError, "listing projects", err)
	}
	defer rows.Close()

	var out []model.Project
	for rows.Next() {
		var uuid string
		var title, notes sql.NullString
		var status int
		var areaPK sql.NullInt64
		if err := rows.Scan(&uuid, &title, &notes, &status, &areaPK); err != nil {
			return nil, errcode.Wrap(errcode.BackendError, "scanning project row", err)
		}
		p := model.Project{Todo: model.Todo{ID: uuid, Title: title.String, Notes: notes.String, Status: model.Status(status)}}
		if areaPK.Valid {
			p.AreaID = fmt.Sprintf("%d", areaPK.Int64)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TaggedItems lists todos carrying the given tag name (spec.md §6.1
// get_tagged_items).
func (r *Reader) TaggedItems(ctx context.Context, tagName string, limit int) ([]model.Todo, error) {
	if limit == 0 {
		return nil, nil
	}
	q := `SELECT ` + todoColumns + ` FROM TMTask task
		JOIN Z_5TAGS jt ON jt.Z_5TASKS = task.Z_PK
		JOIN TMTag tag ON tag.Z_PK = jt.Z_13TAGS
		WHERE task.ZTRASHED = 0 AND task.ZTYPE = 0 AND tag.ZTITLE = ?
		ORDER BY task.ZMODIFICATIONDATE DESC LIMIT ?`
	return r.queryTodos(ctx, q, tagName, limit)
}

// Recent lists todos modified since the given cutoff (spec.md §6.1
// get_recent), most recently modified first.
func (r *Reader) Recent(ctx context.Context, since time.Time, limit int) ([]model.Todo, error) {
	if limit == 0 {
		return nil, nil
	}
	cutoff := since.Sub(coreDataEpoch).Seconds()
	q := `SELECT ` + todoColumns + ` FROM TMTask
		WHERE ZTRASHED = 0 AND ZTYPE = 0 AND ZMODIFICATIONDATE >= ?
		ORDER BY ZMODIFICATIONDATE DESC LIMIT ?`
	return r.queryTodos(ctx, q, cutoff, limit)
}

// SearchAdvanced combines a title/notes LIKE search with an optional status
// filter and an optional "modified since" cutoff (spec.md §6.1
// search_advanced). An empty query skips the LIKE clause so status/period
// alone can drive the query, matching testable scenario S4
// (status=completed, period=30d, no query text).
func (r *Reader) SearchAdvanced(ctx context.Context, query string, status int, since *time.Time, limit int) ([]model.Todo, error) {
	if limit == 0 {
		return nil, nil
	}
	q := `SELECT ` + todoColumns + ` FROM TMTask WHERE ZTRASHED = 0 AND ZTYPE = 0`
	var args []any
	if query != "" {
		like := "%" + escapeLike(query) + "%"
		q += ` AND (ZTITLE LIKE ? ESCAPE '\' OR ZNOTES LIKE ? ESCAPE '\')`
		args = append(args, like, like)
	}
	if status >= 0 {
		q += ` AND ZSTATUS = ?`
		args = append(args, status)
	}
	if since != nil {
		q += ` AND ZMODIFICATIONDATE >= ?`
		args = append(args, since.Sub(coreDataEpoch).Seconds())
	}
	q += ` ORDER BY ZMODIFICATIONDATE DESC LIMIT ?`
	args = append(args, limit)
	return r.queryTodos(ctx, q, args...)
}

// ListAreas lists every area.
func (r *Reader) ListAreas(ctx context.Context) ([]model.Area, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT ZUUID, ZTITLE FROM TMArea ORDER BY ZTITLE`)
	if err != nil {
		return nil, errcode.Wrap(errcode.BackendError, "listing areas", err)
	}
	defer rows.Close()

	var out []model.Area
	for rows.Next() {
		var uuid, title string
		if err := rows.Scan(&uuid, &title); err != nil {
			return nil, errcode.Wrap(errcode.BackendError, "scanning area row", err)
		}
		out = append(out, model.Area{ID: uuid, Title: title})
	}
	return out, rows.Err()
}

// ProjectExists reports whether a project with the given uuid exists and
// is not trashed (used by the Router to validate a "project:<id>"
// destination before queuing a write, spec.md testable scenario S5).
func (r *Reader) ProjectExists(ctx context.Context, id string) (bool, error) {
	return r.rowExists(ctx, `SELECT 1 FROM TMTask WHERE ZUUID = ? AND ZTYPE = ? AND ZTRASHED = 0`, id, taskTypeProject)
}

// AreaExists reports whether an area with the given uuid exists.
func (r *Reader) AreaExists(ctx context.Context, id string) (bool, error) {
	return r.rowExists(ctx, `SELECT 1 FROM TMArea WHERE ZUUID = ?`, id)
}

func (r *Reader) rowExists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errcode.Wrap(errcode.BackendError, "checking record existence", err)
	}
	return true, nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
