package dbreader

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/thingsmcp/bridge/internal/errcode"
	"github.com/thingsmcp/bridge/internal/model"
)

const testSchema = `
CREATE TABLE TMTask (
	Z_PK INTEGER PRIMARY KEY,
	ZUUID TEXT,
	ZTITLE TEXT,
	ZNOTES TEXT,
	ZSTATUS INTEGER,
	ZCREATIONDATE REAL,
	ZMODIFICATIONDATE REAL,
	ZDUEDATE REAL,
	ZSTARTDATE REAL,
	ZSTOPDATE REAL,
	ZCANCELLATIONDATE REAL,
	ZPROJECT INTEGER,
	ZAREA INTEGER,
	ZHEADING INTEGER,
	ZREMINDERTIME REAL,
	ZSTART INTEGER DEFAULT 0,
	ZTRASHED INTEGER DEFAULT 0,
	ZTYPE INTEGER DEFAULT 0
);
CREATE TABLE TMTag (
	Z_PK INTEGER PRIMARY KEY,
	ZTITLE TEXT,
	ZSHORTCUT TEXT
);
CREATE TABLE Z_5TAGS (
	Z_5TASKS INTEGER,
	Z_13TAGS INTEGER
);
CREATE TABLE TMArea (
	Z_PK INTEGER PRIMARY KEY,
	ZUUID TEXT,
	ZTITLE TEXT
);
`

func newTestDB(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "things.sqlite")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO TMTask (Z_PK, ZUUID, ZTITLE, ZSTATUS, ZTRASHED) VALUES (1, 'abc123', 'Buy milk', 0, 0)`); err != nil {
		t.Fatalf("inserting row: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO TMTag (Z_PK, ZTITLE) VALUES (1, 'errands')`); err != nil {
		t.Fatalf("inserting tag: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO Z_5TAGS (Z_5TASKS, Z_13TAGS) VALUES (1, 1)`); err != nil {
		t.Fatalf("inserting junction row: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO TMArea (Z_PK, ZUUID, ZTITLE) VALUES (1, 'area1', 'Personal')`); err != nil {
		t.Fatalf("inserting area: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO TMTask (Z_PK, ZUUID, ZTITLE, ZSTATUS, ZTRASHED, ZTYPE, ZAREA) VALUES (2, 'proj1', 'Website Redesign', 0, 0, 1, 1)`); err != nil {
		t.Fatalf("inserting project: %v", err)
	}

	recentSeconds := time.Now().Add(-24 * time.Hour).Sub(coreDataEpoch).Seconds()
	oldSeconds := time.Now().Add(-1000 * 24 * time.Hour).Sub(coreDataEpoch).Seconds()
	if _, err := db.Exec(`INSERT INTO TMTask (Z_PK, ZUUID, ZTITLE, ZSTATUS, ZTRASHED, ZTYPE, ZMODIFICATIONDATE) VALUES (3, 'recent1', 'Recent task', 0, 0, 0, ?)`, recentSeconds); err != nil {
		t.Fatalf("inserting recent task: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO TMTask (Z_PK, ZUUID, ZTITLE, ZSTATUS, ZTRASHED, ZTYPE, ZMODIFICATIONDATE) VALUES (4, 'old1', 'Old task', 0, 0, 0, ?)`, oldSeconds); err != nil {
		t.Fatalf("inserting old task: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO Z_5TAGS (Z_5TASKS, Z_13TAGS) VALUES (3, 1)`); err != nil {
		t.Fatalf("inserting junction row: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO TMTask (Z_PK, ZUUID, ZTITLE, ZSTATUS, ZTRASHED, ZTYPE, ZREMINDERTIME) VALUES (5, 'reminder1', 'Call', 0, 0, 0, ?)`, 14*3600+30*60); err != nil {
		t.Fatalf("inserting reminder task: %v", err)
	}

	past := time.Now().Add(-24 * time.Hour).Sub(coreDataEpoch).Seconds()
	future := time.Now().Add(24 * time.Hour).Sub(coreDataEpoch).Seconds()
	if _, err := db.Exec(`INSERT INTO TMTask (Z_PK, ZUUID, ZTITLE, ZSTATUS, ZTRASHED, ZTYPE, ZSTART) VALUES (6, 'someday1', 'Learn Go', 0, 0, 0, ?)`, startSomeday); err != nil {
		t.Fatalf("inserting someday task: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO TMTask (Z_PK, ZUUID, ZTITLE, ZSTATUS, ZTRASHED, ZTYPE, ZSTART) VALUES (7, 'anytime1', 'Water plants', 0, 0, 0, ?)`, startAnytime); err != nil {
		t.Fatalf("inserting anytime task: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO TMTask (Z_PK, ZUUID, ZTITLE, ZSTATUS, ZTRASHED, ZTYPE, ZSTART, ZSTARTDATE) VALUES (8, 'today1', 'Pay rent', 0, 0, 0, ?, ?)`, startAnytime, past); err != nil {
		t.Fatalf("inserting today task: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO TMTask (Z_PK, ZUUID, ZTITLE, ZSTATUS, ZTRASHED, ZTYPE, ZSTART, ZSTARTDATE) VALUES (9, 'upcoming1', 'Renew passport', 0, 0, 0, ?, ?)`, startAnytime, future); err != nil {
		t.Fatalf("inserting upcoming task: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO TMTask (Z_PK, ZUUID, ZTITLE, ZSTATUS, ZTRASHED, ZTYPE, ZSTART) VALUES (10, 'trashed1', 'Old idea', 0, 1, 0, ?)`, startInbox); err != nil {
		t.Fatalf("inserting trashed task: %v", err)
	}
	return path
}

func TestOpen_SchemaMismatch(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "wrong.sqlite")
	db, _ := sql.Open("sqlite", path)
	db.Exec(`CREATE TABLE unrelated (id INTEGER)`)
	db.Close()

	_, err := Open(path)
	if err == nil {
		t.Fatal("Open() should fail on schema mismatch")
	}
	if errcode.Of(err) != errcode.BackendUnavailable {
		t.Errorf("error code = %v, want BackendUnavailable", errcode.Of(err))
	}
}

func TestGetByID(t *testing.T) {
	t.Parallel()
	path := newTestDB(t)
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	todo, err := r.GetByID(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if todo.Title != "Buy milk" {
		t.Errorf("Title = %q, want %q", todo.Title, "Buy milk")
	}
	if len(todo.Tags) != 1 || todo.Tags[0] != "errands" {
		t.Errorf("Tags = %v, want [errands]", todo.Tags)
	}
}

func TestGetByID_ReminderTimeDecoded(t *testing.T) {
	t.Parallel()
	path := newTestDB(t)
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	todo, err := r.GetByID(context.Background(), "reminder1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if todo.ReminderTime != "14:30" {
		t.Errorf("ReminderTime = %q, want %q", todo.ReminderTime, "14:30")
	}
}

func TestGetByID_NotFound(t *testing.T) {
	t.Parallel()
	path := newTestDB(t)
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	_, err = r.GetByID(context.Background(), "nonexistent")
	if errcode.Of(err) != errcode.NotFound {
		t.Errorf("error code = %v, want NotFound", errcode.Of(err))
	}
}

func TestListByStatus_ZeroLimitReturnsEmpty(t *testing.T) {
	t.Parallel()
	path := newTestDB(t)
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	got, err := r.ListByStatus(context.Background(), "", 0, 0)
	if err != nil {
		t.Fatalf("ListByStatus() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d todos, want 0", len(got))
	}
}

// TestListByStatus_DistinctPerList confirms each built-in list produces a
// genuinely distinct result set instead of collapsing to "all incomplete
// todos" (the bug spec.md §6.1's five list-specific reads warn against).
func TestListByStatus_DistinctPerList(t *testing.T) {
	t.Parallel()
	path := newTestDB(t)
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()
	ctx := context.Background()

	ids := func(todos []model.Todo) []string {
		out := make([]string, len(todos))
		for i, t := range todos {
			out[i] = t.ID
		}
		return out
	}
	contains := func(ids []string, id string) bool {
		for _, v := range ids {
			if v == id {
				return true
			}
		}
		return false
	}

	someday, err := r.ListByStatus(ctx, model.ListSomeday, -1, 50)
	if err != nil {
		t.Fatalf("ListByStatus(someday) error = %v", err)
	}
	if got := ids(someday); !contains(got, "someday1") || contains(got, "anytime1") {
		t.Errorf("ListByStatus(someday) = %v, want just someday1", got)
	}

	anytime, err := r.ListByStatus(ctx, model.ListAnytime, -1, 50)
	if err != nil {
		t.Fatalf("ListByStatus(anytime) error = %v", err)
	}
	if got := ids(anytime); !contains(got, "anytime1") || contains(got, "someday1") || contains(got, "today1") {
		t.Errorf("ListByStatus(anytime) = %v, want anytime1 only (today1 has a ZSTARTDATE and belongs to today)", got)
	}

	today, err := r.ListByStatus(ctx, model.ListToday, -1, 50)
	if err != nil {
		t.Fatalf("ListByStatus(today) error = %v", err)
	}
	if got := ids(today); !contains(got, "today1") || contains(got, "upcoming1") {
		t.Errorf("ListByStatus(today) = %v, want today1 only", got)
	}

	upcoming, err := r.ListByStatus(ctx, model.ListUpcoming, -1, 50)
	if err != nil {
		t.Fatalf("ListByStatus(upcoming) error = %v", err)
	}
	if got := ids(upcoming); !contains(got, "upcoming1") || contains(got, "today1") {
		t.Errorf("ListByStatus(upcoming) = %v, want upcoming1 only", got)
	}

	inbox, err := r.ListByStatus(ctx, model.ListInbox, -1, 50)
	if err != nil {
		t.Fatalf("ListByStatus(inbox) error = %v", err)
	}
	if got := ids(inbox); contains(got, "someday1") || contains(got, "anytime1") || contains(got, "trashed1") {
		t.Errorf("ListByStatus(inbox) = %v, should exclude someday/anytime/trashed rows", got)
	}

	trash, err := r.ListByStatus(ctx, model.ListTrash, -1, 50)
	if err != nil {
		t.Fatalf("ListByStatus(trash) error = %v", err)
	}
	if got := ids(trash); !contains(got, "trashed1") || contains(got, "abc123") {
		t.Errorf("ListByStatus(trash) = %v, want trashed1 only", got)
	}
}

func TestListTags(t *testing.T) {
	t.Parallel()
	path := newTestDB(t)
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	tags, err := r.ListTags(context.Background(), true)
	if err != nil {
		t.Fatalf("ListTags() error = %v", err)
	}
	if len(tags) != 1 || tags[0].Name != "errands" || tags[0].ItemCount != 2 {
		t.Errorf("tags = %+v", tags)
	}
}

func TestListProjects(t *testing.T) {
	t.Parallel()
	path := newTestDB(t)
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	projects, err := r.ListProjects(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListProjects() error = %v", err)
	}
	if len(projects) != 1 || projects[0].Title != "Website Redesign" || projects[0].AreaID != "1" {
		t.Errorf("projects = %+v", projects)
	}
}

func TestListAreas(t *testing.T) {
	t.Parallel()
	path := newTestDB(t)
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	areas, err := r.ListAreas(context.Background())
	if err != nil {
		t.Fatalf("ListAreas() error = %v", err)
	}
	if len(areas) != 1 || areas[0].Title != "Personal" {
		t.Errorf("areas = %+v", areas)
	}
}

func TestTaggedItems(t *testing.T) {
	t.Parallel()
	path := newTestDB(t)
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	todos, err := r.TaggedItems(context.Background(), "errands", 10)
	if err != nil {
		t.Fatalf("TaggedItems() error = %v", err)
	}
	if len(todos) != 2 {
		t.Fatalf("got %d todos, want 2 (abc123 and recent1 both carry errands)", len(todos))
	}
}

func TestTaggedItems_ZeroLimitReturnsEmpty(t *testing.T) {
	t.Parallel()
	path := newTestDB(t)
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	got, err := r.TaggedItems(context.Background(), "errands", 0)
	if err != nil {
		t.Fatalf("TaggedItems() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d todos, want 0", len(got))
	}
}

func TestRecent(t *testing.T) {
	t.Parallel()
	path := newTestDB(t)
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	cutoff := time.Now().Add(-7 * 24 * time.Hour)
	todos, err := r.Recent(context.Background(), cutoff, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(todos) != 1 || todos[0].ID != "recent1" {
		t.Errorf("Recent() = %+v, want just recent1 (old1 is outside the window, abc123/Website Redesign have no modification date)", todos)
	}
}

func TestSearchAdvanced(t *testing.T) {
	t.Parallel()
	path := newTestDB(t)
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	ctx := context.Background()

	t.Run("query only", func(t *testing.T) {
		got, err := r.SearchAdvanced(ctx, "Buy", -1, nil, 10)
		if err != nil {
			t.Fatalf("SearchAdvanced() error = %v", err)
		}
		if len(got) != 1 || got[0].ID != "abc123" {
			t.Errorf("SearchAdvanced(query=Buy) = %+v", got)
		}
	})

	t.Run("status and period, no query text", func(t *testing.T) {
		cutoff := time.Now().Add(-7 * 24 * time.Hour)
		got, err := r.SearchAdvanced(ctx, "", 0, &cutoff, 10)
		if err != nil {
			t.Fatalf("SearchAdvanced() error = %v", err)
		}
		if len(got) != 1 || got[0].ID != "recent1" {
			t.Errorf("SearchAdvanced(status=0,period=7d) = %+v, want just recent1", got)
		}
	})

	t.Run("zero limit returns empty", func(t *testing.T) {
		got, err := r.SearchAdvanced(ctx, "Buy", -1, nil, 0)
		if err != nil {
			t.Fatalf("SearchAdvanced() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("got %d todos, want 0", len(got))
		}
	})
}
