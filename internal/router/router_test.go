package router

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/thingsmcp/bridge/internal/cache"
	"github.com/thingsmcp/bridge/internal/config"
	"github.com/thingsmcp/bridge/internal/dbreader"
	"github.com/thingsmcp/bridge/internal/envelope"
	"github.com/thingsmcp/bridge/internal/errcode"
	"github.com/thingsmcp/bridge/internal/model"
	"github.com/thingsmcp/bridge/internal/queue"
	"github.com/thingsmcp/bridge/internal/shape"
	"github.com/thingsmcp/bridge/internal/tagpolicy"
)

const routerTestSchema = `
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

// newTestRouter builds a fully wired Router over an in-memory-shaped
// sqlite fixture with no Executor configured, matching the
// automation-unavailable branch every write path must handle cleanly.
func newTestRouter(t *testing.T) *Router {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "things.sqlite")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	if _, err := db.Exec(routerTestSchema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO TMTask (Z_PK, ZUUID, ZTITLE, ZSTATUS, ZTRASHED, ZTYPE) VALUES (1, 'abc123', 'Buy milk', 0, 0, 0)`); err != nil {
		t.Fatalf("inserting row: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO TMTask (Z_PK, ZUUID, ZTITLE, ZSTATUS, ZTRASHED, ZTYPE) VALUES (2, 'real-project', 'A Project', 0, 0, 1)`); err != nil {
		t.Fatalf("inserting project row: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO TMTag (Z_PK, ZTITLE) VALUES (1, 'errands')`); err != nil {
		t.Fatalf("inserting tag: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO Z_5TAGS (Z_5TASKS, Z_13TAGS) VALUES (1, 1)`); err != nil {
		t.Fatalf("inserting junction row: %v", err)
	}

	coreDataEpoch := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	past := time.Now().Add(-24 * time.Hour).Sub(coreDataEpoch).Seconds()
	future := time.Now().Add(24 * time.Hour).Sub(coreDataEpoch).Seconds()
	if _, err := db.Exec(`INSERT INTO TMTask (Z_PK, ZUUID, ZTITLE, ZSTATUS, ZTRASHED, ZTYPE, ZSTART) VALUES (3, 'someday1', 'Learn Go', 0, 0, 0, 2)`); err != nil {
		t.Fatalf("inserting someday row: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO TMTask (Z_PK, ZUUID, ZTITLE, ZSTATUS, ZTRASHED, ZTYPE, ZSTART) VALUES (4, 'anytime1', 'Water plants', 0, 0, 0, 1)`); err != nil {
		t.Fatalf("inserting anytime row: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO TMTask (Z_PK, ZUUID, ZTITLE, ZSTATUS, ZTRASHED, ZTYPE, ZSTART, ZSTARTDATE) VALUES (5, 'today1', 'Pay rent', 0, 0, 0, 1, ?)`, past); err != nil {
		t.Fatalf("inserting today row: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO TMTask (Z_PK, ZUUID, ZTITLE, ZSTATUS, ZTRASHED, ZTYPE, ZSTART, ZSTARTDATE) VALUES (6, 'upcoming1', 'Renew passport', 0, 0, 0, 1, ?)`, future); err != nil {
		t.Fatalf("inserting upcoming row: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO TMTask (Z_PK, ZUUID, ZTITLE, ZSTATUS, ZTRASHED, ZTYPE, ZSTART) VALUES (7, 'trashed1', 'Old idea', 0, 1, 0, 0)`); err != nil {
		t.Fatalf("inserting trashed row: %v", err)
	}
	db.Close()

	reader, err := dbreader.Open(path)
	if err != nil {
		t.Fatalf("dbreader.Open() error = %v", err)
	}
	t.Cleanup(func() { reader.Close() })

	q := queue.New(queue.Config{
		MaxDepth:      10,
		MaxAttempts:   1,
		MaxWait:       time.Second,
		BackoffBase:   time.Millisecond,
		BackoffCap:    5 * time.Millisecond,
		RecentHistory: 5,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go q.Start(ctx)

	cfg := config.Default()
	now := time.Now
	return New(cfg, cache.New[any](time.Minute), reader, q,
		NewScheduler(cfg, nil, nil, now), shape.New(cfg.Shaper.MaxResponseBytes),
		tagpolicy.New(config.TagPolicyAllowAll), nil, nil, now, nil)
}

// TestMaxLimitFor confirms spec.md §4.9's stated ceilings: 500 for most
// list ops, 100 for logbook specifically (trash shares the 500 default —
// the spec names only logbook at 100).
func TestMaxLimitFor(t *testing.T) {
	t.Parallel()
	cases := []struct {
		list model.BuiltinList
		want int
	}{
		{"", 500},
		{model.ListInbox, 500},
		{model.ListToday, 500},
		{model.ListUpcoming, 500},
		{model.ListAnytime, 500},
		{model.ListSomeday, 500},
		{model.ListTrash, 500},
		{model.ListLogbook, 100},
	}
	for _, c := range cases {
		if got := maxLimitFor(c.list); got != c.want {
			t.Errorf("maxLimitFor(%q) = %d, want %d", c.list, got, c.want)
		}
	}
}

// TestList_TodayAcceptsLimitAboveLogbookCeiling confirms get_today honors
// the 500 ceiling rather than the logbook-only 100 (the inverted-cap bug).
func TestList_TodayAcceptsLimitAboveLogbookCeiling(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)
	limit := 300

	env := r.List(context.Background(), ListParams{List: model.ListToday, Limit: &limit, Mode: shape.ModeAuto})
	if !env.Success {
		t.Fatalf("List(today, limit=300) failed: %+v", env)
	}
}

// TestList_LogbookRejectsLimitAboveItsCeiling confirms get_logbook is
// capped at 100, not 500.
func TestList_LogbookRejectsLimitAboveItsCeiling(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)
	limit := 300

	env := r.List(context.Background(), ListParams{List: model.ListLogbook, Limit: &limit, Mode: shape.ModeAuto})
	if env.Success {
		t.Fatal("List(logbook, limit=300) should fail validation against the 100 ceiling")
	}
	if env.ErrorCode != string(errcode.ValidationError) {
		t.Errorf("error code = %v, want ValidationError", env.ErrorCode)
	}
}

// TestList_BuiltinListsAreDistinct confirms get_inbox/get_today/
// get_upcoming/get_anytime/get_someday no longer collapse to the same
// "all incomplete todos" query when the DB is present.
func TestList_BuiltinListsAreDistinct(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)
	ctx := context.Background()

	render := func(t *testing.T, env envelope.Envelope) string {
		t.Helper()
		b, err := json.Marshal(env.Data)
		if err != nil {
			t.Fatalf("marshaling envelope data: %v", err)
		}
		return string(b)
	}

	someday := r.List(ctx, ListParams{List: model.ListSomeday, Mode: shape.ModeAuto})
	anytime := r.List(ctx, ListParams{List: model.ListAnytime, Mode: shape.ModeAuto})
	inbox := r.List(ctx, ListParams{List: model.ListInbox, Mode: shape.ModeAuto})
	if !someday.Success || !anytime.Success || !inbox.Success {
		t.Fatalf("List() failed: someday=%+v anytime=%+v inbox=%+v", someday, anytime, inbox)
	}

	somedayJSON := render(t, someday)
	anytimeJSON := render(t, anytime)
	inboxJSON := render(t, inbox)

	if !strings.Contains(somedayJSON, "Learn Go") {
		t.Errorf("get_someday = %s, want Learn Go", somedayJSON)
	}
	if strings.Contains(somedayJSON, "Water plants") || strings.Contains(somedayJSON, "Buy milk") {
		t.Errorf("get_someday = %s, should not include anytime/inbox todos", somedayJSON)
	}
	if !strings.Contains(anytimeJSON, "Water plants") {
		t.Errorf("get_anytime = %s, want Water plants", anytimeJSON)
	}
	if strings.Contains(anytimeJSON, "Learn Go") || strings.Contains(anytimeJSON, "Pay rent") {
		t.Errorf("get_anytime = %s, should not include someday/today todos", anytimeJSON)
	}
	if !strings.Contains(inboxJSON, "Buy milk") {
		t.Errorf("get_inbox = %s, want Buy milk", inboxJSON)
	}
	if strings.Contains(inboxJSON, "Learn Go") || strings.Contains(inboxJSON, "Water plants") || strings.Contains(inboxJSON, "Old idea") {
		t.Errorf("get_inbox = %s, should not include someday/anytime/trashed todos", inboxJSON)
	}
}

// TestSearch_NoDBFallsBackToAutomationPath confirms Search no longer fails
// outright on DB unavailability (spec.md §4.5); with no Executor configured
// either, it still surfaces BackendUnavailable, but via the automation
// fallback's own "no executor" check rather than a DB-specific short-circuit.
func TestSearch_NoDBFallsBackToAutomationPath(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)
	r.DB = nil

	env := r.Search(context.Background(), "Buy", 10, shape.ModeAuto)
	if env.Success {
		t.Fatal("Search() with neither DB nor Executor should fail")
	}
	if env.ErrorCode != string(errcode.BackendUnavailable) {
		t.Errorf("error code = %v, want BackendUnavailable", env.ErrorCode)
	}
}

// TestSearchAdvanced_NoDBFallsBackToAutomationPath mirrors
// TestSearch_NoDBFallsBackToAutomationPath for search_advanced.
func TestSearchAdvanced_NoDBFallsBackToAutomationPath(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)
	r.DB = nil

	env := r.SearchAdvanced(context.Background(), SearchAdvancedParams{Query: "Buy", Mode: shape.ModeAuto})
	if env.Success {
		t.Fatal("SearchAdvanced() with neither DB nor Executor should fail")
	}
	if env.ErrorCode != string(errcode.BackendUnavailable) {
		t.Errorf("error code = %v, want BackendUnavailable", env.ErrorCode)
	}
}

func TestGetTaggedItems(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	env := r.GetTaggedItems(context.Background(), "errands", nil, shape.ModeAuto)
	if !env.Success {
		t.Fatalf("GetTaggedItems() failed: %+v", env)
	}
}

func TestGetTaggedItems_NoDB(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)
	r.DB = nil

	env := r.GetTaggedItems(context.Background(), "errands", nil, shape.ModeAuto)
	if env.Success {
		t.Fatal("GetTaggedItems() with no DB should fail")
	}
	if env.ErrorCode != string(errcode.BackendUnavailable) {
		t.Errorf("error code = %v, want BackendUnavailable", env.ErrorCode)
	}
}

func TestGetRecent(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	env := r.GetRecent(context.Background(), "7d", nil, shape.ModeAuto)
	if !env.Success {
		t.Fatalf("GetRecent() failed: %+v", env)
	}
}

func TestGetRecent_InvalidPeriod(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	env := r.GetRecent(context.Background(), "not-a-period", nil, shape.ModeAuto)
	if env.Success {
		t.Fatal("GetRecent() with a malformed period should fail validation")
	}
}

func TestSearchAdvanced(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	env := r.SearchAdvanced(context.Background(), SearchAdvancedParams{Query: "Buy", Mode: shape.ModeAuto})
	if !env.Success {
		t.Fatalf("SearchAdvanced() failed: %+v", env)
	}
}

// TestSearchAdvanced_ZeroLimitReturnsLiteralEmptyList confirms spec.md
// testable scenario S4: limit=0 yields a literal empty list in data, not a
// shaper-wrapped object and not the default limit's worth of results.
func TestSearchAdvanced_ZeroLimitReturnsLiteralEmptyList(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	zero := 0
	status := "completed"
	env := r.SearchAdvanced(context.Background(), SearchAdvancedParams{
		Status: &status, Period: "30d", Limit: &zero, Mode: shape.ModeAuto,
	})
	if !env.Success {
		t.Fatalf("SearchAdvanced() failed: %+v", env)
	}
	items, ok := env.Data.([]any)
	if !ok {
		t.Fatalf("Data = %#v (%T), want []any", env.Data, env.Data)
	}
	if len(items) != 0 {
		t.Errorf("len(items) = %d, want 0", len(items))
	}
}

func TestAddProject_NoExecutorFailsCleanly(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	env := r.AddProject(context.Background(), AddProjectRequest{Title: "New Project"})
	if env.Success {
		t.Fatal("AddProject() with no executor configured should fail")
	}
	if env.ErrorCode != string(errcode.BackendUnavailable) {
		t.Errorf("error code = %v, want BackendUnavailable", env.ErrorCode)
	}
}

// TestBulkUpdateTodos_ReportsTotalsAndPerID confirms spec.md testable
// scenario S3's envelope shape: data carries total/updated/per_id, and
// mode is reported as minimal regardless of any individual failures (no
// executor is configured here, so every id fails, but the shape itself
// must still hold).
func TestBulkUpdateTodos_ReportsTotalsAndPerID(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	env := r.BulkUpdateTodos(context.Background(), []string{"abc123", "missing-1", "missing-2"}, nil, []string{"urgent", "work"}, "today")
	if !env.Success {
		t.Fatalf("BulkUpdateTodos() envelope should report overall success even with per-id failures: %+v", env)
	}
	if env.Meta == nil || env.Meta.Mode != "minimal" {
		t.Fatalf("Meta = %+v, want mode=minimal", env.Meta)
	}
	outcome, ok := env.Data.(BulkOutcome)
	if !ok {
		t.Fatalf("Data = %#v (%T), want BulkOutcome", env.Data, env.Data)
	}
	if outcome.Total != 3 {
		t.Errorf("Total = %d, want 3", outcome.Total)
	}
	if len(outcome.PerID) != 3 {
		t.Errorf("len(PerID) = %d, want 3", len(outcome.PerID))
	}
}

func TestMoveRecord_UnknownProjectRejectedBeforeQueue(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	env := r.MoveRecord(context.Background(), "abc123", "project:BAD")
	if env.Success {
		t.Fatal("MoveRecord() to a nonexistent project should fail")
	}
	if env.ErrorCode != string(errcode.NotFound) {
		t.Errorf("error code = %v, want NotFound", env.ErrorCode)
	}
}

func TestMoveRecord_KnownProjectReachesWritePath(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	// With no Executor configured, a move to a project that does exist
	// should fail for BackendUnavailable, not NotFound — proving the
	// existence check passed and the queue was reached.
	env := r.MoveRecord(context.Background(), "abc123", "project:real-project")
	if env.Success {
		t.Fatal("MoveRecord() with no executor configured should fail")
	}
	if env.ErrorCode != string(errcode.BackendUnavailable) {
		t.Errorf("error code = %v, want BackendUnavailable", env.ErrorCode)
	}
}

func TestUpdateProject_NoExecutorFailsCleanly(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	title := "Renamed"
	env := r.UpdateProject(context.Background(), "proj1", &title, nil, nil, "")
	if env.Success {
		t.Fatal("UpdateProject() with no executor configured should fail")
	}
	if env.ErrorCode != string(errcode.BackendUnavailable) {
		t.Errorf("error code = %v, want BackendUnavailable", env.ErrorCode)
	}
}
