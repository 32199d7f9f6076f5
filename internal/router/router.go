// Package router implements the Router (C12) and wires every other
// component into the per-operation decision spec.md §4.12 describes:
// reads try Cache -> DB Reader -> Automation fallback; writes always go
// through the Operation Queue; bulk ops fan out with bounded concurrency.
// Every method returns an envelope.Envelope — no raw backend error ever
// escapes this package (spec.md §6.2, §7).
package router

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/thingsmcp/bridge/internal/cache"
	"github.com/thingsmcp/bridge/internal/config"
	"github.com/thingsmcp/bridge/internal/dbreader"
	"github.com/thingsmcp/bridge/internal/envelope"
	"github.com/thingsmcp/bridge/internal/errcode"
	"github.com/thingsmcp/bridge/internal/exec"
	"github.com/thingsmcp/bridge/internal/ids"
	"github.com/thingsmcp/bridge/internal/model"
	"github.com/thingsmcp/bridge/internal/parse"
	"github.com/thingsmcp/bridge/internal/queue"
	"github.com/thingsmcp/bridge/internal/scheduler"
	"github.com/thingsmcp/bridge/internal/script"
	"github.com/thingsmcp/bridge/internal/shape"
	"github.com/thingsmcp/bridge/internal/tagpolicy"
	"github.com/thingsmcp/bridge/internal/validate"
)

// Router ties every component together behind one request/response
// surface. Every dependency is constructor-injected, matching the
// teacher's Syncer wiring style — nothing here reaches for a package
// global.
type Router struct {
	Cfg       *config.Config
	Cache     *cache.Cache[any]
	DB        *dbreader.Reader // may be nil: falls back to automation-only mode
	Queue     *queue.Queue
	Scheduler *scheduler.Scheduler
	Shaper    *shape.Shaper
	TagPolicy *tagpolicy.Engine
	Executor  *exec.Executor
	Invoker   *exec.Invoker
	Now       func() time.Time
	Log       *log.Logger

	modeUsage map[shape.Mode]int
}

// New builds a Router from its fully-wired dependencies.
func New(cfg *config.Config, c *cache.Cache[any], db *dbreader.Reader, q *queue.Queue,
	sch *scheduler.Scheduler, shaper *shape.Shaper, tp *tagpolicy.Engine,
	executor *exec.Executor, invoker *exec.Invoker, now func() time.Time, logger *log.Logger) *Router {
	if logger == nil {
		logger = log.Default()
	}
	return &Router{
		Cfg: cfg, Cache: c, DB: db, Queue: q, Scheduler: sch, Shaper: shaper,
		TagPolicy: tp, Executor: executor, Invoker: invoker, Now: now, Log: logger,
		modeUsage: map[shape.Mode]int{},
	}
}

// NewScheduler builds the Scheduler the Router uses, wiring its
// script_date_object and list_move strategies to the same
// script.BuildWrite/parseWriteSentinel convention every other write in
// this package uses. Kept here, rather than duplicated at process
// start-up, since the write convention it depends on is private to this
// package.
func NewScheduler(cfg *config.Config, executor *exec.Executor, invoker *exec.Invoker, now func() time.Time) *scheduler.Scheduler {
	runScript := func(ctx context.Context, entityID, dateFragment string) error {
		if executor == nil {
			return errcode.New(errcode.BackendUnavailable, "no write path configured")
		}
		body := fmt.Sprintf("set targetTodo to (to do id %s)\n%sset activation date of targetTodo to d",
			script.FormatString(entityID), dateFragment)
		src := script.BuildWrite(body, "id of targetTodo")
		res, err := executor.Run(ctx, src, cfg.Automation.DefaultTimeout)
		if err != nil {
			return err
		}
		_, err = parseWriteSentinel(res.Stdout)
		return err
	}
	moveToList := func(ctx context.Context, entityID, list string) error {
		if executor == nil {
			return errcode.New(errcode.BackendUnavailable, "no write path configured")
		}
		body := fmt.Sprintf("set targetTodo to (to do id %s)\nmove targetTodo to list %s",
			script.FormatString(entityID), script.FormatString(list))
		src := script.BuildWrite(body, "id of targetTodo")
		res, err := executor.Run(ctx, src, cfg.Automation.DefaultTimeout)
		if err != nil {
			return err
		}
		_, err = parseWriteSentinel(res.Stdout)
		return err
	}
	return scheduler.New(invoker, invoker != nil && invoker.AuthToken != "", runScript, moveToList, now)
}

// ListParams describes one read request against a built-in list or the
// unrestricted get_todos view.
type ListParams struct {
	List   model.BuiltinList // "" means get_todos (no list restriction)
	Status *string
	Limit  *int
	Mode   shape.Mode
}

const defaultReadLimit = 50

// maxLimitFor returns the per-op ceiling validate.Limit enforces (spec.md
// §4.9: "Max 500 for most list ops, 100 for logbook").
func maxLimitFor(list model.BuiltinList) int {
	switch list {
	case model.ListLogbook:
		return 100
	default:
		return 500
	}
}

// List answers get_todos / get_inbox / get_today / ... — one method
// parameterized by built-in list, since they differ only in which status
// filter and list restriction apply (spec.md §6.1).
func (r *Router) List(ctx context.Context, p ListParams) envelope.Envelope {
	limit, err := validate.Limit(p.Limit, defaultReadLimit, maxLimitFor(p.List))
	if err != nil {
		return envelope.FromError(err)
	}
	status, err := validate.Status(p.Status)
	if err != nil {
		return envelope.FromError(err)
	}
	if p.Status == nil && p.List != model.ListLogbook {
		status = validate.StatusIncomplete
	}

	fp := cache.Fingerprint("list", fmt.Sprintf("%s|%s|%d", p.List, status, limit))
	if cached, ok := r.Cache.Get(fp); ok {
		return r.shapeTodos(cached.([]model.Todo), p.Mode, "cache")
	}

	todos, method, err := r.readTodos(ctx, p.List, status, limit)
	if err != nil {
		return envelope.FromError(err)
	}

	ttl := r.Cfg.Cache.DefaultTTL
	tags := []string{"list:" + string(orAll(p.List))}
	r.Cache.SetTTL(fp, any(todos), tags, ttl)

	return r.shapeTodos(todos, p.Mode, method)
}

func orAll(list model.BuiltinList) model.BuiltinList {
	if list == "" {
		return "all"
	}
	return list
}

// readTodos tries the DB Reader first, falling through to the automation
// path when the DB is unavailable (spec.md §4.5, §4.12).
func (r *Router) readTodos(ctx context.Context, list model.BuiltinList, status validate.StatusFilter, limit int) ([]model.Todo, string, error) {
	if r.DB != nil {
		todos, err := r.listFromDB(ctx, list, status, limit)
		if err == nil {
			return todos, "db_reader", nil
		}
		r.Log.Printf("router: db_reader unavailable, falling back to automation: %v", err)
	}
	todos, err := r.listFromAutomation(ctx, list, status, limit)
	if err != nil {
		return nil, "", err
	}
	return todos, "automation", nil
}

func (r *Router) listFromDB(ctx context.Context, list model.BuiltinList, status validate.StatusFilter, limit int) ([]model.Todo, error) {
	statusInt := -1
	switch status {
	case validate.StatusIncomplete:
		statusInt = int(model.StatusOpen)
	case validate.StatusCompleted:
		statusInt = int(model.StatusCompleted)
	case validate.StatusCanceledF:
		statusInt = int(model.StatusCanceled)
	}
	if list == model.ListLogbook && status == validate.StatusAll {
		statusInt = int(model.StatusCompleted)
	}
	return r.DB.ListByStatus(ctx, list, statusInt, limit)
}

func (r *Router) listFromAutomation(ctx context.Context, list model.BuiltinList, status validate.StatusFilter, limit int) ([]model.Todo, error) {
	if r.Executor == nil {
		return nil, errcode.New(errcode.BackendUnavailable, "no automation executor configured")
	}
	var filters []script.FieldFilter
	if status != validate.StatusAll {
		filters = append(filters, script.FieldFilter{Field: "status", Op: "is", Value: automationStatus(status)})
	}
	entity := "to dos"
	if list != "" {
		entity = fmt.Sprintf("to dos of list %s", script.FormatString(string(list)))
	}
	src := script.BuildBatchPropertyRead(entity, []string{"id", "name", "status", "tag names"}, filters, limit)
	res, err := r.Executor.Run(ctx, src, r.Cfg.Automation.DefaultTimeout)
	if err != nil {
		return nil, err
	}
	parsed := parse.Parse(res.Stdout)
	for _, w := range parsed.Warnings {
		r.Log.Printf("router: parse warning: %s", w)
	}
	return recordsToTodos(parsed.Records), nil
}

// automationStatus maps a status filter to Things' own status keyword,
// which calls an incomplete to-do "open".
func automationStatus(status validate.StatusFilter) string {
	if status == validate.StatusIncomplete {
		return "open"
	}
	return string(status)
}

func recordsToTodos(records []parse.Record) []model.Todo {
	out := make([]model.Todo, 0, len(records))
	for _, rec := range records {
		if len(rec.Fields) < 3 {
			continue
		}
		t := model.Todo{ID: rec.Fields[0], Title: rec.Fields[1]}
		switch rec.Fields[2] {
		case "completed":
			t.Status = model.StatusCompleted
		case "canceled":
			t.Status = model.StatusCanceled
		}
		if tags, ok := rec.Lists[3]; ok {
			t.Tags = tags
		}
		out = append(out, t)
	}
	return out
}

// shapeTodos renders todos through the Response Shaper and translates its
// output into the Envelope shape spec.md §6.2 defines: for every mode but
// summary, data is the item list itself (a literal [] when empty, spec.md
// testable scenario S4) with shaping metadata carried in meta, not nested
// inside data; summary mode's data is the count/breakdown/preview object
// the shaper produces, since there is no item list to hand back.
func (r *Router) shapeTodos(todos []model.Todo, mode shape.Mode, methodUsed string) envelope.Envelope {
	shaped := r.Shaper.Shape(todos, mode, r.Now(), 0)
	r.modeUsage[shaped.Mode]++
	meta := envelope.Meta{Mode: string(shaped.Mode), MethodUsed: methodUsed, Truncated: shaped.Truncated, NextCursor: shaped.NextCursor}

	if shaped.Mode == shape.ModeSummary {
		return envelope.OkWithMeta(map[string]any{
			"count":            shaped.Count,
			"status_breakdown": shaped.StatusBreakdown,
			"preview":          shaped.Preview,
		}, meta)
	}

	items := shaped.Items
	if items == nil {
		items = []any{}
	}
	return envelope.OkWithMeta(items, meta)
}

// GetTodoByID answers get_todo_by_id. authoritative forces the automation
// path, bypassing cache and DB, for reads that must observe a write that
// just completed against the same entity (spec.md §4.12).
func (r *Router) GetTodoByID(ctx context.Context, id string, authoritative bool) envelope.Envelope {
	if !authoritative && r.DB != nil {
		t, err := r.DB.GetByID(ctx, id)
		if err == nil {
			return envelope.Ok(t)
		}
		if errcode.Of(err) != errcode.NotFound {
			r.Log.Printf("router: db_reader GetByID failed, falling back to automation: %v", err)
		} else {
			return envelope.FromError(err)
		}
	}
	if r.Executor == nil {
		return envelope.Fail(errcode.BackendUnavailable, "no automation executor configured")
	}
	src := script.BuildBatchPropertyRead(
		fmt.Sprintf("to dos whose id is %s", script.FormatString(id)),
		[]string{"id", "name", "status", "tag names"}, nil, 1)
	res, err := r.Executor.Run(ctx, src, r.Cfg.Automation.DefaultTimeout)
	if err != nil {
		return envelope.FromError(err)
	}
	todos := recordsToTodos(parse.Parse(res.Stdout).Records)
	if len(todos) == 0 {
		return envelope.Fail(errcode.NotFound, fmt.Sprintf("no todo with id %q", id))
	}
	return envelope.Ok(todos[0])
}

// Search answers search_todos over title and notes.
func (r *Router) Search(ctx context.Context, query string, limit int, mode shape.Mode) envelope.Envelope {
	limit, err := validate.Limit(&limit, defaultReadLimit, 100)
	if err != nil {
		return envelope.FromError(err)
	}
	if r.DB != nil {
		todos, err := r.DB.Search(ctx, query, limit)
		if err == nil {
			return r.shapeTodos(todos, mode, "db_reader")
		}
		r.Log.Printf("router: db_reader search unavailable, falling back to automation: %v", err)
	}
	todos, err := r.searchFromAutomation(ctx, query, limit)
	if err != nil {
		return envelope.FromError(err)
	}
	return r.shapeTodos(todos, mode, "automation")
}

// searchFromAutomation answers a title search via a `whose name contains`
// batch read, the automation-path equivalent of DB.Search used when the DB
// is unavailable (spec.md §4.5, §4.12 call for graceful fallback rather
// than failure). Things' collection-query syntax only ORs within a single
// field, so this does not also match on notes the way DB.Search does.
func (r *Router) searchFromAutomation(ctx context.Context, query string, limit int) ([]model.Todo, error) {
	if r.Executor == nil {
		return nil, errcode.New(errcode.BackendUnavailable, "no automation executor configured")
	}
	filters := []script.FieldFilter{
		{Field: "name", Op: "contains", Value: script.FormatString(query)},
	}
	src := script.BuildBatchPropertyRead("to dos", []string{"id", "name", "status", "tag names"}, filters, limit)
	res, err := r.Executor.Run(ctx, src, r.Cfg.Automation.DefaultTimeout)
	if err != nil {
		return nil, err
	}
	parsed := parse.Parse(res.Stdout)
	for _, w := range parsed.Warnings {
		r.Log.Printf("router: parse warning: %s", w)
	}
	return recordsToTodos(parsed.Records), nil
}

// GetTaggedItems answers get_tagged_items: every todo carrying tagName.
func (r *Router) GetTaggedItems(ctx context.Context, tagName string, limit *int, mode shape.Mode) envelope.Envelope {
	n, err := validate.Limit(limit, defaultReadLimit, 100)
	if err != nil {
		return envelope.FromError(err)
	}
	if r.DB == nil {
		return envelope.Fail(errcode.BackendUnavailable, "tagged-item lookup requires the local database")
	}
	fp := cache.Fingerprint("get_tagged_items", fmt.Sprintf("%s|%d", tagName, n))
	if cached, ok := r.Cache.Get(fp); ok {
		return r.shapeTodos(cached.([]model.Todo), mode, "cache")
	}
	todos, err := r.DB.TaggedItems(ctx, tagName, n)
	if err != nil {
		return envelope.FromError(err)
	}
	r.Cache.SetTTL(fp, any(todos), []string{"tags:*"}, r.Cfg.Cache.DefaultTTL)
	return r.shapeTodos(todos, mode, "db_reader")
}

// GetRecent answers get_recent: todos modified within the last period
// (spec.md §4.9 period grammar), most recently modified first.
func (r *Router) GetRecent(ctx context.Context, period string, limit *int, mode shape.Mode) envelope.Envelope {
	dur, err := validate.Period(period)
	if err != nil {
		return envelope.FromError(err)
	}
	n, err := validate.Limit(limit, defaultReadLimit, 100)
	if err != nil {
		return envelope.FromError(err)
	}
	if r.DB == nil {
		return envelope.Fail(errcode.BackendUnavailable, "recent-item lookup requires the local database")
	}
	todos, err := r.DB.Recent(ctx, r.Now().Add(-dur), n)
	if err != nil {
		return envelope.FromError(err)
	}
	return r.shapeTodos(todos, mode, "db_reader")
}

// SearchAdvancedParams describes one search_advanced call: every field
// besides Limit/Mode is optional, matching testable scenario S4
// (status="completed", period="30d", limit=0, no query text).
type SearchAdvancedParams struct {
	Query  string
	Status *string
	Period string
	Limit  *int
	Mode   shape.Mode
}

// SearchAdvanced answers search_advanced: title/notes search combined with
// an optional status filter and an optional "modified within period"
// window, both pushed into the DB query rather than filtered host-side.
func (r *Router) SearchAdvanced(ctx context.Context, p SearchAdvancedParams) envelope.Envelope {
	status, err := validate.Status(p.Status)
	if err != nil {
		return envelope.FromError(err)
	}
	n, err := validate.Limit(p.Limit, defaultReadLimit, 100)
	if err != nil {
		return envelope.FromError(err)
	}
	var since *time.Time
	if p.Period != "" {
		dur, err := validate.Period(p.Period)
		if err != nil {
			return envelope.FromError(err)
		}
		t := r.Now().Add(-dur)
		since = &t
	}
	if r.DB != nil {
		statusInt := -1
		switch status {
		case validate.StatusIncomplete:
			statusInt = int(model.StatusOpen)
		case validate.StatusCompleted:
			statusInt = int(model.StatusCompleted)
		case validate.StatusCanceledF:
			statusInt = int(model.StatusCanceled)
		}
		todos, err := r.DB.SearchAdvanced(ctx, p.Query, statusInt, since, n)
		if err == nil {
			return r.shapeTodos(todos, p.Mode, "db_reader")
		}
		r.Log.Printf("router: db_reader search_advanced unavailable, falling back to automation: %v", err)
	}
	todos, err := r.searchAdvancedFromAutomation(ctx, p.Query, status, n)
	if err != nil {
		return envelope.FromError(err)
	}
	return r.shapeTodos(todos, p.Mode, "automation")
}

// searchAdvancedFromAutomation is search_advanced's automation-path
// fallback: a batch read filtered by name and, when given, status. The
// period filter has no automation-side equivalent (AppleScript exposes no
// "modified since" predicate on to-dos), so it is not applied post-DB.
func (r *Router) searchAdvancedFromAutomation(ctx context.Context, query string, status validate.StatusFilter, limit int) ([]model.Todo, error) {
	if r.Executor == nil {
		return nil, errcode.New(errcode.BackendUnavailable, "no automation executor configured")
	}
	var filters []script.FieldFilter
	if query != "" {
		filters = append(filters, script.FieldFilter{Field: "name", Op: "contains", Value: script.FormatString(query)})
	}
	if status != validate.StatusAll {
		filters = append(filters, script.FieldFilter{Field: "status", Op: "is", Value: automationStatus(status)})
	}
	src := script.BuildBatchPropertyRead("to dos", []string{"id", "name", "status", "tag names"}, filters, limit)
	res, err := r.Executor.Run(ctx, src, r.Cfg.Automation.DefaultTimeout)
	if err != nil {
		return nil, err
	}
	parsed := parse.Parse(res.Stdout)
	for _, w := range parsed.Warnings {
		r.Log.Printf("router: parse warning: %s", w)
	}
	return recordsToTodos(parsed.Records), nil
}

// GetProjects / GetAreas / GetTags round out the read surface.

func (r *Router) GetProjects(ctx context.Context, limit *int) envelope.Envelope {
	n, err := validate.Limit(limit, defaultReadLimit, 100)
	if err != nil {
		return envelope.FromError(err)
	}
	if r.DB == nil {
		return envelope.Fail(errcode.BackendUnavailable, "projects require the local database")
	}
	projects, err := r.DB.ListProjects(ctx, n)
	if err != nil {
		return envelope.FromError(err)
	}
	return envelope.Ok(projects)
}

func (r *Router) GetAreas(ctx context.Context) envelope.Envelope {
	if r.DB == nil {
		return envelope.Fail(errcode.BackendUnavailable, "areas require the local database")
	}
	areas, err := r.DB.ListAreas(ctx)
	if err != nil {
		return envelope.FromError(err)
	}
	return envelope.Ok(areas)
}

func (r *Router) GetTags(ctx context.Context, withCounts bool) envelope.Envelope {
	if r.DB == nil {
		return envelope.Fail(errcode.BackendUnavailable, "tags require the local database")
	}
	tags, err := r.DB.ListTags(ctx, withCounts)
	if err != nil {
		return envelope.FromError(err)
	}
	return envelope.Ok(tags)
}

// knownTagNames fetches the current known-tags set for the Tag Policy
// Engine; on DB unavailability it degrades to an empty known set, which
// under allow_all still succeeds (creating every tag) and under
// reject_unknown correctly rejects everything — a safe fail-closed
// default rather than silently allowing unknown tags through.
func (r *Router) knownTagNames(ctx context.Context) []string {
	if r.DB == nil {
		return nil
	}
	tags, err := r.DB.ListTags(ctx, false)
	if err != nil {
		return nil
	}
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.Name
	}
	return names
}

// AddTodoRequest is the validated input to AddTodo.
type AddTodoRequest struct {
	Title string
	Notes string
	Tags  []string
	When  string
}

// AddTodo enqueues a write that creates a new to-do. It always goes
// through the Operation Queue (spec.md §4.12) and, when a "when" is
// given, invokes the Scheduler after creation.
func (r *Router) AddTodo(ctx context.Context, req AddTodoRequest) envelope.Envelope {
	plan, err := r.TagPolicy.Apply(req.Tags, r.knownTagNames(ctx))
	if err != nil {
		return envelope.FromError(err)
	}

	result, state, err := r.Queue.Submit(ctx, queue.Request{
		Kind:     model.OpAddTodo,
		Priority: model.PriorityNormal,
		Run: func(ctx context.Context) (any, error) {
			return r.execAddTodo(ctx, req.Title, req.Notes, plan.Use)
		},
	})
	if err != nil {
		return r.queueFailureEnvelope(state, err)
	}

	newID := result.(string)
	data := map[string]any{"todo_id": newID}
	const placeholderPrefix = "pending:"
	if len(newID) > len(placeholderPrefix) && newID[:len(placeholderPrefix)] == placeholderPrefix {
		data["id_is_placeholder"] = true
	}
	env := envelope.Ok(data)

	if req.When != "" {
		sched := r.Scheduler.Schedule(ctx, newID, req.When)
		meta := envelope.Meta{MethodUsed: string(sched.MethodUsed), Reliability: sched.ReliabilityTier}
		env = env.WithMeta(meta)
		if !sched.Succeeded {
			env = env.Warn("scheduling_failed")
		} else if sched.ReminderDropped {
			env = env.Warn("reminder_unavailable")
		}
	}
	if plan.Warning != "" {
		env = env.Warn(plan.Warning)
	}

	r.Cache.InvalidateByTags([]string{"list:inbox", "list:today", "list:anytime", "tags:*"})
	return env
}

func (r *Router) execAddTodo(ctx context.Context, title, notes string, tags []string) (string, error) {
	if r.Invoker != nil {
		params := map[string]string{"title": title}
		if notes != "" {
			params["notes"] = notes
		}
		if len(tags) > 0 {
			params["tags"] = script.FormatTags(tags)
		}
		if err := r.Invoker.Invoke(ctx, "add", params); err == nil {
			return ids.Placeholder(), nil
		}
	}
	if r.Executor == nil {
		return "", errcode.New(errcode.BackendUnavailable, "no write path configured")
	}
	body := fmt.Sprintf("set newTodo to make new to do with properties {name:%s, notes:%s, tag names:%s}",
		script.FormatString(title), script.FormatString(notes), script.FormatString(script.FormatTags(tags)))
	src := script.BuildWrite(body, "id of newTodo")
	res, err := r.Executor.Run(ctx, src, r.Cfg.Automation.DefaultTimeout)
	if err != nil {
		return "", err
	}
	return parseWriteSentinel(res.Stdout)
}

// parseWriteSentinel classifies build_write's "ok:<id>" / "err:<reason>"
// stdout convention (spec.md §4.1).
func parseWriteSentinel(stdout string) (string, error) {
	const okPrefix, errPrefix = "ok:", "err:"
	trimmed := trimNewline(stdout)
	if len(trimmed) >= len(okPrefix) && trimmed[:len(okPrefix)] == okPrefix {
		return trimmed[len(okPrefix):], nil
	}
	if len(trimmed) >= len(errPrefix) && trimmed[:len(errPrefix)] == errPrefix {
		return "", errcode.New(errcode.BackendError, trimmed[len(errPrefix):])
	}
	return "", errcode.New(errcode.ParseError, "write did not return the ok/err sentinel")
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// UpdateTodo applies a partial update (title/notes/tags/when) to an
// existing todo.
func (r *Router) UpdateTodo(ctx context.Context, id string, title, notes *string, tags []string, when string) envelope.Envelope {
	plan, err := r.TagPolicy.Apply(tags, r.knownTagNames(ctx))
	if err != nil && len(tags) > 0 {
		return envelope.FromError(err)
	}

	_, state, err := r.Queue.Submit(ctx, queue.Request{
		Kind:     model.OpUpdateTodo,
		Priority: model.PriorityNormal,
		Run: func(ctx context.Context) (any, error) {
			return nil, r.execUpdateTodo(ctx, id, title, notes, plan.Use)
		},
	})
	if err != nil {
		return r.queueFailureEnvelope(state, err)
	}

	env := envelope.Ok(map[string]any{"todo_id": id})
	if when != "" {
		sched := r.Scheduler.Schedule(ctx, id, when)
		env = env.WithMeta(envelope.Meta{MethodUsed: string(sched.MethodUsed), Reliability: sched.ReliabilityTier})
		if !sched.Succeeded {
			env = env.Warn("scheduling_failed")
		} else if sched.ReminderDropped {
			env = env.Warn("reminder_unavailable")
		}
	}
	r.Cache.InvalidateByTags([]string{"entity:" + id, "list:today", "list:anytime", "tags:*"})
	return env
}

func (r *Router) execUpdateTodo(ctx context.Context, id string, title, notes *string, tags []string) error {
	if r.Executor == nil {
		return errcode.New(errcode.BackendUnavailable, "no write path configured")
	}
	var props []string
	if title != nil {
		props = append(props, fmt.Sprintf("set name of targetTodo to %s", script.FormatString(*title)))
	}
	if notes != nil {
		props = append(props, fmt.Sprintf("set notes of targetTodo to %s", script.FormatString(*notes)))
	}
	if tags != nil {
		props = append(props, fmt.Sprintf("set tag names of targetTodo to %s", script.FormatString(script.FormatTags(tags))))
	}
	body := fmt.Sprintf("set targetTodo to (to do id %s)\n%s", script.FormatString(id), joinLines(props))
	src := script.BuildWrite(body, "id of targetTodo")
	res, err := r.Executor.Run(ctx, src, r.Cfg.Automation.DefaultTimeout)
	if err != nil {
		return err
	}
	_, err = parseWriteSentinel(res.Stdout)
	return err
}

func joinLines(lines []string) string {
	out := ""
	for _, l := range lines {
		out += l + "\n"
	}
	return out
}

// AddProjectRequest is the validated input to AddProject. Todos is an
// optional set of initial to-do titles created inside the new project in
// one logical write (spec.md §6.1 add_project, testable scenario S7).
type AddProjectRequest struct {
	Title string
	Notes string
	Tags  []string
	Area  string // optional area:<id>-style ref, empty means no area
	Todos []string
	When  string
}

// AddProject enqueues a write that creates a new project, optionally
// inside an area and pre-populated with initial to-dos.
func (r *Router) AddProject(ctx context.Context, req AddProjectRequest) envelope.Envelope {
	plan, err := r.TagPolicy.Apply(req.Tags, r.knownTagNames(ctx))
	if err != nil {
		return envelope.FromError(err)
	}

	result, state, err := r.Queue.Submit(ctx, queue.Request{
		Kind:     model.OpAddProject,
		Priority: model.PriorityNormal,
		Run: func(ctx context.Context) (any, error) {
			return r.execAddProject(ctx, req.Title, req.Notes, plan.Use, req.Area, req.Todos)
		},
	})
	if err != nil {
		return r.queueFailureEnvelope(state, err)
	}

	newID := result.(string)
	env := envelope.Ok(map[string]any{"project_id": newID})

	if req.When != "" {
		sched := r.Scheduler.Schedule(ctx, newID, req.When)
		meta := envelope.Meta{MethodUsed: string(sched.MethodUsed), Reliability: sched.ReliabilityTier}
		env = env.WithMeta(meta)
		if !sched.Succeeded {
			env = env.Warn("scheduling_failed")
		} else if sched.ReminderDropped {
			env = env.Warn("reminder_unavailable")
		}
	}
	if plan.Warning != "" {
		env = env.Warn(plan.Warning)
	}

	r.Cache.InvalidateByTags([]string{"list:inbox", "list:anytime", "tags:*"})
	return env
}

func (r *Router) execAddProject(ctx context.Context, title, notes string, tags []string, area string, todoTitles []string) (string, error) {
	if r.Executor == nil {
		return "", errcode.New(errcode.BackendUnavailable, "no write path configured")
	}
	props := fmt.Sprintf("{name:%s, notes:%s, tag names:%s}",
		script.FormatString(title), script.FormatString(notes), script.FormatString(script.FormatTags(tags)))
	body := fmt.Sprintf("set newProject to make new project with properties %s", props)
	if len(area) > len("area:") && area[:len("area:")] == "area:" {
		area = area[len("area:"):]
	}
	if area != "" {
		body += fmt.Sprintf("\nmove newProject to area id %s", script.FormatString(area))
	}
	for _, todoTitle := range todoTitles {
		if todoTitle == "" {
			continue
		}
		body += fmt.Sprintf("\nmake new to do with properties {name:%s} at end of to dos of newProject", script.FormatString(todoTitle))
	}
	src := script.BuildWrite(body, "id of newProject")
	res, err := r.Executor.Run(ctx, src, r.Cfg.Automation.DefaultTimeout)
	if err != nil {
		return "", err
	}
	return parseWriteSentinel(res.Stdout)
}

// UpdateProject applies a partial update (title/notes/tags/when) to an
// existing project.
func (r *Router) UpdateProject(ctx context.Context, id string, title, notes *string, tags []string, when string) envelope.Envelope {
	plan, err := r.TagPolicy.Apply(tags, r.knownTagNames(ctx))
	if err != nil && len(tags) > 0 {
		return envelope.FromError(err)
	}

	_, state, err := r.Queue.Submit(ctx, queue.Request{
		Kind:     model.OpUpdateProject,
		Priority: model.PriorityNormal,
		Run: func(ctx context.Context) (any, error) {
			return nil, r.execUpdateProject(ctx, id, title, notes, plan.Use)
		},
	})
	if err != nil {
		return r.queueFailureEnvelope(state, err)
	}

	env := envelope.Ok(map[string]any{"project_id": id})
	if when != "" {
		sched := r.Scheduler.Schedule(ctx, id, when)
		meta := envelope.Meta{MethodUsed: string(sched.MethodUsed), Reliability: sched.ReliabilityTier}
		env = env.WithMeta(meta)
		if !sched.Succeeded {
			env = env.Warn("scheduling_failed")
		} else if sched.ReminderDropped {
			env = env.Warn("reminder_unavailable")
		}
	}
	r.Cache.InvalidateByTags([]string{"entity:" + id, "list:today", "list:anytime", "tags:*"})
	return env
}

func (r *Router) execUpdateProject(ctx context.Context, id string, title, notes *string, tags []string) error {
	if r.Executor == nil {
		return errcode.New(errcode.BackendUnavailable, "no write path configured")
	}
	var props []string
	if title != nil {
		props = append(props, fmt.Sprintf("set name of targetProject to %s", script.FormatString(*title)))
	}
	if notes != nil {
		props = append(props, fmt.Sprintf("set notes of targetProject to %s", script.FormatString(*notes)))
	}
	if tags != nil {
		props = append(props, fmt.Sprintf("set tag names of targetProject to %s", script.FormatString(script.FormatTags(tags))))
	}
	body := fmt.Sprintf("set targetProject to (project id %s)\n%s", script.FormatString(id), joinLines(props))
	src := script.BuildWrite(body, "id of targetProject")
	res, err := r.Executor.Run(ctx, src, r.Cfg.Automation.DefaultTimeout)
	if err != nil {
		return err
	}
	_, err = parseWriteSentinel(res.Stdout)
	return err
}

// DeleteTodo moves a todo to the trash (Things has no hard delete via
// automation; "delete" means trash, matching the app's own semantics).
func (r *Router) DeleteTodo(ctx context.Context, id string) envelope.Envelope {
	_, state, err := r.Queue.Submit(ctx, queue.Request{
		Kind:     model.OpDeleteTodo,
		Priority: model.PriorityNormal,
		Run: func(ctx context.Context) (any, error) {
			if r.Executor == nil {
				return nil, errcode.New(errcode.BackendUnavailable, "no write path configured")
			}
			body := fmt.Sprintf("set targetTodo to (to do id %s)\nmove targetTodo to list %s", script.FormatString(id), script.FormatString("Trash"))
			src := script.BuildWrite(body, "id of targetTodo")
			res, err := r.Executor.Run(ctx, src, r.Cfg.Automation.DefaultTimeout)
			if err != nil {
				return nil, err
			}
			return parseWriteSentinel(res.Stdout)
		},
	})
	if err != nil {
		return r.queueFailureEnvelope(state, err)
	}
	r.Cache.InvalidateByTags([]string{"entity:" + id, "list:inbox", "list:today", "list:trash"})
	return envelope.Ok(map[string]any{"todo_id": id})
}

// MoveRecord relocates a todo/project to a validated Destination. A
// project:<id>/area:<id> destination that does not exist is rejected
// before anything is queued — no backend write is attempted beyond the
// existence check itself (spec.md testable scenario S5).
func (r *Router) MoveRecord(ctx context.Context, id, destinationRaw string) envelope.Envelope {
	dest, err := validate.Destination(destinationRaw)
	if err != nil {
		return envelope.FromError(err)
	}
	if err := r.checkDestinationExists(ctx, dest); err != nil {
		return envelope.FromError(err)
	}

	_, state, err := r.Queue.Submit(ctx, queue.Request{
		Kind:     model.OpMoveRecord,
		Priority: model.PriorityNormal,
		Run: func(ctx context.Context) (any, error) {
			return nil, r.execMove(ctx, id, dest)
		},
	})
	if err != nil {
		return r.queueFailureEnvelope(state, err)
	}
	r.Cache.InvalidateByTags([]string{"entity:" + id, "list:inbox", "list:today", "list:anytime", "list:someday"})
	return envelope.Ok(map[string]any{"todo_id": id, "destination": destinationRaw})
}

// checkDestinationExists validates project:<id>/area:<id> destinations
// against the database before any write is queued. Built-in-list
// destinations need no existence check. When the database is unavailable
// the check degrades to a no-op (there is nothing authoritative to check
// against) rather than blocking every move.
func (r *Router) checkDestinationExists(ctx context.Context, dest model.Destination) error {
	if r.DB == nil {
		return nil
	}
	switch dest.Kind {
	case model.DestinationProject:
		ok, err := r.DB.ProjectExists(ctx, dest.RefID)
		if err != nil {
			return nil // DB trouble: fall through and let the write path surface it
		}
		if !ok {
			return errcode.New(errcode.NotFound, fmt.Sprintf("no project with id %q", dest.RefID))
		}
	case model.DestinationArea:
		ok, err := r.DB.AreaExists(ctx, dest.RefID)
		if err != nil {
			return nil
		}
		if !ok {
			return errcode.New(errcode.NotFound, fmt.Sprintf("no area with id %q", dest.RefID))
		}
	}
	return nil
}

func (r *Router) execMove(ctx context.Context, id string, dest model.Destination) error {
	if r.Executor == nil {
		return errcode.New(errcode.BackendUnavailable, "no write path configured")
	}
	var target string
	switch dest.Kind {
	case model.DestinationBuiltin:
		target = fmt.Sprintf("list %s", script.FormatString(string(dest.List)))
	case model.DestinationProject:
		target = fmt.Sprintf("project id %s", script.FormatString(dest.RefID))
	case model.DestinationArea:
		target = fmt.Sprintf("area id %s", script.FormatString(dest.RefID))
	}
	body := fmt.Sprintf("set targetTodo to (to do id %s)\nmove targetTodo to %s", script.FormatString(id), target)
	src := script.BuildWrite(body, "id of targetTodo")
	res, err := r.Executor.Run(ctx, src, r.Cfg.Automation.DefaultTimeout)
	if err != nil {
		return err
	}
	_, err = parseWriteSentinel(res.Stdout)
	return err
}

// AddTags / RemoveTags mutate a todo's tag set without touching any other
// field.
func (r *Router) AddTags(ctx context.Context, id string, tags []string) envelope.Envelope {
	return r.mutateTags(ctx, id, tags, true)
}

func (r *Router) RemoveTags(ctx context.Context, id string, tags []string) envelope.Envelope {
	return r.mutateTags(ctx, id, tags, false)
}

func (r *Router) mutateTags(ctx context.Context, id string, tags []string, add bool) envelope.Envelope {
	plan, err := r.TagPolicy.Apply(tags, r.knownTagNames(ctx))
	if err != nil {
		return envelope.FromError(err)
	}

	kind := model.OpAddTags
	if !add {
		kind = model.OpRemoveTags
	}
	_, state, err := r.Queue.Submit(ctx, queue.Request{
		Kind:     kind,
		Priority: model.PriorityNormal,
		Run: func(ctx context.Context) (any, error) {
			return nil, r.execMutateTags(ctx, id, plan.Use, add)
		},
	})
	if err != nil {
		return r.queueFailureEnvelope(state, err)
	}
	r.Cache.InvalidateByTags([]string{"entity:" + id, "tags:*"})
	env := envelope.Ok(map[string]any{"todo_id": id})
	if plan.Warning != "" {
		env = env.Warn(plan.Warning)
	}
	return env
}

func (r *Router) execMutateTags(ctx context.Context, id string, tags []string, add bool) error {
	if r.Executor == nil {
		return errcode.New(errcode.BackendUnavailable, "no write path configured")
	}
	op := "add"
	if !add {
		op = "remove"
	}
	body := fmt.Sprintf("set targetTodo to (to do id %s)\n%s tags %s to targetTodo", script.FormatString(id), op, script.FormatString(script.FormatTags(tags)))
	src := script.BuildWrite(body, "id of targetTodo")
	res, err := r.Executor.Run(ctx, src, r.Cfg.Automation.DefaultTimeout)
	if err != nil {
		return err
	}
	_, err = parseWriteSentinel(res.Stdout)
	return err
}

// BulkResult is one id's outcome within a bulk operation.
type BulkResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// BulkOutcome is the data payload of a bulk operation: a per-id result list
// plus the totals a caller would otherwise have to tally itself (spec.md
// §6.1 bulk_update_todos, testable scenario S3).
type BulkOutcome struct {
	Total   int           `json:"total"`
	Updated int           `json:"updated"`
	PerID   []BulkResult `json:"per_id"`
}

// BulkUpdateTodos expands into N individually queued update ops with a
// bounded in-flight concurrency (spec.md §4.12).
func (r *Router) BulkUpdateTodos(ctx context.Context, ids []string, notes *string, tags []string, when string) envelope.Envelope {
	results := make([]BulkResult, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.bulkConcurrency())

	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			env := r.UpdateTodo(gctx, id, nil, notes, tags, when)
			results[i] = BulkResult{ID: id, Success: env.Success, Error: env.Error}
			return nil // individual failures are reported per-id, not fatal to the batch
		})
	}
	_ = g.Wait()

	return envelope.OkWithMeta(bulkOutcome(results), envelope.Meta{Mode: string(shape.ModeMinimal)})
}

// BulkMoveRecords expands into N individually queued move ops.
func (r *Router) BulkMoveRecords(ctx context.Context, ids []string, destination string) envelope.Envelope {
	results := make([]BulkResult, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.bulkConcurrency())

	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			env := r.MoveRecord(gctx, id, destination)
			results[i] = BulkResult{ID: id, Success: env.Success, Error: env.Error}
			return nil
		})
	}
	_ = g.Wait()

	return envelope.OkWithMeta(bulkOutcome(results), envelope.Meta{Mode: string(shape.ModeMinimal)})
}

func bulkOutcome(results []BulkResult) BulkOutcome {
	updated := 0
	for _, r := range results {
		if r.Success {
			updated++
		}
	}
	return BulkOutcome{Total: len(results), Updated: updated, PerID: results}
}

func (r *Router) bulkConcurrency() int {
	if r.Cfg.Queue.BulkConcurrency > 0 {
		return r.Cfg.Queue.BulkConcurrency
	}
	return 5
}

func (r *Router) queueFailureEnvelope(state model.OperationState, err error) envelope.Envelope {
	env := envelope.FromError(err)
	r.Log.Printf("router: operation ended in state %s: %v", state, err)
	return env
}

// HealthCheck probes DB reachability and automation configuration
// (SPEC_FULL.md supplemented feature).
func (r *Router) HealthCheck(ctx context.Context) envelope.Envelope {
	status := map[string]any{
		"db_reachable":     r.DB != nil,
		"automation_ready": r.Executor != nil,
		"url_scheme_ready": r.Invoker != nil && r.Invoker.AuthToken != "",
	}
	return envelope.Ok(status)
}

// QueueStatus surfaces the Operation Queue's status endpoint (spec.md
// §4.7), with human-readable ages alongside the raw timestamps so a
// caller doesn't have to do its own time math to answer "how long has
// this been running".
func (r *Router) QueueStatus(ctx context.Context) envelope.Envelope {
	status := r.Queue.Inspect()
	out := map[string]any{
		"queue_depth": status.QueueDepth,
		"running":     humanizeSnapshot(status.Running),
		"recent":      humanizeSnapshots(status.Recent),
	}
	return envelope.Ok(out)
}

func humanizeSnapshots(snaps []queue.Snapshot) []map[string]any {
	out := make([]map[string]any, 0, len(snaps))
	for i := range snaps {
		out = append(out, humanizeSnapshot(&snaps[i]))
	}
	return out
}

func humanizeSnapshot(s *queue.Snapshot) map[string]any {
	if s == nil {
		return nil
	}
	m := map[string]any{
		"op_id":      s.OpID,
		"kind":       s.Kind,
		"state":      s.State,
		"attempts":   s.Attempts,
		"started_at": s.StartedAt,
		"outcome":    s.Outcome,
		"age":        humanize.Time(s.StartedAt),
	}
	if !s.FinishedAt.IsZero() {
		m["finished_at"] = s.FinishedAt
		m["duration"] = humanize.RelTime(s.StartedAt, s.FinishedAt, "", "")
	}
	return m
}

// ContextStats reports response-shaper mode usage (SPEC_FULL.md
// supplemented feature). It does not report cache occupancy.
func (r *Router) ContextStats(ctx context.Context) envelope.Envelope {
	usage := make(map[string]int, len(r.modeUsage))
	for m, n := range r.modeUsage {
		usage[string(m)] = n
	}
	return envelope.Ok(map[string]any{"shaper_mode_usage": usage})
}
