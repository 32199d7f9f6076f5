// Package mcpadapter is the thin tool-registration layer the spec treats
// as "given" (spec.md §1 Out of scope): it names, describes, and
// type-binds every operation in spec.md §6.1 and forwards each call
// straight into internal/router, which does all the actual work. Nothing
// here decides DB vs. automation, cache vs. fresh, or queue vs. direct —
// that is entirely the Router's job.
//
// Tool registration follows the shape grounded in
// other_examples/.../harperreed-toki internal/mcp/tools.go:
// mcp.AddTool(server, &mcp.Tool{Name, Description}, handler) with a
// typed Input struct and the shared envelope.Envelope as Output, so the
// MCP SDK can derive each tool's JSON schema from Go types instead of a
// hand-written schema map.
package mcpadapter

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/thingsmcp/bridge/internal/envelope"
	"github.com/thingsmcp/bridge/internal/model"
	"github.com/thingsmcp/bridge/internal/router"
	"github.com/thingsmcp/bridge/internal/shape"
	"github.com/thingsmcp/bridge/internal/validate"
)

// Register wires every spec.md §6.1 tool onto srv, dispatching each to rt.
func Register(srv *mcp.Server, rt *router.Router) {
	registerReadTools(srv, rt)
	registerWriteTools(srv, rt)
	registerSystemTools(srv, rt)
}

func mode(raw string) shape.Mode {
	if raw == "" {
		return shape.ModeAuto
	}
	return shape.Mode(raw)
}

func ok(env envelope.Envelope) (*mcp.CallToolResult, envelope.Envelope, error) {
	return nil, env, nil
}

// --- reads -----------------------------------------------------------------

// ListInput covers every built-in-list read (get_todos, get_inbox,
// get_today, ...); the list itself is baked into the registration, not the
// input, since each is a distinct named tool (spec.md §6.1).
type ListInput struct {
	Status *string `json:"status,omitempty" jsonschema:"one of incomplete, completed, canceled; omitted means incomplete for most lists, completed for logbook"`
	Limit  *int    `json:"limit,omitempty" jsonschema:"max items to return; 0 means an explicit empty list"`
	Mode   string  `json:"mode,omitempty" jsonschema:"auto|summary|minimal|standard|detailed|raw"`
}

func registerReadTools(srv *mcp.Server, rt *router.Router) {
	registerList(srv, rt, "get_todos", "List every to-do across all lists, optionally filtered by status.", "")
	registerList(srv, rt, "get_inbox", "List to-dos in the Inbox.", model.ListInbox)
	registerList(srv, rt, "get_today", "List to-dos scheduled for Today.", model.ListToday)
	registerList(srv, rt, "get_upcoming", "List to-dos scheduled for Upcoming.", model.ListUpcoming)
	registerList(srv, rt, "get_anytime", "List to-dos in Anytime.", model.ListAnytime)
	registerList(srv, rt, "get_someday", "List to-dos in Someday.", model.ListSomeday)
	registerList(srv, rt, "get_logbook", "List completed/canceled to-dos from the Logbook.", model.ListLogbook)
	registerList(srv, rt, "get_trash", "List trashed to-dos.", model.ListTrash)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_todo_by_id",
		Description: "Fetch a single to-do by id. Set authoritative=true to bypass cache/DB and read straight from the running app, for a read that must observe a write that just completed against the same id.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in struct {
		ID            string `json:"id"`
		Authoritative bool   `json:"authoritative,omitempty"`
	}) (*mcp.CallToolResult, envelope.Envelope, error) {
		return ok(rt.GetTodoByID(ctx, in.ID, in.Authoritative))
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_projects",
		Description: "List projects.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in struct {
		Limit *int `json:"limit,omitempty"`
	}) (*mcp.CallToolResult, envelope.Envelope, error) {
		return ok(rt.GetProjects(ctx, in.Limit))
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_areas",
		Description: "List areas.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, envelope.Envelope, error) {
		return ok(rt.GetAreas(ctx))
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_tags",
		Description: "List every known tag, optionally with per-tag item counts.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in struct {
		WithCounts bool `json:"with_counts,omitempty"`
	}) (*mcp.CallToolResult, envelope.Envelope, error) {
		return ok(rt.GetTags(ctx, in.WithCounts))
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_tagged_items",
		Description: "List to-dos carrying a given tag.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in struct {
		Tag   string `json:"tag"`
		Limit *int   `json:"limit,omitempty"`
		Mode  string `json:"mode,omitempty"`
	}) (*mcp.CallToolResult, envelope.Envelope, error) {
		return ok(rt.GetTaggedItems(ctx, in.Tag, in.Limit, mode(in.Mode)))
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "search_todos",
		Description: "Full-text search over to-do titles and notes.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in struct {
		Query string `json:"query"`
		Limit int    `json:"limit,omitempty"`
		Mode  string `json:"mode,omitempty"`
	}) (*mcp.CallToolResult, envelope.Envelope, error) {
		return ok(rt.Search(ctx, in.Query, in.Limit, mode(in.Mode)))
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "search_advanced",
		Description: "Search to-dos by title/notes text, status, and/or a relative modified-within period (e.g. period=30d). Every field is optional and combinable.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in struct {
		Query  string  `json:"query,omitempty"`
		Status *string `json:"status,omitempty"`
		Period string  `json:"period,omitempty"`
		Limit  *int    `json:"limit,omitempty"`
		Mode   string  `json:"mode,omitempty"`
	}) (*mcp.CallToolResult, envelope.Envelope, error) {
		return ok(rt.SearchAdvanced(ctx, router.SearchAdvancedParams{
			Query: in.Query, Status: in.Status, Period: in.Period, Limit: in.Limit, Mode: mode(in.Mode),
		}))
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_recent",
		Description: "List to-dos modified within a relative period (e.g. period=7d), most recently modified first.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in struct {
		Period string `json:"period"`
		Limit  *int   `json:"limit,omitempty"`
		Mode   string `json:"mode,omitempty"`
	}) (*mcp.CallToolResult, envelope.Envelope, error) {
		return ok(rt.GetRecent(ctx, in.Period, in.Limit, mode(in.Mode)))
	})
}

func registerList(srv *mcp.Server, rt *router.Router, name, description string, list model.BuiltinList) {
	mcp.AddTool(srv, &mcp.Tool{
		Name:        name,
		Description: description,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in ListInput) (*mcp.CallToolResult, envelope.Envelope, error) {
		return ok(rt.List(ctx, router.ListParams{List: list, Status: in.Status, Limit: in.Limit, Mode: mode(in.Mode)}))
	})
}

// --- writes ------------------------------------------------------------

func toTags(raw any) ([]string, error) {
	return validate.Tags(raw)
}

func registerWriteTools(srv *mcp.Server, rt *router.Router) {
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "add_todo",
		Description: "Create a new to-do. tags accepts either a JSON array or a comma-separated string. when accepts today/tomorrow/yesterday/someday/anytime, YYYY-MM-DD[@HH:MM], or +Nd/+Nw/+Nm.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in struct {
		Title string `json:"title"`
		Notes string `json:"notes,omitempty"`
		Tags  any    `json:"tags,omitempty"`
		When  string `json:"when,omitempty"`
	}) (*mcp.CallToolResult, envelope.Envelope, error) {
		tags, err := toTags(in.Tags)
		if err != nil {
			return ok(envelope.FromError(err))
		}
		return ok(rt.AddTodo(ctx, router.AddTodoRequest{Title: in.Title, Notes: in.Notes, Tags: tags, When: in.When}))
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "update_todo",
		Description: "Apply a partial update to an existing to-do: title, notes, tags, and/or when. Omitted fields are left unchanged; tags, if given, replaces the full tag set.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in struct {
		ID    string  `json:"id"`
		Title *string `json:"title,omitempty"`
		Notes *string `json:"notes,omitempty"`
		Tags  any     `json:"tags,omitempty"`
		When  string  `json:"when,omitempty"`
	}) (*mcp.CallToolResult, envelope.Envelope, error) {
		var tags []string
		if in.Tags != nil {
			var err error
			tags, err = toTags(in.Tags)
			if err != nil {
				return ok(envelope.FromError(err))
			}
		}
		return ok(rt.UpdateTodo(ctx, in.ID, in.Title, in.Notes, tags, in.When))
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "delete_todo",
		Description: "Move a to-do to the Trash (Things has no hard delete via automation).",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in struct {
		ID string `json:"id"`
	}) (*mcp.CallToolResult, envelope.Envelope, error) {
		return ok(rt.DeleteTodo(ctx, in.ID))
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "add_project",
		Description: "Create a new project, optionally inside an area (area:<id>) and pre-populated with initial to-dos (newline-separated titles).",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in struct {
		Title string `json:"title"`
		Notes string `json:"notes,omitempty"`
		Tags  any    `json:"tags,omitempty"`
		Area  string `json:"area,omitempty"`
		Todos string `json:"todos,omitempty"`
		When  string `json:"when,omitempty"`
	}) (*mcp.CallToolResult, envelope.Envelope, error) {
		tags, err := toTags(in.Tags)
		if err != nil {
			return ok(envelope.FromError(err))
		}
		return ok(rt.AddProject(ctx, router.AddProjectRequest{
			Title: in.Title, Notes: in.Notes, Tags: tags, Area: in.Area,
			Todos: splitNewlines(in.Todos), When: in.When,
		}))
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "update_project",
		Description: "Apply a partial update to an existing project: title, notes, tags, and/or when.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in struct {
		ID    string  `json:"id"`
		Title *string `json:"title,omitempty"`
		Notes *string `json:"notes,omitempty"`
		Tags  any     `json:"tags,omitempty"`
		When  string  `json:"when,omitempty"`
	}) (*mcp.CallToolResult, envelope.Envelope, error) {
		var tags []string
		if in.Tags != nil {
			var err error
			tags, err = toTags(in.Tags)
			if err != nil {
				return ok(envelope.FromError(err))
			}
		}
		return ok(rt.UpdateProject(ctx, in.ID, in.Title, in.Notes, tags, in.When))
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "move_record",
		Description: "Move a to-do/project to inbox|today|anytime|someday|upcoming|logbook|project:<id>|area:<id>.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in struct {
		ID          string `json:"id"`
		Destination string `json:"destination"`
	}) (*mcp.CallToolResult, envelope.Envelope, error) {
		return ok(rt.MoveRecord(ctx, in.ID, in.Destination))
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "add_tags",
		Description: "Add tags to a to-do without touching any other field.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in struct {
		ID   string `json:"id"`
		Tags any    `json:"tags"`
	}) (*mcp.CallToolResult, envelope.Envelope, error) {
		tags, err := toTags(in.Tags)
		if err != nil {
			return ok(envelope.FromError(err))
		}
		return ok(rt.AddTags(ctx, in.ID, tags))
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "remove_tags",
		Description: "Remove tags from a to-do without touching any other field.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in struct {
		ID   string `json:"id"`
		Tags any    `json:"tags"`
	}) (*mcp.CallToolResult, envelope.Envelope, error) {
		tags, err := toTags(in.Tags)
		if err != nil {
			return ok(envelope.FromError(err))
		}
		return ok(rt.RemoveTags(ctx, in.ID, tags))
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "bulk_update_todos",
		Description: "Apply the same notes/tags/when update to many to-dos at once. todo_ids is a comma-separated id list. Reports one outcome per id; a failure on one id does not abort the others.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in struct {
		TodoIDs string `json:"todo_ids"`
		Tags    any    `json:"tags,omitempty"`
		When    string `json:"when,omitempty"`
		Notes   string `json:"notes,omitempty"`
	}) (*mcp.CallToolResult, envelope.Envelope, error) {
		tags, err := toTags(in.Tags)
		if err != nil {
			return ok(envelope.FromError(err))
		}
		var notes *string
		if in.Notes != "" {
			notes = &in.Notes
		}
		return ok(rt.BulkUpdateTodos(ctx, splitCommas(in.TodoIDs), notes, tags, in.When))
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "bulk_move_records",
		Description: "Move many to-dos/projects to the same destination at once. record_ids is a comma-separated id list.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in struct {
		RecordIDs   string `json:"record_ids"`
		Destination string `json:"destination"`
	}) (*mcp.CallToolResult, envelope.Envelope, error) {
		return ok(rt.BulkMoveRecords(ctx, splitCommas(in.RecordIDs), in.Destination))
	})
}

// --- system --------------------------------------------------------------

func registerSystemTools(srv *mcp.Server, rt *router.Router) {
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "health_check",
		Description: "Report whether the local database and automation write paths are reachable.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, envelope.Envelope, error) {
		return ok(rt.HealthCheck(ctx))
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "queue_status",
		Description: "Report the Operation Queue's current depth, running op, and recent history.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, envelope.Envelope, error) {
		return ok(rt.QueueStatus(ctx))
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "context_stats",
		Description: "Report Response Shaper mode usage (cache occupancy is not included), useful for diagnosing client context exhaustion.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, envelope.Envelope, error) {
		return ok(rt.ContextStats(ctx))
	})
}

func splitCommas(raw string) []string {
	return splitTrimmed(raw, ",")
}

func splitNewlines(raw string) []string {
	return splitTrimmed(raw, "\n")
}

func splitTrimmed(raw, sep string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || string(raw[i]) == sep {
			part := trimSpace(raw[start:i])
			if part != "" {
				out = append(out, part)
			}
			start = i + len(sep)
		}
	}
	return out
}

func trimSpace(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}
