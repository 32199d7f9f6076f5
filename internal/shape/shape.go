// Package shape implements the Response Shaper (spec.md §4.11): given a
// raw Todo list and a requested mode, it produces a shaped payload under a
// per-call byte budget by cutting the item list short and returning a
// next-page cursor. It never switches to a smaller mode, and the first
// item of a page is always included even when it alone exceeds the budget.
package shape

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/thingsmcp/bridge/internal/model"
)

// Mode is one of the shaper's output granularities.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeSummary  Mode = "summary"
	ModeMinimal  Mode = "minimal"
	ModeStandard Mode = "standard"
	ModeDetailed Mode = "detailed"
	ModeRaw      Mode = "raw"
)

// approxItemBytes is the per-item byte estimate (spec.md §4.11 table),
// read only by EstimateBytes; autoMode picks by item count and truncation
// measures each rendered item with encoding/json.
var approxItemBytes = map[Mode]int{
	ModeSummary:  200,
	ModeMinimal:  50,
	ModeStandard: 1024,
	ModeDetailed: 1200,
}

// Shaped is the Response Shaper's output payload.
type Shaped struct {
	Mode       Mode  `json:"mode"`
	Items      []any `json:"items,omitempty"`
	Count      int   `json:"count,omitempty"`
	Truncated  bool  `json:"truncated,omitempty"`
	NextCursor string `json:"next_cursor,omitempty"`
	// Summary-only fields.
	StatusBreakdown map[string]int `json:"status_breakdown,omitempty"`
	Preview         []string       `json:"preview,omitempty"`
}

// Shaper holds the configured max response size.
type Shaper struct {
	MaxResponseBytes int
}

// New builds a Shaper with the given byte budget.
func New(maxResponseBytes int) *Shaper {
	return &Shaper{MaxResponseBytes: maxResponseBytes}
}

// Shape orders todos by relevance, selects a mode (resolving auto),
// renders each item, and truncates or paginates to stay under budget.
func (s *Shaper) Shape(todos []model.Todo, mode Mode, now time.Time, cursor int) Shaped {
	ordered := relevanceOrder(todos, now)

	if mode == ModeAuto || mode == "" {
		mode = autoMode(len(ordered))
	}

	if mode == ModeSummary {
		return s.shapeSummary(ordered)
	}

	start := cursor
	if start > len(ordered) {
		start = len(ordered)
	}
	page := ordered[start:]

	items := make([]any, 0, len(page))
	budget := s.MaxResponseBytes
	used := 0
	truncated := false
	nextCursor := ""

	for i, t := range page {
		rendered := render(t, mode)
		b, _ := json.Marshal(rendered)
		if budget > 0 && used+len(b) > budget && len(items) > 0 {
			truncated = true
			nextCursor = strconv.Itoa(start + i)
			break
		}
		items = append(items, rendered)
		used += len(b)
	}

	return Shaped{Mode: mode, Items: items, Count: len(items), Truncated: truncated, NextCursor: nextCursor}
}

func (s *Shaper) shapeSummary(todos []model.Todo) Shaped {
	breakdown := map[string]int{}
	for _, t := range todos {
		breakdown[t.Status.String()]++
	}
	var preview []string
	for i, t := range todos {
		if i >= 5 {
			break
		}
		preview = append(preview, t.Title)
	}
	return Shaped{Mode: ModeSummary, Count: len(todos), StatusBreakdown: breakdown, Preview: preview}
}

// autoMode picks a mode from the estimated total item count (spec.md
// §4.11: "<10 items -> detailed; <50 -> standard; <200 -> minimal; else
// summary").
func autoMode(n int) Mode {
	switch {
	case n < 10:
		return ModeDetailed
	case n < 50:
		return ModeStandard
	case n < 200:
		return ModeMinimal
	default:
		return ModeSummary
	}
}

// relevanceOrder sorts by: overdue, today, has-reminder, recently-modified,
// then insertion order (spec.md §4.11). It is a stable sort so entities
// that tie on every criterion keep their original relative order.
func relevanceOrder(todos []model.Todo, now time.Time) []model.Todo {
	out := make([]model.Todo, len(todos))
	copy(out, todos)
	rank := func(t model.Todo) int {
		switch {
		case t.DueDate != nil && t.DueDate.Before(now):
			return 0 // overdue
		case t.ActivationDate != nil && sameDay(*t.ActivationDate, now):
			return 1 // today
		case t.ReminderTime != "":
			return 2 // has reminder
		default:
			return 4
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := rank(out[i]), rank(out[j])
		if ri != rj {
			return ri < rj
		}
		if ri == 4 {
			// recently-modified before insertion order, within the
			// catch-all bucket.
			return out[i].ModificationTime.After(out[j].ModificationTime)
		}
		return false
	})
	return out
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func render(t model.Todo, mode Mode) any {
	switch mode {
	case ModeMinimal:
		return struct {
			ID     string `json:"id"`
			Title  string `json:"title"`
			Status string `json:"status"`
		}{t.ID, t.Title, t.Status.String()}

	case ModeStandard:
		return struct {
			ID        string   `json:"id"`
			Title     string   `json:"title"`
			Status    string   `json:"status"`
			Tags      []string `json:"tags,omitempty"`
			DueDate   *time.Time `json:"due_date,omitempty"`
			ProjectID string   `json:"project_id,omitempty"`
		}{t.ID, t.Title, t.Status.String(), t.Tags, t.DueDate, t.ProjectID}

	case ModeDetailed:
		return struct {
			ID               string                 `json:"id"`
			Title            string                 `json:"title"`
			Status           string                 `json:"status"`
			Tags             []string               `json:"tags,omitempty"`
			DueDate          *time.Time             `json:"due_date,omitempty"`
			ProjectID        string                 `json:"project_id,omitempty"`
			Notes            string                 `json:"notes,omitempty"`
			Checklist        []model.ChecklistItem  `json:"checklist,omitempty"`
			CreationTime     time.Time              `json:"creation_time"`
			ModificationTime time.Time              `json:"modification_time"`
		}{t.ID, t.Title, t.Status.String(), t.Tags, t.DueDate, t.ProjectID,
			t.Notes, t.Checklist, t.CreationTime, t.ModificationTime}

	default: // raw
		return t
	}
}

// use approxItemBytes so the estimate table stays referenced for callers
// that want a cheap pre-check before a full render (e.g. the Router
// deciding whether to even attempt a larger mode).
func EstimateBytes(mode Mode, count int) int {
	return approxItemBytes[mode] * count
}
