// Package scheduler implements the Scheduler (spec.md §4.8): applying a
// "when" value to a todo/project via three strategies tried in strict
// order, the first success wins, and the method used is always recorded
// so callers can observe the fallback path. Strategy-ladder shape follows
// the dispatch-by-strategy pattern in the pack's scheduler reference
// (other_examples/.../scheduler.go): try the preferred worker, record
// what actually ran, fall through on failure rather than erroring
// immediately.
package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/thingsmcp/bridge/internal/exec"
	"github.com/thingsmcp/bridge/internal/model"
	"github.com/thingsmcp/bridge/internal/script"
)

// relativeBucket values can fall back to a list-move when no dated
// strategy succeeds.
var relativeBucket = map[string]string{
	"today":   "today",
	"anytime": "anytime",
	"someday": "someday",
}

// MoveFunc performs a list-move for the "always available" last resort
// strategy; it is supplied by the Router since it composes with the
// Database Reader / automation write path that already knows how to
// relocate an entity.
type MoveFunc func(ctx context.Context, entityID, list string) error

// ScriptDateFunc runs a script that sets an entity's scheduled-date
// property via numeric properties (script.FormatDate output).
type ScriptDateFunc func(ctx context.Context, entityID string, dateFragment string) error

// Scheduler applies "when" using the URL scheme first, then a
// date-object script, then a list move.
type Scheduler struct {
	invoker    *exec.Invoker
	hasAuth    bool
	runScript  ScriptDateFunc
	moveToList MoveFunc
	now        func() time.Time
}

// New builds a Scheduler. now is injectable so relative "when" values
// resolve deterministically in tests.
func New(invoker *exec.Invoker, hasAuth bool, runScript ScriptDateFunc, moveToList MoveFunc, now func() time.Time) *Scheduler {
	return &Scheduler{invoker: invoker, hasAuth: hasAuth, runScript: runScript, moveToList: moveToList, now: now}
}

// Schedule applies when to entityID, trying url_scheme, then
// script_date_object, then list_move, in that strict order regardless of
// whether when is a calendar date or a relative bucket keyword (today,
// anytime, someday) — list_move is always the last resort, never a
// shortcut, so a plain when="today" still prefers the URL scheme's native
// parser first (spec.md §4.8, testable scenario S1). It always returns a
// ScheduleResult; a failed attempt at every strategy reports
// Succeeded=false, and the calling write still succeeds overall with a
// "scheduling_failed" warning (spec.md §4.8) — that warning is the
// caller's responsibility to attach.
func (s *Scheduler) Schedule(ctx context.Context, entityID, when string) model.ScheduleResult {
	if s.hasAuth {
		if res, ok := s.tryURLScheme(ctx, entityID, when); ok {
			return res
		}
	}

	if res, ok := s.tryScriptDateObject(ctx, entityID, when); ok {
		return res
	}

	if bucket := fallbackBucket(when); bucket != "" {
		return s.tryListMove(ctx, entityID, bucket, "fell back to list move after url_scheme/script_date_object failed")
	}

	return model.ScheduleResult{Succeeded: false, MethodUsed: model.MethodNone, Details: "no strategy could schedule this when value"}
}

func (s *Scheduler) tryURLScheme(ctx context.Context, entityID, when string) (model.ScheduleResult, bool) {
	if s.invoker == nil {
		return model.ScheduleResult{}, false
	}
	err := s.invoker.Invoke(ctx, "update", map[string]string{"id": entityID, "when": when})
	if err != nil {
		return model.ScheduleResult{}, false
	}
	return model.ScheduleResult{
		Succeeded: true, MethodUsed: model.MethodURLScheme,
		ReliabilityTier: model.ReliabilityURLScheme,
		Details:         "scheduled via things:// update action",
	}, true
}

// tryScriptDateObject applies when via a numeric date-object property
// assignment. The automation backend cannot set a reminder (spec.md
// Design Notes: "reminder-time capability gap"), so a when carrying a
// "@HH:MM" suffix has its time-of-day component dropped before reaching
// script.FormatDate — this strategy can only move the date, never create
// the reminder — and the result records ReminderDropped so the caller can
// warn rather than silently lose the request.
func (s *Scheduler) tryScriptDateObject(ctx context.Context, entityID, when string) (model.ScheduleResult, bool) {
	if s.runScript == nil {
		return model.ScheduleResult{}, false
	}
	reminderDropped := script.HasTimeComponent(when)
	dateOnly := when
	if idx := strings.IndexByte(when, '@'); idx >= 0 {
		dateOnly = when[:idx]
	}
	frag, err := script.FormatDate(dateOnly, s.now(), "d")
	if err != nil || frag == "" {
		return model.ScheduleResult{}, false
	}
	if err := s.runScript(ctx, entityID, frag); err != nil {
		return model.ScheduleResult{}, false
	}
	return model.ScheduleResult{
		Succeeded: true, MethodUsed: model.MethodScriptDateObject,
		ReliabilityTier: model.ReliabilityScriptDateObject,
		Details:         "scheduled via numeric date-object property assignment",
		ReminderDropped: reminderDropped,
	}, true
}

func (s *Scheduler) tryListMove(ctx context.Context, entityID, bucket, details string) model.ScheduleResult {
	if s.moveToList == nil {
		return model.ScheduleResult{Succeeded: false, MethodUsed: model.MethodNone, Details: "no list-move strategy configured"}
	}
	if err := s.moveToList(ctx, entityID, bucket); err != nil {
		return model.ScheduleResult{Succeeded: false, MethodUsed: model.MethodNone, Details: errMsg(err)}
	}
	return model.ScheduleResult{
		Succeeded: true, MethodUsed: model.MethodListMove,
		ReliabilityTier: model.ReliabilityListMove,
		Details:         details,
	}
}

func errMsg(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// fallbackBucket maps a relative bucket keyword (today, anytime, someday)
// to its builtin-list bucket for the last-resort strategy; every other
// when value has no bucket fallback and the caller must treat strategy
// exhaustion as scheduling_failed.
func fallbackBucket(when string) string {
	if bucket, ok := relativeBucket[when]; ok {
		return bucket
	}
	return ""
}
