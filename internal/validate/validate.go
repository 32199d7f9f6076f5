// Package validate normalizes and validates tool parameters before they
// reach the Router (spec.md §4.9). Every failure returns a field-scoped
// errcode.ValidationError and the caller proceeds no further, mirroring the
// teacher's fail-fast style in sync.Open/migrate.
package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/thingsmcp/bridge/internal/errcode"
	"github.com/thingsmcp/bridge/internal/model"
)

var periodRE = regexp.MustCompile(`^(\d+)([dwmy])$`)

const maxPeriodDays = 365

// Status filter values accepted by list/search operations.
type StatusFilter string

const (
	StatusIncomplete StatusFilter = "incomplete"
	StatusCompleted  StatusFilter = "completed"
	StatusCanceledF  StatusFilter = "canceled"
	StatusAll        StatusFilter = "" // null means "all"
)

func fieldErr(field, msg string) error {
	return errcode.New(errcode.ValidationError, fmt.Sprintf("%s: %s", field, msg))
}

// Limit validates a limit parameter. A nil input means "omitted" and returns
// defaultLimit. An explicit 0 means "return empty list", never "unlimited"
// (spec.md §4.9, testable property 6).
func Limit(raw *int, defaultLimit, max int) (int, error) {
	if raw == nil {
		return defaultLimit, nil
	}
	if *raw < 0 {
		return 0, fieldErr("limit", "must be >= 0")
	}
	if *raw > max {
		return 0, fieldErr("limit", fmt.Sprintf("must be <= %d", max))
	}
	return *raw, nil
}

// Period validates a relative period like "30d", capped at 365 days
// equivalent.
func Period(raw string) (time.Duration, error) {
	m := periodRE.FindStringSubmatch(raw)
	if m == nil {
		return 0, fieldErr("period", "must match ^\\d+[dwmy]$")
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fieldErr("period", "invalid integer")
	}
	var days int
	switch m[2] {
	case "d":
		days = n
	case "w":
		days = n * 7
	case "m":
		days = n * 30
	case "y":
		days = n * 365
	}
	if days > maxPeriodDays {
		return 0, fieldErr("period", fmt.Sprintf("exceeds max of %d days", maxPeriodDays))
	}
	return time.Duration(days) * 24 * time.Hour, nil
}

// Status validates a status filter; nil/empty means StatusAll. Ambient read
// ops default to StatusIncomplete at the call site, not here — this function
// only validates what was explicitly given.
func Status(raw *string) (StatusFilter, error) {
	if raw == nil || *raw == "" {
		return StatusAll, nil
	}
	switch StatusFilter(*raw) {
	case StatusIncomplete, StatusCompleted, StatusCanceledF:
		return StatusFilter(*raw), nil
	default:
		return "", fieldErr("status", "must be one of incomplete, completed, canceled")
	}
}

// Tags accepts a []string, a JSON-decoded []any (an array arriving through
// an interface{} field), or a comma-separated string; it splits, trims, and
// drops empties. Tag names are case-sensitive and are never lowercased
// (spec.md §4.9, testable property 5).
func Tags(raw any) ([]string, error) {
	var parts []string
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []string:
		parts = v
	case []any:
		parts = make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, fieldErr("tags", "each tag must be a string")
			}
			parts = append(parts, s)
		}
	case string:
		if v == "" {
			return nil, nil
		}
		parts = strings.Split(v, ",")
	default:
		return nil, fieldErr("tags", "must be a list or comma-separated string")
	}

	seen := make(map[string]bool, len(parts))
	var out []string
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out, nil
}

var whenKeywords = map[string]bool{
	"today": true, "tomorrow": true, "yesterday": true, "someday": true, "anytime": true,
}

var relativeRE = regexp.MustCompile(`^\+(\d+)([dwm])$`)
var dateRE = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})(@(\d{2}):(\d{2}))?$`)

// When validates the when/deadline grammar (spec.md §6.4). It does not
// resolve relative values to an absolute date; that is the Script
// Formatter's job (spec.md §4.1), given an injectable "now".
func When(raw string) error {
	if raw == "" {
		return fieldErr("when", "must not be empty")
	}
	if whenKeywords[raw] {
		return nil
	}
	if relativeRE.MatchString(raw) {
		return nil
	}
	if dateRE.MatchString(raw) {
		return nil
	}
	return fieldErr("when", "must be a keyword, YYYY-MM-DD[@HH:MM], or +Nd|+Nw|+Nm")
}

// Destination parses and validates the destination grammar (spec.md §6.3).
func Destination(raw string) (model.Destination, error) {
	switch model.BuiltinList(raw) {
	case model.ListInbox, model.ListToday, model.ListAnytime, model.ListSomeday,
		model.ListUpcoming, model.ListLogbook:
		return model.Destination{Kind: model.DestinationBuiltin, List: model.BuiltinList(raw)}, nil
	}
	if id, ok := strings.CutPrefix(raw, "project:"); ok && id != "" {
		return model.Destination{Kind: model.DestinationProject, RefID: id}, nil
	}
	if id, ok := strings.CutPrefix(raw, "area:"); ok && id != "" {
		return model.Destination{Kind: model.DestinationArea, RefID: id}, nil
	}
	return model.Destination{}, fieldErr("destination", "must be a built-in list, project:<id>, or area:<id>")
}

// Bool coerces a string ("true"/"false", any case) or native bool to bool.
func Bool(raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(v) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return false, fieldErr("bool", fmt.Sprintf("cannot coerce %q to bool", v))
	default:
		return false, fieldErr("bool", "must be a bool or string")
	}
}
