// Package script formats AppleScript/JXA source sent to the automation
// executor. Every emitted fragment is locale-independent and
// injection-safe: strings are escaped, dates are numeric property
// assignments rather than locale-dependent literals, and writes are
// wrapped so a failure can never look like a silent success.
package script

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/thingsmcp/bridge/internal/errcode"
)

// FormatString returns a double-quoted AppleScript string literal with
// internal quotes and backslashes escaped.
func FormatString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

var (
	absoluteDateRE = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})(@(\d{2}):(\d{2}))?$`)
	relativeDateRE = regexp.MustCompile(`^\+(\d+)([dwm])$`)
)

// keyword date values resolved against now without arithmetic.
var keywordOffsets = map[string]int{
	"today":     0,
	"tomorrow":  1,
	"yesterday": -1,
}

// HasTimeComponent reports whether raw is an absolute date carrying a
// "@HH:MM" time-of-day suffix, i.e. whether it requests a reminder (spec.md
// Design Notes: only the URL scheme can actually set one).
func HasTimeComponent(raw string) bool {
	m := absoluteDateRE.FindStringSubmatch(raw)
	return m != nil && m[4] != ""
}

// FormatDate emits an AppleScript fragment that builds a fresh date value
// named varName and sets its year/month/day/hour/minute as numeric
// properties, evaluated against now for relative and keyword forms.
// someday and anytime have no calendar date; they return an empty
// fragment and the caller must route them through a list-move instead.
func FormatDate(raw string, now time.Time, varName string) (string, error) {
	switch raw {
	case "someday", "anytime":
		return "", nil
	}

	var target time.Time
	hasTime := false

	if offset, ok := keywordOffsets[raw]; ok {
		target = now.AddDate(0, 0, offset)
	} else if m := relativeDateRE.FindStringSubmatch(raw); m != nil {
		n, _ := strconv.Atoi(m[1])
		switch m[2] {
		case "d":
			target = now.AddDate(0, 0, n)
		case "w":
			target = now.AddDate(0, 0, n*7)
		case "m":
			target = now.AddDate(0, n, 0)
		}
	} else if m := absoluteDateRE.FindStringSubmatch(raw); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		hour, minute := 0, 0
		if m[4] != "" {
			hasTime = true
			hour, _ = strconv.Atoi(m[5])
			minute, _ = strconv.Atoi(m[6])
		}
		target = time.Date(year, time.Month(month), day, hour, minute, 0, 0, now.Location())
	} else {
		return "", errcode.New(errcode.ValidationError, fmt.Sprintf("date: unrecognized value %q", raw))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "set %s to (current date)\n", varName)
	fmt.Fprintf(&b, "set year of %s to %d\n", varName, target.Year())
	fmt.Fprintf(&b, "set month of %s to %d\n", varName, int(target.Month()))
	fmt.Fprintf(&b, "set day of %s to %d\n", varName, target.Day())
	if hasTime {
		fmt.Fprintf(&b, "set hours of %s to %d\n", varName, target.Hour())
		fmt.Fprintf(&b, "set minutes of %s to %d\n", varName, target.Minute())
		fmt.Fprintf(&b, "set seconds of %s to 0\n", varName)
	} else {
		fmt.Fprintf(&b, "set time of %s to 0\n", varName)
	}
	return b.String(), nil
}

// FormatTags normalizes a tag list (already partitioned by the Tag Policy
// Engine) into the single comma-separated string form the automation
// backend requires for its tag property.
func FormatTags(tags []string) string {
	seen := make(map[string]bool, len(tags))
	var out []string
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return strings.Join(out, ",")
}

// FieldFilter describes one backend-side filter clause pushed into a
// batch read, e.g. `whose status is open`.
type FieldFilter struct {
	Field string
	Op    string // "is", ">", "<", "contains"
	Value string // pre-formatted AppleScript literal
}

// BuildBatchPropertyRead emits a script that iterates entity via the
// application's native collection operator, applying filters backend-side,
// and joins each record's fields with a tab and each record with a
// newline.
func BuildBatchPropertyRead(entity string, fields []string, filters []FieldFilter, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "tell application \"Things3\"\n")
	fmt.Fprintf(&b, "set theItems to %s", entity)
	if len(filters) > 0 {
		clauses := make([]string, len(filters))
		for i, f := range filters {
			clauses[i] = fmt.Sprintf("%s %s %s", f.Field, f.Op, f.Value)
		}
		fmt.Fprintf(&b, " whose %s", strings.Join(clauses, " and "))
	}
	b.WriteString("\n")
	if limit > 0 {
		fmt.Fprintf(&b, "if (count of theItems) > %d then set theItems to items 1 thru %d of theItems\n", limit, limit)
	}
	b.WriteString("set outLines to {}\n")
	b.WriteString("repeat with anItem in theItems\n")
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fmt.Sprintf("(%s of anItem as string)", f)
	}
	fmt.Fprintf(&b, "set end of outLines to (%s)\n", strings.Join(parts, ` & tab & `))
	b.WriteString("end repeat\n")
	b.WriteString("set AppleScript's text item delimiters to linefeed\n")
	b.WriteString("set outText to outLines as string\n")
	b.WriteString("set AppleScript's text item delimiters to \"\"\n")
	b.WriteString("return outText\n")
	b.WriteString("end tell\n")
	return b.String()
}

// BuildWrite wraps a mutation in a try/error block that returns
// "ok:<id>" or "err:<reason>" on stdout, so the Output Parser can
// classify the result without heuristics.
func BuildWrite(body string, idExpr string) string {
	var b strings.Builder
	b.WriteString("tell application \"Things3\"\n")
	b.WriteString("try\n")
	b.WriteString(body)
	b.WriteString("\n")
	fmt.Fprintf(&b, "return \"ok:\" & (%s)\n", idExpr)
	b.WriteString("on error errMsg\n")
	b.WriteString("return \"err:\" & errMsg\n")
	b.WriteString("end try\n")
	b.WriteString("end tell\n")
	return b.String()
}
