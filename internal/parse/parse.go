// Package parse implements the Output Parser (spec.md §4.3): a state
// machine over the script executor's tab/newline-delimited stdout. An
// earlier design substituted placeholder tokens for delimiters inside
// quoted strings and left them un-replaced in completion_date/
// cancellation_date fields — "looks parsed, isn't." The state machine
// replaces that design by tracking quoting and list nesting explicitly
// instead of doing string surgery.
package parse

import (
	"strings"
	"time"
)

// state names the parser's current lexical context.
type state int

const (
	stateField state = iota
	stateValue
	stateQuoted
	stateList
	stateListQuoted
)

// Record is one parsed line: an ordered list of raw field values plus any
// recovered tag list fields (braces), already split on unquoted commas.
type Record struct {
	Fields []string
	Lists  map[int][]string // field index -> list values, for brace-delimited fields
}

// Result is the outcome of parsing one executor stdout blob.
type Result struct {
	Records  []Record
	Warnings []string
}

// Parse consumes raw tab/newline-delimited stdout and yields records. It
// never panics or returns an error past the operation boundary: malformed
// input ends the current record and appends a warning instead (spec.md
// §4.3 rule 5).
func Parse(raw string) Result {
	var res Result
	lines := strings.Split(raw, "\n")
	for _, line := range lines {
		if line == "" {
			continue
		}
		rec, warn := parseLine(line)
		res.Records = append(res.Records, rec)
		if warn != "" {
			res.Warnings = append(res.Warnings, warn)
		}
	}
	return res
}

func parseLine(line string) (Record, string) {
	rec := Record{Lists: map[int][]string{}}
	st := stateField
	var cur strings.Builder
	var curList []string
	var curListItem strings.Builder
	fieldIdx := 0
	warn := ""

	flushField := func() {
		rec.Fields = append(rec.Fields, normalizeValue(cur.String()))
		cur.Reset()
		fieldIdx++
	}
	flushListItem := func() {
		curList = append(curList, strings.TrimSpace(curListItem.String()))
		curListItem.Reset()
	}

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch st {
		case stateField, stateValue:
			switch r {
			case '\t':
				flushField()
				st = stateField
			case '"':
				st = stateQuoted
			case '{':
				st = stateList
				curList = nil
			default:
				cur.WriteRune(r)
				st = stateValue
			}
		case stateQuoted:
			switch r {
			case '"':
				st = stateValue
			case '\\':
				if i+1 < len(runes) {
					i++
					cur.WriteRune(runes[i])
				}
			default:
				cur.WriteRune(r)
			}
		case stateList:
			switch r {
			case '}':
				flushListItem()
				rec.Lists[fieldIdx] = curList
				st = stateValue
			case ',':
				flushListItem()
			case '"':
				st = stateListQuoted
			default:
				curListItem.WriteRune(r)
			}
		case stateListQuoted:
			switch r {
			case '"':
				st = stateList
			case '\\':
				if i+1 < len(runes) {
					i++
					curListItem.WriteRune(runes[i])
				}
			default:
				curListItem.WriteRune(r)
			}
		}
	}

	switch st {
	case stateField, stateValue:
		flushField()
	case stateQuoted, stateListQuoted:
		warn = "malformed input: unterminated quote, record ended early"
		flushField()
	case stateList:
		warn = "malformed input: unterminated list, record ended early"
		if curListItem.Len() > 0 {
			flushListItem()
		}
		rec.Lists[fieldIdx] = curList
	}

	return rec, warn
}

const missingValueToken = "missing value"

// normalizeValue coerces the AppleScript "missing value" sentinel to an
// empty string (the caller treats "" as null) and normalizes any
// recognizable date-like value to ISO 8601.
func normalizeValue(v string) string {
	trimmed := strings.TrimSpace(v)
	if trimmed == missingValueToken || trimmed == "" {
		return ""
	}
	if iso, ok := normalizeDate(trimmed); ok {
		return iso
	}
	return v
}

// knownDateLayouts are the stdout date formats Things/AppleScript's
// "as string" coercion of a date object tends to produce, kept
// locale-independent by always parsing with an explicit layout rather than
// a locale-aware parser.
var knownDateLayouts = []string{
	"Monday, January 2, 2006 at 3:04:05 PM",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func normalizeDate(v string) (string, bool) {
	for _, layout := range knownDateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format("2006-01-02T15:04:05"), true
		}
	}
	return "", false
}
