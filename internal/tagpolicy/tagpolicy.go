// Package tagpolicy partitions a write's requested tags into existing,
// to-be-created, and rejected buckets according to one of four fixed
// policies (spec.md §4.10). Policy is chosen once at process start from
// config.TagPolicyMode and never changes per call.
package tagpolicy

import (
	"fmt"
	"sort"

	"github.com/thingsmcp/bridge/internal/config"
	"github.com/thingsmcp/bridge/internal/errcode"
)

// MaxSuggestions bounds how many closest-name suggestions reject_unknown
// reports back to the caller.
const MaxSuggestions = 3

// Plan is the partition of a write's requested tags plus the set the write
// must actually use.
type Plan struct {
	Existing []string
	Created  []string
	Filtered []string
	Use      []string // existing ∪ created, what the write actually applies
	Warning  string
}

// Engine applies a fixed policy against a known-tags set supplied by the
// caller (the Router passes internal/dbreader's current tag list, read
// fresh on each call).
type Engine struct {
	mode config.TagPolicyMode
}

// New builds an Engine bound to mode for the process lifetime.
func New(mode config.TagPolicyMode) *Engine {
	return &Engine{mode: mode}
}

// Apply partitions requested against known (the set of tag names the
// backend currently recognizes) and returns a Plan, or a reject_unknown
// error carrying suggestions.
func (e *Engine) Apply(requested, known []string) (Plan, error) {
	knownSet := make(map[string]bool, len(known))
	for _, k := range known {
		knownSet[k] = true
	}

	var existing, missing []string
	for _, t := range requested {
		if knownSet[t] {
			existing = append(existing, t)
		} else {
			missing = append(missing, t)
		}
	}

	plan := Plan{Existing: existing}

	switch e.mode {
	case config.TagPolicyAllowAll:
		plan.Created = missing
		plan.Use = append(append([]string{}, existing...), missing...)

	case config.TagPolicyFilterUnknown:
		plan.Filtered = missing
		plan.Use = existing

	case config.TagPolicyWarnUnknown:
		plan.Filtered = missing
		plan.Use = existing
		if len(missing) > 0 {
			plan.Warning = fmt.Sprintf("dropped unknown tags: %v", missing)
		}

	case config.TagPolicyRejectUnknown:
		if len(missing) > 0 {
			suggestions := suggest(missing[0], known, MaxSuggestions)
			msg := fmt.Sprintf("unknown tag %q", missing[0])
			if len(suggestions) > 0 {
				msg += fmt.Sprintf(", did you mean: %v?", suggestions)
			}
			return Plan{}, errcode.New(errcode.UnknownTag, msg)
		}
		plan.Use = existing

	default:
		return Plan{}, errcode.New(errcode.Internal, fmt.Sprintf("unknown tag policy %q", e.mode))
	}

	return plan, nil
}

// suggest returns up to n names from known ranked by ascending Levenshtein
// distance to target.
func suggest(target string, known []string, n int) []string {
	type scored struct {
		name string
		dist int
	}
	scores := make([]scored, 0, len(known))
	for _, k := range known {
		scores = append(scores, scored{k, levenshtein(target, k)})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].dist != scores[j].dist {
			return scores[i].dist < scores[j].dist
		}
		return scores[i].name < scores[j].name
	})
	if n > len(scores) {
		n = len(scores)
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, scores[i].name)
	}
	return out
}

// levenshtein computes classic edit distance between a and b.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
