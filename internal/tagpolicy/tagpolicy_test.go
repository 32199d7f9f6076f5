package tagpolicy

import (
	"testing"

	"github.com/thingsmcp/bridge/internal/config"
	"github.com/thingsmcp/bridge/internal/errcode"
)

var known = []string{"work", "home", "urgent"}

func TestAllowAll(t *testing.T) {
	t.Parallel()
	e := New(config.TagPolicyAllowAll)
	plan, err := e.Apply([]string{"work", "newtag"}, known)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(plan.Created) != 1 || plan.Created[0] != "newtag" {
		t.Errorf("Created = %v, want [newtag]", plan.Created)
	}
	if len(plan.Use) != 2 {
		t.Errorf("Use = %v, want 2 entries", plan.Use)
	}
}

func TestFilterUnknown(t *testing.T) {
	t.Parallel()
	e := New(config.TagPolicyFilterUnknown)
	plan, err := e.Apply([]string{"work", "newtag"}, known)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(plan.Use) != 1 || plan.Use[0] != "work" {
		t.Errorf("Use = %v, want [work]", plan.Use)
	}
	if len(plan.Filtered) != 1 || plan.Filtered[0] != "newtag" {
		t.Errorf("Filtered = %v, want [newtag]", plan.Filtered)
	}
	if plan.Warning != "" {
		t.Errorf("Warning = %q, want empty for filter_unknown", plan.Warning)
	}
}

func TestWarnUnknown(t *testing.T) {
	t.Parallel()
	e := New(config.TagPolicyWarnUnknown)
	plan, err := e.Apply([]string{"newtag"}, known)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if plan.Warning == "" {
		t.Error("Warning should be set for warn_unknown with missing tags")
	}
	if len(plan.Use) != 0 {
		t.Errorf("Use = %v, want empty", plan.Use)
	}
}

func TestRejectUnknown(t *testing.T) {
	t.Parallel()
	e := New(config.TagPolicyRejectUnknown)
	_, err := e.Apply([]string{"urgnt"}, known)
	if err == nil {
		t.Fatal("Apply() should error for reject_unknown with missing tags")
	}
	if errcode.Of(err) != errcode.UnknownTag {
		t.Errorf("error code = %v, want UnknownTag", errcode.Of(err))
	}
}

func TestRejectUnknown_NoMissing(t *testing.T) {
	t.Parallel()
	e := New(config.TagPolicyRejectUnknown)
	plan, err := e.Apply([]string{"work", "home"}, known)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(plan.Use) != 2 {
		t.Errorf("Use = %v, want 2 entries", plan.Use)
	}
}

func TestSuggest(t *testing.T) {
	t.Parallel()
	got := suggest("urgnt", known, MaxSuggestions)
	if len(got) == 0 || got[0] != "urgent" {
		t.Errorf("suggest(urgnt) = %v, want first suggestion 'urgent'", got)
	}
}

func TestLevenshtein(t *testing.T) {
	t.Parallel()
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "abc", 0},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
	}
	for _, c := range cases {
		if got := levenshtein(c.a, c.b); got != c.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}
