package job

import (
	"slices"
	"testing"
)

func TestTemplate_SetOverwritesAndKeepsOrder(t *testing.T) {
	t.Parallel()
	tmpl := NewTemplate()
	tmpl.Set(AttrRemoteCommand, "/bin/true")
	tmpl.Set(AttrArgv, "a", "b")
	tmpl.Set(AttrRemoteCommand, "/bin/false")

	if got := tmpl.Value(AttrRemoteCommand); got != "/bin/false" {
		t.Errorf("expected overwrite, got %q", got)
	}
	if got := tmpl.Names(); !slices.Equal(got, []string{AttrRemoteCommand, AttrArgv}) {
		t.Errorf("unexpected order %v", got)
	}
	if tmpl.Len() != 2 {
		t.Errorf("expected 2 attributes, got %d", tmpl.Len())
	}
	if _, ok := tmpl.Get(AttrJobName); ok {
		t.Error("unset attribute must not be found")
	}
	if tmpl.Value(AttrJobName) != "" {
		t.Error("Value of unset attribute must be empty")
	}
}

func TestTemplate_CloneIsIndependent(t *testing.T) {
	t.Parallel()
	values := []string{"A=1"}
	tmpl := NewTemplate()
	tmpl.Set(AttrEnv, values...)
	values[0] = "A=mutated"

	clone := tmpl.Clone()
	tmpl.Set(AttrEnv, "A=2")
	tmpl.Set(AttrJobName, "late")

	got, _ := clone.Get(AttrEnv)
	if !slices.Equal(got, []string{"A=1"}) {
		t.Errorf("clone changed with original: %v", got)
	}
	if clone.Has(AttrJobName) {
		t.Error("clone gained an attribute set after cloning")
	}

	got[0] = "A=3"
	if again, _ := clone.Get(AttrEnv); again[0] != "A=1" {
		t.Error("Get must return a copy")
	}
}

func TestPlaceholders_Expand(t *testing.T) {
	t.Parallel()
	p := Placeholders{Index: "7", Home: "/home/u", WorkDir: "/scratch"}
	got := p.Expand("$drmaa_hd_ph$/out.$drmaa_incr_ph$ in $drmaa_wd_ph$")
	if got != "/home/u/out.7 in /scratch" {
		t.Errorf("unexpected expansion %q", got)
	}

	partial := Placeholders{Index: "%a"}
	if got := partial.Expand("$drmaa_wd_ph$/o.$drmaa_incr_ph$"); got != "$drmaa_wd_ph$/o.%a" {
		t.Errorf("empty replacements must leave placeholders, got %q", got)
	}

	all := p.ExpandAll([]string{"x", "$drmaa_incr_ph$"})
	if !slices.Equal(all, []string{"x", "7"}) {
		t.Errorf("unexpected ExpandAll %v", all)
	}
}

func TestRange(t *testing.T) {
	t.Parallel()
	tests := []struct {
		r       Range
		want    []int
		wantErr bool
	}{
		{Range{1, 5, 1}, []int{1, 2, 3, 4, 5}, false},
		{Range{1, 5, 2}, []int{1, 3, 5}, false},
		{Range{1, 6, 2}, []int{1, 3, 5}, false},
		{Range{0, 0, 1}, []int{0}, false},
		{Range{5, 1, 1}, nil, true},
		{Range{1, 5, 0}, nil, true},
		{Range{-1, 5, 1}, nil, true},
	}

	for _, tt := range tests {
		err := tt.r.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("%v.Validate() error = %v, wantErr %v", tt.r, err, tt.wantErr)
		}
		if got := tt.r.Indices(); !slices.Equal(got, tt.want) {
			t.Errorf("%v.Indices() = %v, want %v", tt.r, got, tt.want)
		}
	}
}
