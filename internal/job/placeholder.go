package job

import "strings"

// Placeholders recognised in path and argument values.
const (
	PlaceholderIndex   = "$drmaa_incr_ph$"
	PlaceholderHome    = "$drmaa_hd_ph$"
	PlaceholderWorkDir = "$drmaa_wd_ph$"
)

// Placeholders holds the replacement for each placeholder. Empty fields
// leave their placeholder untouched.
type Placeholders struct {
	Index   string
	Home    string
	WorkDir string
}

// Expand substitutes every placeholder with a non-empty replacement.
func (p Placeholders) Expand(s string) string {
	if !strings.Contains(s, "$drmaa_") {
		return s
	}
	var pairs []string
	if p.Index != "" {
		pairs = append(pairs, PlaceholderIndex, p.Index)
	}
	if p.Home != "" {
		pairs = append(pairs, PlaceholderHome, p.Home)
	}
	if p.WorkDir != "" {
		pairs = append(pairs, PlaceholderWorkDir, p.WorkDir)
	}
	if len(pairs) == 0 {
		return s
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

// ExpandAll applies Expand to each value.
func (p Placeholders) ExpandAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = p.Expand(v)
	}
	return out
}
