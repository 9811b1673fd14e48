package matchstr

import "testing"

func TestMatch(t *testing.T) {
	cases := []struct {
		name, glob string
		want       bool
	}{
		{"a.xml", "*.xml", true},
		{"a.XML", "*.xml", false},
		{"a.gz", "*.xml,*.gz", true},
		{"a.txt", "*.xml,*.gz", false},
		{"report_2024.xml", "report_*.xml", true},
	}

	for _, c := range cases {
		if got := Match(c.name, c.glob); got != c.want {
			t.Errorf("Match(%q, %q) = %v, want %v", c.name, c.glob, got, c.want)
		}
	}
}
