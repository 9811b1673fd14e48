// Package rules loads the ordered IngestRule dispatch table the ingester
// consults for every inbox file (spec.md §3 IngestRule, §4.7 step 1/a).
package rules

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// Rule is spec.md §3's IngestRule: the first rule whose glob matches a
// filename determines the target table and behavior.
type Rule struct {
	FilenameGlob     string `yaml:"filename_glob"`
	TableName        string `yaml:"table_name"`
	UpdateOnConflict bool   `yaml:"update_on_conflict"`
	PreSQL           string `yaml:"pre_sql"`
}

// List is the ordered rule set loaded from one YAML file.
type List struct {
	rules []Rule
}

// Load reads and parses the rule file at path.
func Load(path string) (*List, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: read %s: %w", path, err)
	}

	var rules []Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("rules: parse %s: %w", path, err)
	}

	return &List{rules: rules}, nil
}

// Match returns the first rule whose glob matches filename, and false if
// none do (spec.md §4.7a "No match → outcome BAD_RULE").
func (l *List) Match(filename string) (Rule, bool) {
	for _, r := range l.rules {
		ok, err := filepath.Match(r.FilenameGlob, filename)
		if err != nil {
			continue
		}
		if ok {
			return r, true
		}
	}
	return Rule{}, false
}

// Len reports how many rules are loaded.
func (l *List) Len() int {
	return len(l.rules)
}
