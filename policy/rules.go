package policy

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/mitchellh/go-homedir"
	"github.com/zoumo/goset"
	"gopkg.in/yaml.v3"
)

// Rules is the compiled exemption table used to evaluate the status checks
// of a pull request. The zero value is not usable: build one with
// DefaultRules or Load.
type Rules struct {
	GracePeriod   time.Duration
	RequiredLabel string
	IgnoreChecks  []*regexp.Regexp
	SkipChecks    goset.Set
	Rerun         []RerunRule
}

// RerunRule triggers a re-run comment for a named check when it failed,
// finished long enough ago, and the current UTC wall-clock time is still
// before the daily cutoff.
type RerunRule struct {
	Check       string
	StaleAfter  time.Duration
	DailyBefore time.Duration
	comment     *template.Template
}

type rulesFile struct {
	GracePeriod   duration     `yaml:"grace_period"`
	RequiredLabel string       `yaml:"required_label"`
	IgnoreChecks  []string     `yaml:"ignore_checks"`
	SkipChecks    []string     `yaml:"skip_checks"`
	Rerun         []rerunEntry `yaml:"rerun"`
}

type rerunEntry struct {
	Check       string   `yaml:"check"`
	StaleAfter  duration `yaml:"stale_after"`
	DailyBefore string   `yaml:"daily_before"`
	Comment     string   `yaml:"comment"`
}

// duration accepts Go duration strings ("30m", "2h") in the YAML file.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = duration(parsed)
	return nil
}

const (
	defaultGracePeriod   = 1 * time.Hour
	defaultRequiredLabel = "automerge"
	defaultStaleAfter    = 2 * time.Hour
	defaultDailyBefore   = "02:00:00"
	defaultRerunComment  = "/azp run {{ .Check }}"
)

// Azure DevOps reports stage-level entries as "Pipeline (Stage)", and
// cherry-pick helper checks are not authoritative for the source branch.
var defaultIgnoreChecks = []string{
	`\(.+\)$`,
	`(?i)cherry[- ]?pick`,
}

var defaultSkipChecks = []string{"Semgrep"}

func defaultRulesFile() rulesFile {
	return rulesFile{
		GracePeriod:   duration(defaultGracePeriod),
		RequiredLabel: defaultRequiredLabel,
		IgnoreChecks:  defaultIgnoreChecks,
		SkipChecks:    defaultSkipChecks,
		Rerun: []rerunEntry{
			{
				Check:       "Azure.sonic-mgmt",
				StaleAfter:  duration(defaultStaleAfter),
				DailyBefore: defaultDailyBefore,
				Comment:     defaultRerunComment,
			},
		},
	}
}

// DefaultRules returns the built-in exemption table.
func DefaultRules() *Rules {
	rules, err := defaultRulesFile().compile()
	if err != nil {
		// the built-in table is validated by tests
		panic(err)
	}
	return rules
}

// Load reads an exemption table from a YAML file. Fields missing from the
// file keep their built-in defaults.
func Load(path string) (*Rules, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand rules file path %s: %w", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}

	file := defaultRulesFile()
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}

	rules, err := file.compile()
	if err != nil {
		return nil, fmt.Errorf("invalid rules file %s: %w", path, err)
	}
	return rules, nil
}

// WithRequiredLabel returns a copy of the rules with a different opt-in
// label. An empty label returns the receiver unchanged.
func (r *Rules) WithRequiredLabel(label string) *Rules {
	if len(label) == 0 {
		return r
	}
	rules := *r
	rules.RequiredLabel = label
	return &rules
}

func (f rulesFile) compile() (*Rules, error) {
	rules := &Rules{
		GracePeriod:   time.Duration(f.GracePeriod),
		RequiredLabel: f.RequiredLabel,
		SkipChecks:    goset.NewSetFromStrings(f.SkipChecks),
	}

	for _, pattern := range f.IgnoreChecks {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid ignore_checks pattern %q: %w", pattern, err)
		}
		rules.IgnoreChecks = append(rules.IgnoreChecks, re)
	}

	for _, entry := range f.Rerun {
		rule, err := entry.compile()
		if err != nil {
			return nil, err
		}
		rules.Rerun = append(rules.Rerun, rule)
	}

	return rules, nil
}

func (e rerunEntry) compile() (RerunRule, error) {
	rule := RerunRule{
		Check:      e.Check,
		StaleAfter: time.Duration(e.StaleAfter),
	}
	if len(rule.Check) == 0 {
		return rule, fmt.Errorf("rerun entry is missing the check name")
	}
	if rule.StaleAfter == 0 {
		rule.StaleAfter = defaultStaleAfter
	}

	cutoff := e.DailyBefore
	if len(cutoff) == 0 {
		cutoff = defaultDailyBefore
	}
	clock, err := time.Parse("15:04:05", cutoff)
	if err != nil {
		return rule, fmt.Errorf("invalid daily_before %q for check %s: %w", cutoff, e.Check, err)
	}
	rule.DailyBefore = time.Duration(clock.Hour())*time.Hour +
		time.Duration(clock.Minute())*time.Minute +
		time.Duration(clock.Second())*time.Second

	body := e.Comment
	if len(body) == 0 {
		body = defaultRerunComment
	}
	rule.comment, err = template.New("").Funcs(sprig.TxtFuncMap()).Parse(body)
	if err != nil {
		return rule, fmt.Errorf("invalid comment template %q for check %s: %w", body, e.Check, err)
	}

	return rule, nil
}

func (r RerunRule) renderComment(prURL string) (string, error) {
	var buffer bytes.Buffer
	err := r.comment.Execute(&buffer, map[string]interface{}{
		"Check": r.Check,
		"URL":   prURL,
	})
	if err != nil {
		return "", fmt.Errorf("failed to execute comment template for check %s: %w", r.Check, err)
	}
	return buffer.String(), nil
}
