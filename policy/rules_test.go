package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRules(t *testing.T) {
	t.Parallel()
	rules := DefaultRules()

	assert.Equal(t, 1*time.Hour, rules.GracePeriod)
	assert.Equal(t, "automerge", rules.RequiredLabel)
	assert.Len(t, rules.IgnoreChecks, 2)
	assert.True(t, rules.SkipChecks.Contains("Semgrep"))
	require.Len(t, rules.Rerun, 1)
	assert.Equal(t, "Azure.sonic-mgmt", rules.Rerun[0].Check)
	assert.Equal(t, 2*time.Hour, rules.Rerun[0].StaleAfter)
	assert.Equal(t, 2*time.Hour, rules.Rerun[0].DailyBefore)
}

func writeRulesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name         string
		content      string
		validateFunc func(*testing.T, *Rules, error)
	}{
		{
			name:    "empty file keeps the defaults",
			content: "",
			validateFunc: func(t *testing.T, rules *Rules, err error) {
				t.Helper()
				require.NoError(t, err)
				assert.Equal(t, 1*time.Hour, rules.GracePeriod)
				assert.Equal(t, "automerge", rules.RequiredLabel)
			},
		},
		{
			name: "overridden fields",
			content: `
grace_period: 30m
required_label: ship-it
skip_checks:
  - Semgrep
  - CodeQL
`,
			validateFunc: func(t *testing.T, rules *Rules, err error) {
				t.Helper()
				require.NoError(t, err)
				assert.Equal(t, 30*time.Minute, rules.GracePeriod)
				assert.Equal(t, "ship-it", rules.RequiredLabel)
				assert.True(t, rules.SkipChecks.Contains("CodeQL"))
			},
		},
		{
			name: "custom rerun entry with defaults filled in",
			content: `
rerun:
  - check: nightly-pipeline
`,
			validateFunc: func(t *testing.T, rules *Rules, err error) {
				t.Helper()
				require.NoError(t, err)
				require.Len(t, rules.Rerun, 1)
				assert.Equal(t, "nightly-pipeline", rules.Rerun[0].Check)
				assert.Equal(t, 2*time.Hour, rules.Rerun[0].StaleAfter)
				assert.Equal(t, 2*time.Hour, rules.Rerun[0].DailyBefore)
				comment, err := rules.Rerun[0].renderComment("https://example.com/pull/1")
				require.NoError(t, err)
				assert.Equal(t, "/azp run nightly-pipeline", comment)
			},
		},
		{
			name: "templated comment with sprig functions",
			content: `
rerun:
  - check: nightly-pipeline
    comment: '/azp run {{ .Check | upper }}'
`,
			validateFunc: func(t *testing.T, rules *Rules, err error) {
				t.Helper()
				require.NoError(t, err)
				comment, err := rules.Rerun[0].renderComment("https://example.com/pull/1")
				require.NoError(t, err)
				assert.Equal(t, "/azp run NIGHTLY-PIPELINE", comment)
			},
		},
		{
			name: "invalid ignore pattern",
			content: `
ignore_checks:
  - '('
`,
			validateFunc: func(t *testing.T, rules *Rules, err error) {
				t.Helper()
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid ignore_checks pattern")
			},
		},
		{
			name: "invalid daily cutoff",
			content: `
rerun:
  - check: nightly-pipeline
    daily_before: "25:00"
`,
			validateFunc: func(t *testing.T, rules *Rules, err error) {
				t.Helper()
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid daily_before")
			},
		},
		{
			name: "rerun entry without a check name",
			content: `
rerun:
  - comment: /retest
`,
			validateFunc: func(t *testing.T, rules *Rules, err error) {
				t.Helper()
				require.Error(t, err)
			},
		},
		{
			name:    "not yaml",
			content: "{{{",
			validateFunc: func(t *testing.T, rules *Rules, err error) {
				t.Helper()
				require.Error(t, err)
			},
		},
	}

	for i := range tests {
		test := tests[i]
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			rules, err := Load(writeRulesFile(t, test.content))
			test.validateFunc(t, rules, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestWithRequiredLabel(t *testing.T) {
	t.Parallel()
	rules := DefaultRules()

	assert.Same(t, rules, rules.WithRequiredLabel(""))

	overridden := rules.WithRequiredLabel("ship-it")
	assert.Equal(t, "ship-it", overridden.RequiredLabel)
	assert.Equal(t, "automerge", rules.RequiredLabel, "the original rules are untouched")
}
