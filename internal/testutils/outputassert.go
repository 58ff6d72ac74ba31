package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// TestingT is the part of testing.T the asserters need.
type TestingT interface {
	Helper()
	Errorf(format string, args ...interface{})
}

// OutputOptions controls how command output is normalized before comparison.
type OutputOptions struct {
	TrimSpace                bool     `default:"true"`
	IgnoreTrailingWhitespace bool     `default:"true"`
	IgnoreEmptyLines         bool     `default:"false"`
	EnableColors             bool     `default:"false"`
	IgnoreExtraKeys          bool     `default:"false"`
	IgnoredFields            []string `default:""`
}

// OutputOption is a functional option for AssertText and AssertJSON.
type OutputOption func(*OutputOptions)

func WithIgnoreEmptyLines(ignore bool) OutputOption {
	return func(o *OutputOptions) { o.IgnoreEmptyLines = ignore }
}

func WithEnableColors(enable bool) OutputOption {
	return func(o *OutputOptions) { o.EnableColors = enable }
}

func WithIgnoreExtraKeys(ignore bool) OutputOption {
	return func(o *OutputOptions) { o.IgnoreExtraKeys = ignore }
}

// WithIgnoredFields drops the named object keys at any depth, e.g. timestamps.
func WithIgnoredFields(fields ...string) OutputOption {
	return func(o *OutputOptions) { o.IgnoredFields = fields }
}

func outputOptions(opts []OutputOption) OutputOptions {
	o := OutputOptions{}
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// AssertText fails t with a unified diff when actual differs from expected.
func AssertText(t TestingT, actual, expected string, opts ...OutputOption) bool {
	t.Helper()
	if diff := TextDiff(actual, expected, opts...); diff != "" {
		t.Errorf("Text assertion failed - unified diff:\n%s", diff)
		return false
	}
	return true
}

// TextDiff returns the unified diff of the normalized texts, or "" when they match.
func TextDiff(actual, expected string, opts ...OutputOption) string {
	o := outputOptions(opts)
	a, e := normalizeText(actual, o), normalizeText(expected, o)
	if a == e {
		return ""
	}

	edits := myers.ComputeEdits("", e, a)
	unified := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", e, edits))
	if !o.EnableColors {
		return unified
	}
	return colorize(unified)
}

func normalizeText(text string, o OutputOptions) string {
	if o.TrimSpace {
		text = strings.TrimSpace(text)
	}
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if o.IgnoreEmptyLines && strings.TrimSpace(line) == "" {
			continue
		}
		if o.IgnoreTrailingWhitespace {
			line = strings.TrimRight(line, " \t\r")
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func colorize(diff string) string {
	red := color.New(color.FgRed)
	red.EnableColor()
	green := color.New(color.FgGreen)
	green.EnableColor()
	cyan := color.New(color.FgCyan)
	cyan.EnableColor()

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "@@"):
			lines[i] = cyan.Sprint(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = red.Sprint(line)
		case strings.HasPrefix(line, "+"):
			lines[i] = green.Sprint(line)
		}
	}
	return strings.Join(lines, "\n")
}

// AssertJSON fails t with a structural diff when the two documents differ.
func AssertJSON(t TestingT, actual, expected string, opts ...OutputOption) bool {
	t.Helper()
	if diff := JSONDiff(actual, expected, opts...); diff != "" {
		t.Errorf("JSON assertion failed:\n%s", diff)
		return false
	}
	return true
}

// JSONDiff returns a readable diff of the two documents, or "" when they match.
func JSONDiff(actual, expected string, opts ...OutputOption) string {
	o := outputOptions(opts)

	var exp, act interface{}
	if err := json.Unmarshal([]byte(expected), &exp); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actual), &act); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff compares objects only
	if _, ok := exp.([]interface{}); ok {
		exp = map[string]interface{}{"array": exp}
		act = map[string]interface{}{"array": act}
	}
	for _, field := range o.IgnoredFields {
		dropField(exp, field)
		dropField(act, field)
	}
	if o.IgnoreExtraKeys {
		pruneExtraKeys(act, exp)
	}

	expBytes, _ := json.Marshal(exp)
	actBytes, _ := json.Marshal(act)
	diff, err := gojsondiff.New().Compare(expBytes, actBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(exp, formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
		Coloring:       o.EnableColors,
	})
	out, _ := f.Format(diff)
	return out
}

func dropField(v interface{}, field string) {
	switch n := v.(type) {
	case map[string]interface{}:
		delete(n, field)
		for _, child := range n {
			dropField(child, field)
		}
	case []interface{}:
		for _, child := range n {
			dropField(child, field)
		}
	}
}

// pruneExtraKeys removes keys from actual that expected does not mention.
func pruneExtraKeys(actual, expected interface{}) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		for k := range act {
			if _, exists := exp[k]; !exists {
				delete(act, k)
			}
		}
		for k := range exp {
			pruneExtraKeys(act[k], exp[k])
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				pruneExtraKeys(act[i], exp[i])
			}
		}
	}
}
