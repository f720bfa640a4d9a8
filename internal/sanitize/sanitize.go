// Package sanitize repairs raw model completions into parseable JSON.
// Models asked for strict JSON still wrap output in markdown fences, LaTeX
// \boxed{} containers, or leave trailing commas; the Clean pipeline strips
// all of these before the payload reaches the JSON decoder.
package sanitize

import (
	"regexp"
	"strings"
)

// Repair identifies a sanitizer fix applied to a completion. Used as a
// metric label so noisy models show up in dashboards.
type Repair string

const (
	RepairBoxed         Repair = "boxed"
	RepairLatexEscape   Repair = "latex_escape"
	RepairFence         Repair = "fence"
	RepairTrailingComma Repair = "trailing_comma"
)

var (
	reBoxed = regexp.MustCompile(`\\boxed\s*\{+`)

	// Multi-letter backslash sequences are LaTeX commands (\frac, \textbf).
	// JSON escapes start with b, f, n, r, t, or u, and a letter may follow
	// them inside question text (\nThe, \there), so generic stripping only
	// fires when the first letter cannot start a JSON escape. Commands that
	// do start with an escape letter are stripped by name.
	reLatexCmd      = regexp.MustCompile(`\\[A-Zacdeghijklmopqsvwxyz][a-zA-Z]+`)
	reLatexCmdKnown = regexp.MustCompile(`\\(?:boxed|begin|binom|bar|beta|frac|tfrac|textbf|textit|textrm|text|times|theta|tau|tan|neq|nabla|not|rightarrow|right|rho|underline|underbrace)\b`)

	reTrailingComma = regexp.MustCompile(`,\s*([}\]])`)
	reOpenBraceGap  = regexp.MustCompile(`\{\s+"`)
)

// Clean repairs a raw completion into parseable JSON and reports which
// repairs were applied.
func Clean(raw string) (string, []Repair) {
	var repairs []Repair
	s := raw

	if reBoxed.MatchString(s) {
		s = reBoxed.ReplaceAllString(s, "{")
		repairs = append(repairs, RepairBoxed)
	}

	if reLatexCmd.MatchString(s) || reLatexCmdKnown.MatchString(s) {
		s = reLatexCmd.ReplaceAllString(s, "")
		s = reLatexCmdKnown.ReplaceAllString(s, "")
		repairs = append(repairs, RepairLatexEscape)
	}

	if strings.Contains(s, "```") {
		s = strings.ReplaceAll(s, "```json", "")
		s = strings.ReplaceAll(s, "```", "")
		repairs = append(repairs, RepairFence)
	}

	if reTrailingComma.MatchString(s) {
		s = reTrailingComma.ReplaceAllString(s, "$1")
		repairs = append(repairs, RepairTrailingComma)
	}
	s = reOpenBraceGap.ReplaceAllString(s, `{"`)

	return strings.TrimSpace(s), repairs
}
