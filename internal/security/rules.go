package security

import (
	"regexp"
	"strings"
)

// Rule names reported in verdicts and metrics.
const (
	RulePattern   = "pattern"
	RuleImport    = "import"
	RuleCall      = "call"
	RuleAttribute = "attribute"
	RuleSyntax    = "syntax"
)

// Rules is the denylist/allowlist configuration applied by a Validator.
type Rules struct {
	DeniedModules    map[string]struct{}
	DeniedCalls      map[string]struct{}
	DeniedAttributes map[string]struct{}
	SafeModules      map[string]struct{}
	Patterns         []Pattern
}

// Pattern is one pre-filter expression with the label reported on a match.
type Pattern struct {
	Label string
	Expr  *regexp.Regexp
}

// DefaultRules returns the rule set for trade-analysis scripts.
func DefaultRules() Rules {
	return Rules{
		DeniedModules: setOf(
			"os", "sys", "subprocess", "shutil", "glob", "tempfile",
			"pickle", "marshal", "shelve", "dbm", "sqlite3",
			"socket", "urllib", "http", "ftplib", "smtplib",
			"multiprocessing", "threading", "concurrent",
			"importlib", "ctypes", "builtins", "pty", "signal", "resource",
			"__import__", "exec", "eval", "compile", "execfile", "reload",
		),
		DeniedCalls: setOf(
			"open", "file", "input", "raw_input", "execfile",
			"reload", "exit", "quit", "__import__", "eval", "exec",
			"compile", "globals", "locals", "vars", "dir",
		),
		DeniedAttributes: setOf(
			"__class__", "__bases__", "__subclasses__", "__mro__",
			"__globals__", "__builtins__", "__import__", "__file__",
			"__name__", "__package__",
		),
		SafeModules: setOf(
			"math", "random", "datetime", "time", "json", "csv",
			"pandas", "numpy", "matplotlib", "seaborn", "plotly",
			"scipy", "sklearn", "io", "base64",
			"re", "string", "collections", "itertools", "functools",
			"operator", "statistics", "decimal", "fractions",
		),
		Patterns: []Pattern{
			pattern("exec(", `\bexec\s*\(`),
			pattern("eval(", `\beval\s*\(`),
			pattern("compile(", `\bcompile\s*\(`),
			pattern(".system(", `\.system\s*\(`),
			pattern(".popen(", `\.popen\s*\(`),
			pattern("__import__", `__import__`),
			pattern("__class__", `__class__`),
			pattern("__bases__", `__bases__`),
			pattern("__subclasses__", `__subclasses__`),
			pattern("__mro__", `__mro__`),
			pattern("__globals__", `__globals__`),
			pattern("__builtins__", `__builtins__`),
		},
	}
}

func pattern(label, expr string) Pattern {
	return Pattern{Label: label, Expr: regexp.MustCompile(`(?i)` + expr)}
}

func setOf(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

// topLevelModule returns the first dotted segment of a module path.
func topLevelModule(module string) string {
	if idx := strings.IndexByte(module, '.'); idx >= 0 {
		return module[:idx]
	}
	return module
}

func (r Rules) moduleDenied(module string) bool {
	_, denied := r.DeniedModules[topLevelModule(module)]
	return denied
}

func (r Rules) moduleKnownSafe(module string) bool {
	_, ok := r.SafeModules[topLevelModule(module)]
	return ok
}

func (r Rules) callDenied(name string) bool {
	_, denied := r.DeniedCalls[name]
	return denied
}

func (r Rules) attributeDenied(name string) bool {
	_, denied := r.DeniedAttributes[name]
	return denied
}

// matchPattern returns the first pre-filter pattern found in code.
func (r Rules) matchPattern(code string) (Pattern, bool) {
	for _, p := range r.Patterns {
		if p.Expr.MatchString(code) {
			return p, true
		}
	}
	return Pattern{}, false
}
