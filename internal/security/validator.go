package security

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// VerdictKind distinguishes malformed code from unsafe code.
type VerdictKind string

const (
	VerdictOK       VerdictKind = ""
	VerdictSyntax   VerdictKind = "syntax"
	VerdictSecurity VerdictKind = "security"
	// VerdictUnavailable means no parser could analyze the code.
	VerdictUnavailable VerdictKind = "unavailable"
)

// Verdict is the outcome of validating one piece of code.
type Verdict struct {
	OK     bool
	Kind   VerdictKind
	Rule   string
	Symbol string
	Line   int
	Reason string
	// Warnings lists imports of modules with unknown safety.
	Warnings []string
}

// Validator statically vets code before it reaches any backend.
type Validator struct {
	rules  Rules
	parser Parser
	logger *zap.Logger
}

// NewValidator builds a validator. A nil parser selects the embedded one.
func NewValidator(rules Rules, parser Parser, logger *zap.Logger) *Validator {
	if parser == nil {
		parser = NewEmbeddedParser()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		rules:  rules,
		parser: parser,
		logger: logger.With(zap.String("component", "validator")),
	}
}

// Check is the two-value form of Validate.
func (v *Validator) Check(code string) (bool, string) {
	verdict := v.Validate(context.Background(), code)
	return verdict.OK, verdict.Reason
}

// Validate runs the pattern pre-filter and the structural analysis.
//
// Malformed code always yields a syntax verdict, even when a pattern matched.
// Otherwise structural violations take precedence in the order imports,
// calls, attributes, and a pattern hit alone still rejects.
func (v *Validator) Validate(ctx context.Context, code string) Verdict {
	hit, matched := v.rules.matchPattern(code)

	nodes, err := v.parser.Parse(ctx, code)
	if err != nil {
		if IsSyntaxError(err) {
			return Verdict{
				Kind:   VerdictSyntax,
				Rule:   RuleSyntax,
				Line:   lineOf(err),
				Reason: err.Error(),
			}
		}
		v.logger.Warn("parser unavailable", zap.String("parser", v.parser.Name()), zap.Error(err))
		return Verdict{
			Kind:   VerdictUnavailable,
			Reason: fmt.Sprintf("code analysis failed: %v", err),
		}
	}

	var warnings []string
	for _, node := range nodes {
		if node.Kind != NodeImport || v.rules.moduleDenied(node.Name) || v.rules.moduleKnownSafe(node.Name) {
			continue
		}
		warnings = append(warnings, fmt.Sprintf("import of module %q with unknown safety", node.Name))
		v.logger.Warn("unknown safety module", zap.String("module", node.Name), zap.Int("line", node.Line))
	}

	if verdict, bad := v.structural(nodes); bad {
		verdict.Warnings = warnings
		return verdict
	}

	if matched {
		return Verdict{
			Kind:     VerdictSecurity,
			Rule:     RulePattern,
			Symbol:   hit.Label,
			Reason:   fmt.Sprintf("dangerous pattern %q detected", hit.Label),
			Warnings: warnings,
		}
	}

	return Verdict{OK: true, Warnings: warnings}
}

func (v *Validator) structural(nodes []Node) (Verdict, bool) {
	for _, node := range nodes {
		if node.Kind == NodeImport && v.rules.moduleDenied(node.Name) {
			module := topLevelModule(node.Name)
			return violation(RuleImport, module, node.Line, "import of denylisted module %q", module), true
		}
	}
	for _, node := range nodes {
		if node.Kind == NodeCall && v.rules.callDenied(node.Name) {
			return violation(RuleCall, node.Name, node.Line, "call to denylisted function %q", node.Name), true
		}
	}
	for _, node := range nodes {
		if node.Kind == NodeAttribute && v.rules.attributeDenied(node.Name) {
			return violation(RuleAttribute, node.Name, node.Line, "access to denylisted attribute %q", node.Name), true
		}
	}
	return Verdict{}, false
}

func violation(rule, symbol string, line int, format string, args ...any) Verdict {
	reason := fmt.Sprintf(format, args...)
	if line > 0 {
		reason = fmt.Sprintf("%s at line %d", reason, line)
	}
	return Verdict{
		Kind:   VerdictSecurity,
		Rule:   rule,
		Symbol: symbol,
		Line:   line,
		Reason: reason,
	}
}

func lineOf(err error) int {
	if syntaxErr, ok := err.(*SyntaxError); ok {
		return syntaxErr.Line
	}
	return 0
}
