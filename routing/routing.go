package routing

import (
	"context"
	"errors"
	"fmt"

	"github.com/danthegoodman1/EchoNext/tracing"
	"github.com/gobwas/glob"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrInvalidRule = errors.New("invalid rule")

	globSeparators = []rune{'/'}
)

type (
	// Rule sends every request whose path matches Pattern straight to the hosted framework,
	// skipping echo's router.
	Rule struct {
		// Uses https://github.com/gobwas/glob with / as the separator, so * stays within one
		// path segment and ** crosses them.
		Pattern string `json:",omitempty"`

		// Rewrite is the path the hosted framework renders instead of the request path. Empty
		// keeps the request path.
		Rewrite string `json:",omitempty"`
	}

	Table struct {
		rules []compiledRule
	}

	compiledRule struct {
		Rule
		g glob.Glob
	}
)

// Compile builds a Table, rules are matched in order.
func Compile(rules []Rule) (*Table, error) {
	t := &Table{}
	for i, rule := range rules {
		if rule.Pattern == "" {
			return nil, fmt.Errorf("rule %d has no pattern: %w", i, ErrInvalidRule)
		}
		g, err := glob.Compile(rule.Pattern, globSeparators...)
		if err != nil {
			return nil, fmt.Errorf("error compiling pattern %q: %w", rule.Pattern, errors.Join(ErrInvalidRule, err))
		}
		t.rules = append(t.rules, compiledRule{Rule: rule, g: g})
	}
	return t, nil
}

// Match returns the first rule matching path.
func (t *Table) Match(ctx context.Context, path string) (Rule, bool) {
	_, span := tracing.Tracer.Start(ctx, "matchRule")
	defer span.End()

	if t == nil {
		return Rule{}, false
	}
	for _, rule := range t.rules {
		if rule.g.Match(path) {
			span.SetAttributes(attribute.String("pattern", rule.Pattern))
			return rule.Rule, true
		}
	}
	return Rule{}, false
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rules)
}
