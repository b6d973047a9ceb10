// Package pricing compiles the operator-configured price adjustment rule. The
// rule is a CEL expression evaluated against each price field of an upstream
// snapshot, so deployments can express currency markup or margin ("price *
// 1.16", "price < 100.0 ? price : price * 0.95") without code changes.
package pricing

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/granverde/stocklink/internal/product"
)

// Rule wraps a compiled CEL program. A nil Rule applies no adjustment.
type Rule struct {
	source  string
	program cel.Program
}

// Compile prepares the expression. Empty sources return a nil rule so the
// configuration field stays optional.
func Compile(expression string) (*Rule, error) {
	source := strings.TrimSpace(expression)
	if source == "" {
		return nil, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("price", cel.DoubleType),
		cel.Variable("regularPrice", cel.DoubleType),
		cel.Variable("salePrice", cel.DoubleType),
		cel.Variable("stock", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("pricing: build environment: %w", err)
	}
	ast, issues := env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("pricing: compile %q: %w", source, issues.Err())
	}
	if t := ast.OutputType(); t != cel.DoubleType && t != cel.IntType && t != cel.DynType {
		return nil, fmt.Errorf("pricing: %q must yield a number, got %s", source, cel.FormatCELType(t))
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("pricing: program %q: %w", source, err)
	}
	return &Rule{source: source, program: program}, nil
}

// Source returns the original expression for logging.
func (r *Rule) Source() string {
	if r == nil {
		return ""
	}
	return r.source
}

// Apply returns a copy of the snapshot with every present price field run
// through the rule. The stock quantity is exposed to the expression but never
// modified.
func (r *Rule) Apply(snap product.Snapshot) (product.Snapshot, error) {
	if r == nil {
		return snap, nil
	}
	price, err := r.eval(snap.Price, snap)
	if err != nil {
		return snap, err
	}
	regular := snap.RegularPrice
	if regular != nil {
		adjusted, err := r.eval(*regular, snap)
		if err != nil {
			return snap, err
		}
		regular = product.FloatPtr(adjusted)
	}
	sale := snap.SalePrice
	if sale != nil {
		adjusted, err := r.eval(*sale, snap)
		if err != nil {
			return snap, err
		}
		sale = product.FloatPtr(adjusted)
	}
	return snap.WithPrices(price, regular, sale), nil
}

func (r *Rule) eval(price float64, snap product.Snapshot) (float64, error) {
	stock, _ := snap.Stock()
	vars := map[string]any{
		"price":        price,
		"regularPrice": deref(snap.RegularPrice, snap.Price),
		"salePrice":    deref(snap.SalePrice, snap.Price),
		"stock":        int64(stock),
	}
	val, _, err := r.program.Eval(vars)
	if err != nil {
		return 0, fmt.Errorf("pricing: eval %q: %w", r.source, err)
	}
	switch v := val.Value().(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("pricing: %q yielded non-numeric result %T", r.source, v)
	}
}

func deref(v *float64, fallbackValue float64) float64 {
	if v == nil {
		return fallbackValue
	}
	return *v
}
