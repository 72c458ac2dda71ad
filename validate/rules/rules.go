// Package rules implements store.Validator with expression rules.
//
// A schema is a list of rules, usually written in YAML:
//
//	rules:
//	  - name: required
//	    expr: has("$.name")
//	    params: {missingProperty: name}
//	    message: must have required property name
//	  - name: minimum
//	    path: $.age
//	    optional: true
//	    expr: value >= params.limit
//	    params: {limit: 0}
//
// Each expr is an expr-lang program that must evaluate to a bool. It sees
// these names:
//
//	doc       the whole document
//	value     the value at the rule's path, nil when absent
//	params    the rule's params
//	get(p)    the value at $-rooted path p, nil when absent
//	has(p)    whether path p is present
//
// A rule whose program returns false, or fails at run time, is reported as
// a store.Violation.
package rules

import (
	"errors"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/goccy/go-yaml"

	"github.com/jacentio/hashdoc/codec"
	"github.com/jacentio/hashdoc/store"
)

// ErrInvalidSchema is returned for schemas that cannot be parsed or compiled.
var ErrInvalidSchema = errors.New("rules: invalid schema")

// Rule is one named check against a document.
type Rule struct {
	// Name identifies the rule in violations.
	Name string `yaml:"name"`

	// Path is the $-rooted path the rule checks. Default: "$".
	Path string `yaml:"path,omitempty"`

	// Optional skips the rule when nothing is stored at Path.
	Optional bool `yaml:"optional,omitempty"`

	// Expr is the boolean expression the document must satisfy.
	Expr string `yaml:"expr"`

	Params map[string]any `yaml:"params,omitempty"`

	// Message describes a failure. Default: "must satisfy <name>".
	Message string `yaml:"message,omitempty"`
}

// Schema is an ordered set of rules.
type Schema struct {
	Rules []Rule `yaml:"rules"`
}

// ParseSchema decodes a YAML schema. Unknown fields are rejected.
func ParseSchema(data []byte) (Schema, error) {
	var s Schema
	if err := yaml.UnmarshalWithOptions(data, &s, yaml.DisallowUnknownField()); err != nil {
		return Schema{}, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}
	return s, nil
}

// env is what a rule program runs against.
type env struct {
	Doc    any                    `expr:"doc"`
	Value  any                    `expr:"value"`
	Params map[string]any         `expr:"params"`
	Get    func(path string) any  `expr:"get"`
	Has    func(path string) bool `expr:"has"`
}

type compiled struct {
	rule    Rule
	path    []codec.Segment
	program *vm.Program
}

// Validator checks documents against a compiled schema. It is safe for
// concurrent use.
type Validator struct {
	rules []compiled
}

var _ store.Validator = (*Validator)(nil)

// Compile compiles every rule of s.
func Compile(s Schema) (*Validator, error) {
	v := &Validator{rules: make([]compiled, 0, len(s.Rules))}
	for i, r := range s.Rules {
		if r.Name == "" {
			return nil, fmt.Errorf("%w: rule %d has no name", ErrInvalidSchema, i)
		}
		if r.Expr == "" {
			return nil, fmt.Errorf("%w: rule %q has no expr", ErrInvalidSchema, r.Name)
		}
		if r.Path == "" {
			r.Path = "$"
		}
		path, err := codec.ParsePath(r.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %q: %w", ErrInvalidSchema, r.Name, err)
		}
		program, err := expr.Compile(r.Expr, expr.Env(env{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("%w: rule %q: %w", ErrInvalidSchema, r.Name, err)
		}
		v.rules = append(v.rules, compiled{rule: r, path: path, program: program})
	}
	return v, nil
}

// MustCompile is like Compile but panics on error. It is meant for schemas
// fixed at build time.
func MustCompile(s Schema) *Validator {
	v, err := Compile(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate runs every rule against doc and returns the failures in rule order.
func (v *Validator) Validate(doc any) []store.Violation {
	get := func(p string) any {
		segs, err := codec.ParsePath(p)
		if err != nil {
			return nil
		}
		val, _ := lookup(doc, segs)
		return val
	}
	has := func(p string) bool {
		segs, err := codec.ParsePath(p)
		if err != nil {
			return false
		}
		_, ok := lookup(doc, segs)
		return ok
	}

	var violations []store.Violation
	for _, c := range v.rules {
		value, ok := lookup(doc, c.path)
		if !ok && c.rule.Optional {
			continue
		}
		out, err := expr.Run(c.program, env{
			Doc:    doc,
			Value:  value,
			Params: c.rule.Params,
			Get:    get,
			Has:    has,
		})
		if err != nil {
			violations = append(violations, violation(c.rule, fmt.Sprintf("cannot evaluate: %v", err)))
			continue
		}
		if pass, _ := out.(bool); !pass {
			violations = append(violations, violation(c.rule, ""))
		}
	}
	return violations
}

func violation(r Rule, msg string) store.Violation {
	if msg == "" {
		msg = r.Message
	}
	if msg == "" {
		msg = "must satisfy " + r.Name
	}
	return store.Violation{
		Path:    r.Path,
		Rule:    r.Name,
		Params:  r.Params,
		Message: msg,
	}
}

// lookup walks segs from the root of doc.
func lookup(doc any, segs []codec.Segment) (any, bool) {
	cur := doc
	for _, seg := range segs {
		switch node := cur.(type) {
		case map[string]any:
			if seg.IsIndex {
				return nil, false
			}
			next, ok := node[seg.Key]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			if !seg.IsIndex || seg.Index >= len(node) {
				return nil, false
			}
			cur = node[seg.Index]
		default:
			return nil, false
		}
	}
	if _, undefined := cur.(codec.UndefinedValue); undefined {
		return nil, false
	}
	return cur, true
}
