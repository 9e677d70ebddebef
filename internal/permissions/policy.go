package permissions

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/gobwas/glob"
	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidPolicy    = errors.New("invalid policy")
	ErrPolicyEvaluation = errors.New("policy evaluation failed")
)

// PolicyFile is the on-disk shape of an approval policy.
type PolicyFile struct {
	AutoApprove []PolicyRuleSpec `yaml:"auto_approve"`
}

// PolicyRuleSpec is one auto-approve rule. Tool is a glob over tool names;
// When is an optional CEL expression over `tool` (string) and `input` (map)
// that must evaluate to true for the rule to fire.
type PolicyRuleSpec struct {
	Tool string `yaml:"tool"`
	When string `yaml:"when,omitempty"`
}

type policyRule struct {
	pattern glob.Glob
	program cel.Program
}

// Policy decides which tool uses skip the manual approval prompt.
// It is safe for concurrent use; Reload swaps the rule set atomically.
type Policy struct {
	env   *cel.Env
	path  string
	mu    sync.RWMutex
	rules []policyRule
}

// LoadPolicy reads and compiles the policy at path.
func LoadPolicy(path string) (*Policy, error) {
	env, err := cel.NewEnv(
		cel.Variable("tool", cel.StringType),
		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating CEL environment: %w", err)
	}

	p := &Policy{env: env, path: path}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload re-reads the policy file. On error the previous rules stay active.
func (p *Policy) Reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("reading policy file: %w", err)
	}

	var file PolicyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}

	rules := make([]policyRule, 0, len(file.AutoApprove))
	for i, spec := range file.AutoApprove {
		if spec.Tool == "" {
			return fmt.Errorf("%w: rule %d has no tool pattern", ErrInvalidPolicy, i)
		}

		pattern, err := glob.Compile(spec.Tool)
		if err != nil {
			return fmt.Errorf("%w: rule %d pattern %q: %w", ErrInvalidPolicy, i, spec.Tool, err)
		}

		rule := policyRule{pattern: pattern}

		if spec.When != "" {
			ast, issues := p.env.Compile(spec.When)
			if issues != nil && issues.Err() != nil {
				return fmt.Errorf("%w: rule %d condition: %w", ErrInvalidPolicy, i, issues.Err())
			}
			program, err := p.env.Program(ast)
			if err != nil {
				return fmt.Errorf("%w: rule %d condition: %w", ErrInvalidPolicy, i, err)
			}
			rule.program = program
		}

		rules = append(rules, rule)
	}

	p.mu.Lock()
	p.rules = rules
	p.mu.Unlock()
	return nil
}

// AutoApproves reports whether any rule matches the tool use. Rules are
// evaluated in file order; the first full match wins.
func (p *Policy) AutoApproves(toolName string, toolInput map[string]any) (bool, error) {
	p.mu.RLock()
	rules := p.rules
	p.mu.RUnlock()

	for _, rule := range rules {
		if !rule.pattern.Match(toolName) {
			continue
		}
		if rule.program == nil {
			return true, nil
		}

		input := toolInput
		if input == nil {
			input = map[string]any{}
		}

		result, _, err := rule.program.Eval(map[string]any{
			"tool":  toolName,
			"input": input,
		})
		if err != nil {
			return false, fmt.Errorf("%w: %w", ErrPolicyEvaluation, err)
		}

		allowed, ok := result.Value().(bool)
		if !ok {
			return false, fmt.Errorf("%w: condition did not return boolean", ErrPolicyEvaluation)
		}
		if allowed {
			return true, nil
		}
	}

	return false, nil
}

// RuleCount returns the number of loaded rules.
func (p *Policy) RuleCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.rules)
}
