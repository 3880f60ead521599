// Package checks provides the CEL-based custom validation check engine.
//
// Custom checks supplement the built-in commission checks: each is a CEL
// expression over deal fields that returns bool, where true means the
// record violates the check and its message is appended as an issue. With
// no checks loaded the engine contributes nothing, leaving the built-in
// validation contract untouched.
package checks

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine compiles and evaluates custom checks.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*compiledCheck
}

type compiledCheck struct {
	config  *domain.CheckConfig
	program cel.Program
}

// NewEngine creates a check engine with the deal-record CEL environment.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("deal_id", cel.StringType),
		cel.Variable("sales_rep", cel.StringType),
		cel.Variable("region", cel.StringType),
		cel.Variable("product_tier", cel.StringType),
		cel.Variable("deal_size", cel.DoubleType),
		cel.Variable("commission_rate", cel.DoubleType),
		cel.Variable("commission_amount", cel.DoubleType),
		cel.Variable("expected_rate", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		compiled: make(map[string]*compiledCheck),
	}, nil
}

// ValidateCheck compiles a check without mutating loaded engine state.
func (e *Engine) ValidateCheck(cfg *domain.CheckConfig) error {
	if cfg == nil {
		return fmt.Errorf("check config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileCheck(cfg)
	return err
}

// LoadCheck compiles and loads a check into the engine.
func (e *Engine) LoadCheck(cfg *domain.CheckConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileCheck(cfg)
	if err != nil {
		return err
	}

	e.compiled[cfg.ID] = compiled
	return nil
}

// LoadChecks compiles and loads all enabled checks.
func (e *Engine) LoadChecks(configs []*domain.CheckConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadCheck(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadChecks clears all existing checks and loads new ones. This enables
// hot-reloading of checks from the repository.
func (e *Engine) ReloadChecks(configs []*domain.CheckConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	fresh := make(map[string]*compiledCheck)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileCheck(cfg)
		if err != nil {
			return err
		}
		fresh[cfg.ID] = compiled
	}

	e.compiled = fresh
	return nil
}

// RemoveCheck unloads a check by ID.
func (e *Engine) RemoveCheck(checkID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.compiled, checkID)
}

// ChecksCount returns the number of loaded checks.
func (e *Engine) ChecksCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// LoadedChecks returns the currently loaded check configurations.
func (e *Engine) LoadedChecks() []*domain.CheckConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	configs := make([]*domain.CheckConfig, 0, len(e.compiled))
	for _, c := range e.compiled {
		configs = append(configs, c.config)
	}
	return configs
}

// Evaluate runs every loaded check against a record and returns the
// messages of the checks it violates. The expectedRate is the rate the
// validation engine derived for the record, or zero when the tier is
// unknown.
func (e *Engine) Evaluate(record *domain.DealRecord, expectedRate float64) []string {
	e.mu.RLock()
	loaded := make([]*compiledCheck, 0, len(e.compiled))
	for _, c := range e.compiled {
		loaded = append(loaded, c)
	}
	e.mu.RUnlock()

	if len(loaded) == 0 {
		return nil
	}

	activation := map[string]any{
		"deal_id":           record.DealID,
		"sales_rep":         record.SalesRep,
		"region":            record.Region,
		"product_tier":      record.ProductTier,
		"deal_size":         record.DealSize,
		"commission_rate":   record.CommissionRate,
		"commission_amount": record.CommissionAmount,
		"expected_rate":     expectedRate,
	}

	var issues []string
	for _, c := range loaded {
		out, _, err := c.program.Eval(activation)
		if err != nil {
			issues = append(issues, fmt.Sprintf("Check %q evaluation error: %v", c.config.Name, err))
			continue
		}
		if violated, ok := out.(types.Bool); ok && bool(violated) {
			issues = append(issues, c.config.Message)
		}
	}
	return issues
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = make(map[string]*compiledCheck)
	return nil
}

func (e *Engine) compileCheck(cfg *domain.CheckConfig) (*compiledCheck, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile check %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("check %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for check %s: %w", cfg.ID, err)
	}

	return &compiledCheck{
		config:  cfg,
		program: program,
	}, nil
}
