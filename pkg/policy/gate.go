package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/geoexhibit/geoexhibit/pkg/config"
	"github.com/geoexhibit/geoexhibit/pkg/engine"
	"github.com/geoexhibit/geoexhibit/pkg/stac"
	"github.com/rs/zerolog"
)

// Gate decides whether a written catalog may be published.
type Gate struct {
	engine *Engine
	mode   Mode
	logger zerolog.Logger
	now    func() time.Time
}

// NewGate builds a gate from the policy configuration. It returns nil when
// the gate is disabled; a nil Gate allows everything.
func NewGate(ctx context.Context, cfg config.PolicyConfig, logger zerolog.Logger, opts ...Option) (*Gate, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	eng, err := NewEngine(logger, opts...)
	if err != nil {
		return nil, err
	}
	if err := eng.LoadPolicies(ctx, cfg.Paths); err != nil {
		return nil, engine.NewConfigError("invalid policy.paths: %v", err)
	}

	mode := Mode(cfg.Mode)
	if mode == "" {
		mode = ModeAdvisory
	}
	return &Gate{
		engine: eng,
		mode:   mode,
		logger: logger.With().Str("component", "policy-gate").Logger(),
		now:    time.Now,
	}, nil
}

// Engine returns the underlying policy engine.
func (g *Gate) Engine() *Engine { return g.engine }

// Mode returns the gate mode.
func (g *Gate) Mode() Mode { return g.mode }

// Check evaluates the plan summary. In enforcing mode a result with blocking
// violations is returned together with a POLICY_DENIED error.
func (g *Gate) Check(ctx context.Context, plan *engine.PublishPlan, catalog *stac.Catalog, storeRoot string) (*Result, error) {
	if g == nil {
		return &Result{Allowed: true, Violations: []Violation{}}, nil
	}

	result, err := g.engine.Evaluate(ctx, NewInput(plan, catalog, storeRoot, g.now()))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation failed: %w", err)
	}

	log := g.logger.With().Str("job_id", plan.JobID).Logger()
	for _, v := range result.Violations {
		ev := log.Warn()
		if v.Blocking() {
			ev = log.Error()
		}
		ev.Str("policy", v.Policy).
			Str("severity", v.Severity).
			Str("resource", v.Resource).
			Msg(v.Message)
	}

	if result.Allowed {
		return result, nil
	}
	if g.mode != ModeEnforcing {
		log.Warn().Int("blocking", len(result.Blocking())).Msg("Policy violations ignored in advisory mode")
		return result, nil
	}

	blocking := result.Blocking()
	messages := make([]string, 0, len(blocking))
	for _, v := range blocking {
		messages = append(messages, v.Policy+": "+v.Message)
	}
	return result, engine.NewPermanentError("publishing denied by policy", nil).
		WithCode(engine.ErrCodePolicyDenied).
		WithResource(plan.JobID).
		WithOperation("policy").
		WithDetail("violations", strings.Join(messages, "; "))
}
