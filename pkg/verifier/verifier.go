// Package verifier gates candidate outcomes before they can reach settlement.
// Checks only ever reject; nothing here can upgrade a failed attempt.
package verifier

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/subjective-labs/resolver/pkg/contracts"
)

// outputSchema is the contract every resolution payload must satisfy before
// any semantic check runs.
const outputSchema = `{
  "type": "object",
  "required": ["decision", "reason"],
  "properties": {
    "decision": {"type": "string", "enum": ["true", "false", "invalid"]},
    "reason": {"type": "string", "minLength": 1},
    "sources": {"type": "array", "items": {"type": "string"}},
    "data": {"type": "object"}
  }
}`

type Verifier struct {
	schema *jsonschema.Schema
	env    *cel.Env

	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

func New() (*Verifier, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const schemaURL = "https://resolver.schemas.local/resolution.schema.json"
	if err := c.AddResource(schemaURL, strings.NewReader(outputSchema)); err != nil {
		return nil, fmt.Errorf("verifier: schema load: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("verifier: schema compile: %w", err)
	}

	env, err := cel.NewEnv(
		cel.Variable("decision", cel.StringType),
		cel.Variable("price", cel.DoubleType),
		cel.Variable("data", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("verifier: cel env: %w", err)
	}

	return &Verifier{
		schema:   compiled,
		env:      env,
		prgCache: make(map[string]cel.Program),
	}, nil
}

// ruleRe lifts an optional acceptance rule embedded in the oracle question,
// e.g. "rule: decision != 'invalid' && price <= 1.0".
var ruleRe = regexp.MustCompile(`(?m)^\s*rule:\s*(.+?)\s*$`)

// RuleFromAncillary extracts the CEL acceptance rule from the ancillary data,
// if the requester embedded one. Empty string means no extra rule.
func RuleFromAncillary(ancillary []byte) string {
	m := ruleRe.FindSubmatch(ancillary)
	if m == nil {
		return ""
	}
	return string(m[1])
}

// Verify runs the acceptance checks in order: payload shape, then the
// per-request rule, then source evidence. The first failure wins and is
// always semantic: retrying the same attempt cannot fix a rejected payload,
// but a fresh attempt might produce an acceptable one.
func (v *Verifier) Verify(req *contracts.Request, att *contracts.Attempt, payload map[string]any) error {
	if err := v.schema.Validate(payload); err != nil {
		return contracts.Semantic(fmt.Errorf("payload rejected by schema: %w", err))
	}

	decision, _ := payload["decision"].(string)
	outcome := contracts.Outcome(decision)
	if !outcome.Valid() {
		return contracts.Semantic(fmt.Errorf("unknown decision %q", decision))
	}

	if rule := RuleFromAncillary(req.AncillaryData); rule != "" {
		ok, err := v.evalRule(rule, decision, float64(outcome.Price()), payload)
		if err != nil {
			return contracts.Semantic(fmt.Errorf("acceptance rule: %w", err))
		}
		if !ok {
			return contracts.Semantic(fmt.Errorf("acceptance rule %q not satisfied", rule))
		}
	}

	// Definitive answers need provenance. An invalid outcome may legitimately
	// have none, e.g. when the data source was unreachable.
	if outcome != contracts.OutcomeInvalid {
		if len(att.SourceEvidence) == 0 {
			return contracts.Semantic(fmt.Errorf("decision %q has no source evidence", decision))
		}
		for _, s := range att.SourceEvidence {
			if s.Hash == "" {
				return contracts.Semantic(fmt.Errorf("source %q missing content hash", s.URL))
			}
		}
	}

	return nil
}

func (v *Verifier) evalRule(rule, decision string, price float64, payload map[string]any) (bool, error) {
	prg, err := v.program(rule)
	if err != nil {
		return false, err
	}

	data, _ := payload["data"].(map[string]any)
	if data == nil {
		data = map[string]any{}
	}
	out, _, err := prg.Eval(map[string]any{
		"decision": decision,
		"price":    price,
		"data":     data,
	})
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule evaluated to %T, want bool", out.Value())
	}
	return b, nil
}

func (v *Verifier) program(rule string) (cel.Program, error) {
	v.mu.RLock()
	prg, ok := v.prgCache[rule]
	v.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := v.env.Compile(rule)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	prg, err := v.env.Program(ast)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.prgCache[rule] = prg
	v.mu.Unlock()
	return prg, nil
}
