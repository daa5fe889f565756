// Package executor runs a single resolution attempt end to end: pick or
// generate the resolution program, run it in a sandbox, and shape the
// transcript into an attempt record. Lifecycle and retry policy live with the
// scheduler; this package only knows how to try once.
package executor

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"golang.org/x/crypto/sha3"

	"github.com/subjective-labs/resolver/pkg/codegen"
	"github.com/subjective-labs/resolver/pkg/contracts"
	"github.com/subjective-labs/resolver/pkg/sandbox"
)

// DebugSink persists attempt transcripts. Satisfied by *evidence.Store.
type DebugSink interface {
	PutDebug(ctx context.Context, attempt *contracts.Attempt) error
}

type Executor struct {
	service  sandbox.Runner
	wasi     sandbox.Runner
	gen      codegen.Client
	registry *Registry
	debug    DebugSink
	timeout  time.Duration
	logger   *slog.Logger
}

func New(service, wasi sandbox.Runner, gen codegen.Client, registry *Registry, debug DebugSink, timeout time.Duration) *Executor {
	if registry == nil {
		registry = &Registry{byIdentifier: map[string]Template{}}
	}
	return &Executor{
		service:  service,
		wasi:     wasi,
		gen:      gen,
		registry: registry,
		debug:    debug,
		timeout:  timeout,
		logger:   slog.Default().With("component", "executor"),
	}
}

// Resolve runs one attempt and returns the attempt record plus the parsed
// resolution payload. The transcript is persisted whether or not the attempt
// produced a usable outcome; a failed run is still evidence.
func (e *Executor) Resolve(ctx context.Context, req *contracts.Request) (*contracts.Attempt, map[string]any, error) {
	att := &contracts.Attempt{
		ID:        uuid.NewString(),
		RequestID: req.ID,
		StartedAt: time.Now().UTC(),
	}
	defer func() {
		if e.debug == nil {
			return
		}
		if err := e.debug.PutDebug(context.WithoutCancel(ctx), att); err != nil {
			e.logger.Warn("debug transcript not persisted", "request_id", req.ID, "error", err)
		}
	}()

	runner, job, err := e.buildJob(ctx, req, att)
	if err != nil {
		return att, nil, err
	}

	res, err := runner.Execute(ctx, job)
	if res != nil {
		att.Stdout = res.Stdout
		att.Stderr = res.Stderr
	}
	if err != nil {
		return att, nil, err
	}

	payload, err := extractPayload(att.Stdout)
	if err != nil {
		// The program ran but produced garbage. A regenerated script may do
		// better, so this consumes an attempt rather than ending the request.
		return att, nil, contracts.Semantic(fmt.Errorf("%w; stderr: %.200s", err, att.Stderr))
	}

	decision, _ := payload["decision"].(string)
	att.CandidateOutcome = contracts.Outcome(decision)
	att.Reason, _ = payload["reason"].(string)
	att.Price = att.CandidateOutcome.Price()
	if raw, err := json.Marshal(payload); err == nil {
		att.ReturnValue = string(raw)
	}

	attestation, err := dataAttestation(payload)
	if err != nil {
		return att, nil, contracts.Semantic(fmt.Errorf("payload attestation: %w", err))
	}
	for _, url := range payloadSources(payload) {
		att.SourceEvidence = append(att.SourceEvidence, contracts.SourceRef{
			URL:         url,
			Hash:        attestation,
			RetrievedAt: att.StartedAt,
		})
	}

	e.logger.Info("attempt complete",
		"request_id", req.ID,
		"attempt_id", att.ID,
		"decision", decision,
		"template", att.TemplateRef)
	return att, payload, nil
}

// buildJob selects the execution path: a vetted template when the identifier
// has one, generated code otherwise.
func (e *Executor) buildJob(ctx context.Context, req *contracts.Request, att *contracts.Attempt) (sandbox.Runner, sandbox.Job, error) {
	if tpl, ok := e.registry.Lookup(req.Identifier); ok {
		wasm, err := os.ReadFile(tpl.WasmPath)
		if err != nil {
			return nil, sandbox.Job{}, contracts.Permanent(fmt.Errorf("template %s: %w", tpl.Name, err))
		}
		att.TemplateRef = tpl.Name
		att.Confidence = "HIGH"

		input, err := json.Marshal(map[string]any{
			"request_id": req.ID,
			"identifier": req.Identifier,
			"timestamp":  req.RequestTimestamp.Unix(),
			"ancillary":  string(req.AncillaryData),
		})
		if err != nil {
			return nil, sandbox.Job{}, err
		}
		return e.wasi, sandbox.Job{
			Wasm:         wasm,
			Input:        input,
			Timeout:      e.timeout,
			AllowedHosts: tpl.AllowedHosts,
		}, nil
	}

	code, confidence, err := e.script(ctx, req)
	if err != nil {
		return nil, sandbox.Job{}, err
	}
	att.GeneratedCode = code
	att.Confidence = confidence

	policy := sandbox.DefaultPolicy()
	for _, url := range urlRe.FindAllString(string(req.AncillaryData), -1) {
		_ = policy.AllowURL(url)
	}
	return e.service, sandbox.Job{
		Code:         code,
		Timeout:      e.timeout,
		AllowedHosts: policy.AllowedHosts,
	}, nil
}

// script returns the resolution program for req. Prepared code staged before
// the resolve window opens is reused as-is on the first try; once an attempt
// has failed, regeneration runs with the failure fed back into the prompt.
func (e *Executor) script(ctx context.Context, req *contracts.Request) (string, string, error) {
	if req.PreparedCode != "" && req.LastError == "" {
		return req.PreparedCode, req.PreparedConfidence, nil
	}

	code, err := e.generate(ctx, req, req.PreparedCode, req.LastError)
	if err != nil {
		return "", "", err
	}

	analysis := codegen.AnalyzeScript(code)
	if !analysis.OK {
		return "", "", contracts.Semantic(fmt.Errorf("generated script rejected: %v", analysis.Issues))
	}
	return code, analysis.Confidence(), nil
}

// PrepareScript generates and vets a resolution program ahead of the resolve
// window, so dispatch does not pay generation latency. The caller stages the
// result on the request record.
func (e *Executor) PrepareScript(ctx context.Context, req *contracts.Request) (string, string, error) {
	code, err := e.generate(ctx, req, "", "")
	if err != nil {
		return "", "", err
	}
	analysis := codegen.AnalyzeScript(code)
	if !analysis.OK {
		return "", "", contracts.Semantic(fmt.Errorf("prepared script rejected: %v", analysis.Issues))
	}
	return code, analysis.Confidence(), nil
}

func (e *Executor) generate(ctx context.Context, req *contracts.Request, previousCode, previousErr string) (string, error) {
	if e.gen == nil {
		return "", contracts.Permanent(fmt.Errorf("no template for %s and code generation disabled", req.Identifier))
	}

	sanitized, placeholders := codegen.SanitizeAncillary(string(req.AncillaryData))
	task := codegen.BuildResolutionTask(sanitized, placeholders, codegen.PromptContext{
		RequestID:    req.ID,
		Identifier:   req.Identifier,
		Timestamp:    req.RequestTimestamp.Unix(),
		PreviousCode: previousCode,
		PreviousErr:  previousErr,
	})

	code, err := e.gen.Generate(ctx, task)
	if err != nil {
		return "", contracts.Transient(fmt.Errorf("code generation: %w", err))
	}
	return codegen.RestorePlaceholders(code, placeholders), nil
}

var urlRe = regexp.MustCompile(`https?://[^\s"'<>]+`)

// dataAttestation hashes the canonical form of the payload's observed data so
// the evidence bundle binds the decision to what the program actually saw.
func dataAttestation(payload map[string]any) (string, error) {
	subset := map[string]any{
		"decision": payload["decision"],
		"sources":  payload["sources"],
		"data":     payload["data"],
	}
	raw, err := json.Marshal(subset)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(canonical)
	return "0x" + hex.EncodeToString(h.Sum(nil)), nil
}
