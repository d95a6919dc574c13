package authz

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

//go:embed policy.rego
var defaultPolicy string

const decisionQuery = "data.accesstime.authz.decision"

// Request is the input document of a policy evaluation.
type Request struct {
	Operation string `json:"operation"`
	Caller    string `json:"caller"`
	Owner     string `json:"owner,omitempty"`
	Admin     string `json:"admin,omitempty"`
}

// Decision is the policy verdict for a Request.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason"`
}

// Engine evaluates role rules written in Rego.
type Engine struct {
	policyDir string
	logger    zerolog.Logger

	mu      sync.RWMutex
	query   rego.PreparedEvalQuery
	modules map[string]*ast.Module
}

// NewEngine loads the policies in policyDir, or the built-in policy when
// policyDir is empty, and prepares the decision query.
func NewEngine(policyDir string, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policyDir: policyDir,
		logger:    logger.With().Str("component", "authz").Logger(),
	}

	if err := e.Reload(); err != nil {
		return nil, err
	}

	source := policyDir
	if source == "" {
		source = "builtin"
	}
	e.logger.Info().Str("policy_source", source).Msg("Access policy initialized")

	return e, nil
}

// loadPolicies parses the built-in policy or every .rego file in the policy directory
func (e *Engine) loadPolicies() (map[string]*ast.Module, error) {
	modules := make(map[string]*ast.Module)

	if e.policyDir == "" {
		module, err := ast.ParseModule("policy.rego", defaultPolicy)
		if err != nil {
			return nil, fmt.Errorf("failed to parse built-in policy: %w", err)
		}
		modules["policy.rego"] = module
		return modules, nil
	}

	files, err := filepath.Glob(filepath.Join(e.policyDir, "*.rego"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob policy files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no policy files found in %s", e.policyDir)
	}

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file %s: %w", file, err)
		}

		module, err := ast.ParseModule(file, string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse policy file %s: %w", file, err)
		}

		modules[file] = module
		e.logger.Debug().Str("file", file).Str("package", module.Package.Path.String()).Msg("Loaded policy module")
	}

	return modules, nil
}

// Reload re-reads the policies and swaps in a freshly prepared query.
func (e *Engine) Reload() error {
	modules, err := e.loadPolicies()
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)

	opts := []func(*rego.Rego){rego.Query(decisionQuery)}
	for _, name := range names {
		opts = append(opts, rego.ParsedModule(modules[name]))
	}

	query, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("failed to prepare decision query: %w", err)
	}

	e.mu.Lock()
	e.query = query
	e.modules = modules
	e.mu.Unlock()

	return nil
}

// Authorize evaluates req against the loaded policy.
func (e *Engine) Authorize(ctx context.Context, req Request) (Decision, error) {
	startTime := time.Now()

	e.mu.RLock()
	query := e.query
	e.mu.RUnlock()

	input := map[string]interface{}{
		"operation": req.Operation,
		"caller":    req.Caller,
		"owner":     req.Owner,
		"admin":     req.Admin,
	}

	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("decision query evaluation failed: %w", err)
	}

	e.logger.Debug().
		Str("operation", req.Operation).
		Dur("duration_ms", time.Since(startTime)).
		Msg("Decision query evaluated")

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{}, fmt.Errorf("no results from decision query")
	}

	resultBytes, err := json.Marshal(results[0].Expressions[0].Value)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to marshal decision: %w", err)
	}

	var decision Decision
	if err := json.Unmarshal(resultBytes, &decision); err != nil {
		return Decision{}, fmt.Errorf("failed to unmarshal decision: %w", err)
	}

	return decision, nil
}
