package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/errandhq/errand/internal/tools"
	"github.com/errandhq/errand/provider"
)

// PlanningOracle converts a request plus accumulated history into plans and
// decisions. CreatePlan returns either a plan or an escalate decision, never
// both. Both calls block until a response or the configured timeout.
type PlanningOracle interface {
	CreatePlan(ctx context.Context, requestText string, catalog []tools.Tool, history []Entry) (*Plan, *Decision, error)
	Decide(ctx context.Context, requestText string, catalog []tools.Tool, history []Entry, latest []StepResult) (Decision, error)
}

// OracleConfig bounds the oracle's retry and correction behavior.
type OracleConfig struct {
	Timeout        time.Duration // per-call timeout
	MaxRetries     int           // retries on transient provider failure
	MaxCorrections int           // bounded attempts to fix a malformed plan
	Backoff        time.Duration // base backoff, doubled per attempt
}

func (c *OracleConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.MaxCorrections <= 0 {
		c.MaxCorrections = 2
	}
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
}

// LLMOracle implements PlanningOracle over any registered LLM provider. All
// prompt and response-format concerns live here; the state machine sees only
// Plan and Decision values.
type LLMOracle struct {
	llm    provider.Provider
	cfg    OracleConfig
	logger *log.Logger
}

// NewLLMOracle wires an oracle over the given provider.
func NewLLMOracle(llm provider.Provider, cfg OracleConfig) *LLMOracle {
	cfg.defaults()
	return &LLMOracle{
		llm:    llm,
		cfg:    cfg,
		logger: log.New(os.Stdout, "[ORACLE] ", log.LstdFlags),
	}
}

const planSystemPrompt = `You are a task planning assistant. Given a user request and a catalog of available tools, produce an execution plan.

RULES:
1. Use only tools from the catalog, with their exact names.
2. List steps in dependency order. A step may reference outputs of earlier steps with placeholders like {{step_1.result}} and must declare those steps in depends_on (zero-based indices into the steps array).
3. Include every required argument declared by the tool's input schema.
4. If the request needs no tools, return an empty steps array and put the direct answer in "reasoning".
5. If the request is ambiguous or unsafe, escalate instead of guessing.

RESPONSE FORMAT:
Respond ONLY with valid JSON in one of these shapes:
{"steps": [{"tool_name": "...", "arguments": {...}, "description": "...", "depends_on": [0]}], "reasoning": "..."}
or
{"escalate": true, "question": "what you need the human to clarify"}
Do not include any other text or explanation.`

const decideSystemPrompt = `You are a task decision assistant. Given a user request, the execution history and the latest step results, decide what happens next.

RULES:
1. "finish" when the request is satisfied or no further tool use can improve the outcome; put the final user-facing answer in "message", summarizing what succeeded and what failed.
2. "replan" when remaining steps no longer make sense; supply a full new plan in "plan" using the same shape as a planning response.
3. "continue" when the current plan's remaining steps should proceed as written.
4. "escalate" when human input is required; put the question in "message".

RESPONSE FORMAT:
Respond ONLY with valid JSON:
{"decision_type": "continue|replan|finish|escalate", "next_action": "...", "message": "...", "plan": {"steps": [...], "reasoning": "..."}}
Omit "plan" unless replanning. Do not include any other text or explanation.`

// CreatePlan asks the provider for a plan, validating and retrying per the
// configured budgets. Malformed plans are fed back as correction prompts up
// to MaxCorrections before the call fails.
func (o *LLMOracle) CreatePlan(ctx context.Context, requestText string, catalog []tools.Tool, history []Entry) (*Plan, *Decision, error) {
	messages := []provider.Message{
		{Role: "system", Content: planSystemPrompt},
		{Role: "user", Content: o.planUserPrompt(requestText, catalog, history)},
	}

	for correction := 0; ; correction++ {
		response, err := o.generate(ctx, messages)
		if err != nil {
			return nil, nil, err
		}
		plan, escalate, parseErr := parsePlanResponse(response)
		if parseErr == nil && plan != nil {
			parseErr = ValidatePlan(plan, catalog)
		}
		if parseErr != nil {
			if correction >= o.cfg.MaxCorrections {
				return nil, nil, fmt.Errorf("plan rejected after %d correction attempts: %w", correction, parseErr)
			}
			o.logger.Printf("malformed plan (attempt %d): %v", correction+1, parseErr)
			messages = append(messages,
				provider.Message{Role: "assistant", Content: response},
				provider.Message{Role: "user", Content: fmt.Sprintf("Your plan was rejected: %v. Produce a corrected plan in the same JSON format.", parseErr)},
			)
			continue
		}
		if escalate != nil {
			return nil, escalate, nil
		}
		return plan, nil, nil
	}
}

// Decide asks the provider for the next move given fresh results. A replan
// decision carrying a malformed plan goes through the same bounded
// correction loop as CreatePlan.
func (o *LLMOracle) Decide(ctx context.Context, requestText string, catalog []tools.Tool, history []Entry, latest []StepResult) (Decision, error) {
	messages := []provider.Message{
		{Role: "system", Content: decideSystemPrompt},
		{Role: "user", Content: o.decideUserPrompt(requestText, catalog, history, latest)},
	}

	for correction := 0; ; correction++ {
		response, err := o.generate(ctx, messages)
		if err != nil {
			return Decision{}, err
		}
		decision, parseErr := parseDecisionResponse(response)
		if parseErr == nil && decision.Type == DecisionReplan {
			if decision.Plan == nil {
				parseErr = fmt.Errorf("replan decision carries no plan")
			} else {
				parseErr = ValidatePlan(decision.Plan, catalog)
			}
		}
		if parseErr != nil {
			if correction >= o.cfg.MaxCorrections {
				return Decision{}, fmt.Errorf("decision rejected after %d correction attempts: %w", correction, parseErr)
			}
			o.logger.Printf("malformed decision (attempt %d): %v", correction+1, parseErr)
			messages = append(messages,
				provider.Message{Role: "assistant", Content: response},
				provider.Message{Role: "user", Content: fmt.Sprintf("Your decision was rejected: %v. Produce a corrected decision in the same JSON format.", parseErr)},
			)
			continue
		}
		return decision, nil
	}
}

// generate calls the provider with the per-call timeout, retrying transient
// failures with exponential backoff.
func (o *LLMOracle) generate(ctx context.Context, messages []provider.Message) (string, error) {
	var lastErr error
	backoff := o.cfg.Backoff
	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			backoff *= 2
		}
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
		response, err := o.llm.Generate(callCtx, messages, 4096)
		cancel()
		if err == nil {
			return response, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !provider.IsTransient(err) {
			return "", err
		}
		o.logger.Printf("provider call failed (attempt %d/%d): %v", attempt+1, o.cfg.MaxRetries+1, err)
	}
	return "", fmt.Errorf("oracle unavailable: %w", lastErr)
}

func (o *LLMOracle) planUserPrompt(requestText string, catalog []tools.Tool, history []Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "AVAILABLE TOOLS:\n%s\n\n", renderCatalog(catalog))
	if h := renderHistory(history); h != "" {
		fmt.Fprintf(&b, "PRIOR HISTORY:\n%s\n\n", h)
	}
	fmt.Fprintf(&b, "USER REQUEST: %q\n", requestText)
	return b.String()
}

func (o *LLMOracle) decideUserPrompt(requestText string, catalog []tools.Tool, history []Entry, latest []StepResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "USER REQUEST: %q\n\n", requestText)
	fmt.Fprintf(&b, "AVAILABLE TOOLS:\n%s\n\n", renderCatalog(catalog))
	if h := renderHistory(history); h != "" {
		fmt.Fprintf(&b, "EXECUTION HISTORY:\n%s\n\n", h)
	}
	b.WriteString("LATEST STEP RESULTS:\n")
	for _, r := range latest {
		line, _ := json.Marshal(r)
		b.Write(line)
		b.WriteByte('\n')
	}
	return b.String()
}

func renderCatalog(catalog []tools.Tool) string {
	var b strings.Builder
	for _, t := range catalog {
		schema, _ := json.Marshal(t.InputSchema)
		fmt.Fprintf(&b, "- %s: %s schema=%s\n", t.Name, t.Description, schema)
	}
	return b.String()
}

// renderHistory keeps the oracle context compact: plans shrink to step
// summaries and results shrink to status plus a truncated payload.
func renderHistory(history []Entry) string {
	var b strings.Builder
	for _, e := range history {
		switch e.Kind {
		case EntryTurn:
			if e.Turn == nil {
				continue
			}
			fmt.Fprintf(&b, "%s: %s\n", e.Turn.Role, e.Turn.Content)
		case EntryPlan:
			if e.Plan == nil {
				continue
			}
			fmt.Fprintf(&b, "plan %s:", e.Plan.PlanID)
			for i, s := range e.Plan.Steps {
				fmt.Fprintf(&b, " [%d] %s", i, s.ToolName)
			}
			b.WriteByte('\n')
		case EntryStepResult:
			if e.Result == nil {
				continue
			}
			payload, _ := json.Marshal(e.Result.Output)
			if len(payload) > 400 {
				payload = payload[:400]
			}
			fmt.Fprintf(&b, "step %s (%s): %s", e.Result.StepID, e.Result.ToolName, e.Result.Status)
			if e.Result.Error != "" {
				fmt.Fprintf(&b, " error=%q", e.Result.Error)
			} else {
				fmt.Fprintf(&b, " output=%s", payload)
			}
			b.WriteByte('\n')
		case EntryDecision:
			if e.Decision == nil {
				continue
			}
			fmt.Fprintf(&b, "decision: %s %s\n", e.Decision.Type, e.Decision.NextAction)
		}
	}
	return b.String()
}

// parsePlanResponse extracts the first balanced JSON object from the
// response and decodes it as either a plan or an escalation.
func parsePlanResponse(response string) (*Plan, *Decision, error) {
	jsonStr, err := extractJSON(response)
	if err != nil {
		return nil, nil, err
	}
	var raw struct {
		Escalate  bool            `json:"escalate"`
		Question  string          `json:"question"`
		Steps     []rawPlanStep   `json:"steps"`
		Reasoning string          `json:"reasoning"`
		Plan      json.RawMessage `json:"plan"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, nil, fmt.Errorf("invalid plan JSON: %w", err)
	}
	if raw.Escalate {
		return nil, &Decision{Type: DecisionEscalate, Message: raw.Question}, nil
	}
	return buildPlan(raw.Steps, raw.Reasoning), nil, nil
}

type rawPlanStep struct {
	ToolName    string                 `json:"tool_name"`
	Arguments   map[string]interface{} `json:"arguments"`
	Description string                 `json:"description"`
	DependsOn   []int                  `json:"depends_on"`
}

func buildPlan(steps []rawPlanStep, reasoning string) *Plan {
	plan := &Plan{
		PlanID:    uuid.NewString(),
		Reasoning: reasoning,
		CreatedAt: time.Now(),
	}
	for i, s := range steps {
		plan.Steps = append(plan.Steps, Step{
			ID:          fmt.Sprintf("step_%d", i+1),
			ToolName:    s.ToolName,
			Arguments:   s.Arguments,
			Description: s.Description,
			DependsOn:   s.DependsOn,
			Status:      StepPending,
		})
	}
	return plan
}

func parseDecisionResponse(response string) (Decision, error) {
	jsonStr, err := extractJSON(response)
	if err != nil {
		return Decision{}, err
	}
	var raw struct {
		DecisionType string `json:"decision_type"`
		NextAction   string `json:"next_action"`
		Message      string `json:"message"`
		Plan         *struct {
			Steps     []rawPlanStep `json:"steps"`
			Reasoning string        `json:"reasoning"`
		} `json:"plan"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return Decision{}, fmt.Errorf("invalid decision JSON: %w", err)
	}
	d := Decision{
		Type:       DecisionType(raw.DecisionType),
		NextAction: raw.NextAction,
		Message:    raw.Message,
	}
	switch d.Type {
	case DecisionContinue, DecisionReplan, DecisionFinish, DecisionEscalate:
	default:
		return Decision{}, fmt.Errorf("unknown decision type %q", raw.DecisionType)
	}
	if raw.Plan != nil {
		d.Plan = buildPlan(raw.Plan.Steps, raw.Plan.Reasoning)
	}
	return d, nil
}

// extractJSON finds the first balanced top-level JSON object, tolerating
// markdown fences and prose around it.
func extractJSON(response string) (string, error) {
	start, depth := -1, 0
	inString, escaped := false, false
	for i, ch := range response {
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					return response[start : i+1], nil
				}
			}
		}
	}
	return "", fmt.Errorf("no JSON found in response")
}

// ValidatePlan rejects plans the dispatcher could not execute: unknown tool
// names, dependencies pointing outside the plan or forward, cycles, and
// missing required arguments per the tool's input schema. Arguments whose
// values are placeholders pass the presence check; their contents are only
// known at dispatch time.
func ValidatePlan(plan *Plan, catalog []tools.Tool) error {
	byName := make(map[string]tools.Tool, len(catalog))
	for _, t := range catalog {
		byName[t.Name] = t
	}
	for i, step := range plan.Steps {
		tool, ok := byName[step.ToolName]
		if !ok {
			return fmt.Errorf("step %d references unknown tool %q", i, step.ToolName)
		}
		for _, dep := range step.DependsOn {
			if dep < 0 || dep >= len(plan.Steps) {
				return fmt.Errorf("step %d depends on out-of-range step %d", i, dep)
			}
			if dep >= i {
				return fmt.Errorf("step %d depends on step %d, which does not precede it", i, dep)
			}
		}
		if err := checkRequiredArgs(tool, step.Arguments); err != nil {
			return fmt.Errorf("step %d (%s): %w", i, step.ToolName, err)
		}
	}
	return nil
}

func checkRequiredArgs(tool tools.Tool, args map[string]interface{}) error {
	if tool.InputSchema == nil {
		return nil
	}
	req, ok := tool.InputSchema["required"]
	if !ok {
		return nil
	}
	var keys []string
	switch v := req.(type) {
	case []string:
		keys = v
	case []interface{}:
		for _, raw := range v {
			if key, ok := raw.(string); ok {
				keys = append(keys, key)
			}
		}
	}
	for _, key := range keys {
		if _, present := args[key]; !present {
			return fmt.Errorf("missing required argument %q", key)
		}
	}
	return nil
}
