package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/autoops/autoops/pkg/engine"
	"github.com/autoops/autoops/pkg/telemetry"
)

// ChatModel produces a completion for a prompt pair. Implementations talk
// to an LLM endpoint; tests substitute canned responses.
type ChatModel interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const systemPrompt = `You are a cluster operations planner. Given a natural
language request, produce a JSON plan of resource operations.

Respond with a single JSON object and nothing else:
{
  "description": "<one sentence summary>",
  "operations": [
    {
      "action": "<create|update|delete|scale|patch|get|list>",
      "resource_kind": "<pod|deployment|service|configmap|secret|ingress|namespace|node|persistentvolumeclaim|horizontalpodautoscaler>",
      "resource_name": "<name, required except for create and list>",
      "namespace": "<namespace, omit to use the default>",
      "payload": <manifest object for create/update/patch>,
      "parameters": {"replicas": <int, for scale>}
    }
  ],
  "estimated_duration_seconds": <int>
}

Order operations so that every resource is created before anything
depends on it. Namespaces must be created before resources are placed
in them.`

// Generator implements engine.PlanGenerator on top of a chat model.
type Generator struct {
	model            ChatModel
	defaultNamespace string
	logger           *telemetry.Logger
}

// NewGenerator creates a plan generator. An empty defaultNamespace
// means "default".
func NewGenerator(model ChatModel, defaultNamespace string, logger *telemetry.Logger) *Generator {
	if defaultNamespace == "" {
		defaultNamespace = "default"
	}
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &Generator{
		model:            model,
		defaultNamespace: defaultNamespace,
		logger:           logger.NewComponentLogger("planner"),
	}
}

// wire mirrors the model's response shape. Duration arrives in seconds.
type wirePlan struct {
	Description              string          `json:"description"`
	Operations               []wireOperation `json:"operations"`
	EstimatedDurationSeconds float64         `json:"estimated_duration_seconds"`
}

type wireOperation struct {
	Action       string          `json:"action"`
	ResourceKind string          `json:"resource_kind"`
	ResourceName string          `json:"resource_name"`
	Namespace    string          `json:"namespace"`
	Payload      json.RawMessage `json:"payload"`
	Parameters   map[string]any  `json:"parameters"`
}

// GeneratePlan asks the model for a plan and validates its structure.
// Malformed or invalid responses fail permanently; they do not improve
// on retry within the same workflow attempt.
func (g *Generator) GeneratePlan(ctx context.Context, request string) (*engine.Plan, error) {
	raw, err := g.model.Complete(ctx, systemPrompt, request)
	if err != nil {
		return nil, engine.NewTransientError("plan generation request failed", err).
			WithCode(engine.ErrCodePlanGeneration)
	}

	var wp wirePlan
	if err := json.Unmarshal([]byte(stripFences(raw)), &wp); err != nil {
		g.logger.WithError(err).Error("model returned malformed plan JSON")
		return nil, engine.NewPermanentError("plan response is not valid JSON", err).
			WithCode(engine.ErrCodePlanGeneration)
	}
	if strings.TrimSpace(wp.Description) == "" {
		return nil, engine.NewPermanentError("plan response is missing a description", nil).
			WithCode(engine.ErrCodePlanGeneration)
	}

	plan := &engine.Plan{
		Description:       wp.Description,
		Operations:        make([]engine.Operation, 0, len(wp.Operations)),
		EstimatedDuration: time.Duration(wp.EstimatedDurationSeconds * float64(time.Second)),
	}
	for i, wo := range wp.Operations {
		op, err := g.toOperation(wo)
		if err != nil {
			return nil, engine.NewPermanentError(
				fmt.Sprintf("plan operation %d is invalid", i), err).
				WithCode(engine.ErrCodePlanGeneration)
		}
		plan.Operations = append(plan.Operations, op)
	}

	g.logger.WithField("operations", len(plan.Operations)).
		Debug("generated plan")
	return plan, nil
}

func (g *Generator) toOperation(wo wireOperation) (engine.Operation, error) {
	op := engine.Operation{
		Action:     engine.Action(strings.ToLower(strings.TrimSpace(wo.Action))),
		Kind:       engine.ResourceKind(strings.ToLower(strings.TrimSpace(wo.ResourceKind))),
		Name:       strings.TrimSpace(wo.ResourceName),
		Namespace:  strings.TrimSpace(wo.Namespace),
		Payload:    wo.Payload,
		Parameters: wo.Parameters,
	}
	if err := op.Action.Validate(); err != nil {
		return engine.Operation{}, err
	}
	if err := op.Kind.Validate(); err != nil {
		return engine.Operation{}, err
	}
	if op.Action.RequiresName() && op.Name == "" {
		return engine.Operation{}, fmt.Errorf("%s requires a resource name", op.Action)
	}
	if op.Namespace == "" {
		op.Namespace = g.defaultNamespace
	}
	return op, nil
}

// stripFences removes a markdown code fence wrapper, with or without a
// language tag, that models commonly add around JSON output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
