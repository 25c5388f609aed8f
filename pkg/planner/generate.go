package planner

import (
	"context"

	"autopilot/pkg/llm"
	"autopilot/pkg/logx"
	"autopilot/pkg/metrics"
	"autopilot/pkg/tokens"
)

// planPromptBudget bounds the user prompt portion of a plan request.
const planPromptBudget = 6000

const planSystemPrompt = `You are a software planning assistant. Break the user's goal into a
short ordered plan of concrete engineering steps. Respond with a JSON
array of step objects: [{"prompt": "...", "title": "...", "children": []}].
Do not include steps that merely run tests or check coverage; verification
is enforced automatically. Respond with JSON only.`

// Generator produces normalized goal plans from free-text prompts via an
// LLM client.
type Generator struct {
	client  llm.Client
	counter *tokens.Counter
	logger  *logx.Logger

	maxDepth int
	maxNodes int
}

// NewGenerator creates a plan generator. counter may be nil, in which case
// prompt budgeting falls back to character estimation.
func NewGenerator(client llm.Client, counter *tokens.Counter) *Generator {
	return &Generator{
		client:   client,
		counter:  counter,
		logger:   logx.NewLogger("planner"),
		maxDepth: DefaultMaxDepth,
		maxNodes: DefaultMaxNodes,
	}
}

// Generate asks the model for a plan and runs the parse -> normalize ->
// fallback pipeline. A malformed or low-information model response
// degrades to the heuristic fallback plan rather than failing: the
// session must always come out of planning with something actionable.
func (g *Generator) Generate(ctx context.Context, prompt string) []*PlanNode {
	bounded := g.counter.Truncate(prompt, planPromptBudget)
	if len(bounded) < len(prompt) {
		g.logger.Warn("plan prompt truncated from %d to %d bytes", len(prompt), len(bounded))
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: planSystemPrompt},
		{Role: llm.RoleUser, Content: bounded},
	}

	provider := g.client.Provider()
	metrics.LLMTokens.WithLabelValues(provider, "prompt").
		Add(float64(g.counter.Count(planSystemPrompt) + g.counter.Count(bounded)))

	text, err := g.client.GenerateResponse(ctx, messages, llm.Options{})
	if err != nil {
		g.logger.Warn("plan generation failed, using fallback plan: %v", err)
		return FallbackPlan(prompt)
	}
	metrics.LLMTokens.WithLabelValues(provider, "response").Add(float64(g.counter.Count(text)))

	nodes := NormalizeTree(ParsePlanResponse(text), g.maxDepth, g.maxNodes)
	if g.isLowInformation(nodes, prompt) {
		g.logger.Debug("generated plan is low-information, using fallback plan")
		return FallbackPlan(prompt)
	}
	return nodes
}

// isLowInformation reports whether a normalized plan adds nothing over the
// original prompt: empty, or a single childless step that merely restates
// the prompt, or a single step for a prompt that clearly bundles several asks.
func (g *Generator) isLowInformation(nodes []*PlanNode, prompt string) bool {
	if len(nodes) == 0 {
		return true
	}
	if len(nodes) > 1 || len(nodes[0].Children) > 0 {
		return false
	}
	return NearDuplicate(nodes[0].Prompt, prompt) || IsCompound(prompt)
}
