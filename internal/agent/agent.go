package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/kairoslabs/kairos/internal/logging"
)

// Tool is a capability the agent can invoke while reasoning.
type Tool struct {
	Name        string
	Description string
	Run         func(ctx context.Context, input string) (string, error)
}

// Action is one tool invocation the agent decided on, with the raw
// model text that produced it.
type Action struct {
	Tool      string `json:"tool"`
	ToolInput string `json:"tool_input"`
	Log       string `json:"log"`
}

// Step pairs an action with the observation it returned.
type Step struct {
	Action Action `json:"action"`
	Result string `json:"result"`
}

// Result is the agent's answer plus the audit trail of tool invocations.
type Result struct {
	Output string
	Steps  []Step
}

// maxSteps bounds the reasoning loop so a confused model cannot spin
// against the tools forever.
const maxSteps = 6

// Agent runs a question through a reason/act loop: the model picks a
// tool, the tool's observation is fed back, until a final answer.
type Agent struct {
	provider Provider
	tools    []Tool
}

// New creates an agent over the given provider and tools.
func New(provider Provider, tools []Tool) *Agent {
	return &Agent{provider: provider, tools: tools}
}

var (
	actionRe      = regexp.MustCompile(`(?m)^\s*Action\s*:\s*(.+)$`)
	actionInputRe = regexp.MustCompile(`(?m)^\s*Action Input\s*:\s*(.+)$`)
)

// Invoke answers prompt, returning the output and intermediate steps.
func (a *Agent) Invoke(ctx context.Context, prompt string) (Result, error) {
	if a.provider == nil || !a.provider.Available() {
		return Result{}, fmt.Errorf("no language model provider available")
	}

	scratchpad := ""
	var steps []Step

	for i := 0; i < maxSteps; i++ {
		resp, err := a.provider.Generate(ctx, Request{
			SystemPrompt: a.systemPrompt(),
			UserPrompt:   fmt.Sprintf("Question: %s\n%s", prompt, scratchpad),
			Stop:         []string{"Observation:"},
		})
		if err != nil {
			return Result{}, fmt.Errorf("agent step %d: %w", i, err)
		}

		text := resp.Content

		if idx := strings.Index(text, "Final Answer:"); idx >= 0 {
			output := strings.TrimSpace(text[idx+len("Final Answer:"):])
			return Result{Output: output, Steps: steps}, nil
		}

		action, ok := parseAction(text)
		if !ok {
			// The model answered directly without the expected framing.
			return Result{Output: strings.TrimSpace(text), Steps: steps}, nil
		}

		observation := a.runTool(ctx, action)
		steps = append(steps, Step{Action: action, Result: observation})

		scratchpad += fmt.Sprintf("%s\nObservation: %s\nThought:", strings.TrimSpace(action.Log), observation)
	}

	logging.Warn("Agent hit iteration limit", "steps", len(steps))
	return Result{Output: "Agent stopped due to iteration limit.", Steps: steps}, nil
}

// runTool executes the named tool. A missing tool or tool error becomes
// an observation for the model rather than failing the whole invocation.
func (a *Agent) runTool(ctx context.Context, action Action) string {
	for _, t := range a.tools {
		if strings.EqualFold(t.Name, action.Tool) {
			out, err := t.Run(ctx, action.ToolInput)
			if err != nil {
				logging.Warn("Tool failed", "tool", t.Name, "error", err)
				return fmt.Sprintf("tool error: %v", err)
			}
			return out
		}
	}
	return fmt.Sprintf("%s is not a valid tool", action.Tool)
}

func (a *Agent) systemPrompt() string {
	var b strings.Builder
	b.WriteString("Answer the following questions as best you can. You have access to the following tools:\n\n")

	names := make([]string, 0, len(a.tools))
	for _, t := range a.tools {
		fmt.Fprintf(&b, "%s: %s\n", t.Name, t.Description)
		names = append(names, t.Name)
	}

	fmt.Fprintf(&b, `
Use the following format:

Question: the input question you must answer
Thought: you should always think about what to do
Action: the action to take, should be one of [%s]
Action Input: the input to the action
Observation: the result of the action
... (this Thought/Action/Action Input/Observation can repeat N times)
Thought: I now know the final answer
Final Answer: the final answer to the original input question

Begin!
`, strings.Join(names, ", "))

	return b.String()
}

// parseAction extracts the tool call from model output.
func parseAction(text string) (Action, bool) {
	am := actionRe.FindStringSubmatch(text)
	im := actionInputRe.FindStringSubmatch(text)
	if am == nil || im == nil {
		return Action{}, false
	}
	return Action{
		Tool:      strings.TrimSpace(am[1]),
		ToolInput: strings.Trim(strings.TrimSpace(im[1]), `"`),
		Log:       text,
	}, true
}

// NewCalculatorTool builds the math tool: the provider itself evaluates
// the expression, mirroring the original notebook's LLM math chain.
func NewCalculatorTool(provider Provider) Tool {
	return Tool{
		Name:        "Calculator",
		Description: "useful for when you need to answer questions about math",
		Run: func(ctx context.Context, input string) (string, error) {
			resp, err := provider.Generate(ctx, Request{
				SystemPrompt: "You are a calculator. Answer the math question with only the numeric result.",
				UserPrompt:   input,
				MaxTokens:    64,
			})
			if err != nil {
				return "", err
			}
			return strings.TrimSpace(resp.Content), nil
		},
	}
}
