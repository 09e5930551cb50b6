package loop

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"testsmith/pkg/harness"
	"testsmith/pkg/llm"
	"testsmith/pkg/llm/llmerrors"
	"testsmith/pkg/logx"
	"testsmith/pkg/prompts"
	"testsmith/pkg/utils"
	"testsmith/pkg/validity"
)

// MaxFeedbackTokens bounds the failure summary carried into the next prompt.
// Only the most recent failure is ever included, truncated to this budget, so
// prompt size stays deterministic across iterations.
const MaxFeedbackTokens = 512

// PromptManager renders the prompt for a technique. Satisfied by
// prompts.Manager; injectable for tests.
type PromptManager interface {
	Render(techniqueID string, data prompts.TemplateData) (string, error)
}

// TestHarness executes candidates and measures coverage. Satisfied by
// harness.Harness; injectable for tests.
type TestHarness interface {
	Execute(ctx context.Context, spec harness.Spec) harness.ExecutionResult
	MeasureCoverage(ctx context.Context, spec harness.Spec) harness.Coverage
}

// Controller drives the generate-verify-repair loop for one request at a
// time. It is not safe for concurrent Run calls; batch mode gives each worker
// its own Controller and shares rate limiting below the LLM clients.
//
// Controller implements metrics.StateProvider so LLM request metrics carry
// the experiment id, technique, and loop state. Because the metrics
// middleware needs the controller and the controller needs the client, the
// client is attached after construction with SetClient.
type Controller struct {
	client  llm.LLMClient
	prompts PromptManager
	harness TestHarness
	tokens  *utils.TokenCounter
	logger  *logx.Logger

	mu           sync.Mutex
	state        State
	experimentID string
	technique    string
}

// NewController creates a controller. tokens may be nil; token counts then
// fall back to a character-based estimate.
func NewController(promptManager PromptManager, testHarness TestHarness, tokens *utils.TokenCounter) *Controller {
	return &Controller{
		prompts: promptManager,
		harness: testHarness,
		tokens:  tokens,
		logger:  logx.NewLogger("loop"),
		state:   StateDone,
	}
}

// SetClient attaches the LLM client. Must be called before Run.
func (c *Controller) SetClient(client llm.LLMClient) {
	c.client = client
}

// GetCurrentState implements metrics.StateProvider.
func (c *Controller) GetCurrentState() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.state)
}

// GetExperimentID implements metrics.StateProvider.
func (c *Controller) GetExperimentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.experimentID
}

// GetTechnique implements metrics.StateProvider.
func (c *Controller) GetTechnique() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.technique
}

// transition moves the loop to the next state. An invalid transition is a
// programming error and panics, like an out-of-order attempt.
func (c *Controller) transition(to State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != to && !IsValidTransition(c.state, to) {
		panic(fmt.Sprintf("invalid loop transition %s -> %s", c.state, to))
	}
	c.state = to
}

// begin resets per-request state. The previous request's DONE may start a new
// request's DRAFTING.
func (c *Controller) begin(req *GenerationRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateDrafting
	c.experimentID = req.ExperimentID
	c.technique = req.Technique
}

// Run executes the loop for one request. The error return is non-nil only
// for caller misuse (invalid request, missing client, unknown technique); a
// provider failure is the Fatal outcome, not an error. The returned attempt
// sequence always has contiguous 1-based iteration indices.
func (c *Controller) Run(ctx context.Context, req GenerationRequest) (Outcome, []Attempt, error) {
	if err := req.Validate(); err != nil {
		return Outcome{}, nil, fmt.Errorf("invalid generation request: %w", err)
	}
	if c.client == nil {
		return Outcome{}, nil, fmt.Errorf("controller has no LLM client; call SetClient first")
	}

	c.begin(&req)
	recorder := NewRecorder()
	feedback := ""

	for iteration := 1; iteration <= req.MaxIterations; iteration++ {
		c.transition(StateDrafting)
		start := time.Now()

		prompt, err := c.prompts.Render(req.Technique, prompts.TemplateData{
			PackageName: req.PackageName,
			ModulePath:  c.modulePath(&req),
			SourceCode:  req.SourceCode,
			Functions:   req.Functions,
			Feedback:    c.boundFeedback(feedback),
		})
		if err != nil {
			// Unknown technique is caller misuse, not a loop failure.
			return Outcome{}, recorder.Attempts(), err
		}

		response, err := c.client.Complete(ctx, llm.NewCompletionRequest([]llm.CompletionMessage{
			llm.NewUserMessage(prompt),
		}))
		if err != nil {
			if llmerrors.IsFatal(err) {
				c.logger.Error("fatal provider error on iteration %d, aborting: %v", iteration, err)
				c.transition(StateDone)
				return Outcome{
					Kind:       OutcomeFatal,
					Iterations: recorder.Len(),
					ErrorText:  err.Error(),
				}, recorder.Attempts(), nil
			}

			// A retryable provider error consumes one iteration; its message
			// is the next iteration's feedback.
			c.logger.Warn("provider error on iteration %d/%d: %v", iteration, req.MaxIterations, err)
			recorder.Record(Attempt{
				Iteration: iteration,
				Validity:  validity.Result{Valid: false, Message: ""},
				Coverage:  harness.Unavailable(),
				ErrorText: err.Error(),
				Duration:  time.Since(start),
			})
			feedback = err.Error()
			continue
		}

		candidate := StripCodeFence(response.Content)
		promptTokens := c.countTokens(prompt)
		completionTokens := c.countTokens(response.Content)

		c.transition(StateCheckingValidity)
		check := validity.Check(candidate)
		if !check.Valid {
			c.logger.Info("iteration %d/%d: syntax error: %s", iteration, req.MaxIterations, firstLine(check.Message))
			recorder.Record(Attempt{
				Iteration:        iteration,
				Candidate:        candidate,
				Validity:         check,
				Coverage:         harness.Unavailable(),
				ErrorText:        check.Message,
				PromptTokens:     promptTokens,
				CompletionTokens: completionTokens,
				Duration:         time.Since(start),
			})
			feedback = check.Message
			continue
		}

		if !req.ExecuteTests {
			// Execution is opt-in; a valid candidate is success on its own.
			recorder.Record(Attempt{
				Iteration:        iteration,
				Candidate:        candidate,
				Validity:         check,
				Coverage:         harness.Unavailable(),
				PromptTokens:     promptTokens,
				CompletionTokens: completionTokens,
				Duration:         time.Since(start),
			})
			c.transition(StateDone)
			return ComputeOutcome(recorder.Attempts()), recorder.Attempts(), nil
		}

		spec := harness.Spec{
			ModulePath: c.modulePath(&req),
			Package:    req.PackageName,
			Source:     req.SourceCode,
			Candidate:  candidate,
			Timeout:    req.Timeout,
		}

		c.transition(StateExecuting)
		execution := c.harness.Execute(ctx, spec)

		if execution.Status == harness.StatusPassed {
			coverage := harness.Unavailable()
			if req.MeasureCoverage {
				c.transition(StateMeasuringCoverage)
				coverage = c.harness.MeasureCoverage(ctx, spec)
			}
			recorder.Record(Attempt{
				Iteration:        iteration,
				Candidate:        candidate,
				Validity:         check,
				Execution:        &execution,
				Coverage:         coverage,
				PromptTokens:     promptTokens,
				CompletionTokens: completionTokens,
				Duration:         time.Since(start),
			})
			c.logger.Info("iteration %d/%d: passed (coverage %s)", iteration, req.MaxIterations, coverage)
			c.transition(StateDone)
			return ComputeOutcome(recorder.Attempts()), recorder.Attempts(), nil
		}

		c.logger.Info("iteration %d/%d: %s", iteration, req.MaxIterations, execution.Status)
		recorder.Record(Attempt{
			Iteration:        iteration,
			Candidate:        candidate,
			Validity:         check,
			Execution:        &execution,
			Coverage:         harness.Unavailable(),
			ErrorText:        execution.Detail,
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			Duration:         time.Since(start),
		})
		feedback = execution.Detail
	}

	c.transition(StateDone)
	outcome := ComputeOutcome(recorder.Attempts())
	c.logger.Info("budget exhausted after %d iterations: %s", recorder.Len(), outcome.Kind)
	return outcome, recorder.Attempts(), nil
}

func (c *Controller) modulePath(req *GenerationRequest) string {
	if req.ModulePath != "" {
		return req.ModulePath
	}
	return req.PackageName
}

// boundFeedback truncates the previous failure to the feedback token budget.
func (c *Controller) boundFeedback(feedback string) string {
	if feedback == "" {
		return ""
	}
	if c.tokens != nil {
		return c.tokens.TruncateToTokenLimit(feedback, MaxFeedbackTokens)
	}
	// Character fallback: 4 chars per token.
	if limit := MaxFeedbackTokens * 4; len(feedback) > limit {
		return feedback[:limit] + "..."
	}
	return feedback
}

func (c *Controller) countTokens(text string) int {
	if c.tokens != nil {
		return c.tokens.CountTokens(text)
	}
	return len(text) / 4
}

// fenceRegex matches a fenced code block, optionally tagged with a language.
var fenceRegex = regexp.MustCompile("(?s)```(?:go|golang)?\\s*\\n(.*?)```")

// StripCodeFence extracts the first fenced code block from a completion, or
// returns the trimmed text when no fence is present. Models wrap candidates
// in markdown fences despite instructions not to; the candidate is what is
// inside.
func StripCodeFence(text string) string {
	if match := fenceRegex.FindStringSubmatch(text); match != nil {
		return strings.TrimSpace(match[1])
	}
	return strings.TrimSpace(text)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
