package services

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/arvhal/replagent/internal/core/domain"
	"github.com/arvhal/replagent/internal/core/ports"
)

// LoopConfig bounds one agent-loop invocation.
type LoopConfig struct {
	MaxIterations  int
	MaxObservation int // chars of execution output fed back per iteration
	MaxMalformed   int // consecutive code-less, answer-less responses tolerated
	ModelRetries   int // extra attempts on transient model errors
	RetryBackoff   time.Duration
	ModelTimeout   time.Duration // wall-clock bound per model call
}

func (c LoopConfig) withDefaults() LoopConfig {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 10
	}
	if c.MaxObservation <= 0 {
		c.MaxObservation = 2000
	}
	if c.MaxMalformed <= 0 {
		c.MaxMalformed = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	return c
}

// ProgressFunc receives one short line per loop action. It is the only
// channel through which loop progress becomes externally visible before the
// loop terminates.
type ProgressFunc func(iteration int, message string)

// AgentLoop drives the bounded think → execute → observe cycle: prompt the
// model with the conversation so far, parse its reply for either a final
// answer or a code block, run the code in the sandbox, and feed the captured
// output back as an observation. Strictly sequential — each iteration's
// prompt depends on the previous observation.
type AgentLoop struct {
	logger *slog.Logger
	llm    ports.LLMProvider
	exec   ports.Executor
	cfg    LoopConfig
}

func NewAgentLoop(logger *slog.Logger, llm ports.LLMProvider, exec ports.Executor, cfg LoopConfig) *AgentLoop {
	return &AgentLoop{
		logger: logger,
		llm:    llm,
		exec:   exec,
		cfg:    cfg.withDefaults(),
	}
}

const finalAnswerMarker = "FINAL_ANSWER:"

var (
	finalAnswerRe = regexp.MustCompile(`(?is)FINAL_ANSWER:\s*(.*)`)
	codeBlockRe   = regexp.MustCompile("(?s)```[a-zA-Z0-9_+-]*\\r?\\n(.*?)```")
)

// Run executes the loop until a final answer, a fatal model error, or budget
// exhaustion. Snippet failures never abort the loop — they come back as
// observations so the model can self-correct.
func (l *AgentLoop) Run(ctx context.Context, query string, env ports.Environment, progress ProgressFunc) (*domain.LoopResult, error) {
	if progress == nil {
		progress = func(int, string) {}
	}

	conv := domain.NewConversation(l.systemFrame(env), query)
	steps := []domain.LoopStep{}
	malformed := 0

	for i := 1; i <= l.cfg.MaxIterations; i++ {
		progress(i, fmt.Sprintf("thinking (iteration %d)", i))

		response, err := l.generate(ctx, conv.Render())
		if err != nil {
			return nil, err
		}

		step := parseLoopOutput(response)

		// A declared answer always wins: code in the same response is
		// never executed.
		if step.IsFinalAnswer {
			steps = append(steps, step)
			progress(i, "final answer produced")
			l.logger.Info("loop finished", "iterations", i, "answer_len", len(step.FinalAnswer))
			return &domain.LoopResult{Answer: step.FinalAnswer, Iterations: i, Steps: steps}, nil
		}

		if step.Code == "" {
			malformed++
			if malformed >= l.cfg.MaxMalformed {
				return nil, &domain.LoopError{Kind: domain.LoopMalformedResponses, Iterations: malformed}
			}
			conv.Append(domain.RoleAssistant, response)
			conv.Append(domain.RoleObservation,
				"Your reply contained neither a code block nor a "+finalAnswerMarker+" line. Reply with exactly one of them.")
			progress(i, "malformed response, asking the model to retry")
			continue
		}
		malformed = 0

		progress(i, fmt.Sprintf("executing code (iteration %d)", i))
		result, err := l.exec.Run(ctx, step.Code, env)
		if err != nil {
			return nil, fmt.Errorf("sandbox unavailable: %w", err)
		}

		step.Observation = truncateObservation(result.Observation(), l.cfg.MaxObservation)
		steps = append(steps, step)

		conv.Append(domain.RoleAssistant, response)
		conv.Append(domain.RoleObservation, step.Observation)

		progress(i, "observation: "+firstLine(step.Observation, 80))
	}

	return nil, &domain.LoopError{Kind: domain.LoopMaxIterations, Iterations: l.cfg.MaxIterations}
}

// generate calls the model with a bounded retry on transient failures. Fatal
// errors (auth, bad deployment) return immediately and fail the job.
func (l *AgentLoop) generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= l.cfg.ModelRetries; attempt++ {
		if attempt > 0 {
			l.logger.Warn("transient model error, retrying", "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * l.cfg.RetryBackoff):
			}
		}

		callCtx := ctx
		cancel := func() {}
		if l.cfg.ModelTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, l.cfg.ModelTimeout)
		}
		response, err := l.llm.GenerateText(callCtx, prompt)
		timedOut := l.cfg.ModelTimeout > 0 && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil
		cancel()

		if err == nil {
			return response, nil
		}
		if timedOut {
			// Per-call deadline expiry is a stalled call, not a dead job.
			err = &domain.ModelError{Transient: true, Detail: fmt.Sprintf("model call exceeded %s", l.cfg.ModelTimeout)}
		}
		lastErr = err
		if !domain.IsTransientModelError(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("model retries exhausted: %w", lastErr)
}

// systemFrame builds the initial environment contract: where the data lives,
// how to run code against it, and how to declare the final answer.
func (l *AgentLoop) systemFrame(env ports.Environment) string {
	lang := l.exec.Language()

	var contextStatus string
	if n := len(env.Documents); n > 0 {
		preview := env.Documents[0].Content
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		contextStatus = fmt.Sprintf(`Context status: %d documents loaded in the `+"`context`"+` variable.
Preview of context[0]: %s

INSTRUCTIONS:
1. The data you need IS in the `+"`context`"+` variable.
2. You must write %s code against it to answer.`, n, preview, lang)
	} else {
		contextStatus = fmt.Sprintf(`Context status: 0 documents loaded (general chat mode).

INSTRUCTIONS:
1. Answer from your general knowledge.
2. You may still run %s code for calculation or logic, but `+"`context`"+` is empty.`, lang)
	}

	return fmt.Sprintf(`You are an analysis agent. Your goal is to answer the user's query by
interacting with the `+"`context`"+` variable inside a sandboxed %s environment.
%s

CRITICAL RULES:
1. Do NOT guess the answer. Execute code and look at the data.
2. You MUST print() any value you need to see.
3. Your %s must be the ACTUAL VALUE found in the code output.
4. Be efficient: use as few steps as possible.

Bindings available:
- context: list of document strings
- doc_ids: list of document identifiers, aligned with context
- search(pattern): regex search over all documents, returns "id:line: snippet" matches
- llm_query(prompt, docs): delegate a sub-question over a subset of documents

To execute code, reply with a fenced code block:
`+"```%s"+`
print(len(context))
`+"```"+`

To finish, reply on its own line:
%s [your answer here]

If a reply contains both, the %s wins and the code is not executed.`,
		lang, contextStatus, finalAnswerMarker, lang, finalAnswerMarker, finalAnswerMarker)
}

func parseLoopOutput(response string) domain.LoopStep {
	if m := finalAnswerRe.FindStringSubmatch(response); len(m) > 1 {
		return domain.LoopStep{IsFinalAnswer: true, FinalAnswer: strings.TrimSpace(m[1])}
	}
	if m := codeBlockRe.FindStringSubmatch(response); len(m) > 1 {
		return domain.LoopStep{Code: strings.TrimSpace(m[1])}
	}
	return domain.LoopStep{}
}

func truncateObservation(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n...[output truncated]"
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
