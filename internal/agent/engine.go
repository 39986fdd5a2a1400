// Package agent runs the tool-calling conversation loop: plan, act,
// synthesize, with a no-tools fallback when the model misbehaves.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"concierge/internal/capability"
	"concierge/internal/history"
	"concierge/pkg/llm"
	"concierge/pkg/logging"
)

// HistoryStore is the session log surface the engine persists turns to.
type HistoryStore interface {
	Append(ctx context.Context, sessionID string, turns []history.Turn) error
	Read(ctx context.Context, sessionID string) ([]history.Turn, error)
}

// CapabilityBuilder assembles the per-request tool set.
type CapabilityBuilder interface {
	Build(ctx context.Context, req capability.Request) []capability.Descriptor
}

// ImageCreator backs the /imagine command route.
type ImageCreator interface {
	Create(ctx context.Context, prompt, size string, sourceURLs []string) (string, error)
}

// TurnRequest is one user turn.
type TurnRequest struct {
	Utterance   string
	Host        string
	SessionID   string
	User        string
	Images      []string
	PageContext string
}

// TurnResult is the engine's answer plus usage attribution.
type TurnResult struct {
	Answer           string
	CapabilitiesUsed []string
}

const (
	imagineCommand = "/imagine"

	// How many capabilities may execute at once within a turn.
	maxConcurrentTools = 3

	defaultToolTimeout = 25 * time.Second

	// Returned when every phase produced empty text; the engine never
	// returns an empty answer.
	emptyAnswer = "I could not put together an answer this time. Could you rephrase the question?"

	// Stored tool results are capped so long retrievals do not bloat the
	// session log.
	storedToolResultLimit = 400
)

type Engine struct {
	llm          llm.Provider
	history      HistoryStore
	capabilities CapabilityBuilder
	site         SiteInfo
	imagine      ImageCreator
	policy       *ForcePolicy
	toolTimeout  time.Duration
	logger       logging.Logger
}

func NewEngine(provider llm.Provider, store HistoryStore, capabilities CapabilityBuilder, site SiteInfo, imagine ImageCreator, policy *ForcePolicy, logger logging.Logger) *Engine {
	if policy == nil {
		policy = NewForcePolicy(nil)
	}
	return &Engine{
		llm:          provider,
		history:      store,
		capabilities: capabilities,
		site:         site,
		imagine:      imagine,
		policy:       policy,
		toolTimeout:  defaultToolTimeout,
		logger:       logger,
	}
}

// HandleTurn runs one conversation turn end to end. It always returns a
// textual answer unless infrastructure (model service, session store) is
// broken, in which case the turn fails as a whole.
func (e *Engine) HandleTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	utterance := strings.TrimSpace(req.Utterance)
	if strings.HasPrefix(utterance, imagineCommand) {
		return e.imagineTurn(ctx, req, strings.TrimSpace(strings.TrimPrefix(utterance, imagineCommand)))
	}

	turns, err := e.history.Read(ctx, req.SessionID)
	if err != nil {
		turnsTotal.WithLabelValues("failed").Inc()
		return TurnResult{}, fmt.Errorf("read session %s: %w", req.SessionID, err)
	}

	descriptors := e.capabilities.Build(ctx, capability.Request{
		Host:        req.Host,
		User:        req.User,
		Images:      req.Images,
		PageContext: req.PageContext,
	})
	tools := make([]llm.Tool, 0, len(descriptors))
	byName := make(map[string]capability.Descriptor, len(descriptors))
	for _, descriptor := range descriptors {
		tools = append(tools, llm.Tool{
			Name:        descriptor.Name,
			Description: descriptor.Description,
			Parameters:  descriptor.Parameters,
		})
		byName[descriptor.Name] = descriptor
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: buildSystemPrompt(ctx, e.site, req.Host, req.User)}}
	messages = append(messages, historyToMessages(turns)...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: utterance})

	if e.policy.NeedsToolHint(utterance, turns) {
		forcedHintsTotal.Inc()
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: reinforcementInstruction})
	}

	// Plan.
	completion, err := e.complete(ctx, "plan", messages, tools)
	if err != nil {
		e.logger.WithError(err).Warn("Planning failed, falling back to ungrounded answer")
		return e.fallbackTurn(ctx, req, utterance, messages)
	}

	answer := completion.Content
	var invoked []string
	var toolTurns []history.Turn

	if len(completion.ToolCalls) > 0 {
		// Act.
		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   completion.Content,
			ToolCalls: completion.ToolCalls,
		})
		results, names := e.executeAll(ctx, byName, completion.ToolCalls)
		messages = append(messages, results...)
		invoked = names

		for _, result := range results {
			toolTurns = append(toolTurns, history.Turn{
				Role:       history.RoleTool,
				Content:    truncate(result.Content, storedToolResultLimit),
				ToolCallID: result.ToolCallID,
			})
		}

		// Synthesize.
		final, err := e.complete(ctx, "synthesize", messages, tools)
		if err != nil {
			e.logger.WithError(err).Warn("Synthesis failed, falling back to ungrounded answer")
			return e.fallbackTurn(ctx, req, utterance, messages)
		}
		answer = final.Content
	}

	if answer == "" {
		answer = emptyAnswer
	}

	persisted := make([]history.Turn, 0, len(toolTurns)+2)
	persisted = append(persisted, history.NewTurn(history.RoleHuman, utterance))
	persisted = append(persisted, toolTurns...)
	persisted = append(persisted, history.NewTurn(history.RoleAssistant, answer))
	if err := e.history.Append(ctx, req.SessionID, persisted); err != nil {
		turnsTotal.WithLabelValues("failed").Inc()
		return TurnResult{}, fmt.Errorf("persist session %s: %w", req.SessionID, err)
	}

	turnsTotal.WithLabelValues("answered").Inc()
	return TurnResult{Answer: answer, CapabilitiesUsed: dedupe(invoked)}, nil
}

// executeAll runs every planned tool call concurrently with per-call
// timeouts. A failing capability becomes a textual error result; it never
// aborts the turn. Results keep the model's original call order.
func (e *Engine) executeAll(ctx context.Context, byName map[string]capability.Descriptor, calls []llm.ToolCall) ([]llm.Message, []string) {
	results := make([]llm.Message, len(calls))
	executed := make([]bool, len(calls))

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxConcurrentTools)
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, call llm.ToolCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			descriptor, ok := byName[call.Name]
			if !ok {
				toolExecutionsTotal.WithLabelValues("unknown").Inc()
				e.logger.WithField("tool", call.Name).Warn("Model requested unknown capability")
				results[idx] = llm.Message{
					Role:       llm.RoleTool,
					Content:    fmt.Sprintf("Tool %s failed: unknown capability", call.Name),
					Name:       call.Name,
					ToolCallID: call.ID,
				}
				return
			}

			callCtx, cancel := context.WithTimeout(ctx, e.toolTimeout)
			defer cancel()

			content, err := descriptor.Invoke(callCtx, []byte(call.Arguments))
			if err != nil {
				toolExecutionsTotal.WithLabelValues("error").Inc()
				e.logger.WithError(err).WithField("tool", call.Name).Warn("Capability execution failed")
				content = fmt.Sprintf("Tool %s failed: %v", call.Name, err)
			} else {
				toolExecutionsTotal.WithLabelValues("ok").Inc()
			}
			executed[idx] = true
			results[idx] = llm.Message{
				Role:       llm.RoleTool,
				Content:    content,
				Name:       call.Name,
				ToolCallID: call.ID,
			}
		}(i, call)
	}
	wg.Wait()

	var names []string
	for i, call := range calls {
		if executed[i] {
			names = append(names, call.Name)
		}
	}
	return results, names
}

// fallbackTurn answers without tools after a planning or synthesis
// failure. If even the fallback call fails, the turn fails: infrastructure
// errors surface rather than degrade silently.
func (e *Engine) fallbackTurn(ctx context.Context, req TurnRequest, utterance string, planned []llm.Message) (TurnResult, error) {
	// Strip tool traffic; keep system, history and the user's question.
	messages := make([]llm.Message, 0, len(planned))
	for _, msg := range planned {
		if msg.Role == llm.RoleTool || len(msg.ToolCalls) > 0 {
			continue
		}
		messages = append(messages, msg)
	}

	completion, err := e.complete(ctx, "fallback", messages, nil)
	if err != nil {
		turnsTotal.WithLabelValues("failed").Inc()
		return TurnResult{}, fmt.Errorf("model service unavailable: %w", err)
	}

	answer := completion.Content
	if answer == "" {
		answer = emptyAnswer
	}

	if err := e.history.Append(ctx, req.SessionID, []history.Turn{
		history.NewTurn(history.RoleHuman, utterance),
		history.NewTurn(history.RoleAssistant, answer),
	}); err != nil {
		turnsTotal.WithLabelValues("failed").Inc()
		return TurnResult{}, fmt.Errorf("persist session %s: %w", req.SessionID, err)
	}

	turnsTotal.WithLabelValues("fallback").Inc()
	return TurnResult{Answer: answer}, nil
}

// imagineTurn bypasses the agent loop: the utterance is a direct image
// generation command.
func (e *Engine) imagineTurn(ctx context.Context, req TurnRequest, prompt string) (TurnResult, error) {
	var answer string
	var used []string
	link, err := e.imagine.Create(ctx, prompt, "", req.Images)
	if err != nil {
		e.logger.WithError(err).Warn("Imagine command failed")
		answer = fmt.Sprintf("Error while generating image: %v", err)
	} else {
		answer = link
		used = []string{"generate_image"}
	}

	if err := e.history.Append(ctx, req.SessionID, []history.Turn{
		history.NewTurn(history.RoleHuman, req.Utterance),
		history.NewTurn(history.RoleAssistant, answer),
	}); err != nil {
		turnsTotal.WithLabelValues("failed").Inc()
		return TurnResult{}, fmt.Errorf("persist session %s: %w", req.SessionID, err)
	}

	turnsTotal.WithLabelValues("imagine").Inc()
	return TurnResult{Answer: answer, CapabilitiesUsed: used}, nil
}

func (e *Engine) complete(ctx context.Context, phase string, messages []llm.Message, tools []llm.Tool) (llm.Completion, error) {
	start := time.Now()
	completion, err := e.llm.Complete(ctx, messages, tools)
	llmDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
	if err != nil {
		llmCallsTotal.WithLabelValues(phase, "error").Inc()
		return llm.Completion{}, err
	}
	llmCallsTotal.WithLabelValues(phase, "ok").Inc()
	return completion, nil
}

// historyToMessages converts the persisted log into chat messages. Tool
// turns are kept only in the store (for the heuristic and the history
// API); resubmitting them without their assistant tool-call frames would
// be rejected by the model API.
func historyToMessages(turns []history.Turn) []llm.Message {
	messages := make([]llm.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case history.RoleHuman:
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: turn.Content})
		case history.RoleAssistant:
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: turn.Content})
		}
	}
	return messages
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	// Back off to a rune boundary so multi-byte text is never cut mid-rune.
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit] + "…"
}
