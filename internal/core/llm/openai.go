package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/signalworks/intelgraph/internal/core/domain"
	"github.com/signalworks/intelgraph/internal/platform/config"
	"github.com/signalworks/intelgraph/internal/platform/observability"
)

const (
	rateLimiterBurst = 5

	taskAnalyze       = "analyze"
	taskNormalize     = "normalize"
	taskRelationships = "relationships"
	taskClassify      = "classify"
	taskEmbed         = "embed"

	statusOK    = "ok"
	statusError = "error"

	errRateLimiter = "rate limiter: %w"

	maxValueScore = 10
)

type openaiClient struct {
	cfg         *config.Config
	client      *openai.Client
	logger      *zerolog.Logger
	rateLimiter *rate.Limiter
	promptStore PromptStore

	// Circuit breaker state
	consecutiveFailures int
	circuitOpenUntil    time.Time
	mu                  sync.Mutex
}

// NewOpenAI creates the production LLM client.
func NewOpenAI(cfg *config.Config, store PromptStore, logger *zerolog.Logger) Client {
	return &openaiClient{
		cfg:         cfg,
		client:      openai.NewClient(cfg.LLMAPIKey),
		logger:      logger,
		rateLimiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimitRPS)), rateLimiterBurst),
		promptStore: store,
	}
}

func (c *openaiClient) checkCircuit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Now().Before(c.circuitOpenUntil) {
		return fmt.Errorf("%w until %v", ErrCircuitOpen, c.circuitOpenUntil)
	}

	return nil
}

func (c *openaiClient) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFailures = 0
}

func (c *openaiClient) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFailures++
	if c.consecutiveFailures >= c.cfg.LLMCircuitThreshold {
		c.circuitOpenUntil = time.Now().Add(c.cfg.LLMCircuitCooldown)
		c.logger.Warn().
			Int("consecutive_failures", c.consecutiveFailures).
			Time("open_until", c.circuitOpenUntil).
			Msg("LLM circuit breaker opened")
	}
}

// complete issues one JSON-mode chat completion with rate limiting, circuit
// breaking, a bounded timeout and per-task metrics.
func (c *openaiClient) complete(ctx context.Context, task, prompt string) (string, error) {
	if err := c.checkCircuit(); err != nil {
		return "", err
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf(errRateLimiter, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.LLMRequestTimeout)
	defer cancel()

	start := time.Now()

	resp, err := c.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: c.cfg.LLMModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})

	observability.LLMRequestDuration.WithLabelValues(task).Observe(time.Since(start).Seconds())

	if err != nil {
		c.recordFailure()
		observability.LLMRequests.WithLabelValues(task, statusError).Inc()

		return "", fmt.Errorf("chat completion (%s): %w", task, err)
	}

	c.recordSuccess()
	observability.LLMRequests.WithLabelValues(task, statusOK).Inc()

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrNoResultsExtracted)
	}

	return resp.Choices[0].Message.Content, nil
}

// flexList tolerates the model returning a string where an array was asked
// for: a scalar string is split on commas, non-string array members are
// dropped.
type flexList []string

func (f *flexList) UnmarshalJSON(data []byte) error {
	var asList []interface{}
	if err := json.Unmarshal(data, &asList); err == nil {
		out := make([]string, 0, len(asList))

		for _, v := range asList {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}

		*f = out

		return nil
	}

	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		parts := strings.Split(asString, ",")

		out := make([]string, 0, len(parts))

		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}

		*f = out

		return nil
	}

	// Malformed field: drop rather than fail the whole result.
	*f = nil

	return nil
}

type wireAnalysis struct {
	ValueScore            int      `json:"value_score"`
	AISummary             string   `json:"ai_summary"`
	AIKeywords            flexList `json:"ai_keywords"`
	CandidateCompanies    flexList `json:"candidate_companies"`
	CandidateTechnologies flexList `json:"candidate_technologies"`
	CandidatePersons      flexList `json:"candidate_persons"`
	CandidateProducts     flexList `json:"candidate_products"`
}

type wireAnalysisResult struct {
	ID       string        `json:"id"`
	Analysis *wireAnalysis `json:"analysis"`
}

func (c *openaiClient) AnalyzeBatch(ctx context.Context, taskType domain.TaskType, inputs []AnalysisInput) (map[string]domain.Analysis, error) {
	if len(inputs) == 0 {
		return map[string]domain.Analysis{}, nil
	}

	template := c.loadPrompt(ctx, promptKeyAnalyze, defaultAnalyzePrompt)

	var sb strings.Builder

	sb.WriteString(applyPromptTokens(template, taskTypeLabel(taskType), len(inputs)))

	submitted := make(map[string]struct{}, len(inputs))

	for _, in := range inputs {
		submitted[in.ID] = struct{}{}
		sb.WriteString(fmt.Sprintf("\n[id=%s] %s", in.ID, in.Text))
	}

	content, err := c.complete(ctx, taskAnalyze, sb.String())
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		Results []wireAnalysisResult `json:"results"`
	}

	if err := json.Unmarshal([]byte(extractJSON(content)), &wrapper); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoResultsExtracted, err)
	}

	out := make(map[string]domain.Analysis, len(wrapper.Results))

	for _, res := range wrapper.Results {
		// Ids not matching a submitted task are ignored.
		if _, ok := submitted[res.ID]; !ok || res.Analysis == nil {
			continue
		}

		out[res.ID] = domain.Analysis{
			ValueScore:          clampScore(res.Analysis.ValueScore),
			Summary:             strings.TrimSpace(res.Analysis.AISummary),
			Keywords:            res.Analysis.AIKeywords,
			CandidateCompanies:  res.Analysis.CandidateCompanies,
			CandidateTechnology: res.Analysis.CandidateTechnologies,
			CandidatePersons:    res.Analysis.CandidatePersons,
			CandidateProducts:   res.Analysis.CandidateProducts,
		}
	}

	return out, nil
}

func (c *openaiClient) NormalizeEntities(ctx context.Context, entityType domain.EntityType, candidates []string) ([]NormalizedGroup, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	template := c.loadPrompt(ctx, promptKeyNormalize, defaultNormalizePrompt)

	var sb strings.Builder

	sb.WriteString(applyPromptTokens(template, string(entityType), len(candidates)))

	for _, name := range candidates {
		sb.WriteString("\n- ")
		sb.WriteString(name)
	}

	content, err := c.complete(ctx, taskNormalize, sb.String())
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		NormalizedGroups []NormalizedGroup `json:"normalized_groups"`
	}

	if err := json.Unmarshal([]byte(extractJSON(content)), &wrapper); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoResultsExtracted, err)
	}

	return wrapper.NormalizedGroups, nil
}

func (c *openaiClient) ExtractRelationships(ctx context.Context, text string, entities []EntityRef) ([]ExtractedRelationship, error) {
	template := c.loadPrompt(ctx, promptKeyRelationships, defaultRelationshipsPrompt)

	payload, err := json.Marshal(struct {
		Entities []EntityRef `json:"entities"`
		Text     string      `json:"text"`
	}{Entities: entities, Text: text})
	if err != nil {
		return nil, fmt.Errorf("marshal extraction payload: %w", err)
	}

	content, err := c.complete(ctx, taskRelationships, template+"\n"+string(payload))
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		ExtractedRelationships []ExtractedRelationship `json:"extracted_relationships"`
	}

	if err := json.Unmarshal([]byte(extractJSON(content)), &wrapper); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoResultsExtracted, err)
	}

	for i := range wrapper.ExtractedRelationships {
		wrapper.ExtractedRelationships[i].Strength = clampStrength(wrapper.ExtractedRelationships[i].Strength)
	}

	return wrapper.ExtractedRelationships, nil
}

func (c *openaiClient) ClassifyParent(ctx context.Context, orphan EntityRef, summary string, candidates []ParentCandidate) (string, error) {
	template := c.loadPrompt(ctx, promptKeyClassify, defaultClassifyPrompt)

	payload, err := json.Marshal(struct {
		Technology EntityRef         `json:"technology"`
		Summary    string            `json:"summary"`
		Candidates []ParentCandidate `json:"candidates"`
	}{Technology: orphan, Summary: summary, Candidates: candidates})
	if err != nil {
		return "", fmt.Errorf("marshal classify payload: %w", err)
	}

	content, err := c.complete(ctx, taskClassify, template+"\n"+string(payload))
	if err != nil {
		return "", err
	}

	var wrapper struct {
		ParentID string `json:"parent_id"`
	}

	if err := json.Unmarshal([]byte(extractJSON(content)), &wrapper); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoResultsExtracted, err)
	}

	return strings.TrimSpace(wrapper.ParentID), nil
}

func (c *openaiClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	if err := c.checkCircuit(); err != nil {
		return nil, err
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf(errRateLimiter, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.LLMRequestTimeout)
	defer cancel()

	resp, err := c.client.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.cfg.EmbeddingModel),
	})
	if err != nil {
		c.recordFailure()
		observability.EmbeddingRequests.WithLabelValues(statusError).Inc()

		return nil, fmt.Errorf("create embeddings: %w", err)
	}

	c.recordSuccess()
	observability.EmbeddingRequests.WithLabelValues(statusOK).Inc()

	// The API indexes results; order by submitted position so a vector
	// always lines up with its text.
	out := make([][]float32, len(texts))

	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}

	return out, nil
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}

	if score > maxValueScore {
		return maxValueScore
	}

	return score
}

func clampStrength(s float32) float32 {
	if s < 0 {
		return 0
	}

	if s > 1 {
		return 1
	}

	return s
}

// Ensure openaiClient implements Client.
var _ Client = (*openaiClient)(nil)
