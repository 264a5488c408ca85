package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ekaya-inc/ekaya-fusion/pkg/cache"
	"github.com/ekaya-inc/ekaya-fusion/pkg/config"
	"github.com/ekaya-inc/ekaya-fusion/pkg/jsonutil"
	"github.com/ekaya-inc/ekaya-fusion/pkg/llm"
	"github.com/ekaya-inc/ekaya-fusion/pkg/logging"
	"github.com/ekaya-inc/ekaya-fusion/pkg/models"
	"github.com/ekaya-inc/ekaya-fusion/pkg/prompts"
)

// DecisionRequest pairs an existing fact with a newly proposed value.
type DecisionRequest struct {
	Existing      *models.Fact
	NewValue      string
	NewSource     models.FactSource
	NewConfidence *float64
	MatchKind     models.MatchKind
	// Context is free text shown to the oracle, e.g. the source sentence.
	Context string
}

// FusionClassifier decides how a new value relates to an existing fact.
// Decide never fails: any oracle problem degrades to a zero-confidence CONFLICT.
type FusionClassifier interface {
	Decide(ctx context.Context, req DecisionRequest) models.FusionDecision
}

type fusionClassifier struct {
	oracle  llm.Oracle
	cache   cache.Cache
	cfg     config.FusionConfig
	timeout time.Duration
	group   singleflight.Group
	now     func() time.Time
	logger  *zap.Logger
}

// NewFusionClassifier creates a FusionClassifier. A nil cache disables caching.
func NewFusionClassifier(oracle llm.Oracle, decisions cache.Cache, cfg config.FusionConfig, timeout time.Duration, logger *zap.Logger) FusionClassifier {
	return &fusionClassifier{
		oracle:  oracle,
		cache:   decisions,
		cfg:     cfg,
		timeout: timeout,
		now:     time.Now,
		logger:  logger.Named("fusion-classifier"),
	}
}

var _ FusionClassifier = (*fusionClassifier)(nil)

// fusionReply mirrors prompts.FactFusionSchema.
// fusionReply keeps loosely typed fields raw; models return numbers as
// strings and values as numbers often enough.
type fusionReply struct {
	Action      string          `json:"action"`
	MergedValue json.RawMessage `json:"merged_value"`
	Explanation string          `json:"explanation"`
	Confidence  json.RawMessage `json:"confidence"`
}

func (c *fusionClassifier) Decide(ctx context.Context, req DecisionRequest) models.FusionDecision {
	key := decisionKey(req)

	if decision, ok := c.cached(ctx, key); ok {
		return decision
	}

	v, _, _ := c.group.Do(key, func() (any, error) {
		if decision, ok := c.cached(ctx, key); ok {
			return decision, nil
		}
		decision, ok := c.ask(ctx, req)
		if ok {
			c.store(ctx, key, decision)
		}
		return decision, nil
	})
	return v.(models.FusionDecision)
}

// ask calls the oracle. The bool is false for degraded decisions, which are
// not cached so the next attempt asks again.
func (c *fusionClassifier) ask(ctx context.Context, req DecisionRequest) (models.FusionDecision, bool) {
	existing := req.Existing
	newSource := req.NewSource
	if newSource == "" {
		newSource = models.FactSourceExtracted
	}

	prompt := prompts.BuildFactFusionPrompt(prompts.FactFusionInput{
		FactType: existing.FactType,
		Existing: prompts.FactSide{
			Value:      existing.Value,
			Source:     string(existing.Source),
			Priority:   existing.Source.Priority(),
			Confidence: existing.Confidence,
			RecordedAt: existing.CreatedAt,
		},
		New: prompts.FactSide{
			Value:      req.NewValue,
			Source:     string(newSource),
			Priority:   newSource.Priority(),
			Confidence: req.NewConfidence,
		},
		MatchKind: string(req.MatchKind),
		Context:   req.Context,
		Now:       c.now(),
	})

	resp, err := c.oracle.Complete(ctx, llm.OracleRequest{
		Task:      prompts.FactFusionTask,
		System:    prompts.FactFusionSystemMessage(),
		Prompt:    prompt,
		Schema:    prompts.FactFusionSchema,
		ModelHint: c.cfg.ModelHint,
		Timeout:   c.timeout,
	})
	if err != nil {
		c.logger.Warn("Fusion oracle call failed, escalating to conflict",
			zap.String("fact_id", existing.ID.String()),
			zap.String("error_type", string(llm.GetErrorType(err))),
			zap.String("error", logging.SanitizeError(err)))
		return degradedDecision(fmt.Sprintf("Oracle unavailable: %s", logging.SanitizeError(err))), false
	}

	decision, err := c.parse(resp.Content)
	if err != nil {
		c.logger.Warn("Fusion oracle reply rejected, escalating to conflict",
			zap.String("fact_id", existing.ID.String()),
			zap.String("model", resp.Model),
			zap.Error(err))
		return degradedDecision(fmt.Sprintf("Invalid oracle reply: %v", err)), false
	}

	c.logger.Debug("Fusion decision",
		zap.String("fact_id", existing.ID.String()),
		zap.String("action", string(decision.Action)),
		zap.Float64("confidence", decision.Confidence),
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", resp.Elapsed))

	return decision, true
}

func (c *fusionClassifier) parse(content json.RawMessage) (models.FusionDecision, error) {
	reply, err := llm.ParseJSONResponse[fusionReply](string(content))
	if err != nil {
		return models.FusionDecision{}, err
	}

	action, err := models.ParseFusionAction(reply.Action)
	if err != nil {
		return models.FusionDecision{}, err
	}
	confidence, err := jsonutil.FloatValue(reply.Confidence)
	if err != nil {
		return models.FusionDecision{}, fmt.Errorf("confidence: %w", err)
	}
	if confidence == nil {
		return models.FusionDecision{}, fmt.Errorf("missing confidence")
	}

	decision := models.FusionDecision{
		Action:      action,
		MergedValue: jsonutil.OptionalString(reply.MergedValue),
		Explanation: reply.Explanation,
		Confidence:  clamp01(*confidence),
	}

	if decision.Action != models.FusionActionConflict && !(decision.Confidence >= c.cfg.MinConfidence) {
		decision.Action = models.FusionActionConflict
		decision.Explanation = fmt.Sprintf("Low confidence (%.2f): %s", decision.Confidence, decision.Explanation)
	}
	return decision, nil
}

func (c *fusionClassifier) cached(ctx context.Context, key string) (models.FusionDecision, bool) {
	if c.cache == nil {
		return models.FusionDecision{}, false
	}
	raw, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Debug("Decision cache read failed", zap.Error(err))
		return models.FusionDecision{}, false
	}
	if !ok {
		return models.FusionDecision{}, false
	}
	var decision models.FusionDecision
	if err := json.Unmarshal(raw, &decision); err != nil {
		return models.FusionDecision{}, false
	}
	return decision, true
}

func (c *fusionClassifier) store(ctx context.Context, key string, decision models.FusionDecision) {
	if c.cache == nil {
		return
	}
	raw, err := json.Marshal(decision)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, raw); err != nil {
		c.logger.Debug("Decision cache write failed", zap.Error(err))
	}
}

// decisionKey identifies a decision by existing fact id and the new value.
func decisionKey(req DecisionRequest) string {
	sum := sha256.Sum256([]byte(req.NewValue))
	return req.Existing.ID.String() + ":" + hex.EncodeToString(sum[:16])
}

func degradedDecision(explanation string) models.FusionDecision {
	return models.FusionDecision{
		Action:      models.FusionActionConflict,
		Explanation: explanation,
		Confidence:  0,
	}
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
