package attribution

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"leadsync_backend/internal/leads/domain"
	"leadsync_backend/platform/config"
	"leadsync_backend/platform/logger"

	"github.com/google/uuid"
)

const defaultTextThreshold = 0.70

// Resolver applies the resolution ladder: exact ad id, reference substring, smart text.
type Resolver struct {
	store     Store
	threshold float64
	log       *logger.Logger
}

// NewResolver creates a resolver. A zero threshold falls back to 0.70.
func NewResolver(store Store, cfg config.AttributionConfig, log *logger.Logger) *Resolver {
	threshold := defaultTextThreshold
	if cfg != nil && cfg.GetTextSimilarityThreshold() > 0 {
		threshold = cfg.GetTextSimilarityThreshold()
	}
	return &Resolver{store: store, threshold: threshold, log: log}
}

// Resolve returns the best attribution for in. The first successful step wins;
// a miss is not an error and yields ConfidenceNone.
func (r *Resolver) Resolve(ctx context.Context, in Input) (Result, error) {
	var result Result

	channelID, err := r.resolveChannel(ctx, in)
	if err != nil {
		return Result{}, err
	}
	result.ChannelID = channelID

	if in.Ad.Present() {
		if mapping, ok, err := r.exactMatch(ctx, in); err != nil {
			return Result{}, err
		} else if ok {
			return withMapping(result, mapping, domain.ConfidenceExact), nil
		}

		mapping, ok, err := r.referenceMatch(ctx, in)
		if err != nil {
			return Result{}, err
		}
		if ok {
			return withMapping(result, mapping, domain.ConfidenceHigh), nil
		}

		result.Confidence = domain.ConfidenceNone
		return result, nil
	}

	if in.SkipTextFallback || strings.TrimSpace(in.MessageText) == "" {
		result.Confidence = domain.ConfidenceNone
		return result, nil
	}

	return r.textMatch(ctx, in, result)
}

func (r *Resolver) resolveChannel(ctx context.Context, in Input) (*uuid.UUID, error) {
	businessLine := strings.TrimSpace(in.BusinessLineID)
	if businessLine == "" {
		return nil, nil
	}
	id, err := r.store.FindChannelID(ctx, in.AccountID, businessLine)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve channel: %w", err)
	}
	return &id, nil
}

func (r *Resolver) exactMatch(ctx context.Context, in Input) (CreativeMapping, bool, error) {
	adID := strings.TrimSpace(in.Ad.SourceID)
	if adID == "" {
		return CreativeMapping{}, false, nil
	}
	mapping, err := r.store.FindCreativeByAdID(ctx, in.AccountID, adID)
	if errors.Is(err, ErrNotFound) {
		return CreativeMapping{}, false, nil
	}
	if err != nil {
		return CreativeMapping{}, false, fmt.Errorf("exact ad lookup: %w", err)
	}
	return mapping, true, nil
}

func (r *Resolver) referenceMatch(ctx context.Context, in Input) (CreativeMapping, bool, error) {
	candidates := make([]string, 0, 3)
	for _, v := range []string{in.Ad.SourceURL, in.Ad.MediaURL, in.Ad.SourceID} {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			candidates = append(candidates, v)
		}
	}
	if len(candidates) == 0 {
		return CreativeMapping{}, false, nil
	}

	refs, err := r.store.ListCreativeReferences(ctx, in.AccountID)
	if err != nil {
		return CreativeMapping{}, false, fmt.Errorf("list creative references: %w", err)
	}

	var (
		best    *CreativeReference
		bestLen int
	)
	for i := range refs {
		ref := strings.ToLower(strings.TrimSpace(refs[i].Reference))
		if ref == "" || (best != nil && len(ref) <= bestLen) {
			continue
		}
		for _, candidate := range candidates {
			if strings.Contains(candidate, ref) {
				best = &refs[i]
				bestLen = len(ref)
				break
			}
		}
	}
	if best == nil {
		return CreativeMapping{}, false, nil
	}
	return best.CreativeMapping, true, nil
}

func (r *Resolver) textMatch(ctx context.Context, in Input, result Result) (Result, error) {
	questions, err := r.store.ListDirectionQuestions(ctx, in.AccountID)
	if err != nil {
		return Result{}, fmt.Errorf("list direction questions: %w", err)
	}

	var (
		best      *DirectionQuestion
		bestScore float64
	)
	for i := range questions {
		score := Similarity(in.MessageText, questions[i].Question)
		if score > bestScore {
			best = &questions[i]
			bestScore = score
		}
	}

	result.Confidence = domain.ConfidenceNone
	if best == nil {
		return result, nil
	}

	directionID := best.DirectionID
	score := bestScore
	result.CandidateDirectionID = &directionID
	result.CandidateDirectionName = best.Name
	result.Similarity = &score

	if bestScore >= r.threshold {
		result.DirectionID = &directionID
		result.Confidence = domain.ConfidenceLow
		return result, nil
	}
	r.log.Debug("attribution: text fallback below threshold",
		"accountId", in.AccountID, "candidateDirection", best.Name, "similarity", bestScore, "threshold", r.threshold)
	return result, nil
}

func withMapping(result Result, mapping CreativeMapping, confidence domain.Confidence) Result {
	creativeID := mapping.CreativeID
	result.CreativeID = &creativeID
	result.DirectionID = mapping.DirectionID
	result.Confidence = confidence
	return result
}
