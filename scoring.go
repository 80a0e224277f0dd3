/*
File: scoring.go
Version: 1.3.0
Description: Scoring pipeline. A Scorer is built once from a loaded classifier and shared by all
             requests: URL -> features -> class probabilities -> decision + confidence.
             Identical concurrent URLs are scored once (singleflight) and results are cached.
*/

package main

import (
	"context"
	"fmt"
	"math"
	"net"
	"sync/atomic"

	"golang.org/x/net/publicsuffix"
)

// Strictly greater than: exactly 50% is legitimate.
const phishingThreshold = 0.5

// PredictionResult is the answer for one URL.
type PredictionResult struct {
	URL             string  `json:"url"`
	IsPhishing      bool    `json:"is_phishing"`
	ConfidenceScore float64 `json:"confidence_score"`
	Domain          string  `json:"domain,omitempty"`
}

// ScorerStats are cumulative counters since the Scorer was created.
type ScorerStats struct {
	Predictions uint64 `json:"predictions"`
	CacheHits   uint64 `json:"cache_hits"`
	Flagged     uint64 `json:"flagged"`
}

type Scorer struct {
	model  Classifier
	cache  *PredictionCache
	flight *ShardedGroup

	predictions atomic.Uint64
	cacheHits   atomic.Uint64
	flagged     atomic.Uint64
}

// NewScorer wraps model. cacheSize <= 0 disables result caching.
func NewScorer(model Classifier, cacheSize int) *Scorer {
	return &Scorer{
		model:  model,
		cache:  NewPredictionCache(cacheSize),
		flight: NewShardedGroup(),
	}
}

func isPhishing(prob float64) bool {
	return prob > phishingThreshold
}

// Predict scores rawURL. An empty URL yields ErrMissingURL without touching the model.
func (s *Scorer) Predict(ctx context.Context, rawURL string) (PredictionResult, error) {
	if rawURL == "" {
		return PredictionResult{}, ErrMissingURL
	}

	if res, ok := s.cache.Get(rawURL); ok {
		s.cacheHits.Add(1)
		s.record(res)
		if IsDebugEnabled() {
			LogDebug("[SCORE] Cache Hit: %s -> %.2f%%", rawURL, res.ConfidenceScore)
		}
		return res, nil
	}

	ch := s.flight.DoChan(rawURL, func() (interface{}, error) {
		if res, ok := s.cache.Get(rawURL); ok {
			return res, nil
		}
		res, err := s.score(rawURL)
		if err != nil {
			return nil, err
		}
		s.cache.Add(rawURL, res)
		return res, nil
	})

	select {
	case <-ctx.Done():
		return PredictionResult{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return PredictionResult{}, r.Err
		}
		res := r.Val.(PredictionResult)
		if r.Shared && IsDebugEnabled() {
			LogDebug("[SCORE] Shared flight result for %s", rawURL)
		}
		s.record(res)
		return res, nil
	}
}

func (s *Scorer) score(rawURL string) (PredictionResult, error) {
	features := ExtractFeatures(rawURL)

	probs, err := s.model.PredictProba(features)
	if err != nil {
		return PredictionResult{}, fmt.Errorf("classifier: %w", err)
	}
	prob := probs[ClassPhishing]
	if math.IsNaN(prob) || prob < 0 || prob > 1 {
		return PredictionResult{}, fmt.Errorf("classifier returned phishing probability %v", prob)
	}

	if IsDebugEnabled() {
		LogDebug("[SCORE] %s | Features: %v | Prob: %.4f", rawURL, features, prob)
	}

	return PredictionResult{
		URL:             rawURL,
		IsPhishing:      isPhishing(prob),
		ConfidenceScore: prob * 100,
		Domain:          registrableDomain(Hostname(rawURL)),
	}, nil
}

func (s *Scorer) record(res PredictionResult) {
	s.predictions.Add(1)
	if res.IsPhishing {
		s.flagged.Add(1)
	}
}

// Stats returns a snapshot of the counters.
func (s *Scorer) Stats() ScorerStats {
	return ScorerStats{
		Predictions: s.predictions.Load(),
		CacheHits:   s.cacheHits.Load(),
		Flagged:     s.flagged.Load(),
	}
}

// registrableDomain returns eTLD+1 for hostname, or "" for IPs and hosts the public
// suffix list cannot place.
func registrableDomain(hostname string) string {
	if hostname == "" || net.ParseIP(hostname) != nil || ipv4Pattern.MatchString(hostname) {
		return ""
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(hostname)
	if err != nil {
		return ""
	}
	return domain
}
