// Package predictor ranks the day's candidate symbols by traded value,
// filters and scores them against the ONNX model, and returns the single
// top candidate clearing the probability threshold, or none.
package predictor

import (
	"context"
	"sort"
	"strings"

	"github.com/stockrs-go/tradeengine/internal/apperr"
	"github.com/stockrs-go/tradeengine/internal/features"
)

const (
	maxCandidates         = 15
	probabilityThreshold  = 0.5
	defaultTopKCandidates = 30
)

// BarRanker is the subset of bars.Store Predictor needs: the top-K
// symbols by traded value summed over a timestamp window.
type BarRanker interface {
	TopByTradedValue(ctx context.Context, fromTS, toTS string, limit int) ([]string, error)
}

// VectorBuilder is the subset of features.Extractor Predictor needs.
type VectorBuilder interface {
	Vector(ctx context.Context, stockCode, date string, window features.Window, names []string) ([]float32, error)
}

// candidateScorer is the subset of Scorer Predictor needs, narrowed so
// tests can substitute a fake without touching ONNX.
type candidateScorer interface {
	Score(vec []float32) (float32, error)
}

// Predictor is the per-tick candidate ranking and scoring pipeline.
type Predictor struct {
	ranker    BarRanker
	vectors   VectorBuilder
	scorer    candidateScorer
	featureNames []string
	inclusion map[string]struct{} // empty means no filter
	topK      int
	window    features.Window
}

// New constructs a Predictor. topK <= 0 defaults to 30. An empty or nil
// inclusion set means every ranked symbol is eligible.
func New(ranker BarRanker, vectors VectorBuilder, scorer candidateScorer, featureNames []string, inclusion map[string]struct{}, topK int, window features.Window) *Predictor {
	if topK <= 0 {
		topK = defaultTopKCandidates
	}
	return &Predictor{
		ranker: ranker, vectors: vectors, scorer: scorer,
		featureNames: featureNames, inclusion: inclusion, topK: topK, window: window,
	}
}

// PredictTopStock runs the full pipeline for date (YYYYMMDD): rank by
// traded value summed over the feature window, filter to the inclusion
// list, truncate to 15, score each candidate, and return the highest-
// probability symbol clearing the threshold — or ok=false if none does. No
// fallback symbol is ever invented.
func (p *Predictor) PredictTopStock(ctx context.Context, date string) (string, bool, error) {
	fromTS := date + strings.ReplaceAll(p.window.Start, ":", "")
	toTS := date + strings.ReplaceAll(p.window.End, ":", "")
	ranked, err := p.ranker.TopByTradedValue(ctx, fromTS, toTS, p.topK)
	if err != nil {
		return "", false, apperr.Wrap(apperr.KindData, "predictor.PredictTopStock", err)
	}

	candidates := p.filterAndTruncate(ranked)
	if len(candidates) == 0 {
		return "", false, nil
	}

	type scoredCandidate struct {
		symbol string
		prob   float32
	}
	var passing []scoredCandidate
	for _, symbol := range candidates {
		vec, err := p.vectors.Vector(ctx, symbol, date, p.window, p.featureNames)
		if err != nil {
			return "", false, err
		}
		prob, err := p.scorer.Score(vec)
		if err != nil {
			return "", false, apperr.Wrap(apperr.KindPrediction, "predictor.PredictTopStock", err)
		}
		if prob >= probabilityThreshold {
			passing = append(passing, scoredCandidate{symbol: symbol, prob: prob})
		}
	}
	if len(passing) == 0 {
		return "", false, nil
	}

	sort.Slice(passing, func(i, j int) bool { return passing[i].prob > passing[j].prob })
	return passing[0].symbol, true, nil
}

func (p *Predictor) filterAndTruncate(symbols []string) []string {
	out := make([]string, 0, maxCandidates)
	for _, s := range symbols {
		if len(p.inclusion) > 0 {
			if _, ok := p.inclusion[s]; !ok {
				continue
			}
		}
		out = append(out, s)
		if len(out) >= maxCandidates {
			break
		}
	}
	return out
}
