/*
File: train.go
Version: 1.0.0
Description: Offline training pipeline: corpus -> features -> shuffled split -> forest -> accuracy -> artifact.
             Features come from ExtractFeatures, the same function the scorer uses.
*/

package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// TrainingReport summarises one training run.
type TrainingReport struct {
	Samples  int
	Phishing int
	Train    int
	Test     int
	Accuracy float64 // on the held-out split, NaN when Test == 0
	Trees    int
	Elapsed  time.Duration
}

// splitIndices shuffles 0..n-1 with seed and returns (train, test). The test share is
// rounded up, as long as one training sample remains.
func splitIndices(n int, testFraction float64, seed int64) ([]int, []int) {
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	if testFraction <= 0 || n < 2 {
		return perm, nil
	}
	testN := int(math.Ceil(float64(n) * testFraction))
	if testN >= n {
		testN = n - 1
	}
	return perm[testN:], perm[:testN]
}

// RunTraining fits a forest on the corpus at datasetPath and writes the artifact to outPath.
func RunTraining(ctx context.Context, cfg TrainingConfig, datasetPath, outPath string) (*TrainingReport, error) {
	start := time.Now()

	LogInfo("[TRAIN] Loading data from %s...", datasetPath)
	rows, stats, err := LoadDataset(datasetPath)
	if err != nil {
		return nil, err
	}
	LogInfo("[TRAIN] Loaded %d rows (Kept: %d, Dropped: %d, Malformed: %d, Phishing: %d)",
		stats.Rows, stats.Kept, stats.Dropped, stats.Malformed, stats.Phishing)

	X := make([]FeatureVector, len(rows))
	y := make([]int, len(rows))
	for i, row := range rows {
		X[i] = ExtractFeatures(row.URL)
		y[i] = row.Label
	}

	trainIdx, testIdx := splitIndices(len(rows), cfg.TestSize, cfg.Seed)
	trainX, trainY := gather(X, y, trainIdx)

	LogInfo("[TRAIN] Training the model (Trees: %d, Train: %d, Test: %d, Seed: %d)...",
		cfg.Trees, len(trainIdx), len(testIdx), cfg.Seed)
	forest, err := TrainForest(ctx, trainX, trainY, ForestParams{
		Trees:           cfg.Trees,
		MaxDepth:        cfg.MaxDepth,
		MinSamplesSplit: cfg.MinSamplesSplit,
		Seed:            cfg.Seed,
		Workers:         cfg.Workers,
	})
	if err != nil {
		return nil, fmt.Errorf("train forest: %w", err)
	}

	report := &TrainingReport{
		Samples:  len(rows),
		Phishing: stats.Phishing,
		Train:    len(trainIdx),
		Test:     len(testIdx),
		Accuracy: math.NaN(),
		Trees:    forest.NumTrees(),
	}

	if len(testIdx) > 0 {
		testX, testY := gather(X, y, testIdx)
		acc, err := Accuracy(forest, testX, testY)
		if err != nil {
			return nil, err
		}
		report.Accuracy = acc
		LogInfo("[TRAIN] Model Accuracy: %.2f%%", acc*100)
	}

	if err := forest.Save(outPath); err != nil {
		return nil, err
	}
	report.Elapsed = time.Since(start)
	LogInfo("[TRAIN] Model saved to %s in %v", outPath, report.Elapsed)
	return report, nil
}

// Accuracy is the share of X whose predicted class (phishing iff p > 0.5) matches y.
func Accuracy(model Classifier, X []FeatureVector, y []int) (float64, error) {
	if len(X) == 0 {
		return math.NaN(), nil
	}
	correct := 0
	for i, v := range X {
		probs, err := model.PredictProba(v)
		if err != nil {
			return 0, err
		}
		predicted := ClassLegitimate
		if isPhishing(probs[ClassPhishing]) {
			predicted = ClassPhishing
		}
		if predicted == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(X)), nil
}

func gather(X []FeatureVector, y []int, idx []int) ([]FeatureVector, []int) {
	gx := make([]FeatureVector, len(idx))
	gy := make([]int, len(idx))
	for k, i := range idx {
		gx[k] = X[i]
		gy[k] = y[i]
	}
	return gx, gy
}
