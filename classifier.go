/*
File: classifier.go
Version: 1.0.0
Description: The classifier capability consumed by the scoring pipeline, and artifact loading.
*/

package main

import (
	"fmt"
	"os"
)

// Class indices. Index 1 is the phishing class in every artifact; LoadClassifier rejects
// artifacts whose label order disagrees.
const (
	ClassLegitimate = 0
	ClassPhishing   = 1
	NumClasses      = 2
)

// ClassLabels names the classes in index order.
var ClassLabels = [NumClasses]string{"legitimate", "phishing"}

// ClassProbabilities is a probability distribution over ClassLabels.
type ClassProbabilities [NumClasses]float64

// Classifier turns a feature vector into class probabilities. Implementations must be
// safe for concurrent use and must not mutate themselves while scoring.
type Classifier interface {
	PredictProba(v FeatureVector) (ClassProbabilities, error)
}

// LoadClassifier reads the model artifact at path. Any failure here is a startup error.
func LoadClassifier(path string) (*RandomForest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model artifact: %w", err)
	}
	defer f.Close()

	forest, err := DecodeForest(f)
	if err != nil {
		return nil, fmt.Errorf("load model artifact %s: %w", path, err)
	}

	LogInfo("[MODEL] Loaded %s (Trees: %d, Features: %d, Trained: %s)",
		path, len(forest.trees), FeatureCount, forest.trainedAt.Format("2006-01-02 15:04:05"))
	return forest, nil
}
