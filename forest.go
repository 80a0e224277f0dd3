/*
File: forest.go
Version: 1.2.0
Description: Random forest classifier and its gob artifact codec.
             Trees are stored as flat node slices so the artifact is a plain value graph.
             Children always sit after their parent, which DecodeForest verifies so a corrupt
             artifact can never make inference loop.
*/

package main

import (
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"
)

const forestFormat = "phishguard/random-forest"

// treeNode is either a split (Leaf=false) or a leaf holding the phishing fraction of the
// training samples that reached it.
type treeNode struct {
	Feature   int
	Threshold float64
	Left      int32
	Right     int32
	Leaf      bool
	Prob      float64
}

type decisionTree struct {
	Nodes []treeNode
}

func (t *decisionTree) predict(v *FeatureVector) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Leaf {
			return n.Prob
		}
		if v[n.Feature] <= n.Threshold {
			i = int(n.Left)
		} else {
			i = int(n.Right)
		}
	}
}

// forestArtifact is the on-disk representation.
type forestArtifact struct {
	Format    string
	Features  []string
	Classes   []string
	Trees     []decisionTree
	TrainedAt time.Time
}

// RandomForest averages the leaf probabilities of its trees. It is immutable after
// construction and safe for concurrent use.
type RandomForest struct {
	trees     []decisionTree
	trainedAt time.Time
}

// PredictProba implements Classifier.
func (f *RandomForest) PredictProba(v FeatureVector) (ClassProbabilities, error) {
	var probs ClassProbabilities
	if len(f.trees) == 0 {
		return probs, fmt.Errorf("%w: forest has no trees", ErrInvalidArtifact)
	}

	var sum float64
	for i := range f.trees {
		sum += f.trees[i].predict(&v)
	}
	p := sum / float64(len(f.trees))

	probs[ClassLegitimate] = 1 - p
	probs[ClassPhishing] = p
	return probs, nil
}

// NumTrees reports the ensemble size.
func (f *RandomForest) NumTrees() int {
	return len(f.trees)
}

// Encode writes the forest as a gob artifact.
func (f *RandomForest) Encode(w io.Writer) error {
	art := forestArtifact{
		Format:    forestFormat,
		Features:  FeatureNames[:],
		Classes:   ClassLabels[:],
		Trees:     f.trees,
		TrainedAt: f.trainedAt,
	}
	return gob.NewEncoder(w).Encode(&art)
}

// Save writes the artifact next to path and renames it into place, so a reader never
// sees a half-written model.
func (f *RandomForest) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create model directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".model-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := f.Encode(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("install artifact: %w", err)
	}
	return nil
}

// DecodeForest reads and validates a gob artifact.
func DecodeForest(r io.Reader) (*RandomForest, error) {
	var art forestArtifact
	if err := gob.NewDecoder(r).Decode(&art); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := art.validate(); err != nil {
		return nil, err
	}
	return &RandomForest{trees: art.Trees, trainedAt: art.TrainedAt}, nil
}

func (a *forestArtifact) validate() error {
	if a.Format != forestFormat {
		return fmt.Errorf("%w: format %q, want %q", ErrInvalidArtifact, a.Format, forestFormat)
	}

	if len(a.Features) != FeatureCount {
		return fmt.Errorf("%w: %d features, want %d", ErrInvalidArtifact, len(a.Features), FeatureCount)
	}
	for i, name := range a.Features {
		if name != FeatureNames[i] {
			return fmt.Errorf("%w: feature %d is %q, want %q", ErrInvalidArtifact, i, name, FeatureNames[i])
		}
	}

	if len(a.Classes) != NumClasses ||
		a.Classes[ClassLegitimate] != ClassLabels[ClassLegitimate] ||
		a.Classes[ClassPhishing] != ClassLabels[ClassPhishing] {
		return fmt.Errorf("%w: class labels %v, want %v", ErrInvalidArtifact, a.Classes, ClassLabels)
	}

	if len(a.Trees) == 0 {
		return fmt.Errorf("%w: no trees", ErrInvalidArtifact)
	}
	for ti := range a.Trees {
		nodes := a.Trees[ti].Nodes
		if len(nodes) == 0 {
			return fmt.Errorf("%w: tree %d is empty", ErrInvalidArtifact, ti)
		}
		for ni, n := range nodes {
			if n.Leaf {
				if math.IsNaN(n.Prob) || n.Prob < 0 || n.Prob > 1 {
					return fmt.Errorf("%w: tree %d node %d probability %v", ErrInvalidArtifact, ti, ni, n.Prob)
				}
				continue
			}
			if n.Feature < 0 || n.Feature >= FeatureCount {
				return fmt.Errorf("%w: tree %d node %d feature %d", ErrInvalidArtifact, ti, ni, n.Feature)
			}
			if int(n.Left) <= ni || int(n.Right) <= ni || int(n.Left) >= len(nodes) || int(n.Right) >= len(nodes) {
				return fmt.Errorf("%w: tree %d node %d children out of order", ErrInvalidArtifact, ti, ni)
			}
		}
	}
	return nil
}
