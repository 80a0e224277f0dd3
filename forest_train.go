/*
File: forest_train.go
Version: 1.2.0
Description: CART tree induction and bagging for the random forest.
             Gini impurity, bootstrap samples, sqrt(n_features) candidate features per split.
             Each tree draws from its own seeded source so results do not depend on scheduling.
*/

package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// ForestParams controls forest induction. Zero values pick the defaults noted per field.
type ForestParams struct {
	Trees           int   // default 100
	MaxDepth        int   // 0 = grow until pure
	MinSamplesSplit int   // default 2
	MaxFeatures     int   // default floor(sqrt(FeatureCount))
	Seed            int64 // used as given, 0 included
	Workers         int   // default runtime.NumCPU()
}

func (p ForestParams) withDefaults() ForestParams {
	if p.Trees <= 0 {
		p.Trees = 100
	}
	if p.MinSamplesSplit < 2 {
		p.MinSamplesSplit = 2
	}
	if p.MaxFeatures <= 0 || p.MaxFeatures > FeatureCount {
		p.MaxFeatures = int(math.Sqrt(float64(FeatureCount)))
	}
	if p.Workers <= 0 {
		p.Workers = runtime.NumCPU()
	}
	return p
}

// TrainForest fits a random forest on X with binary labels y (ClassPhishing or ClassLegitimate).
func TrainForest(ctx context.Context, X []FeatureVector, y []int, params ForestParams) (*RandomForest, error) {
	if len(X) == 0 {
		return nil, fmt.Errorf("no training samples")
	}
	if len(X) != len(y) {
		return nil, fmt.Errorf("sample/label mismatch: %d vs %d", len(X), len(y))
	}
	for i, label := range y {
		if label != ClassLegitimate && label != ClassPhishing {
			return nil, fmt.Errorf("sample %d: label %d is not binary", i, label)
		}
	}

	params = params.withDefaults()
	trees := make([]decisionTree, params.Trees)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(params.Workers)

	for i := range trees {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			b := &treeBuilder{
				X:      X,
				y:      y,
				params: params,
				rng:    rand.New(rand.NewSource(params.Seed + int64(i))),
			}
			trees[i] = b.build(b.bootstrap())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &RandomForest{trees: trees, trainedAt: time.Now().UTC()}, nil
}

type treeBuilder struct {
	X      []FeatureVector
	y      []int
	params ForestParams
	rng    *rand.Rand
	nodes  []treeNode
}

func (b *treeBuilder) bootstrap() []int {
	n := len(b.X)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = b.rng.Intn(n)
	}
	return idx
}

func (b *treeBuilder) build(idx []int) decisionTree {
	b.nodes = make([]treeNode, 0, 2*len(idx)/b.params.MinSamplesSplit+1)
	b.grow(idx, 0)
	return decisionTree{Nodes: b.nodes}
}

// grow appends the subtree for idx and returns the index of its root.
func (b *treeBuilder) grow(idx []int, depth int) int32 {
	pos := b.countPositive(idx)
	self := int32(len(b.nodes))
	b.nodes = append(b.nodes, treeNode{Leaf: true, Prob: float64(pos) / float64(len(idx))})

	if pos == 0 || pos == len(idx) || len(idx) < b.params.MinSamplesSplit {
		return self
	}
	if b.params.MaxDepth > 0 && depth >= b.params.MaxDepth {
		return self
	}

	feature, threshold, ok := b.bestSplit(idx, pos)
	if !ok {
		return self
	}

	var left, right []int
	for _, i := range idx {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[self] = treeNode{Feature: feature, Threshold: threshold, Left: l, Right: r}
	return self
}

func (b *treeBuilder) countPositive(idx []int) int {
	n := 0
	for _, i := range idx {
		if b.y[i] == ClassPhishing {
			n++
		}
	}
	return n
}

// bestSplit evaluates features in random order until MaxFeatures non-constant ones were
// tried, keeping the split with the lowest weighted Gini impurity. Both sides of a returned
// split are non-empty.
func (b *treeBuilder) bestSplit(idx []int, pos int) (int, float64, bool) {
	n := float64(len(idx))
	bestScore := math.Inf(1)
	bestFeature, bestThreshold, found := -1, 0.0, false

	sorted := make([]int, len(idx))
	tried := 0

	for _, f := range b.rng.Perm(FeatureCount) {
		if tried >= b.params.MaxFeatures {
			break
		}

		copy(sorted, idx)
		sort.Slice(sorted, func(a, c int) bool { return b.X[sorted[a]][f] < b.X[sorted[c]][f] })

		lo, hi := b.X[sorted[0]][f], b.X[sorted[len(sorted)-1]][f]
		if lo == hi {
			continue
		}
		tried++

		leftPos := 0.0
		for k := 0; k < len(sorted)-1; k++ {
			if b.y[sorted[k]] == ClassPhishing {
				leftPos++
			}
			cur, next := b.X[sorted[k]][f], b.X[sorted[k+1]][f]
			if cur == next {
				continue
			}

			leftN := float64(k + 1)
			rightN := n - leftN
			score := (leftN*gini(leftPos, leftN) + rightN*gini(float64(pos)-leftPos, rightN)) / n
			if score < bestScore {
				bestScore = score
				bestFeature = f
				bestThreshold = cur + (next-cur)/2
				if bestThreshold >= next {
					bestThreshold = cur
				}
				found = true
			}
		}
	}

	return bestFeature, bestThreshold, found
}

func gini(pos, n float64) float64 {
	if n == 0 {
		return 0
	}
	p := pos / n
	return 2 * p * (1 - p)
}
