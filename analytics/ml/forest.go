package ml

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// ForestConfig defines the ensemble and tree growth parameters
type ForestConfig struct {
	Trees           int   `json:"trees"`
	MaxDepth        int   `json:"max_depth"` // 0 grows until leaves are pure
	MinSamplesSplit int   `json:"min_samples_split"`
	MinSamplesLeaf  int   `json:"min_samples_leaf"`
	MaxFeatures     int   `json:"max_features"` // 0 uses sqrt(n_features)
	Bootstrap       bool  `json:"bootstrap"`
	Seed            int64 `json:"seed"`
}

// Node is a tree node. Leaves have Feature == -1.
type Node struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold"`
	Left      int       `json:"left"`
	Right     int       `json:"right"`
	Value     []float64 `json:"value"` // class probabilities at the node
	Impurity  float64   `json:"impurity"`
	Samples   int       `json:"samples"`
}

// Tree is a CART classification tree stored as a flat node list; node 0 is the root
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// RandomForest is an ensemble of gini trees grown on bootstrap samples
type RandomForest struct {
	Config      ForestConfig `json:"config"`
	NumFeatures int          `json:"num_features"`
	NumClasses  int          `json:"num_classes"`
	Trees       []*Tree      `json:"trees"`
	Importances []float64    `json:"importances"`
}

// NewRandomForest creates an untrained forest
func NewRandomForest(cfg ForestConfig) *RandomForest {
	if cfg.Trees <= 0 {
		cfg.Trees = 100
	}
	if cfg.MinSamplesSplit < 2 {
		cfg.MinSamplesSplit = 2
	}
	if cfg.MinSamplesLeaf < 1 {
		cfg.MinSamplesLeaf = 1
	}
	return &RandomForest{Config: cfg}
}

// Fit grows the ensemble on rows of x with class indices y in [0, numClasses)
func (rf *RandomForest) Fit(x [][]float64, y []int, numClasses int) error {
	if len(x) == 0 {
		return fmt.Errorf("no training samples provided")
	}
	if len(x) != len(y) {
		return fmt.Errorf("got %d samples and %d labels", len(x), len(y))
	}
	if numClasses <= 0 {
		return fmt.Errorf("number of classes must be positive")
	}
	nf := len(x[0])
	for i, row := range x {
		if len(row) != nf {
			return fmt.Errorf("sample %d has %d features, expected %d", i, len(row), nf)
		}
	}
	for i, label := range y {
		if label < 0 || label >= numClasses {
			return fmt.Errorf("label %d of sample %d out of range", label, i)
		}
	}

	rf.NumFeatures = nf
	rf.NumClasses = numClasses
	rf.Trees = make([]*Tree, 0, rf.Config.Trees)

	mtry := rf.Config.MaxFeatures
	if mtry <= 0 || mtry > nf {
		mtry = int(math.Max(1, math.Floor(math.Sqrt(float64(nf)))))
	}

	rng := rand.New(rand.NewSource(rf.Config.Seed))
	for t := 0; t < rf.Config.Trees; t++ {
		samples := make([]int, len(x))
		for i := range samples {
			if rf.Config.Bootstrap {
				samples[i] = rng.Intn(len(x))
			} else {
				samples[i] = i
			}
		}

		b := &treeBuilder{x: x, y: y, classes: numClasses, mtry: mtry, cfg: rf.Config, rng: rng}
		tree := &Tree{}
		b.grow(tree, samples, 0)
		rf.Trees = append(rf.Trees, tree)
	}

	rf.Importances = rf.computeImportances()
	return nil
}

type treeBuilder struct {
	x       [][]float64
	y       []int
	classes int
	mtry    int
	cfg     ForestConfig
	rng     *rand.Rand
}

func (b *treeBuilder) distribution(samples []int) ([]float64, float64) {
	counts := make([]float64, b.classes)
	for _, s := range samples {
		counts[b.y[s]]++
	}
	n := float64(len(samples))
	gini := 1.0
	for k := range counts {
		counts[k] /= n
		gini -= counts[k] * counts[k]
	}
	return counts, gini
}

// grow appends the subtree over samples and returns its node index
func (b *treeBuilder) grow(tree *Tree, samples []int, depth int) int {
	value, impurity := b.distribution(samples)
	idx := len(tree.Nodes)
	tree.Nodes = append(tree.Nodes, Node{
		Feature:  -1,
		Left:     -1,
		Right:    -1,
		Value:    value,
		Impurity: impurity,
		Samples:  len(samples),
	})

	if impurity <= 1e-12 ||
		len(samples) < b.cfg.MinSamplesSplit ||
		len(samples) < 2*b.cfg.MinSamplesLeaf ||
		(b.cfg.MaxDepth > 0 && depth >= b.cfg.MaxDepth) {
		return idx
	}

	feature, threshold, ok := b.bestSplit(samples)
	if !ok {
		return idx
	}

	var left, right []int
	for _, s := range samples {
		if b.x[s][feature] <= threshold {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}

	l := b.grow(tree, left, depth+1)
	r := b.grow(tree, right, depth+1)
	node := &tree.Nodes[idx]
	node.Feature = feature
	node.Threshold = threshold
	node.Left = l
	node.Right = r
	return idx
}

// bestSplit searches mtry random features for the threshold minimizing weighted gini.
// When none of the drawn features can split, the remaining features are tried.
func (b *treeBuilder) bestSplit(samples []int) (int, float64, bool) {
	nf := len(b.x[0])
	features := b.rng.Perm(nf)

	bestFeature, bestThreshold := -1, 0.0
	bestScore := math.Inf(1)
	n := len(samples)
	sorted := make([]int, n)

	for visited, f := range features {
		if visited >= b.mtry && bestFeature >= 0 {
			break
		}

		copy(sorted, samples)
		sort.Slice(sorted, func(i, j int) bool {
			return b.x[sorted[i]][f] < b.x[sorted[j]][f]
		})

		leftCounts := make([]float64, b.classes)
		rightCounts := make([]float64, b.classes)
		for _, s := range sorted {
			rightCounts[b.y[s]]++
		}

		for i := 0; i < n-1; i++ {
			label := b.y[sorted[i]]
			leftCounts[label]++
			rightCounts[label]--

			lo, hi := b.x[sorted[i]][f], b.x[sorted[i+1]][f]
			if lo == hi {
				continue
			}
			nl, nr := i+1, n-i-1
			if nl < b.cfg.MinSamplesLeaf || nr < b.cfg.MinSamplesLeaf {
				continue
			}

			score := float64(nl)*giniOf(leftCounts, nl) + float64(nr)*giniOf(rightCounts, nr)
			if score < bestScore {
				bestScore = score
				bestFeature = f
				bestThreshold = lo + (hi-lo)/2
				if bestThreshold == hi {
					bestThreshold = lo
				}
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

func giniOf(counts []float64, n int) float64 {
	g := 1.0
	for _, c := range counts {
		p := c / float64(n)
		g -= p * p
	}
	return g
}

// path walks x down the tree and returns the visited node indices, root first
func (t *Tree) path(x []float64) []int {
	path := []int{0}
	idx := 0
	for t.Nodes[idx].Feature >= 0 {
		node := t.Nodes[idx]
		if x[node.Feature] <= node.Threshold {
			idx = node.Left
		} else {
			idx = node.Right
		}
		path = append(path, idx)
	}
	return path
}

// PredictProba averages the leaf class distributions of all trees
func (rf *RandomForest) PredictProba(x []float64) ([]float64, error) {
	if len(rf.Trees) == 0 {
		return nil, ErrNotTrained
	}
	if len(x) != rf.NumFeatures {
		return nil, fmt.Errorf("got %d features, model expects %d", len(x), rf.NumFeatures)
	}

	proba := make([]float64, rf.NumClasses)
	for _, tree := range rf.Trees {
		path := tree.path(x)
		leaf := tree.Nodes[path[len(path)-1]]
		for k, v := range leaf.Value {
			proba[k] += v
		}
	}
	for k := range proba {
		proba[k] /= float64(len(rf.Trees))
	}
	return proba, nil
}

// Predict returns the most probable class index; ties go to the lower index
func (rf *RandomForest) Predict(x []float64) (int, error) {
	proba, err := rf.PredictProba(x)
	if err != nil {
		return 0, err
	}
	return argmax(proba), nil
}

// Contributions decomposes the predicted probabilities along decision paths:
// proba[k] = bias[k] + Σ_f contrib[f][k], averaged over trees.
func (rf *RandomForest) Contributions(x []float64) ([]float64, [][]float64, error) {
	if len(rf.Trees) == 0 {
		return nil, nil, ErrNotTrained
	}
	if len(x) != rf.NumFeatures {
		return nil, nil, fmt.Errorf("got %d features, model expects %d", len(x), rf.NumFeatures)
	}

	bias := make([]float64, rf.NumClasses)
	contrib := make([][]float64, rf.NumFeatures)
	for f := range contrib {
		contrib[f] = make([]float64, rf.NumClasses)
	}

	for _, tree := range rf.Trees {
		path := tree.path(x)
		for k, v := range tree.Nodes[0].Value {
			bias[k] += v
		}
		for i := 1; i < len(path); i++ {
			parent := tree.Nodes[path[i-1]]
			child := tree.Nodes[path[i]]
			for k := range child.Value {
				contrib[parent.Feature][k] += child.Value[k] - parent.Value[k]
			}
		}
	}

	n := float64(len(rf.Trees))
	for k := range bias {
		bias[k] /= n
	}
	for f := range contrib {
		for k := range contrib[f] {
			contrib[f][k] /= n
		}
	}
	return bias, contrib, nil
}

// computeImportances returns mean decrease in impurity, normalized per tree and
// overall. Single-leaf trees are ignored.
func (rf *RandomForest) computeImportances() []float64 {
	total := make([]float64, rf.NumFeatures)
	used := 0
	for _, tree := range rf.Trees {
		if len(tree.Nodes) <= 1 {
			continue
		}
		imp := make([]float64, rf.NumFeatures)
		for _, node := range tree.Nodes {
			if node.Feature < 0 {
				continue
			}
			left, right := tree.Nodes[node.Left], tree.Nodes[node.Right]
			imp[node.Feature] += float64(node.Samples)*node.Impurity -
				float64(left.Samples)*left.Impurity -
				float64(right.Samples)*right.Impurity
		}
		normalize(imp)
		for f, v := range imp {
			total[f] += v
		}
		used++
	}
	if used == 0 {
		return total
	}
	normalize(total)
	return total
}

func normalize(v []float64) {
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	if sum <= 0 {
		return
	}
	for i := range v {
		v[i] /= sum
	}
}

func argmax(v []float64) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
