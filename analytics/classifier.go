package analytics

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"air-quality-analytics/analytics/ml"
	"air-quality-analytics/config"
	"air-quality-analytics/dataset"
	"air-quality-analytics/logging"
)

// ErrFeatureMismatch is returned when prediction input does not match the trained features
var ErrFeatureMismatch = errors.New("feature mismatch")

// ClassMetrics holds per-class evaluation scores
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1_score"`
	Support   int     `json:"support"`
}

// FeatureScore pairs a feature with a diagnostic score
type FeatureScore struct {
	Feature string  `json:"feature"`
	Score   float64 `json:"score"`
}

// ClassificationReport summarizes held-out performance and explanations
type ClassificationReport struct {
	TrainSize    int                        `json:"train_size"`
	TestSize     int                        `json:"test_size"`
	Accuracy     float64                    `json:"accuracy"`
	Classes      map[RiskLevel]ClassMetrics `json:"classes"`
	MacroAvg     ClassMetrics               `json:"macro_avg"`
	WeightedAvg  ClassMetrics               `json:"weighted_avg"`
	Importances  []FeatureScore             `json:"importances,omitempty"`
	Attributions []FeatureScore             `json:"attributions,omitempty"`
}

// RiskClassifier predicts a risk level from engineered features with a random forest
type RiskClassifier struct {
	Features []string         `json:"features"`
	Forest   *ml.RandomForest `json:"forest"`
	TestSize float64          `json:"test_size"`
	Seed     int64            `json:"seed"`
	logger   *logrus.Logger
}

// NewRiskClassifier creates an untrained classifier
func NewRiskClassifier(cfg config.ClassifierConfig, logger *logrus.Logger) *RiskClassifier {
	return &RiskClassifier{
		Forest: ml.NewRandomForest(ml.ForestConfig{
			Trees:           cfg.Trees,
			MaxDepth:        cfg.MaxDepth,
			MinSamplesSplit: cfg.MinSamplesSplit,
			MinSamplesLeaf:  cfg.MinSamplesLeaf,
			Bootstrap:       true,
			Seed:            cfg.Seed,
		}),
		TestSize: cfg.TestSize,
		Seed:     cfg.Seed,
		logger:   logging.OrDefault(logger),
	}
}

// SetLogger sets the logger of a classifier loaded from an artifact
func (rc *RiskClassifier) SetLogger(logger *logrus.Logger) {
	rc.logger = logging.OrDefault(logger)
}

// Train fits the forest on a seeded random split of the numeric columns of f and
// evaluates it on the held-out part. Explanation failures are logged, not returned.
func (rc *RiskClassifier) Train(f *dataset.Frame, labels []RiskLevel) (*ClassificationReport, error) {
	if rc.logger == nil {
		rc.logger = logging.OrDefault(nil)
	}
	if f.Len() != len(labels) {
		return nil, fmt.Errorf("got %d rows and %d labels", f.Len(), len(labels))
	}
	if f.Len() < 2 {
		return nil, fmt.Errorf("need at least 2 rows to train, got %d", f.Len())
	}

	features := f.NumericColumns()
	x, err := f.Matrix(features)
	if err != nil {
		return nil, err
	}
	y := make([]int, len(labels))
	for i, label := range labels {
		y[i] = label.Index()
		if y[i] < 0 {
			return nil, fmt.Errorf("unknown risk level %q at row %d", label, i)
		}
	}

	trainIdx, testIdx := splitIndices(len(x), rc.TestSize, rc.Seed)
	trainX, trainY := take(x, y, trainIdx)
	testX, testY := take(x, y, testIdx)

	rc.logger.WithFields(logrus.Fields{
		"features": len(features),
		"train":    len(trainX),
		"test":     len(testX),
		"trees":    rc.Forest.Config.Trees,
	}).Info("Training risk classifier")

	if err := rc.Forest.Fit(trainX, trainY, len(RiskLevels)); err != nil {
		return nil, fmt.Errorf("failed to fit random forest: %w", err)
	}
	rc.Features = features

	predicted := make([]int, len(testX))
	for i, row := range testX {
		predicted[i], err = rc.Forest.Predict(row)
		if err != nil {
			return nil, err
		}
	}

	report := evaluate(testY, predicted)
	report.TrainSize = len(trainX)
	report.TestSize = len(testX)
	report.Importances = rc.importances()

	attributions, err := rc.attributions(testX, predicted)
	if err != nil {
		rc.logger.WithError(err).Warn("Could not compute feature attributions")
	} else {
		report.Attributions = attributions
	}

	rc.logger.WithFields(logrus.Fields{
		"accuracy":  report.Accuracy,
		"macro_f1":  report.MacroAvg.F1,
		"test_size": report.TestSize,
	}).Info("Risk classifier evaluated")
	return report, nil
}

// Predict classifies one feature vector given by name. Every trained feature must be
// present and no other names are accepted.
func (rc *RiskClassifier) Predict(features map[string]float64) (RiskLevel, error) {
	if rc == nil || rc.Forest == nil || len(rc.Features) == 0 {
		return "", ml.ErrNotTrained
	}

	var missing, unknown []string
	row := make([]float64, len(rc.Features))
	known := make(map[string]bool, len(rc.Features))
	for i, name := range rc.Features {
		known[name] = true
		v, ok := features[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		row[i] = v
	}
	for name := range features {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	if len(missing) > 0 || len(unknown) > 0 {
		sort.Strings(unknown)
		return "", fmt.Errorf("%w: missing [%s], unknown [%s]", ErrFeatureMismatch,
			strings.Join(missing, ", "), strings.Join(unknown, ", "))
	}

	class, err := rc.Forest.Predict(row)
	if err != nil {
		return "", err
	}
	return RiskLevels[class], nil
}

func (rc *RiskClassifier) importances() []FeatureScore {
	scores := make([]FeatureScore, len(rc.Features))
	for i, name := range rc.Features {
		scores[i] = FeatureScore{Feature: name, Score: rc.Forest.Importances[i]}
	}
	sortScores(scores)
	return scores
}

// attributions averages |path contribution| toward the predicted class per feature
func (rc *RiskClassifier) attributions(x [][]float64, predicted []int) ([]FeatureScore, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("empty evaluation split")
	}

	totals := make([]float64, len(rc.Features))
	for i, row := range x {
		_, contrib, err := rc.Forest.Contributions(row)
		if err != nil {
			return nil, err
		}
		for f := range contrib {
			totals[f] += math.Abs(contrib[f][predicted[i]])
		}
	}

	scores := make([]FeatureScore, len(rc.Features))
	for i, name := range rc.Features {
		scores[i] = FeatureScore{Feature: name, Score: totals[i] / float64(len(x))}
	}
	sortScores(scores)
	return scores, nil
}

func sortScores(scores []FeatureScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Score > scores[j].Score
	})
}

// splitIndices shuffles row indices with seed and holds out ceil(n*testSize) of them
func splitIndices(n int, testSize float64, seed int64) ([]int, []int) {
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	nTest := int(math.Ceil(float64(n) * testSize))
	if nTest >= n {
		nTest = n - 1
	}
	if nTest < 0 {
		nTest = 0
	}
	return perm[nTest:], perm[:nTest]
}

func take(x [][]float64, y []int, idx []int) ([][]float64, []int) {
	outX := make([][]float64, len(idx))
	outY := make([]int, len(idx))
	for i, r := range idx {
		outX[i] = x[r]
		outY[i] = y[r]
	}
	return outX, outY
}

// evaluate computes per-class precision, recall and F1 over the classes that
// occur in either the actual or the predicted labels
func evaluate(actual, predicted []int) *ClassificationReport {
	report := &ClassificationReport{Classes: make(map[RiskLevel]ClassMetrics)}
	if len(actual) == 0 {
		return report
	}

	tp := make([]int, len(RiskLevels))
	predCount := make([]int, len(RiskLevels))
	support := make([]int, len(RiskLevels))
	correct := 0
	for i := range actual {
		support[actual[i]]++
		predCount[predicted[i]]++
		if actual[i] == predicted[i] {
			tp[actual[i]]++
			correct++
		}
	}
	report.Accuracy = float64(correct) / float64(len(actual))

	present := 0
	for k, level := range RiskLevels {
		if support[k] == 0 && predCount[k] == 0 {
			continue
		}
		m := ClassMetrics{Support: support[k]}
		if predCount[k] > 0 {
			m.Precision = float64(tp[k]) / float64(predCount[k])
		}
		if support[k] > 0 {
			m.Recall = float64(tp[k]) / float64(support[k])
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		report.Classes[level] = m

		present++
		report.MacroAvg.Precision += m.Precision
		report.MacroAvg.Recall += m.Recall
		report.MacroAvg.F1 += m.F1
		w := float64(m.Support)
		report.WeightedAvg.Precision += w * m.Precision
		report.WeightedAvg.Recall += w * m.Recall
		report.WeightedAvg.F1 += w * m.F1
	}

	n := float64(len(actual))
	report.MacroAvg.Precision /= float64(present)
	report.MacroAvg.Recall /= float64(present)
	report.MacroAvg.F1 /= float64(present)
	report.MacroAvg.Support = len(actual)
	report.WeightedAvg.Precision /= n
	report.WeightedAvg.Recall /= n
	report.WeightedAvg.F1 /= n
	report.WeightedAvg.Support = len(actual)
	return report
}
