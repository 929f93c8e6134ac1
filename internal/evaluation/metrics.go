package evaluation

import (
	"sort"

	"github.com/exchron/exchron-engine/internal/core/models"
)

// Evaluate computes the aggregate classification metrics for a labeled
// evaluation set: accuracy, confusion matrix, macro precision/recall/F1,
// and, for exactly two classes, ROC and PR curves swept over every
// distinct predicted score. Class indices refer to positions in the
// classes list; class 1 is treated as the positive class for the curves.
func Evaluate(truth, predictions []int, probas [][]float64, classes []string) (*models.TrainingMetrics, error) {
	if len(truth) == 0 {
		return nil, models.NewValidationError("evaluation set is empty")
	}
	if len(truth) != len(predictions) {
		return nil, models.NewValidationError("prediction count %d does not match truth count %d", len(predictions), len(truth))
	}

	matrix := BuildConfusionMatrix(truth, predictions, len(classes))
	precision := MacroPrecision(matrix)
	recall := MacroRecall(matrix)

	metrics := &models.TrainingMetrics{
		Accuracy:        Accuracy(matrix),
		Precision:       precision,
		Recall:          recall,
		F1:              f1(precision, recall),
		ConfusionMatrix: matrix,
		ClassLabels:     append([]string(nil), classes...),
	}

	if len(classes) == 2 && len(probas) == len(truth) {
		scores := make([]float64, len(truth))
		for i, row := range probas {
			scores[i] = row[1]
		}
		metrics.ROCCurve = ROCCurve(scores, truth)
		metrics.PRCurve = PRCurve(scores, truth)
	}

	return metrics, nil
}

// BuildConfusionMatrix counts true class (rows) against predicted class
// (columns). Row sums equal the number of true instances per class.
func BuildConfusionMatrix(truth, predictions []int, numClasses int) [][]int {
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}
	for i, trueClass := range truth {
		predClass := predictions[i]
		if trueClass < 0 || trueClass >= numClasses || predClass < 0 || predClass >= numClasses {
			continue
		}
		matrix[trueClass][predClass]++
	}
	return matrix
}

func Accuracy(matrix [][]int) float64 {
	correct, total := 0, 0
	for i, row := range matrix {
		for j, count := range row {
			total += count
			if i == j {
				correct += count
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(correct) / float64(total)
}

// MacroPrecision averages per-class precision over the classes that
// received at least one prediction.
func MacroPrecision(matrix [][]int) float64 {
	sum := 0.0
	validClasses := 0
	for class := range matrix {
		tp := float64(matrix[class][class])
		fp := 0.0
		for other := range matrix {
			if other != class {
				fp += float64(matrix[other][class])
			}
		}
		if tp+fp > 0 {
			sum += tp / (tp + fp)
			validClasses++
		}
	}
	if validClasses == 0 {
		return 0
	}
	return sum / float64(validClasses)
}

// MacroRecall averages per-class recall over the classes that actually
// occur in the evaluation set.
func MacroRecall(matrix [][]int) float64 {
	sum := 0.0
	validClasses := 0
	for class := range matrix {
		tp := float64(matrix[class][class])
		fn := 0.0
		for other := range matrix {
			if other != class {
				fn += float64(matrix[class][other])
			}
		}
		if tp+fn > 0 {
			sum += tp / (tp + fn)
			validClasses++
		}
	}
	if validClasses == 0 {
		return 0
	}
	return sum / float64(validClasses)
}

func f1(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

type scoredLabel struct {
	score    float64
	positive bool
}

// sortedScores pairs each score with whether the sample is positive and
// orders them by descending score.
func sortedScores(scores []float64, truth []int) ([]scoredLabel, int, int) {
	pairs := make([]scoredLabel, len(scores))
	totalPos, totalNeg := 0, 0
	for i, score := range scores {
		positive := truth[i] == 1
		pairs[i] = scoredLabel{score: score, positive: positive}
		if positive {
			totalPos++
		} else {
			totalNeg++
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].score > pairs[j].score
	})
	return pairs, totalPos, totalNeg
}

// ROCCurve sweeps every distinct score as a classification threshold
// (predict positive at score >= threshold) and emits one point per
// threshold, ordered from the strictest threshold to the loosest. Nil
// when either class is absent.
func ROCCurve(scores []float64, truth []int) []models.ROCPoint {
	pairs, totalPos, totalNeg := sortedScores(scores, truth)
	if totalPos == 0 || totalNeg == 0 {
		return nil
	}

	var points []models.ROCPoint
	tp, fp := 0, 0
	for i := 0; i < len(pairs); {
		threshold := pairs[i].score
		for i < len(pairs) && pairs[i].score == threshold {
			if pairs[i].positive {
				tp++
			} else {
				fp++
			}
			i++
		}
		points = append(points, models.ROCPoint{
			Threshold: threshold,
			FPR:       float64(fp) / float64(totalNeg),
			TPR:       float64(tp) / float64(totalPos),
		})
	}
	return points
}

// PRCurve is the precision/recall companion of ROCCurve over the same
// distinct-threshold sweep.
func PRCurve(scores []float64, truth []int) []models.PRPoint {
	pairs, totalPos, totalNeg := sortedScores(scores, truth)
	if totalPos == 0 || totalNeg == 0 {
		return nil
	}

	var points []models.PRPoint
	tp, fp := 0, 0
	for i := 0; i < len(pairs); {
		threshold := pairs[i].score
		for i < len(pairs) && pairs[i].score == threshold {
			if pairs[i].positive {
				tp++
			} else {
				fp++
			}
			i++
		}
		points = append(points, models.PRPoint{
			Threshold: threshold,
			Recall:    float64(tp) / float64(totalPos),
			Precision: float64(tp) / float64(tp+fp),
		})
	}
	return points
}
