package methods

import (
	"errors"
	"math"
	"strings"
)

var ErrNoValidStages = errors.New("no valid tooth stages provided")

// Demirjian self-weighted scores per tooth and stage.
var demirjianScores = map[string]map[string]float64{
	"31": {"A": 0, "B": 0.04, "C": 0.11, "D": 0.18, "E": 0.23, "F": 0.31, "G": 0.38, "H": 0.45},
	"32": {"A": 0, "B": 0.03, "C": 0.09, "D": 0.16, "E": 0.21, "F": 0.28, "G": 0.35, "H": 0.42},
	"33": {"A": 0, "B": 0.03, "C": 0.09, "D": 0.15, "E": 0.20, "F": 0.27, "G": 0.34, "H": 0.41},
	"34": {"A": 0, "B": 0.03, "C": 0.08, "D": 0.14, "E": 0.19, "F": 0.26, "G": 0.33, "H": 0.40},
	"35": {"A": 0, "B": 0.03, "C": 0.08, "D": 0.13, "E": 0.18, "F": 0.25, "G": 0.32, "H": 0.39},
	"36": {"A": 0, "B": 0.03, "C": 0.08, "D": 0.13, "E": 0.17, "F": 0.24, "G": 0.31, "H": 0.38},
	"37": {"A": 0, "B": 0.03, "C": 0.07, "D": 0.12, "E": 0.16, "F": 0.23, "G": 0.30, "H": 0.37},
}

// Score-to-age conversion tables, 0.00 to 3.00 in 0.05 steps. Ages in years.
var demirjianMaleAges = []float64{
	4.0, 4.2, 4.5, 4.7, 4.9, 5.1, 5.3, 5.5,
	5.7, 5.9, 6.1, 6.3, 6.5, 6.7, 6.9, 7.1,
	7.3, 7.5, 7.7, 7.9, 8.1, 8.3, 8.5, 8.7,
	8.9, 9.1, 9.3, 9.5, 9.7, 9.9, 10.1, 10.3,
	10.5, 10.7, 10.9, 11.1, 11.3, 11.5, 11.7, 11.9,
	12.1, 12.3, 12.5, 12.7, 12.9, 13.1, 13.3, 13.5,
	13.7, 13.9, 14.1, 14.3, 14.5, 14.7, 14.9, 15.1,
	15.3, 15.5, 15.7, 15.9, 16.1,
}

var demirjianFemaleAges = []float64{
	4.2, 4.4, 4.6, 4.8, 5.0, 5.2, 5.4, 5.6,
	5.8, 6.0, 6.2, 6.4, 6.6, 6.8, 7.0, 7.2,
	7.4, 7.6, 7.8, 8.0, 8.2, 8.4, 8.6, 8.8,
	9.0, 9.2, 9.4, 9.6, 9.8, 10.0, 10.2, 10.4,
	10.6, 10.8, 11.0, 11.2, 11.4, 11.6, 11.8, 12.0,
	12.2, 12.4, 12.6, 12.8, 13.0, 13.2, 13.4, 13.6,
	13.8, 14.0, 14.2, 14.4, 14.6, 14.8, 15.0, 15.2,
	15.4, 15.6, 15.8, 16.0, 16.2,
}

const conversionStep = 0.05

// DemirjianResult carries the maturity score alongside the converted age.
type DemirjianResult struct {
	TotalScore   float64
	EstimatedAge float64
	ErrorMargin  float64
}

// CalculateDemirjian sums the per-tooth maturity scores and converts the
// total to an age via the sex-specific table. Teeth missing from the input
// or carrying unknown stages contribute nothing.
func CalculateDemirjian(stages map[string]string, sex string) (DemirjianResult, error) {
	var total float64
	matched := 0
	for tooth, table := range demirjianScores {
		stage, ok := stages[tooth]
		if !ok {
			continue
		}
		score, ok := table[strings.ToUpper(stage)]
		if !ok {
			continue
		}
		total += score
		matched++
	}
	if matched == 0 {
		return DemirjianResult{}, ErrNoValidStages
	}

	// Round to the table's 0.05 granularity, then clamp into its range.
	step := int(math.Round(total / conversionStep))
	table := demirjianMaleAges
	if strings.EqualFold(sex, "female") {
		table = demirjianFemaleAges
	}
	if step < 0 {
		step = 0
	}
	if step >= len(table) {
		step = len(table) - 1
	}
	age := table[step]

	return DemirjianResult{
		TotalScore:   total,
		EstimatedAge: age,
		ErrorMargin:  0.5,
	}, nil
}

var alqahtaniStageValues = map[string]float64{
	"I": 1, "II": 2, "III": 3, "IV": 4, "V": 5,
	"VI": 6, "VII": 7, "VIII": 8, "IX": 9, "X": 10,
	"XI": 11, "XII": 12, "XIII": 13,
}

// AlQahtaniResult carries the stage-average estimate.
type AlQahtaniResult struct {
	EstimatedAge float64
	ErrorMargin  float64
}

// CalculateAlQahtani averages the numeric stage values over the charted
// teeth and maps the average onto an approximate age.
func CalculateAlQahtani(stages map[string]string) (AlQahtaniResult, error) {
	var sum float64
	matched := 0
	for _, stage := range stages {
		value, ok := alqahtaniStageValues[strings.ToUpper(stage)]
		if !ok {
			continue
		}
		sum += value
		matched++
	}
	if matched == 0 {
		return AlQahtaniResult{}, ErrNoValidStages
	}

	avg := sum / float64(matched)
	return AlQahtaniResult{
		EstimatedAge: 4 + avg*0.8,
		ErrorMargin:  1.0,
	}, nil
}
