package service

import (
	"math"

	appErrors "github.com/noah-isme/uniportal-api/pkg/errors"
)

// Score bounds accepted for every grade component.
const (
	MinScore = 0.0
	MaxScore = 100.0
)

// letterBand maps the lowest weighted total earning a letter to that letter and its GPA point.
type letterBand struct {
	min    float64
	letter string
	point  float64
}

// Bands are ordered top-down; the first band whose min is met wins.
var letterBands = []letterBand{
	{min: 90, letter: "A", point: 4.0},
	{min: 85, letter: "B+", point: 3.5},
	{min: 80, letter: "B", point: 3.0},
	{min: 75, letter: "C+", point: 2.5},
	{min: 70, letter: "C", point: 2.0},
	{min: 60, letter: "D", point: 1.0},
	{min: math.Inf(-1), letter: "F", point: 0.0},
}

// ClampScore limits a provided score to [MinScore, MaxScore]. NaN and infinities are rejected.
func ClampScore(field string, value *float64) (*float64, error) {
	if value == nil {
		return nil, nil
	}
	v := *value
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, appErrors.Clone(appErrors.ErrValidation, field+" must be a finite number")
	}
	v = math.Max(MinScore, math.Min(MaxScore, v))
	return &v, nil
}

// WeightedTotal combines midterm (40%) and final (60%).
// Integer weights over a single division keep exact band edges such as 90.0 exact.
func WeightedTotal(midterm, final float64) float64 {
	return (4*midterm + 6*final) / 10
}

// LetterGrade returns the letter earned by a weighted total.
func LetterGrade(total float64) string {
	for _, band := range letterBands {
		if total >= band.min {
			return band.letter
		}
	}
	return letterBands[len(letterBands)-1].letter
}

// GPAPoint returns the grade point for a letter and whether the letter is known.
func GPAPoint(letter string) (float64, bool) {
	for _, band := range letterBands {
		if band.letter == letter {
			return band.point, true
		}
	}
	return 0, false
}

// deriveLetter computes the letter and point when both weighted components are present.
func deriveLetter(midterm, final *float64) (*string, *float64) {
	if midterm == nil || final == nil {
		return nil, nil
	}
	letter := LetterGrade(WeightedTotal(*midterm, *final))
	point, _ := GPAPoint(letter)
	return &letter, &point
}
