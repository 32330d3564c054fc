package rating

import (
	"fmt"
	"math"
)

// Scorer turns a vote distribution into a page score. All scorers are total
// functions: an empty distribution scores zero.
type Scorer func(Votes) float64

// ScoreSum is the classic Wikidot rating: upvotes minus downvotes.
func ScoreSum(votes Votes) float64 {
	return float64(votes.CountFor(1) - votes.CountFor(-1))
}

// ScoreAverage returns the mean vote value.
func ScoreAverage(votes Votes) float64 {
	if votes.Count() == 0 {
		return 0
	}
	return ScoreSum(votes) / float64(votes.Count())
}

// ScorePercent returns the percentage of votes that were upvotes, with a
// neutral vote counting as half an upvote.
func ScorePercent(votes Votes) float64 {
	if votes.Count() == 0 {
		return 0
	}
	positive := float64(votes.CountFor(1))
	neutral := float64(votes.CountFor(0)) * 0.5
	return (positive + neutral) / float64(votes.Count()) * 100
}

// ScoreWilson returns the lower bound of the 95% Wilson score interval on
// the upvote proportion. Neutral votes carry no signal either way and are
// left out of the sample.
// See https://www.evanmiller.org/how-not-to-sort-by-average-rating.html
func ScoreWilson(votes Votes) float64 {
	positive := float64(votes.CountFor(1))
	n := positive + float64(votes.CountFor(-1))
	if n == 0 {
		return 0
	}

	const z = 1.96
	phat := positive / n
	return (phat + z*z/(2*n) - z*math.Sqrt((phat*(1-phat)+z*z/(4*n))/n)) / (1 + z*z/n)
}

// ScoreNull scores every page zero, for wikis that disable ratings.
func ScoreNull(Votes) float64 {
	return 0
}

// ScorerByName resolves a configured scorer name.
func ScorerByName(name string) (Scorer, error) {
	switch name {
	case "sum", "":
		return ScoreSum, nil
	case "average":
		return ScoreAverage, nil
	case "percent":
		return ScorePercent, nil
	case "wilson":
		return ScoreWilson, nil
	case "null":
		return ScoreNull, nil
	default:
		return nil, fmt.Errorf("unknown scorer %q", name)
	}
}
