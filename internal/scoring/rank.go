package scoring

import (
	"math"
	"sort"
)

// scoreEpsilon absorbs floating point noise when comparing scores for ties.
const scoreEpsilon = 1e-9

// Weights are the integer metric weights of the score.
type Weights struct {
	Issues    int `yaml:"issues" json:"issues"`
	Commits   int `yaml:"commits" json:"commits"`
	Additions int `yaml:"additions" json:"additions"`
	Deletions int `yaml:"deletions" json:"deletions"`
}

// DefaultWeights returns issues 3, commits 3, additions 2, deletions 2.
func DefaultWeights() Weights {
	return Weights{Issues: 3, Commits: 3, Additions: 2, Deletions: 2}
}

// Score is a contributor's cohort-relative score for one period.
type Score struct {
	Username        string  `json:"username"`
	NormalizedScore float64 `json:"score"`
	Rank            int     `json:"rank"`
}

// Rank scores the cohort with weighted min-max normalization. A metric with
// no spread contributes 0. Equal scores share a rank; display order among
// them is by username.
func Rank(cohort []ContributorMetrics, weights Weights) []Score {
	if len(cohort) == 0 {
		return []Score{}
	}
	extract := []struct {
		weight int
		value  func(ContributorMetrics) int
	}{
		{weight: weights.Issues, value: func(m ContributorMetrics) int { return m.IssuesClosed }},
		{weight: weights.Commits, value: func(m ContributorMetrics) int { return m.CommitCount }},
		{weight: weights.Additions, value: func(m ContributorMetrics) int { return m.TotalAdditions }},
		{weight: weights.Deletions, value: func(m ContributorMetrics) int { return m.TotalDeletions }},
	}

	scores := make([]Score, len(cohort))
	for i, metrics := range cohort {
		scores[i].Username = metrics.Username
	}
	for _, metric := range extract {
		values := make([]float64, len(cohort))
		for i, metrics := range cohort {
			values[i] = float64(metric.value(metrics))
		}
		for i, normalized := range Normalize(values) {
			scores[i].NormalizedScore += float64(metric.weight) * normalized
		}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if math.Abs(scores[i].NormalizedScore-scores[j].NormalizedScore) > scoreEpsilon {
			return scores[i].NormalizedScore > scores[j].NormalizedScore
		}
		return lessUsername(scores[i].Username, scores[j].Username)
	})
	for i := range scores {
		if i > 0 && math.Abs(scores[i].NormalizedScore-scores[i-1].NormalizedScore) <= scoreEpsilon {
			scores[i].Rank = scores[i-1].Rank
			continue
		}
		scores[i].Rank = i + 1
	}
	return scores
}

// Normalize maps values onto [0, 1] by min-max scaling. Values without
// spread all map to 0.
func Normalize(values []float64) []float64 {
	normalized := make([]float64, len(values))
	if len(values) == 0 {
		return normalized
	}
	lowest, highest := values[0], values[0]
	for _, value := range values[1:] {
		lowest = math.Min(lowest, value)
		highest = math.Max(highest, value)
	}
	if highest == lowest {
		return normalized
	}
	for i, value := range values {
		normalized[i] = (value - lowest) / (highest - lowest)
	}
	return normalized
}
