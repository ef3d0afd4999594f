package activity

import (
	"sort"
	"strings"
	"unicode/utf8"
)

const maxMessageLength = 100

// Dedup folds per-branch observations of one date into one record per SHA.
// The first observation of a SHA fixes every field except Branches.
func Dedup(observations []Observation) []CommitRecord {
	records := make(map[string]*CommitRecord, len(observations))
	branches := make(map[string]map[string]struct{}, len(observations))
	order := make([]string, 0, len(observations))

	for _, observation := range observations {
		sha := observation.Commit.OID
		if sha == "" {
			continue
		}
		if _, ok := records[sha]; !ok {
			records[sha] = newCommitRecord(observation)
			branches[sha] = make(map[string]struct{})
			order = append(order, sha)
		}
		if observation.Branch != "" {
			branches[sha][observation.Branch] = struct{}{}
		}
	}

	result := make([]CommitRecord, 0, len(order))
	for _, sha := range order {
		record := *records[sha]
		record.Branches = make([]string, 0, len(branches[sha]))
		for branch := range branches[sha] {
			record.Branches = append(record.Branches, branch)
		}
		sort.Strings(record.Branches)
		result = append(result, record)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CommittedAt.Equal(result[j].CommittedAt) {
			return result[i].CommittedAt.Before(result[j].CommittedAt)
		}
		return result[i].SHA < result[j].SHA
	})
	return result
}

func newCommitRecord(observation Observation) *CommitRecord {
	commit := observation.Commit
	return &CommitRecord{
		SHA:         commit.OID,
		AuthorLogin: commit.AuthorLogin,
		AuthorName:  commit.AuthorName,
		AuthorEmail: commit.AuthorEmail,
		Repository:  observation.Repository,
		CommittedAt: commit.CommittedDate.UTC(),
		Message:     summarizeMessage(commit.MessageHeadline),
		Additions:   commit.Additions,
		Deletions:   commit.Deletions,
	}
}

func summarizeMessage(message string) string {
	firstLine, _, _ := strings.Cut(message, "\n")
	firstLine = strings.TrimSpace(firstLine)
	if utf8.RuneCountInString(firstLine) <= maxMessageLength {
		return firstLine
	}
	runes := []rune(firstLine)
	return string(runes[:maxMessageLength])
}
