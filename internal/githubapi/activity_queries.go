package githubapi

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const orgRepositoriesQuery = `query($org: String!, $first: Int!, $after: String) {
  organization(login: $org) {
    repositories(first: $first, after: $after, orderBy: {field: PUSHED_AT, direction: DESC}) {
      pageInfo { hasNextPage endCursor }
      nodes { name owner { login } pushedAt isArchived isEmpty }
    }
  }
}`

const commitFieldsFragment = `fragment CommitFields on Commit {
  oid
  messageHeadline
  committedDate
  additions
  deletions
  author { name email user { login } }
}`

const branchHistoryFragment = `fragment BranchHistory on Repository {
  name
  owner { login }
  refs(refPrefix: "refs/heads/", first: $refsFirst, after: $refsAfter, orderBy: {field: TAG_COMMIT_DATE, direction: DESC}) {
    pageInfo { hasNextPage endCursor }
    nodes {
      name
      target {
        ... on Commit {
          committedDate
          history(first: $historyFirst, since: $since, until: $until) {
            pageInfo { hasNextPage endCursor }
            nodes { ...CommitFields }
          }
        }
      }
    }
  }
}`

const branchHistoryPageQuery = `query($owner: String!, $name: String!, $qualifiedName: String!, $since: GitTimestamp!, $until: GitTimestamp!, $first: Int!, $after: String) {
  repository(owner: $owner, name: $name) {
    ref(qualifiedName: $qualifiedName) {
      target {
        ... on Commit {
          history(first: $first, after: $after, since: $since, until: $until) {
            pageInfo { hasNextPage endCursor }
            nodes { ...CommitFields }
          }
        }
      }
    }
  }
}
` + commitFieldsFragment

// RepoKey identifies a repository.
type RepoKey struct {
	Owner string
	Name  string
}

// FullName returns owner/name.
func (k RepoKey) FullName() string {
	return k.Owner + "/" + k.Name
}

// Repository is one organization repository ordered by push time.
type Repository struct {
	Owner    string
	Name     string
	PushedAt time.Time
	Archived bool
	Empty    bool
}

// RepositoryPage is one page of organization repositories.
type RepositoryPage struct {
	Repos    []Repository
	PageInfo PageInfo
	Metadata CallMetadata
}

// HistoryQuery bounds branch history requests.
type HistoryQuery struct {
	Since           time.Time
	Until           time.Time
	RefsPageSize    int
	HistoryPageSize int
}

// Commit is one commit from a branch history with inline line stats.
type Commit struct {
	OID             string
	MessageHeadline string
	CommittedDate   time.Time
	Additions       int
	Deletions       int
	AuthorName      string
	AuthorEmail     string
	AuthorLogin     string
}

// HistoryPage is one page of a branch's history.
type HistoryPage struct {
	Commits  []Commit
	PageInfo PageInfo
	// Missing is set when the branch no longer exists.
	Missing bool
}

// BranchHistory is a branch with its first page of windowed history.
type BranchHistory struct {
	Name            string
	HeadCommittedAt time.Time
	History         HistoryPage
}

// RepoBranches is one page of a repository's branches.
type RepoBranches struct {
	Repo     RepoKey
	Branches []BranchHistory
	RefsPage PageInfo
	// Missing is set when the repository is gone or inaccessible.
	Missing bool
}

// ListOrgRepositoriesByPush reads one page of organization repositories,
// most recently pushed first.
func (c *DataClient) ListOrgRepositoriesByPush(ctx context.Context, org, after string, pageSize int) (RepositoryPage, error) {
	trimmedOrg := strings.TrimSpace(org)
	if trimmedOrg == "" {
		return RepositoryPage{}, fmt.Errorf("organization is required")
	}
	variables := map[string]any{
		"org":   trimmedOrg,
		"first": clampPageSize(pageSize),
		"after": nullableCursor(after),
	}

	var payload orgRepositoriesPayload
	_, metadata, err := c.Query(ctx, orgRepositoriesQuery, variables, &payload)
	if err != nil {
		return RepositoryPage{}, fmt.Errorf("list repositories for %q: %w", trimmedOrg, err)
	}
	if payload.Organization == nil {
		return RepositoryPage{}, fmt.Errorf("%w: organization %q not found", ErrMalformedResponse, trimmedOrg)
	}
	if payload.Organization.Repositories.Nodes == nil {
		return RepositoryPage{}, fmt.Errorf("%w: repositories connection has no nodes", ErrMalformedResponse)
	}

	page := RepositoryPage{
		PageInfo: payload.Organization.Repositories.PageInfo,
		Metadata: metadata,
	}
	for _, node := range payload.Organization.Repositories.Nodes {
		page.Repos = append(page.Repos, Repository{
			Owner:    node.Owner.Login,
			Name:     node.Name,
			PushedAt: parseNullableRFC3339(node.PushedAt),
			Archived: node.IsArchived,
			Empty:    node.IsEmpty,
		})
	}
	return page, nil
}

// FetchBranchHistories reads the first page of branches, each with its first
// page of windowed history, for several repositories in one request.
func (c *DataClient) FetchBranchHistories(ctx context.Context, repos []RepoKey, query HistoryQuery) ([]RepoBranches, error) {
	if len(repos) == 0 {
		return nil, nil
	}
	return c.fetchBranches(ctx, repos, query, "")
}

// FetchRefsPage continues one repository's branch listing after cursor.
func (c *DataClient) FetchRefsPage(ctx context.Context, repo RepoKey, query HistoryQuery, after string) (RepoBranches, error) {
	if strings.TrimSpace(after) == "" {
		return RepoBranches{}, fmt.Errorf("refs cursor is required")
	}
	results, err := c.fetchBranches(ctx, []RepoKey{repo}, query, after)
	if err != nil {
		return RepoBranches{}, err
	}
	return results[0], nil
}

// FetchHistoryPage continues one branch's windowed history after cursor.
func (c *DataClient) FetchHistoryPage(ctx context.Context, repo RepoKey, branch string, query HistoryQuery, after string) (HistoryPage, error) {
	if strings.TrimSpace(branch) == "" {
		return HistoryPage{}, fmt.Errorf("branch is required")
	}
	variables := map[string]any{
		"owner":         repo.Owner,
		"name":          repo.Name,
		"qualifiedName": "refs/heads/" + branch,
		"since":         query.Since.UTC().Format(time.RFC3339),
		"until":         query.Until.UTC().Format(time.RFC3339),
		"first":         clampPageSize(query.HistoryPageSize),
		"after":         nullableCursor(after),
	}

	var payload branchHistoryPagePayload
	notFound, _, err := c.Query(ctx, branchHistoryPageQuery, variables, &payload)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("history page for %s@%s: %w", repo.FullName(), branch, err)
	}
	if payload.Repository == nil || payload.Repository.Ref == nil {
		if payload.Repository == nil && len(notFound) == 0 {
			return HistoryPage{}, fmt.Errorf("%w: repository %s missing from history response", ErrMalformedResponse, repo.FullName())
		}
		return HistoryPage{Missing: true}, nil
	}
	history := payload.Repository.Ref.Target.History
	if history == nil {
		return HistoryPage{}, fmt.Errorf("%w: ref %s@%s is not a commit", ErrMalformedResponse, repo.FullName(), branch)
	}
	return history.toHistoryPage()
}

func (c *DataClient) fetchBranches(ctx context.Context, repos []RepoKey, query HistoryQuery, refsAfter string) ([]RepoBranches, error) {
	variables := map[string]any{
		"since":        query.Since.UTC().Format(time.RFC3339),
		"until":        query.Until.UTC().Format(time.RFC3339),
		"refsFirst":    clampPageSize(query.RefsPageSize),
		"historyFirst": clampPageSize(query.HistoryPageSize),
		"refsAfter":    nullableCursor(refsAfter),
	}
	for i, repo := range repos {
		variables[fmt.Sprintf("owner%d", i)] = repo.Owner
		variables[fmt.Sprintf("name%d", i)] = repo.Name
	}

	payload := make(map[string]*branchRepoPayload, len(repos))
	notFound, _, err := c.Query(ctx, buildBranchHistoryQuery(len(repos)), variables, &payload)
	if err != nil {
		return nil, fmt.Errorf("branch histories for %s: %w", joinRepoNames(repos), err)
	}

	results := make([]RepoBranches, 0, len(repos))
	for i, repo := range repos {
		alias := fmt.Sprintf("r%d", i)
		node, ok := payload[alias]
		if !ok {
			return nil, fmt.Errorf("%w: alias %s missing for %s", ErrMalformedResponse, alias, repo.FullName())
		}
		if node == nil {
			if !aliasNotFound(notFound, alias) {
				return nil, fmt.Errorf("%w: repository %s is null without a NOT_FOUND error", ErrMalformedResponse, repo.FullName())
			}
			results = append(results, RepoBranches{Repo: repo, Missing: true})
			continue
		}
		if node.Refs == nil || node.Refs.Nodes == nil {
			return nil, fmt.Errorf("%w: refs connection missing for %s", ErrMalformedResponse, repo.FullName())
		}

		typed := RepoBranches{
			Repo:     repo,
			RefsPage: node.Refs.PageInfo,
		}
		for _, ref := range node.Refs.Nodes {
			if ref.Target.History == nil {
				// Branch head is not a commit.
				continue
			}
			page, err := ref.Target.History.toHistoryPage()
			if err != nil {
				return nil, fmt.Errorf("branch %s@%s: %w", repo.FullName(), ref.Name, err)
			}
			typed.Branches = append(typed.Branches, BranchHistory{
				Name:            ref.Name,
				HeadCommittedAt: parseNullableRFC3339(ref.Target.CommittedDate),
				History:         page,
			})
		}
		results = append(results, typed)
	}
	return results, nil
}

func buildBranchHistoryQuery(repoCount int) string {
	var builder strings.Builder
	builder.WriteString("query($since: GitTimestamp!, $until: GitTimestamp!, $refsFirst: Int!, $historyFirst: Int!, $refsAfter: String")
	for i := range repoCount {
		fmt.Fprintf(&builder, ", $owner%d: String!, $name%d: String!", i, i)
	}
	builder.WriteString(") {\n")
	for i := range repoCount {
		fmt.Fprintf(&builder, "  r%d: repository(owner: $owner%d, name: $name%d) { ...BranchHistory }\n", i, i, i)
	}
	builder.WriteString("}\n")
	builder.WriteString(branchHistoryFragment)
	builder.WriteString("\n")
	builder.WriteString(commitFieldsFragment)
	return builder.String()
}

func aliasNotFound(errs []GraphQLError, alias string) bool {
	for _, gqlErr := range errs {
		if len(gqlErr.Path) > 0 && fmt.Sprint(gqlErr.Path[0]) == alias {
			return true
		}
	}
	return false
}

func joinRepoNames(repos []RepoKey) string {
	names := make([]string, 0, len(repos))
	for _, repo := range repos {
		names = append(names, repo.FullName())
	}
	return strings.Join(names, ",")
}

func clampPageSize(size int) int {
	if size <= 0 || size > 100 {
		return 100
	}
	return size
}

func nullableCursor(cursor string) any {
	if strings.TrimSpace(cursor) == "" {
		return nil
	}
	return cursor
}

type orgRepositoriesPayload struct {
	Organization *struct {
		Repositories struct {
			PageInfo PageInfo            `json:"pageInfo"`
			Nodes    []repositoryNodeDTO `json:"nodes"`
		} `json:"repositories"`
	} `json:"organization"`
}

type repositoryNodeDTO struct {
	Name       string      `json:"name"`
	Owner      userPayload `json:"owner"`
	PushedAt   *string     `json:"pushedAt"`
	IsArchived bool        `json:"isArchived"`
	IsEmpty    bool        `json:"isEmpty"`
}

type branchRepoPayload struct {
	Name  string      `json:"name"`
	Owner userPayload `json:"owner"`
	Refs  *struct {
		PageInfo PageInfo     `json:"pageInfo"`
		Nodes    []refNodeDTO `json:"nodes"`
	} `json:"refs"`
}

type refNodeDTO struct {
	Name   string `json:"name"`
	Target struct {
		CommittedDate *string            `json:"committedDate"`
		History       *historyConnection `json:"history"`
	} `json:"target"`
}

type branchHistoryPagePayload struct {
	Repository *struct {
		Ref *struct {
			Target struct {
				History *historyConnection `json:"history"`
			} `json:"target"`
		} `json:"ref"`
	} `json:"repository"`
}

type historyConnection struct {
	PageInfo PageInfo        `json:"pageInfo"`
	Nodes    []commitNodeDTO `json:"nodes"`
}

type commitNodeDTO struct {
	OID             string `json:"oid"`
	MessageHeadline string `json:"messageHeadline"`
	CommittedDate   string `json:"committedDate"`
	Additions       *int   `json:"additions"`
	Deletions       *int   `json:"deletions"`
	Author          *struct {
		Name  string       `json:"name"`
		Email string       `json:"email"`
		User  *userPayload `json:"user"`
	} `json:"author"`
}

func (h *historyConnection) toHistoryPage() (HistoryPage, error) {
	if h.Nodes == nil {
		return HistoryPage{}, fmt.Errorf("%w: history connection has no nodes", ErrMalformedResponse)
	}
	page := HistoryPage{PageInfo: h.PageInfo}
	for _, node := range h.Nodes {
		if node.OID == "" || node.Additions == nil || node.Deletions == nil {
			return HistoryPage{}, fmt.Errorf("%w: commit node missing oid or line stats", ErrMalformedResponse)
		}
		committedAt := parseRFC3339(node.CommittedDate)
		if committedAt.IsZero() {
			return HistoryPage{}, fmt.Errorf("%w: commit %s has invalid committedDate %q", ErrMalformedResponse, node.OID, node.CommittedDate)
		}
		commit := Commit{
			OID:             node.OID,
			MessageHeadline: node.MessageHeadline,
			CommittedDate:   committedAt,
			Additions:       *node.Additions,
			Deletions:       *node.Deletions,
		}
		if node.Author != nil {
			commit.AuthorName = node.Author.Name
			commit.AuthorEmail = node.Author.Email
			if node.Author.User != nil {
				commit.AuthorLogin = node.Author.User.Login
			}
		}
		page.Commits = append(page.Commits, commit)
	}
	return page, nil
}
