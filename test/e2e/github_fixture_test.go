//go:build e2e

package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

const fixtureSearchLayout = "2006-01-02T15:04:05Z"

type fakeGitHubAPI struct {
	mu sync.Mutex

	server *httptest.Server

	token     string
	org       string
	repos     []repositoryFixture
	issues    map[string][]issueFixture
	callCount map[string]int
}

type repositoryFixture struct {
	Name     string
	PushedAt time.Time
	Archived bool
	Empty    bool
	// Deleted repositories are listed by the organization but resolve to
	// NOT_FOUND when their history is requested.
	Deleted  bool
	Branches map[string][]commitFixture
}

type commitFixture struct {
	OID         string
	Headline    string
	Login       string
	AuthorName  string
	AuthorEmail string
	CommittedAt time.Time
	Additions   int
	Deletions   int
}

type issueFixture struct {
	Number   int
	Repo     string
	Title    string
	ClosedAt time.Time
	Labels   []string
}

type graphQLRequestFixture struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLErrorFixture struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Path    []any  `json:"path"`
}

func newFakeGitHubAPI(t *testing.T, org, token string) *fakeGitHubAPI {
	t.Helper()

	fixture := &fakeGitHubAPI{
		token:     token,
		org:       org,
		issues:    make(map[string][]issueFixture),
		callCount: make(map[string]int),
	}
	fixture.server = httptest.NewServer(http.HandlerFunc(fixture.serveHTTP))
	t.Cleanup(fixture.Close)
	return fixture
}

func (f *fakeGitHubAPI) URL() string {
	if f == nil || f.server == nil {
		return ""
	}
	return f.server.URL
}

func (f *fakeGitHubAPI) Close() {
	if f == nil || f.server == nil {
		return
	}
	f.server.Close()
}

func (f *fakeGitHubAPI) AddRepository(repo repositoryFixture) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repos = append(f.repos, repo)
}

func (f *fakeGitHubAPI) AddClosedIssue(assignee string, issue issueFixture) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.ToLower(assignee)
	f.issues[key] = append(f.issues[key], issue)
}

func (f *fakeGitHubAPI) Calls(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount[route]
}

func (f *fakeGitHubAPI) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+f.token {
		writeFixtureJSON(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
		return
	}

	route := r.Method + " " + r.URL.Path
	f.mu.Lock()
	f.callCount[route]++
	f.mu.Unlock()

	reset := time.Now().Add(time.Hour).Unix()
	w.Header().Set("X-RateLimit-Limit", "5000")
	w.Header().Set("X-RateLimit-Remaining", "4990")
	w.Header().Set("X-RateLimit-Used", "10")
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/rate_limit":
		f.serveRateLimit(w, reset)
	case r.Method == http.MethodPost && r.URL.Path == "/graphql":
		w.Header().Set("X-RateLimit-Resource", "graphql")
		f.serveGraphQL(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/search/issues":
		w.Header().Set("X-RateLimit-Resource", "search")
		f.serveIssueSearch(w, r)
	default:
		writeFixtureJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
	}
}

func (f *fakeGitHubAPI) serveRateLimit(w http.ResponseWriter, reset int64) {
	bucket := func(limit, remaining int) map[string]any {
		return map[string]any{"limit": limit, "remaining": remaining, "used": limit - remaining, "reset": reset}
	}
	writeFixtureJSON(w, http.StatusOK, map[string]any{
		"resources": map[string]any{
			"core":    bucket(5000, 4990),
			"search":  bucket(30, 29),
			"graphql": bucket(5000, 4990),
		},
	})
}

func (f *fakeGitHubAPI) serveGraphQL(w http.ResponseWriter, r *http.Request) {
	var request graphQLRequestFixture
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeFixtureJSON(w, http.StatusBadRequest, map[string]string{"message": "Problems parsing JSON"})
		return
	}

	switch {
	case strings.Contains(request.Query, "organization(login:"):
		f.serveOrgRepositories(w, request.Variables)
	case strings.Contains(request.Query, "ref(qualifiedName:"):
		writeFixtureJSON(w, http.StatusOK, map[string]any{
			"data":   nil,
			"errors": []graphQLErrorFixture{{Type: "UNSUPPORTED", Message: "history pages are not served by the fixture"}},
		})
	default:
		f.serveBranchHistories(w, request.Variables)
	}
}

func (f *fakeGitHubAPI) serveOrgRepositories(w http.ResponseWriter, variables map[string]any) {
	if fmt.Sprint(variables["org"]) != f.org {
		writeFixtureJSON(w, http.StatusOK, map[string]any{
			"data": map[string]any{"organization": nil},
			"errors": []graphQLErrorFixture{{
				Type:    "NOT_FOUND",
				Message: fmt.Sprintf("Could not resolve to an Organization with the login of '%v'.", variables["org"]),
				Path:    []any{"organization"},
			}},
		})
		return
	}

	f.mu.Lock()
	repos := slices.Clone(f.repos)
	f.mu.Unlock()
	slices.SortFunc(repos, func(a, b repositoryFixture) int {
		return b.PushedAt.Compare(a.PushedAt)
	})

	nodes := make([]map[string]any, 0, len(repos))
	for _, repo := range repos {
		nodes = append(nodes, map[string]any{
			"name":       repo.Name,
			"owner":      map[string]string{"login": f.org},
			"pushedAt":   repo.PushedAt.UTC().Format(time.RFC3339),
			"isArchived": repo.Archived,
			"isEmpty":    repo.Empty,
		})
	}
	writeFixtureJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"organization": map[string]any{
				"repositories": map[string]any{
					"pageInfo": map[string]any{"hasNextPage": false, "endCursor": ""},
					"nodes":    nodes,
				},
			},
		},
	})
}

func (f *fakeGitHubAPI) serveBranchHistories(w http.ResponseWriter, variables map[string]any) {
	since, sinceErr := time.Parse(time.RFC3339, fmt.Sprint(variables["since"]))
	until, untilErr := time.Parse(time.RFC3339, fmt.Sprint(variables["until"]))
	if sinceErr != nil || untilErr != nil {
		writeFixtureJSON(w, http.StatusOK, map[string]any{
			"data":   nil,
			"errors": []graphQLErrorFixture{{Type: "INVALID_TIMESTAMP", Message: "since and until must be GitTimestamps"}},
		})
		return
	}

	data := make(map[string]any)
	var errs []graphQLErrorFixture
	for i := 0; ; i++ {
		alias := fmt.Sprintf("r%d", i)
		owner, ok := variables[fmt.Sprintf("owner%d", i)]
		if !ok {
			break
		}
		name := fmt.Sprint(variables[fmt.Sprintf("name%d", i)])
		repo, found := f.repository(fmt.Sprint(owner), name)
		if !found || repo.Deleted {
			data[alias] = nil
			errs = append(errs, graphQLErrorFixture{
				Type:    "NOT_FOUND",
				Message: fmt.Sprintf("Could not resolve to a Repository with the name '%v/%s'.", owner, name),
				Path:    []any{alias},
			})
			continue
		}
		data[alias] = f.repositoryNode(repo, since, until)
	}

	payload := map[string]any{"data": data}
	if len(errs) > 0 {
		payload["errors"] = errs
	}
	writeFixtureJSON(w, http.StatusOK, payload)
}

func (f *fakeGitHubAPI) repository(owner, name string) (repositoryFixture, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if owner != f.org {
		return repositoryFixture{}, false
	}
	for _, repo := range f.repos {
		if repo.Name == name {
			return repo, true
		}
	}
	return repositoryFixture{}, false
}

func (f *fakeGitHubAPI) repositoryNode(repo repositoryFixture, since, until time.Time) map[string]any {
	branchNames := make([]string, 0, len(repo.Branches))
	for name := range repo.Branches {
		branchNames = append(branchNames, name)
	}
	slices.Sort(branchNames)

	refs := make([]map[string]any, 0, len(branchNames))
	for _, branch := range branchNames {
		commits := repo.Branches[branch]
		head := repo.PushedAt
		history := make([]map[string]any, 0, len(commits))
		for _, commit := range commits {
			if commit.CommittedAt.Before(since) || commit.CommittedAt.After(until) {
				continue
			}
			history = append(history, commitNode(commit))
		}
		refs = append(refs, map[string]any{
			"name": branch,
			"target": map[string]any{
				"committedDate": head.UTC().Format(time.RFC3339),
				"history": map[string]any{
					"pageInfo": map[string]any{"hasNextPage": false, "endCursor": ""},
					"nodes":    history,
				},
			},
		})
	}

	return map[string]any{
		"name":  repo.Name,
		"owner": map[string]string{"login": f.org},
		"refs": map[string]any{
			"pageInfo": map[string]any{"hasNextPage": false, "endCursor": ""},
			"nodes":    refs,
		},
	}
}

func commitNode(commit commitFixture) map[string]any {
	var user any
	if commit.Login != "" {
		user = map[string]string{"login": commit.Login}
	}
	return map[string]any{
		"oid":             commit.OID,
		"messageHeadline": commit.Headline,
		"committedDate":   commit.CommittedAt.UTC().Format(time.RFC3339),
		"additions":       commit.Additions,
		"deletions":       commit.Deletions,
		"author": map[string]any{
			"name":  commit.AuthorName,
			"email": commit.AuthorEmail,
			"user":  user,
		},
	}
}

func (f *fakeGitHubAPI) serveIssueSearch(w http.ResponseWriter, r *http.Request) {
	qualifiers := parseSearchQualifiers(r.URL.Query().Get("q"))
	if qualifiers["org"] != f.org || qualifiers["is"] == "" {
		writeFixtureJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "Validation Failed"})
		return
	}
	start, end, ok := parseClosedRange(qualifiers["closed"])
	if !ok {
		writeFixtureJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "Validation Failed"})
		return
	}

	assignee := qualifiers["assignee"]
	f.mu.Lock()
	candidates := slices.Clone(f.issues[strings.ToLower(assignee)])
	f.mu.Unlock()

	items := make([]map[string]any, 0, len(candidates))
	for _, issue := range candidates {
		if issue.ClosedAt.Before(start) || issue.ClosedAt.After(end) {
			continue
		}
		labels := make([]map[string]string, 0, len(issue.Labels))
		for _, label := range issue.Labels {
			labels = append(labels, map[string]string{"name": label})
		}
		items = append(items, map[string]any{
			"number":         issue.Number,
			"title":          issue.Title,
			"html_url":       fmt.Sprintf("https://github.com/%s/%s/issues/%d", f.org, issue.Repo, issue.Number),
			"state":          "closed",
			"closed_at":      issue.ClosedAt.UTC().Format(time.RFC3339),
			"repository_url": fmt.Sprintf("%s/repos/%s/%s", f.URL(), f.org, issue.Repo),
			"assignees":      []map[string]string{{"login": assignee}},
			"labels":         labels,
		})
	}

	writeFixtureJSON(w, http.StatusOK, map[string]any{
		"total_count":        len(items),
		"incomplete_results": false,
		"items":              items,
	})
}

func parseSearchQualifiers(query string) map[string]string {
	qualifiers := make(map[string]string)
	for _, term := range strings.Fields(query) {
		key, value, ok := strings.Cut(term, ":")
		if !ok {
			continue
		}
		if key == "is" && qualifiers[key] != "" {
			value = qualifiers[key] + "," + value
		}
		qualifiers[key] = value
	}
	return qualifiers
}

func parseClosedRange(raw string) (time.Time, time.Time, bool) {
	startRaw, endRaw, ok := strings.Cut(raw, "..")
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	start, err := time.Parse(fixtureSearchLayout, startRaw)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end, err := time.Parse(fixtureSearchLayout, endRaw)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func writeFixtureJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		return
	}
}
