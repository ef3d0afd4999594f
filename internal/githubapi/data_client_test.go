package githubapi

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"testing"
	"time"
)

func newTestRequestClient(doer HTTPDoer) *Client {
	policy := RateLimitPolicy{
		MinRemainingThreshold: 0,
		Now: func() time.Time {
			return time.Unix(1739836800, 0)
		},
	}
	return NewClient(doer, RetryConfig{
		MaxAttempts:    1,
		InitialBackoff: time.Second,
		MaxBackoff:     time.Second,
	}, policy, nil)
}

func newTestDataClient(t *testing.T, doer HTTPDoer) *DataClient {
	t.Helper()
	client, err := NewDataClient("https://api.github.com/", "", newTestRequestClient(doer))
	if err != nil {
		t.Fatalf("NewDataClient() unexpected error: %v", err)
	}
	return client
}

func TestNewDataClient(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		baseURL     string
		graphQLURL  string
		client      *Client
		wantGraphQL string
		wantErr     bool
		errContains string
	}{
		{
			name:        "uses_default_base_url",
			baseURL:     "",
			client:      newTestRequestClient(&fakeDoer{}),
			wantGraphQL: "https://api.github.com/graphql",
		},
		{
			name:        "derives_graphql_url_from_custom_base_url",
			baseURL:     "https://github.example.com/api/v3",
			client:      newTestRequestClient(&fakeDoer{}),
			wantGraphQL: "https://github.example.com/api/v3/graphql",
		},
		{
			name:        "accepts_explicit_graphql_url",
			baseURL:     "https://github.example.com/api/v3",
			graphQLURL:  "https://github.example.com/api/graphql",
			client:      newTestRequestClient(&fakeDoer{}),
			wantGraphQL: "https://github.example.com/api/graphql",
		},
		{
			name:        "rejects_invalid_base_url",
			baseURL:     "://bad-url",
			client:      newTestRequestClient(&fakeDoer{}),
			wantErr:     true,
			errContains: "parse github api base url",
		},
		{
			name:        "rejects_invalid_graphql_url",
			baseURL:     "https://api.github.com",
			graphQLURL:  "not-a-url",
			client:      newTestRequestClient(&fakeDoer{}),
			wantErr:     true,
			errContains: "parse github graphql url",
		},
		{
			name:        "rejects_nil_client",
			baseURL:     "https://api.github.com",
			client:      nil,
			wantErr:     true,
			errContains: "request client is required",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client, err := NewDataClient(tc.baseURL, tc.graphQLURL, tc.client)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("NewDataClient() expected error, got nil")
				}
				if tc.errContains != "" && !contains(err.Error(), tc.errContains) {
					t.Fatalf("error = %q, missing %q", err.Error(), tc.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewDataClient() unexpected error: %v", err)
			}
			if got := client.graphQLURL.String(); got != tc.wantGraphQL {
				t.Fatalf("graphQLURL = %q, want %q", got, tc.wantGraphQL)
			}
		})
	}
}

func TestDataClientSearchClosedIssues(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 2, 17, 18, 30, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	doer := &fakeDoer{
		responses: []*http.Response{
			newResponse(http.StatusOK, map[string]string{
				"Link": `<https://api.github.com/search/issues?page=2>; rel="next"`,
			}, `{
				"total_count": 2,
				"incomplete_results": false,
				"items": [
					{
						"number": 42,
						"title": "Fix login",
						"html_url": "https://github.com/dolr-ai/app/issues/42",
						"state": "closed",
						"closed_at": "2025-02-18T04:00:00Z",
						"repository_url": "https://api.github.com/repos/dolr-ai/app",
						"assignees": [{"login": "alice"}, {"login": "bob"}],
						"labels": [{"name": "bug"}]
					},
					{
						"number": 7,
						"title": "Docs",
						"html_url": "https://github.com/dolr-ai/web/pull/7",
						"state": "closed",
						"closed_at": "2025-02-18T05:00:00Z",
						"repository_url": "https://api.github.com/repos/dolr-ai/web",
						"assignees": [{"login": "alice"}],
						"labels": [],
						"pull_request": {"url": "https://api.github.com/repos/dolr-ai/web/pulls/7"}
					}
				]
			}`),
		},
	}
	client := newTestDataClient(t, doer)

	page, err := client.SearchClosedIssues(context.Background(), IssueSearchQuery{
		Org:      "dolr-ai",
		Assignee: "alice",
		Start:    start,
		End:      end,
		PerPage:  50,
	}, 1)
	if err != nil {
		t.Fatalf("SearchClosedIssues() unexpected error: %v", err)
	}
	if !page.HasNextPage {
		t.Fatalf("HasNextPage = false, want true")
	}
	if len(page.Issues) != 2 {
		t.Fatalf("len(Issues) = %d, want 2", len(page.Issues))
	}
	first := page.Issues[0]
	if first.RepositoryOwner != "dolr-ai" || first.RepositoryName != "app" {
		t.Fatalf("repository = %s/%s, want dolr-ai/app", first.RepositoryOwner, first.RepositoryName)
	}
	if !reflect.DeepEqual(first.Assignees, []string{"alice", "bob"}) {
		t.Fatalf("Assignees = %v, want [alice bob]", first.Assignees)
	}
	if !first.ClosedAt.Equal(time.Date(2025, 2, 18, 4, 0, 0, 0, time.UTC)) {
		t.Fatalf("ClosedAt = %s", first.ClosedAt)
	}
	if first.IsPullRequest {
		t.Fatalf("first issue IsPullRequest = true, want false")
	}
	if !page.Issues[1].IsPullRequest {
		t.Fatalf("second issue IsPullRequest = false, want true")
	}

	sent := doer.requests[0].URL
	if sent.Path != "/search/issues" {
		t.Fatalf("path = %q, want /search/issues", sent.Path)
	}
	wantQuery := "org:dolr-ai assignee:alice is:issue is:closed closed:2025-02-17T18:30:00Z..2025-02-18T18:30:00Z"
	if got := sent.Query().Get("q"); got != wantQuery {
		t.Fatalf("q = %q, want %q", got, wantQuery)
	}
	if got := sent.Query().Get("per_page"); got != "50" {
		t.Fatalf("per_page = %q, want 50", got)
	}
	// Creation order does not shift while later pages are fetched.
	if got := sent.Query().Get("sort"); got != "created" {
		t.Fatalf("sort = %q, want created", got)
	}
	if got := sent.Query().Get("order"); got != "asc" {
		t.Fatalf("order = %q, want asc", got)
	}
}

func TestDataClientSearchClosedIssuesFailures(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 2, 17, 18, 30, 0, 0, time.UTC)
	testCases := []struct {
		name        string
		response    *http.Response
		wantErr     error
		errContains string
	}{
		{
			name:     "incomplete_results_are_partial",
			response: newResponse(http.StatusOK, nil, `{"total_count": 3, "incomplete_results": true, "items": []}`),
			wantErr:  ErrPartialPagination,
		},
		{
			name:     "results_beyond_search_cap_are_partial",
			response: newResponse(http.StatusOK, nil, `{"total_count": 1500, "incomplete_results": false, "items": []}`),
			wantErr:  ErrPartialPagination,
		},
		{
			name:     "missing_items_is_malformed",
			response: newResponse(http.StatusOK, nil, `{"total_count": 0}`),
			wantErr:  ErrMalformedResponse,
		},
		{
			name:     "invalid_json_is_malformed",
			response: newResponse(http.StatusOK, nil, `{not-json`),
			wantErr:  ErrMalformedResponse,
		},
		{
			name:        "validation_failure_reports_status",
			response:    newResponse(http.StatusUnprocessableEntity, nil, `{"message":"Validation Failed"}`),
			errContains: "status 422 (unprocessable)",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			client := newTestDataClient(t, &fakeDoer{responses: []*http.Response{tc.response}})
			_, err := client.SearchClosedIssues(context.Background(), IssueSearchQuery{
				Org:      "dolr-ai",
				Assignee: "alice",
				Start:    start,
				End:      start.Add(24 * time.Hour),
			}, 1)
			if err == nil {
				t.Fatalf("SearchClosedIssues() expected error, got nil")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("error = %v, want %v", err, tc.wantErr)
			}
			if tc.errContains != "" && !contains(err.Error(), tc.errContains) {
				t.Fatalf("error = %q, missing %q", err.Error(), tc.errContains)
			}
		})
	}
}

func TestDataClientSearchClosedIssuesValidatesQuery(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 2, 17, 18, 30, 0, 0, time.UTC)
	testCases := []struct {
		name  string
		query IssueSearchQuery
	}{
		{name: "missing_org", query: IssueSearchQuery{Assignee: "alice", Start: start, End: start.Add(time.Hour)}},
		{name: "missing_assignee", query: IssueSearchQuery{Org: "dolr-ai", Start: start, End: start.Add(time.Hour)}},
		{name: "empty_window", query: IssueSearchQuery{Org: "dolr-ai", Assignee: "alice", Start: start, End: start}},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			doer := &fakeDoer{}
			client := newTestDataClient(t, doer)
			if _, err := client.SearchClosedIssues(context.Background(), tc.query, 1); err == nil {
				t.Fatalf("SearchClosedIssues() expected error, got nil")
			}
			if doer.callCount != 0 {
				t.Fatalf("callCount = %d, want 0", doer.callCount)
			}
		})
	}
}
