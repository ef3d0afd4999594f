package githubapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultGitHubAPIBaseURL = "https://api.github.com/"
	maxSearchResults        = 1000
	searchTimeLayout        = "2006-01-02T15:04:05Z"
)

// EndpointStatus represents a normalized GitHub API endpoint outcome.
type EndpointStatus string

const (
	// EndpointStatusOK indicates a successful response.
	EndpointStatusOK EndpointStatus = "ok"
	// EndpointStatusForbidden indicates authorization failure or restricted access.
	EndpointStatusForbidden EndpointStatus = "forbidden"
	// EndpointStatusNotFound indicates the resource does not exist or is hidden.
	EndpointStatusNotFound EndpointStatus = "not_found"
	// EndpointStatusUnprocessable indicates request validation/processing failure.
	EndpointStatusUnprocessable EndpointStatus = "unprocessable"
	// EndpointStatusUnauthorized indicates missing or invalid credentials.
	EndpointStatusUnauthorized EndpointStatus = "unauthorized"
	// EndpointStatusUnavailable indicates a temporary service-side failure.
	EndpointStatusUnavailable EndpointStatus = "unavailable"
	// EndpointStatusUnknown indicates an unclassified non-success status.
	EndpointStatusUnknown EndpointStatus = "unknown"
)

// IssueSearchQuery selects closed issues assigned to one user in one organization.
type IssueSearchQuery struct {
	Org      string
	Assignee string
	Start    time.Time
	End      time.Time
	PerPage  int
}

// Issue is one issue search hit.
type Issue struct {
	Number          int
	Title           string
	URL             string
	State           string
	ClosedAt        time.Time
	RepositoryOwner string
	RepositoryName  string
	Assignees       []string
	Labels          []string
	IsPullRequest   bool
}

// IssueSearchPage is one page of issue search results.
type IssueSearchPage struct {
	Issues      []Issue
	TotalCount  int
	HasNextPage bool
	Metadata    CallMetadata
}

// DataClient is a typed GitHub data client over the governed request client.
type DataClient struct {
	baseURL       *url.URL
	graphQLURL    *url.URL
	requestClient *Client
}

// NewDataClient creates a typed data client. An empty graphQLURL is derived
// from the REST base URL.
func NewDataClient(baseURL, graphQLURL string, requestClient *Client) (*DataClient, error) {
	if requestClient == nil {
		return nil, fmt.Errorf("request client is required")
	}

	parsed, err := parseAPIBaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	var parsedGraphQL *url.URL
	if strings.TrimSpace(graphQLURL) == "" {
		derived := *parsed
		derived.Path = joinURLPath(derived.Path, "graphql")
		parsedGraphQL = &derived
	} else {
		parsedGraphQL, err = url.Parse(strings.TrimSpace(graphQLURL))
		if err != nil {
			return nil, fmt.Errorf("parse github graphql url: %w", err)
		}
		if parsedGraphQL.Scheme == "" || parsedGraphQL.Host == "" {
			return nil, fmt.Errorf("parse github graphql url: missing scheme or host")
		}
	}

	return &DataClient{
		baseURL:       parsed,
		graphQLURL:    parsedGraphQL,
		requestClient: requestClient,
	}, nil
}

// SearchClosedIssues reads one page of the issue search for a closed-issue query.
// Pages start at 1.
func (c *DataClient) SearchClosedIssues(ctx context.Context, query IssueSearchQuery, page int) (IssueSearchPage, error) {
	org := strings.TrimSpace(query.Org)
	assignee := strings.TrimSpace(query.Assignee)
	if org == "" {
		return IssueSearchPage{}, fmt.Errorf("organization is required")
	}
	if assignee == "" {
		return IssueSearchPage{}, fmt.Errorf("assignee is required")
	}
	if !query.End.After(query.Start) {
		return IssueSearchPage{}, fmt.Errorf("search window end must be after start")
	}
	if page <= 0 {
		page = 1
	}
	perPage := query.PerPage
	if perPage <= 0 || perPage > 100 {
		perPage = 100
	}

	reqURL := c.cloneBaseURL()
	reqURL.Path = joinURLPath(reqURL.Path, "search", "issues")
	values := reqURL.Query()
	values.Set("q", fmt.Sprintf(
		"org:%s assignee:%s is:issue is:closed closed:%s..%s",
		org,
		assignee,
		query.Start.UTC().Format(searchTimeLayout),
		query.End.UTC().Format(searchTimeLayout),
	))
	values.Set("per_page", strconv.Itoa(perPage))
	values.Set("page", strconv.Itoa(page))
	values.Set("sort", "created")
	values.Set("order", "asc")
	reqURL.RawQuery = values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return IssueSearchPage{}, fmt.Errorf("build issue search request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, metadata, err := c.requestClient.Do(req)
	if err != nil {
		return IssueSearchPage{}, fmt.Errorf("issue search request failed: %w", err)
	}

	status := endpointStatusFromHTTP(resp.StatusCode)
	if status != EndpointStatusOK {
		closeBody(resp)
		return IssueSearchPage{}, fmt.Errorf("issue search returned status %d (%s)", resp.StatusCode, status)
	}

	var payload issueSearchPayload
	if err := decodeJSONAndClose(resp, &payload); err != nil {
		return IssueSearchPage{}, fmt.Errorf("%w: decode issue search response: %w", ErrMalformedResponse, err)
	}
	if payload.Items == nil {
		return IssueSearchPage{}, fmt.Errorf("%w: issue search response has no items", ErrMalformedResponse)
	}
	if payload.IncompleteResults {
		return IssueSearchPage{}, fmt.Errorf("%w: issue search timed out with incomplete results", ErrPartialPagination)
	}
	if payload.TotalCount > maxSearchResults {
		return IssueSearchPage{}, fmt.Errorf("%w: issue search matched %d results, above the %d reachable", ErrPartialPagination, payload.TotalCount, maxSearchResults)
	}

	result := IssueSearchPage{
		TotalCount:  payload.TotalCount,
		HasNextPage: hasNextPage(resp.Header.Get("Link")),
		Metadata:    metadata,
	}
	for _, item := range payload.Items {
		owner, name := repositoryFromAPIURL(item.RepositoryURL)
		issue := Issue{
			Number:          item.Number,
			Title:           item.Title,
			URL:             item.HTMLURL,
			State:           strings.ToLower(item.State),
			ClosedAt:        parseNullableRFC3339(item.ClosedAt),
			RepositoryOwner: owner,
			RepositoryName:  name,
			IsPullRequest:   item.PullRequest != nil,
		}
		for _, assignee := range item.Assignees {
			if assignee.Login != "" {
				issue.Assignees = append(issue.Assignees, assignee.Login)
			}
		}
		for _, label := range item.Labels {
			issue.Labels = append(issue.Labels, label.Name)
		}
		result.Issues = append(result.Issues, issue)
	}
	return result, nil
}

func parseAPIBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = defaultGitHubAPIBaseURL
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse github api base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("parse github api base url: missing scheme or host")
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	return parsed, nil
}

func (c *DataClient) cloneBaseURL() *url.URL {
	cloned := *c.baseURL
	return &cloned
}

func joinURLPath(base string, segments ...string) string {
	trimmedBase := strings.TrimSuffix(base, "/")
	builder := strings.Builder{}
	builder.WriteString(trimmedBase)
	for _, segment := range segments {
		builder.WriteString("/")
		builder.WriteString(strings.TrimPrefix(segment, "/"))
	}
	return builder.String()
}

func repositoryFromAPIURL(raw string) (string, string) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", ""
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) < 2 {
		return "", ""
	}
	return segments[len(segments)-2], segments[len(segments)-1]
}

func endpointStatusFromHTTP(statusCode int) EndpointStatus {
	switch statusCode {
	case http.StatusUnauthorized:
		return EndpointStatusUnauthorized
	case http.StatusForbidden:
		return EndpointStatusForbidden
	case http.StatusNotFound:
		return EndpointStatusNotFound
	case http.StatusUnprocessableEntity:
		return EndpointStatusUnprocessable
	}
	if statusCode >= 200 && statusCode <= 299 {
		return EndpointStatusOK
	}
	if statusCode >= 500 {
		return EndpointStatusUnavailable
	}
	return EndpointStatusUnknown
}

func decodeJSONAndClose(resp *http.Response, target any) error {
	defer resp.Body.Close()
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(target); err != nil {
		return err
	}
	return nil
}

func hasNextPage(linkHeader string) bool {
	if strings.TrimSpace(linkHeader) == "" {
		return false
	}
	parts := strings.Split(linkHeader, ",")
	for _, part := range parts {
		if strings.Contains(part, `rel="next"`) {
			return true
		}
	}
	return false
}

func parseRFC3339(raw string) time.Time {
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}

func parseNullableRFC3339(raw *string) time.Time {
	if raw == nil {
		return time.Time{}
	}
	return parseRFC3339(*raw)
}

func mergeMetadata(current CallMetadata, incoming CallMetadata) CallMetadata {
	current.Attempts += incoming.Attempts
	current.Bucket = incoming.Bucket
	current.LastDecision = incoming.LastDecision
	current.LastRateHeaders = incoming.LastRateHeaders
	current.FinalPhase = incoming.FinalPhase
	return current
}

type issueSearchPayload struct {
	TotalCount        int                  `json:"total_count"`
	IncompleteResults bool                 `json:"incomplete_results"`
	Items             []issueSearchItemDTO `json:"items"`
}

type issueSearchItemDTO struct {
	Number        int            `json:"number"`
	Title         string         `json:"title"`
	HTMLURL       string         `json:"html_url"`
	State         string         `json:"state"`
	ClosedAt      *string        `json:"closed_at"`
	RepositoryURL string         `json:"repository_url"`
	Assignees     []userPayload  `json:"assignees"`
	Labels        []labelPayload `json:"labels"`
	PullRequest   *struct{}      `json:"pull_request"`
}

type userPayload struct {
	Login string `json:"login"`
}

type labelPayload struct {
	Name string `json:"name"`
}
