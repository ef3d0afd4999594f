package githubapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// PageInfo is a GraphQL connection continuation marker.
type PageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

// NextCursor returns the cursor for the following page. A connection that
// reports more data without a cursor cannot be continued.
func (p PageInfo) NextCursor() (string, bool, error) {
	if !p.HasNextPage {
		return "", false, nil
	}
	if strings.TrimSpace(p.EndCursor) == "" {
		return "", false, fmt.Errorf("%w: hasNextPage without endCursor", ErrPartialPagination)
	}
	return p.EndCursor, true, nil
}

// GraphQLError is one entry of a GraphQL errors array.
type GraphQLError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Path    []any  `json:"path"`
}

// NotFound reports whether the error only marks a missing node.
func (e GraphQLError) NotFound() bool {
	return e.Type == "NOT_FOUND"
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors"`
}

// Query executes one GraphQL query and decodes its data into target.
// NOT_FOUND errors are returned alongside the data; every other error type fails the call.
func (c *DataClient) Query(ctx context.Context, query string, variables map[string]any, target any) ([]GraphQLError, CallMetadata, error) {
	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, CallMetadata{}, fmt.Errorf("marshal graphql request: %w", err)
	}

	var metadata CallMetadata
	client := c.requestClient
	state := client.machine.Start()
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphQLURL.String(), bytes.NewReader(payload))
		if err != nil {
			return nil, metadata, fmt.Errorf("build graphql request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, callMetadata, err := c.requestClient.Do(req)
		metadata = mergeMetadata(metadata, callMetadata)
		if err != nil {
			return nil, metadata, fmt.Errorf("graphql request failed: %w", err)
		}

		status := endpointStatusFromHTTP(resp.StatusCode)
		if status != EndpointStatusOK {
			closeBody(resp)
			return nil, metadata, fmt.Errorf("graphql request returned status %d (%s)", resp.StatusCode, status)
		}

		var envelope graphQLEnvelope
		if err := decodeJSONAndClose(resp, &envelope); err != nil {
			return nil, metadata, fmt.Errorf("%w: decode graphql envelope: %w", ErrMalformedResponse, err)
		}

		if rateLimitedGraphQL(envelope.Errors) {
			// The next attempt also waits on the governor inside Do.
			state = client.machine.Apply(state, RetryEvent{
				Kind:     EventRateLimited,
				Decision: client.graphQLRateLimitDecision(state.Attempt),
			})
			metadata.FinalPhase = state.Phase
			if state.Phase == RetryFailed {
				return nil, metadata, fmt.Errorf("graphql RATE_LIMITED: %w", state.Err)
			}
			if err := client.Sleep(ctx, state.WaitFor); err != nil {
				return nil, metadata, err
			}
			state = client.machine.Apply(state, RetryEvent{Kind: EventWaitComplete})
			continue
		}

		notFound := make([]GraphQLError, 0)
		var messages []string
		for _, gqlErr := range envelope.Errors {
			if gqlErr.NotFound() {
				notFound = append(notFound, gqlErr)
				continue
			}
			messages = append(messages, fmt.Sprintf("%s: %s", gqlErr.Type, gqlErr.Message))
		}
		if len(messages) > 0 {
			return notFound, metadata, fmt.Errorf("%w: graphql errors: %s", ErrMalformedResponse, strings.Join(messages, "; "))
		}

		trimmed := bytes.TrimSpace(envelope.Data)
		if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
			return notFound, metadata, fmt.Errorf("%w: graphql response has no data", ErrMalformedResponse)
		}
		if err := json.Unmarshal(trimmed, target); err != nil {
			return notFound, metadata, fmt.Errorf("%w: decode graphql data: %w", ErrMalformedResponse, err)
		}
		return notFound, metadata, nil
	}
}

// graphQLRateLimitDecision backs off a RATE_LIMITED body that arrived with
// headers still reporting budget, which is a secondary limit.
func (c *Client) graphQLRateLimitDecision(attempt int) Decision {
	waitFor := backoffForAttempt(c.machine.InitialBackoff, c.machine.MaxBackoff, attempt)
	if c.ratePolicy.SecondaryLimitBackoff > waitFor {
		waitFor = c.ratePolicy.SecondaryLimitBackoff
	}
	return Decision{
		Allow:   false,
		WaitFor: waitFor,
		Reason:  "graphql_rate_limited",
	}
}

func rateLimitedGraphQL(errs []GraphQLError) bool {
	for _, gqlErr := range errs {
		if gqlErr.Type == "RATE_LIMITED" {
			return true
		}
	}
	return false
}
