// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const metaQuery = `{ _meta { block { number } } }`

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// Client queries a subgraph's GraphQL endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient returns a Client for endpoint. A nil httpClient gets one
// with a 30 second timeout.
func NewClient(endpoint string, httpClient *http.Client) (*Client, error) {
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return nil, fmt.Errorf("subgraph: endpoint %q is not an http(s) URL", endpoint)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{endpoint: endpoint, httpClient: httpClient}, nil
}

type graphQLRequest struct {
	Query string `json:"query"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type metaResponse struct {
	Data *struct {
		Meta struct {
			Block struct {
				Number uint64 `json:"number"`
			} `json:"block"`
		} `json:"_meta"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

// BlockNumber returns the latest block the subgraph has indexed.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	body, err := json.Marshal(graphQLRequest{Query: metaQuery})
	if err != nil {
		return 0, err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("building subgraph request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return 0, fmt.Errorf("querying subgraph: %w", err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return 0, fmt.Errorf("reading subgraph response: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("subgraph returned %s: %s", response.Status, strings.TrimSpace(string(payload)))
	}

	var decoded metaResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return 0, fmt.Errorf("decoding subgraph response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		messages := make([]string, len(decoded.Errors))
		for index, graphErr := range decoded.Errors {
			messages[index] = graphErr.Message
		}
		return 0, fmt.Errorf("subgraph query failed: %s", strings.Join(messages, "; "))
	}
	if decoded.Data == nil {
		return 0, errors.New("subgraph response has no data")
	}
	return decoded.Data.Meta.Block.Number, nil
}
