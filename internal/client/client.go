// Package client provides an HTTP client for the Datagate server API.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/knowledgenet/datagate/internal/api/middleware"
	"github.com/knowledgenet/datagate/internal/gateway"
	"github.com/knowledgenet/datagate/internal/models"
)

// Client is an HTTP client for communicating with the Datagate server.
type Client struct {
	serverURL  string
	requester  string
	httpClient *http.Client
}

// New creates a new Datagate API client acting as the given requester.
func New(serverURL, requester string) *Client {
	return &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		requester: requester,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// RequestAccess purchases a grant for the dataset with the given payment proof.
func (c *Client) RequestAccess(datasetID, proof string) (*models.GrantResponse, error) {
	payload := map[string]string{
		"dataset_id":    datasetID,
		"payment_proof": proof,
	}
	var grant models.GrantResponse
	if err := c.do(http.MethodPost, "/api/v1/access", payload, http.StatusCreated, &grant); err != nil {
		return nil, fmt.Errorf("request access: %w", err)
	}
	return &grant, nil
}

// RevokeGrant invalidates an access grant.
func (c *Client) RevokeGrant(accessKey string) error {
	if err := c.do(http.MethodDelete, "/api/v1/access/"+accessKey, nil, http.StatusNoContent, nil); err != nil {
		return fmt.Errorf("revoke grant: %w", err)
	}
	return nil
}

// Download retrieves the dataset content for a grant.
func (c *Client) Download(accessKey string) (*gateway.DownloadResult, error) {
	var result gateway.DownloadResult
	if err := c.do(http.MethodGet, "/api/v1/download/"+accessKey, nil, http.StatusOK, &result); err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	return &result, nil
}

// Query runs an analysis query against a granted dataset.
func (c *Client) Query(accessKey, queryText string) (*models.AnalysisResult, error) {
	payload := map[string]string{
		"access_key": accessKey,
		"query":      queryText,
	}
	var result models.AnalysisResult
	if err := c.do(http.MethodPost, "/api/v1/query", payload, http.StatusOK, &result); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return &result, nil
}

// SearchDatasets lists catalog datasets matching the filter.
func (c *Client) SearchDatasets(filter models.SearchFilter) (*models.SearchResult, error) {
	params := url.Values{}
	if filter.SearchTerms != "" {
		params.Set("terms", filter.SearchTerms)
	}
	if len(filter.Tags) > 0 {
		params.Set("tags", strings.Join(filter.Tags, ","))
	}
	if filter.Format != "" {
		params.Set("format", filter.Format)
	}
	if filter.MinQualityScore > 0 {
		params.Set("min_quality", strconv.Itoa(filter.MinQualityScore))
	}
	if filter.MaxPriceWei != "" {
		params.Set("max_price_wei", filter.MaxPriceWei)
	}
	if filter.Verified != nil {
		params.Set("verified", strconv.FormatBool(*filter.Verified))
	}
	if filter.Limit > 0 {
		params.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		params.Set("offset", strconv.Itoa(filter.Offset))
	}

	path := "/api/v1/datasets"
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var result models.SearchResult
	if err := c.do(http.MethodGet, path, nil, http.StatusOK, &result); err != nil {
		return nil, fmt.Errorf("search datasets: %w", err)
	}
	return &result, nil
}

// ProvenanceChain fetches the ordered provenance chain for a dataset.
func (c *Client) ProvenanceChain(datasetID string) (*models.ProvenanceChain, error) {
	var chain models.ProvenanceChain
	if err := c.do(http.MethodGet, "/api/v1/provenance/"+datasetID, nil, http.StatusOK, &chain); err != nil {
		return nil, fmt.Errorf("provenance chain: %w", err)
	}
	return &chain, nil
}

// ValidateIntegrity checks a dataset's content hash against the expected value.
func (c *Client) ValidateIntegrity(datasetID, expectedHash string) (*models.IntegrityReport, error) {
	payload := map[string]string{
		"dataset_id":    datasetID,
		"expected_hash": expectedHash,
	}
	var report models.IntegrityReport
	if err := c.do(http.MethodPost, "/api/v1/validate", payload, http.StatusOK, &report); err != nil {
		return nil, fmt.Errorf("validate integrity: %w", err)
	}
	return &report, nil
}

// UsageStats fetches the calling requester's recorded activity.
func (c *Client) UsageStats() (*models.UsageStats, error) {
	var stats models.UsageStats
	if err := c.do(http.MethodGet, "/api/v1/stats", nil, http.StatusOK, &stats); err != nil {
		return nil, fmt.Errorf("usage stats: %w", err)
	}
	return &stats, nil
}

func (c *Client) do(method, path string, payload any, wantStatus int, result any) error {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.serverURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set(middleware.RequesterHeader, c.requester)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != wantStatus {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	if result != nil {
		return json.Unmarshal(body, result)
	}
	return nil
}
