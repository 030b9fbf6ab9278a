package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/harvester/pkg/observability"
	"github.com/sirupsen/logrus"
)

// Define static errors
var (
	ErrCatalogResponse = errors.New("catalog error")
	ErrEmptySourceID   = errors.New("source id is required")
)

const (
	endpointObjects    = "objects"
	endpointDetections = "detections"

	maxErrorBody = 512
)

// HTTPClient implements Client against the ALeRCE REST interface
type HTTPClient struct {
	log        logrus.FieldLogger
	httpClient *http.Client
	baseURL    string
	debug      bool
	timeout    time.Duration
}

// NewClient creates a new HTTP-based catalog client
func NewClient(logger logrus.FieldLogger, cfg *Config) (*HTTPClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.SetDefaults()

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     cfg.KeepAlive,
	}

	return &HTTPClient{
		log: logger.WithField("component", "catalog-http"),
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   0, // per-request timeouts via context
		},
		baseURL: strings.TrimRight(cfg.URL, "/"),
		debug:   cfg.Debug,
		timeout: cfg.Timeout,
	}, nil
}

// Stop closes idle connections
func (c *HTTPClient) Stop() error {
	c.httpClient.CloseIdleConnections()

	c.log.Info("Closed catalog HTTP client")

	return nil
}

// QueryCandidates implements Client
func (c *HTTPClient) QueryCandidates(ctx context.Context, q CandidateQuery) ([]Candidate, error) {
	params := url.Values{}
	params.Set("classifier", q.Classifier)
	params.Set("class_name", q.ClassName)
	params.Set("probability", strconv.FormatFloat(q.MinProbability, 'f', -1, 64))
	params.Set("page_size", strconv.Itoa(q.PageSize))
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("firstmjd", strconv.FormatFloat(q.MinEpoch, 'f', -1, 64))

	body, err := c.get(ctx, endpointObjects, "/objects", params)
	if err != nil {
		return nil, fmt.Errorf("query candidates page %d: %w", q.Page, err)
	}

	var resp objectsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse candidates page %d: %w", q.Page, err)
	}

	return resp.Items, nil
}

// QueryDetections implements Client. Detections are stamped with sourceID
// whatever the broker returns for oid.
func (c *HTTPClient) QueryDetections(ctx context.Context, sourceID string) ([]Detection, error) {
	if sourceID == "" {
		return nil, ErrEmptySourceID
	}

	body, err := c.get(ctx, endpointDetections, "/objects/"+url.PathEscape(sourceID)+"/detections", nil)
	if err != nil {
		return nil, fmt.Errorf("query detections %s: %w", sourceID, err)
	}

	var detections []Detection
	if err := json.Unmarshal(body, &detections); err != nil {
		return nil, fmt.Errorf("failed to parse detections %s: %w", sourceID, err)
	}

	for i := range detections {
		detections[i].SourceID = sourceID
	}

	return detections, nil
}

func (c *HTTPClient) get(ctx context.Context, endpoint, path string, params url.Values) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.getTimeout(ctx))
	defer cancel()

	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if c.debug {
		c.log.WithField("url", target).Debug("Executing catalog request")
	}

	start := time.Now()
	status := "success"

	defer func() {
		observability.RecordCatalogRequest(endpoint, status, time.Since(start).Seconds())
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		status = "error"
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.log.WithError(closeErr).Debug("Failed to close response body")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		status = "error"
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		status = "error"

		var errorResp struct {
			Detail string `json:"detail"`
		}

		if jsonErr := json.Unmarshal(body, &errorResp); jsonErr == nil && errorResp.Detail != "" {
			return nil, fmt.Errorf("%w (status %d): %s", ErrCatalogResponse, resp.StatusCode, errorResp.Detail)
		}

		excerpt := string(body)
		if len(excerpt) > maxErrorBody {
			excerpt = excerpt[:maxErrorBody] + "... (truncated)"
		}

		return nil, fmt.Errorf("%w (status %d): %s", ErrCatalogResponse, resp.StatusCode, excerpt)
	}

	if c.debug && len(body) < 1000 {
		c.log.WithField("response", string(body)).Debug("Catalog response")
	}

	return body, nil
}

func (c *HTTPClient) getTimeout(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		return time.Until(deadline)
	}

	return c.timeout
}

// Ensure HTTPClient implements the interface
var _ Client = (*HTTPClient)(nil)
