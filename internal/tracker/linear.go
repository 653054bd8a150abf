package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gathertown/grapevine/internal/models"
)

const linearAPIEndpoint = "https://api.linear.app/grapevine/v1"

// LinearClient implements Client against the Linear-shaped HTTP API the
// connector service exposes per tenant.
type LinearClient struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewLinearClient creates a tracker client. An empty endpoint uses the
// default connector endpoint.
func NewLinearClient(apiKey, endpoint string) *LinearClient {
	if endpoint == "" {
		endpoint = linearAPIEndpoint
	}
	return &LinearClient{
		apiKey:   apiKey,
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   &http.Client{},
	}
}

// do posts a JSON body and decodes the JSON response into out.
func (c *LinearClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", path, err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reqBody)
	if err != nil {
		return fmt.Errorf("create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}

func (c *LinearClient) SearchIssues(ctx context.Context, query string) ([]models.RelatedTicket, error) {
	var resp struct {
		Issues []models.RelatedTicket `json:"issues"`
	}
	err := c.do(ctx, http.MethodPost, "/issues/search", map[string]string{"query": query}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Issues, nil
}

func (c *LinearClient) GetIssueDescription(ctx context.Context, id string) (string, error) {
	var resp struct {
		Description string `json:"description"`
	}
	err := c.do(ctx, http.MethodGet, "/issues/"+id, nil, &resp)
	if err != nil {
		return "", err
	}
	return resp.Description, nil
}

func (c *LinearClient) CreateIssue(ctx context.Context, fields models.IssueFields) (*models.ExecutionResult, error) {
	var resp struct {
		ID    string `json:"id"`
		URL   string `json:"url"`
		Title string `json:"title"`
	}
	if err := c.do(ctx, http.MethodPost, "/issues", fields, &resp); err != nil {
		return &models.ExecutionResult{Success: false, Error: err.Error()}, err
	}
	return &models.ExecutionResult{
		Success:    true,
		IssueID:    resp.ID,
		IssueURL:   resp.URL,
		IssueTitle: resp.Title,
	}, nil
}

func (c *LinearClient) UpdateIssue(ctx context.Context, id, delta string) (*models.ExecutionResult, error) {
	var resp struct {
		ID    string `json:"id"`
		URL   string `json:"url"`
		Title string `json:"title"`
	}
	body := map[string]string{"append_description": delta}
	if err := c.do(ctx, http.MethodPatch, "/issues/"+id, body, &resp); err != nil {
		return &models.ExecutionResult{Success: false, IssueID: id, Error: err.Error()}, err
	}
	return &models.ExecutionResult{
		Success:    true,
		IssueID:    resp.ID,
		IssueURL:   resp.URL,
		IssueTitle: resp.Title,
	}, nil
}

func (c *LinearClient) DeleteIssue(ctx context.Context, id string) (bool, error) {
	if err := c.do(ctx, http.MethodDelete, "/issues/"+id, nil, nil); err != nil {
		return false, err
	}
	return true, nil
}
