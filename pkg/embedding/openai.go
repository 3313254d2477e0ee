package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fintrack-app/fintrack/pkg/common"
)

const (
	defaultEndpoint   = "https://api.openai.com/v1"
	defaultModel      = "text-embedding-3-small"
	defaultDimensions = 1536
	defaultTimeout    = 30 * time.Second
)

// OpenAIConfig configures the OpenAI embedding client. An empty APIKey
// produces a disabled client rather than a construction error.
type OpenAIConfig struct {
	APIKey         string
	Model          string
	Dimensions     int
	Endpoint       string
	RequestTimeout time.Duration
}

// OpenAIClient implements Client against the OpenAI embeddings API.
type OpenAIClient struct {
	config     OpenAIConfig
	httpClient *http.Client
	enabled    bool
}

type openAIRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

// NewOpenAIClient creates an OpenAI embedding client. The enabled flag
// is resolved once here and cached for the lifetime of the client.
func NewOpenAIClient(config OpenAIConfig) *OpenAIClient {
	if config.Endpoint == "" {
		config.Endpoint = defaultEndpoint
	}
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.Dimensions <= 0 {
		config.Dimensions = defaultDimensions
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaultTimeout
	}

	return &OpenAIClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.RequestTimeout},
		enabled:    config.APIKey != "",
	}
}

// Enabled implements Client.
func (c *OpenAIClient) Enabled() bool { return c.enabled }

// Dimensions implements Client.
func (c *OpenAIClient) Dimensions() int { return c.config.Dimensions }

// Embed implements Client.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if !c.enabled {
		return nil, ErrDisabled
	}

	reqBody, err := json.Marshal(openAIRequest{Input: text, Model: c.config.Model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.Endpoint+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{
			Provider:  "openai",
			Code:      "REQUEST_FAILED",
			Message:   err.Error(),
			Retryable: true,
		}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp openAIErrorResponse
		if err := json.Unmarshal(body, &errResp); err != nil {
			return nil, &ProviderError{
				Provider:   "openai",
				Code:       "UNKNOWN_ERROR",
				Message:    string(body),
				StatusCode: resp.StatusCode,
				Retryable:  retryableStatus(resp.StatusCode),
			}
		}
		return nil, &ProviderError{
			Provider:   "openai",
			Code:       errResp.Error.Code,
			Message:    errResp.Error.Message,
			StatusCode: resp.StatusCode,
			Retryable:  retryableStatus(resp.StatusCode),
		}
	}

	var parsed openAIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("no embedding data in response")
	}

	vector := parsed.Data[0].Embedding
	if len(vector) != c.config.Dimensions {
		return nil, &common.DimensionMismatchError{
			LenA: c.config.Dimensions,
			LenB: len(vector),
		}
	}

	return vector, nil
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
