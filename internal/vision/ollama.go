package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/eleven-am/echolens/internal/llm"
	"github.com/eleven-am/echolens/internal/shared"
)

// OllamaDescriber describes images with a local Ollama vision model.
type OllamaDescriber struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

func NewOllamaDescriber(cfg Config) *OllamaDescriber {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &OllamaDescriber{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.OllamaURL, "/"),
		model:      cfg.Model,
	}
}

type ollamaRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images,omitempty"`
	Stream bool     `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (c *OllamaDescriber) Describe(ctx context.Context, image []byte, _ string, prompt string) (string, error) {
	if len(image) == 0 {
		return "", shared.NewPermanent(ProviderOllama, "describe", errors.New("no image data provided"))
	}

	body, err := json.Marshal(ollamaRequest{
		Model:  c.model,
		Prompt: prompt,
		Images: []string{base64.StdEncoding.EncodeToString(image)},
		Stream: false,
	})
	if err != nil {
		return "", shared.NewPermanent(ProviderOllama, "describe", fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", shared.NewPermanent(ProviderOllama, "describe", fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", llm.Classify(ProviderOllama, "describe", fmt.Errorf("ollama request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", llm.ClassifyStatus(ProviderOllama, "describe", resp.StatusCode,
			fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	var ollamaResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return "", llm.Classify(ProviderOllama, "describe", fmt.Errorf("decode response: %w", err))
	}

	text := strings.TrimSpace(ollamaResp.Response)
	if text == "" {
		return "", shared.NewPermanent(ProviderOllama, "describe", errors.New("empty description"))
	}
	return text, nil
}

func (c *OllamaDescriber) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
