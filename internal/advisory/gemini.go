package advisory

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

	"github.com/mbd888/krishiconnect/internal/security"
)

const (
	defaultGeminiURL   = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel = "gemini-2.5-flash-lite"
	maxImageBytes      = 5 << 20
)

const imagePrompt = `You are an agronomist reviewing a farmer's progress photo for a contract-farming milestone.
Describe in 2-3 short sentences the crop stage you see, visible plant health issues (pests, disease, nutrient stress) and whether the photo plausibly shows the claimed progress.`

// GeminiClient calls the Gemini generateContent REST endpoint.
type GeminiClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	urlGuard   func(string) error
}

// NewGeminiClient creates a client. An empty model selects the default.
func NewGeminiClient(apiKey, model string) *GeminiClient {
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiClient{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultGeminiURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// WithURLGuard rejects image URLs before they are fetched.
func (c *GeminiClient) WithURLGuard(guard func(string) error) *GeminiClient {
	c.urlGuard = guard
	return c
}

// WithBaseURL points the client at another endpoint (tests, proxies).
func (c *GeminiClient) WithBaseURL(u string) *GeminiClient {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate implements Generator.
func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	return c.call(ctx, []geminiPart{{Text: prompt}})
}

// AnalyzeImage implements ImageAnalyzer. The image is fetched and sent inline.
func (c *GeminiClient) AnalyzeImage(ctx context.Context, imageURL string) (string, error) {
	data, mime, err := c.fetchImage(ctx, imageURL)
	if err != nil {
		return "", err
	}
	return c.call(ctx, []geminiPart{
		{Text: imagePrompt},
		{InlineData: &geminiInlineData{MimeType: mime, Data: base64.StdEncoding.EncodeToString(data)}},
	})
}

func (c *GeminiClient) call(ctx context.Context, parts []geminiPart) (string, error) {
	body, err := json.Marshal(geminiRequest{Contents: []geminiContent{{Parts: parts}}})
	if err != nil {
		return "", fmt.Errorf("marshal request body: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var out geminiResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 {
		if out.Error != nil {
			return "", fmt.Errorf("gemini error %d: %s", out.Error.Code, out.Error.Message)
		}
		return "", fmt.Errorf("gemini error: status %d", resp.StatusCode)
	}

	var sb strings.Builder
	for _, cand := range out.Candidates {
		for _, p := range cand.Content.Parts {
			sb.WriteString(p.Text)
		}
		break
	}
	if sb.Len() == 0 {
		return "", errors.New("gemini returned no candidates")
	}
	return sb.String(), nil
}

func (c *GeminiClient) fetchImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	if c.urlGuard != nil {
		if err := c.urlGuard(imageURL); err != nil {
			return nil, "", fmt.Errorf("image url rejected: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create image request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	declared := resp.Header.Get("Content-Type")
	if declared != "" {
		if err := security.CheckContentType(declared); err != nil {
			return nil, "", err
		}
	}
	if resp.ContentLength > maxImageBytes {
		return nil, "", errors.New("image exceeds 5MB")
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, "", errors.New("image exceeds 5MB")
	}

	// HEIC sniffs as octet-stream; fall back to the declared type.
	mime := http.DetectContentType(data)
	if mime == "application/octet-stream" && declared != "" {
		mime = declared
	}
	if err := security.CheckContentType(mime); err != nil {
		return nil, "", err
	}
	return data, strings.SplitN(mime, ";", 2)[0], nil
}
