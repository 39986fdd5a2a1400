// Package images generates and interprets images through an
// OpenAI-compatible images API, re-hosting results on the platform's
// image store.
package images

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"concierge/pkg/logging"
)

// Uploader re-hosts a base64-encoded image and returns a public link.
type Uploader interface {
	UploadImage(ctx context.Context, imageB64 string) (string, error)
}

// Sizes accepted by the generation endpoint.
var AllowedSizes = []string{"1024x1024", "1536x1024", "1024x1536"}

const defaultSize = "1024x1024"

type Generator struct {
	http        *http.Client
	apiKey      string
	apiURL      string
	imageModel  string
	visionModel string
	uploader    Uploader
	logger      logging.Logger
}

type Config struct {
	APIKey      string
	APIURL      string
	ImageModel  string
	VisionModel string
}

func NewGenerator(cfg Config, uploader Uploader, logger logging.Logger) *Generator {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.openai.com/v1"
	}
	return &Generator{
		http:        &http.Client{Timeout: 120 * time.Second},
		apiKey:      cfg.APIKey,
		apiURL:      apiURL,
		imageModel:  cfg.ImageModel,
		visionModel: cfg.VisionModel,
		uploader:    uploader,
		logger:      logger,
	}
}

// Create generates a new image (no sources) or edits the attached source
// images, returning a hosted link.
func (g *Generator) Create(ctx context.Context, prompt, size string, sourceURLs []string) (string, error) {
	if len(sourceURLs) > 0 {
		return g.edit(ctx, prompt, size, sourceURLs)
	}
	return g.generate(ctx, prompt, size)
}

func normalizeSize(size string) string {
	for _, allowed := range AllowedSizes {
		if size == allowed {
			return size
		}
	}
	return defaultSize
}

func (g *Generator) generate(ctx context.Context, prompt, size string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"model":  g.imageModel,
		"prompt": prompt,
		"size":   normalizeSize(size),
		"n":      1,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL+"/images/generations", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	b64, err := g.doImageRequest(req)
	if err != nil {
		return "", err
	}
	return g.uploader.UploadImage(ctx, b64)
}

func (g *Generator) edit(ctx context.Context, prompt, size string, sourceURLs []string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	for i, sourceURL := range sourceURLs {
		data, err := g.download(ctx, sourceURL)
		if err != nil {
			return "", fmt.Errorf("fetch source image: %w", err)
		}
		part, err := writer.CreateFormFile("image[]", fmt.Sprintf("source-%d.png", i))
		if err != nil {
			return "", fmt.Errorf("create form file: %w", err)
		}
		if _, err := part.Write(data); err != nil {
			return "", fmt.Errorf("write source image: %w", err)
		}
	}
	_ = writer.WriteField("model", g.imageModel)
	_ = writer.WriteField("prompt", prompt)
	_ = writer.WriteField("size", normalizeSize(size))
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL+"/images/edits", &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	b64, err := g.doImageRequest(req)
	if err != nil {
		return "", err
	}
	return g.uploader.UploadImage(ctx, b64)
}

func (g *Generator) download(ctx context.Context, sourceURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %s", sourceURL, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func (g *Generator) doImageRequest(req *http.Request) (string, error) {
	resp, err := g.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("image request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("image api returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode image response: %w", err)
	}
	if len(payload.Data) == 0 || payload.Data[0].B64JSON == "" {
		return "", fmt.Errorf("image api returned no image data")
	}
	return payload.Data[0].B64JSON, nil
}

// Describe answers a question about an image via the vision chat endpoint.
func (g *Generator) Describe(ctx context.Context, imageURL, question string) (string, error) {
	if question == "" {
		question = "Describe this image."
	}
	payload, err := json.Marshal(map[string]any{
		"model": g.visionModel,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": question},
					{"type": "image_url", "image_url": map[string]string{"url": imageURL}},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("vision request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("vision api returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode vision response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("vision api returned no choices")
	}
	return decoded.Choices[0].Message.Content, nil
}
