// Package gemini adapts google.golang.org/genai to the pipeline's provider
// operations and classifies provider errors into the pipeline's taxonomy.
package gemini

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"google.golang.org/genai"

	"github.com/cuongbtq/media-pipeline/internal/cache"
	"github.com/cuongbtq/media-pipeline/internal/domain"
)

// Config holds provider configuration
type Config struct {
	APIKey string
	Model  ModelSettings
}

// ModelSettings are the generation parameters sent with every request
type ModelSettings = cache.ModelConfig

// Client implements the provider operations on top of the Gemini API
type Client struct {
	genai  *genai.Client
	model  cache.ModelConfig
	logger *slog.Logger
}

// NewClient creates a new Gemini client
func NewClient(ctx context.Context, config Config, logger *slog.Logger) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", domain.ErrValidation)
	}
	if config.Model.Model == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", domain.ErrValidation)
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	logger.Info("Gemini client initialized", slog.String("model", config.Model.Model))

	return &Client{
		genai:  gc,
		model:  config.Model,
		logger: logger,
	}, nil
}

// ModelConfig returns the configuration that keys cached responses
func (c *Client) ModelConfig() cache.ModelConfig {
	return c.model
}

// Generate asks the model about the media with the given prompt
func (c *Client) Generate(ctx context.Context, media domain.MediaRef, prompt string) (string, error) {
	part, err := mediaPart(media)
	if err != nil {
		return "", err
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{part, genai.NewPartFromText(prompt)}, genai.RoleUser),
	}

	resp, err := c.genai.Models.GenerateContent(ctx, c.model.Model, contents, c.generateConfig())
	if err != nil {
		return "", classify("generate", err)
	}

	return responseText(resp)
}

// UploadFile uploads inline or path-referenced media and returns a reference
// to the provider-side file.
func (c *Client) UploadFile(ctx context.Context, media domain.MediaRef) (domain.MediaRef, error) {
	var data []byte
	switch {
	case len(media.Data) > 0:
		data = media.Data
	case media.Path != "":
		b, err := os.ReadFile(media.Path)
		if err != nil {
			return media, domain.NewValidationError("failed to read media file %s: %v", media.Path, err)
		}
		data = b
	default:
		return media, domain.NewValidationError("media has neither data nor path")
	}

	file, err := c.genai.Files.Upload(ctx, bytes.NewReader(data), &genai.UploadFileConfig{
		MIMEType: media.MIMEType,
	})
	if err != nil {
		return media, classify("upload", err)
	}

	c.logger.Debug("Media uploaded to provider",
		slog.String("file_name", file.Name),
		slog.String("mime_type", media.MIMEType),
		slog.Int("size_bytes", len(data)),
	)

	out := media.WithoutPayload()
	out.FileName = file.Name
	out.FileURI = file.URI
	return out, nil
}

// FileStatus returns the provider-side processing state of a file
func (c *Client) FileStatus(ctx context.Context, name string) (domain.FileState, error) {
	file, err := c.genai.Files.Get(ctx, name, nil)
	if err != nil {
		return "", classify("poll-status", err)
	}

	switch file.State {
	case genai.FileStateActive:
		return domain.FileActive, nil
	case genai.FileStateFailed:
		return domain.FileFailed, nil
	default:
		return domain.FileProcessing, nil
	}
}

// DeleteFile removes a provider-side file
func (c *Client) DeleteFile(ctx context.Context, name string) error {
	if _, err := c.genai.Files.Delete(ctx, name, nil); err != nil {
		return classify("delete-file", err)
	}
	return nil
}

func (c *Client) generateConfig() *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(c.model.Temperature),
		TopP:            genai.Ptr(c.model.TopP),
		TopK:            genai.Ptr(c.model.TopK),
		MaxOutputTokens: c.model.MaxOutputTokens,
	}
	if c.model.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(c.model.SystemInstruction, genai.RoleUser)
	}
	return cfg
}

func mediaPart(media domain.MediaRef) (*genai.Part, error) {
	if media.MIMEType == "" {
		return nil, domain.NewValidationError("media has no mime type")
	}
	switch {
	case media.Uploaded():
		return genai.NewPartFromURI(media.FileURI, media.MIMEType), nil
	case len(media.Data) > 0:
		return genai.NewPartFromBytes(media.Data, media.MIMEType), nil
	case media.Path != "":
		data, err := os.ReadFile(media.Path)
		if err != nil {
			return nil, domain.NewValidationError("failed to read media file %s: %v", media.Path, err)
		}
		return genai.NewPartFromBytes(data, media.MIMEType), nil
	default:
		return nil, domain.NewValidationError("media has neither data, path nor file uri")
	}
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", domain.NewTransientError("generate", errors.New("empty response"))
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" &&
		resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		return "", fmt.Errorf("%w: prompt blocked (%s)", domain.ErrContentBlocked, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", domain.NewTransientError("generate", errors.New("no candidates in response"))
	}

	candidate := resp.Candidates[0]
	switch candidate.FinishReason {
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist:
		return "", fmt.Errorf("%w: finish reason %s", domain.ErrContentBlocked, candidate.FinishReason)
	}

	if candidate.Content == nil {
		return "", domain.NewTransientError("generate", errors.New("candidate has no content"))
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", domain.NewTransientError("generate", errors.New("empty response text"))
	}
	return text, nil
}
