package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

const (
	visionTimeout = 60 * time.Second

	maxTitleLen    = 100
	maxContentLen  = 500
	maxTagLen      = 30
	maxCategoryLen = 50

	fallbackCategory = "Other"
)

const visionPrompt = `Analyze this image and respond with a strict JSON object, no other text:
{
  "title": "short descriptive title",
  "content": "2-3 sentence description of what the image shows",
  "tags": ["tag1", "tag2", "tag3"],
  "category": "one of: People, Places, Food, Documents, Screenshots, Nature, Events, Other",
  "confidence": 0.0
}
confidence is your certainty about the description, between 0 and 1.`

// VisionConfig holds API settings for the vision-capable chat endpoint.
type VisionConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// ImageDescription is the structured result of describing one image.
type ImageDescription struct {
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Tags       []string `json:"tags"`
	Category   string   `json:"category"`
	Confidence float64  `json:"confidence"`
}

// Describe asks the vision endpoint to describe the image behind imageURL.
// It never fails the caller: on HTTP failure, malformed JSON or any other
// problem it returns the filename-derived fallback description together with
// the causing error, so the caller can log the degradation.
func (c *OpenAICompatibleClient) Describe(ctx context.Context, cfg VisionConfig, imageURL, filename string) (ImageDescription, error) {
	reqBody := map[string]interface{}{
		"model": cfg.Model,
		"messages": []map[string]interface{}{
			{
				"role": "user",
				"content": []map[string]interface{}{
					{"type": "text", "text": visionPrompt},
					{"type": "image_url", "image_url": map[string]string{"url": imageURL}},
				},
			},
		},
		"max_tokens": 500,
	}

	url := strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions"
	raw, err := c.postJSON(ctx, url, cfg.APIKey, reqBody, visionTimeout)
	if err != nil {
		return FallbackDescription(filename), fmt.Errorf("vision request failed: %w", err)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return FallbackDescription(filename), fmt.Errorf("parse vision json failed: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return FallbackDescription(filename), fmt.Errorf("empty vision choices")
	}

	desc, err := parseDescription(parsed.Choices[0].Message.Content)
	if err != nil {
		return FallbackDescription(filename), fmt.Errorf("parse vision payload failed: %w", err)
	}
	return sanitizeDescription(desc), nil
}

// parseDescription extracts the JSON object from the model output, tolerating
// fenced code blocks by taking the first '{' through the last '}'.
func parseDescription(content string) (ImageDescription, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return ImageDescription{}, fmt.Errorf("no json object in vision output")
	}

	var desc ImageDescription
	if err := json.Unmarshal([]byte(content[start:end+1]), &desc); err != nil {
		return ImageDescription{}, err
	}
	return desc, nil
}

// FallbackDescription derives a deterministic description from the filename:
// extension stripped, separators replaced with spaces, words title-cased.
func FallbackDescription(filename string) ImageDescription {
	return ImageDescription{
		Title:      titleFromFilename(filename),
		Content:    "Image shared via Telegram.",
		Tags:       []string{},
		Category:   fallbackCategory,
		Confidence: 0.0,
	}
}

func titleFromFilename(filename string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	base = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(base)

	words := strings.Fields(base)
	if len(words) == 0 {
		return "Shared Image"
	}
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

func sanitizeDescription(desc ImageDescription) ImageDescription {
	desc.Title = sanitizeText(desc.Title, maxTitleLen)
	if desc.Title == "" {
		desc.Title = "Shared Image"
	}
	desc.Content = sanitizeText(desc.Content, maxContentLen)
	desc.Category = sanitizeText(desc.Category, maxCategoryLen)
	if desc.Category == "" {
		desc.Category = fallbackCategory
	}

	tags := make([]string, 0, len(desc.Tags))
	for _, tag := range desc.Tags {
		if t := sanitizeText(tag, maxTagLen); t != "" {
			tags = append(tags, t)
		}
	}
	desc.Tags = tags

	if desc.Confidence < 0 {
		desc.Confidence = 0
	}
	if desc.Confidence > 1 {
		desc.Confidence = 1
	}
	return desc
}

// sanitizeText collapses whitespace and hard-truncates to max runes; the
// truncated result ends in "..." and is exactly max runes long.
func sanitizeText(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
