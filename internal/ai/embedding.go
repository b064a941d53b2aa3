package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

// ErrEmptyInput marks an embedding that was never attempted: blank input is
// rejected locally without a network call.
var ErrEmptyInput = errors.New("embedding input is empty")

const (
	embedTimeout      = 30 * time.Second
	embedBatchTimeout = 60 * time.Second
)

// EmbeddingConfig holds API settings for text-embedding (OpenAI-compatible).
type EmbeddingConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Embed returns the embedding vector for the given text.
func (c *OpenAICompatibleClient) Embed(ctx context.Context, cfg EmbeddingConfig, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}

	reqBody := map[string]interface{}{
		"model": cfg.Model,
		"input": text,
	}
	url := strings.TrimRight(cfg.BaseURL, "/") + "/embeddings"
	raw, err := c.postJSON(ctx, url, cfg.APIKey, reqBody, embedTimeout)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse embedding json failed: %w", err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding in response")
	}
	return parsed.Data[0].Embedding, nil
}

// EmbedBatch embeds multiple texts with one batched call. If the batch call
// fails it falls back to one Embed per text; items that still fail stay nil,
// so the result always has one entry per input.
func (c *OpenAICompatibleClient) EmbedBatch(ctx context.Context, cfg EmbeddingConfig, texts []string) [][]float32 {
	if len(texts) == 0 {
		return nil
	}
	result := make([][]float32, len(texts))

	nonEmpty := make([]string, 0, len(texts))
	positions := make([]int, 0, len(texts))
	for i, t := range texts {
		if s := strings.TrimSpace(t); s != "" {
			nonEmpty = append(nonEmpty, s)
			positions = append(positions, i)
		}
	}
	if len(nonEmpty) == 0 {
		return result
	}

	reqBody := map[string]interface{}{
		"model": cfg.Model,
		"input": nonEmpty,
	}
	url := strings.TrimRight(cfg.BaseURL, "/") + "/embeddings"
	raw, err := c.postJSON(ctx, url, cfg.APIKey, reqBody, embedBatchTimeout)
	if err == nil {
		var parsed struct {
			Data []struct {
				Embedding []float32 `json:"embedding"`
			} `json:"data"`
		}
		if jsonErr := json.Unmarshal(raw, &parsed); jsonErr == nil && len(parsed.Data) == len(nonEmpty) {
			for i := range parsed.Data {
				result[positions[i]] = parsed.Data[i].Embedding
			}
			return result
		}
		err = errors.New("embedding batch response shape mismatch")
	}

	log.Printf("embedding batch failed, falling back to single calls: %v", err)
	for i, pos := range positions {
		vec, embedErr := c.Embed(ctx, cfg, nonEmpty[i])
		if embedErr != nil {
			log.Printf("embedding fallback for item %d failed: %v", pos, embedErr)
			continue
		}
		result[pos] = vec
	}
	return result
}
