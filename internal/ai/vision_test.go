package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackDescription(t *testing.T) {
	desc := FallbackDescription("my_trip-photo.jpg")

	assert.Equal(t, "My Trip Photo", desc.Title)
	assert.Equal(t, 0.0, desc.Confidence)
	assert.Empty(t, desc.Tags)
	assert.Equal(t, "Other", desc.Category)
}

func TestTitleFromFilename(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"my_trip-photo.jpg", "My Trip Photo"},
		{"IMG_1234.png", "Img 1234"},
		{"report.pdf", "Report"},
		{"...", "Shared Image"},
		{"", "Shared Image"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, titleFromFilename(tt.filename), "filename %q", tt.filename)
	}
}

func TestSanitizeTextTruncation(t *testing.T) {
	long := strings.Repeat("a", 150)
	got := sanitizeText(long, 100)

	assert.Len(t, []rune(got), 100)
	assert.True(t, strings.HasSuffix(got, "..."))

	short := "hello   world"
	assert.Equal(t, "hello world", sanitizeText(short, 100))
}

func TestParseDescriptionFencedJSON(t *testing.T) {
	content := "```json\n{\"title\":\"Sunset\",\"content\":\"A sunset.\",\"tags\":[\"sky\"],\"category\":\"Nature\",\"confidence\":0.9}\n```"

	desc, err := parseDescription(content)
	require.NoError(t, err)
	assert.Equal(t, "Sunset", desc.Title)
	assert.Equal(t, []string{"sky"}, desc.Tags)
	assert.Equal(t, 0.9, desc.Confidence)
}

func TestParseDescriptionNoJSON(t *testing.T) {
	_, err := parseDescription("sorry, I cannot describe this image")
	assert.Error(t, err)
}

func TestSanitizeDescriptionClampsConfidence(t *testing.T) {
	desc := sanitizeDescription(ImageDescription{Title: "t", Confidence: 1.7})
	assert.Equal(t, 1.0, desc.Confidence)

	desc = sanitizeDescription(ImageDescription{Title: "t", Confidence: -0.3})
	assert.Equal(t, 0.0, desc.Confidence)
}

func TestDescribeSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		payload := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{
					"content": `{"title":"Beach Day","content":"People at a beach.","tags":["beach","summer"],"category":"Places","confidence":0.85}`,
				}},
			},
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	client := NewOpenAICompatibleClient()
	cfg := VisionConfig{BaseURL: server.URL, APIKey: "test-key", Model: "vision-model"}

	desc, err := client.Describe(context.Background(), cfg, "https://files.example/photo.jpg", "photo.jpg")
	require.NoError(t, err)
	assert.Equal(t, "Beach Day", desc.Title)
	assert.Equal(t, "Places", desc.Category)
	assert.Equal(t, []string{"beach", "summer"}, desc.Tags)
	assert.Equal(t, 0.85, desc.Confidence)
}

func TestDescribeHTTPFailureFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewOpenAICompatibleClient()
	cfg := VisionConfig{BaseURL: server.URL, APIKey: "k", Model: "m"}

	desc, err := client.Describe(context.Background(), cfg, "https://files.example/x.jpg", "beach_day.jpg")
	assert.Error(t, err)
	assert.Equal(t, "Beach Day", desc.Title)
	assert.Equal(t, 0.0, desc.Confidence)
	assert.Empty(t, desc.Tags)
	assert.Equal(t, "Other", desc.Category)
}

func TestDescribeUnparseableOutputFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "I see a dog in the picture."}},
			},
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	client := NewOpenAICompatibleClient()
	cfg := VisionConfig{BaseURL: server.URL, APIKey: "k", Model: "m"}

	desc, err := client.Describe(context.Background(), cfg, "https://files.example/x.jpg", "dog-at-park.jpg")
	assert.Error(t, err)
	assert.Equal(t, "Dog At Park", desc.Title)
	assert.Equal(t, 0.0, desc.Confidence)
}
