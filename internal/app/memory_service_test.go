package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoryvault/internal/ai"
	"memoryvault/internal/model"
	"memoryvault/internal/relay"
)

type fakeMemoryRepo struct {
	memories []*model.Memory
	files    []*model.MemoryFile
	nextID   int
}

func (r *fakeMemoryRepo) Create(memory *model.Memory) error {
	r.nextID++
	memory.ID = fmt.Sprintf("mem-%d", r.nextID)
	memory.IndexPosition = r.nextID
	r.memories = append(r.memories, memory)
	return nil
}

func (r *fakeMemoryRepo) CreateWithFile(memory *model.Memory, file *model.MemoryFile) error {
	if err := r.Create(memory); err != nil {
		return err
	}
	file.MemoryID = memory.ID
	r.files = append(r.files, file)
	return nil
}

func (r *fakeMemoryRepo) GetByID(id string) (*model.Memory, error) {
	for _, m := range r.memories {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, nil
}

func (r *fakeMemoryRepo) ListRecent(userID string, limit int) ([]model.Memory, error) {
	out := make([]model.Memory, 0, limit)
	for i := len(r.memories) - 1; i >= 0 && len(out) < limit; i-- {
		if r.memories[i].UserID == userID {
			out = append(out, *r.memories[i])
		}
	}
	return out, nil
}

func (r *fakeMemoryRepo) ListEmbedded(userID string) ([]model.Memory, error) {
	var out []model.Memory
	for _, m := range r.memories {
		if m.UserID == userID && m.Embedding != nil {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (r *fakeMemoryRepo) SearchText(userID, query string, limit int) ([]model.Memory, error) {
	needle := strings.ToLower(query)
	var out []model.Memory
	for i := len(r.memories) - 1; i >= 0 && len(out) < limit; i-- {
		m := r.memories[i]
		if m.UserID != userID {
			continue
		}
		if strings.Contains(strings.ToLower(m.Title), needle) || strings.Contains(strings.ToLower(m.Content), needle) {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (r *fakeMemoryRepo) CountByUserID(userID string) (int64, error) {
	var n int64
	for _, m := range r.memories {
		if m.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (r *fakeMemoryRepo) UpdateEmbedding(id string, embedding string) error {
	for _, m := range r.memories {
		if m.ID == id {
			m.Embedding = &embedding
			return nil
		}
	}
	return nil
}

type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (e *fakeEmbedder) Embed(_ context.Context, _ ai.EmbeddingConfig, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	if vec, ok := e.vectors[text]; ok {
		return vec, nil
	}
	return []float32{1, 0, 0}, nil
}

type fakeDescriber struct {
	desc ai.ImageDescription
	err  error
}

func (d *fakeDescriber) Describe(_ context.Context, _ ai.VisionConfig, _, filename string) (ai.ImageDescription, error) {
	if d.err != nil {
		return ai.FallbackDescription(filename), d.err
	}
	return d.desc, nil
}

type fakeRelayer struct {
	result *relay.Result
	err    error
}

func (f *fakeRelayer) Relay(_ context.Context, _, userID, fileName, _ string) (*relay.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &relay.Result{
		PublicURL: fmt.Sprintf("https://storage.example/%s/%s", userID, fileName),
		Size:      128,
	}, nil
}

type fakeBackfillQueue struct {
	enqueued []string
}

func (q *fakeBackfillQueue) Enqueue(_ context.Context, memoryID string) error {
	q.enqueued = append(q.enqueued, memoryID)
	return nil
}

func newTestMemoryService(repo *fakeMemoryRepo, embedder *fakeEmbedder, describer *fakeDescriber, relayer *fakeRelayer, queue *fakeBackfillQueue) *MemoryService {
	return NewMemoryService(repo, embedder, describer, relayer, queue, ai.EmbeddingConfig{}, ai.VisionConfig{})
}

func TestCreateTextMemory(t *testing.T) {
	repo := &fakeMemoryRepo{}
	queue := &fakeBackfillQueue{}
	svc := newTestMemoryService(repo, &fakeEmbedder{}, nil, nil, queue)

	result, err := svc.CreateTextMemory(context.Background(), "user-1", "", "Remember to buy milk\nand eggs", "telegram")
	require.NoError(t, err)
	assert.Equal(t, "Remember to buy milk", result.Title)
	assert.True(t, result.EmbeddingAttached)
	assert.Empty(t, queue.enqueued)

	require.Len(t, repo.memories, 1)
	assert.Equal(t, model.MemoryTypeText, repo.memories[0].Type)
	assert.NotNil(t, repo.memories[0].Embedding)
}

func TestCreateTextMemoryDerivedTitleTruncation(t *testing.T) {
	repo := &fakeMemoryRepo{}
	svc := newTestMemoryService(repo, &fakeEmbedder{}, nil, nil, nil)

	content := strings.Repeat("x", 80)
	result, err := svc.CreateTextMemory(context.Background(), "user-1", "", content, "telegram")
	require.NoError(t, err)
	assert.Len(t, []rune(result.Title), 50)
	assert.True(t, strings.HasSuffix(result.Title, "..."))
}

func TestCreateTextMemoryBlankContent(t *testing.T) {
	svc := newTestMemoryService(&fakeMemoryRepo{}, &fakeEmbedder{}, nil, nil, nil)

	_, err := svc.CreateTextMemory(context.Background(), "user-1", "title", "   ", "telegram")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreateTextMemoryEmbeddingDegrades(t *testing.T) {
	repo := &fakeMemoryRepo{}
	queue := &fakeBackfillQueue{}
	embedder := &fakeEmbedder{err: errors.New("llm down")}
	svc := newTestMemoryService(repo, embedder, nil, nil, queue)

	result, err := svc.CreateTextMemory(context.Background(), "user-1", "Note", "some content", "telegram")
	require.NoError(t, err)
	assert.False(t, result.EmbeddingAttached)

	require.Len(t, repo.memories, 1)
	assert.Nil(t, repo.memories[0].Embedding)
	assert.Equal(t, []string{result.MemoryID}, queue.enqueued)
}

func TestSearchVectorRanking(t *testing.T) {
	repo := &fakeMemoryRepo{}
	svc := newTestMemoryService(repo, &fakeEmbedder{vectors: map[string][]float32{
		"close\nvery similar text": {1, 0, 0},
		"far\nunrelated text":      {0, 1, 0},
		"middle\nsomewhat related": {0.7, 0.7, 0},
		"query":                    {1, 0, 0},
	}}, nil, nil, nil)

	for _, pair := range [][2]string{
		{"far", "unrelated text"},
		{"close", "very similar text"},
		{"middle", "somewhat related"},
	} {
		_, err := svc.CreateTextMemory(context.Background(), "user-1", pair[0], pair[1], "telegram")
		require.NoError(t, err)
	}

	result, err := svc.Search(context.Background(), "user-1", "query", 5)
	require.NoError(t, err)
	assert.Equal(t, SearchModeVector, result.Mode)
	require.Len(t, result.Items, 3)
	assert.Equal(t, "close", result.Items[0].Memory.Title)
	assert.Equal(t, "middle", result.Items[1].Memory.Title)
	assert.Equal(t, "far", result.Items[2].Memory.Title)
	assert.Greater(t, result.Items[0].Similarity, result.Items[1].Similarity)
}

func TestSearchLimitApplied(t *testing.T) {
	repo := &fakeMemoryRepo{}
	svc := newTestMemoryService(repo, &fakeEmbedder{}, nil, nil, nil)

	for i := 0; i < 4; i++ {
		_, err := svc.CreateTextMemory(context.Background(), "user-1", fmt.Sprintf("t%d", i), "content", "telegram")
		require.NoError(t, err)
	}

	result, err := svc.Search(context.Background(), "user-1", "content", 2)
	require.NoError(t, err)
	assert.Len(t, result.Items, 2)
}

func TestSearchFallsBackToSubstring(t *testing.T) {
	repo := &fakeMemoryRepo{}
	require.NoError(t, repo.Create(&model.Memory{UserID: "user-1", Title: "Grocery list", Content: "milk and eggs"}))
	require.NoError(t, repo.Create(&model.Memory{UserID: "user-1", Title: "Other", Content: "nothing here"}))

	embedder := &fakeEmbedder{err: errors.New("llm down")}
	svc := newTestMemoryService(repo, embedder, nil, nil, nil)

	result, err := svc.Search(context.Background(), "user-1", "milk", 5)
	require.NoError(t, err)
	assert.Equal(t, SearchModeText, result.Mode)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "Grocery list", result.Items[0].Memory.Title)
	assert.Zero(t, result.Items[0].Similarity)
}

func TestSearchBlankQuery(t *testing.T) {
	svc := newTestMemoryService(&fakeMemoryRepo{}, &fakeEmbedder{}, nil, nil, nil)

	_, err := svc.Search(context.Background(), "user-1", "  ", 5)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreateFileMemoryWithVision(t *testing.T) {
	repo := &fakeMemoryRepo{}
	describer := &fakeDescriber{desc: ai.ImageDescription{
		Title:      "Beach Day",
		Content:    "People at a beach.",
		Tags:       []string{"beach", "summer"},
		Category:   "Places",
		Confidence: 0.85,
	}}
	svc := newTestMemoryService(repo, &fakeEmbedder{}, describer, &fakeRelayer{}, nil)

	result, err := svc.CreateFileMemory(context.Background(), CreateFileMemoryInput{
		UserID:        "user-1",
		Content:       "look at this",
		FileRef:       "tg-file-id",
		FileName:      "photo_1.jpg",
		FileType:      "image",
		ContentType:   "image/jpeg",
		Source:        "telegram",
		DescribeImage: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "Beach Day", result.Title)
	assert.False(t, result.FileFellBack)

	require.Len(t, repo.memories, 1)
	memory := repo.memories[0]
	assert.Equal(t, model.MemoryTypeFile, memory.Type)
	assert.Contains(t, memory.Content, "People at a beach.")
	assert.Contains(t, memory.Content, "Caption: look at this")
	assert.Contains(t, memory.Content, "Category: Places | Tags: beach, summer")

	require.Len(t, repo.files, 1)
	assert.Equal(t, memory.ID, repo.files[0].MemoryID)
	assert.Equal(t, "photo_1.jpg", repo.files[0].FileName)
	assert.Equal(t, "https://storage.example/user-1/photo_1.jpg", repo.files[0].FilePath)
	assert.Equal(t, int64(128), repo.files[0].FileSize)
}

func TestCreateFileMemoryVisionDegrades(t *testing.T) {
	repo := &fakeMemoryRepo{}
	describer := &fakeDescriber{err: errors.New("vision down")}
	svc := newTestMemoryService(repo, &fakeEmbedder{}, describer, &fakeRelayer{}, nil)

	result, err := svc.CreateFileMemory(context.Background(), CreateFileMemoryInput{
		UserID:        "user-1",
		FileRef:       "tg-file-id",
		FileName:      "sunset_view.jpg",
		FileType:      "image",
		ContentType:   "image/jpeg",
		Source:        "telegram",
		DescribeImage: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "Sunset View", result.Title)
	require.Len(t, repo.files, 1)
}

func TestCreateFileMemoryDownloadFallback(t *testing.T) {
	repo := &fakeMemoryRepo{}
	relayer := &fakeRelayer{err: fmt.Errorf("%w: connection refused", relay.ErrDownload)}
	svc := newTestMemoryService(repo, &fakeEmbedder{}, nil, relayer, nil)

	result, err := svc.CreateFileMemory(context.Background(), CreateFileMemoryInput{
		UserID:   "user-1",
		FileRef:  "tg-file-id",
		FileName: "report.pdf",
		FileType: "pdf",
		Source:   "telegram",
	})
	require.NoError(t, err)
	assert.True(t, result.FileFellBack)
	assert.Equal(t, "the file could not be saved", result.FallbackReason)

	require.Len(t, repo.memories, 1)
	assert.Equal(t, model.MemoryTypeText, repo.memories[0].Type)
	assert.Contains(t, repo.memories[0].Content, "only this note was kept")
	assert.Empty(t, repo.files)
}

func TestCreateFileMemoryUploadFallbackReason(t *testing.T) {
	relayer := &fakeRelayer{err: fmt.Errorf("%w: bucket missing", relay.ErrUpload)}
	svc := newTestMemoryService(&fakeMemoryRepo{}, &fakeEmbedder{}, nil, relayer, nil)

	result, err := svc.CreateFileMemory(context.Background(), CreateFileMemoryInput{
		UserID:   "user-1",
		FileRef:  "tg-file-id",
		FileName: "report.pdf",
		Source:   "telegram",
	})
	require.NoError(t, err)
	assert.True(t, result.FileFellBack)
	assert.Equal(t, "the file could not be stored", result.FallbackReason)
}

func TestBackfillEmbedding(t *testing.T) {
	repo := &fakeMemoryRepo{}
	queue := &fakeBackfillQueue{}
	embedder := &fakeEmbedder{err: errors.New("llm down")}
	svc := newTestMemoryService(repo, embedder, nil, nil, queue)

	result, err := svc.CreateTextMemory(context.Background(), "user-1", "Note", "content", "telegram")
	require.NoError(t, err)
	require.Len(t, queue.enqueued, 1)

	embedder.err = nil
	require.NoError(t, svc.BackfillEmbedding(context.Background(), result.MemoryID))

	memory, err := repo.GetByID(result.MemoryID)
	require.NoError(t, err)
	require.NotNil(t, memory.Embedding)
	assert.NotEmpty(t, memory.EmbeddingVector())
}

func TestBackfillEmbeddingAlreadyEmbedded(t *testing.T) {
	repo := &fakeMemoryRepo{}
	embedder := &fakeEmbedder{}
	svc := newTestMemoryService(repo, embedder, nil, nil, nil)

	result, err := svc.CreateTextMemory(context.Background(), "user-1", "Note", "content", "telegram")
	require.NoError(t, err)

	callsBefore := embedder.calls
	require.NoError(t, svc.BackfillEmbedding(context.Background(), result.MemoryID))
	assert.Equal(t, callsBefore, embedder.calls)
}

func TestBackfillEmbeddingNotFound(t *testing.T) {
	svc := newTestMemoryService(&fakeMemoryRepo{}, &fakeEmbedder{}, nil, nil, nil)

	err := svc.BackfillEmbedding(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrMemoryNotFound)
}

func TestConnectAndRememberFlow(t *testing.T) {
	codeRepo := &fakeAuthCodeRepo{}
	connRepo := &fakeConnectionRepo{}
	authSvc := newTestAuthService(codeRepo, connRepo, newFakeConnectionCache())

	memRepo := &fakeMemoryRepo{}
	memSvc := newTestMemoryService(memRepo, &fakeEmbedder{}, nil, nil, nil)

	generated, err := authSvc.GenerateCode("user-1")
	require.NoError(t, err)

	conn, err := authSvc.VerifyAndConnect(ConnectInput{Code: generated.Code, TelegramUserID: 42})
	require.NoError(t, err)

	count, err := memSvc.MemoryCount(conn.UserID)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = memSvc.CreateTextMemory(context.Background(), conn.UserID, "", "first memory", "telegram")
	require.NoError(t, err)

	count, err = memSvc.MemoryCount(conn.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	recent, err := memSvc.ListRecent(conn.UserID, 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "first memory", recent[0].Title)
}
