package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"memoryvault/internal/telegram"
)

// The two failure reasons stay distinguishable so callers can pick the right
// fallback message.
var (
	ErrDownload = errors.New("file download failed")
	ErrUpload   = errors.New("file upload failed")
)

// FileDownloader resolves and fetches files from the chat transport.
type FileDownloader interface {
	GetFile(ctx context.Context, fileID string) (*telegram.File, error)
	DownloadFile(ctx context.Context, filePath string) ([]byte, error)
}

// Uploader persists bytes to object storage and returns a public URL.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// FileRelay moves a file from the chat transport into object storage.
type FileRelay struct {
	downloader FileDownloader
	uploader   Uploader
}

type Result struct {
	PublicURL string
	Size      int64
	Data      []byte
}

func NewFileRelay(downloader FileDownloader, uploader Uploader) *FileRelay {
	return &FileRelay{
		downloader: downloader,
		uploader:   uploader,
	}
}

// Relay downloads fileRef (a Telegram file id, or an absolute URL passed
// through unchanged) and re-uploads it under {userID}/{unixts}_{fileName}.
func (r *FileRelay) Relay(ctx context.Context, fileRef, userID, fileName, contentType string) (*Result, error) {
	path := fileRef
	if !strings.HasPrefix(fileRef, "http://") && !strings.HasPrefix(fileRef, "https://") {
		file, err := r.downloader.GetFile(ctx, fileRef)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDownload, err)
		}
		path = file.FilePath
	}

	data, err := r.downloader.DownloadFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}

	key := fmt.Sprintf("%s/%d_%s", userID, time.Now().Unix(), fileName)
	publicURL, err := r.uploader.Upload(ctx, key, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpload, err)
	}

	return &Result{
		PublicURL: publicURL,
		Size:      int64(len(data)),
		Data:      data,
	}, nil
}
