// Package upload implements the resumable media upload client. A failed
// upload can be retried by the caller; the offset probe lets the server
// skip bytes it already has.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"go.uber.org/zap"
)

// Progress is invoked after each chunk with cumulative bytes sent.
type Progress func(sent, total int64)

const defaultChunkSize = 256 * 1024

// Uploader pushes media files to the REST upload endpoint in chunks.
type Uploader struct {
	client    *http.Client
	baseURL   string
	chunkSize int64
	logger    *zap.Logger
}

// New creates an uploader against baseURL (e.g. https://api.chime.example).
func New(baseURL string, client *http.Client, logger *zap.Logger) *Uploader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Uploader{
		client:    client,
		baseURL:   baseURL,
		chunkSize: defaultChunkSize,
		logger:    logger,
	}
}

// Upload sends the file at path under the caller-chosen uploadID,
// reporting progress per chunk, and returns the media URL assigned by
// the server. Re-invoking with the same id after a failure resumes from
// the server's stored offset.
func (u *Uploader) Upload(ctx context.Context, path, uploadID string, progress Progress) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open media file: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat media file: %w", err)
	}
	total := info.Size()

	offset, err := u.probeOffset(ctx, uploadID)
	if err != nil {
		return "", err
	}
	if offset > 0 {
		if u.logger != nil {
			u.logger.Info("resuming upload",
				zap.String("upload_id", uploadID), zap.Int64("offset", offset))
		}
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return "", fmt.Errorf("seek to resume offset: %w", err)
		}
	}

	buf := make([]byte, u.chunkSize)
	for offset < total {
		n, err := io.ReadFull(f, buf)
		if err == io.ErrUnexpectedEOF {
			err = nil
		}
		if err != nil {
			return "", fmt.Errorf("read chunk: %w", err)
		}

		if err := u.putChunk(ctx, uploadID, offset, total, buf[:n]); err != nil {
			return "", err
		}
		offset += int64(n)
		if progress != nil {
			progress(offset, total)
		}
	}

	return u.complete(ctx, uploadID)
}

// probeOffset asks how many bytes the server already holds. 404 means a
// fresh upload.
func (u *Uploader) probeOffset(ctx context.Context, uploadID string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.baseURL+"/uploads/"+uploadID, nil)
	if err != nil {
		return 0, err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe upload offset: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("probe upload offset: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Offset int64 `json:"offset"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode offset response: %w", err)
	}
	return body.Offset, nil
}

func (u *Uploader) putChunk(ctx context.Context, uploadID string, offset, total int64, chunk []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		u.baseURL+"/uploads/"+uploadID, bytes.NewReader(chunk))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Range",
		fmt.Sprintf("bytes %d-%d/%d", offset, offset+int64(len(chunk))-1, total))

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload chunk at %d: %w", offset, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("upload chunk at %d: unexpected status %d", offset, resp.StatusCode)
	}
	return nil
}

// complete finalizes the upload and returns the assigned media URL.
func (u *Uploader) complete(ctx context.Context, uploadID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		u.baseURL+"/uploads/"+uploadID+"/complete", nil)
	if err != nil {
		return "", err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("complete upload: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("complete upload: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode complete response: %w", err)
	}
	if body.URL == "" {
		return "", fmt.Errorf("complete upload: server returned no url")
	}
	return body.URL, nil
}
