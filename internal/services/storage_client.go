package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// StorageClient talks to the internal blob store that holds dispute evidence.
type StorageClient struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewStorageClient(baseURL string, log *zap.Logger) *StorageClient {
	return &StorageClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

// UploadSlot is a presigned upload target. The client PUTs the file to
// UploadURL and then references StorageID in a dispute message attachment.
type UploadSlot struct {
	StorageID string `json:"storage_id"`
	UploadURL string `json:"upload_url"`
}

func (c *StorageClient) GenerateUploadURL(ctx context.Context, fileName, contentType string) (*UploadSlot, error) {
	payload, err := json.Marshal(map[string]string{
		"file_name":    fileName,
		"content_type": contentType,
	})
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/internal/storage/upload-url"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("storage service returned %d: %s", resp.StatusCode, string(body))
	}

	var slot UploadSlot
	if err := json.NewDecoder(resp.Body).Decode(&slot); err != nil {
		return nil, err
	}
	return &slot, nil
}

// GetURL resolves a stored blob to a short-lived download URL.
func (c *StorageClient) GetURL(ctx context.Context, storageID string) (string, error) {
	endpoint := fmt.Sprintf("%s/internal/storage/%s/url", c.baseURL, url.PathEscape(storageID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("storage service returned %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.URL, nil
}
