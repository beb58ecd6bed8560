package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"
)

// File is a pending attachment held in compose state before upload.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// Asset describes an uploaded file as reported by the media CDN.
type Asset struct {
	URL      string  `json:"secure_url"`
	PublicID string  `json:"public_id"`
	Format   string  `json:"format"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Duration float64 `json:"duration"`
	Bytes    int64   `json:"bytes"`
}

// Client uploads raw files to the media CDN using an unsigned preset.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	cloudName    string
	uploadPreset string
	folder       string
}

// NewClient builds an upload client for the given cloud and preset.
func NewClient(cloudName, uploadPreset, folder string) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		baseURL:      "https://api.cloudinary.com",
		cloudName:    cloudName,
		uploadPreset: uploadPreset,
		folder:       folder,
	}
}

// Upload sends the file and returns the hosted asset. Callers must treat a
// failure as aborting whatever action required the upload.
func (c *Client) Upload(ctx context.Context, file File) (Asset, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", file.Name)
	if err != nil {
		return Asset{}, err
	}
	if _, err := part.Write(file.Data); err != nil {
		return Asset{}, err
	}
	if err := writer.WriteField("upload_preset", c.uploadPreset); err != nil {
		return Asset{}, err
	}
	if c.folder != "" {
		if err := writer.WriteField("folder", c.folder); err != nil {
			return Asset{}, err
		}
	}
	if err := writer.Close(); err != nil {
		return Asset{}, err
	}

	url := fmt.Sprintf("%s/v1_1/%s/auto/upload", c.baseURL, c.cloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return Asset{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Asset{}, fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Asset
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Asset{}, fmt.Errorf("decode upload response: %w", err)
	}
	if payload.Error.Message != "" {
		return Asset{}, fmt.Errorf("upload rejected: %s", payload.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return Asset{}, fmt.Errorf("upload failed: status %d", resp.StatusCode)
	}
	return payload.Asset, nil
}
