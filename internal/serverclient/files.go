package serverclient

import (
	"context"
	"net/url"
	"strconv"
	"time"
)

type File struct {
	ID          int64      `json:"id"`
	Path        string     `json:"path"`
	Size        int64      `json:"size"`
	ContentHash string     `json:"content_hash"`
	Version     int        `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

type Change struct {
	ID        int64     `json:"id"`
	FilePath  string    `json:"file_path"`
	Action    string    `json:"action"`
	Version   int       `json:"version"`
	MachineID *int64    `json:"machine_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type changesResponse struct {
	Changes         []Change  `json:"changes"`
	HasMore         bool      `json:"has_more"`
	LatestTimestamp time.Time `json:"latest_timestamp"`
}

// ListFiles fetches the full current file listing, used as the fallback
// remote scan when no cursor is available (§4.7).
func (c *Client) ListFiles(ctx context.Context) ([]File, error) {
	var out []File
	if err := c.do(ctx, "GET", "/api/files", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetChanges performs the incremental change-log pull. limit of 0 lets the
// server apply its own default.
func (c *Client) GetChanges(ctx context.Context, since time.Time, limit int) (changes []Change, hasMore bool, latest time.Time, err error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", since.Format(time.RFC3339Nano))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp changesResponse
	if err := c.do(ctx, "GET", "/api/changes", q, nil, &resp); err != nil {
		return nil, false, time.Time{}, err
	}
	return resp.Changes, resp.HasMore, resp.LatestTimestamp, nil
}

type createFileRequest struct {
	Path        string   `json:"path"`
	Size        int64    `json:"size"`
	ContentHash string   `json:"content_hash"`
	Chunks      []string `json:"chunks"`
}

type updateFileRequest struct {
	Size          int64    `json:"size"`
	ContentHash   string   `json:"content_hash"`
	ParentVersion int      `json:"parent_version"`
	Chunks        []string `json:"chunks"`
}

func (c *Client) CreateFile(ctx context.Context, path string, size int64, contentHash string, chunks []string) (File, error) {
	var out File
	err := c.do(ctx, "POST", "/api/files", nil, createFileRequest{Path: path, Size: size, ContentHash: contentHash, Chunks: chunks}, &out)
	return out, err
}

func (c *Client) UpdateFile(ctx context.Context, path string, size int64, contentHash string, parentVersion int, chunks []string) (File, error) {
	var out File
	err := c.do(ctx, "PUT", "/api/files/"+url.PathEscape(path), nil,
		updateFileRequest{Size: size, ContentHash: contentHash, ParentVersion: parentVersion, Chunks: chunks}, &out)
	return out, err
}

func (c *Client) GetFile(ctx context.Context, path string) (File, error) {
	var out File
	err := c.do(ctx, "GET", "/api/files/"+url.PathEscape(path), nil, nil, &out)
	return out, err
}

func (c *Client) DeleteFile(ctx context.Context, path string) error {
	return c.do(ctx, "DELETE", "/api/files/"+url.PathEscape(path), nil, nil, nil)
}

func (c *Client) RestoreFile(ctx context.Context, path string) (File, error) {
	var out File
	err := c.do(ctx, "POST", "/api/trash/"+url.PathEscape(path)+"/restore", nil, nil, &out)
	return out, err
}

func (c *Client) GetFileChunks(ctx context.Context, path string) ([]string, error) {
	var out []string
	err := c.do(ctx, "GET", "/api/chunks/"+url.PathEscape(path), nil, nil, &out)
	return out, err
}
