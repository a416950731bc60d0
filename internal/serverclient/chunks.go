package serverclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// PutChunk uploads one encrypted chunk blob, idempotent server-side.
func (c *Client) PutChunk(ctx context.Context, hash string, blob []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/api/storage/chunks/"+hash, bytes.NewReader(blob))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("serverclient: put chunk %s: %w", hash, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return nil
}

// GetChunk downloads one encrypted chunk blob by hash.
func (c *Client) GetChunk(ctx context.Context, hash string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/storage/chunks/"+hash, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("serverclient: get chunk %s: %w", hash, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return io.ReadAll(resp.Body)
}

// HasChunk checks chunk existence with HEAD, used to skip redundant uploads
// when a chunk is already known to the server (dedup across files).
func (c *Client) HasChunk(ctx context.Context, hash string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/api/storage/chunks/"+hash, nil)
	if err != nil {
		return false, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("serverclient: head chunk %s: %w", hash, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}
