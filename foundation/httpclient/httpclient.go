// Package httpclient provides basic http functions
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RemoteFileInfo contains the caching headers a remote server reported for a resource
type RemoteFileInfo struct {
	ETag                  string
	LastModifiedTimestamp int64
	Path                  string
}

// IsDifferent returns true if the remote resource changed since etag and lastModifiedTimestamp were seen.
// ETag is preferred when the server provides one
func (df *RemoteFileInfo) IsDifferent(etag string, lastModifiedTimestamp int64) bool {
	if len(df.ETag) > 0 {
		return df.ETag != etag
	}
	return df.LastModifiedTimestamp != lastModifiedTimestamp
}

// Client wraps http.Client with a request timeout
type Client struct {
	httpClient *http.Client
}

// New creates Client whose requests time out after timeout
func New(timeout time.Duration) *Client {
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// GetRemoteFileInfo retrieves ETag and last modified timestamp from url using a HEAD request
func (c *Client) GetRemoteFileInfo(ctx context.Context, url string) (RemoteFileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return RemoteFileInfo{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return RemoteFileInfo{}, err
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return RemoteFileInfo{}, fmt.Errorf("HEAD %s returned status %d", url, resp.StatusCode)
	}
	return getRemoteFileInfo(url, resp), nil
}

func getRemoteFileInfo(url string, resp *http.Response) RemoteFileInfo {
	result := RemoteFileInfo{
		Path: url,
	}
	result.ETag = resp.Header.Get("ETag")

	lastModifiedString := resp.Header.Get("Last-Modified")

	if len(lastModifiedString) > 0 {
		parsedTime, err := time.Parse(time.RFC1123, lastModifiedString)
		if err == nil {
			result.LastModifiedTimestamp = parsedTime.Unix()
		}
	}
	return result

}

// Fetch retrieves the body found at url into memory along with its RemoteFileInfo
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, RemoteFileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, RemoteFileInfo{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, RemoteFileInfo{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, RemoteFileInfo{}, fmt.Errorf("GET %s returned status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, RemoteFileInfo{}, fmt.Errorf("reading body from %s: %w", url, err)
	}
	return body, getRemoteFileInfo(url, resp), nil
}
