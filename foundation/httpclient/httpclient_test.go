package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Fetch(t *testing.T) {
	lastModified := time.Date(2022, 5, 22, 8, 30, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feed":
			w.Header().Set("ETag", `"abc"`)
			w.Header().Set("Last-Modified", lastModified.Format(time.RFC1123))
			_, _ = w.Write([]byte("feed-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New(5 * time.Second)

	body, info, err := client.Fetch(context.Background(), server.URL+"/feed")
	require.NoError(t, err)
	assert.Equal(t, "feed-bytes", string(body))
	assert.Equal(t, `"abc"`, info.ETag)
	assert.Equal(t, lastModified.Unix(), info.LastModifiedTimestamp)

	_, _, err = client.Fetch(context.Background(), server.URL+"/missing")
	assert.Error(t, err)

	headInfo, err := client.GetRemoteFileInfo(context.Background(), server.URL+"/feed")
	require.NoError(t, err)
	assert.Equal(t, info.ETag, headInfo.ETag)
}

func TestRemoteFileInfo_IsDifferent(t *testing.T) {
	tests := []struct {
		name         string
		info         RemoteFileInfo
		etag         string
		lastModified int64
		want         bool
	}{
		{
			name: "same etag",
			info: RemoteFileInfo{ETag: "a", LastModifiedTimestamp: 1},
			etag: "a", lastModified: 2,
			want: false,
		},
		{
			name: "different etag",
			info: RemoteFileInfo{ETag: "a"},
			etag: "b",
			want: true,
		},
		{
			name:         "no etag falls back to last modified",
			info:         RemoteFileInfo{LastModifiedTimestamp: 10},
			lastModified: 10,
			want:         false,
		},
		{
			name:         "no etag changed last modified",
			info:         RemoteFileInfo{LastModifiedTimestamp: 11},
			lastModified: 10,
			want:         true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.info.IsDifferent(tt.etag, tt.lastModified))
		})
	}
}
