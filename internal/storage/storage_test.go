package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avatar-studio/internal/logging"
)

func TestUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/storage/v1/object/audio_files/user-1/content-1.mp3", r.URL.Path)
		assert.Equal(t, "Bearer service", r.Header.Get("Authorization"))
		assert.Equal(t, "service", r.Header.Get("apikey"))
		assert.Equal(t, "audio/mpeg", r.Header.Get("Content-Type"))
		assert.Equal(t, "true", r.Header.Get("x-upsert"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "mp3-bytes", string(body))
		_, _ = w.Write([]byte(`{"Key":"audio_files/user-1/content-1.mp3"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "service", logging.Discard(), nil)
	url, err := c.Upload(context.Background(), BucketAudio, "/user-1/content-1.mp3", "audio/mpeg", []byte("mp3-bytes"))
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/storage/v1/object/public/audio_files/user-1/content-1.mp3", url)
}

func TestUploadErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"statusCode":"404","error":"Bucket not found","message":"Bucket not found"}`))
	}))
	defer srv.Close()
	c := New(srv.URL, "service", logging.Discard(), nil)

	_, err := c.Upload(context.Background(), BucketAudio, "a.mp3", "audio/mpeg", nil)
	require.Error(t, err)

	_, err = c.Upload(context.Background(), "missing", "a.mp3", "audio/mpeg", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bucket not found")
}
