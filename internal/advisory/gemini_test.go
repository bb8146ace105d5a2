package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiClient_Generate(t *testing.T) {
	var gotBody geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/test-model:generateContent", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-goog-api-key"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"hello "},{"text":"farmer"}]}}]}`))
	}))
	defer srv.Close()

	c := NewGeminiClient("secret", "test-model").WithBaseURL(srv.URL)
	out, err := c.Generate(context.Background(), "say hi")
	require.NoError(t, err)
	assert.Equal(t, "hello farmer", out)
	require.Len(t, gotBody.Contents, 1)
	assert.Equal(t, "say hi", gotBody.Contents[0].Parts[0].Text)
}

func TestGeminiClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota exceeded"}}`))
	}))
	defer srv.Close()

	_, err := NewGeminiClient("k", "").WithBaseURL(srv.URL).Generate(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestGeminiClient_AnalyzeImageRejectsNonImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>not an image</body></html>"))
	}))
	defer srv.Close()

	_, err := NewGeminiClient("k", "").WithBaseURL(srv.URL).AnalyzeImage(context.Background(), srv.URL+"/photo.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an image")
}

func TestGeminiClient_AnalyzeImageGuard(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewGeminiClient("k", "").WithBaseURL(srv.URL).WithURLGuard(func(string) error {
		return errors.New("private address")
	})
	_, err := c.AnalyzeImage(context.Background(), srv.URL+"/photo.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image url rejected")
	assert.False(t, called)
}

func TestGeminiClient_AnalyzeImage(t *testing.T) {
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)
	var gotMime string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/photo.png" {
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(png)
			return
		}
		var req geminiRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Contents) == 1 && len(req.Contents[0].Parts) == 2 && req.Contents[0].Parts[1].InlineData != nil {
			gotMime = req.Contents[0].Parts[1].InlineData.MimeType
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Healthy tomato leaves"}]}}]}`))
	}))
	defer srv.Close()

	out, err := NewGeminiClient("k", "").WithBaseURL(srv.URL).AnalyzeImage(context.Background(), srv.URL+"/photo.png")
	require.NoError(t, err)
	assert.Equal(t, "Healthy tomato leaves", out)
	assert.Equal(t, "image/png", gotMime)
}

func TestGeminiClient_AnalyzeImageRejectsUnsupportedType(t *testing.T) {
	for name, contentType := range map[string]string{
		"declared text": "text/plain",
		"gif":           "image/gif",
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", contentType)
				_, _ = w.Write([]byte("GIF89a"))
			}))
			defer srv.Close()

			_, err := NewGeminiClient("k", "").WithBaseURL(srv.URL).AnalyzeImage(context.Background(), srv.URL+"/photo")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "not an image")
		})
	}
}
