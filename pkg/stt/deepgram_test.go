package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audio.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF fake wav"), 0o644))
	return path
}

func TestDeepgramTranscribe(t *testing.T) {
	var gotAuth, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{
			"metadata": {"duration": 4.2},
			"results": {"channels": [{
				"detected_language": "en",
				"alternatives": [{
					"transcript": "Hello world.",
					"words": [
						{"word": "hello", "punctuated_word": "Hello", "start": 0.1, "end": 0.5},
						{"word": "world", "punctuated_word": "world.", "start": 0.5, "end": 1.0}
					]
				}]
			}]}
		}`))
	}))
	defer server.Close()

	p := NewDeepgramProvider("dg-key", "nova-2")
	p.baseURL = server.URL

	result, err := p.Transcribe(context.Background(), writeTestAudio(t), Options{})
	require.NoError(t, err)

	assert.Equal(t, "Token dg-key", gotAuth)
	assert.Contains(t, gotQuery, "model=nova-2")
	assert.Contains(t, gotQuery, "detect_language=true")

	assert.Equal(t, "Hello world.", result.Text)
	assert.Equal(t, "en", result.Language)
	assert.Equal(t, 4.2, result.Duration)

	require.Len(t, result.Segments, 2)
	assert.Equal(t, "Hello", result.Segments[0].Text)
	assert.Equal(t, "world.", result.Segments[1].Text)
	assert.Equal(t, 0.5, result.Segments[1].Start)
}

func TestDeepgramLanguageHint(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"results": {"channels": [{"alternatives": [{"transcript": "", "words": []}]}]}}`))
	}))
	defer server.Close()

	p := NewDeepgramProvider("dg-key", "")
	p.baseURL = server.URL

	_, err := p.Transcribe(context.Background(), writeTestAudio(t), Options{Language: "de"})
	require.NoError(t, err)

	assert.Contains(t, gotQuery, "language=de")
	assert.NotContains(t, gotQuery, "detect_language")
}

func TestDeepgramEmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": {"channels": []}}`))
	}))
	defer server.Close()

	p := NewDeepgramProvider("dg-key", "")
	p.baseURL = server.URL

	_, err := p.Transcribe(context.Background(), writeTestAudio(t), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty response")
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "audio/wav", contentTypeFor("a.wav"))
	assert.Equal(t, "audio/mpeg", contentTypeFor("a.mp3"))
	assert.Equal(t, "audio/flac", contentTypeFor("a.flac"))
	assert.Equal(t, "application/octet-stream", contentTypeFor("a.ogg"))
}
