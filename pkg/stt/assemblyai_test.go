package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAssemblyAITestProvider(baseURL string) *AssemblyAIProvider {
	p := NewAssemblyAIProvider("aai-key")
	p.baseURL = baseURL
	p.pollInterval = time.Millisecond
	p.maxPolls = 10
	return p
}

func TestAssemblyAIRequiresAudioURL(t *testing.T) {
	p := NewAssemblyAIProvider("aai-key")
	_, err := p.Transcribe(context.Background(), "/tmp/audio.wav", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publicly accessible")
}

func TestAssemblyAISubmitAndPoll(t *testing.T) {
	var polls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/transcript":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "http://store/audio.wav", body["audio_url"])
			assert.Equal(t, true, body["language_detection"])
			fmt.Fprint(w, `{"id": "t-1", "status": "queued"}`)

		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/transcript/"):
			// Two pending polls before completion.
			if atomic.AddInt32(&polls, 1) < 3 {
				fmt.Fprint(w, `{"id": "t-1", "status": "processing"}`)
				return
			}
			fmt.Fprint(w, `{
				"id": "t-1",
				"status": "completed",
				"text": "Hello there. How are you?",
				"language_code": "en",
				"audio_duration": 5.0,
				"words": [
					{"text": "Hello", "start": 100, "end": 400},
					{"text": "there.", "start": 450, "end": 900},
					{"text": "How", "start": 1000, "end": 1200},
					{"text": "are", "start": 1250, "end": 1400},
					{"text": "you?", "start": 1450, "end": 1800}
				]
			}`)

		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	p := newAssemblyAITestProvider(server.URL)
	result, err := p.Transcribe(context.Background(), "", Options{AudioURL: "http://store/audio.wav"})
	require.NoError(t, err)

	assert.Equal(t, "Hello there. How are you?", result.Text)
	assert.Equal(t, "en", result.Language)

	// Words fold into sentence segments at terminal punctuation, with
	// millisecond timings converted to seconds.
	require.Len(t, result.Segments, 2)
	assert.Equal(t, "Hello there.", result.Segments[0].Text)
	assert.InDelta(t, 0.1, result.Segments[0].Start, 1e-9)
	assert.InDelta(t, 0.9, result.Segments[0].End, 1e-9)
	assert.Equal(t, "How are you?", result.Segments[1].Text)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&polls), int32(3))
}

func TestAssemblyAITransientErrorsKeepPolling(t *testing.T) {
	var polls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			fmt.Fprint(w, `{"id": "t-2", "status": "queued"}`)
			return
		}
		// 503 then 429 are transient; only then succeed.
		switch atomic.AddInt32(&polls, 1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			fmt.Fprint(w, `{"id": "t-2", "status": "completed", "text": "ok", "words": []}`)
		}
	}))
	defer server.Close()

	p := newAssemblyAITestProvider(server.URL)
	result, err := p.Transcribe(context.Background(), "", Options{AudioURL: "http://store/a.wav"})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text)
}

func TestAssemblyAIFatalPollError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			fmt.Fprint(w, `{"id": "t-3", "status": "queued"}`)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	p := newAssemblyAITestProvider(server.URL)
	_, err := p.Transcribe(context.Background(), "", Options{AudioURL: "http://store/a.wav"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestAssemblyAIErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			fmt.Fprint(w, `{"id": "t-4", "status": "queued"}`)
			return
		}
		fmt.Fprint(w, `{"id": "t-4", "status": "error", "error": "unreadable audio"}`)
	}))
	defer server.Close()

	p := newAssemblyAITestProvider(server.URL)
	_, err := p.Transcribe(context.Background(), "", Options{AudioURL: "http://store/a.wav"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreadable audio")
}

func TestAssemblyAIPollBudgetExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			fmt.Fprint(w, `{"id": "t-5", "status": "queued"}`)
			return
		}
		fmt.Fprint(w, `{"id": "t-5", "status": "processing"}`)
	}))
	defer server.Close()

	p := newAssemblyAITestProvider(server.URL)
	p.maxPolls = 3

	_, err := p.Transcribe(context.Background(), "", Options{AudioURL: "http://store/a.wav"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ready after 3 polls")
}
