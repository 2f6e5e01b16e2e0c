package stt

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/z-wentao/capflow/pkg/config"
)

func TestSelectBuildsConfiguredProviders(t *testing.T) {
	primary, wordLevel, err := Select(config.ProvidersConfig{
		Primary:   "whisper",
		WordLevel: "deepgram",
		OpenAI:    config.OpenAIConfig{APIKey: "sk-test"},
		Deepgram:  config.DeepgramConfig{APIKey: "dg-test"},
	})
	require.NoError(t, err)

	assert.Equal(t, "whisper", primary.Name())
	assert.Equal(t, "deepgram", wordLevel.Name())
	assert.False(t, primary.Capabilities().WordTimestamps)
	assert.True(t, wordLevel.Capabilities().WordTimestamps)
}

func TestSelectRejectsUnknownProvider(t *testing.T) {
	_, _, err := Select(config.ProvidersConfig{Primary: "siri"})
	assert.Error(t, err)
}

func TestSelectRequiresAPIKeys(t *testing.T) {
	_, _, err := Select(config.ProvidersConfig{Primary: "whisper", WordLevel: "deepgram"})
	assert.Error(t, err)
}

func TestSelectRejectsSegmentOnlyWordLevel(t *testing.T) {
	// whisper cannot serve as the word-level fallback: it only produces
	// sentence segments.
	_, _, err := Select(config.ProvidersConfig{
		Primary:    "assemblyai",
		WordLevel:  "whisper",
		OpenAI:     config.OpenAIConfig{APIKey: "sk-test"},
		AssemblyAI: config.AssemblyAIConfig{APIKey: "aai-test"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "word timestamps")
}

func TestWithBackoffSucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := withBackoff(context.Background(), 3, func() error {
		calls++
		if calls < 2 {
			return fmt.Errorf("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithBackoffExhaustsRetries(t *testing.T) {
	calls := 0
	start := time.Now()
	err := withBackoff(context.Background(), 2, func() error {
		calls++
		return fmt.Errorf("always down")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Contains(t, err.Error(), "always down")
	assert.GreaterOrEqual(t, time.Since(start), time.Second, "must back off between attempts")
}

func TestWithBackoffRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := withBackoff(ctx, 5, func() error { return fmt.Errorf("down") })
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
