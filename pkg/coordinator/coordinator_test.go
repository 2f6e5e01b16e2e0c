package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/z-wentao/capflow/pkg/models"
	"github.com/z-wentao/capflow/pkg/queue"
	"github.com/z-wentao/capflow/pkg/storage"
)

type fixture struct {
	t     *testing.T
	store *storage.MemoryStore
	queue *queue.MemoryQueue
	coord *Coordinator
	jobs  <-chan *models.JobRequest
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := storage.NewMemoryStore()
	q := queue.NewMemoryQueue(50)
	t.Cleanup(func() { q.Close() })

	jobs, err := q.ConsumeJobs()
	require.NoError(t, err)

	return &fixture{
		t:     t,
		store: st,
		queue: q,
		coord: New(st, q, 20),
		jobs:  jobs,
	}
}

// nextJob pops the next published job or fails the test.
func (f *fixture) nextJob() *models.JobRequest {
	f.t.Helper()
	select {
	case job := <-f.jobs:
		return job
	case <-time.After(time.Second):
		f.t.Fatal("expected a published job")
		return nil
	}
}

func (f *fixture) noJob() {
	f.t.Helper()
	select {
	case job := <-f.jobs:
		f.t.Fatalf("unexpected job published: %s", job.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

// complete feeds a successful result for job back into the coordinator.
func (f *fixture) complete(job *models.JobRequest, payload any) {
	f.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(f.t, err)
	f.coord.HandleResult(&models.JobResult{
		JobID:     job.JobID,
		Kind:      job.Kind,
		SessionID: job.SessionID,
		Status:    models.ResultCompleted,
		Payload:   raw,
	})
}

func (f *fixture) fail(job *models.JobRequest, msg string) {
	f.t.Helper()
	f.coord.HandleResult(&models.JobResult{
		JobID:     job.JobID,
		Kind:      job.Kind,
		SessionID: job.SessionID,
		Status:    models.ResultFailed,
		Error:     msg,
	})
}

func (f *fixture) session(id string) *models.Session {
	f.t.Helper()
	s, err := f.store.GetSession(id)
	require.NoError(f.t, err)
	return s
}

func (f *fixture) chunk(id string, index int) *models.Chunk {
	f.t.Helper()
	ch, err := f.store.GetChunk(id, index)
	require.NoError(f.t, err)
	return ch
}

// startReviewing walks a session to the point where chunk 0's preview is
// ready, with totalChunks chunks of 20s each.
func (f *fixture) startReviewing(totalChunks int) *models.Session {
	f.t.Helper()
	ctx := context.Background()

	session, err := f.coord.StartSession(ctx, "http://videos/source.mp4", "", models.ModeSentence)
	require.NoError(f.t, err)

	upload := f.nextJob()
	require.Equal(f.t, models.KindVideoUploaded, upload.Kind)
	f.complete(upload, models.UploadResult{
		StoredURL: "stored/source.mp4",
		Duration:  float64(totalChunks) * 20,
		Width:     1920,
		Height:    1080,
	})

	chunkJob := f.nextJob()
	require.Equal(f.t, models.KindChunkVideo, chunkJob.Kind)

	infos := make([]models.ChunkInfo, totalChunks)
	for i := range infos {
		infos[i] = models.ChunkInfo{
			ChunkID: fmt.Sprintf("c-%d", i),
			Index:   i,
			URL:     fmt.Sprintf("chunks/chunk_%03d.mp4", i),
			Start:   float64(i) * 20,
			End:     float64(i+1) * 20,
		}
	}
	f.complete(chunkJob, models.ChunkVideoResult{Chunks: infos})

	require.Equal(f.t, models.SessionStyleSelection, f.session(session.ID).Status)
	f.noJob()

	require.NoError(f.t, f.coord.SelectStyle(ctx, session.ID, "classic"))
	f.transcribeAndPreview(session.ID, 0)
	return f.session(session.ID)
}

// transcribeAndPreview completes the transcribe and preview jobs for one
// chunk, leaving the session reviewing that chunk.
func (f *fixture) transcribeAndPreview(sessionID string, index int) {
	f.t.Helper()

	tj := f.nextJob()
	require.Equal(f.t, models.KindTranscribeChunk, tj.Kind)

	var payload models.TranscribePayload
	require.NoError(f.t, json.Unmarshal(tj.Payload, &payload))
	require.Equal(f.t, index, payload.ChunkIndex)

	segments := []models.TranscriptSegment{
		{Index: 0, Start: payload.ChunkStart + 0.5, End: payload.ChunkStart + 2.0, Text: fmt.Sprintf("chunk %d speech", index)},
	}
	f.complete(tj, models.TranscribeResult{ChunkIndex: index, Segments: segments, Provider: "fake"})

	pj := f.nextJob()
	require.Equal(f.t, models.KindGeneratePreview, pj.Kind)
	f.complete(pj, models.PreviewResult{
		ChunkIndex:   index,
		PreviewURL:   fmt.Sprintf("previews/chunk_%03d.mp4", index),
		ThumbnailURL: fmt.Sprintf("thumbs/chunk_%03d.jpg", index),
	})
}

func TestStartSessionPublishesUpload(t *testing.T) {
	f := newFixture(t)

	session, err := f.coord.StartSession(context.Background(), "http://videos/a.mp4", "en", models.ModeWord)
	require.NoError(t, err)
	assert.Equal(t, models.SessionPending, session.Status)
	assert.Equal(t, models.ModeWord, session.CaptionMode)

	job := f.nextJob()
	assert.Equal(t, models.KindVideoUploaded, job.Kind)
	assert.Equal(t, session.ID, job.SessionID)
}

func TestStartSessionDefaultsToSentenceMode(t *testing.T) {
	f := newFixture(t)

	session, err := f.coord.StartSession(context.Background(), "http://videos/a.mp4", "", "")
	require.NoError(t, err)
	assert.Equal(t, models.ModeSentence, session.CaptionMode)
}

func TestStartSessionValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.coord.StartSession(context.Background(), "", "", models.ModeSentence)
	assert.Error(t, err)

	_, err = f.coord.StartSession(context.Background(), "http://v/a.mp4", "", models.CaptionMode("karaoke"))
	assert.Error(t, err)
}

func TestStyleSelectionGatesTranscription(t *testing.T) {
	f := newFixture(t)
	session := f.startReviewing(3)

	assert.Equal(t, models.SessionReviewing, session.Status)
	assert.Equal(t, 0, session.CurrentChunkIndex)
	assert.Equal(t, 3, session.TotalChunks)
	assert.Equal(t, "classic", session.SelectedStyleID)

	chunk := f.chunk(session.ID, 0)
	assert.Equal(t, models.ChunkPreviewReady, chunk.Status)
	assert.NotEmpty(t, chunk.PreviewURL)
	assert.NotEmpty(t, chunk.Transcript)

	// Only the chunk under review has been touched.
	assert.Equal(t, models.ChunkPending, f.chunk(session.ID, 1).Status)
	assert.Equal(t, models.ChunkPending, f.chunk(session.ID, 2).Status)
}

func TestSelectStyleRejectsWrongState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.coord.StartSession(ctx, "http://videos/a.mp4", "", models.ModeSentence)
	require.NoError(t, err)
	f.nextJob()

	// Still pending: no style selection yet.
	assert.Error(t, f.coord.SelectStyle(ctx, session.ID, "classic"))
	assert.Error(t, f.coord.SelectStyle(ctx, session.ID, "sparkles"))
	assert.Error(t, f.coord.SelectStyle(ctx, "missing", "classic"))
}

func TestApproveAdvancesToNextChunk(t *testing.T) {
	f := newFixture(t)
	session := f.startReviewing(3)

	require.NoError(t, f.coord.Approve(context.Background(), session.ID, 0))

	assert.Equal(t, models.ChunkApproved, f.chunk(session.ID, 0).Status)
	assert.True(t, f.chunk(session.ID, 0).Approved)

	got := f.session(session.ID)
	assert.Equal(t, 1, got.CurrentChunkIndex)
	assert.Equal(t, models.SessionTranscribing, got.Status)

	tj := f.nextJob()
	assert.Equal(t, models.KindTranscribeChunk, tj.Kind)

	var payload models.TranscribePayload
	require.NoError(t, json.Unmarshal(tj.Payload, &payload))
	assert.Equal(t, 1, payload.ChunkIndex)
	assert.Equal(t, 20.0, payload.ChunkStart)

	// One chunk in flight: nothing else was enqueued.
	f.noJob()
}

func TestApproveLastChunkEnqueuesRender(t *testing.T) {
	f := newFixture(t)
	session := f.startReviewing(2)

	require.NoError(t, f.coord.Approve(context.Background(), session.ID, 0))
	f.transcribeAndPreview(session.ID, 1)
	require.NoError(t, f.coord.Approve(context.Background(), session.ID, 1))

	got := f.session(session.ID)
	assert.Equal(t, models.SessionRendering, got.Status)

	rj := f.nextJob()
	require.Equal(t, models.KindRenderFinal, rj.Kind, "past the last chunk the render is enqueued, not another transcribe")

	var payload models.RenderPayload
	require.NoError(t, json.Unmarshal(rj.Payload, &payload))
	assert.Equal(t, "stored/source.mp4", payload.VideoURL)
	assert.Equal(t, "classic", payload.StyleID)

	// Merged transcript covers both chunks in timeline order.
	require.Len(t, payload.Segments, 2)
	assert.Equal(t, 0.5, payload.Segments[0].Start)
	assert.Equal(t, 20.5, payload.Segments[1].Start)
	assert.Equal(t, 0, payload.Segments[0].Index)
	assert.Equal(t, 1, payload.Segments[1].Index)

	// Render completion finishes the session.
	f.complete(rj, models.RenderResult{OutputURL: "output/final.mp4", Duration: 40})
	got = f.session(session.ID)
	assert.Equal(t, models.SessionCompleted, got.Status)
	assert.Equal(t, "output/final.mp4", got.OutputVideoURL)
}

func TestRejectReprocessesOnlyThatChunk(t *testing.T) {
	f := newFixture(t)
	session := f.startReviewing(5)

	// Walk to chunk 2 under review.
	require.NoError(t, f.coord.Approve(context.Background(), session.ID, 0))
	f.transcribeAndPreview(session.ID, 1)
	require.NoError(t, f.coord.Approve(context.Background(), session.ID, 1))
	f.transcribeAndPreview(session.ID, 2)

	require.NoError(t, f.coord.Reject(context.Background(), session.ID, 2))

	rejected := f.chunk(session.ID, 2)
	assert.Equal(t, models.ChunkTranscribing, rejected.Status)
	assert.Empty(t, rejected.Transcript)
	assert.Empty(t, rejected.PreviewURL)
	assert.Equal(t, 1, rejected.ReprocessCount)

	// Approved chunks keep their transcripts; later chunks stay pending.
	assert.Equal(t, models.ChunkApproved, f.chunk(session.ID, 0).Status)
	assert.NotEmpty(t, f.chunk(session.ID, 0).Transcript)
	assert.Equal(t, models.ChunkApproved, f.chunk(session.ID, 1).Status)
	assert.Equal(t, models.ChunkPending, f.chunk(session.ID, 3).Status)
	assert.Equal(t, models.ChunkPending, f.chunk(session.ID, 4).Status)

	// The same chunk is re-enqueued, still index 2.
	tj := f.nextJob()
	require.Equal(t, models.KindTranscribeChunk, tj.Kind)
	var payload models.TranscribePayload
	require.NoError(t, json.Unmarshal(tj.Payload, &payload))
	assert.Equal(t, 2, payload.ChunkIndex)

	// Session index never moved.
	assert.Equal(t, 2, f.session(session.ID).CurrentChunkIndex)
}

func TestReviewDecisionsValidated(t *testing.T) {
	f := newFixture(t)
	session := f.startReviewing(3)
	ctx := context.Background()

	// Wrong index: only the chunk under review can be decided.
	assert.Error(t, f.coord.Approve(ctx, session.ID, 1))
	assert.Error(t, f.coord.Reject(ctx, session.ID, 2))

	// Double decision on the same chunk.
	require.NoError(t, f.coord.Approve(ctx, session.ID, 0))
	assert.Error(t, f.coord.Approve(ctx, session.ID, 0))
}

func TestFailedResultFailsSession(t *testing.T) {
	f := newFixture(t)

	session, err := f.coord.StartSession(context.Background(), "http://videos/a.mp4", "", models.ModeSentence)
	require.NoError(t, err)

	upload := f.nextJob()
	f.fail(upload, "probe exploded")

	got := f.session(session.ID)
	assert.Equal(t, models.SessionFailed, got.Status)
	assert.Contains(t, got.Error, "probe exploded")

	// Terminal: no follow-up work.
	f.noJob()
}

func TestCancelStopsProgress(t *testing.T) {
	f := newFixture(t)
	session := f.startReviewing(2)

	require.NoError(t, f.coord.Cancel(session.ID))
	assert.Equal(t, models.SessionCancelled, f.session(session.ID).Status)

	// Late results for a cancelled session are dropped.
	f.coord.HandleResult(&models.JobResult{
		JobID:     "late",
		Kind:      models.KindGeneratePreview,
		SessionID: session.ID,
		Status:    models.ResultCompleted,
		Payload:   json.RawMessage(`{"chunk_index": 0}`),
	})
	assert.Equal(t, models.SessionCancelled, f.session(session.ID).Status)
	f.noJob()

	// Cancelling twice is an error.
	assert.Error(t, f.coord.Cancel(session.ID))
}

func TestStaleTranscribeResultDropped(t *testing.T) {
	f := newFixture(t)
	session := f.startReviewing(3)

	// A transcript for a chunk that is not current is ignored.
	f.coord.HandleResult(&models.JobResult{
		JobID:     "stale",
		Kind:      models.KindTranscribeChunk,
		SessionID: session.ID,
		Status:    models.ResultCompleted,
		Payload:   json.RawMessage(`{"chunk_index": 2, "segments": []}`),
	})

	assert.Equal(t, models.ChunkPending, f.chunk(session.ID, 2).Status)
	f.noJob()
}

func TestUnknownSessionResultDropped(t *testing.T) {
	f := newFixture(t)

	// Must not panic or publish anything.
	f.coord.HandleResult(&models.JobResult{
		JobID:     "ghost",
		Kind:      models.KindChunkVideo,
		SessionID: "no-such-session",
		Status:    models.ResultCompleted,
		Payload:   json.RawMessage(`{}`),
	})
	f.noJob()
}

func TestChunkingFailureWithNoChunks(t *testing.T) {
	f := newFixture(t)

	session, err := f.coord.StartSession(context.Background(), "http://videos/a.mp4", "", models.ModeSentence)
	require.NoError(t, err)

	upload := f.nextJob()
	f.complete(upload, models.UploadResult{StoredURL: "stored/a.mp4", Duration: 10})

	chunkJob := f.nextJob()
	f.complete(chunkJob, models.ChunkVideoResult{Chunks: nil})

	assert.Equal(t, models.SessionFailed, f.session(session.ID).Status)
}
