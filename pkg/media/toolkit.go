package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Toolkit wraps the external ffmpeg/ffprobe binaries. Every operation is
// file-in/file-out and stateless; failures carry the process stderr.
type Toolkit struct {
	ffmpegPath  string
	ffprobePath string
}

// NewToolkit creates a toolkit using the given binary paths, defaulting to
// whatever is on PATH.
func NewToolkit(ffmpegPath, ffprobePath string) *Toolkit {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Toolkit{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// ProbeResult is the container metadata extracted by ffprobe.
type ProbeResult struct {
	Duration float64
	Size     int64
	Width    int
	Height   int
	Format   string
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration   string `json:"duration"`
		Size       string `json:"size"`
		FormatName string `json:"format_name"`
	} `json:"format"`
}

// Probe inspects a media file and returns duration, size and frame
// dimensions.
func (t *Toolkit) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, t.ffprobePath,
		"-v", "error",
		"-show_format",
		"-show_streams",
		"-of", "json",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	var out probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	result := &ProbeResult{Format: out.Format.FormatName}
	if out.Format.Duration != "" {
		d, err := strconv.ParseFloat(out.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("parse duration %q: %w", out.Format.Duration, err)
		}
		result.Duration = d
	}
	if out.Format.Size != "" {
		size, err := strconv.ParseInt(out.Format.Size, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse size %q: %w", out.Format.Size, err)
		}
		result.Size = size
	}
	for _, s := range out.Streams {
		if s.CodecType == "video" {
			result.Width = s.Width
			result.Height = s.Height
			break
		}
	}

	return result, nil
}

// ExtractAudio writes a mono 16 kHz WAV track, the format the speech-to-text
// providers expect.
func (t *Toolkit) ExtractAudio(ctx context.Context, inputPath, outputPath string) error {
	return t.runFFmpeg(ctx, extractAudioArgs(inputPath, outputPath))
}

func extractAudioArgs(inputPath, outputPath string) []string {
	return []string{
		"-i", inputPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		"-y",
		outputPath,
	}
}

// ExtractClip cuts [start, start+duration) out of the input without
// re-encoding.
func (t *Toolkit) ExtractClip(ctx context.Context, inputPath, outputPath string, start, duration float64) error {
	return t.runFFmpeg(ctx, extractClipArgs(inputPath, outputPath, start, duration))
}

func extractClipArgs(inputPath, outputPath string, start, duration float64) []string {
	return []string{
		"-ss", fmt.Sprintf("%.3f", start),
		"-i", inputPath,
		"-t", fmt.Sprintf("%.3f", duration),
		"-c", "copy",
		"-avoid_negative_ts", "make_zero",
		"-y",
		outputPath,
	}
}

// BurnProfile selects the quality of a subtitle burn.
type BurnProfile string

const (
	// ProfilePreview downscales to 480px width with a fast preset; used for
	// per-chunk review renders.
	ProfilePreview BurnProfile = "preview"
	// ProfileFinal keeps the source resolution.
	ProfileFinal BurnProfile = "final"
)

// BurnSubtitles renders an ASS subtitle track onto the video.
func (t *Toolkit) BurnSubtitles(ctx context.Context, inputPath, subtitlePath, outputPath string, profile BurnProfile) error {
	return t.runFFmpeg(ctx, burnSubtitlesArgs(inputPath, subtitlePath, outputPath, profile))
}

func burnSubtitlesArgs(inputPath, subtitlePath, outputPath string, profile BurnProfile) []string {
	// Single quotes in the filter path would terminate the filter argument.
	escaped := strings.ReplaceAll(subtitlePath, `'`, `\'`)

	var filter string
	var args []string
	if profile == ProfilePreview {
		filter = fmt.Sprintf("scale=480:-2,ass='%s'", escaped)
		args = []string{
			"-i", inputPath,
			"-vf", filter,
			"-c:v", "libx264",
			"-preset", "veryfast",
			"-crf", "28",
			"-c:a", "aac",
			"-b:a", "96k",
		}
	} else {
		filter = fmt.Sprintf("ass='%s'", escaped)
		args = []string{
			"-i", inputPath,
			"-vf", filter,
			"-c:v", "libx264",
			"-preset", "medium",
			"-crf", "20",
			"-c:a", "copy",
		}
	}
	return append(args, "-movflags", "+faststart", "-y", outputPath)
}

// Concat joins parts in order using the concat demuxer. Parts must share
// codec parameters.
func (t *Toolkit) Concat(ctx context.Context, partPaths []string, outputPath string) error {
	if len(partPaths) == 0 {
		return fmt.Errorf("concat: no input parts")
	}

	listFile, err := os.CreateTemp("", "capflow-concat-*.txt")
	if err != nil {
		return fmt.Errorf("create concat list: %w", err)
	}
	defer os.Remove(listFile.Name())

	var list strings.Builder
	for _, p := range partPaths {
		fmt.Fprintf(&list, "file '%s'\n", strings.ReplaceAll(p, `'`, `'\''`))
	}
	if _, err := listFile.WriteString(list.String()); err != nil {
		listFile.Close()
		return fmt.Errorf("write concat list: %w", err)
	}
	listFile.Close()

	return t.runFFmpeg(ctx, []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listFile.Name(),
		"-c", "copy",
		"-y",
		outputPath,
	})
}

// Screenshot grabs a single frame at the given offset.
func (t *Toolkit) Screenshot(ctx context.Context, inputPath, outputPath string, at float64) error {
	return t.runFFmpeg(ctx, screenshotArgs(inputPath, outputPath, at))
}

func screenshotArgs(inputPath, outputPath string, at float64) []string {
	return []string{
		"-ss", fmt.Sprintf("%.3f", at),
		"-i", inputPath,
		"-vframes", "1",
		"-f", "image2",
		"-y",
		outputPath,
	}
}

func (t *Toolkit) runFFmpeg(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w (stderr: %s)", err, tailOf(stderr.String()))
	}
	return nil
}

// tailOf keeps the end of ffmpeg's stderr, which is where the actual error
// lands after the banner and progress lines.
func tailOf(s string) string {
	s = strings.TrimSpace(s)
	const max = 512
	if len(s) > max {
		return "..." + s[len(s)-max:]
	}
	return s
}
