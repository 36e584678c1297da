package media

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"iter"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/tphakala/ecosort/internal/errors"
)

// FFmpegDecoder decodes videos by piping PNG frames out of an ffmpeg process.
type FFmpegDecoder struct {
	FfmpegPath  string
	FfprobePath string
}

// NewFFmpegDecoder returns a decoder using the given binaries, defaulting to
// "ffmpeg" and "ffprobe" on PATH.
func NewFFmpegDecoder(ffmpegPath, ffprobePath string) *FFmpegDecoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegDecoder{FfmpegPath: ffmpegPath, FfprobePath: ffprobePath}
}

type ffprobeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads frame rate, size and duration of the first video stream.
func (d *FFmpegDecoder) Probe(ctx context.Context, path string) (VideoInfo, error) {
	if path == "" {
		return VideoInfo{}, errors.Newf("video path cannot be empty").
			Component("media").
			Category(errors.CategoryValidation).
			Build()
	}

	cmd := exec.CommandContext(ctx, d.FfprobePath, //nolint:gosec // G204: binary from validated settings, args are fixed
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate:format=duration",
		"-of", "json",
		path)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return VideoInfo{}, fmt.Errorf("ffprobe canceled: %w", ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return VideoInfo{}, errors.New(fmt.Errorf("ffprobe failed: %s", msg)).
			Component("media").
			Category(errors.CategoryMediaDecode).
			Context("path", path).
			Build()
	}

	return parseProbeOutput(out.Bytes())
}

func parseProbeOutput(data []byte) (VideoInfo, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(data, &probe); err != nil {
		return VideoInfo{}, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if len(probe.Streams) == 0 {
		return VideoInfo{}, fmt.Errorf("no video stream found")
	}

	s := probe.Streams[0]
	info := VideoInfo{Width: s.Width, Height: s.Height}
	info.FrameRate = parseRate(s.RFrameRate)
	if info.FrameRate <= 0 {
		info.FrameRate = parseRate(s.AvgFrameRate)
	}
	if secs, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil && secs > 0 {
		info.Duration = time.Duration(secs * float64(time.Second))
	}
	return info, nil
}

// parseRate parses ffprobe rationals such as "30000/1001". Unreadable or
// zero-denominator values return 0.
func parseRate(rate string) float64 {
	num, den, found := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	dv, err := strconv.ParseFloat(den, 64)
	if err != nil || dv == 0 {
		return 0
	}
	return n / dv
}

// Frames starts ffmpeg and decodes the PNG stream it writes to stdout. The
// process is killed when the consumer stops early or ctx is canceled.
func (d *FFmpegDecoder) Frames(ctx context.Context, path string, fps float64) iter.Seq2[image.Image, error] {
	return func(yield func(image.Image, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		cmd := exec.CommandContext(ctx, d.FfmpegPath, //nolint:gosec // G204: binary from validated settings, args built internally
			"-hide_banner",
			"-loglevel", "error",
			"-i", path,
			"-vf", "fps="+strconv.FormatFloat(fps, 'f', -1, 64),
			"-f", "image2pipe",
			"-c:v", "png",
			"pipe:1")

		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			yield(nil, fmt.Errorf("error creating ffmpeg pipe: %w", err))
			return
		}
		if err := cmd.Start(); err != nil {
			yield(nil, fmt.Errorf("error starting ffmpeg: %w", err))
			return
		}

		waited := false
		defer func() {
			if !waited {
				cancel()
				_ = cmd.Wait()
			}
		}()

		br := bufio.NewReaderSize(stdout, 1<<20)
		for {
			if _, err := br.Peek(1); err != nil {
				if err == io.EOF {
					break
				}
				yield(nil, err)
				return
			}
			img, err := png.Decode(br)
			if err != nil {
				yield(nil, fmt.Errorf("failed to decode frame: %w", err))
				return
			}
			if !yield(img, nil) {
				return
			}
		}

		waited = true
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = err.Error()
			}
			yield(nil, fmt.Errorf("ffmpeg exited with error: %s", msg))
		}
	}
}
