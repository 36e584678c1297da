package analysis

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tphakala/ecosort/internal/datastore"
	"github.com/tphakala/ecosort/internal/errors"
	"github.com/tphakala/ecosort/internal/logger"
	"github.com/tphakala/ecosort/internal/session"
)

// Request describes one capture to classify.
type Request struct {
	Photos []string // image files, classified in the given order
	Video  string   // video file; takes precedence over Photos
	Mode   string   // cloud or ondevice, settings default when empty
	Group  string   // taxonomy group, settings default when empty
}

// Result is the outcome of a classification run.
type Result struct {
	Outcome *session.Outcome
	Session *datastore.Session
	// FailedStep is set when the pipeline stopped before finishing.
	FailedStep session.Step
	Elapsed    time.Duration
}

// Classify captures the request's media and runs a new session through the
// pipeline. When classification finishes with unlabeled items the result is
// returned without an error; Outcome lists the failures.
func Classify(ctx context.Context, svc *Services, req Request) (*Result, error) {
	start := time.Now()
	mode := req.Mode
	if mode == "" {
		mode = svc.Settings.Prediction.Mode
	}
	group := req.Group
	if group == "" {
		group = svc.Settings.Prediction.Group
	}

	capture, err := buildCapture(ctx, svc, req)
	if err != nil {
		return nil, err
	}
	capture.Mode = datastore.ProcessingMode(mode)
	capture.Group = group

	p, err := svc.Pipeline(ctx, capture.Mode)
	if err != nil {
		return nil, err
	}

	GetLogger().Info("classifying capture",
		logger.String("mode", mode),
		logger.String("group", group),
		logger.String("media_kind", string(capture.MediaKind)),
		logger.Int("items", len(capture.Items)))

	out, err := p.Run(ctx, capture)
	return result(p, out, start), err
}

// Resume continues a persisted session.
func Resume(ctx context.Context, svc *Services, sessionID string) (*Result, error) {
	start := time.Now()
	p, err := svc.Pipeline(ctx, "")
	if err != nil {
		return nil, err
	}
	out, err := p.Resume(ctx, sessionID)
	return result(p, out, start), err
}

func result(p *session.Pipeline, out *session.Outcome, start time.Time) *Result {
	r := &Result{Outcome: out, Session: p.Session(), Elapsed: time.Since(start)}
	if p.Step() == session.StepFailed {
		r.FailedStep, _ = p.Failure()
	}
	return r
}

func buildCapture(ctx context.Context, svc *Services, req Request) (session.Capture, error) {
	if req.Video != "" {
		if err := checkFile(req.Video); err != nil {
			return session.Capture{}, err
		}
		items, info, err := svc.Capturer.CaptureVideo(ctx, req.Video)
		if err != nil {
			return session.Capture{}, err
		}
		return session.Capture{
			MediaKind: datastore.MediaKindVideo,
			Video:     &session.VideoRef{Path: req.Video, Duration: info.Duration},
			Items:     items,
		}, nil
	}

	if len(req.Photos) == 0 {
		return session.Capture{}, errors.New(ErrNoInput).
			Component("analysis").
			Category(errors.CategoryValidation).
			Build()
	}
	for _, path := range req.Photos {
		if err := checkFile(path); err != nil {
			return session.Capture{}, err
		}
	}
	items, err := svc.Capturer.CaptureImages(ctx, req.Photos)
	if err != nil {
		return session.Capture{}, err
	}
	return session.Capture{MediaKind: datastore.MediaKindImage, Items: items}, nil
}

// checkFile rejects missing, empty and directory paths before any decoding.
func checkFile(path string) error {
	info, err := os.Stat(path)
	switch {
	case err != nil:
		err = fmt.Errorf("error accessing file %s: %w", filepath.Base(path), err)
	case info.IsDir():
		err = fmt.Errorf("the path %s is a directory, not a file", filepath.Base(path))
	case info.Size() == 0:
		err = fmt.Errorf("file %s is empty", filepath.Base(path))
	default:
		return nil
	}
	return errors.New(err).
		Component("analysis").
		Category(errors.CategoryFileIO).
		Context("path", path).
		Build()
}
