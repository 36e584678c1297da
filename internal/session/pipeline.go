// Package session drives a capture through session creation, taxonomy
// snapshot, media attachment, persistence and classification.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tphakala/ecosort/internal/classifier"
	"github.com/tphakala/ecosort/internal/classifier/remote"
	"github.com/tphakala/ecosort/internal/datastore"
	"github.com/tphakala/ecosort/internal/errors"
	"github.com/tphakala/ecosort/internal/jobqueue"
	"github.com/tphakala/ecosort/internal/logger"
	"github.com/tphakala/ecosort/internal/media"
	"github.com/tphakala/ecosort/internal/observability/metrics"
)

// Step is a pipeline state.
type Step int

const (
	StepInitial Step = iota
	StepCreatingSession
	StepAddingTaxonomy
	StepAddingMedia
	StepPersisting
	StepClassifying
	StepDone
	StepFailed
)

func (s Step) String() string {
	switch s {
	case StepInitial:
		return "initial"
	case StepCreatingSession:
		return "creating-session"
	case StepAddingTaxonomy:
		return "adding-taxonomy"
	case StepAddingMedia:
		return "adding-media"
	case StepPersisting:
		return "persisting"
	case StepClassifying:
		return "classifying"
	case StepDone:
		return "done"
	case StepFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s Step) metricLabel() string {
	switch s {
	case StepCreatingSession:
		return metrics.StepCreate
	case StepAddingTaxonomy:
		return metrics.StepTaxonomy
	case StepAddingMedia:
		return metrics.StepMedia
	case StepPersisting:
		return metrics.StepPersist
	default:
		return metrics.StepClassify
	}
}

// Capture is the finalized input of a new session.
type Capture struct {
	MediaKind datastore.MediaKind
	Mode      datastore.ProcessingMode
	Group     string // taxonomy group to snapshot
	Video     *VideoRef
	Items     []media.Item
}

// TaxonomySource resolves a taxonomy group by name.
type TaxonomySource interface {
	Group(ctx context.Context, name string) (*remote.GroupConfig, error)
}

// Config wires a pipeline to its collaborators. Local or Remote may be nil
// when that processing mode is not used.
type Config struct {
	Store             datastore.Interface
	Taxonomy          TaxonomySource
	Local             classifier.LocalEngine
	Remote            classifier.BatchEngine
	Queue             *jobqueue.JobQueue
	Metrics           *metrics.SessionMetrics
	ClassifierMetrics *metrics.ClassifierMetrics
}

// Pipeline runs one session. A failed step can be retried and resumes from
// that step, never from the start.
type Pipeline struct {
	cfg Config

	mu         sync.Mutex
	step       Step
	failedStep Step
	lastErr    error
	running    bool
	cancel     context.CancelFunc
	capture    Capture
	session    *datastore.Session
	strategy   strategy
}

// New creates a pipeline in StepInitial.
func New(cfg Config) *Pipeline {
	return &Pipeline{cfg: cfg}
}

// Step returns the current state.
func (p *Pipeline) Step() Step {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.step
}

// Failure returns the step that failed and its error. err is nil when
// classification finished with unlabeled items.
func (p *Pipeline) Failure() (Step, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.step != StepFailed {
		return StepInitial, nil
	}
	return p.failedStep, p.lastErr
}

// Session returns the session being processed, or nil before it exists.
func (p *Pipeline) Session() *datastore.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// Run processes a new capture. Capture without items is rejected before a
// session is created.
func (p *Pipeline) Run(ctx context.Context, c Capture) (*Outcome, error) {
	p.mu.Lock()
	if p.step != StepInitial {
		step := p.step
		p.mu.Unlock()
		return nil, transitionError("run in step %s", step)
	}
	p.capture = c
	p.mu.Unlock()
	return p.advance(ctx, StepCreatingSession)
}

// Retry re-enters the step that failed.
func (p *Pipeline) Retry(ctx context.Context) (*Outcome, error) {
	p.mu.Lock()
	if p.step != StepFailed {
		step := p.step
		p.mu.Unlock()
		return nil, transitionError("retry in step %s", step)
	}
	from := p.failedStep
	p.mu.Unlock()

	GetLogger().Info("retrying pipeline step", logger.String("step", from.String()))
	return p.advance(ctx, from)
}

// Resume loads a persisted session and continues classifying it. Items that
// already have a prediction are kept; a known remote job is re-subscribed.
func (p *Pipeline) Resume(ctx context.Context, sessionID string) (*Outcome, error) {
	p.mu.Lock()
	if p.step != StepInitial {
		step := p.step
		p.mu.Unlock()
		return nil, transitionError("resume in step %s", step)
	}
	p.mu.Unlock()

	s, err := p.cfg.Store.FetchByID(ctx, sessionID)
	if err != nil {
		return nil, persistenceError(err, "fetch", sessionID)
	}
	st, err := p.strategyFor(s.ProcessingMode)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.session = s
	p.strategy = st
	p.mu.Unlock()

	if s.State == datastore.StateDone {
		p.setStep(StepDone)
		return outcomeOf(s), nil
	}
	GetLogger().Info("resuming session",
		logger.String("session_id", s.ID),
		logger.String("mode", string(s.ProcessingMode)),
		logger.Int("unclassified", len(s.Unclassified())))
	return p.advance(ctx, StepClassifying)
}

// Cancel stops a running step. Predictions already written stay and the
// session can be resumed later.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (p *Pipeline) advance(ctx context.Context, from Step) (*Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil, transitionError("pipeline is already running")
	}
	p.running = true
	p.cancel = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.cancel = nil
		p.mu.Unlock()
	}()

	for step := from; step <= StepClassifying; step++ {
		p.setStep(step)
		start := time.Now()

		var err error
		switch step {
		case StepCreatingSession:
			err = p.createStep()
		case StepAddingTaxonomy:
			err = p.taxonomyStep(ctx)
		case StepAddingMedia:
			err = p.mediaStep()
		case StepPersisting:
			err = p.persistStep(ctx)
		case StepClassifying:
			return p.classifyStep(ctx)
		}
		if err != nil {
			p.fail(step, err)
			return nil, err
		}
		GetLogger().Debug("pipeline step complete",
			logger.String("step", step.String()),
			logger.Duration("elapsed", time.Since(start)))
	}
	return nil, transitionError("pipeline ended without classifying")
}

func (p *Pipeline) createStep() error {
	c := p.capture
	if len(c.Items) == 0 {
		return errors.New(ErrNoUsableMedia).
			Component("session").
			Category(errors.CategoryValidation).
			Context("media_kind", string(c.MediaKind)).
			Build()
	}
	st, err := p.strategyFor(c.Mode)
	if err != nil {
		return err
	}
	s := CreateSession(c.MediaKind, c.Mode, c.Video)

	p.mu.Lock()
	p.session = s
	p.strategy = st
	p.mu.Unlock()
	return nil
}

func (p *Pipeline) taxonomyStep(ctx context.Context) error {
	name := p.capture.Group
	if name == "" || p.cfg.Taxonomy == nil {
		return configurationError(ErrConfigurationMissing, name)
	}
	group, err := p.cfg.Taxonomy.Group(ctx, name)
	if err != nil {
		return configurationError(fmt.Errorf("%w: %w", ErrConfigurationMissing, err), name)
	}
	return AttachTaxonomy(p.session, group)
}

func (p *Pipeline) mediaStep() error {
	return AttachMedia(p.session, p.capture.Items)
}

func (p *Pipeline) persistStep(ctx context.Context) error {
	if err := Persist(ctx, p.cfg.Store, p.session); err != nil {
		return err
	}
	p.cfg.Metrics.RecordSessionCreated(string(p.session.ProcessingMode), string(p.session.MediaKind))
	GetLogger().Info("session created",
		logger.String("session_id", p.session.ID),
		logger.String("mode", string(p.session.ProcessingMode)),
		logger.Int("items", p.session.NumberOfImages))
	return nil
}

func (p *Pipeline) classifyStep(ctx context.Context) (*Outcome, error) {
	s := p.Session()
	version := ""
	if p.cfg.Local != nil && s.ProcessingMode == datastore.ProcessingOnDevice {
		version = p.cfg.Local.Version()
	}
	started, err := p.cfg.Store.Update(ctx, s.ID, func(s *datastore.Session) error {
		if s.State == datastore.StatePending {
			s.State = datastore.StateInProgress
		}
		if version != "" {
			s.ModelVersion = version
		}
		return nil
	})
	if err != nil {
		err = persistenceError(err, "start_classification", s.ID)
		p.fail(StepClassifying, err)
		return nil, err
	}

	started.CopyBlobs(s)

	final, err := p.strategy.classify(ctx, started)
	if final == nil {
		final = started
	}
	final.CopyBlobs(started)
	p.mu.Lock()
	p.session = final
	p.mu.Unlock()

	out := outcomeOf(final)
	mode := p.strategy.mode()
	if err != nil {
		p.fail(StepClassifying, err)
		return out, err
	}

	p.cfg.Metrics.RecordItems(mode, out.Classified, len(out.Failures))
	if out.Failed() {
		p.fail(StepClassifying, nil)
		p.cfg.Metrics.RecordSessionFinished(mode, metrics.StatusFailed)
		GetLogger().Warn("session finished with unclassified items",
			logger.String("session_id", final.ID),
			logger.Int("failed", len(out.Failures)),
			logger.Int("classified", out.Classified))
		return out, nil
	}

	p.setStep(StepDone)
	p.cfg.Metrics.RecordSessionFinished(mode, metrics.StatusSuccess)
	GetLogger().Info("session classified",
		logger.String("session_id", final.ID),
		logger.Int("items", out.Total))
	return out, nil
}

// strategyFor picks the classification engine for mode. The choice is made
// once per session.
func (p *Pipeline) strategyFor(mode datastore.ProcessingMode) (strategy, error) {
	switch mode {
	case datastore.ProcessingOnDevice:
		if p.cfg.Local == nil {
			break
		}
		return &localStrategy{engine: p.cfg.Local, store: p.cfg.Store}, nil
	case datastore.ProcessingCloud:
		if p.cfg.Remote == nil {
			break
		}
		return &remoteStrategy{
			engine:  p.cfg.Remote,
			store:   p.cfg.Store,
			queue:   p.cfg.Queue,
			metrics: p.cfg.ClassifierMetrics,
		}, nil
	}
	return nil, errors.Newf("no classification engine configured for mode %q", mode).
		Component("session").
		Category(errors.CategoryConfiguration).
		Context("mode", string(mode)).
		Build()
}

func (p *Pipeline) setStep(step Step) {
	p.mu.Lock()
	p.step = step
	p.mu.Unlock()
}

func (p *Pipeline) fail(step Step, err error) {
	p.mu.Lock()
	p.step = StepFailed
	p.failedStep = step
	p.lastErr = err
	p.mu.Unlock()

	p.cfg.Metrics.RecordStepFailure(step.metricLabel())
	if err != nil {
		GetLogger().Warn("pipeline step failed",
			logger.String("step", step.String()),
			logger.Error(err))
	}
}
