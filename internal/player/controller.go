package player

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"
)

// State is the controller's lifecycle position. Transitions are driven by
// the host surface (mount, visibility, user intent) and by the media
// engine (start, ticks, errors); the controller itself never blocks on
// network calls while playing.
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StateReady      State = "ready"
	StatePlaying    State = "playing"
	StatePaused     State = "paused"
	StateEnded      State = "ended"
	StateErrored    State = "errored"
)

// checkpointInterval is in media seconds, not wall-clock: pausing neither
// skips checkpoints nor fires extra ones.
const checkpointInterval = 10

// Session is what the issuer hands back for one playback attempt. It is
// never persisted and never shared between controller instances.
type Session struct {
	SignedURL       string
	WatermarkText   string
	WatermarkCourse string
	ExpiresAt       time.Time
}

// SessionAPI is the server boundary the controller talks to.
type SessionAPI interface {
	RequestSession(ctx context.Context, lectureID string) (*Session, error)
	SubmitCheckpoint(ctx context.Context, lectureID string, positionSeconds int) error
	RequestCompletion(ctx context.Context, lectureID string) error
}

// MediaEngine abstracts the adaptive-stream player attached to the signed
// reference.
type MediaEngine interface {
	Attach(url string) error
	Detach()
	Play() error
	Pause()
	Position() float64
	Duration() float64
}

// DenialError is an authorization refusal from the issuer. Code carries
// the machine-readable reason so the surface can render an actionable
// message instead of a raw protocol error.
type DenialError struct {
	Code    string
	Message string
}

func (e *DenialError) Error() string { return e.Message }

// Actionable reports whether the viewer can do something about the denial
// (request enrollment, wait for approval) as opposed to a generic failure.
func (e *DenialError) Actionable() bool {
	return e.Code == "not_enrolled" || e.Code == "enrollment_pending"
}

// Controller drives one lecture playback attempt. All methods are safe for
// concurrent use; the expected caller is a single event loop plus the
// controller's own background acknowledgement goroutines.
type Controller struct {
	api    SessionAPI
	engine MediaEngine

	lectureID string

	mu             sync.Mutex
	state          State
	session        *Session
	watermark      *Rotator
	hidden         bool
	lastCheckpoint int
	reissued       bool
	lastErr        error

	now    func() time.Time
	ctx    context.Context
	cancel context.CancelFunc
}

func NewController(api SessionAPI, engine MediaEngine, lectureID string) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		api:            api,
		engine:         engine,
		lectureID:      lectureID,
		state:          StateIdle,
		lastCheckpoint: -1,
		now:            time.Now,
		ctx:            ctx,
		cancel:         cancel,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that moved the controller to Errored, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Mount requests a session and attaches the media engine. Idle → Requesting
// → Ready on success; a denial or issuance failure lands in Errored with
// the reason preserved.
func (c *Controller) Mount(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return errors.New("controller already mounted")
	}
	c.state = StateRequesting
	c.mu.Unlock()

	session, err := c.api.RequestSession(ctx, c.lectureID)
	if err != nil {
		c.fail(err)
		return err
	}

	if err := c.engine.Attach(session.SignedURL); err != nil {
		c.fail(err)
		return err
	}

	c.mu.Lock()
	c.session = session
	c.watermark = NewRotator(session.WatermarkText, session.WatermarkCourse)
	c.state = StateReady
	c.mu.Unlock()
	return nil
}

// Play starts or resumes playback. Resuming is refused while the host
// surface is hidden; the forced pause is not user-overridable.
func (c *Controller) Play() error {
	c.mu.Lock()
	if c.state != StateReady && c.state != StatePaused {
		c.mu.Unlock()
		return errors.New("cannot play from state " + string(c.state))
	}
	if c.hidden {
		c.mu.Unlock()
		return errors.New("cannot resume while surface is hidden")
	}
	c.mu.Unlock()

	if err := c.engine.Play(); err != nil {
		c.fail(err)
		return err
	}

	c.mu.Lock()
	// The surface may have gone hidden while the engine was starting; the
	// forced pause in SetVisibility only catches state Playing, so re-check
	// before committing the transition.
	if c.hidden {
		c.state = StatePaused
		c.mu.Unlock()
		c.engine.Pause()
		return errors.New("cannot resume while surface is hidden")
	}
	c.state = StatePlaying
	c.mu.Unlock()
	return nil
}

// Pause is the viewer-initiated pause.
func (c *Controller) Pause() {
	c.mu.Lock()
	if c.state != StatePlaying {
		c.mu.Unlock()
		return
	}
	c.state = StatePaused
	c.mu.Unlock()
	c.engine.Pause()
}

// SetVisibility tells the controller whether the host surface is
// foregrounded. Losing visibility while playing forces a pause.
func (c *Controller) SetVisibility(visible bool) {
	c.mu.Lock()
	c.hidden = !visible
	forcePause := c.hidden && c.state == StatePlaying
	if forcePause {
		c.state = StatePaused
	}
	c.mu.Unlock()
	if forcePause {
		c.engine.Pause()
	}
}

// Tick advances the controller by one media-time observation. While
// playing it emits a checkpoint every ten seconds of media time, renews
// an expiring session, and detects the end of the lecture.
func (c *Controller) Tick() {
	c.mu.Lock()
	if c.state != StatePlaying {
		c.mu.Unlock()
		return
	}
	session := c.session
	c.mu.Unlock()

	if session != nil && !c.now().Before(session.ExpiresAt) {
		c.renewSession()
		if c.State() == StateErrored {
			return
		}
	}

	position := c.engine.Position()
	duration := c.engine.Duration()
	second := int(math.Floor(position))

	if second%checkpointInterval == 0 && second != c.checkpointMark() {
		c.submitCheckpoint(second)
	}

	if duration > 0 && position >= duration {
		c.finish(second)
	}
}

// WatermarkText returns the current overlay text, refreshed with the
// rotator's freshness token. Safe to call from the render timer at any
// state; before a session exists it returns the empty string.
func (c *Controller) WatermarkText() string {
	c.mu.Lock()
	rotator := c.watermark
	c.mu.Unlock()
	if rotator == nil {
		return ""
	}
	return rotator.Text(c.now())
}

// Close tears the controller down: timers and in-flight requests are
// cancelled, the engine is detached, and late checkpoint acknowledgements
// are dropped rather than applied to a dead controller.
func (c *Controller) Close() {
	c.mu.Lock()
	wasPlaying := c.state == StatePlaying
	c.mu.Unlock()

	if wasPlaying {
		// best-effort final checkpoint before teardown
		second := int(math.Floor(c.engine.Position()))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.api.SubmitCheckpoint(ctx, c.lectureID, second); err != nil {
			slog.Debug("player: final checkpoint failed", "lecture_id", c.lectureID, "error", err)
		}
		cancel()
	}

	c.cancel()
	c.engine.Detach()

	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
}

func (c *Controller) checkpointMark() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCheckpoint
}

// submitCheckpoint fires the write without blocking the playback loop. A
// failure is logged and the mark is left unset so the same cadence slot
// retries on the next tick; progress loss is bounded by the interval.
func (c *Controller) submitCheckpoint(second int) {
	c.mu.Lock()
	c.lastCheckpoint = second
	c.mu.Unlock()

	go func() {
		err := c.api.SubmitCheckpoint(c.ctx, c.lectureID, second)
		if err == nil || c.ctx.Err() != nil {
			return
		}
		slog.Debug("player: checkpoint failed, will retry next tick",
			"lecture_id", c.lectureID, "position", second, "error", err)
		c.mu.Lock()
		if c.lastCheckpoint == second {
			c.lastCheckpoint = -1
		}
		c.mu.Unlock()
	}()
}

// renewSession attempts one transparent re-issuance of an expired signed
// reference. A second expiry, or a failure to re-issue, surfaces as an
// error; the viewer should never see more than one silent recovery.
func (c *Controller) renewSession() {
	c.mu.Lock()
	if c.reissued {
		c.mu.Unlock()
		c.fail(errors.New("session expired after re-issuance"))
		return
	}
	c.reissued = true
	c.mu.Unlock()

	session, err := c.api.RequestSession(c.ctx, c.lectureID)
	if err != nil {
		c.fail(err)
		return
	}
	if err := c.engine.Attach(session.SignedURL); err != nil {
		c.fail(err)
		return
	}

	c.mu.Lock()
	c.session = session
	if c.watermark != nil {
		c.watermark.Update(session.WatermarkText, session.WatermarkCourse)
	}
	c.mu.Unlock()
}

// finish handles the playback position reaching the duration: one final
// checkpoint, the idempotent completion request, and the Ended state.
func (c *Controller) finish(second int) {
	c.mu.Lock()
	if c.state != StatePlaying {
		c.mu.Unlock()
		return
	}
	c.state = StateEnded
	c.mu.Unlock()
	c.engine.Pause()

	if err := c.api.SubmitCheckpoint(c.ctx, c.lectureID, second); err != nil {
		slog.Debug("player: final checkpoint failed", "lecture_id", c.lectureID, "error", err)
	}
	if err := c.api.RequestCompletion(c.ctx, c.lectureID); err != nil {
		slog.Warn("player: completion request failed", "lecture_id", c.lectureID, "error", err)
	}
}

func (c *Controller) fail(err error) {
	c.mu.Lock()
	c.state = StateErrored
	c.lastErr = err
	c.mu.Unlock()
}
