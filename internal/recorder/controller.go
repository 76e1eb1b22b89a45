// Package recorder owns the per-camera recording state machine:
//
//	Idle → Arming → Recording → Draining → Idle
//
// Arming snapshots the camera's file set and spawns the supervised recorder
// tool; Draining stops the shutter and identifies the new chapters by
// pre/post diff.
package recorder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/uball/court-agent/internal/camera"
	"github.com/uball/court-agent/internal/faults"
	"github.com/uball/court-agent/internal/logging"
)

var log = logging.L("recorder")

// State is a session's lifecycle position.
type State string

const (
	StateIdle      State = "idle"
	StateArming    State = "arming"
	StateRecording State = "recording"
	StateDraining  State = "draining"
	StateError     State = "error"
)

// settleDelay lets the camera finalise its filesystem between shutter stop
// and the post-record listing.
const settleDelay = 3 * time.Second

// Session is one angle's recording over one press-to-stop interval.
type Session struct {
	DeviceID       string    `json:"deviceId"`
	Interface      string    `json:"interface"`
	Angle          string    `json:"angle"`
	SegmentSession string    `json:"segmentSession"`
	StartedAt      time.Time `json:"startedAt"`
	State          State     `json:"state"`
	ArmError       string    `json:"armError,omitempty"`
	MonitorErrors  []string  `json:"monitorErrors,omitempty"`

	pre    map[string]bool
	proc   *recorderProcess
	client *camera.Client
}

// Result is what Draining hands to the pipeline.
type Result struct {
	Session  *Session
	EndedAt  time.Time
	Chapters []camera.ChapterRef
}

// Controller runs the state machine for every camera on the device.
type Controller struct {
	adapter     *camera.Adapter
	recorderCmd func(cameraAddr string) []string

	mu       sync.Mutex
	sessions map[string]*Session // keyed by interface
}

// NewController creates a Controller. recorderCmd builds the argv of the
// external recorder tool for a camera address.
func NewController(adapter *camera.Adapter, recorderCmd func(cameraAddr string) []string) *Controller {
	return &Controller{
		adapter:     adapter,
		recorderCmd: recorderCmd,
		sessions:    make(map[string]*Session),
	}
}

// Start arms the camera behind ifaceName and begins recording.
func (c *Controller) Start(ctx context.Context, deviceID, ifaceName string) (*Session, error) {
	c.mu.Lock()
	if existing, ok := c.sessions[ifaceName]; ok && existing.State != StateIdle && existing.State != StateError {
		c.mu.Unlock()
		return nil, fmt.Errorf("interface %s already has a session in state %s", ifaceName, existing.State)
	}
	c.mu.Unlock()

	client, err := c.adapter.ClientFor(ctx, ifaceName)
	if err != nil {
		return nil, err
	}

	state, err := client.GetState(ctx)
	if err != nil {
		return nil, err
	}

	angle := c.adapter.ResolveAngle(state.SSID)
	now := time.Now().UTC()

	sess := &Session{
		DeviceID:       deviceID,
		Interface:      ifaceName,
		Angle:          angle,
		SegmentSession: segmentSessionID(ifaceName, angle, now),
		StartedAt:      now,
		State:          StateArming,
		client:         client,
	}

	c.mu.Lock()
	c.sessions[ifaceName] = sess
	c.mu.Unlock()

	// The session is published, so every field mutation happens under the
	// controller lock from here on.
	if err := c.arm(ctx, sess); err != nil {
		c.mu.Lock()
		sess.State = StateIdle
		sess.ArmError = err.Error()
		c.mu.Unlock()
		return sess, faults.New(faults.CameraControl, err)
	}

	c.mu.Lock()
	sess.State = StateRecording
	c.mu.Unlock()
	go c.monitor(sess)

	log.Info("recording started",
		"interface", ifaceName,
		"angle", angle,
		"segmentSession", sess.SegmentSession,
	)
	return sess, nil
}

// arm prepares the camera and spawns the recorder tool, waiting for its
// capture confirmation.
func (c *Controller) arm(ctx context.Context, sess *Session) error {
	if err := sess.client.EnableWiredControl(ctx); err != nil {
		return fmt.Errorf("enable usb control: %w", err)
	}
	if err := sess.client.SetVideoPreset(ctx); err != nil {
		return fmt.Errorf("set video preset: %w", err)
	}

	// The pre-record snapshot is the evidence used after stop to identify
	// the chapters this session produced.
	listing, err := sess.client.ListMedia(ctx)
	if err != nil {
		return fmt.Errorf("pre-record media list: %w", err)
	}
	sess.pre = fileSet(listing)

	proc, err := startRecorder(context.Background(), c.recorderCmd(sess.client.Addr()))
	if err != nil {
		return err
	}
	sess.proc = proc

	if err := proc.WaitConfirm(ctx); err != nil {
		proc.Terminate()
		return fmt.Errorf("arm failed: %w", err)
	}
	return nil
}

// monitor watches the recorder tool while the session records. An error
// marker is stored on the session but recording continues until stop; an
// early process exit flips the session to StateError (the camera is lost).
func (c *Controller) monitor(sess *Session) {
	for {
		select {
		case err := <-sess.proc.Exited():
			c.mu.Lock()
			if sess.State == StateRecording {
				sess.State = StateError
				sess.MonitorErrors = append(sess.MonitorErrors,
					fmt.Sprintf("recorder exited mid-session: %v", err))
				log.Error("camera lost mid-recording",
					"interface", sess.Interface,
					"error", err,
				)
			}
			c.mu.Unlock()
			return
		case <-time.After(time.Second):
			if line, ok := sess.proc.ErrorLine(); ok {
				c.mu.Lock()
				sess.MonitorErrors = append(sess.MonitorErrors, line)
				c.mu.Unlock()
				log.Warn("recorder error mid-session",
					"interface", sess.Interface,
					"line", line,
				)
			}
			c.mu.Lock()
			done := sess.State != StateRecording
			c.mu.Unlock()
			if done {
				return
			}
		}
	}
}

// Stop drains the session: terminate the tool, stop the shutter, wait for the
// camera to settle, and diff the file sets. A stop during Arming cancels the
// tool and leaves the session Idle with armError populated.
func (c *Controller) Stop(ctx context.Context, ifaceName string) (*Result, error) {
	c.mu.Lock()
	sess, ok := c.sessions[ifaceName]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no session for interface %s", ifaceName)
	}

	c.mu.Lock()
	switch sess.State {
	case StateArming:
		sess.State = StateIdle
		sess.ArmError = "stopped by operator before confirmation"
		c.mu.Unlock()
		if sess.proc != nil {
			sess.proc.Terminate()
		}
		return nil, fmt.Errorf("session cancelled during arming")
	case StateRecording, StateError:
		sess.State = StateDraining
	default:
		state := sess.State
		c.mu.Unlock()
		return nil, fmt.Errorf("session on %s is %s, not recording", ifaceName, state)
	}
	c.mu.Unlock()

	if sess.proc != nil {
		sess.proc.Terminate()
	}

	if err := sess.client.StopShutter(ctx); err != nil {
		log.Warn("shutter stop failed, continuing drain", "interface", ifaceName, "error", err)
	}

	select {
	case <-time.After(settleDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	post, err := sess.client.ListMedia(ctx)
	if err != nil {
		c.mu.Lock()
		sess.State = StateError
		c.mu.Unlock()
		return nil, faults.New(faults.CameraControl, fmt.Errorf("post-record media list: %w", err))
	}

	refs, trimmed := newChapters(sess.pre, post)
	if trimmed {
		log.Warn("pre/post diff implausibly large, trimmed",
			"interface", ifaceName,
			"kept", len(refs),
		)
	}

	endedAt := time.Now().UTC()
	c.mu.Lock()
	sess.State = StateIdle
	delete(c.sessions, ifaceName)
	c.mu.Unlock()

	log.Info("recording stopped",
		"interface", ifaceName,
		"segmentSession", sess.SegmentSession,
		"chapters", len(refs),
	)
	return &Result{Session: sess, EndedAt: endedAt, Chapters: refs}, nil
}

// Status returns a copy of the session on an interface, if any.
func (c *Controller) Status(ifaceName string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sess, ok := c.sessions[ifaceName]; ok {
		return *sess, true
	}
	return Session{}, false
}

// Active lists the interfaces with a live session.
func (c *Controller) Active() []Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Session, 0, len(c.sessions))
	for _, sess := range c.sessions {
		out = append(out, *sess)
	}
	return out
}

// segmentSessionID builds the dense session identifier. The angle is folded
// in when known: {interface}_{angle}_{YYYYMMDD}_{HHMMSS}.
func segmentSessionID(ifaceName, angle string, t time.Time) string {
	stamp := t.Format("20060102_150405")
	if camera.ValidAngle(angle) {
		return fmt.Sprintf("%s_%s_%s", ifaceName, angle, stamp)
	}
	return fmt.Sprintf("%s_%s", ifaceName, stamp)
}
