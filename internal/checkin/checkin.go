// Package checkin drives a camera-backed attendance reader: it samples frames
// until a token payload is decoded, confirms it once, shows the result and
// goes back to scanning. When the camera cannot be opened the reader falls
// back to manual entry.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/event-attendance/internal/model"
)

// DefaultScanInterval is how often a frame is sampled while scanning.
const DefaultScanInterval = 250 * time.Millisecond

// ErrClosed is returned by Open when the reader was closed before the camera came up.
var ErrClosed = errors.New("checkin: reader closed")

// State is a reader state.
type State string

const (
	StateIdle         State = "idle"
	StateOpening      State = "opening"
	StateNoPermission State = "no_permission"
	StateScanning     State = "scanning"
	StateProcessing   State = "processing"
	StateConfirmed    State = "confirmed"
	StateRejected     State = "rejected"
)

// Frame is one captured image.
type Frame struct {
	Data   []byte
	Width  int
	Height int
}

// Camera grants access to a capture stream.
type Camera interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream yields frames until closed.
type Stream interface {
	NextFrame(ctx context.Context) (Frame, error)
	Close() error
}

// Decoder extracts a payload from a frame, if one is visible.
type Decoder interface {
	Decode(frame Frame) (string, bool)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(frame Frame) (string, bool)

// Decode calls f(frame).
func (f DecoderFunc) Decode(frame Frame) (string, bool) { return f(frame) }

// Confirmer validates a payload and marks attendance.
type Confirmer interface {
	ConfirmAttendance(ctx context.Context, eventID, userID, payload string) (model.CheckInResult, error)
}

// Config binds a reader to one user at one event.
type Config struct {
	EventID      string
	UserID       string
	ScanInterval time.Duration
}

// Status is a snapshot of the reader.
type Status struct {
	State State
	// Manual is true once the camera is unavailable and only typed entry is accepted.
	Manual bool
	// Result is set in StateConfirmed.
	Result model.CheckInResult
	// Err is the rejection reason in StateRejected, or the camera failure in StateNoPermission.
	Err error
}

// Option configures a Reader.
type Option func(*Reader)

// WithResultTimeout returns to scanning this long after a result is shown.
// Zero keeps the result until Retry or Close.
func WithResultTimeout(d time.Duration) Option {
	return func(r *Reader) {
		if d > 0 {
			r.resultTimeout = d
		}
	}
}

// WithObserver is called with every state change, in order and one call at a
// time. A change committed while the callback runs is delivered after it
// returns. The callback may call Status but must not call Open, ManualEntry,
// Retry or Close.
func WithObserver(fn func(Status)) Option {
	return func(r *Reader) {
		r.observer = fn
	}
}

// Reader is the check-in state machine for one client.
type Reader struct {
	cfg       Config
	camera    Camera
	decoder   Decoder
	confirmer Confirmer

	resultTimeout time.Duration
	observer      func(Status)

	mu     sync.Mutex
	status Status
	// pending holds committed statuses not yet delivered; notifying is true
	// while some goroutine is delivering them.
	pending   []Status
	notifying bool
	// gen changes on every Open and Close; work started under an older gen is discarded.
	gen uint64
	// seq changes on every shown result so stale timers do nothing.
	seq        uint64
	stopScan   context.CancelFunc
	scanDone   chan error
	resultTick *time.Timer
}

// New builds an idle reader.
func New(cfg Config, camera Camera, decoder Decoder, confirmer Confirmer, opts ...Option) *Reader {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	r := &Reader{
		cfg:       cfg,
		camera:    camera,
		decoder:   decoder,
		confirmer: confirmer,
		status:    Status{State: StateIdle},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Status returns the current snapshot.
func (r *Reader) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// commit stores next and queues it for the observer. It must be called with
// r.mu held and returns with r.mu released. The first committer delivers the
// queue in order with r.mu released; later committers only enqueue.
func (r *Reader) commit(next Status) {
	r.status = next
	if r.observer == nil {
		r.mu.Unlock()
		return
	}
	r.pending = append(r.pending, next)
	if r.notifying {
		r.mu.Unlock()
		return
	}
	r.notifying = true
	for len(r.pending) > 0 {
		batch := r.pending
		r.pending = nil
		r.mu.Unlock()
		for _, st := range batch {
			r.observer(st)
		}
		r.mu.Lock()
	}
	r.notifying = false
	r.mu.Unlock()
}

// Open requests the camera and starts scanning. If the camera is refused the
// reader moves to StateNoPermission and the returned error wraps
// model.ErrResourceUnavailable; ManualEntry keeps working in that state.
func (r *Reader) Open(ctx context.Context) error {
	r.mu.Lock()
	if r.status.State != StateIdle {
		state := r.status.State
		r.mu.Unlock()
		return fmt.Errorf("open reader in %s: %w", state, model.ErrInvalidTransition)
	}
	r.gen++
	gen := r.gen
	r.commit(Status{State: StateOpening})

	stream, err := r.camera.Open(ctx)

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		if stream != nil {
			_ = stream.Close()
		}
		return ErrClosed
	}
	if err != nil {
		cause := fmt.Errorf("%w: %v", model.ErrResourceUnavailable, err)
		r.commit(Status{State: StateNoPermission, Manual: true, Err: cause})
		return cause
	}

	scanCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan error, 1)
	r.stopScan = stop
	r.scanDone = done
	go r.scan(scanCtx, gen, stream, done)
	r.commit(Status{State: StateScanning})
	return nil
}

// scan owns stream for its whole life; the stream is closed on every exit path.
func (r *Reader) scan(ctx context.Context, gen uint64, stream Stream, done chan<- error) {
	defer func() {
		done <- stream.Close()
	}()

	ticker := time.NewTicker(r.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !r.sampling(gen) {
			continue
		}

		frame, err := stream.NextFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.lost(gen, err)
			return
		}
		payload, ok := r.decoder.Decode(frame)
		if !ok {
			continue
		}
		if r.begin(gen, false) {
			go r.process(ctx, gen, payload)
		}
	}
}

func (r *Reader) sampling(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return gen == r.gen && r.status.State == StateScanning
}

// lost handles a stream that stopped delivering frames.
func (r *Reader) lost(gen uint64, err error) {
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	if r.stopScan != nil {
		r.stopScan()
		r.stopScan = nil
	}
	cause := fmt.Errorf("%w: %v", model.ErrResourceUnavailable, err)
	if r.status.State != StateScanning {
		// A result is on screen; keep it but fall back to manual entry afterwards.
		next := r.status
		next.Manual = true
		r.commit(next)
		return
	}
	r.commit(Status{State: StateNoPermission, Manual: true, Err: cause})
}

// begin moves to Processing unless something is already being processed.
func (r *Reader) begin(gen uint64, manual bool) bool {
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return false
	}
	switch r.status.State {
	case StateScanning:
	case StateNoPermission:
		if !manual {
			r.mu.Unlock()
			return false
		}
	default:
		r.mu.Unlock()
		return false
	}
	r.commit(Status{State: StateProcessing, Manual: r.status.Manual})
	return true
}

// process confirms payload. The confirmation is never cancelled midway; if the
// reader was closed meanwhile the result is dropped.
func (r *Reader) process(ctx context.Context, gen uint64, payload string) (model.CheckInResult, error) {
	res, err := r.confirmer.ConfirmAttendance(context.WithoutCancel(ctx), r.cfg.EventID, r.cfg.UserID, payload)

	r.mu.Lock()
	if gen != r.gen || r.status.State != StateProcessing {
		r.mu.Unlock()
		return res, err
	}
	next := Status{State: StateConfirmed, Manual: r.status.Manual, Result: res}
	if err != nil {
		next = Status{State: StateRejected, Manual: r.status.Manual, Err: err}
	}
	r.seq++
	r.armResultTimer(gen, r.seq)
	r.commit(next)
	return res, err
}

func (r *Reader) armResultTimer(gen, seq uint64) {
	if r.resultTick != nil {
		r.resultTick.Stop()
		r.resultTick = nil
	}
	if r.resultTimeout <= 0 {
		return
	}
	r.resultTick = time.AfterFunc(r.resultTimeout, func() {
		r.mu.Lock()
		if gen != r.gen || seq != r.seq {
			r.mu.Unlock()
			return
		}
		r.resume()
	})
}

// ManualEntry confirms operator-typed text. It is accepted while scanning and
// while the camera is unavailable, and blocks until the confirmation returns.
func (r *Reader) ManualEntry(ctx context.Context, text string) (model.CheckInResult, error) {
	r.mu.Lock()
	gen := r.gen
	r.mu.Unlock()

	if !r.begin(gen, true) {
		return model.CheckInResult{}, fmt.Errorf("manual entry in %s: %w", r.Status().State, model.ErrInvalidTransition)
	}
	return r.process(ctx, gen, text)
}

// Retry leaves a shown result and goes back to scanning, or to manual entry
// when the camera is unavailable.
func (r *Reader) Retry() error {
	r.mu.Lock()
	switch r.status.State {
	case StateConfirmed, StateRejected:
	default:
		state := r.status.State
		r.mu.Unlock()
		return fmt.Errorf("retry in %s: %w", state, model.ErrInvalidTransition)
	}
	r.seq++
	if r.resultTick != nil {
		r.resultTick.Stop()
		r.resultTick = nil
	}
	r.resume()
	return nil
}

// resume must be called with r.mu held; it returns with r.mu released.
func (r *Reader) resume() {
	r.resultTick = nil
	if r.status.Manual || r.stopScan == nil {
		r.commit(Status{State: StateNoPermission, Manual: true, Err: model.ErrResourceUnavailable})
		return
	}
	r.commit(Status{State: StateScanning})
}

// Close stops scanning, releases the camera and returns to Idle. It waits for
// the scan loop to exit and returns the stream's close error, if any. Closing
// an idle reader is a no-op.
func (r *Reader) Close() error {
	r.mu.Lock()
	if r.status.State == StateIdle && r.scanDone == nil {
		r.mu.Unlock()
		return nil
	}
	r.gen++
	r.seq++
	stop, done := r.stopScan, r.scanDone
	r.stopScan, r.scanDone = nil, nil
	if r.resultTick != nil {
		r.resultTick.Stop()
		r.resultTick = nil
	}
	r.commit(Status{State: StateIdle})

	if stop != nil {
		stop()
	}
	if done != nil {
		return <-done
	}
	return nil
}
