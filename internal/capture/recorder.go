package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-noisemeter/internal/audio"
	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
	"github.com/oszuidwest/zwfm-noisemeter/internal/util"
)

// chunkSize holds about 100ms of mono audio.
const chunkSize = audio.BytesPerSecond / 10

// Sentinel errors for recorder operations.
var (
	ErrAlreadyRunning = errors.New("capture already running")
	ErrProcessExited  = errors.New("capture process exited")
)

// ExitFunc is called once when the capture process ends without Stop.
type ExitFunc func(err error)

// Recorder runs the platform capture command and copies its PCM output to
// a set of writers.
type Recorder struct {
	input      string
	ffmpegPath string
	onExit     ExitFunc

	mu       sync.Mutex
	writers  []io.Writer
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	done     chan struct{}
	stopping bool
}

// NewRecorder creates a recorder for the given input device. The writers
// receive every PCM chunk in order.
func NewRecorder(input, ffmpegPath string, onExit ExitFunc, writers ...io.Writer) *Recorder {
	return &Recorder{
		input:      input,
		ffmpegPath: ffmpegPath,
		onExit:     onExit,
		writers:    writers,
	}
}

// Start launches the capture process.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd != nil {
		return ErrAlreadyRunning
	}

	cmdName, args, err := audio.BuildCaptureCommand(r.input, r.ffmpegPath)
	if err != nil {
		return err
	}

	slog.Info("starting audio capture", "command", cmdName, "input", r.input)

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, cmdName, args...)
	cmd.Cancel = func() error {
		return util.GracefulSignal(cmd.Process)
	}
	cmd.WaitDelay = types.ShutdownTimeout

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return util.WrapError("open capture output", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return util.WrapError("start capture", err)
	}

	r.cmd = cmd
	r.cancel = cancel
	r.stopping = false
	r.done = make(chan struct{})

	go r.wait(cmd, stdout, stderr, r.done)
	return nil
}

// wait pumps stdout until EOF and then reaps the process.
func (r *Recorder) wait(cmd *exec.Cmd, stdout io.Reader, stderr *bytes.Buffer, done chan struct{}) {
	defer close(done)

	readErr := r.consume(stdout)
	waitErr := cmd.Wait()

	r.mu.Lock()
	stopping := r.stopping
	r.cmd = nil
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.mu.Unlock()

	if stopping {
		slog.Info("audio capture stopped")
		return
	}

	err := exitError(waitErr, readErr, util.ExtractLastError(stderr.String()))
	slog.Error("audio capture ended unexpectedly", "error", err)
	if r.onExit != nil {
		r.onExit(err)
	}
}

// exitError builds the error reported for an unexpected process exit.
func exitError(waitErr, readErr error, stderrLine string) error {
	switch {
	case stderrLine != "":
		return fmt.Errorf("%w: %s", ErrProcessExited, stderrLine)
	case waitErr != nil:
		return fmt.Errorf("%w: %w", ErrProcessExited, waitErr)
	case readErr != nil:
		return fmt.Errorf("%w: %w", ErrProcessExited, readErr)
	default:
		return ErrProcessExited
	}
}

// consume copies PCM from rd to every writer until EOF. A writer that fails
// is dropped for the rest of the run.
func (r *Recorder) consume(rd io.Reader) error {
	buf := make([]byte, chunkSize)
	for {
		n, err := rd.Read(buf)
		if n > 0 {
			r.distribute(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (r *Recorder) distribute(chunk []byte) {
	r.mu.Lock()
	writers := r.writers
	r.mu.Unlock()

	var failed []io.Writer
	for _, w := range writers {
		if _, err := w.Write(chunk); err != nil {
			slog.Warn("dropping audio writer", "writer", fmt.Sprintf("%T", w), "error", err)
			failed = append(failed, w)
		}
	}
	if len(failed) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	kept := make([]io.Writer, 0, len(r.writers))
	for _, w := range r.writers {
		drop := false
		for _, f := range failed {
			if w == f {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, w)
		}
	}
	r.writers = kept
}

// Running reports whether the capture process is alive.
func (r *Recorder) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cmd != nil
}

// Stop terminates the capture process and waits for it to exit.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if r.cmd == nil {
		r.mu.Unlock()
		return nil
	}
	r.stopping = true
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	select {
	case <-done:
		return nil
	case <-time.After(2 * types.ShutdownTimeout):
		return fmt.Errorf("capture shutdown timeout")
	}
}
