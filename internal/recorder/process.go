package recorder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	// confirmTimeout bounds how long arming waits for the recorder tool to
	// report that capture actually started.
	confirmTimeout = 30 * time.Second

	// tailLines is how much recorder output is kept for error reports.
	tailLines = 20
)

// recorderProcess supervises the external recorder tool. The tool issues the
// shutter commands over the camera's wired transport and prints a line-stream
// the controller watches for confirmation and error markers.
type recorderProcess struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc

	confirmed chan struct{}
	failed    chan string
	exited    chan error

	mu   sync.Mutex
	tail []string
}

// isConfirmLine reports whether a recorder output line confirms capture.
func isConfirmLine(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, "recording") || strings.Contains(lower, "capturing")
}

// isErrorLine reports whether a recorder output line is an error marker.
func isErrorLine(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, "error") || strings.Contains(lower, "failed") ||
		strings.Contains(lower, "traceback")
}

// startRecorder launches argv and begins scanning its combined output.
func startRecorder(ctx context.Context, argv []string) (*recorderProcess, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty recorder command")
	}

	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Cancel must not kill the process directly; Terminate escalates instead.
	cmd.Cancel = func() error { return nil }

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start recorder %q: %w", argv[0], err)
	}

	p := &recorderProcess{
		cmd:       cmd,
		cancel:    cancel,
		confirmed: make(chan struct{}),
		failed:    make(chan string, 1),
		exited:    make(chan error, 1),
	}

	go p.scan(stdout)
	go func() {
		p.exited <- cmd.Wait()
	}()

	return p, nil
}

func (p *recorderProcess) scan(r io.Reader) {
	scanner := bufio.NewScanner(r)
	confirmedOnce := false
	for scanner.Scan() {
		line := scanner.Text()
		p.appendTail(line)

		if !confirmedOnce && isConfirmLine(line) {
			confirmedOnce = true
			close(p.confirmed)
			continue
		}
		if isErrorLine(line) {
			select {
			case p.failed <- line:
			default:
			}
		}
	}
}

func (p *recorderProcess) appendTail(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tail = append(p.tail, line)
	if len(p.tail) > tailLines {
		p.tail = p.tail[len(p.tail)-tailLines:]
	}
}

// Tail returns the last captured output lines.
func (p *recorderProcess) Tail() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.tail, "\n")
}

// WaitConfirm blocks until the tool confirms capture, emits an error marker,
// exits early, or the timeout passes. A nil return means recording started.
func (p *recorderProcess) WaitConfirm(ctx context.Context) error {
	timer := time.NewTimer(confirmTimeout)
	defer timer.Stop()

	select {
	case <-p.confirmed:
		return nil
	case line := <-p.failed:
		return fmt.Errorf("recorder reported: %s", line)
	case err := <-p.exited:
		return fmt.Errorf("recorder exited before confirming (%v); output tail:\n%s", err, p.Tail())
	case <-timer.C:
		return fmt.Errorf("recorder did not confirm within %s; output tail:\n%s", confirmTimeout, p.Tail())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrorLine returns a mid-session error marker if one was seen, without
// blocking.
func (p *recorderProcess) ErrorLine() (string, bool) {
	select {
	case line := <-p.failed:
		return line, true
	default:
		return "", false
	}
}

// Exited returns the channel that receives the process exit.
func (p *recorderProcess) Exited() <-chan error {
	return p.exited
}

// Terminate stops the tool with a SIGTERM → wait(5s) → SIGKILL → wait(2s)
// escalation. Killing the process group catches children the tool spawned.
func (p *recorderProcess) Terminate() {
	defer p.cancel()

	pgid := -p.cmd.Process.Pid
	syscall.Kill(pgid, syscall.SIGTERM)

	select {
	case <-p.exited:
		return
	case <-time.After(5 * time.Second):
	}

	syscall.Kill(pgid, syscall.SIGKILL)
	select {
	case <-p.exited:
	case <-time.After(2 * time.Second):
		log.Warn("recorder did not exit after SIGKILL", "pid", p.cmd.Process.Pid)
	}
}
