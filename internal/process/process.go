package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Exit code reported when the process had to be killed.
const ExitCodeKilled = 137

// LogParser parses a log line and returns the log level and message.
// Used to extract structured log info from process output (ffmpeg, workers).
type LogParser func(line string) (level, msg string)

// Options configures a subprocess.
type Options struct {
	// ID names the process in logs.
	ID string
	// Command is a shell-like command line; quotes and backslash escapes are honoured.
	Command string
	// Logger receives lifecycle messages. Required.
	Logger *slog.Logger
	// OutputLogger receives stderr lines. Defaults to Logger.
	OutputLogger *slog.Logger
	// LogParser re-levels stderr lines. nil logs every line at info.
	LogParser LogParser
	// Stdin opens a pipe to the process's standard input.
	Stdin bool
	// GracefulTimeout bounds the wait after SIGINT. Default 5s.
	GracefulTimeout time.Duration
	// KillTimeout bounds the wait after SIGKILL. Default 5s.
	KillTimeout time.Duration
}

// Process is a running subprocess.
type Process struct {
	id      string
	cmd     *exec.Cmd
	logger  *slog.Logger
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	graceTO time.Duration
	killTO  time.Duration

	mu       sync.Mutex
	state    State
	exitCode int
	waitErr  error

	done     chan struct{}
	stopOnce sync.Once
}

// Start launches the command. Cancelling ctx stops the process the same way
// Stop does.
func Start(ctx context.Context, opts Options) (*Process, error) {
	args, err := parseCommand(opts.Command)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, errors.New("empty command")
	}

	p := &Process{
		id:      opts.ID,
		cmd:     exec.Command(args[0], args[1:]...),
		logger:  opts.Logger,
		graceTO: opts.GracefulTimeout,
		killTO:  opts.KillTimeout,
		state:   StateRunning,
		done:    make(chan struct{}),
	}
	if p.graceTO <= 0 {
		p.graceTO = 5 * time.Second
	}
	if p.killTO <= 0 {
		p.killTO = 5 * time.Second
	}
	p.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if opts.Stdin {
		if p.stdin, err = p.cmd.StdinPipe(); err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
	}
	// Own the stdout pipe so Wait does not close it under a slow reader.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	p.stdout = stdoutR
	p.cmd.Stdout = stdoutW
	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := p.cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("start %s: %w", args[0], err)
	}
	stdoutW.Close()
	p.logger.Info("Process started", "id", p.id, "pid", p.cmd.Process.Pid, "command", opts.Command)

	outputLogger := opts.OutputLogger
	if outputLogger == nil {
		outputLogger = p.logger
	}

	stderrDone := make(chan struct{})
	go func() {
		streamOutput(stderr, outputLogger, opts.LogParser)
		close(stderrDone)
	}()

	go func() {
		// Wait closes the pipes, so drain stderr first.
		<-stderrDone
		err := p.cmd.Wait()
		p.mu.Lock()
		p.state = StateExited
		p.waitErr = err
		p.exitCode = exitCodeFromError(err)
		p.mu.Unlock()
		close(p.done)
	}()

	go func() {
		select {
		case <-ctx.Done():
			p.Stop()
		case <-p.done:
		}
	}()

	return p, nil
}

// PID returns the process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Stdout returns the process's standard output.
func (p *Process) Stdout() io.Reader {
	return p.stdout
}

// Stdin returns the process's standard input, or nil unless Options.Stdin was set.
func (p *Process) Stdin() io.WriteCloser {
	return p.stdin
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// State returns the lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ExitCode returns the exit code. Only meaningful after Done is closed.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Err returns the error from Wait, if any. Only meaningful after Done is closed.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Stop sends SIGINT, waits up to the graceful timeout, then kills, and
// finally closes stdout. It is safe to call more than once and returns the
// exit code.
func (p *Process) Stop() int {
	p.stopOnce.Do(func() {
		defer p.stdout.Close()

		select {
		case <-p.done:
			return
		default:
		}

		p.mu.Lock()
		p.state = StateStopping
		p.mu.Unlock()

		if p.stdin != nil {
			p.stdin.Close()
		}
		p.logger.Debug("Sending SIGINT to process group", "id", p.id, "pid", p.cmd.Process.Pid)
		if err := p.signalGroup(syscall.SIGINT); err != nil {
			p.logger.Warn("Failed to send SIGINT", "id", p.id, "error", err)
		}
		p.waitForExit()
	})
	return p.ExitCode()
}

// waitForExit waits for the process to exit, force-killing after the graceful timeout.
func (p *Process) waitForExit() {
	select {
	case <-p.done:
		return
	case <-time.After(p.graceTO):
	}

	p.logger.Warn("Graceful shutdown timeout, forcing kill", "id", p.id, "timeout", p.graceTO)
	if err := p.signalGroup(syscall.SIGKILL); err != nil {
		p.logger.Error("Failed to kill process", "id", p.id, "error", err)
	}

	select {
	case <-p.done:
	case <-time.After(p.killTO):
		p.logger.Error("Process did not exit after kill signal", "id", p.id)
	}
	p.mu.Lock()
	p.exitCode = ExitCodeKilled
	p.mu.Unlock()
}

// signalGroup signals the whole process group so shell wrappers take their
// children with them. ESRCH means everything already exited.
func (p *Process) signalGroup(sig syscall.Signal) error {
	err := syscall.Kill(-p.cmd.Process.Pid, sig)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// exitCodeFromError extracts exit code from process error.
// Returns 0 for nil error, the exit code for ExitError (128+signal when
// signalled), or 1 for other errors.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return ExitCodeKilled
	}
	return 1
}

// streamOutput logs every line of r at the level the parser reports.
func streamOutput(r io.Reader, logger *slog.Logger, parser LogParser) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		level, msg := "info", line
		if parser != nil {
			level, msg = parser(line)
		}

		switch level {
		case "panic", "fatal", "error":
			logger.Error(msg)
		case "warning", "warn":
			logger.Warn(msg)
		case "verbose", "debug", "trace":
			logger.Debug(msg)
		case "quiet":
		default:
			logger.Info(msg)
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		logger.Warn("Error reading process output", "error", err)
	}
}

// parseCommand parses a command string into arguments.
// Handles quoted strings and basic escaping.
func parseCommand(command string) ([]string, error) {
	var args []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)
	hasArg := false

	runes := []rune(strings.TrimSpace(command))

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' || r == '\'':
			switch {
			case !inQuote:
				inQuote = true
				quoteChar = r
				hasArg = true
			case r == quoteChar:
				inQuote = false
				quoteChar = 0
			default:
				current.WriteRune(r)
			}
		case (r == ' ' || r == '\t' || r == '\n') && !inQuote:
			if hasArg {
				args = append(args, current.String())
				current.Reset()
				hasArg = false
			}
		case r == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
			hasArg = true
		default:
			current.WriteRune(r)
			hasArg = true
		}
	}

	if inQuote {
		return nil, errors.New("unclosed quote in command")
	}
	if hasArg {
		args = append(args, current.String())
	}

	return args, nil
}

// Output runs a short-lived command and returns its combined stdout and
// stderr. A non-zero exit is reported alongside the output, since tools like
// "ffmpeg -list_formats" exit with an error after printing what was asked.
func Output(ctx context.Context, command string) (string, error) {
	args, err := parseCommand(command)
	if err != nil {
		return "", err
	}
	if len(args) == 0 {
		return "", errors.New("empty command")
	}
	out, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput()
	return string(out), err
}
