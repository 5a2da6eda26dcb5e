package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/swupdate-agent/internal/logging"
)

var log = logging.L("engine")

// maxLineSize bounds a single status line read from the installer.
const maxLineSize = 64 * 1024

// Command runs an installer process that reads the artifact on stdin.
// Each line the process writes is forwarded as a status report, stdout as
// CodeProgress and stderr as CodeError. Exit status 0 is success.
//
// The request is passed in the environment as SWUPDATE_DRY_RUN,
// SWUPDATE_SOFTWARE_SET, SWUPDATE_RUNNING_MODE and SWUPDATE_INFO.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

// NewCommand parses a command line such as "swupdate -v -i -".
// Arguments are split on whitespace; quoting is not supported.
func NewCommand(cmdline string) (*Command, error) {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return nil, errors.New("engine command is empty")
	}
	return &Command{Path: fields[0], Args: fields[1:]}, nil
}

// Start implements Engine.
func (c *Command) Start(ctx context.Context, req Request, feed Feed) error {
	logger := logging.FromContext(ctx)

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	// A killed installer closes its end of stdin, which unblocks pump.
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.Dir = c.Dir
	cmd.Env = append(append(os.Environ(), c.Env...),
		"SWUPDATE_DRY_RUN="+strconv.FormatBool(req.DryRun),
		"SWUPDATE_SOFTWARE_SET="+req.SoftwareSet,
		"SWUPDATE_RUNNING_MODE="+req.RunningMode,
		"SWUPDATE_INFO="+req.Info,
	)
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &StartError{Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &StartError{Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &StartError{Err: err}
	}
	if err := cmd.Start(); err != nil {
		return &StartError{Err: fmt.Errorf("start %s: %w", c.Path, err)}
	}
	logger.Info("installer started", "path", c.Path, "pid", cmd.Process.Pid, "dryRun", req.DryRun)

	var aborted atomic.Bool
	go c.pump(cmd, stdin, feed, &aborted)

	var output sync.WaitGroup
	output.Add(2)
	go forwardLines(stdout, CodeProgress, feed, &output)
	go forwardLines(stderr, CodeError, feed, &output)

	go func() {
		// Pipes must be drained before Wait closes them.
		output.Wait()
		err := cmd.Wait()

		status := StatusSuccess
		switch {
		case aborted.Load(), ctx.Err() != nil:
			status = StatusFailure
			logger.Warn("installer stopped after transfer abort")
		case err != nil:
			status = StatusFailure
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				logger.Warn("installer failed", "exitCode", exitErr.ExitCode())
			} else {
				logger.Error("installer wait failed", "error", err)
			}
		default:
			logger.Info("installer finished")
		}
		feed.OnCompletion(status)
	}()
	return nil
}

// pump copies pulled chunks to the installer's stdin until end of stream.
// An aborted transfer kills the installer so it cannot finish on a partial
// image.
func (c *Command) pump(cmd *exec.Cmd, stdin io.WriteCloser, feed Feed, aborted *atomic.Bool) {
	defer stdin.Close()
	for {
		chunk, err := feed.Pull()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			aborted.Store(true)
			if killErr := killProcessGroup(cmd); killErr != nil {
				log.Warn("failed to kill installer", "error", killErr)
			}
			return
		}
		if _, err := stdin.Write(chunk); err != nil {
			log.Debug("installer stopped reading", "error", err)
			return
		}
	}
}

func forwardLines(r io.Reader, code int, feed Feed, wg *sync.WaitGroup) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineSize)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			feed.ReportStatus(code, line)
		}
	}
	// Keep draining so the process never blocks on a full pipe.
	io.Copy(io.Discard, r)
}
