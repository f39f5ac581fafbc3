// Package tagger wraps the external MKVToolNix tools that mutate and
// inspect media files.
//
// The only call that mutates a file is mkvpropedit, invoked once per
// attempt with --add-track-statistics-tags. The invoker interprets just
// the process exit status plus captured output; it never re-verifies
// the mutation's content.
package tagger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/term"
)

// Outcome classifies one tagging attempt.
type Outcome string

const (
	// OutcomeSuccess indicates the tool exited zero and the file was
	// mutated in place.
	OutcomeSuccess Outcome = "success"

	// OutcomeRecoverable indicates a failure worth retrying on a later
	// poll, e.g. the file was temporarily locked.
	OutcomeRecoverable Outcome = "recoverable"

	// OutcomePermanent indicates the file is not a valid container for
	// the tool, or the tool itself is missing or misconfigured.
	OutcomePermanent Outcome = "permanent"
)

// Result describes one completed tagging attempt.
type Result struct {
	Outcome  Outcome
	Output   string // captured tool output, kept for diagnosis
	Duration time.Duration
}

// ErrToolNotFound is returned when mkvpropedit is not installed or not
// on PATH.
var ErrToolNotFound = errors.New("mkvpropedit not found in PATH")

// Invoker performs one synchronous tagging call per ready file.
//
// The watch loop depends on this interface so tests can substitute a
// fake without spawning processes.
type Invoker interface {
	Tag(path string) Result
}

// Prechecker inspects a file for existing statistics tags so already
// tagged files can be skipped without mutating them.
type Prechecker interface {
	HasStatistics(ctx context.Context, path string) (bool, error)
}

// Propedit is the real Invoker backed by the mkvpropedit and mkvinfo
// binaries.
type Propedit struct {
	logger *log.Logger

	// stdout to stream tool output to when interactive; defaults to
	// os.Stdout and is overridable for tests.
	stdout *os.File
}

// NewPropedit creates a Propedit invoker.
func NewPropedit(logger *log.Logger) *Propedit {
	if logger == nil {
		logger = log.Default()
	}
	return &Propedit{logger: logger, stdout: os.Stdout}
}

// CheckInstalled verifies that mkvpropedit is available. Called once at
// startup so a misconfigured host fails fast instead of failing every
// file.
func CheckInstalled() error {
	if _, err := exec.LookPath("mkvpropedit"); err != nil {
		return fmt.Errorf("%w: %v", ErrToolNotFound, err)
	}
	return nil
}

// Tag runs mkvpropedit --add-track-statistics-tags on path and
// classifies the outcome.
//
// The call deliberately does not take a cancellation context: killing
// mkvpropedit mid-write can leave the target file half-mutated, so an
// in-flight call is always allowed to complete and shutdown waits for
// it.
func (p *Propedit) Tag(path string) Result {
	start := time.Now()

	cmd := exec.Command("mkvpropedit", "--add-track-statistics-tags", path)

	var buf bytes.Buffer
	if term.IsTerminal(int(p.stdout.Fd())) {
		// Interactive runs stream the tool's progress through while
		// still capturing it for the state record.
		cmd.Stdout = io.MultiWriter(p.stdout, &buf)
	} else {
		cmd.Stdout = &buf
	}
	cmd.Stderr = &buf

	err := cmd.Run()
	res := Result{
		Output:   strings.TrimSpace(buf.String()),
		Duration: time.Since(start),
	}

	switch {
	case err == nil:
		res.Outcome = OutcomeSuccess
	case errors.Is(err, exec.ErrNotFound):
		res.Outcome = OutcomePermanent
		res.Output = joinOutput(res.Output, ErrToolNotFound.Error())
	default:
		res.Outcome = classifyExit(err)
		res.Output = joinOutput(res.Output, err.Error())
	}
	return res
}

// classifyExit maps a mkvpropedit exit error to an outcome. mkvpropedit
// exits 2 when it cannot open or parse the file at all, which no retry
// will fix; exit 1 (completed with warnings) and anything else is
// treated as transient.
func classifyExit(err error) Outcome {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 2 {
		return OutcomePermanent
	}
	return OutcomeRecoverable
}

func joinOutput(output, errText string) string {
	if output == "" {
		return errText
	}
	return output + "\n" + errText
}

// HasStatistics runs mkvinfo on path and reports whether the container
// already carries track statistics tags (a BPS tag entry). Used by the
// optional precheck to skip files tagged by an earlier run or another
// tool.
//
// mkvinfo is read-only, so unlike Tag this call honors ctx.
func (p *Propedit) HasStatistics(ctx context.Context, path string) (bool, error) {
	cmd := exec.CommandContext(ctx, "mkvinfo", path)

	output, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("mkvinfo %s failed: %w", path, err)
	}

	return bytes.Contains(output, []byte("BPS")), nil
}
