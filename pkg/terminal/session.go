package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// chunkSize bounds a single read in either direction. One chunk is the
// most either endpoint can delay the other, since the relay loop runs
// each readiness event to completion before waiting again.
const chunkSize = 4096

// ExitReason describes why a session ended. It is only meaningful for
// graceful endings; when Run returns a non-nil error the reason is
// ReasonError and the error carries the cause.
type ExitReason int

const (
	// ReasonError marks an unrecoverable I/O failure on either endpoint.
	ReasonError ExitReason = iota

	// ReasonLocalEOF means terminal input reached end of file.
	ReasonLocalEOF

	// ReasonRemoteClosed means the console server closed the connection.
	ReasonRemoteClosed

	// ReasonDetached means the user typed the escape sequence.
	ReasonDetached
)

func (r ExitReason) String() string {
	switch r {
	case ReasonLocalEOF:
		return "local EOF"
	case ReasonRemoteClosed:
		return "connection closed"
	case ReasonDetached:
		return "detached"
	default:
		return "error"
	}
}

// Session relays bytes between the local terminal and a console server
// socket. Outbound bytes pass through an EscapeScanner so the detach
// sequence ends the session without reaching the server; inbound bytes
// are written to the terminal verbatim.
//
// A session is single-use: create it after the socket is connected, run
// it once, and let the caller release the connection when Run returns.
type Session struct {
	// conn is the connected console server socket.
	conn io.ReadWriter

	// input and output are the local terminal endpoints, os.Stdin and
	// os.Stdout unless replaced for testing.
	input  io.Reader
	output io.Writer

	// interactive records whether input is a terminal. Set once at
	// construction; decides whether Start switches to raw mode.
	interactive bool

	// inputFd is the descriptor used for raw mode changes.
	inputFd int

	// oldState holds the pre-raw terminal state for restoration.
	oldState *term.State

	scanner *EscapeScanner

	// done stops the reader pumps once the relay loop returns.
	done chan struct{}
}

// NewSession prepares a relay session between the invoking terminal and
// conn. The escape sequence selects the detach pattern; nil selects
// DefaultEscape ("~." after Enter).
func NewSession(conn io.ReadWriter, escape []byte) *Session {
	return &Session{
		conn:        conn,
		input:       os.Stdin,
		output:      os.Stdout,
		interactive: isatty.IsTerminal(os.Stdin.Fd()),
		inputFd:     int(os.Stdin.Fd()),
		scanner:     NewEscapeScanner(escape),
		done:        make(chan struct{}),
	}
}

// Interactive reports whether the session's input is a terminal.
func (s *Session) Interactive() bool {
	return s.interactive
}

// Start runs the session, switching the terminal into raw mode first
// when input is a TTY. The saved terminal state is restored on every
// exit path, including errors, before Start returns.
func (s *Session) Start(ctx context.Context) (ExitReason, error) {
	if s.interactive {
		state, err := term.MakeRaw(s.inputFd)
		if err != nil {
			return ReasonError, fmt.Errorf("set terminal raw mode: %w", err)
		}
		s.oldState = state
		defer s.restore()
	}
	return s.Run(ctx)
}

// restore puts the terminal back into its pre-session state. Safe to
// call when no state was saved.
func (s *Session) restore() {
	if s.oldState != nil {
		_ = term.Restore(s.inputFd, s.oldState)
		s.oldState = nil
	}
}

// readResult is one chunk delivered by a reader pump. data may be
// non-empty even when err is set; the loop processes the bytes first.
type readResult struct {
	data []byte
	err  error
}

// readPump reads chunks from r until an error or until the session is
// done. Each chunk gets its own buffer so the relay loop may hold the
// bytes while the pump blocks in the next read.
func readPump(r io.Reader, ch chan<- readResult, done <-chan struct{}) {
	for {
		buf := make([]byte, chunkSize)
		n, err := r.Read(buf)
		select {
		case ch <- readResult{data: buf[:n], err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

// Run drives the relay loop until the session ends. All scanner state is
// mutated from this single goroutine; the pumps only move bytes.
//
// Terminal input is serviced first whenever both directions are ready,
// and a termination decided there skips the console side entirely: a
// detach should not be delayed by output for a session about to end.
//
// Any I/O failure is fatal to the session. There is no retry and no
// partial recovery; the caller's job on return is teardown, not
// reconnection.
func (s *Session) Run(ctx context.Context) (ExitReason, error) {
	defer close(s.done)

	local := make(chan readResult)
	remote := make(chan readResult)
	go readPump(s.input, local, s.done)
	go readPump(s.conn, remote, s.done)

	for {
		select {
		case res := <-local:
			if reason, stop, err := s.processInput(res); stop {
				return reason, err
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return ReasonError, ctx.Err()
		case res := <-local:
			if reason, stop, err := s.processInput(res); stop {
				return reason, err
			}
		case res := <-remote:
			if reason, stop, err := s.processOutput(res); stop {
				return reason, err
			}
		}
	}
}

// processInput feeds one terminal chunk through the escape scanner and
// forwards the confirmed bytes to the console server.
func (s *Session) processInput(res readResult) (ExitReason, bool, error) {
	if len(res.data) > 0 {
		flush, n, detached := s.scanner.Scan(res.data)
		if len(flush) > 0 {
			if _, err := s.conn.Write(flush); err != nil {
				return ReasonError, true, fmt.Errorf("write to console server: %w", err)
			}
		}
		if n > 0 {
			if _, err := s.conn.Write(res.data[:n]); err != nil {
				return ReasonError, true, fmt.Errorf("write to console server: %w", err)
			}
		}
		if detached {
			return ReasonDetached, true, nil
		}
	}
	if res.err != nil {
		if errors.Is(res.err, io.EOF) {
			return ReasonLocalEOF, true, nil
		}
		return ReasonError, true, fmt.Errorf("read terminal input: %w", res.err)
	}
	return ReasonError, false, nil
}

// processOutput forwards one console chunk to the terminal verbatim.
func (s *Session) processOutput(res readResult) (ExitReason, bool, error) {
	if len(res.data) > 0 {
		if _, err := s.output.Write(res.data); err != nil {
			return ReasonError, true, fmt.Errorf("write terminal output: %w", err)
		}
	}
	if res.err != nil {
		if errors.Is(res.err, io.EOF) {
			return ReasonRemoteClosed, true, nil
		}
		return ReasonError, true, fmt.Errorf("read from console server: %w", res.err)
	}
	return ReasonError, false, nil
}
