package terminal

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

// newTestSession wires a session to in-memory endpoints. The returned
// remote side plays the console server.
func newTestSession(t *testing.T, input io.Reader, output io.Writer) (*Session, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	t.Cleanup(func() {
		local.Close()
		remote.Close()
	})
	s := &Session{
		conn:    local,
		input:   input,
		output:  output,
		scanner: NewEscapeScanner(nil),
		done:    make(chan struct{}),
	}
	return s, remote
}

// drain consumes the remote side of the console socket until it is
// closed, recording everything received.
type drain struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	done chan struct{}
}

func startDrain(conn net.Conn) *drain {
	d := &drain{done: make(chan struct{})}
	go func() {
		defer close(d.done)
		buf := make([]byte, chunkSize)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				d.mu.Lock()
				d.buf.Write(buf[:n])
				d.mu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()
	return d
}

func (d *drain) bytes(t *testing.T) []byte {
	t.Helper()
	select {
	case <-d.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for console socket to drain")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buf.Bytes()
}

func TestSessionRun_LocalEOF(t *testing.T) {
	inR, inW := io.Pipe()
	var out bytes.Buffer
	s, remote := newTestSession(t, inR, &out)
	d := startDrain(remote)

	inW.Close()

	reason, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if reason != ReasonLocalEOF {
		t.Errorf("reason = %v, want %v", reason, ReasonLocalEOF)
	}

	remote.Close()
	if got := d.bytes(t); len(got) != 0 {
		t.Errorf("console server received %q, want nothing", got)
	}
}

func TestSessionRun_RemoteClose(t *testing.T) {
	inR, inW := io.Pipe()
	defer inW.Close()
	var out bytes.Buffer
	s, remote := newTestSession(t, inR, &out)

	payload := []byte("boot: ok\r\n")
	go func() {
		remote.Write(payload)
		remote.Close()
	}()

	reason, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if reason != ReasonRemoteClosed {
		t.Errorf("reason = %v, want %v", reason, ReasonRemoteClosed)
	}
	if !bytes.Equal(out.Bytes(), payload) {
		t.Errorf("terminal output %q, want %q", out.Bytes(), payload)
	}
}

func TestSessionRun_Detach(t *testing.T) {
	inR, inW := io.Pipe()
	defer inW.Close()
	var out bytes.Buffer
	s, remote := newTestSession(t, inR, &out)
	d := startDrain(remote)

	go func() {
		inW.Write([]byte("hello\r"))
		inW.Write([]byte("~."))
	}()

	reason, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if reason != ReasonDetached {
		t.Errorf("reason = %v, want %v", reason, ReasonDetached)
	}

	// The server must see the typed line but never the escape bytes.
	remote.Close()
	if got := d.bytes(t); !bytes.Equal(got, []byte("hello\r")) {
		t.Errorf("console server received %q, want %q", got, "hello\r")
	}
}

func TestSessionRun_DetachSplitAcrossReads(t *testing.T) {
	inR, inW := io.Pipe()
	defer inW.Close()
	var out bytes.Buffer
	s, remote := newTestSession(t, inR, &out)
	d := startDrain(remote)

	go func() {
		for _, b := range []byte("ls\r~.") {
			inW.Write([]byte{b})
		}
	}()

	reason, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if reason != ReasonDetached {
		t.Errorf("reason = %v, want %v", reason, ReasonDetached)
	}

	remote.Close()
	if got := d.bytes(t); !bytes.Equal(got, []byte("ls\r")) {
		t.Errorf("console server received %q, want %q", got, "ls\r")
	}
}

// failWriter is a console socket whose writes fail mid-session.
type failWriter struct {
	net.Conn
}

func (f failWriter) Write(p []byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestSessionRun_WriteFailure(t *testing.T) {
	inR, inW := io.Pipe()
	defer inW.Close()
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	var out bytes.Buffer
	s := &Session{
		conn:    failWriter{local},
		input:   inR,
		output:  &out,
		scanner: NewEscapeScanner(nil),
		done:    make(chan struct{}),
	}

	go inW.Write([]byte("x"))

	reason, err := s.Run(context.Background())
	if err == nil {
		t.Fatal("Run should fail when the socket write fails")
	}
	if reason != ReasonError {
		t.Errorf("reason = %v, want %v", reason, ReasonError)
	}
}

func TestSessionRun_LocalReadError(t *testing.T) {
	inR, inW := io.Pipe()
	var out bytes.Buffer
	s, remote := newTestSession(t, inR, &out)
	defer remote.Close()

	inW.CloseWithError(errors.New("terminal gone"))

	reason, err := s.Run(context.Background())
	if err == nil {
		t.Fatal("Run should fail on a terminal read error")
	}
	if reason != ReasonError {
		t.Errorf("reason = %v, want %v", reason, ReasonError)
	}
}

func TestSessionRun_ContextCancelled(t *testing.T) {
	inR, inW := io.Pipe()
	defer inW.Close()
	var out bytes.Buffer
	s, remote := newTestSession(t, inR, &out)
	defer remote.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reason, err := s.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if reason != ReasonError {
		t.Errorf("reason = %v, want %v", reason, ReasonError)
	}
}

func TestExitReasonString(t *testing.T) {
	tests := []struct {
		reason ExitReason
		want   string
	}{
		{ReasonLocalEOF, "local EOF"},
		{ReasonRemoteClosed, "connection closed"},
		{ReasonDetached, "detached"},
		{ReasonError, "error"},
	}
	for _, tt := range tests {
		if got := tt.reason.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", int(tt.reason), got, tt.want)
		}
	}
}
