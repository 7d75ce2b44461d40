package terminal

// DefaultEscape is the detach sequence recognized in the outbound
// keystroke stream: typing Enter then "~." ends the client session
// without notifying the console server.
var DefaultEscape = []byte{'~', '.'}

// EscapeScanner incrementally recognizes the detach sequence inside an
// unbounded byte stream consumed in chunks. The sequence is only valid
// immediately after a carriage return, so the scanner tracks whether the
// most recently processed byte was '\r' in addition to how far into the
// sequence the stream has matched. Both pieces of state persist across
// Scan calls, which lets a match span any number of read boundaries.
//
// EscapeScanner is not safe for concurrent use. The session's relay loop
// is the only caller and drives it from a single goroutine.
type EscapeScanner struct {
	// escape is the byte sequence that triggers a detach.
	escape []byte

	// afterNewline is true when the last processed byte was '\r'.
	// Matching is only armed while this holds.
	afterNewline bool

	// matchPos counts consecutive escape bytes matched so far. Bytes
	// tentatively matched are withheld from forwarding until the match
	// either completes (detach) or fails (false start).
	matchPos int
}

// NewEscapeScanner returns a scanner for the given escape sequence.
// An empty sequence selects DefaultEscape.
func NewEscapeScanner(escape []byte) *EscapeScanner {
	if len(escape) == 0 {
		escape = DefaultEscape
	}
	return &EscapeScanner{escape: escape}
}

// Scan consumes one chunk of outbound bytes and reports what may be
// forwarded to the console server.
//
// The return values are, in the order the caller must write them:
//
//   - flush: escape-prefix bytes withheld at the end of *earlier* chunks
//     that a false start in this chunk has just released. They are
//     replayed from the escape sequence itself, since withheld bytes are
//     by construction equal to its prefix.
//   - n: the number of bytes from the start of chunk confirmed safe to
//     forward. Bytes at the tail of the chunk that are a prefix of an
//     in-progress match are excluded until a later chunk resolves them.
//   - detached: true when the full escape sequence completed within this
//     chunk. The matched bytes themselves are never forwarded, and the
//     scanner state is dead afterwards (the session is ending).
//
// A false start that both begins and fails inside the current chunk
// needs no flush: its bytes were never excluded from a previous call's
// count, so they simply remain part of the forward prefix.
//
// One quirk of the escape grammar: a '\r' seen while a match is in
// progress resolves it as a false start and re-arms matching, so
// "\r~\r~." detaches while "\r~\r." forwards every byte. A mismatching
// byte other than '\r' disarms matching until the next carriage return.
func (s *EscapeScanner) Scan(chunk []byte) (flush []byte, n int, detached bool) {
	// Bytes withheld by previous calls; consumed by the first match
	// resolution in this chunk.
	carry := s.matchPos

	for i, b := range chunk {
		if b == '\r' {
			if s.matchPos > 0 {
				if carry > 0 {
					flush = s.escape[:carry]
					carry = 0
				}
				s.matchPos = 0
			}
			s.afterNewline = true
			continue
		}

		if !s.afterNewline {
			continue
		}

		if b == s.escape[s.matchPos] {
			s.matchPos++
			if s.matchPos == len(s.escape) {
				// Forward everything before the match; the part of the
				// match inside this chunk is withheld.
				return flush, i + 1 - (s.matchPos - carry), true
			}
			continue
		}

		// False start. Withheld bytes from earlier chunks are replayed
		// via flush; in-chunk ones rejoin the forward prefix in place.
		if s.matchPos > 0 {
			if carry > 0 {
				flush = s.escape[:carry]
				carry = 0
			}
			s.matchPos = 0
		}
		s.afterNewline = false
	}

	return flush, len(chunk) - (s.matchPos - carry), false
}
