// Package terminal attaches the local terminal to a host console stream
// served over a Unix domain socket.
//
// It implements the client half of console redirection: keystrokes are
// relayed to the console server, console output is relayed back to the
// terminal, and an SSH-style escape sequence (Enter then "~.") detaches
// the client without ending the host session.
//
// # ARCHITECTURE
//
//	Terminal (stdin/stdout) ↔ Session ↔ Unix socket ↔ console server ↔ host UART
//
// Key components:
//   - Session: the bidirectional relay loop, one per client process
//   - EscapeScanner: incremental detach-sequence recognition on the
//     outbound byte stream, carrying state across read boundaries
//   - Raw mode: character-by-character input using golang.org/x/term,
//     restored on every exit path
//
// # WIRE FORMAT
//
// There is none. Everything written to the socket is user keystrokes
// (minus consumed escape bytes); everything read from it is console
// output displayed verbatim. The server learns of a detach only as a
// closed connection.
//
// # USAGE
//
//	conn, err := dialer.Dial(ctx)
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//
//	session := terminal.NewSession(conn, nil)
//	reason, err := session.Start(ctx)
//
// Run ends on local EOF, remote close, user detach, or the first I/O
// error; the ExitReason distinguishes the graceful endings.
package terminal
