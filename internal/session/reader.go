package session

import (
	"io"
	"log/slog"
	"time"
)

const readBufSize = 4096

// readPump continuously drains one child stream into the queue. It runs for
// the lifetime of the owning process and exits when the stream closes.
// Fragments are pushed as read, not line-buffered: the assembler needs
// partial lines to frame output correctly, and waiting for newlines here
// would stall programs that print without them.
func readPump(r io.Reader, stream Stream, q *EventQueue, log *slog.Logger) {
	buf := make([]byte, readBufSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			q.Push(OutputEvent{
				Stream: stream,
				Text:   string(buf[:n]),
				Time:   time.Now().UTC(),
			})
		}
		if err != nil {
			if err != io.EOF {
				log.Debug("read pump closed", "stream", stream, "error", err)
			}
			return
		}
	}
}
