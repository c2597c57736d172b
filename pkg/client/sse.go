package client

import (
	"bufio"
	"io"
	"strings"
)

// sseFrame is one parsed server-sent event: the event name (empty for the
// default type) and its data payload.
type sseFrame struct {
	name string
	data string
}

// readFrames parses an event-stream body, calling emit for every complete
// frame, until the stream ends. Returns the terminal read error (io.EOF
// when the server closed cleanly, a transport error otherwise). A frame
// cut off mid-way by the close is discarded, matching browser behavior.
//
// Only the "event" and "data" fields matter here; "id", "retry" and
// comment lines are skipped. A single space after the field colon is
// optional per the event-stream format.
func readFrames(r io.Reader, emit func(sseFrame)) error {
	br := bufio.NewReader(r)
	var name string
	var data []string
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if len(data) > 0 || name != "" {
				emit(sseFrame{name: name, data: strings.Join(data, "\n")})
			}
			name, data = "", nil
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			data = append(data, value)
		}
	}
}
