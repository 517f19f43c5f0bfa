package ttn

import (
	"bufio"
	"io"
	"strings"
)

// readEvents parses a server-sent-events stream into its data payloads.
// Events end on a blank line, comment and keep-alive lines start with ":",
// and some storage responses send bare JSON lines without the "data:"
// prefix. Multi-line events are joined back together.
func readEvents(r io.Reader) ([]string, error) {
	var events []string
	var buffer []string

	flush := func() {
		if len(buffer) > 0 {
			events = append(events, strings.Join(buffer, "\n"))
			buffer = nil
		}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			buffer = append(buffer, strings.TrimSpace(line[len("data:"):]))
		default:
			buffer = append(buffer, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()

	return events, nil
}
