package smtp

import (
	"bufio"
	"fmt"
	"strings"
)

// writeResponse writes a reply with one line per line of message, joining all
// but the last to the code with "-", and flushes it.
func writeResponse(w *bufio.Writer, code int, message string) error {
	lines := strings.Split(strings.TrimSuffix(message, "\n"), "\n")
	for i, line := range lines {
		sep := '-'
		if i == len(lines)-1 {
			sep = ' '
		}
		if _, err := fmt.Fprintf(w, "%03d%c%s\r\n", code, sep, strings.TrimSuffix(line, "\r")); err != nil {
			return err
		}
	}
	return w.Flush()
}
