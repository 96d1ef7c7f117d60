package logger

import (
	"fmt"
	"io"
	"os"
)

// openOutput resolves an output name to a writer. Files are opened for
// append and returned with their closer; a file that cannot be opened falls
// back to stderr.
func openOutput(output string) (io.Writer, io.Closer) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	case "discard":
		return io.Discard, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: open %s: %v; logging to stderr\n", output, err)
		return os.Stderr, nil
	}
	return f, f
}
