package logtail

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const chunkSize = 16 * 1024

// Tail returns at most maxLines from the end of the file at path, oldest
// first. A missing file yields no lines and no error.
func Tail(path string, maxLines int) ([]string, error) {
	if maxLines <= 0 {
		return nil, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat log: %w", err)
	}

	// Read backwards until the buffer holds maxLines complete lines.
	end := info.Size()
	var buf []byte
	for end > 0 && bytes.Count(buf, []byte{'\n'}) <= maxLines {
		start := max(end-chunkSize, 0)
		chunk := make([]byte, end-start)
		if _, err := file.ReadAt(chunk, start); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read log: %w", err)
		}
		buf = append(chunk, buf...)
		end = start
	}

	text := strings.TrimRight(string(buf), "\n")
	if text == "" {
		return nil, nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > maxLines {
		// drops the partial first line too when the start was not reached
		lines = lines[len(lines)-maxLines:]
	}
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r")
	}
	return lines, nil
}

// Severity classifies a log line for display.
type Severity int

const (
	Info Severity = iota
	Warn
	Error
)

var (
	errorWords = []string{"error", "failed", "forbidden", "unauthorized", "panic"}
	warnWords  = []string{"disconnected", "retrying", "lost", "ignoring", "offline", "reload"}
)

// Classify returns the severity suggested by the words in line. The standard
// logger has no levels, so this is keyword based.
func Classify(line string) Severity {
	lower := strings.ToLower(line)
	for _, w := range errorWords {
		if strings.Contains(lower, w) {
			return Error
		}
	}
	for _, w := range warnWords {
		if strings.Contains(lower, w) {
			return Warn
		}
	}
	return Info
}
