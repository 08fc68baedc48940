package partition

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// DebugLog collects routing trace lines from many workers and flushes them to
// a file when the run ends. Appends are safe from any goroutine; line order
// between workers is not observed.
type DebugLog struct {
	mu    sync.Mutex
	lines []string
}

// defaultDebug is the process-wide log written to partition_tree.log.
var defaultDebug DebugLog

// Log appends msg to the process-wide debug log.
func Log(msg string) { defaultDebug.Log(msg) }

// Logf appends a formatted line to the process-wide debug log.
func Logf(format string, args ...any) { defaultDebug.Log(fmt.Sprintf(format, args...)) }

// WriteLog flushes the process-wide debug log to filename and clears it.
func WriteLog(filename string) error { return defaultDebug.Write(filename) }

// Log appends msg to the buffer.
func (d *DebugLog) Log(msg string) {
	d.mu.Lock()
	d.lines = append(d.lines, msg)
	d.mu.Unlock()
}

// Lines returns a copy of the buffered lines.
func (d *DebugLog) Lines() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.lines...)
}

// Write flushes the buffer to filename and clears it.
func (d *DebugLog) Write(filename string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.lines) == 0 {
		return nil
	}
	var sb strings.Builder
	for _, line := range d.lines {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(filename, []byte(sb.String()), 0644); err != nil {
		return err
	}
	d.lines = nil
	return nil
}
