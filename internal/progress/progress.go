package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Reporter receives progress of an upload run
type Reporter interface {
	// SetTotal sets the number of files and bytes the run will transfer
	SetTotal(totalFiles int, totalBytes int64)
	// Start begins tracking a new file transfer
	Start(path string, totalBytes int64)
	// Update reports bytes sent so far for the current file
	Update(bytesTransferred int64)
	// Complete marks the current transfer as done
	Complete()
	// Error reports that the current transfer failed
	Error(err error)
	// OverallProgress reports overall run progress
	OverallProgress(filesCompleted int, bytesCompleted int64)
}

// Callback is a function that receives progress updates
type Callback func(update Update)

// Update represents a progress update
type Update struct {
	Type           UpdateType
	CurrentFile    string
	CurrentBytes   int64
	CurrentTotal   int64
	FilesCompleted int
	FilesTotal     int
	BytesCompleted int64
	BytesTotal     int64
	BytesPerSecond float64
	Error          error
}

// UpdateType indicates the type of progress update
type UpdateType int

const (
	UpdateStart UpdateType = iota
	UpdateProgress
	UpdateComplete
	UpdateError
	UpdateOverall
)

// CallbackReporter implements Reporter with a callback function.
// The callback is always invoked without the internal lock held, so it
// may call back into the reporter.
type CallbackReporter struct {
	callback       Callback
	mu             sync.Mutex
	currentFile    string
	currentTotal   int64
	currentBytes   int64
	filesTotal     int
	bytesTotal     int64
	filesCompleted int
	bytesCompleted int64
	startTime      time.Time
}

// NewCallbackReporter creates a new CallbackReporter
func NewCallbackReporter(callback Callback) *CallbackReporter {
	return &CallbackReporter{
		callback: callback,
	}
}

// snapshot builds an update from the current state; r.mu must be held
func (r *CallbackReporter) snapshot(t UpdateType) Update {
	return Update{
		Type:           t,
		CurrentFile:    r.currentFile,
		CurrentBytes:   r.currentBytes,
		CurrentTotal:   r.currentTotal,
		FilesCompleted: r.filesCompleted,
		FilesTotal:     r.filesTotal,
		BytesCompleted: r.bytesCompleted,
		BytesTotal:     r.bytesTotal,
	}
}

// emit releases the lock and then delivers the update
func (r *CallbackReporter) emit(u Update) {
	callback := r.callback
	r.mu.Unlock()

	if callback != nil {
		callback(u)
	}
}

// SetTotal sets the total number of files and bytes to upload
func (r *CallbackReporter) SetTotal(totalFiles int, totalBytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filesTotal = totalFiles
	r.bytesTotal = totalBytes
}

// Start begins tracking a new file transfer
func (r *CallbackReporter) Start(path string, totalBytes int64) {
	r.mu.Lock()
	r.currentFile = path
	r.currentTotal = totalBytes
	r.currentBytes = 0
	r.startTime = time.Now()
	r.emit(r.snapshot(UpdateStart))
}

// Update reports progress on current transfer
func (r *CallbackReporter) Update(bytesTransferred int64) {
	r.mu.Lock()
	r.currentBytes = bytesTransferred

	u := r.snapshot(UpdateProgress)
	u.BytesCompleted += bytesTransferred
	if elapsed := time.Since(r.startTime).Seconds(); elapsed > 0 {
		u.BytesPerSecond = float64(bytesTransferred) / elapsed
	}
	r.emit(u)
}

// Complete marks the current transfer as complete
func (r *CallbackReporter) Complete() {
	r.mu.Lock()
	r.filesCompleted++
	r.bytesCompleted += r.currentTotal
	r.currentBytes = r.currentTotal
	r.emit(r.snapshot(UpdateComplete))
}

// Error reports an error on current transfer. The file still counts as
// processed so the overall counters reach the total.
func (r *CallbackReporter) Error(err error) {
	r.mu.Lock()
	r.filesCompleted++
	r.bytesCompleted += r.currentTotal
	u := r.snapshot(UpdateError)
	u.Error = err
	r.emit(u)
}

// OverallProgress reports overall progress
func (r *CallbackReporter) OverallProgress(filesCompleted int, bytesCompleted int64) {
	r.mu.Lock()
	u := r.snapshot(UpdateOverall)
	u.FilesCompleted = filesCompleted
	u.BytesCompleted = bytesCompleted
	r.emit(u)
}

// Reader wraps the body of an upload and reports bytes read. Seeking
// resets the count, so a transport that rewinds the body for a retry
// restarts the progress of the current file.
type Reader struct {
	reader      io.ReadSeeker
	reporter    Reporter
	transferred int64
}

// NewReader creates a new progress-tracking reader
func NewReader(r io.ReadSeeker, reporter Reporter) *Reader {
	return &Reader{
		reader:   r,
		reporter: reporter,
	}
}

// Read implements io.Reader
func (pr *Reader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 {
		pr.transferred += int64(n)
		if pr.reporter != nil {
			pr.reporter.Update(pr.transferred)
		}
	}
	return n, err
}

// Seek implements io.Seeker
func (pr *Reader) Seek(offset int64, whence int) (int64, error) {
	pos, err := pr.reader.Seek(offset, whence)
	if err == nil {
		pr.transferred = pos
	}
	return pos, err
}

// Transferred returns the number of bytes read since the last seek
func (pr *Reader) Transferred() int64 {
	return pr.transferred
}

// NullReporter is a no-op reporter
type NullReporter struct{}

func (NullReporter) Start(path string, totalBytes int64)                      {}
func (NullReporter) Update(bytesTransferred int64)                            {}
func (NullReporter) Complete()                                                {}
func (NullReporter) Error(err error)                                          {}
func (NullReporter) SetTotal(totalFiles int, totalBytes int64)                {}
func (NullReporter) OverallProgress(filesCompleted int, bytesCompleted int64) {}

// FormatBytes formats bytes into a human-readable IEC string
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		return "unknown"
	}
	return humanize.IBytes(uint64(bytes))
}

// FormatSpeed formats bytes per second into human-readable string
func FormatSpeed(bytesPerSecond float64) string {
	return FormatBytes(int64(bytesPerSecond)) + "/s"
}

// FormatProgress returns a progress bar string
func FormatProgress(current, total int64, width int) string {
	if total <= 0 {
		return ""
	}

	percent := float64(current) / float64(total)
	filled := int(percent * float64(width))
	if filled > width {
		filled = width
	}

	var bar strings.Builder
	bar.WriteString(strings.Repeat("=", filled))
	if filled < width {
		bar.WriteByte('>')
		bar.WriteString(strings.Repeat(" ", width-filled-1))
	}

	return fmt.Sprintf("[%s] %5.1f%%", bar.String(), percent*100)
}

// WriterCallback renders updates as text on w. With live set (a terminal)
// the current file line is redrawn in place; otherwise only file start,
// completion and errors are written, one per line.
func WriterCallback(w io.Writer, live bool) Callback {
	var mu sync.Mutex
	return func(u Update) {
		mu.Lock()
		defer mu.Unlock()

		counter := fmt.Sprintf("[%d/%d]", u.FilesCompleted+1, u.FilesTotal)
		switch u.Type {
		case UpdateStart:
			if !live {
				fmt.Fprintf(w, "%s uploading %s (%s)\n", counter, u.CurrentFile, FormatBytes(u.CurrentTotal))
			}
		case UpdateProgress:
			if live {
				fmt.Fprintf(w, "\r\033[K%s %s %s %s", counter, u.CurrentFile,
					FormatProgress(u.CurrentBytes, u.CurrentTotal, 30), FormatSpeed(u.BytesPerSecond))
			}
		case UpdateComplete:
			if live {
				fmt.Fprint(w, "\r\033[K")
			}
			fmt.Fprintf(w, "[%d/%d] done %s\n", u.FilesCompleted, u.FilesTotal, u.CurrentFile)
		case UpdateError:
			if live {
				fmt.Fprint(w, "\r\033[K")
			}
			fmt.Fprintf(w, "[%d/%d] failed %s: %v\n", u.FilesCompleted, u.FilesTotal, u.CurrentFile, u.Error)
		}
	}
}
