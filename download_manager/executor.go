package download_manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// run streams one task's resource to its file sink. It is invoked by
// StartTask's goroutine after a download slot has been acquired and the
// task transitioned to downloading. All failures are absorbed here and
// recorded on the task; one task's failure never affects others. gen is
// the attempt this executor was started for: once a retry supersedes it,
// every transition below degrades to a no-op.
func (m *Manager) run(ctx context.Context, id string, gen int) {
	snap, ok := m.GetTask(id)
	if !ok {
		return
	}

	resp, err := m.opener.OpenResource(ctx, snap.URL)
	if err != nil {
		if ctx.Err() != nil {
			m.markCancelled(id, gen, "cancelled")
			return
		}
		m.fail(id, gen, err)
		return
	}
	defer resp.Body.Close()

	total := resp.ContentLength
	if total < 0 {
		total = 0 // unknown, e.g. chunked transfer without a length header
	}

	// The server may reveal the real filename via Content-Disposition.
	fileName := snap.FileName
	if served := filenameFromDisposition(resp.Header.Get("Content-Disposition")); served != "" {
		fileName = served
	}

	// The save location is resolved before any of the body is consumed, so
	// nothing is buffered while the user stares at a "save as" dialog.
	savePath := snap.FilePath
	if savePath == "" {
		suggested := filepath.Join(m.downloadDir, fileName)
		if m.prompt != nil {
			chosen, perr := m.prompt.ChooseSavePath(snap, suggested)
			if perr != nil {
				if errors.Is(perr, ErrPromptCancelled) {
					m.markCancelled(id, gen, "save prompt cancelled")
					return
				}
				m.fail(id, gen, perr)
				return
			}
			savePath = chosen
		} else {
			savePath = suggested
		}
	}

	m.mu.Lock()
	if task, ok := m.tasks[id]; ok && task.attempt == gen {
		task.FileName = fileName
		task.FilePath = savePath
		task.TotalBytes = total
		taskSnap := task.snapshot()
		m.mu.Unlock()
		m.notifyTask(taskSnap)
	} else {
		m.mu.Unlock()
		return
	}

	sink, err := m.fs.CreateFileStream(savePath, 0o755, 0o644)
	if err != nil {
		m.fail(id, gen, err)
		return
	}

	var downloaded int64
	lastSample := time.Now()
	var lastBytes int64
	buf := make([]byte, 32*1024)

	for {
		if ctx.Err() != nil {
			sink.Close()
			m.discardPartial(id, gen, savePath)
			m.markCancelled(id, gen, "cancelled")
			return
		}

		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := sink.Write(buf[:n]); werr != nil {
				sink.Close()
				m.fail(id, gen, fmt.Errorf("write failed: %w", werr))
				return
			}
			downloaded += int64(n)
			if elapsed := time.Since(lastSample); elapsed >= m.progressInterval {
				m.sample(id, gen, downloaded, total, downloaded-lastBytes, elapsed)
				lastSample = time.Now()
				lastBytes = downloaded
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			sink.Close()
			if ctx.Err() != nil {
				m.discardPartial(id, gen, savePath)
				m.markCancelled(id, gen, "cancelled")
				return
			}
			m.fail(id, gen, fmt.Errorf("stream failed: %w", rerr))
			return
		}
	}

	if err := sink.Close(); err != nil {
		m.fail(id, gen, fmt.Errorf("close failed: %w", err))
		return
	}
	if total > 0 && downloaded != total {
		m.fail(id, gen, fmt.Errorf("size mismatch: expected %d bytes, wrote %d", total, downloaded))
		return
	}

	m.complete(id, gen, downloaded)
}

// sample recomputes progress, instantaneous speed, and remaining time, and
// broadcasts a lightweight progress record. Called at most once per
// progress interval.
func (m *Manager) sample(id string, gen int, downloaded, total, bytesDelta int64, elapsed time.Duration) {
	progress := 0
	if total > 0 {
		progress = int(math.Round(float64(downloaded) / float64(total) * 100))
	}
	speed := 0.0
	if elapsed > 0 {
		speed = float64(bytesDelta) / elapsed.Seconds()
	}
	remaining := 0.0
	if speed > 0 && total > 0 {
		remaining = float64(total-downloaded) / speed
	}

	m.mu.Lock()
	task, ok := m.tasks[id]
	if !ok || task.Status != StatusDownloading || task.attempt != gen {
		m.mu.Unlock()
		return
	}
	task.DownloadedBytes = downloaded
	task.Progress = progress
	task.Speed = speed
	task.TimeRemaining = remaining
	m.mu.Unlock()

	m.notifyProgress(ProgressUpdate{
		TaskID:          id,
		DownloadedBytes: downloaded,
		TotalBytes:      total,
		Progress:        progress,
		Speed:           speed,
		TimeRemaining:   remaining,
	})
}

// markDownloading transitions a pending task to downloading. Returns false
// when the task is gone, was cancelled while waiting for a slot, or was
// restarted under a newer attempt.
func (m *Manager) markDownloading(id string, gen int) bool {
	m.mu.Lock()
	task, ok := m.tasks[id]
	if !ok || task.Status != StatusPending || task.attempt != gen {
		m.mu.Unlock()
		return false
	}
	now := time.Now()
	task.Status = StatusDownloading
	task.StartedAt = &now
	snap := task.snapshot()
	m.mu.Unlock()
	m.notifyTask(snap)
	return true
}

// markCancelled transitions an active task to cancelled. The reason is
// recorded in the task's error field for UI display only; cancellation is
// not counted as a failure. Already-terminal tasks and tasks owned by a
// newer attempt are left untouched.
func (m *Manager) markCancelled(id string, gen int, reason string) {
	m.mu.Lock()
	task, ok := m.tasks[id]
	if !ok || !task.Status.active() || task.attempt != gen {
		m.mu.Unlock()
		return
	}
	task.Status = StatusCancelled
	task.Error = reason
	task.Speed = 0
	task.TimeRemaining = 0
	snap := task.snapshot()
	m.mu.Unlock()

	m.cancelledCount.Increment()
	m.logger.Info("download cancelled", "task_id", id, "reason", reason)
	m.notifyTask(snap)
}

// fail transitions an active task to failed, retaining the error message
// for display and retry.
func (m *Manager) fail(id string, gen int, err error) {
	m.mu.Lock()
	task, ok := m.tasks[id]
	if !ok || !task.Status.active() || task.attempt != gen {
		m.mu.Unlock()
		return
	}
	task.Status = StatusFailed
	task.Error = err.Error()
	task.Speed = 0
	task.TimeRemaining = 0
	snap := task.snapshot()
	m.mu.Unlock()

	m.failedCount.Increment()
	m.logger.Error("download failed", "task_id", id, "error", err)
	m.notifyTask(snap)
}

// complete transitions a downloading task to completed and invokes the
// post-download hook, whose failures are logged but never propagated.
func (m *Manager) complete(id string, gen int, downloaded int64) {
	m.mu.Lock()
	task, ok := m.tasks[id]
	if !ok || task.Status != StatusDownloading || task.attempt != gen {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	task.Status = StatusCompleted
	task.Progress = 100
	task.DownloadedBytes = downloaded
	task.Speed = 0
	task.TimeRemaining = 0
	task.CompletedAt = &now
	snap := task.snapshot()
	m.mu.Unlock()

	m.completedCount.Increment()
	m.logger.Info("download completed", "task_id", id, "path", snap.FilePath, "bytes", downloaded)
	m.notifyTask(snap)

	if m.postDownload != nil {
		if err := m.postDownload(snap); err != nil {
			m.logger.Warn("post-download hook failed", "task_id", id, "error", err)
		}
	}
}

// discardPartial removes a partially written file after cancellation. When
// the task was retried, the file belongs to the newer attempt and is kept.
func (m *Manager) discardPartial(id string, gen int, path string) {
	m.mu.RLock()
	task, ok := m.tasks[id]
	current := ok && task.attempt == gen
	m.mu.RUnlock()
	if !current {
		return
	}
	if err := m.fs.Remove(path); err != nil {
		m.logger.Warn("could not remove partial file", "path", path, "error", err)
	}
}

// filenameFromDisposition recovers the served filename from a
// Content-Disposition header, decoding percent-escapes. Returns "" when the
// header is absent, malformed, or degrades to a generic placeholder.
func filenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	name := params["filename"]
	if decoded, derr := url.QueryUnescape(name); derr == nil {
		name = decoded
	}
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	if isGenericFileName(name) {
		return ""
	}
	return name
}

// isGenericFileName reports whether a recovered filename carries no real
// information and should be ignored in favor of the caller-supplied name.
func isGenericFileName(name string) bool {
	switch strings.ToLower(name) {
	case "", ".", "/", "attachment", "download", "file", "unknown":
		return true
	default:
		return false
	}
}
