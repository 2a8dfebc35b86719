// Package download_manager implements the download-task subsystem of the
// portal client: an in-memory task table plus an executor that streams
// remote resources to local files with progress reporting, cancellation,
// and explicit caller-triggered retry. Downloads are long-lived transfers
// and are deliberately not routed through the rate-limited request
// scheduler; they have their own concurrency ceiling.
package download_manager

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultConcurrency is the number of simultaneously streaming tasks.
	DefaultConcurrency = 3
	// DefaultProgressInterval bounds how often a streaming task recomputes
	// and broadcasts progress.
	DefaultProgressInterval = 500 * time.Millisecond
)

// ErrTaskNotFound is returned when the given task id is not in the table.
var ErrTaskNotFound = fmt.Errorf("download task not found")

// ErrInvalidTaskState is returned when an operation is not legal from the
// task's current status, e.g. retrying a completed task.
var ErrInvalidTaskState = fmt.Errorf("download task status is invalid for this operation")

// PostDownloadHook runs after a task completes, with the final snapshot
// (FilePath set). A hook failure is logged, never propagated; the task
// stays completed.
type PostDownloadHook func(task DownloadTask) error

// cancelEntry pairs a task's cancellation token with the attempt it was
// issued for.
type cancelEntry struct {
	gen    int
	cancel context.CancelFunc
}

// Manager owns the download task table. Tasks are mutated only through the
// manager's own operations; callers always receive snapshots.
type Manager struct {
	mu      sync.RWMutex
	tasks   map[string]*DownloadTask
	order   []string // task ids in creation order
	cancels map[string]cancelEntry

	opener      ResourceOpener
	fs          FileSystemOperations
	prompt      SaveLocationPrompt
	logger      Logger
	baseURL     *url.URL
	downloadDir string

	slots            *semaphore.Weighted
	wg               sync.WaitGroup
	progressInterval time.Duration

	taskListeners     []func(DownloadTask)
	progressListeners []func(ProgressUpdate)
	postDownload      PostDownloadHook

	completedCount counter
	failedCount    counter
	cancelledCount counter
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger for the manager.
func WithLogger(log Logger) ManagerOption {
	return func(m *Manager) { m.logger = log }
}

// WithFileSystem replaces the file sink implementation (used by tests).
func WithFileSystem(fs FileSystemOperations) ManagerOption {
	return func(m *Manager) { m.fs = fs }
}

// WithSavePrompt installs an interactive save-location prompt. Without one,
// tasks carrying no explicit path are saved under the download directory.
func WithSavePrompt(p SaveLocationPrompt) ManagerOption {
	return func(m *Manager) { m.prompt = p }
}

// WithConcurrency sets the number of simultaneously streaming tasks.
func WithConcurrency(n int) ManagerOption {
	return func(m *Manager) {
		if n >= 1 {
			m.slots = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithProgressInterval sets the minimum spacing between progress samples.
func WithProgressInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.progressInterval = d
		}
	}
}

// WithPostDownloadHook registers a callback invoked with the final task
// snapshot after each successful download.
func WithPostDownloadHook(hook PostDownloadHook) ManagerOption {
	return func(m *Manager) { m.postDownload = hook }
}

// NewManager creates a Manager. baseURL is the portal base used to resolve
// relative task URLs; downloadDir is the default save location.
func NewManager(opener ResourceOpener, baseURL, downloadDir string, opts ...ManagerOption) (*Manager, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base URL: %s", baseURL)
	}

	m := &Manager{
		tasks:            make(map[string]*DownloadTask),
		cancels:          make(map[string]cancelEntry),
		opener:           opener,
		fs:               &DefaultFileSystem{},
		logger:           noopLogger{},
		baseURL:          parsed,
		downloadDir:      downloadDir,
		slots:            semaphore.NewWeighted(DefaultConcurrency),
		progressInterval: DefaultProgressInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// OnTaskUpdate registers a listener receiving a full task snapshot on every
// status or lifecycle change.
func (m *Manager) OnTaskUpdate(fn func(DownloadTask)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taskListeners = append(m.taskListeners, fn)
}

// OnProgress registers a listener receiving lightweight progress records
// during active transfers.
func (m *Manager) OnProgress(fn func(ProgressUpdate)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progressListeners = append(m.progressListeners, fn)
}

// AddTaskParams are the caller-supplied fields of a new task.
type AddTaskParams struct {
	URL      string
	FileName string
	Type     TaskType          // defaults to TypeGeneric
	FilePath string            // optional explicit save path; skips the prompt
	Metadata map[string]string // opaque to the manager (course id, homework id, ...)

	// StartPaused leaves the task in pending instead of starting it
	// immediately.
	StartPaused bool
}

// AddTask creates a task in pending and, unless StartPaused is set, starts
// it immediately. Relative URLs are resolved against the portal base.
func (m *Manager) AddTask(params AddTaskParams) (DownloadTask, error) {
	if params.URL == "" {
		return DownloadTask{}, fmt.Errorf("task URL cannot be empty")
	}
	taskType := params.Type
	if taskType == "" {
		taskType = TypeGeneric
	}
	if !taskType.isValid() {
		return DownloadTask{}, fmt.Errorf("invalid task type: %s", taskType)
	}

	normalized := m.normalizeURL(params.URL)
	fileName := params.FileName
	if fileName == "" {
		fileName = deriveFileName(normalized)
	}

	// The caller keeps its map; task state is mutated only through the
	// manager's own operations.
	var metadata map[string]string
	if params.Metadata != nil {
		metadata = make(map[string]string, len(params.Metadata))
		for k, v := range params.Metadata {
			metadata[k] = v
		}
	}

	task := &DownloadTask{
		ID:        uuid.NewString(),
		Type:      taskType,
		URL:       normalized,
		FileName:  fileName,
		FilePath:  params.FilePath,
		Status:    StatusPending,
		CreatedAt: time.Now(),
		Metadata:  metadata,
	}

	m.mu.Lock()
	m.tasks[task.ID] = task
	m.order = append(m.order, task.ID)
	snap := task.snapshot()
	m.mu.Unlock()
	m.notifyTask(snap)

	if !params.StartPaused {
		if err := m.StartTask(task.ID); err != nil {
			return snap, err
		}
	}
	return snap, nil
}

// StartTask begins executing a pending task. It returns immediately; the
// executor waits for a free download slot before transitioning the task to
// downloading. Starting a task that is already downloading is a no-op;
// starting from any terminal state is an error (use RetryTask).
func (m *Manager) StartTask(id string) error {
	m.mu.Lock()
	task, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return ErrTaskNotFound
	}
	switch task.Status {
	case StatusDownloading:
		m.mu.Unlock()
		return nil
	case StatusPending:
		// fall through
	default:
		m.mu.Unlock()
		return ErrInvalidTaskState
	}
	ctx, cancel := context.WithCancel(context.Background())
	task.attempt++
	gen := task.attempt
	prev, hadPrev := m.cancels[id]
	m.cancels[id] = cancelEntry{gen: gen, cancel: cancel}
	m.mu.Unlock()

	if hadPrev {
		// An executor from the previous attempt may still be parked on a
		// read; abort it so it cannot linger.
		prev.cancel()
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.dropCancel(id, gen)

		if err := m.slots.Acquire(ctx, 1); err != nil {
			// Cancelled while waiting for a slot.
			m.markCancelled(id, gen, "cancelled before start")
			return
		}
		defer m.slots.Release(1)

		if !m.markDownloading(id, gen) {
			return
		}
		m.run(ctx, id, gen)
	}()
	return nil
}

// CancelTask signals the task's cancellation token, aborting any in-flight
// transfer, and deterministically transitions the task to cancelled.
// Cancelling a task that already reached a terminal state is a no-op.
func (m *Manager) CancelTask(id string) error {
	m.mu.Lock()
	task, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return ErrTaskNotFound
	}
	entry, hasCancel := m.cancels[id]
	gen := task.attempt
	active := task.Status.active()
	m.mu.Unlock()

	if hasCancel {
		entry.cancel()
	}
	if active {
		m.markCancelled(id, gen, "cancelled by user")
	}
	return nil
}

// RetryTask resets a failed or cancelled task to pending and starts it
// again. Progress and byte counters return to zero and the error is
// cleared before the task re-enters downloading.
func (m *Manager) RetryTask(id string) error {
	m.mu.Lock()
	task, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return ErrTaskNotFound
	}
	if task.Status != StatusFailed && task.Status != StatusCancelled {
		m.mu.Unlock()
		return ErrInvalidTaskState
	}
	task.Status = StatusPending
	task.Progress = 0
	task.DownloadedBytes = 0
	task.TotalBytes = 0
	task.Speed = 0
	task.TimeRemaining = 0
	task.Error = ""
	task.StartedAt = nil
	task.CompletedAt = nil
	snap := task.snapshot()
	m.mu.Unlock()
	m.notifyTask(snap)

	return m.StartTask(id)
}

// GetTask returns a snapshot of the task with the given id.
func (m *Manager) GetTask(id string) (DownloadTask, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[id]
	if !ok {
		return DownloadTask{}, false
	}
	return task.snapshot(), true
}

// GetAllTasks returns snapshots of all tasks in creation order.
func (m *Manager) GetAllTasks() []DownloadTask {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]DownloadTask, 0, len(m.order))
	for _, id := range m.order {
		if task, ok := m.tasks[id]; ok {
			out = append(out, task.snapshot())
		}
	}
	return out
}

// GetTasksByType returns snapshots of all tasks of the given type, in
// creation order.
func (m *Manager) GetTasksByType(t TaskType) []DownloadTask {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []DownloadTask
	for _, id := range m.order {
		if task, ok := m.tasks[id]; ok && task.Type == t {
			out = append(out, task.snapshot())
		}
	}
	return out
}

// RemoveTask deletes the task from the table, cancelling it first if it is
// still active.
func (m *Manager) RemoveTask(id string) error {
	m.mu.Lock()
	task, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return ErrTaskNotFound
	}
	entry, hasCancel := m.cancels[id]
	gen := task.attempt
	active := task.Status.active()
	m.mu.Unlock()

	if hasCancel {
		entry.cancel()
	}
	if active {
		m.markCancelled(id, gen, "cancelled by removal")
	}

	m.mu.Lock()
	delete(m.tasks, id)
	m.removeFromOrder(id)
	m.mu.Unlock()
	return nil
}

// ClearCompleted removes all completed tasks and returns how many were removed.
func (m *Manager) ClearCompleted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, task := range m.tasks {
		if task.Status == StatusCompleted {
			delete(m.tasks, id)
			m.removeFromOrder(id)
			removed++
		}
	}
	return removed
}

// Stats returns the lifetime task counters.
func (m *Manager) Stats() DownloadStats {
	return DownloadStats{
		Completed: m.completedCount.Get(),
		Failed:    m.failedCount.Get(),
		Cancelled: m.cancelledCount.Get(),
	}
}

// Wait blocks until all running executors have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// normalizeURL prefixes the portal base when the task URL is relative.
func (m *Manager) normalizeURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.IsAbs() {
		return raw
	}
	return m.baseURL.ResolveReference(parsed).String()
}

// deriveFileName falls back to the last URL path segment when the caller
// supplied no file name.
func deriveFileName(rawurl string) string {
	parsed, err := url.Parse(rawurl)
	if err != nil || parsed.Path == "" || parsed.Path == "/" {
		return "download"
	}
	name := path.Base(parsed.Path)
	if name == "" || name == "." || name == "/" {
		return "download"
	}
	return name
}

// removeFromOrder drops id from the creation-order index. Caller holds m.mu.
func (m *Manager) removeFromOrder(id string) {
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

// dropCancel releases the cancellation token of the attempt gen once its
// executor exits. A token registered by a newer attempt is left alone.
func (m *Manager) dropCancel(id string, gen int) {
	m.mu.Lock()
	if entry, ok := m.cancels[id]; ok && entry.gen == gen {
		delete(m.cancels, id)
		m.mu.Unlock()
		entry.cancel()
		return
	}
	m.mu.Unlock()
}

// notifyTask broadcasts a full task snapshot to all task listeners.
// Listeners are called outside the manager lock.
func (m *Manager) notifyTask(snap DownloadTask) {
	m.mu.RLock()
	listeners := make([]func(DownloadTask), len(m.taskListeners))
	copy(listeners, m.taskListeners)
	m.mu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

// notifyProgress broadcasts a lightweight progress record.
func (m *Manager) notifyProgress(update ProgressUpdate) {
	m.mu.RLock()
	listeners := make([]func(ProgressUpdate), len(m.progressListeners))
	copy(listeners, m.progressListeners)
	m.mu.RUnlock()
	for _, fn := range listeners {
		fn(update)
	}
}
