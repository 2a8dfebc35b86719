package download_manager

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// Logger defines the interface for logging operations within the manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// ResourceOpener opens an authenticated streamed GET against the portal.
// Implemented by *jwxt_portal_api.PortalSession; mocked in tests. The
// returned response has an unread body owned by the caller.
type ResourceOpener interface {
	OpenResource(ctx context.Context, rawurl string) (*http.Response, error)
}

// FileSystemOperations abstracts the file sink so tests can run without
// touching the disk. CreateFileStream creates parent directories as needed
// and returns a writer for the download body.
type FileSystemOperations interface {
	CreateFileStream(filename string, dirPerm, filePerm os.FileMode) (io.WriteCloser, error)
	Remove(path string) error
}

// DefaultFileSystem provides a production implementation of
// FileSystemOperations using the os package.
type DefaultFileSystem struct{}

// CreateFileStream opens filename for writing, creating parent directories
// if they don't exist. An existing file is truncated.
func (fs *DefaultFileSystem) CreateFileStream(filename string, dirPerm, filePerm os.FileMode) (io.WriteCloser, error) {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create directories for %s: %w", filename, err)
	}
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filename, err)
	}
	return f, nil
}

// Remove deletes the specified file from the filesystem.
func (fs *DefaultFileSystem) Remove(path string) error {
	return os.Remove(path)
}

// ErrPromptCancelled is returned by a SaveLocationPrompt when the user
// dismissed the save dialog. The task transitions to cancelled, not failed.
var ErrPromptCancelled = fmt.Errorf("save location prompt cancelled")

// SaveLocationPrompt chooses where a download is written when the task
// carries no explicit file path. Implementations are interactive ("save
// as" dialogs) or policy-based; the default saves under the manager's
// download directory. The prompt is consulted before any of the response
// body is consumed.
type SaveLocationPrompt interface {
	ChooseSavePath(task DownloadTask, suggested string) (string, error)
}
