package main

import (
	"sync"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/kydzhou/go-jwxt-client/download_manager"
)

// progressView renders one terminal progress bar per download task, driven
// by the manager's two notification shapes: full snapshots for lifecycle
// changes, lightweight records for in-stream updates.
type progressView struct {
	progress *mpb.Progress

	mu   sync.Mutex
	bars map[string]*mpb.Bar
}

func newProgressView(m *download_manager.Manager) *progressView {
	v := &progressView{
		progress: mpb.New(mpb.WithWidth(64)),
		bars:     make(map[string]*mpb.Bar),
	}
	m.OnTaskUpdate(v.onTask)
	m.OnProgress(v.onProgress)
	return v
}

// Wait blocks until every bar has completed or aborted.
func (v *progressView) Wait() {
	v.progress.Wait()
}

func (v *progressView) onTask(t download_manager.DownloadTask) {
	v.mu.Lock()
	defer v.mu.Unlock()

	bar, ok := v.bars[t.ID]
	switch t.Status {
	case download_manager.StatusDownloading:
		if !ok {
			bar = v.newBar(t.FileName)
			v.bars[t.ID] = bar
		}
		bar.SetTotal(t.TotalBytes, false)
	case download_manager.StatusCompleted:
		if ok {
			total := t.TotalBytes
			if total == 0 {
				total = t.DownloadedBytes
			}
			bar.SetTotal(total, true)
		}
	case download_manager.StatusFailed, download_manager.StatusCancelled:
		if ok {
			bar.Abort(false)
		}
	}
}

func (v *progressView) onProgress(u download_manager.ProgressUpdate) {
	v.mu.Lock()
	bar, ok := v.bars[u.TaskID]
	v.mu.Unlock()
	if !ok {
		return
	}
	if u.TotalBytes > 0 {
		bar.SetTotal(u.TotalBytes, false)
	}
	bar.SetCurrent(u.DownloadedBytes)
}

func (v *progressView) newBar(name string) *mpb.Bar {
	return v.progress.New(0,
		mpb.BarStyle(),
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DindentRight}),
			decor.Counters(decor.SizeB1024(0), "% .2f / % .2f", decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.AverageSpeed(decor.SizeB1024(0), "% .2f"),
			decor.OnComplete(
				decor.AverageETA(decor.ET_STYLE_GO, decor.WC{W: 4}), "done",
			),
		),
	)
}
