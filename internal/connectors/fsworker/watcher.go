package fsworker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/sercha-coordinator/internal/logger"
)

// watchDebounce collapses bursts of filesystem events (editors write, sync
// tools touch whole trees) into one trigger.
const watchDebounce = 2 * time.Second

// watcher observes a source's roots with fsnotify and nudges the
// coordinator to run an incremental sync when something changes. It never
// emits document events itself: change detection stays in the sync loop,
// where the cursor makes it exact; the watcher only decides when a sync is
// worth asking for.
type watcher struct {
	sourceID       string
	coordinatorURL string
	roots          []string

	fsw    *fsnotify.Watcher
	http   *http.Client
	cancel context.CancelFunc
	done   chan struct{}
}

// newWatcher starts watching roots (and their subdirectories) for sourceID.
func newWatcher(sourceID, coordinatorURL string, roots []string) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &watcher{
		sourceID:       sourceID,
		coordinatorURL: strings.TrimRight(coordinatorURL, "/"),
		roots:          roots,
		fsw:            fsw,
		http:           &http.Client{Timeout: 30 * time.Second},
		cancel:         cancel,
		done:           make(chan struct{}),
	}

	for _, root := range roots {
		if err := w.addTree(root); err != nil {
			fsw.Close()
			cancel()
			return nil, err
		}
	}

	go w.loop(ctx)
	return w, nil
}

// addTree registers root and every non-hidden subdirectory, since fsnotify
// watches are not recursive.
func (w *watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *watcher) loop(ctx context.Context) {
	defer close(w.done)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			// New directories join the watch so changes beneath them are
			// seen without a restart.
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.fsw.Add(event.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerC = timer.C
			} else {
				timer.Reset(watchDebounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warn("fsworker: watcher error for source %s: %v", w.sourceID, err)
		case <-timerC:
			timer = nil
			timerC = nil
			w.triggerSync(ctx)
		}
	}
}

// triggerSync asks the coordinator for an incremental sync. Admission
// rejections (409: one is already running) are the expected answer for a
// busy source and are dropped.
func (w *watcher) triggerSync(ctx context.Context) {
	body, err := json.Marshal(map[string]string{
		"sync_mode":    "incremental",
		"trigger_type": "webhook",
	})
	if err != nil {
		return
	}

	url := w.coordinatorURL + "/sync/" + w.sourceID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		logger.Warn("fsworker: building watch trigger: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		logger.Warn("fsworker: watch trigger for source %s failed: %v", w.sourceID, err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		logger.Debug("fsworker: watch-triggered sync for source %s", w.sourceID)
	case resp.StatusCode == http.StatusConflict:
	default:
		logger.Warn("fsworker: watch trigger for source %s returned status %d", w.sourceID, resp.StatusCode)
	}
}

// stop tears the watcher down and waits for its loop to exit.
func (w *watcher) stop() {
	w.cancel()
	w.fsw.Close()
	<-w.done
}
