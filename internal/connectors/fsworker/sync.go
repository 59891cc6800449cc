package fsworker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/connectorsdk"
	"github.com/custodia-labs/sercha-coordinator/internal/coordination/domain"
	"github.com/custodia-labs/sercha-coordinator/internal/logger"
)

// scannedReportBatch is how many files accumulate before the worker reports
// progress through the SDK; the report doubles as the run's heartbeat.
const scannedReportBatch = 50

// syncJob is one accepted SyncRequest being executed.
type syncJob struct {
	req   domain.SyncRequest
	cfg   Config
	sdk   connectorsdk.Coordinator
	limit *rate.Limiter
	log   *logger.Scoped

	state connectorState

	// seen dedups documents within this run by document ID. The ID includes
	// the root, so a file under two nested roots is emitted once per root.
	seen map[string]bool

	scanned          int64
	scannedUnflushed int64
	processed        int64
	updated          int64
}

func newSyncJob(req domain.SyncRequest, cfg Config, sdk connectorsdk.Coordinator) *syncJob {
	return &syncJob{
		req:   req,
		cfg:   cfg,
		sdk:   sdk,
		limit: rate.NewLimiter(rate.Limit(cfg.ScanRate), 1),
		log:   logger.WithFields("sync_run_id", req.SyncRunID, "source_id", req.SourceID),
		state: parseState(req.ConnectorState),
		seen:  make(map[string]bool),
	}
}

// run executes the whole sync and reports the terminal outcome through the
// SDK. A context cancelled by the worker's /cancel endpoint ends the run
// quietly: the coordinator has already marked the row terminal, discards
// any further progress reports, and would reject a complete or fail.
func (j *syncJob) run(ctx context.Context) {
	err := j.sync(ctx)
	if ctx.Err() != nil {
		j.log.Info("fsworker: sync stopped: %v", ctx.Err())
		return
	}
	if err != nil {
		j.log.Warn("fsworker: sync failed: %v", err)
		reportCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if failErr := j.sdk.Fail(reportCtx, j.req.SyncRunID, err.Error()); failErr != nil {
			j.log.Warn("fsworker: reporting failure: %v", failErr)
		}
		return
	}
	if err := j.sdk.Complete(ctx, j.req.SyncRunID, j.processed, j.updated); err != nil {
		j.log.Warn("fsworker: reporting completion: %v", err)
	}
}

func (j *syncJob) sync(ctx context.Context) error {
	for _, root := range j.cfg.Roots {
		if err := j.syncRoot(ctx, root); err != nil {
			return err
		}
	}
	return j.flushScanned(ctx)
}

// syncRoot walks one partition, emits document events, detects deletions by
// set difference against the cursor, and checkpoints the cursor through the
// SDK once the partition completes.
func (j *syncJob) syncRoot(ctx context.Context, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("stat root %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root %s is not a directory", root)
	}

	prev := j.state.Roots[root]
	full := j.req.SyncMode == domain.SyncTypeFull || prev.Files == nil
	next := rootCursor{
		LastScanUnix: time.Now().Unix(),
		Files:        make(map[string]fileStamp),
	}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A vanished or unreadable entry is not fatal to the walk.
			j.log.Warn("fsworker: walking %s: %v", path, err)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		name := d.Name()
		if strings.HasPrefix(name, ".") && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !j.cfg.wantsFile(path) {
			return nil
		}

		return j.syncFile(ctx, root, path, d, prev, next, full)
	})
	if walkErr != nil {
		return walkErr
	}

	// Files known to the previous cursor but absent from this walk were
	// deleted (or renamed, which the deterministic ID treats as
	// delete+create).
	for rel := range prev.Files {
		if _, ok := next.Files[rel]; ok {
			continue
		}
		docID := domain.DocumentID(j.req.SourceID, root, rel)
		event := j.newEvent(domain.EventDocumentDeleted, docID, nil, domain.EventMetadata{
			Path: filepath.Join(root, rel),
		})
		if _, err := j.sdk.EmitEvent(ctx, j.req.SourceID, event); err != nil {
			return fmt.Errorf("emitting delete for %s: %w", rel, err)
		}
		j.processed++
	}

	j.state.Roots[root] = next
	encoded, err := j.state.encode()
	if err != nil {
		return err
	}
	if err := j.sdk.SaveState(ctx, j.req.SyncRunID, encoded); err != nil {
		return fmt.Errorf("checkpointing cursor for %s: %w", root, err)
	}
	return nil
}

func (j *syncJob) syncFile(ctx context.Context, root, path string, d fs.DirEntry, prev, next rootCursor, full bool) error {
	if err := j.limit.Wait(ctx); err != nil {
		return err
	}

	info, err := d.Info()
	if err != nil {
		j.log.Warn("fsworker: stat %s: %v", path, err)
		return nil
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		return fmt.Errorf("relativising %s: %w", path, err)
	}

	j.scanned++
	j.scannedUnflushed++
	if j.scannedUnflushed >= scannedReportBatch {
		if err := j.flushScanned(ctx); err != nil {
			return err
		}
	}

	if info.Size() > j.cfg.MaxFileSize {
		j.log.Debug("fsworker: skipping %s: exceeds size cap", path)
		return nil
	}

	docID := domain.DocumentID(j.req.SourceID, root, rel)
	if j.seen[docID] {
		return nil
	}
	j.seen[docID] = true

	stamp := fileStamp{ModifiedUnixNano: info.ModTime().UnixNano(), Size: info.Size()}
	prevStamp, known := prev.Files[rel]

	// Incremental fast path: mtime and size unchanged means the body is
	// taken as unchanged without reading it.
	if !full && known && prevStamp.ModifiedUnixNano == stamp.ModifiedUnixNano && prevStamp.Size == stamp.Size {
		next.Files[rel] = prevStamp
		return nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		j.log.Warn("fsworker: reading %s: %v", path, err)
		return nil
	}
	sum := sha256.Sum256(content)
	stamp.SHA256 = hex.EncodeToString(sum[:])

	// Content-level dedup: a touched file whose bytes did not change is
	// re-stamped but not re-emitted.
	if !full && known && prevStamp.SHA256 == stamp.SHA256 {
		next.Files[rel] = stamp
		return nil
	}

	contentID, err := j.sdk.StoreContent(ctx, content, mimeTypeFor(path))
	if err != nil {
		return fmt.Errorf("storing content for %s: %w", rel, err)
	}

	eventType := domain.EventDocumentCreated
	if known {
		eventType = domain.EventDocumentUpdated
	}
	modTime := info.ModTime().UTC()
	event := j.newEvent(eventType, docID, &contentID, domain.EventMetadata{
		Title:     filepath.Base(path),
		UpdatedAt: &modTime,
		MIMEType:  mimeTypeFor(path),
		Size:      info.Size(),
		Path:      path,
		URL:       "file://" + path,
	})
	if _, err := j.sdk.EmitEvent(ctx, j.req.SourceID, event); err != nil {
		return fmt.Errorf("emitting event for %s: %w", rel, err)
	}

	next.Files[rel] = stamp
	j.processed++
	if known {
		j.updated++
	}
	return nil
}

func (j *syncJob) newEvent(eventType domain.EventType, docID string, contentID *string, meta domain.EventMetadata) domain.EventPayload {
	return domain.EventPayload{
		Type:        eventType,
		SyncRunID:   j.req.SyncRunID,
		SourceID:    j.req.SourceID,
		DocumentID:  docID,
		ContentID:   contentID,
		Metadata:    meta,
		Permissions: domain.EventPermissions{Public: false},
	}
}

// flushScanned reports accumulated scan progress; the write bumps the run's
// updated_at, so regular flushes double as the heartbeat.
func (j *syncJob) flushScanned(ctx context.Context) error {
	if j.scannedUnflushed == 0 {
		return j.sdk.Heartbeat(ctx, j.req.SyncRunID)
	}
	n := j.scannedUnflushed
	j.scannedUnflushed = 0
	if err := j.sdk.IncrementScanned(ctx, j.req.SyncRunID, n); err != nil {
		return fmt.Errorf("reporting scan progress: %w", err)
	}
	return nil
}

func mimeTypeFor(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}
