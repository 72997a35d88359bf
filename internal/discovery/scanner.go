// Package discovery reconciles the page table with the image files under the source folder.
package discovery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ocrbench/pipeline/internal/events"
	"github.com/ocrbench/pipeline/internal/lifecycle"
	"github.com/ocrbench/pipeline/internal/runtime"
	"github.com/ocrbench/pipeline/internal/store"
	"github.com/ocrbench/pipeline/internal/store/model"
	"go.uber.org/zap"
)

// Submitter queues stage jobs for a batch of pages.
type Submitter interface {
	SubmitMany(ctx context.Context, stage string, ids []int64, paramsFn func(int64) map[string]any) (runtime.SubmitSummary, error)
}

type ScanSummary struct {
	SourceDir      string                 `json:"source_dir"`
	ScannedFiles   int                    `json:"scanned_files"`
	NewPages       int                    `json:"new_pages"`
	UpdatedPages   int                    `json:"updated_pages"`
	MissingMarked  int64                  `json:"missing_marked"`
	DuplicateFiles int                    `json:"duplicate_files"`
	AutoSubmit     *runtime.SubmitSummary `json:"auto_submit,omitempty"`
}

func (s ScanSummary) data() map[string]any {
	return map[string]any{
		"source_dir":      s.SourceDir,
		"scanned_files":   s.ScannedFiles,
		"new_pages":       s.NewPages,
		"updated_pages":   s.UpdatedPages,
		"missing_marked":  s.MissingMarked,
		"duplicate_files": s.DuplicateFiles,
	}
}

type scannedFile struct {
	relPath string
	hash    string
}

type Scanner struct {
	store      store.Store
	eventLog   *events.Log
	submitter  Submitter
	autoStage  string
	sourceDir  string
	extensions map[string]struct{}
	log        *zap.SugaredLogger
}

// NewScanner builds a scanner. When submitter is nil new pages are not queued for detection.
func NewScanner(s store.Store, eventLog *events.Log, submitter Submitter, autoStage, sourceDir string, extensions []string) *Scanner {
	exts := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = struct{}{}
	}
	return &Scanner{
		store:      s,
		eventLog:   eventLog,
		submitter:  submitter,
		autoStage:  autoStage,
		sourceDir:  sourceDir,
		extensions: exts,
		log:        zap.S().Named("discovery"),
	}
}

func (sc *Scanner) SourceDir() string {
	return sc.sourceDir
}

func (sc *Scanner) Extensions() []string {
	exts := make([]string, 0, len(sc.extensions))
	for e := range sc.extensions {
		exts = append(exts, e)
	}
	sort.Strings(exts)
	return exts
}

// Scan walks the source folder and reconciles pages and duplicates in one transaction.
func (sc *Scanner) Scan(ctx context.Context) (ScanSummary, error) {
	summary := ScanSummary{SourceDir: sc.sourceDir}

	if _, err := sc.eventLog.Record(ctx, events.StageDiscovery, events.KindScanStarted,
		fmt.Sprintf("Scanning %s.", sc.sourceDir), map[string]any{"source_dir": sc.sourceDir}); err != nil {
		return summary, err
	}

	files, err := sc.walk()
	if err != nil {
		return summary, err
	}
	summary.ScannedFiles = len(files)

	if err := sc.reconcile(ctx, files, &summary); err != nil {
		return summary, err
	}

	if _, err := sc.eventLog.Record(ctx, events.StageDiscovery, events.KindScanFinished,
		fmt.Sprintf("Scanned %d files: %d new, %d updated, %d marked missing, %d duplicates.",
			summary.ScannedFiles, summary.NewPages, summary.UpdatedPages, summary.MissingMarked, summary.DuplicateFiles),
		summary.data()); err != nil {
		return summary, err
	}

	sc.log.Infow("scan finished", "source_dir", sc.sourceDir, "scanned", summary.ScannedFiles,
		"new", summary.NewPages, "updated", summary.UpdatedPages, "missing", summary.MissingMarked, "duplicates", summary.DuplicateFiles)

	if sc.submitter == nil {
		return summary, nil
	}

	submitted, err := sc.submitNewPages(ctx)
	if err != nil {
		return summary, err
	}
	summary.AutoSubmit = &submitted

	return summary, nil
}

func (sc *Scanner) walk() ([]scannedFile, error) {
	if err := os.MkdirAll(sc.sourceDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating source dir: %w", err)
	}

	var files []scannedFile
	err := filepath.WalkDir(sc.sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if _, ok := sc.extensions[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}

		rel, err := filepath.Rel(sc.sourceDir, path)
		if err != nil {
			return err
		}
		hash, err := hashFile(path)
		if err != nil {
			return err
		}
		files = append(files, scannedFile{relPath: filepath.ToSlash(rel), hash: hash})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", sc.sourceDir, err)
	}
	return files, nil
}

func (sc *Scanner) reconcile(ctx context.Context, files []scannedFile, summary *ScanSummary) error {
	groups := make(map[string][]string)
	for _, f := range files {
		groups[f.hash] = append(groups[f.hash], f.relPath)
	}
	hashes := make([]string, 0, len(groups))
	for h := range groups {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	return store.Atomic(ctx, sc.store, func(ctx context.Context) error {
		return sc.applyGroups(ctx, hashes, groups, summary)
	})
}

func (sc *Scanner) applyGroups(ctx context.Context, hashes []string, groups map[string][]string, summary *ScanSummary) error {
	if err := sc.store.Duplicate().DeactivateAll(ctx); err != nil {
		return err
	}

	now := time.Now().UTC()
	seen := make([]int64, 0, len(hashes))
	for _, hash := range hashes {
		paths := groups[hash]
		sort.Strings(paths)

		pageID, created, err := sc.upsertPage(ctx, paths[0], hash, now)
		if err != nil {
			return err
		}
		if created {
			summary.NewPages++
		} else {
			summary.UpdatedPages++
		}
		seen = append(seen, pageID)

		for _, dup := range paths[1:] {
			if err := sc.store.Duplicate().Upsert(ctx, dup, hash, pageID); err != nil {
				return err
			}
			summary.DuplicateFiles++
		}
	}

	missing, err := sc.store.Page().MarkMissingExcept(ctx, seen)
	if err != nil {
		return err
	}
	summary.MissingMarked = missing
	return nil
}

// upsertPage matches a page by content hash first, then by path.
func (sc *Scanner) upsertPage(ctx context.Context, relPath, hash string, now time.Time) (int64, bool, error) {
	page, err := sc.store.Page().GetByHash(ctx, hash)
	if err == nil {
		page.RelPath = relPath
		page.IsMissing = false
		page.LastSeenAt = now
		updated, err := sc.store.Page().Update(ctx, *page)
		if err != nil {
			return 0, false, err
		}
		return updated.ID, false, nil
	}
	if !errors.Is(err, store.ErrRecordNotFound) {
		return 0, false, err
	}

	page, err = sc.store.Page().GetByRelPath(ctx, relPath)
	if err == nil {
		page.FileHash = hash
		page.IsMissing = false
		page.LastSeenAt = now
		updated, err := sc.store.Page().Update(ctx, *page)
		if err != nil {
			return 0, false, err
		}
		return updated.ID, false, nil
	}
	if !errors.Is(err, store.ErrRecordNotFound) {
		return 0, false, err
	}

	created, err := sc.store.Page().Create(ctx, model.Page{
		RelPath:    relPath,
		FileHash:   hash,
		Status:     string(lifecycle.StatusNew),
		LastSeenAt: now,
	})
	if err != nil {
		return 0, false, err
	}
	return created.ID, true, nil
}

func (sc *Scanner) submitNewPages(ctx context.Context) (runtime.SubmitSummary, error) {
	pages, err := sc.store.Page().List(ctx, store.NewPageQueryFilter().ByStatus(string(lifecycle.StatusNew)).ByMissing(false))
	if err != nil {
		return runtime.SubmitSummary{}, err
	}

	ids := make([]int64, 0, len(pages))
	for _, p := range pages {
		ids = append(ids, p.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return sc.submitter.SubmitMany(ctx, sc.autoStage, ids, func(int64) map[string]any {
		return map[string]any{"trigger": "auto"}
	})
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
