// Package scanner walks each project's ContentSource trees, discovers
// media items not yet represented as a PublishingTask, and materializes
// them via the Task Store's idempotent CreateTasks.
package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"publishengine/internal/logging"
	"publishengine/internal/store"
)

// ExtensionSet names the media and sidecar extensions recognized for one
// ContentSource.Type, per SPEC_FULL.md's Scanner supplement.
type ExtensionSet struct {
	Media    []string
	Sidecar  string
}

// DefaultExtensionSets returns the per-kind extension sets named in
// SPEC_FULL.md: video (.mp4/.mov), image_set (.jpg/.jpeg/.png, one task per
// sidecar covering a gallery directory), text (.txt/.md).
func DefaultExtensionSets() map[store.ContentSourceType]ExtensionSet {
	return map[store.ContentSourceType]ExtensionSet{
		store.SourceTypeVideo:    {Media: []string{".mp4", ".mov"}, Sidecar: ".json"},
		store.SourceTypeImageSet: {Media: []string{".jpg", ".jpeg", ".png"}, Sidecar: ".json"},
		store.SourceTypeText:     {Media: []string{".txt", ".md"}, Sidecar: ".json"},
	}
}

// TaskStore is the subset of internal/store's PostgresStore the Scanner
// depends on, narrowed to an interface so it can be tested without Postgres.
type TaskStore interface {
	CreateTasks(ctx context.Context, batch []store.TaskBatch) (created int, skipped int, err error)
	RecordScan(ctx context.Context, sourceID int64, totalItems, usedItems int, scannedAt time.Time) error
}

// Scanner enumerates ContentSource trees and creates pending tasks.
type Scanner struct {
	mediaRoot string
	extSets   map[store.ContentSourceType]ExtensionSet
	store     TaskStore
	logger    logging.Logger

	malformedMetadata int // diagnostic counter, per spec.md §4.2
}

// New constructs a Scanner rooted at mediaRoot, the base directory every
// stored media_path resolves against.
func New(mediaRoot string, taskStore TaskStore, logger logging.Logger) *Scanner {
	return &Scanner{
		mediaRoot: filepath.Clean(mediaRoot),
		extSets:   DefaultExtensionSets(),
		store:     taskStore,
		logger:    logging.OrNop(logger),
	}
}

// MalformedMetadataCount reports how many candidates were skipped this
// process's lifetime due to unreadable or invalid sidecar metadata.
func (sc *Scanner) MalformedMetadataCount() int {
	return sc.malformedMetadata
}

// candidate is one discovered media item awaiting task creation.
type candidate struct {
	mediaPath string // canonical, relative to mediaRoot, forward-slash separated
	metadata  []byte
}

// Scan walks one ContentSource's tree, creates pending tasks for every new
// item, and updates the source's counters. It never re-creates a task for
// an existing (project_id, media_path) key — deduplication is enforced at
// the store, per spec.md §4.2.
func (sc *Scanner) Scan(ctx context.Context, projectID int64, source store.ContentSource, now time.Time) (created, skipped int, err error) {
	extSet, ok := sc.extSets[source.Type]
	if !ok {
		return 0, 0, fmt.Errorf("scanner: unrecognized content source type %q", source.Type)
	}

	candidates, err := sc.discover(source, extSet)
	if err != nil {
		return 0, 0, fmt.Errorf("scanner: walk %s: %w", source.Path, err)
	}

	batch := make([]store.TaskBatch, 0, len(candidates))
	for _, c := range candidates {
		batch = append(batch, store.TaskBatch{
			ProjectID:   projectID,
			SourceID:    source.ID,
			MediaPath:   c.mediaPath,
			ContentData: c.metadata,
			ScheduledAt: now, // provisional; the Scheduler places the real slot
			Priority:    0,
		})
	}

	created, skipped, err = sc.store.CreateTasks(ctx, batch)
	if err != nil {
		return 0, 0, err
	}

	totalItems := source.TotalItems + created
	usedItems := source.UsedItems + created
	if recErr := sc.store.RecordScan(ctx, source.ID, totalItems, usedItems, now); recErr != nil {
		sc.logger.Warn("scanner: failed to record scan counters for source %d: %v", source.ID, recErr)
	}

	sc.logger.Info("scanned %s: %d created, %d skipped, %d malformed", source.Path, created, skipped, sc.malformedMetadata)
	return created, skipped, nil
}

// discover walks source.Path for media/sidecar pairs. For image_set
// sources, every image sharing one sidecar basename within the same
// directory is treated as a single candidate (one task per sidecar, per
// SPEC_FULL.md).
func (sc *Scanner) discover(source store.ContentSource, extSet ExtensionSet) ([]candidate, error) {
	if source.Type == store.SourceTypeImageSet {
		return sc.discoverImageSets(source, extSet)
	}
	return sc.discoverFlat(source, extSet)
}

func (sc *Scanner) discoverFlat(source store.ContentSource, extSet ExtensionSet) ([]candidate, error) {
	var out []candidate
	err := filepath.WalkDir(source.Path, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !hasAnyExt(path, extSet.Media) {
			return nil
		}
		meta, ok := sc.readSidecar(path, extSet.Sidecar)
		if !ok {
			return nil
		}
		rel, relErr := sc.canonicalize(path)
		if relErr != nil {
			return relErr
		}
		out = append(out, candidate{mediaPath: rel, metadata: meta})
		return nil
	})
	return out, err
}

func (sc *Scanner) discoverImageSets(source store.ContentSource, extSet ExtensionSet) ([]candidate, error) {
	bySidecar := map[string][]string{} // sidecar path -> image paths sharing it
	err := filepath.WalkDir(source.Path, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !hasAnyExt(path, extSet.Media) {
			return nil
		}
		sidecar := sidecarPath(path, extSet.Sidecar)
		bySidecar[sidecar] = append(bySidecar[sidecar], path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sidecars := make([]string, 0, len(bySidecar))
	for k := range bySidecar {
		sidecars = append(sidecars, k)
	}
	sort.Strings(sidecars)

	var out []candidate
	for _, sidecar := range sidecars {
		meta, ok := sc.readSidecarFile(sidecar)
		if !ok {
			continue
		}
		// The gallery's natural key is the sidecar itself: the directory of
		// images it covers is treated as one publication unit.
		rel, relErr := sc.canonicalize(sidecar)
		if relErr != nil {
			return nil, relErr
		}
		out = append(out, candidate{mediaPath: rel, metadata: meta})
	}
	return out, nil
}

func hasAnyExt(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

func sidecarPath(mediaPath, sidecarExt string) string {
	base := strings.TrimSuffix(mediaPath, filepath.Ext(mediaPath))
	return base + sidecarExt
}

func (sc *Scanner) readSidecar(mediaPath, sidecarExt string) ([]byte, bool) {
	return sc.readSidecarFile(sidecarPath(mediaPath, sidecarExt))
}

func (sc *Scanner) readSidecarFile(path string) ([]byte, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		sc.malformedMetadata++
		sc.logger.Debug("skipping candidate: sidecar %s unreadable: %v", path, err)
		return nil, false
	}
	var probe map[string]any
	if err := json.Unmarshal(data, &probe); err != nil {
		sc.malformedMetadata++
		sc.logger.Debug("skipping candidate: sidecar %s invalid JSON: %v", path, err)
		return nil, false
	}
	return data, true
}

// canonicalize resolves path relative to the configured media root and
// normalizes separators to forward slashes, so stored media_path values
// are portable across operating systems per spec.md §4.2's path discipline.
func (sc *Scanner) canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(sc.mediaRoot, abs)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}
