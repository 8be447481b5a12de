package pipeline

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"docrag/pkg/loader"
	"docrag/pkg/util"
)

// Watch ingests every supported file under dir, then re-ingests files as
// they change until ctx is canceled. Change bursts are debounced so a
// save-heavy editor session triggers one re-ingest, not dozens.
func (p *Pipeline) Watch(ctx context.Context, dir, corpusID string, ld *loader.Loader) error {
	chunks, err := ld.LoadDir(dir)
	if err != nil {
		return err
	}
	if len(chunks) > 0 {
		if _, err := p.Ingest(ctx, corpusID, chunks); err != nil {
			return err
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	var mu sync.Mutex
	pending := make(map[string]bool)
	var debounce *time.Timer

	process := func() {
		mu.Lock()
		files := make([]string, 0, len(pending))
		for f := range pending {
			files = append(files, f)
		}
		pending = make(map[string]bool)
		mu.Unlock()

		for _, path := range files {
			if !loader.SupportedExt(filepath.Ext(path)) {
				continue
			}
			if _, err := os.Stat(path); err != nil {
				continue // deleted between event and processing
			}
			chunks, err := ld.LoadFile(path)
			if err != nil {
				util.Debugf(util.DebugSummary, "watch: loading %s: %v", path, err)
				continue
			}
			if _, err := p.Ingest(ctx, corpusID, chunks); err != nil {
				util.Debugf(util.DebugSummary, "watch: re-ingest of %s failed: %v", path, err)
				continue
			}
			util.Debugf(util.DebugSummary, "watch: re-ingested %s", path)
		}
	}

	for {
		select {
		case <-ctx.Done():
			p.Flush()
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			mu.Lock()
			pending[event.Name] = true
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(500*time.Millisecond, process)
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			util.Debugf(util.DebugSummary, "watch: %v", err)
		}
	}
}
