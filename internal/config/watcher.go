package config

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"llmrelay/internal/models"
)

const reloadDebounce = 500 * time.Millisecond

// WatchProvidersFile reloads the providers file whenever it changes and hands
// the parsed result to onChange. It blocks until ctx is cancelled.
// A file that fails to parse is logged and skipped; the previous settings stay in effect.
func WatchProvidersFile(ctx context.Context, filePath string, onChange func(*models.ProvidersFile)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory, not the file, so editors that replace the file are still seen
	dir := filepath.Dir(filePath)
	base := filepath.Base(filePath)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	log.Printf("👁️  Watching %s for changes (hot-reload enabled)", filePath)

	var (
		mu       sync.Mutex
		debounce *time.Timer
	)
	reload := func() {
		log.Printf("🔄 Detected changes in %s, reloading...", base)
		file, err := LoadProvidersFile(filePath)
		if err != nil {
			log.Printf("❌ Failed to reload %s: %v", base, err)
			return
		}
		onChange(file)
		log.Printf("✅ %s reloaded", base)
	}
	defer func() {
		mu.Lock()
		if debounce != nil {
			debounce.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			mu.Lock()
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, reload)
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("⚠️ Providers file watcher error: %v", err)
		}
	}
}
