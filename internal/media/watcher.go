package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher watches the spool directory for new recordings. Activity is
// debounced: a burst of file events produces one signal once the spool has
// been quiet for the debounce window. Signals coalesce, so a consumer that
// is slow to drain C sees at most one queued signal.
//
// Example:
//
//	w, err := media.NewWatcher(spoolDir, 500*time.Millisecond, logger)
//	if err != nil { ... }
//	if err := w.Start(); err != nil { ... }
//	defer w.Stop()
//	for range w.C() {
//		uploader.UploadPending(ctx)
//	}
type Watcher struct {
	fs       *fsnotify.Watcher
	dir      string
	debounce time.Duration
	signals  chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	log      zerolog.Logger
}

// NewWatcher creates a watcher for the given spool directory. The watcher
// must be started with Start before it emits anything.
func NewWatcher(dir string, debounce time.Duration, logger zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		fs:       fsw,
		dir:      dir,
		debounce: debounce,
		signals:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		log:      logger.With().Str("component", "spool").Logger(),
	}, nil
}

// Start creates the spool directory if needed and begins watching it.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create spool directory: %w", err)
	}
	if err := w.fs.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch spool directory %s: %w", w.dir, err)
	}

	w.running = true
	w.wg.Add(1)
	go w.loop()
	w.log.Debug().Str("dir", w.dir).Msg("watching spool")
	return nil
}

// Stop stops watching and closes the signal channel. It blocks until the
// event loop has exited. Stopping a watcher that never started is a no-op.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	if err := w.fs.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	w.wg.Wait()
	close(w.signals)
	return nil
}

// C returns the signal channel. It delivers one value per quiet period and
// is closed by Stop.
func (w *Watcher) C() <-chan struct{} {
	return w.signals
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	// The timer only runs between the last interesting event and the end of
	// the debounce window; it starts stopped.
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !isRecording(ev.Name) {
				continue
			}
			// Rename covers recorders that write to a temp name and move
			// the finished file into place.
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("spool watcher error")

		case <-timer.C:
			select {
			case w.signals <- struct{}{}:
			default:
			}
		}
	}
}

// isRecording filters for the audio formats the recorder produces.
func isRecording(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".m4a", ".mp3", ".wav", ".ogg", ".aac", ".flac":
		return true
	default:
		return false
	}
}
