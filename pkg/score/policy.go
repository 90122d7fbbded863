package score

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Band maps a score range to the largest credit limit it allows.
type Band struct {
	MinScore float64 `json:"min_score"`
	MaxScore float64 `json:"max_score"`
	LimitCap float64 `json:"limit_cap"`
}

// DefaultBands is the built-in limit policy.
func DefaultBands() []Band {
	return []Band{
		{MinScore: 0, MaxScore: 299, LimitCap: 1000},
		{MinScore: 300, MaxScore: 499, LimitCap: 5000},
		{MinScore: 500, MaxScore: 699, LimitCap: 10000},
		{MinScore: 700, MaxScore: 849, LimitCap: 20000},
		{MinScore: 850, MaxScore: 1000, LimitCap: 50000},
	}
}

// Policy resolves limit caps from score bands. An optional JSON file
// overrides the defaults and is reloaded when it changes on disk.
type Policy struct {
	mu      sync.RWMutex
	bands   []Band
	path    string
	watcher *fsnotify.Watcher
	timer   *time.Timer
	stopCh  chan struct{}
	logger  zerolog.Logger
}

// NewPolicy creates a policy from the defaults. path == "" disables the file
// override; a missing file is tolerated and watched for creation.
func NewPolicy(path string, logger zerolog.Logger) (*Policy, error) {
	p := &Policy{
		bands:  DefaultBands(),
		path:   path,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	if path == "" {
		return p, nil
	}

	if err := p.reload(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create band watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch band directory: %w", err)
	}
	p.watcher = watcher

	go p.run()

	return p, nil
}

func (p *Policy) run() {
	for {
		select {
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(p.path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				p.scheduleReload()
			}

		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error().Err(err).Msg("Band watcher error")

		case <-p.stopCh:
			return
		}
	}
}

// scheduleReload debounces bursts of write events.
func (p *Policy) scheduleReload() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(200*time.Millisecond, func() {
		if err := p.reload(); err != nil {
			p.logger.Warn().Err(err).Msg("Band reload failed, keeping previous policy")
		}
	})
}

// reload replaces the bands from the override file. Invalid content leaves
// the current bands in place.
func (p *Policy) reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}

	var bands []Band
	if err := json.Unmarshal(data, &bands); err != nil {
		return fmt.Errorf("invalid band file: %w", err)
	}
	if len(bands) == 0 {
		return fmt.Errorf("band file defines no bands")
	}
	for _, b := range bands {
		if b.MinScore > b.MaxScore {
			return fmt.Errorf("band [%v, %v] is inverted", b.MinScore, b.MaxScore)
		}
	}

	p.mu.Lock()
	p.bands = bands
	p.mu.Unlock()

	p.logger.Info().Int("bands", len(bands)).Str("path", p.path).Msg("Score bands loaded")
	return nil
}

// MaxLimit returns the limit cap for a score, zero when no band matches.
func (p *Policy) MaxLimit(score float64) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	best := 0.0
	for _, b := range p.bands {
		if score >= b.MinScore && score <= b.MaxScore && b.LimitCap > best {
			best = b.LimitCap
		}
	}
	return best
}

// Bands returns the active bands.
func (p *Policy) Bands() []Band {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Band(nil), p.bands...)
}

// Close stops the file watcher.
func (p *Policy) Close() error {
	close(p.stopCh)
	if p.watcher != nil {
		return p.watcher.Close()
	}
	return nil
}
