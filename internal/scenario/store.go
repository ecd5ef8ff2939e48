package scenario

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Store holds the loaded scenario pool and hands out scenarios either in
// file order (sequential mode) or by uniform draw with a no-immediate-repeat
// constraint (random mode).
type Store struct {
	mu     sync.Mutex
	pool   []Scenario
	byID   map[string]int
	cursor int
	lastID string
	rng    *rand.Rand
	logger *zap.Logger
}

// NewStore wraps a scenario pool. An empty pool falls back to the built-in
// default scenario so session start never fails.
func NewStore(pool []Scenario, rng *rand.Rand, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if len(pool) == 0 {
		pool = []Scenario{Default()}
		logger.Warn("no scenarios loaded, using built-in default")
	}
	st := &Store{pool: pool, rng: rng, logger: logger}
	st.reindexLocked()
	return st
}

func (st *Store) reindexLocked() {
	st.byID = make(map[string]int, len(st.pool))
	for i, sc := range st.pool {
		st.byID[sc.ID] = i
	}
}

// Len reports the pool size.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.pool)
}

// ByID looks up a scenario. The bool is false when the id is unknown.
func (st *Store) ByID(id string) (Scenario, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	i, ok := st.byID[id]
	if !ok {
		return Scenario{}, false
	}
	st.lastID = st.pool[i].ID
	return st.pool[i], true
}

// Next returns the next scenario in configured order, wrapping around.
func (st *Store) Next() Scenario {
	st.mu.Lock()
	defer st.mu.Unlock()
	sc := st.pool[st.cursor%len(st.pool)]
	st.cursor++
	st.lastID = sc.ID
	return sc
}

// Random draws uniformly from the pool, never repeating the immediately
// preceding scenario unless the pool has size 1.
func (st *Store) Random() Scenario {
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.pool) == 1 {
		st.lastID = st.pool[0].ID
		return st.pool[0]
	}
	for {
		sc := st.pool[st.rng.Intn(len(st.pool))]
		if sc.ID != st.lastID {
			st.lastID = sc.ID
			return sc
		}
	}
}

// Replace swaps the pool wholesale, keeping the draw cursor and repeat guard.
func (st *Store) Replace(pool []Scenario) {
	if len(pool) == 0 {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.pool = pool
	st.reindexLocked()
	if st.cursor >= len(pool) {
		st.cursor = 0
	}
}

// LoadDir reads every .yaml/.yml file under dir as one scenario. Files that
// fail to parse or validate are logged and skipped rather than aborting the
// load; callers fall back to the default scenario when nothing survives.
func LoadDir(dir string, logger *zap.Logger) ([]Scenario, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	pool := make([]Scenario, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		sc, err := loadFile(path)
		if err != nil {
			logger.Warn("skipping scenario file", zap.String("file", name), zap.Error(err))
			continue
		}
		pool = append(pool, sc)
		logger.Info("scenario_loaded", zap.String("id", sc.ID), zap.Float64("target_m", sc.TargetDistance))
	}
	return pool, nil
}

func loadFile(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return Scenario{}, fmt.Errorf("parse: %w", err)
	}
	if sc.ID == "" {
		sc.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if sc.TargetDistance <= 0 {
		return Scenario{}, fmt.Errorf("target_distance must be positive, got %v", sc.TargetDistance)
	}
	if sc.EntrySpeed <= 0 {
		return Scenario{}, fmt.Errorf("entry_speed must be positive, got %v", sc.EntrySpeed)
	}
	if sc.Tolerance <= 0 {
		sc.Tolerance = Default().Tolerance
	}
	return sc, nil
}

// Watch reloads the pool whenever files under the load directory change.
// It returns when stop closes. Reload failures keep the previous pool.
func (st *Store) Watch(dir string, stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("scenario watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	for {
		select {
		case <-stop:
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			pool, err := LoadDir(dir, st.logger)
			if err != nil || len(pool) == 0 {
				st.logger.Warn("scenario reload failed, keeping previous pool", zap.Error(err))
				continue
			}
			st.Replace(pool)
			st.logger.Info("scenario pool reloaded", zap.Int("count", len(pool)))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			st.logger.Warn("scenario watcher error", zap.Error(err))
		}
	}
}
