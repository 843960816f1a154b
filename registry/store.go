package registry

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/ilastik/blockpipeline/internal/logging"
)

// Entry is one key's current value, used by Dump.
type Entry struct {
	Key   Key    `json:"key"`
	Value string `json:"value"`
}

// LogEntry is one append-only log line (spec §3: "formatted strings").
type LogEntry struct {
	Seq       int       `json:"seq"`
	Level     string    `json:"level"`
	Timestamp time.Time `json:"timestamp"`
	ServiceID string    `json:"service_id"`
	Message   string    `json:"message"`
}

func (e LogEntry) format() string {
	return fmt.Sprintf("[%s] %s %s: %s", e.Level, e.Timestamp.Format(time.RFC3339Nano), e.ServiceID, e.Message)
}

// Store is the durable typed KV backing the registry service. Unlike
// the cache, registry durability is in scope (spec's Non-goals only
// exclude persistent durability of the *cache*): a pebble instance
// gives restarts a working configuration without re-running /setup
// against every worker.
type Store struct {
	db  *pebble.DB
	mu  sync.Mutex // serializes list read-modify-write across keys
	log logging.Logger
}

// Open opens (or creates) a pebble-backed registry store at dir.
func Open(dir string, log logging.Logger) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("registry: opening pebble store at %s: %w", dir, err)
	}
	s := &Store{db: db, log: log}
	s.logBanner()
	return s, nil
}

// Close releases the underlying pebble store.
func (s *Store) Close() error {
	return s.db.Close()
}

func scalarKey(k Key) []byte { return []byte("scalar/" + k) }
func listKey(k Key) []byte   { return []byte("list/" + k) }

// Get returns the scalar string value for k, or ok=false if unset.
func (s *Store) Get(k Key) (value string, ok bool, err error) {
	if err := validate(k); err != nil {
		return "", false, err
	}
	if k.IsList() {
		return "", false, fmt.Errorf("registry: %q is list-valued, use GetList", k)
	}
	v, closer, err := s.db.Get(scalarKey(k))
	if err == pebble.ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("registry: get %q: %w", k, err)
	}
	defer closer.Close()
	return string(v), true, nil
}

// GetBytes returns the raw byte-blob value for k (spec: classifier
// blob), or ok=false if unset.
func (s *Store) GetBytes(k Key) (value []byte, ok bool, err error) {
	if err := validate(k); err != nil {
		return nil, false, err
	}
	v, closer, err := s.db.Get(scalarKey(k))
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("registry: get %q: %w", k, err)
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// GetList returns the sequence of values for a list-valued key.
func (s *Store) GetList(k Key) ([]string, error) {
	if err := validate(k); err != nil {
		return nil, err
	}
	if !k.IsList() {
		return nil, fmt.Errorf("registry: %q is scalar-valued, use Get", k)
	}
	return s.readListLocked(k)
}

func (s *Store) readListLocked(k Key) ([]string, error) {
	v, closer, err := s.db.Get(listKey(k))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: get list %q: %w", k, err)
	}
	defer closer.Close()
	var out []string
	if jsonErr := json.Unmarshal(v, &out); jsonErr != nil {
		return nil, fmt.Errorf("registry: list %q is corrupt: %w", k, jsonErr)
	}
	return out, nil
}

// Set writes value for k: a list-valued key appends, every other key
// replaces (spec §4.9).
func (s *Store) Set(k Key, value string) error {
	if err := validate(k); err != nil {
		return err
	}
	if k.IsList() {
		return s.appendList(k, value)
	}
	if err := s.db.Set(scalarKey(k), []byte(value), pebble.Sync); err != nil {
		return fmt.Errorf("registry: set %q: %w", k, err)
	}
	return nil
}

// SetBytes writes a raw byte-blob value for k (the classifier model).
func (s *Store) SetBytes(k Key, value []byte) error {
	if err := validate(k); err != nil {
		return err
	}
	if k.IsList() {
		return fmt.Errorf("registry: %q is list-valued, cannot SetBytes", k)
	}
	if err := s.db.Set(scalarKey(k), value, pebble.Sync); err != nil {
		return fmt.Errorf("registry: set %q: %w", k, err)
	}
	return nil
}

func (s *Store) appendList(k Key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readListLocked(k)
	if err != nil {
		return err
	}
	current = append(current, value)
	encoded, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("registry: encoding list %q: %w", k, err)
	}
	if err := s.db.Set(listKey(k), encoded, pebble.Sync); err != nil {
		return fmt.Errorf("registry: set list %q: %w", k, err)
	}
	return nil
}

// Remove deletes the first occurrence of value from a list-valued
// key. Remove is only defined for the worker-IP list (spec §4.9);
// attempting it on any other key — including the log, and including
// any scalar key — is a validation error, matching the original's
// "remove is only allowed for pixel classification worker IPs".
func (s *Store) Remove(k Key, value string) error {
	if k != PixelClassificationWorkerIPs {
		return fmt.Errorf("registry: remove is only defined for %q, got %q", PixelClassificationWorkerIPs, k)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readListLocked(k)
	if err != nil {
		return err
	}
	idx := -1
	for i, v := range current {
		if v == value {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.log.Warn("registry: remove target not present", logging.String("key", string(k)), logging.String("value", value))
		return nil
	}
	current = append(current[:idx], current[idx+1:]...)
	encoded, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("registry: encoding list %q: %w", k, err)
	}
	if err := s.db.Set(listKey(k), encoded, pebble.Sync); err != nil {
		return fmt.Errorf("registry: set list %q: %w", k, err)
	}
	s.log.Info("registry: removed from list", logging.String("key", string(k)), logging.String("value", value))
	return nil
}

// Append pushes a formatted LogEntry onto the append-only log.
func (s *Store) Append(level, serviceID, message string) error {
	s.mu.Lock()
	current, err := s.readListLocked(Log)
	seq := len(current)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	entry := LogEntry{Seq: seq, Level: level, Timestamp: time.Now(), ServiceID: serviceID, Message: message}
	return s.appendList(Log, entry.format())
}

// TailLog returns every log entry with Seq >= since, supplementing the
// original's extractLog.py script as a first-class read operation.
func (s *Store) TailLog(since int) ([]string, error) {
	lines, err := s.GetList(Log)
	if err != nil {
		return nil, err
	}
	if since < 0 {
		since = 0
	}
	if since >= len(lines) {
		return nil, nil
	}
	return lines[since:], nil
}

// Dump returns the current value of every registry key, for the debug
// endpoint and startup banner (supplemented from
// original_source's Registry.printContents).
func (s *Store) Dump() ([]Entry, error) {
	entries := make([]Entry, 0, len(allowedKeys))
	for k := range allowedKeys {
		var rendered string
		switch {
		case k == PCRandomForest:
			blob, ok, err := s.GetBytes(k)
			if err != nil {
				return nil, err
			}
			if ok {
				rendered = fmt.Sprintf("<binary blob, %d bytes>", len(blob))
			}
		case k.IsList():
			list, err := s.GetList(k)
			if err != nil {
				return nil, err
			}
			rendered = fmt.Sprintf("%v", list)
		default:
			v, ok, err := s.Get(k)
			if err != nil {
				return nil, err
			}
			if ok {
				rendered = v
			}
		}
		entries = append(entries, Entry{Key: k, Value: rendered})
	}
	return entries, nil
}

func (s *Store) logBanner() {
	if s.log == nil {
		return
	}
	entries, err := s.Dump()
	if err != nil {
		s.log.Warn("registry: failed to dump contents at startup", logging.Err(err))
		return
	}
	for _, e := range entries {
		s.log.Info("registry entry", logging.String("key", string(e.Key)), logging.String("value", e.Value), logging.String("description", allowedKeys[e.Key]))
	}
}
