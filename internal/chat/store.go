// Package chat implements the bidirectional channel: token-gated websocket
// presence, message routing, and the durable per-conversation history.
package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"market-stream/internal/models"
)

// ErrBadParticipant rejects identifiers that cannot form a safe file name.
var ErrBadParticipant = errors.New("invalid participant identifier")

const rosterFile = "roster.json"

// Store persists one JSON history file per conversation key plus the
// append-only identity roster. Appends to the same key are serialized by a
// per-key mutex; different keys never block each other.
type Store struct {
	dir string

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	rosterMu sync.Mutex
	roster   map[string]models.Identity
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create chat dir: %w", err)
	}

	s := &Store{
		dir:    dir,
		locks:  make(map[string]*sync.Mutex),
		roster: make(map[string]models.Identity),
	}
	if err := s.loadRoster(); err != nil {
		return nil, err
	}
	return s, nil
}

// ConversationKey is the sorted participant pair joined with an underscore.
// Both participants resolve to the same key regardless of direction.
func ConversationKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "_" + b
}

// Append loads the history for the pair's key, appends the message with a
// server-assigned timestamp, and writes the whole file back. The per-key
// lock makes the load-modify-store cycle a critical section.
func (s *Store) Append(from, to, body string) (models.ChatMessage, error) {
	key := ConversationKey(from, to)
	path, err := s.historyPath(key)
	if err != nil {
		return models.ChatMessage{}, err
	}

	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	history, err := readHistory(path)
	if err != nil {
		return models.ChatMessage{}, err
	}

	msg := models.ChatMessage{
		From:      from,
		To:        to,
		Message:   body,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	history = append(history, msg)

	payload, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return models.ChatMessage{}, err
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return models.ChatMessage{}, fmt.Errorf("persist conversation %s: %w", key, err)
	}
	return msg, nil
}

// History returns the persisted messages for the pair in insertion order.
// A pair with no prior conversation yields an empty slice, not an error.
func (s *Store) History(a, b string) ([]models.ChatMessage, error) {
	key := ConversationKey(a, b)
	path, err := s.historyPath(key)
	if err != nil {
		return nil, err
	}

	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	return readHistory(path)
}

// AddIdentity appends the identity to the durable roster unless its email is
// already known. The first-seen display name is never overwritten.
func (s *Store) AddIdentity(identity models.Identity) error {
	s.rosterMu.Lock()
	defer s.rosterMu.Unlock()

	if _, ok := s.roster[identity.Email]; ok {
		return nil
	}
	s.roster[identity.Email] = identity
	return s.persistRoster()
}

// Roster lists every identity ever authenticated, sorted by email.
func (s *Store) Roster() []models.Identity {
	s.rosterMu.Lock()
	defer s.rosterMu.Unlock()

	out := make([]models.Identity, 0, len(s.roster))
	for _, identity := range s.roster {
		out = append(out, identity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}

func (s *Store) keyLock(key string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

func (s *Store) historyPath(key string) (string, error) {
	name := key + ".json"
	// Participant ids become file names, so they must not traverse.
	if strings.ContainsAny(key, `/\`) || filepath.Base(name) != name {
		return "", ErrBadParticipant
	}
	return filepath.Join(s.dir, name), nil
}

func readHistory(path string) ([]models.ChatMessage, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []models.ChatMessage{}, nil
	}
	if err != nil {
		return nil, err
	}

	var history []models.ChatMessage
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("corrupt conversation file %s: %w", path, err)
	}
	return history, nil
}

func (s *Store) loadRoster() error {
	data, err := os.ReadFile(filepath.Join(s.dir, rosterFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var identities []models.Identity
	if err := json.Unmarshal(data, &identities); err != nil {
		return fmt.Errorf("corrupt roster file: %w", err)
	}
	for _, identity := range identities {
		if _, ok := s.roster[identity.Email]; !ok {
			s.roster[identity.Email] = identity
		}
	}
	return nil
}

// persistRoster is called with rosterMu held.
func (s *Store) persistRoster() error {
	identities := make([]models.Identity, 0, len(s.roster))
	for _, identity := range s.roster {
		identities = append(identities, identity)
	}
	sort.Slice(identities, func(i, j int) bool { return identities[i].Email < identities[j].Email })

	payload, err := json.MarshalIndent(identities, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, rosterFile), payload, 0o644)
}
