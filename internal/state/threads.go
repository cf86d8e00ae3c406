package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// maxThreads caps the thread map so chats with heavy topic churn do not
// grow the file forever. The least recently bound entry falls off.
const maxThreads = 256

// Threads persists the (chat, topic) → thread-key mapping that lets a bare
// follow-up message land in the right engine session.
type Threads struct {
	path string

	mu      sync.Mutex
	entries map[string]string
	order   []string // insertion order, oldest first
}

type threadsFile struct {
	Version int               `json:"version"`
	Entries map[string]string `json:"entries"`
	Order   []string          `json:"order"`
}

// LoadThreads reads the map from path, starting empty if the file does not
// exist. A malformed file is an error naming the path, never silently reset.
func LoadThreads(path string) (*Threads, error) {
	t := &Threads{path: path, entries: make(map[string]string)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read thread map %s: %w", path, err)
	}
	var f threadsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("thread map %s is corrupt: %w (delete it to start fresh)", path, err)
	}
	for k, v := range f.Entries {
		t.entries[k] = v
	}
	t.order = f.Order
	// Rebuild order for files from before order was tracked.
	if len(t.order) != len(t.entries) {
		t.order = t.order[:0]
		for k := range t.entries {
			t.order = append(t.order, k)
		}
	}
	return t, nil
}

func threadID(chatID int64, topicID int) string {
	return fmt.Sprintf("%d:%d", chatID, topicID)
}

// Lookup returns the thread key bound to (chatID, topicID).
func (t *Threads) Lookup(chatID int64, topicID int) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key, ok := t.entries[threadID(chatID, topicID)]
	return key, ok
}

// Remember binds (chatID, topicID) to key and persists. Re-binding moves the
// thread to the back of the eviction order, so active threads outlive idle
// ones.
func (t *Threads) Remember(chatID int64, topicID int, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := threadID(chatID, topicID)
	if _, exists := t.entries[id]; exists {
		for i, o := range t.order {
			if o == id {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
	}
	t.order = append(t.order, id)
	t.entries[id] = key
	for len(t.order) > maxThreads {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.entries, oldest)
	}
	return t.save()
}

// Forget unbinds (chatID, topicID), used by /new.
func (t *Threads) Forget(chatID int64, topicID int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := threadID(chatID, topicID)
	if _, exists := t.entries[id]; !exists {
		return nil
	}
	delete(t.entries, id)
	for i, o := range t.order {
		if o == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return t.save()
}

// ForgetEngine drops every binding whose key starts with engine ":", used by
// /drop <engine>.
func (t *Threads) ForgetEngine(engine string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prefix := engine + ":"
	dropped := 0
	kept := t.order[:0]
	for _, id := range t.order {
		if len(t.entries[id]) >= len(prefix) && t.entries[id][:len(prefix)] == prefix {
			delete(t.entries, id)
			dropped++
			continue
		}
		kept = append(kept, id)
	}
	t.order = kept
	if dropped == 0 {
		return 0, nil
	}
	return dropped, t.save()
}

func (t *Threads) save() error {
	data, err := json.MarshalIndent(threadsFile{Version: 1, Entries: t.entries, Order: t.order}, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(t.path, data)
}
