package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// ChatPref is one chat's sticky overrides set by shortcut commands.
type ChatPref struct {
	Engine    string `json:"engine,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Workspace string `json:"workspace,omitempty"`
}

// Prefs persists per-chat overrides across restarts.
type Prefs struct {
	path string

	mu    sync.Mutex
	chats map[int64]ChatPref
}

type prefsFile struct {
	Version int                `json:"version"`
	Chats   map[int64]ChatPref `json:"chats"`
}

// LoadPrefs reads the preference file, starting empty if absent.
func LoadPrefs(path string) (*Prefs, error) {
	p := &Prefs{path: path, chats: make(map[int64]ChatPref)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read prefs %s: %w", path, err)
	}
	var f prefsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("prefs %s is corrupt: %w (delete it to start fresh)", path, err)
	}
	if f.Chats != nil {
		p.chats = f.Chats
	}
	return p, nil
}

// Get returns the chat's overrides, zero if none.
func (p *Prefs) Get(chatID int64) ChatPref {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chats[chatID]
}

// Update applies fn to the chat's overrides under the lock and persists the
// result.
func (p *Prefs) Update(chatID int64, fn func(*ChatPref)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pref := p.chats[chatID]
	fn(&pref)
	if pref == (ChatPref{}) {
		delete(p.chats, chatID)
	} else {
		p.chats[chatID] = pref
	}
	data, err := json.MarshalIndent(prefsFile{Version: 1, Chats: p.chats}, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(p.path, data)
}
