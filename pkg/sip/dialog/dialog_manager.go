package dialog

import "sync"

// DialogManager stores and looks up active dialogs by their DialogKey. A
// UAC dialog is added under a key with an empty RemoteTag and re-keyed via
// UpdateKey once the peer's tag arrives on the first response (see
// Stack.handleInviteResponse).
type DialogManager struct {
	mu      sync.RWMutex
	dialogs map[DialogKey]*Dialog
}

// NewDialogManager creates an empty DialogManager.
func NewDialogManager() *DialogManager {
	return &DialogManager{dialogs: make(map[DialogKey]*Dialog)}
}

// Add stores a new dialog, failing if its key is already tracked.
func (m *DialogManager) Add(d *Dialog) error {
	key := d.Key()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.dialogs[key]; exists {
		return ErrDialogExists
	}
	m.dialogs[key] = d
	return nil
}

// Get looks up a dialog by key.
func (m *DialogManager) Get(key DialogKey) (*Dialog, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.dialogs[key]
	return d, ok
}

// GetAll returns every dialog currently tracked.
func (m *DialogManager) GetAll() []*Dialog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Dialog, 0, len(m.dialogs))
	for _, d := range m.dialogs {
		out = append(out, d)
	}
	return out
}

// Remove drops a dialog from tracking.
func (m *DialogManager) Remove(key DialogKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dialogs, key)
}

// UpdateKey re-keys a tracked dialog, used once a UAC dialog's RemoteTag
// becomes known from the peer's first response.
func (m *DialogManager) UpdateKey(oldKey, newKey DialogKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dialogs[oldKey]
	if !ok {
		return ErrDialogNotFound
	}
	delete(m.dialogs, oldKey)
	m.dialogs[newKey] = d
	return nil
}

// Clear removes every tracked dialog.
func (m *DialogManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dialogs = make(map[DialogKey]*Dialog)
}
