package lsp

import "sync"

// focusKind says what prompted a focus change.
type focusKind uint8

const (
	// focusOpen is a didOpen notification.
	focusOpen focusKind = iota
	// focusActivity is an editing-adjacent request (folding, hover,
	// semantic tokens) that implies the user is looking at the file.
	focusActivity
	// focusManual is the explicit focusMain command.
	focusManual
)

// focusState decides which focus changes count. A manual focus latches and
// suppresses all implicit focusing until released; activity focus wins over
// opens, which only count until the first activity is seen. Pin suppression
// is not decided here: the registry's Focus records a suppressed focus as
// the unpin fallback.
type focusState struct {
	mu                  sync.Mutex
	everManualFocus     bool
	everFocusByActivity bool
	lastImplicitFocus   string
}

// note records the focus and reports whether it should reach the registry.
// Implicit focus is remembered even when suppressed by the manual latch so
// a later release can fall back to it.
func (f *focusState) note(kind focusKind, path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch kind {
	case focusManual:
		f.everManualFocus = true
		return true
	case focusActivity:
		f.everFocusByActivity = true
		f.lastImplicitFocus = path
		return !f.everManualFocus
	default:
		if f.everFocusByActivity {
			return false
		}
		f.lastImplicitFocus = path
		return !f.everManualFocus
	}
}

// release clears the manual-focus latch and returns the path implicit focus
// last pointed at, so focusMain(null) can restore it.
func (f *focusState) release() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.everManualFocus = false
	return f.lastImplicitFocus
}
