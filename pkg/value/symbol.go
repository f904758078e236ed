package value

import "sync"

// symbolTable interns strings into a process-wide, append-only table.
// Entries are never removed (§3.4): once a string is admitted, the same
// handle is returned for every subsequent FromSymbol call with the same
// bytes, which is what makes symbol equality a cheap handle comparison.
type symbolTable struct {
	mu      sync.Mutex
	names   []string
	handles map[string]uint32
}

var symbolTableGlobal = &symbolTable{handles: make(map[string]uint32)}

func (t *symbolTable) intern(name string) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if handle, ok := t.handles[name]; ok {
		return handle
	}
	handle := uint32(len(t.names))
	t.names = append(t.names, name)
	t.handles[name] = handle
	return handle
}

func (t *symbolTable) nameOf(handle uint32) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.names[handle]
}

// FromSymbol interns name and returns the (permanent) Value for it.
func FromSymbol(name string) Value {
	return makeTagged(tagSymbol, uint64(symbolTableGlobal.intern(name)))
}

// SymbolName returns the interned string behind v, or "" and false if v
// is not a symbol.
func SymbolName(v Value) (string, bool) {
	if !v.IsSymbol() {
		return "", false
	}
	return symbolTableGlobal.nameOf(uint32(rawPayload(uint64(v)))), true
}
