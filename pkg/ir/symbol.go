package ir

import "fmt"

// Symbol uniquely identifies a value in the IR.
type Symbol uint32

// JoinPointID names a join point reachable via Jump.
type JoinPointID Symbol

// IdentIds allocates symbols for the current module. Fresh symbols are used
// by passes to synthesize bindings without colliding with existing names.
type IdentIds struct {
	next     Symbol
	names    map[Symbol]string
	interned map[string]Symbol
}

// NewIdentIds creates an empty allocator.
func NewIdentIds() *IdentIds {
	return &IdentIds{
		next:     1,
		names:    make(map[Symbol]string),
		interned: make(map[string]Symbol),
	}
}

// Fresh returns a new symbol. The debug name only affects printing.
func (ids *IdentIds) Fresh(debugName string) Symbol {
	s := ids.next
	ids.next++
	if debugName != "" {
		ids.names[s] = fmt.Sprintf("%s_%d", debugName, uint32(s))
	}
	return s
}

// Named returns the symbol interned for name, allocating it on first use.
func (ids *IdentIds) Named(name string) Symbol {
	if s, ok := ids.interned[name]; ok {
		return s
	}
	s := ids.next
	ids.next++
	ids.interned[name] = s
	ids.names[s] = name
	return s
}

// Name returns a printable name for a symbol.
func (ids *IdentIds) Name(s Symbol) string {
	if n, ok := ids.names[s]; ok {
		return n
	}
	return fmt.Sprintf("sym_%d", uint32(s))
}
