// Package dropspec rewrites a reference-counted IR to cancel redundant
// increment/decrement pairs and to replace generic decrements with
// specialized per-field and per-element decrements, enabling in-place reuse
// of uniquely-owned memory.
package dropspec

import (
	"fmt"

	"github.com/Maldus512/roc/pkg/ir"
	"github.com/Maldus512/roc/pkg/layout"
)

type structChild struct {
	Child ir.Symbol
	Index uint64
}

type unionChild struct {
	Child ir.Symbol
	Tag   uint16
	Index uint64
}

type listChild struct {
	Child ir.Symbol
	Index uint64
}

// Environment tracks the facts known along one linear control path: the
// layout of every binding, which symbols were projected out of which
// parents, known union tags, known list index values and lengths, and the
// outstanding (not yet cancelled) increments.
type Environment struct {
	store *layout.Store
	ret   layout.ID

	symbolLayouts  map[ir.Symbol]layout.ID
	structChildren map[ir.Symbol][]structChild
	unionChildren  map[ir.Symbol][]unionChild
	boxChildren    map[ir.Symbol][]ir.Symbol
	listChildren   map[ir.Symbol][]listChild

	incremented map[ir.Symbol]uint64
	symbolTag   map[ir.Symbol]uint16
	symbolIndex map[ir.Symbol]uint64
	listLength  map[ir.Symbol]uint64
}

// NewEnvironment creates an environment for one procedure with the given
// return layout.
func NewEnvironment(store *layout.Store, ret layout.ID) *Environment {
	return &Environment{
		store:          store,
		ret:            ret,
		symbolLayouts:  make(map[ir.Symbol]layout.ID),
		structChildren: make(map[ir.Symbol][]structChild),
		unionChildren:  make(map[ir.Symbol][]unionChild),
		boxChildren:    make(map[ir.Symbol][]ir.Symbol),
		listChildren:   make(map[ir.Symbol][]listChild),
		incremented:    make(map[ir.Symbol]uint64),
		symbolTag:      make(map[ir.Symbol]uint16),
		symbolIndex:    make(map[ir.Symbol]uint64),
		listLength:     make(map[ir.Symbol]uint64),
	}
}

// ForkWithoutIncrements copies the path-invariant state (layouts, child
// registries, known tags, indices and lengths) into a fresh environment and
// resets the outstanding increments. It is used wherever linear reasoning
// breaks down: switch branches, join bodies, and after expressions that can
// run refcount-affecting code.
func (e *Environment) ForkWithoutIncrements() *Environment {
	fork := &Environment{
		store:          e.store,
		ret:            e.ret,
		symbolLayouts:  make(map[ir.Symbol]layout.ID, len(e.symbolLayouts)),
		structChildren: make(map[ir.Symbol][]structChild, len(e.structChildren)),
		unionChildren:  make(map[ir.Symbol][]unionChild, len(e.unionChildren)),
		boxChildren:    make(map[ir.Symbol][]ir.Symbol, len(e.boxChildren)),
		listChildren:   make(map[ir.Symbol][]listChild, len(e.listChildren)),
		incremented:    make(map[ir.Symbol]uint64),
		symbolTag:      make(map[ir.Symbol]uint16, len(e.symbolTag)),
		symbolIndex:    make(map[ir.Symbol]uint64, len(e.symbolIndex)),
		listLength:     make(map[ir.Symbol]uint64, len(e.listLength)),
	}
	for k, v := range e.symbolLayouts {
		fork.symbolLayouts[k] = v
	}
	for k, v := range e.structChildren {
		fork.structChildren[k] = append([]structChild(nil), v...)
	}
	for k, v := range e.unionChildren {
		fork.unionChildren[k] = append([]unionChild(nil), v...)
	}
	for k, v := range e.boxChildren {
		fork.boxChildren[k] = append([]ir.Symbol(nil), v...)
	}
	for k, v := range e.listChildren {
		fork.listChildren[k] = append([]listChild(nil), v...)
	}
	for k, v := range e.symbolTag {
		fork.symbolTag[k] = v
	}
	for k, v := range e.symbolIndex {
		fork.symbolIndex[k] = v
	}
	for k, v := range e.listLength {
		fork.listLength[k] = v
	}
	return fork
}

// AddSymbolLayout records the layout of a binding. A symbol's layout never
// changes once recorded.
func (e *Environment) AddSymbolLayout(sym ir.Symbol, l layout.ID) {
	e.symbolLayouts[sym] = l
}

// GetSymbolLayout returns the recorded layout of a symbol. Every binding
// must record its layout before its continuation is processed, so a missing
// layout is a compiler bug.
func (e *Environment) GetSymbolLayout(sym ir.Symbol) layout.ID {
	l, ok := e.symbolLayouts[sym]
	if !ok {
		panic(fmt.Sprintf("no layout recorded for symbol %d", sym))
	}
	return l
}

// AddStructChild records that child was projected out of parent's field at
// the given index.
func (e *Environment) AddStructChild(parent, child ir.Symbol, index uint64) {
	e.structChildren[parent] = append(e.structChildren[parent], structChild{Child: child, Index: index})
}

// AddUnionChild records that child was projected out of parent's variant
// field at the given tag and index.
func (e *Environment) AddUnionChild(parent, child ir.Symbol, tag uint16, index uint64) {
	e.unionChildren[parent] = append(e.unionChildren[parent], unionChild{Child: child, Tag: tag, Index: index})
}

// AddBoxChild records that child was unboxed out of parent.
func (e *Environment) AddBoxChild(parent, child ir.Symbol) {
	e.boxChildren[parent] = append(e.boxChildren[parent], child)
}

// AddListChild records that child was read out of parent at the index held
// by indexSym. If the index value is not statically known nothing is
// registered.
func (e *Environment) AddListChild(parent, child, indexSym ir.Symbol) {
	if index, ok := e.symbolIndex[indexSym]; ok {
		e.listChildren[parent] = append(e.listChildren[parent], listChild{Child: child, Index: index})
	}
}

// GetChildren returns all symbols known to have been projected out of
// parent, across every aggregate kind.
func (e *Environment) GetChildren(parent ir.Symbol) []ir.Symbol {
	var res []ir.Symbol
	for _, c := range e.structChildren[parent] {
		res = append(res, c.Child)
	}
	for _, c := range e.unionChildren[parent] {
		res = append(res, c.Child)
	}
	res = append(res, e.boxChildren[parent]...)
	for _, c := range e.listChildren[parent] {
		res = append(res, c.Child)
	}
	return res
}

// SetTag records the known tag of a union symbol.
func (e *Environment) SetTag(sym ir.Symbol, tag uint16) {
	e.symbolTag[sym] = tag
}

// Tag returns the known tag of a union symbol, if any.
func (e *Environment) Tag(sym ir.Symbol) (uint16, bool) {
	t, ok := e.symbolTag[sym]
	return t, ok
}

// SetIndex records the known literal value of an integer symbol.
func (e *Environment) SetIndex(sym ir.Symbol, index uint64) {
	e.symbolIndex[sym] = index
}

// SetListLength records the known length of a list symbol.
func (e *Environment) SetListLength(sym ir.Symbol, length uint64) {
	e.listLength[sym] = length
}

// ListLength returns the known length of a list symbol, if any.
func (e *Environment) ListLength(sym ir.Symbol) (uint64, bool) {
	l, ok := e.listLength[sym]
	return l, ok
}

// AddIncremented records count outstanding increments for sym.
func (e *Environment) AddIncremented(sym ir.Symbol, count uint64) {
	e.incremented[sym] += count
}

// AnyIncremented reports whether sym has any outstanding increments.
func (e *Environment) AnyIncremented(sym ir.Symbol) bool {
	_, ok := e.incremented[sym]
	return ok
}

// GetIncremented removes and returns the outstanding increment count of
// sym. Used when finalizing the first increment instruction of a symbol.
func (e *Environment) GetIncremented(sym ir.Symbol) uint64 {
	n := e.incremented[sym]
	delete(e.incremented, sym)
	return n
}

// PopIncremented consumes one outstanding increment of sym, reporting
// whether a reservation existed.
func (e *Environment) PopIncremented(sym ir.Symbol) bool {
	n, ok := e.incremented[sym]
	if !ok {
		return false
	}
	if n == 1 {
		delete(e.incremented, sym)
	} else {
		e.incremented[sym] = n - 1
	}
	return true
}
