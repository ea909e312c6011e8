package dropspec

import (
	"fmt"

	"github.com/Maldus512/roc/pkg/ir"
	"github.com/Maldus512/roc/pkg/layout"
)

// indexedChild records which symbol holds a given field or element, and
// whether its reservation was popped (so its decrement is already paid for).
type indexedChild struct {
	Sym    ir.Symbol
	Popped bool
}

// rcFun wraps a refcount instruction around a continuation.
type rcFun func(sym ir.Symbol, cont *ir.Stmt) *ir.Stmt

func decFun(sym ir.Symbol, cont *ir.Stmt) *ir.Stmt {
	return ir.NewDec(sym, cont)
}

func incFun(sym ir.Symbol, cont *ir.Stmt) *ir.Stmt {
	return ir.NewInc(sym, 1, cont)
}

// specializeStruct replaces the decrement of a struct with decrements of
// its fields. Fields whose projection already had a popped reservation are
// elided; fields never projected get a fresh projection. The struct symbol
// itself is never decremented.
func (sp *specializer) specializeStruct(env *Environment, sym ir.Symbol, fields []layout.ID, popped map[ir.Symbol]bool, cont *ir.Stmt) *ir.Stmt {
	children, ok := env.structChildren[sym]
	if !ok {
		// No known children, keep decrementing the symbol.
		return ir.NewDec(sym, sp.stmt(env, cont))
	}

	indexSymbols := make(map[uint64]indexedChild)
	for i := range fields {
		for _, c := range children {
			if c.Index != uint64(i) {
				continue
			}
			removed := popped[c.Child]
			delete(popped, c.Child)
			indexSymbols[uint64(i)] = indexedChild{Sym: c.Child, Popped: removed}
			if removed {
				sp.stats.PairsCancelled++
				break
			}
		}
	}

	newCont := sp.stmt(env, cont)
	sp.stats.DecsSpecialized++

	// Each field wraps outside the previous one, so the emitted code
	// decrements the last field first.
	for i, fieldLayout := range fields {
		if !sp.store.ContainsRefcounted(fieldLayout) {
			continue
		}
		if entry, ok := indexSymbols[uint64(i)]; ok {
			if entry.Popped {
				// The cancelled increment already accounts for this field.
				continue
			}
			newCont = ir.NewDec(entry.Sym, newCont)
			continue
		}
		fieldSym := sp.idents.Fresh(fmt.Sprintf("field_val_%d", i))
		newCont = ir.NewLet(
			fieldSym,
			ir.NewStructAtIndex(uint64(i), sym),
			fieldLayout,
			ir.NewDec(fieldSym, newCont),
		)
	}
	return newCont
}

// specializeUnion replaces the decrement of a union value whose tag is
// known. Non-recursive unions decrement their fields directly; recursive
// shapes branch on runtime uniqueness first.
func (sp *specializer) specializeUnion(env *Environment, sym ir.Symbol, u *layout.Union, popped map[ir.Symbol]bool, cont *ir.Stmt) *ir.Stmt {
	knownTag, tagKnown := env.Tag(sym)
	fieldLayouts, tag, res := resolveUnionTag(u, knownTag, tagKnown)

	switch res {
	case tagUnknown:
		return ir.NewDec(sym, sp.stmt(env, cont))
	case tagNull:
		// The null variant owns nothing; the decrement disappears.
		return sp.stmt(env, cont)
	}

	children, ok := env.unionChildren[sym]
	if !ok {
		return ir.NewDec(sym, sp.stmt(env, cont))
	}

	indexSymbols := make(map[uint64]indexedChild)
	for i := range fieldLayouts {
		for _, c := range children {
			if c.Index != uint64(i) {
				continue
			}
			removed := popped[c.Child]
			delete(popped, c.Child)
			indexSymbols[uint64(i)] = indexedChild{Sym: c.Child, Popped: removed}
			if removed {
				sp.stats.PairsCancelled++
				break
			}
		}
	}

	newCont := sp.stmt(env, cont)
	sp.stats.DecsSpecialized++

	refcountFields := func(rcPopped, rcUnpopped rcFun, cont *ir.Stmt) *ir.Stmt {
		for i, fieldLayout := range fieldLayouts {
			if !sp.store.ContainsRefcounted(fieldLayout) {
				continue
			}
			entry, indexed := indexSymbols[uint64(i)]
			switch {
			case indexed && entry.Popped:
				if rcPopped != nil {
					cont = rcPopped(entry.Sym, cont)
				}
			case indexed:
				if rcUnpopped != nil {
					cont = rcUnpopped(entry.Sym, cont)
				}
			default:
				if rcUnpopped != nil {
					fieldSym := sp.idents.Fresh(fmt.Sprintf("field_val_%d", i))
					cont = ir.NewLet(
						fieldSym,
						ir.NewUnionAtIndex(sym, tag, uint64(i)),
						fieldLayout,
						rcUnpopped(fieldSym, cont),
					)
				}
			}
		}
		return cont
	}

	if u.Kind == layout.NonRecursive {
		// Popped fields are paid for by their cancelled increments; the
		// rest are decremented. The cell itself cannot be reused, so a
		// shallow release suffices.
		return refcountFields(nil, decFun, ir.NewDecRef(sym, newCont))
	}

	return sp.branchUniqueness(env, sym,
		// Unique: the cell is freed, so drop the fields that were not
		// already paid for by a cancelled increment.
		func(cont *ir.Stmt) *ir.Stmt {
			return refcountFields(nil, decFun, ir.NewDecRef(sym, cont))
		},
		// Not unique: the cell survives and keeps owning its fields, so
		// ownership consumed from popped reservations must be restored.
		func(cont *ir.Stmt) *ir.Stmt {
			return refcountFields(incFun, nil, ir.NewDecRef(sym, cont))
		},
		newCont,
	)
}

// specializeBoxed elides the contained value's release when a reservation
// for any known child of the box was popped; the box cell alone is then
// shallowly released.
func (sp *specializer) specializeBoxed(env *Environment, sym ir.Symbol, popped map[ir.Symbol]bool, cont *ir.Stmt) *ir.Stmt {
	removed := false
	for child := range popped {
		delete(popped, child)
		removed = true
		break
	}

	newCont := sp.stmt(env, cont)

	if removed {
		sp.stats.DecsSpecialized++
		sp.stats.PairsCancelled++
		return ir.NewDecRef(sym, newCont)
	}
	return ir.NewDec(sym, newCont)
}

// specializeList replaces the decrement of a list with a shallow release of
// the cell followed by per-element decrements. Only possible when the
// element layout is refcounted, the length is statically known, and every
// element symbol is registered; otherwise an unbounded number of decrements
// would be needed.
func (sp *specializer) specializeList(env *Environment, sym ir.Symbol, elem layout.ID, popped map[ir.Symbol]bool, cont *ir.Stmt) *ir.Stmt {
	length, lengthKnown := env.ListLength(sym)
	children := env.listChildren[sym]

	specializable := sp.store.ContainsRefcounted(elem) &&
		lengthKnown &&
		uint64(len(children)) == length
	if specializable {
		covered := make(map[uint64]bool, len(children))
		for _, c := range children {
			covered[c.Index] = true
		}
		for i := uint64(0); i < length; i++ {
			if !covered[i] {
				specializable = false
				break
			}
		}
	}
	if !specializable {
		return ir.NewDec(sym, sp.stmt(env, cont))
	}

	indexSymbols := make(map[uint64]indexedChild)
	for i := uint64(0); i < length; i++ {
		for _, c := range children {
			if c.Index != i {
				continue
			}
			removed := popped[c.Child]
			delete(popped, c.Child)
			indexSymbols[i] = indexedChild{Sym: c.Child, Popped: removed}
			if removed {
				sp.stats.PairsCancelled++
				break
			}
		}
	}

	newCont := sp.stmt(env, cont)
	sp.stats.DecsSpecialized++

	// Elements wrap innermost-first and the shallow release of the cell
	// goes outermost: the emitted code releases the cell, then decrements
	// the elements in reverse index order.
	for i := uint64(0); i < length; i++ {
		entry := indexSymbols[i]
		if entry.Popped {
			continue
		}
		newCont = ir.NewDec(entry.Sym, newCont)
	}
	return ir.NewDecRef(sym, newCont)
}

type tagResolution int

const (
	tagFound tagResolution = iota
	tagNull
	tagUnknown
)

// resolveUnionTag maps a union shape and an optionally known tag to the
// field layouts of the selected variant. For NullableWrapped unions the
// null slot is compacted out of the table, so tags above the null id are
// shifted down by one.
func resolveUnionTag(u *layout.Union, tag uint16, known bool) ([]layout.ID, uint16, tagResolution) {
	if u.Kind == layout.NonNullableUnwrapped {
		// A single variant carries no tag at runtime.
		return u.Tags[0], 0, tagFound
	}
	if !known {
		return nil, 0, tagUnknown
	}
	switch u.Kind {
	case layout.NonRecursive, layout.Recursive:
		if int(tag) >= len(u.Tags) {
			return nil, 0, tagUnknown
		}
		return u.Tags[tag], tag, tagFound
	case layout.NullableWrapped:
		switch {
		case tag == u.NullableID:
			return nil, 0, tagNull
		case tag < u.NullableID:
			if int(tag) >= len(u.Tags) {
				return nil, 0, tagUnknown
			}
			return u.Tags[tag], tag, tagFound
		default:
			if int(tag)-1 >= len(u.Tags) {
				return nil, 0, tagUnknown
			}
			return u.Tags[tag-1], tag, tagFound
		}
	case layout.NullableUnwrapped:
		if tag == u.NullableID {
			return nil, 0, tagNull
		}
		return u.Tags[0], tag, tagFound
	}
	return nil, 0, tagUnknown
}

// branchUniqueness emits a runtime uniqueness test of sym and a two-way
// branch built by the unique and notUnique callbacks. A terminal
// continuation is duplicated into both arms; anything else is hoisted into
// a zero-parameter join point so exactly one copy of it exists.
func (sp *specializer) branchUniqueness(env *Environment, sym ir.Symbol, unique, notUnique func(*ir.Stmt) *ir.Stmt, cont *ir.Stmt) *ir.Stmt {
	switch cont.Kind {
	case ir.StmtRet, ir.StmtJump:
		return sp.isUniqueSwitch(env, sym, unique(cont), notUnique(cont))
	default:
		joinID := ir.JoinPointID(sp.idents.Fresh("uniqueness_join"))
		jump := ir.NewJump(joinID)
		return ir.NewJoin(
			joinID,
			nil,
			cont,
			sp.isUniqueSwitch(env, sym, unique(jump), notUnique(jump)),
		)
	}
}

// isUniqueSwitch binds a fresh boolean to the uniqueness primitive applied
// to sym and switches on it.
func (sp *specializer) isUniqueSwitch(env *Environment, sym ir.Symbol, uniqueArm, notUniqueArm *ir.Stmt) *ir.Stmt {
	isUnique := sp.idents.Fresh("is_unique")
	sw := ir.NewSwitch(
		isUnique,
		sp.store.Bool(),
		[]ir.SwitchBranch{{Label: 1, Body: uniqueArm}},
		&ir.SwitchBranch{Body: notUniqueArm},
		env.ret,
	)
	return ir.NewLet(isUnique, ir.NewLowLevel(ir.RefCountIsUnique, sym), sp.store.Bool(), sw)
}
