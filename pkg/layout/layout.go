// Package layout models the concrete runtime shape of values: structs,
// unions, boxes, lists and opaque builtins. Layouts live in a Store and are
// referenced by stable ids, so self-referential shapes never form recursive
// ownership graphs in the host language.
package layout

import "fmt"

// ID refers to a layout held by a Store.
type ID int32

// Kind classifies the shape of a layout
type Kind int

const (
	KindBuiltin Kind = iota
	KindStruct
	KindUnion
	KindBox
	KindList
)

// Builtin is a primitive layout with no layout children.
type Builtin int

const (
	Int Builtin = iota
	Float
	Bool
	Str // heap-allocated, reference counted
	Opaque
)

// UnionKind distinguishes the five runtime representations of tag unions.
type UnionKind int

const (
	// NonRecursive unions are plain tagged cells.
	NonRecursive UnionKind = iota
	// Recursive unions may contain themselves and support in-place reuse.
	Recursive
	// NonNullableUnwrapped unions have a single variant and carry no tag.
	NonNullableUnwrapped
	// NullableWrapped unions represent one variant as a null pointer and
	// keep a tag for the others.
	NullableWrapped
	// NullableUnwrapped unions have exactly two variants, one of which is
	// a null pointer.
	NullableUnwrapped
)

// Union describes the variants of a tag union. For NullableWrapped the null
// variant is compacted out of Tags: the field set of tag t lives at index t
// when t < NullableID and at t-1 when t > NullableID. NullableUnwrapped and
// NonNullableUnwrapped store their single non-null field set at Tags[0].
type Union struct {
	Kind       UnionKind
	Tags       [][]ID
	NullableID uint16
}

// Layout is one node of the layout arena.
type Layout struct {
	Kind    Kind
	Builtin Builtin // KindBuiltin
	Fields  []ID    // KindStruct
	Union   *Union  // KindUnion
	Elem    ID      // KindBox inner value, KindList element
}

// Store is an append-only arena of layouts. The builtins are pre-registered
// so their ids are canonical.
type Store struct {
	layouts []Layout
}

// NewStore creates a store with the builtin layouts registered.
func NewStore() *Store {
	s := &Store{}
	for _, b := range []Builtin{Int, Float, Bool, Str, Opaque} {
		s.Add(Layout{Kind: KindBuiltin, Builtin: b})
	}
	return s
}

// Add registers a layout and returns its id.
func (s *Store) Add(l Layout) ID {
	s.layouts = append(s.layouts, l)
	return ID(len(s.layouts) - 1)
}

// Reserve allocates an id whose layout is defined later. Needed to build
// self-referential unions.
func (s *Store) Reserve() ID {
	return s.Add(Layout{Kind: KindBuiltin, Builtin: Opaque})
}

// Define fills in a previously reserved id.
func (s *Store) Define(id ID, l Layout) {
	s.layouts[id] = l
}

// Get returns the layout behind an id.
func (s *Store) Get(id ID) Layout {
	if id < 0 || int(id) >= len(s.layouts) {
		panic(fmt.Sprintf("layout id %d out of range", id))
	}
	return s.layouts[id]
}

// Int returns the canonical integer layout id.
func (s *Store) Int() ID { return ID(Int) }

// Float returns the canonical float layout id.
func (s *Store) Float() ID { return ID(Float) }

// Bool returns the canonical boolean layout id.
func (s *Store) Bool() ID { return ID(Bool) }

// Str returns the canonical string layout id.
func (s *Store) Str() ID { return ID(Str) }

// Opaque returns the canonical opaque builtin layout id.
func (s *Store) Opaque() ID { return ID(Opaque) }

// Struct registers a struct layout.
func (s *Store) Struct(fields ...ID) ID {
	return s.Add(Layout{Kind: KindStruct, Fields: fields})
}

// Box registers a box layout around inner.
func (s *Store) Box(inner ID) ID {
	return s.Add(Layout{Kind: KindBox, Elem: inner})
}

// List registers a list layout with the given element layout.
func (s *Store) List(elem ID) ID {
	return s.Add(Layout{Kind: KindList, Elem: elem})
}

// Union registers a union layout.
func (s *Store) Union(u Union) ID {
	return s.Add(Layout{Kind: KindUnion, Union: &u})
}

// Runtime answers the fully-resolved runtime shape of a layout. The store
// only holds resolved layouts, so this is the documented query point rather
// than a computation.
func (s *Store) Runtime(id ID) Layout {
	return s.Get(id)
}

// IsRefcounted reports whether values of this layout are themselves
// reference-counted cells.
func (s *Store) IsRefcounted(id ID) bool {
	switch l := s.Get(id); l.Kind {
	case KindUnion, KindBox, KindList:
		return true
	case KindBuiltin:
		return l.Builtin == Str
	default:
		return false
	}
}

// ContainsRefcounted reports whether a layout structurally contains any
// reference-counted content. Structs are searched field by field.
func (s *Store) ContainsRefcounted(id ID) bool {
	return s.containsRefcounted(id, make(map[ID]bool))
}

func (s *Store) containsRefcounted(id ID, seen map[ID]bool) bool {
	if seen[id] {
		return false
	}
	seen[id] = true

	l := s.Get(id)
	switch l.Kind {
	case KindUnion, KindBox, KindList:
		return true
	case KindBuiltin:
		return l.Builtin == Str
	case KindStruct:
		for _, f := range l.Fields {
			if s.containsRefcounted(f, seen) {
				return true
			}
		}
	}
	return false
}
