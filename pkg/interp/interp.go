// Package interp executes the IR under a reference-counting runtime. It is
// used by tests to check that a rewritten procedure computes the same
// result and leaves the same (empty) heap behind as the original: no leaks,
// no double frees, no negative counts.
package interp

import (
	"fmt"

	"github.com/Maldus512/roc/pkg/ir"
	"github.com/Maldus512/roc/pkg/layout"
)

// ValueKind classifies runtime values
type ValueKind int

const (
	VInt ValueKind = iota
	VFloat
	VBool
	VStr
	VCell   // reference-counted heap cell (union, box, list)
	VStruct // by-value tuple, not itself reference counted
	VNull   // null variant of a nullable union
)

// Value is one runtime value. Null variants keep their tag in Int so
// get-tag-id works without consulting layouts.
type Value struct {
	Kind   ValueKind
	Int    int64
	Float  float64
	Bool   bool
	Str    string
	Addr   int
	Fields []Value
}

type cell struct {
	rc     int
	tag    uint16
	fields []Value
}

type joinDef struct {
	params []ir.Param
	body   *ir.Stmt
}

// Machine holds the heap and the callable procedures.
type Machine struct {
	store *layout.Store
	procs map[string]*ir.Proc
	heap  map[int]*cell
	next  int
}

// NewMachine creates a machine with an empty heap.
func NewMachine(store *layout.Store, procs []*ir.Proc) *Machine {
	m := &Machine{
		store: store,
		procs: make(map[string]*ir.Proc),
		heap:  make(map[int]*cell),
		next:  1,
	}
	for _, p := range procs {
		m.procs[p.Name] = p
	}
	return m
}

// LiveCells returns the number of cells still allocated. A procedure that
// returns a non-heap value must leave zero.
func (m *Machine) LiveCells() int {
	return len(m.heap)
}

// Call runs a procedure by name. Arguments are passed owned.
func (m *Machine) Call(name string, args ...Value) (Value, error) {
	proc, ok := m.procs[name]
	if !ok {
		return Value{}, fmt.Errorf("unknown procedure %q", name)
	}
	if len(args) != len(proc.Args) {
		return Value{}, fmt.Errorf("procedure %q wants %d arguments, got %d", name, len(proc.Args), len(args))
	}
	frame := make(map[ir.Symbol]Value)
	for i, a := range proc.Args {
		frame[a.Sym] = args[i]
	}
	return m.run(frame, make(map[ir.JoinPointID]*joinDef), proc.Body)
}

func (m *Machine) run(frame map[ir.Symbol]Value, joins map[ir.JoinPointID]*joinDef, s *ir.Stmt) (Value, error) {
	for {
		switch s.Kind {
		case ir.StmtLet:
			v, err := m.eval(frame, s.Expr, s.Layout)
			if err != nil {
				return Value{}, err
			}
			frame[s.Binding] = v
			s = s.Cont

		case ir.StmtSwitch:
			label := asInt(frame[s.Cond])
			body := s.Default.Body
			for _, br := range s.Branches {
				if int64(br.Label) == label {
					body = br.Body
					break
				}
			}
			s = body

		case ir.StmtRet:
			return frame[s.Sym], nil

		case ir.StmtRefcounting:
			v := frame[s.RC.Sym]
			var err error
			switch s.RC.Op {
			case ir.RCInc:
				err = m.incValue(v, s.RC.Count)
			case ir.RCDec:
				err = m.decValue(v)
			case ir.RCDecRef:
				err = m.decRef(v)
			}
			if err != nil {
				return Value{}, err
			}
			s = s.Cont

		case ir.StmtJoin:
			joins[s.ID] = &joinDef{params: s.Params, body: s.Body}
			s = s.Cont

		case ir.StmtJump:
			jd, ok := joins[s.ID]
			if !ok {
				return Value{}, fmt.Errorf("jump to undefined join point %d", s.ID)
			}
			if len(s.Args) != len(jd.params) {
				return Value{}, fmt.Errorf("join point %d wants %d arguments, got %d", s.ID, len(jd.params), len(s.Args))
			}
			for i, p := range jd.params {
				frame[p.Sym] = frame[s.Args[i]]
			}
			s = jd.body

		case ir.StmtCrash:
			v := frame[s.Sym]
			if v.Kind == VStr {
				return Value{}, fmt.Errorf("crash: %s", v.Str)
			}
			return Value{}, fmt.Errorf("crash")

		case ir.StmtExpect, ir.StmtExpectFx:
			if v := frame[s.Sym]; v.Kind == VBool && !v.Bool {
				return Value{}, fmt.Errorf("expect failed")
			}
			s = s.Cont

		case ir.StmtDbg:
			s = s.Cont

		default:
			return Value{}, fmt.Errorf("cannot execute statement kind %d", s.Kind)
		}
	}
}

func (m *Machine) eval(frame map[ir.Symbol]Value, e *ir.Expr, l layout.ID) (Value, error) {
	switch e.Kind {
	case ir.ExprCall:
		return m.call(frame, e.Call)

	case ir.ExprStruct:
		return Value{Kind: VStruct, Fields: m.lookupAll(frame, e.Args)}, nil

	case ir.ExprTag:
		rt := m.store.Runtime(l)
		if rt.Kind == layout.KindUnion {
			u := rt.Union
			nullable := u.Kind == layout.NullableWrapped || u.Kind == layout.NullableUnwrapped
			if nullable && e.Tag == u.NullableID {
				return Value{Kind: VNull, Int: int64(e.Tag)}, nil
			}
		}
		return m.alloc(e.Tag, m.lookupAll(frame, e.Args)), nil

	case ir.ExprStructAtIndex:
		v := frame[e.Structure]
		if v.Kind != VStruct || e.Index >= uint64(len(v.Fields)) {
			return Value{}, fmt.Errorf("bad struct index %d", e.Index)
		}
		return v.Fields[e.Index], nil

	case ir.ExprUnionAtIndex:
		c, err := m.cell(frame[e.Structure])
		if err != nil {
			return Value{}, err
		}
		if e.Index >= uint64(len(c.fields)) {
			return Value{}, fmt.Errorf("bad union index %d", e.Index)
		}
		return c.fields[e.Index], nil

	case ir.ExprUnbox:
		c, err := m.cell(frame[e.Structure])
		if err != nil {
			return Value{}, err
		}
		return c.fields[0], nil

	case ir.ExprBox:
		return m.alloc(0, []Value{frame[e.Structure]}), nil

	case ir.ExprLiteral:
		switch e.Lit.Kind {
		case ir.LitInt:
			return Value{Kind: VInt, Int: e.Lit.Int}, nil
		case ir.LitFloat:
			return Value{Kind: VFloat, Float: e.Lit.Float}, nil
		case ir.LitBool:
			return Value{Kind: VBool, Bool: e.Lit.Bool}, nil
		default:
			return Value{Kind: VStr, Str: e.Lit.Str}, nil
		}

	case ir.ExprArray:
		return m.alloc(0, m.lookupAll(frame, e.Args)), nil

	case ir.ExprEmptyArray:
		return m.alloc(0, nil), nil

	case ir.ExprNullPointer:
		return Value{Kind: VNull, Int: -1}, nil

	case ir.ExprGetTagID:
		v := frame[e.Structure]
		if v.Kind == VNull {
			return Value{Kind: VInt, Int: v.Int}, nil
		}
		c, err := m.cell(v)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: VInt, Int: int64(c.tag)}, nil

	case ir.ExprRuntimeError:
		return Value{}, fmt.Errorf("runtime error: %s", e.Msg)

	default:
		return Value{}, fmt.Errorf("cannot evaluate expression kind %d", e.Kind)
	}
}

func (m *Machine) call(frame map[ir.Symbol]Value, c *ir.Call) (Value, error) {
	if c.Kind == ir.CallByName {
		args := m.lookupAll(frame, c.Arguments)
		return m.Call(c.Name, args...)
	}
	switch c.Op {
	case ir.ListGetUnsafe:
		if len(c.Arguments) != 2 {
			return Value{}, fmt.Errorf("list get wants two arguments")
		}
		cl, err := m.cell(frame[c.Arguments[0]])
		if err != nil {
			return Value{}, err
		}
		index := asInt(frame[c.Arguments[1]])
		if index < 0 || index >= int64(len(cl.fields)) {
			return Value{}, fmt.Errorf("list index %d out of range", index)
		}
		// Borrowed: the element's count is untouched.
		return cl.fields[index], nil

	case ir.ListLen:
		cl, err := m.cell(frame[c.Arguments[0]])
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: VInt, Int: int64(len(cl.fields))}, nil

	case ir.RefCountIsUnique:
		v := frame[c.Arguments[0]]
		if v.Kind != VCell {
			return Value{Kind: VBool, Bool: true}, nil
		}
		cl, err := m.cell(v)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: VBool, Bool: cl.rc == 1}, nil

	default:
		return Value{}, fmt.Errorf("unknown lowlevel op %d", c.Op)
	}
}

func (m *Machine) alloc(tag uint16, fields []Value) Value {
	addr := m.next
	m.next++
	m.heap[addr] = &cell{rc: 1, tag: tag, fields: fields}
	return Value{Kind: VCell, Addr: addr}
}

func (m *Machine) cell(v Value) (*cell, error) {
	if v.Kind != VCell {
		return nil, fmt.Errorf("value is not a heap cell")
	}
	c, ok := m.heap[v.Addr]
	if !ok {
		return nil, fmt.Errorf("use of freed cell %d", v.Addr)
	}
	return c, nil
}

func (m *Machine) lookupAll(frame map[ir.Symbol]Value, syms []ir.Symbol) []Value {
	vals := make([]Value, len(syms))
	for i, s := range syms {
		vals[i] = frame[s]
	}
	return vals
}

// incValue increments a value's count. Structs increment their fields;
// immediates are untouched.
func (m *Machine) incValue(v Value, count uint64) error {
	switch v.Kind {
	case VCell:
		c, err := m.cell(v)
		if err != nil {
			return fmt.Errorf("increment: %w", err)
		}
		c.rc += int(count)
		return nil
	case VStruct:
		for _, f := range v.Fields {
			if err := m.incValue(f, count); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

// decValue is the structural decrement: when a cell's count reaches zero
// its children are decremented and the cell is freed.
func (m *Machine) decValue(v Value) error {
	switch v.Kind {
	case VCell:
		c, err := m.cell(v)
		if err != nil {
			return fmt.Errorf("decrement: %w", err)
		}
		c.rc--
		if c.rc < 0 {
			return fmt.Errorf("negative refcount on cell %d", v.Addr)
		}
		if c.rc == 0 {
			delete(m.heap, v.Addr)
			for _, f := range c.fields {
				if err := m.decValue(f); err != nil {
					return err
				}
			}
		}
		return nil
	case VStruct:
		for _, f := range v.Fields {
			if err := m.decValue(f); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

// decRef releases only the cell itself, never its children.
func (m *Machine) decRef(v Value) error {
	if v.Kind != VCell {
		return nil
	}
	c, err := m.cell(v)
	if err != nil {
		return fmt.Errorf("decref: %w", err)
	}
	c.rc--
	if c.rc < 0 {
		return fmt.Errorf("negative refcount on cell %d", v.Addr)
	}
	if c.rc == 0 {
		delete(m.heap, v.Addr)
	}
	return nil
}

func asInt(v Value) int64 {
	switch v.Kind {
	case VBool:
		if v.Bool {
			return 1
		}
		return 0
	default:
		return v.Int
	}
}
