// Package parser reads the textual s-expression form of the IR, so
// procedures can be written down in tests and fed through the command line
// driver.
//
// Top-level forms:
//
//	(deflayout Name <layout>)
//	(proc name ((arg <layout>) ...) <ret-layout> <stmt>)
//
// Layouts are i64, f64, bool, str, opaque, a deflayout name, or one of
// (struct L ...), (box L), (list L), (union <kind> ...).
package parser

import (
	"fmt"
	"strconv"
	"unicode"

	"github.com/Maldus512/roc/pkg/ir"
	"github.com/Maldus512/roc/pkg/layout"
)

type nodeKind int

const (
	nAtom nodeKind = iota
	nStr
	nList
)

type node struct {
	kind nodeKind
	atom string
	list []*node
}

// Parser parses s-expressions into procedures.
type Parser struct {
	input string
	pos   int

	store   *layout.Store
	idents  *ir.IdentIds
	layouts map[string]layout.ID
}

// New creates a parser for the given input. Symbols are interned in idents
// and layouts registered in store.
func New(input string, store *layout.Store, idents *ir.IdentIds) *Parser {
	return &Parser{
		input:   input,
		store:   store,
		idents:  idents,
		layouts: make(map[string]layout.ID),
	}
}

// ParseProgram parses all top-level forms and returns the procedures.
func (p *Parser) ParseProgram() ([]*ir.Proc, error) {
	var procs []*ir.Proc
	for {
		p.skipWhitespace()
		if p.pos >= len(p.input) {
			return procs, nil
		}
		n, err := p.parseNode()
		if err != nil {
			return nil, err
		}
		if n.kind != nList || len(n.list) == 0 || n.list[0].kind != nAtom {
			return nil, fmt.Errorf("expected (deflayout ...) or (proc ...) at top level")
		}
		switch n.list[0].atom {
		case "deflayout":
			if err := p.deflayout(n); err != nil {
				return nil, err
			}
		case "proc":
			proc, err := p.proc(n)
			if err != nil {
				return nil, err
			}
			procs = append(procs, proc)
		default:
			return nil, fmt.Errorf("unknown top-level form %q", n.list[0].atom)
		}
	}
}

func (p *Parser) skipWhitespace() {
	for p.pos < len(p.input) {
		ch := p.input[p.pos]
		if ch == ';' {
			// Skip comment to end of line
			for p.pos < len(p.input) && p.input[p.pos] != '\n' {
				p.pos++
			}
		} else if unicode.IsSpace(rune(ch)) {
			p.pos++
		} else {
			break
		}
	}
}

func (p *Parser) parseNode() (*node, error) {
	p.skipWhitespace()
	if p.pos >= len(p.input) {
		return nil, fmt.Errorf("unexpected end of input")
	}
	switch p.input[p.pos] {
	case '(':
		p.pos++
		n := &node{kind: nList}
		for {
			p.skipWhitespace()
			if p.pos >= len(p.input) {
				return nil, fmt.Errorf("unclosed list")
			}
			if p.input[p.pos] == ')' {
				p.pos++
				return n, nil
			}
			child, err := p.parseNode()
			if err != nil {
				return nil, err
			}
			n.list = append(n.list, child)
		}
	case ')':
		return nil, fmt.Errorf("unexpected ')'")
	case '"':
		return p.parseString()
	default:
		return p.parseAtom()
	}
}

func (p *Parser) parseString() (*node, error) {
	p.pos++ // opening quote
	var out []byte
	for {
		if p.pos >= len(p.input) {
			return nil, fmt.Errorf("unclosed string literal")
		}
		ch := p.input[p.pos]
		p.pos++
		switch ch {
		case '"':
			return &node{kind: nStr, atom: string(out)}, nil
		case '\\':
			if p.pos >= len(p.input) {
				return nil, fmt.Errorf("unclosed string escape")
			}
			esc := p.input[p.pos]
			p.pos++
			switch esc {
			case 'n':
				out = append(out, '\n')
			case 't':
				out = append(out, '\t')
			default:
				out = append(out, esc)
			}
		default:
			out = append(out, ch)
		}
	}
}

func (p *Parser) parseAtom() (*node, error) {
	start := p.pos
	for p.pos < len(p.input) {
		ch := p.input[p.pos]
		if ch == '(' || ch == ')' || ch == ';' || unicode.IsSpace(rune(ch)) {
			break
		}
		p.pos++
	}
	if p.pos == start {
		return nil, fmt.Errorf("unexpected character %q", p.input[p.pos])
	}
	return &node{kind: nAtom, atom: p.input[start:p.pos]}, nil
}

func (p *Parser) deflayout(n *node) error {
	if len(n.list) != 3 || n.list[1].kind != nAtom {
		return fmt.Errorf("deflayout needs a name and a layout")
	}
	name := n.list[1].atom
	// Reserve first so the definition can refer to itself.
	id := p.store.Reserve()
	p.layouts[name] = id
	l, err := p.layoutValue(n.list[2])
	if err != nil {
		return fmt.Errorf("deflayout %s: %w", name, err)
	}
	p.store.Define(id, l)
	return nil
}

func (p *Parser) proc(n *node) (*ir.Proc, error) {
	if len(n.list) != 5 || n.list[1].kind != nAtom || n.list[2].kind != nList {
		return nil, fmt.Errorf("proc needs a name, arguments, a return layout and a body")
	}
	name := n.list[1].atom
	var args []ir.Param
	for _, argNode := range n.list[2].list {
		if argNode.kind != nList || len(argNode.list) != 2 || argNode.list[0].kind != nAtom {
			return nil, fmt.Errorf("proc %s: argument must be (name <layout>)", name)
		}
		l, err := p.layoutID(argNode.list[1])
		if err != nil {
			return nil, fmt.Errorf("proc %s: %w", name, err)
		}
		args = append(args, ir.Param{Sym: p.idents.Named(argNode.list[0].atom), Layout: l})
	}
	ret, err := p.layoutID(n.list[3])
	if err != nil {
		return nil, fmt.Errorf("proc %s: %w", name, err)
	}
	body, err := p.stmt(n.list[4])
	if err != nil {
		return nil, fmt.Errorf("proc %s: %w", name, err)
	}
	return &ir.Proc{Name: name, Args: args, Ret: ret, Body: body}, nil
}

func (p *Parser) layoutID(n *node) (layout.ID, error) {
	if n.kind == nAtom {
		switch n.atom {
		case "i64":
			return p.store.Int(), nil
		case "f64":
			return p.store.Float(), nil
		case "bool":
			return p.store.Bool(), nil
		case "str":
			return p.store.Str(), nil
		case "opaque":
			return p.store.Opaque(), nil
		}
		if id, ok := p.layouts[n.atom]; ok {
			return id, nil
		}
		return 0, fmt.Errorf("unknown layout %q", n.atom)
	}
	l, err := p.layoutValue(n)
	if err != nil {
		return 0, err
	}
	return p.store.Add(l), nil
}

func (p *Parser) layoutValue(n *node) (layout.Layout, error) {
	if n.kind == nAtom {
		id, err := p.layoutID(n)
		if err != nil {
			return layout.Layout{}, err
		}
		return p.store.Get(id), nil
	}
	if n.kind != nList || len(n.list) == 0 || n.list[0].kind != nAtom {
		return layout.Layout{}, fmt.Errorf("expected a layout")
	}
	switch head := n.list[0].atom; head {
	case "struct":
		fields, err := p.layoutIDs(n.list[1:])
		if err != nil {
			return layout.Layout{}, err
		}
		return layout.Layout{Kind: layout.KindStruct, Fields: fields}, nil
	case "box", "list":
		if len(n.list) != 2 {
			return layout.Layout{}, fmt.Errorf("%s needs one layout", head)
		}
		elem, err := p.layoutID(n.list[1])
		if err != nil {
			return layout.Layout{}, err
		}
		kind := layout.KindBox
		if head == "list" {
			kind = layout.KindList
		}
		return layout.Layout{Kind: kind, Elem: elem}, nil
	case "union":
		return p.unionValue(n)
	default:
		return layout.Layout{}, fmt.Errorf("unknown layout form %q", head)
	}
}

func (p *Parser) unionValue(n *node) (layout.Layout, error) {
	if len(n.list) < 2 || n.list[1].kind != nAtom {
		return layout.Layout{}, fmt.Errorf("union needs a kind")
	}
	u := layout.Union{}
	rest := n.list[2:]
	switch n.list[1].atom {
	case "nonrec":
		u.Kind = layout.NonRecursive
	case "rec":
		u.Kind = layout.Recursive
	case "nonnullable":
		u.Kind = layout.NonNullableUnwrapped
		if len(rest) != 1 {
			return layout.Layout{}, fmt.Errorf("nonnullable union needs one field set")
		}
	case "nullable-wrapped", "nullable-unwrapped":
		if len(rest) < 2 || rest[0].kind != nAtom {
			return layout.Layout{}, fmt.Errorf("nullable union needs a null tag id")
		}
		id, err := strconv.ParseUint(rest[0].atom, 10, 16)
		if err != nil {
			return layout.Layout{}, fmt.Errorf("bad null tag id %q", rest[0].atom)
		}
		u.NullableID = uint16(id)
		if n.list[1].atom == "nullable-wrapped" {
			u.Kind = layout.NullableWrapped
		} else {
			u.Kind = layout.NullableUnwrapped
			if len(rest) != 2 {
				return layout.Layout{}, fmt.Errorf("nullable-unwrapped union needs one field set")
			}
		}
		rest = rest[1:]
	default:
		return layout.Layout{}, fmt.Errorf("unknown union kind %q", n.list[1].atom)
	}
	for _, fieldSet := range rest {
		if fieldSet.kind != nList {
			return layout.Layout{}, fmt.Errorf("union field set must be a list")
		}
		fields, err := p.layoutIDs(fieldSet.list)
		if err != nil {
			return layout.Layout{}, err
		}
		if fields == nil {
			fields = []layout.ID{}
		}
		u.Tags = append(u.Tags, fields)
	}
	return layout.Layout{Kind: layout.KindUnion, Union: &u}, nil
}

func (p *Parser) layoutIDs(nodes []*node) ([]layout.ID, error) {
	var ids []layout.ID
	for _, n := range nodes {
		id, err := p.layoutID(n)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (p *Parser) stmt(n *node) (*ir.Stmt, error) {
	if n.kind != nList || len(n.list) == 0 || n.list[0].kind != nAtom {
		return nil, fmt.Errorf("expected a statement")
	}
	switch head := n.list[0].atom; head {
	case "let":
		if len(n.list) != 5 || n.list[1].kind != nAtom {
			return nil, fmt.Errorf("let needs a name, an expression, a layout and a continuation")
		}
		expr, err := p.expr(n.list[2])
		if err != nil {
			return nil, err
		}
		l, err := p.layoutID(n.list[3])
		if err != nil {
			return nil, err
		}
		cont, err := p.stmt(n.list[4])
		if err != nil {
			return nil, err
		}
		return ir.NewLet(p.idents.Named(n.list[1].atom), expr, l, cont), nil

	case "switch":
		return p.switchStmt(n)

	case "ret":
		if len(n.list) != 2 || n.list[1].kind != nAtom {
			return nil, fmt.Errorf("ret needs a symbol")
		}
		return ir.NewRet(p.idents.Named(n.list[1].atom)), nil

	case "inc":
		if len(n.list) != 4 || n.list[1].kind != nAtom {
			return nil, fmt.Errorf("inc needs a symbol, a count and a continuation")
		}
		count, err := p.uintAtom(n.list[2])
		if err != nil {
			return nil, err
		}
		cont, err := p.stmt(n.list[3])
		if err != nil {
			return nil, err
		}
		return ir.NewInc(p.idents.Named(n.list[1].atom), count, cont), nil

	case "dec", "decref":
		if len(n.list) != 3 || n.list[1].kind != nAtom {
			return nil, fmt.Errorf("%s needs a symbol and a continuation", head)
		}
		cont, err := p.stmt(n.list[2])
		if err != nil {
			return nil, err
		}
		if head == "dec" {
			return ir.NewDec(p.idents.Named(n.list[1].atom), cont), nil
		}
		return ir.NewDecRef(p.idents.Named(n.list[1].atom), cont), nil

	case "join":
		if len(n.list) != 5 || n.list[1].kind != nAtom || n.list[2].kind != nList {
			return nil, fmt.Errorf("join needs a name, parameters, a body and a remainder")
		}
		var params []ir.Param
		for _, prm := range n.list[2].list {
			if prm.kind != nList || len(prm.list) != 2 || prm.list[0].kind != nAtom {
				return nil, fmt.Errorf("join parameter must be (name <layout>)")
			}
			l, err := p.layoutID(prm.list[1])
			if err != nil {
				return nil, err
			}
			params = append(params, ir.Param{Sym: p.idents.Named(prm.list[0].atom), Layout: l})
		}
		body, err := p.stmt(n.list[3])
		if err != nil {
			return nil, err
		}
		remainder, err := p.stmt(n.list[4])
		if err != nil {
			return nil, err
		}
		id := ir.JoinPointID(p.idents.Named(n.list[1].atom))
		return ir.NewJoin(id, params, body, remainder), nil

	case "jump":
		if len(n.list) < 2 || n.list[1].kind != nAtom {
			return nil, fmt.Errorf("jump needs a join point")
		}
		args, err := p.symbols(n.list[2:])
		if err != nil {
			return nil, err
		}
		return ir.NewJump(ir.JoinPointID(p.idents.Named(n.list[1].atom)), args...), nil

	case "crash":
		if len(n.list) != 2 || n.list[1].kind != nAtom {
			return nil, fmt.Errorf("crash needs a symbol")
		}
		return ir.NewCrash(p.idents.Named(n.list[1].atom)), nil

	case "expect", "expect-fx", "dbg":
		if len(n.list) != 3 || n.list[1].kind != nAtom {
			return nil, fmt.Errorf("%s needs a symbol and a remainder", head)
		}
		cont, err := p.stmt(n.list[2])
		if err != nil {
			return nil, err
		}
		sym := p.idents.Named(n.list[1].atom)
		switch head {
		case "expect":
			return ir.NewExpect(sym, cont), nil
		case "expect-fx":
			return ir.NewExpectFx(sym, cont), nil
		default:
			return ir.NewDbg(sym, cont), nil
		}

	default:
		return nil, fmt.Errorf("unknown statement form %q", head)
	}
}

func (p *Parser) switchStmt(n *node) (*ir.Stmt, error) {
	if len(n.list) < 3 || n.list[1].kind != nAtom {
		return nil, fmt.Errorf("switch needs a scrutinee and branches")
	}
	cond := p.idents.Named(n.list[1].atom)
	var branches []ir.SwitchBranch
	var def *ir.SwitchBranch
	for _, br := range n.list[2:] {
		if br.kind != nList || len(br.list) < 2 || br.list[0].kind != nAtom {
			return nil, fmt.Errorf("switch branch must be (case <label> ...) or (default ...)")
		}
		switch br.list[0].atom {
		case "case":
			if len(br.list) < 3 {
				return nil, fmt.Errorf("case needs a label and a body")
			}
			label, err := p.uintAtom(br.list[1])
			if err != nil {
				return nil, err
			}
			info, body, err := p.branchTail(br.list[2:])
			if err != nil {
				return nil, err
			}
			branches = append(branches, ir.SwitchBranch{Label: label, Info: info, Body: body})
		case "default":
			info, body, err := p.branchTail(br.list[1:])
			if err != nil {
				return nil, err
			}
			def = &ir.SwitchBranch{Info: info, Body: body}
		default:
			return nil, fmt.Errorf("unknown switch branch %q", br.list[0].atom)
		}
	}
	if def == nil {
		return nil, fmt.Errorf("switch needs a default branch")
	}
	return ir.NewSwitch(cond, p.store.Int(), branches, def, p.store.Int()), nil
}

// branchTail parses an optional branch info form followed by the body.
func (p *Parser) branchTail(nodes []*node) (ir.BranchInfo, *ir.Stmt, error) {
	info := ir.BranchInfo{}
	if len(nodes) == 2 {
		infoNode := nodes[0]
		if infoNode.kind != nList || len(infoNode.list) != 3 || infoNode.list[0].kind != nAtom {
			return info, nil, fmt.Errorf("branch info must be (ctor s <tag>) or (len s <n>)")
		}
		scrutinee := p.idents.Named(infoNode.list[1].atom)
		value, err := p.uintAtom(infoNode.list[2])
		if err != nil {
			return info, nil, err
		}
		switch infoNode.list[0].atom {
		case "ctor":
			info = ir.BranchInfo{Kind: ir.BranchConstructor, Scrutinee: scrutinee, Tag: uint16(value)}
		case "len":
			info = ir.BranchInfo{Kind: ir.BranchList, Scrutinee: scrutinee, Length: value}
		default:
			return info, nil, fmt.Errorf("unknown branch info %q", infoNode.list[0].atom)
		}
		nodes = nodes[1:]
	}
	if len(nodes) != 1 {
		return info, nil, fmt.Errorf("branch needs exactly one body")
	}
	body, err := p.stmt(nodes[0])
	return info, body, err
}

func (p *Parser) expr(n *node) (*ir.Expr, error) {
	if n.kind != nList || len(n.list) == 0 || n.list[0].kind != nAtom {
		return nil, fmt.Errorf("expected an expression")
	}
	switch head := n.list[0].atom; head {
	case "call":
		if len(n.list) < 2 || n.list[1].kind != nAtom {
			return nil, fmt.Errorf("call needs a procedure name")
		}
		args, err := p.symbols(n.list[2:])
		if err != nil {
			return nil, err
		}
		return ir.NewCallByName(n.list[1].atom, args...), nil

	case "lowlevel":
		if len(n.list) < 2 || n.list[1].kind != nAtom {
			return nil, fmt.Errorf("lowlevel needs an operation")
		}
		var op ir.LowLevel
		switch n.list[1].atom {
		case "list-get-unsafe":
			op = ir.ListGetUnsafe
		case "list-len":
			op = ir.ListLen
		case "refcount-is-unique":
			op = ir.RefCountIsUnique
		default:
			return nil, fmt.Errorf("unknown lowlevel op %q", n.list[1].atom)
		}
		args, err := p.symbols(n.list[2:])
		if err != nil {
			return nil, err
		}
		return ir.NewLowLevel(op, args...), nil

	case "struct", "array":
		args, err := p.symbols(n.list[1:])
		if err != nil {
			return nil, err
		}
		if head == "struct" {
			return ir.NewStructExpr(args...), nil
		}
		return ir.NewArray(args...), nil

	case "tag":
		if len(n.list) < 2 {
			return nil, fmt.Errorf("tag needs a tag id")
		}
		tag, err := p.uintAtom(n.list[1])
		if err != nil {
			return nil, err
		}
		args, err := p.symbols(n.list[2:])
		if err != nil {
			return nil, err
		}
		return ir.NewTagExpr(uint16(tag), args...), nil

	case "struct-at-index":
		if len(n.list) != 3 || n.list[2].kind != nAtom {
			return nil, fmt.Errorf("struct-at-index needs an index and a structure")
		}
		index, err := p.uintAtom(n.list[1])
		if err != nil {
			return nil, err
		}
		return ir.NewStructAtIndex(index, p.idents.Named(n.list[2].atom)), nil

	case "union-at-index":
		if len(n.list) != 4 || n.list[3].kind != nAtom {
			return nil, fmt.Errorf("union-at-index needs a tag, an index and a structure")
		}
		tag, err := p.uintAtom(n.list[1])
		if err != nil {
			return nil, err
		}
		index, err := p.uintAtom(n.list[2])
		if err != nil {
			return nil, err
		}
		return ir.NewUnionAtIndex(p.idents.Named(n.list[3].atom), uint16(tag), index), nil

	case "unbox", "box", "get-tag-id":
		if len(n.list) != 2 || n.list[1].kind != nAtom {
			return nil, fmt.Errorf("%s needs a structure", head)
		}
		sym := p.idents.Named(n.list[1].atom)
		switch head {
		case "unbox":
			return ir.NewUnbox(sym), nil
		case "box":
			return ir.NewBoxExpr(sym), nil
		default:
			return ir.NewGetTagID(sym), nil
		}

	case "lit":
		if len(n.list) != 2 {
			return nil, fmt.Errorf("lit needs one value")
		}
		return p.literal(n.list[1])

	case "empty-array":
		return ir.NewEmptyArray(), nil
	case "null-pointer":
		return ir.NewNullPointer(), nil

	case "runtime-error":
		if len(n.list) != 2 || n.list[1].kind != nStr {
			return nil, fmt.Errorf("runtime-error needs a message string")
		}
		return ir.NewRuntimeError(n.list[1].atom), nil

	default:
		return nil, fmt.Errorf("unknown expression form %q", head)
	}
}

func (p *Parser) literal(n *node) (*ir.Expr, error) {
	if n.kind == nStr {
		return ir.NewStrLit(n.atom), nil
	}
	if n.kind != nAtom {
		return nil, fmt.Errorf("bad literal")
	}
	switch n.atom {
	case "true":
		return ir.NewBoolLit(true), nil
	case "false":
		return ir.NewBoolLit(false), nil
	}
	if i, err := strconv.ParseInt(n.atom, 10, 64); err == nil {
		return ir.NewIntLit(i), nil
	}
	if f, err := strconv.ParseFloat(n.atom, 64); err == nil {
		return ir.NewFloatLit(f), nil
	}
	return nil, fmt.Errorf("bad literal %q", n.atom)
}

func (p *Parser) symbols(nodes []*node) ([]ir.Symbol, error) {
	var syms []ir.Symbol
	for _, n := range nodes {
		if n.kind != nAtom {
			return nil, fmt.Errorf("expected a symbol")
		}
		syms = append(syms, p.idents.Named(n.atom))
	}
	return syms, nil
}

func (p *Parser) uintAtom(n *node) (uint64, error) {
	if n.kind != nAtom {
		return 0, fmt.Errorf("expected a number")
	}
	v, err := strconv.ParseUint(n.atom, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", n.atom)
	}
	return v, nil
}
