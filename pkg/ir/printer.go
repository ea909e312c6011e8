package ir

import (
	"fmt"
	"io"
	"strings"
)

// Printer renders procedures in a readable, indented form. Layouts are
// shown as @id references into the layout store.
type Printer struct {
	Idents *IdentIds
}

// Proc prints one procedure.
func (p *Printer) Proc(w io.Writer, proc *Proc) {
	args := make([]string, len(proc.Args))
	for i, a := range proc.Args {
		args[i] = fmt.Sprintf("%s @%d", p.sym(a.Sym), a.Layout)
	}
	fmt.Fprintf(w, "proc %s(%s) -> @%d:\n", proc.Name, strings.Join(args, ", "), proc.Ret)
	p.stmt(w, 1, proc.Body)
}

func (p *Printer) sym(s Symbol) string {
	if p.Idents != nil {
		return p.Idents.Name(s)
	}
	return fmt.Sprintf("sym_%d", uint32(s))
}

func (p *Printer) syms(ss []Symbol) string {
	parts := make([]string, len(ss))
	for i, s := range ss {
		parts[i] = p.sym(s)
	}
	return strings.Join(parts, " ")
}

func (p *Printer) stmt(w io.Writer, depth int, s *Stmt) {
	ind := strings.Repeat("  ", depth)
	switch s.Kind {
	case StmtLet:
		fmt.Fprintf(w, "%slet %s = %s : @%d\n", ind, p.sym(s.Binding), p.Expr(s.Expr), s.Layout)
		p.stmt(w, depth, s.Cont)
	case StmtSwitch:
		fmt.Fprintf(w, "%sswitch %s:\n", ind, p.sym(s.Cond))
		for _, br := range s.Branches {
			fmt.Fprintf(w, "%s  case %d%s:\n", ind, br.Label, p.branchInfo(br.Info))
			p.stmt(w, depth+2, br.Body)
		}
		fmt.Fprintf(w, "%s  default%s:\n", ind, p.branchInfo(s.Default.Info))
		p.stmt(w, depth+2, s.Default.Body)
	case StmtRet:
		fmt.Fprintf(w, "%sret %s\n", ind, p.sym(s.Sym))
	case StmtRefcounting:
		switch s.RC.Op {
		case RCInc:
			fmt.Fprintf(w, "%sinc %s %d\n", ind, p.sym(s.RC.Sym), s.RC.Count)
		case RCDec:
			fmt.Fprintf(w, "%sdec %s\n", ind, p.sym(s.RC.Sym))
		case RCDecRef:
			fmt.Fprintf(w, "%sdecref %s\n", ind, p.sym(s.RC.Sym))
		}
		p.stmt(w, depth, s.Cont)
	case StmtJoin:
		params := make([]string, len(s.Params))
		for i, prm := range s.Params {
			params[i] = fmt.Sprintf("%s @%d", p.sym(prm.Sym), prm.Layout)
		}
		fmt.Fprintf(w, "%sjoin %s(%s):\n", ind, p.sym(Symbol(s.ID)), strings.Join(params, ", "))
		p.stmt(w, depth+1, s.Body)
		fmt.Fprintf(w, "%sin:\n", ind)
		p.stmt(w, depth+1, s.Cont)
	case StmtJump:
		fmt.Fprintf(w, "%sjump %s %s\n", ind, p.sym(Symbol(s.ID)), p.syms(s.Args))
	case StmtCrash:
		fmt.Fprintf(w, "%scrash %s\n", ind, p.sym(s.Sym))
	case StmtExpect:
		fmt.Fprintf(w, "%sexpect %s\n", ind, p.sym(s.Sym))
		p.stmt(w, depth, s.Cont)
	case StmtExpectFx:
		fmt.Fprintf(w, "%sexpect-fx %s\n", ind, p.sym(s.Sym))
		p.stmt(w, depth, s.Cont)
	case StmtDbg:
		fmt.Fprintf(w, "%sdbg %s\n", ind, p.sym(s.Sym))
		p.stmt(w, depth, s.Cont)
	}
}

func (p *Printer) branchInfo(info BranchInfo) string {
	switch info.Kind {
	case BranchConstructor:
		return fmt.Sprintf(" (ctor %s %d)", p.sym(info.Scrutinee), info.Tag)
	case BranchList:
		return fmt.Sprintf(" (len %s %d)", p.sym(info.Scrutinee), info.Length)
	default:
		return ""
	}
}

// Expr renders one expression on a single line.
func (p *Printer) Expr(e *Expr) string {
	switch e.Kind {
	case ExprCall:
		if e.Call.Kind == CallLowLevel {
			return fmt.Sprintf("lowlevel %s %s", lowLevelName(e.Call.Op), p.syms(e.Call.Arguments))
		}
		return fmt.Sprintf("call %s %s", e.Call.Name, p.syms(e.Call.Arguments))
	case ExprStruct:
		return fmt.Sprintf("struct %s", p.syms(e.Args))
	case ExprTag:
		return fmt.Sprintf("tag %d %s", e.Tag, p.syms(e.Args))
	case ExprStructAtIndex:
		return fmt.Sprintf("struct-at-index %d %s", e.Index, p.sym(e.Structure))
	case ExprUnionAtIndex:
		return fmt.Sprintf("union-at-index %d %d %s", e.Tag, e.Index, p.sym(e.Structure))
	case ExprUnbox:
		return fmt.Sprintf("unbox %s", p.sym(e.Structure))
	case ExprBox:
		return fmt.Sprintf("box %s", p.sym(e.Structure))
	case ExprLiteral:
		switch e.Lit.Kind {
		case LitInt:
			return fmt.Sprintf("lit %d", e.Lit.Int)
		case LitFloat:
			return fmt.Sprintf("lit %g", e.Lit.Float)
		case LitBool:
			return fmt.Sprintf("lit %t", e.Lit.Bool)
		default:
			return fmt.Sprintf("lit %q", e.Lit.Str)
		}
	case ExprArray:
		return fmt.Sprintf("array %s", p.syms(e.Args))
	case ExprEmptyArray:
		return "empty-array"
	case ExprNullPointer:
		return "null-pointer"
	case ExprGetTagID:
		return fmt.Sprintf("get-tag-id %s", p.sym(e.Structure))
	case ExprRuntimeError:
		return fmt.Sprintf("runtime-error %q", e.Msg)
	default:
		return "?"
	}
}

func lowLevelName(op LowLevel) string {
	switch op {
	case ListGetUnsafe:
		return "list-get-unsafe"
	case ListLen:
		return "list-len"
	case RefCountIsUnique:
		return "refcount-is-unique"
	default:
		return fmt.Sprintf("op(%d)", op)
	}
}
