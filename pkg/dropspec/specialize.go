package dropspec

import (
	"fmt"

	"github.com/Maldus512/roc/pkg/ir"
	"github.com/Maldus512/roc/pkg/layout"
)

// Stats counts what a run of the pass achieved.
type Stats struct {
	PairsCancelled  int // increment/decrement pairs removed
	DecsSpecialized int // generic decrements replaced by per-child ones
}

// Plus returns the sum of two statistics.
func (s Stats) Plus(o Stats) Stats {
	return Stats{
		PairsCancelled:  s.PairsCancelled + o.PairsCancelled,
		DecsSpecialized: s.DecsSpecialized + o.DecsSpecialized,
	}
}

// Run rewrites the body of every procedure and returns aggregate
// statistics. Each procedure is processed with an independent environment.
func Run(store *layout.Store, idents *ir.IdentIds, procs []*ir.Proc) Stats {
	var total Stats
	for _, proc := range procs {
		total = total.Plus(RunProc(store, idents, proc))
	}
	return total
}

// RunProc rewrites a single procedure in place. The input statement tree is
// never mutated; the body is replaced by a freshly built tree with the same
// argument and return layouts.
func RunProc(store *layout.Store, idents *ir.IdentIds, proc *ir.Proc) Stats {
	sp := &specializer{store: store, idents: idents}
	env := NewEnvironment(store, proc.Ret)
	for _, arg := range proc.Args {
		env.AddSymbolLayout(arg.Sym, arg.Layout)
	}
	proc.Body = sp.stmt(env, proc.Body)
	return sp.stats
}

type specializer struct {
	store  *layout.Store
	idents *ir.IdentIds
	stats  Stats
}

func (sp *specializer) stmt(env *Environment, s *ir.Stmt) *ir.Stmt {
	switch s.Kind {
	case ir.StmtLet:
		return sp.let(env, s)

	case ir.StmtSwitch:
		branches := make([]ir.SwitchBranch, len(s.Branches))
		for i, br := range s.Branches {
			branchEnv := env.ForkWithoutIncrements()
			seedBranchInfo(branchEnv, br.Info)
			branches[i] = ir.SwitchBranch{Label: br.Label, Info: br.Info, Body: sp.stmt(branchEnv, br.Body)}
		}
		defaultEnv := env.ForkWithoutIncrements()
		seedBranchInfo(defaultEnv, s.Default.Info)
		def := &ir.SwitchBranch{Info: s.Default.Info, Body: sp.stmt(defaultEnv, s.Default.Body)}
		return ir.NewSwitch(s.Cond, s.CondLayout, branches, def, s.RetLayout)

	case ir.StmtRefcounting:
		return sp.refcounting(env, s)

	case ir.StmtJoin:
		// A join body may run zero or more times, so it gets a fresh fork
		// and its effects are invisible to the remainder.
		bodyEnv := env.ForkWithoutIncrements()
		for _, p := range s.Params {
			bodyEnv.AddSymbolLayout(p.Sym, p.Layout)
		}
		body := sp.stmt(bodyEnv, s.Body)
		return ir.NewJoin(s.ID, s.Params, body, sp.stmt(env, s.Cont))

	case ir.StmtExpect:
		return ir.NewExpect(s.Sym, sp.stmt(env, s.Cont))
	case ir.StmtExpectFx:
		return ir.NewExpectFx(s.Sym, sp.stmt(env, s.Cont))
	case ir.StmtDbg:
		return ir.NewDbg(s.Sym, sp.stmt(env, s.Cont))

	case ir.StmtRet, ir.StmtJump, ir.StmtCrash:
		return s

	default:
		panic(fmt.Sprintf("unknown statement kind %d", s.Kind))
	}
}

func (sp *specializer) let(env *Environment, s *ir.Stmt) *ir.Stmt {
	env.AddSymbolLayout(s.Binding, s.Layout)

	rebuild := func(contEnv *Environment) *ir.Stmt {
		return ir.NewLet(s.Binding, s.Expr, s.Layout, sp.stmt(contEnv, s.Cont))
	}

	switch s.Expr.Kind {
	case ir.ExprCall:
		call := s.Expr.Call
		if call.Kind == ir.CallLowLevel && call.Op == ir.ListGetUnsafe {
			if len(call.Arguments) != 2 {
				panic(fmt.Sprintf("list get must have two arguments, got %d", len(call.Arguments)))
			}
			env.AddListChild(call.Arguments[0], s.Binding, call.Arguments[1])
			return rebuild(env)
		}
		// A call can modify refcounts. Moving a child increment past it
		// could let the call deallocate the child; moving the parent
		// decrement before it could deallocate the parent under the call.
		// Forget all outstanding increments.
		return rebuild(env.ForkWithoutIncrements())

	case ir.ExprStruct:
		return rebuild(env.ForkWithoutIncrements())

	case ir.ExprTag:
		fork := env.ForkWithoutIncrements()
		fork.SetTag(s.Binding, s.Expr.Tag)
		return rebuild(fork)

	case ir.ExprStructAtIndex:
		env.AddStructChild(s.Expr.Structure, s.Binding, s.Expr.Index)
		return rebuild(env)

	case ir.ExprUnionAtIndex:
		env.AddUnionChild(s.Expr.Structure, s.Binding, s.Expr.Tag, s.Expr.Index)
		// A variant field is only projected after branching on the tag,
		// so the structure's tag is known here.
		env.SetTag(s.Expr.Structure, s.Expr.Tag)
		return rebuild(env)

	case ir.ExprUnbox:
		env.AddBoxChild(s.Expr.Structure, s.Binding)
		return rebuild(env)

	case ir.ExprLiteral:
		// Integer literals may later index a list.
		if s.Expr.Lit.Kind == ir.LitInt && s.Expr.Lit.Int >= 0 {
			env.SetIndex(s.Binding, uint64(s.Expr.Lit.Int))
		}
		return rebuild(env)

	default:
		// Structurally inert for drop specialization.
		return rebuild(env)
	}
}

func (sp *specializer) refcounting(env *Environment, s *ir.Stmt) *ir.Stmt {
	sym := s.RC.Sym
	switch s.RC.Op {
	case ir.RCInc:
		any := env.AnyIncremented(sym)
		env.AddIncremented(sym, s.RC.Count)

		// Process the continuation first so later decrements can cancel
		// against this reservation.
		cont := sp.stmt(env, s.Cont)

		if any {
			// An earlier increment of this symbol will emit the settled
			// count.
			return cont
		}
		settled := env.GetIncremented(sym)
		if settled == 0 {
			return cont
		}
		return ir.NewInc(sym, settled, cont)

	case ir.RCDec:
		if env.PopIncremented(sym) {
			// Cancelled against an outstanding increment of the same
			// symbol.
			sp.stats.PairsCancelled++
			return sp.stmt(env, s.Cont)
		}

		// Pop one reservation per incremented child, so that
		//   let a = index b; inc a; dec b; ...; dec a
		// is not turned into
		//   let a = index b; dec b
		// where a could already be gone after the decrement of b.
		popped := make(map[ir.Symbol]bool)
		for _, child := range env.GetChildren(sym) {
			if popped[child] {
				continue
			}
			if env.PopIncremented(child) {
				popped[child] = true
			}
		}

		l := env.GetSymbolLayout(sym)
		var out *ir.Stmt
		switch rt := sp.store.Runtime(l); rt.Kind {
		case layout.KindStruct:
			out = sp.specializeStruct(env, sym, rt.Fields, popped, s.Cont)
		case layout.KindUnion:
			out = sp.specializeUnion(env, sym, rt.Union, popped, s.Cont)
		case layout.KindBox:
			out = sp.specializeBoxed(env, sym, popped, s.Cont)
		case layout.KindList:
			out = sp.specializeList(env, sym, rt.Elem, popped, s.Cont)
		default:
			// Unrecognized shape: degrade to the plain decrement.
			out = ir.NewDec(sym, sp.stmt(env, s.Cont))
		}

		// Reservations the specializer did not incorporate go back into
		// the environment; other parents of the same child stay correct.
		for child := range popped {
			env.AddIncremented(child, 1)
		}
		return out

	case ir.RCDecRef:
		// A shallow decrement never touches children, so inlining it has
		// no benefit.
		return ir.NewDecRef(sym, sp.stmt(env, s.Cont))

	default:
		panic(fmt.Sprintf("unknown refcount op %d", s.RC.Op))
	}
}

func seedBranchInfo(env *Environment, info ir.BranchInfo) {
	switch info.Kind {
	case ir.BranchConstructor:
		env.SetTag(info.Scrutinee, info.Tag)
	case ir.BranchList:
		env.SetListLength(info.Scrutinee, info.Length)
	}
}
