package dropspec_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Maldus512/roc/pkg/dropspec"
	"github.com/Maldus512/roc/pkg/ir"
	"github.com/Maldus512/roc/pkg/layout"
)

// countOps sums the increments and decrements of sym along a linear
// statement chain.
func countOps(s *ir.Stmt, sym ir.Symbol) (incs, decs int64) {
	for s != nil {
		if s.Kind == ir.StmtRefcounting && s.RC.Sym == sym {
			switch s.RC.Op {
			case ir.RCInc:
				incs += int64(s.RC.Count)
			case ir.RCDec:
				decs++
			}
		}
		s = s.Cont
	}
	return incs, decs
}

// Cancellation removes one increment unit together with one decrement, so
// the net refcount effect of any inc/dec sequence on a single symbol is
// preserved, and decrements never multiply.
func TestNetEffectPreserved(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("net refcount effect is preserved", prop.ForAll(
		func(ops []int) bool {
			store := layout.NewStore()
			idents := ir.NewIdentIds()
			x := idents.Named("x")
			r := idents.Named("r")

			body := ir.NewLet(r, ir.NewIntLit(0), store.Int(), ir.NewRet(r))
			for i := len(ops) - 1; i >= 0; i-- {
				switch ops[i] {
				case 0:
					body = ir.NewInc(x, 1, body)
				case 1:
					body = ir.NewInc(x, 2, body)
				default:
					body = ir.NewDec(x, body)
				}
			}
			proc := &ir.Proc{
				Name: "p",
				Args: []ir.Param{{Sym: x, Layout: store.Str()}},
				Ret:  store.Int(),
				Body: body,
			}

			beforeIncs, beforeDecs := countOps(proc.Body, x)
			dropspec.Run(store, idents, []*ir.Proc{proc})
			afterIncs, afterDecs := countOps(proc.Body, x)

			return afterIncs-afterDecs == beforeIncs-beforeDecs &&
				afterDecs <= beforeDecs &&
				afterIncs <= beforeIncs
		},
		gen.SliceOf(gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}
