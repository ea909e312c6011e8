package dropspec_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maldus512/roc/pkg/dropspec"
	"github.com/Maldus512/roc/pkg/ir"
	"github.com/Maldus512/roc/pkg/layout"
	"github.com/Maldus512/roc/pkg/parser"
)

const structSource = `
(proc drop_struct ((b (struct str str))) i64
  (let a (struct-at-index 0 b) str
    (inc a 1
      (dec a
        (dec b
          (let r (lit 0) i64
            (ret r)))))))`

const pairSource = `
(proc pair ((x str)) i64
  (inc x 1
    (dec x
      (let r (lit 0) i64
        (ret r)))))`

const callBarrierSource = `
(proc barrier ((x str)) i64
  (inc x 1
    (let y (call g x) i64
      (dec x
        (ret y)))))`

const recursiveUnionSource = `
(deflayout Node (union rec (str) (str Node)))
(proc drop_node ((n Node) (t i64)) i64
  (switch t
    (case 1 (ctor n 1)
      (let h (union-at-index 1 0 n) str
        (let tl (union-at-index 1 1 n) Node
          (dec n
            (let r (lit 1) i64
              (ret r))))))
    (default
      (let r0 (lit 0) i64
        (ret r0)))))`

const listSource = `
(proc drop_list ((l (list str)) (t i64)) i64
  (switch t
    (case 0 (len l 2)
      (let i0 (lit 0) i64
        (let a (lowlevel list-get-unsafe l i0) str
          (let i1 (lit 1) i64
            (let b (lowlevel list-get-unsafe l i1) str
              (inc a 1
                (inc b 1
                  (dec l
                    (let r (lit 0) i64
                      (ret r))))))))))
    (default
      (let r1 (lit 1) i64
        (ret r1)))))`

const listUnknownLengthSource = `
(proc drop_list ((l (list str))) i64
  (let i0 (lit 0) i64
    (let a (lowlevel list-get-unsafe l i0) str
      (inc a 1
        (dec l
          (let r (lit 0) i64
            (ret r)))))))`

const unknownTagSource = `
(deflayout Node (union rec (str) (str Node)))
(proc drop_node ((n Node)) i64
  (dec n
    (let r (lit 0) i64
      (ret r))))`

const nullTagSource = `
(deflayout L (union nullable-wrapped 0 (str L)))
(proc drop_null ((x L) (t i64)) i64
  (switch t
    (case 0 (ctor x 0)
      (dec x
        (let r (lit 0) i64
          (ret r))))
    (default
      (let r1 (lit 1) i64
        (ret r1)))))`

const joinSource = `
(proc with_join ((x str)) i64
  (inc x 1
    (join jp ()
      (dec x
        (let r (lit 0) i64
          (ret r)))
      (jump jp))))`

const diagnosticSource = `
(proc diag ((x str) (c bool)) i64
  (inc x 1
    (dbg c
      (expect c
        (dec x
          (let r (lit 0) i64
            (ret r)))))))`

const boxSource = `
(proc drop_box ((bx (box str))) i64
  (let v (unbox bx) str
    (inc v 1
      (dec bx
        (dec v
          (let r (lit 0) i64
            (ret r)))))))`

func compile(t *testing.T, src string) (*layout.Store, *ir.IdentIds, []*ir.Proc) {
	t.Helper()
	store := layout.NewStore()
	idents := ir.NewIdentIds()
	procs, err := parser.New(src, store, idents).ParseProgram()
	require.NoError(t, err)
	require.NotEmpty(t, procs)
	return store, idents, procs
}

func render(idents *ir.IdentIds, procs []*ir.Proc) string {
	var buf bytes.Buffer
	pr := &ir.Printer{Idents: idents}
	for _, p := range procs {
		pr.Proc(&buf, p)
	}
	return buf.String()
}

func TestStructSpecialization(t *testing.T) {
	store, idents, procs := compile(t, structSource)
	stats := dropspec.Run(store, idents, procs)

	out := render(idents, procs)
	assert.NotContains(t, out, "inc ")
	assert.NotContains(t, out, "dec b\n")
	assert.Contains(t, out, "struct-at-index 1 b")
	assert.Equal(t, 2, strings.Count(out, "dec "))
	// Last field first.
	assert.Regexp(t, `(?s)dec field_val_1_\d+\s+dec a`, out)

	assert.Equal(t, 1, stats.PairsCancelled)
	assert.Equal(t, 1, stats.DecsSpecialized)
}

func TestIncDecPairCancellation(t *testing.T) {
	store, idents, procs := compile(t, pairSource)
	stats := dropspec.Run(store, idents, procs)

	out := render(idents, procs)
	assert.NotContains(t, out, "inc ")
	assert.NotContains(t, out, "dec ")
	assert.Equal(t, 1, stats.PairsCancelled)
	assert.Equal(t, 0, stats.DecsSpecialized)
}

func TestCallBlocksCancellation(t *testing.T) {
	store, idents, procs := compile(t, callBarrierSource)
	stats := dropspec.Run(store, idents, procs)

	// The call may run arbitrary refcount effects, so the pair survives.
	out := render(idents, procs)
	assert.Contains(t, out, "inc x 1")
	assert.Contains(t, out, "dec x")
	assert.Equal(t, 0, stats.PairsCancelled)
}

func TestRecursiveUnionUniquenessBranch(t *testing.T) {
	store, idents, procs := compile(t, recursiveUnionSource)
	stats := dropspec.Run(store, idents, procs)

	out := render(idents, procs)
	assert.Contains(t, out, "refcount-is-unique n")
	assert.Contains(t, out, "uniqueness_join")
	assert.NotContains(t, out, "dec n\n")
	// Both arms shallowly release the cell.
	assert.Equal(t, 2, strings.Count(out, "decref n"))
	// The unique arm decrements both fields, last first.
	assert.Regexp(t, `(?s)dec tl\s+dec h\s+decref n`, out)
	assert.Equal(t, 1, stats.DecsSpecialized)
}

func TestListFullCancellation(t *testing.T) {
	store, idents, procs := compile(t, listSource)
	stats := dropspec.Run(store, idents, procs)

	// Both element increments cancel against the list decrement; only a
	// shallow release of the cell remains.
	out := render(idents, procs)
	assert.NotContains(t, out, "inc ")
	assert.Equal(t, 0, strings.Count(out, "dec "))
	assert.Equal(t, 1, strings.Count(out, "decref l"))
	assert.Equal(t, 2, stats.PairsCancelled)
	assert.Equal(t, 1, stats.DecsSpecialized)
}

func TestListUnknownLengthFallback(t *testing.T) {
	store, idents, procs := compile(t, listUnknownLengthSource)
	stats := dropspec.Run(store, idents, procs)

	out := render(idents, procs)
	assert.Contains(t, out, "inc a 1")
	assert.Equal(t, 1, strings.Count(out, "dec "))
	assert.Contains(t, out, "dec l")
	assert.Equal(t, 0, stats.PairsCancelled)
	assert.Equal(t, 0, stats.DecsSpecialized)
}

func TestUnknownTagFallback(t *testing.T) {
	store, idents, procs := compile(t, unknownTagSource)
	stats := dropspec.Run(store, idents, procs)

	out := render(idents, procs)
	assert.Equal(t, 1, strings.Count(out, "dec "))
	assert.Contains(t, out, "dec n")
	assert.NotContains(t, out, "refcount-is-unique")
	assert.Equal(t, 0, stats.DecsSpecialized)
}

func TestNullVariantDecrementDisappears(t *testing.T) {
	store, idents, procs := compile(t, nullTagSource)
	dropspec.Run(store, idents, procs)

	out := render(idents, procs)
	assert.Equal(t, 0, strings.Count(out, "dec "))
	assert.NotContains(t, out, "decref")
}

func TestBoxSpecialization(t *testing.T) {
	store, idents, procs := compile(t, boxSource)
	stats := dropspec.Run(store, idents, procs)

	out := render(idents, procs)
	assert.NotContains(t, out, "inc ")
	assert.Contains(t, out, "decref bx")
	// The contained value is still decremented by the original dec v.
	assert.Equal(t, 1, strings.Count(out, "dec "))
	assert.Equal(t, 1, stats.PairsCancelled)
	assert.Equal(t, 1, stats.DecsSpecialized)
}

func TestJoinBodyDoesNotCancelOuterIncrement(t *testing.T) {
	store, idents, procs := compile(t, joinSource)
	stats := dropspec.Run(store, idents, procs)

	// The join body may run zero or more times, so the increment before the
	// join and the decrement inside it must both survive.
	out := render(idents, procs)
	assert.Contains(t, out, "inc x 1")
	assert.Contains(t, out, "dec x")
	assert.Equal(t, 1, strings.Count(out, "dec "))
	assert.Equal(t, 0, stats.PairsCancelled)
	assert.Equal(t, 0, stats.DecsSpecialized)
}

func TestCancellationCrossesDiagnostics(t *testing.T) {
	store, idents, procs := compile(t, diagnosticSource)
	stats := dropspec.Run(store, idents, procs)

	// Diagnostics are pass-through: the pair cancels across them and the
	// diagnostics themselves remain.
	out := render(idents, procs)
	assert.Contains(t, out, "dbg c")
	assert.Contains(t, out, "expect c")
	assert.NotContains(t, out, "inc ")
	assert.NotContains(t, out, "dec ")
	assert.Equal(t, 1, stats.PairsCancelled)
}

func TestIdempotence(t *testing.T) {
	sources := map[string]string{
		"struct":          structSource,
		"pair":            pairSource,
		"call barrier":    callBarrierSource,
		"recursive union": recursiveUnionSource,
		"list":            listSource,
		"unknown length":  listUnknownLengthSource,
		"unknown tag":     unknownTagSource,
		"null tag":        nullTagSource,
		"box":             boxSource,
		"join":            joinSource,
		"diagnostics":     diagnosticSource,
	}
	for name, src := range sources {
		t.Run(name, func(t *testing.T) {
			storeA, identsA, once := compile(t, src)
			dropspec.Run(storeA, identsA, once)

			storeB, identsB, twice := compile(t, src)
			dropspec.Run(storeB, identsB, twice)
			again := dropspec.Run(storeB, identsB, twice)

			assert.Equal(t, dropspec.Stats{}, again)
			assert.Empty(t, cmp.Diff(once, twice))
		})
	}
}
