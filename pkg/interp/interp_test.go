package interp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maldus512/roc/pkg/interp"
	"github.com/Maldus512/roc/pkg/ir"
	"github.com/Maldus512/roc/pkg/layout"
	"github.com/Maldus512/roc/pkg/parser"
)

func run(t *testing.T, src, proc string) (interp.Value, *interp.Machine, error) {
	t.Helper()
	store := layout.NewStore()
	idents := ir.NewIdentIds()
	procs, err := parser.New(src, store, idents).ParseProgram()
	require.NoError(t, err)
	m := interp.NewMachine(store, procs)
	v, err := m.Call(proc)
	return v, m, err
}

func TestBoxRoundTrip(t *testing.T) {
	v, m, err := run(t, `
(proc f () i64
  (let x (lit 7) i64
    (let b (box x) (box i64)
      (let y (unbox b) i64
        (dec b
          (ret y))))))`, "f")
	require.NoError(t, err)
	assert.Equal(t, interp.Value{Kind: interp.VInt, Int: 7}, v)
	assert.Zero(t, m.LiveCells())
}

func TestDoubleFreeDetected(t *testing.T) {
	_, _, err := run(t, `
(proc f () i64
  (let x (lit 1) i64
    (let b (box x) (box i64)
      (dec b
        (dec b
          (ret x))))))`, "f")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "freed cell")
}

func TestLeakIsVisible(t *testing.T) {
	_, m, err := run(t, `
(proc f () i64
  (let x (lit 1) i64
    (let b (box x) (box i64)
      (ret x))))`, "f")
	require.NoError(t, err)
	assert.Equal(t, 1, m.LiveCells())
}

func TestListOps(t *testing.T) {
	v, m, err := run(t, `
(proc f () i64
  (let a (lit 10) i64
    (let b (lit 20) i64
      (let l (array a b) (list i64)
        (let i (lit 1) i64
          (let e (lowlevel list-get-unsafe l i) i64
            (let n (lowlevel list-len l) i64
              (dec l
                (ret e)))))))))`, "f")
	require.NoError(t, err)
	assert.Equal(t, interp.Value{Kind: interp.VInt, Int: 20}, v)
	assert.Zero(t, m.LiveCells())
}

func TestUniquenessPrimitive(t *testing.T) {
	v, m, err := run(t, `
(proc f () i64
  (let x (lit 1) i64
    (let b (box x) (box i64)
      (inc b 1
        (let shared (lowlevel refcount-is-unique b) bool
          (dec b
            (let alone (lowlevel refcount-is-unique b) bool
              (dec b
                (switch shared
                  (case 1 (ret x))
                  (default (ret alone)))))))))))`, "f")
	require.NoError(t, err)
	// Shared at the first probe, unique at the second.
	assert.Equal(t, interp.Value{Kind: interp.VBool, Bool: true}, v)
	assert.Zero(t, m.LiveCells())
}

func TestNullableVariant(t *testing.T) {
	v, m, err := run(t, `
(deflayout L (union nullable-wrapped 0 (str L)))
(proc f () i64
  (let z (tag 0) L
    (let tid (get-tag-id z) i64
      (dec z
        (ret tid)))))`, "f")
	require.NoError(t, err)
	assert.Equal(t, interp.Value{Kind: interp.VInt, Int: 0}, v)
	assert.Zero(t, m.LiveCells())
}

func TestDecRefIsShallow(t *testing.T) {
	// Releasing the outer box without its child leaves the child alive.
	_, m, err := run(t, `
(proc f () i64
  (let x (lit 1) i64
    (let inner (box x) (box i64)
      (let outer (box inner) (box (box i64))
        (decref outer
          (ret x))))))`, "f")
	require.NoError(t, err)
	assert.Equal(t, 1, m.LiveCells())
}

func TestJoinAndJump(t *testing.T) {
	v, _, err := run(t, `
(proc f () i64
  (let a (lit 5) i64
    (join jp ((v i64))
      (ret v)
      (jump jp a))))`, "f")
	require.NoError(t, err)
	assert.Equal(t, interp.Value{Kind: interp.VInt, Int: 5}, v)
}

func TestCrash(t *testing.T) {
	_, _, err := run(t, `
(proc f () i64
  (let m (lit "boom") str
    (crash m)))`, "f")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestCallByName(t *testing.T) {
	v, m, err := run(t, `
(proc helper ((b (box i64))) i64
  (let y (unbox b) i64
    (dec b
      (ret y))))
(proc f () i64
  (let x (lit 42) i64
    (let b (box x) (box i64)
      (let r (call helper b) i64
        (ret r)))))`, "f")
	require.NoError(t, err)
	assert.Equal(t, interp.Value{Kind: interp.VInt, Int: 42}, v)
	assert.Zero(t, m.LiveCells())
}
