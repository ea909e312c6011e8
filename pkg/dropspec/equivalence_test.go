package dropspec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Maldus512/roc/pkg/dropspec"
	"github.com/Maldus512/roc/pkg/interp"
)

// The rewritten program must compute the same value and leave the heap
// empty, exactly like the original.
func runBoth(t *testing.T, src, proc string) {
	t.Helper()

	storeA, _, before := compile(t, src)
	machineA := interp.NewMachine(storeA, before)
	want, err := machineA.Call(proc)
	require.NoError(t, err)
	require.Zero(t, machineA.LiveCells())

	storeB, identsB, after := compile(t, src)
	dropspec.Run(storeB, identsB, after)
	machineB := interp.NewMachine(storeB, after)
	got, err := machineB.Call(proc)
	require.NoError(t, err)
	require.Zero(t, machineB.LiveCells(), "rewritten program leaked cells")

	require.Equal(t, want, got)
}

func TestBoxEquivalence(t *testing.T) {
	runBoth(t, `
(proc boxes () i64
  (let x (lit 7) i64
    (let inner (box x) (box i64)
      (let outer (box inner) (box (box i64))
        (let v (unbox outer) (box i64)
          (inc v 1
            (dec outer
              (let r (unbox v) i64
                (dec v
                  (ret r))))))))))`, "boxes")
}

func TestListEquivalence(t *testing.T) {
	runBoth(t, `
(proc list2 () i64
  (let x (lit 3) i64
    (let bx (box x) (box i64)
      (let by (box x) (box i64)
        (let l (array bx by) (list (box i64))
          (let t (lit 0) i64
            (switch t
              (case 0 (len l 2)
                (let i0 (lit 0) i64
                  (let a (lowlevel list-get-unsafe l i0) (box i64)
                    (let i1 (lit 1) i64
                      (let b (lowlevel list-get-unsafe l i1) (box i64)
                        (inc a 1
                          (inc b 1
                            (let r (unbox a) i64
                              (dec l
                                (dec a
                                  (dec b
                                    (ret r))))))))))))
              (default
                (let r1 (lit 9) i64
                  (ret r1))))))))))`, "list2")
}

func TestUniqueUnionEquivalence(t *testing.T) {
	runBoth(t, `
(deflayout Node (union rec (str) (str Node)))
(proc unique () i64
  (let s (lit "x") str
    (let leaf (tag 0 s) Node
      (let node (tag 1 s leaf) Node
        (let t (lit 1) i64
          (switch t
            (case 1 (ctor node 1)
              (let h (union-at-index 1 0 node) str
                (let tl (union-at-index 1 1 node) Node
                  (inc tl 1
                    (dec node
                      (let r (get-tag-id tl) i64
                        (dec tl
                          (ret r))))))))
            (default
              (let r1 (lit 9) i64
                (ret r1)))))))))`, "unique")
}

func TestSharedUnionEquivalence(t *testing.T) {
	// The extra increment keeps the cell shared, so at runtime the
	// not-unique arm runs and must restore the field's ownership.
	runBoth(t, `
(deflayout Node (union rec (str) (str Node)))
(proc shared () i64
  (let s (lit "x") str
    (let leaf (tag 0 s) Node
      (let node (tag 1 s leaf) Node
        (inc node 1
          (let t (lit 1) i64
            (switch t
              (case 1 (ctor node 1)
                (let h (union-at-index 1 0 node) str
                  (let tl (union-at-index 1 1 node) Node
                    (inc tl 1
                      (dec node
                        (let r (get-tag-id tl) i64
                          (dec tl
                            (dec node
                              (ret r)))))))))
              (default
                (let r1 (lit 9) i64
                  (ret r1))))))))))`, "shared")
}

func TestNullableUnionEquivalence(t *testing.T) {
	runBoth(t, `
(deflayout L (union nullable-wrapped 0 (str L)))
(proc nullable () i64
  (let z (tag 0) L
    (let t (lit 0) i64
      (switch t
        (case 0 (ctor z 0)
          (dec z
            (let r (get-tag-id z) i64
              (ret r))))
        (default
          (let r1 (lit 9) i64
            (ret r1)))))))`, "nullable")
}
