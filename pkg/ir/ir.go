package ir

import "github.com/Maldus512/roc/pkg/layout"

// StmtKind represents the kind of a statement
type StmtKind int

const (
	StmtLet StmtKind = iota
	StmtSwitch
	StmtRet
	StmtRefcounting
	StmtJoin
	StmtJump
	StmtCrash
	StmtExpect   // Diagnostic assertion, pass-through for optimizations
	StmtExpectFx // Effectful diagnostic assertion
	StmtDbg      // Debug print of a symbol
)

// ExprKind represents the kind of an expression
type ExprKind int

const (
	ExprCall ExprKind = iota
	ExprStruct
	ExprTag
	ExprStructAtIndex
	ExprUnionAtIndex
	ExprUnbox
	ExprBox
	ExprLiteral
	ExprArray
	ExprEmptyArray
	ExprNullPointer
	ExprGetTagID
	ExprRuntimeError
)

// RCOp is a reference count operation kind.
type RCOp int

const (
	RCInc    RCOp = iota // Increment by Count
	RCDec                // Structural decrement, may recurse into children
	RCDecRef             // Shallow decrement, releases only the cell itself
)

// ModifyRC is a single reference count instruction.
type ModifyRC struct {
	Op    RCOp
	Sym   Symbol
	Count uint64 // RCInc only
}

// CallKind distinguishes calls by name from low-level operations.
type CallKind int

const (
	CallByName CallKind = iota
	CallLowLevel
)

// LowLevel identifies a builtin operation implemented by the backend.
type LowLevel int

const (
	ListGetUnsafe    LowLevel = iota // (list, index) -> element, borrowed
	ListLen                          // (list) -> length
	RefCountIsUnique                 // (value) -> bool, true when refcount is one
)

// Call is a function call or low-level operation.
type Call struct {
	Kind      CallKind
	Name      string   // CallByName
	Op        LowLevel // CallLowLevel
	Arguments []Symbol
}

// LitKind is the kind of a literal
type LitKind int

const (
	LitInt LitKind = iota
	LitFloat
	LitBool
	LitStr
)

// Literal is a constant value.
type Literal struct {
	Kind  LitKind
	Int   int64
	Float float64
	Bool  bool
	Str   string
}

// Expr is the tagged union of all expression forms.
type Expr struct {
	Kind ExprKind

	// ExprCall
	Call *Call

	// ExprStruct, ExprTag, ExprArray: constructor arguments
	Args []Symbol

	// ExprTag, ExprUnionAtIndex
	Tag uint16

	// ExprStructAtIndex, ExprUnionAtIndex, ExprUnbox, ExprBox, ExprGetTagID
	Structure Symbol
	Index     uint64

	// ExprLiteral
	Lit Literal

	// ExprRuntimeError
	Msg string
}

// BranchInfoKind classifies what a switch branch reveals about its scrutinee.
type BranchInfoKind int

const (
	BranchNone BranchInfoKind = iota
	BranchConstructor
	BranchList
)

// BranchInfo carries the fact a switch branch establishes: the scrutinee
// has a concrete constructor tag, or a list has a concrete length.
type BranchInfo struct {
	Kind      BranchInfoKind
	Scrutinee Symbol
	Tag       uint16 // BranchConstructor
	Length    uint64 // BranchList
}

// SwitchBranch is one arm of a switch. The default branch ignores Label.
type SwitchBranch struct {
	Label uint64
	Info  BranchInfo
	Body  *Stmt
}

// Param is a (symbol, layout) pair for procedure and join point parameters.
type Param struct {
	Sym    Symbol
	Layout layout.ID
}

// Stmt is the tagged union of all statement forms. Cont is the continuation
// of Let and Refcounting and the remainder of Join, Expect, ExpectFx and Dbg.
type Stmt struct {
	Kind StmtKind

	// StmtLet
	Binding Symbol
	Expr    *Expr
	Layout  layout.ID

	// StmtSwitch
	Cond       Symbol
	CondLayout layout.ID
	Branches   []SwitchBranch
	Default    *SwitchBranch
	RetLayout  layout.ID

	// StmtRet, StmtCrash, StmtExpect, StmtExpectFx, StmtDbg
	Sym Symbol

	// StmtRefcounting
	RC ModifyRC

	// StmtJoin, StmtJump
	ID     JoinPointID
	Params []Param
	Body   *Stmt
	Args   []Symbol

	Cont *Stmt
}

// Proc is one compiled procedure: its signature plus a root statement.
type Proc struct {
	Name string
	Args []Param
	Ret  layout.ID
	Body *Stmt
}

// NewLet binds expr to binding and continues with cont.
func NewLet(binding Symbol, expr *Expr, l layout.ID, cont *Stmt) *Stmt {
	return &Stmt{Kind: StmtLet, Binding: binding, Expr: expr, Layout: l, Cont: cont}
}

// NewSwitch branches on cond. The default branch is mandatory.
func NewSwitch(cond Symbol, condLayout layout.ID, branches []SwitchBranch, def *SwitchBranch, retLayout layout.ID) *Stmt {
	return &Stmt{
		Kind:       StmtSwitch,
		Cond:       cond,
		CondLayout: condLayout,
		Branches:   branches,
		Default:    def,
		RetLayout:  retLayout,
	}
}

// NewRet returns sym from the current procedure.
func NewRet(sym Symbol) *Stmt {
	return &Stmt{Kind: StmtRet, Sym: sym}
}

// NewInc increments the refcount of sym by count.
func NewInc(sym Symbol, count uint64, cont *Stmt) *Stmt {
	return &Stmt{Kind: StmtRefcounting, RC: ModifyRC{Op: RCInc, Sym: sym, Count: count}, Cont: cont}
}

// NewDec structurally decrements the refcount of sym.
func NewDec(sym Symbol, cont *Stmt) *Stmt {
	return &Stmt{Kind: StmtRefcounting, RC: ModifyRC{Op: RCDec, Sym: sym}, Cont: cont}
}

// NewDecRef shallowly decrements the refcount of sym, never its children.
func NewDecRef(sym Symbol, cont *Stmt) *Stmt {
	return &Stmt{Kind: StmtRefcounting, RC: ModifyRC{Op: RCDecRef, Sym: sym}, Cont: cont}
}

// NewJoin declares a join point with the given body; remainder runs first
// and may jump to it.
func NewJoin(id JoinPointID, params []Param, body, remainder *Stmt) *Stmt {
	return &Stmt{Kind: StmtJoin, ID: id, Params: params, Body: body, Cont: remainder}
}

// NewJump jumps to a join point with the given arguments.
func NewJump(id JoinPointID, args ...Symbol) *Stmt {
	return &Stmt{Kind: StmtJump, ID: id, Args: args}
}

// NewCrash aborts the program with the message held by sym.
func NewCrash(sym Symbol) *Stmt {
	return &Stmt{Kind: StmtCrash, Sym: sym}
}

// NewExpect asserts cond and continues with remainder.
func NewExpect(cond Symbol, remainder *Stmt) *Stmt {
	return &Stmt{Kind: StmtExpect, Sym: cond, Cont: remainder}
}

// NewExpectFx is the effectful variant of NewExpect.
func NewExpectFx(cond Symbol, remainder *Stmt) *Stmt {
	return &Stmt{Kind: StmtExpectFx, Sym: cond, Cont: remainder}
}

// NewDbg prints sym and continues with remainder.
func NewDbg(sym Symbol, remainder *Stmt) *Stmt {
	return &Stmt{Kind: StmtDbg, Sym: sym, Cont: remainder}
}

// NewCallByName calls the procedure name.
func NewCallByName(name string, args ...Symbol) *Expr {
	return &Expr{Kind: ExprCall, Call: &Call{Kind: CallByName, Name: name, Arguments: args}}
}

// NewLowLevel calls a low-level builtin operation.
func NewLowLevel(op LowLevel, args ...Symbol) *Expr {
	return &Expr{Kind: ExprCall, Call: &Call{Kind: CallLowLevel, Op: op, Arguments: args}}
}

// NewStructExpr constructs a struct from field values.
func NewStructExpr(args ...Symbol) *Expr {
	return &Expr{Kind: ExprStruct, Args: args}
}

// NewTagExpr constructs a union value with the given tag.
func NewTagExpr(tag uint16, args ...Symbol) *Expr {
	return &Expr{Kind: ExprTag, Tag: tag, Args: args}
}

// NewStructAtIndex projects a struct field.
func NewStructAtIndex(index uint64, structure Symbol) *Expr {
	return &Expr{Kind: ExprStructAtIndex, Index: index, Structure: structure}
}

// NewUnionAtIndex projects a field of a union variant.
func NewUnionAtIndex(structure Symbol, tag uint16, index uint64) *Expr {
	return &Expr{Kind: ExprUnionAtIndex, Structure: structure, Tag: tag, Index: index}
}

// NewUnbox reads the value contained in a box.
func NewUnbox(structure Symbol) *Expr {
	return &Expr{Kind: ExprUnbox, Structure: structure}
}

// NewBoxExpr allocates a box holding structure.
func NewBoxExpr(structure Symbol) *Expr {
	return &Expr{Kind: ExprBox, Structure: structure}
}

// NewIntLit creates an integer literal expression.
func NewIntLit(n int64) *Expr {
	return &Expr{Kind: ExprLiteral, Lit: Literal{Kind: LitInt, Int: n}}
}

// NewFloatLit creates a float literal expression.
func NewFloatLit(f float64) *Expr {
	return &Expr{Kind: ExprLiteral, Lit: Literal{Kind: LitFloat, Float: f}}
}

// NewBoolLit creates a boolean literal expression.
func NewBoolLit(b bool) *Expr {
	return &Expr{Kind: ExprLiteral, Lit: Literal{Kind: LitBool, Bool: b}}
}

// NewStrLit creates a string literal expression.
func NewStrLit(s string) *Expr {
	return &Expr{Kind: ExprLiteral, Lit: Literal{Kind: LitStr, Str: s}}
}

// NewArray constructs a list from element values.
func NewArray(args ...Symbol) *Expr {
	return &Expr{Kind: ExprArray, Args: args}
}

// NewEmptyArray constructs an empty list.
func NewEmptyArray() *Expr {
	return &Expr{Kind: ExprEmptyArray}
}

// NewNullPointer produces the null variant of a nullable union.
func NewNullPointer() *Expr {
	return &Expr{Kind: ExprNullPointer}
}

// NewGetTagID reads the tag discriminant of a union value.
func NewGetTagID(structure Symbol) *Expr {
	return &Expr{Kind: ExprGetTagID, Structure: structure}
}

// NewRuntimeError produces a function that crashes with msg when called.
func NewRuntimeError(msg string) *Expr {
	return &Expr{Kind: ExprRuntimeError, Msg: msg}
}

// IsTerminal reports whether a statement has no continuation of its own.
func (s *Stmt) IsTerminal() bool {
	switch s.Kind {
	case StmtRet, StmtJump, StmtCrash:
		return true
	default:
		return false
	}
}
