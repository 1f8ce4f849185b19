package tinyscript

import "fmt"

// Expr is the interface implemented by every expression-tree node
// (spec §3 "Lifecycle", §4.2). Per the design note on heterogeneous
// expression nodes, each concrete kind is its own struct; only the
// truly common fields (source span, resolved type, shallow-copy flag)
// are shared, via ExprBase.
type Expr interface {
	Pos() Span
	Type() *Type
	SetType(*Type)
	IsShallow() bool
	String() string
}

// ExprBase carries the fields every node needs regardless of kind.
// Shallow marks a node created by CloneShallow for method-call
// receiver duplication (spec §4.2/§4.5): such a node does not own its
// children and must not be walked by anything that frees AST nodes.
type ExprBase struct {
	Sp      Span
	Typ     *Type
	Shallow bool
}

func (b ExprBase) Pos() Span        { return b.Sp }
func (b ExprBase) Type() *Type      { return b.Typ }
func (b *ExprBase) SetType(t *Type) { b.Typ = t }
func (b ExprBase) IsShallow() bool  { return b.Shallow }

// ---- Literals ----

type NullLit struct{ ExprBase }
type BoolLit struct {
	ExprBase
	Value bool
}
type CharLit struct {
	ExprBase
	Value byte
}
type NumberLit struct {
	ExprBase
	Value float64
}
type StringLit struct {
	ExprBase
	Value string
}

func (n NullLit) String() string   { return "null" }
func (n BoolLit) String() string   { return fmt.Sprintf("%t", n.Value) }
func (n CharLit) String() string   { return fmt.Sprintf("'%c'", n.Value) }
func (n NumberLit) String() string { return fmt.Sprintf("%g", n.Value) }
func (n StringLit) String() string { return fmt.Sprintf("%q", n.Value) }

// ---- Var reference ----

// VarExpr is an identifier used as a value: a local/argument/global
// variable, or (pre-resolution) possibly a function or type name --
// the resolver disambiguates (spec §4.4).
type VarExpr struct {
	ExprBase
	Name     string
	Decl     *VarDecl
	FuncDecl *FuncDecl
}

func (n VarExpr) String() string { return n.Name }

// CloneShallow duplicates a VarExpr's identity without taking
// ownership of any referent, used for `x:m(a,b)` receiver duplication
// (spec §4.2).
func (n *VarExpr) CloneShallow() *VarExpr {
	c := *n
	c.Shallow = true
	return &c
}

// ---- Array literal ----

// ArrayLit is `[e1, e2, ...]`. ElemType is set only for the empty
// literal form `[]: T`, which must specify its element type.
type ArrayLit struct {
	ExprBase
	Elems    []Expr
	ElemType *Type // non-nil only for the annotated empty-literal form
}

func (n ArrayLit) String() string { return "[...]" }

// ---- new T { field = expr, ... } ----

type FieldInit struct {
	Name  string
	Value Expr
}

type NewExpr struct {
	ExprBase
	TypeName string
	StructTy *Type
	Inits    []FieldInit
}

func (n NewExpr) String() string { return "new " + n.TypeName + "{...}" }

// ---- Operators ----

type BinOp int

const (
	BinAdd BinOp = iota
	BinSub
	BinMul
	BinDiv
	BinMod
	BinLt
	BinGt
	BinLte
	BinGte
	BinEq
	BinNeq
	BinAnd
	BinOr
	BinAssign
)

func (op BinOp) String() string {
	return [...]string{"+", "-", "*", "/", "%", "<", ">", "<=", ">=", "==", "!=", "&&", "||", "="}[op]
}

type BinExpr struct {
	ExprBase
	Op          BinOp
	Left, Right Expr
}

func (n BinExpr) String() string { return fmt.Sprintf("(%s %s %s)", n.Left, n.Op, n.Right) }

type UnaryOp int

const (
	UnaryNeg UnaryOp = iota
	UnaryNot
)

func (op UnaryOp) String() string { return [...]string{"-", "!"}[op] }

type UnaryExpr struct {
	ExprBase
	Op      UnaryOp
	Operand Expr
}

func (n UnaryExpr) String() string { return fmt.Sprintf("(%s%s)", n.Op, n.Operand) }

// ---- Postfix ----

// CallExpr is `callee(args...)`. For a method call `x:m(a,b)` the
// parser desugars to a CallExpr whose Args has a shallow-copied `x` as
// element 0 and Callee resolves to the free function `S_m`.
type CallExpr struct {
	ExprBase
	Callee     Expr // nil for a method call; resolver fills ResolvedFunc instead
	Args       []Expr
	IsMethod   bool
	MethodName string

	// ResolvedFunc is filled by the resolver: for a method call, the
	// free function `S_method` the receiver's struct type dispatches
	// to; for an ordinary call, the callee's FuncDecl when statically
	// known (nil if the callee is itself a dynamic value).
	ResolvedFunc *FuncDecl
}

func (n CallExpr) String() string { return fmt.Sprintf("%s(...)", n.Callee) }

// IndexExpr is `receiver[index]`: String -> Char, Array -> elem type.
type IndexExpr struct {
	ExprBase
	Receiver Expr
	Index    Expr
}

func (n IndexExpr) String() string { return fmt.Sprintf("%s[%s]", n.Receiver, n.Index) }

// DotExpr is `receiver.name`: a data-member access.
type DotExpr struct {
	ExprBase
	Receiver Expr
	Name     string
	Member   *StructMember
}

func (n DotExpr) String() string { return fmt.Sprintf("%s.%s", n.Receiver, n.Name) }

// LenExpr is `len e`: String or Array only.
type LenExpr struct {
	ExprBase
	Operand Expr
}

func (n LenExpr) String() string { return fmt.Sprintf("len %s", n.Operand) }

// ReadExpr is the `read` expression: reads one line from the
// embedding host's input stream and yields a String.
type ReadExpr struct{ ExprBase }

func (n ReadExpr) String() string { return "read" }

// WriteExpr is the `write e` statement: prints e's formatted value.
type WriteExpr struct {
	ExprBase
	Value Expr
}

func (n WriteExpr) String() string { return fmt.Sprintf("write %s", n.Value) }

// ---- Declarations ----

// VarDeclExpr is `var x : T [= init]`, used both for globals (parent
// function nil) and locals.
type VarDeclExpr struct {
	ExprBase
	Name string
	Ann  *Type // nil when unannotated -- starts Unknown (spec §4.4)
	Init Expr
	Decl *VarDecl
}

func (n VarDeclExpr) String() string { return "var " + n.Name }

// Param is one entry of a function's argument list.
type Param struct {
	Name string
	Type *Type
}

// FuncDeclExpr is `func name(args): R body`. Struct-scoped member
// functions are rewritten by the parser into a free FuncDeclExpr named
// `Struct_method` with a synthesized `self: Struct` first parameter
// (unless declared `static`); ReceiverType/IsMethod record that origin
// for the resolver's `:` dispatch rule.
type FuncDeclExpr struct {
	ExprBase
	Name         string
	Params       []Param
	RetType      *Type
	Body         []Expr
	Decl         *FuncDecl
	IsMethod     bool
	ReceiverType string
	IsStatic     bool
}

func (n FuncDeclExpr) String() string { return "func " + n.Name }

// ExternDeclExpr is `extern name(T, ...): R`.
type ExternDeclExpr struct {
	ExprBase
	Name    string
	Params  []Param
	RetType *Type
	Decl    *FuncDecl
}

func (n ExternDeclExpr) String() string { return "extern " + n.Name }

// StructMemberDeclExpr is a parsed struct body entry before
// finalization: either a data field, a `using` clause, or a method (the
// parser has already split methods out into top-level FuncDeclExprs,
// so only field/using entries remain here).
type StructMemberDeclExpr struct {
	Name      string
	Type      *Type
	Default   Expr
	IsUsing   bool
	UsingType *Type
}

// StructDeclExpr is `struct S { ... }` or `union S { ... }`.
type StructDeclExpr struct {
	ExprBase
	Name    string
	IsUnion bool
	Members []StructMemberDeclExpr
	Methods []*FuncDeclExpr
	Decl    *Type
}

func (n StructDeclExpr) String() string { return "struct " + n.Name }

// ---- Control flow ----

type IfExpr struct {
	ExprBase
	Cond       Expr
	Then, Else []Expr
}

func (n IfExpr) String() string { return "if ..." }

type WhileExpr struct {
	ExprBase
	Cond Expr
	Body []Expr
}

func (n WhileExpr) String() string { return "while ..." }

// ForExpr is `for init, cond, step body` (comma-separated clauses,
// spec §4.2).
type ForExpr struct {
	ExprBase
	Init, Cond, Step Expr
	Body             []Expr
}

func (n ForExpr) String() string { return "for ..." }

// ReturnExpr is `return [value]`. Value is nil for a bare `return`.
type ReturnExpr struct {
	ExprBase
	Value  Expr
	InFunc *FuncDecl
}

func (n ReturnExpr) String() string { return "return" }

// BlockExpr groups a `{ ... }` body into a single expression (used for
// nested braces outside of if/while/for/func bodies).
type BlockExpr struct {
	ExprBase
	Body []Expr
}

func (n BlockExpr) String() string { return "{...}" }

// AtomicExpr is `atomic { ... }`: the emitter brackets Body with
// atomic-depth increment/decrement so the VM's cycle-sliced preemption
// cannot interrupt it mid-block (spec §4.7 atomic_depth).
type AtomicExpr struct {
	ExprBase
	Body []Expr
}

func (n AtomicExpr) String() string { return "atomic {...}" }

// ---- Directives ----

// ImportDirective is `#import "path"`.
type ImportDirective struct {
	ExprBase
	Path        string
	ModuleIndex int
}

func (n ImportDirective) String() string { return "#import " + n.Path }

// OnCompileDirective is `#on_compile expr`, attached to the current
// module's compile-time-block list (spec §4.8).
type OnCompileDirective struct {
	ExprBase
	Body Expr
}

func (n OnCompileDirective) String() string { return "#on_compile ..." }

// shallowCopyExpr duplicates an expression node (used when flattening
// `using` default-value expressions, spec §4.3) without taking
// ownership of any child it points to.
func shallowCopyExpr(e Expr) Expr {
	if e == nil {
		return nil
	}
	switch n := e.(type) {
	case *NullLit:
		c := *n
		c.Shallow = true
		return &c
	case *BoolLit:
		c := *n
		c.Shallow = true
		return &c
	case *CharLit:
		c := *n
		c.Shallow = true
		return &c
	case *NumberLit:
		c := *n
		c.Shallow = true
		return &c
	case *StringLit:
		c := *n
		c.Shallow = true
		return &c
	case *VarExpr:
		return n.CloneShallow()
	default:
		// Composite defaults (binary/call/...) are rare in practice;
		// a shallow struct copy still satisfies "does not own its
		// referents" since nothing deep-copies children either way.
		return e
	}
}
