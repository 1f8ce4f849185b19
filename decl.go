package tinyscript

// VarDecl is a variable declaration (spec §3): name, static type,
// parent function (nil for globals), scope depth, and stack offset
// (locals: non-negative, arguments: negative).
type VarDecl struct {
	Name       string
	Type       *Type
	ParentFunc *FuncDecl
	ScopeDepth int
	Offset     int
	IsArg      bool

	// Global-only fields. GlobalIndex is the position in the
	// concatenation of every module's globals in definition order
	// (spec §3 Module).
	IsGlobal    bool
	GlobalIndex int
	ModuleIndex int

	// visible is cleared when the declaring scope exits; the VM offset
	// remains valid (spec §4.2: "exit marks locals in that scope as
	// no-longer-visible").
	visible bool

	// initExpr is the declaration's initializer expression, if any,
	// stashed here so the emitter can generate it without re-walking
	// the AST to find the VarDeclExpr that created this decl.
	initExpr Expr
}

// FuncKind distinguishes a user-defined function body from an extern
// binding.
type FuncKind int

const (
	FuncKindFunction FuncKind = iota
	FuncKindExtern
)

// FuncDecl is a function declaration (spec §3): name, kind, type (a
// Func tag), locals, arguments, global index, and has-return flag.
type FuncDecl struct {
	Name   string
	Kind   FuncKind
	Type   *Type // KFunc: ArgTypes + RetType
	Locals []*VarDecl
	Args   []*VarDecl

	ModuleIndex int
	GlobalIndex int
	HasReturn   bool

	// Extern-only: the index into the Script's extern registry this
	// declaration is bound to (spec §4.9).
	ExternIndex int

	// EntryPC is filled in by the emitter once the function's body has
	// been emitted (spec §3 invariant: function_pcs[i] holds a valid
	// code offset once emission of function i completes).
	EntryPC int

	// nextLocalOffset is the parser's running counter for assigning
	// local-slot offsets as `var` declarations are parsed in source
	// order (arguments are numbered separately, negative, in
	// declaration order before parsing the body).
	nextLocalOffset int

	// bodyAST is the parsed statement list, stashed here so the
	// emitter can generate it without re-walking the module AST to
	// find the FuncDeclExpr that created this decl.
	bodyAST []Expr
}

// allocLocal assigns the next local slot offset to decl.Offset,
// appending decl to Locals.
func (f *FuncDecl) allocLocal(decl *VarDecl) {
	decl.Offset = f.nextLocalOffset
	f.nextLocalOffset++
	f.Locals = append(f.Locals, decl)
}

// NumLocalSlots is the number of PUSH_NULL pre-sizing slots the
// emitter must push on entry (spec §4.5).
func (f *FuncDecl) NumLocalSlots() int { return len(f.Locals) }
