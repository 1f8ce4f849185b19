package tinyscript

// Resolver binds every identifier reference to its declaration and
// assigns every expression its static Type (spec §4.4). It runs in two
// passes across the whole program: pass one walks every module
// collecting its own globals/functions into one flat, process-wide
// symbol table (spec §9.i: cross-module shadowing is allowed by
// omission, so later declarations simply win lookups); pass two walks
// every function body, reconstructing scope visibility structurally
// (the parser already built the VarDecl/FuncDecl objects and assigned
// their slots as a side effect of parsing -- this pass only binds
// *references* to them).
type Resolver struct {
	reg   *ModuleRegistry
	diags *Diagnostics

	globalVars  map[string]*VarDecl
	globalFuncs map[string]*FuncDecl

	scopes []map[string]*VarDecl
	fn     *FuncDecl
}

func NewResolver(reg *ModuleRegistry, diags *Diagnostics) *Resolver {
	return &Resolver{
		reg: reg, diags: diags,
		globalVars:  map[string]*VarDecl{},
		globalFuncs: map[string]*FuncDecl{},
	}
}

// ResolveAll collects every module's globals and functions, checks
// every struct tag got defined and flattens `using` clauses (spec
// §4.3), then resolves each module's bodies in dependency order.
func (r *Resolver) ResolveAll(order []int) {
	for _, idx := range order {
		m := r.reg.Module(idx)
		for _, g := range m.Globals {
			r.globalVars[g.Name] = g
		}
		for _, f := range m.Functions {
			r.globalFuncs[f.Name] = f
		}
	}
	if err := r.reg.CheckAllTagsDefined(); err != nil {
		r.diags.AddError(err)
		return
	}
	if err := r.reg.FinalizeAllStructs(); err != nil {
		r.diags.AddError(err)
		return
	}
	for _, idx := range order {
		r.resolveModule(r.reg.Module(idx))
	}
}

func (r *Resolver) resolveModule(m *Module) {
	for _, g := range m.Globals {
		if g.initExpr != nil {
			initTy := r.resolveExpr(g.initExpr)
			r.checkAssignable(initTy, g.Type, g.initExpr.Pos().Start)
			if g.Type.Kind == KUnknown {
				g.Type = initTy
			}
		}
	}
	for _, s := range m.ExtraInit {
		r.resolveStmt(s)
	}
	for _, b := range m.CompileTimeBlock {
		r.resolveStmt(b.Body)
	}
	for _, fd := range m.Functions {
		if fd.Kind != FuncKindFunction {
			continue
		}
		r.fn = fd
		r.scopes = []map[string]*VarDecl{{}}
		for _, a := range fd.Args {
			r.scopes[0][a.Name] = a
		}
		for _, s := range fd.bodyAST {
			r.resolveStmt(s)
		}
		if fd.Type.RetType.Kind != KVoid && !fd.HasReturn {
			r.diags.AddError(TypeError{Message: "function `" + fd.Name + "` must return a value of type " + fd.Type.RetType.String()})
		}
		r.fn = nil
	}
}

func (r *Resolver) pushScope() { r.scopes = append(r.scopes, map[string]*VarDecl{}) }
func (r *Resolver) popScope()  { r.scopes = r.scopes[:len(r.scopes)-1] }

func (r *Resolver) declareLocal(d *VarDecl) { r.scopes[len(r.scopes)-1][d.Name] = d }

// lookupVar searches local scopes innermost-first, then arguments
// (already seeded into scope 0), then globals (spec §4.4).
func (r *Resolver) lookupVar(name string) (*VarDecl, bool) {
	for i := len(r.scopes) - 1; i >= 0; i-- {
		if d, ok := r.scopes[i][name]; ok {
			return d, true
		}
	}
	if d, ok := r.globalVars[name]; ok {
		return d, true
	}
	return nil, false
}

func (r *Resolver) checkAssignable(from, to *Type, at Location) {
	if to == nil || to.Kind == KUnknown {
		return
	}
	if IsArrayDynamicPromotion(from, to) {
		r.diags.AddWarning(Warning{Kind: WarnArrayDynamicToSpecific, Message: "assigning a dynamic array literal to an array of " + to.Elem.String(), At: at})
		return
	}
	if !TypesEqual(from, to) {
		r.diags.AddError(TypeError{Message: "cannot assign a value of type " + from.String() + " to a slot of type " + to.String(), At: at})
	}
}

// ---- statements ----

func (r *Resolver) resolveStmt(x Expr) {
	switch n := x.(type) {
	case *VarDeclExpr:
		if n.Init != nil {
			ty := r.resolveExpr(n.Init)
			if n.Decl.Type.Kind == KUnknown {
				n.Decl.Type = ty
			} else {
				r.checkAssignable(ty, n.Decl.Type, n.Init.Pos().Start)
			}
		}
		if n.Decl.ParentFunc != nil {
			r.declareLocal(n.Decl)
		}
	case *IfExpr:
		condTy := r.resolveExpr(n.Cond)
		r.expectBool(condTy, n.Cond.Pos().Start)
		r.pushScope()
		for _, s := range n.Then {
			r.resolveStmt(s)
		}
		r.popScope()
		r.pushScope()
		for _, s := range n.Else {
			r.resolveStmt(s)
		}
		r.popScope()
	case *WhileExpr:
		condTy := r.resolveExpr(n.Cond)
		r.expectBool(condTy, n.Cond.Pos().Start)
		r.pushScope()
		for _, s := range n.Body {
			r.resolveStmt(s)
		}
		r.popScope()
	case *ForExpr:
		r.pushScope()
		if n.Init != nil {
			r.resolveStmt(n.Init)
		}
		if n.Cond != nil {
			condTy := r.resolveExpr(n.Cond)
			r.expectBool(condTy, n.Cond.Pos().Start)
		}
		if n.Step != nil {
			r.resolveExpr(n.Step)
		}
		for _, s := range n.Body {
			r.resolveStmt(s)
		}
		r.popScope()
	case *ReturnExpr:
		if n.Value != nil {
			ty := r.resolveExpr(n.Value)
			if r.fn != nil {
				r.checkAssignable(ty, r.fn.Type.RetType, n.Pos().Start)
			}
		} else if r.fn != nil && r.fn.Type.RetType.Kind != KVoid {
			r.diags.AddError(TypeError{Message: "bare `return` in non-void function `" + r.fn.Name + "`", At: n.Pos().Start})
		}
	case *WriteExpr:
		r.resolveExpr(n.Value)
	case *BlockExpr:
		r.pushScope()
		for _, s := range n.Body {
			r.resolveStmt(s)
		}
		r.popScope()
	case *AtomicExpr:
		r.pushScope()
		for _, s := range n.Body {
			r.resolveStmt(s)
		}
		r.popScope()
	case *FuncDeclExpr, *StructDeclExpr, *ExternDeclExpr, *ImportDirective, *OnCompileDirective:
		// declarations nested in a body are not legal tinyscript, and
		// the parser never produces one here; nothing to resolve.
	default:
		r.resolveExpr(x)
	}
}

func (r *Resolver) expectBool(t *Type, at Location) {
	if !TypesEqual(t, BoolType()) {
		r.diags.AddError(TypeError{Message: "condition must be bool, got " + t.String(), At: at})
	}
}

// ---- expressions ----

func (r *Resolver) resolveExpr(x Expr) *Type {
	var t *Type
	switch n := x.(type) {
	case *NullLit:
		t = DynamicType()
	case *BoolLit:
		t = BoolType()
	case *CharLit:
		t = CharType()
	case *NumberLit:
		t = NumberType()
	case *StringLit:
		t = StringType()
	case *ReadExpr:
		t = StringType()
	case *VarExpr:
		t = r.resolveVarExpr(n)
	case *ArrayLit:
		t = r.resolveArrayLit(n)
	case *NewExpr:
		t = r.resolveNewExpr(n)
	case *BinExpr:
		t = r.resolveBinExpr(n)
	case *UnaryExpr:
		t = r.resolveUnaryExpr(n)
	case *CallExpr:
		t = r.resolveCallExpr(n)
	case *IndexExpr:
		t = r.resolveIndexExpr(n)
	case *DotExpr:
		t = r.resolveDotExpr(n)
	case *LenExpr:
		rt := r.resolveExpr(n.Operand)
		if rt.Kind != KString && rt.Kind != KArray && rt.Kind != KDynamic {
			r.diags.AddError(TypeError{Message: "`len` requires a string or array, got " + rt.String(), At: n.Pos().Start})
		}
		t = NumberType()
	default:
		t = DynamicType()
	}
	x.SetType(t)
	return t
}

func (r *Resolver) resolveVarExpr(n *VarExpr) *Type {
	if d, ok := r.lookupVar(n.Name); ok {
		n.Decl = d
		return d.Type
	}
	if f, ok := r.globalFuncs[n.Name]; ok {
		n.FuncDecl = f
		return f.Type
	}
	r.diags.AddError(SymbolError{Message: "undeclared identifier `" + n.Name + "`", At: n.Pos().Start})
	return DynamicType()
}

func (r *Resolver) resolveArrayLit(n *ArrayLit) *Type {
	if n.ElemType != nil {
		return ArrayType(n.ElemType)
	}
	if len(n.Elems) == 0 {
		return ArrayType(DynamicType())
	}
	elem := r.resolveExpr(n.Elems[0])
	uniform := true
	for _, e := range n.Elems[1:] {
		if et := r.resolveExpr(e); !TypesEqual(et, elem) {
			uniform = false
		}
	}
	if !uniform || elem.Kind == KDynamic {
		r.diags.AddWarning(Warning{Kind: WarnDynamicArrayLiteral, Message: "array literal has dynamically-typed elements", At: n.Pos().Start})
		return ArrayType(DynamicType())
	}
	return ArrayType(elem)
}

func (r *Resolver) resolveNewExpr(n *NewExpr) *Type {
	tag := n.StructTy
	for i := range n.Inits {
		init := &n.Inits[i]
		ty := r.resolveExpr(init.Value)
		m, ok := tag.Member(init.Name)
		if !ok {
			r.diags.AddError(TypeError{Message: "struct `" + tag.Name + "` has no member `" + init.Name + "`", At: init.Value.Pos().Start})
			continue
		}
		r.checkAssignable(ty, m.Type, init.Value.Pos().Start)
	}
	return tag
}

func (r *Resolver) resolveBinExpr(n *BinExpr) *Type {
	if n.Op == BinAssign {
		rt := r.resolveExpr(n.Right)
		lt := r.resolveLValue(n.Left)
		r.checkAssignable(rt, lt, n.Pos().Start)
		return lt
	}
	lt := r.resolveExpr(n.Left)
	rt := r.resolveExpr(n.Right)
	switch n.Op {
	case BinAdd, BinSub, BinMul, BinDiv, BinMod:
		if !isNumericish(lt) || !isNumericish(rt) {
			r.diags.AddError(TypeError{Message: "arithmetic operator requires number operands", At: n.Pos().Start})
		}
		return NumberType()
	case BinLt, BinGt, BinLte, BinGte:
		if !isNumericish(lt) || !isNumericish(rt) {
			r.diags.AddError(TypeError{Message: "relational operator requires number operands", At: n.Pos().Start})
		}
		return BoolType()
	case BinEq, BinNeq:
		if !TypesEqual(lt, rt) {
			r.diags.AddError(TypeError{Message: "cannot compare " + lt.String() + " with " + rt.String(), At: n.Pos().Start})
		}
		return BoolType()
	case BinAnd, BinOr:
		r.expectBool(lt, n.Left.Pos().Start)
		r.expectBool(rt, n.Right.Pos().Start)
		return BoolType()
	}
	return DynamicType()
}

func isNumericish(t *Type) bool { return t.Kind == KNumber || t.Kind == KDynamic }

func (r *Resolver) resolveLValue(x Expr) *Type {
	switch n := x.(type) {
	case *VarExpr:
		return r.resolveVarExpr(n)
	case *DotExpr:
		return r.resolveDotExpr(n)
	case *IndexExpr:
		return r.resolveIndexExpr(n)
	default:
		r.diags.AddError(TypeError{Message: "invalid assignment target", At: x.Pos().Start})
		return DynamicType()
	}
}

func (r *Resolver) resolveUnaryExpr(n *UnaryExpr) *Type {
	ot := r.resolveExpr(n.Operand)
	if n.Op == UnaryNeg {
		if !isNumericish(ot) {
			r.diags.AddError(TypeError{Message: "unary `-` requires a number", At: n.Pos().Start})
		}
		return NumberType()
	}
	r.expectBool(ot, n.Operand.Pos().Start)
	return BoolType()
}

func (r *Resolver) resolveIndexExpr(n *IndexExpr) *Type {
	rt := r.resolveExpr(n.Receiver)
	r.resolveExpr(n.Index)
	switch rt.Kind {
	case KString:
		return CharType()
	case KArray:
		return rt.Elem
	case KDynamic:
		return DynamicType()
	default:
		r.diags.AddError(TypeError{Message: "cannot index a value of type " + rt.String(), At: n.Pos().Start})
		return DynamicType()
	}
}

func (r *Resolver) resolveDotExpr(n *DotExpr) *Type {
	rt := r.resolveExpr(n.Receiver)
	if rt.Kind == KDynamic {
		return DynamicType()
	}
	if rt.Kind != KStruct {
		r.diags.AddError(TypeError{Message: "`." + n.Name + "` requires a struct, got " + rt.String(), At: n.Pos().Start})
		return DynamicType()
	}
	m, ok := rt.Member(n.Name)
	if !ok {
		r.diags.AddError(TypeError{Message: "struct `" + rt.Name + "` has no member `" + n.Name + "`", At: n.Pos().Start})
		return DynamicType()
	}
	n.Member = m
	return m.Type
}

func (r *Resolver) resolveCallExpr(n *CallExpr) *Type {
	if n.IsMethod {
		return r.resolveMethodCall(n)
	}
	var calleeTy *Type
	if ve, ok := n.Callee.(*VarExpr); ok {
		calleeTy = r.resolveVarExpr(ve)
		if ve.FuncDecl != nil {
			n.ResolvedFunc = ve.FuncDecl
		}
	} else {
		calleeTy = r.resolveExpr(n.Callee)
	}
	for _, a := range n.Args {
		r.resolveExpr(a)
	}
	if calleeTy.Kind == KDynamic {
		r.diags.AddWarning(Warning{Kind: WarnDynamicCall, Message: "calling a dynamically-typed value", At: n.Pos().Start})
		return DynamicType()
	}
	if calleeTy.Kind != KFunc {
		r.diags.AddError(TypeError{Message: "cannot call a value of type " + calleeTy.String(), At: n.Pos().Start})
		return DynamicType()
	}
	r.checkArgs(n, calleeTy)
	return calleeTy.RetType
}

func (r *Resolver) resolveMethodCall(n *CallExpr) *Type {
	recv := n.Args[0]
	recvTy := r.resolveExpr(recv)
	for _, a := range n.Args[1:] {
		r.resolveExpr(a)
	}
	if recvTy.Kind == KDynamic {
		r.diags.AddWarning(Warning{Kind: WarnDynamicCall, Message: "calling method `" + n.MethodName + "` on a dynamically-typed receiver", At: n.Pos().Start})
		return DynamicType()
	}
	if recvTy.Kind != KStruct {
		r.diags.AddError(TypeError{Message: "method call requires a struct receiver, got " + recvTy.String(), At: n.Pos().Start})
		return DynamicType()
	}
	fn, ok := r.globalFuncs[recvTy.Name+"_"+n.MethodName]
	if !ok {
		r.diags.AddError(TypeError{Message: "struct `" + recvTy.Name + "` has no method `" + n.MethodName + "`", At: n.Pos().Start})
		return DynamicType()
	}
	n.ResolvedFunc = fn
	r.checkArgs(n, fn.Type)
	return fn.Type.RetType
}

func (r *Resolver) checkArgs(n *CallExpr, fnTy *Type) {
	if len(n.Args) != len(fnTy.ArgTypes) {
		r.diags.AddError(TypeError{Message: "wrong number of arguments in call", At: n.Pos().Start})
		return
	}
	for i, a := range n.Args {
		r.checkAssignable(a.Type(), fnTy.ArgTypes[i], a.Pos().Start)
	}
}
