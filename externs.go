package tinyscript

import "fmt"

// ExternFunc is a host-registered callback bound to a script's
// `extern` declaration (spec §4.9 Extern Bridge): it receives the
// already-evaluated argument handles and returns a result handle (or
// NullSingleton for a void extern) and an error that becomes a
// RuntimeError if the call cannot proceed.
type ExternFunc func(vm *VM, args []Handle) (Handle, error)

// ExternBridge is the fixed catalog of host callbacks a script's
// `extern` declarations bind to by name (spec §4.9). The VM never
// calls into Go directly; every extern call goes through here so the
// host can audit or sandbox what a script can reach.
type ExternBridge struct {
	names  []string
	fns    []ExternFunc
	byName map[string]int
}

func NewExternBridge() *ExternBridge {
	return &ExternBridge{byName: map[string]int{}}
}

// Register adds a callback under name, returning its bridge index.
// Re-registering a name replaces the existing callback in place so a
// host can override a builtin.
func (b *ExternBridge) Register(name string, fn ExternFunc) int {
	if i, ok := b.byName[name]; ok {
		b.fns[i] = fn
		return i
	}
	i := len(b.fns)
	b.names = append(b.names, name)
	b.fns = append(b.fns, fn)
	b.byName[name] = i
	return i
}

func (b *ExternBridge) Lookup(name string) (int, bool) {
	i, ok := b.byName[name]
	return i, ok
}

func (b *ExternBridge) Call(vm *VM, index int, args []Handle) (Handle, error) {
	if index < 0 || index >= len(b.fns) {
		return NullHandle, HostError{Message: fmt.Sprintf("call to unbound extern index %d", index)}
	}
	return b.fns[index](vm, args)
}

// u8buffer is the concrete payload behind the `native` buffer type
// spec §4.9 calls out ("a u8-buffer native with create/clear/length/
// push/pop/to-string"), grounded on original_source/'s buffer helpers
// (see SPEC_FULL.md §3 for the exact signatures reproduced below).
type u8buffer struct{ bytes []byte }

// RegisterBuiltins installs the fixed builtin extern catalog every
// script can bind to regardless of host: the u8-buffer native type.
// GUI bindings (`script_iup_interface.c`) are a further kind of extern
// registration the original supports; they stay out of scope (spec §1
// Non-goals), so only the buffer natives are wired here.
func RegisterBuiltins(b *ExternBridge) {
	b.Register("buf_create", func(vm *VM, args []Handle) (Handle, error) {
		buf := &u8buffer{}
		nat := &Native{
			Ptr:      buf,
			OnDelete: func(n *Native) {},
		}
		return vm.heap.AllocNative(nat), nil
	})
	b.Register("buf_clear", func(vm *VM, args []Handle) (Handle, error) {
		buf, err := asBuffer(vm, args[0])
		if err != nil {
			return NullHandle, err
		}
		buf.bytes = buf.bytes[:0]
		return NullSingleton, nil
	})
	b.Register("buf_len", func(vm *VM, args []Handle) (Handle, error) {
		buf, err := asBuffer(vm, args[0])
		if err != nil {
			return NullHandle, err
		}
		return vm.heap.AllocNumber(float64(len(buf.bytes))), nil
	})
	b.Register("buf_push", func(vm *VM, args []Handle) (Handle, error) {
		buf, err := asBuffer(vm, args[0])
		if err != nil {
			return NullHandle, err
		}
		v := vm.heap.Get(args[1])
		buf.bytes = append(buf.bytes, byte(int64(v.Num)))
		return NullSingleton, nil
	})
	b.Register("buf_pop", func(vm *VM, args []Handle) (Handle, error) {
		buf, err := asBuffer(vm, args[0])
		if err != nil {
			return NullHandle, err
		}
		if len(buf.bytes) == 0 {
			return NullHandle, RuntimeError{Message: "buf_pop on an empty buffer"}
		}
		last := buf.bytes[len(buf.bytes)-1]
		buf.bytes = buf.bytes[:len(buf.bytes)-1]
		return vm.heap.AllocNumber(float64(last)), nil
	})
	b.Register("buf_to_string", func(vm *VM, args []Handle) (Handle, error) {
		buf, err := asBuffer(vm, args[0])
		if err != nil {
			return NullHandle, err
		}
		return vm.heap.AllocString(string(buf.bytes)), nil
	})
}

// RegisterMetaprogramming installs the `#on_compile` extern catalog
// spec §4.9 requires: module add/load, the current-module index, the
// AST expression constructors, type constructors, symbol access, and
// char/number conversions. vm.compileCtx is nil at ordinary script
// runtime; the module, add_expr_to_module, create_struct_type and
// variable/function reference functions check it and return a
// HostError in that case, while the make_*_expr constructors, the
// other create_*_type constructors, get_func_decl_name and the
// char/number conversions do not check it and also run outside a
// compile-time block.
func RegisterMetaprogramming(b *ExternBridge) {
	b.Register("get_current_module_index", func(vm *VM, args []Handle) (Handle, error) {
		ctx, err := requireCompileCtx(vm)
		if err != nil {
			return NullHandle, err
		}
		return vm.heap.AllocNumber(float64(ctx.ModuleIdx)), nil
	})

	b.Register("add_module", func(vm *VM, args []Handle) (Handle, error) {
		ctx, err := requireCompileCtx(vm)
		if err != nil {
			return NullHandle, err
		}
		path := vm.heap.Get(args[0]).Str
		m := ctx.Reg.AddSource(path, nil)
		return vm.heap.AllocNumber(float64(m.Index)), nil
	})
	b.Register("load_module", func(vm *VM, args []Handle) (Handle, error) {
		ctx, err := requireCompileCtx(vm)
		if err != nil {
			return NullHandle, err
		}
		path := vm.heap.Get(args[0]).Str
		parent := ctx.Reg.Module(ctx.ModuleIdx).LocalPath
		m, err := ctx.Reg.Load(path, parent)
		if err != nil {
			return NullHandle, HostError{Message: "load_module: " + err.Error()}
		}
		if !m.Parsed {
			if err := ParseModule(ctx.Reg, m); err != nil {
				return NullHandle, HostError{Message: "load_module: " + err.Error()}
			}
		}
		return vm.heap.AllocNumber(float64(m.Index)), nil
	})
	b.Register("compile_module", func(vm *VM, args []Handle) (Handle, error) {
		ctx, err := requireCompileCtx(vm)
		if err != nil {
			return NullHandle, err
		}
		idx := int(vm.heap.Get(args[0]).Num)
		if idx < 0 || idx >= len(ctx.Reg.Modules()) {
			return NullHandle, HostError{Message: "compile_module: unknown module index"}
		}
		// Resolution/emission of the whole registry (this module
		// included) happens on the driver's next pass once the current
		// #on_compile block returns; there is nothing further to do
		// here but validate the index.
		return vm.heap.AllocNumber(1), nil
	})
	b.Register("run_module", func(vm *VM, args []Handle) (Handle, error) {
		ctx, err := requireCompileCtx(vm)
		if err != nil {
			return NullHandle, err
		}
		idx := int(vm.heap.Get(args[0]).Num)
		if idx < 0 || idx >= len(ctx.Reg.Modules()) {
			return NullHandle, HostError{Message: "run_module: unknown module index"}
		}
		order := ctx.Reg.DependencyOrder()
		prog, err := EmitProgram(ctx.Reg, order)
		if err != nil {
			return NullHandle, HostError{Message: "run_module: " + err.Error()}
		}
		sub := NewVM(prog, vm.cfg, vm.bridge)
		if err := sub.Start(); err != nil {
			return NullHandle, HostError{Message: "run_module: " + err.Error()}
		}
		return NullSingleton, nil
	})

	// ---- AST expression constructors ----
	b.Register("make_num_expr", func(vm *VM, args []Handle) (Handle, error) {
		n := vm.heap.Get(args[0]).Num
		return wrapExprNode(vm, &NumberLit{Value: n}), nil
	})
	b.Register("make_string_expr", func(vm *VM, args []Handle) (Handle, error) {
		s := vm.heap.Get(args[0]).Str
		return wrapExprNode(vm, &StringLit{Value: s}), nil
	})
	b.Register("make_var_expr", func(vm *VM, args []Handle) (Handle, error) {
		name := vm.heap.Get(args[0]).Str
		return wrapExprNode(vm, &VarExpr{Name: name}), nil
	})
	b.Register("make_bin_expr", func(vm *VM, args []Handle) (Handle, error) {
		op := BinOp(int(vm.heap.Get(args[0]).Num))
		left, err := asExprNode(vm, args[1])
		if err != nil {
			return NullHandle, err
		}
		right, err := asExprNode(vm, args[2])
		if err != nil {
			return NullHandle, err
		}
		return wrapExprNode(vm, &BinExpr{Op: op, Left: left, Right: right}), nil
	})
	b.Register("make_call_expr", func(vm *VM, args []Handle) (Handle, error) {
		name := vm.heap.Get(args[0]).Str
		argExprs, err := asExprArray(vm, args[1])
		if err != nil {
			return NullHandle, err
		}
		return wrapExprNode(vm, &CallExpr{Callee: &VarExpr{Name: name}, Args: argExprs}), nil
	})
	b.Register("make_array_index_expr", func(vm *VM, args []Handle) (Handle, error) {
		recv, err := asExprNode(vm, args[0])
		if err != nil {
			return NullHandle, err
		}
		idx, err := asExprNode(vm, args[1])
		if err != nil {
			return NullHandle, err
		}
		return wrapExprNode(vm, &IndexExpr{Receiver: recv, Index: idx}), nil
	})
	b.Register("make_write_expr", func(vm *VM, args []Handle) (Handle, error) {
		v, err := asExprNode(vm, args[0])
		if err != nil {
			return NullHandle, err
		}
		return wrapExprNode(vm, &WriteExpr{Value: v}), nil
	})

	// ---- program mutation ----
	b.Register("add_expr_to_module", func(vm *VM, args []Handle) (Handle, error) {
		ctx, err := requireCompileCtx(vm)
		if err != nil {
			return NullHandle, err
		}
		idx := int(vm.heap.Get(args[0]).Num)
		if idx < 0 || idx >= len(ctx.Reg.Modules()) {
			return NullHandle, HostError{Message: "add_expr_to_module: unknown module index"}
		}
		expr, err := asExprNode(vm, args[1])
		if err != nil {
			return NullHandle, err
		}
		m := ctx.Reg.Module(idx)
		m.ExtraInit = append(m.ExtraInit, expr)
		return NullSingleton, nil
	})

	// ---- type constructors ----
	b.Register("create_number_type", func(vm *VM, args []Handle) (Handle, error) {
		return wrapTypeNode(vm, NumberType()), nil
	})
	b.Register("create_string_type", func(vm *VM, args []Handle) (Handle, error) {
		return wrapTypeNode(vm, StringType()), nil
	})
	b.Register("create_bool_type", func(vm *VM, args []Handle) (Handle, error) {
		return wrapTypeNode(vm, BoolType()), nil
	})
	b.Register("create_char_type", func(vm *VM, args []Handle) (Handle, error) {
		return wrapTypeNode(vm, CharType()), nil
	})
	b.Register("create_array_type", func(vm *VM, args []Handle) (Handle, error) {
		elem, err := asTypeNode(vm, args[0])
		if err != nil {
			return NullHandle, err
		}
		return wrapTypeNode(vm, ArrayType(elem)), nil
	})
	b.Register("create_struct_type", func(vm *VM, args []Handle) (Handle, error) {
		ctx, err := requireCompileCtx(vm)
		if err != nil {
			return NullHandle, err
		}
		name := vm.heap.Get(args[0]).Str
		return wrapTypeNode(vm, ctx.Reg.StructTag(name)), nil
	})

	// ---- symbol access ----
	b.Register("declare_variable", func(vm *VM, args []Handle) (Handle, error) {
		ctx, err := requireCompileCtx(vm)
		if err != nil {
			return NullHandle, err
		}
		name := vm.heap.Get(args[0]).Str
		ty, err := asTypeNode(vm, args[1])
		if err != nil {
			return NullHandle, err
		}
		m := ctx.Reg.Module(ctx.ModuleIdx)
		decl := &VarDecl{Name: name, Type: ty, IsGlobal: true, ModuleIndex: ctx.ModuleIdx}
		m.Globals = append(m.Globals, decl)
		return wrapExprNode(vm, &VarExpr{Name: name, Decl: decl}), nil
	})
	b.Register("reference_variable", func(vm *VM, args []Handle) (Handle, error) {
		ctx, err := requireCompileCtx(vm)
		if err != nil {
			return NullHandle, err
		}
		name := vm.heap.Get(args[0]).Str
		if d := findGlobal(ctx.Reg, name); d != nil {
			return wrapExprNode(vm, &VarExpr{Name: name, Decl: d}), nil
		}
		return wrapExprNode(vm, &VarExpr{Name: name}), nil
	})
	b.Register("reference_function", func(vm *VM, args []Handle) (Handle, error) {
		ctx, err := requireCompileCtx(vm)
		if err != nil {
			return NullHandle, err
		}
		name := vm.heap.Get(args[0]).Str
		if fd := findFunc(ctx.Reg, name); fd != nil {
			return wrapExprNode(vm, &VarExpr{Name: name, FuncDecl: fd}), nil
		}
		return wrapExprNode(vm, &VarExpr{Name: name}), nil
	})
	b.Register("get_func_decl_name", func(vm *VM, args []Handle) (Handle, error) {
		expr, err := asExprNode(vm, args[0])
		if err != nil {
			return NullHandle, err
		}
		ve, ok := expr.(*VarExpr)
		if !ok || ve.FuncDecl == nil {
			return NullHandle, RuntimeError{Message: "get_func_decl_name: not a function reference"}
		}
		return vm.heap.AllocString(ve.FuncDecl.Name), nil
	})

	// ---- char/number conversions ----
	b.Register("char_to_number", func(vm *VM, args []Handle) (Handle, error) {
		c := vm.heap.Get(args[0]).Ch
		return vm.heap.AllocNumber(float64(c)), nil
	})
	b.Register("number_to_char", func(vm *VM, args []Handle) (Handle, error) {
		n := vm.heap.Get(args[0]).Num
		return vm.heap.AllocChar(byte(int64(n))), nil
	})
}

func requireCompileCtx(vm *VM) (*CompileCtx, error) {
	if vm.compileCtx == nil {
		return nil, HostError{Message: "metaprogramming extern called outside a #on_compile block"}
	}
	return vm.compileCtx, nil
}

// wrapExprNode/asExprNode round-trip an AST Expr through a Native
// handle so compile-time code can pass partially-built expression
// trees back and forth across the extern boundary (spec §4.9).
func wrapExprNode(vm *VM, e Expr) Handle {
	return vm.heap.AllocNative(&Native{Ptr: e})
}

func asExprNode(vm *VM, h Handle) (Expr, error) {
	v := vm.heap.Get(h)
	if v.Tag != TagNative {
		return nil, RuntimeError{Message: "expected an AST expression native value"}
	}
	e, ok := v.Nat.Ptr.(Expr)
	if !ok {
		return nil, RuntimeError{Message: "native value is not an AST expression"}
	}
	return e, nil
}

func asExprArray(vm *VM, h Handle) ([]Expr, error) {
	v := vm.heap.Get(h)
	if v.Tag != TagArray {
		return nil, RuntimeError{Message: "expected an array of AST expressions"}
	}
	out := make([]Expr, len(v.Arr))
	for i, eh := range v.Arr {
		e, err := asExprNode(vm, eh)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func wrapTypeNode(vm *VM, t *Type) Handle {
	return vm.heap.AllocNative(&Native{Ptr: t})
}

func asTypeNode(vm *VM, h Handle) (*Type, error) {
	v := vm.heap.Get(h)
	if v.Tag != TagNative {
		return nil, RuntimeError{Message: "expected a type native value"}
	}
	t, ok := v.Nat.Ptr.(*Type)
	if !ok {
		return nil, RuntimeError{Message: "native value is not a type"}
	}
	return t, nil
}

func findGlobal(reg *ModuleRegistry, name string) *VarDecl {
	for _, m := range reg.Modules() {
		for _, g := range m.Globals {
			if g.Name == name {
				return g
			}
		}
	}
	return nil
}

func findFunc(reg *ModuleRegistry, name string) *FuncDecl {
	for _, m := range reg.Modules() {
		for _, fd := range m.Functions {
			if fd.Name == name {
				return fd
			}
		}
	}
	return nil
}

func asBuffer(vm *VM, h Handle) (*u8buffer, error) {
	v := vm.heap.Get(h)
	if v.Tag != TagNative {
		return nil, RuntimeError{Message: "expected a native buffer value"}
	}
	buf, ok := v.Nat.Ptr.(*u8buffer)
	if !ok {
		return nil, RuntimeError{Message: "native value is not a buffer"}
	}
	return buf, nil
}

// LinkExterns binds every module's `extern` FuncDecl to its bridge
// index by name (spec §4.9). A script-declared extern with no matching
// host registration is a HostError.
func LinkExterns(reg *ModuleRegistry, bridge *ExternBridge) error {
	for _, m := range reg.Modules() {
		for _, fd := range m.Functions {
			if fd.Kind != FuncKindExtern {
				continue
			}
			idx, ok := bridge.Lookup(fd.Name)
			if !ok {
				return HostError{Message: "extern `" + fd.Name + "` has no host binding"}
			}
			fd.ExternIndex = idx
		}
	}
	return nil
}
