package tinyscript

// CompileCtx gives the metaprogramming externs (externs.go) access to
// the registry and driver a module's `#on_compile` block is running
// under -- the host-visible half of spec §4.9's "current module"
// concept. Set on the throwaway VM only while runOnCompileBlocks is
// executing, nil at ordinary script runtime.
type CompileCtx struct {
	Reg       *ModuleRegistry
	Driver    *CompileTimeDriver
	ModuleIdx int
}

// LinkModules assigns a single program-wide GlobalIndex to every
// global variable and every function across all modules, walked in
// dependency order (spec §4.8: "referenced modules first"), giving
// the emitter a flat index space for STORE_GLOBAL/LOAD_GLOBAL and the
// CALL opcode's function table.
func LinkModules(reg *ModuleRegistry, order []int) (numGlobals, numFuncs int) {
	for _, idx := range order {
		m := reg.Module(idx)
		for _, g := range m.Globals {
			g.GlobalIndex = numGlobals
			numGlobals++
		}
	}
	for _, idx := range order {
		m := reg.Module(idx)
		for _, fd := range m.Functions {
			if fd.Kind != FuncKindFunction {
				continue
			}
			fd.GlobalIndex = numFuncs
			numFuncs++
		}
	}
	return numGlobals, numFuncs
}

// CompileTimeDriver runs the two-pass-per-module compilation spec §4.9
// describes: pass 0 resolves and emits the program once, then runs
// every module's `#on_compile` blocks through a throwaway VM so their
// extern side effects (typically registering or tweaking declarations
// through the Extern Bridge) can take hold; pass 1 re-resolves and
// re-emits idempotently, producing the Program the host actually runs.
// Re-emission is idempotent because resolution/emission are pure
// functions of the (already-mutated) AST -- running them twice with no
// further mutation in between yields byte-identical output.
type CompileTimeDriver struct {
	Reg    *ModuleRegistry
	Config *Config
	Bridge *ExternBridge
	Diags  *Diagnostics
}

func NewCompileTimeDriver(reg *ModuleRegistry, cfg *Config, bridge *ExternBridge) *CompileTimeDriver {
	return &CompileTimeDriver{Reg: reg, Config: cfg, Bridge: bridge, Diags: &Diagnostics{}}
}

// Compile runs the full pipeline and returns the final Program, or the
// accumulated diagnostics if resolution failed.
func (d *CompileTimeDriver) Compile() (*Program, *Diagnostics) {
	order := d.Reg.DependencyOrder()

	if prog, ok := d.passOnce(order); !ok {
		return nil, d.Diags
	} else if err := d.runOnCompileBlocks(order, prog); err != nil {
		d.Diags.AddError(err)
		return nil, d.Diags
	}

	// pass 1: re-resolve (on_compile externs may have added
	// declarations) and re-emit for the final artifact.
	prog, ok := d.passOnce(order)
	if !ok {
		return nil, d.Diags
	}
	return prog, d.Diags
}

func (d *CompileTimeDriver) passOnce(order []int) (*Program, bool) {
	d.Diags.Errors = nil
	d.Diags.Warnings = nil
	res := NewResolver(d.Reg, d.Diags)
	res.ResolveAll(order)
	if d.Diags.HasErrors() {
		return nil, false
	}
	LinkModules(d.Reg, order)
	prog, err := EmitProgram(d.Reg, order)
	if err != nil {
		d.Diags.AddError(err)
		return nil, false
	}
	return prog, true
}

// runOnCompileBlocks executes every module's compile-time block list
// (spec §4.9) by emitting only those blocks into a fresh program (which
// shares prog's number and string pools; prog's global initializers
// are not run) and running it on a fresh VM, in module dependency
// order -- the same VM/heap/extern machinery the host uses
// at runtime, just invoked one phase earlier and discarded afterward.
func (d *CompileTimeDriver) runOnCompileBlocks(order []int, prog *Program) error {
	for _, idx := range order {
		m := d.Reg.Module(idx)
		if len(m.CompileTimeBlock) == 0 {
			continue
		}
		e := newEmitter()
		e.prog.Numbers = append([]float64{}, prog.Numbers...)
		e.prog.Strings = append([]string{}, prog.Strings...)
		e.numConsts = map[float64]int{}
		for i, n := range e.prog.Numbers {
			e.numConsts[n] = i
		}
		e.strConsts = map[string]int{}
		for i, s := range e.prog.Strings {
			e.strConsts[s] = i
		}
		for _, block := range m.CompileTimeBlock {
			if err := e.emitStmt(block.Body); err != nil {
				return err
			}
		}
		e.emit(OpHalt)
		cfg := d.Config
		if cfg == nil {
			cfg = NewConfig()
		}
		vm := NewVM(e.prog, cfg, d.Bridge)
		vm.compileCtx = &CompileCtx{Reg: d.Reg, Driver: d, ModuleIdx: idx}
		if err := vm.RunFrom(0, len(e.prog.Code)); err != nil {
			return HostError{Message: "#on_compile block failed: " + err.Error()}
		}
	}
	return nil
}
