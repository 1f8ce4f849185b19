package tinyscript

import (
	"fmt"
	"os"
)

// Script is the embedding host's entry point (spec §6 Host API
// surface): lifecycle (NewScript/Reset/Destroy), loading (ParseFile/
// ParseCode), compilation (Compile/Disassemble), execution (Run/
// Start+ExecuteCycle+Stop/CallFunction), introspection
// (GetFunctionByName), extern registration (BindExtern), and
// per-warning toggles (DisableWarning). Grounded on the teacher's own
// `cmd/langlang/main.go` driver sequence (import -> add builtins ->
// compile -> run/interactive), generalized into a reusable type
// instead of one linear main().
type Script struct {
	Config *Config
	Bridge *ExternBridge
	Reg    *ModuleRegistry

	prog  *Program
	vm    *VM
	order []int

	debugOut *os.File
}

func NewScript() *Script {
	bridge := NewExternBridge()
	RegisterBuiltins(bridge)
	RegisterMetaprogramming(bridge)
	return &Script{
		Config: NewConfig(),
		Bridge: bridge,
		Reg:    NewModuleRegistry(NewFileModuleLoader()),
	}
}

// Reset discards any compiled program/VM state but keeps loaded
// modules and extern bindings, so the host can recompile after
// mutating bound externs.
func (s *Script) Reset() {
	s.prog = nil
	s.vm = nil
}

// Destroy releases every reference the Script owns. There is nothing
// else to flush (spec §6 "Persistence: none") -- dropping the last
// reference is enough for the Go runtime to reclaim the heap's blocks.
func (s *Script) Destroy() {
	s.Reset()
	s.Reg = nil
}

// BindExtern registers fn under name in the extern bridge. Must be
// called before Compile for any script-declared `extern name(...)` to
// resolve (spec §4.9: unbound names are a fatal HostError at link time).
func (s *Script) BindExtern(name string, fn ExternFunc) {
	s.Bridge.Register(name, fn)
}

// DisableWarning turns off one of the three individually-toggleable
// warnings for every subsequent Compile.
func (s *Script) DisableWarning(kind WarningKind) {
	s.Config.DisableWarning(kind)
}

// ParseFile loads path as a module named name (spec §6 `parse_file`).
func (s *Script) ParseFile(path, name string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return HostError{Message: "cannot read " + path + ": " + err.Error()}
	}
	return s.ParseCode(src, path, name)
}

// ParseCode loads already-in-memory source as a module (spec §6
// `parse_code`), lexing and parsing it and, transitively, every module
// it `#import`s, into the registry.
func (s *Script) ParseCode(src []byte, path, name string) error {
	m := s.Reg.AddSource(path, src)
	m.Name = name
	return ParseModule(s.Reg, m)
}

// Compile runs the module registry's struct-finalization checks and
// the compile-time driver's full pipeline (spec §4.8), producing the
// Program the VM executes. Diagnostics accumulated along the way are
// collapsed into a single error.
func (s *Script) Compile() error {
	if err := s.Reg.CheckAllTagsDefined(); err != nil {
		return err
	}
	if err := s.Reg.FinalizeAllStructs(); err != nil {
		return err
	}
	if err := LinkExterns(s.Reg, s.Bridge); err != nil {
		return err
	}
	driver := NewCompileTimeDriver(s.Reg, s.Config, s.Bridge)
	prog, diags := driver.Compile()
	if diags.HasErrors() {
		return diags.Err()
	}
	for _, w := range diags.Warnings {
		if s.Config.WarningEnabled(w.Kind) {
			fmt.Fprintln(os.Stderr, w.Error())
		}
	}
	s.prog = prog
	s.order = s.Reg.DependencyOrder()
	s.vm = NewVM(prog, s.Config, s.Bridge)
	return nil
}

// Disassemble returns the compiled program's instruction listing
// (spec §6 `disassemble`). Compile must have succeeded first.
func (s *Script) Disassemble() (string, error) {
	if s.prog == nil {
		return "", HostError{Message: "disassemble called before compile"}
	}
	return Disassemble(s.prog), nil
}

// Run executes every module's global initializers to completion (spec
// §6 `run`), entering the debugger on a RuntimeError (grounded on spec
// §4.10: "always prints call-record chain ... before entering the
// loop").
func (s *Script) Run() error {
	if s.vm == nil {
		return HostError{Message: "run called before compile"}
	}
	if err := s.vm.Start(); err != nil {
		s.enterDebugger(err)
		return err
	}
	return nil
}

// Start begins (or resets to) the global-initializer entry point
// without running it, for hosts that drive execution one cycle at a
// time via ExecuteCycle (spec §6 `start`+`execute_cycle`+`stop`).
func (s *Script) Start() {
	s.vm.pc = 0
}

// ExecuteCycle runs a single VM step (spec §4.6: "one execution cycle
// reads one opcode"). Returns (true, nil) once execution halts.
func (s *Script) ExecuteCycle() (bool, error) {
	halted, err := s.vm.step()
	if err != nil {
		s.enterDebugger(err)
		return true, err
	}
	return halted, nil
}

// ExecuteSlice runs up to the configured vm.cycles_per_slice
// instructions (spec §4.6/§5's cycle-sliced scheduling model),
// continuing past that quota while an atomic {...} block is in
// progress so atomic_depth is always honored, even past its quota.
func (s *Script) ExecuteSlice() (bool, error) {
	halted, err := s.vm.RunSlice(s.Config.GetInt("vm.cycles_per_slice"))
	if err != nil {
		s.enterDebugger(err)
		return true, err
	}
	return halted, nil
}

// Stop cancels execution: the next cycle is a no-op (spec §5
// `script_stop`).
func (s *Script) Stop() {
	s.vm.pc = len(s.vm.prog.Code)
	s.vm.stack.truncate(0)
}

// CallFunction invokes a top-level function by name with already
// heap-allocated argument handles and runs it to completion (spec §6
// `call_function`).
func (s *Script) CallFunction(name string, args []Handle) (Handle, error) {
	fd := s.GetFunctionByName(name)
	if fd == nil {
		return NullHandle, HostError{Message: "no such function: " + name}
	}
	h, err := s.vm.CallFunction(fd.GlobalIndex, args)
	if err != nil {
		s.enterDebugger(err)
	}
	return h, err
}

// GetFunctionByName looks up a top-level function declaration across
// every loaded module (spec §6 introspection).
func (s *Script) GetFunctionByName(name string) *FuncDecl {
	for _, m := range s.Reg.Modules() {
		for _, fd := range m.Functions {
			if fd.Kind == FuncKindFunction && fd.Name == name {
				return fd
			}
		}
	}
	return nil
}

// Heap exposes the VM's heap so a host can build argument Handles
// before calling CallFunction.
func (s *Script) Heap() *Heap { return s.vm.Heap() }

func (s *Script) enterDebugger(err error) {
	rerr, ok := err.(RuntimeError)
	if !ok {
		return
	}
	NewDebugger(s.vm, s.Reg, os.Stdin, os.Stdout).Run(rerr)
}
