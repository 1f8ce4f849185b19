package tinyscript

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
)

// VM is the stack-based bytecode interpreter (spec §4.6/§4.7): a value
// stack, an indirection stack of call Frames, a flat global-variable
// table, and a GC'd Heap. Execution is single-threaded and cooperative:
// RunSlice executes a bounded number of cycles per call so an embedding
// host can interleave script execution with its own work, matching
// spec §4.7's cycle-sliced scheduling model.
type VM struct {
	heap    *Heap
	prog    *Program
	globals []Handle
	stack   valueStack
	frames  []Frame
	pc      int

	atomicDepth int
	cfg         *Config
	bridge      *ExternBridge

	curFile string
	curLine int32

	stdin *bufio.Reader

	// compileCtx is non-nil only while this VM is running a module's
	// #on_compile block (CompileTimeDriver.runOnCompileBlocks); the
	// metaprogramming externs in externs.go use it to mutate the AST
	// being compiled. nil at ordinary script runtime.
	compileCtx *CompileCtx

	// Halted is set once execution runs off the end of the program or
	// hits an explicit HALT with no enclosing call to return from.
	Halted bool
}

func NewVM(prog *Program, cfg *Config, bridge *ExternBridge) *VM {
	vm := &VM{
		prog:    prog,
		cfg:     cfg,
		bridge:  bridge,
		globals: make([]Handle, prog.NumGlobals),
		stdin:   bufio.NewReader(os.Stdin),
	}
	vm.heap = NewHeap(cfg.GetInt("gc.initial_threshold"))
	for i := range vm.globals {
		vm.globals[i] = NullSingleton
	}
	return vm
}

func (vm *VM) Heap() *Heap { return vm.heap }

// markRoots reports every Handle currently reachable from VM state: the
// operand stack, every live frame's captured ArgVals (its args/locals
// live on the stack itself while the frame is active, so the stack
// scan already covers those), and the global table (spec §4.7: GC
// roots are "every live stack slot plus every global").
func (vm *VM) markRoots(mark func(Handle)) {
	for i := 0; i < vm.stack.len(); i++ {
		mark(vm.stack.at(i))
	}
	for _, g := range vm.globals {
		mark(g)
	}
	for _, f := range vm.frames {
		for _, a := range f.ArgVals {
			mark(a)
		}
	}
}

func (vm *VM) maybeCollect() { vm.heap.MaybeCollect(vm.markRoots) }

// RunFrom executes instructions starting at pc until reaching end
// (exclusive) or an explicit HALT, used for a module's global
// initializers and for running `#on_compile` blocks during
// compilation (spec §4.9). It does not itself call any function.
func (vm *VM) RunFrom(pc, end int) error {
	vm.pc = pc
	for vm.pc < end {
		halt, err := vm.step()
		if err != nil {
			return err
		}
		if halt {
			return nil
		}
	}
	return nil
}

// Start runs every module's global initializers once (spec §4.6),
// leaving the VM ready for the host to call functions by name.
func (vm *VM) Start() error { return vm.RunFrom(0, vm.prog.InitEnd) }

// RunSlice executes up to maxCycles instructions, the cycle-limited
// call variant spec §4.6/§5 requires for cooperative scheduling: a
// host interleaving script execution with its own work calls this
// instead of Start/CallFunction. An `atomic { ... }` block raises
// atomicDepth on entry, so once it is non-zero RunSlice keeps
// stepping past maxCycles until the block exits -- atomic_depth must
// be honored even past the slice's quota. Returns (true, nil) once
// execution halts.
func (vm *VM) RunSlice(maxCycles int) (bool, error) {
	cycles := 0
	for cycles < maxCycles || vm.atomicDepth > 0 {
		halt, err := vm.step()
		if err != nil {
			return true, err
		}
		if halt {
			return true, nil
		}
		cycles++
	}
	return false, nil
}

// CallFunction invokes a top-level (non-method) function by its
// global index with already-heap-allocated argument handles, running
// to completion, and returns its result (spec §6 host API).
func (vm *VM) CallFunction(funcIndex int, args []Handle) (Handle, error) {
	fd := vm.prog.FuncByIdx[funcIndex]
	if fd == nil {
		return NullHandle, HostError{Message: "call to unknown function index"}
	}
	return vm.call(fd, args, Location{File: vm.curFile, Line: vm.curLine})
}

// call pushes a new frame at fd's entry point, runs until its matching
// RETURN, and returns the pushed result (spec §4.6 calling
// convention). Arguments occupy negative frame-relative offsets;
// locals are pre-sized with PUSH_NULL by the emitted prologue.
func (vm *VM) call(fd *FuncDecl, args []Handle, callSite Location) (Handle, error) {
	if len(args) != len(fd.Args) {
		return NullHandle, RuntimeError{Message: fmt.Sprintf("%s expects %d arguments, got %d", fd.Name, len(fd.Args), len(args)), Trace: vm.trace()}
	}
	for _, a := range args {
		vm.stack.push(a)
	}
	fp := vm.stack.len()
	frame := Frame{FuncIndex: int32(fd.GlobalIndex), FP: fp, ReturnPC: -1, Name: fd.Name, CallSite: callSite, ArgVals: args}
	vm.frames = append(vm.frames, frame)
	savedPC := vm.pc
	vm.pc = fd.EntryPC
	depth := len(vm.frames)

	for len(vm.frames) >= depth {
		halt, err := vm.step()
		if err != nil {
			vm.frames = vm.frames[:depth-1]
			vm.pc = savedPC
			return NullHandle, err
		}
		if halt {
			break
		}
	}
	vm.pc = savedPC
	result, ok := vm.stack.pop()
	if !ok {
		return NullHandle, RuntimeError{Message: "call returned no value", Trace: vm.trace()}
	}
	return result, nil
}

func (vm *VM) trace() []CallRecord {
	out := make([]CallRecord, len(vm.frames))
	for i, f := range vm.frames {
		args := make([]string, len(f.ArgVals))
		for j, a := range f.ArgVals {
			args[j] = QuotedValue(vm.heap, a)
		}
		out[i] = CallRecord{FuncName: f.Name, Args: args, At: f.CallSite}
	}
	return out
}

// curFP returns the frame pointer of the innermost active frame, or 0
// at the top level (global-init code, no frame pushed yet).
func (vm *VM) curFP() int {
	if len(vm.frames) == 0 {
		return 0
	}
	return vm.frames[len(vm.frames)-1].FP
}

func (vm *VM) readU32(at int) uint32 { return binary.LittleEndian.Uint32(vm.prog.Code[at : at+4]) }

// step decodes and executes exactly one instruction at vm.pc, advancing
// vm.pc past it (or past a taken jump target). It returns (true, nil)
// if execution reached HALT or a RETURN with no frame to return to.
func (vm *VM) step() (bool, error) {
	if vm.pc >= len(vm.prog.Code) {
		vm.Halted = true
		return true, nil
	}
	op := Op(vm.prog.Code[vm.pc])
	vm.pc++

	switch op {
	case OpNop:
	case OpFile:
		idx := vm.readU32(vm.pc)
		vm.pc += 4
		vm.curFile = vm.prog.Strings[idx]
	case OpLine:
		vm.curLine = int32(vm.readU32(vm.pc))
		vm.pc += 4
	case OpHalt:
		vm.Halted = true
		return true, nil
	case OpPushNull:
		vm.stack.push(NullSingleton)
	case OpPushTrue:
		vm.stack.push(TrueSingleton)
	case OpPushFalse:
		vm.stack.push(FalseSingleton)
	case OpPushNumber:
		idx := vm.readU32(vm.pc)
		vm.pc += 4
		vm.maybeCollect()
		vm.stack.push(vm.heap.AllocNumber(vm.prog.Numbers[idx]))
	case OpPushString:
		idx := vm.readU32(vm.pc)
		vm.pc += 4
		vm.maybeCollect()
		vm.stack.push(vm.heap.AllocString(vm.prog.Strings[idx]))
	case OpPushChar:
		c := vm.prog.Code[vm.pc]
		vm.pc++
		vm.maybeCollect()
		vm.stack.push(vm.heap.AllocChar(c))
	case OpLoadLocal:
		off := int32(vm.readU32(vm.pc))
		vm.pc += 4
		vm.stack.push(vm.stack.at(vm.curFP() + int(off)))
	case OpStoreLocal:
		off := int32(vm.readU32(vm.pc))
		vm.pc += 4
		v, _ := vm.stack.pop()
		vm.stack.set(vm.curFP()+int(off), v)
	case OpLoadArg:
		off := int32(vm.readU32(vm.pc))
		vm.pc += 4
		vm.stack.push(vm.stack.at(vm.curFP() + int(off)))
	case OpStoreArg:
		off := int32(vm.readU32(vm.pc))
		vm.pc += 4
		v, _ := vm.stack.pop()
		vm.stack.set(vm.curFP()+int(off), v)
	case OpLoadGlobal:
		idx := vm.readU32(vm.pc)
		vm.pc += 4
		vm.stack.push(vm.globals[idx])
	case OpStoreGlobal:
		idx := vm.readU32(vm.pc)
		vm.pc += 4
		v, _ := vm.stack.pop()
		vm.globals[idx] = v
	case OpPop:
		vm.stack.pop()
	case OpDup:
		v, _ := vm.stack.peek()
		vm.stack.push(v)
	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		if err := vm.binArith(op); err != nil {
			return false, err
		}
	case OpLt, OpGt, OpLte, OpGte:
		if err := vm.binCompare(op); err != nil {
			return false, err
		}
	case OpEq, OpNeq:
		b, _ := vm.stack.pop()
		a, _ := vm.stack.pop()
		eq := ValuesEqual(vm.heap, a, b)
		if op == OpNeq {
			eq = !eq
		}
		vm.stack.push(vm.heap.AllocBool(eq))
	case OpAnd, OpOr:
		b, _ := vm.stack.pop()
		a, _ := vm.stack.pop()
		av, bv := vm.heap.Get(a).B, vm.heap.Get(b).B
		var r bool
		if op == OpAnd {
			r = av && bv
		} else {
			r = av || bv
		}
		vm.stack.push(vm.heap.AllocBool(r))
	case OpNeg:
		a, _ := vm.stack.pop()
		vm.maybeCollect()
		vm.stack.push(vm.heap.AllocNumber(-vm.heap.Get(a).Num))
	case OpNot:
		a, _ := vm.stack.pop()
		vm.stack.push(vm.heap.AllocBool(!vm.heap.Get(a).B))
	case OpNewArray:
		n := int(vm.readU32(vm.pc))
		vm.pc += 4
		elems := make([]Handle, n)
		base := vm.stack.len() - n
		copy(elems, vm.stack.s[base:])
		vm.stack.truncate(base)
		vm.maybeCollect()
		vm.stack.push(vm.heap.AllocArray(elems))
	case OpNewStruct:
		n := int(vm.readU32(vm.pc))
		tagIdx := vm.readU32(vm.pc + 4)
		vm.pc += 8
		members := make([]Handle, n)
		base := vm.stack.len() - n
		copy(members, vm.stack.s[base:])
		vm.stack.truncate(base)
		vm.maybeCollect()
		vm.stack.push(vm.heap.AllocStruct(members, vm.prog.Strings[tagIdx]))
	case OpIndexGet:
		if err := vm.indexGet(); err != nil {
			return false, err
		}
	case OpIndexSet:
		if err := vm.indexSet(); err != nil {
			return false, err
		}
	case OpFieldGet:
		idx := int(vm.readU32(vm.pc))
		vm.pc += 4
		recv, _ := vm.stack.pop()
		v := vm.heap.Get(recv)
		if v.Tag != TagStruct || idx >= len(v.Sct) {
			return false, RuntimeError{Message: "field access out of range", Trace: vm.trace()}
		}
		vm.stack.push(v.Sct[idx])
	case OpFieldSet:
		idx := int(vm.readU32(vm.pc))
		vm.pc += 4
		recv, _ := vm.stack.pop()
		val, _ := vm.stack.pop()
		v := vm.heap.Get(recv)
		if v.Tag != TagStruct || idx >= len(v.Sct) {
			return false, RuntimeError{Message: "field assignment out of range", Trace: vm.trace()}
		}
		v.Sct[idx] = val
	case OpLen:
		a, _ := vm.stack.pop()
		v := vm.heap.Get(a)
		var n int
		switch v.Tag {
		case TagString:
			n = len(v.Str)
		case TagArray:
			n = len(v.Arr)
		default:
			return false, RuntimeError{Message: "len requires a string or array", Trace: vm.trace()}
		}
		vm.maybeCollect()
		vm.stack.push(vm.heap.AllocNumber(float64(n)))
	case OpJump:
		target := vm.readU32(vm.pc)
		vm.pc = int(target)
	case OpJumpIfFalse:
		target := vm.readU32(vm.pc)
		vm.pc += 4
		c, _ := vm.stack.pop()
		if !vm.heap.Get(c).B {
			vm.pc = int(target)
		}
	case OpCall:
		idx := vm.readU32(vm.pc)
		vm.pc += 4
		argc := int(vm.prog.Code[vm.pc])
		vm.pc++
		if err := vm.doCall(int(idx), argc); err != nil {
			return false, err
		}
	case OpCallDynamic:
		argc := int(vm.prog.Code[vm.pc])
		vm.pc++
		callee, _ := vm.stack.pop()
		fv := vm.heap.Get(callee).Fn
		if fv.IsExtern {
			if err := vm.doCallExtern(int(fv.Index), argc); err != nil {
				return false, err
			}
		} else if err := vm.doCall(int(fv.Index), argc); err != nil {
			return false, err
		}
	case OpCallExtern:
		externIdx := int(vm.prog.Code[vm.pc])
		argc := int(vm.prog.Code[vm.pc+1])
		vm.pc += 2
		if err := vm.doCallExtern(externIdx, argc); err != nil {
			return false, err
		}
	case OpReturn, OpReturnVoid:
		result := NullSingleton
		if op == OpReturn {
			result, _ = vm.stack.pop()
		}
		if len(vm.frames) == 0 {
			vm.stack.push(result)
			return true, nil
		}
		f := vm.frames[len(vm.frames)-1]
		vm.frames = vm.frames[:len(vm.frames)-1]
		vm.stack.truncate(f.FP - len(f.ArgVals))
		vm.stack.push(result)
		vm.pc = f.ReturnPC
	case OpWrite:
		v, _ := vm.stack.pop()
		fmt.Println(FormatValue(vm.heap, v))
	case OpRead:
		line, _ := vm.stdin.ReadString('\n')
		vm.maybeCollect()
		vm.stack.push(vm.heap.AllocString(trimNewline(line)))
	case OpAtomicEnter:
		vm.atomicDepth++
	case OpAtomicExit:
		vm.atomicDepth--
	default:
		return false, RuntimeError{Message: fmt.Sprintf("unimplemented opcode %v", op), Trace: vm.trace()}
	}
	return false, nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// doCall performs an internal CALL: it pushes a Frame whose ReturnPC is
// vm.pc, already advanced past the full CALL instruction by the
// caller, then jumps to the callee's entry point. The outer step loop
// keeps calling step() so this does not recurse into Go's call stack
// per script call -- only VM.call (used by the host API) recurses
// natively, once per nested host-initiated call.
func (vm *VM) doCall(funcIdx, argc int) error {
	fd := vm.prog.FuncByIdx[funcIdx]
	if fd == nil {
		return RuntimeError{Message: "call to unknown function", Trace: vm.trace()}
	}
	if argc != len(fd.Args) {
		return RuntimeError{Message: fmt.Sprintf("%s expects %d arguments, got %d", fd.Name, len(fd.Args), argc), Trace: vm.trace()}
	}
	fp := vm.stack.len()
	argVals := append([]Handle{}, vm.stack.s[fp-argc:]...)
	vm.frames = append(vm.frames, Frame{
		FuncIndex: int32(funcIdx), FP: fp, ReturnPC: vm.pc, Name: fd.Name, ArgVals: argVals,
		CallSite: Location{File: vm.curFile, Line: vm.curLine},
	})
	vm.pc = fd.EntryPC
	return nil
}

func (vm *VM) doCallExtern(externIdx, argc int) error {
	args := make([]Handle, argc)
	base := vm.stack.len() - argc
	copy(args, vm.stack.s[base:])
	vm.stack.truncate(base)
	vm.heap.EnterExtern()
	result, err := vm.bridge.Call(vm, externIdx, args)
	vm.heap.LeaveExtern()
	if err != nil {
		if _, ok := err.(RuntimeError); !ok {
			err = RuntimeError{Message: err.Error(), Trace: vm.trace()}
		}
		return err
	}
	if result.IsNull() {
		result = NullSingleton
	}
	vm.stack.push(result)
	return nil
}

func (vm *VM) binArith(op Op) error {
	b, _ := vm.stack.pop()
	a, _ := vm.stack.pop()
	av, bv := vm.heap.Get(a).Num, vm.heap.Get(b).Num
	var r float64
	switch op {
	case OpAdd:
		r = av + bv
	case OpSub:
		r = av - bv
	case OpMul:
		r = av * bv
	case OpDiv:
		if bv == 0 {
			return RuntimeError{Message: "division by zero", Trace: vm.trace()}
		}
		r = av / bv
	case OpMod:
		ai, bi := int64(av), int64(bv)
		if bi == 0 {
			return RuntimeError{Message: "modulo by zero", Trace: vm.trace()}
		}
		r = float64(ai % bi)
	}
	vm.maybeCollect()
	vm.stack.push(vm.heap.AllocNumber(r))
	return nil
}

func (vm *VM) binCompare(op Op) error {
	b, _ := vm.stack.pop()
	a, _ := vm.stack.pop()
	av, bv := vm.heap.Get(a).Num, vm.heap.Get(b).Num
	var r bool
	switch op {
	case OpLt:
		r = av < bv
	case OpGt:
		r = av > bv
	case OpLte:
		r = av <= bv
	case OpGte:
		r = av >= bv
	}
	vm.stack.push(vm.heap.AllocBool(r))
	return nil
}

func (vm *VM) indexGet() error {
	idx, _ := vm.stack.pop()
	recv, _ := vm.stack.pop()
	rv := vm.heap.Get(recv)
	i := int(vm.heap.Get(idx).Num)
	switch rv.Tag {
	case TagArray:
		if i < 0 || i >= len(rv.Arr) {
			return RuntimeError{Message: "array index out of range", Trace: vm.trace()}
		}
		vm.stack.push(rv.Arr[i])
	case TagString:
		if i < 0 || i >= len(rv.Str) {
			return RuntimeError{Message: "string index out of range", Trace: vm.trace()}
		}
		vm.maybeCollect()
		vm.stack.push(vm.heap.AllocChar(rv.Str[i]))
	default:
		return RuntimeError{Message: "cannot index this value", Trace: vm.trace()}
	}
	return nil
}

func (vm *VM) indexSet() error {
	idx, _ := vm.stack.pop()
	recv, _ := vm.stack.pop()
	val, _ := vm.stack.pop()
	rv := vm.heap.Get(recv)
	i := int(vm.heap.Get(idx).Num)
	if rv.Tag != TagArray {
		return RuntimeError{Message: "cannot index-assign this value", Trace: vm.trace()}
	}
	if i < 0 || i >= len(rv.Arr) {
		return RuntimeError{Message: "array index out of range", Trace: vm.trace()}
	}
	rv.Arr[i] = val
	return nil
}
