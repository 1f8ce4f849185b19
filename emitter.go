package tinyscript

import (
	"encoding/binary"
	"fmt"
)

// Program is the finished bytecode artifact: a flat instruction stream
// plus its constant pools (spec §4.5). InitEnd marks the PC where the
// concatenated global-initializer code ends and the host may start
// calling functions; function bodies follow it, each starting at its
// FuncDecl.EntryPC.
type Program struct {
	Code    []byte
	Numbers []float64
	Strings []string
	InitEnd int

	NumGlobals int
	FuncByIdx  []*FuncDecl // indexed by FuncDecl.GlobalIndex
}

// emitter lays out bytecode for every module in dependency order. One
// emitter instance is shared for the whole program so constant pools
// and function entry points are program-wide, matching the teacher's
// own single-Program-per-compile model (old vm_program.go, read for
// its PrettyString layout before being deleted).
type emitter struct {
	prog       *Program
	numConsts  map[float64]int
	strConsts  map[string]int
	curFunc    *FuncDecl
	breakStack [][]int // patch list per enclosing loop, for future `break`/`continue` (spec leaves these implicit via while/for only)

	lastFile string
	lastLine int32
}

func newEmitter() *emitter {
	return &emitter{
		prog:      &Program{},
		numConsts: map[float64]int{},
		strConsts: map[string]int{},
	}
}

func (e *emitter) emit(op Op) int {
	pos := len(e.prog.Code)
	e.prog.Code = append(e.prog.Code, byte(op))
	return pos
}

func (e *emitter) emitU32(op Op, v uint32) int {
	pos := e.emit(op)
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	e.prog.Code = append(e.prog.Code, buf[:]...)
	return pos
}

func (e *emitter) emitI32(op Op, v int32) int { return e.emitU32(op, uint32(v)) }

func (e *emitter) emitU32U32(op Op, a, b uint32) int {
	pos := e.emit(op)
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], a)
	binary.LittleEndian.PutUint32(buf[4:8], b)
	e.prog.Code = append(e.prog.Code, buf[:]...)
	return pos
}

func (e *emitter) emitU8(op Op, v uint8) int {
	pos := e.emit(op)
	e.prog.Code = append(e.prog.Code, v)
	return pos
}

func (e *emitter) patchU32(pos int, v uint32) {
	binary.LittleEndian.PutUint32(e.prog.Code[pos+1:pos+5], v)
}

func (e *emitter) here() int { return len(e.prog.Code) }

func (e *emitter) numConst(n float64) uint32 {
	if i, ok := e.numConsts[n]; ok {
		return uint32(i)
	}
	i := len(e.prog.Numbers)
	e.prog.Numbers = append(e.prog.Numbers, n)
	e.numConsts[n] = i
	return uint32(i)
}

func (e *emitter) strConst(s string) uint32 {
	if i, ok := e.strConsts[s]; ok {
		return uint32(i)
	}
	i := len(e.prog.Strings)
	e.prog.Strings = append(e.prog.Strings, s)
	e.strConsts[s] = i
	return uint32(i)
}

// EmitProgram lays out global initializers for every module in
// dependency order, followed by every function body (spec §4.5/§4.6).
// LinkModules must already have assigned GlobalIndex to every global
// var and FuncDecl.
func EmitProgram(reg *ModuleRegistry, order []int) (*Program, error) {
	e := newEmitter()
	e.prog.FuncByIdx = make([]*FuncDecl, 0)

	for _, idx := range order {
		m := reg.Module(idx)
		if m.Lines != nil {
			e.emitU32(OpFile, e.strConst(m.LocalPath))
		}
		for _, g := range m.Globals {
			if err := e.emitGlobalInit(g); err != nil {
				return nil, err
			}
		}
		for _, s := range m.ExtraInit {
			if err := e.emitStmt(s); err != nil {
				return nil, err
			}
		}
	}
	e.emit(OpHalt)
	e.prog.InitEnd = e.here()

	for _, idx := range order {
		m := reg.Module(idx)
		for _, fd := range m.Functions {
			if fd.Kind == FuncKindExtern {
				continue
			}
			if err := e.emitFunction(m, fd); err != nil {
				return nil, err
			}
		}
	}
	for _, idx := range order {
		for _, fd := range reg.Module(idx).Functions {
			if fd.Kind == FuncKindFunction {
				for len(e.prog.FuncByIdx) <= fd.GlobalIndex {
					e.prog.FuncByIdx = append(e.prog.FuncByIdx, nil)
				}
				e.prog.FuncByIdx[fd.GlobalIndex] = fd
			}
		}
	}
	return e.prog, nil
}

// emitGlobalInit emits a global's init expression, if any (stashed on
// the VarDecl by the parser). Globals without an initializer get an
// implicit Null (spec §4.6: "every slot starts at a well-defined
// value").
func (e *emitter) emitGlobalInit(g *VarDecl) error {
	if g.initExpr == nil {
		e.emit(OpPushNull)
	} else if err := e.emitExpr(g.initExpr); err != nil {
		return err
	}
	e.emitU32(OpStoreGlobal, uint32(g.GlobalIndex))
	e.emit(OpPop)
	return nil
}

func (e *emitter) emitFunction(m *Module, fd *FuncDecl) error {
	prev := e.curFunc
	e.curFunc = fd
	fd.EntryPC = e.here()
	for i := 0; i < fd.NumLocalSlots(); i++ {
		e.emit(OpPushNull)
	}
	for _, stmt := range fd.bodyAST {
		if err := e.emitStmt(stmt); err != nil {
			e.curFunc = prev
			return err
		}
	}
	e.emit(OpPushNull)
	e.emit(OpReturn)
	e.curFunc = prev
	return nil
}

// ---- statements ----

// emitDebugPos inserts FILE/LINE opcodes whenever either differs from
// what was last emitted (spec §4.5), so the debugger's `list`/`stack`
// commands and call-record traces have real source positions to show.
func (e *emitter) emitDebugPos(at Location) {
	if at.File != "" && at.File != e.lastFile {
		e.emitU32(OpFile, e.strConst(at.File))
		e.lastFile = at.File
	}
	if at.Line != 0 && at.Line != e.lastLine {
		e.emitU32(OpLine, uint32(at.Line))
		e.lastLine = at.Line
	}
}

func (e *emitter) emitStmt(x Expr) error {
	e.emitDebugPos(x.Pos().Start)
	switch n := x.(type) {
	case *VarDeclExpr:
		if n.Init != nil {
			if err := e.emitExpr(n.Init); err != nil {
				return err
			}
		} else {
			e.emit(OpPushNull)
		}
		e.storeDecl(n.Decl)
		return nil
	case *IfExpr:
		if err := e.emitExpr(n.Cond); err != nil {
			return err
		}
		jf := e.emitU32(OpJumpIfFalse, 0)
		for _, s := range n.Then {
			if err := e.emitStmt(s); err != nil {
				return err
			}
		}
		if len(n.Else) > 0 {
			jEnd := e.emitU32(OpJump, 0)
			e.patchU32(jf, uint32(e.here()))
			for _, s := range n.Else {
				if err := e.emitStmt(s); err != nil {
					return err
				}
			}
			e.patchU32(jEnd, uint32(e.here()))
		} else {
			e.patchU32(jf, uint32(e.here()))
		}
		return nil
	case *WhileExpr:
		start := e.here()
		if err := e.emitExpr(n.Cond); err != nil {
			return err
		}
		jf := e.emitU32(OpJumpIfFalse, 0)
		for _, s := range n.Body {
			if err := e.emitStmt(s); err != nil {
				return err
			}
		}
		e.emitU32(OpJump, uint32(start))
		e.patchU32(jf, uint32(e.here()))
		return nil
	case *ForExpr:
		if n.Init != nil {
			if err := e.emitStmt(n.Init); err != nil {
				return err
			}
		}
		start := e.here()
		if err := e.emitExpr(n.Cond); err != nil {
			return err
		}
		jf := e.emitU32(OpJumpIfFalse, 0)
		for _, s := range n.Body {
			if err := e.emitStmt(s); err != nil {
				return err
			}
		}
		if n.Step != nil {
			if err := e.emitExpr(n.Step); err != nil {
				return err
			}
			e.emit(OpPop)
		}
		e.emitU32(OpJump, uint32(start))
		e.patchU32(jf, uint32(e.here()))
		return nil
	case *ReturnExpr:
		if n.Value != nil {
			if err := e.emitExpr(n.Value); err != nil {
				return err
			}
		} else {
			e.emit(OpPushNull)
		}
		e.emit(OpReturn)
		return nil
	case *WriteExpr:
		if err := e.emitExpr(n.Value); err != nil {
			return err
		}
		e.emit(OpWrite)
		return nil
	case *BlockExpr:
		for _, s := range n.Body {
			if err := e.emitStmt(s); err != nil {
				return err
			}
		}
		return nil
	case *AtomicExpr:
		e.emit(OpAtomicEnter)
		for _, s := range n.Body {
			if err := e.emitStmt(s); err != nil {
				return err
			}
		}
		e.emit(OpAtomicExit)
		return nil
	case *FuncDeclExpr, *StructDeclExpr, *ExternDeclExpr, *ImportDirective, *OnCompileDirective:
		return nil // declarations: no code at statement position inside a body
	default:
		if err := e.emitExpr(x); err != nil {
			return err
		}
		e.emit(OpPop)
		return nil
	}
}

func (e *emitter) storeDecl(d *VarDecl) {
	switch {
	case d.IsGlobal:
		e.emitU32(OpStoreGlobal, uint32(d.GlobalIndex))
	case d.IsArg:
		e.emitI32(OpStoreArg, int32(d.Offset))
	default:
		e.emitI32(OpStoreLocal, int32(d.Offset))
	}
}

func (e *emitter) loadDecl(d *VarDecl) {
	switch {
	case d.IsGlobal:
		e.emitU32(OpLoadGlobal, uint32(d.GlobalIndex))
	case d.IsArg:
		e.emitI32(OpLoadArg, int32(d.Offset))
	default:
		e.emitI32(OpLoadLocal, int32(d.Offset))
	}
}

// ---- expressions ----

func (e *emitter) emitExpr(x Expr) error {
	switch n := x.(type) {
	case *NullLit:
		e.emit(OpPushNull)
	case *BoolLit:
		if n.Value {
			e.emit(OpPushTrue)
		} else {
			e.emit(OpPushFalse)
		}
	case *CharLit:
		e.emitU8(OpPushChar, n.Value)
	case *NumberLit:
		e.emitU32(OpPushNumber, e.numConst(n.Value))
	case *StringLit:
		e.emitU32(OpPushString, e.strConst(n.Value))
	case *VarExpr:
		if n.Decl == nil {
			return fmt.Errorf("internal: unresolved variable `%s` reached the emitter", n.Name)
		}
		e.loadDecl(n.Decl)
	case *ArrayLit:
		for _, el := range n.Elems {
			if err := e.emitExpr(el); err != nil {
				return err
			}
		}
		e.emitU32(OpNewArray, uint32(len(n.Elems)))
	case *NewExpr:
		return e.emitNewExpr(n)
	case *BinExpr:
		return e.emitBinExpr(n)
	case *UnaryExpr:
		if err := e.emitExpr(n.Operand); err != nil {
			return err
		}
		if n.Op == UnaryNeg {
			e.emit(OpNeg)
		} else {
			e.emit(OpNot)
		}
	case *CallExpr:
		return e.emitCall(n)
	case *IndexExpr:
		if err := e.emitExpr(n.Receiver); err != nil {
			return err
		}
		if err := e.emitExpr(n.Index); err != nil {
			return err
		}
		e.emit(OpIndexGet)
	case *DotExpr:
		if err := e.emitExpr(n.Receiver); err != nil {
			return err
		}
		if n.Member == nil {
			return fmt.Errorf("internal: unresolved field `%s` reached the emitter", n.Name)
		}
		e.emitU32(OpFieldGet, uint32(n.Member.Index))
	case *LenExpr:
		if err := e.emitExpr(n.Operand); err != nil {
			return err
		}
		e.emit(OpLen)
	case *ReadExpr:
		e.emit(OpRead)
	default:
		return fmt.Errorf("internal: emitExpr: unhandled node %T", x)
	}
	return nil
}

func (e *emitter) emitNewExpr(n *NewExpr) error {
	tag := n.StructTy
	slots := make([]Expr, tag.Size)
	for _, m := range tag.Members {
		slots[m.Index] = m.Default
	}
	for _, init := range n.Inits {
		m, ok := tag.Member(init.Name)
		if !ok {
			return fmt.Errorf("internal: unresolved member `%s` reached the emitter", init.Name)
		}
		slots[m.Index] = init.Value
	}
	for _, s := range slots {
		if s == nil {
			e.emit(OpPushNull)
		} else if err := e.emitExpr(s); err != nil {
			return err
		}
	}
	e.emitU32U32(OpNewStruct, uint32(tag.Size), e.strConst(tag.Name))
	return nil
}

func (e *emitter) emitBinExpr(n *BinExpr) error {
	if n.Op == BinAssign {
		return e.emitAssign(n)
	}
	if err := e.emitExpr(n.Left); err != nil {
		return err
	}
	if err := e.emitExpr(n.Right); err != nil {
		return err
	}
	switch n.Op {
	case BinAdd:
		e.emit(OpAdd)
	case BinSub:
		e.emit(OpSub)
	case BinMul:
		e.emit(OpMul)
	case BinDiv:
		e.emit(OpDiv)
	case BinMod:
		e.emit(OpMod)
	case BinLt:
		e.emit(OpLt)
	case BinGt:
		e.emit(OpGt)
	case BinLte:
		e.emit(OpLte)
	case BinGte:
		e.emit(OpGte)
	case BinEq:
		e.emit(OpEq)
	case BinNeq:
		e.emit(OpNeq)
	case BinAnd:
		e.emit(OpAnd)
	case BinOr:
		e.emit(OpOr)
	default:
		return fmt.Errorf("internal: unhandled binary operator %v", n.Op)
	}
	return nil
}

func (e *emitter) emitAssign(n *BinExpr) error {
	if err := e.emitExpr(n.Right); err != nil {
		return err
	}
	e.emit(OpDup)
	switch lhs := n.Left.(type) {
	case *VarExpr:
		if lhs.Decl == nil {
			return fmt.Errorf("internal: unresolved assignment target `%s`", lhs.Name)
		}
		e.storeDecl(lhs.Decl)
	case *DotExpr:
		if lhs.Member == nil {
			return fmt.Errorf("internal: unresolved assignment target `.%s`", lhs.Name)
		}
		if err := e.emitExpr(lhs.Receiver); err != nil {
			return err
		}
		// stack: [rhs(kept), rhs(to store), recv] -- FIELD_SET pops recv then value
		e.emitU32(OpFieldSet, uint32(lhs.Member.Index))
	case *IndexExpr:
		if err := e.emitExpr(lhs.Receiver); err != nil {
			return err
		}
		if err := e.emitExpr(lhs.Index); err != nil {
			return err
		}
		e.emit(OpIndexSet)
	default:
		return fmt.Errorf("internal: invalid assignment target %T", n.Left)
	}
	return nil
}

func (e *emitter) emitCall(n *CallExpr) error {
	for _, a := range n.Args {
		if err := e.emitExpr(a); err != nil {
			return err
		}
	}
	if n.ResolvedFunc != nil {
		if n.ResolvedFunc.Kind == FuncKindExtern {
			e.emitU8(OpCallExtern, uint8(n.ResolvedFunc.ExternIndex))
			e.prog.Code = append(e.prog.Code, uint8(len(n.Args)))
			return nil
		}
		e.emitU32(OpCall, uint32(n.ResolvedFunc.GlobalIndex))
		e.prog.Code = append(e.prog.Code, uint8(len(n.Args)))
		return nil
	}
	if err := e.emitExpr(n.Callee); err != nil {
		return err
	}
	e.emitU8(OpCallDynamic, uint8(len(n.Args)))
	return nil
}
