package tinyscript

import (
	"fmt"
	"strings"

	"github.com/tsvm/tinyscript/ascii"
)

// Disassemble renders prog's instruction stream as one line per
// instruction, grounded on the teacher's own ASM pretty-printer
// (`HighlightPrettyString`, read then deleted) of coloring the mnemonic
// and right-aligning operands. Function entry points are labeled with
// the declaring FuncDecl's name so the output doubles as a map of
// function_pcs.
func Disassemble(prog *Program) string {
	entryNames := map[int]string{}
	for _, fd := range prog.FuncByIdx {
		if fd != nil {
			entryNames[fd.EntryPC] = fd.Name
		}
	}

	var b strings.Builder
	pc := 0
	for pc < len(prog.Code) {
		if name, ok := entryNames[pc]; ok {
			fmt.Fprintf(&b, "%s\n", ascii.Color(ascii.DefaultTheme.Label, "; func %s", name))
		}
		if pc == prog.InitEnd {
			fmt.Fprintf(&b, "%s\n", ascii.Color(ascii.DefaultTheme.Comment, "; --- end of global init ---"))
		}
		op := Op(prog.Code[pc])
		width := operandWidth(op)
		fmt.Fprintf(&b, "%04d  %s", pc, ascii.Color(ascii.DefaultTheme.Operator, "%-14s", op.String()))
		b.WriteString(disasmOperands(prog, op, pc))
		b.WriteString("\n")
		pc += 1 + width
	}
	return b.String()
}

func disasmOperands(prog *Program, op Op, pc int) string {
	at := pc + 1
	switch op {
	case OpPushNumber:
		idx := readU32At(prog.Code, at)
		return ascii.Color(ascii.DefaultTheme.Literal, "%g", prog.Numbers[idx])
	case OpPushString:
		idx := readU32At(prog.Code, at)
		return ascii.Color(ascii.DefaultTheme.Literal, "%q", prog.Strings[idx])
	case OpPushChar:
		return ascii.Color(ascii.DefaultTheme.Literal, "%q", rune(prog.Code[at]))
	case OpLoadLocal, OpStoreLocal, OpLoadArg, OpStoreArg:
		return ascii.Color(ascii.DefaultTheme.Operand, "%d", int32(readU32At(prog.Code, at)))
	case OpLoadGlobal, OpStoreGlobal, OpNewArray, OpFieldGet, OpFieldSet:
		return ascii.Color(ascii.DefaultTheme.Operand, "%d", readU32At(prog.Code, at))
	case OpNewStruct:
		size := readU32At(prog.Code, at)
		nameIdx := readU32At(prog.Code, at+4)
		return ascii.Color(ascii.DefaultTheme.Operand, "%s(%d)", prog.Strings[nameIdx], size)
	case OpJump, OpJumpIfFalse:
		return ascii.Color(ascii.DefaultTheme.Span, "-> %04d", readU32At(prog.Code, at))
	case OpCall:
		idx := readU32At(prog.Code, at)
		argc := prog.Code[at+4]
		name := "?"
		if int(idx) < len(prog.FuncByIdx) && prog.FuncByIdx[idx] != nil {
			name = prog.FuncByIdx[idx].Name
		}
		return ascii.Color(ascii.DefaultTheme.Operand, "%s(%d args)", name, argc)
	case OpCallExtern:
		return ascii.Color(ascii.DefaultTheme.Operand, "extern#%d(%d args)", prog.Code[at], prog.Code[at+1])
	case OpCallDynamic:
		return ascii.Color(ascii.DefaultTheme.Operand, "(%d args)", prog.Code[at])
	case OpFile:
		idx := readU32At(prog.Code, at)
		return ascii.Color(ascii.DefaultTheme.Comment, "%q", prog.Strings[idx])
	case OpLine:
		return ascii.Color(ascii.DefaultTheme.Comment, "%d", readU32At(prog.Code, at))
	default:
		return ""
	}
}

func readU32At(code []byte, at int) uint32 {
	return uint32(code[at]) | uint32(code[at+1])<<8 | uint32(code[at+2])<<16 | uint32(code[at+3])<<24
}
