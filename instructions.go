package tinyscript

import "fmt"

// Op is a bytecode opcode (spec §4.5). Every instruction is one byte of
// opcode followed by a fixed, opcode-dependent number of little-endian
// immediate bytes -- the same fixed-width encoding discipline the
// teacher's vm_encoder.go used for PEG instructions, generalized to
// tinyscript's operand shapes.
type Op byte

const (
	OpNop Op = iota

	// stack push
	OpPushNull
	OpPushTrue
	OpPushFalse
	OpPushNumber // imm: uint32 index into Program.Numbers
	OpPushString // imm: uint32 constant-pool index
	OpPushChar   // imm: 1 byte literal

	// locals / globals / arguments
	OpLoadLocal  // imm: int32 frame-relative offset
	OpStoreLocal // imm: int32 frame-relative offset
	OpLoadGlobal // imm: uint32 global index
	OpStoreGlobal
	OpLoadArg
	OpStoreArg

	// arithmetic / comparison / logic
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpLt
	OpGt
	OpLte
	OpGte
	OpEq
	OpNeq
	OpAnd
	OpOr
	OpNeg
	OpNot

	// composite construction / access
	OpNewArray  // imm: uint32 element count, pops that many, pushes one Array handle
	OpNewStruct // imm: uint32 struct size, uint32 type-name constant-pool index; pops Size values (init order), pushes one Struct handle
	OpIndexGet
	OpIndexSet
	OpFieldGet // imm: uint32 member index
	OpFieldSet // imm: uint32 member index
	OpLen

	// control flow
	OpJump       // imm: int32 absolute PC
	OpJumpIfFalse
	OpPop
	OpDup

	// calls
	OpCall     // imm: uint32 function global index, uint8 argc
	OpCallExtern
	OpCallDynamic // imm: uint8 argc; callee Func value is on the stack below the args
	OpReturn
	OpReturnVoid

	// I/O
	OpRead
	OpWrite

	// atomic sections (spec §4.7 atomic_depth)
	OpAtomicEnter
	OpAtomicExit

	// debug info (spec §4.5: "FILE/LINE debug opcodes")
	OpFile // imm: uint32 constant-pool index of the file name
	OpLine // imm: uint32 source line

	OpHalt
)

var opNames = map[Op]string{
	OpNop: "NOP", OpPushNull: "PUSH_NULL", OpPushTrue: "PUSH_TRUE", OpPushFalse: "PUSH_FALSE",
	OpPushNumber: "PUSH_NUMBER", OpPushString: "PUSH_STRING", OpPushChar: "PUSH_CHAR",
	OpLoadLocal: "LOAD_LOCAL", OpStoreLocal: "STORE_LOCAL", OpLoadGlobal: "LOAD_GLOBAL",
	OpStoreGlobal: "STORE_GLOBAL", OpLoadArg: "LOAD_ARG", OpStoreArg: "STORE_ARG",
	OpAdd: "ADD", OpSub: "SUB", OpMul: "MUL", OpDiv: "DIV", OpMod: "MOD",
	OpLt: "LT", OpGt: "GT", OpLte: "LTE", OpGte: "GTE", OpEq: "EQ", OpNeq: "NEQ",
	OpAnd: "AND", OpOr: "OR", OpNeg: "NEG", OpNot: "NOT",
	OpNewArray: "NEW_ARRAY", OpNewStruct: "NEW_STRUCT", OpIndexGet: "INDEX_GET",
	OpIndexSet: "INDEX_SET", OpFieldGet: "FIELD_GET", OpFieldSet: "FIELD_SET", OpLen: "LEN",
	OpJump: "JUMP", OpJumpIfFalse: "JUMP_IF_FALSE", OpPop: "POP", OpDup: "DUP",
	OpCall: "CALL", OpCallExtern: "CALL_EXTERN", OpCallDynamic: "CALL_DYNAMIC",
	OpReturn: "RETURN", OpReturnVoid: "RETURN_VOID",
	OpRead: "READ", OpWrite: "WRITE",
	OpAtomicEnter: "ATOMIC_ENTER", OpAtomicExit: "ATOMIC_EXIT",
	OpFile: "FILE", OpLine: "LINE", OpHalt: "HALT",
}

func (op Op) String() string {
	if n, ok := opNames[op]; ok {
		return n
	}
	return fmt.Sprintf("OP(%d)", op)
}

// operandWidth returns the number of immediate bytes following the
// opcode byte, used by both the emitter's patch-fixups and the
// disassembler's instruction-length walk.
func operandWidth(op Op) int {
	switch op {
	case OpNewStruct:
		return 8 // uint32 size + uint32 type-name constant-pool index
	case OpPushNumber, OpPushString, OpLoadGlobal, OpStoreGlobal, OpNewArray,
		OpFieldGet, OpFieldSet, OpJump, OpJumpIfFalse, OpFile, OpLine:
		return 4
	case OpLoadLocal, OpStoreLocal, OpLoadArg, OpStoreArg:
		return 4
	case OpPushChar:
		return 1
	case OpCall:
		return 5 // uint32 func index + uint8 argc
	case OpCallExtern:
		return 2 // uint8 extern index + uint8 argc
	case OpCallDynamic:
		return 1
	default:
		return 0
	}
}
