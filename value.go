package tinyscript

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueTag is the tag of the Value sum type (spec §3).
type ValueTag int

const (
	TagNull ValueTag = iota
	TagBool
	TagChar
	TagNumber
	TagString
	TagFunc
	TagArray
	TagStruct
	TagNative
)

func (t ValueTag) String() string {
	switch t {
	case TagNull:
		return "null"
	case TagBool:
		return "bool"
	case TagChar:
		return "char"
	case TagNumber:
		return "number"
	case TagString:
		return "string"
	case TagFunc:
		return "func"
	case TagArray:
		return "array"
	case TagStruct:
		return "struct"
	case TagNative:
		return "native"
	default:
		return "unknown"
	}
}

// FuncValue names a callable: either an internal function (Index is a
// global function index resolved through the VM's function_pcs table)
// or an extern (Index is an index into the extern registry).
type FuncValue struct {
	IsExtern bool
	Index    int32
}

func (f FuncValue) Equal(o FuncValue) bool { return f.IsExtern == o.IsExtern && f.Index == o.Index }

// Native wraps an opaque host-language payload. OnMark is invoked by
// the GC's mark phase so a Native can keep its own referents alive;
// OnDelete is invoked by sweep so it can free non-GC resources.
type Native struct {
	Ptr      any
	OnMark   func(h *Heap, n *Native)
	OnDelete func(n *Native)
}

// Value is the tagged sum described by spec §3. Only one of the
// payload fields is meaningful for a given Tag. Values are never
// copied by the VM once allocated -- they are always referred to
// through a Handle -- so the struct itself may be comfortably large.
type Value struct {
	Tag ValueTag

	B   bool
	Ch  byte
	Num float64
	Str string
	Fn  FuncValue
	Arr []Handle
	Sct []Handle
	Nat *Native

	// StructTag is the declaring struct/union's name, stamped by
	// OpNewStruct. Two struct values only ever compare equal (spec §8
	// Testable Property 3: "two `new T{}` and `new U{}` with identical
	// shapes do not [compare equal]") when this tag also matches --
	// shape alone is not enough.
	StructTag string

	marked bool
	next   Handle
	inUse  bool
}

// Handle is an opaque, stable reference to a heap-allocated Value:
// (block index, slot index). It remains valid for the Value's
// lifetime regardless of heap growth, per spec §3's invariant that a
// value's heap-block index uniquely identifies its slot for its
// lifetime.
type Handle struct {
	Block int32
	Slot  int32
}

// NullHandle is the sentinel for "no value" -- used as the live-list
// terminator and as the zero Handle.
var NullHandle = Handle{Block: -1, Slot: -1}

func (h Handle) IsNull() bool { return h.Block < 0 }

// Singleton handles for null/true/false. These live outside the GC
// (spec §3): they are never allocated from a heap block and the
// sweeper must never free them.
var (
	NullSingleton  = Handle{Block: -2, Slot: 0}
	TrueSingleton  = Handle{Block: -2, Slot: 1}
	FalseSingleton = Handle{Block: -2, Slot: 2}
)

func isSingleton(h Handle) bool { return h.Block == -2 }

var singletonValues = map[Handle]*Value{
	NullSingleton:  {Tag: TagNull},
	TrueSingleton:  {Tag: TagBool, B: true},
	FalseSingleton: {Tag: TagBool, B: false},
}

// FormatValue renders a Value the way the original script.c's
// PrintValue does: Number with %g, String/Char raw, Array/Struct
// component-wise in brackets, Null/Bool as bare words (spec
// SPEC_FULL.md §3 "write formatting").
func FormatValue(h *Heap, handle Handle) string {
	v := h.Get(handle)
	switch v.Tag {
	case TagNull:
		return "null"
	case TagBool:
		if v.B {
			return "true"
		}
		return "false"
	case TagChar:
		return string(rune(v.Ch))
	case TagNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case TagString:
		return v.Str
	case TagFunc:
		if v.Fn.IsExtern {
			return fmt.Sprintf("<extern func %d>", v.Fn.Index)
		}
		return fmt.Sprintf("<func %d>", v.Fn.Index)
	case TagArray:
		parts := make([]string, len(v.Arr))
		for i, e := range v.Arr {
			parts[i] = FormatValue(h, e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case TagStruct:
		parts := make([]string, len(v.Sct))
		for i, e := range v.Sct {
			parts[i] = FormatValue(h, e)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case TagNative:
		return "<native>"
	default:
		return "<?>"
	}
}

// QuotedValue is used by call-record traces (spec §7: "Trace entries
// show function name and the actual argument values (quoted
// strings)").
func QuotedValue(h *Heap, handle Handle) string {
	v := h.Get(handle)
	if v.Tag == TagString {
		return strconv.Quote(v.Str)
	}
	return FormatValue(h, handle)
}

// ValuesEqual implements spec §4.6's equality rules: structural for
// Array and Struct, by-name (pointer identity after struct dedup) for
// Native, value-equal for scalars, and (is_extern, index) comparison
// for Func.
func ValuesEqual(h *Heap, a, b Handle) bool {
	if a == b {
		return true
	}
	av, bv := h.Get(a), h.Get(b)
	if av.Tag != bv.Tag {
		return false
	}
	switch av.Tag {
	case TagNull:
		return true
	case TagBool:
		return av.B == bv.B
	case TagChar:
		return av.Ch == bv.Ch
	case TagNumber:
		return av.Num == bv.Num
	case TagString:
		return av.Str == bv.Str
	case TagFunc:
		return av.Fn.Equal(bv.Fn)
	case TagNative:
		return av.Nat == bv.Nat
	case TagArray:
		if len(av.Arr) != len(bv.Arr) {
			return false
		}
		for i := range av.Arr {
			if !ValuesEqual(h, av.Arr[i], bv.Arr[i]) {
				return false
			}
		}
		return true
	case TagStruct:
		if av.StructTag != bv.StructTag {
			return false
		}
		if len(av.Sct) != len(bv.Sct) {
			return false
		}
		for i := range av.Sct {
			if !ValuesEqual(h, av.Sct[i], bv.Sct[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
