package tinyscript

import "strings"

// TagKind is the variant discriminator of a static Type (spec §3 Type
// Tag).
type TagKind int

const (
	KVoid TagKind = iota
	KDynamic
	KBool
	KChar
	KNumber
	KString
	KNative
	KFunc
	KArray
	KStruct
	KUnknown
)

func (k TagKind) String() string {
	switch k {
	case KVoid:
		return "void"
	case KDynamic:
		return "dynamic"
	case KBool:
		return "bool"
	case KChar:
		return "char"
	case KNumber:
		return "number"
	case KString:
		return "string"
	case KNative:
		return "native"
	case KFunc:
		return "func"
	case KArray:
		return "array"
	case KStruct:
		return "struct"
	case KUnknown:
		return "unknown"
	default:
		return "?"
	}
}

// StructMember is one member of a Struct type tag: name, declaration
// order (= layout index for structs, always 0 for unions), static
// type, and an optional default-value expression.
type StructMember struct {
	Name    string
	Index   int
	Type    *Type
	Default Expr
}

// UsingClause records one `using T` composite, in source order, so
// FinalizeStruct can flatten in the order SPEC_FULL.md §3 pins down.
type UsingClause struct {
	Name string
	Type *Type // resolved lazily; nil until the named struct is declared
}

// Type is the static type tag described by spec §3/§4.3. Array and
// Func tags compare structurally; Struct tags compare nominally (by
// Name) via Equal, regardless of pointer identity, though the type
// registry (see module.go) also interns structs by name so pointer
// identity holds in practice.
type Type struct {
	Kind TagKind

	// Func
	ArgTypes []*Type
	RetType  *Type

	// Array
	Elem *Type

	// Struct / Union
	Name      string
	IsUnion   bool
	Members   []*StructMember
	Usings    []UsingClause
	Size      int
	Defined   bool
	Finalized bool
}

func VoidType() *Type    { return &Type{Kind: KVoid} }
func DynamicType() *Type { return &Type{Kind: KDynamic} }
func BoolType() *Type    { return &Type{Kind: KBool} }
func CharType() *Type    { return &Type{Kind: KChar} }
func NumberType() *Type  { return &Type{Kind: KNumber} }
func StringType() *Type  { return &Type{Kind: KString} }
func NativeType() *Type  { return &Type{Kind: KNative} }
func UnknownType() *Type { return &Type{Kind: KUnknown} }

func FuncType(args []*Type, ret *Type) *Type {
	return &Type{Kind: KFunc, ArgTypes: args, RetType: ret}
}

func ArrayType(elem *Type) *Type { return &Type{Kind: KArray, Elem: elem} }

// NewUndefinedStruct creates the placeholder tag `parse_type_tag`
// produces for an unknown name used in a type position (spec §4.3); a
// later `struct`/`union` declaration with the same name must define
// it before compilation can complete.
func NewUndefinedStruct(name string) *Type {
	return &Type{Kind: KStruct, Name: name, Defined: false}
}

// DefineStruct fills in an existing (possibly forward-declared)
// struct/union tag with its members and using-clauses. Unions get
// size 1 with every member at index 0; structs lay members out in
// declaration order starting at 0 (usings are appended after by
// FinalizeStruct).
func (t *Type) DefineStruct(isUnion bool, members []*StructMember, usings []UsingClause) {
	t.IsUnion = isUnion
	t.Defined = true
	t.Usings = usings
	if isUnion {
		for _, m := range members {
			m.Index = 0
		}
		t.Members = members
		t.Size = 1
		return
	}
	for i, m := range members {
		m.Index = i
	}
	t.Members = members
	t.Size = len(members)
}

// FinalizeStruct flattens `using` inclusions: for each `using T`
// clause (in source order), it appends copies of T's members (name
// duplicated, index = tag.size + original index for structs, 0 for
// unions, default-value expression shallow-copied, tag.size
// incremented by T.size). A name collision resolves to the
// last-declared member, matching the original's flat member table
// (SPEC_FULL.md §3).
func (t *Type) FinalizeStruct() error {
	if t.Finalized {
		return nil
	}
	if !t.Defined {
		return TypeError{Message: "struct `" + t.Name + "` is used but never defined"}
	}
	byName := map[string]int{}
	for i, m := range t.Members {
		byName[m.Name] = i
	}
	for _, u := range t.Usings {
		if u.Type == nil {
			return TypeError{Message: "using clause `" + u.Name + "` refers to an unknown struct"}
		}
		if err := u.Type.FinalizeStruct(); err != nil {
			return err
		}
		for _, srcMember := range u.Type.Members {
			idx := 0
			if !t.IsUnion {
				idx = t.Size
			}
			dup := &StructMember{
				Name:    srcMember.Name,
				Index:   idx,
				Type:    srcMember.Type,
				Default: shallowCopyExpr(srcMember.Default),
			}
			if existing, ok := byName[dup.Name]; ok {
				t.Members[existing] = dup
			} else {
				byName[dup.Name] = len(t.Members)
				t.Members = append(t.Members, dup)
			}
			if !t.IsUnion {
				t.Size++
			}
		}
	}
	if t.IsUnion {
		t.Size = 1
	}
	t.Finalized = true
	return nil
}

// Member looks up a struct member by name.
func (t *Type) Member(name string) (*StructMember, bool) {
	for _, m := range t.Members {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// TypesEqual implements spec §4.3's equality rules.
func TypesEqual(a, b *Type) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind == KDynamic && b.Kind != KVoid {
		return true
	}
	if b.Kind == KDynamic && a.Kind != KVoid {
		return true
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KFunc:
		if !TypesEqual(a.RetType, b.RetType) || len(a.ArgTypes) != len(b.ArgTypes) {
			return false
		}
		for i := range a.ArgTypes {
			if !TypesEqual(a.ArgTypes[i], b.ArgTypes[i]) {
				return false
			}
		}
		return true
	case KArray:
		// array-of-dynamic <-> array-of-specific compares equal (with a
		// warning emitted by the resolver, not here).
		return TypesEqual(a.Elem, b.Elem)
	case KStruct:
		return a.Name == b.Name
	default:
		return true
	}
}

// IsArrayDynamicPromotion reports whether assigning a value of type
// `from` to a slot of type `to` is the specific warning case "array
// dynamic literal assigned to array-specific" (spec §4.4).
func IsArrayDynamicPromotion(from, to *Type) bool {
	if from == nil || to == nil || from.Kind != KArray || to.Kind != KArray {
		return false
	}
	return from.Elem.Kind == KDynamic && to.Elem.Kind != KDynamic
}

func (t *Type) String() string {
	switch t.Kind {
	case KFunc:
		parts := make([]string, len(t.ArgTypes))
		for i, a := range t.ArgTypes {
			parts[i] = a.String()
		}
		return "func(" + strings.Join(parts, ", ") + ") - " + t.RetType.String()
	case KArray:
		return "array - " + t.Elem.String()
	case KStruct:
		return t.Name
	default:
		return t.Kind.String()
	}
}
