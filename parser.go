package tinyscript

import "fmt"

// Parser is a recursive-descent parser over one module's token stream.
// It declares symbols as a side effect of parsing (spec §4.2): each
// `var`/`func`/`extern`/`struct` item creates its VarDecl/FuncDecl/Type
// immediately, including local-slot offset assignment, so that by the
// time parsing finishes every declaration site already has its decl
// object. Identifier *references* are left unresolved (VarExpr.Decl
// stays nil) -- binding those is the resolver's job, done by a second,
// independent walk that reconstructs scope visibility structurally.
type Parser struct {
	reg *ModuleRegistry
	mod *Module
	lex *Lexer

	cur, nxt Token

	curFunc *FuncDecl
}

func newParser(reg *ModuleRegistry, mod *Module) (*Parser, error) {
	p := &Parser{reg: reg, mod: mod, lex: NewLexer(mod.LocalPath, mod.Source)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Parser) advance() error {
	p.cur = p.nxt
	tok, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.nxt = tok
	return nil
}

func (p *Parser) at(k TokenKind) bool { return p.cur.Kind == k }

func (p *Parser) atEOF() bool { return p.cur.Kind == TokEOF }

func (p *Parser) expect(k TokenKind, what string) (Token, error) {
	if p.cur.Kind != k {
		return Token{}, ParseError{Expected: what, Actual: tokenDesc(p.cur), At: p.cur.Span.Start}
	}
	t := p.cur
	if err := p.advance(); err != nil {
		return Token{}, err
	}
	return t, nil
}

func (p *Parser) eat(k TokenKind) (bool, error) {
	if p.cur.Kind != k {
		return false, nil
	}
	if err := p.advance(); err != nil {
		return false, err
	}
	return true, nil
}

func tokenDesc(t Token) string {
	switch t.Kind {
	case TokEOF:
		return "end of file"
	case TokIdent:
		return fmt.Sprintf("identifier `%s`", t.Text)
	case TokDirective:
		return fmt.Sprintf("#%s", t.Text)
	default:
		if t.Text != "" {
			return fmt.Sprintf("`%s`", t.Text)
		}
		return "token"
	}
}

// ParseModule parses mod's source, recursing into every `#import` it
// finds (spec §4.8). A module already marked Parsed is never
// re-parsed, which both deduplicates diamond imports and guards
// against import cycles.
func ParseModule(reg *ModuleRegistry, mod *Module) error {
	if mod.Parsed {
		return nil
	}
	mod.Parsed = true

	p, err := newParser(reg, mod)
	if err != nil {
		return err
	}
	for !p.atEOF() {
		expr, err := p.parseTopLevel()
		if err != nil {
			return err
		}
		if expr != nil {
			mod.AST = append(mod.AST, expr)
		}
	}
	return nil
}

func (p *Parser) parseTopLevel() (Expr, error) {
	switch {
	case p.at(TokDirective) && p.cur.Text == "import":
		return p.parseImport()
	case p.at(TokDirective) && p.cur.Text == "on_compile":
		return p.parseOnCompile()
	case p.at(TokExtern):
		return nil, p.parseExternTop()
	case p.at(TokFunc):
		fd, err := p.parseFuncDecl(false, "")
		if err != nil {
			return nil, err
		}
		return fd, nil
	case p.at(TokStruct):
		return p.parseStructDecl(false)
	case p.at(TokUnion):
		return p.parseStructDecl(true)
	case p.at(TokVar):
		return p.parseVarDecl()
	default:
		return nil, ParseError{Expected: "a top-level declaration", Actual: tokenDesc(p.cur), At: p.cur.Span.Start}
	}
}

func (p *Parser) parseImport() (Expr, error) {
	start := p.cur.Span.Start
	if err := p.advance(); err != nil { // consume `#import`
		return nil, err
	}
	str, err := p.expect(TokString, "a string literal import path")
	if err != nil {
		return nil, err
	}
	if _, err := p.eat(TokSemi); err != nil {
		return nil, err
	}
	imported, err := p.reg.Load(str.Str, p.mod.LocalPath)
	if err != nil {
		return nil, ParseError{Expected: "a resolvable import path", Actual: str.Str, At: str.Span.Start}
	}
	p.mod.References = append(p.mod.References, imported.Index)
	if err := ParseModule(p.reg, imported); err != nil {
		return nil, err
	}
	return &ImportDirective{
		ExprBase:    ExprBase{Sp: Span{Start: start, End: str.Span.End}},
		Path:        str.Str,
		ModuleIndex: imported.Index,
	}, nil
}

// parseOnCompile parses `#on_compile <stmt>`, accepting either a brace
// block or a single statement terminated by `;` (spec §4.9).
func (p *Parser) parseOnCompile() (Expr, error) {
	start := p.cur.Span.Start
	if err := p.advance(); err != nil {
		return nil, err
	}
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	d := &OnCompileDirective{ExprBase: ExprBase{Sp: Span{Start: start, End: body.Pos().End}}, Body: body}
	p.mod.CompileTimeBlock = append(p.mod.CompileTimeBlock, d)
	return d, nil
}

// ---- extern ----

func (p *Parser) parseExternTop() error {
	start := p.cur.Span.Start
	if err := p.advance(); err != nil { // consume `extern`
		return err
	}
	if ok, err := p.eat(TokLBrace); err != nil {
		return err
	} else if ok {
		for !p.at(TokRBrace) {
			if err := p.parseOneExtern(start); err != nil {
				return err
			}
		}
		_, err := p.expect(TokRBrace, "`}`")
		return err
	}
	return p.parseOneExtern(start)
}

func (p *Parser) parseOneExtern(start Location) error {
	name, err := p.expect(TokIdent, "an extern function name")
	if err != nil {
		return err
	}
	params, err := p.parseParamList()
	if err != nil {
		return err
	}
	ret := VoidType()
	if ok, err := p.eat(TokColon); err != nil {
		return err
	} else if ok {
		ret, err = p.parseType()
		if err != nil {
			return err
		}
	}
	if _, err := p.expect(TokSemi, "`;`"); err != nil {
		return err
	}

	decl := &FuncDecl{
		Name:        name.Text,
		Kind:        FuncKindExtern,
		Type:        FuncType(paramTypes(params), ret),
		ModuleIndex: p.mod.Index,
		ExternIndex: -1,
	}
	p.mod.Functions = append(p.mod.Functions, decl)
	p.mod.AST = append(p.mod.AST, &ExternDeclExpr{
		ExprBase: ExprBase{Sp: Span{Start: start, End: p.cur.Span.Start}},
		Name:     name.Text,
		Params:   params,
		RetType:  ret,
		Decl:     decl,
	})
	return nil
}

func paramTypes(params []Param) []*Type {
	out := make([]*Type, len(params))
	for i, pr := range params {
		out[i] = pr.Type
	}
	return out
}

func (p *Parser) parseParamList() ([]Param, error) {
	if _, err := p.expect(TokLParen, "`(`"); err != nil {
		return nil, err
	}
	var params []Param
	for !p.at(TokRParen) {
		if len(params) > 0 {
			if _, err := p.expect(TokComma, "`,`"); err != nil {
				return nil, err
			}
		}
		name, err := p.expect(TokIdent, "a parameter name")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokColon, "`:`"); err != nil {
			return nil, err
		}
		ty, err := p.parseType()
		if err != nil {
			return nil, err
		}
		params = append(params, Param{Name: name.Text, Type: ty})
	}
	if _, err := p.expect(TokRParen, "`)`"); err != nil {
		return nil, err
	}
	return params, nil
}

// ---- func ----

// parseFuncDecl parses `[static] func name(params): Ret { body }`.
// receiverType is non-empty when called while parsing a struct body,
// in which case the function is desugared to a free function named
// `Struct_name` with a synthesized `self: Struct` first parameter
// (unless IsStatic).
func (p *Parser) parseFuncDecl(isStatic bool, receiverType string) (*FuncDeclExpr, error) {
	start := p.cur.Span.Start
	if _, err := p.expect(TokFunc, "`func`"); err != nil {
		return nil, err
	}
	name, err := p.expect(TokIdent, "a function name")
	if err != nil {
		return nil, err
	}
	isMethod := receiverType != "" && !isStatic
	fullName := name.Text
	if receiverType != "" {
		fullName = receiverType + "_" + name.Text
	}

	decl := &FuncDecl{Name: fullName, Kind: FuncKindFunction, ModuleIndex: p.mod.Index}
	prevFunc := p.curFunc
	p.curFunc = decl

	params, err := p.parseParamList()
	if err != nil {
		p.curFunc = prevFunc
		return nil, err
	}
	if isMethod {
		selfParam := Param{Name: "self", Type: p.reg.StructTag(receiverType)}
		params = append([]Param{selfParam}, params...)
	}
	for i, pr := range params {
		argDecl := &VarDecl{Name: pr.Name, Type: pr.Type, ParentFunc: decl, IsArg: true, Offset: i - len(params)}
		decl.Args = append(decl.Args, argDecl)
	}

	ret := VoidType()
	if ok, err := p.eat(TokColon); err != nil {
		p.curFunc = prevFunc
		return nil, err
	} else if ok {
		ret, err = p.parseType()
		if err != nil {
			p.curFunc = prevFunc
			return nil, err
		}
	}
	decl.Type = FuncType(paramTypes(params), ret)

	body, err := p.parseBlockBody()
	if err != nil {
		p.curFunc = prevFunc
		return nil, err
	}
	p.curFunc = prevFunc
	decl.bodyAST = body

	p.mod.Functions = append(p.mod.Functions, decl)
	return &FuncDeclExpr{
		ExprBase:     ExprBase{Sp: Span{Start: start, End: p.cur.Span.Start}},
		Name:         fullName,
		Params:       params,
		RetType:      ret,
		Body:         body,
		Decl:         decl,
		IsMethod:     isMethod,
		ReceiverType: receiverType,
		IsStatic:     isStatic,
	}, nil
}

// ---- struct / union ----

func (p *Parser) parseStructDecl(isUnion bool) (Expr, error) {
	start := p.cur.Span.Start
	if err := p.advance(); err != nil { // consume `struct`/`union`
		return nil, err
	}
	name, err := p.expect(TokIdent, "a struct name")
	if err != nil {
		return nil, err
	}
	tag := p.reg.StructTag(name.Text)
	if _, err := p.expect(TokLBrace, "`{`"); err != nil {
		return nil, err
	}

	var members []StructMemberDeclExpr
	var methods []*FuncDeclExpr
	for !p.at(TokRBrace) {
		switch {
		case p.at(TokUsing):
			if err := p.advance(); err != nil {
				return nil, err
			}
			uname, err := p.expect(TokIdent, "a struct name after `using`")
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokSemi, "`;`"); err != nil {
				return nil, err
			}
			members = append(members, StructMemberDeclExpr{IsUsing: true, UsingType: p.reg.StructTag(uname.Text)})
		case p.at(TokStatic) || p.at(TokFunc):
			isStatic, err := p.eat(TokStatic)
			if err != nil {
				return nil, err
			}
			fd, err := p.parseFuncDecl(isStatic, name.Text)
			if err != nil {
				return nil, err
			}
			methods = append(methods, fd)
		default:
			fname, err := p.expect(TokIdent, "a field name")
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokColon, "`:`"); err != nil {
				return nil, err
			}
			fty, err := p.parseType()
			if err != nil {
				return nil, err
			}
			var def Expr
			if ok, err := p.eat(TokAssign); err != nil {
				return nil, err
			} else if ok {
				def, err = p.parseExpr()
				if err != nil {
					return nil, err
				}
			}
			if _, err := p.expect(TokSemi, "`;`"); err != nil {
				return nil, err
			}
			members = append(members, StructMemberDeclExpr{Name: fname.Text, Type: fty, Default: def})
		}
	}
	if _, err := p.expect(TokRBrace, "`}`"); err != nil {
		return nil, err
	}

	var fields []*StructMember
	var usings []UsingClause
	for _, m := range members {
		if m.IsUsing {
			usings = append(usings, UsingClause{Name: m.UsingType.Name, Type: m.UsingType})
			continue
		}
		fields = append(fields, &StructMember{Name: m.Name, Type: m.Type, Default: m.Default})
	}
	tag.DefineStruct(isUnion, fields, usings)

	for _, fd := range methods {
		p.mod.AST = append(p.mod.AST, fd)
	}

	return &StructDeclExpr{
		ExprBase: ExprBase{Sp: Span{Start: start, End: p.cur.Span.Start}},
		Name:     name.Text,
		IsUnion:  isUnion,
		Members:  members,
		Methods:  methods,
		Decl:     tag,
	}, nil
}

// ---- var ----

func (p *Parser) parseVarDecl() (Expr, error) {
	start := p.cur.Span.Start
	if err := p.advance(); err != nil { // consume `var`
		return nil, err
	}
	name, err := p.expect(TokIdent, "a variable name")
	if err != nil {
		return nil, err
	}
	var ann *Type
	if ok, err := p.eat(TokColon); err != nil {
		return nil, err
	} else if ok {
		ann, err = p.parseType()
		if err != nil {
			return nil, err
		}
	}
	var init Expr
	if ok, err := p.eat(TokAssign); err != nil {
		return nil, err
	} else if ok {
		init, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(TokSemi, "`;`"); err != nil {
		return nil, err
	}

	declType := ann
	if declType == nil {
		declType = UnknownType()
	}
	decl := &VarDecl{Name: name.Text, Type: declType, initExpr: init}
	if p.curFunc != nil {
		decl.ParentFunc = p.curFunc
		p.curFunc.allocLocal(decl)
	} else {
		decl.IsGlobal = true
		decl.ModuleIndex = p.mod.Index
		decl.Offset = len(p.mod.Globals)
		p.mod.Globals = append(p.mod.Globals, decl)
	}

	return &VarDeclExpr{
		ExprBase: ExprBase{Sp: Span{Start: start, End: p.cur.Span.Start}},
		Name:     name.Text,
		Ann:      ann,
		Init:     init,
		Decl:     decl,
	}, nil
}

// ---- types ----

// parseType parses a static type annotation (spec §3/§4.3). Struct/union
// names are interned lazily through the registry, matching
// `parse_type_tag`'s behavior of creating an undefined placeholder the
// first time a name is used in a type position.
func (p *Parser) parseType() (*Type, error) {
	name, err := p.expect(TokIdent, "a type name")
	if err != nil {
		return nil, err
	}
	switch name.Text {
	case "void":
		return VoidType(), nil
	case "dynamic":
		return DynamicType(), nil
	case "bool":
		return BoolType(), nil
	case "char":
		return CharType(), nil
	case "number":
		return NumberType(), nil
	case "string":
		return StringType(), nil
	case "native":
		return NativeType(), nil
	case "array":
		elem, err := p.parseType()
		if err != nil {
			return nil, err
		}
		return ArrayType(elem), nil
	default:
		return p.reg.StructTag(name.Text), nil
	}
}

// ---- statements ----

func (p *Parser) parseBlockBody() ([]Expr, error) {
	if _, err := p.expect(TokLBrace, "`{`"); err != nil {
		return nil, err
	}
	var body []Expr
	for !p.at(TokRBrace) {
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		body = append(body, stmt)
	}
	if _, err := p.expect(TokRBrace, "`}`"); err != nil {
		return nil, err
	}
	return body, nil
}

func (p *Parser) parseStatement() (Expr, error) {
	switch {
	case p.at(TokLBrace):
		start := p.cur.Span.Start
		body, err := p.parseBlockBody()
		if err != nil {
			return nil, err
		}
		return &BlockExpr{ExprBase: ExprBase{Sp: Span{Start: start, End: p.cur.Span.Start}}, Body: body}, nil
	case p.at(TokAtomic):
		start := p.cur.Span.Start
		if err := p.advance(); err != nil {
			return nil, err
		}
		body, err := p.parseBlockBody()
		if err != nil {
			return nil, err
		}
		return &AtomicExpr{ExprBase: ExprBase{Sp: Span{Start: start, End: p.cur.Span.Start}}, Body: body}, nil
	case p.at(TokIf):
		return p.parseIf()
	case p.at(TokWhile):
		return p.parseWhile()
	case p.at(TokFor):
		return p.parseFor()
	case p.at(TokReturn):
		return p.parseReturn()
	case p.at(TokVar):
		return p.parseVarDecl()
	case p.at(TokWrite):
		start := p.cur.Span.Start
		if err := p.advance(); err != nil {
			return nil, err
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokSemi, "`;`"); err != nil {
			return nil, err
		}
		return &WriteExpr{ExprBase: ExprBase{Sp: Span{Start: start, End: p.cur.Span.Start}}, Value: v}, nil
	default:
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokSemi, "`;`"); err != nil {
			return nil, err
		}
		return e, nil
	}
}

func (p *Parser) parseIf() (Expr, error) {
	start := p.cur.Span.Start
	if err := p.advance(); err != nil { // `if`
		return nil, err
	}
	if _, err := p.expect(TokLParen, "`(`"); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokRParen, "`)`"); err != nil {
		return nil, err
	}
	then, err := p.parseBlockBody()
	if err != nil {
		return nil, err
	}
	var els []Expr
	if ok, err := p.eat(TokElse); err != nil {
		return nil, err
	} else if ok {
		if p.at(TokIf) {
			nested, err := p.parseIf()
			if err != nil {
				return nil, err
			}
			els = []Expr{nested}
		} else {
			els, err = p.parseBlockBody()
			if err != nil {
				return nil, err
			}
		}
	}
	return &IfExpr{ExprBase: ExprBase{Sp: Span{Start: start, End: p.cur.Span.Start}}, Cond: cond, Then: then, Else: els}, nil
}

func (p *Parser) parseWhile() (Expr, error) {
	start := p.cur.Span.Start
	if err := p.advance(); err != nil { // `while`
		return nil, err
	}
	if _, err := p.expect(TokLParen, "`(`"); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokRParen, "`)`"); err != nil {
		return nil, err
	}
	body, err := p.parseBlockBody()
	if err != nil {
		return nil, err
	}
	return &WhileExpr{ExprBase: ExprBase{Sp: Span{Start: start, End: p.cur.Span.Start}}, Cond: cond, Body: body}, nil
}

// parseFor parses `for init, cond, step { body }` (spec §4.2: comma
// separated clauses, no enclosing parens).
func (p *Parser) parseFor() (Expr, error) {
	start := p.cur.Span.Start
	if err := p.advance(); err != nil { // `for`
		return nil, err
	}
	var init Expr
	var err error
	if p.at(TokVar) {
		init, err = p.parseVarDeclNoSemi()
	} else {
		init, err = p.parseExpr()
	}
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokComma, "`,`"); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokComma, "`,`"); err != nil {
		return nil, err
	}
	step, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlockBody()
	if err != nil {
		return nil, err
	}
	return &ForExpr{
		ExprBase: ExprBase{Sp: Span{Start: start, End: p.cur.Span.Start}},
		Init:     init, Cond: cond, Step: step, Body: body,
	}, nil
}

// parseVarDeclNoSemi parses a `var` clause without a trailing `;`, for
// use as a for-loop init clause.
func (p *Parser) parseVarDeclNoSemi() (Expr, error) {
	start := p.cur.Span.Start
	if err := p.advance(); err != nil { // `var`
		return nil, err
	}
	name, err := p.expect(TokIdent, "a variable name")
	if err != nil {
		return nil, err
	}
	var ann *Type
	if ok, err := p.eat(TokColon); err != nil {
		return nil, err
	} else if ok {
		ann, err = p.parseType()
		if err != nil {
			return nil, err
		}
	}
	var init Expr
	if ok, err := p.eat(TokAssign); err != nil {
		return nil, err
	} else if ok {
		init, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	declType := ann
	if declType == nil {
		declType = UnknownType()
	}
	decl := &VarDecl{Name: name.Text, Type: declType, initExpr: init}
	if p.curFunc != nil {
		decl.ParentFunc = p.curFunc
		p.curFunc.allocLocal(decl)
	} else {
		decl.IsGlobal = true
		decl.ModuleIndex = p.mod.Index
		decl.Offset = len(p.mod.Globals)
		p.mod.Globals = append(p.mod.Globals, decl)
	}
	return &VarDeclExpr{
		ExprBase: ExprBase{Sp: Span{Start: start, End: p.cur.Span.Start}},
		Name:     name.Text, Ann: ann, Init: init, Decl: decl,
	}, nil
}

func (p *Parser) parseReturn() (Expr, error) {
	start := p.cur.Span.Start
	if err := p.advance(); err != nil { // `return`
		return nil, err
	}
	var val Expr
	if !p.at(TokSemi) {
		var err error
		val, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(TokSemi, "`;`"); err != nil {
		return nil, err
	}
	if p.curFunc != nil {
		p.curFunc.HasReturn = true
	}
	return &ReturnExpr{ExprBase: ExprBase{Sp: Span{Start: start, End: p.cur.Span.Start}}, Value: val, InFunc: p.curFunc}, nil
}

// ---- expressions (precedence climbing) ----

func (p *Parser) parseExpr() (Expr, error) { return p.parseAssign() }

func (p *Parser) parseAssign() (Expr, error) {
	left, err := p.parseLogicOr()
	if err != nil {
		return nil, err
	}
	if p.at(TokAssign) {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAssign()
		if err != nil {
			return nil, err
		}
		return &BinExpr{ExprBase: ExprBase{Sp: Span{Start: left.Pos().Start, End: right.Pos().End}}, Op: BinAssign, Left: left, Right: right}, nil
	}
	return left, nil
}

func (p *Parser) parseLogicOr() (Expr, error) {
	left, err := p.parseLogicAnd()
	if err != nil {
		return nil, err
	}
	for p.at(TokOrOr) {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseLogicAnd()
		if err != nil {
			return nil, err
		}
		left = &BinExpr{ExprBase: ExprBase{Sp: Span{Start: left.Pos().Start, End: right.Pos().End}}, Op: BinOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseLogicAnd() (Expr, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for p.at(TokAndAnd) {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = &BinExpr{ExprBase: ExprBase{Sp: Span{Start: left.Pos().Start, End: right.Pos().End}}, Op: BinAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseEquality() (Expr, error) {
	left, err := p.parseRelational()
	if err != nil {
		return nil, err
	}
	for p.at(TokEq) || p.at(TokNeq) {
		op := BinEq
		if p.at(TokNeq) {
			op = BinNeq
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseRelational()
		if err != nil {
			return nil, err
		}
		left = &BinExpr{ExprBase: ExprBase{Sp: Span{Start: left.Pos().Start, End: right.Pos().End}}, Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseRelational() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.at(TokLt) || p.at(TokGt) || p.at(TokLte) || p.at(TokGte) {
		var op BinOp
		switch p.cur.Kind {
		case TokLt:
			op = BinLt
		case TokGt:
			op = BinGt
		case TokLte:
			op = BinLte
		case TokGte:
			op = BinGte
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &BinExpr{ExprBase: ExprBase{Sp: Span{Start: left.Pos().Start, End: right.Pos().End}}, Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.at(TokPlus) || p.at(TokMinus) {
		op := BinAdd
		if p.at(TokMinus) {
			op = BinSub
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinExpr{ExprBase: ExprBase{Sp: Span{Start: left.Pos().Start, End: right.Pos().End}}, Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.at(TokStar) || p.at(TokSlash) || p.at(TokPercent) {
		var op BinOp
		switch p.cur.Kind {
		case TokStar:
			op = BinMul
		case TokSlash:
			op = BinDiv
		case TokPercent:
			op = BinMod
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinExpr{ExprBase: ExprBase{Sp: Span{Start: left.Pos().Start, End: right.Pos().End}}, Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.at(TokMinus) || p.at(TokBang) {
		start := p.cur.Span.Start
		op := UnaryNeg
		if p.at(TokBang) {
			op = UnaryNot
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{ExprBase: ExprBase{Sp: Span{Start: start, End: operand.Pos().End}}, Op: op, Operand: operand}, nil
	}
	if p.at(TokLen) {
		start := p.cur.Span.Start
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &LenExpr{ExprBase: ExprBase{Sp: Span{Start: start, End: operand.Pos().End}}, Operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() (Expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.at(TokDot):
			if err := p.advance(); err != nil {
				return nil, err
			}
			name, err := p.expect(TokIdent, "a field name")
			if err != nil {
				return nil, err
			}
			e = &DotExpr{ExprBase: ExprBase{Sp: Span{Start: e.Pos().Start, End: name.Span.End}}, Receiver: e, Name: name.Text}
		case p.at(TokLBracket):
			if err := p.advance(); err != nil {
				return nil, err
			}
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			end, err := p.expect(TokRBracket, "`]`")
			if err != nil {
				return nil, err
			}
			e = &IndexExpr{ExprBase: ExprBase{Sp: Span{Start: e.Pos().Start, End: end.Span.End}}, Receiver: e, Index: idx}
		case p.at(TokLParen):
			args, end, err := p.parseArgList()
			if err != nil {
				return nil, err
			}
			e = &CallExpr{ExprBase: ExprBase{Sp: Span{Start: e.Pos().Start, End: end}}, Callee: e, Args: args}
		case p.at(TokColon):
			if err := p.advance(); err != nil {
				return nil, err
			}
			mname, err := p.expect(TokIdent, "a method name")
			if err != nil {
				return nil, err
			}
			recv := shallowCopyExpr(e)
			args, end, err := p.parseArgList()
			if err != nil {
				return nil, err
			}
			args = append([]Expr{recv}, args...)
			e = &CallExpr{
				ExprBase: ExprBase{Sp: Span{Start: e.Pos().Start, End: end}},
				Args:     args, IsMethod: true, MethodName: mname.Text,
			}
		default:
			return e, nil
		}
	}
}

func (p *Parser) parseArgList() ([]Expr, Location, error) {
	if _, err := p.expect(TokLParen, "`(`"); err != nil {
		return nil, Location{}, err
	}
	var args []Expr
	for !p.at(TokRParen) {
		if len(args) > 0 {
			if _, err := p.expect(TokComma, "`,`"); err != nil {
				return nil, Location{}, err
			}
		}
		a, err := p.parseExpr()
		if err != nil {
			return nil, Location{}, err
		}
		args = append(args, a)
	}
	end, err := p.expect(TokRParen, "`)`")
	if err != nil {
		return nil, Location{}, err
	}
	return args, end.Span.End, nil
}

func (p *Parser) parsePrimary() (Expr, error) {
	start := p.cur.Span.Start
	switch p.cur.Kind {
	case TokNull:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &NullLit{ExprBase: ExprBase{Sp: Span{Start: start, End: p.cur.Span.Start}}}, nil
	case TokTrue, TokFalse:
		v := p.at(TokTrue)
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &BoolLit{ExprBase: ExprBase{Sp: Span{Start: start, End: p.cur.Span.Start}}, Value: v}, nil
	case TokNumber:
		n := p.cur.Num
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &NumberLit{ExprBase: ExprBase{Sp: Span{Start: start, End: p.cur.Span.Start}}, Value: n}, nil
	case TokString:
		s := p.cur.Str
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &StringLit{ExprBase: ExprBase{Sp: Span{Start: start, End: p.cur.Span.Start}}, Value: s}, nil
	case TokChar:
		c := p.cur.Ch
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &CharLit{ExprBase: ExprBase{Sp: Span{Start: start, End: p.cur.Span.Start}}, Value: c}, nil
	case TokRead:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ReadExpr{ExprBase: ExprBase{Sp: Span{Start: start, End: p.cur.Span.Start}}}, nil
	case TokIdent:
		name := p.cur.Text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &VarExpr{ExprBase: ExprBase{Sp: Span{Start: start, End: p.cur.Span.Start}}, Name: name}, nil
	case TokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokRParen, "`)`"); err != nil {
			return nil, err
		}
		return e, nil
	case TokLBracket:
		return p.parseArrayLit(start)
	case TokNew:
		return p.parseNewExpr(start)
	default:
		return nil, ParseError{Expected: "an expression", Actual: tokenDesc(p.cur), At: start}
	}
}

func (p *Parser) parseArrayLit(start Location) (Expr, error) {
	if err := p.advance(); err != nil { // `[`
		return nil, err
	}
	if ok, err := p.eat(TokRBracket); err != nil {
		return nil, err
	} else if ok {
		if _, err := p.expect(TokColon, "`:` and an element type (empty array literal)"); err != nil {
			return nil, err
		}
		elemTy, err := p.parseType()
		if err != nil {
			return nil, err
		}
		return &ArrayLit{ExprBase: ExprBase{Sp: Span{Start: start, End: p.cur.Span.Start}}, ElemType: elemTy}, nil
	}
	var elems []Expr
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
		if ok, err := p.eat(TokComma); err != nil {
			return nil, err
		} else if !ok {
			break
		}
	}
	if _, err := p.expect(TokRBracket, "`]`"); err != nil {
		return nil, err
	}
	return &ArrayLit{ExprBase: ExprBase{Sp: Span{Start: start, End: p.cur.Span.Start}}, Elems: elems}, nil
}

func (p *Parser) parseNewExpr(start Location) (Expr, error) {
	if err := p.advance(); err != nil { // `new`
		return nil, err
	}
	name, err := p.expect(TokIdent, "a struct name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokLBrace, "`{`"); err != nil {
		return nil, err
	}
	var inits []FieldInit
	for !p.at(TokRBrace) {
		if len(inits) > 0 {
			if _, err := p.expect(TokComma, "`,`"); err != nil {
				return nil, err
			}
		}
		fname, err := p.expect(TokIdent, "a field name")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokAssign, "`=`"); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		inits = append(inits, FieldInit{Name: fname.Text, Value: val})
	}
	if _, err := p.expect(TokRBrace, "`}`"); err != nil {
		return nil, err
	}
	return &NewExpr{
		ExprBase: ExprBase{Sp: Span{Start: start, End: p.cur.Span.Start}},
		TypeName: name.Text,
		StructTy: p.reg.StructTag(name.Text),
		Inits:    inits,
	}, nil
}
