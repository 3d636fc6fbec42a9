package jack

import (
	"fmt"
	"io"

	"n2t.dev/toolchain/pkg/utils"
)

// ----------------------------------------------------------------------------
// Jack Parser

// Syntax-directed recursive descent, LL(1) with one extra token of lookahead needed
// only inside 'term' (to tell 'id', 'id[expr]', 'id(args)' and 'id.id(args)' apart).
// No intermediate AST library is involved: each production builds the 'jack.Class' /
// 'Statement' / 'Expression' values straight away, the same shape the original C++
// CompilationEngine builds by emitting VM code directly at recognition time - here we
// keep the tree around since 'Lowerer' and 'TypeChecker' are separate passes.
type Parser struct{ reader io.Reader }

// Initializes and returns to the caller a brand new 'Parser' struct.
// Requires the argument io.Reader 'r' to be valid and usable.
func NewParser(r io.Reader) Parser {
	return Parser{reader: r}
}

// Parse reads the whole underlying reader, tokenizes it and runs the recursive
// descent parser over the resulting token stream, producing a single 'jack.Class'
// (the Jack spec maps one source file to exactly one class, much like Java).
func (p *Parser) Parse() (Class, error) {
	content, err := io.ReadAll(p.reader)
	if err != nil {
		return Class{}, fmt.Errorf("cannot read from 'io.Reader': %s", err)
	}

	tokens, err := NewTokenizer(content).Tokenize()
	if err != nil {
		return Class{}, err
	}

	cursor := &cursor{tokens: tokens}
	return cursor.parseClass()
}

// ----------------------------------------------------------------------------
// Token cursor & generic lookahead helpers

// cursor walks the flat token stream produced by the Tokenizer, one token of
// lookahead at a time (two for the 'term' production, see 'parseTerm').
type cursor struct {
	tokens []Token
	pos    int
}

func (c *cursor) at(offset int) (Token, bool) {
	if c.pos+offset >= len(c.tokens) {
		return Token{}, false
	}
	return c.tokens[c.pos+offset], true
}

func (c *cursor) peek() (Token, bool) { return c.at(0) }

func (c *cursor) advance() (Token, bool) {
	tok, ok := c.at(0)
	if ok {
		c.pos++
	}
	return tok, ok
}

func (c *cursor) describe(tok Token, ok bool) string {
	if !ok {
		return "end of input"
	}
	switch tok.Type {
	case KeywordToken:
		return fmt.Sprintf("keyword %q", tok.Keyword)
	case SymbolToken:
		return fmt.Sprintf("symbol %q", string(tok.Symbol))
	case IdentifierToken:
		return fmt.Sprintf("identifier %q", tok.Identifier)
	case IntConstToken:
		return fmt.Sprintf("integer constant %d", tok.IntVal)
	case StringConstToken:
		return fmt.Sprintf("string constant %q", tok.StringVal)
	default:
		return "unknown token"
	}
}

func (c *cursor) parseError(expected string) error {
	tok, ok := c.peek()
	return fmt.Errorf("parse error: expected %s, found %s", expected, c.describe(tok, ok))
}

func (c *cursor) isKeyword(keyword string) bool {
	tok, ok := c.peek()
	return ok && tok.Type == KeywordToken && tok.Keyword == keyword
}

func (c *cursor) isSymbol(symbol rune) bool {
	tok, ok := c.peek()
	return ok && tok.Type == SymbolToken && tok.Symbol == symbol
}

func (c *cursor) isIdentifier() bool {
	tok, ok := c.peek()
	return ok && tok.Type == IdentifierToken
}

func (c *cursor) expectKeyword(keyword string) error {
	if !c.isKeyword(keyword) {
		return c.parseError(fmt.Sprintf("keyword %q", keyword))
	}
	c.pos++
	return nil
}

func (c *cursor) expectSymbol(symbol rune) error {
	if !c.isSymbol(symbol) {
		return c.parseError(fmt.Sprintf("symbol %q", string(symbol)))
	}
	c.pos++
	return nil
}

func (c *cursor) expectIdentifier() (string, error) {
	if !c.isIdentifier() {
		return "", c.parseError("identifier")
	}
	tok, _ := c.advance()
	return tok.Identifier, nil
}

// ----------------------------------------------------------------------------
// Grammar: class / classVarDec / subroutineDec

// class := 'class' id '{' classVarDec* subroutineDec* '}'
func (c *cursor) parseClass() (Class, error) {
	if err := c.expectKeyword("class"); err != nil {
		return Class{}, err
	}
	name, err := c.expectIdentifier()
	if err != nil {
		return Class{}, err
	}
	if err := c.expectSymbol('{'); err != nil {
		return Class{}, err
	}

	class := Class{Name: name, Fields: utils.OrderedMap[string, Variable]{}, Subroutines: utils.OrderedMap[string, Subroutine]{}}

	for c.isKeyword("static") || c.isKeyword("field") {
		fields, err := c.parseClassVarDec()
		if err != nil {
			return Class{}, fmt.Errorf("error parsing class var declaration: %w", err)
		}
		for _, field := range fields {
			class.Fields.Set(field.Name, field)
		}
	}

	for c.isKeyword("constructor") || c.isKeyword("function") || c.isKeyword("method") {
		subroutine, err := c.parseSubroutineDec()
		if err != nil {
			return Class{}, fmt.Errorf("error parsing subroutine declaration in class '%s': %w", name, err)
		}
		class.Subroutines.Set(subroutine.Name, subroutine)
	}

	if err := c.expectSymbol('}'); err != nil {
		return Class{}, err
	}
	return class, nil
}

// classVarDec := ('static'|'field') type id (',' id)* ';'
func (c *cursor) parseClassVarDec() ([]Variable, error) {
	tok, _ := c.advance() // 'static' or 'field'
	varType := Static
	if tok.Keyword == "field" {
		varType = Field
	}

	dataType, err := c.parseDataType()
	if err != nil {
		return nil, err
	}

	vars := []Variable{}
	for {
		name, err := c.expectIdentifier()
		if err != nil {
			return nil, err
		}
		vars = append(vars, Variable{Name: name, VarType: varType, DataType: dataType})

		if !c.isSymbol(',') {
			break
		}
		c.pos++
	}

	if err := c.expectSymbol(';'); err != nil {
		return nil, err
	}
	return vars, nil
}

// subroutineDec := ('constructor'|'function'|'method') (type|'void') id '(' paramList ')' body
func (c *cursor) parseSubroutineDec() (Subroutine, error) {
	tok, _ := c.advance() // 'constructor', 'function' or 'method'
	var subType SubroutineType
	switch tok.Keyword {
	case "constructor":
		subType = Constructor
	case "function":
		subType = Function
	case "method":
		subType = Method
	}

	var returnType DataType
	if c.isKeyword("void") {
		c.pos++
		returnType = DataType{Main: Void}
	} else {
		dt, err := c.parseDataType()
		if err != nil {
			return Subroutine{}, err
		}
		returnType = dt
	}

	name, err := c.expectIdentifier()
	if err != nil {
		return Subroutine{}, err
	}

	if err := c.expectSymbol('('); err != nil {
		return Subroutine{}, err
	}
	args, err := c.parseParameterList()
	if err != nil {
		return Subroutine{}, fmt.Errorf("error parsing parameter list of '%s': %w", name, err)
	}
	if err := c.expectSymbol(')'); err != nil {
		return Subroutine{}, err
	}

	locals, statements, err := c.parseSubroutineBody()
	if err != nil {
		return Subroutine{}, fmt.Errorf("error parsing body of '%s': %w", name, err)
	}

	// Locals are just 'var' declarations; the Jack grammar only tells them apart from
	// statements by keyword, so we fold them into a single leading 'VarStmt' per
	// 'varDec' line rather than a dedicated AST node (mirrors 'jack.VarStmt' usage
	// elsewhere, where lowering treats class fields the same way).
	body := append(locals, statements...)

	return Subroutine{Name: name, Type: subType, Return: returnType, Arguments: args, Statements: body}, nil
}

// paramList := (type id (',' type id)*)?
func (c *cursor) parseParameterList() ([]Variable, error) {
	args := []Variable{}
	if c.isSymbol(')') {
		return args, nil
	}

	for {
		dataType, err := c.parseDataType()
		if err != nil {
			return nil, err
		}
		name, err := c.expectIdentifier()
		if err != nil {
			return nil, err
		}
		args = append(args, Variable{Name: name, VarType: Parameter, DataType: dataType})

		if !c.isSymbol(',') {
			break
		}
		c.pos++
	}
	return args, nil
}

// body := '{' varDec* statements '}'
func (c *cursor) parseSubroutineBody() ([]Statement, []Statement, error) {
	if err := c.expectSymbol('{'); err != nil {
		return nil, nil, err
	}

	locals := []Statement{}
	for c.isKeyword("var") {
		vars, err := c.parseVarDec()
		if err != nil {
			return nil, nil, fmt.Errorf("error parsing local var declaration: %w", err)
		}
		locals = append(locals, VarStmt{Vars: vars})
	}

	statements, err := c.parseStatements()
	if err != nil {
		return nil, nil, err
	}

	if err := c.expectSymbol('}'); err != nil {
		return nil, nil, err
	}
	return locals, statements, nil
}

// varDec := 'var' type id (',' id)* ';'
func (c *cursor) parseVarDec() ([]Variable, error) {
	if err := c.expectKeyword("var"); err != nil {
		return nil, err
	}

	dataType, err := c.parseDataType()
	if err != nil {
		return nil, err
	}

	vars := []Variable{}
	for {
		name, err := c.expectIdentifier()
		if err != nil {
			return nil, err
		}
		vars = append(vars, Variable{Name: name, VarType: Local, DataType: dataType})

		if !c.isSymbol(',') {
			break
		}
		c.pos++
	}

	if err := c.expectSymbol(';'); err != nil {
		return nil, err
	}
	return vars, nil
}

// type := 'int' | 'char' | 'boolean' | id
func (c *cursor) parseDataType() (DataType, error) {
	tok, ok := c.peek()
	if !ok {
		return DataType{}, c.parseError("type")
	}

	switch {
	case tok.Type == KeywordToken && tok.Keyword == "int":
		c.pos++
		return DataType{Main: Int}, nil
	case tok.Type == KeywordToken && tok.Keyword == "char":
		c.pos++
		return DataType{Main: Char}, nil
	case tok.Type == KeywordToken && tok.Keyword == "boolean":
		c.pos++
		return DataType{Main: Bool}, nil
	case tok.Type == IdentifierToken:
		c.pos++
		return DataType{Main: Object, Subtype: tok.Identifier}, nil
	default:
		return DataType{}, c.parseError("type")
	}
}

// ----------------------------------------------------------------------------
// Grammar: statements

// statements := (let|if|while|do|return)*
func (c *cursor) parseStatements() ([]Statement, error) {
	statements := []Statement{}
	for {
		switch {
		case c.isKeyword("let"):
			stmt, err := c.parseLetStatement()
			if err != nil {
				return nil, err
			}
			statements = append(statements, stmt)
		case c.isKeyword("if"):
			stmt, err := c.parseIfStatement()
			if err != nil {
				return nil, err
			}
			statements = append(statements, stmt)
		case c.isKeyword("while"):
			stmt, err := c.parseWhileStatement()
			if err != nil {
				return nil, err
			}
			statements = append(statements, stmt)
		case c.isKeyword("do"):
			stmt, err := c.parseDoStatement()
			if err != nil {
				return nil, err
			}
			statements = append(statements, stmt)
		case c.isKeyword("return"):
			stmt, err := c.parseReturnStatement()
			if err != nil {
				return nil, err
			}
			statements = append(statements, stmt)
		default:
			return statements, nil
		}
	}
}

// let := 'let' id ('[' expr ']')? '=' expr ';'
func (c *cursor) parseLetStatement() (Statement, error) {
	if err := c.expectKeyword("let"); err != nil {
		return nil, err
	}
	name, err := c.expectIdentifier()
	if err != nil {
		return nil, err
	}

	var lhs Expression = VarExpr{Var: name}
	if c.isSymbol('[') {
		c.pos++
		index, err := c.parseExpression()
		if err != nil {
			return nil, fmt.Errorf("error parsing array index expression: %w", err)
		}
		if err := c.expectSymbol(']'); err != nil {
			return nil, err
		}
		lhs = ArrayExpr{Var: name, Index: index}
	}

	if err := c.expectSymbol('='); err != nil {
		return nil, err
	}
	rhs, err := c.parseExpression()
	if err != nil {
		return nil, fmt.Errorf("error parsing RHS expression: %w", err)
	}
	if err := c.expectSymbol(';'); err != nil {
		return nil, err
	}

	return LetStmt{Lhs: lhs, Rhs: rhs}, nil
}

// if := 'if' '(' expr ')' '{' statements '}' ('else' '{' statements '}')?
func (c *cursor) parseIfStatement() (Statement, error) {
	if err := c.expectKeyword("if"); err != nil {
		return nil, err
	}
	if err := c.expectSymbol('('); err != nil {
		return nil, err
	}
	cond, err := c.parseExpression()
	if err != nil {
		return nil, fmt.Errorf("error parsing 'if' condition: %w", err)
	}
	if err := c.expectSymbol(')'); err != nil {
		return nil, err
	}
	if err := c.expectSymbol('{'); err != nil {
		return nil, err
	}
	thenBlock, err := c.parseStatements()
	if err != nil {
		return nil, err
	}
	if err := c.expectSymbol('}'); err != nil {
		return nil, err
	}

	elseBlock := []Statement{}
	if c.isKeyword("else") {
		c.pos++
		if err := c.expectSymbol('{'); err != nil {
			return nil, err
		}
		elseBlock, err = c.parseStatements()
		if err != nil {
			return nil, err
		}
		if err := c.expectSymbol('}'); err != nil {
			return nil, err
		}
	}

	return IfStmt{Condition: cond, ThenBlock: thenBlock, ElseBlock: elseBlock}, nil
}

// while := 'while' '(' expr ')' '{' statements '}'
func (c *cursor) parseWhileStatement() (Statement, error) {
	if err := c.expectKeyword("while"); err != nil {
		return nil, err
	}
	if err := c.expectSymbol('('); err != nil {
		return nil, err
	}
	cond, err := c.parseExpression()
	if err != nil {
		return nil, fmt.Errorf("error parsing 'while' condition: %w", err)
	}
	if err := c.expectSymbol(')'); err != nil {
		return nil, err
	}
	if err := c.expectSymbol('{'); err != nil {
		return nil, err
	}
	block, err := c.parseStatements()
	if err != nil {
		return nil, err
	}
	if err := c.expectSymbol('}'); err != nil {
		return nil, err
	}

	return WhileStmt{Condition: cond, Block: block}, nil
}

// do := 'do' subroutineCall ';'
func (c *cursor) parseDoStatement() (Statement, error) {
	if err := c.expectKeyword("do"); err != nil {
		return nil, err
	}
	call, err := c.parseSubroutineCall()
	if err != nil {
		return nil, fmt.Errorf("error parsing 'do' call: %w", err)
	}
	if err := c.expectSymbol(';'); err != nil {
		return nil, err
	}
	return DoStmt{FuncCall: call}, nil
}

// return := 'return' expr? ';'
func (c *cursor) parseReturnStatement() (Statement, error) {
	if err := c.expectKeyword("return"); err != nil {
		return nil, err
	}

	if c.isSymbol(';') {
		c.pos++
		return ReturnStmt{Expr: nil}, nil
	}

	expr, err := c.parseExpression()
	if err != nil {
		return nil, fmt.Errorf("error parsing return expression: %w", err)
	}
	if err := c.expectSymbol(';'); err != nil {
		return nil, err
	}
	return ReturnStmt{Expr: expr}, nil
}

// ----------------------------------------------------------------------------
// Grammar: expressions

var binaryOps = map[rune]ExprType{
	'+': Plus, '-': Minus, '*': Multiply, '/': Divide,
	'&': BoolAnd, '|': BoolOr, '<': LessThan, '>': GreatThan, '=': Equal,
}

// expr := term (op term)*
//
// Strictly left-to-right, no operator precedence: 'a+b*c' folds into
// '((a+b)*c)', matching both the original CompilationEngine and the grammar.
func (c *cursor) parseExpression() (Expression, error) {
	lhs, err := c.parseTerm()
	if err != nil {
		return nil, err
	}

	for {
		tok, ok := c.peek()
		if !ok || tok.Type != SymbolToken {
			return lhs, nil
		}
		opType, isOp := binaryOps[tok.Symbol]
		if !isOp {
			return lhs, nil
		}
		c.pos++

		rhs, err := c.parseTerm()
		if err != nil {
			return nil, fmt.Errorf("error parsing RHS operand of '%s': %w", string(tok.Symbol), err)
		}
		lhs = BinaryExpr{Type: opType, Lhs: lhs, Rhs: rhs}
	}
}

// term := intConst | strConst | kwConst | '(' expr ')' | unaryOp term
//       | id ('[' expr ']')? | id '(' exprList ')' | id '.' id '(' exprList ')'
func (c *cursor) parseTerm() (Expression, error) {
	tok, ok := c.peek()
	if !ok {
		return nil, c.parseError("term")
	}

	switch tok.Type {
	case IntConstToken:
		c.pos++
		return LiteralExpr{Type: DataType{Main: Int}, Value: fmt.Sprintf("%d", tok.IntVal)}, nil

	case StringConstToken:
		c.pos++
		return LiteralExpr{Type: DataType{Main: String}, Value: tok.StringVal}, nil

	case KeywordToken:
		switch tok.Keyword {
		case "true":
			c.pos++
			return LiteralExpr{Type: DataType{Main: Bool}, Value: "true"}, nil
		case "false":
			c.pos++
			return LiteralExpr{Type: DataType{Main: Bool}, Value: "false"}, nil
		case "null":
			c.pos++
			return LiteralExpr{Type: DataType{Main: Object}, Value: "null"}, nil
		case "this":
			c.pos++
			return VarExpr{Var: "this"}, nil
		default:
			return nil, c.parseError("term")
		}

	case SymbolToken:
		switch tok.Symbol {
		case '(':
			c.pos++
			expr, err := c.parseExpression()
			if err != nil {
				return nil, fmt.Errorf("error parsing parenthesized expression: %w", err)
			}
			if err := c.expectSymbol(')'); err != nil {
				return nil, err
			}
			return expr, nil
		case '-':
			c.pos++
			rhs, err := c.parseTerm()
			if err != nil {
				return nil, fmt.Errorf("error parsing operand of unary '-': %w", err)
			}
			return UnaryExpr{Type: Negation, Rhs: rhs}, nil
		case '~':
			c.pos++
			rhs, err := c.parseTerm()
			if err != nil {
				return nil, fmt.Errorf("error parsing operand of unary '~': %w", err)
			}
			return UnaryExpr{Type: BoolNot, Rhs: rhs}, nil
		default:
			return nil, c.parseError("term")
		}

	case IdentifierToken:
		// Requires peeking one token past the identifier to decide between a bare
		// variable reference, an array access and the two subroutine-call shapes.
		next, hasNext := c.at(1)
		if hasNext && next.Type == SymbolToken && next.Symbol == '[' {
			name, _ := c.advance()
			c.pos++ // consume '['
			index, err := c.parseExpression()
			if err != nil {
				return nil, fmt.Errorf("error parsing array index expression: %w", err)
			}
			if err := c.expectSymbol(']'); err != nil {
				return nil, err
			}
			return ArrayExpr{Var: name.Identifier, Index: index}, nil
		}
		if hasNext && next.Type == SymbolToken && (next.Symbol == '(' || next.Symbol == '.') {
			return c.parseSubroutineCall()
		}

		c.pos++
		return VarExpr{Var: tok.Identifier}, nil

	default:
		return nil, c.parseError("term")
	}
}

// subroutineCall := id '(' exprList ')' | id '.' id '(' exprList ')'
//
// The bare 'id(args)' form is always an internal call (implicit 'this' for methods,
// resolved against the enclosing class by the Lowerer/TypeChecker); 'id.id(args)' is
// always an external call, whether 'id' turns out to name a variable (method call
// on that object) or a class (static call / constructor), resolved later.
func (c *cursor) parseSubroutineCall() (FuncCallExpr, error) {
	first, err := c.expectIdentifier()
	if err != nil {
		return FuncCallExpr{}, err
	}

	if c.isSymbol('.') {
		c.pos++
		method, err := c.expectIdentifier()
		if err != nil {
			return FuncCallExpr{}, err
		}
		args, err := c.parseCallArguments()
		if err != nil {
			return FuncCallExpr{}, err
		}
		return FuncCallExpr{IsExtCall: true, Var: first, FuncName: method, Arguments: args}, nil
	}

	args, err := c.parseCallArguments()
	if err != nil {
		return FuncCallExpr{}, err
	}
	return FuncCallExpr{IsExtCall: false, FuncName: first, Arguments: args}, nil
}

// '(' exprList ')' where exprList := (expr (',' expr)*)?
func (c *cursor) parseCallArguments() ([]Expression, error) {
	if err := c.expectSymbol('('); err != nil {
		return nil, err
	}

	args := []Expression{}
	if !c.isSymbol(')') {
		for {
			expr, err := c.parseExpression()
			if err != nil {
				return nil, fmt.Errorf("error parsing call argument: %w", err)
			}
			args = append(args, expr)

			if !c.isSymbol(',') {
				break
			}
			c.pos++
		}
	}

	if err := c.expectSymbol(')'); err != nil {
		return nil, err
	}
	return args, nil
}
