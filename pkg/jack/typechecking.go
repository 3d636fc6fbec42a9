package jack

import (
	"fmt"
)

// TypeChecker implements the narrow structural pre-pass wired behind '--typecheck'.
//
// It never reasons about value types (an int assigned to a char variable is not caught
// here): it only catches the failures classified as SymbolError plus a couple of
// structural duplicate-declaration cases that would otherwise surface as confusing VM
// output instead of a clear compile-time error. Full type compatibility checking, dead
// code elimination and the rest stay out of scope.
type TypeChecker struct {
	program Program
	scopes  ScopeTable // Keeps track of the scopes and declared variables inside each one
}

func NewTypeChecker(program Program) TypeChecker {
	return TypeChecker{program: program}
}

func (tc *TypeChecker) Check() (bool, error) {
	if tc.program == nil {
		return false, fmt.Errorf("the given 'program' is empty or nil")
	}

	for name, class := range tc.program {
		_, err := tc.HandleClass(class)
		if err != nil {
			return false, fmt.Errorf("error type-checking class '%s': %w", name, err)
		}
	}

	return true, nil
}

// Specialized function to type-check a 'jack.Class' and nested fields.
func (tc *TypeChecker) HandleClass(class Class) (bool, error) {
	tc.scopes.PushClassScope(class.Name) // Keep track of the current scope being processed
	defer tc.scopes.PopClassScope()      // Reset the function name after processing

	members := map[string]bool{} // Tracks names across both fields and subroutines

	for _, field := range class.Fields.Entries() {
		if members[field.Name] {
			return false, fmt.Errorf("class '%s' declares member '%s' more than once", class.Name, field.Name)
		}
		members[field.Name] = true

		tc.scopes.RegisterVariable(field)
	}

	for _, subroutine := range class.Subroutines.Entries() {
		if members[subroutine.Name] {
			return false, fmt.Errorf("class '%s' declares member '%s' more than once", class.Name, subroutine.Name)
		}
		members[subroutine.Name] = true
	}

	for _, subroutine := range class.Subroutines.Entries() {
		if _, err := tc.HandleSubroutine(subroutine, class); err != nil {
			return false, fmt.Errorf("error handling subroutine '%s' in class '%s': %w", subroutine.Name, class.Name, err)
		}
	}

	return true, nil
}

// Specialized function to type-check a 'jack.Subroutine' and nested fields.
func (tc *TypeChecker) HandleSubroutine(subroutine Subroutine, class Class) (bool, error) {
	tc.scopes.PushSubRoutineScope(subroutine.Name) // Keep track of the current subroutine function being processed
	defer tc.scopes.PopSubroutineScope()           // Reset the function name after processing

	declared := map[string]bool{} // Tracks names across both parameters and locals

	if subroutine.Type == Method {
		tc.scopes.RegisterVariable(Variable{Name: "__obj", VarType: Parameter, DataType: DataType{Main: Object}})
	}

	for _, arg := range subroutine.Arguments {
		if declared[arg.Name] {
			return false, fmt.Errorf("subroutine '%s.%s' declares parameter '%s' more than once", class.Name, subroutine.Name, arg.Name)
		}
		declared[arg.Name] = true

		tc.scopes.RegisterVariable(arg)
	}

	for _, stmt := range subroutine.Statements {
		if varStmt, isVarStmt := stmt.(VarStmt); isVarStmt {
			for _, v := range varStmt.Vars {
				if declared[v.Name] {
					return false, fmt.Errorf("subroutine '%s.%s' declares local '%s' more than once", class.Name, subroutine.Name, v.Name)
				}
				declared[v.Name] = true
			}
		}

		if _, err := tc.HandleStatement(stmt, class); err != nil {
			return false, fmt.Errorf("error handling nested statement %T: %w", stmt, err)
		}
	}

	return true, nil
}

// Generalized function to type-check multiple statements types.
func (tc *TypeChecker) HandleStatement(stmt Statement, class Class) (bool, error) {
	switch tStmt := stmt.(type) {
	case DoStmt:
		return tc.HandleExpression(tStmt.FuncCall, class)
	case VarStmt:
		for _, v := range tStmt.Vars {
			tc.scopes.RegisterVariable(v)
		}
		return true, nil
	case LetStmt:
		return tc.HandleLetStmt(tStmt, class)
	case IfStmt:
		if _, err := tc.HandleExpression(tStmt.Condition, class); err != nil {
			return false, fmt.Errorf("error handling if condition: %w", err)
		}
		for _, s := range tStmt.ThenBlock {
			if _, err := tc.HandleStatement(s, class); err != nil {
				return false, fmt.Errorf("error handling statement in 'then' block: %w", err)
			}
		}
		for _, s := range tStmt.ElseBlock {
			if _, err := tc.HandleStatement(s, class); err != nil {
				return false, fmt.Errorf("error handling statement in 'else' block: %w", err)
			}
		}
		return true, nil
	case WhileStmt:
		if _, err := tc.HandleExpression(tStmt.Condition, class); err != nil {
			return false, fmt.Errorf("error handling while condition: %w", err)
		}
		for _, s := range tStmt.Block {
			if _, err := tc.HandleStatement(s, class); err != nil {
				return false, fmt.Errorf("error handling statement in while block: %w", err)
			}
		}
		return true, nil
	case ReturnStmt:
		if tStmt.Expr == nil {
			return true, nil
		}
		return tc.HandleExpression(tStmt.Expr, class)
	default:
		return false, fmt.Errorf("unrecognized statement: %T", stmt)
	}
}

// Specialized function to type-check a 'jack.LetStmt', validating both sides.
func (tc *TypeChecker) HandleLetStmt(statement LetStmt, class Class) (bool, error) {
	if _, err := tc.HandleExpression(statement.Rhs, class); err != nil {
		return false, fmt.Errorf("error handling RHS expression: %w", err)
	}

	switch lhs := statement.Lhs.(type) {
	case VarExpr:
		if _, _, err := tc.scopes.ResolveVariable(lhs.Var); err != nil {
			return false, fmt.Errorf("assignment target: %w", err)
		}
		return true, nil
	case ArrayExpr:
		return tc.HandleExpression(lhs, class)
	default:
		return false, fmt.Errorf("LHS expression must be either a 'VarExpr' or an 'ArrayExpr', got: %T", statement.Lhs)
	}
}

// Generalized function to type-check multiple expression types, resolving every
// identifier reference it contains.
func (tc *TypeChecker) HandleExpression(expr Expression, class Class) (bool, error) {
	switch tExpr := expr.(type) {
	case VarExpr:
		if tExpr.Var == "this" {
			return true, nil
		}
		if _, _, err := tc.scopes.ResolveVariable(tExpr.Var); err != nil {
			return false, err
		}
		return true, nil

	case LiteralExpr:
		return true, nil

	case ArrayExpr:
		if _, _, err := tc.scopes.ResolveVariable(tExpr.Var); err != nil {
			return false, fmt.Errorf("array base: %w", err)
		}
		return tc.HandleExpression(tExpr.Index, class)

	case UnaryExpr:
		return tc.HandleExpression(tExpr.Rhs, class)

	case BinaryExpr:
		if _, err := tc.HandleExpression(tExpr.Lhs, class); err != nil {
			return false, fmt.Errorf("error handling nested LHS expression: %w", err)
		}
		return tc.HandleExpression(tExpr.Rhs, class)

	case FuncCallExpr:
		return tc.HandleFuncCallExpr(tExpr, class)

	default:
		return false, fmt.Errorf("unrecognized expression: %T", expr)
	}
}

// Specialized function to type-check a 'jack.FuncCallExpr', resolving the callee
// against the current class, a resolvable object instance or the program/stdlib ABI.
func (tc *TypeChecker) HandleFuncCallExpr(expression FuncCallExpr, class Class) (bool, error) {
	for _, arg := range expression.Arguments {
		if _, err := tc.HandleExpression(arg, class); err != nil {
			return false, fmt.Errorf("error handling argument expression: %w", err)
		}
	}

	if !expression.IsExtCall {
		if _, exists := class.Subroutines.Get(expression.FuncName); !exists {
			return false, fmt.Errorf("subroutine '%s' not found in class '%s'", expression.FuncName, class.Name)
		}
		return true, nil
	}

	if _, variable, err := tc.scopes.ResolveVariable(expression.Var); err == nil {
		if variable.DataType.Main != Object {
			return false, fmt.Errorf("variable '%s' is not an object", expression.Var)
		}
		return tc.resolveExternal(variable.DataType.Subtype, expression.FuncName)
	}

	return tc.resolveExternal(expression.Var, expression.FuncName)
}

// Looks up 'subroutine' on 'className' among the in-program classes. Standard library
// classes only appear here when '--stdlib' has already injected their ABI into the
// program (see cmd/jack_compiler). When 'className' isn't known at all (no source file
// for it was part of this invocation and '--stdlib' wasn't passed) it is still a valid
// static call as far as this pass is concerned: the callee resolves at link time, same
// as the unconditional static-call fallback the lowering pass falls back to.
func (tc *TypeChecker) resolveExternal(className, subroutine string) (bool, error) {
	target, exists := tc.program[className]
	if !exists {
		return true, nil
	}

	if _, exists := target.Subroutines.Get(subroutine); !exists {
		return false, fmt.Errorf("subroutine '%s' not found in class '%s'", subroutine, className)
	}
	return true, nil
}
