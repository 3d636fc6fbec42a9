package jack_test

import (
	"strings"
	"testing"

	"n2t.dev/toolchain/pkg/jack"
)

func TestParserClassShape(t *testing.T) {
	source := `
		class Fraction {
			field int numerator, denominator;
			static int count;

			constructor Fraction new(int x, int y) {
				let numerator = x;
				let denominator = y;
				return this;
			}

			method int getNumerator() {
				return numerator;
			}

			function void reduce() {
				var int i;
				let i = 0;
				while (i < 10) {
					let i = i + 1;
				}
				return;
			}
		}
	`

	parser := jack.NewParser(strings.NewReader(source))
	class, err := parser.Parse()
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}

	if class.Name != "Fraction" {
		t.Fatalf("expected class name 'Fraction', got %q", class.Name)
	}
	if class.Fields.Size() != 3 {
		t.Fatalf("expected 3 fields, got %d", class.Fields.Size())
	}
	if class.Subroutines.Size() != 3 {
		t.Fatalf("expected 3 subroutines, got %d", class.Subroutines.Size())
	}

	ctor, ok := class.Subroutines.Get("new")
	if !ok || ctor.Type != jack.Constructor {
		t.Fatalf("expected a constructor named 'new', got %+v (found=%v)", ctor, ok)
	}
	if len(ctor.Arguments) != 2 {
		t.Fatalf("expected 2 constructor arguments, got %d", len(ctor.Arguments))
	}
	if ctor.Return.Main != jack.Object || ctor.Return.Subtype != "Fraction" {
		t.Fatalf("expected constructor to return 'Fraction', got %+v", ctor.Return)
	}

	reduce, ok := class.Subroutines.Get("reduce")
	if !ok {
		t.Fatalf("expected to find subroutine 'reduce'")
	}
	foundWhile := false
	for _, stmt := range reduce.Statements {
		if _, isWhile := stmt.(jack.WhileStmt); isWhile {
			foundWhile = true
		}
	}
	if !foundWhile {
		t.Fatalf("expected a 'WhileStmt' among 'reduce' statements, got %+v", reduce.Statements)
	}
}

func TestParserExpressionIsFlatNotPrecedenceClimbing(t *testing.T) {
	source := `
		class Main {
			function void main() {
				var int a;
				let a = 1 + 2 * 3;
				return;
			}
		}
	`

	class, err := jack.NewParser(strings.NewReader(source)).Parse()
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}

	main, ok := class.Subroutines.Get("main")
	if !ok {
		t.Fatalf("expected to find subroutine 'main'")
	}

	var let jack.LetStmt
	for _, stmt := range main.Statements {
		if s, isLet := stmt.(jack.LetStmt); isLet {
			let = s
		}
	}

	// '1 + 2 * 3' must fold as '((1+2)*3)', never as '(1+(2*3))'.
	outer, ok := let.Rhs.(jack.BinaryExpr)
	if !ok || outer.Type != jack.Multiply {
		t.Fatalf("expected outer operator to be '*', got %+v", let.Rhs)
	}
	inner, ok := outer.Lhs.(jack.BinaryExpr)
	if !ok || inner.Type != jack.Plus {
		t.Fatalf("expected inner operator to be '+', got %+v", outer.Lhs)
	}
}

func TestParserSubroutineCallShapes(t *testing.T) {
	source := `
		class Main {
			function void main() {
				do Output.printInt(1);
				do helper();
				return;
			}
		}
	`

	class, err := jack.NewParser(strings.NewReader(source)).Parse()
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}

	main, _ := class.Subroutines.Get("main")

	calls := []jack.FuncCallExpr{}
	for _, stmt := range main.Statements {
		if do, isDo := stmt.(jack.DoStmt); isDo {
			calls = append(calls, do.FuncCall)
		}
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 'do' calls, got %d", len(calls))
	}

	if !calls[0].IsExtCall || calls[0].Var != "Output" || calls[0].FuncName != "printInt" {
		t.Errorf("expected an external call to 'Output.printInt', got %+v", calls[0])
	}
	if calls[1].IsExtCall || calls[1].FuncName != "helper" {
		t.Errorf("expected an internal call to 'helper', got %+v", calls[1])
	}
}

func TestParserErrors(t *testing.T) {
	t.Run("missing closing brace", func(t *testing.T) {
		_, err := jack.NewParser(strings.NewReader("class Main {")).Parse()
		if err == nil {
			t.Fatalf("expected a parse error for an unterminated class body")
		}
	})

	t.Run("unexpected token in place of identifier", func(t *testing.T) {
		_, err := jack.NewParser(strings.NewReader("class 123 {}")).Parse()
		if err == nil {
			t.Fatalf("expected a parse error for a missing class name")
		}
	})
}
