package jack_test

import (
	"strings"
	"testing"

	"n2t.dev/toolchain/pkg/jack"
	"n2t.dev/toolchain/pkg/vm"
)

// Parses a single-class source into a 'jack.Program' ready to be lowered.
func parseProgram(t *testing.T, source string) jack.Program {
	t.Helper()
	class, err := jack.NewParser(strings.NewReader(source)).Parse()
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	return jack.Program{class.Name: class}
}

func TestLowerConstructorAndMethod(t *testing.T) {
	source := `
		class P {
			field int x;
			constructor P new(int v) { let x = v; return this; }
			method int get() { return x; }
		}
	`
	program := parseProgram(t, source)

	lowerer := jack.NewLowerer(program)
	compiled, err := lowerer.Lowerer()
	if err != nil {
		t.Fatal(err)
	}

	module, ok := compiled["P"]
	if !ok {
		t.Fatalf("expected a 'P' module, got %+v", compiled)
	}

	t.Run("constructor allocates memory via the stdlib and sets 'this'", func(t *testing.T) {
		wantPrefix := []vm.Operation{
			vm.FuncDecl{Name: "P.new", NLocal: 0},
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 1},
			vm.FuncCallOp{Name: "Memory.alloc", NArgs: 1},
			vm.MemoryOp{Operation: vm.Pop, Segment: vm.Pointer, Offset: 0},
		}
		for i, want := range wantPrefix {
			if module[i] != want {
				t.Fatalf("op %d: expected %v, got %v", i, want, module[i])
			}
		}
	})

	t.Run("method prelude sets 'this' from the first argument", func(t *testing.T) {
		idx := -1
		for i, op := range module {
			if op == (vm.FuncDecl{Name: "P.get", NLocal: 0}) {
				idx = i
				break
			}
		}
		if idx == -1 {
			t.Fatalf("expected a 'P.get' function declaration, got %+v", module)
		}
		want := []vm.Operation{
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Argument, Offset: 0},
			vm.MemoryOp{Operation: vm.Pop, Segment: vm.Pointer, Offset: 0},
		}
		if module[idx+1] != want[0] || module[idx+2] != want[1] {
			t.Fatalf("expected method prelude %v right after the decl, got %v, %v", want, module[idx+1], module[idx+2])
		}
	})
}

func TestLowerStringConstant(t *testing.T) {
	source := `
		class Main {
			function void main() {
				var String s;
				let s = "ab";
				return;
			}
		}
	`
	program := parseProgram(t, source)

	lowerer := jack.NewLowerer(program)
	compiled, err := lowerer.Lowerer()
	if err != nil {
		t.Fatal(err)
	}

	want := []vm.Operation{
		vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 2},
		vm.FuncCallOp{Name: "String.new", NArgs: 1},
		vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: uint16('a')},
		vm.FuncCallOp{Name: "String.appendChar", NArgs: 2},
		vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: uint16('b')},
		vm.FuncCallOp{Name: "String.appendChar", NArgs: 2},
	}

	module := compiled["Main"]
	start := -1
	for i := range module {
		if i+len(want) <= len(module) && module[i] == want[0] {
			start = i
			break
		}
	}
	if start == -1 {
		t.Fatalf("expected the string-literal sequence to appear somewhere in %+v", module)
	}
	for i, op := range want {
		if module[start+i] != op {
			t.Fatalf("op %d of string sequence: expected %v, got %v", i, op, module[start+i])
		}
	}
}

func TestLowerArrayLvalueEvaluatesRhsAfterTargetAddress(t *testing.T) {
	source := `
		class Main {
			function void main() {
				var Array a;
				var int i, j;
				let a[i+1] = a[j];
				return;
			}
		}
	`
	program := parseProgram(t, source)

	lowerer := jack.NewLowerer(program)
	compiled, err := lowerer.Lowerer()
	if err != nil {
		t.Fatal(err)
	}

	module := compiled["Main"]

	// Both the RHS read 'a[j]' and the final write to the target cell repoint 'pointer 1'
	// (there's only one 'that' register): the RHS's own pop must happen first, buffering its
	// value into 'temp 0', before the target address is popped into 'pointer 1' for the write.
	// Swapping the order would have the write's pointer-1 pop clobbered by the RHS's own read.
	pointerPops := []int{}
	popTempIdx := -1
	for i, op := range module {
		if op == (vm.MemoryOp{Operation: vm.Pop, Segment: vm.Pointer, Offset: 1}) {
			pointerPops = append(pointerPops, i)
		}
		if op == (vm.MemoryOp{Operation: vm.Pop, Segment: vm.Temp, Offset: 0}) && popTempIdx == -1 {
			popTempIdx = i
		}
	}

	if len(pointerPops) != 2 {
		t.Fatalf("expected exactly 2 'pop pointer 1' (RHS read + target write), got %d: %+v", len(pointerPops), module)
	}
	if popTempIdx == -1 {
		t.Fatalf("expected the RHS value to be buffered into 'temp 0' before the write, got %+v", module)
	}
	if !(pointerPops[0] < popTempIdx && popTempIdx < pointerPops[1]) {
		t.Fatalf("expected order [RHS pop pointer 1, pop temp 0, target pop pointer 1], got pointer pops at %v and temp pop at %d", pointerPops, popTempIdx)
	}
}

func TestLowerFuncCallExprStaticFallback(t *testing.T) {
	t.Run("unresolved external call falls back to a static call regardless of --stdlib", func(t *testing.T) {
		lowerer := jack.NewLowerer(jack.Program{})

		ops, err := lowerer.HandleFuncCallExpr(jack.FuncCallExpr{
			IsExtCall: true,
			Var:       "Memory",
			FuncName:  "alloc",
			Arguments: []jack.Expression{jack.LiteralExpr{Type: jack.DataType{Main: jack.Int}, Value: "1"}},
		})
		if err != nil {
			t.Fatalf("expected the static-call fallback to succeed, got error: %v", err)
		}

		last := ops[len(ops)-1]
		if last != (vm.FuncCallOp{Name: "Memory.alloc", NArgs: 1}) {
			t.Fatalf("expected a fallback call to 'Memory.alloc', got %v", last)
		}
	})

	t.Run("known class dispatches using the subroutine's own name, not a hardcoded constructor name", func(t *testing.T) {
		class := jack.Class{Name: "P"}
		class.Subroutines.Set("make", jack.Subroutine{Name: "make", Type: jack.Constructor, Return: jack.DataType{Main: jack.Object, Subtype: "P"}})

		lowerer := jack.NewLowerer(jack.Program{"P": class})

		ops, err := lowerer.HandleFuncCallExpr(jack.FuncCallExpr{IsExtCall: true, Var: "P", FuncName: "make"})
		if err != nil {
			t.Fatal(err)
		}

		last := ops[len(ops)-1]
		if last != (vm.FuncCallOp{Name: "P.make", NArgs: 0}) {
			t.Fatalf("expected a call to 'P.make', got %v", last)
		}
	})

	t.Run("known class rejects a bare method call with no instance available", func(t *testing.T) {
		class := jack.Class{Name: "P"}
		class.Subroutines.Set("get", jack.Subroutine{Name: "get", Type: jack.Method, Return: jack.DataType{Main: jack.Int}})

		lowerer := jack.NewLowerer(jack.Program{"P": class})

		if _, err := lowerer.HandleFuncCallExpr(jack.FuncCallExpr{IsExtCall: true, Var: "P", FuncName: "get"}); err == nil {
			t.Fatal("expected an error, 'get' is a method and requires an instance")
		}
	})
}
