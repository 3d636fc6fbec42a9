package vm

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"n2t.dev/toolchain/pkg/asm"
)

// ----------------------------------------------------------------------------
// Vm Lowerer

// The Lowerer takes a 'vm.Program' (one or more translation units/modules) and produces
// its 'asm.Program' counterpart, implementing the nand2tetris stack machine calling
// convention: segment access, the 9 arithmetic/logical ops, branching and the full
// call/return frame save-and-restore sequence.
//
// Modules are lowered in alphabetical order of their name (not Go's randomized map
// iteration order) so that two runs over the same input always produce byte-identical
// output: compare-operation and call-site labels are numbered by a monotonic counter
// that would otherwise depend on iteration order.
type Lowerer struct {
	program      Program
	currentFunc  string // Fully qualified name of the function currently being lowered, used to scope labels
	compareCount uint   // Monotonic counter, used to keep 'eq'/'gt'/'lt' labels unique across the whole program
	callCount    uint   // Monotonic counter, used to keep call return-address labels unique across the whole program
}

// Initializes and returns to the caller a brand new 'Lowerer' struct.
func NewLowerer(p Program) Lowerer {
	return Lowerer{program: p}
}

// Triggers the lowering process, module by module, in alphabetical order of module name.
func (l *Lowerer) Lower() (asm.Program, error) {
	names := make([]string, 0, len(l.program))
	for name := range l.program {
		names = append(names, name)
	}
	sort.Strings(names)

	out := asm.Program{}
	for _, name := range names {
		moduleOut, err := l.lowerModule(name, l.program[name])
		if err != nil {
			return nil, fmt.Errorf("module '%s': %w", name, err)
		}
		out = append(out, moduleOut...)
	}

	return out, nil
}

// Produces the bootstrap code that must be prepended to a multi-module (directory mode)
// translation: sets the Stack Pointer to its base address and calls 'Sys.init'.
func (l *Lowerer) Bootstrap() asm.Program {
	out := asm.Program{
		asm.AInstruction{Location: "256"},
		asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	}

	call, _ := l.HandleFuncCallOp(FuncCallOp{Name: "Sys.init", NArgs: 0})
	return append(out, call...)
}

// Lowers a single module/translation unit, dispatching one operation at a time.
func (l *Lowerer) lowerModule(name string, module Module) (asm.Program, error) {
	l.currentFunc = "" // Labels declared before any function is seen are emitted unprefixed
	base := moduleBaseName(name)

	out := asm.Program{}
	for _, operation := range module {
		var inst asm.Program
		var err error

		switch tOperation := operation.(type) {
		case MemoryOp:
			inst, err = l.HandleMemoryOp(base, tOperation)
		case ArithmeticOp:
			inst, err = l.HandleArithmeticOp(tOperation)
		case LabelDecl:
			inst, err = l.HandleLabelDecl(tOperation)
		case GotoOp:
			inst, err = l.HandleGotoOp(tOperation)
		case FuncDecl:
			inst, err = l.HandleFuncDecl(tOperation)
		case FuncCallOp:
			inst, err = l.HandleFuncCallOp(tOperation)
		case ReturnOp:
			inst, err = l.HandleReturnOp()
		default:
			return nil, fmt.Errorf("unrecognized operation '%T'", operation)
		}

		if err != nil {
			return nil, err
		}
		out = append(out, inst...)
	}

	return out, nil
}

// Strips the extension from a module name (e.g. "Foo.vm" -> "Foo"), used to build the
// per-module prefix for 'static' segment variables.
func moduleBaseName(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// Scopes a user defined label to the function currently being lowered, matching the
// 'FunctionName$label' convention so the same label text can be reused across functions.
func (l *Lowerer) scopedLabel(label string) string {
	if l.currentFunc == "" {
		return label
	}
	return fmt.Sprintf("%s$%s", l.currentFunc, label)
}

// ----------------------------------------------------------------------------
// Memory Op

// Specialized function to convert a 'vm.MemoryOp' to its 'asm.Instruction' sequence.
func (l *Lowerer) HandleMemoryOp(module string, op MemoryOp) (asm.Program, error) {
	switch op.Segment {
	case Constant:
		if op.Operation != Push {
			return nil, fmt.Errorf("cannot 'pop' into the virtual 'constant' segment")
		}
		return pushConstant(op.Offset), nil

	case Local, Argument, This, That:
		base := segmentBase[op.Segment]
		if op.Operation == Push {
			return asm.Program{
				asm.AInstruction{Location: fmt.Sprint(op.Offset)},
				asm.CInstruction{Dest: "D", Comp: "A"},
				asm.AInstruction{Location: base},
				asm.CInstruction{Dest: "A", Comp: "D+M"},
				asm.CInstruction{Dest: "D", Comp: "M"},
				asm.AInstruction{Location: "SP"},
				asm.CInstruction{Dest: "A", Comp: "M"},
				asm.CInstruction{Dest: "M", Comp: "D"},
				asm.AInstruction{Location: "SP"},
				asm.CInstruction{Dest: "M", Comp: "M+1"},
			}, nil
		}
		return asm.Program{
			asm.AInstruction{Location: fmt.Sprint(op.Offset)},
			asm.CInstruction{Dest: "D", Comp: "A"},
			asm.AInstruction{Location: base},
			asm.CInstruction{Dest: "D", Comp: "D+M"},
			asm.AInstruction{Location: "R13"},
			asm.CInstruction{Dest: "M", Comp: "D"},
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "AM", Comp: "M-1"},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: "R13"},
			asm.CInstruction{Dest: "A", Comp: "M"},
			asm.CInstruction{Dest: "M", Comp: "D"},
		}, nil

	case Temp:
		if op.Offset > 7 {
			return nil, fmt.Errorf("invalid 'temp' offset, got %d", op.Offset)
		}
		address := fmt.Sprint(5 + op.Offset)
		if op.Operation == Push {
			return asm.Program{
				asm.AInstruction{Location: address},
				asm.CInstruction{Dest: "D", Comp: "M"},
				asm.AInstruction{Location: "SP"},
				asm.CInstruction{Dest: "A", Comp: "M"},
				asm.CInstruction{Dest: "M", Comp: "D"},
				asm.AInstruction{Location: "SP"},
				asm.CInstruction{Dest: "M", Comp: "M+1"},
			}, nil
		}
		return asm.Program{
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "AM", Comp: "M-1"},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: address},
			asm.CInstruction{Dest: "M", Comp: "D"},
		}, nil

	case Pointer:
		if op.Offset > 1 {
			return nil, fmt.Errorf("invalid 'pointer' offset, got %d", op.Offset)
		}
		target := "THIS"
		if op.Offset == 1 {
			target = "THAT"
		}
		if op.Operation == Push {
			return asm.Program{
				asm.AInstruction{Location: target},
				asm.CInstruction{Dest: "D", Comp: "M"},
				asm.AInstruction{Location: "SP"},
				asm.CInstruction{Dest: "A", Comp: "M"},
				asm.CInstruction{Dest: "M", Comp: "D"},
				asm.AInstruction{Location: "SP"},
				asm.CInstruction{Dest: "M", Comp: "M+1"},
			}, nil
		}
		return asm.Program{
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "AM", Comp: "M-1"},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: target},
			asm.CInstruction{Dest: "M", Comp: "D"},
		}, nil

	case Static:
		name := fmt.Sprintf("%s.%d", module, op.Offset)
		if op.Operation == Push {
			return asm.Program{
				asm.AInstruction{Location: name},
				asm.CInstruction{Dest: "D", Comp: "M"},
				asm.AInstruction{Location: "SP"},
				asm.CInstruction{Dest: "A", Comp: "M"},
				asm.CInstruction{Dest: "M", Comp: "D"},
				asm.AInstruction{Location: "SP"},
				asm.CInstruction{Dest: "M", Comp: "M+1"},
			}, nil
		}
		return asm.Program{
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "AM", Comp: "M-1"},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: name},
			asm.CInstruction{Dest: "M", Comp: "D"},
		}, nil
	}

	return nil, fmt.Errorf("unrecognized segment '%s'", op.Segment)
}

// Maps the real (non-virtual) segments to the built-in label that holds their base address.
var segmentBase = map[SegmentType]string{
	Local: "LCL", Argument: "ARG", This: "THIS", That: "THAT",
}

// Pushes a raw numeric constant onto the stack, also used to zero-initialize locals.
func pushConstant(value uint16) asm.Program {
	return asm.Program{
		asm.AInstruction{Location: fmt.Sprint(value)},
		asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "M+1"},
	}
}

// ----------------------------------------------------------------------------
// Arithmetic Op

// Specialized function to convert a 'vm.ArithmeticOp' to its 'asm.Instruction' sequence.
func (l *Lowerer) HandleArithmeticOp(op ArithmeticOp) (asm.Program, error) {
	switch op.Operation {
	case Neg:
		return asm.Program{
			asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "A", Comp: "M-1"},
			asm.CInstruction{Dest: "M", Comp: "-M"},
		}, nil
	case Not:
		return asm.Program{
			asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "A", Comp: "M-1"},
			asm.CInstruction{Dest: "M", Comp: "!M"},
		}, nil

	case Add, Sub, And, Or:
		comp := map[ArithOpType]string{Add: "D+M", Sub: "M-D", And: "D&M", Or: "D|M"}[op.Operation]
		return asm.Program{
			asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "AM", Comp: "M-1"},
			asm.CInstruction{Dest: "D", Comp: "M"}, asm.CInstruction{Dest: "A", Comp: "A-1"},
			asm.CInstruction{Dest: "M", Comp: comp},
		}, nil

	case Eq, Gt, Lt:
		jump := map[ArithOpType]string{Eq: "JEQ", Gt: "JGT", Lt: "JLT"}[op.Operation]
		l.compareCount++
		trueLabel := fmt.Sprintf("TRUE.%d", l.compareCount)
		endLabel := fmt.Sprintf("END.%d", l.compareCount)

		return asm.Program{
			asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "AM", Comp: "M-1"},
			asm.CInstruction{Dest: "D", Comp: "M"}, asm.CInstruction{Dest: "A", Comp: "A-1"},
			asm.CInstruction{Dest: "D", Comp: "M-D"},
			asm.AInstruction{Location: trueLabel}, asm.CInstruction{Comp: "D", Jump: jump},
			asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "A", Comp: "M-1"},
			asm.CInstruction{Dest: "M", Comp: "0"},
			asm.AInstruction{Location: endLabel}, asm.CInstruction{Comp: "0", Jump: "JMP"},
			asm.LabelDecl{Name: trueLabel},
			asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "A", Comp: "M-1"},
			asm.CInstruction{Dest: "M", Comp: "-1"},
			asm.LabelDecl{Name: endLabel},
		}, nil
	}

	return nil, fmt.Errorf("unrecognized arithmetic operation '%s'", op.Operation)
}

// ----------------------------------------------------------------------------
// Label, Branching and Function Ops

// Specialized function to convert a 'vm.LabelDecl' to its 'asm.Instruction' sequence.
func (l *Lowerer) HandleLabelDecl(op LabelDecl) (asm.Program, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to produce empty label declaration")
	}
	return asm.Program{asm.LabelDecl{Name: l.scopedLabel(op.Name)}}, nil
}

// Specialized function to convert a 'vm.GotoOp' to its 'asm.Instruction' sequence.
func (l *Lowerer) HandleGotoOp(op GotoOp) (asm.Program, error) {
	if op.Label == "" {
		return nil, fmt.Errorf("unable to produce empty jump label")
	}
	target := l.scopedLabel(op.Label)

	if op.Jump == Unconditional {
		return asm.Program{
			asm.AInstruction{Location: target},
			asm.CInstruction{Comp: "0", Jump: "JMP"},
		}, nil
	}

	return asm.Program{
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: target}, asm.CInstruction{Comp: "D", Jump: "JNE"},
	}, nil
}

// Specialized function to convert a 'vm.FuncDecl' to its 'asm.Instruction' sequence.
//
// Also switches the Lowerer's current function, scoping every label/goto encountered
// from this point on until the next 'FuncDecl'.
func (l *Lowerer) HandleFuncDecl(op FuncDecl) (asm.Program, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to produce empty function declaration")
	}
	l.currentFunc = op.Name

	out := asm.Program{asm.LabelDecl{Name: op.Name}}
	for i := uint8(0); i < op.NLocal; i++ {
		out = append(out, pushConstant(0)...)
	}
	return out, nil
}

// Specialized function to convert a 'vm.FuncCallOp' to its 'asm.Instruction' sequence.
//
// Saves the caller's frame (return address, LCL, ARG, THIS, THAT) on the stack, repoints
// ARG/LCL for the callee and transfers control, exactly as 'writeCall' does in the
// reference CodeWriter.
func (l *Lowerer) HandleFuncCallOp(op FuncCallOp) (asm.Program, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to produce empty function call")
	}
	l.callCount++
	retLabel := fmt.Sprintf("%s$ret.%d", op.Name, l.callCount)

	out := asm.Program{
		asm.AInstruction{Location: retLabel}, asm.CInstruction{Dest: "D", Comp: "A"},
	}
	out = append(out, pushD()...)
	for _, segment := range []string{"LCL", "ARG", "THIS", "THAT"} {
		out = append(out, asm.AInstruction{Location: segment}, asm.CInstruction{Dest: "D", Comp: "M"})
		out = append(out, pushD()...)
	}

	out = append(out,
		// ARG = SP - 5 - nArgs
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: strconv.Itoa(5 + int(op.NArgs))}, asm.CInstruction{Dest: "D", Comp: "D-A"},
		asm.AInstruction{Location: "ARG"}, asm.CInstruction{Dest: "M", Comp: "D"},
		// LCL = SP
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "LCL"}, asm.CInstruction{Dest: "M", Comp: "D"},
		// goto callee
		asm.AInstruction{Location: op.Name}, asm.CInstruction{Comp: "0", Jump: "JMP"},
		// (return address)
		asm.LabelDecl{Name: retLabel},
	)

	return out, nil
}

// Pushes the value currently held in the D register onto the stack.
func pushD() asm.Program {
	return asm.Program{
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "M", Comp: "M+1"},
	}
}

// Specialized function to convert a 'vm.ReturnOp' to its 'asm.Instruction' sequence.
//
// Restores the caller's frame purely from what 'HandleFuncCallOp' saved on the stack,
// using R13/R14 as scratch registers for the frame pointer and the return address.
func (l *Lowerer) HandleReturnOp() (asm.Program, error) {
	restore := func(dest string) asm.Program {
		return asm.Program{
			asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "AM", Comp: "M-1"},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: dest}, asm.CInstruction{Dest: "M", Comp: "D"},
		}
	}

	out := asm.Program{
		// R13 (FRAME) = LCL
		asm.AInstruction{Location: "LCL"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "M", Comp: "D"},
		// R14 (RET) = *(FRAME-5)
		asm.AInstruction{Location: "5"}, asm.CInstruction{Dest: "A", Comp: "D-A"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "R14"}, asm.CInstruction{Dest: "M", Comp: "D"},
		// *ARG = pop()
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "ARG"}, asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		// SP = ARG+1
		asm.AInstruction{Location: "ARG"}, asm.CInstruction{Dest: "D", Comp: "M+1"},
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "M", Comp: "D"},
	}
	out = append(out, restore("THAT")...)
	out = append(out, restore("THIS")...)
	out = append(out, restore("ARG")...)
	out = append(out, restore("LCL")...)
	out = append(out,
		asm.AInstruction{Location: "R14"}, asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
	)

	return out, nil
}
