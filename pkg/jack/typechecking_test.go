package jack_test

import (
	"strings"
	"testing"

	"n2t.dev/toolchain/pkg/jack"
)

func TestTypeCheckerDuplicateDeclarations(t *testing.T) {
	t.Run("duplicate class member is rejected", func(t *testing.T) {
		class, err := jack.NewParser(strings.NewReader(`
			class Main {
				field int x;
				method int x() { return 0; }
			}
		`)).Parse()
		if err != nil {
			t.Fatalf("unexpected parse error: %v", err)
		}

		tc := jack.NewTypeChecker(jack.Program{"Main": class})
		if _, err := tc.Check(); err == nil {
			t.Fatal("expected an error, 'x' is declared as both a field and a subroutine")
		}
	})

	t.Run("duplicate parameter is rejected", func(t *testing.T) {
		class, err := jack.NewParser(strings.NewReader(`
			class Main {
				function void main(int a, int a) {
					return;
				}
			}
		`)).Parse()
		if err != nil {
			t.Fatalf("unexpected parse error: %v", err)
		}

		tc := jack.NewTypeChecker(jack.Program{"Main": class})
		if _, err := tc.Check(); err == nil {
			t.Fatal("expected an error, 'a' is declared twice as a parameter")
		}
	})
}

func TestTypeCheckerUnresolvedReference(t *testing.T) {
	class, err := jack.NewParser(strings.NewReader(`
		class Main {
			function void main() {
				let y = 1;
				return;
			}
		}
	`)).Parse()
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}

	tc := jack.NewTypeChecker(jack.Program{"Main": class})
	if _, err := tc.Check(); err == nil {
		t.Fatal("expected an error, 'y' is never declared")
	}
}

func TestTypeCheckerExternalCallFallback(t *testing.T) {
	t.Run("unresolved class name is treated as a valid static call", func(t *testing.T) {
		class, err := jack.NewParser(strings.NewReader(`
			class Main {
				function void main() {
					do Memory.alloc(1);
					return;
				}
			}
		`)).Parse()
		if err != nil {
			t.Fatalf("unexpected parse error: %v", err)
		}

		tc := jack.NewTypeChecker(jack.Program{"Main": class})
		if _, err := tc.Check(); err != nil {
			t.Fatalf("expected 'Memory.alloc' to pass as an unverifiable static call, got: %v", err)
		}
	})

	t.Run("known class with an undeclared subroutine is still rejected", func(t *testing.T) {
		other := jack.Class{Name: "Other"}

		class, err := jack.NewParser(strings.NewReader(`
			class Main {
				function void main() {
					do Other.missing();
					return;
				}
			}
		`)).Parse()
		if err != nil {
			t.Fatalf("unexpected parse error: %v", err)
		}

		tc := jack.NewTypeChecker(jack.Program{"Main": class, "Other": other})
		if _, err := tc.Check(); err == nil {
			t.Fatal("expected an error, 'Other' is known but declares no 'missing' subroutine")
		}
	})
}
