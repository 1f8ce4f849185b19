package tinyscript

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// compileSource runs a single in-memory module through the full
// parse -> struct-tag checks -> link-externs -> compile-time-driver
// (which resolves and emits) pipeline and
// returns the compiled program, its module registry, and the
// diagnostics collected along the way, mirroring Script.Compile's own
// sequence but keeping the Diagnostics visible for assertions.
func compileSource(t *testing.T, src string) (*Program, *ModuleRegistry, *Diagnostics) {
	t.Helper()
	reg := NewModuleRegistry(NewInMemoryModuleLoader())
	mod := reg.AddSource("scenario.ts", []byte(src))
	require.NoError(t, ParseModule(reg, mod))
	require.NoError(t, reg.CheckAllTagsDefined())
	require.NoError(t, reg.FinalizeAllStructs())

	bridge := NewExternBridge()
	RegisterBuiltins(bridge)
	RegisterMetaprogramming(bridge)
	require.NoError(t, LinkExterns(reg, bridge))

	driver := NewCompileTimeDriver(reg, NewConfig(), bridge)
	prog, diags := driver.Compile()
	require.False(t, diags.HasErrors(), "unexpected compile errors: %v", diags.Errors)
	return prog, reg, diags
}

func funcByName(reg *ModuleRegistry, name string) *FuncDecl {
	for _, m := range reg.Modules() {
		for _, fd := range m.Functions {
			if fd.Kind == FuncKindFunction && fd.Name == name {
				return fd
			}
		}
	}
	return nil
}

// captureStdout redirects os.Stdout for the duration of fn and returns
// everything written to it.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	old := os.Stdout
	os.Stdout = w
	fn()
	require.NoError(t, w.Close())
	os.Stdout = old
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}

// E1 from spec §8: FizzBuzz over 1..15, written one value per line.
func TestScenarioFizzBuzz(t *testing.T) {
	src := `
func run() {
	for var i = 1, i <= 15, i = i + 1 {
		if (i % 15 == 0) {
			write "FizzBuzz";
		} else {
			if (i % 3 == 0) {
				write "Fizz";
			} else {
				if (i % 5 == 0) {
					write "Buzz";
				} else {
					write i;
				}
			}
		}
	}
}
`
	prog, reg, _ := compileSource(t, src)
	fd := funcByName(reg, "run")
	require.NotNil(t, fd)
	vm := NewVM(prog, NewConfig(), func() *ExternBridge { b := NewExternBridge(); RegisterBuiltins(b); return b }())
	require.NoError(t, vm.Start())

	out := captureStdout(t, func() {
		_, err := vm.CallFunction(fd.GlobalIndex, nil)
		require.NoError(t, err)
	})

	expected := "1\n2\nFizz\n4\nBuzz\nFizz\n7\n8\nFizz\nBuzz\n11\nFizz\n13\n14\nFizzBuzz\n"
	require.Equal(t, expected, out)
}

// E2 from spec §8: struct with `using` flattening.
func TestScenarioStructUsing(t *testing.T) {
	src := `
struct Point { x:number=0; y:number=0; }
struct Colored { using Point; c:number=0; }
func run():number {
	var p = new Colored { x=1, y=2, c=3 };
	return p.x + p.y + p.c;
}
`
	prog, reg, _ := compileSource(t, src)
	fd := funcByName(reg, "run")
	require.NotNil(t, fd)
	bridge := NewExternBridge()
	RegisterBuiltins(bridge)
	vm := NewVM(prog, NewConfig(), bridge)
	require.NoError(t, vm.Start())

	h, err := vm.CallFunction(fd.GlobalIndex, nil)
	require.NoError(t, err)
	require.Equal(t, "6", FormatValue(vm.Heap(), h))
}

// E3 from spec §8: method-call dispatch via `recv:method(args)`.
func TestScenarioMethodDispatch(t *testing.T) {
	src := `
struct Box {
	v:number=0;
	func sum(a:number):number { return self.v + a; }
}
func run():number {
	return new Box { v=10 }:sum(5);
}
`
	prog, reg, _ := compileSource(t, src)
	fd := funcByName(reg, "run")
	require.NotNil(t, fd)
	bridge := NewExternBridge()
	RegisterBuiltins(bridge)
	vm := NewVM(prog, NewConfig(), bridge)
	require.NoError(t, vm.Start())

	h, err := vm.CallFunction(fd.GlobalIndex, nil)
	require.NoError(t, err)
	require.Equal(t, "15", FormatValue(vm.Heap(), h))
}

// E4 from spec §8: a dynamically-typed array literal is allowed and
// promotes `len` to work over it, but emits exactly one
// dynamic_array_literal warning.
func TestScenarioDynamicArrayPromotion(t *testing.T) {
	src := `
func run():number {
	var a = [1, "two"];
	return len a;
}
`
	prog, reg, diags := compileSource(t, src)
	fd := funcByName(reg, "run")
	require.NotNil(t, fd)

	var hits int
	for _, w := range diags.Warnings {
		if w.Kind == WarnDynamicArrayLiteral {
			hits++
		}
	}
	require.Equal(t, 1, hits)

	bridge := NewExternBridge()
	RegisterBuiltins(bridge)
	vm := NewVM(prog, NewConfig(), bridge)
	require.NoError(t, vm.Start())
	h, err := vm.CallFunction(fd.GlobalIndex, nil)
	require.NoError(t, err)
	require.Equal(t, "2", FormatValue(vm.Heap(), h))
}

// E6 from spec §8: recursive factorial, f64-formatted like Go's %g.
func TestScenarioRecursiveFactorial(t *testing.T) {
	src := `
func fact(n:number):number {
	if (n < 2) {
		return 1;
	} else {
		return n * fact(n - 1);
	}
}
`
	prog, reg, _ := compileSource(t, src)
	fd := funcByName(reg, "fact")
	require.NotNil(t, fd)
	bridge := NewExternBridge()
	RegisterBuiltins(bridge)
	vm := NewVM(prog, NewConfig(), bridge)
	require.NoError(t, vm.Start())

	h, err := vm.CallFunction(fd.GlobalIndex, []Handle{vm.Heap().AllocNumber(10)})
	require.NoError(t, err)
	require.Equal(t, "3.6288e+06", FormatValue(vm.Heap(), h))
}

// E5 from spec §8: a #on_compile block injects a `write 42` into its
// own module via the metaprogramming extern catalog, and that
// injected statement actually runs as part of global init once the
// driver's second pass re-emits the (now-mutated) AST.
func TestScenarioCompileTimeExprInjection(t *testing.T) {
	src := `
extern get_current_module_index(): number;
extern make_num_expr(n:number): native;
extern make_write_expr(v:native): native;
extern add_expr_to_module(m:number, e:native): void;

#on_compile add_expr_to_module(get_current_module_index(), make_write_expr(make_num_expr(42)));
`
	prog, _, _ := compileSource(t, src)
	bridge := NewExternBridge()
	RegisterBuiltins(bridge)
	RegisterMetaprogramming(bridge)
	vm := NewVM(prog, NewConfig(), bridge)

	out := captureStdout(t, func() {
		require.NoError(t, vm.Start())
	})
	require.Equal(t, "42\n", out)
}

// Diagnostic sanity check: a genuinely undeclared identifier is a
// resolve-time SymbolError, not a panic or a silent pass.
func TestScenarioUndeclaredIdentifierIsResolveError(t *testing.T) {
	reg := NewModuleRegistry(NewInMemoryModuleLoader())
	mod := reg.AddSource("bad.ts", []byte(`
func run():number { return missing_name; }
`))
	require.NoError(t, ParseModule(reg, mod))
	require.NoError(t, reg.CheckAllTagsDefined())
	require.NoError(t, reg.FinalizeAllStructs())

	bridge := NewExternBridge()
	RegisterBuiltins(bridge)
	require.NoError(t, LinkExterns(reg, bridge))

	driver := NewCompileTimeDriver(reg, NewConfig(), bridge)
	_, diags := driver.Compile()
	require.True(t, diags.HasErrors())
}
