package tinyscript

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tsvm/tinyscript/ascii"
)

// Debugger is the REPL spec §4.10 drops the host into on a RuntimeError:
// it always prints the call-record trace first, then reads commands
// from in until `stop`. Grounded on the teacher's `-interactive` REPL
// loop in cmd/langlang/main.go (bufio.NewReader(os.Stdin), one command
// per line; blank lines are skipped, and `stop` or EOF exits).
type Debugger struct {
	vm  *VM
	reg *ModuleRegistry
	out io.Writer
	in  *bufio.Reader
}

func NewDebugger(vm *VM, reg *ModuleRegistry, in io.Reader, out io.Writer) *Debugger {
	return &Debugger{vm: vm, reg: reg, in: bufio.NewReader(in), out: out}
}

// Run prints rerr's trace and then services commands until `stop` or
// EOF.
func (d *Debugger) Run(rerr RuntimeError) {
	fmt.Fprintln(d.out, ascii.Color(ascii.DefaultTheme.Error, "runtime error: %s", rerr.Message))
	for i := len(rerr.Trace) - 1; i >= 0; i-- {
		fmt.Fprintf(d.out, "  at %s\n", rerr.Trace[i])
	}
	for {
		fmt.Fprint(d.out, "> ")
		line, err := d.in.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" && err != nil {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "stop":
			return
		case "list":
			n := 3
			if len(fields) > 1 {
				if v, convErr := strconv.Atoi(fields[1]); convErr == nil {
					n = v
				}
			}
			d.list(n)
		case "local":
			if len(fields) < 2 {
				fmt.Fprintln(d.out, "usage: local <name>")
				continue
			}
			d.local(fields[1])
		case "stack":
			d.stack()
		default:
			fmt.Fprintf(d.out, "unknown command %q (try: list, local, stack, stop)\n", fields[0])
		}
		if err != nil {
			return
		}
	}
}

func (d *Debugger) topFrame() (*Frame, *FuncDecl) {
	if len(d.vm.frames) == 0 {
		return nil, nil
	}
	f := &d.vm.frames[len(d.vm.frames)-1]
	fd := d.vm.prog.FuncByIdx[f.FuncIndex]
	return f, fd
}

func (d *Debugger) list(distance int) {
	f, _ := d.topFrame()
	if f == nil {
		fmt.Fprintln(d.out, "no active frame")
		return
	}
	loc := f.CallSite
	mod := d.findModule(loc.File)
	if mod == nil || mod.Lines == nil {
		fmt.Fprintln(d.out, "no source available")
		return
	}
	for ln := int(loc.Line) - distance; ln <= int(loc.Line)+distance; ln++ {
		text := mod.Lines.Line(ln)
		if ln < 1 {
			continue
		}
		marker := "  "
		if int32(ln) == loc.Line {
			marker = ascii.Color(ascii.DefaultTheme.Accent, "->")
		}
		fmt.Fprintf(d.out, "%s %4d  %s\n", marker, ln, text)
	}
}

func (d *Debugger) findModule(file string) *Module {
	for _, m := range d.reg.Modules() {
		if m.LocalPath == file || m.Name == file {
			return m
		}
	}
	return nil
}

func (d *Debugger) local(name string) {
	f, fd := d.topFrame()
	if f == nil || fd == nil {
		fmt.Fprintln(d.out, "no active frame")
		return
	}
	if decl := findVarByName(fd, name); decl != nil {
		h := d.vm.stack.at(f.FP + decl.Offset)
		fmt.Fprintf(d.out, "%s = %s\n", name, FormatValue(d.vm.heap, h))
		return
	}
	fmt.Fprintf(d.out, "no local or argument named %q in %s\n", name, fd.Name)
}

func (d *Debugger) stack() {
	f, fd := d.topFrame()
	if f == nil || fd == nil {
		fmt.Fprintln(d.out, "no active frame")
		return
	}
	decls := append(append([]*VarDecl{}, fd.Args...), fd.Locals...)
	for _, decl := range decls {
		h := d.vm.stack.at(f.FP + decl.Offset)
		kind := "local"
		if decl.IsArg {
			kind = "arg"
		}
		fmt.Fprintf(d.out, "  [%d] %s %s = %s\n", decl.Offset, kind, decl.Name, FormatValue(d.vm.heap, h))
	}
}

func findVarByName(fd *FuncDecl, name string) *VarDecl {
	for _, a := range fd.Args {
		if a.Name == name {
			return a
		}
	}
	for _, l := range fd.Locals {
		if l.Name == name {
			return l
		}
	}
	return nil
}
