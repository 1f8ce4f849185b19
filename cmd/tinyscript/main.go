package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"

	tinyscript "github.com/tsvm/tinyscript"
)

// args mirrors the teacher's own arg struct in cmd/langlang/main.go:
// one *string/*bool/*int field per flag, populated by flag.Parse.
type args struct {
	scriptPath *string
	iterations *int

	dis         *bool
	interactive *bool
}

func readArgs() *args {
	a := &args{
		scriptPath:  flag.String("script", "", "Path to the script file"),
		iterations:  flag.Int("iterations", 1000, "Number of cycle-slices to run before giving up"),
		dis:         flag.Bool("dis", false, "Write the disassembly to stdout before running"),
		interactive: flag.Bool("interactive", false, "Run global init, then a REPL that calls top-level functions by name"),
	}
	flag.Parse()
	if *a.scriptPath == "" && flag.NArg() > 0 {
		*a.scriptPath = flag.Arg(0)
	}
	return a
}

func main() {
	a := readArgs()
	if *a.scriptPath == "" {
		log.Fatal("no script path given")
	}

	s := tinyscript.NewScript()
	if err := s.ParseFile(*a.scriptPath, *a.scriptPath); err != nil {
		log.Fatal(err)
	}
	if err := s.Compile(); err != nil {
		log.Fatal(err)
	}

	if *a.dis {
		out, err := s.Disassemble()
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(out)
	}

	if *a.interactive {
		runInteractive(s)
		return
	}

	if err := runSliced(s, *a.iterations); err != nil {
		// ExecuteSlice already dropped into the debugger for a RuntimeError;
		// any other error (parse/compile already handled above) is a
		// host-level failure.
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runSliced drives the cooperative cycle-limited call variant spec
// §4.6/§5 describes instead of a single blocking Run, demonstrating
// the Start/ExecuteSlice/Stop host API surface the CLI is meant to
// exercise (spec §6). Each slice respects vm.cycles_per_slice but runs
// long past it if the script is inside an atomic {...} block.
func runSliced(s *tinyscript.Script, maxSlices int) error {
	s.Start()
	for i := 0; i < maxSlices; i++ {
		halted, err := s.ExecuteSlice()
		if err != nil {
			return err
		}
		if halted {
			return nil
		}
	}
	return fmt.Errorf("script did not halt within %d slices", maxSlices)
}

// runInteractive is a REPL for invoking top-level functions by name,
// grounded on the teacher's own `-interactive` loop over
// bufio.NewReader(os.Stdin) in cmd/langlang/main.go.
func runInteractive(s *tinyscript.Script) {
	if err := s.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if line == "" && err != nil {
			fmt.Println()
			return
		}
		name := trimNewlineCLI(line)
		if name == "" {
			continue
		}
		h, callErr := s.CallFunction(name, nil)
		if callErr != nil {
			fmt.Println("ERROR: " + callErr.Error())
			continue
		}
		fmt.Println(tinyscript.FormatValue(s.Heap(), h))
	}
}

func trimNewlineCLI(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
