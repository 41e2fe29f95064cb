// Allot CLI - runs, disassembles and stores Allot programs
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/allot/library"
	"github.com/chazu/allot/manifest"
	"github.com/chazu/allot/pkg/bytecode"
	"github.com/chazu/allot/store"
	"github.com/chazu/allot/vm"
)

// exitFault is the process status when a program faults (EX_SOFTWARE).
const exitFault = 70

var log = commonlog.GetLogger("allot.cli")

func main() {
	verbose := flag.Bool("v", false, "Verbose output (debug logging)")
	debug := flag.Bool("debug", false, "Enable DBG and DUMP instructions")
	dir := flag.String("C", ".", "Project directory to search for allot.toml")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: allot [options] <command> [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  run [file.alb]            Run a program (default: [program] entry)\n")
		fmt.Fprintf(os.Stderr, "  dis <file.alb>            Disassemble a program\n")
		fmt.Fprintf(os.Stderr, "  store put <name> <file>   Save a program in the store\n")
		fmt.Fprintf(os.Stderr, "  store run <name>          Run a stored program\n")
		fmt.Fprintf(os.Stderr, "  store ls                  List stored programs\n")
		fmt.Fprintf(os.Stderr, "  store rm <name>           Delete a stored program\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nThe exit status of `run` is the program's halt code.\n")
	}
	flag.Parse()

	m, err := manifest.FindAndLoad(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
		os.Exit(1)
	}
	if m == nil {
		m = manifest.Default(*dir)
	}
	if *debug {
		m.Runtime.Debug = true
	}

	verbosity := m.Verbosity()
	if *verbose {
		verbosity = manifest.Verbosity(commonlog.Debug)
	}
	commonlog.Configure(verbosity, nil)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	switch args[0] {
	case "run":
		path := m.EntryPath()
		if len(args) > 1 {
			path = args[1]
		}
		if path == "" {
			fmt.Fprintln(os.Stderr, "Error: no program given and no [program] entry in allot.toml")
			os.Exit(2)
		}
		p, err := bytecode.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(execute(m, p))

	case "dis":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: dis requires a program file")
			os.Exit(2)
		}
		p, err := bytecode.ReadFile(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(vm.Disassemble(p))

	case "store":
		os.Exit(handleStoreCommand(m, args[1:]))

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", args[0])
		flag.Usage()
		os.Exit(2)
	}
}

// execute runs p under the manifest's runtime settings and returns the
// process exit status.
func execute(m *manifest.Manifest, p vm.Program) int {
	opts := []vm.Option{
		vm.WithNatives(library.Default()),
		vm.WithDebug(m.Runtime.Debug),
		vm.WithFrameCapacity(m.Runtime.FrameCapacity),
	}
	if path := m.DumpPath(); path != "" && m.Runtime.Debug {
		f, err := os.Create(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		defer f.Close()
		opts = append(opts, vm.WithDumpWriter(f))
	}

	machine := vm.New(p, opts...)
	defer machine.Close()

	code, err := machine.Run()
	if err != nil {
		var fault *vm.Fault
		if errors.As(err, &fault) {
			log.Errorf("vm %s faulted after %d steps", machine.ID(), machine.Steps())
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFault
	}
	log.Infof("vm %s halted with %d", machine.ID(), code)
	return int(code)
}

// handleStoreCommand processes the `allot store` subcommands.
func handleStoreCommand(m *manifest.Manifest, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Error: store requires a subcommand (put, run, ls, rm)")
		return 2
	}

	s, err := store.Open(m.StorePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer s.Close()

	switch args[0] {
	case "put":
		if len(args) != 3 {
			fmt.Fprintln(os.Stderr, "Error: usage: allot store put <name> <file.alb>")
			return 2
		}
		p, err := bytecode.ReadFile(args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		hash, err := s.Put(args[1], p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("%s %s\n", args[1], hash)

	case "run":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "Error: usage: allot store run <name>")
			return 2
		}
		p, err := s.Get(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return execute(m, p)

	case "ls":
		entries, err := s.List()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		printEntries(os.Stdout, entries)

	case "rm":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "Error: usage: allot store rm <name>")
			return 2
		}
		if err := s.Delete(args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown store command %q\n", args[0])
		return 2
	}
	return 0
}

func printEntries(w io.Writer, entries []store.Entry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tHASH\tSIZE\tCREATED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", e.Name, e.Hash[:12], e.Size, e.Created.Format("2006-01-02 15:04:05"))
	}
	tw.Flush()
}
