// Corvid CLI - runs compiled Corvid images.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/corvid-lang/corvid/vm"
	"github.com/corvid-lang/corvid/vm/image"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose logging")
	trace := flag.Int("trace", 0, "Trace level: 0 off, 1 frames, 2 instructions")
	storePath := flag.String("store", "", "Code store path (run an entry by hash)")
	listStore := flag.Bool("list", false, "List the code store contents and exit")
	disasm := flag.Bool("d", false, "Disassemble instead of running")
	gcAtExit := flag.Bool("gc-stats", false, "Collect garbage at exit and print stats")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: corvid [options] <image-file | hash>\n\n")
		fmt.Fprintf(os.Stderr, "Runs a compiled Corvid image. With -store, the argument is a\n")
		fmt.Fprintf(os.Stderr, "content hash looked up in the given code store.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  corvid main.crvi                  # Run an image file\n")
		fmt.Fprintf(os.Stderr, "  corvid -d main.crvi               # Disassemble an image file\n")
		fmt.Fprintf(os.Stderr, "  corvid -store code.db -list       # List stored code objects\n")
		fmt.Fprintf(os.Stderr, "  corvid -store code.db <hash>      # Run a stored code object\n")
	}
	flag.Parse()

	if *verbose {
		commonlog.Configure(1, nil)
	}

	cfg, found, err := vm.FindAndLoadConfig(".")
	if err != nil {
		fail("config: %v", err)
	}
	if *trace > 0 {
		cfg.TraceLevel = *trace
	}
	if found && *verbose {
		fmt.Fprintln(os.Stderr, "loaded corvid.toml")
	}

	if *listStore {
		if *storePath == "" {
			fail("-list requires -store")
		}
		listEntries(*storePath)
		return
	}

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	code, err := loadCode(flag.Arg(0), *storePath)
	if err != nil {
		fail("%v", err)
	}

	if *disasm {
		fmt.Print(vm.Disassemble(code))
		return
	}

	machine := vm.NewWithConfig(cfg)
	machine.RegistryGC().Start()
	defer machine.RegistryGC().Stop()

	relaySignals()

	result, exc := machine.Run(code)
	if exc != nil {
		fmt.Fprint(os.Stderr, exc.FormatTraceback())
		os.Exit(1)
	}
	if result != vm.Nil {
		fmt.Println(machine.ObjectModel().Repr(machine, result))
	}

	if *gcAtExit {
		stats := machine.RegistryGC().CollectGarbage()
		fmt.Fprintf(os.Stderr, "gc: swept %d, live %d, took %s\n",
			stats.TotalSwept, stats.Live, stats.SweepDuration)
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "corvid: "+format+"\n", args...)
	os.Exit(1)
}

// loadCode reads the entry code object from a file or, with a store
// path, from the content-addressed store.
func loadCode(arg, storePath string) (*vm.CodeObject, error) {
	if storePath != "" {
		store, err := image.OpenStore(storePath)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return store.Get(arg)
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return nil, err
	}
	return image.Decode(data)
}

func listEntries(storePath string) {
	store, err := image.OpenStore(storePath)
	if err != nil {
		fail("%v", err)
	}
	defer store.Close()

	entries, err := store.List()
	if err != nil {
		fail("%v", err)
	}
	for _, e := range entries {
		fmt.Printf("%s  %s\n", e.Hash, e.Name)
	}
}

// relaySignals forwards SIGINT to the VM's pending-signal flags so it
// surfaces as a guest Interrupt at the next safe point.
func relaySignals() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	go func() {
		for range ch {
			vm.TriggerSignal(int(syscall.SIGINT))
		}
	}()
}
