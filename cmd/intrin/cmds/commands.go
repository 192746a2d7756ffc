package cmds

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/go-delve/intrinsics/cmd/intrin/cmds/helphelpers"
	"github.com/go-delve/intrinsics/pkg/config"
	"github.com/go-delve/intrinsics/pkg/intrinsic"
	"github.com/go-delve/intrinsics/pkg/logflags"
	"github.com/go-delve/intrinsics/pkg/terminal"
	"github.com/go-delve/intrinsics/pkg/thunk"
	"github.com/go-delve/intrinsics/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// strict makes unsupported intrinsics an error instead of a fallback.
	strict bool
	// initFile is the path to initialization file.
	initFile string

	// featuresAll lists every known feature, not only the supported ones.
	featuresAll bool
	// cpuidFresh bypasses the leaf cache.
	cpuidFresh bool
	// count is the number of values printed by rand and tsc.
	count int
	// useSeed makes rand read RDSEED instead of RDRAND.
	useSeed bool
	// tscVariant overrides the configured timestamp counter variant.
	tscVariant string
	// syntax is the assembly syntax used by disasm.
	syntax string
	// bits selects the 32 or 64 bit code of disasm.
	bits int
	// verbose makes version print the build information.
	verbose bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config

	// newCode, when set, replaces the executable memory of every
	// intrinsic.
	newCode func() intrinsic.Code
)

const intrinCommandLongDesc = `Intrin executes processor intrinsics through small machine code thunks.

It reads CPUID, the timestamp counter and the RDRAND and RDSEED random number
generators, probing each instruction before its first use and falling back to
a software implementation when the processor lacks it.`

// New returns an initialized command tree.
func New(docCall bool) *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	// Main intrin root command.
	rootCommand = &cobra.Command{
		Use:          "intrin",
		Short:        "Intrin executes processor intrinsics.",
		Long:         intrinCommandLongDesc,
		SilenceUsage: true,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'intrin help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'intrin help log').")
	rootCommand.PersistentFlags().BoolVarP(&strict, "strict", "", false, "Fail instead of falling back when an intrinsic is not available.")

	// 'info' subcommand.
	infoCommand := &cobra.Command{
		Use:   "info",
		Short: "Describes the processor and the state of every intrinsic.",
		Args:  cobra.NoArgs,
		RunE:  infoCmd,
	}
	rootCommand.AddCommand(infoCommand)

	// 'features' subcommand.
	featuresCommand := &cobra.Command{
		Use:   "features [prefix]",
		Short: "Lists the features of the processor.",
		Long: `Lists the features the processor reports through CPUID.

If a prefix is specified only features whose name starts with it are listed.
With --all unsupported features are listed too.`,
		Args: cobra.MaximumNArgs(1),
		RunE: featuresCmd,
	}
	featuresCommand.Flags().BoolVar(&featuresAll, "all", false, "List unsupported features too.")
	rootCommand.AddCommand(featuresCommand)

	// 'cpuid' subcommand.
	cpuidCommand := &cobra.Command{
		Use:   "cpuid leaf [subleaf]",
		Short: "Executes CPUID.",
		Long: `Executes CPUID with EAX set to leaf and ECX set to subleaf and prints the
four output registers. Numbers can be written in decimal or hexadecimal.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: cpuidCmd,
	}
	cpuidCommand.Flags().BoolVar(&cpuidFresh, "fresh", false, "Do not use cached results.")
	rootCommand.AddCommand(cpuidCommand)

	// 'rand' subcommand.
	randCommand := &cobra.Command{
		Use:   "rand",
		Short: "Prints random numbers from RDRAND or RDSEED.",
		Long: `Prints random numbers from RDRAND, or RDSEED with --seed.

When the processor lacks the instruction the numbers are derived from the
timestamp counter, which is not suitable for cryptographic use.`,
		Args: cobra.NoArgs,
		RunE: randCmd,
	}
	randCommand.Flags().IntVarP(&count, "count", "n", 1, "Number of values to print.")
	randCommand.Flags().BoolVar(&useSeed, "seed", false, "Use RDSEED.")
	rootCommand.AddCommand(randCommand)

	// 'tsc' subcommand.
	tscCommand := &cobra.Command{
		Use:   "tsc",
		Short: "Reads the timestamp counter.",
		Long: `Reads the timestamp counter and prints each value with the difference from
the previous one.

The --variant flag selects the instruction sequence:

	auto		rdtscp if available, then lfence, then rdtsc
	rdtsc		RDTSC, which may execute out of order
	lfence		LFENCE followed by RDTSC
	rdtscp		RDTSCP
	cpuid		CPUID followed by RDTSC
`,
		Args: cobra.NoArgs,
		RunE: tscCmd,
	}
	tscCommand.Flags().IntVarP(&count, "count", "n", 1, "Number of readings.")
	tscCommand.Flags().StringVar(&tscVariant, "variant", "", "Timestamp counter variant.")
	rootCommand.AddCommand(tscCommand)

	// 'disasm' subcommand.
	disasmCommand := &cobra.Command{
		Use:   "disasm [intrinsic]",
		Short: "Disassembles the machine code of an intrinsic.",
		Long: `Disassembles the machine code executed for an intrinsic. Without arguments
every intrinsic is disassembled.`,
		Args: cobra.MaximumNArgs(1),
		RunE: disasmCmd,
	}
	disasmCommand.Flags().StringVar(&syntax, "syntax", "intel", "Assembly syntax: intel, gnu or go.")
	disasmCommand.Flags().IntVar(&bits, "bits", 0, "Disassemble the 32 or 64 bit code, defaults to the running process.")
	rootCommand.AddCommand(disasmCommand)

	// 'repl' subcommand.
	replCommand := &cobra.Command{
		Use:   "repl",
		Short: "Starts an interactive terminal.",
		Long: `Starts an interactive terminal where every intrinsic can be invoked.

Type 'help' in the terminal for the list of commands.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(replCmd(cmd))
		},
	}
	replCommand.Flags().StringVar(&initFile, "init", "", "Init file, executed by the terminal.")
	rootCommand.AddCommand(replCommand)

	// 'run' subcommand.
	runCommand := &cobra.Command{
		Use:   "run script",
		Short: "Runs a starlark script or a file of terminal commands.",
		Long: `Runs a script. Files with the .star extension are executed as starlark
scripts, their main function is called if they define one. Any other file
is read as a list of terminal commands, one per line.`,
		Args: cobra.ExactArgs(1),
		RunE: runCmd,
	}
	rootCommand.AddCommand(runCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Intrin\n%s\n", version.IntrinVersion)
			if verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&verbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:    "docs",
		Short:  "Writes the reference of the terminal commands.",
		Hidden: !docCall,
		Args:   cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			terminal.IntrinsicCommands().WriteMarkdown(cmd.OutOrStdout())
		},
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	thunk		Log allocation and protection of executable memory
	registry	Log intrinsic state changes
	cpuid		Log CPUID invocations
	tsc		Log timestamp counter variant selection
	rng		Log RDRAND and RDSEED retries and fallbacks
	terminal	Log terminal commands

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.

`,
	})

	rootCommand.DisableAutoGenTag = true

	usage := rootCommand.UsageFunc()
	rootCommand.SetUsageFunc(func(cmd *cobra.Command) error {
		helphelpers.Prepare(cmd)
		return usage(cmd)
	})

	return rootCommand
}

// intrinsicConfig converts the configuration file into the configuration
// of the intrinsics, disabling the intrinsics it lists in reg.
func intrinsicConfig(conf *config.Config, reg *intrinsic.Registry) (intrinsic.Config, error) {
	cfg := intrinsic.Config{
		Registry:    reg,
		NewCode:     newCode,
		Strict:      conf.Strict || strict,
		RandRetries: conf.RandRetries,
	}
	variant := conf.TSCVariant
	if tscVariant != "" {
		variant = tscVariant
	}
	var err error
	if cfg.TSCVariant, err = intrinsic.ParseTSCVariant(variant); err != nil {
		return cfg, err
	}
	for _, s := range conf.Disable {
		id, err := intrinsic.ParseID(strings.TrimSpace(s))
		if err != nil {
			return cfg, fmt.Errorf("disable: %w", err)
		}
		reg.Disable(id)
	}
	return cfg, nil
}

// setup configures logging and constructs the intrinsics. The returned
// function releases them.
func setup() (*intrinsic.Intrinsics, *intrinsic.Registry, func(), error) {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		return nil, nil, nil, err
	}
	reg := intrinsic.NewRegistry()
	cfg, err := intrinsicConfig(conf, reg)
	if err != nil {
		logflags.Close()
		return nil, nil, nil, err
	}
	in, err := intrinsic.New(cfg)
	if err != nil {
		logflags.Close()
		return nil, nil, nil, err
	}
	return in, reg, func() {
		in.Close()
		logflags.Close()
	}, nil
}

func infoCmd(cmd *cobra.Command, args []string) error {
	in, reg, done, err := setup()
	if err != nil {
		return err
	}
	defer done()

	out := cmd.OutOrStdout()
	topo := in.CPU.Topology()
	w := tabwriter.NewWriter(out, 0, 8, 1, ' ', 0)
	fmt.Fprintf(w, "Vendor:\t%s (%s)\n", topo.VendorID, topo.Vendor)
	if topo.Brand != "" {
		fmt.Fprintf(w, "Brand:\t%s\n", topo.Brand)
	}
	fmt.Fprintf(w, "Family/Model/Stepping:\t%d/%d/%d\n", topo.Family, topo.Model, topo.Stepping)
	fmt.Fprintf(w, "Cores:\t%d logical, %d physical, %d threads per core\n", topo.LogicalCores, topo.PhysicalCores, topo.ThreadsPerCore)
	if topo.CacheLineSize > 0 {
		fmt.Fprintf(w, "Cache line:\t%d bytes\n", topo.CacheLineSize)
	}
	fmt.Fprintf(w, "Timestamp counter:\t%s\n", in.TSC.Variant())
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out)
	return printStates(out, reg)
}

func printStates(out io.Writer, reg *intrinsic.Registry) error {
	snapshot := reg.Snapshot()
	w := tabwriter.NewWriter(out, 0, 8, 1, ' ', 0)
	for _, id := range intrinsic.IDs {
		s, ok := snapshot[id]
		if !ok {
			s = intrinsic.Unknown
		}
		fmt.Fprintf(w, "%s\t%s\n", id, s)
	}
	return w.Flush()
}

func featuresCmd(cmd *cobra.Command, args []string) error {
	in, _, done, err := setup()
	if err != nil {
		return err
	}
	defer done()

	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}
	features := intrinsic.FeaturesWithPrefix(prefix)
	if len(features) == 0 {
		return fmt.Errorf("no feature starts with %q", prefix)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 1, ' ', 0)
	for _, f := range features {
		has := in.Supports(f)
		switch {
		case featuresAll:
			fmt.Fprintf(w, "%s\t%v\n", f, has)
		case has:
			fmt.Fprintf(w, "%s\n", f)
		}
	}
	return w.Flush()
}

func parseUint32(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return uint32(n), nil
}

func cpuidCmd(cmd *cobra.Command, args []string) error {
	leaf, err := parseUint32(args[0])
	if err != nil {
		return err
	}
	var sub uint32
	if len(args) > 1 {
		if sub, err = parseUint32(args[1]); err != nil {
			return err
		}
	}

	in, _, done, err := setup()
	if err != nil {
		return err
	}
	defer done()

	var regs intrinsic.Registers
	if cpuidFresh {
		regs, err = in.CPU.Invoke(leaf, sub)
	} else {
		regs, err = in.CPU.RetrieveInformation(leaf, sub)
	}
	if err != nil {
		return err
	}
	if !in.CPU.Hardware() {
		fmt.Fprintln(cmd.ErrOrStderr(), "Warning: cpuid is not available, all registers are zero")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "eax=%#08x ebx=%#08x ecx=%#08x edx=%#08x\n", regs.EAX, regs.EBX, regs.ECX, regs.EDX)
	return nil
}

func randCmd(cmd *cobra.Command, args []string) error {
	if count <= 0 {
		return errors.New("count must be a positive number")
	}
	in, _, done, err := setup()
	if err != nil {
		return err
	}
	defer done()

	var (
		next     func() (uint64, error)
		hardware bool
		id       intrinsic.ID
	)
	if useSeed {
		next, hardware, id = in.Seed.Uint64, in.Seed.Hardware(), in.Seed.ID()
	} else {
		next, hardware, id = in.Rand.Uint64, in.Rand.Hardware(), in.Rand.ID()
	}
	if !hardware {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s is not available, values come from the timestamp counter\n", id)
	}
	for i := 0; i < count; i++ {
		v, err := next()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%#016x\n", v)
	}
	return nil
}

func tscCmd(cmd *cobra.Command, args []string) error {
	if count <= 0 {
		return errors.New("count must be a positive number")
	}
	in, _, done, err := setup()
	if err != nil {
		return err
	}
	defer done()

	if !in.TSC.Hardware() {
		fmt.Fprintln(cmd.ErrOrStderr(), "Warning: timestamp counter is not available, values are nanoseconds since start")
	}
	out := cmd.OutOrStdout()
	var prev int64
	for i := 0; i < count; i++ {
		v := in.TSC.Timestamp()
		if i == 0 {
			fmt.Fprintf(out, "%d\n", v)
		} else {
			fmt.Fprintf(out, "%d\t+%d\n", v, v-prev)
		}
		prev = v
	}
	return nil
}

func disasmCmd(cmd *cobra.Command, args []string) error {
	flavour, err := thunk.ParseFlavour(syntax)
	if err != nil {
		return err
	}
	b := bits
	switch b {
	case 0:
		b = 32
		if thunk.Is64Bit {
			b = 64
		}
	case 32, 64:
	default:
		return fmt.Errorf("invalid number of bits %d", bits)
	}

	ids := intrinsic.IDs
	if len(args) > 0 {
		id, err := intrinsic.ParseID(args[0])
		if err != nil {
			return err
		}
		ids = []intrinsic.ID{id}
	}
	out := cmd.OutOrStdout()
	for i, id := range ids {
		x86, x64, ok := intrinsic.Bytecode(id)
		if !ok {
			continue
		}
		code := x86
		if b == 64 {
			code = x64
		}
		if len(ids) > 1 {
			if i > 0 {
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "%s:\n", id)
		}
		if err := thunk.Disassemble(out, code, b, flavour); err != nil {
			return err
		}
	}
	return nil
}

func replCmd(cmd *cobra.Command) int {
	in, reg, done, err := setup()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer done()

	term := terminal.New(in, reg, conf)
	term.InitFile = initFile
	status, err := term.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return status
}

func runCmd(cmd *cobra.Command, args []string) error {
	in, reg, done, err := setup()
	if err != nil {
		return err
	}
	defer done()

	term := terminal.New(in, reg, conf)
	defer term.Close()
	term.SetStdout(cmd.OutOrStdout())
	err = term.Source(args[0])
	if _, isExit := err.(terminal.ExitRequestError); isExit {
		return nil
	}
	return err
}
