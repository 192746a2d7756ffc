// Package terminal implements functions for responding to user
// input and dispatching to the intrinsics of the running processor.
package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"

	"github.com/go-delve/intrinsics/pkg/intrinsic"
	"github.com/go-delve/intrinsics/pkg/thunk"
)

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands of the intrin terminal.
type Commands struct {
	cmds []command
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// IntrinsicCommands returns a Commands struct with default commands defined.
func IntrinsicCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"supports", "has"}, group: cpuCmds, cmdFn: supportsCmd, helpMsg: `Reports whether the processor has the named features.

	supports <feature> [feature...]

Feature names are case insensitive, see "features -all" for the list.`},
		{aliases: []string{"features", "f"}, group: cpuCmds, cmdFn: featuresCmd, helpMsg: `Lists processor features.

	features [-all] [prefix]

Without -all only the features the processor has are listed. With a prefix
only the features whose name starts with it are considered.`},
		{aliases: []string{"cpuid"}, group: cpuCmds, cmdFn: cpuidCmd, helpMsg: `Executes CPUID.

	cpuid [-fresh] <leaf> [subleaf]

Leaf and subleaf accept decimal, hexadecimal (0x) and octal (0) numbers.
Results are cached, -fresh executes the instruction again.`},
		{aliases: []string{"vendor"}, group: cpuCmds, cmdFn: vendorCmd, helpMsg: "Prints the vendor identification string."},
		{aliases: []string{"brand"}, group: cpuCmds, cmdFn: brandCmd, helpMsg: "Prints the processor brand string."},
		{aliases: []string{"topology", "topo"}, group: cpuCmds, cmdFn: topologyCmd, helpMsg: "Prints family, model, stepping and the number of cores and threads."},
		{aliases: []string{"rand"}, group: counterCmds, cmdFn: randCmd, helpMsg: `Prints random numbers from RDRAND.

	rand [count]

When the processor lacks RDRAND the values come from the timestamp counter.`},
		{aliases: []string{"seed"}, group: counterCmds, cmdFn: seedCmd, helpMsg: `Prints random seeds from RDSEED.

	seed [count]

When the processor lacks RDSEED the values come from the timestamp counter.`},
		{aliases: []string{"tsc"}, group: counterCmds, cmdFn: tscCmd, helpMsg: `Reads the timestamp counter.

	tsc [count]

Prints each reading and the difference from the previous one.`},
		{aliases: []string{"state", "st"}, group: engineCmds, cmdFn: stateCmd, helpMsg: `Prints the state of every intrinsic.

Intrinsics used by this session are marked with *.`},
		{aliases: []string{"disassemble", "disass"}, group: engineCmds, cmdFn: disasmCmd, helpMsg: `Disassembles the code of an intrinsic.

	disassemble [-32|-64] [-syntax intel|gnu|go] <intrinsic>

By default the code for the running process is shown. Intrinsics are
named as in the output of "state".`},
		{aliases: []string{"source"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of intrin commands.

	source <path>

If path ends with the .star extension it will be interpreted as a starlark
script. If path is a single '-' character an interactive starlark
interpreter will start instead. Type 'exit' to exit.`},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter> <value>

Changes the value of a configuration parameter. Changes to strict,
rand-retries, tsc-variant and disable take effect the next time intrin
starts.

	config alias <command> <alias>
	config alias <alias>

Defines <alias> as an alias to <command> or removes an alias.`},
		{aliases: []string{"transcript"}, cmdFn: transcriptCmd, helpMsg: `Appends command output to a file.

	transcript [-t] [-x] <output file>
	transcript -off

Output of intrin's command is appended to the specified output file. If -t
is specified and the output file exists it is truncated. If -x is specified
output to stdout is suppressed instead.

Using the -off option disables the transcript.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: "Exit the terminal."},
	}

	sort.Sort(byFirstAlias(c.cmds))
	return c
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	t.log.Debugf("command %q args %q", cmdname, args)
	return c.Find(cmdname)(t, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

// names returns every alias of every command.
func (c *Commands) names() []string {
	var r []string
	for _, cmd := range c.cmds {
		r = append(r, cmd.aliases...)
	}
	return r
}

// canonical returns the first alias of the command matching cmdstr.
func (c *Commands) canonical(cmdstr string) string {
	for _, cmd := range c.cmds {
		if cmd.match(cmdstr) {
			return cmd.aliases[0]
		}
	}
	return ""
}

var noCmdError = errors.New("command not available")

func noCmdAvailable(t *Term, args string) error {
	return noCmdError
}

func nullCommand(t *Term, args string) error {
	return nil
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return noCmdError
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// splitArgs splits args the way a shell would, without expansion.
func splitArgs(args string) ([]string, error) {
	if strings.TrimSpace(args) == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("Backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal command line '%s'", args)
	}
	return v[0], nil
}

// parseCount parses the optional count argument of rand, seed and tsc.
func parseCount(args string) (int, error) {
	if args == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(args)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("count must be a positive number: %q", args)
	}
	return n, nil
}

func parseUint32(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid leaf %q", s)
	}
	return uint32(n), nil
}

func supportsCmd(t *Term, args string) error {
	names, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return errors.New("not enough arguments")
	}
	features := make([]intrinsic.Feature, len(names))
	for i, name := range names {
		if features[i], err = intrinsic.ParseFeature(name); err != nil {
			return err
		}
	}
	w := tabwriter.NewWriter(t.stdout, 0, 8, 1, ' ', 0)
	for _, f := range features {
		fmt.Fprintf(w, "%s\t%s\n", f, t.answer(t.in.Supports(f)))
	}
	return w.Flush()
}

func featureLocation(f intrinsic.Feature) string {
	leaf, sub, reg, bit, ok := f.Location()
	if !ok {
		return "EFLAGS.ID"
	}
	if sub != 0 {
		return fmt.Sprintf("%#x.%d %v[%d]", leaf, sub, reg, bit)
	}
	return fmt.Sprintf("%#x %v[%d]", leaf, reg, bit)
}

func featuresCmd(t *Term, args string) error {
	argv, err := splitArgs(args)
	if err != nil {
		return err
	}
	all := false
	prefix := ""
	for _, arg := range argv {
		switch {
		case arg == "-all":
			all = true
		case prefix == "":
			prefix = arg
		default:
			return errors.New("too many arguments")
		}
	}

	features := intrinsic.FeaturesWithPrefix(prefix)
	if len(features) == 0 {
		return fmt.Errorf("no feature starts with %q", prefix)
	}

	t.stdout.pw.PageMaybe(nil)
	defer t.stdout.pw.Reset()

	w := tabwriter.NewWriter(t.stdout, 0, 8, 1, ' ', 0)
	n := 0
	for _, f := range features {
		has := t.in.Supports(f)
		switch {
		case all:
			fmt.Fprintf(w, "%s\t%s\t%s\n", f, t.answer(has), featureLocation(f))
		case has:
			fmt.Fprintf(w, "%s\t%s\n", f, featureLocation(f))
		default:
			continue
		}
		n++
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if !all {
		fmt.Fprintf(t.stdout, "%d of %d features\n", n, len(features))
	}
	return nil
}

func cpuidCmd(t *Term, args string) error {
	argv, err := splitArgs(args)
	if err != nil {
		return err
	}
	fresh := false
	if len(argv) > 0 && argv[0] == "-fresh" {
		fresh = true
		argv = argv[1:]
	}
	if len(argv) < 1 || len(argv) > 2 {
		return errors.New("wrong number of arguments: cpuid [-fresh] <leaf> [subleaf]")
	}
	leaf, err := parseUint32(argv[0])
	if err != nil {
		return err
	}
	var sub uint32
	if len(argv) == 2 {
		if sub, err = parseUint32(argv[1]); err != nil {
			return err
		}
	}

	var regs intrinsic.Registers
	if fresh {
		regs, err = t.in.CPU.Invoke(leaf, sub)
	} else {
		regs, err = t.in.CPU.RetrieveInformation(leaf, sub)
	}
	if err != nil {
		return err
	}
	if !t.in.CPU.Hardware() {
		t.warn("cpuid is not available, all registers are zero")
	}
	fmt.Fprintf(t.stdout, "eax=%#08x ebx=%#08x ecx=%#08x edx=%#08x\n", regs.EAX, regs.EBX, regs.ECX, regs.EDX)
	return nil
}

func vendorCmd(t *Term, args string) error {
	v := t.in.CPU.VendorString()
	if v == "" {
		return errors.New("vendor not available")
	}
	fmt.Fprintf(t.stdout, "%s (%v)\n", v, t.in.CPU.Vendor())
	return nil
}

func brandCmd(t *Term, args string) error {
	b := t.in.CPU.ProcessorBrandString()
	if b == "" {
		return errors.New("brand string not available")
	}
	fmt.Fprintln(t.stdout, b)
	return nil
}

func topologyCmd(t *Term, args string) error {
	return printTopology(t, t.in.CPU.Topology())
}

func printTopology(t *Term, topo intrinsic.Topology) error {
	w := tabwriter.NewWriter(t.stdout, 0, 8, 1, ' ', 0)
	fmt.Fprintf(w, "Vendor:\t%s (%s)\n", topo.VendorID, topo.Vendor)
	if topo.Brand != "" {
		fmt.Fprintf(w, "Brand:\t%s\n", topo.Brand)
	}
	fmt.Fprintf(w, "Family:\t%d\n", topo.Family)
	fmt.Fprintf(w, "Model:\t%d\n", topo.Model)
	fmt.Fprintf(w, "Stepping:\t%d\n", topo.Stepping)
	fmt.Fprintf(w, "Logical cores:\t%s\n", count(topo.LogicalCores))
	fmt.Fprintf(w, "Physical cores:\t%s\n", count(topo.PhysicalCores))
	fmt.Fprintf(w, "Threads per core:\t%d\n", topo.ThreadsPerCore)
	fmt.Fprintf(w, "Cache line:\t%s\n", count(topo.CacheLineSize))
	return w.Flush()
}

func count(n int) string {
	if n == 0 {
		return "unknown"
	}
	return strconv.Itoa(n)
}

type generator interface {
	Uint64() (uint64, error)
	Hardware() bool
	ID() intrinsic.ID
}

func generate(t *Term, g generator, args string) error {
	n, err := parseCount(args)
	if err != nil {
		return err
	}
	if !g.Hardware() {
		t.warn(fmt.Sprintf("%s is not available, values come from the timestamp counter", g.ID()))
	}
	for i := 0; i < n; i++ {
		v, err := g.Uint64()
		if err != nil {
			return err
		}
		fmt.Fprintf(t.stdout, "%#016x\n", v)
	}
	return nil
}

func randCmd(t *Term, args string) error {
	return generate(t, t.in.Rand, args)
}

func seedCmd(t *Term, args string) error {
	return generate(t, t.in.Seed, args)
}

func tscCmd(t *Term, args string) error {
	n, err := parseCount(args)
	if err != nil {
		return err
	}
	if t.in.TSC.Hardware() {
		t.Println("variant ", t.in.TSC.Variant().String())
	} else {
		t.warn("timestamp counter is not available, values are nanoseconds since start")
	}
	var prev int64
	for i := 0; i < n; i++ {
		v := t.in.TSC.Timestamp()
		if i == 0 {
			fmt.Fprintf(t.stdout, "%d\n", v)
		} else {
			fmt.Fprintf(t.stdout, "%d\t+%d\n", v, v-prev)
		}
		prev = v
	}
	return nil
}

func stateCmd(t *Term, args string) error {
	snapshot := t.reg.Snapshot()
	inUse := t.in.States()
	w := tabwriter.NewWriter(t.stdout, 0, 8, 1, ' ', 0)
	for _, id := range intrinsic.IDs {
		mark := " "
		if _, ok := inUse[id]; ok {
			mark = "*"
		}
		state, ok := snapshot[id]
		if !ok {
			state = intrinsic.Unknown
		}
		fmt.Fprintf(w, "%s %s\t%s\n", mark, id, t.stateString(state))
	}
	return w.Flush()
}

var disasmUsageError = errors.New("wrong number of arguments: disassemble [-32|-64] [-syntax intel|gnu|go] <intrinsic>")

func disasmCmd(t *Term, args string) error {
	argv, err := splitArgs(args)
	if err != nil {
		return err
	}
	bits := 32
	if thunk.Is64Bit {
		bits = 64
	}
	flavour := thunk.IntelFlavour
	var name string
	for i := 0; i < len(argv); i++ {
		switch argv[i] {
		case "-32":
			bits = 32
		case "-64":
			bits = 64
		case "-syntax":
			i++
			if i >= len(argv) {
				return disasmUsageError
			}
			if flavour, err = thunk.ParseFlavour(argv[i]); err != nil {
				return err
			}
		default:
			if name != "" {
				return disasmUsageError
			}
			name = argv[i]
		}
	}
	if name == "" {
		return disasmUsageError
	}
	id, err := intrinsic.ParseID(name)
	if err != nil {
		return err
	}
	disasmPrint(t.listing(id, bits), t.stdout, flavour)
	return nil
}

type listingKey struct {
	id   intrinsic.ID
	bits int
}

// listing returns the decoded instructions of id, decoding them the first
// time they are requested.
func (t *Term) listing(id intrinsic.ID, bits int) []thunk.Instruction {
	key := listingKey{id, bits}
	if v, ok := t.listings.Get(key); ok {
		return v.([]thunk.Instruction)
	}
	x86, x64, _ := intrinsic.Bytecode(id)
	code := x86
	if bits == 64 {
		code = x64
	}
	insts := thunk.Decode(code, bits)
	t.listings.Add(key, insts)
	return insts
}

func (c *Commands) sourceCommand(t *Term, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}

	if filepath.Ext(args) == ".star" {
		_, err := t.starlarkEnv.Execute(args, nil, "main", nil)
		return err
	}

	if args == "-" {
		return t.starlarkEnv.REPL()
	}

	return c.executeFile(t, args)
}

func transcriptCmd(t *Term, args string) error {
	argv, err := splitArgs(args)
	if err != nil {
		return err
	}
	truncate := false
	fileOnly := false
	disable := false
	path := ""
	for _, arg := range argv {
		switch arg {
		case "-x":
			fileOnly = true
		case "-t":
			truncate = true
		case "-off":
			disable = true
		default:
			if path != "" || strings.HasPrefix(arg, "-") {
				return fmt.Errorf("unrecognized option %q", arg)
			}
			path = arg
		}
	}

	if disable {
		if path != "" {
			return errors.New("-off option specified with an output path")
		}
		return t.stdout.CloseTranscript()
	}

	if path == "" {
		return errors.New("no output path specified")
	}

	flags := os.O_APPEND | os.O_WRONLY | os.O_CREATE
	if truncate {
		flags |= os.O_TRUNC
	}
	fh, err := os.OpenFile(path, flags, 0660)
	if err != nil {
		return err
	}

	if err := t.stdout.CloseTranscript(); err != nil {
		return err
	}

	t.stdout.TranscribeTo(fh, fileOnly)
	return nil
}

// ExitRequestError is returned when the user
// exits the terminal.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{}
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}
