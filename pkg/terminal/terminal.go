package terminal

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/derekparker/trie"
	"github.com/go-delve/liner"
	lru "github.com/hashicorp/golang-lru"
	"github.com/mattn/go-isatty"

	"github.com/go-delve/intrinsics/pkg/config"
	"github.com/go-delve/intrinsics/pkg/intrinsic"
	"github.com/go-delve/intrinsics/pkg/logflags"
	"github.com/go-delve/intrinsics/pkg/terminal/starbind"
)

const (
	historyFile                 string = ".intrin_history"
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"

	listingCacheSize = 32
)

const (
	ansiRed    = 31
	ansiGreen  = 32
	ansiYellow = 33
	ansiBlue   = 34
)

// Term represents the terminal running intrin.
type Term struct {
	in       *intrinsic.Intrinsics
	reg      *intrinsic.Registry
	conf     *config.Config
	prompt   string
	line     *liner.State
	cmds     *Commands
	color    bool
	stdout   *transcriptWriter
	InitFile string
	log      logflags.Logger
	listings *lru.Cache

	starlarkEnv *starbind.Env
}

// New returns a new Term for the intrinsics in, which were constructed
// with registry reg.
func New(in *intrinsic.Intrinsics, reg *intrinsic.Registry, conf *config.Config) *Term {
	if conf == nil {
		conf = &config.Config{}
	}
	if reg == nil {
		reg = intrinsic.DefaultRegistry
	}
	cmds := IntrinsicCommands()
	if conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb"
	color := !dumb && isatty.IsTerminal(os.Stdout.Fd())
	if conf.Color != nil {
		color = *conf.Color
	}
	var w io.Writer = os.Stdout
	if color {
		w = getColorableWriter()
	}

	t := &Term{
		in:     in,
		reg:    reg,
		conf:   conf,
		prompt: "(intrin) ",
		cmds:   cmds,
		color:  color,
		stdout: &transcriptWriter{pw: &pagingWriter{w: w}},
		log:    logflags.TerminalLogger(),
	}
	t.listings, _ = lru.New(listingCacheSize)
	t.starlarkEnv = starbind.New(starlarkContext{t}, t.stdout)
	return t
}

// SetStdout makes the terminal, and the scripts it runs, write to w.
func (t *Term) SetStdout(w io.Writer) {
	t.stdout.pw.w = w
}

// Source executes path, a starlark script if its extension is .star or
// a file of terminal commands otherwise.
func (t *Term) Source(path string) error {
	defer t.stdout.Flush()
	return t.cmds.sourceCommand(t, path)
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	if t.line != nil {
		t.line.Close()
	}
	t.stdout.CloseTranscript()
}

func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		t.starlarkEnv.Cancel()
		t.stdout.pw.Reset()
		fmt.Fprintf(os.Stderr, "received SIGINT, use exit to quit\n")
	}
}

// Run begins running intrin in the terminal.
func (t *Term) Run() (int, error) {
	t.line = liner.NewLiner()
	defer t.Close()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	go t.sigintGuard(ch)

	completer := t.completer()
	t.line.SetCompleter(completer)

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}

	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("Prompt for input failed.\n")
		}
		t.stdout.Echo(t.prompt + cmdstr + "\n")

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
		t.stdout.Flush()
	}
}

// completer completes command names, feature names after supports and
// features, and intrinsic names after disassemble.
func (t *Term) completer() liner.Completer {
	names := trie.New()
	for _, name := range t.cmds.names() {
		names.Add(name, nil)
	}
	return func(line string) (c []string) {
		fields := strings.Fields(line)
		if len(fields) == 0 || (len(fields) == 1 && !strings.HasSuffix(line, " ")) {
			c = names.PrefixSearch(strings.ToLower(strings.TrimSpace(line)))
			sort.Strings(c)
			return
		}

		word := ""
		head := line
		if !strings.HasSuffix(line, " ") {
			word = fields[len(fields)-1]
			head = line[:len(line)-len(word)]
		}
		var candidates []string
		switch t.cmds.canonical(fields[0]) {
		case "supports", "features":
			for _, f := range intrinsic.FeaturesWithPrefix(word) {
				candidates = append(candidates, f.String())
			}
		case "disassemble":
			for _, id := range intrinsic.IDs {
				if strings.HasPrefix(string(id), word) {
					candidates = append(candidates, string(id))
				}
			}
		}
		for _, cand := range candidates {
			c = append(c, head+cand)
		}
		return
	}
}

// Println prints a line to the terminal.
func (t *Term) Println(prefix, str string) {
	fmt.Fprintf(t.stdout, "%s%s\n", t.colorize(ansiBlue, prefix), str)
}

func (t *Term) colorize(color int, s string) string {
	if !t.color {
		return s
	}
	return fmt.Sprintf(terminalHighlightEscapeCode, color) + s + terminalResetEscapeCode
}

// answer renders a feature query result.
func (t *Term) answer(b bool) string {
	if b {
		return t.colorize(ansiGreen, "yes")
	}
	return t.colorize(ansiRed, "no")
}

func (t *Term) stateString(s intrinsic.State) string {
	switch s {
	case intrinsic.Available:
		return t.colorize(ansiGreen, s.String())
	case intrinsic.NotAvailable:
		return t.colorize(ansiRed, s.String())
	}
	return s.String()
}

func (t *Term) warn(msg string) {
	fmt.Fprintln(t.stdout, t.colorize(ansiYellow, "Warning: "+msg))
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR, 0666); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}
	return 0, nil
}
