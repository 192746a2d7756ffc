package terminal

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-delve/intrinsics/pkg/config"
	"github.com/go-delve/intrinsics/pkg/intrinsic/intrinsictest"
)

type FakeTerminal struct {
	*Term
	buf *bytes.Buffer
	t   testing.TB
}

func newFakeTerminal(t testing.TB, cpu *intrinsictest.CPU) *FakeTerminal {
	in, reg, err := cpu.New()
	if err != nil {
		t.Fatal(err)
	}
	no := false
	term := New(in, reg, &config.Config{Color: &no})
	buf := new(bytes.Buffer)
	term.stdout = &transcriptWriter{pw: &pagingWriter{w: buf}}
	term.starlarkEnv.Redirect(term.stdout)
	t.Cleanup(func() {
		term.Close()
		in.Close()
	})
	return &FakeTerminal{Term: term, buf: buf, t: t}
}

func (ft *FakeTerminal) Exec(cmdstr string) (string, error) {
	ft.buf.Reset()
	err := ft.cmds.Call(cmdstr, ft.Term)
	return ft.buf.String(), err
}

func (ft *FakeTerminal) MustExec(cmdstr string) string {
	out, err := ft.Exec(cmdstr)
	if err != nil {
		ft.t.Fatalf("Error executing <%s>: %v", cmdstr, err)
	}
	return out
}

func (ft *FakeTerminal) AssertExecError(cmdstr, tgt string) {
	_, err := ft.Exec(cmdstr)
	if err == nil {
		ft.t.Fatalf("Expected error executing %q", cmdstr)
	}
	if !strings.Contains(err.Error(), tgt) {
		ft.t.Fatalf("Expected error %q executing %q, got error %q", tgt, cmdstr, err.Error())
	}
}

func TestCommandDefault(t *testing.T) {
	cmds := IntrinsicCommands()
	cmd := cmds.Find("non-existent-command")
	err := cmd(nil, "")
	if err == nil {
		t.Fatal("cmd() did not default")
	}
	if err.Error() != "command not available" {
		t.Fatal("wrong command output")
	}
}

func TestCommandReplayWithoutPreviousCommand(t *testing.T) {
	cmds := IntrinsicCommands()
	cmd := cmds.Find("")
	if err := cmd(nil, ""); err != nil {
		t.Error("Null command not returned", err)
	}
}

func TestRegisterCommand(t *testing.T) {
	cmds := IntrinsicCommands()
	called := 0
	cmds.Register("count", func(t *Term, args string) error {
		called++
		return nil
	}, "counts")
	cmds.Register("count", func(t *Term, args string) error {
		called += 10
		return nil
	}, "counts")
	if err := cmds.Find("count")(nil, ""); err != nil {
		t.Fatal(err)
	}
	if called != 10 {
		t.Fatalf("called %d", called)
	}
	n := 0
	for _, name := range cmds.names() {
		if name == "count" {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("command registered %d times", n)
	}
}

func TestMergeAliases(t *testing.T) {
	cmds := IntrinsicCommands()
	cmds.Merge(map[string][]string{"vendor": {"v"}})
	if cmds.canonical("v") != "vendor" {
		t.Fatal("alias not merged")
	}
	cmds.Merge(map[string][]string{"brand": {"b"}})
	if cmds.canonical("v") != "" {
		t.Fatal("stale alias kept")
	}
	if cmds.canonical("b") != "brand" || cmds.canonical("has") != "supports" {
		t.Fatal("aliases lost")
	}
}

func TestHelp(t *testing.T) {
	ft := newFakeTerminal(t, intrinsictest.NewIntel())
	out := ft.MustExec("help")
	for _, s := range []string{"supports (alias: has)", "disassemble", "Identifying the processor:", "Reading counters and random numbers:"} {
		if !strings.Contains(out, s) {
			t.Errorf("help output does not contain %q:\n%s", s, out)
		}
	}
	out = ft.MustExec("help tsc")
	if !strings.Contains(out, "timestamp") {
		t.Fatalf("help tsc: %q", out)
	}
	ft.AssertExecError("help frobnicate", "command not available")
}

func TestSupports(t *testing.T) {
	ft := newFakeTerminal(t, intrinsictest.NewIntel())
	out := ft.MustExec("supports avx2 avx512f rdrand")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	want := []string{"avx2 yes", "avx512f no", "rdrand yes"}
	if len(lines) != len(want) {
		t.Fatalf("output %q", out)
	}
	for i := range want {
		if strings.Join(strings.Fields(lines[i]), " ") != want[i] {
			t.Errorf("line %d: %q, want %q", i, lines[i], want[i])
		}
	}
	ft.AssertExecError("supports avx1024", "avx1024")
	ft.AssertExecError("has", "not enough arguments")
}

func TestFeatures(t *testing.T) {
	ft := newFakeTerminal(t, intrinsictest.NewIntel())
	out := ft.MustExec("features sse")
	if !strings.Contains(out, "sse2") || !strings.Contains(out, "sse3") || !strings.Contains(out, "2 of ") {
		t.Fatalf("features sse: %q", out)
	}
	if strings.Contains(out, "sse41") {
		t.Fatalf("unsupported feature listed: %q", out)
	}
	out = ft.MustExec("features -all sse4")
	if !strings.Contains(out, "sse41") || !strings.Contains(out, "no") {
		t.Fatalf("features -all sse4: %q", out)
	}
	ft.AssertExecError("features zzz", "no feature starts with")
	ft.AssertExecError("features a b", "too many arguments")
}

func TestCPUID(t *testing.T) {
	ft := newFakeTerminal(t, intrinsictest.NewIntel())
	out := ft.MustExec("cpuid 1")
	if !strings.HasPrefix(out, "eax=0x000906ea ") {
		t.Fatalf("cpuid 1: %q", out)
	}
	out = ft.MustExec("cpuid -fresh 0xb 1")
	if !strings.Contains(out, "ebx=0x0000000c") {
		t.Fatalf("cpuid 0xb 1: %q", out)
	}
	ft.AssertExecError("cpuid", "wrong number of arguments")
	ft.AssertExecError("cpuid eax", "invalid leaf")
	ft.AssertExecError("cpuid 0x100000000", "invalid leaf")
}

func TestProcessorInformation(t *testing.T) {
	ft := newFakeTerminal(t, intrinsictest.NewIntel())
	if out := ft.MustExec("vendor"); out != "GenuineIntel (Intel)\n" {
		t.Fatalf("vendor: %q", out)
	}
	if out := ft.MustExec("brand"); !strings.Contains(out, "i7-8700K") {
		t.Fatalf("brand: %q", out)
	}
	out := ft.MustExec("topo")
	for _, s := range []string{"GenuineIntel (Intel)", "Family:", "12", "Threads per core:"} {
		if !strings.Contains(out, s) {
			t.Errorf("topology output does not contain %q:\n%s", s, out)
		}
	}
}

func TestCounters(t *testing.T) {
	ft := newFakeTerminal(t, intrinsictest.NewIntel())
	out := ft.MustExec("rand 3")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "0x") || lines[0] == lines[1] {
		t.Fatalf("rand 3: %q", out)
	}
	if strings.Contains(out, "Warning") {
		t.Fatalf("unexpected warning: %q", out)
	}
	ft.AssertExecError("rand -1", "positive")

	out = ft.MustExec("tsc 3")
	if !strings.HasPrefix(out, "variant rdtscp\n") || strings.Count(out, "\t+100\n") != 2 {
		t.Fatalf("tsc 3: %q", out)
	}

	amd := newFakeTerminal(t, intrinsictest.NewAMD())
	out = amd.MustExec("seed")
	if !strings.Contains(out, "Warning: rdseed is not available") {
		t.Fatalf("seed without rdseed: %q", out)
	}
}

func TestState(t *testing.T) {
	ft := newFakeTerminal(t, intrinsictest.NewIntel())
	out := ft.MustExec("state")
	if !strings.Contains(out, "* rdrand") || !strings.Contains(out, "  rdtsc ") {
		t.Fatalf("state: %q", out)
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "* rdrand") && !strings.HasSuffix(line, "available") {
			t.Fatalf("rdrand line %q", line)
		}
	}
}

func TestDisassemble(t *testing.T) {
	ft := newFakeTerminal(t, intrinsictest.NewIntel())
	for _, cmd := range []string{"disassemble cpuid", "disass -32 cpuid", "disass -64 -syntax gnu cpuid"} {
		out := ft.MustExec(cmd)
		if !strings.Contains(out, "cpuid") || strings.Contains(out, "?") {
			t.Fatalf("%s: %q", cmd, out)
		}
	}
	if out := ft.MustExec("disass -syntax go rdrand"); !strings.Contains(strings.ToUpper(out), "RDRAND") {
		t.Fatalf("rdrand: %q", out)
	}
	ft.AssertExecError("disassemble", "wrong number of arguments")
	ft.AssertExecError("disassemble -syntax", "wrong number of arguments")
	ft.AssertExecError("disassemble -syntax masm cpuid", "masm")
	ft.AssertExecError("disassemble rdpmc", "rdpmc")
}

func TestDisassembleListingReused(t *testing.T) {
	ft := newFakeTerminal(t, intrinsictest.NewIntel())
	first := ft.MustExec("disassemble -64 rdtscp")
	if ft.listings.Len() != 1 {
		t.Fatalf("%d listings kept", ft.listings.Len())
	}
	if again := ft.MustExec("disassemble -64 rdtscp"); again != first {
		t.Fatalf("listing changed:\n%s\n%s", first, again)
	}
	ft.MustExec("disassemble -32 rdtscp")
	if ft.listings.Len() != 2 {
		t.Fatalf("%d listings kept", ft.listings.Len())
	}
}

func TestConfig(t *testing.T) {
	ft := newFakeTerminal(t, intrinsictest.NewIntel())
	ft.MustExec("config rand-retries 5")
	ft.MustExec("config strict true")
	ft.MustExec("config tsc-variant lfence")
	ft.MustExec("config disable rdrand,rdseed")
	if ft.conf.RandRetries != 5 || !ft.conf.Strict || ft.conf.TSCVariant != "lfence" {
		t.Fatalf("configuration %#v", ft.conf)
	}
	if len(ft.conf.Disable) != 2 || ft.conf.Disable[1] != "rdseed" {
		t.Fatalf("disable %v", ft.conf.Disable)
	}
	ft.MustExec("config color true")
	if ft.conf.Color == nil || !*ft.conf.Color {
		t.Fatal("color not set")
	}

	ft.AssertExecError("config rand-retries many", "must be a number")
	ft.AssertExecError("config strict maybe", "true or false")
	ft.AssertExecError("config tsc-variant hpet", "hpet")
	ft.AssertExecError("config disable rdpmc", "rdpmc")
	ft.AssertExecError("config nosuchthing 1", "not a configuration parameter")
	ft.AssertExecError("config", "wrong number of arguments")

	out := ft.MustExec("config -list")
	for _, s := range []string{"rand-retries", "tsc-variant", "lfence", "[rdrand rdseed]"} {
		if !strings.Contains(out, s) {
			t.Errorf("config -list does not contain %q:\n%s", s, out)
		}
	}

	ft.MustExec("config alias vendor vv")
	if out := ft.MustExec("vv"); !strings.Contains(out, "GenuineIntel") {
		t.Fatalf("alias: %q", out)
	}
	ft.AssertExecError("config alias has hh", "unknown command")
	ft.MustExec("config alias vv")
	ft.AssertExecError("vv", "command not available")
}

func TestSourceCommandFile(t *testing.T) {
	ft := newFakeTerminal(t, intrinsictest.NewIntel())
	path := filepath.Join(t.TempDir(), "init")
	if err := os.WriteFile(path, []byte("# comment\nvendor\n\nbogus\nbrand\n"), 0600); err != nil {
		t.Fatal(err)
	}
	out := ft.MustExec("source " + path)
	if !strings.Contains(out, "GenuineIntel") || !strings.Contains(out, "i7-8700K") {
		t.Fatalf("source: %q", out)
	}
	if !strings.Contains(out, path+":4: command not available") {
		t.Fatalf("error not reported: %q", out)
	}

	if err := os.WriteFile(path, []byte("vendor\nexit\nbrand\n"), 0600); err != nil {
		t.Fatal(err)
	}
	out, err := ft.Exec("source " + path)
	if _, ok := err.(ExitRequestError); !ok {
		t.Fatalf("got %v", err)
	}
	if strings.Contains(out, "i7-8700K") {
		t.Fatalf("command executed after exit: %q", out)
	}
	ft.AssertExecError("source", "wrong number of arguments")
}

func TestSourceStarlark(t *testing.T) {
	ft := newFakeTerminal(t, intrinsictest.NewIntel())
	path := filepath.Join(t.TempDir(), "probe.star")
	script := `
def command_avx(args):
	"Reports AVX2 support."
	print("avx2", supports("avx2"))

def main():
	print(vendor())
	intrin_command("supports", "rdseed")
`
	if err := os.WriteFile(path, []byte(script), 0600); err != nil {
		t.Fatal(err)
	}
	out := ft.MustExec("source " + path)
	if !strings.Contains(out, "GenuineIntel\n") || !strings.Contains(out, "rdseed") {
		t.Fatalf("source: %q", out)
	}
	if out := ft.MustExec("avx"); out != "avx2 True\n" {
		t.Fatalf("avx: %q", out)
	}
	if out := ft.MustExec("help avx"); !strings.Contains(out, "Reports AVX2 support.") {
		t.Fatalf("help avx: %q", out)
	}
}

func TestTranscript(t *testing.T) {
	ft := newFakeTerminal(t, intrinsictest.NewIntel())
	path := filepath.Join(t.TempDir(), "transcript.txt")
	ft.MustExec("transcript -t " + path)
	ft.MustExec("vendor")
	ft.stdout.Echo("(intrin) brand\n")
	ft.MustExec("brand")
	ft.MustExec("transcript -off")
	buf, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := string(buf)
	if !strings.Contains(got, "GenuineIntel (Intel)\n(intrin) brand\n") || !strings.Contains(got, "i7-8700K") {
		t.Fatalf("transcript: %q", got)
	}

	ft.MustExec("transcript -x " + path)
	if out := ft.MustExec("vendor"); out != "" {
		t.Fatalf("output with -x: %q", out)
	}
	ft.MustExec("transcript -off")

	ft.AssertExecError("transcript", "no output path specified")
	ft.AssertExecError("transcript -off "+path, "-off option")
	ft.AssertExecError("transcript -q "+path, "unrecognized option")
}

func TestTranscriptStripsColor(t *testing.T) {
	ft := newFakeTerminal(t, intrinsictest.NewIntel())
	ft.color = true
	path := filepath.Join(t.TempDir(), "transcript.txt")
	ft.MustExec("transcript " + path)
	out := ft.MustExec("supports avx2")
	ft.MustExec("transcript -off")
	if !strings.Contains(out, "\033[") {
		t.Fatalf("no color in terminal output: %q", out)
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(buf), "\033[") || !strings.Contains(string(buf), "yes") {
		t.Fatalf("transcript: %q", buf)
	}
}

func TestExit(t *testing.T) {
	ft := newFakeTerminal(t, intrinsictest.NewIntel())
	for _, cmd := range []string{"exit", "quit", "q"} {
		_, err := ft.Exec(cmd)
		if _, ok := err.(ExitRequestError); !ok {
			t.Fatalf("%s: got %v", cmd, err)
		}
	}
}

func TestCompleter(t *testing.T) {
	ft := newFakeTerminal(t, intrinsictest.NewIntel())
	complete := ft.completer()
	contains := func(list []string, s string) bool {
		for _, x := range list {
			if x == s {
				return true
			}
		}
		return false
	}

	if c := complete("sup"); len(c) != 1 || c[0] != "supports" {
		t.Fatalf("sup: %v", c)
	}
	if c := complete("supports av"); !contains(c, "supports avx2") || contains(c, "supports sse2") {
		t.Fatalf("supports av: %v", c)
	}
	if c := complete("has sse2 av"); !contains(c, "has sse2 avx") {
		t.Fatalf("has sse2 av: %v", c)
	}
	if c := complete("disass rdts"); !contains(c, "disass rdtsc") || !contains(c, "disass rdtscp") {
		t.Fatalf("disass rdts: %v", c)
	}
	if c := complete("vendor x"); len(c) != 0 {
		t.Fatalf("vendor x: %v", c)
	}
}
