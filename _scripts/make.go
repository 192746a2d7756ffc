package main

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

const IntrinMainPackagePath = "github.com/go-delve/intrinsics/cmd/intrin"

var Verbose bool
var NOTimeout bool
var TestSet, TestRegex, TestArch string

func NewMakeCommands() *cobra.Command {
	RootCommand := &cobra.Command{
		Use:   "make.go",
		Short: "make script for intrin.",
	}

	RootCommand.AddCommand(&cobra.Command{
		Use:   "build",
		Short: "Build intrin",
		Run: func(cmd *cobra.Command, args []string) {
			execute("go", "build", buildFlags(), IntrinMainPackagePath)
		},
	})

	RootCommand.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Installs intrin",
		Run: func(cmd *cobra.Command, args []string) {
			execute("go", "install", buildFlags(), IntrinMainPackagePath)
			fmt.Printf("installed %s\n", installedExecutablePath())
		},
	})

	RootCommand.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Uninstalls intrin",
		Run: func(cmd *cobra.Command, args []string) {
			execute("go", "clean", "-i", IntrinMainPackagePath)
		},
	})

	test := &cobra.Command{
		Use:   "test",
		Short: "Tests intrin",
		Long: `Tests intrin.

Use the flags -s, -r and -a to specify which tests to run. Specifying nothing will run all tests for the current architecture and, on amd64, for 386 too.
`,
		Run: testCmd,
	}
	test.PersistentFlags().BoolVarP(&Verbose, "verbose", "v", false, "Verbose tests")
	test.PersistentFlags().BoolVarP(&NOTimeout, "timeout", "t", false, "Set infinite timeouts")
	test.PersistentFlags().StringVarP(&TestSet, "test-set", "s", "", `Select the set of tests to run, one of either:
	all		tests all packages
	basic		tests thunk, intrinsic and terminal
	hardware	runs the tests that execute real instructions
	package-name	test the specified package only
`)
	test.PersistentFlags().StringVarP(&TestRegex, "test-run", "r", "", `Only runs the tests matching the specified regex. This option can only be specified if testset is a single package`)
	test.PersistentFlags().StringVarP(&TestArch, "test-arch", "a", "", `Runs tests compiled for the specified GOARCH, for example 386.`)

	RootCommand.AddCommand(test)

	RootCommand.AddCommand(&cobra.Command{
		Use:   "docs",
		Short: "Generates the command line and terminal documentation",
		Run: func(cmd *cobra.Command, args []string) {
			execute("go", "run", "_scripts/gen-usage-docs.go")
			execute("go", "run", "_scripts/gen-cli-docs.go")
		},
	})

	return RootCommand
}

func strflatten(v []interface{}) []string {
	r := []string{}
	for _, s := range v {
		switch s := s.(type) {
		case []string:
			r = append(r, s...)
		case string:
			if s != "" {
				r = append(r, s)
			}
		}
	}
	return r
}

func executeq(env []string, cmd string, args ...interface{}) {
	x := exec.Command(cmd, strflatten(args)...)
	x.Stdout = os.Stdout
	x.Stderr = os.Stderr
	x.Env = append(os.Environ(), env...)
	err := x.Run()
	if x.ProcessState != nil && !x.ProcessState.Success() {
		os.Exit(1)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func execute(cmd string, args ...interface{}) {
	fmt.Printf("%s %s\n", cmd, strings.Join(quotemaybe(strflatten(args)), " "))
	executeq(nil, cmd, args...)
}

func quotemaybe(args []string) []string {
	for i := range args {
		if strings.Contains(args[i], " ") {
			args[i] = fmt.Sprintf("%q", args[i])
		}
	}
	return args
}

func getoutput(cmd string, args ...interface{}) string {
	x := exec.Command(cmd, strflatten(args)...)
	x.Env = os.Environ()
	out, err := x.Output()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing %s %v\n", cmd, args)
		log.Fatal(err)
	}
	if !x.ProcessState.Success() {
		fmt.Fprintf(os.Stderr, "Error executing %s %v\n", cmd, args)
		os.Exit(1)
	}
	return string(out)
}

func installedExecutablePath() string {
	if gobin := os.Getenv("GOBIN"); gobin != "" {
		return filepath.Join(gobin, "intrin")
	}
	gopath := strings.Split(getoutput("go", "env", "GOPATH"), string(os.PathListSeparator))
	return filepath.Join(strings.TrimSpace(gopath[0]), "bin", "intrin")
}

func buildFlags() []string {
	buildSHA, err := exec.Command("git", "rev-parse", "HEAD").CombinedOutput()
	if err != nil {
		return nil
	}
	ldFlags := "-X main.Build=" + strings.TrimSpace(string(buildSHA))
	return []string{fmt.Sprintf("-ldflags=%s", ldFlags)}
}

func testFlags() []string {
	testFlags := []string{"-count", "1"}
	if Verbose {
		testFlags = append(testFlags, "-v")
	}
	if NOTimeout {
		testFlags = append(testFlags, "-timeout", "0")
	}
	return testFlags
}

func testCmd(cmd *cobra.Command, args []string) {
	if TestSet == "" && TestArch == "" {
		if TestRegex != "" {
			fmt.Printf("Can not use --test-run without --test-set\n")
			os.Exit(1)
		}

		testStandard()
		return
	}

	if TestSet == "" {
		TestSet = "all"
	}

	testCmdIntl(TestSet, TestRegex, TestArch)
}

func testStandard() {
	fmt.Println("Testing native architecture")
	testCmdIntl("all", "", "")
	if strings.TrimSpace(getoutput("go", "env", "GOARCH")) == "amd64" {
		fmt.Println("\nTesting 386")
		testCmdIntl("basic", "", "386")
	}
}

func testCmdIntl(testSet, testRegex, testArch string) {
	testPackages := testSetToPackages(testSet)
	if len(testPackages) == 0 {
		fmt.Printf("Unknown test set %q\n", testSet)
		os.Exit(1)
	}
	if testSet == "hardware" {
		testRegex = "Hardware"
	}

	if testRegex != "" && len(testPackages) != 1 {
		fmt.Printf("Can not use test-run with test set %q\n", testSet)
		os.Exit(1)
	}

	var env []string
	if testArch != "" {
		env = append(env, "GOARCH="+testArch)
	}

	runFlag := ""
	if testRegex != "" {
		runFlag = "-run=" + testRegex
	}
	fmt.Printf("%sgo test %s\n", strings.Join(env, " ")+" ", strings.Join(quotemaybe(strflatten([]interface{}{testFlags(), testPackages, runFlag})), " "))
	executeq(env, "go", "test", testFlags(), buildFlags(), testPackages, runFlag)
}

func testSetToPackages(testSet string) []string {
	switch testSet {
	case "", "all":
		return allPackages()

	case "basic":
		return []string{"github.com/go-delve/intrinsics/pkg/thunk", "github.com/go-delve/intrinsics/pkg/intrinsic", "github.com/go-delve/intrinsics/pkg/terminal"}

	case "hardware":
		return []string{"github.com/go-delve/intrinsics/pkg/intrinsic"}

	default:
		for _, pkg := range allPackages() {
			if pkg == testSet || strings.HasSuffix(pkg, "/"+testSet) {
				return []string{pkg}
			}
		}
		return nil
	}
}

func allPackages() []string {
	r := []string{}
	for _, dir := range strings.Split(getoutput("go", "list", "./..."), "\n") {
		dir = strings.TrimSpace(dir)
		if dir == "" || strings.Contains(dir, "/_scripts") {
			continue
		}
		r = append(r, dir)
	}
	sort.Strings(r)
	return r
}

func main() {
	NewMakeCommands().Execute()
}
