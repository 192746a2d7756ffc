package terminal

import (
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/mattn/go-colorable"
)

// getColorableWriter returns a writer that translates ANSI escape codes
// into console attributes when the console can not interpret them.
func getColorableWriter() io.Writer {
	if strings.EqualFold(os.Getenv("ConEmuANSI"), "on") {
		return os.Stdout
	}
	const enableVirtualTerminalProcessing = 0x0004
	h, err := syscall.GetStdHandle(syscall.STD_OUTPUT_HANDLE)
	if err != nil {
		return os.Stdout
	}
	var mode uint32
	if syscall.GetConsoleMode(h, &mode) != nil || mode&enableVirtualTerminalProcessing != 0 {
		return os.Stdout
	}
	return colorable.NewColorableStdout()
}
