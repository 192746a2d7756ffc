package terminal

import (
	"bufio"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/go-delve/intrinsics/pkg/thunk"
)

func disasmPrint(dv []thunk.Instruction, out io.Writer, flavour thunk.AssemblyFlavour) {
	bw := bufio.NewWriter(out)
	defer bw.Flush()
	tw := tabwriter.NewWriter(bw, 1, 8, 1, '\t', 0)
	defer tw.Flush()
	for _, inst := range dv {
		bad := ""
		if inst.Inst == nil {
			bad = "?"
		}
		fmt.Fprintf(tw, "%#04x%s\t%x\t%s\n", inst.Offset, bad, inst.Bytes, inst.Text(flavour))
	}
}
