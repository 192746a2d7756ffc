package terminal

import (
	"golang.org/x/sys/windows"
)

func (w *pagingWriter) getWindowSize() {
	h, err := windows.GetStdHandle(windows.STD_OUTPUT_HANDLE)
	if err != nil {
		w.mode = pagingWriterNormal
		return
	}
	var sbi windows.ConsoleScreenBufferInfo
	if err := windows.GetConsoleScreenBufferInfo(h, &sbi); err != nil {
		w.mode = pagingWriterNormal
		return
	}
	w.columns = int(sbi.Window.Right - sbi.Window.Left + 1)
	w.lines = int(sbi.Window.Bottom - sbi.Window.Top + 1)
}
