package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	cpuCmds
	counterCmds
	engineCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Identifying the processor", cpuCmds},
	{"Reading counters and random numbers", counterCmds},
	{"Inspecting intrinsics", engineCmds},
	{"Other commands", otherCmds},
}
