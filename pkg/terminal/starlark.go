package terminal

import (
	"github.com/go-delve/intrinsics/pkg/intrinsic"
	"github.com/go-delve/intrinsics/pkg/terminal/starbind"
)

type starlarkContext struct {
	term *Term
}

var _ starbind.Context = starlarkContext{}

func (ctx starlarkContext) Intrinsics() *intrinsic.Intrinsics {
	return ctx.term.in
}

func (ctx starlarkContext) Registry() *intrinsic.Registry {
	return ctx.term.reg
}

func (ctx starlarkContext) RegisterCommand(name, helpMsg string, fn func(args string) error) {
	cmdfn := func(t *Term, args string) error {
		return fn(args)
	}

	found := false
	for i := range ctx.term.cmds.cmds {
		cmd := &ctx.term.cmds.cmds[i]
		for _, alias := range cmd.aliases {
			if alias == name {
				cmd.cmdFn = cmdfn
				cmd.helpMsg = helpMsg
				found = true
				break
			}
		}
		if found {
			break
		}
	}
	if !found {
		newcmd := command{
			aliases: []string{name},
			helpMsg: helpMsg,
			cmdFn:   cmdfn,
		}
		ctx.term.cmds.cmds = append(ctx.term.cmds.cmds, newcmd)
	}
}

func (ctx starlarkContext) CallCommand(cmdstr string) error {
	return ctx.term.cmds.Call(cmdstr, ctx.term)
}
