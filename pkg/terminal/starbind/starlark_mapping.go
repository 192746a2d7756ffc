package starbind

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/go-delve/intrinsics/pkg/intrinsic"
)

// param binds one argument of a builtin to a Go variable.
type param struct {
	name string
	dst  interface{}
}

// bindArgs stores positional arguments in the order of params and
// keyword arguments by name.
func bindArgs(args starlark.Tuple, kwargs []starlark.Tuple, params ...param) error {
	if len(args) > len(params) {
		return fmt.Errorf("too many arguments")
	}
	for i := range args {
		if args[i] == starlark.None {
			continue
		}
		if err := setArg(args[i], params[i].dst, params[i].name); err != nil {
			return err
		}
	}
	for _, kv := range kwargs {
		name, _ := kv[0].(starlark.String)
		found := false
		for _, p := range params {
			if p.name == string(name) {
				if err := setArg(kv[1], p.dst, p.name); err != nil {
					return err
				}
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown argument %q", kv[0])
		}
	}
	return nil
}

func (env *Env) starlarkPredeclare() (starlark.StringDict, map[string]string) {
	r := starlark.StringDict{}
	doc := make(map[string]string)

	r["supports"] = starlark.NewBuiltin("supports", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		var name string
		if err := bindArgs(args, kwargs, param{"Feature", &name}); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		f, err := intrinsic.ParseFeature(name)
		if err != nil {
			return starlark.None, decorateError(thread, err)
		}
		return starlark.Bool(env.ctx.Intrinsics().Supports(f)), nil
	})
	doc["supports"] = "builtin supports(Feature)\n\nsupports returns True if the processor has the named feature, for example supports(\"avx2\")."

	r["features"] = starlark.NewBuiltin("features", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		var prefix string
		if err := bindArgs(args, kwargs, param{"Prefix", &prefix}); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		in := env.ctx.Intrinsics()
		var names []starlark.Value
		for _, f := range intrinsic.FeaturesWithPrefix(prefix) {
			if in.Supports(f) {
				names = append(names, starlark.String(f.String()))
			}
		}
		return starlark.NewList(names), nil
	})
	doc["features"] = "builtin features(Prefix)\n\nfeatures returns the sorted names of the features the processor has.\nIf Prefix is specified only names starting with it are returned."

	r["cpuid"] = starlark.NewBuiltin("cpuid", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		var leaf, subLeaf uint32
		if len(args) == 0 && len(kwargs) == 0 {
			return starlark.None, decorateError(thread, fmt.Errorf("missing argument Leaf"))
		}
		if err := bindArgs(args, kwargs, param{"Leaf", &leaf}, param{"SubLeaf", &subLeaf}); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		regs, err := env.ctx.Intrinsics().CPU.RetrieveInformation(leaf, subLeaf)
		if err != nil {
			return starlark.None, decorateError(thread, err)
		}
		return toStarlarkValue(regs), nil
	})
	doc["cpuid"] = "builtin cpuid(Leaf, SubLeaf)\n\ncpuid executes CPUID and returns a struct with fields EAX, EBX, ECX and EDX."

	r["vendor"] = starlark.NewBuiltin("vendor", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return starlark.String(env.ctx.Intrinsics().CPU.VendorString()), nil
	})
	doc["vendor"] = "builtin vendor()\n\nvendor returns the vendor identification string, for example \"GenuineIntel\"."

	r["brand"] = starlark.NewBuiltin("brand", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return starlark.String(env.ctx.Intrinsics().CPU.ProcessorBrandString()), nil
	})
	doc["brand"] = "builtin brand()\n\nbrand returns the processor brand string."

	r["topology"] = starlark.NewBuiltin("topology", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return toStarlarkValue(env.ctx.Intrinsics().CPU.Topology()), nil
	})
	doc["topology"] = "builtin topology()\n\ntopology returns the vendor, brand, family, model, stepping, core counts and cache line size of the processor."

	r["rand64"] = starlark.NewBuiltin("rand64", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		v, err := env.ctx.Intrinsics().Rand.Uint64()
		if err != nil {
			return starlark.None, decorateError(thread, err)
		}
		return starlark.MakeUint64(v), nil
	})
	doc["rand64"] = "builtin rand64()\n\nrand64 returns a random number from RDRAND, or the timestamp counter if the processor lacks it."

	r["seed64"] = starlark.NewBuiltin("seed64", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		v, err := env.ctx.Intrinsics().Seed.Uint64()
		if err != nil {
			return starlark.None, decorateError(thread, err)
		}
		return starlark.MakeUint64(v), nil
	})
	doc["seed64"] = "builtin seed64()\n\nseed64 returns a random seed from RDSEED, or the timestamp counter if the processor lacks it."

	r["timestamp"] = starlark.NewBuiltin("timestamp", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return starlark.MakeInt64(env.ctx.Intrinsics().Timestamp()), nil
	})
	doc["timestamp"] = "builtin timestamp()\n\ntimestamp reads the timestamp counter."

	r["state"] = starlark.NewBuiltin("state", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		snapshot := env.ctx.Registry().Snapshot()
		d := starlark.NewDict(len(intrinsic.IDs))
		for _, id := range intrinsic.IDs {
			s, ok := snapshot[id]
			if !ok {
				s = intrinsic.Unknown
			}
			if err := d.SetKey(starlark.String(id), starlark.String(s.String())); err != nil {
				return starlark.None, decorateError(thread, err)
			}
		}
		return d, nil
	})
	doc["state"] = "builtin state()\n\nstate returns a dict mapping the name of every intrinsic to its state: unknown, compiled, available or not available."

	return r, doc
}
