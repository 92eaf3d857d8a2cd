package engine

import (
	"regexp"
	"sort"
	"strings"

	"github.com/seqpipe/seqpipe/internal/graph"
	"github.com/seqpipe/seqpipe/internal/pipeline"
)

// placeholder matches {sample}, {workdir}, {input.NAME}, {input.NAME.KEY},
// {output.NAME}, and {param.NAME} in a command template.
var placeholder = regexp.MustCompile(`\{(sample|workdir|(?:input|output|param)\.[A-Za-z0-9_-]+(?:\.[A-Za-z0-9_-]+)?)\}`)

// resolveCommand substitutes a template's command placeholders.
//
//	{sample}          the instance's sample key
//	{workdir}         the attempt's working directory
//	{input.NAME}      the bound artifact path(s) of input NAME; multiple
//	                  artifacts join space-separated in sorted key order
//	{input.NAME.KEY}  one specific artifact of input NAME (e.g. paired
//	                  reads: {input.reads.r1})
//	{output.NAME}     the declared glob of output NAME, usable when the
//	                  glob is a fixed file name
//	{param.NAME}      a run parameter (trim length, reference locations)
//
// Substitution is all-or-nothing: an unresolvable placeholder is an input
// resolution error, never passed through to the shell.
func resolveCommand(inst *graph.Instance, workdir string, bindings map[string]graph.Item, params map[string]string) (string, error) {
	var resolveErr error

	resolved := placeholder.ReplaceAllStringFunc(inst.Template.Command, func(m string) string {
		if resolveErr != nil {
			return m
		}
		ref := strings.TrimSuffix(strings.TrimPrefix(m, "{"), "}")
		switch {
		case ref == "sample":
			return string(inst.Sample)
		case ref == "workdir":
			return workdir
		case strings.HasPrefix(ref, "input."):
			val, err := resolveInputRef(inst, ref[len("input."):], bindings)
			if err != nil {
				resolveErr = err
				return m
			}
			return val
		case strings.HasPrefix(ref, "output."):
			name := ref[len("output."):]
			out, ok := inst.Template.Output(name)
			if !ok {
				resolveErr = pipeline.NewInputError(inst.ID, "command references undeclared output %q", name)
				return m
			}
			return out.Glob
		case strings.HasPrefix(ref, "param."):
			name := ref[len("param."):]
			val, ok := params[name]
			if !ok {
				resolveErr = pipeline.NewInputError(inst.ID, "command references unset parameter %q", name)
				return m
			}
			return val
		}
		return m
	})

	if resolveErr != nil {
		return "", resolveErr
	}
	return resolved, nil
}

func resolveInputRef(inst *graph.Instance, ref string, bindings map[string]graph.Item) (string, error) {
	name, key, hasKey := strings.Cut(ref, ".")
	item, ok := bindings[name]
	if !ok {
		return "", pipeline.NewInputError(inst.ID, "command references unbound input %q", name)
	}
	if hasKey {
		path, ok := item.Artifacts[key]
		if !ok {
			return "", pipeline.NewInputError(inst.ID, "input %q has no artifact %q", name, key)
		}
		return path, nil
	}
	keys := make([]string, 0, len(item.Artifacts))
	for k := range item.Artifacts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	paths := make([]string, len(keys))
	for i, k := range keys {
		paths[i] = item.Artifacts[k]
	}
	return strings.Join(paths, " "), nil
}
