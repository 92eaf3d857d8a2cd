package pipeline

import (
	"fmt"
	"strings"
)

// Validate checks the wiring implied by a pipeline's templates.
//
// Collected checks, all configuration errors:
//   - duplicate template names
//   - duplicate output names or input names within one template
//   - inputs referencing a channel no template produces (other than the
//     manifest-fed source channel)
//   - a queue channel fed by more than one producing template (fan-in
//     across stages requires an explicit join, not a merged queue)
//   - cardinality mismatches: a value input reading a per-sample producer's
//     channel, or a per-sample input reading a value producer's channel
//   - wiring cycles (see DetectCycle)
//
// All violations are collected before returning so a definition author sees
// the full list, joined into one configuration error.
func Validate(p *Pipeline) error {
	var problems []string

	seen := make(map[string]bool)
	for _, t := range p.Templates {
		if seen[t.Name] {
			problems = append(problems, fmt.Sprintf("duplicate template name %q", t.Name))
		}
		seen[t.Name] = true

		inNames := make(map[string]bool)
		for _, in := range t.Inputs {
			if inNames[in.Name] {
				problems = append(problems, fmt.Sprintf("template %q: duplicate input name %q", t.Name, in.Name))
			}
			inNames[in.Name] = true
		}
		outNames := make(map[string]bool)
		for _, out := range t.Outputs {
			if outNames[out.Name] {
				problems = append(problems, fmt.Sprintf("template %q: duplicate output name %q", t.Name, out.Name))
			}
			outNames[out.Name] = true
		}
	}

	producers := p.Producers()

	// A channel's cardinality is that of its producing template: a
	// per-sample template feeds a queue (one item per sample), a value
	// template feeds a value channel (single item). The source channel is
	// always a per-sample queue.
	for ch, prods := range producers {
		if ch == SourceChannel {
			problems = append(problems, fmt.Sprintf("channel %q is reserved for manifest input and cannot have a producing template", ch))
			continue
		}
		if len(prods) > 1 {
			problems = append(problems, fmt.Sprintf("queue channel %q has multiple producer stages (%s); cross-stage fan-in needs an explicit join", ch, strings.Join(prods, ", ")))
		}
	}

	for _, t := range p.Templates {
		for _, in := range t.Inputs {
			if in.Channel == SourceChannel {
				if in.Cardinality != CardinalityPerSample {
					problems = append(problems, fmt.Sprintf("template %q input %q: source channel %q is per-sample, not value", t.Name, in.Name, SourceChannel))
				}
				continue
			}
			prods, ok := producers[in.Channel]
			if !ok {
				problems = append(problems, fmt.Sprintf("template %q input %q: no producer for channel %q", t.Name, in.Name, in.Channel))
				continue
			}
			prod, _ := p.Template(prods[0])
			switch {
			case prod.PerSample() && in.Cardinality == CardinalityValue:
				problems = append(problems, fmt.Sprintf("template %q input %q: channel %q carries one item per sample but input is declared value", t.Name, in.Name, in.Channel))
			case !prod.PerSample() && in.Cardinality == CardinalityPerSample:
				problems = append(problems, fmt.Sprintf("template %q input %q: channel %q carries a single value but input is declared perSample", t.Name, in.Name, in.Channel))
			}
		}
	}

	if len(problems) == 0 {
		if cyc := DetectCycle(p); cyc != nil {
			problems = append(problems, fmt.Sprintf("wiring cycle: %s", strings.Join(cyc, " -> ")))
		}
	}

	if len(problems) > 0 {
		return NewConfigError("invalid pipeline: %s", strings.Join(problems, "; "))
	}
	return nil
}
