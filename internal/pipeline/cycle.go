package pipeline

// DetectCycle looks for a cycle in the template wiring graph.
//
// Edges run from each channel's producing template to every template
// consuming that channel. Detection is a depth-first traversal with
// white/grey/black marks: hitting a grey node is a back-edge, and the grey
// stack at that point is the cycle path.
//
// Returns the cycle path (first node repeated at the end) or nil if the
// wiring is acyclic. Templates are visited in declaration order so the
// reported path is stable across runs.
func DetectCycle(p *Pipeline) []string {
	producers := p.Producers()

	// adjacency: template name -> consumer template names, declaration order
	adj := make(map[string][]string, len(p.Templates))
	for _, t := range p.Templates {
		for _, in := range t.Inputs {
			if prods, ok := producers[in.Channel]; ok {
				for _, prod := range prods {
					adj[prod] = append(adj[prod], t.Name)
				}
			}
		}
	}

	const (
		white = 0 // unvisited
		grey  = 1 // on the current DFS stack
		black = 2 // fully explored
	)
	marks := make(map[string]int, len(p.Templates))
	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		marks[name] = grey
		stack = append(stack, name)
		for _, next := range adj[name] {
			switch marks[next] {
			case grey:
				// Back-edge: slice the stack from the first occurrence.
				for i, n := range stack {
					if n == next {
						cycle = append(append([]string{}, stack[i:]...), next)
						return true
					}
				}
			case white:
				if visit(next) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		marks[name] = black
		return false
	}

	for _, t := range p.Templates {
		if marks[t.Name] == white && visit(t.Name) {
			return cycle
		}
	}
	return nil
}
