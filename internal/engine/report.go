package engine

import (
	"fmt"
	"strings"
)

// InstanceReport is the user-visible outcome of one task instance.
type InstanceReport struct {
	Instance string `json:"instance"`
	Template string `json:"template"`
	Sample   string `json:"sample,omitempty"`
	State    string `json:"state"`
	CacheHit bool   `json:"cache_hit,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Report summarizes a run. Instances appear in DAG creation order so the
// report is stable across runs.
type Report struct {
	Policy    string           `json:"policy"`
	Instances []InstanceReport `json:"instances"`
	Executed  int              `json:"executed"`
	CacheHits int              `json:"cache_hits"`
	Failed    int              `json:"failed"`
}

// OK reports whether every instance completed.
func (r *Report) OK() bool { return r.Failed == 0 }

// Summary renders the per-instance status table, failures first detailed.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "instances=%d executed=%d cache_hits=%d failed=%d policy=%s\n",
		len(r.Instances), r.Executed, r.CacheHits, r.Failed, r.Policy)
	for _, ir := range r.Instances {
		marker := " "
		if ir.State == "failed" {
			marker = "!"
		}
		fmt.Fprintf(&b, "%s %-40s %s", marker, ir.Instance, ir.State)
		if ir.CacheHit {
			b.WriteString(" (cached)")
		}
		if ir.Error != "" {
			fmt.Fprintf(&b, ": %s", ir.Error)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
