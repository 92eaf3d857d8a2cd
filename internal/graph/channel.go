package graph

import (
	"sync"

	"github.com/seqpipe/seqpipe/internal/manifest"
	"github.com/seqpipe/seqpipe/internal/pipeline"
)

// Kind distinguishes the two channel shapes.
type Kind int

const (
	// KindValue carries exactly one item, set once and replayed to every
	// consumer (broadcast). Read-only after its single emission.
	KindValue Kind = iota + 1
	// KindQueue carries one item per sample key, appended in emission order
	// by a single producer stage and read per sample key by consumers.
	KindQueue
)

func (k Kind) String() string {
	if k == KindValue {
		return "value"
	}
	return "queue"
}

// Item is one unit of data flowing through a channel: the artifacts one
// producing instance emitted, keyed by artifact name.
type Item struct {
	Sample    manifest.SampleKey // "" for value-scope producers
	Producer  string             // producing instance ID; "" for manifest-fed items
	Artifacts map[string]string  // artifact name -> file path or published address
	// Hashes optionally carries known content hashes per artifact. Set on
	// cache-hit replay so downstream fingerprints use the recorded hash
	// instead of re-reading artifact bytes.
	Hashes map[string]string
}

// Channel is a typed conduit between task instances.
//
// Channels are the only mutable structures shared between concurrent
// instances, so emission is locked; a value channel is immutable after its
// first emission and a queue channel has a single producer stage, so
// consumers never observe torn state.
type Channel struct {
	Name string
	Kind Kind

	mu    sync.Mutex
	items []Item
}

// NewChannel creates an empty channel.
func NewChannel(name string, kind Kind) *Channel {
	return &Channel{Name: name, Kind: kind}
}

// Emit appends an item (queue) or sets the single value (value channel).
// A second emission on a value channel is a configuration error: the wiring
// routed two producers into a single-value conduit.
func (c *Channel) Emit(it Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Kind == KindValue && len(c.items) > 0 {
		return pipeline.NewConfigError("value channel %q emitted more than once (by %s after %s)", c.Name, it.Producer, c.items[0].Producer)
	}
	c.items = append(c.items, it)
	return nil
}

// Value returns the single item of a value channel, replayable to any
// number of consumers.
func (c *Channel) Value() (Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) == 0 {
		return Item{}, false
	}
	return c.items[0], true
}

// ItemFor returns the queue item emitted for the given sample key.
func (c *Channel) ItemFor(key manifest.SampleKey) (Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range c.items {
		if it.Sample == key {
			return it, true
		}
	}
	return Item{}, false
}

// Len returns the number of items emitted so far.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
