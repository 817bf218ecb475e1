package flamegraph

import (
	"sort"
	"strings"

	"github.com/danr/processor/internal/frame"
	"github.com/danr/processor/internal/profile"
)

type (
	Node struct {
		Children []*Node `json:"children"`
		Name     string  `json:"name"`
		Value    int     `json:"value"`

		index map[string]*Node
	}

	Thread struct {
		Root        *Node  `json:"root"`
		SampleCount int    `json:"sampleCount"`
		ThreadID    int    `json:"threadId"`
		ThreadName  string `json:"threadName"`
	}

	Output struct {
		SessionID    string   `json:"sessionId"`
		Threads      []Thread `json:"threads"`
		TotalSamples int      `json:"totalSamples"`
	}
)

func newNode(name string) *Node {
	return &Node{
		Children: make([]*Node, 0),
		Name:     name,
	}
}

func (n *Node) child(name string) *Node {
	if c, exists := n.index[name]; exists {
		return c
	}
	if n.index == nil {
		n.index = make(map[string]*Node)
	}
	c := newNode(name)
	n.index[name] = c
	n.Children = append(n.Children, c)
	return c
}

// insert folds a root first stack into the tree.
func (n *Node) insert(frames []string) {
	n.Value++
	current := n
	for _, f := range frames {
		current = current.child(frame.CleanName(f))
		current.Value++
	}
}

func (n *Node) sortChildren() {
	sort.SliceStable(n.Children, func(i, j int) bool {
		return n.Children[i].Value > n.Children[j].Value
	})
	for _, c := range n.Children {
		c.sortChildren()
	}
}

// matchesThread reports whether name contains filter, ignoring case. An
// empty filter matches every thread.
func matchesThread(name, filter string) bool {
	if filter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(name), strings.ToLower(filter))
}

// Aggregate builds one call tree per thread out of the sampled stacks.
// threadFilter is a case insensitive substring of the thread names to keep.
func Aggregate(sessionID string, samples []profile.Sample, threadFilter string) Output {
	threads := make(map[profile.ThreadKey]*Thread)
	order := make([]profile.ThreadKey, 0)

	for _, s := range samples {
		for _, t := range s.Threads {
			if !matchesThread(t.ThreadName, threadFilter) {
				continue
			}
			key := t.Key()
			thread, exists := threads[key]
			if !exists {
				thread = &Thread{
					Root:       newNode("root"),
					ThreadID:   t.ThreadID,
					ThreadName: t.ThreadName,
				}
				threads[key] = thread
				order = append(order, key)
			}
			if len(t.StackFrames) == 0 {
				continue
			}
			thread.Root.insert(t.RootFirst())
			thread.SampleCount++
		}
	}

	o := Output{
		SessionID:    sessionID,
		Threads:      make([]Thread, 0, len(order)),
		TotalSamples: len(samples),
	}
	for _, key := range order {
		thread := threads[key]
		thread.Root.sortChildren()
		o.Threads = append(o.Threads, *thread)
	}
	sort.SliceStable(o.Threads, func(i, j int) bool {
		return o.Threads[i].SampleCount > o.Threads[j].SampleCount
	})
	return o
}
