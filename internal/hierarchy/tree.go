package hierarchy

import (
	"fmt"
	"sync"
)

// NodeID addresses a node within its Tree. IDs are stable for the tree's
// lifetime.
type NodeID int

// NoParent is returned by Parent for the root node.
const NoParent NodeID = -1

type node struct {
	key      string
	name     string
	kind     Kind
	state    State
	parent   NodeID
	children []NodeID
}

// Info is a read-only view of a node.
type Info struct {
	ID       NodeID   `json:"-"`
	Key      string   `json:"id"`
	Name     string   `json:"name"`
	Kind     Kind     `json:"kind"`
	State    State    `json:"state"`
	Stored   State    `json:"stored_state"`
	Parent   NodeID   `json:"-"`
	Children []NodeID `json:"-"`
}

// Tree is an append-only arena of work nodes rooted at a module. Nodes are
// never detached or deleted.
//
// The loop mutates the tree from a single goroutine; the lock lets status
// readers observe it concurrently.
type Tree struct {
	mu    sync.RWMutex
	nodes []node
	byKey map[string]NodeID
}

// NewTree creates a tree whose root is the module identified by key.
func NewTree(key, name string) *Tree {
	t := &Tree{byKey: map[string]NodeID{}}
	t.nodes = append(t.nodes, node{key: key, name: name, kind: KindModule, state: StatePending, parent: NoParent})
	t.byKey[key] = 0
	return t
}

// Root returns the module node.
func (t *Tree) Root() NodeID { return 0 }

// AddChild attaches a new pending node under parent. The child's kind is
// derived from the parent's.
func (t *Tree) AddChild(parent NodeID, key, name string) (NodeID, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	p, err := t.get(parent)
	if err != nil {
		return 0, err
	}
	kind, ok := p.kind.ChildKind()
	if !ok {
		return 0, fmt.Errorf("add %q under %q: %w", key, p.key, ErrLeafNode)
	}
	if _, exists := t.byKey[key]; exists {
		return 0, fmt.Errorf("add %q: %w", key, ErrDuplicateKey)
	}

	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, node{key: key, name: name, kind: kind, state: StatePending, parent: parent})
	t.nodes[parent].children = append(t.nodes[parent].children, id)
	t.byKey[key] = id
	return id, nil
}

// Lookup resolves an external key to its NodeID.
func (t *Tree) Lookup(key string) (NodeID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byKey[key]
	return id, ok
}

// Node returns a view of id with its aggregate state.
func (t *Tree) Node(id NodeID) (Info, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.info(id)
}

// Parent returns the parent of id, or NoParent for the root.
func (t *Tree) Parent(id NodeID) (NodeID, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, err := t.get(id)
	if err != nil {
		return NoParent, err
	}
	return n.parent, nil
}

// Children returns the ordered children of id.
func (t *Tree) Children(id NodeID) ([]NodeID, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, err := t.get(id)
	if err != nil {
		return nil, err
	}
	return append([]NodeID(nil), n.children...), nil
}

// TransitionTo moves the stored state of id to target. Rejected transitions
// return *InvalidStateTransitionError and leave the node untouched.
func (t *Tree) TransitionTo(id NodeID, target State) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, err := t.get(id)
	if err != nil {
		return err
	}
	if !n.state.CanTransitionTo(target) {
		return &InvalidStateTransitionError{Key: n.key, Current: n.state, Target: target}
	}
	t.nodes[id].state = target
	return nil
}

// State returns the state id reports: its stored state when it has no
// children, otherwise the aggregate of its children.
func (t *Tree) State(id NodeID) (State, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, err := t.get(id); err != nil {
		return "", err
	}
	return t.aggregate(id), nil
}

// StoredState returns the node's own state field.
func (t *Tree) StoredState(id NodeID) (State, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, err := t.get(id)
	if err != nil {
		return "", err
	}
	return n.state, nil
}

// OfKind returns every node of kind k in pre-order.
func (t *Tree) OfKind(k Kind) []NodeID {
	var out []NodeID
	t.Walk(func(info Info) bool {
		if info.Kind == k {
			out = append(out, info.ID)
		}
		return true
	})
	return out
}

// Walk visits nodes in pre-order until fn returns false.
func (t *Tree) Walk(fn func(Info) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.walk(0, fn)
}

func (t *Tree) walk(id NodeID, fn func(Info) bool) bool {
	info, _ := t.info(id)
	if !fn(info) {
		return false
	}
	for _, c := range t.nodes[id].children {
		if !t.walk(c, fn) {
			return false
		}
	}
	return true
}

// Summary counts nodes by kind and reported state.
type Summary map[Kind]map[State]int

// Summary returns node counts by kind and reported state.
func (t *Tree) Summary() Summary {
	s := Summary{}
	t.Walk(func(info Info) bool {
		if s[info.Kind] == nil {
			s[info.Kind] = map[State]int{}
		}
		s[info.Kind][info.State]++
		return true
	})
	return s
}

func (t *Tree) get(id NodeID) (*node, error) {
	if id < 0 || int(id) >= len(t.nodes) {
		return nil, fmt.Errorf("node %d: %w", id, ErrNodeNotFound)
	}
	return &t.nodes[id], nil
}

func (t *Tree) info(id NodeID) (Info, error) {
	n, err := t.get(id)
	if err != nil {
		return Info{}, err
	}
	return Info{
		ID:       id,
		Key:      n.key,
		Name:     n.name,
		Kind:     n.kind,
		State:    t.aggregate(id),
		Stored:   n.state,
		Parent:   n.parent,
		Children: append([]NodeID(nil), n.children...),
	}, nil
}

func (t *Tree) aggregate(id NodeID) State {
	n := &t.nodes[id]
	if len(n.children) == 0 {
		return n.state
	}
	states := make([]State, len(n.children))
	for i, c := range n.children {
		states[i] = t.aggregate(c)
	}
	return Aggregate(states)
}
