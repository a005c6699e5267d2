package hierarchy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSampleTree(t *testing.T) (*Tree, NodeID, NodeID, NodeID) {
	t.Helper()
	tree := NewTree("billing", "Billing")
	comp, err := tree.AddChild(tree.Root(), "c1", "Invoicing")
	require.NoError(t, err)
	t1, err := tree.AddChild(comp, "t1", "render")
	require.NoError(t, err)
	t2, err := tree.AddChild(comp, "t2", "email")
	require.NoError(t, err)
	return tree, comp, t1, t2
}

func TestTree_AddChild(t *testing.T) {
	tree, comp, t1, _ := newSampleTree(t)

	info, err := tree.Node(t1)
	require.NoError(t, err)
	assert.Equal(t, KindTask, info.Kind)
	assert.Equal(t, "t1", info.Key)
	assert.Equal(t, StatePending, info.State)
	assert.Equal(t, comp, info.Parent)

	parent, err := tree.Parent(tree.Root())
	require.NoError(t, err)
	assert.Equal(t, NoParent, parent)

	children, err := tree.Children(comp)
	require.NoError(t, err)
	assert.Len(t, children, 2)

	sub, err := tree.AddChild(t1, "t1.s1", "pdf")
	require.NoError(t, err)
	info, _ = tree.Node(sub)
	assert.Equal(t, KindSubtask, info.Kind)
}

func TestTree_AddChildErrors(t *testing.T) {
	tree, _, t1, _ := newSampleTree(t)
	sub, err := tree.AddChild(t1, "s1", "pdf")
	require.NoError(t, err)

	_, err = tree.AddChild(sub, "s1.x", "nope")
	assert.ErrorIs(t, err, ErrLeafNode)

	_, err = tree.AddChild(t1, "t2", "dup")
	assert.ErrorIs(t, err, ErrDuplicateKey)

	_, err = tree.AddChild(NodeID(99), "x", "x")
	assert.ErrorIs(t, err, ErrNodeNotFound)

	_, err = tree.AddChild(t1, "", "x")
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestTree_TransitionTo(t *testing.T) {
	for _, from := range allStates {
		for _, to := range allStates {
			tree := NewTree("m", "m")
			id, err := tree.AddChild(tree.Root(), "c", "c")
			require.NoError(t, err)
			forceState(t, tree, id, from)

			err = tree.TransitionTo(id, to)
			got, _ := tree.StoredState(id)
			if from.CanTransitionTo(to) {
				assert.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, got)
				continue
			}

			var transErr *InvalidStateTransitionError
			require.True(t, errors.As(err, &transErr), "%s -> %s", from, to)
			assert.ErrorIs(t, err, ErrInvalidStateTransition)
			assert.Equal(t, from, transErr.Current)
			assert.Equal(t, to, transErr.Target)
			assert.Equal(t, from, got, "state unchanged after rejection")
		}
	}
}

func TestTree_TransitionUnknownNode(t *testing.T) {
	tree := NewTree("m", "m")
	assert.ErrorIs(t, tree.TransitionTo(NodeID(5), StateInProgress), ErrNodeNotFound)
}

func TestTree_AggregateState(t *testing.T) {
	tree, comp, t1, t2 := newSampleTree(t)

	state, _ := tree.State(comp)
	assert.Equal(t, StatePending, state)

	forceState(t, tree, t1, StateComplete)
	state, _ = tree.State(comp)
	assert.Equal(t, StateInProgress, state)

	forceState(t, tree, t2, StateFailed)
	state, _ = tree.State(comp)
	assert.Equal(t, StateFailed, state)
	root, _ := tree.State(tree.Root())
	assert.Equal(t, StateFailed, root, "aggregation is recursive")

	require.NoError(t, tree.TransitionTo(t2, StateInProgress))
	require.NoError(t, tree.TransitionTo(t2, StateComplete))
	state, _ = tree.State(comp)
	assert.Equal(t, StateComplete, state)

	stored, _ := tree.StoredState(comp)
	assert.Equal(t, StatePending, stored, "aggregate is never stored")
}

func TestTree_ChildlessCompositeReportsStoredState(t *testing.T) {
	tree := NewTree("m", "m")
	comp, err := tree.AddChild(tree.Root(), "c1", "empty")
	require.NoError(t, err)
	forceState(t, tree, comp, StateInProgress)

	state, _ := tree.State(comp)
	assert.Equal(t, StateInProgress, state)
}

func TestTree_WalkAndSummary(t *testing.T) {
	tree, _, t1, _ := newSampleTree(t)
	forceState(t, tree, t1, StateComplete)

	var keys []string
	tree.Walk(func(info Info) bool {
		keys = append(keys, info.Key)
		return true
	})
	assert.Equal(t, []string{"billing", "c1", "t1", "t2"}, keys)

	assert.Len(t, tree.OfKind(KindTask), 2)

	s := tree.Summary()
	assert.Equal(t, 1, s[KindTask][StateComplete])
	assert.Equal(t, 1, s[KindTask][StatePending])
	assert.Equal(t, 1, s[KindComponent][StateInProgress])

	id, ok := tree.Lookup("t2")
	assert.True(t, ok)
	info, _ := tree.Node(id)
	assert.Equal(t, "email", info.Name)
}

// forceState drives id to target through legal transitions.
func forceState(t *testing.T, tree *Tree, id NodeID, target State) {
	t.Helper()
	paths := map[State][]State{
		StatePending:    nil,
		StateInProgress: {StateInProgress},
		StateComplete:   {StateInProgress, StateComplete},
		StateFailed:     {StateInProgress, StateFailed},
	}
	for _, s := range paths[target] {
		require.NoError(t, tree.TransitionTo(id, s))
	}
}
