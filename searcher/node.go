package searcher

import (
	"math"
	"math/rand/v2"

	"palm/scenario"
)

// severity rates how close a simulated flight came to the obstacles.
type severity int

const (
	unrated severity = iota
	distant
	grazing  // within 1.5m
	nearMiss // within 1m
	hit      // within 0.25m
)

func rate(distance float64) severity {
	switch d := math.Abs(distance); {
	case math.IsNaN(d):
		return unrated
	case d < 0.25:
		return hit
	case d <= 1:
		return nearMiss
	case d <= 1.5:
		return grazing
	default:
		return distant
	}
}

// node is a vertex of the search tree. Children are owned by their parent;
// parent is only followed during backpropagation.
type node struct {
	parent   *node
	key      string
	state    scenario.State
	children []*node
	index    map[string]*node
	rewards  float64
	visits   int
	own      int // iterations that ended at this node

	// Results of the latest full simulation of this scenario.
	path          scenario.Path
	distance      float64
	severity      severity
	closestIsLast bool
	recorded      bool
}

func newNode(parent *node, state scenario.State, key string) *node {
	return &node{
		parent:   parent,
		key:      key,
		state:    state,
		index:    make(map[string]*node),
		distance: math.NaN(),
	}
}

func (n *node) depth() int {
	return n.state.Len()
}

func (n *node) isTerminal() bool {
	return n.state.IsTerminal()
}

func (n *node) addChild(state scenario.State, key string) *node {
	if n.isTerminal() {
		panic("terminal node cannot have children")
	}
	child := newNode(n, state, key)
	n.children = append(n.children, child)
	n.index[key] = child
	return child
}

// pickChild selects the child with the highest UCB1 score. Ties are broken
// uniformly at random.
func (n *node) pickChild(explorationRate float64, rng *rand.Rand) *node {
	if len(n.children) == 0 {
		panic("node has no children")
	}
	if n.visits == 0 {
		panic("node has children but no visits")
	}

	policy := newUCT(explorationRate, n.visits)
	maxScore := math.Inf(-1)
	var ties []*node
	for _, child := range n.children {
		score := policy.evaluate(child.rewards, child.visits)
		switch {
		case score > maxScore:
			maxScore = score
			ties = append(ties[:0], child)
		case score == maxScore:
			ties = append(ties, child)
		}
	}
	if len(ties) == 0 { // every score was NaN
		return n.children[rng.IntN(len(n.children))]
	}
	return ties[rng.IntN(len(ties))]
}

// variationSibling picks a child worth varying instead of adding a new
// obstacle: its flight came close to the obstacles and its last obstacle was
// the closest one.
func (n *node) variationSibling(rng *rand.Rand) *node {
	var candidates []*node
	for _, child := range n.children {
		if (child.severity == grazing || child.severity == nearMiss) && child.closestIsLast {
			candidates = append(candidates, child)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	return candidates[rng.IntN(len(candidates))]
}

// trajectory is the latest flown path of this scenario or, if it has not been
// simulated, of its closest simulated ancestor. Nil means the nominal path.
func (n *node) trajectory() scenario.Path {
	for cur := n; cur != nil; cur = cur.parent {
		if len(cur.path) > 0 {
			return cur.path
		}
	}
	return nil
}

func (n *node) observe(outcome Outcome) {
	n.path = scenario.Flatten(outcome.Trajectory)
	n.distance = outcome.MinDistance
	n.severity = rate(outcome.MinDistance)
	n.closestIsLast = outcome.closestIsLast()
}

func (n *node) backup(reward float64) *node {
	n.rewards += reward
	n.visits++
	return n.parent
}

// backup adds the reward to every node from leaf up to the root.
func backup(leaf *node, reward float64) {
	leaf.own++
	cur := leaf
	for cur != nil {
		cur = cur.backup(reward)
	}
}
