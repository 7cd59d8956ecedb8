package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filigree/internal/domain"
)

func edge(from, to string) domain.Dependency {
	return domain.Dependency{IssueID: from, DependsOnID: to, Type: domain.DependencyBlocks}
}

func openNodes(ids ...string) []Node {
	out := make([]Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, Node{ID: id, Category: domain.CategoryOpen, Priority: 2})
	}
	return out
}

func chain() *Graph {
	return New([]domain.Dependency{edge("A", "B"), edge("B", "C"), edge("C", "D")})
}

func TestCheckAddRejectsSelfEdge(t *testing.T) {
	g := New(nil)
	err := g.CheckAdd("X", "X")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCheckAddRejectsCycle(t *testing.T) {
	g := chain()
	err := g.CheckAdd("D", "A")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCycle)

	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, []string{"D", "A", "B", "C", "D"}, de.Path)

	added, err := g.Add("D", "A")
	require.Error(t, err)
	assert.False(t, added)
	assert.Empty(t, g.DependsOn("D"))
}

func TestAddIsIdempotent(t *testing.T) {
	g := chain()
	added, err := g.Add("A", "B")
	require.NoError(t, err)
	assert.False(t, added)

	added, err = g.Add("A", "D")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, []string{"B", "D"}, g.DependsOn("A"))
}

func TestNewIgnoresNonBlockingEdges(t *testing.T) {
	g := New([]domain.Dependency{{IssueID: "A", DependsOnID: "B", Type: "related"}})
	assert.Empty(t, g.DependsOn("A"))
}

func TestReadiness(t *testing.T) {
	g := New([]domain.Dependency{edge("A", "B"), edge("C", "D"), edge("E", "ghost")})
	nodes := []Node{
		{ID: "A", Category: domain.CategoryOpen, Priority: 1},
		{ID: "B", Category: domain.CategoryWIP, Priority: 1},
		{ID: "C", Category: domain.CategoryOpen, Priority: 3},
		{ID: "D", Category: domain.CategoryDone, Priority: 0},
		{ID: "E", Category: domain.CategoryOpen, Priority: 0},
		{ID: "F", Category: domain.CategoryOpen, Priority: 0, CreatedAt: "2024-01-02T00:00:00Z"},
		{ID: "G", Category: domain.CategoryOpen, Priority: 0, CreatedAt: "2024-01-01T00:00:00Z"},
	}
	res := g.Readiness(nodes)
	assert.Equal(t, []string{"G", "F", "C"}, res.Ready)
	assert.Equal(t, []Blocked{
		{ID: "E", BlockedBy: []string{"ghost"}},
		{ID: "A", BlockedBy: []string{"B"}},
	}, res.Blocked)
}

func TestCriticalPathChain(t *testing.T) {
	g := chain()
	nodes := openNodes("A", "B", "C", "D")
	assert.Equal(t, []string{"D", "C", "B", "A"}, g.CriticalPath(nodes))

	// closing the root shortens the chain
	nodes[3].Category = domain.CategoryDone
	assert.Equal(t, []string{"C", "B", "A"}, g.CriticalPath(nodes))

	// closing a middle member splits it
	nodes[1].Category = domain.CategoryDone
	assert.Nil(t, g.CriticalPath(nodes), "no remaining chain has two members")
}

func TestCriticalPathTieBreak(t *testing.T) {
	// two chains of three: X1<-X2<-X3 and Y1<-Y2<-Y3 plus a shorter one
	g := New([]domain.Dependency{
		edge("x2", "x1"), edge("x3", "x2"),
		edge("y2", "y1"), edge("y3", "y2"),
		edge("z2", "z1"),
	})
	nodes := openNodes("x1", "x2", "x3", "y1", "y2", "y3", "z1", "z2")
	for i := 0; i < 5; i++ {
		assert.Equal(t, []string{"x1", "x2", "x3"}, g.CriticalPath(nodes))
	}
}

func TestCriticalPathDiamondPrefersSmallestPredecessor(t *testing.T) {
	// top depends on both left and right, which both depend on base
	g := New([]domain.Dependency{
		edge("top", "right"), edge("top", "left"),
		edge("right", "base"), edge("left", "base"),
	})
	nodes := openNodes("top", "left", "right", "base")
	assert.Equal(t, []string{"base", "left", "top"}, g.CriticalPath(nodes))
}

func TestCriticalPathNoEdges(t *testing.T) {
	assert.Nil(t, New(nil).CriticalPath(openNodes("A", "B")))
	assert.Nil(t, New(nil).CriticalPath(nil))
}
