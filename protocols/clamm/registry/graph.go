package registry

import "github.com/ethereum/go-ethereum/common"

// GraphView is a snapshot of the token graph: tokens are vertices and every pool adds a
// pair of directed edges between its two tokens. Edges between the same two tokens share
// one entry whose EdgePools lists every pool connecting them.
type GraphView struct {
	Tokens      []common.Address `json:"tokens"`
	Pools       []common.Address `json:"pools"`
	Adjacency   [][]int          `json:"adjacency"`
	EdgeTargets []int            `json:"edgeTargets"`
	EdgePools   [][]int          `json:"edgePools"`
}

// TokenIndex returns the vertex index of token, or -1.
func (v *GraphView) TokenIndex(token common.Address) int {
	for i, t := range v.Tokens {
		if t == token {
			return i
		}
	}
	return -1
}

// graph is the mutable, non-thread-safe form of GraphView. Pools are never removed, so
// there is no dangling-edge bookkeeping.
type graph struct {
	tokenToIndex map[common.Address]int
	poolToIndex  map[common.Address]int

	tokens      []common.Address
	pools       []common.Address
	adjacency   [][]int
	edgeTargets []int
	edgePools   [][]int
}

func newGraph() *graph {
	return &graph{
		tokenToIndex: make(map[common.Address]int),
		poolToIndex:  make(map[common.Address]int),
	}
}

func (g *graph) tokenIndex(token common.Address) int {
	index, exists := g.tokenToIndex[token]
	if !exists {
		index = len(g.tokens)
		g.tokens = append(g.tokens, token)
		g.tokenToIndex[token] = index
		g.adjacency = append(g.adjacency, nil)
	}
	return index
}

// addEdge creates or extends the directed edge from -> to with pool.
func (g *graph) addEdge(from, to, pool common.Address) {
	fromIndex := g.tokenIndex(from)
	toIndex := g.tokenIndex(to)
	poolIndex, exists := g.poolToIndex[pool]
	if !exists {
		poolIndex = len(g.pools)
		g.pools = append(g.pools, pool)
		g.poolToIndex[pool] = poolIndex
	}

	for _, edgeIndex := range g.adjacency[fromIndex] {
		if g.edgeTargets[edgeIndex] != toIndex {
			continue
		}
		for _, existing := range g.edgePools[edgeIndex] {
			if existing == poolIndex {
				return
			}
		}
		g.edgePools[edgeIndex] = append(g.edgePools[edgeIndex], poolIndex)
		return
	}

	newEdgeIndex := len(g.edgeTargets)
	g.edgeTargets = append(g.edgeTargets, toIndex)
	g.edgePools = append(g.edgePools, []int{poolIndex})
	g.adjacency[fromIndex] = append(g.adjacency[fromIndex], newEdgeIndex)
}

func (g *graph) addPool(token0, token1, pool common.Address) {
	g.addEdge(token0, token1, pool)
	g.addEdge(token1, token0, pool)
}

func (g *graph) poolsForToken(token common.Address) []common.Address {
	tokenIndex, exists := g.tokenToIndex[token]
	if !exists {
		return nil
	}

	// a pool appears on exactly one outgoing edge of each of its tokens
	var out []common.Address
	for _, edgeIndex := range g.adjacency[tokenIndex] {
		for _, poolIndex := range g.edgePools[edgeIndex] {
			out = append(out, g.pools[poolIndex])
		}
	}
	return out
}

// view returns a deep copy of the graph.
func (g *graph) view() *GraphView {
	tokensCopy := make([]common.Address, len(g.tokens))
	copy(tokensCopy, g.tokens)

	poolsCopy := make([]common.Address, len(g.pools))
	copy(poolsCopy, g.pools)

	adjacencyCopy := make([][]int, len(g.adjacency))
	for i, adj := range g.adjacency {
		adjCopy := make([]int, len(adj))
		copy(adjCopy, adj)
		adjacencyCopy[i] = adjCopy
	}

	edgeTargetsCopy := make([]int, len(g.edgeTargets))
	copy(edgeTargetsCopy, g.edgeTargets)

	edgePoolsCopy := make([][]int, len(g.edgePools))
	for i, poolList := range g.edgePools {
		listCopy := make([]int, len(poolList))
		copy(listCopy, poolList)
		edgePoolsCopy[i] = listCopy
	}

	return &GraphView{
		Tokens:      tokensCopy,
		Pools:       poolsCopy,
		Adjacency:   adjacencyCopy,
		EdgeTargets: edgeTargetsCopy,
		EdgePools:   edgePoolsCopy,
	}
}
