package query

import (
	"github.com/andyglick/perst/indexes"
	"github.com/andyglick/perst/keys"
)

// The planner runs on every Execute, once the parameters are bound, so
// it can look at actual parameter values (a like pattern with no
// literal prefix cannot use an index) and at the catalog's current
// index state. Plans produce candidate refs only; the executor
// re-evaluates the full predicate on every resolved record, so a plan
// is free to over-approximate.

type planNode interface{ isPlan() }

// indexScan serves one comparison leaf from the chain of managed
// indexes along its path: the last index keyed by the leaf value, the
// earlier ones keyed by object reference, walked back to the root
// class.
type indexScan struct {
	leaf  *cmpExpr
	chain []*indexes.FieldIndex // parallel to leaf.path.hops
	dir   indexes.Direction
}

// fullIndexScan visits every entry of one index, serving an order-by
// clause the predicate places no bound on.
type fullIndexScan struct {
	ix  *indexes.FieldIndex
	dir indexes.Direction
}

// intersectScan keeps the refs produced by all of its kids.
type intersectScan struct{ kids []planNode }

// unionScan merges the refs produced by any of its kids.
type unionScan struct{ kids []planNode }

// extentScan walks the class extent in ref order. It is the natural
// plan for an empty predicate; as seqFallback it is the plan of last
// resort and is reported to the listener.
type extentScan struct{}

func (*indexScan) isPlan()     {}
func (*fullIndexScan) isPlan() {}
func (*intersectScan) isPlan() {}
func (*unionScan) isPlan()     {}
func (*extentScan) isPlan()    {}

// plan is the executor's work order: where candidates come from and
// which fallbacks were taken getting there.
type plan struct {
	node        planNode
	seqFallback bool // node is an extent scan forced by an unservable predicate
	needSort    bool // executor must collect and sort by the order-by path
}

func (q *Query) plan() plan {
	root, order := q.c.root, q.c.orderBy

	// An indexed single-hop order-by can be served by scan direction
	// alone, with no sort. Best case the predicate constrains the same
	// field and bounds the scan; otherwise the whole index is walked
	// and the predicate filters.
	if order != nil && len(order.path.hops) == 1 {
		h := order.path.hops[0]
		if ix := q.cat.IndexOf(h.class, h.ndx); ix != nil {
			dir := direction(order.desc)
			if leaf := q.orderedLeaf(root, order.path); leaf != nil {
				return plan{node: &indexScan{leaf: leaf, chain: []*indexes.FieldIndex{ix}, dir: dir}}
			}
			return plan{node: &fullIndexScan{ix: ix, dir: dir}}
		}
	}

	var p plan
	if root == nil {
		p.node = &extentScan{}
	} else if node := q.candidates(root); node != nil {
		p.node = node
	} else {
		p.node = &extentScan{}
		p.seqFallback = true
	}
	p.needSort = order != nil
	return p
}

// orderedLeaf finds a servable comparison on exactly the order-by
// path, at the root or among top-level conjuncts, whose bound can be
// folded into the ordered scan.
func (q *Query) orderedLeaf(e expr, by *path) *cmpExpr {
	switch n := e.(type) {
	case *cmpExpr:
		if n.path.equal(by) && q.servable(n) != nil {
			return n
		}
	case *andExpr:
		for _, kid := range n.kids {
			if leaf := q.orderedLeaf(kid, by); leaf != nil {
				return leaf
			}
		}
	}
	return nil
}

// candidates builds an index-backed candidate source for e, or nil
// when none exists. A conjunction is servable from any servable subset
// of its kids, since the rest filters as residual; a disjunction needs
// every kid servable, or its union would miss matches.
func (q *Query) candidates(e expr) planNode {
	switch n := e.(type) {
	case *cmpExpr:
		if chain := q.servable(n); chain != nil {
			return &indexScan{leaf: n, chain: chain, dir: indexes.Ascending}
		}
	case *andExpr:
		var kids []planNode
		for _, kid := range n.kids {
			if node := q.candidates(kid); node != nil {
				kids = append(kids, node)
			}
		}
		switch len(kids) {
		case 0:
			return nil
		case 1:
			return kids[0]
		}
		return &intersectScan{kids: kids}
	case *orExpr:
		kids := make([]planNode, 0, len(n.kids))
		for _, kid := range n.kids {
			node := q.candidates(kid)
			if node == nil {
				return nil
			}
			kids = append(kids, node)
		}
		return &unionScan{kids: kids}
	}
	return nil
}

// servable reports whether the leaf can be answered from indexes,
// returning the index chain along its path. Every hop needs a managed
// index; != never narrows a scan; like needs a literal prefix before
// the first wildcard.
func (q *Query) servable(c *cmpExpr) []*indexes.FieldIndex {
	if c.op == opNe {
		return nil
	}
	if c.op == opLike && likePrefix(q.argOne(c.arg).Str) == "" {
		return nil
	}
	chain := make([]*indexes.FieldIndex, len(c.path.hops))
	for i, h := range c.path.hops {
		ix := q.cat.IndexOf(h.class, h.ndx)
		if ix == nil {
			return nil
		}
		chain[i] = ix
	}
	return chain
}

// likePrefix is the literal run of the pattern before the first
// wildcard; it bounds the index scan.
func likePrefix(pattern string) string {
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == '%' || pattern[i] == '_' {
			return pattern[:i]
		}
	}
	return pattern
}

func direction(desc bool) indexes.Direction {
	if desc {
		return indexes.Descending
	}
	return indexes.Ascending
}

// leafBounds turns the leaf comparison into index scan bounds.
func leafBounds(op cmpOp, v keys.Value) (low *keys.Value, lowIncl bool, high *keys.Value, highIncl bool) {
	switch op {
	case opEq:
		return &v, true, &v, true
	case opLt:
		return nil, false, &v, false
	case opLe:
		return nil, false, &v, true
	case opGt:
		return &v, false, nil, false
	case opGe:
		return &v, true, nil, false
	}
	return nil, false, nil, false
}
