package query

import (
	"iter"
	"sort"

	"github.com/andyglick/perst/classes"
	"github.com/andyglick/perst/indexes"
	"github.com/andyglick/perst/keys"
	"github.com/andyglick/perst/utils"
)

// run fires the plan's fallback events, then returns the lazy record
// sequence. Events fire once per Execute, not per iteration of the
// returned sequence.
func (q *Query) run(pl plan) iter.Seq[classes.Record] {
	cls := q.c.class
	if pl.seqFallback {
		SeqScanCount.WithLabelValues(cls.Name).Inc()
		if l := q.cat.Listener(); l != nil {
			l.OnSequentialScan(q.c.text)
		}
	}
	if pl.needSort {
		SortCount.WithLabelValues(cls.Name).Inc()
		if l := q.cat.Listener(); l != nil {
			l.OnSort(q.c.text)
		}
	}
	if pl.needSort {
		return q.emitSorted(pl.node)
	}
	return q.emitStream(pl.node)
}

func (q *Query) emitStream(node planNode) iter.Seq[classes.Record] {
	return func(yield func(classes.Record) bool) {
		for ref := range q.refs(node) {
			rec, ok := q.cat.Resolve(ref)
			if !ok || !q.eval(rec, q.c.root) {
				continue
			}
			if !yield(rec) {
				return
			}
		}
	}
}

func (q *Query) emitSorted(node planNode) iter.Seq[classes.Record] {
	return func(yield func(classes.Record) bool) {
		type row struct {
			rec classes.Record
			val keys.Value
			has bool
		}
		var rows []row
		for ref := range q.refs(node) {
			rec, ok := q.cat.Resolve(ref)
			if !ok || !q.eval(rec, q.c.root) {
				continue
			}
			v, has := q.pathValue(rec, q.c.orderBy.path)
			rows = append(rows, row{rec: rec, val: v, has: has})
		}
		desc := q.c.orderBy.desc
		sort.Slice(rows, func(i, j int) bool {
			a, b := rows[i], rows[j]
			if a.has != b.has {
				return !a.has // absent keys first
			}
			if a.has {
				cmp := keys.Compare(a.val, b.val)
				if desc {
					cmp = -cmp
				}
				if cmp != 0 {
					return cmp < 0
				}
			}
			return a.rec.Ref() < b.rec.Ref()
		})
		for _, r := range rows {
			if !yield(r.rec) {
				return
			}
		}
	}
}

// refs yields the plan node's candidate root-class refs.
func (q *Query) refs(node planNode) iter.Seq[keys.Ref] {
	switch n := node.(type) {
	case *extentScan:
		return func(yield func(keys.Ref) bool) {
			for rec := range q.cat.ScanClass(q.c.class) {
				if !yield(rec.Ref()) {
					return
				}
			}
		}
	case *fullIndexScan:
		return func(yield func(keys.Ref) bool) {
			seq, err := n.ix.Iterator(nil, false, nil, false, n.dir)
			if err != nil {
				return
			}
			for _, ref := range seq {
				if !yield(ref) {
					return
				}
			}
		}
	case *indexScan:
		return q.chainRefs(n)
	case *intersectScan:
		return q.intersectRefs(n)
	case *unionScan:
		return q.unionRefs(n)
	}
	return func(func(keys.Ref) bool) {}
}

// chainRefs scans the leaf index within the comparison's bounds, then
// walks each leaf ref back through the reference-field indexes to the
// root class. One level of the chain maps "objects with this value" to
// "objects referring to them".
func (q *Query) chainRefs(n *indexScan) iter.Seq[keys.Ref] {
	return func(yield func(keys.Ref) bool) {
		last := len(n.chain) - 1
		for ref := range q.leafRefs(n) {
			if !chainUp(n.chain, last-1, ref, yield) {
				return
			}
		}
	}
}

// chainUp maps a ref of the class at level+1 to root-class refs, one
// reference-field index at a time.
func chainUp(chain []*indexes.FieldIndex, level int, ref keys.Ref, yield func(keys.Ref) bool) bool {
	if level < 0 {
		return yield(ref)
	}
	parents, err := chain[level].Get(keys.R(ref))
	if err != nil {
		return true
	}
	for _, p := range parents {
		if !chainUp(chain, level-1, p, yield) {
			return false
		}
	}
	return true
}

func (q *Query) leafRefs(n *indexScan) iter.Seq[keys.Ref] {
	leafIx := n.chain[len(n.chain)-1]
	switch n.leaf.op {
	case opLike:
		prefix := likePrefix(q.argOne(n.leaf.arg).Str)
		return func(yield func(keys.Ref) bool) {
			seq, err := leafIx.PrefixRange(prefix, n.dir)
			if err != nil {
				return
			}
			for _, ref := range seq {
				if !yield(ref) {
					return
				}
			}
		}
	case opIn:
		vals := append([]keys.Value(nil), q.argMany(n.leaf.arg)...)
		sort.Slice(vals, func(i, j int) bool {
			cmp := keys.Compare(vals[i], vals[j])
			if n.dir == indexes.Descending {
				cmp = -cmp
			}
			return cmp < 0
		})
		return func(yield func(keys.Ref) bool) {
			for i, v := range vals {
				if i > 0 && keys.Compare(v, vals[i-1]) == 0 {
					continue
				}
				got, err := leafIx.Get(v)
				if err != nil {
					continue
				}
				for _, ref := range got {
					if !yield(ref) {
						return
					}
				}
			}
		}
	default:
		low, lowIncl, high, highIncl := leafBounds(n.leaf.op, q.argOne(n.leaf.arg))
		return func(yield func(keys.Ref) bool) {
			seq, err := leafIx.Iterator(low, lowIncl, high, highIncl, n.dir)
			if err != nil {
				return
			}
			for _, ref := range seq {
				if !yield(ref) {
					return
				}
			}
		}
	}
}

// intersectRefs keeps the refs every kid produced, emitted in
// ascending ref order.
func (q *Query) intersectRefs(n *intersectScan) iter.Seq[keys.Ref] {
	return func(yield func(keys.Ref) bool) {
		rest := make([]map[keys.Ref]struct{}, len(n.kids)-1)
		for i, kid := range n.kids[1:] {
			set := make(map[keys.Ref]struct{})
			for ref := range q.refs(kid) {
				set[ref] = struct{}{}
			}
			rest[i] = set
		}
		var h utils.Heap[keys.Ref]
	first:
		for ref := range q.refs(n.kids[0]) {
			for _, set := range rest {
				if _, ok := set[ref]; !ok {
					continue first
				}
			}
			h.Push(ref)
		}
		for h.Len() > 0 {
			if !yield(h.Pop()) {
				return
			}
		}
	}
}

// unionRefs merges all kid refs, popping ascending and collapsing
// duplicates.
func (q *Query) unionRefs(n *unionScan) iter.Seq[keys.Ref] {
	return func(yield func(keys.Ref) bool) {
		var h utils.Heap[keys.Ref]
		for _, kid := range n.kids {
			for ref := range q.refs(kid) {
				h.Push(ref)
			}
		}
		last := keys.NilRef
		for h.Len() > 0 {
			ref := h.Pop()
			if ref == last {
				continue
			}
			last = ref
			if !yield(ref) {
				return
			}
		}
	}
}

// eval decides whether the record matches the predicate. A path that
// breaks on a nil reference or an absent value matches nothing,
// whatever the comparison.
func (q *Query) eval(rec classes.Record, e expr) bool {
	if e == nil {
		return true
	}
	switch n := e.(type) {
	case *andExpr:
		for _, kid := range n.kids {
			if !q.eval(rec, kid) {
				return false
			}
		}
		return true
	case *orExpr:
		for _, kid := range n.kids {
			if q.eval(rec, kid) {
				return true
			}
		}
		return false
	case *notExpr:
		return !q.eval(rec, n.kid)
	case *cmpExpr:
		v, ok := q.pathValue(rec, n.path)
		if !ok {
			return false
		}
		switch n.op {
		case opLike:
			return matchLike(v.Str, q.argOne(n.arg).Str)
		case opIn:
			for _, w := range q.argMany(n.arg) {
				if keys.Compare(v, w) == 0 {
					return true
				}
			}
			return false
		}
		cmp := keys.Compare(v, q.argOne(n.arg))
		switch n.op {
		case opEq:
			return cmp == 0
		case opNe:
			return cmp != 0
		case opLt:
			return cmp < 0
		case opLe:
			return cmp <= 0
		case opGt:
			return cmp > 0
		case opGe:
			return cmp >= 0
		}
	}
	return false
}

// pathValue walks the record's references along the path and returns
// the leaf field's key value.
func (q *Query) pathValue(rec classes.Record, p *path) (keys.Value, bool) {
	cur := rec
	for i := 0; i < len(p.hops)-1; i++ {
		next, ok := classes.RecordOf(p.hops[i].field().Get(cur))
		if !ok {
			return keys.Value{}, false
		}
		cur = next
	}
	v, ok, err := p.leaf().field().Key(cur)
	if err != nil || !ok {
		return keys.Value{}, false
	}
	return v, true
}

// matchLike matches s against a pattern where '%' spans any run of
// characters and '_' exactly one, with the usual single-star
// backtracking.
func matchLike(s, pattern string) bool {
	str, pat := []rune(s), []rune(pattern)
	si, pi := 0, 0
	star, mark := -1, 0
	for si < len(str) {
		switch {
		case pi < len(pat) && (pat[pi] == '_' || pat[pi] == str[si]):
			si++
			pi++
		case pi < len(pat) && pat[pi] == '%':
			star = pi
			mark = si
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(pat) && pat[pi] == '%' {
		pi++
	}
	return pi == len(pat)
}
