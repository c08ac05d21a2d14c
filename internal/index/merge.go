package index

import "container/heap"

// Sorted-list operations over ordinal lists. Inputs are ascending and free of
// duplicates; outputs are too. All run in time linear in total input length
// (Union adds a log factor in the number of lists).

func Intersect(a, b []uint32) []uint32 {
	out := make([]uint32, 0, min(len(a), len(b)))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

// Subtract returns a minus b.
func Subtract(a, b []uint32) []uint32 {
	if len(b) == 0 {
		return a
	}
	out := make([]uint32, 0, len(a))
	j := 0
	for _, v := range a {
		for j < len(b) && b[j] < v {
			j++
		}
		if j < len(b) && b[j] == v {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Union merges any number of lists with a k-way heap merge.
func Union(lists ...[]uint32) []uint32 {
	switch len(lists) {
	case 0:
		return nil
	case 1:
		return lists[0]
	}
	h := make(ordHeap, 0, len(lists))
	total := 0
	for _, l := range lists {
		if len(l) > 0 {
			h = append(h, ordCursor{list: l})
			total += len(l)
		}
	}
	heap.Init(&h)
	out := make([]uint32, 0, total)
	for h.Len() > 0 {
		c := &h[0]
		v := c.list[c.pos]
		if len(out) == 0 || out[len(out)-1] != v {
			out = append(out, v)
		}
		c.pos++
		if c.pos == len(c.list) {
			heap.Pop(&h)
		} else {
			heap.Fix(&h, 0)
		}
	}
	return out
}

type ordCursor struct {
	list []uint32
	pos  int
}

type ordHeap []ordCursor

func (h ordHeap) Len() int           { return len(h) }
func (h ordHeap) Less(i, j int) bool { return h[i].list[h[i].pos] < h[j].list[h[j].pos] }
func (h ordHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *ordHeap) Push(x any) {
	*h = append(*h, x.(ordCursor))
}

func (h *ordHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
