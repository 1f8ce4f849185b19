package tinyscript

// block is a fixed-capacity slab of Values plus an intrusive stack of
// free slot indices private to the block (spec §3 Heap).
type block struct {
	values []Value
	free   []int32
}

const defaultBlockSize = 64

func newBlock(size int) *block {
	return &block{values: make([]Value, size), free: freeRange(size)}
}

func freeRange(size int) []int32 {
	f := make([]int32, size)
	for i := 0; i < size; i++ {
		// pushed in reverse so popping returns slot 0 first, matching
		// the intuitive "first free slot" allocation order.
		f[i] = int32(size - 1 - i)
	}
	return f
}

// Heap is a linked list of blocks (represented as a growable slice of
// block pointers, whose addresses never move since blocks themselves
// are never reallocated) plus a next-pointer-threaded live list and a
// mark-sweep collector (spec §3, §4.7).
type Heap struct {
	blocks    []*block
	blockSize int

	liveHead Handle // head of the live list; NullHandle when empty
	numLive  int

	threshold int
	inExtern  int // depth of extern calls currently executing; GC is suppressed while > 0

	onAlloc func() // test hook, called once per successful allocation
}

func NewHeap(initialThreshold int) *Heap {
	return &Heap{
		blockSize: defaultBlockSize,
		liveHead:  NullHandle,
		threshold: initialThreshold,
	}
}

// Get dereferences a Handle. Singleton handles resolve to the
// process-wide null/true/false values, which live outside any block.
func (h *Heap) Get(hd Handle) *Value {
	if isSingleton(hd) {
		return singletonValues[hd]
	}
	return &h.blocks[hd.Block].values[hd.Slot]
}

// alloc pops a free slot from the first block with capacity,
// appending a new block on exhaustion, links it onto the live list,
// and returns its handle. It does not itself trigger GC; callers that
// allocate from VM/extern code should call MaybeCollect first.
func (h *Heap) alloc(tag ValueTag) Handle {
	for bi, b := range h.blocks {
		if n := len(b.free); n > 0 {
			slot := b.free[n-1]
			b.free = b.free[:n-1]
			hd := Handle{Block: int32(bi), Slot: slot}
			h.link(hd, tag)
			return hd
		}
	}
	b := newBlock(h.blockSize)
	bi := len(h.blocks)
	h.blocks = append(h.blocks, b)
	slot := b.free[len(b.free)-1]
	b.free = b.free[:len(b.free)-1]
	hd := Handle{Block: int32(bi), Slot: slot}
	h.link(hd, tag)
	return hd
}

func (h *Heap) link(hd Handle, tag ValueTag) {
	v := h.Get(hd)
	*v = Value{Tag: tag, next: h.liveHead, inUse: true}
	h.liveHead = hd
	h.numLive++
	if h.onAlloc != nil {
		h.onAlloc()
	}
}

func (h *Heap) AllocNull() Handle     { return NullSingleton }
func (h *Heap) AllocBool(b bool) Handle {
	if b {
		return TrueSingleton
	}
	return FalseSingleton
}

func (h *Heap) AllocChar(c byte) Handle {
	hd := h.alloc(TagChar)
	h.Get(hd).Ch = c
	return hd
}

func (h *Heap) AllocNumber(n float64) Handle {
	hd := h.alloc(TagNumber)
	h.Get(hd).Num = n
	return hd
}

func (h *Heap) AllocString(s string) Handle {
	hd := h.alloc(TagString)
	h.Get(hd).Str = s
	return hd
}

func (h *Heap) AllocFunc(f FuncValue) Handle {
	hd := h.alloc(TagFunc)
	h.Get(hd).Fn = f
	return hd
}

func (h *Heap) AllocArray(elems []Handle) Handle {
	hd := h.alloc(TagArray)
	h.Get(hd).Arr = elems
	return hd
}

// AllocStruct allocates a struct value carrying members plus the
// declaring struct/union's name, so two structs of different nominal
// type never compare equal regardless of shape (spec §8 Testable
// Property 3).
func (h *Heap) AllocStruct(members []Handle, tag string) Handle {
	hd := h.alloc(TagStruct)
	v := h.Get(hd)
	v.Sct = members
	v.StructTag = tag
	return hd
}

func (h *Heap) AllocNative(n *Native) Handle {
	hd := h.alloc(TagNative)
	h.Get(hd).Nat = n
	return hd
}

// NumObjects returns the number of live (allocated, not yet swept)
// heap values, excluding the null/true/false singletons.
func (h *Heap) NumObjects() int { return h.numLive }

// EnterExtern/LeaveExtern bracket an extern call; GC never runs while
// inExtern > 0 (spec §4.7: "Triggered at allocation when not inside an
// extern call").
func (h *Heap) EnterExtern() { h.inExtern++ }
func (h *Heap) LeaveExtern() { h.inExtern-- }

// MaybeCollect runs a mark-sweep cycle if not inside an extern call
// and the live count has reached the threshold, then sets the
// threshold to twice the surviving live count, at least 1 (spec §4.7).
func (h *Heap) MaybeCollect(roots func(mark func(Handle))) {
	if h.inExtern > 0 {
		return
	}
	if h.numLive < h.threshold {
		return
	}
	h.Collect(roots)
	h.threshold = 2 * h.numLive
	if h.threshold < 1 {
		h.threshold = 1
	}
}

// Collect runs one unconditional mark-sweep cycle. roots is called
// once with a `mark` callback the caller should invoke for every root
// Handle (the return slot, every stack/global value).
func (h *Heap) Collect(roots func(mark func(Handle))) {
	roots(func(hd Handle) { h.mark(hd) })
	h.sweep()
}

func (h *Heap) mark(hd Handle) {
	if isSingleton(hd) || hd.IsNull() {
		return
	}
	v := h.Get(hd)
	if v.marked {
		return
	}
	v.marked = true
	switch v.Tag {
	case TagArray:
		for _, e := range v.Arr {
			h.mark(e)
		}
	case TagStruct:
		for _, e := range v.Sct {
			h.mark(e)
		}
	case TagNative:
		if v.Nat != nil && v.Nat.OnMark != nil {
			v.Nat.OnMark(h, v.Nat)
		}
	}
}

// sweep walks the live list, unlinking and destructing every
// unreachable value, and clears the mark bit of every value that
// survives (spec §4.7).
func (h *Heap) sweep() {
	var (
		newHead Handle = NullHandle
		tailSet        = false
		tail    *Value
	)
	cur := h.liveHead
	for !cur.IsNull() {
		v := h.Get(cur)
		next := v.next
		if v.marked {
			v.marked = false
			if !tailSet {
				newHead = cur
				tailSet = true
			} else {
				tail.next = cur
			}
			tail = v
			cur = next
			continue
		}
		h.destroy(cur, v)
		cur = next
	}
	if tailSet {
		tail.next = NullHandle
	}
	h.liveHead = newHead
}

// destroy frees a value's owned resources and returns its slot to the
// owning block's free stack (spec §4.7's delete_value).
func (h *Heap) destroy(hd Handle, v *Value) {
	if v.Tag == TagNative && v.Nat != nil && v.Nat.OnDelete != nil {
		v.Nat.OnDelete(v.Nat)
	}
	*v = Value{}
	h.numLive--
	b := h.blocks[hd.Block]
	b.free = append(b.free, hd.Slot)
}
