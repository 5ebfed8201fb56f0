package util

// BitVec is a fixed size set of page numbers.
type BitVec struct {
	words []uint64
	n     uint32
}

func NewBitVec(n uint32) *BitVec {
	return &BitVec{words: make([]uint64, (n+64)/64), n: n}
}

// Len is the largest member the set can hold.
func (b *BitVec) Len() uint32 { return b.n }

// Set adds i and reports whether it was already present. Out of range
// values are ignored and report false.
func (b *BitVec) Set(i uint32) bool {
	if i > b.n {
		return false
	}
	w, m := i/64, uint64(1)<<(i%64)
	was := b.words[w]&m != 0
	b.words[w] |= m
	return was
}

func (b *BitVec) Test(i uint32) bool {
	if i > b.n {
		return false
	}
	return b.words[i/64]&(uint64(1)<<(i%64)) != 0
}

func (b *BitVec) Clear(i uint32) {
	if i <= b.n {
		b.words[i/64] &^= uint64(1) << (i % 64)
	}
}
