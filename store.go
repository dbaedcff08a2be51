package qshard

import "fmt"

/*
Range is a view over one or more equally sized page slices, addressed as a
single contiguous index space. Page slot i>>shift, offset i&mask.
*/
type Range struct {
	pages [][]complex128
	shift uint
	mask  uint64
}

// NewRange views a single slice whose length is a power of two.
func NewRange(data []complex128) Range {
	bits := log2(uint64(len(data)))
	return Range{
		pages: [][]complex128{data},
		shift: bits,
		mask:  uint64(1)<<bits - 1,
	}
}

func newPagedRange(pages [][]complex128, pageBits uint) Range {
	return Range{
		pages: pages,
		shift: pageBits,
		mask:  uint64(1)<<pageBits - 1,
	}
}

// Len is the number of amplitudes covered.
func (r Range) Len() uint64 {
	return uint64(len(r.pages)) << r.shift
}

// Bits is log2 of Len.
func (r Range) Bits() uint {
	return r.shift + log2(uint64(len(r.pages)))
}

func (r Range) At(i uint64) complex128 {
	return r.pages[i>>r.shift][i&r.mask]
}

func (r Range) Set(i uint64, v complex128) {
	r.pages[i>>r.shift][i&r.mask] = v
}

// ForEach visits every amplitude in index order.
func (r Range) ForEach(fn func(i uint64, v complex128)) {
	for p, page := range r.pages {
		base := uint64(p) << r.shift
		for j, v := range page {
			fn(base|uint64(j), v)
		}
	}
}

type dataBlock struct {
	pages  [][]complex128
	buffer []complex128
}

func newDataBlock(numPages int, pageSize int) *dataBlock {
	backing := make([]complex128, (numPages+1)*pageSize)
	block := &dataBlock{
		pages:  make([][]complex128, numPages),
		buffer: backing[numPages*pageSize:],
	}

	for p := range block.pages {
		block.pages[p] = backing[p*pageSize : (p+1)*pageSize : (p+1)*pageSize]
	}

	return block
}

/*
Store is one process's shard of the amplitude array: 2^unit data blocks, each
one chunk of 2^(local+page) amplitudes split into 2^page pages plus a spare
buffer page used while exchanging data.
*/
type Store struct {
	layout Layout
	rank   int
	blocks []*dataBlock
}

// NewStore allocates the shard owned by rank, zero filled.
func NewStore(layout Layout, rank int) *Store {
	s := &Store{
		layout: layout,
		rank:   rank,
		blocks: make([]*dataBlock, layout.NumDataBlocks()),
	}

	for b := range s.blocks {
		s.blocks[b] = newDataBlock(layout.NumPages(), s.PageSize())
	}

	return s
}

func (s *Store) Layout() Layout {
	return s.layout
}

func (s *Store) Rank() int {
	return s.rank
}

// PageSize is the number of amplitudes in one page.
func (s *Store) PageSize() int {
	return 1 << s.layout.LocalBits
}

// ChunkSize is the number of amplitudes in one data block.
func (s *Store) ChunkSize() uint64 {
	return uint64(1) << s.layout.ChunkBits()
}

func (s *Store) NumDataBlocks() int {
	return len(s.blocks)
}

// Range is the whole chunk of a data block.
func (s *Store) Range(block int) Range {
	return newPagedRange(s.blocks[block].pages, s.layout.LocalBits)
}

// PageRange is one page of one data block.
func (s *Store) PageRange(block, page int) []complex128 {
	return s.blocks[block].pages[page]
}

// Buffer is the spare page of a data block.
func (s *Store) Buffer(block int) []complex128 {
	return s.blocks[block].buffer
}

/*
PageIndexBit converts a physical bit into a bit of the page index. It fails
for bits that are not currently page bits.
*/
func (s *Store) PageIndexBit(p PhysicalBit) (uint, error) {
	if s.layout.Classify(p) != PlacementPage {
		return 0, fmt.Errorf("%w: physical bit %d is %s, not a page bit", ErrUnsupportedPageOperation, p, s.layout.Classify(p))
	}
	return uint(p) - s.layout.LocalBits, nil
}

/*
PagedRange gathers the pages of a block whose index is base with every
combination of pageBits, in combination order, so the result addresses local
bits first and pageBits[i] at virtual position local+i.
*/
func (s *Store) PagedRange(block int, base int, pageBits []PhysicalBit) (Range, error) {
	shifts := make([]uint, len(pageBits))
	for i, p := range pageBits {
		bit, err := s.PageIndexBit(p)
		if err != nil {
			return Range{}, err
		}
		shifts[i] = bit
	}

	pages := make([][]complex128, 1<<len(pageBits))
	for combo := range pages {
		page := base
		for i, shift := range shifts {
			if combo>>i&1 == 1 {
				page |= 1 << shift
			}
		}
		pages[combo] = s.blocks[block].pages[page]
	}

	return newPagedRange(pages, s.layout.LocalBits), nil
}

// SwapPages exchanges two pages of a block by pointer.
func (s *Store) SwapPages(block, a, b int) {
	pages := s.blocks[block].pages
	pages[a], pages[b] = pages[b], pages[a]
}

// SwapPagesAcross exchanges a page of one block with a page of another by pointer.
func (s *Store) SwapPagesAcross(blockA, pageA, blockB, pageB int) {
	a, b := s.blocks[blockA], s.blocks[blockB]
	a.pages[pageA], b.pages[pageB] = b.pages[pageB], a.pages[pageA]
}

// SwapBufferWithPage makes the buffer page the data page and the old data page the buffer.
func (s *Store) SwapBufferWithPage(block, page int) {
	b := s.blocks[block]
	b.pages[page], b.buffer = b.buffer, b.pages[page]
}

// SwapBlocks exchanges two data blocks by pointer.
func (s *Store) SwapBlocks(a, b int) {
	s.blocks[a], s.blocks[b] = s.blocks[b], s.blocks[a]
}

// Clear zeroes every amplitude.
func (s *Store) Clear() {
	for _, block := range s.blocks {
		for _, page := range block.pages {
			clear(page)
		}
	}
}

// SetBasisState makes the shard hold its part of the physical basis state.
func (s *Store) SetBasisState(physical uint64) {
	s.Clear()

	rank, block, offset := s.layout.Locate(physical)
	if rank != s.rank {
		return
	}
	s.Range(block).Set(offset, 1)
}

func log2(n uint64) uint {
	var bits uint
	for n > 1 {
		n >>= 1
		bits++
	}
	return bits
}
