package ramregulator

// Pool is an ordered set of equally sized, fully written memory blocks.
// It is owned by a single goroutine and is not safe for concurrent use.
type Pool struct {
	blocks    [][]byte
	blockSize uint64
	bytes     uint64
}

// NewPool creates an empty pool whose fresh blocks are blockSize bytes.
func NewPool(blockSize uint64) *Pool {
	return &Pool{blockSize: blockSize}
}

// Len returns the number of blocks held.
func (p *Pool) Len() int {
	return len(p.blocks)
}

// Bytes returns the total size of all blocks.
func (p *Pool) Bytes() uint64 {
	return p.bytes
}

// BlockSize returns the size of one block.
func (p *Pool) BlockSize() uint64 {
	return p.blockSize
}

// Grow adds blocks and returns how many were added. An empty pool gets a
// single freshly written block whatever steps asks for; a non-empty pool
// gets steps copies of its first block. A non-zero ceiling stops growth
// before the pool would exceed it.
func (p *Pool) Grow(steps int, ceiling uint64) int {
	if steps <= 0 {
		return 0
	}

	if len(p.blocks) == 0 {
		if !p.fits(p.blockSize, ceiling) {
			return 0
		}
		p.push(newBlock(p.blockSize))
		return 1
	}

	first := p.blocks[0]
	added := 0
	for ; added < steps; added++ {
		if !p.fits(uint64(len(first)), ceiling) {
			break
		}
		clone := make([]byte, len(first))
		copy(clone, first)
		p.push(clone)
	}
	return added
}

// Shrink drops up to steps of the most recently added blocks and returns
// how many were dropped. Shrinking an empty pool is a no-op.
func (p *Pool) Shrink(steps int) int {
	removed := 0
	for ; removed < steps && len(p.blocks) > 0; removed++ {
		last := len(p.blocks) - 1
		p.bytes -= uint64(len(p.blocks[last]))
		// Clear the slot so the backing array no longer references the block.
		p.blocks[last] = nil
		p.blocks = p.blocks[:last]
	}
	return removed
}

func (p *Pool) push(block []byte) {
	p.blocks = append(p.blocks, block)
	p.bytes += uint64(len(block))
}

func (p *Pool) fits(size, ceiling uint64) bool {
	return ceiling == 0 || p.bytes+size <= ceiling
}

// newBlock allocates size bytes and writes every one of them, so the OS
// commits real pages instead of lazily mapping zero pages.
func newBlock(size uint64) []byte {
	block := make([]byte, size)
	for i := range block {
		block[i] = byte(i%255) + 1
	}
	return block
}
