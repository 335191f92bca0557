package audio

import "github.com/himanishpuri/TapSense/pkg/tapsense/fixed"

// minBlockLen is the shortest block the detector accepts.
const minBlockLen = 2

// Block is a view into a Stream; the slices alias the stream's samples.
type Block struct {
	Index     int // 0-based position in the stream
	Offset    int // first frame of the block
	Len       int
	Primary   []fixed.Q
	Secondary []fixed.Q
}

// BlockSource yields contiguous, non-overlapping blocks of a fixed size.
// A trailing partial block is yielded if it holds at least two samples and
// dropped otherwise.
type BlockSource struct {
	stream    *Stream
	frameSize int
	offset    int
	index     int
}

func (s *Stream) Blocks(frameSize int) *BlockSource {
	return &BlockSource{stream: s, frameSize: frameSize}
}

func (b *BlockSource) Next() (Block, bool) {
	remaining := b.stream.Frames - b.offset
	if b.frameSize < minBlockLen || remaining < minBlockLen {
		return Block{}, false
	}
	n := b.frameSize
	if remaining < n {
		n = remaining
	}

	blk := Block{
		Index:     b.index,
		Offset:    b.offset,
		Len:       n,
		Primary:   b.stream.Primary[b.offset : b.offset+n],
		Secondary: b.stream.Secondary[b.offset : b.offset+n],
	}
	b.offset += n
	b.index++
	return blk, true
}

// Count is the number of blocks the source yields in total.
func (b *BlockSource) Count() int {
	if b.frameSize < minBlockLen {
		return 0
	}
	full := b.stream.Frames / b.frameSize
	if b.stream.Frames%b.frameSize >= minBlockLen {
		full++
	}
	return full
}

// Offset returns the frame position of the next block.
func (b *BlockSource) Offset() int { return b.offset }
