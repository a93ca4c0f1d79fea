package source

import "fmt"

const (
	tpacketAlignment = 16      // TPACKET_ALIGNMENT
	tpacketHdrLen    = 52      // TPACKET3_HDRLEN, approximate
	maxLCMBlock      = 4 << 20 // beyond this the lcm block wastes too much memory
	targetBlock      = 1 << 20
)

// ringLayout is a PACKET_MMAP ring geometry.
type ringLayout struct {
	FrameSize int
	BlockSize int
	NumBlocks int
}

// computeRing derives a ring geometry for snapLen-sized frames that fits
// in bufferMB. The kernel requires the frame size to be a multiple of
// TPACKET_ALIGNMENT and the block size to be a multiple of both the page
// size and the frame size.
func computeRing(bufferMB, snapLen, pageSize int) (ringLayout, error) {
	if bufferMB <= 0 {
		return ringLayout{}, fmt.Errorf("buffer size must be positive, got %d MB", bufferMB)
	}
	if snapLen <= 0 {
		return ringLayout{}, fmt.Errorf("snap length must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return ringLayout{}, fmt.Errorf("page size must be a positive multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	frame := alignUp(tpacketHdrLen+snapLen, tpacketAlignment)
	block := lcm(pageSize, frame)
	if block > maxLCMBlock {
		frame = alignUp(frame, pageSize)
		block = frame
	}
	for block*2 <= targetBlock {
		block *= 2
	}

	num := bufferMB * 1024 * 1024 / block
	if num < 1 {
		num = 1
	}
	return ringLayout{FrameSize: frame, BlockSize: block, NumBlocks: num}, nil
}

// withOverrides applies explicit block tunables. An override block size
// must still hold whole frames and pages.
func (r ringLayout) withOverrides(t afpacketTunables, pageSize int) (ringLayout, error) {
	if t.BlockSize > 0 {
		if t.BlockSize%pageSize != 0 || t.BlockSize%r.FrameSize != 0 {
			return r, fmt.Errorf("block_size %d must be a multiple of page size %d and frame size %d",
				t.BlockSize, pageSize, r.FrameSize)
		}
		total := r.BlockSize * r.NumBlocks
		r.BlockSize = t.BlockSize
		r.NumBlocks = max(total/r.BlockSize, 1)
	}
	if t.NumBlocks > 0 {
		r.NumBlocks = t.NumBlocks
	}
	return r, nil
}

func alignUp(n, to int) int {
	return (n + to - 1) / to * to
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}
