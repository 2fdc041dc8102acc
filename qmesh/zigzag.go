package qmesh

import "fmt"

func zigZagDecode(v uint16) int32 {
	return int32(v>>1) ^ -int32(v&1)
}

func zigZagEncode(v int32) uint16 {
	return uint16((v << 1) ^ (v >> 31))
}

// decodeDeltas 将zig-zag增量编码的数组原地还原为绝对值
func decodeDeltas(values []uint16) {
	var acc int32
	for i, v := range values {
		acc += zigZagDecode(v)
		values[i] = uint16(acc)
	}
}

// encodeDeltas 绝对值 -> zig-zag增量编码，返回新数组
func encodeDeltas(values []uint16) []uint16 {
	out := make([]uint16, len(values))
	var prev int32
	for i, v := range values {
		cur := int32(v)
		out[i] = zigZagEncode(cur - prev)
		prev = cur
	}
	return out
}

// decodeHighWaterMark 三角形索引的高水位解码
func decodeHighWaterMark(indices []uint32) {
	var highest uint32
	for i, code := range indices {
		indices[i] = highest - code
		if code == 0 {
			highest++
		}
	}
}

// encodeHighWaterMark 三角形索引的高水位编码
// 索引必须按首次出现顺序递增，否则无法编码
func encodeHighWaterMark(indices []uint32) ([]uint32, error) {
	out := make([]uint32, len(indices))
	var highest uint32
	for i, idx := range indices {
		if idx > highest {
			return nil, fmt.Errorf("%w: index %d at position %d exceeds high water mark %d", ErrInvalidMesh, idx, i, highest)
		}
		code := highest - idx
		out[i] = code
		if code == 0 {
			highest++
		}
	}
	return out, nil
}
