package qmesh

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrTruncated   = errors.New("qmesh: truncated tile data")
	ErrInvalidMesh = errors.New("qmesh: invalid mesh")
)

// MaxShort 量化坐标的最大值
const MaxShort = 32767

// 超过该顶点数时索引使用32位
const maxVertexCount16 = 64 * 1024

// 扩展ID
const (
	ExtensionOctVertexNormals uint8 = 1
	ExtensionWaterMask        uint8 = 2
	ExtensionMetadata         uint8 = 4
)

// Extension 扩展块，原样保留
type Extension struct {
	ID   uint8
	Data []byte
}

// Mesh 解码后的量化网格瓦片
// U/V/H 为zig-zag还原后的绝对量化值，Indices 为高水位还原后的三角形索引
type Mesh struct {
	Header Header

	U []uint16
	V []uint16
	H []uint16

	Indices []uint32

	WestIndices  []uint32
	SouthIndices []uint32
	EastIndices  []uint32
	NorthIndices []uint32

	Extensions []Extension
}

// VertexCount 顶点数
func (m *Mesh) VertexCount() int {
	return len(m.U)
}

// Use32BitIndices 顶点数超过65536时索引为32位
func (m *Mesh) Use32BitIndices() bool {
	return m.VertexCount() > maxVertexCount16
}

// QuantizedVertices 返回平面布局的量化顶点 u[0..n) | v[n..2n) | h[2n..3n)
func (m *Mesh) QuantizedVertices() []uint16 {
	n := m.VertexCount()
	buf := make([]uint16, 3*n)
	copy(buf, m.U)
	copy(buf[n:], m.V)
	copy(buf[2*n:], m.H)
	return buf
}

// SetQuantizedVertices 用平面布局的量化顶点覆盖网格顶点
func (m *Mesh) SetQuantizedVertices(buf []uint16) error {
	if len(buf)%3 != 0 {
		return fmt.Errorf("%w: quantized buffer length %d is not a multiple of 3", ErrInvalidMesh, len(buf))
	}
	n := len(buf) / 3
	if n != m.VertexCount() {
		return fmt.Errorf("%w: vertex count changed from %d to %d", ErrInvalidMesh, m.VertexCount(), n)
	}
	m.U = append(m.U[:0], buf[:n]...)
	m.V = append(m.V[:0], buf[n:2*n]...)
	m.H = append(m.H[:0], buf[2*n:]...)
	return nil
}

// SetHeightRange 写入新的高程范围
func (m *Mesh) SetHeightRange(minimumHeight, maximumHeight float64) {
	m.Header.MinimumHeight = float32(minimumHeight)
	m.Header.MaximumHeight = float32(maximumHeight)
}

type reader struct {
	buf []byte
	pos int
	err error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.pos+n > len(r.buf) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, r.pos, len(r.buf)-r.pos)
		return false
	}
	return true
}

func (r *reader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.pos]
	r.pos++
	return v
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) u16s(n int) []uint16 {
	if !r.need(2 * n) {
		return nil
	}
	out := make([]uint16, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(r.buf[r.pos:])
		r.pos += 2
	}
	return out
}

// indices 按索引宽度读取n个索引
func (r *reader) indices(n int, wide bool) []uint32 {
	size := 2
	if wide {
		size = 4
	}
	if !r.need(size * n) {
		return nil
	}
	out := make([]uint32, n)
	for i := range out {
		if wide {
			out[i] = binary.LittleEndian.Uint32(r.buf[r.pos:])
		} else {
			out[i] = uint32(binary.LittleEndian.Uint16(r.buf[r.pos:]))
		}
		r.pos += size
	}
	return out
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+n])
	r.pos += n
	return out
}

// count 读取长度字段并校验不超过剩余字节
func (r *reader) count(elemSize int) int {
	n := int(r.u32())
	if r.err == nil && n*elemSize > len(r.buf)-r.pos {
		r.err = fmt.Errorf("%w: count %d exceeds remaining %d bytes", ErrTruncated, n, len(r.buf)-r.pos)
		return 0
	}
	return n
}

// Unmarshal 解析未压缩的量化网格瓦片
func Unmarshal(data []byte) (*Mesh, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: header needs %d bytes, have %d", ErrTruncated, HeaderSize, len(data))
	}

	m := &Mesh{}
	m.Header.decode(data[:HeaderSize])

	r := &reader{buf: data, pos: HeaderSize}

	vertexCount := r.count(6)
	m.U = r.u16s(vertexCount)
	m.V = r.u16s(vertexCount)
	m.H = r.u16s(vertexCount)
	if r.err != nil {
		return nil, r.err
	}
	decodeDeltas(m.U)
	decodeDeltas(m.V)
	decodeDeltas(m.H)

	wide := vertexCount > maxVertexCount16
	indexSize := 2
	if wide {
		indexSize = 4
	}
	// 索引数据按索引宽度对齐
	if pad := r.pos % indexSize; pad != 0 {
		r.bytes(indexSize - pad)
	}

	triangleCount := r.count(3 * indexSize)
	m.Indices = r.indices(triangleCount*3, wide)
	if r.err != nil {
		return nil, r.err
	}
	decodeHighWaterMark(m.Indices)
	for _, idx := range m.Indices {
		if int(idx) >= vertexCount {
			return nil, fmt.Errorf("%w: triangle index %d out of range (%d vertices)", ErrInvalidMesh, idx, vertexCount)
		}
	}

	m.WestIndices = r.indices(r.count(indexSize), wide)
	m.SouthIndices = r.indices(r.count(indexSize), wide)
	m.EastIndices = r.indices(r.count(indexSize), wide)
	m.NorthIndices = r.indices(r.count(indexSize), wide)
	if r.err != nil {
		return nil, r.err
	}

	for r.pos < len(r.buf) {
		id := r.u8()
		length := r.count(1)
		payload := r.bytes(length)
		if r.err != nil {
			return nil, fmt.Errorf("extension %d: %w", id, r.err)
		}
		m.Extensions = append(m.Extensions, Extension{ID: id, Data: payload})
	}

	return m, nil
}

type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *writer) u32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *writer) u16s(values []uint16) {
	for _, v := range values {
		w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
	}
}

func (w *writer) indices(values []uint32, wide bool) {
	for _, v := range values {
		if wide {
			w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
		} else {
			w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(v))
		}
	}
}

// Marshal 编码为未压缩的量化网格瓦片
func (m *Mesh) Marshal() ([]byte, error) {
	n := m.VertexCount()
	if len(m.V) != n || len(m.H) != n {
		return nil, fmt.Errorf("%w: u/v/h lengths differ (%d/%d/%d)", ErrInvalidMesh, len(m.U), len(m.V), len(m.H))
	}
	if len(m.Indices)%3 != 0 {
		return nil, fmt.Errorf("%w: index count %d is not a multiple of 3", ErrInvalidMesh, len(m.Indices))
	}
	wide := m.Use32BitIndices()
	if !wide {
		for _, list := range [][]uint32{m.Indices, m.WestIndices, m.SouthIndices, m.EastIndices, m.NorthIndices} {
			for _, idx := range list {
				if idx > 0xFFFF {
					return nil, fmt.Errorf("%w: index %d does not fit 16 bits", ErrInvalidMesh, idx)
				}
			}
		}
	}

	encoded, err := m.encodedIndices()
	if err != nil {
		return nil, err
	}

	w := &writer{buf: make([]byte, HeaderSize, HeaderSize+4+6*n+4*len(m.Indices)+64)}
	m.Header.encode(w.buf[:HeaderSize])

	w.u32(uint32(n))
	w.u16s(encodeDeltas(m.U))
	w.u16s(encodeDeltas(m.V))
	w.u16s(encodeDeltas(m.H))

	indexSize := 2
	if wide {
		indexSize = 4
	}
	for len(w.buf)%indexSize != 0 {
		w.u8(0)
	}

	w.u32(uint32(len(m.Indices) / 3))
	w.indices(encoded, wide)

	for _, edge := range [][]uint32{m.WestIndices, m.SouthIndices, m.EastIndices, m.NorthIndices} {
		w.u32(uint32(len(edge)))
		w.indices(edge, wide)
	}

	for _, ext := range m.Extensions {
		w.u8(ext.ID)
		w.u32(uint32(len(ext.Data)))
		w.buf = append(w.buf, ext.Data...)
	}

	return w.buf, nil
}

func (m *Mesh) encodedIndices() ([]uint32, error) {
	n := uint32(m.VertexCount())
	for _, idx := range m.Indices {
		if idx >= n {
			return nil, fmt.Errorf("%w: triangle index %d out of range (%d vertices)", ErrInvalidMesh, idx, n)
		}
	}
	return encodeHighWaterMark(m.Indices)
}

// Extension 按ID查找扩展
func (m *Mesh) Extension(id uint8) (Extension, bool) {
	for _, ext := range m.Extensions {
		if ext.ID == id {
			return ext, true
		}
	}
	return Extension{}, false
}
