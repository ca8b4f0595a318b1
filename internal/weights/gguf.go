// Package weights reads and writes GGUF tensor files. The pretrained
// extractor parameters ship in this format; the writer exists for
// exporting and for building test fixtures.
package weights

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"
	"sort"

	"github.com/pkg/errors"
)

const (
	ggufMagic   = 0x46554747 // "GGUF" little-endian
	ggufVersion = 3

	defaultAlignment = 32
)

// GGUF metadata value types.
type kvType uint32

const (
	kvUint8   kvType = 0
	kvInt8    kvType = 1
	kvUint16  kvType = 2
	kvInt16   kvType = 3
	kvUint32  kvType = 4
	kvInt32   kvType = 5
	kvFloat32 kvType = 6
	kvBool    kvType = 7
	kvString  kvType = 8
	kvArray   kvType = 9
	kvUint64  kvType = 10
	kvInt64   kvType = 11
	kvFloat64 kvType = 12
)

// GGML tensor element types. Only F32 and F64 are supported here.
type ggmlType uint32

const (
	ggmlF32 ggmlType = 0
	ggmlF16 ggmlType = 1
	ggmlF64 ggmlType = 28
)

// Tensor is a named dense array staged for writing.
type Tensor struct {
	Name  string
	Shape []uint64
	Data  []float64
}

type tensorInfo struct {
	shape  []uint64
	dtype  ggmlType
	offset uint64
}

// File is a parsed GGUF file held in memory.
type File struct {
	KV      map[string]interface{}
	infos   map[string]tensorInfo
	names   []string
	data    []byte
}

// Open reads and parses a GGUF file.
func Open(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open weights file %s", path)
	}
	f, err := Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "parse weights file %s", path)
	}
	return f, nil
}

// Parse decodes a GGUF image from memory.
func Parse(raw []byte) (*File, error) {
	r := &reader{buf: raw}

	magic := r.uint32()
	version := r.uint32()
	if r.err != nil {
		return nil, r.err
	}
	if magic != ggufMagic {
		return nil, errors.Errorf("bad magic 0x%08x", magic)
	}
	if version != ggufVersion {
		return nil, errors.Errorf("unsupported version %d", version)
	}
	tensorCount := r.uint64()
	kvCount := r.uint64()

	f := &File{
		KV:    make(map[string]interface{}, kvCount),
		infos: make(map[string]tensorInfo, tensorCount),
	}
	for i := uint64(0); i < kvCount && r.err == nil; i++ {
		key := r.str()
		val := r.value(kvType(r.uint32()))
		f.KV[key] = val
	}
	for i := uint64(0); i < tensorCount && r.err == nil; i++ {
		name := r.str()
		rank := r.uint32()
		shape := make([]uint64, rank)
		// Dimensions are stored innermost-first; restore logical order.
		for d := int(rank) - 1; d >= 0; d-- {
			shape[d] = r.uint64()
		}
		dtype := ggmlType(r.uint32())
		offset := r.uint64()
		f.infos[name] = tensorInfo{shape: shape, dtype: dtype, offset: offset}
		f.names = append(f.names, name)
	}
	if r.err != nil {
		return nil, r.err
	}

	alignment := uint64(defaultAlignment)
	if v, ok := f.KV["general.alignment"]; ok {
		if a, ok := v.(uint32); ok && a > 0 {
			alignment = uint64(a)
		}
	}
	dataStart := alignUp(uint64(r.pos), alignment)
	if dataStart > uint64(len(raw)) {
		return nil, errors.New("truncated tensor data section")
	}
	f.data = raw[dataStart:]
	return f, nil
}

// Names lists the stored tensors in file order.
func (f *File) Names() []string { return append([]string(nil), f.names...) }

// Has reports whether a tensor with the given name exists.
func (f *File) Has(name string) bool {
	_, ok := f.infos[name]
	return ok
}

// Tensor returns the named tensor's elements and logical shape.
func (f *File) Tensor(name string) ([]float64, []uint64, error) {
	info, ok := f.infos[name]
	if !ok {
		return nil, nil, errors.Errorf("tensor %q not present", name)
	}
	n := uint64(1)
	for _, d := range info.shape {
		n *= d
	}
	switch info.dtype {
	case ggmlF32:
		end := info.offset + n*4
		if end > uint64(len(f.data)) {
			return nil, nil, errors.Errorf("tensor %q data out of bounds", name)
		}
		out := make([]float64, n)
		for i := uint64(0); i < n; i++ {
			bits := binary.LittleEndian.Uint32(f.data[info.offset+i*4:])
			out[i] = float64(math.Float32frombits(bits))
		}
		return out, info.shape, nil
	case ggmlF64:
		end := info.offset + n*8
		if end > uint64(len(f.data)) {
			return nil, nil, errors.Errorf("tensor %q data out of bounds", name)
		}
		out := make([]float64, n)
		for i := uint64(0); i < n; i++ {
			bits := binary.LittleEndian.Uint64(f.data[info.offset+i*8:])
			out[i] = math.Float64frombits(bits)
		}
		return out, info.shape, nil
	default:
		return nil, nil, errors.Errorf("tensor %q has unsupported element type %d", name, info.dtype)
	}
}

// WriteFile stores string metadata and F32 tensors as a GGUF file.
func WriteFile(path string, kv map[string]string, tensors []Tensor) error {
	var buf bytes.Buffer
	if err := write(&buf, kv, tensors); err != nil {
		return errors.Wrapf(err, "encode weights file %s", path)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "write weights file %s", path)
	}
	return nil
}

func write(w *bytes.Buffer, kv map[string]string, tensors []Tensor) error {
	le := binary.LittleEndian
	binary.Write(w, le, uint32(ggufMagic))
	binary.Write(w, le, uint32(ggufVersion))
	binary.Write(w, le, uint64(len(tensors)))
	binary.Write(w, le, uint64(len(kv)+1))

	writeString := func(s string) {
		binary.Write(w, le, uint64(len(s)))
		w.WriteString(s)
	}

	writeString("general.alignment")
	binary.Write(w, le, uint32(kvUint32))
	binary.Write(w, le, uint32(defaultAlignment))
	for _, key := range sortedKeys(kv) {
		writeString(key)
		binary.Write(w, le, uint32(kvString))
		writeString(kv[key])
	}

	offset := uint64(0)
	for _, t := range tensors {
		writeString(t.Name)
		rank := uint32(len(t.Shape))
		binary.Write(w, le, rank)
		for d := int(rank) - 1; d >= 0; d-- {
			binary.Write(w, le, t.Shape[d])
		}
		binary.Write(w, le, uint32(ggmlF32))
		binary.Write(w, le, offset)
		offset = alignUp(offset+uint64(len(t.Data))*4, defaultAlignment)
	}

	pad(w, alignUp(uint64(w.Len()), defaultAlignment)-uint64(w.Len()))
	for _, t := range tensors {
		n := uint64(1)
		for _, d := range t.Shape {
			n *= d
		}
		if n != uint64(len(t.Data)) {
			return errors.Errorf("tensor %q shape/data mismatch: %d vs %d elements", t.Name, n, len(t.Data))
		}
		for _, v := range t.Data {
			binary.Write(w, le, math.Float32bits(float32(v)))
		}
		pad(w, alignUp(uint64(w.Len()), defaultAlignment)-uint64(w.Len()))
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func pad(w *bytes.Buffer, n uint64) {
	for i := uint64(0); i < n; i++ {
		w.WriteByte(0)
	}
}

func alignUp(n, alignment uint64) uint64 {
	return (n + alignment - 1) / alignment * alignment
}

// reader walks a byte buffer recording the first decode error.
type reader struct {
	buf []byte
	pos int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+n > len(r.buf) {
		r.err = io.ErrUnexpectedEOF
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) uint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) str() string {
	n := r.uint64()
	b := r.take(int(n))
	if b == nil {
		return ""
	}
	return string(b)
}

func (r *reader) value(t kvType) interface{} {
	switch t {
	case kvUint8:
		b := r.take(1)
		if b == nil {
			return nil
		}
		return b[0]
	case kvInt8:
		b := r.take(1)
		if b == nil {
			return nil
		}
		return int8(b[0])
	case kvUint16:
		b := r.take(2)
		if b == nil {
			return nil
		}
		return binary.LittleEndian.Uint16(b)
	case kvInt16:
		b := r.take(2)
		if b == nil {
			return nil
		}
		return int16(binary.LittleEndian.Uint16(b))
	case kvUint32:
		return r.uint32()
	case kvInt32:
		return int32(r.uint32())
	case kvFloat32:
		return math.Float32frombits(r.uint32())
	case kvBool:
		b := r.take(1)
		if b == nil {
			return nil
		}
		return b[0] != 0
	case kvString:
		return r.str()
	case kvUint64:
		return r.uint64()
	case kvInt64:
		return int64(r.uint64())
	case kvFloat64:
		return math.Float64frombits(r.uint64())
	case kvArray:
		elem := kvType(r.uint32())
		n := r.uint64()
		out := make([]interface{}, 0, n)
		for i := uint64(0); i < n && r.err == nil; i++ {
			out = append(out, r.value(elem))
		}
		return out
	default:
		r.err = errors.Errorf("unsupported metadata type %d", t)
		return nil
	}
}
