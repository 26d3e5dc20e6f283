package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
)

// TensorInfo describes a tensor entry in safetensors header
type TensorInfo struct {
	Dtype       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// Header is the parsed header map: name -> tensor info
type Header map[string]TensorInfo

// File represents an opened safetensors file
type File struct {
	Path   string
	Header Header
	// Metadata is the optional free-form "__metadata__" string map
	Metadata map[string]string
	Data     []byte // whole file, read at Open
	offset   int64  // start of data payload (after header)
}

// Open opens a .safetensors file and parses its header
func Open(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < 8 {
		return nil, fmt.Errorf("read header length: %w", io.ErrUnexpectedEOF)
	}
	headerLen := binary.LittleEndian.Uint64(data[:8])
	if headerLen > uint64(len(data)-8) {
		return nil, fmt.Errorf("read header: length %d exceeds file size %d", headerLen, len(data))
	}
	headerBytes := data[8 : 8+headerLen]

	// Parse header JSON
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, fmt.Errorf("parse header json: %w", err)
	}

	header := make(Header)
	var metadata map[string]string
	for k, v := range raw {
		if k == metadataKey {
			if err := json.Unmarshal(v, &metadata); err != nil {
				return nil, fmt.Errorf("parse metadata: %w", err)
			}
			continue
		}
		var ti TensorInfo
		if err := json.Unmarshal(v, &ti); err != nil {
			return nil, fmt.Errorf("parse tensor info for %s: %w", k, err)
		}
		header[k] = ti
	}

	return &File{Path: path, Header: header, Metadata: metadata, Data: data, offset: int64(8 + headerLen)}, nil
}

// Names returns the tensor names in sorted order
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Header))
	for name := range f.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReadRaw returns the raw bytes for a tensor by name
func (f *File) ReadRaw(name string) ([]byte, TensorInfo, error) {
	ti, ok := f.Header[name]
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("tensor %s not found", name)
	}
	start := f.offset + ti.DataOffsets[0]
	end := f.offset + ti.DataOffsets[1]
	if start < 0 || end < start || end > int64(len(f.Data)) {
		return nil, TensorInfo{}, fmt.Errorf("bad offsets for %s: %v", name, ti.DataOffsets)
	}
	return f.Data[start:end], ti, nil
}

// ReadFloat32 reads and converts tensor to float32 slice (supports F32, F16, BF16)
func (f *File) ReadFloat32(name string) ([]float32, TensorInfo, error) {
	raw, ti, err := f.ReadRaw(name)
	if err != nil {
		return nil, TensorInfo{}, err
	}
	switch strings.ToUpper(ti.Dtype) {
	case "F32":
		if len(raw)%4 != 0 {
			return nil, TensorInfo{}, fmt.Errorf("F32 byte length not multiple of 4: %d", len(raw))
		}
		out := make([]float32, len(raw)/4)
		for i := range out {
			bits := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
			out[i] = mathFromBits(bits)
		}
		return out, ti, nil
	case "F16":
		if len(raw)%2 != 0 {
			return nil, TensorInfo{}, fmt.Errorf("F16 byte length not multiple of 2: %d", len(raw))
		}
		out := make([]float32, len(raw)/2)
		for i := range out {
			h := binary.LittleEndian.Uint16(raw[i*2 : i*2+2])
			out[i] = float16ToFloat32(h)
		}
		return out, ti, nil
	case "BF16":
		if len(raw)%2 != 0 {
			return nil, TensorInfo{}, fmt.Errorf("BF16 byte length not multiple of 2: %d", len(raw))
		}
		out := make([]float32, len(raw)/2)
		for i := range out {
			h := binary.LittleEndian.Uint16(raw[i*2 : i*2+2])
			out[i] = bfloat16ToFloat32(h)
		}
		return out, ti, nil
	default:
		return nil, TensorInfo{}, fmt.Errorf("unsupported dtype %s for %s", ti.Dtype, name)
	}
}

func mathFromBits(b uint32) float32 { return math.Float32frombits(b) }

// float16ToFloat32 converts IEEE-754 half-precision to single-precision
func float16ToFloat32(h uint16) float32 {
	// Based on standard conversion logic
	s := uint32(h>>15) & 0x00000001
	e := uint32(h>>10) & 0x0000001F
	f := uint32(h & 0x03FF)
	var out uint32
	if e == 0 {
		if f == 0 {
			out = s << 31
		} else {
			// subnormal
			for (f & 0x0400) == 0 { // normalize
				f <<= 1
				e--
			}
			e++
			f &= 0x03FF
			out = (s << 31) | ((e + 112) << 23) | (f << 13)
		}
	} else if e == 31 {
		// Inf/NaN
		out = (s << 31) | 0x7F800000 | (f << 13)
	} else {
		out = (s << 31) | ((e + 112) << 23) | (f << 13)
	}
	return mathFromBits(out)
}

// bfloat16ToFloat32 converts BF16 to float32 by placing bf16 as high 16 bits
func bfloat16ToFloat32(h uint16) float32 {
	out := uint32(h) << 16
	return mathFromBits(out)
}
