package safetensors

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
)

const metadataKey = "__metadata__"

// Entry is a named float32 tensor to be written
type Entry struct {
	Name  string
	Shape []int
	Data  []float32
}

// Encode serialises entries as F32 tensors. Payloads are laid out in name
// order and the header is space-padded to an 8-byte boundary.
func Encode(entries []Entry, metadata map[string]string) ([]byte, error) {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	header := make(map[string]interface{}, len(sorted)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}
	var offset int64
	for i, e := range sorted {
		if e.Name == "" || e.Name == metadataKey {
			return nil, fmt.Errorf("invalid tensor name %q", e.Name)
		}
		if i > 0 && sorted[i-1].Name == e.Name {
			return nil, fmt.Errorf("duplicate tensor name %s", e.Name)
		}
		n := 1
		shape := make([]int64, len(e.Shape))
		for d, s := range e.Shape {
			n *= s
			shape[d] = int64(s)
		}
		if n != len(e.Data) {
			return nil, fmt.Errorf("tensor %s: shape %v needs %d values, got %d", e.Name, e.Shape, n, len(e.Data))
		}
		size := int64(4 * len(e.Data))
		header[e.Name] = TensorInfo{Dtype: "F32", Shape: shape, DataOffsets: [2]int64{offset, offset + size}}
		offset += size
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	if pad := len(headerBytes) % 8; pad != 0 {
		headerBytes = append(headerBytes, bytes.Repeat([]byte(" "), 8-pad)...)
	}

	buf := bytes.NewBuffer(make([]byte, 0, 8+len(headerBytes)+int(offset)))
	var lenBytes [8]byte
	binary.LittleEndian.PutUint64(lenBytes[:], uint64(len(headerBytes)))
	buf.Write(lenBytes[:])
	buf.Write(headerBytes)
	var word [4]byte
	for _, e := range sorted {
		for _, v := range e.Data {
			binary.LittleEndian.PutUint32(word[:], math.Float32bits(v))
			buf.Write(word[:])
		}
	}
	return buf.Bytes(), nil
}

// Save writes entries to path
func Save(path string, entries []Entry, metadata map[string]string) error {
	data, err := Encode(entries, metadata)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
