// Package plist implements just enough of Apple's binary property
// list format (bplist00) to serve the AirPlay RTSP bodies: GET /info
// replies, SETUP/SETRATEANCHORTIME/SETPEERS(X) request bodies, and
// the occasional octet body that happens to be a plist.
//
// It supports the subset bplist00 actually needs for this protocol —
// dictionaries, arrays, strings, data, booleans, and 64-bit
// integers/floats — not every esoteric marker (UIDs, >8-byte ints) the
// full format allows. A date is never encoded; on decode it comes back
// as its raw float64 seconds.
package plist

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf16"
)

// Dict is a plist dictionary. Keys are always strings on the wire.
type Dict map[string]any

// Array is a plist array.
type Array []any

const magic = "bplist00"

// Marshal encodes v (expected to be a Dict, but any supported leaf or
// Array is accepted as the root) into bplist00 bytes.
func Marshal(v any) ([]byte, error) {
	// writeObject interns a container's children while writing it, so the
	// object table grows during the write loop. A first pass over a probe
	// encoder finds the final object count (and so the ref size); the
	// second pass interns the same objects in the same order.
	probe := &encoder{objects: make([]any, 0, 16), index: make(map[objKey]int)}
	probe.intern(v)
	for i := 0; i < len(probe.objects); i++ {
		if err := probe.writeObject(&bytes.Buffer{}, probe.objects[i], 8); err != nil {
			return nil, err
		}
	}
	refSize := refSizeFor(len(probe.objects))

	e := &encoder{
		objects: make([]any, 0, len(probe.objects)),
		index:   make(map[objKey]int),
	}
	root := e.intern(v)

	var body bytes.Buffer
	offsets := make([]int, len(probe.objects))
	for i := 0; i < len(e.objects); i++ {
		offsets[i] = body.Len() + len(magic)
		if err := e.writeObject(&body, e.objects[i], refSize); err != nil {
			return nil, err
		}
	}

	offsetTableOffset := len(magic) + body.Len()
	offsetIntSize := intSizeFor(offsetTableOffset)

	var out bytes.Buffer
	out.WriteString(magic)
	out.Write(body.Bytes())

	for _, off := range offsets {
		writeUint(&out, uint64(off), offsetIntSize)
	}

	var trailer [32]byte
	trailer[6] = byte(offsetIntSize)
	trailer[7] = byte(refSize)
	binary.BigEndian.PutUint64(trailer[8:16], uint64(len(e.objects)))
	binary.BigEndian.PutUint64(trailer[16:24], uint64(root))
	binary.BigEndian.PutUint64(trailer[24:32], uint64(offsetTableOffset))
	out.Write(trailer[:])

	return out.Bytes(), nil
}

// Unmarshal decodes bplist00 bytes into Dict/Array/leaf values.
func Unmarshal(data []byte) (any, error) {
	if len(data) < len(magic)+32 || string(data[:len(magic)]) != magic {
		return nil, fmt.Errorf("plist: not a bplist00 document")
	}

	trailer := data[len(data)-32:]
	offsetIntSize := int(trailer[6])
	refSize := int(trailer[7])
	numObjects := int(binary.BigEndian.Uint64(trailer[8:16]))
	rootIndex := int(binary.BigEndian.Uint64(trailer[16:24]))
	offsetTableOffset := int(binary.BigEndian.Uint64(trailer[24:32]))

	offsetTable := data[offsetTableOffset : offsetTableOffset+numObjects*offsetIntSize]
	offsets := make([]int, numObjects)
	for i := 0; i < numObjects; i++ {
		offsets[i] = int(readUint(offsetTable[i*offsetIntSize:], offsetIntSize))
	}

	d := &decoder{data: data, offsets: offsets, refSize: refSize, cache: make(map[int]any)}
	return d.object(rootIndex)
}

// Get walks a path of dictionary keys, returning (value, true) on
// success. The typed Get* variants below wrap it so callers test one
// boolean per leaf instead of type-asserting at every level.
func Get(root any, path ...string) (any, bool) {
	cur := root
	for _, key := range path {
		dict, ok := cur.(Dict)
		if !ok {
			return nil, false
		}
		cur, ok = dict[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func GetString(root any, path ...string) (string, bool) {
	v, ok := Get(root, path...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func GetInt(root any, path ...string) (int64, bool) {
	v, ok := Get(root, path...)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func GetFloat(root any, path ...string) (float64, bool) {
	v, ok := Get(root, path...)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func GetBool(root any, path ...string) (bool, bool) {
	v, ok := Get(root, path...)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func GetBytes(root any, path ...string) ([]byte, bool) {
	v, ok := Get(root, path...)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

// ExistsAll reports whether every dotted path in keys resolves to a value.
func ExistsAll(root any, keys ...[]string) bool {
	for _, path := range keys {
		if _, ok := Get(root, path...); !ok {
			return false
		}
	}
	return true
}

// --- encoder ---

type objKey struct {
	kind string
	val  any
}

type encoder struct {
	objects []any
	index   map[objKey]int
}

func (e *encoder) intern(v any) int {
	switch val := v.(type) {
	case string, bool, int64, int, float64:
		key := objKey{kind: fmt.Sprintf("%T", val), val: val}
		if idx, ok := e.index[key]; ok {
			return idx
		}
		idx := len(e.objects)
		e.objects = append(e.objects, val)
		e.index[key] = idx
		return idx
	default:
		// Arrays, dicts, and []byte are never deduplicated.
		idx := len(e.objects)
		e.objects = append(e.objects, v)
		return idx
	}
}

func (e *encoder) writeObject(w *bytes.Buffer, v any, refSize int) error {
	switch val := v.(type) {
	case nil:
		w.WriteByte(0x00)
	case bool:
		if val {
			w.WriteByte(0x09)
		} else {
			w.WriteByte(0x08)
		}
	case int64:
		writeIntObject(w, val)
	case int:
		writeIntObject(w, int64(val))
	case float64:
		w.WriteByte(0x23)
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(val))
		w.Write(buf[:])
	case []byte:
		writeLengthMarker(w, 0x40, len(val))
		w.Write(val)
	case string:
		if isASCII(val) {
			writeLengthMarker(w, 0x50, len(val))
			w.WriteString(val)
		} else {
			units := utf16.Encode([]rune(val))
			writeLengthMarker(w, 0x60, len(units))
			for _, u := range units {
				binary.Write(w, binary.BigEndian, u)
			}
		}
	case Array:
		writeLengthMarker(w, 0xA0, len(val))
		for _, item := range val {
			writeUint(w, uint64(e.intern(item)), refSize)
		}
	case Dict:
		writeLengthMarker(w, 0xD0, len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		// Deterministic key order for reproducible wire output / tests.
		sortStrings(keys)
		keyIdx := make([]int, len(keys))
		for i, k := range keys {
			keyIdx[i] = e.intern(k)
		}
		for _, idx := range keyIdx {
			writeUint(w, uint64(idx), refSize)
		}
		for _, k := range keys {
			writeUint(w, uint64(e.intern(val[k])), refSize)
		}
	default:
		return fmt.Errorf("plist: unsupported value type %T", v)
	}
	return nil
}

func writeIntObject(w *bytes.Buffer, n int64) {
	switch {
	case n >= 0 && n <= 0xff:
		w.WriteByte(0x10)
		w.WriteByte(byte(n))
	case n >= 0 && n <= 0xffff:
		w.WriteByte(0x11)
		writeUint(w, uint64(n), 2)
	case n >= 0 && n <= 0xffffffff:
		w.WriteByte(0x12)
		writeUint(w, uint64(n), 4)
	default:
		w.WriteByte(0x13)
		writeUint(w, uint64(n), 8)
	}
}

func writeLengthMarker(w *bytes.Buffer, marker byte, length int) {
	if length < 0x0f {
		w.WriteByte(marker | byte(length))
		return
	}
	w.WriteByte(marker | 0x0f)
	writeIntObject(w, int64(length))
}

func writeUint(w *bytes.Buffer, v uint64, size int) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	w.Write(buf[8-size:])
}

func refSizeFor(numObjects int) int {
	switch {
	case numObjects <= 0xff:
		return 1
	case numObjects <= 0xffff:
		return 2
	default:
		return 4
	}
}

func intSizeFor(v int) int {
	switch {
	case v <= 0xff:
		return 1
	case v <= 0xffff:
		return 2
	case v <= 0xffffffff:
		return 4
	default:
		return 8
	}
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7f {
			return false
		}
	}
	return true
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// --- decoder ---

type decoder struct {
	data    []byte
	offsets []int
	refSize int
	cache   map[int]any
}

func (d *decoder) ref(b []byte) int {
	return int(readUint(b, d.refSize))
}

func (d *decoder) object(index int) (any, error) {
	if v, ok := d.cache[index]; ok {
		return v, nil
	}
	if index < 0 || index >= len(d.offsets) {
		return nil, fmt.Errorf("plist: object index %d out of range", index)
	}
	off := d.offsets[index]
	marker := d.data[off]
	kind := marker & 0xf0

	var v any
	var err error

	switch {
	case marker == 0x00:
		v = nil
	case marker == 0x08:
		v = false
	case marker == 0x09:
		v = true
	case kind == 0x10:
		size := 1 << (marker & 0x0f)
		v = int64(readUint(d.data[off+1:], size))
	case kind == 0x20:
		size := 1 << (marker & 0x0f)
		if size == 8 {
			v = math.Float64frombits(readUint(d.data[off+1:], 8))
		} else {
			v = float64(math.Float32frombits(uint32(readUint(d.data[off+1:], size))))
		}
	case marker == 0x33:
		v = math.Float64frombits(readUint(d.data[off+1:], 8))
	case kind == 0x40:
		length, body := d.lengthAndBody(off, marker)
		v = append([]byte(nil), d.data[body:body+length]...)
	case kind == 0x50:
		length, body := d.lengthAndBody(off, marker)
		v = string(d.data[body : body+length])
	case kind == 0x60:
		length, body := d.lengthAndBody(off, marker)
		units := make([]uint16, length)
		for i := 0; i < length; i++ {
			units[i] = uint16(readUint(d.data[body+i*2:], 2))
		}
		v = string(utf16.Decode(units))
	case kind == 0xA0:
		length, body := d.lengthAndBody(off, marker)
		arr := make(Array, length)
		for i := 0; i < length; i++ {
			idx := d.ref(d.data[body+i*d.refSize:])
			arr[i], err = d.object(idx)
			if err != nil {
				return nil, err
			}
		}
		v = arr
	case kind == 0xD0:
		length, body := d.lengthAndBody(off, marker)
		keyRefs := d.data[body : body+length*d.refSize]
		valRefs := d.data[body+length*d.refSize : body+2*length*d.refSize]
		dict := make(Dict, length)
		for i := 0; i < length; i++ {
			keyIdx := d.ref(keyRefs[i*d.refSize:])
			valIdx := d.ref(valRefs[i*d.refSize:])
			key, kerr := d.object(keyIdx)
			if kerr != nil {
				return nil, kerr
			}
			keyStr, ok := key.(string)
			if !ok {
				return nil, fmt.Errorf("plist: dict key at object %d is not a string", keyIdx)
			}
			val, verr := d.object(valIdx)
			if verr != nil {
				return nil, verr
			}
			dict[keyStr] = val
		}
		v = dict
	default:
		return nil, fmt.Errorf("plist: unsupported marker 0x%02x", marker)
	}

	d.cache[index] = v
	return v, nil
}

// lengthAndBody resolves the {length, length-prefix} pair for markers
// whose low nibble may either hold a short length or 0xf to signal an
// out-of-line int object holds the real length.
func (d *decoder) lengthAndBody(off int, marker byte) (length, body int) {
	nibble := marker & 0x0f
	if nibble != 0x0f {
		return int(nibble), off + 1
	}
	lenMarker := d.data[off+1]
	size := 1 << (lenMarker & 0x0f)
	length = int(readUint(d.data[off+2:], size))
	return length, off + 2 + size
}

func readUint(b []byte, size int) uint64 {
	var v uint64
	for i := 0; i < size; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}
