package vector

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// Blob layout (little endian): magic "CLVX", format version u16, kind u8, dimension u32,
// count u32, then kind-specific parameters and float32 data.
var blobMagic = [4]byte{'C', 'L', 'V', 'X'}

const blobFormatVersion uint16 = 1

var kindCodes = map[Kind]uint8{KindFlat: 1, KindIVF: 2, KindHNSW: 3}

type blobHeader struct {
	kind       Kind
	dimensions int
	count      int
}

func writeHeader(w io.Writer, h blobHeader) error {
	code, ok := kindCodes[h.kind]
	if !ok {
		return fmt.Errorf("unknown kind %q", h.kind)
	}
	if _, err := w.Write(blobMagic[:]); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, blobFormatVersion); err != nil {
		return fmt.Errorf("write format version: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, code); err != nil {
		return fmt.Errorf("write kind: %w", err)
	}
	return writeUint32s(w, uint32(h.dimensions), uint32(h.count))
}

func readHeader(r io.Reader) (blobHeader, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return blobHeader{}, fmt.Errorf("read magic: %w", err)
	}
	if magic != blobMagic {
		return blobHeader{}, fmt.Errorf("not an index blob")
	}
	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return blobHeader{}, fmt.Errorf("read format version: %w", err)
	}
	if version != blobFormatVersion {
		return blobHeader{}, fmt.Errorf("unsupported blob format version %d", version)
	}
	var code uint8
	if err := binary.Read(r, binary.LittleEndian, &code); err != nil {
		return blobHeader{}, fmt.Errorf("read kind: %w", err)
	}
	h := blobHeader{}
	for kind, c := range kindCodes {
		if c == code {
			h.kind = kind
		}
	}
	if h.kind == "" {
		return blobHeader{}, fmt.Errorf("unknown kind code %d", code)
	}
	vals, err := readUint32s(r, 2)
	if err != nil {
		return blobHeader{}, err
	}
	h.dimensions, h.count = int(vals[0]), int(vals[1])
	return h, nil
}

// expectHeader reads the header and checks it against the receiving index.
func expectHeader(r io.Reader, kind Kind, dimensions int) (blobHeader, error) {
	h, err := readHeader(r)
	if err != nil {
		return h, err
	}
	if h.kind != kind {
		return h, fmt.Errorf("kind mismatch: blob has %s, index is %s", h.kind, kind)
	}
	if h.dimensions != dimensions {
		return h, fmt.Errorf("dimension mismatch: blob has %d, index expects %d", h.dimensions, dimensions)
	}
	return h, nil
}

func writeUint32s(w io.Writer, vals ...uint32) error {
	for _, v := range vals {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("write u32: %w", err)
		}
	}
	return nil
}

func readUint32s(r io.Reader, n int) ([]uint32, error) {
	out := make([]uint32, n)
	for i := range out {
		if err := binary.Read(r, binary.LittleEndian, &out[i]); err != nil {
			return nil, fmt.Errorf("read u32: %w", err)
		}
	}
	return out, nil
}

func writeVectors(w io.Writer, vectors [][]float32) error {
	for _, v := range vectors {
		if _, err := w.Write(float32SliceToBytes(v)); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// readVectors reads n vectors of the given dimension. A count that does not fit in the bytes
// left in the blob is rejected before anything is allocated.
func readVectors(r io.Reader, n, dimensions int) ([][]float32, error) {
	if n < 0 || dimensions <= 0 {
		return nil, fmt.Errorf("invalid vector block: count %d, dimension %d", n, dimensions)
	}
	if br, ok := r.(*blobReader); ok && int64(n)*int64(dimensions)*4 > br.remaining {
		return nil, fmt.Errorf("vector count %d exceeds blob size: %d bytes left", n, br.remaining)
	}
	out := make([][]float32, 0, min(n, maxVectorPrealloc))
	buf := make([]byte, dimensions*4)
	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("read vector %d: %w", i, err)
		}
		out = append(out, bytesToFloat32Slice(buf))
	}
	return out, nil
}

// saveBlob creates path (and its directory) and streams the encoder output through a buffer.
func saveBlob(path string, encode func(w io.Writer) error) error {
	if path == "" {
		return fmt.Errorf("empty index path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	bw := bufio.NewWriter(f)
	if err := encode(bw); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush index file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync index file: %w", err)
	}
	return f.Close()
}

// maxVectorPrealloc caps the capacity reserved up front when the reader cannot report its
// remaining size.
const maxVectorPrealloc = 1 << 16

// blobReader tracks how many bytes of the blob are still unread.
type blobReader struct {
	r         io.Reader
	remaining int64
}

func (b *blobReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.remaining -= int64(n)
	return n, err
}

func loadBlob(path string, decode func(r io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat index file: %w", err)
	}
	return decode(&blobReader{r: bufio.NewReader(f), remaining: info.Size()})
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
