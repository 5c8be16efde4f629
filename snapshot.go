package pweld

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/klauspost/compress/zstd"
	"gonum.org/v1/gonum/spatial/r3"
)

// Snapshots are a binary cache format for meshes, avoiding repeated PLY
// parsing of large inputs across runs. Two codecs share one layout:
// a zstd-compressed stream for cold storage and an uncompressed
// memory-mapped file for fast reload.
//
// Layout (little-endian): magic "PWLD", version, vertex count, triangle
// count, attribute flags, then flat vertex positions (3 float64 each),
// optional normals, optional colors, and triangles (3 int32 each).

const (
	snapshotMagic   = "PWLD"
	snapshotVersion = uint32(1)

	snapshotFlagNormals = uint32(1 << 0)
	snapshotFlagColors  = uint32(1 << 1)
)

// snapshotFlags encodes which optional attributes the mesh carries.
func (m *Mesh) snapshotFlags() uint32 {
	var flags uint32
	if m.HasVertexNormals() {
		flags |= snapshotFlagNormals
	}
	if m.HasVertexColors() {
		flags |= snapshotFlagColors
	}
	return flags
}

// snapshotSize returns the byte size of the snapshot payload.
func (m *Mesh) snapshotSize() int64 {
	size := int64(4 + 4 + 4 + 4 + 4) // magic, version, counts, flags
	size += int64(len(m.Vertices)) * 24
	if m.HasVertexNormals() {
		size += int64(len(m.VertexNormals)) * 24
	}
	if m.HasVertexColors() {
		size += int64(len(m.VertexColors)) * 24
	}
	size += int64(len(m.Triangles)) * 12
	return size
}

// --- Compressed codec ---

// SaveCompressed writes the mesh as a zstd-compressed snapshot.
func (m *Mesh) SaveCompressed(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("pweld: create %s: %w", path, err)
	}

	bw := bufio.NewWriterSize(f, 1<<20)
	enc, err := zstd.NewWriter(bw)
	if err != nil {
		f.Close()
		return fmt.Errorf("pweld: zstd writer: %w", err)
	}

	if err := m.writeSnapshot(enc); err != nil {
		enc.Close()
		f.Close()
		return fmt.Errorf("pweld: write %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("pweld: write %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("pweld: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("pweld: write %s: %w", path, err)
	}
	return nil
}

// LoadCompressedMesh reads a mesh from a zstd-compressed snapshot.
func LoadCompressedMesh(path string) (*Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pweld: open %s: %w", path, err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(bufio.NewReaderSize(f, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("pweld: zstd reader: %w", err)
	}
	defer dec.Close()

	m, err := readSnapshot(dec)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func (m *Mesh) writeSnapshot(w io.Writer) error {
	if _, err := w.Write([]byte(snapshotMagic)); err != nil {
		return err
	}
	for _, v := range []uint32{
		snapshotVersion,
		uint32(len(m.Vertices)),
		uint32(len(m.Triangles)),
		m.snapshotFlags(),
	} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	writeVecs := func(vs []r3.Vec) error {
		for _, v := range vs {
			if err := binary.Write(w, binary.LittleEndian, [3]float64{v.X, v.Y, v.Z}); err != nil {
				return err
			}
		}
		return nil
	}
	if err := writeVecs(m.Vertices); err != nil {
		return err
	}
	if m.HasVertexNormals() {
		if err := writeVecs(m.VertexNormals); err != nil {
			return err
		}
	}
	if m.HasVertexColors() {
		if err := writeVecs(m.VertexColors); err != nil {
			return err
		}
	}
	for _, t := range m.Triangles {
		if err := binary.Write(w, binary.LittleEndian, t); err != nil {
			return err
		}
	}
	return nil
}

func readSnapshot(r io.Reader) (*Mesh, error) {
	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != snapshotMagic {
		return nil, fmt.Errorf("%w: not a pweld snapshot", ErrParse)
	}

	var header [4]uint32 // version, nverts, ntris, flags
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: truncated snapshot header", ErrParse)
	}
	if header[0] != snapshotVersion {
		return nil, fmt.Errorf("%w: snapshot version %d", ErrUnsupported, header[0])
	}
	nverts, ntris, flags := int(header[1]), int(header[2]), header[3]

	readVecs := func(n int) ([]r3.Vec, error) {
		vs := make([]r3.Vec, n)
		for i := range vs {
			var raw [3]float64
			if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
				return nil, fmt.Errorf("%w: truncated snapshot payload", ErrParse)
			}
			vs[i] = r3.Vec{X: raw[0], Y: raw[1], Z: raw[2]}
		}
		return vs, nil
	}

	m := &Mesh{}
	var err error
	if m.Vertices, err = readVecs(nverts); err != nil {
		return nil, err
	}
	if flags&snapshotFlagNormals != 0 {
		if m.VertexNormals, err = readVecs(nverts); err != nil {
			return nil, err
		}
	}
	if flags&snapshotFlagColors != 0 {
		if m.VertexColors, err = readVecs(nverts); err != nil {
			return nil, err
		}
	}

	m.Triangles = make([][3]int32, ntris)
	for i := range m.Triangles {
		if err := binary.Read(r, binary.LittleEndian, &m.Triangles[i]); err != nil {
			return nil, fmt.Errorf("%w: truncated snapshot payload", ErrParse)
		}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// --- Memory-mapped codec ---

// mapCursor is an offset cursor over a memory-mapped region.
type mapCursor struct {
	data   mmap.MMap
	offset int
}

func (c *mapCursor) putUint32(v uint32) {
	binary.LittleEndian.PutUint32(c.data[c.offset:], v)
	c.offset += 4
}

func (c *mapCursor) putFloat64(v float64) {
	binary.LittleEndian.PutUint64(c.data[c.offset:], math.Float64bits(v))
	c.offset += 8
}

func (c *mapCursor) readUint32() uint32 {
	v := binary.LittleEndian.Uint32(c.data[c.offset:])
	c.offset += 4
	return v
}

func (c *mapCursor) readFloat64() float64 {
	v := binary.LittleEndian.Uint64(c.data[c.offset:])
	c.offset += 8
	return math.Float64frombits(v)
}

// SaveMapped writes the mesh as an uncompressed snapshot through a
// memory mapping.
func (m *Mesh) SaveMapped(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("pweld: create %s: %w", path, err)
	}
	defer f.Close()

	if err := f.Truncate(m.snapshotSize()); err != nil {
		return fmt.Errorf("pweld: resize %s: %w", path, err)
	}
	mm, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		return fmt.Errorf("pweld: mmap %s: %w", path, err)
	}
	defer mm.Unmap()

	c := &mapCursor{data: mm}
	copy(c.data, snapshotMagic)
	c.offset = 4
	c.putUint32(snapshotVersion)
	c.putUint32(uint32(len(m.Vertices)))
	c.putUint32(uint32(len(m.Triangles)))
	c.putUint32(m.snapshotFlags())

	putVecs := func(vs []r3.Vec) {
		for _, v := range vs {
			c.putFloat64(v.X)
			c.putFloat64(v.Y)
			c.putFloat64(v.Z)
		}
	}
	putVecs(m.Vertices)
	if m.HasVertexNormals() {
		putVecs(m.VertexNormals)
	}
	if m.HasVertexColors() {
		putVecs(m.VertexColors)
	}
	for _, t := range m.Triangles {
		c.putUint32(uint32(t[0]))
		c.putUint32(uint32(t[1]))
		c.putUint32(uint32(t[2]))
	}

	if err := mm.Flush(); err != nil {
		return fmt.Errorf("pweld: flush %s: %w", path, err)
	}
	return nil
}

// LoadMappedMesh reads a mesh from an uncompressed snapshot through a
// memory mapping.
func LoadMappedMesh(path string) (*Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pweld: open %s: %w", path, err)
	}
	defer f.Close()

	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("pweld: mmap %s: %w", path, err)
	}
	defer mm.Unmap()

	if len(mm) < 20 || string(mm[:4]) != snapshotMagic {
		return nil, fmt.Errorf("%w: %s is not a pweld snapshot", ErrParse, path)
	}
	c := &mapCursor{data: mm, offset: 4}
	if v := c.readUint32(); v != snapshotVersion {
		return nil, fmt.Errorf("%w: snapshot version %d", ErrUnsupported, v)
	}
	nverts := int(c.readUint32())
	ntris := int(c.readUint32())
	flags := c.readUint32()

	need := int64(20) + int64(nverts)*24 + int64(ntris)*12
	if flags&snapshotFlagNormals != 0 {
		need += int64(nverts) * 24
	}
	if flags&snapshotFlagColors != 0 {
		need += int64(nverts) * 24
	}
	if int64(len(mm)) < need {
		return nil, fmt.Errorf("%w: truncated snapshot %s", ErrParse, path)
	}

	getVecs := func(n int) []r3.Vec {
		vs := make([]r3.Vec, n)
		for i := range vs {
			vs[i] = r3.Vec{X: c.readFloat64(), Y: c.readFloat64(), Z: c.readFloat64()}
		}
		return vs
	}

	m := &Mesh{Vertices: getVecs(nverts)}
	if flags&snapshotFlagNormals != 0 {
		m.VertexNormals = getVecs(nverts)
	}
	if flags&snapshotFlagColors != 0 {
		m.VertexColors = getVecs(nverts)
	}
	m.Triangles = make([][3]int32, ntris)
	for i := range m.Triangles {
		m.Triangles[i][0] = int32(c.readUint32())
		m.Triangles[i][1] = int32(c.readUint32())
		m.Triangles[i][2] = int32(c.readUint32())
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
