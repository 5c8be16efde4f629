package pweld

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// PLY support covers the consumer contract of this package: ASCII or
// binary little-endian files with a vertex element carrying x, y, z
// (float or double), optional nx, ny, nz, optional red, green, blue
// (uchar, scaled by 1/255), and a face element with a vertex_indices or
// vertex_index list. Polygonal faces are triangulated by ear clipping.

type plyProperty struct {
	name      string
	typ       string // scalar type, or element type for lists
	list      bool
	countType string
}

type plyElement struct {
	name  string
	count int
	props []plyProperty
}

type plyHeader struct {
	binary   bool
	elements []plyElement
}

// plyTypeSize maps PLY scalar type names to their byte width.
var plyTypeSize = map[string]int{
	"char": 1, "int8": 1, "uchar": 1, "uint8": 1,
	"short": 2, "int16": 2, "ushort": 2, "uint16": 2,
	"int": 4, "int32": 4, "uint": 4, "uint32": 4,
	"float": 4, "float32": 4,
	"double": 8, "float64": 8,
}

// ReadPLY reads a triangle mesh from a PLY file.
func ReadPLY(path string) (*Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pweld: open %s: %w", path, err)
	}
	defer f.Close()
	m, err := readPLY(bufio.NewReaderSize(f, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func readPLY(r *bufio.Reader) (*Mesh, error) {
	header, err := readPLYHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Mesh{}
	for _, elem := range header.elements {
		switch elem.name {
		case "vertex":
			if err := readPLYVertices(r, header.binary, elem, m); err != nil {
				return nil, err
			}
		case "face":
			if err := readPLYFaces(r, header.binary, elem, m); err != nil {
				return nil, err
			}
		default:
			if err := skipPLYElement(r, header.binary, elem); err != nil {
				return nil, err
			}
		}
	}

	if len(m.Vertices) == 0 && len(m.Triangles) > 0 {
		return nil, fmt.Errorf("%w: faces without vertices", ErrParse)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func readPLYHeader(r *bufio.Reader) (*plyHeader, error) {
	magic, err := readPLYLine(r)
	if err != nil || magic != "ply" {
		return nil, fmt.Errorf("%w: missing ply magic", ErrParse)
	}

	header := &plyHeader{}
	sawFormat := false
	for {
		line, err := readPLYLine(r)
		if err != nil {
			return nil, fmt.Errorf("%w: truncated header", ErrParse)
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "format":
			if len(fields) < 3 {
				return nil, fmt.Errorf("%w: bad format line %q", ErrParse, line)
			}
			switch fields[1] {
			case "ascii":
				header.binary = false
			case "binary_little_endian":
				header.binary = true
			case "binary_big_endian":
				return nil, fmt.Errorf("%w: big-endian PLY", ErrUnsupported)
			default:
				return nil, fmt.Errorf("%w: unknown PLY format %q", ErrParse, fields[1])
			}
			sawFormat = true

		case "element":
			if len(fields) < 3 {
				return nil, fmt.Errorf("%w: bad element line %q", ErrParse, line)
			}
			count, err := strconv.Atoi(fields[2])
			if err != nil || count < 0 {
				return nil, fmt.Errorf("%w: bad element count %q", ErrParse, fields[2])
			}
			header.elements = append(header.elements, plyElement{name: fields[1], count: count})

		case "property":
			if len(header.elements) == 0 {
				return nil, fmt.Errorf("%w: property before element", ErrParse)
			}
			elem := &header.elements[len(header.elements)-1]
			if len(fields) >= 5 && fields[1] == "list" {
				if _, ok := plyTypeSize[fields[2]]; !ok {
					return nil, fmt.Errorf("%w: unknown PLY type %q", ErrParse, fields[2])
				}
				if _, ok := plyTypeSize[fields[3]]; !ok {
					return nil, fmt.Errorf("%w: unknown PLY type %q", ErrParse, fields[3])
				}
				elem.props = append(elem.props, plyProperty{
					name: fields[4], typ: fields[3], list: true, countType: fields[2],
				})
			} else if len(fields) >= 3 {
				if _, ok := plyTypeSize[fields[1]]; !ok {
					return nil, fmt.Errorf("%w: unknown PLY type %q", ErrParse, fields[1])
				}
				elem.props = append(elem.props, plyProperty{name: fields[2], typ: fields[1]})
			} else {
				return nil, fmt.Errorf("%w: bad property line %q", ErrParse, line)
			}

		case "comment", "obj_info":
			// ignored

		case "end_header":
			if !sawFormat {
				return nil, fmt.Errorf("%w: missing format line", ErrParse)
			}
			return header, nil

		default:
			return nil, fmt.Errorf("%w: unexpected header line %q", ErrParse, line)
		}
	}
}

// readPLYLine reads one header line, tolerating CRLF endings.
func readPLYLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readPLYScalar reads one binary little-endian scalar of the given PLY
// type and widens it to float64.
func readPLYScalar(r io.Reader, typ string, buf []byte) (float64, error) {
	size := plyTypeSize[typ]
	if _, err := io.ReadFull(r, buf[:size]); err != nil {
		return 0, fmt.Errorf("%w: truncated binary payload", ErrParse)
	}
	switch typ {
	case "char", "int8":
		return float64(int8(buf[0])), nil
	case "uchar", "uint8":
		return float64(buf[0]), nil
	case "short", "int16":
		return float64(int16(binary.LittleEndian.Uint16(buf))), nil
	case "ushort", "uint16":
		return float64(binary.LittleEndian.Uint16(buf)), nil
	case "int", "int32":
		return float64(int32(binary.LittleEndian.Uint32(buf))), nil
	case "uint", "uint32":
		return float64(binary.LittleEndian.Uint32(buf)), nil
	case "float", "float32":
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf))), nil
	case "double", "float64":
		return math.Float64frombits(binary.LittleEndian.Uint64(buf)), nil
	}
	return 0, fmt.Errorf("%w: unknown PLY type %q", ErrParse, typ)
}

// readPLYRow reads one element row, returning one slice per property
// (lists expand to their members, scalars to a single value).
func readPLYRow(r *bufio.Reader, isBinary bool, props []plyProperty, buf []byte) ([][]float64, error) {
	row := make([][]float64, len(props))

	if isBinary {
		for pi, p := range props {
			if p.list {
				count, err := readPLYScalar(r, p.countType, buf)
				if err != nil {
					return nil, err
				}
				if count < 0 {
					return nil, fmt.Errorf("%w: negative list count", ErrParse)
				}
				vals := make([]float64, int(count))
				for i := range vals {
					if vals[i], err = readPLYScalar(r, p.typ, buf); err != nil {
						return nil, err
					}
				}
				row[pi] = vals
			} else {
				v, err := readPLYScalar(r, p.typ, buf)
				if err != nil {
					return nil, err
				}
				row[pi] = []float64{v}
			}
		}
		return row, nil
	}

	line, err := readPLYLine(r)
	if err != nil {
		return nil, fmt.Errorf("%w: truncated body", ErrParse)
	}
	fields := strings.Fields(line)
	fi := 0
	next := func() (float64, error) {
		if fi >= len(fields) {
			return 0, fmt.Errorf("%w: short row %q", ErrParse, line)
		}
		v, err := strconv.ParseFloat(fields[fi], 64)
		if err != nil {
			return 0, fmt.Errorf("%w: bad number %q", ErrParse, fields[fi])
		}
		fi++
		return v, nil
	}

	for pi, p := range props {
		if p.list {
			count, err := next()
			if err != nil {
				return nil, err
			}
			if count < 0 {
				return nil, fmt.Errorf("%w: negative list count", ErrParse)
			}
			vals := make([]float64, int(count))
			for i := range vals {
				if vals[i], err = next(); err != nil {
					return nil, err
				}
			}
			row[pi] = vals
		} else {
			v, err := next()
			if err != nil {
				return nil, err
			}
			row[pi] = []float64{v}
		}
	}
	return row, nil
}

func readPLYVertices(r *bufio.Reader, isBinary bool, elem plyElement, m *Mesh) error {
	idxOf := func(name string) int {
		for i, p := range elem.props {
			if p.name == name && !p.list {
				return i
			}
		}
		return -1
	}

	xi, yi, zi := idxOf("x"), idxOf("y"), idxOf("z")
	if xi < 0 || yi < 0 || zi < 0 {
		return fmt.Errorf("%w: vertex element lacks x/y/z", ErrParse)
	}
	nxi, nyi, nzi := idxOf("nx"), idxOf("ny"), idxOf("nz")
	ri, gi, bi := idxOf("red"), idxOf("green"), idxOf("blue")
	hasNormals := nxi >= 0 && nyi >= 0 && nzi >= 0
	hasColors := ri >= 0 && gi >= 0 && bi >= 0

	m.Vertices = make([]r3.Vec, 0, elem.count)
	if hasNormals {
		m.VertexNormals = make([]r3.Vec, 0, elem.count)
	}
	if hasColors {
		m.VertexColors = make([]r3.Vec, 0, elem.count)
	}

	buf := make([]byte, 8)
	for i := 0; i < elem.count; i++ {
		row, err := readPLYRow(r, isBinary, elem.props, buf)
		if err != nil {
			return err
		}
		m.Vertices = append(m.Vertices, r3.Vec{X: row[xi][0], Y: row[yi][0], Z: row[zi][0]})
		if hasNormals {
			m.VertexNormals = append(m.VertexNormals, r3.Vec{X: row[nxi][0], Y: row[nyi][0], Z: row[nzi][0]})
		}
		if hasColors {
			m.VertexColors = append(m.VertexColors, r3.Vec{
				X: row[ri][0] / 255.0, Y: row[gi][0] / 255.0, Z: row[bi][0] / 255.0,
			})
		}
	}
	return nil
}

func readPLYFaces(r *bufio.Reader, isBinary bool, elem plyElement, m *Mesh) error {
	listIdx := -1
	for i, p := range elem.props {
		if p.list && (p.name == "vertex_indices" || p.name == "vertex_index") {
			listIdx = i
			break
		}
	}
	if listIdx < 0 {
		return fmt.Errorf("%w: face element lacks vertex_indices", ErrParse)
	}

	buf := make([]byte, 8)
	for i := 0; i < elem.count; i++ {
		row, err := readPLYRow(r, isBinary, elem.props, buf)
		if err != nil {
			return err
		}
		face := row[listIdx]
		if len(face) < 3 {
			continue
		}

		poly := make([]int32, len(face))
		for j, v := range face {
			poly[j] = int32(v)
		}
		if len(poly) == 3 {
			m.Triangles = append(m.Triangles, [3]int32{poly[0], poly[1], poly[2]})
			continue
		}

		tris, err := triangulatePolygon(m.Vertices, poly)
		if err != nil {
			return fmt.Errorf("%w (face %d)", err, i)
		}
		m.Triangles = append(m.Triangles, tris...)
	}
	return nil
}

func skipPLYElement(r *bufio.Reader, isBinary bool, elem plyElement) error {
	buf := make([]byte, 8)
	for i := 0; i < elem.count; i++ {
		if _, err := readPLYRow(r, isBinary, elem.props, buf); err != nil {
			return err
		}
	}
	return nil
}

// --- Ear clipping ---

// triangulatePolygon splits a polygonal face into triangles by ear
// clipping. The polygon is projected onto the dominant plane of its
// Newell normal; orientation is preserved so emitted triangles keep the
// face's winding.
func triangulatePolygon(verts []r3.Vec, poly []int32) ([][3]int32, error) {
	n := int32(len(verts))
	for _, v := range poly {
		if v < 0 || v >= n {
			return nil, fmt.Errorf("%w: face index %d outside [0, %d)", ErrOutOfRange, v, n)
		}
	}

	normal := newellNormal(verts, poly)
	if r3.Norm(normal) == 0 {
		return nil, fmt.Errorf("%w: degenerate polygonal face", ErrUnsupported)
	}

	// Project onto the plane that drops the dominant normal axis,
	// swapping the remaining axes when needed to keep the polygon
	// counter-clockwise in 2D.
	u := make([]float64, len(poly))
	v2 := make([]float64, len(poly))
	ax, ay := math.Abs(normal.X), math.Abs(normal.Y)
	az := math.Abs(normal.Z)
	for i, id := range poly {
		p := verts[id]
		switch {
		case ax >= ay && ax >= az:
			u[i], v2[i] = p.Y, p.Z
			if normal.X < 0 {
				u[i], v2[i] = v2[i], u[i]
			}
		case ay >= az:
			u[i], v2[i] = p.Z, p.X
			if normal.Y < 0 {
				u[i], v2[i] = v2[i], u[i]
			}
		default:
			u[i], v2[i] = p.X, p.Y
			if normal.Z < 0 {
				u[i], v2[i] = v2[i], u[i]
			}
		}
	}

	remaining := make([]int, len(poly))
	for i := range remaining {
		remaining[i] = i
	}

	var tris [][3]int32
	for len(remaining) > 3 {
		clipped := false
		for k := 0; k < len(remaining); k++ {
			prev := remaining[(k+len(remaining)-1)%len(remaining)]
			cur := remaining[k]
			next := remaining[(k+1)%len(remaining)]

			if !isEar(u, v2, remaining, prev, cur, next) {
				continue
			}
			tris = append(tris, [3]int32{poly[prev], poly[cur], poly[next]})
			remaining = append(remaining[:k], remaining[k+1:]...)
			clipped = true
			break
		}
		if !clipped {
			return nil, fmt.Errorf("%w: face is not ear-clippable", ErrUnsupported)
		}
	}
	tris = append(tris, [3]int32{poly[remaining[0]], poly[remaining[1]], poly[remaining[2]]})
	return tris, nil
}

// newellNormal computes the polygon normal by Newell's method, which is
// robust for non-planar and concave faces.
func newellNormal(verts []r3.Vec, poly []int32) r3.Vec {
	var n r3.Vec
	for i := range poly {
		a := verts[poly[i]]
		b := verts[poly[(i+1)%len(poly)]]
		n.X += (a.Y - b.Y) * (a.Z + b.Z)
		n.Y += (a.Z - b.Z) * (a.X + b.X)
		n.Z += (a.X - b.X) * (a.Y + b.Y)
	}
	return n
}

// isEar reports whether cur forms a convex corner with no remaining
// vertex strictly inside the candidate triangle.
func isEar(u, v []float64, remaining []int, prev, cur, next int) bool {
	cross := (u[cur]-u[prev])*(v[next]-v[cur]) - (v[cur]-v[prev])*(u[next]-u[cur])
	if cross <= 0 {
		return false // reflex or collinear corner
	}
	for _, k := range remaining {
		if k == prev || k == cur || k == next {
			continue
		}
		if pointInTriangle(u[k], v[k], u[prev], v[prev], u[cur], v[cur], u[next], v[next]) {
			return false
		}
	}
	return true
}

func pointInTriangle(px, py, ax, ay, bx, by, cx, cy float64) bool {
	d1 := (px-bx)*(ay-by) - (ax-bx)*(py-by)
	d2 := (px-cx)*(by-cy) - (bx-cx)*(py-cy)
	d3 := (px-ax)*(cy-ay) - (cx-ax)*(py-ay)
	hasNeg := d1 < 0 || d2 < 0 || d3 < 0
	hasPos := d1 > 0 || d2 > 0 || d3 > 0
	return !(hasNeg && hasPos)
}

// --- Writer ---

// WritePLY writes the mesh as a PLY file, binary little-endian when
// binary is true and ASCII otherwise. Positions are always written;
// normals when present; colors only if the mesh carries them.
func WritePLY(path string, m *Mesh, binary bool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("pweld: create %s: %w", path, err)
	}
	w := bufio.NewWriterSize(f, 1<<20)
	if err := writePLY(w, m, binary); err != nil {
		f.Close()
		return fmt.Errorf("pweld: write %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("pweld: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("pweld: write %s: %w", path, err)
	}
	return nil
}

func writePLY(w *bufio.Writer, m *Mesh, isBinary bool) error {
	hasNormals := m.HasVertexNormals()
	hasColors := m.HasVertexColors()

	format := "ascii"
	if isBinary {
		format = "binary_little_endian"
	}
	fmt.Fprintf(w, "ply\nformat %s 1.0\ncomment created by pweld\n", format)
	fmt.Fprintf(w, "element vertex %d\n", len(m.Vertices))
	fmt.Fprintf(w, "property double x\nproperty double y\nproperty double z\n")
	if hasNormals {
		fmt.Fprintf(w, "property double nx\nproperty double ny\nproperty double nz\n")
	}
	if hasColors {
		fmt.Fprintf(w, "property uchar red\nproperty uchar green\nproperty uchar blue\n")
	}
	fmt.Fprintf(w, "element face %d\n", len(m.Triangles))
	fmt.Fprintf(w, "property list uchar int vertex_indices\nend_header\n")

	if isBinary {
		return writePLYBinary(w, m, hasNormals, hasColors)
	}
	return writePLYASCII(w, m, hasNormals, hasColors)
}

func writePLYASCII(w *bufio.Writer, m *Mesh, hasNormals, hasColors bool) error {
	ftoa := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	for i, v := range m.Vertices {
		fmt.Fprintf(w, "%s %s %s", ftoa(v.X), ftoa(v.Y), ftoa(v.Z))
		if hasNormals {
			n := m.VertexNormals[i]
			fmt.Fprintf(w, " %s %s %s", ftoa(n.X), ftoa(n.Y), ftoa(n.Z))
		}
		if hasColors {
			c := m.VertexColors[i]
			fmt.Fprintf(w, " %d %d %d", colorByte(c.X), colorByte(c.Y), colorByte(c.Z))
		}
		fmt.Fprintln(w)
	}
	for _, t := range m.Triangles {
		fmt.Fprintf(w, "3 %d %d %d\n", t[0], t[1], t[2])
	}
	return nil
}

func writePLYBinary(w *bufio.Writer, m *Mesh, hasNormals, hasColors bool) error {
	buf := make([]byte, 8)
	putF64 := func(v float64) {
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
		w.Write(buf)
	}
	putI32 := func(v int32) {
		binary.LittleEndian.PutUint32(buf[:4], uint32(v))
		w.Write(buf[:4])
	}

	for i, v := range m.Vertices {
		putF64(v.X)
		putF64(v.Y)
		putF64(v.Z)
		if hasNormals {
			n := m.VertexNormals[i]
			putF64(n.X)
			putF64(n.Y)
			putF64(n.Z)
		}
		if hasColors {
			c := m.VertexColors[i]
			w.Write([]byte{colorByte(c.X), colorByte(c.Y), colorByte(c.Z)})
		}
	}
	for _, t := range m.Triangles {
		w.WriteByte(3)
		putI32(t[0])
		putI32(t[1])
		putI32(t[2])
	}
	return nil
}

// colorByte maps a [0, 1] color channel back to the uchar encoding.
func colorByte(v float64) byte {
	c := int(math.Round(v * 255))
	if c < 0 {
		c = 0
	} else if c > 255 {
		c = 255
	}
	return byte(c)
}
