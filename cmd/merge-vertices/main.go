package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/meshkit/pweld"
)

var variantNames = []string{"baseline", "forward", "forward-async"}

func usage() {
	fmt.Println("usage: merge-vertices <eps> <variant> <input> [<threads>=1] [<output>]")
	fmt.Println("\t-eps: clustering radius (e.g., 0.001)")
	fmt.Println("\t-variant: 0: baseline, 1: forward, 2: forward-async")
	fmt.Println("\t-input: mesh path (.ply, .pweld, or .pweld.zst)")
	fmt.Println("\t-threads: worker count for the parallel variants")
	fmt.Println("\t-output: where to write the reduced mesh; an existing")
	fmt.Println("\t         directory gets a generated filename")
	fmt.Println("\t-e.g., merge-vertices 0.001 1 data/manuscript.ply 4 out.ply")
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("merge-vertices: ")

	if len(os.Args) == 1 {
		usage()
		return
	}
	if len(os.Args) < 4 {
		usage()
		os.Exit(2)
	}

	eps, err := strconv.ParseFloat(os.Args[1], 64)
	if err != nil || eps < 0 {
		log.Fatalf("out of range: eps %q must be a non-negative number", os.Args[1])
	}
	variant, err := strconv.Atoi(os.Args[2])
	if err != nil || variant < 0 || variant >= len(variantNames) {
		log.Fatalf("out of range: variant %q must be 0, 1, or 2", os.Args[2])
	}
	input := os.Args[3]
	threads := 1
	if len(os.Args) >= 5 {
		if threads, err = strconv.Atoi(os.Args[4]); err != nil || threads < 1 {
			log.Fatalf("out of range: threads %q must be a positive integer", os.Args[4])
		}
	}
	output := ""
	if len(os.Args) >= 6 {
		output = os.Args[5]
	}

	fmt.Println("Configuration:")
	fmt.Printf("\t-eps: %g\n", eps)
	fmt.Printf("\t-variant: %s\n", variantNames[variant])
	fmt.Printf("\t-input: %s\n", input)
	fmt.Printf("\t-threads: %d\n", threads)

	mesh, err := readMesh(input)
	if err != nil {
		log.Fatalf("input: %v", err)
	}

	fmt.Printf("number of original vertices: %d\n", len(mesh.Vertices))
	fmt.Printf("number of original triangles: %d\n", len(mesh.Triangles))

	tree := pweld.NewKDTree(mesh.Vertices, 0)
	start := time.Now()
	switch variant {
	case 0:
		mesh.MergeCloseVertices(tree, eps, threads)
	case 1:
		mesh.MergeVerticesForward(tree, eps, threads)
	case 2:
		mesh.MergeVerticesForwardAsync(tree, eps, threads)
	}
	fmt.Printf("clustering finished in %v\n", time.Since(start))
	fmt.Printf("number of vertices after clustering: %d\n", len(mesh.Vertices))

	if output == "" {
		return
	}
	path := resolveOutputPath(output, len(mesh.Vertices))
	fmt.Printf("writing the reduced mesh to: %s\n", path)
	if err := writeMesh(path, mesh); err != nil {
		log.Fatalf("output: %v", err)
	}
}

// readMesh dispatches on the path suffix: PLY by default, pweld
// snapshots when asked for.
func readMesh(path string) (*pweld.Mesh, error) {
	switch {
	case strings.HasSuffix(path, ".pweld.zst"):
		return pweld.LoadCompressedMesh(path)
	case strings.HasSuffix(path, ".pweld"):
		return pweld.LoadMappedMesh(path)
	default:
		return pweld.ReadPLY(path)
	}
}

func writeMesh(path string, m *pweld.Mesh) error {
	switch {
	case strings.HasSuffix(path, ".pweld.zst"):
		return m.SaveCompressed(path)
	case strings.HasSuffix(path, ".pweld"):
		return m.SaveMapped(path)
	default:
		return pweld.WritePLY(path, m, true)
	}
}

// resolveOutputPath generates a filename when output names an existing
// directory, tagging it with the vertex count, a timestamp, and a short
// unique id.
func resolveOutputPath(output string, numVertices int) string {
	info, err := os.Stat(output)
	if err != nil || !info.IsDir() {
		return output
	}
	name := fmt.Sprintf("weld-%dp-%s-%s.ply",
		numVertices,
		time.Now().Format("20060102-150405"),
		uuid.New().String()[:8])
	return filepath.Join(output, name)
}
