// Package pweld implements parallel vertex clustering ("welding") for 3D
// triangle meshes.
//
// Vertex clustering reduces a mesh by replacing every group of vertices
// within a radius eps of each other with a single centroid vertex and
// remapping triangle indices onto the reduced vertex set. The parallel
// algorithm (P-Weld) coordinates its workers through a spatial-proximity
// dependency graph using only atomic compare-and-swap and fetch-and-add;
// the resulting parent assignment is deterministic for a given input and
// eps, independent of worker count or interleaving.
//
// Basic usage:
//
//	mesh, err := pweld.ReadPLY("bunny.ply")
//	tree := pweld.NewKDTree(mesh.Vertices, 0)
//	mesh.MergeVerticesForward(tree, 0.001, runtime.NumCPU())
//	err = pweld.WritePLY("bunny-reduced.ply", mesh, true)
//
// Three variants are provided:
//
//   - [Mesh.MergeCloseVertices]: the sequential reference algorithm,
//     useful as a correctness baseline.
//   - [Mesh.MergeVerticesForward]: the synchronous parallel algorithm.
//   - [Mesh.MergeVerticesForwardAsync]: a variant that overlaps centroid
//     discovery with the reduction phase using per-worker counters.
//
// [FindEpsilon] inverts the clustering: given a target reduction rate it
// searches for an eps value that achieves it.
//
// The sequential baseline and the parallel variants may select different
// centroids when a vertex is within eps of several candidates; both
// clusterings are valid but cluster identities are not comparable across
// variants.
package pweld
