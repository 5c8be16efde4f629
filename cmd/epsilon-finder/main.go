package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/meshkit/pweld"
)

func usage() {
	fmt.Println("usage: epsilon-finder <input.ply> <percent> <threads>")
	fmt.Println("\t-input: mesh path (must be .ply)")
	fmt.Println("\t-percent: percentage of vertices to merge (e.g., 10)")
	fmt.Println("\t-threads: worker count (e.g., 4)")
	fmt.Println("\t-e.g., epsilon-finder data/manuscript.ply 10 4")
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("epsilon-finder: ")

	if len(os.Args) < 4 {
		usage()
		if len(os.Args) == 1 {
			return
		}
		os.Exit(2)
	}

	input := os.Args[1]
	percent, err := strconv.ParseFloat(os.Args[2], 64)
	if err != nil {
		log.Fatalf("out of range: percent %q must be a number", os.Args[2])
	}
	threads, err := strconv.Atoi(os.Args[3])
	if err != nil || threads < 1 {
		log.Fatalf("out of range: threads %q must be a positive integer", os.Args[3])
	}

	fmt.Println("Configuration:")
	fmt.Printf("\t-input: %s\n", input)
	fmt.Printf("\t-reduction rate: %g%%\n", percent)
	fmt.Printf("\t-threads: %d\n", threads)

	mesh, err := pweld.ReadPLY(input)
	if err != nil {
		log.Fatalf("input: %v", err)
	}
	tree := pweld.NewKDTree(mesh.Vertices, 0)

	eps, err := pweld.FindEpsilon(mesh, tree, percent/100.0, threads)
	if err != nil {
		log.Fatalf("search: %v", err)
	}
	fmt.Printf("Epsilon: %g\n", eps)
}
