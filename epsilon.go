package pweld

import "fmt"

const (
	// epsilonStep is the grid width of the linear search phase.
	epsilonStep = 0.01

	// maxEpsilonSearched bounds the linear phase against unreachable
	// target rates.
	maxEpsilonSearched = 10.0

	// reductionRateMinError is the absolute tolerance for comparing
	// reduction rates.
	reductionRateMinError = 0.00001

	// epsilonMinRange is the narrowest bracket the binary phase refines
	// before settling on its midpoint.
	epsilonMinRange = 0.0000001
)

// epsilonBracket holds one binary-search interval: the eps boundaries
// and the reduction rates observed at each.
type epsilonBracket struct {
	epsMin, epsMax   float64
	rateMin, rateMax float64
}

// reductionRate clusters a throwaway copy of the mesh at eps and returns
// the fraction of vertices removed. tree is the prebuilt index over the
// original vertices and is shared across probes.
func reductionRate(m *Mesh, tree *KDTree, eps float64, workers int) float64 {
	work := m.Clone()
	before := len(work.Vertices)
	work.MergeVerticesForward(tree, eps, workers)
	return float64(before-len(work.Vertices)) / float64(before)
}

// FindEpsilon searches for an eps whose clustering removes approximately
// targetRate of the mesh's vertices (targetRate in (0,1)). A linear walk
// in epsilonStep increments brackets the target first; binary search
// then refines the bracket until either the rate at its midpoint matches
// the target within reductionRateMinError, the bracket's boundary rates
// collapse within the same tolerance, or the bracket narrows below
// epsilonMinRange.
//
// Probes are evaluated on copies; m itself is never modified. An error
// is returned when no eps below maxEpsilonSearched reaches the target,
// or when the mesh is empty.
func FindEpsilon(m *Mesh, tree *KDTree, targetRate float64, workers int) (float64, error) {
	if len(m.Vertices) == 0 {
		return 0, fmt.Errorf("%w: cannot search epsilon on an empty mesh", ErrOutOfRange)
	}
	if targetRate <= 0 || targetRate >= 1 {
		return 0, fmt.Errorf("%w: target reduction rate %v outside (0, 1)", ErrOutOfRange, targetRate)
	}

	bracket, err := findEpsilonLinear(m, tree, targetRate, workers)
	if err != nil {
		return 0, err
	}
	return findEpsilonBinary(m, tree, targetRate, bracket, workers), nil
}

// findEpsilonLinear walks eps up from epsilonStep until the reduction
// rate first reaches the target, returning the grid interval that
// brackets it.
func findEpsilonLinear(m *Mesh, tree *KDTree, targetRate float64, workers int) (epsilonBracket, error) {
	prevRate := 0.0
	for eps := epsilonStep; eps < maxEpsilonSearched; eps += epsilonStep {
		rate := reductionRate(m, tree, eps, workers)
		if rate >= targetRate {
			return epsilonBracket{
				epsMin:  eps - epsilonStep,
				epsMax:  eps,
				rateMin: prevRate,
				rateMax: rate,
			}, nil
		}
		prevRate = rate
	}
	return epsilonBracket{}, fmt.Errorf(
		"%w: no epsilon below %v reaches reduction rate %v",
		ErrOutOfRange, maxEpsilonSearched, targetRate)
}

// findEpsilonBinary recursively halves the bracket around the target
// rate. Base cases, in order: bracket narrower than epsilonMinRange,
// boundary rates within reductionRateMinError of each other, or the
// midpoint rate within reductionRateMinError of the target.
func findEpsilonBinary(m *Mesh, tree *KDTree, targetRate float64, b epsilonBracket, workers int) float64 {
	mid := b.epsMin + (b.epsMax-b.epsMin)/2

	if b.epsMax-b.epsMin <= epsilonMinRange {
		return mid
	}
	if b.rateMax-b.rateMin < reductionRateMinError {
		return mid
	}

	midRate := reductionRate(m, tree, mid, workers)

	if midRate <= targetRate {
		if targetRate-midRate < reductionRateMinError {
			return mid
		}
		return findEpsilonBinary(m, tree, targetRate, epsilonBracket{
			epsMin:  mid,
			epsMax:  b.epsMax,
			rateMin: midRate,
			rateMax: b.rateMax,
		}, workers)
	}

	if midRate-targetRate < reductionRateMinError {
		return mid
	}
	return findEpsilonBinary(m, tree, targetRate, epsilonBracket{
		epsMin:  b.epsMin,
		epsMax:  mid,
		rateMin: b.rateMin,
		rateMax: midRate,
	}, workers)
}
