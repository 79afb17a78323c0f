package trainer

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Dataset holds synthetic backbone features: one Gaussian cluster per class
// in embedDim space. Classes are generated up front so every session sees
// the same data for a given seed.
type Dataset struct {
	embedDim int
	train    []split
	test     []split
}

// split is the samples of one class, stored row-major.
type split struct {
	features []float32
	count    int
}

// NewSynthetic draws class means from N(0, 1) and samples around them with
// N(0, noise²) per feature.
func NewSynthetic(embedDim, numClasses, trainPerClass, testPerClass int, noise float64, seed uint64) *Dataset {
	if embedDim <= 0 || numClasses <= 0 || trainPerClass <= 0 || testPerClass <= 0 {
		panic(fmt.Sprintf("NewSynthetic: invalid sizes dim=%d classes=%d train=%d test=%d",
			embedDim, numClasses, trainPerClass, testPerClass))
	}
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	center := distuv.Normal{Mu: 0, Sigma: 1, Src: src}

	d := &Dataset{
		embedDim: embedDim,
		train:    make([]split, numClasses),
		test:     make([]split, numClasses),
	}
	for c := 0; c < numClasses; c++ {
		mean := make([]float64, embedDim)
		for i := range mean {
			mean[i] = center.Rand()
		}
		d.train[c] = sampleAround(mean, trainPerClass, noise, src)
		d.test[c] = sampleAround(mean, testPerClass, noise, src)
	}
	return d
}

func sampleAround(mean []float64, count int, noise float64, src rand.Source) split {
	features := make([]float32, 0, count*len(mean))
	for n := 0; n < count; n++ {
		for _, mu := range mean {
			v := mu
			if noise > 0 {
				v = distuv.Normal{Mu: mu, Sigma: noise, Src: src}.Rand()
			}
			features = append(features, float32(v))
		}
	}
	return split{features: features, count: count}
}

// EmbedDim returns the feature width.
func (d *Dataset) EmbedDim() int {
	return d.embedDim
}

// NumClasses returns the number of generated classes.
func (d *Dataset) NumClasses() int {
	return len(d.train)
}

// Train returns the training samples of classes [lo, hi).
func (d *Dataset) Train(lo, hi int) (features []float32, labels []int32) {
	return d.gather(d.train, lo, hi)
}

// Test returns the test samples of classes [lo, hi).
func (d *Dataset) Test(lo, hi int) (features []float32, labels []int32) {
	return d.gather(d.test, lo, hi)
}

func (d *Dataset) gather(splits []split, lo, hi int) ([]float32, []int32) {
	if lo < 0 || hi > len(splits) || lo >= hi {
		panic(fmt.Sprintf("Dataset: invalid class range [%d, %d) of %d", lo, hi, len(splits)))
	}
	var (
		features []float32
		labels   []int32
	)
	for c := lo; c < hi; c++ {
		features = append(features, splits[c].features...)
		for n := 0; n < splits[c].count; n++ {
			labels = append(labels, int32(c)) //nolint:gosec // G115: class counts are small
		}
	}
	return features, labels
}
