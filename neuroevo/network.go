package neuroevo

import "math"

// topology is a fixed feed-forward shape: inputs -> hidden (tanh) -> outputs (sigmoid).
// With zero hidden units the inputs feed the outputs directly. Each neuron's
// weights are followed by its bias in the flat genome.
type topology struct {
	inputs, hidden, outputs int
}

func (t topology) numWeights() int {
	if t.hidden == 0 {
		return t.outputs * (t.inputs + 1)
	}
	return t.hidden*(t.inputs+1) + t.outputs*(t.hidden+1)
}

// forward evaluates weights on x.
func (t topology) forward(weights []float64, x []float64) []float64 {
	layerIn := x
	offset := 0
	if t.hidden > 0 {
		layerIn, offset = layer(weights, offset, x, t.hidden, math.Tanh)
	}
	out, _ := layer(weights, offset, layerIn, t.outputs, sigmoid)
	return out
}

// layer computes n neurons over in, reading weights from offset, and returns
// the activations and the offset of the next layer's weights.
func layer(
	weights []float64,
	offset int,
	in []float64,
	n int,
	activation func(float64) float64,
) ([]float64, int) {
	out := make([]float64, n)
	for i := range out {
		sum := 0.0
		for _, v := range in {
			sum += weights[offset] * v
			offset++
		}
		sum += weights[offset]
		offset++
		out[i] = activation(sum)
	}
	return out, offset
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
