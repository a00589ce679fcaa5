// neuroevo is the boundary to the evolutionary engine that trains the agents'
// decision policies. The population controller only ever talks to an Algorithm;
// GA is the engine built into this repository, and any other engine can be
// plugged in through a Factory.
package neuroevo

import (
	"errors"
	"fmt"
)

// Genome is one individual's decision policy as the engine represents it.
type Genome struct {
	// ID is unique across the engine's lifetime, so the best individual can be
	// told apart from whatever currently occupies its population slot.
	ID         int
	Generation int
	Weights    []float64
	Fitness    float64
}

// Clone deep-copies the genome.
func (g *Genome) Clone() *Genome {
	c := *g
	c.Weights = append([]float64(nil), g.Weights...)
	return &c
}

// Algorithm is the contract the population controller consumes. Population
// slots are indexed 0..Size()-1 and map one-to-one onto the generation's agents.
//
// Implementations are not required to be reentrant: the controller serializes
// every call it makes.
type Algorithm interface {
	Inputs() int
	Outputs() int
	Size() int
	// RunInference evaluates genome index on inputs. It has no side effects.
	RunInference(index int, inputs []float64) ([]float64, error)
	// SubmitFitness records the genome's fitness for this generation. Later
	// submissions for the same index overwrite earlier ones.
	SubmitFitness(index int, fitness float64) error
	// Epoch evolves the population in place. Every index must have had a
	// fitness submitted since the previous epoch.
	Epoch() error
	// BestIndividual is the best genome seen across all generations.
	BestIndividual() (Genome, bool)
}

// Reseeder is implemented by algorithms that can carry their evolved population
// into a generation of a different size instead of being rebuilt.
type Reseeder interface {
	Reseed(size int) error
}

// Factory builds an algorithm for a population of size with the given widths.
type Factory func(size, inputs, outputs int) (Algorithm, error)

var (
	ErrUnsubmittedFitness error = errors.New("epoch called before every genome had a fitness submitted")
	ErrGenomeIndex        error = errors.New("genome index out of range")
	ErrInputWidth         error = errors.New("input vector width does not match the network")
	ErrPopulationSize     error = errors.New("population size must be positive")
	ErrUnknownAlgorithm   error = errors.New("unknown learning algorithm")
)

// NewFactory returns the factory for the named algorithm.
func NewFactory(name string, params Params) (Factory, error) {
	switch name {
	case "", "ga":
		return func(size, inputs, outputs int) (Algorithm, error) {
			return NewGA(params, size, inputs, outputs)
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
}
