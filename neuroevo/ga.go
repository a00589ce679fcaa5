package neuroevo

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Params are the GA's tunables.
type Params struct {
	Hidden         int
	MutationRate   float64
	MutationSigma  float64
	ResetRate      float64
	Elitism        int
	TournamentSize int
	Seed           int64
}

// DefaultParams are reasonable settings for the aliens' five-input, four-output policy.
func DefaultParams() Params {
	return Params{
		Hidden:         8,
		MutationRate:   0.1,
		MutationSigma:  0.4,
		ResetRate:      0.01,
		Elitism:        2,
		TournamentSize: 3,
		Seed:           1,
	}
}

// GA is a generational genetic algorithm over fixed-topology networks: each
// epoch keeps the elites, and fills the rest of the population with mutated
// uniform crossovers of tournament-selected parents.
// GA is not safe for concurrent use.
type GA struct {
	params     Params
	topo       topology
	rng        *rand.Rand
	population []*Genome
	submitted  []bool
	generation int
	nextID     int
	best       *Genome
}

// NewGA seeds a random population of size.
func NewGA(params Params, size, inputs, outputs int) (*GA, error) {
	if size <= 0 {
		return nil, ErrPopulationSize
	}
	if inputs <= 0 || outputs <= 0 || params.Hidden < 0 {
		return nil, fmt.Errorf("invalid topology %d-%d-%d", inputs, params.Hidden, outputs)
	}
	if params.TournamentSize < 1 {
		params.TournamentSize = 1
	}
	ga := &GA{
		params: params,
		topo:   topology{inputs: inputs, hidden: params.Hidden, outputs: outputs},
		rng:    rand.New(rand.NewSource(params.Seed)),
	}
	ga.population = make([]*Genome, size)
	for i := range ga.population {
		ga.population[i] = ga.randomGenome()
	}
	ga.submitted = make([]bool, size)
	return ga, nil
}

func (ga *GA) Inputs() int     { return ga.topo.inputs }
func (ga *GA) Outputs() int    { return ga.topo.outputs }
func (ga *GA) Size() int       { return len(ga.population) }
func (ga *GA) Generation() int { return ga.generation }

func (ga *GA) newGenome(weights []float64) *Genome {
	ga.nextID++
	return &Genome{ID: ga.nextID, Generation: ga.generation, Weights: weights}
}

func (ga *GA) randomGenome() *Genome {
	weights := make([]float64, ga.topo.numWeights())
	for i := range weights {
		weights[i] = ga.rng.NormFloat64() * 0.5
	}
	return ga.newGenome(weights)
}

func (ga *GA) RunInference(index int, inputs []float64) ([]float64, error) {
	if index < 0 || index >= len(ga.population) {
		return nil, fmt.Errorf("%w: %d", ErrGenomeIndex, index)
	}
	if len(inputs) != ga.topo.inputs {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInputWidth, len(inputs), ga.topo.inputs)
	}
	return ga.topo.forward(ga.population[index].Weights, inputs), nil
}

func (ga *GA) SubmitFitness(index int, fitness float64) error {
	if index < 0 || index >= len(ga.population) {
		return fmt.Errorf("%w: %d", ErrGenomeIndex, index)
	}
	ga.population[index].Fitness = fitness
	ga.submitted[index] = true
	return nil
}

func (ga *GA) BestIndividual() (Genome, bool) {
	if ga.best == nil {
		return Genome{}, false
	}
	return *ga.best.Clone(), true
}

// Epoch records the generation's best and breeds the next generation.
func (ga *GA) Epoch() error {
	for i, ok := range ga.submitted {
		if !ok {
			return fmt.Errorf("%w: genome %d", ErrUnsubmittedFitness, i)
		}
	}

	ranked := append([]*Genome(nil), ga.population...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Fitness > ranked[j].Fitness })
	if ga.best == nil || ranked[0].Fitness > ga.best.Fitness {
		ga.best = ranked[0].Clone()
	}

	ga.generation++
	next := make([]*Genome, 0, len(ranked))
	for i := 0; i < ga.params.Elitism && i < len(ranked); i++ {
		elite := ranked[i].Clone()
		elite.Fitness = 0
		next = append(next, elite)
	}
	for len(next) < len(ranked) {
		mother, father := ga.tournament(ranked), ga.tournament(ranked)
		child := ga.newGenome(ga.crossover(mother.Weights, father.Weights))
		ga.mutate(child.Weights)
		next = append(next, child)
	}

	ga.population = next
	ga.submitted = make([]bool, len(next))
	return nil
}

// Reseed resizes the population for the next generation, keeping the elites
// first and topping up with mutated copies of the best genomes. Pending
// fitness submissions are discarded.
func (ga *GA) Reseed(size int) error {
	if size <= 0 {
		return ErrPopulationSize
	}
	switch {
	case size < len(ga.population):
		ga.population = ga.population[:size]
	case size > len(ga.population):
		parents := ga.population
		for len(ga.population) < size {
			parent := parents[ga.rng.Intn(len(parents))]
			if ga.best != nil && ga.rng.Float64() < 0.5 {
				parent = ga.best
			}
			child := ga.newGenome(append([]float64(nil), parent.Weights...))
			ga.mutate(child.Weights)
			ga.population = append(ga.population, child)
		}
	}
	for _, g := range ga.population {
		g.Fitness = 0
	}
	ga.submitted = make([]bool, size)
	return nil
}

func (ga *GA) tournament(ranked []*Genome) *Genome {
	var winner *Genome
	for i := 0; i < ga.params.TournamentSize; i++ {
		candidate := ranked[ga.rng.Intn(len(ranked))]
		if winner == nil || candidate.Fitness > winner.Fitness {
			winner = candidate
		}
	}
	return winner
}

func (ga *GA) crossover(a, b []float64) []float64 {
	child := make([]float64, len(a))
	for i := range child {
		if ga.rng.Float64() < 0.5 {
			child[i] = a[i]
		} else {
			child[i] = b[i]
		}
	}
	return child
}

// mutate perturbs weights in place with gaussian noise, occasionally
// resetting a weight outright.
func (ga *GA) mutate(weights []float64) {
	for i := range weights {
		if ga.rng.Float64() < ga.params.ResetRate {
			weights[i] = ga.rng.NormFloat64() * 0.5
		} else if ga.rng.Float64() < ga.params.MutationRate {
			weights[i] += ga.rng.NormFloat64() * ga.params.MutationSigma
		}
		if math.IsNaN(weights[i]) || math.IsInf(weights[i], 0) {
			weights[i] = 0
		}
	}
}
