package population

import (
	"sync"
	"sync/atomic"

	"smartaliens/agent"
	"smartaliens/models"
	"smartaliens/neuroevo"
)

type fakeBody struct {
	mu       sync.Mutex
	pos      models.Vec3
	impulses int
	stopped  bool
	detached int
}

func (b *fakeBody) Position() models.Vec3 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pos
}

func (b *fakeBody) ApplyImpulse(models.Vec3) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.impulses++
}

func (b *fakeBody) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
}

func (b *fakeBody) Detach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.detached++
}

type fakeSpawner struct {
	mu     sync.Mutex
	bodies []*fakeBody
}

func (s *fakeSpawner) Spawn(_ int, _ models.AgentID, at models.Vec3) agent.Body {
	s.mu.Lock()
	defer s.mu.Unlock()
	body := &fakeBody{pos: at}
	s.bodies = append(s.bodies, body)
	return body
}

func (s *fakeSpawner) all() []*fakeBody {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeBody(nil), s.bodies...)
}

// recordingAlgorithm checks the call discipline the controller promises the
// learning algorithm, and records enough to assert on it.
type recordingAlgorithm struct {
	mu         sync.Mutex
	inputs     int
	size       int
	submitted  map[int]float64
	inferences int
	epochs     int
	// sealedAtEpoch holds, per epoch, how many genomes had a fitness submitted.
	sealedAtEpoch []int
	best          *neuroevo.Genome

	inFlight   int32
	overlapped atomic.Bool
}

func newRecordingAlgorithm(size, inputs int) *recordingAlgorithm {
	return &recordingAlgorithm{
		inputs:    inputs,
		size:      size,
		submitted: map[int]float64{},
	}
}

func (r *recordingAlgorithm) enter() func() {
	if atomic.AddInt32(&r.inFlight, 1) > 1 {
		r.overlapped.Store(true)
	}
	return func() { atomic.AddInt32(&r.inFlight, -1) }
}

func (r *recordingAlgorithm) Inputs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inputs
}

func (r *recordingAlgorithm) setInputs(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = n
}

func (r *recordingAlgorithm) Outputs() int { return agent.NumOutputs }

func (r *recordingAlgorithm) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

func (r *recordingAlgorithm) RunInference(index int, inputs []float64) ([]float64, error) {
	defer r.enter()()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inferences++
	return []float64{0.1, 0.9, 0.1, 0.1}, nil
}

func (r *recordingAlgorithm) SubmitFitness(index int, fitness float64) error {
	defer r.enter()()
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= r.size {
		return neuroevo.ErrGenomeIndex
	}
	r.submitted[index] = fitness
	return nil
}

func (r *recordingAlgorithm) Epoch() error {
	defer r.enter()()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealedAtEpoch = append(r.sealedAtEpoch, len(r.submitted))
	if len(r.submitted) != r.size {
		return neuroevo.ErrUnsubmittedFitness
	}
	for i, f := range r.submitted {
		if r.best == nil || f > r.best.Fitness {
			r.best = &neuroevo.Genome{ID: i + 1, Generation: r.epochs, Fitness: f}
		}
	}
	r.epochs++
	r.submitted = map[int]float64{}
	return nil
}

func (r *recordingAlgorithm) BestIndividual() (neuroevo.Genome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.best == nil {
		return neuroevo.Genome{}, false
	}
	return *r.best, true
}

func (r *recordingAlgorithm) counts() (inferences, epochs int, sealed []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inferences, r.epochs, append([]int(nil), r.sealedAtEpoch...)
}

type reseedingAlgorithm struct {
	*recordingAlgorithm
	reseeds int
}

func (r *reseedingAlgorithm) Reseed(size int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reseeds++
	r.size = size
	r.submitted = map[int]float64{}
	return nil
}

// recordingFactory hands out recordingAlgorithms and remembers them.
type recordingFactory struct {
	mu     sync.Mutex
	inputs int
	reseed bool
	built  []*recordingAlgorithm
}

func (f *recordingFactory) build(size, inputs, outputs int) (neuroevo.Algorithm, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	width := inputs
	if f.inputs != 0 {
		width = f.inputs
	}
	alg := newRecordingAlgorithm(size, width)
	f.built = append(f.built, alg)
	if f.reseed {
		return &reseedingAlgorithm{recordingAlgorithm: alg}, nil
	}
	return alg, nil
}

func (f *recordingFactory) last() *recordingAlgorithm {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built[len(f.built)-1]
}

func (f *recordingFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.built)
}
