// Package training defines the contract between the model core and the
// surrounding trainer: a per-batch callback and the running-average metric
// map it receives. The training loop itself lives outside this module.
package training

// Callback is invoked by the trainer once per batch. The measures map holds
// running-average losses and metrics; trainer is a reference to the invoking
// trainer so callbacks may read its state.
type Callback interface {
	OnBatch(epoch, step int, measures map[string]float64, trainer any)

	// Close handles cleanup work if necessary. It is called once at the end
	// of the last epoch.
	Close()
}

// CallbackFunc adapts a plain function to the Callback interface with a
// no-op Close.
type CallbackFunc func(epoch, step int, measures map[string]float64, trainer any)

func (f CallbackFunc) OnBatch(epoch, step int, measures map[string]float64, trainer any) {
	f(epoch, step, measures, trainer)
}

func (f CallbackFunc) Close() {}

// Callbacks fans a batch event out to a list of callbacks in order.
type Callbacks []Callback

func (cs Callbacks) OnBatch(epoch, step int, measures map[string]float64, trainer any) {
	for _, c := range cs {
		c.OnBatch(epoch, step, measures, trainer)
	}
}

func (cs Callbacks) Close() {
	for _, c := range cs {
		c.Close()
	}
}

// RunningAverages accumulates per-metric running means across batches, in
// the form callbacks receive them.
type RunningAverages struct {
	sums   map[string]float64
	counts map[string]int
}

func NewRunningAverages() *RunningAverages {
	return &RunningAverages{
		sums:   make(map[string]float64),
		counts: make(map[string]int),
	}
}

// Update folds one observation of a named metric into its running mean.
func (r *RunningAverages) Update(name string, value float64) {
	r.sums[name] += value
	r.counts[name]++
}

// Snapshot returns the current running averages as the map passed to
// callbacks.
func (r *RunningAverages) Snapshot() map[string]float64 {
	out := make(map[string]float64, len(r.sums))
	for name, sum := range r.sums {
		out[name] = sum / float64(r.counts[name])
	}
	return out
}

// Reset clears all accumulated metrics, typically at epoch boundaries.
func (r *RunningAverages) Reset() {
	r.sums = make(map[string]float64)
	r.counts = make(map[string]int)
}
