package rcm

// StepAction is the three-valued outcome of a pipeline step.
// Construct values with Continue, Skip, or Abort.
type StepAction struct {
	abort bool
	skip  bool
	err   error
}

// Continue tells the pipeline to proceed to the next step.
func Continue() StepAction { return StepAction{} }

// Skip marks the step as not applicable. Semantically identical to a false
// ShouldExecute; the pipeline proceeds.
func Skip() StepAction { return StepAction{skip: true} }

// Abort halts the whole pipeline with the given error.
func Abort(err error) StepAction { return StepAction{abort: true, err: err} }

// Step is one unit of work in a pipeline over a context of type C. Steps
// observe and mutate the context only; durable side effects go through the
// collaborators the context holds.
type Step[C any] interface {
	Name() string
	ShouldExecute(c *C) bool
	Execute(c *C) StepAction
}

// Pipeline is a generic sequencer. It owns no state beyond the step list;
// all mutation lives in the typed context.
type Pipeline[C any] struct {
	name   string
	steps  []Step[C]
	logger Logger
}

// NewPipeline creates a pipeline that runs steps in registration order.
func NewPipeline[C any](name string, logger Logger, steps ...Step[C]) *Pipeline[C] {
	return &Pipeline[C]{name: name, steps: steps, logger: logger}
}

// Run executes the steps in order, calling ShouldExecute before Execute and
// short-circuiting on the first Abort.
func (p *Pipeline[C]) Run(c *C) error {
	for _, step := range p.steps {
		if !step.ShouldExecute(c) {
			p.logger.Debug("step skipped", "pipeline", p.name, "step", step.Name())
			continue
		}

		p.logger.Debug("step running", "pipeline", p.name, "step", step.Name())
		action := step.Execute(c)
		switch {
		case action.abort:
			p.logger.Error("step aborted", "pipeline", p.name, "step", step.Name(), "error", action.err)
			return action.err
		case action.skip:
			p.logger.Debug("step skipped", "pipeline", p.name, "step", step.Name())
		}
	}
	return nil
}
