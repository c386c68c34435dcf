package rcm_test

import (
	"errors"
	"testing"

	"rcm-go/internal/rcm"
)

type pipeState struct {
	ran []string
}

type recordStep struct {
	name    string
	enabled bool
	action  rcm.StepAction
}

func (s recordStep) Name() string                  { return s.name }
func (s recordStep) ShouldExecute(*pipeState) bool { return s.enabled }
func (s recordStep) Execute(c *pipeState) rcm.StepAction {
	c.ran = append(c.ran, s.name)
	return s.action
}

func TestPipeline_Run(t *testing.T) {
	t.Run("runs steps in order", func(t *testing.T) {
		p := rcm.NewPipeline[pipeState]("test", rcm.NewNopLogger(),
			recordStep{name: "a", enabled: true, action: rcm.Continue()},
			recordStep{name: "b", enabled: true, action: rcm.Continue()},
			recordStep{name: "c", enabled: true, action: rcm.Continue()},
		)

		c := &pipeState{}
		if err := p.Run(c); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if got := len(c.ran); got != 3 {
			t.Fatalf("ran %d steps, want 3", got)
		}
		for i, want := range []string{"a", "b", "c"} {
			if c.ran[i] != want {
				t.Errorf("step %d = %s, want %s", i, c.ran[i], want)
			}
		}
	})

	t.Run("skips steps whose guard is false", func(t *testing.T) {
		p := rcm.NewPipeline[pipeState]("test", rcm.NewNopLogger(),
			recordStep{name: "a", enabled: true, action: rcm.Continue()},
			recordStep{name: "b", enabled: false, action: rcm.Continue()},
			recordStep{name: "c", enabled: true, action: rcm.Continue()},
		)

		c := &pipeState{}
		if err := p.Run(c); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if len(c.ran) != 2 || c.ran[0] != "a" || c.ran[1] != "c" {
			t.Errorf("ran = %v, want [a c]", c.ran)
		}
	})

	t.Run("abort short-circuits with the step error", func(t *testing.T) {
		boom := errors.New("boom")
		p := rcm.NewPipeline[pipeState]("test", rcm.NewNopLogger(),
			recordStep{name: "a", enabled: true, action: rcm.Continue()},
			recordStep{name: "b", enabled: true, action: rcm.Abort(boom)},
			recordStep{name: "c", enabled: true, action: rcm.Continue()},
		)

		c := &pipeState{}
		err := p.Run(c)
		if !errors.Is(err, boom) {
			t.Fatalf("Run() error = %v, want %v", err, boom)
		}
		if len(c.ran) != 2 {
			t.Errorf("ran = %v, want [a b]", c.ran)
		}
	})

	t.Run("skip action is not an error", func(t *testing.T) {
		p := rcm.NewPipeline[pipeState]("test", rcm.NewNopLogger(),
			recordStep{name: "a", enabled: true, action: rcm.Skip()},
			recordStep{name: "b", enabled: true, action: rcm.Continue()},
		)

		c := &pipeState{}
		if err := p.Run(c); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if len(c.ran) != 2 {
			t.Errorf("ran = %v, want both steps", c.ran)
		}
	})
}
