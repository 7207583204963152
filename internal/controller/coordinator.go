package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/tether/internal/command"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoneSelected    = errors.New("controller: no endpoints selected")
	ErrTooManySelected = errors.New("controller: too many endpoints selected")
)

type SkipReason string

const (
	SkipDead        SkipReason = "dead"
	SkipUnsupported SkipReason = "unsupported platform"
	SkipStartFailed SkipReason = "start failed"
	// SkipAbandoned marks serialized targets left unstarted by cancellation.
	SkipAbandoned   SkipReason = "abandoned"
)

// SkipNotice records a selected endpoint that never ran.
type SkipNotice struct {
	Endpoint string
	Reason   SkipReason
	Detail   string
}

// Execution is the outcome of one fan-out.
type Execution struct {
	Command string
	// Order lists endpoint names in start order.
	Order   []string
	Results map[string]*Result
	Skipped []SkipNotice
	Dead    []string
	// Removed lists endpoints dropped after a terminating command.
	Removed []string
}

// Coordinator fans a double command out to the selected endpoints.
type Coordinator struct {
	set    *EndpointSet
	runner Runner
	inline Runner
}

// NewCoordinator uses runner for ordinary commands and inline for
// InController commands. A nil runner defaults to GoroutineRunner.
func NewCoordinator(set *EndpointSet, runner Runner, inline Runner) *Coordinator {
	if runner == nil {
		runner = GoroutineRunner{}
	}
	if inline == nil {
		inline = InlineRunner{}
	}
	return &Coordinator{set: set, runner: runner, inline: inline}
}

func (c *Coordinator) Execute(ctx context.Context, desc command.Descriptor, params []command.Token) (*Execution, error) {
	selected := c.set.Selected()
	if len(selected) == 0 {
		return nil, ErrNoneSelected
	}
	if desc.MaxSelected > 0 && len(selected) > desc.MaxSelected {
		return nil, fmt.Errorf("%w: %s allows %d, %d selected", ErrTooManySelected, desc.Name, desc.MaxSelected, len(selected))
	}

	exec := &Execution{Command: desc.Name, Results: make(map[string]*Result, len(selected))}
	alive := make(map[*Endpoint]bool, len(selected))
	for _, e := range PingAll(ctx, selected) {
		alive[e] = true
	}

	var targets []*Endpoint
	for _, e := range selected {
		name := e.Name()
		switch {
		case !alive[e]:
			exec.Dead = append(exec.Dead, name)
			exec.Skipped = append(exec.Skipped, SkipNotice{Endpoint: name, Reason: SkipDead})
		case !desc.Platforms.Supports(e.Platform()):
			exec.Skipped = append(exec.Skipped, SkipNotice{
				Endpoint: name,
				Reason:   SkipUnsupported,
				Detail:   fmt.Sprintf("%s runs on %s, endpoint is %s", desc.Name, desc.Platforms, e.Platform()),
			})
		default:
			targets = append(targets, e)
		}
	}

	runner := c.runner
	if desc.InController {
		runner = c.inline
	}

	type started struct {
		e    *Endpoint
		unit Unit
		res  *Result
	}
	var units []started
	start := func(e *Endpoint) (started, bool) {
		name := e.Name()
		res := NewResult(name)
		unit, err := runner.Start(ctx, Job{Endpoint: e, Descriptor: desc, Params: params, Result: res})
		if err != nil {
			log.Warn().Str("endpoint", name).Str("command", desc.Name).Err(err).Msg("controller.Coordinator start failed")
			exec.Skipped = append(exec.Skipped, SkipNotice{Endpoint: name, Reason: SkipStartFailed, Detail: err.Error()})
			return started{}, false
		}
		exec.Order = append(exec.Order, name)
		exec.Results[name] = res
		return started{e: e, unit: unit, res: res}, true
	}

	if desc.Serialize {
		for i, e := range targets {
			if err := ctx.Err(); err != nil {
				for _, rest := range targets[i:] {
					exec.Skipped = append(exec.Skipped, SkipNotice{Endpoint: rest.Name(), Reason: SkipAbandoned, Detail: err.Error()})
				}
				break
			}
			s, ok := start(e)
			if !ok {
				continue
			}
			wait(ctx, s.unit, s.res)
			units = append(units, s)
		}
	} else {
		for _, e := range targets {
			if s, ok := start(e); ok {
				units = append(units, s)
			}
		}
		for _, s := range units {
			wait(ctx, s.unit, s.res)
		}
	}

	if desc.Terminates {
		for _, s := range units {
			if s.res.Status() == command.StatusSuccess {
				exec.Removed = append(exec.Removed, s.res.Endpoint)
				c.set.Remove(s.e)
			}
		}
	}
	return exec, nil
}

// wait blocks until the unit stops or ctx ends. On cancellation the unit
// is abandoned and its result marked timed out.
func wait(ctx context.Context, u Unit, res *Result) {
	select {
	case <-u.Done():
		res.Finish(command.Failed())
	case <-ctx.Done():
		u.Abandon()
		res.Abandon()
	}
}
