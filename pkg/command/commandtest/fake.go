// Package commandtest provides a scriptable command.Runner for tests.
package commandtest

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/paulschiretz/pgl-snapshot/pkg/command"
)

// Response is the scripted outcome of one Run call.
type Response struct {
	ExitCode int
	Err      error
	// Output is written to the command's Stdout, if set.
	Output string
	// Do runs before the response is returned, e.g. to touch the filesystem
	// the way the real command would.
	Do func(c command.Cmd)
}

// Runner records every invocation and replays scripted responses. Commands
// without a script succeed with exit code 0.
type Runner struct {
	mu        sync.Mutex
	responses map[string][]Response
	calls     []command.Cmd
	started   []*Process
	StartErr  error
}

var _ command.Runner = (*Runner)(nil)

// NewRunner returns an empty fake.
func NewRunner() *Runner {
	return &Runner{responses: make(map[string][]Response)}
}

// On queues responses for the named program. Responses are consumed in
// order; the last one repeats.
func (r *Runner) On(name string, responses ...Response) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[name] = append(r.responses[name], responses...)
	return r
}

// Run implements command.Runner.
func (r *Runner) Run(ctx context.Context, c command.Cmd) (int, error) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	var resp Response
	if queue := r.responses[c.Name]; len(queue) > 0 {
		resp = queue[0]
		if len(queue) > 1 {
			r.responses[c.Name] = queue[1:]
		}
	}
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return -1, err
	}
	if resp.Do != nil {
		resp.Do(c)
	}
	if resp.Output != "" && c.Stdout != nil {
		_, _ = io.WriteString(c.Stdout, resp.Output)
	}
	return resp.ExitCode, resp.Err
}

// Start implements command.Runner.
func (r *Runner) Start(ctx context.Context, c command.Cmd) (command.Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	if r.StartErr != nil {
		return nil, r.StartErr
	}
	p := &Process{pid: 1000 + len(r.started)}
	r.started = append(r.started, p)
	return p, nil
}

// Calls returns a copy of all recorded invocations.
func (r *Runner) Calls() []command.Cmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]command.Cmd(nil), r.calls...)
}

// CallsTo returns the recorded invocations of the named program.
func (r *Runner) CallsTo(name string) []command.Cmd {
	var out []command.Cmd
	for _, c := range r.Calls() {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Started returns the processes handed out by Start.
func (r *Runner) Started() []*Process {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Process(nil), r.started...)
}

// Process is a fake long-lived child.
type Process struct {
	mu    sync.Mutex
	pid   int
	stops int
}

func (p *Process) Pid() int { return p.pid }

func (p *Process) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return nil
}

// Stops returns how often Stop was called.
func (p *Process) Stops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

func (p *Process) String() string {
	return fmt.Sprintf("fake process %d", p.pid)
}
