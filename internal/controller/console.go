package controller

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/danmuck/tether/internal/command"
	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

var ErrLocalCollision = errors.New("controller: local command collides with registry")

const prompt = "> "

var (
	statusOK      = color.New(color.FgHiGreen).SprintFunc()
	statusPartial = color.New(color.FgYellow).SprintFunc()
	statusBad     = color.New(color.FgRed).SprintFunc()
)

// Console is the operator's line-oriented command loop.
type Console struct {
	set    *EndpointSet
	reg    *command.Registry
	coord  *Coordinator
	locals []localCommand

	in          *bufio.Reader
	out         io.Writer
	interactive bool

	ctx     context.Context
	stopped bool
}

// NewConsole wires a console to in/out. runner executes ordinary double
// commands; InController commands always run inline on the console.
func NewConsole(set *EndpointSet, reg *command.Registry, runner Runner, in io.Reader, out io.Writer) (*Console, error) {
	locals := localTable()
	for _, l := range locals {
		if _, ok := reg.Lookup(l.name); ok {
			return nil, fmt.Errorf("%w: %s", ErrLocalCollision, l.name)
		}
	}
	br := bufio.NewReader(in)
	interactive := false
	if f, ok := in.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}
	return &Console{
		set:         set,
		reg:         reg,
		coord:       NewCoordinator(set, runner, InlineRunner{Out: out, In: br}),
		locals:      locals,
		in:          br,
		out:         out,
		interactive: interactive,
		ctx:         context.Background(),
	}, nil
}

// Run reads and executes lines until exit, EOF or ctx cancellation.
func (c *Console) Run(ctx context.Context) error {
	c.ctx = ctx
	for !c.stopped {
		if ctx.Err() != nil {
			return nil
		}
		if c.interactive {
			c.printf(prompt)
		}
		line, err := c.readLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return err
			}
			if line == "" {
				c.printf("\n")
				c.Execute("exit")
				continue
			}
		}
		c.Execute(line)
	}
	return nil
}

// Stopped reports whether exit ran.
func (c *Console) Stopped() bool { return c.stopped }

// Execute runs one operator line.
func (c *Console) Execute(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	inv := command.ParseLine(line)
	name := inv.Name()
	if name == "" && inv.Parse == command.CantParse {
		name = strings.Fields(line)[0]
	}
	if name == "" {
		c.printf("Invalid command name.\n")
		return
	}
	if l, ok := c.findLocal(name); ok {
		if v := inv.Validate(l.args); v != command.Valid {
			c.printf("%s\n", validityMessage(v, l.minArgs(), len(l.args)))
			return
		}
		status := l.run(c, inv.Params())
		log.Debug().Str("command", name).Int("status", int(status)).Msg("controller.Console local command")
		return
	}
	desc, ok := c.reg.Lookup(name)
	if !ok {
		c.printf("Command '%s' doesn't exist.\n", name)
		return
	}
	if v := inv.Validate(desc.Args); v != command.Valid {
		c.printf("%s\n", validityMessage(v, desc.MinArgs(), desc.MaxArgs()))
		return
	}
	c.runDouble(desc, inv.Params())
}

func (c *Console) runDouble(desc command.Descriptor, params []command.Token) {
	exec, err := c.coord.Execute(c.ctx, desc, params)
	switch {
	case errors.Is(err, ErrNoneSelected):
		c.printf("No selected endpoints, you can select an endpoint with `select [name]`\n")
		return
	case errors.Is(err, ErrTooManySelected):
		c.printf("You must have at most %d selected endpoints to run this command.\n", desc.MaxSelected)
		return
	case err != nil:
		c.printf("Command %s failed: %v\n", desc.Name, err)
		return
	}
	c.printExecution(exec)
}

func (c *Console) printExecution(exec *Execution) {
	for _, s := range exec.Skipped {
		switch s.Reason {
		case SkipDead:
			c.printf("Endpoint '%s' is dead, skipping command '%s'.\n", s.Endpoint, exec.Command)
		case SkipUnsupported:
			c.printf("Endpoint '%s's platform isn't supported by command '%s', skipping.\n", s.Endpoint, exec.Command)
		case SkipAbandoned:
			c.printf("Command '%s' was cancelled before it reached endpoint '%s'.\n", exec.Command, s.Endpoint)
		default:
			c.printf("Endpoint '%s' skipped command '%s': %s\n", s.Endpoint, exec.Command, s.Detail)
		}
	}
	for _, name := range exec.Order {
		res := exec.Results[name]
		c.printf("Completed execution of command on endpoint '%s' (status: %s):\n", name, colorStatus(res.Status()))
		if res.Streamed() {
			continue
		}
		if out := res.Output(); out != "" {
			c.printf("%s", out)
			if !strings.HasSuffix(out, "\n") {
				c.printf("\n")
			}
		}
	}
	for _, name := range exec.Removed {
		c.printf("Endpoint '%s' disconnected and was removed.\n", name)
	}
}

func colorStatus(s command.Status) string {
	switch s {
	case command.StatusSuccess:
		return statusOK(s.String())
	case command.StatusPartialSuccess:
		return statusPartial(s.String())
	default:
		return statusBad(s.String())
	}
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

// readLine returns one line without its terminator. A final unterminated
// line is returned together with io.EOF.
func (c *Console) readLine() (string, error) {
	line, err := c.in.ReadString('\n')
	return strings.TrimRight(line, "\r\n"), err
}
