package command

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const MaxNameLen = 32

var (
	ErrDuplicateName  = errors.New("command: duplicate name")
	ErrNameLength     = errors.New("command: invalid name length")
	ErrArgOrder       = errors.New("command: required argument after optional")
	ErrInvalidPolicy  = errors.New("command: invalid execution policy")
	ErrNilCommand     = errors.New("command: nil command")
	ErrInvalidArgKind = errors.New("command: invalid argument kind")
)

// Descriptor is the immutable registration record of one double command.
type Descriptor struct {
	Name        string
	Usage       string
	Description string
	Args        []ArgType
	Platforms   PlatformSet
	// MaxSelected caps the number of selected endpoints; 0 is unbounded.
	MaxSelected int
	// Serialize runs endpoints one at a time.
	Serialize bool
	// InController runs in the controller process with the console attached.
	InController bool
	// Terminates marks commands after which the agent is gone.
	Terminates bool
	Command    DoubleCommand
}

func (d Descriptor) MinArgs() int { return MinArgs(d.Args) }

func (d Descriptor) MaxArgs() int { return len(d.Args) }

// MinArgs counts required slots.
func MinArgs(args []ArgType) int {
	n := 0
	for _, a := range args {
		if !a.Optional {
			n++
		}
	}
	return n
}

// ValidateName checks the name length.
func ValidateName(name string) error {
	if len(name) == 0 || len(name) > MaxNameLen || strings.TrimSpace(name) != name {
		return fmt.Errorf("%w: %q must be 1..%d characters", ErrNameLength, name, MaxNameLen)
	}
	return nil
}

// ValidateArgs checks that no required slot follows an optional one.
func ValidateArgs(args []ArgType) error {
	seenOptional := false
	for i, a := range args {
		if a.Kind < KindInteger || a.Kind > KindString {
			return fmt.Errorf("%w: slot %d", ErrInvalidArgKind, i)
		}
		if a.Optional {
			seenOptional = true
			continue
		}
		if seenOptional {
			return fmt.Errorf("%w: slot %d", ErrArgOrder, i)
		}
	}
	return nil
}

func (d Descriptor) Validate() error {
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if d.Command == nil {
		return fmt.Errorf("%w: %s", ErrNilCommand, d.Name)
	}
	if err := ValidateArgs(d.Args); err != nil {
		return fmt.Errorf("%s: %w", d.Name, err)
	}
	if d.MaxSelected < 0 {
		return fmt.Errorf("%w: %s max_selected=%d", ErrInvalidPolicy, d.Name, d.MaxSelected)
	}
	if d.InController && !d.Serialize {
		return fmt.Errorf("%w: %s runs in controller but is not serialized", ErrInvalidPolicy, d.Name)
	}
	return nil
}

// Builder collects descriptors before the registry is frozen.
type Builder struct {
	items    map[string]Descriptor
	reserved map[string]struct{}
}

func NewBuilder() *Builder {
	return &Builder{
		items:    make(map[string]Descriptor),
		reserved: make(map[string]struct{}),
	}
}

// Reserve claims names used by controller-local commands.
func (b *Builder) Reserve(names ...string) error {
	for _, name := range names {
		if err := ValidateName(name); err != nil {
			return err
		}
		if b.taken(name) {
			return fmt.Errorf("%w: %s", ErrDuplicateName, name)
		}
		b.reserved[name] = struct{}{}
	}
	return nil
}

func (b *Builder) Add(d Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if b.taken(d.Name) {
		return fmt.Errorf("%w: %s", ErrDuplicateName, d.Name)
	}
	d.Args = append([]ArgType(nil), d.Args...)
	b.items[d.Name] = d
	return nil
}

// MustAdd panics on registration failure.
func (b *Builder) MustAdd(d Descriptor) *Builder {
	if err := b.Add(d); err != nil {
		panic(err)
	}
	return b
}

func (b *Builder) taken(name string) bool {
	_, ok := b.items[name]
	_, reserved := b.reserved[name]
	return ok || reserved
}

func (b *Builder) Build() *Registry {
	items := make(map[string]Descriptor, len(b.items))
	for k, v := range b.items {
		items[k] = v
	}
	reserved := make(map[string]struct{}, len(b.reserved))
	for k := range b.reserved {
		reserved[k] = struct{}{}
	}
	return &Registry{items: items, reserved: reserved}
}

// Registry is the frozen command table.
type Registry struct {
	items    map[string]Descriptor
	reserved map[string]struct{}
}

func (r *Registry) Lookup(name string) (Descriptor, bool) {
	d, ok := r.items[name]
	return d, ok
}

func (r *Registry) Reserved(name string) bool {
	_, ok := r.reserved[name]
	return ok
}

// Names returns registered names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.items))
	for name := range r.items {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) All() []Descriptor {
	names := r.Names()
	out := make([]Descriptor, 0, len(names))
	for _, name := range names {
		out = append(out, r.items[name])
	}
	return out
}

func (r *Registry) Len() int { return len(r.items) }
