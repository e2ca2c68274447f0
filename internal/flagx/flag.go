// Package flagx layers command-line flags over configuration loaded from
// other sources.
package flagx

import (
	"time"

	"github.com/spf13/pflag"
)

// Overlay registers flags on a pflag.FlagSet and copies their values into
// a target only for flags that were set on the command line. Defaults and
// file values in the target survive flags the user did not pass.
type Overlay[T any] struct {
	fs    *pflag.FlagSet
	apply map[string]func(*T)
}

func NewOverlay[T any](fs *pflag.FlagSet) *Overlay[T] {
	return &Overlay[T]{fs: fs, apply: make(map[string]func(*T))}
}

func (o *Overlay[T]) String(name, short, def, usage string, field func(*T) *string) {
	v := o.fs.StringP(name, short, def, usage)
	o.apply[name] = func(t *T) { *field(t) = *v }
}

func (o *Overlay[T]) Int(name, short string, def int, usage string, field func(*T) *int) {
	v := o.fs.IntP(name, short, def, usage)
	o.apply[name] = func(t *T) { *field(t) = *v }
}

func (o *Overlay[T]) Bool(name, short string, def bool, usage string, field func(*T) *bool) {
	v := o.fs.BoolP(name, short, def, usage)
	o.apply[name] = func(t *T) { *field(t) = *v }
}

func (o *Overlay[T]) Duration(name, short string, def time.Duration, usage string, field func(*T) *time.Duration) {
	v := o.fs.DurationP(name, short, def, usage)
	o.apply[name] = func(t *T) { *field(t) = *v }
}

// Apply copies every changed flag into t.
func (o *Overlay[T]) Apply(t *T) {
	o.fs.Visit(func(f *pflag.Flag) {
		if fn, ok := o.apply[f.Name]; ok {
			fn(t)
		}
	})
}
