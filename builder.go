package orchestra

import (
	"context"
	"fmt"

	"github.com/petrijr/orchestra/internal/engine"
)

// DefinitionBuilder provides a fluent API for declaring definitions:
//
//	def := orchestra.Define("Onboarding").
//	    Method("createAccount", createAccount).
//	    Method("notifySales", notifySales).
//	    Job("sendWelcomeEmail", sendWelcomeEmail).
//	    Sequential(func(ctx context.Context, p *orchestra.Process, args ...any) error {
//	        _, err := p.AddStep("createAccount", args...)
//	        ...
//	    })
//
//	if err := def.Register(rt); err != nil {
//	    log.Fatal(err)
//	}
//
//	p, err := rt.Start(ctx, "Onboarding", userID)
type DefinitionBuilder struct {
	def *Definition
}

// Define creates a new definition builder with the given name.
func Define(name string) *DefinitionBuilder {
	if name == "" {
		panic("orchestra: definition name must not be empty")
	}
	return &DefinitionBuilder{def: engine.NewDefinition(name)}
}

// Name returns the definition name.
func (b *DefinitionBuilder) Name() string {
	return b.def.Name()
}

// Definition returns the underlying Definition.
func (b *DefinitionBuilder) Definition() *Definition {
	return b.def
}

// Method declares a step method.
func (b *DefinitionBuilder) Method(name string, fn MethodFunc) *DefinitionBuilder {
	if name == "" {
		panic("orchestra: method name must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("orchestra: method %q has nil function", name))
	}
	b.def.DefineMethod(name, fn)
	return b
}

// Job declares a background job.
func (b *DefinitionBuilder) Job(name string, fn JobFunc) *DefinitionBuilder {
	if name == "" {
		panic("orchestra: job name must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("orchestra: job %q has nil function", name))
	}
	b.def.DefineJob(name, fn)
	return b
}

// Sequential makes root processes sequential and filled by build.
func (b *DefinitionBuilder) Sequential(build BuildFunc) *DefinitionBuilder {
	b.def.SetBuilder(Sequential, build)
	return b
}

// Concurrent makes root processes concurrent and filled by build.
func (b *DefinitionBuilder) Concurrent(build BuildFunc) *DefinitionBuilder {
	b.def.SetBuilder(Concurrent, build)
	return b
}

// Steps is a shorthand for a sequential definition that runs the given
// methods in order, each with the process arguments.
func (b *DefinitionBuilder) Steps(methods ...string) *DefinitionBuilder {
	return b.Sequential(func(_ context.Context, p *Process, args ...any) error {
		for _, m := range methods {
			if _, err := p.AddStep(m, args...); err != nil {
				return err
			}
		}
		return nil
	})
}

// Register adds the definition to rt.
func (b *DefinitionBuilder) Register(rt *Runtime) error {
	return rt.Register(b.def)
}

// MustRegister is like Register but panics on error.
func (b *DefinitionBuilder) MustRegister(rt *Runtime) *DefinitionBuilder {
	if err := b.Register(rt); err != nil {
		panic(err)
	}
	return b
}
