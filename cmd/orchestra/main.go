// Command orchestra runs orchestra workers and the admin API.
//
// Embedders build their own binary the same way, passing their
// definitions to cli.Execute.
package main

import (
	"context"
	"log/slog"

	"github.com/petrijr/orchestra"
	"github.com/petrijr/orchestra/internal/cli"
)

func main() {
	cli.Execute(greeting())
}

// greeting is a small sequential definition for trying the server out:
//
//	curl -XPOST localhost:8080/api/v1/processes \
//	    -d '{"definition":"greeting","args":["Gopher"]}'
func greeting() *orchestra.Definition {
	say := func(word string) orchestra.MethodFunc {
		return func(ctx context.Context, exec *orchestra.Executor, args ...any) error {
			slog.InfoContext(ctx, word, slog.Any("name", args), slog.String("task", exec.UUID()))
			return nil
		}
	}
	return orchestra.Define("greeting").
		Method("hello", say("hello")).
		Method("bye", say("bye")).
		Job("notify", func(ctx context.Context, args ...any) error {
			slog.InfoContext(ctx, "notify", slog.Any("args", args))
			return nil
		}).
		Sequential(func(_ context.Context, p *orchestra.Process, args ...any) error {
			if _, err := p.AddStep("hello", args...); err != nil {
				return err
			}
			if _, err := p.AddJob("notify", args...); err != nil {
				return err
			}
			_, err := p.AddStep("bye", args...)
			return err
		}).
		Definition()
}
