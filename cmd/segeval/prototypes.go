package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/segeval/internal/prototype"
)

func prototypesCmd() *cli.Command {
	return &cli.Command{
		Name:  "prototypes",
		Usage: "Work with prototype sets",
		Commands: []*cli.Command{
			{
				Name:      "inspect",
				Usage:     "Print the shape and per-class norms of a prototype set",
				ArgsUsage: "<prototypes.safetensors>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Args().Len() != 1 {
						return fmt.Errorf("expected exactly one prototype file")
					}
					set, err := prototype.Load(cmd.Args().First())
					if err != nil {
						return err
					}
					return printPrototypes(os.Stdout, set)
				},
			},
		},
	}
}

func printPrototypes(w io.Writer, set *prototype.Set) error {
	scales := "unit"
	if set.Scales != nil {
		scales = "per-class"
	}
	if _, err := fmt.Fprintf(w, "classes: %d\ndim:     %d\nscales:  %s\n", set.K, set.D, scales); err != nil {
		return err
	}
	for k := 0; k < set.K; k++ {
		var sq float64
		for _, v := range set.Vector(k) {
			sq += float64(v) * float64(v)
		}
		if _, err := fmt.Fprintf(w, "%4d  norm=%.4f\n", k, math.Sqrt(sq)); err != nil {
			return err
		}
	}
	return nil
}
