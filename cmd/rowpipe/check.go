package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pipelined.dev/rowpipe"
	"pipelined.dev/rowpipe/config"
)

func newCheckCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the pipeline and print row metadata of every transform",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := load(v)
			if err != nil {
				return err
			}
			g, err := f.Graph(config.Builtin())
			if err != nil {
				return err
			}
			p, err := rowpipe.New(g, f.Options()...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, name := range p.Names() {
				m, _ := p.Meta(name)
				fmt.Fprintf(out, "%s: %v\n", name, m)
				if em, ok := p.ErrorMeta(name); ok {
					fmt.Fprintf(out, "%s (error): %v\n", name, em)
				}
			}
			return nil
		},
	}
}
