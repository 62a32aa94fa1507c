// Command rowpipe checks and runs pipelines defined in YAML files.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pipelined.dev/rowpipe/config"
	"pipelined.dev/rowpipe/log"
)

// envPrefix is the prefix of environment variables bound to flags, e.g.
// ROWPIPE_FILE and ROWPIPE_LOG_LEVEL.
const envPrefix = "ROWPIPE"

const (
	fileFlag        = "file"
	logLevelFlag    = "log-level"
	metricsAddrFlag = "metrics-addr"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the command tree with its own viper instance.
func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "rowpipe",
		Short:         "Row pipeline runner",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP(fileFlag, "f", "", "pipeline definition file")
	root.PersistentFlags().String(logLevelFlag, "", "log level: debug, info, warn or error")
	_ = v.BindPFlags(root.PersistentFlags())

	root.AddCommand(newCheckCmd(v), newRunCmd(v))
	return root
}

// load reads the pipeline definition named by file flag.
func load(v *viper.Viper) (*config.File, error) {
	path := v.GetString(fileFlag)
	if path == "" {
		return nil, fmt.Errorf("pipeline file is required: --%s or %s_FILE", fileFlag, envPrefix)
	}
	return config.LoadFile(path)
}

func logger(v *viper.Viper, cmd *cobra.Command) (*logrus.Logger, error) {
	l := log.GetLogger()
	l.SetOutput(cmd.ErrOrStderr())
	if err := log.Level(l, v.GetString(logLevelFlag)); err != nil {
		return nil, err
	}
	return l, nil
}
