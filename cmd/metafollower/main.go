// Command metafollower runs the metastore follower process.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdFollower "github.com/sentrysync/metafollower/cmd/follower"
)

const cfgConfigFile = "config"

var rootCmd = &cobra.Command{
	Use:           "metafollower",
	Short:         "Hive-metastore-backed authorization follower",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String(cfgConfigFile, "", "path to a YAML configuration file")
	_ = viper.BindPFlag(cfgConfigFile, rootCmd.PersistentFlags().Lookup(cfgConfigFile))

	cobra.OnInitialize(func() {
		if path := viper.GetString(cfgConfigFile); path != "" {
			viper.SetConfigFile(path)
			if err := viper.ReadInConfig(); err != nil {
				fmt.Fprintf(os.Stderr, "metafollower: failed to read config file: %v\n", err)
				os.Exit(1)
			}
		}
		viper.SetEnvPrefix("metafollower")
		viper.AutomaticEnv()
	})

	cmdFollower.Register(rootCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
