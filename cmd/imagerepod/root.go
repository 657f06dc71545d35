package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const shutdownGracePeriod = 30 * time.Second

var rootCmd = &cobra.Command{
	Use:   "imagerepod",
	Short: "Multi-tier image derivation cache",
	Long: `imagerepod materializes images and their crops/resizes/thumbnails/
format conversions on demand, cached across a memory tier, a local-file
tier, a remote-cache tier and a remote-store tier.`,
}

func init() {
	viper.SetEnvPrefix("imagerepod")
	viper.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
