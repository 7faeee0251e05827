package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	supportlog "github.com/stellar/go/support/log"

	"github.com/ethbombard/tx-tracker/cmd/tx-tracker/internal/config"
	"github.com/ethbombard/tx-tracker/cmd/tx-tracker/internal/daemon"
)

func main() {
	var cfg config.Config

	rootCmd := &cobra.Command{
		Use:   "tx-tracker",
		Short: "Start the transaction tracker server",
		Run: func(_ *cobra.Command, _ []string) {
			mustLoadConfig(&cfg)
			daemon.MustNew(&cfg, supportlog.New()).Run()
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information and exit",
		Run: func(_ *cobra.Command, _ []string) {
			if config.CommitHash == "" {
				fmt.Printf("tx-tracker dev\n")
			} else {
				// release builds come from main, only name other branches
				branch := config.Branch
				if branch == "main" {
					branch = ""
				}
				fmt.Printf("tx-tracker %s (%s) %s\n", config.Version, config.CommitHash, branch)
			}
		},
	}

	genConfigFileCmd := &cobra.Command{
		Use:   "gen-config-file",
		Short: "Generate a config file with default settings",
		Run: func(_ *cobra.Command, _ []string) {
			// not validated, an incomplete configuration is still worth rendering
			if err := cfg.SetValues(os.LookupEnv); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			out, err := cfg.MarshalTOML()
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			fmt.Println(string(out))
		},
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(genConfigFileCmd)

	if err := cfg.AddFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "could not parse config options: %v\n", err)
		os.Exit(1)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "could not run: %v\n", err)
		os.Exit(1)
	}
}

func mustLoadConfig(cfg *config.Config) {
	if err := cfg.SetValues(os.LookupEnv); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
