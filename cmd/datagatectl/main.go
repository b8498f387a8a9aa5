// Package main is the entrypoint for the datagatectl CLI.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/knowledgenet/datagate/internal/client"
	"github.com/knowledgenet/datagate/internal/config"
	"github.com/knowledgenet/datagate/internal/models"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "datagatectl",
		Short: "Datagate CLI - dataset access grants, downloads, and provenance",
		Long: `datagatectl is a client for a Datagate server. It purchases dataset
access grants against payment proofs, runs metered queries and downloads,
and inspects provenance chains.

Run 'datagatectl configure' to point it at a server.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("server", "", "server URL (overrides config)")
	rootCmd.PersistentFlags().String("requester", "", "requester address (overrides config)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigureCmd(),
		newAccessCmd(),
		newRevokeCmd(),
		newDownloadCmd(),
		newQueryCmd(),
		newSearchCmd(),
		newProvenanceCmd(),
		newValidateCmd(),
		newStatsCmd(),
	)

	return rootCmd
}

// newClient builds an API client from flags and the saved config.
func newClient(cmd *cobra.Command) (*client.Client, *config.ClientConfig, error) {
	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, nil, err
	}

	if server, _ := cmd.Flags().GetString("server"); server != "" {
		cfg.ServerURL = server
	}
	if requester, _ := cmd.Flags().GetString("requester"); requester != "" {
		cfg.Requester = requester
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w (run 'datagatectl configure' or pass --server/--requester)", err)
	}

	return client.New(cfg.ServerURL, cfg.Requester), cfg, nil
}

// resolveAccessKey takes the key from the argument list or falls back to the
// last saved one.
func resolveAccessKey(args []string, cfg *config.ClientConfig) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if cfg.AccessKey != "" {
		return cfg.AccessKey, nil
	}
	return "", errors.New("no access key given and none saved; run 'datagatectl access' first")
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("datagatectl %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		},
	}
}

func newConfigureCmd() *cobra.Command {
	var serverURL, requester string

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Save server URL and requester address",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.LoadDefault()
			if err != nil {
				return err
			}
			if serverURL != "" {
				cfg.ServerURL = serverURL
			}
			if requester != "" {
				cfg.Requester = requester
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.SaveDefault(); err != nil {
				return err
			}
			fmt.Printf("Configured: server=%s requester=%s\n", cfg.ServerURL, cfg.Requester)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "url", "", "Datagate server URL")
	cmd.Flags().StringVar(&requester, "address", "", "requester address")
	return cmd
}

func newAccessCmd() *cobra.Command {
	var proof string
	var save bool

	cmd := &cobra.Command{
		Use:   "access <dataset-id>",
		Short: "Purchase an access grant for a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cfg, err := newClient(cmd)
			if err != nil {
				return err
			}

			grant, err := c.RequestAccess(args[0], proof)
			if err != nil {
				return err
			}

			if save {
				cfg.AccessKey = grant.AccessKey
				if err := cfg.SaveDefault(); err != nil {
					fmt.Fprintf(os.Stderr, "warning: could not save access key: %v\n", err)
				}
			}

			return printJSON(grant)
		},
	}

	cmd.Flags().StringVar(&proof, "proof", "", "payment proof (required)")
	cmd.Flags().BoolVar(&save, "save", true, "save the minted access key to the config file")
	cmd.MarkFlagRequired("proof")
	return cmd
}

func newRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke [access-key]",
		Short: "Revoke an access grant",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cfg, err := newClient(cmd)
			if err != nil {
				return err
			}

			key, err := resolveAccessKey(args, cfg)
			if err != nil {
				return err
			}

			if err := c.RevokeGrant(key); err != nil {
				return err
			}
			fmt.Println("Grant revoked.")

			if cfg.AccessKey == key {
				cfg.AccessKey = ""
				if err := cfg.SaveDefault(); err != nil {
					fmt.Fprintf(os.Stderr, "warning: could not clear saved access key: %v\n", err)
				}
			}
			return nil
		},
	}
}

func newDownloadCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "download [access-key]",
		Short: "Download dataset content with a grant",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cfg, err := newClient(cmd)
			if err != nil {
				return err
			}

			key, err := resolveAccessKey(args, cfg)
			if err != nil {
				return err
			}

			result, err := c.Download(key)
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				os.Stdout.Write(result.Data)
			} else {
				if err := os.WriteFile(output, result.Data, 0644); err != nil {
					return fmt.Errorf("write output file: %w", err)
				}
				fmt.Printf("Wrote %d bytes to %s\n", len(result.Data), output)
			}

			fmt.Fprintf(os.Stderr, "Downloads remaining: %d\n", result.Remaining)
			if result.Provenance != nil && !result.Provenance.Verified {
				fmt.Fprintln(os.Stderr, "WARNING: provenance chain is unverified")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	return cmd
}

func newQueryCmd() *cobra.Command {
	var accessKey string

	cmd := &cobra.Command{
		Use:   "query <query-text>",
		Short: "Run an analysis query against a granted dataset",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cfg, err := newClient(cmd)
			if err != nil {
				return err
			}

			key := accessKey
			if key == "" {
				key, err = resolveAccessKey(nil, cfg)
				if err != nil {
					return err
				}
			}

			result, err := c.Query(key, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}

	cmd.Flags().StringVar(&accessKey, "key", "", "access key (default: saved key)")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var (
		terms      string
		tags       []string
		format     string
		minQuality int
		maxPrice   string
		verified   bool
		limit      int
		offset     int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search the dataset catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient(cmd)
			if err != nil {
				return err
			}

			filter := models.SearchFilter{
				SearchTerms:     terms,
				Tags:            tags,
				Format:          format,
				MinQualityScore: minQuality,
				MaxPriceWei:     maxPrice,
				Limit:           limit,
				Offset:          offset,
			}
			if cmd.Flags().Changed("verified") {
				filter.Verified = &verified
			}

			result, err := c.SearchDatasets(filter)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}

	cmd.Flags().StringVar(&terms, "terms", "", "free-text search terms")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "required tags (any match)")
	cmd.Flags().StringVar(&format, "format", "", "dataset format, e.g. json or csv")
	cmd.Flags().IntVar(&minQuality, "min-quality", 0, "minimum quality score")
	cmd.Flags().StringVar(&maxPrice, "max-price-wei", "", "maximum price in wei")
	cmd.Flags().BoolVar(&verified, "verified", false, "only verified datasets")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum results")
	cmd.Flags().IntVar(&offset, "offset", 0, "results offset")
	return cmd
}

func newProvenanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "provenance <dataset-id>",
		Short: "Show a dataset's provenance chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient(cmd)
			if err != nil {
				return err
			}

			chain, err := c.ProvenanceChain(args[0])
			if err != nil {
				return err
			}
			return printJSON(chain)
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <dataset-id> <expected-hash>",
		Short: "Validate a dataset's content hash",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient(cmd)
			if err != nil {
				return err
			}

			report, err := c.ValidateIntegrity(args[0], args[1])
			if err != nil {
				return err
			}
			if err := printJSON(report); err != nil {
				return err
			}
			if !report.Valid {
				return errors.New("content hash mismatch")
			}
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show your recorded usage statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, err := newClient(cmd)
			if err != nil {
				return err
			}

			stats, err := c.UsageStats()
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}
}
