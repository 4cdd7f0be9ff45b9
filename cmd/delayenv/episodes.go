package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	episodesActor string
	episodesLimit int
)

var episodesCmd = &cobra.Command{
	Use:   "episodes [episode-id]",
	Short: "List indexed episodes, or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runEpisodes,
}

func init() {
	episodesCmd.Flags().StringVar(&episodesActor, "actor", "", "Only list episodes of this actor")
	episodesCmd.Flags().IntVar(&episodesLimit, "limit", 20, "Maximum episodes to list")
}

func runEpisodes(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	index, err := openIndex(cfg)
	if err != nil {
		return err
	}
	if index == nil {
		return fmt.Errorf("no episode index configured (set --data-dir or --index-dsn)")
	}
	defer index.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if len(args) == 1 {
		ep, err := index.GetEpisode(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return enc.Encode(ep)
	}
	eps, err := index.ListEpisodes(cmd.Context(), episodesActor, episodesLimit)
	if err != nil {
		return err
	}
	return enc.Encode(eps)
}
