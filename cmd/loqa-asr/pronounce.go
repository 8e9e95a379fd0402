package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-asr/internal/dictionary"
	"github.com/loqalabs/loqa-asr/internal/protocol"
	"github.com/loqalabs/loqa-asr/internal/runtime"
)

var pronounceCmd = &cobra.Command{
	Use:   "pronounce <word>...",
	Short: "Look up or guess word pronunciations",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		guesses, _ := cmd.Flags().GetInt("guesses")
		pronouncer, err := runtime.NewPronouncer(cfg, dictionary.NewCache(cfg.Training.BaseDictionaries, logger), logger)
		if err != nil {
			return err
		}
		result, err := pronouncer.Pronounce(cmd.Context(), protocol.Pronounce{
			Words:      args,
			NumGuesses: guesses,
		})
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result.WordPhonemes)
	},
}

func init() {
	pronounceCmd.Flags().IntP("guesses", "n", 5, "Maximum guesses per unknown word")
}
