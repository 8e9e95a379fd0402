package main

import (
	"encoding/json"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-asr/internal/dictionary"
	"github.com/loqalabs/loqa-asr/internal/protocol"
	"github.com/loqalabs/loqa-asr/internal/runtime"
)

var trainCmd = &cobra.Command{
	Use:   "train <graph.gz>",
	Short: "Compile a gzipped intent graph into a recognizer model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		site, _ := cmd.Flags().GetString("site")
		dicts := dictionary.NewCache(cfg.Training.BaseDictionaries, logger)
		pipeline, err := runtime.NewTrainer(cfg, dicts, logger)
		if err != nil {
			return err
		}
		result, err := pipeline.Train(cmd.Context(), protocol.Train{
			ID:        uuid.NewString(),
			SiteID:    site,
			GraphPath: args[0],
		})
		if err != nil {
			return err
		}
		log.Info("training complete", "archive", pipeline.ArchivePath(), "md5", result.ModelMD5)
		return json.NewEncoder(cmd.OutOrStdout()).Encode(result)
	},
}

func init() {
	trainCmd.Flags().String("site", "default", "Site id reported in the result")
}
