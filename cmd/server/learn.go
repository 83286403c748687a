package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"diagnosis-service/internal/baseline"
	"diagnosis-service/internal/condition"
	"diagnosis-service/internal/config"
	"diagnosis-service/internal/logging"
	"diagnosis-service/internal/models"
)

var (
	learnFile      string
	learnCondition string
	learnOut       string
	learnSave      bool
)

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Learn per-condition baselines from a JSON file of sensor slices",
	Long: `Reads a JSON array of sensor slices, groups them by operating condition
(explicit, inferred from key features or forced with --condition) and writes the
resulting baseline snapshot as JSON. With --save the snapshot is also stored in Redis.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return learn(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	learnCmd.Flags().StringVarP(&learnFile, "file", "f", "", "JSON file with an array of sensor slices")
	learnCmd.Flags().StringVar(&learnCondition, "condition", "", "assign every sample to this condition")
	learnCmd.Flags().StringVarP(&learnOut, "out", "o", "", "write the snapshot to this file instead of stdout")
	learnCmd.Flags().BoolVar(&learnSave, "save", false, "store the snapshot in Redis")
	learnCmd.MarkFlagRequired("file")
}

func learn(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// stdout занят снимком
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development, "stderr")
	if err != nil {
		return err
	}
	defer logger.Sync()

	samples, err := readSamples(learnFile)
	if err != nil {
		return err
	}

	opts := []condition.Option{condition.WithConditions(cfg.Conditions)}
	if len(cfg.Signatures) > 0 {
		opts = append(opts, condition.WithSignatureProvider(condition.SignatureMap(cfg.Signatures)))
	}
	if learnSave {
		redisCache := connectRedis(ctx, cfg.Redis, logger)
		if redisCache == nil {
			return fmt.Errorf("redis at %s is not available", cfg.Redis.Addr)
		}
		defer redisCache.Close()
		opts = append(opts, condition.WithSnapshotter(redisCache))
	}

	normalizer, err := condition.New(baseline.NewStore(), cfg.Normalizer, logger, opts...)
	if err != nil {
		return err
	}

	learned, err := normalizer.LearnBaseline(ctx, samples, learnCondition)
	if err != nil {
		return err
	}
	for _, l := range learned {
		if l.Anomaly {
			logger.Warn("baseline percentiles do not bracket the mean",
				zap.String("condition", l.ConditionID),
				zap.String("feature", l.Feature),
			)
		}
	}

	out := stdout
	if learnOut != "" {
		f, err := os.Create(learnOut)
		if err != nil {
			return fmt.Errorf("failed to create %q: %w", learnOut, err)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(normalizer.ExportBaselines())
}

// readSamples читает JSON-массив срезов
func readSamples(path string) ([]models.DataSlice, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read samples: %w", err)
	}
	var samples []models.DataSlice
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("failed to parse samples from %q: %w", path, err)
	}
	return samples, nil
}
