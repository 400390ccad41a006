package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/audiorag/audiorag/pkg/evaluation"
	"github.com/audiorag/audiorag/pkg/models"
)

func newEvaluateCmd(configDir *string) *cobra.Command {
	var dataset string
	var variants []string
	var topK int

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Compare retrieval variants over an evaluation dataset",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			path := dataset
			if path == "" {
				path = filepath.Join(*configDir, "eval_dataset.json")
			}
			return runEvaluate(*configDir, path, variants, topK)
		},
	}
	cmd.Flags().StringVar(&dataset, "dataset", "", "evaluation dataset path (default <config-dir>/eval_dataset.json)")
	cmd.Flags().StringSliceVar(&variants, "variants", nil, "variants to compare (default all)")
	cmd.Flags().IntVar(&topK, "top-k", 0, "retrieval depth per query (0 = configured default)")
	return cmd
}

func runEvaluate(configDir, datasetPath string, variantNames []string, topK int) error {
	var variants []models.Variant
	for _, name := range variantNames {
		v := models.Variant(name)
		if !v.Valid() {
			return userErrorf("unknown variant %q", name)
		}
		variants = append(variants, v)
	}

	ds, err := evaluation.LoadDataset(datasetPath)
	if err != nil {
		return userErrorf("load dataset: %v", err)
	}

	a, err := openApp(configDir)
	if err != nil {
		return err
	}
	defer a.close()

	client, err := a.llmClient()
	if err != nil {
		return err
	}
	engine := a.engine(client, client)

	if topK <= 0 {
		topK = a.cfg.Retrieval.TopK
	}
	harness := evaluation.NewHarness(engine, client, client, topK, a.cfg.LogsPath())

	report, err := harness.Run(context.Background(), ds, variants)
	if err != nil {
		return err
	}
	path, err := harness.WriteReport(report)
	if err != nil {
		return err
	}

	fmt.Printf("Evaluated %d cases across %d variants (top-k %d)\n\n",
		report.CaseCount, len(report.Variants), report.TopK)
	fmt.Printf("%-4s %-24s %-9s %-7s %-7s %-7s %s\n",
		"rank", "variant", "composite", "hit", "mrr", "sim", "judge")
	byVariant := make(map[models.Variant]evaluation.VariantReport, len(report.Variants))
	for _, vr := range report.Variants {
		byVariant[vr.Variant] = vr
	}
	for i, v := range report.Ranking {
		vr := byVariant[v]
		fmt.Printf("%-4d %-24s %-9.3f %-7.2f %-7.3f %-7.3f %.1f\n",
			i+1, vr.Variant, vr.Composite, vr.HitRate, vr.MRR, vr.AnswerSimilarity, vr.JudgeScore)
	}
	fmt.Printf("\nReport written to %s\n", path)
	return nil
}
