package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/audiorag/audiorag/pkg/models"
	"github.com/audiorag/audiorag/pkg/retrieval"
)

func newQueryCmd(configDir *string) *cobra.Command {
	var topK int
	var variant string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Ask a question against the indexed corpus",
		Args:  requireArgs(1, "a question"),
		RunE: func(_ *cobra.Command, args []string) error {
			return runQuery(*configDir, strings.Join(args, " "), variant, topK, verbose)
		},
	}
	cmd.Flags().IntVar(&topK, "top-k", 0, "number of chunks to retrieve (0 = configured default)")
	cmd.Flags().StringVar(&variant, "variant", "", "retrieval variant: semantic, hybrid, hybrid+rerank, rewrite+hybrid+rerank")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "print retrieved sources and timings")
	return cmd
}

func runQuery(configDir, question, variant string, topK int, verbose bool) error {
	if variant != "" && !models.Variant(variant).Valid() {
		return userErrorf("unknown variant %q", variant)
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

	resp, err := engine.Query(context.Background(), retrieval.Request{
		UserID:  "cli",
		Query:   question,
		Variant: models.Variant(variant),
		TopK:    topK,
	})
	if err != nil {
		return err
	}

	if resp.NoCorpus {
		fmt.Println("Nothing has been indexed yet. Run `audiorag process <url>` first.")
		return nil
	}
	fmt.Println(resp.Answer)
	if verbose {
		fmt.Printf("\nvariant=%s rewrite=%v degraded=%v elapsed=%dms\n",
			resp.Variant, resp.RewriteApplied, resp.Degraded, resp.ElapsedMs)
		for i, c := range resp.Chunks {
			fmt.Printf("%2d. [%.3f] %s\n", i+1, c.Score, c.Text)
		}
	}
	return nil
}
