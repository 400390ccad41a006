// Package evaluation compares retrieval variants over a curated dataset:
// hit rate and mean reciprocal rank against expected chunk ids, answer
// similarity by embedding distance, and an LLM-judge score. Reports are
// ranked and persisted as JSON.
package evaluation

import (
	"encoding/json"
	"fmt"
	"os"
)

// Case is one curated evaluation example. ExpectedChunkIDs drive the
// retrieval metrics; ExpectedAnswer drives the answer metrics.
type Case struct {
	ID               string   `json:"id"`
	Query            string   `json:"query"`
	ExpectedAnswer   string   `json:"expected_answer"`
	ExpectedChunkIDs []string `json:"expected_chunk_ids"`
}

// Dataset is the curated case set the harness runs.
type Dataset struct {
	Cases []Case `json:"cases"`
}

// LoadDataset reads a dataset JSON file.
func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}
	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("parsing dataset %s: %w", path, err)
	}
	if len(ds.Cases) == 0 {
		return nil, fmt.Errorf("dataset %s has no cases", path)
	}
	for i, c := range ds.Cases {
		if c.Query == "" {
			return nil, fmt.Errorf("dataset %s: case %d has no query", path, i)
		}
		if c.ID == "" {
			ds.Cases[i].ID = fmt.Sprintf("case-%d", i+1)
		}
	}
	return &ds, nil
}
