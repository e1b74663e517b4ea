//go:build ignore

// Package main generates synthetic JSONL chunk files for load testing.
// Usage: go run scripts/generate-chunk-corpus.go -files 20 -chunks 500 -output testdata/corpus
//
// Each chunk carries article_number, cas_number and regulation metadata,
// so identifier filters and exact matches can be exercised at scale.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

var (
	numFiles  = flag.Int("files", 10, "Number of chunk files to generate")
	perFile   = flag.Int("chunks", 200, "Chunks per file")
	outputDir = flag.String("output", "testdata/corpus", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var regulations = []string{"REACH", "CLP", "BPR", "POP", "RoHS"}

var subjects = []string{
	"suppliers of articles", "downstream users", "manufacturers", "importers",
	"distributors", "only representatives", "registrants", "notifiers",
}

var duties = []string{
	"shall provide a safety data sheet", "shall communicate information on safe use",
	"shall notify the Agency", "shall label and package the substance",
	"shall keep records for ten years", "shall update the registration dossier",
	"shall apply risk management measures", "shall report new hazard information",
}

var conditions = []string{
	"when the concentration exceeds 0.1% weight by weight",
	"where the substance is placed on the market in quantities of one tonne or more per year",
	"unless the use is exempted under Annex XVII",
	"within 45 days of a request by a consumer",
	"before the substance is first supplied",
	"if the substance meets the criteria for classification as hazardous",
}

type chunk struct {
	ID       string              `json:"id"`
	Text     string              `json:"text"`
	SourceID string              `json:"source_id"`
	Position int                 `json:"position"`
	Metadata map[string][]string `json:"metadata"`
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create output dir: %v\n", err)
		os.Exit(1)
	}

	total := 0
	for f := 0; f < *numFiles; f++ {
		regulation := regulations[f%len(regulations)]
		source := fmt.Sprintf("%s-part-%03d", strings.ToLower(regulation), f)
		path := filepath.Join(*outputDir, source+".jsonl")
		if err := writeFile(path, source, regulation, rng); err != nil {
			fmt.Fprintf(os.Stderr, "write %s: %v\n", path, err)
			os.Exit(1)
		}
		total += *perFile
	}
	fmt.Printf("Generated %d chunks in %d files under %s\n", total, *numFiles, *outputDir)
}

func writeFile(path, source, regulation string, rng *rand.Rand) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := 0; i < *perFile; i++ {
		article := rng.Intn(150) + 1
		cas := fmt.Sprintf("%d-%02d-%d", rng.Intn(9000)+50, rng.Intn(100), rng.Intn(10))
		text := fmt.Sprintf("Article %d of %s: %s %s %s. This applies to substance CAS %s.",
			article, regulation,
			capitalize(subjects[rng.Intn(len(subjects))]),
			duties[rng.Intn(len(duties))],
			conditions[rng.Intn(len(conditions))],
			cas)

		c := chunk{
			ID:       fmt.Sprintf("%s-%05d", source, i),
			Text:     text,
			SourceID: source,
			Position: i,
			Metadata: map[string][]string{
				"regulation":     {regulation},
				"article_number": {fmt.Sprint(article)},
				"cas_number":     {cas},
			},
		}
		if err := enc.Encode(c); err != nil {
			return err
		}
	}
	return w.Flush()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
