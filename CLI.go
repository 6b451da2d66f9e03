package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"text/tabwriter"

	"github.com/Liatwilight/DeepChannel/IO"
	"github.com/Liatwilight/DeepChannel/summary"
)

// InspectBlob prints name, shape and basic statistics of every param in a blob.
func InspectBlob(w io.Writer, path string) error {
	recs, err := IO.LoadParams(path)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSHAPE\tMEAN\tSTD\tMAX|x|")
	total := 0
	for _, r := range recs {
		var sum, sq, peak float64
		for _, v := range r.Data {
			sum += v
			sq += v * v
			peak = math.Max(peak, math.Abs(v))
		}
		n := float64(len(r.Data))
		mean := sum / n
		std := math.Sqrt(math.Max(sq/n-mean*mean, 0))
		fmt.Fprintf(tw, "%s\t%dx%d\t%.5f\t%.5f\t%.5f\n", r.Name, r.Rows, r.Cols, mean, std, peak)
		total += len(r.Data)
	}
	fmt.Fprintf(tw, "total\t%d\t\t\t\n", total)
	return tw.Flush()
}

// ListRuns prints the runs recorded in a summary database with their last loss.
func ListRuns(w io.Writer, dbPath string) error {
	if _, err := os.Stat(dbPath); err != nil {
		return err
	}
	st, err := summary.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()
	runs, err := st.Runs()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tSTEPS\tLAST LOSS")
	for _, r := range runs {
		losses, err := st.Scalars(r.ID, "loss")
		if err != nil {
			return err
		}
		last := "-"
		if len(losses) > 0 {
			last = fmt.Sprintf("%.4f", losses[len(losses)-1].Value)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Steps, last)
	}
	return tw.Flush()
}

// readCorpusText collects the document and summary text of a JSONL corpus so a
// word-level vocab can be counted over it.
func readCorpusText(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var texts []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1<<20), 64<<20)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec struct {
			Document string `json:"document"`
			Summary  string `json:"summary"`
		}
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, err
		}
		texts = append(texts, rec.Document, rec.Summary)
	}
	return texts, sc.Err()
}
