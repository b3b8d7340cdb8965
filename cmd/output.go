package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/provider-trust/internal/model"
)

const (
	formatJSON  = "json"
	formatYAML  = "yaml"
	formatTable = "table"
)

// tabular is implemented by results that have a table rendering.
type tabular interface {
	writeTable(w io.Writer)
}

// writeOutput renders v in the requested format. YAML keys follow the JSON
// field names. Values without a table rendering fall back to JSON.
func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case formatYAML:
		return writeYAML(w, v)
	case formatTable:
		if t, ok := v.(tabular); ok {
			t.writeTable(w)
			return nil
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode json")
}

func writeYAML(w io.Writer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return eris.Wrap(err, "encode json")
	}
	// JSON is a YAML subset; decoding into a node keeps key order.
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return eris.Wrap(err, "decode yaml")
	}
	blockStyle(&doc)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return eris.Wrap(err, "encode yaml")
	}
	return eris.Wrap(enc.Close(), "encode yaml")
}

// blockStyle drops the flow and quoting styles inherited from JSON. The
// encoder re-quotes strings that would otherwise resolve to another type.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

// --- table renderings ---

type executionList []model.WorkflowExecution

func (l executionList) writeTable(out io.Writer) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNPI\tSTATUS\tEVIDENCE\tSTARTED\tERROR")
	for _, e := range l {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			shortID(e.ID),
			e.Input["npi_number"],
			e.Status,
			len(e.Evidence),
			e.StartedAt.Format("2006-01-02 15:04"),
			truncate(e.Error, 50),
		)
	}
	_ = w.Flush()
}

type ranking struct {
	*model.TrustRanking
}

func (r ranking) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.TrustRanking)
}

func (r ranking) writeTable(out io.Writer) {
	_, _ = fmt.Fprintf(out, "run %s  computed %s  providers %d  edges %d  iterations %d  converged %t\n\n",
		shortID(r.Run.ID),
		r.Run.ComputedAt.Format("2006-01-02 15:04"),
		r.Run.ProviderCount,
		r.Run.EdgeCount,
		r.Run.Iterations,
		r.Run.Converged,
	)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RANK\tNPI\tNAME\tSCORE\tCONNECTIONS")
	for _, s := range r.Scores {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%.6f\t%d\n", s.Rank, s.NPINumber, s.DisplayName, s.Score, s.Degree)
	}
	_ = w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
