// pkg/api/results_v1.go
package api

// ResultV1 is the stable JSON/JSONL schema for one classified read or pair.
// Keep fields, names, and types stable. Add new fields only with ",omitempty".
type ResultV1 struct {
	ReadID  string `json:"read_id"`
	Status  string `json:"status"` // "C" | "U" | "S"
	TaxonID uint32 `json:"taxon_id"`
	Votes   int    `json:"votes"`
	Sampled int    `json:"sampled"`
	Hits    int    `json:"hits"`
	Passes  int    `json:"passes,omitempty"`
	Invalid int    `json:"invalid,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// SummaryV1 is the stable schema of the run summary written with --summary.
type SummaryV1 struct {
	Total          uint64            `json:"total"`
	Classified     uint64            `json:"classified"`
	Unclassified   uint64            `json:"unclassified"`
	Skipped        uint64            `json:"skipped"`
	InvalidWindows uint64            `json:"invalid_windows"`
	SkipReasons    map[string]uint64 `json:"skip_reasons,omitempty"`
	Digest         string            `json:"digest"`
}
