package models

import "time"

// DomainBoilerplate holds the cross-page fingerprint for one
// (project, domain): the set of block hashes considered boilerplate plus the
// parameters and counters of the analysis that produced them.
type DomainBoilerplate struct {
	ID        string `json:"id"` // composite key project|domain
	ProjectID string `json:"project_id"`
	Domain    string `json:"domain"`

	BoilerplateHashes []string `json:"boilerplate_hashes"`

	// Algorithm parameters at analysis time.
	ThresholdPct  float64 `json:"threshold_pct"`
	MinPages      int     `json:"min_pages"`
	MinBlockChars int     `json:"min_block_chars"`

	// Counters.
	PagesAnalyzed     int `json:"pages_analyzed"`
	BlocksTotal       int `json:"blocks_total"`
	BlocksBoilerplate int `json:"blocks_boilerplate"`
	BytesRemovedAvg   int `json:"bytes_removed_avg"`

	UpdatedAt time.Time `json:"updated_at"`
}

// BoilerplateKey builds the composite storage key.
func BoilerplateKey(projectID, domain string) string {
	return projectID + "|" + domain
}

// HashSet returns the boilerplate hashes as a set for stripping.
func (d *DomainBoilerplate) HashSet() map[string]bool {
	set := make(map[string]bool, len(d.BoilerplateHashes))
	for _, h := range d.BoilerplateHashes {
		set[h] = true
	}
	return set
}
