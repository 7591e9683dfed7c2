package model

// CandidateSource is an unverified source proposed by the searcher.
// Candidates live only for the duration of one run.
type CandidateSource struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Domain    string `json:"domain,omitempty"`
	Year      int    `json:"year,omitempty"`
	DOI       string `json:"doi,omitempty"`
	PMID      string `json:"pmid,omitempty"`
	Rationale string `json:"rationale,omitempty"`
	RawText   string `json:"raw_text,omitempty"`
}

// ClassifiedSource is a candidate the judge accepted, carrying its trust
// tier and the key used to collapse duplicates.
type ClassifiedSource struct {
	CandidateSource

	Tier     int    `json:"tier"`
	DedupKey string `json:"dedup_key"`
}

// RejectedSource records why a candidate was excluded.
type RejectedSource struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// Document is a source with retrieved text, ready for extraction.
type Document struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Text  string `json:"text"`
	Tier  int    `json:"tier,omitempty"`
}
