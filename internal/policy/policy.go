// Package policy maps source URLs to trust tiers and extracts document
// identifiers. Classification is closed-world: a domain on no list is
// denied, not demoted.
package policy

import (
	"net/url"
	"regexp"
	"strings"
)

// Decision is the classifier's binary verdict for a URL.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionDeny   Decision = "deny"
)

// Verdict is the full classification result for one URL.
type Verdict struct {
	Decision Decision `json:"decision"`
	Tier     int      `json:"tier,omitempty"`
	Reason   string   `json:"reason"`
	DOI      string   `json:"doi,omitempty"`
	PMID     string   `json:"pmid,omitempty"`
}

// Lists holds the ordered tier domain lists plus the deny list. The deny
// list always wins over tier membership.
type Lists struct {
	L1   []string `yaml:"l1" mapstructure:"l1"`
	L2   []string `yaml:"l2" mapstructure:"l2"`
	L3   []string `yaml:"l3" mapstructure:"l3"`
	L4   []string `yaml:"l4" mapstructure:"l4"`
	Deny []string `yaml:"deny" mapstructure:"deny"`
}

// DefaultLists returns the built-in tier tables.
func DefaultLists() Lists {
	return Lists{
		L1: []string{
			"pubmed.ncbi.nlm.nih.gov",
			"ncbi.nlm.nih.gov",
			"nih.gov",
			"efsa.europa.eu",
			"fda.gov",
			"ods.od.nih.gov",
			"en.wikipedia.org",
			"uk.wikipedia.org",
			"ru.wikipedia.org",
		},
		L2: []string{
			"nature.com",
			"science.org",
			"sciencedirect.com",
			"springer.com",
			"wiley.com",
		},
		L3: []string{
			"cochranelibrary.com",
			"bmj.com",
			"frontiersin.org",
			"examine.com",
		},
		L4: []string{
			"researchgate.net",
			"wikidata.org",
			"consumerlab.com",
		},
		Deny: []string{
			"blog.",
			"medium.com",
			"substack.com",
			"wordpress.com",
			"blogspot.com",
		},
	}
}

// Merge unions o's entries into l, preserving l's order and skipping
// duplicates.
func (l Lists) Merge(o Lists) Lists {
	l.L1 = appendUnique(l.L1, o.L1)
	l.L2 = appendUnique(l.L2, o.L2)
	l.L3 = appendUnique(l.L3, o.L3)
	l.L4 = appendUnique(l.L4, o.L4)
	l.Deny = appendUnique(l.Deny, o.Deny)
	return l
}

func appendUnique(base, extra []string) []string {
	seen := make(map[string]bool, len(base))
	for _, e := range base {
		seen[e] = true
	}
	for _, e := range extra {
		if !seen[e] {
			seen[e] = true
			base = append(base, e)
		}
	}
	return base
}

// Classifier is a pure function over its configuration tables.
type Classifier struct {
	lists Lists
}

// New creates a Classifier with the given lists.
func New(lists Lists) *Classifier {
	return &Classifier{lists: lists}
}

// NewDefault creates a Classifier with the built-in tables.
func NewDefault() *Classifier {
	return New(DefaultLists())
}

var (
	doiPathRe = regexp.MustCompile(`(?i)(?:doi\.org/|/doi/)(10\.\S+)`)
	pmidRe    = regexp.MustCompile(`(?i)(?:pubmed\.ncbi\.nlm\.nih\.gov/|/pubmed/|[?&]pmid=)(\d+)`)
)

// ExtractDOI pulls a DOI out of a URL, if present.
func ExtractDOI(rawURL string) string {
	m := doiPathRe.FindStringSubmatch(rawURL)
	if m == nil {
		return ""
	}
	doi := m[1]
	if i := strings.IndexAny(doi, "?#"); i >= 0 {
		doi = doi[:i]
	}
	return strings.TrimSuffix(doi, "/")
}

// ExtractPMID pulls a numeric PubMed identifier out of a URL, if present.
func ExtractPMID(rawURL string) string {
	m := pmidRe.FindStringSubmatch(rawURL)
	if m == nil {
		return ""
	}
	return m[1]
}

// Classify maps a URL to an accept/deny verdict with a tier and any
// document identifiers found in the URL itself.
func (c *Classifier) Classify(rawURL string) Verdict {
	host := hostOf(rawURL)
	if host == "" {
		return Verdict{Decision: DecisionDeny, Reason: "empty/invalid URL"}
	}

	doi := ExtractDOI(rawURL)
	pmid := ExtractPMID(rawURL)

	// Deny takes precedence over every tier list.
	if match := matchAny(host, c.lists.Deny); match != "" {
		return Verdict{Decision: DecisionDeny, Reason: "denied domain: " + match, DOI: doi, PMID: pmid}
	}

	for tier, list := range [][]string{c.lists.L1, c.lists.L2, c.lists.L3, c.lists.L4} {
		if match := matchAny(host, list); match != "" {
			return Verdict{
				Decision: DecisionAccept,
				Tier:     tier + 1,
				Reason:   "listed domain: " + match,
				DOI:      doi,
				PMID:     pmid,
			}
		}
	}

	if isAcademicTLD(host) {
		return Verdict{Decision: DecisionAccept, Tier: 4, Reason: "academic domain", DOI: doi, PMID: pmid}
	}

	if doi != "" || pmid != "" {
		return Verdict{Decision: DecisionAccept, Tier: 3, Reason: "has academic identifier", DOI: doi, PMID: pmid}
	}

	return Verdict{Decision: DecisionDeny, Reason: "unknown domain"}
}

// Priority returns the tier a URL would be accepted at, or 5 for denied
// URLs. Used to rank citations when deriving the evidence level.
func (c *Classifier) Priority(rawURL string) int {
	v := c.Classify(rawURL)
	if v.Decision == DecisionDeny {
		return 5
	}
	return v.Tier
}

func hostOf(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Host)
	if i := strings.Index(host, ":"); i >= 0 {
		host = host[:i]
	}
	return strings.TrimPrefix(host, "www.")
}

// matchAny reports the first entry the host matches, by exact match,
// suffix match on a domain boundary, or substring for dotted prefixes
// such as "blog.".
func matchAny(host string, list []string) string {
	for _, entry := range list {
		e := strings.ToLower(strings.TrimSpace(entry))
		if e == "" {
			continue
		}
		if host == e || strings.HasSuffix(host, "."+e) || strings.Contains(host, e) {
			return e
		}
	}
	return ""
}

func isAcademicTLD(host string) bool {
	if strings.HasSuffix(host, ".edu") {
		return true
	}
	// Country-scoped academic domains: example.ac.uk, example.ac.jp.
	return strings.Contains(host, ".ac.")
}
