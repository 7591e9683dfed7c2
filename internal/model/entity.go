package model

// EntityClass categorizes a supplement ingredient by its biological or
// chemical origin.
type EntityClass string

const (
	ClassPlant     EntityClass = "plant"
	ClassAnimal    EntityClass = "animal"
	ClassVitamin   EntityClass = "vitamin"
	ClassMineral   EntityClass = "mineral"
	ClassEnzyme    EntityClass = "enzyme"
	ClassProbiotic EntityClass = "probiotic"
	ClassOther     EntityClass = "other"
)

// TaxonRank qualifies how specific the scientific name is.
type TaxonRank string

const (
	RankSpecies TaxonRank = "species"
	RankGenus   TaxonRank = "genus"
	RankOther   TaxonRank = "other"
)

// CanonicalEntity is the normalized identity of one ingredient. It is
// produced once per run by the normalizer and is read-only afterward.
type CanonicalEntity struct {
	RawName        string      `json:"raw_name"`
	Class          EntityClass `json:"class"`
	LocalizedName  string      `json:"localized_name"`
	ScientificName string      `json:"scientific_name"`
	Rank           TaxonRank   `json:"rank"`
	SourceKingdom  string      `json:"source_kingdom"`
	PartOrOrigin   string      `json:"part_or_origin"`
}

// IngredientRow is one input row from the ingredient workbook.
type IngredientRow struct {
	Row           int      `json:"row"`
	Name          string   `json:"name"`
	Synonyms      []string `json:"synonyms,omitempty"`
	KingdomHint   string   `json:"kingdom_hint,omitempty"`
	ExistingLinks []string `json:"existing_links,omitempty"`
}
