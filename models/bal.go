// models/bal.go
package models

// BALRow is one address line of a BAL file.
// CSV tags match the BAL 1.3 column names exactly; CodeCommune is resolved
// by the parser (commune_insee column, else the cle_interop prefix) and is
// never read from the file directly.
type BALRow struct {
	CleInterop   string `csv:"cle_interop" json:"cleInterop"`
	CommuneInsee string `csv:"commune_insee" json:"-"`
	CommuneNom   string `csv:"commune_nom" json:"communeNom,omitempty"`
	VoieNom      string `csv:"voie_nom" json:"voieNom"`
	LieuditNom   string `csv:"lieudit_complement_nom" json:"lieuditComplementNom,omitempty"`
	Numero       string `csv:"numero" json:"numero"`
	Suffixe      string `csv:"suffixe" json:"suffixe,omitempty"`
	Position     string `csv:"position" json:"position,omitempty"`
	Long         string `csv:"long" json:"long,omitempty"`
	Lat          string `csv:"lat" json:"lat,omitempty"`
	Source       string `csv:"source" json:"source,omitempty"`
	DateDerMaj   string `csv:"date_der_maj" json:"dateDerMaj,omitempty"`

	CodeCommune string `csv:"-" json:"codeCommune"`
}

// CommuneStats accumulates row-level validation results for one commune.
type CommuneStats struct {
	NbRows           int
	NbRowsWithErrors int
	UniqueErrors     []string
}

// ParseResult is the structured outcome of parsing one BAL file: the valid
// rows (tagged with their commune code), plus per-commune and file-level
// defect counts. Row defects never abort a parse.
type ParseResult struct {
	Rows            []BALRow
	RowCount        int
	InvalidRowCount int
	Communes        map[string]*CommuneStats
}

// ExportAddress is one line of the flat combined export: a valid address row
// tagged with the source it came from and that source's license.
type ExportAddress struct {
	CleInterop  string `csv:"cle_interop" json:"cleInterop"`
	CodeCommune string `csv:"commune_insee" json:"codeCommune"`
	CommuneNom  string `csv:"commune_nom" json:"communeNom,omitempty"`
	VoieNom     string `csv:"voie_nom" json:"voieNom"`
	Numero      string `csv:"numero" json:"numero"`
	Suffixe     string `csv:"suffixe" json:"suffixe,omitempty"`
	Position    string `csv:"position" json:"position,omitempty"`
	Long        string `csv:"long" json:"long,omitempty"`
	Lat         string `csv:"lat" json:"lat,omitempty"`
	DateDerMaj  string `csv:"date_der_maj" json:"dateDerMaj,omitempty"`
	SourceID    string `csv:"source_id" json:"sourceId"`
	License     string `csv:"license" json:"license,omitempty"`
}

// SourceReport is the per-source processing summary emitted with each batch.
type SourceReport struct {
	SourceID         string   `json:"sourceId"`
	Title            string   `json:"title"`
	HarvestID        string   `json:"harvestId"`
	Status           string   `json:"status"`
	UpdateStatus     string   `json:"updateStatus,omitempty"`
	Error            string   `json:"error,omitempty"`
	NbRows           int      `json:"nbRows"`
	NbRowsWithErrors int      `json:"nbRowsWithErrors"`
	AcceptedRows     int      `json:"acceptedRows"`
	Communes         int      `json:"communes"`
	UniqueErrors     []string `json:"uniqueErrors,omitempty"`
}
