// scraper/bal_parser.go
package scraper

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"

	"github.com/openadresse/moissonneur/models"
)

// ParseError means the file could not be interpreted as a BAL CSV at all
// (wrong delimiter scheme, missing mandatory columns). Row-level defects are
// never a ParseError; they are counted in the result instead.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "failed to parse BAL file: " + e.Reason
}

// Columns every BAL file must declare. commune_insee is optional: the
// commune code can also be derived from the cle_interop prefix.
var mandatoryColumns = []string{"cle_interop", "voie_nom", "numero"}

// ParseBAL turns raw file bytes into address rows tagged with their commune
// code. Malformed rows are tolerated and counted per commune; only a file
// that is not BAL-shaped fails the whole parse.
func ParseBAL(data []byte) (*models.ParseResult, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")) // UTF-8 BOM

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = detectDelimiter(data)
	reader.LazyQuotes = true

	decoder, err := csvutil.NewDecoder(reader)
	if err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("unreadable header: %v", err)}
	}

	header := decoder.Header()
	if err := checkMandatoryColumns(header); err != nil {
		return nil, err
	}

	result := &models.ParseResult{
		Communes: make(map[string]*models.CommuneStats),
	}
	uniqueErrors := make(map[string]map[string]struct{})

	for {
		var row models.BALRow
		err := decoder.Decode(&row)
		if err == io.EOF {
			break
		}
		result.RowCount++
		if err != nil {
			// Structural defect in this record (field count, quoting).
			// The reader has already consumed the line; keep going.
			result.InvalidRowCount++
			continue
		}

		codeCommune := resolveCodeCommune(&row)
		if codeCommune == "" {
			result.InvalidRowCount++
			continue
		}
		row.CodeCommune = codeCommune

		stats := result.Communes[codeCommune]
		if stats == nil {
			stats = &models.CommuneStats{}
			result.Communes[codeCommune] = stats
			uniqueErrors[codeCommune] = make(map[string]struct{})
		}
		stats.NbRows++

		if rowErr := validateRow(&row); rowErr != "" {
			stats.NbRowsWithErrors++
			result.InvalidRowCount++
			uniqueErrors[codeCommune][rowErr] = struct{}{}
			continue
		}

		result.Rows = append(result.Rows, row)
	}

	for code, errs := range uniqueErrors {
		if len(errs) == 0 {
			continue
		}
		list := make([]string, 0, len(errs))
		for e := range errs {
			list = append(list, e)
		}
		sort.Strings(list)
		result.Communes[code].UniqueErrors = list
	}

	log.Printf("Scraper: parsed %d rows (%d invalid) across %d communes\n",
		result.RowCount, result.InvalidRowCount, len(result.Communes))
	return result, nil
}

// detectDelimiter sniffs the header line. BAL files are normally
// semicolon-separated but comma-separated exports exist in the wild.
func detectDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	if bytes.Count(line, []byte(",")) > bytes.Count(line, []byte(";")) {
		return ','
	}
	return ';'
}

func checkMandatoryColumns(header []string) error {
	present := make(map[string]bool, len(header))
	for _, col := range header {
		present[strings.TrimSpace(strings.ToLower(col))] = true
	}
	var missing []string
	for _, col := range mandatoryColumns {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return &ParseError{Reason: "missing mandatory columns: " + strings.Join(missing, ", ")}
	}
	return nil
}

// resolveCodeCommune prefers the commune_insee column and falls back to the
// cle_interop prefix (e.g. "01001_0001_00042" -> "01001"). Returns "" when
// no valid code can be derived.
func resolveCodeCommune(row *models.BALRow) string {
	if isValidCodeCommune(row.CommuneInsee) {
		return strings.ToUpper(row.CommuneInsee)
	}
	prefix, _, found := strings.Cut(row.CleInterop, "_")
	if found && isValidCodeCommune(prefix) {
		return strings.ToUpper(prefix)
	}
	return ""
}

// isValidCodeCommune accepts five-character INSEE codes, including the
// Corsican 2A/2B department prefixes.
func isValidCodeCommune(code string) bool {
	if len(code) != 5 {
		return false
	}
	for i, r := range code {
		if r >= '0' && r <= '9' {
			continue
		}
		if i == 1 && (r == 'A' || r == 'B' || r == 'a' || r == 'b') {
			continue
		}
		return false
	}
	return true
}

func validateRow(row *models.BALRow) string {
	if strings.TrimSpace(row.VoieNom) == "" {
		return "voie_nom is empty"
	}
	numero, err := strconv.Atoi(strings.TrimSpace(row.Numero))
	if err != nil {
		return "numero is not a number"
	}
	if numero < 0 || numero > 99999 {
		return "numero out of range"
	}
	return ""
}
