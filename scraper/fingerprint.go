// scraper/fingerprint.go
package scraper

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/openadresse/moissonneur/models"
)

// Fingerprints are pure functions of logical content, never of transport
// incidentals: re-downloading identical bytes, or the same rows in a
// different order within a commune, always yields identical values.

// FileHash fingerprints the raw file bytes.
func FileHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CommuneFingerprints computes one fingerprint per commune present in the
// rows. Each row is hashed individually and the per-commune row hashes are
// sorted before being combined, which makes the result insensitive to row
// ordering within a commune.
func CommuneFingerprints(rows []models.BALRow) map[string]string {
	rowHashes := make(map[string][]string)
	for i := range rows {
		row := &rows[i]
		rowHashes[row.CodeCommune] = append(rowHashes[row.CodeCommune], hashRow(row))
	}

	fingerprints := make(map[string]string, len(rowHashes))
	for code, hashes := range rowHashes {
		sort.Strings(hashes)
		h := sha256.New()
		for _, rh := range hashes {
			h.Write([]byte(rh))
			h.Write([]byte{'\n'})
		}
		fingerprints[code] = hex.EncodeToString(h.Sum(nil))
	}
	return fingerprints
}

// DataHash combines the per-commune fingerprints into one aggregate value
// for the harvest record. Commune order does not matter.
func DataHash(fingerprints map[string]string) string {
	codes := make([]string, 0, len(fingerprints))
	for code := range fingerprints {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	h := sha256.New()
	for _, code := range codes {
		h.Write([]byte(code))
		h.Write([]byte{':'})
		h.Write([]byte(fingerprints[code]))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func hashRow(row *models.BALRow) string {
	// \x1f keeps adjacent fields from colliding ("ab"+"c" vs "a"+"bc").
	canonical := strings.Join([]string{
		row.CleInterop,
		row.CodeCommune,
		row.CommuneNom,
		row.VoieNom,
		row.LieuditNom,
		row.Numero,
		row.Suffixe,
		row.Position,
		row.Long,
		row.Lat,
		row.Source,
		row.DateDerMaj,
	}, "\x1f")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
