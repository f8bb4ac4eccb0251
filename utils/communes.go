// utils/communes.go
package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/openadresse/moissonneur/models"
)

// CommuneRegistry is the in-process snapshot of the commune reference data
// this service consumes (names, population, departement, EPCI membership).
// The authoritative registry lives elsewhere; a JSON extract can be loaded
// at startup and a small built-in table backs tests and dev runs.
type CommuneRegistry struct {
	communes map[string]models.Commune
}

func NewCommuneRegistry(communes []models.Commune) *CommuneRegistry {
	r := &CommuneRegistry{communes: make(map[string]models.Commune, len(communes))}
	for _, c := range communes {
		r.communes[strings.ToUpper(c.Code)] = c
	}
	return r
}

// LoadCommuneRegistry reads a JSON array of communes from disk.
func LoadCommuneRegistry(path string) (*CommuneRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read commune registry %s: %w", path, err)
	}
	var communes []models.Commune
	if err := json.Unmarshal(data, &communes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal commune registry %s: %w", path, err)
	}
	return NewCommuneRegistry(communes), nil
}

// DefaultCommuneRegistry returns a registry seeded with the built-in table.
func DefaultCommuneRegistry() *CommuneRegistry {
	return NewCommuneRegistry(defaultCommunes)
}

// Lookup returns the registry entry for a commune code.
func (r *CommuneRegistry) Lookup(code string) (models.Commune, bool) {
	c, ok := r.communes[strings.ToUpper(code)]
	return c, ok
}

// InPerimeter reports whether a commune falls inside any of the given
// perimeters. Departement perimeters match on the commune's departement
// code; EPCI perimeters resolve membership through the registry.
func (r *CommuneRegistry) InPerimeter(codeCommune string, perimeters []models.Perimeter) bool {
	commune, known := r.Lookup(codeCommune)
	for _, p := range perimeters {
		switch p.Type {
		case models.PerimeterCommune:
			if strings.EqualFold(p.Code, codeCommune) {
				return true
			}
		case models.PerimeterDepartement:
			dep := DepartementFromCommune(codeCommune)
			if known && commune.Departement != "" {
				dep = commune.Departement
			}
			if strings.EqualFold(p.Code, dep) {
				return true
			}
		case models.PerimeterEPCI:
			if known && strings.EqualFold(p.Code, commune.CodeEPCI) {
				return true
			}
		}
	}
	return false
}

// DepartementFromCommune derives the departement code from an INSEE commune
// code: three characters for the overseas 97x codes, two otherwise
// (including Corsica's 2A/2B).
func DepartementFromCommune(code string) string {
	if len(code) != 5 {
		return ""
	}
	if strings.HasPrefix(code, "97") {
		return code[:3]
	}
	return code[:2]
}

var defaultCommunes = []models.Commune{
	{Code: "01001", Nom: "L'Abergement-Clémenciat", Departement: "01", CodeEPCI: "200069193", Population: 832},
	{Code: "01002", Nom: "L'Abergement-de-Varey", Departement: "01", CodeEPCI: "240100883", Population: 267},
	{Code: "01004", Nom: "Ambérieu-en-Bugey", Departement: "01", CodeEPCI: "240100883", Population: 14288},
	{Code: "2A004", Nom: "Ajaccio", Departement: "2A", CodeEPCI: "242010056", Population: 73365},
	{Code: "33063", Nom: "Bordeaux", Departement: "33", CodeEPCI: "243300316", Population: 265328},
	{Code: "35238", Nom: "Rennes", Departement: "35", CodeEPCI: "243500139", Population: 225081},
	{Code: "44109", Nom: "Nantes", Departement: "44", CodeEPCI: "244400404", Population: 323204},
	{Code: "59350", Nom: "Lille", Departement: "59", CodeEPCI: "245900410", Population: 236234},
	{Code: "69123", Nom: "Lyon", Departement: "69", CodeEPCI: "200046977", Population: 522969},
	{Code: "75056", Nom: "Paris", Departement: "75", CodeEPCI: "200054781", Population: 2133111},
	{Code: "97209", Nom: "Fort-de-France", Departement: "972", CodeEPCI: "249720061", Population: 75165},
}
