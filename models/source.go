// models/source.go
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID returns a 32-character hex identifier (a UUID with the dashes
// stripped), matching the varchar(32) primary keys in the schema.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Source is a harvestable BAL endpoint published by an organization.
// HarvestingSince is the harvest lock: it is non-nil exactly while a harvest
// of this source is in flight, and is only ever set through the store's
// compare-and-set acquire.
type Source struct {
	ID              string     `db:"id" json:"id"`
	OrganizationID  string     `db:"organization_id" json:"organizationId"`
	Title           string     `db:"title" json:"title"`
	URL             string     `db:"url" json:"url"`
	Description     string     `db:"description" json:"description,omitempty"`
	License         string     `db:"license" json:"license,omitempty"`
	Enabled         bool       `db:"enabled" json:"enabled"`
	LastHarvest     *time.Time `db:"last_harvest" json:"lastHarvest,omitempty"`
	HarvestingSince *time.Time `db:"harvesting_since" json:"harvestingSince,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updatedAt"`
	DeletedAt       *time.Time `db:"deleted_at" json:"deletedAt,omitempty"`
}

// Organization owns zero or more sources. Soft-deletable.
type Organization struct {
	ID        string     `db:"id" json:"id"`
	Name      string     `db:"name" json:"name"`
	Page      string     `db:"page" json:"page,omitempty"`
	Logo      string     `db:"logo" json:"logo,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time  `db:"updated_at" json:"updatedAt"`
	DeletedAt *time.Time `db:"deleted_at" json:"deletedAt,omitempty"`
}

// PerimeterType is the kind of administrative scope an organization claims.
type PerimeterType string

const (
	PerimeterCommune     PerimeterType = "commune"
	PerimeterDepartement PerimeterType = "departement"
	PerimeterEPCI        PerimeterType = "epci"
)

// Perimeter declares one element of an organization's authoritative
// geographic scope.
type Perimeter struct {
	ID             string        `db:"id" json:"id"`
	OrganizationID string        `db:"organization_id" json:"organizationId"`
	Type           PerimeterType `db:"type" json:"type"`
	Code           string        `db:"code" json:"code"`
}

// Commune is one entry of the commune registry: the reference metadata this
// service consumes but does not own.
type Commune struct {
	Code        string `json:"code"`
	Nom         string `json:"nom"`
	Departement string `json:"departement"`
	CodeEPCI    string `json:"codeEpci,omitempty"`
	Population  int64  `json:"population"`
}
