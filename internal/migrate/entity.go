// Package migrate implements the registry migration core: the in-memory
// entity snapshot loaded from the source document store, the integrity
// checker that computes the maximal consistent subset of that snapshot, and
// the orchestrator that drives the cleanup/load/verify/insert/transfer
// pipeline against the three backend stores.
package migrate

import "time"

// Marker is the per-record integrity state. Records start Valid and may be
// flipped to Invalid exactly once; there is no transition back.
type Marker int

const (
	Valid Marker = iota
	Invalid
)

// Kind identifies one of the seven migrated entity kinds. The string value
// is used verbatim in violation messages.
type Kind string

const (
	KindActionKey     Kind = "ActionKey"
	KindAuditEntry    Kind = "AuditEntry"
	KindOrganization  Kind = "Organization"
	KindPackage       Kind = "Package"
	KindTemplate      Kind = "Template"
	KindTemplateAsset Kind = "TemplateAsset"
	KindTemplateFile  Kind = "TemplateFile"
)

// kindOrder fixes the scan order for integrity passes.
var kindOrder = []Kind{
	KindActionKey,
	KindAuditEntry,
	KindOrganization,
	KindPackage,
	KindTemplate,
	KindTemplateAsset,
	KindTemplateFile,
}

// Record is the common surface of all entity records. Values materializes
// the ordered destination tuple aligned with the kind's column list.
type Record interface {
	ID() string
	Valid() bool
	Invalidate()
	Values() ([]any, error)
}

// integrity is embedded by every entity struct and carries the one-way
// Valid/Invalid marker.
type integrity struct {
	marker Marker
}

func (i *integrity) Valid() bool { return i.marker == Valid }

func (i *integrity) Invalidate() { i.marker = Invalid }

// ActionKey is an API action key owned by an organization.
type ActionKey struct {
	integrity
	UUID           string
	OrganizationID string
	Type           string
	Hash           string
	CreatedAt      time.Time
}

func (a *ActionKey) ID() string { return a.UUID }

func (a *ActionKey) Values() ([]any, error) {
	return []any{a.UUID, a.OrganizationID, a.Type, a.Hash, a.CreatedAt}, nil
}

// AuditEntry records one registry API interaction. The source collection has
// no natural key, so Key is synthesized once at normalization time from the
// organization ID and a fresh random token.
type AuditEntry struct {
	integrity
	Key                string
	Type               string
	OrganizationID     string
	InstanceStatistics any
	PackageID          string
	CreatedAt          time.Time
}

func (a *AuditEntry) ID() string { return a.Key }

func (a *AuditEntry) Values() ([]any, error) {
	stats, err := encodeJSON(a.InstanceStatistics)
	if err != nil {
		return nil, err
	}
	return []any{a.Type, a.OrganizationID, stats, a.PackageID, a.CreatedAt}, nil
}

// Organization is a registry account.
type Organization struct {
	integrity
	OrganizationID string
	Name           string
	Description    string
	Email          string
	Role           string
	Token          string
	Active         bool
	Logo           string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (o *Organization) ID() string { return o.OrganizationID }

func (o *Organization) Values() ([]any, error) {
	return []any{
		o.OrganizationID, o.Name, o.Description, o.Email, o.Role,
		o.Token, o.Active, o.Logo, o.CreatedAt, o.UpdatedAt,
	}, nil
}

// Package is a knowledge model package. The three package references are
// optional and may point at other packages in the same snapshot, including
// forward references.
type Package struct {
	integrity
	PkgID                    string
	Name                     string
	OrganizationID           string
	KMID                     string
	Version                  string
	MetamodelVersion         int64
	Description              string
	Readme                   string
	License                  string
	PreviousPackageID        *string
	ForkOfPackageID          *string
	MergeCheckpointPackageID *string
	Events                   any
	CreatedAt                time.Time
}

func (p *Package) ID() string { return p.PkgID }

func (p *Package) Values() ([]any, error) {
	events, err := encodeJSON(p.Events)
	if err != nil {
		return nil, err
	}
	return []any{
		p.PkgID, p.Name, p.OrganizationID, p.KMID, p.Version, p.MetamodelVersion,
		p.Description, p.Readme, p.License,
		p.PreviousPackageID, p.ForkOfPackageID, p.MergeCheckpointPackageID,
		events, p.CreatedAt,
	}, nil
}

// Template is a document template definition.
type Template struct {
	integrity
	TplID                string
	Name                 string
	OrganizationID       string
	TemplateID           string
	Version              string
	MetamodelVersion     int64
	Description          string
	Readme               string
	License              string
	AllowedPackages      any
	RecommendedPackageID *string
	Formats              any
	CreatedAt            time.Time
}

func (t *Template) ID() string { return t.TplID }

func (t *Template) Values() ([]any, error) {
	allowed, err := encodeJSON(t.AllowedPackages)
	if err != nil {
		return nil, err
	}
	formats, err := encodeJSON(t.Formats)
	if err != nil {
		return nil, err
	}
	return []any{
		t.TplID, t.Name, t.OrganizationID, t.TemplateID, t.Version, t.MetamodelVersion,
		t.Description, t.Readme, t.License,
		allowed, t.RecommendedPackageID, formats, t.CreatedAt,
	}, nil
}

// TemplateAsset is a binary asset embedded in a template document. It gets a
// fresh UUID for the destination while OriginalUUID keeps the source key used
// to fetch the payload during asset transfer.
type TemplateAsset struct {
	integrity
	UUID         string
	TemplateID   string
	OriginalUUID string
	FileName     string
	ContentType  string
}

func (a *TemplateAsset) ID() string { return a.UUID }

func (a *TemplateAsset) Values() ([]any, error) {
	return []any{a.UUID, a.TemplateID, a.FileName, a.ContentType}, nil
}

// TemplateFile is a text file embedded in a template document.
type TemplateFile struct {
	integrity
	UUID       string
	TemplateID string
	FileName   string
	Content    string
}

func (f *TemplateFile) ID() string { return f.UUID }

func (f *TemplateFile) Values() ([]any, error) {
	return []any{f.UUID, f.TemplateID, f.FileName, f.Content}, nil
}

// Snapshot holds all entity collections for one run, in source insertion
// order. It is populated once during the load phase and mutated only by
// flipping integrity markers.
type Snapshot struct {
	ActionKeys     []*ActionKey
	AuditEntries   []*AuditEntry
	Organizations  []*Organization
	Packages       []*Package
	Templates      []*Template
	TemplateAssets []*TemplateAsset
	TemplateFiles  []*TemplateFile
}

// Add appends rec to the collection for kind. The record must be of the
// concrete type registered for that kind.
func (s *Snapshot) Add(kind Kind, rec Record) {
	switch kind {
	case KindActionKey:
		s.ActionKeys = append(s.ActionKeys, rec.(*ActionKey))
	case KindAuditEntry:
		s.AuditEntries = append(s.AuditEntries, rec.(*AuditEntry))
	case KindOrganization:
		s.Organizations = append(s.Organizations, rec.(*Organization))
	case KindPackage:
		s.Packages = append(s.Packages, rec.(*Package))
	case KindTemplate:
		s.Templates = append(s.Templates, rec.(*Template))
	case KindTemplateAsset:
		s.TemplateAssets = append(s.TemplateAssets, rec.(*TemplateAsset))
	case KindTemplateFile:
		s.TemplateFiles = append(s.TemplateFiles, rec.(*TemplateFile))
	}
}

// Records returns a read view over the collection for kind in insertion
// order, including records already marked Invalid.
func (s *Snapshot) Records(kind Kind) []Record {
	switch kind {
	case KindActionKey:
		return asRecords(s.ActionKeys)
	case KindAuditEntry:
		return asRecords(s.AuditEntries)
	case KindOrganization:
		return asRecords(s.Organizations)
	case KindPackage:
		return asRecords(s.Packages)
	case KindTemplate:
		return asRecords(s.Templates)
	case KindTemplateAsset:
		return asRecords(s.TemplateAssets)
	case KindTemplateFile:
		return asRecords(s.TemplateFiles)
	}
	return nil
}

// Total counts records across all kinds.
func (s *Snapshot) Total() int {
	n := 0
	for _, kind := range kindOrder {
		n += len(s.Records(kind))
	}
	return n
}

func asRecords[T Record](items []T) []Record {
	out := make([]Record, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}
