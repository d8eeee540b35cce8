package migrate

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/juju/mgo/v3/bson"
)

// Schema describes one entity kind: where it comes from in the source store,
// where it lands in the target store, and how a source document is normalized
// into a record. The table is static so kind metadata is never looked up by
// runtime type name.
type Schema struct {
	Kind       Kind
	Collection string
	Table      string
	Columns    []string
	Normalize  func(doc bson.M, now time.Time) (Record, error)
}

var schemas = map[Kind]Schema{
	KindActionKey: {
		Kind:       KindActionKey,
		Collection: "actionKeys",
		Table:      "action_key",
		Columns:    []string{"uuid", "organization_id", "type", "hash", "created_at"},
		Normalize:  normalizeActionKey,
	},
	KindAuditEntry: {
		Kind:       KindAuditEntry,
		Collection: "auditEntries",
		Table:      "audit",
		Columns:    []string{"type", "organization_id", "instance_statistics", "package_id", "created_at"},
		Normalize:  normalizeAuditEntry,
	},
	KindOrganization: {
		Kind:       KindOrganization,
		Collection: "organizations",
		Table:      "organization",
		Columns: []string{
			"organization_id", "name", "description", "email", "role",
			"token", "active", "logo", "created_at", "updated_at",
		},
		Normalize: normalizeOrganization,
	},
	KindPackage: {
		Kind:       KindPackage,
		Collection: "packages",
		Table:      "package",
		Columns: []string{
			"id", "name", "organization_id", "km_id", "version", "metamodel_version",
			"description", "readme", "license",
			"previous_package_id", "fork_of_package_id", "merge_checkpoint_package_id",
			"events", "created_at",
		},
		Normalize: normalizePackage,
	},
	KindTemplate: {
		Kind:       KindTemplate,
		Collection: "templates",
		Table:      "template",
		Columns: []string{
			"id", "name", "organization_id", "template_id", "version", "metamodel_version",
			"description", "readme", "license",
			"allowed_packages", "recommended_package_id", "formats", "created_at",
		},
		Normalize: normalizeTemplate,
	},
	KindTemplateAsset: {
		Kind:       KindTemplateAsset,
		Collection: "templates",
		Table:      "template_asset",
		Columns:    []string{"uuid", "template_id", "file_name", "content_type"},
		Normalize:  normalizeTemplateAsset,
	},
	KindTemplateFile: {
		Kind:       KindTemplateFile,
		Collection: "templates",
		Table:      "template_file",
		Columns:    []string{"uuid", "template_id", "file_name", "content"},
		Normalize:  normalizeTemplateFile,
	},
}

// SchemaFor returns the static schema for kind.
func SchemaFor(kind Kind) Schema { return schemas[kind] }

func normalizeActionKey(doc bson.M, now time.Time) (Record, error) {
	uid, err := reqString(KindActionKey, doc, "uuid")
	if err != nil {
		return nil, err
	}
	orgID, err := reqString(KindActionKey, doc, "organizationId")
	if err != nil {
		return nil, err
	}
	typ, err := reqString(KindActionKey, doc, "type")
	if err != nil {
		return nil, err
	}
	hash, err := reqString(KindActionKey, doc, "hash")
	if err != nil {
		return nil, err
	}
	return &ActionKey{
		UUID:           uid,
		OrganizationID: orgID,
		Type:           typ,
		Hash:           hash,
		CreatedAt:      docTime(doc, "createdAt", now),
	}, nil
}

func normalizeAuditEntry(doc bson.M, now time.Time) (Record, error) {
	orgID, err := reqString(KindAuditEntry, doc, "organizationId")
	if err != nil {
		return nil, err
	}
	return &AuditEntry{
		Key:                fmt.Sprintf("%s_%s", orgID, uuid.NewString()),
		Type:               defString(doc, "type", "ListPackagesAuditEntry"),
		OrganizationID:     orgID,
		InstanceStatistics: doc["instanceStatistics"],
		PackageID:          defString(doc, "packageId", ""),
		CreatedAt:          docTime(doc, "createdAt", now),
	}, nil
}

func normalizeOrganization(doc bson.M, now time.Time) (Record, error) {
	rec := &Organization{
		CreatedAt: docTime(doc, "createdAt", now),
		UpdatedAt: docTime(doc, "updatedAt", now),
	}
	fields := []struct {
		name string
		dst  *string
	}{
		{"organizationId", &rec.OrganizationID},
		{"name", &rec.Name},
		{"description", &rec.Description},
		{"email", &rec.Email},
		{"role", &rec.Role},
		{"token", &rec.Token},
		{"logo", &rec.Logo},
	}
	for _, f := range fields {
		v, err := reqString(KindOrganization, doc, f.name)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}
	active, err := reqBool(KindOrganization, doc, "active")
	if err != nil {
		return nil, err
	}
	rec.Active = active
	return rec, nil
}

func normalizePackage(doc bson.M, now time.Time) (Record, error) {
	rec := &Package{
		PreviousPackageID:        optString(doc, "previousPackageId"),
		ForkOfPackageID:          optString(doc, "forkOfPackageId"),
		MergeCheckpointPackageID: optString(doc, "mergeCheckpointPackageId"),
		Events:                   doc["events"],
		CreatedAt:                docTime(doc, "createdAt", now),
	}
	fields := []struct {
		name string
		dst  *string
	}{
		{"id", &rec.PkgID},
		{"name", &rec.Name},
		{"organizationId", &rec.OrganizationID},
		{"kmId", &rec.KMID},
		{"version", &rec.Version},
		{"description", &rec.Description},
		{"readme", &rec.Readme},
		{"license", &rec.License},
	}
	for _, f := range fields {
		v, err := reqString(KindPackage, doc, f.name)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}
	mv, err := reqInt(KindPackage, doc, "metamodelVersion")
	if err != nil {
		return nil, err
	}
	rec.MetamodelVersion = mv
	return rec, nil
}

func normalizeTemplate(doc bson.M, now time.Time) (Record, error) {
	rec := &Template{
		AllowedPackages:      doc["allowedPackages"],
		RecommendedPackageID: optString(doc, "recommendedPackageId"),
		Formats:              doc["formats"],
		CreatedAt:            docTime(doc, "createdAt", now),
	}
	fields := []struct {
		name string
		dst  *string
	}{
		{"id", &rec.TplID},
		{"name", &rec.Name},
		{"organizationId", &rec.OrganizationID},
		{"templateId", &rec.TemplateID},
		{"version", &rec.Version},
		{"description", &rec.Description},
		{"readme", &rec.Readme},
		{"license", &rec.License},
	}
	for _, f := range fields {
		v, err := reqString(KindTemplate, doc, f.name)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}
	mv, err := reqInt(KindTemplate, doc, "metamodelVersion")
	if err != nil {
		return nil, err
	}
	rec.MetamodelVersion = mv
	return rec, nil
}

// normalizeTemplateAsset expects the parent template ID to be stamped onto the
// embedded document under templateId before normalization. The destination
// UUID is freshly generated; the source key survives as OriginalUUID.
func normalizeTemplateAsset(doc bson.M, _ time.Time) (Record, error) {
	originalUUID, err := reqString(KindTemplateAsset, doc, "uuid")
	if err != nil {
		return nil, err
	}
	templateID, err := reqString(KindTemplateAsset, doc, "templateId")
	if err != nil {
		return nil, err
	}
	return &TemplateAsset{
		UUID:         uuid.NewString(),
		TemplateID:   templateID,
		OriginalUUID: originalUUID,
		FileName:     defString(doc, "fileName", ""),
		ContentType:  defString(doc, "contentType", ""),
	}, nil
}

func normalizeTemplateFile(doc bson.M, _ time.Time) (Record, error) {
	uid, err := reqString(KindTemplateFile, doc, "uuid")
	if err != nil {
		return nil, err
	}
	templateID, err := reqString(KindTemplateFile, doc, "templateId")
	if err != nil {
		return nil, err
	}
	return &TemplateFile{
		UUID:       uid,
		TemplateID: templateID,
		FileName:   defString(doc, "fileName", ""),
		Content:    defString(doc, "content", ""),
	}, nil
}

func reqString(kind Kind, doc bson.M, field string) (string, error) {
	v, ok := doc[field].(string)
	if !ok {
		return "", fmt.Errorf("normalize %s: missing required field %q", kind, field)
	}
	return v, nil
}

func reqBool(kind Kind, doc bson.M, field string) (bool, error) {
	v, ok := doc[field].(bool)
	if !ok {
		return false, fmt.Errorf("normalize %s: missing required field %q", kind, field)
	}
	return v, nil
}

func reqInt(kind Kind, doc bson.M, field string) (int64, error) {
	switch v := doc[field].(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	}
	return 0, fmt.Errorf("normalize %s: missing required field %q", kind, field)
}

func defString(doc bson.M, field, fallback string) string {
	if v, ok := doc[field].(string); ok {
		return v
	}
	return fallback
}

func optString(doc bson.M, field string) *string {
	if v, ok := doc[field].(string); ok {
		return &v
	}
	return nil
}

// docTime reads a timestamp field, defaulting to the run-wide reference
// instant when the source document carries none.
func docTime(doc bson.M, field string, now time.Time) time.Time {
	if v, ok := doc[field].(time.Time); ok {
		return v
	}
	return now
}
