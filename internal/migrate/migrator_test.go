package migrate

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/juju/mgo/v3/bson"
	"github.com/rs/zerolog"

	"registrymigrate/internal/metrics"
)

type fakeSource struct {
	now         time.Time
	collections map[string][]bson.M
	embedded    map[string][]Embedded
	assets      map[string][]byte
	closed      bool
}

func (f *fakeSource) Now() time.Time { return f.now }

func (f *fakeSource) LoadCollection(_ context.Context, collection string) ([]bson.M, error) {
	return f.collections[collection], nil
}

func (f *fakeSource) LoadEmbedded(_ context.Context, _, _, childField string) ([]Embedded, error) {
	return f.embedded[childField], nil
}

func (f *fakeSource) FetchAssetPayload(_ context.Context, originalUUID string) ([]byte, error) {
	data, ok := f.assets[originalUUID]
	if !ok {
		return nil, nil
	}
	return data, nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

type fakeTarget struct {
	deletes    []string
	disabled   []string
	enabled    []string
	inserts    map[string][][]any
	tableOrder []string
	commits    int
	closed     bool
	failDelete bool
	failCommit bool
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{inserts: make(map[string][][]any)}
}

func (f *fakeTarget) Name() string { return "faketarget" }

func (f *fakeTarget) DeleteAll(_ context.Context, table string) (int64, error) {
	if f.failDelete {
		return 0, fmt.Errorf("connection lost")
	}
	f.deletes = append(f.deletes, table)
	return 2, nil
}

func (f *fakeTarget) DisableTriggers(_ context.Context, table string) error {
	f.disabled = append(f.disabled, table)
	return nil
}

func (f *fakeTarget) EnableTriggers(_ context.Context, table string) error {
	f.enabled = append(f.enabled, table)
	return nil
}

func (f *fakeTarget) InsertBatch(_ context.Context, table string, _ []string, rows [][]any) error {
	f.tableOrder = append(f.tableOrder, table)
	f.inserts[table] = append(f.inserts[table], rows...)
	return nil
}

func (f *fakeTarget) Commit(context.Context) error {
	if f.failCommit {
		return fmt.Errorf("commit refused")
	}
	f.commits++
	return nil
}

func (f *fakeTarget) Close() error {
	f.closed = true
	return nil
}

type storedAsset struct {
	contentType string
	data        []byte
}

type fakeObjects struct {
	bucket           bool
	created          int
	templates        int
	deletedTemplates int
	stored           map[string]storedAsset
}

func newFakeObjects(bucket bool) *fakeObjects {
	return &fakeObjects{bucket: bucket, stored: make(map[string]storedAsset)}
}

func (f *fakeObjects) BucketExists(context.Context) (bool, error) { return f.bucket, nil }

func (f *fakeObjects) CreateBucket(context.Context) error {
	f.bucket = true
	f.created++
	return nil
}

func (f *fakeObjects) CountTemplates(context.Context) (int, error) { return f.templates, nil }

func (f *fakeObjects) DeleteTemplates(context.Context) error {
	f.deletedTemplates += f.templates
	f.templates = 0
	return nil
}

func (f *fakeObjects) StoreAsset(_ context.Context, templateID, assetID, contentType string, data []byte) error {
	if !f.bucket {
		return fmt.Errorf("bucket does not exist")
	}
	f.stored["templates/"+templateID+"/"+assetID] = storedAsset{contentType: contentType, data: data}
	return nil
}

func orgDoc(id string) bson.M {
	return bson.M{
		"organizationId": id,
		"name":           "Org " + id,
		"description":    "d",
		"email":          id + "@example.com",
		"role":           "admin",
		"token":          "tok",
		"active":         true,
		"logo":           "",
	}
}

func packageDoc(id string) bson.M {
	return bson.M{
		"id":               id,
		"name":             "KM",
		"organizationId":   "org",
		"kmId":             "core",
		"version":          "1.0.0",
		"metamodelVersion": 3,
		"description":      "d",
		"readme":           "r",
		"license":          "MIT",
	}
}

func templateDoc(id string) bson.M {
	return bson.M{
		"id":               id,
		"name":             "Questionnaire Report",
		"organizationId":   "org",
		"templateId":       "report",
		"version":          "1.0.0",
		"metamodelVersion": 3,
		"description":      "d",
		"readme":           "r",
		"license":          "MIT",
	}
}

const fixtureTemplateID = "org:report:1.0.0"

func migrationFixture() *fakeSource {
	return &fakeSource{
		now: referenceNow,
		collections: map[string][]bson.M{
			"actionKeys":    {actionKeyDoc()},
			"auditEntries":  {bson.M{"organizationId": "org"}},
			"organizations": {orgDoc("org")},
			"packages":      {packageDoc("org:core:1.0.0")},
			"templates":     {templateDoc(fixtureTemplateID)},
		},
		embedded: map[string][]Embedded{
			"assets": {{ParentID: fixtureTemplateID, Doc: bson.M{
				"uuid": "oa1", "fileName": "logo.png", "contentType": "image/png",
			}}},
			"files": {{ParentID: fixtureTemplateID, Doc: bson.M{
				"uuid": "f1", "fileName": "main.tex", "content": "\\documentclass{article}",
			}}},
		},
		assets: map[string][]byte{"oa1": []byte("png-bytes")},
	}
}

func newTestMigrator(src *fakeSource, tgt *fakeTarget, obj *fakeObjects, opts Options) (*Migrator, *metrics.Run) {
	run := metrics.NewRun()
	return New(src, tgt, obj, opts, zerolog.Nop(), run), run
}

func counter(t *testing.T, run *metrics.Run, key string) float64 {
	t.Helper()
	summary, err := run.Summary()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	return summary[key]
}

func TestMigrateHappyPath(t *testing.T) {
	src := migrationFixture()
	tgt := newFakeTarget()
	obj := newFakeObjects(true)
	m, run := newTestMigrator(src, tgt, obj, Options{})

	if err := m.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	wantDeletes := []string{"action_key", "audit", "organization", "template_asset", "template_file", "template", "package"}
	if strings.Join(tgt.deletes, ",") != strings.Join(wantDeletes, ",") {
		t.Fatalf("cleanup order mismatch: %v", tgt.deletes)
	}
	wantInserts := []string{"package", "template", "audit", "organization", "action_key", "template_asset", "template_file"}
	if strings.Join(tgt.tableOrder, ",") != strings.Join(wantInserts, ",") {
		t.Fatalf("insert order mismatch: %v", tgt.tableOrder)
	}
	if len(tgt.disabled) != 1 || tgt.disabled[0] != "package" {
		t.Fatalf("package triggers must be suspended, got %v", tgt.disabled)
	}
	if len(tgt.enabled) != 1 || tgt.enabled[0] != "package" {
		t.Fatalf("package triggers must be re-enabled, got %v", tgt.enabled)
	}
	if tgt.commits != 2 {
		t.Fatalf("expected cleanup and insert commits, got %d", tgt.commits)
	}

	assetUUID := m.Snapshot().TemplateAssets[0].UUID
	key := "templates/" + fixtureTemplateID + "/" + assetUUID
	stored, ok := obj.stored[key]
	if !ok {
		t.Fatalf("asset not stored under %s, stored: %v", key, obj.stored)
	}
	if stored.contentType != "image/png" || string(stored.data) != "png-bytes" {
		t.Fatalf("stored asset mismatch: %+v", stored)
	}
	if !src.closed || !tgt.closed {
		t.Fatalf("connections must be released")
	}
	if got := counter(t, run, "migration_assets_transferred_total"); got != 1 {
		t.Fatalf("expected 1 transferred asset, got %v", got)
	}
}

func TestMigrateDryRunDoesNotPersist(t *testing.T) {
	src := migrationFixture()
	tgt := newFakeTarget()
	obj := newFakeObjects(false)
	m, _ := newTestMigrator(src, tgt, obj, Options{DryRun: true})

	if err := m.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if tgt.commits != 0 {
		t.Fatalf("dry run must never commit, got %d commits", tgt.commits)
	}
	if len(tgt.deletes) != 7 {
		t.Fatalf("deletes must still execute for accurate counts, got %v", tgt.deletes)
	}
	if len(tgt.inserts) == 0 {
		t.Fatalf("insert statements must still execute in dry run")
	}
	if obj.created != 0 {
		t.Fatalf("dry run must not create the bucket")
	}
	if len(obj.stored) != 0 {
		t.Fatalf("dry run must not upload assets, got %v", obj.stored)
	}
}

func TestMigrateAbortsOnViolationWithoutFixIntegrity(t *testing.T) {
	src := migrationFixture()
	src.collections["actionKeys"] = append(src.collections["actionKeys"], actionKeyDoc())
	tgt := newFakeTarget()
	obj := newFakeObjects(true)
	m, _ := newTestMigrator(src, tgt, obj, Options{})

	err := m.Migrate(context.Background())
	if err == nil {
		t.Fatalf("expected fatal integrity error")
	}
	if !strings.Contains(err.Error(), "fix-integrity") {
		t.Fatalf("error must point at the override flag, got %v", err)
	}
	if len(tgt.inserts) != 0 {
		t.Fatalf("no inserts may run after a failed verification, got %v", tgt.inserts)
	}
	if len(obj.stored) != 0 {
		t.Fatalf("no assets may transfer after a failed verification")
	}
	if !src.closed || !tgt.closed {
		t.Fatalf("connections must be released on abort")
	}
}

func TestMigrateFixIntegrityDropsInvalidRecords(t *testing.T) {
	src := migrationFixture()
	src.collections["actionKeys"] = append(src.collections["actionKeys"], actionKeyDoc())
	tgt := newFakeTarget()
	obj := newFakeObjects(true)
	m, run := newTestMigrator(src, tgt, obj, Options{FixIntegrity: true})

	if err := m.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if got := len(tgt.inserts["action_key"]); got != 1 {
		t.Fatalf("expected 1 of 2 action keys inserted, got %d", got)
	}
	if got := counter(t, run, "migration_records_dropped_total{table=action_key}"); got != 1 {
		t.Fatalf("expected 1 dropped record, got %v", got)
	}
	if got := counter(t, run, "migration_integrity_violations_total"); got != 1 {
		t.Fatalf("expected 1 violation counted, got %v", got)
	}
}

func TestMigrateInvalidRecordsExcludedEverywhere(t *testing.T) {
	src := migrationFixture()
	// Point the embedded asset at a template that does not exist; the asset
	// must neither be inserted nor transferred.
	src.embedded["assets"] = []Embedded{{ParentID: "org:ghost:1.0.0", Doc: bson.M{
		"uuid": "oa1", "fileName": "logo.png", "contentType": "image/png",
	}}}
	tgt := newFakeTarget()
	obj := newFakeObjects(true)
	m, _ := newTestMigrator(src, tgt, obj, Options{FixIntegrity: true})

	if err := m.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if got := len(tgt.inserts["template_asset"]); got != 0 {
		t.Fatalf("invalid asset must not be inserted, got %d rows", got)
	}
	if len(obj.stored) != 0 {
		t.Fatalf("invalid asset must not be transferred, got %v", obj.stored)
	}
}

func TestMigrateSkipsAssetWithoutPayload(t *testing.T) {
	src := migrationFixture()
	src.assets = map[string][]byte{}
	tgt := newFakeTarget()
	obj := newFakeObjects(true)
	m, run := newTestMigrator(src, tgt, obj, Options{})

	if err := m.Migrate(context.Background()); err != nil {
		t.Fatalf("missing payload must not abort the run: %v", err)
	}
	if len(obj.stored) != 0 {
		t.Fatalf("nothing must be stored, got %v", obj.stored)
	}
	if got := counter(t, run, "migration_assets_skipped_total"); got != 1 {
		t.Fatalf("expected 1 skipped asset, got %v", got)
	}
	if got := counter(t, run, "migration_assets_transferred_total"); got != 0 {
		t.Fatalf("expected 0 transferred assets, got %v", got)
	}
}

func TestMigrateCreatesBucketWhenMissing(t *testing.T) {
	src := migrationFixture()
	tgt := newFakeTarget()
	obj := newFakeObjects(false)
	m, _ := newTestMigrator(src, tgt, obj, Options{})

	if err := m.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if obj.created != 1 {
		t.Fatalf("expected bucket creation, got %d", obj.created)
	}
}

func TestMigrateCleansExistingTemplates(t *testing.T) {
	src := migrationFixture()
	tgt := newFakeTarget()
	obj := newFakeObjects(true)
	obj.templates = 3
	m, _ := newTestMigrator(src, tgt, obj, Options{})

	if err := m.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if obj.deletedTemplates != 3 {
		t.Fatalf("existing templates must be deleted, got %d", obj.deletedTemplates)
	}
	if obj.created != 0 {
		t.Fatalf("existing bucket must not be recreated")
	}
}

func TestMigrateNormalizationErrorIsFatal(t *testing.T) {
	src := migrationFixture()
	doc := orgDoc("org")
	delete(doc, "email")
	src.collections["organizations"] = []bson.M{doc}
	tgt := newFakeTarget()
	obj := newFakeObjects(true)
	m, _ := newTestMigrator(src, tgt, obj, Options{})

	err := m.Migrate(context.Background())
	if err == nil || !strings.Contains(err.Error(), "Organization") {
		t.Fatalf("expected normalization error naming the kind, got %v", err)
	}
	if len(tgt.inserts) != 0 {
		t.Fatalf("load failure must abort before insertion")
	}
}

func TestMigrateCleanupBackendErrorIsFatal(t *testing.T) {
	src := migrationFixture()
	tgt := newFakeTarget()
	tgt.failDelete = true
	obj := newFakeObjects(true)
	m, _ := newTestMigrator(src, tgt, obj, Options{})

	err := m.Migrate(context.Background())
	if err == nil {
		t.Fatalf("expected fatal cleanup error")
	}
	if !strings.Contains(err.Error(), "faketarget") || !strings.Contains(err.Error(), "connection lost") {
		t.Fatalf("error must carry backend name and cause, got %v", err)
	}
	if !src.closed || !tgt.closed {
		t.Fatalf("connections must be released on abort")
	}
}

func TestMigrateCommitFailureIsFatal(t *testing.T) {
	src := migrationFixture()
	tgt := newFakeTarget()
	obj := newFakeObjects(true)
	m, _ := newTestMigrator(src, tgt, obj, Options{DryRun: false})
	// Cleanup commit succeeds, then fail the insert commit.
	tgt.failCommit = false
	if err := m.cleanupTarget(context.Background()); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	tgt.failCommit = true
	if err := m.insert(context.Background()); err == nil || !strings.Contains(err.Error(), "commit") {
		t.Fatalf("expected commit failure, got %v", err)
	}
}
