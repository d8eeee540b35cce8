package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"registrymigrate/internal/metrics"
)

// Options are the operator-facing behavior flags. DryRun suppresses every
// persisting call site (commits, bucket mutations, uploads) while leaving the
// surrounding logic and logging in place. FixIntegrity lets the run proceed
// past integrity violations by dropping Invalid records instead of aborting.
type Options struct {
	DryRun       bool
	FixIntegrity bool
}

// cleanupTables is the destination delete order: children before parents so
// foreign keys never block a delete.
var cleanupTables = []string{
	"action_key",
	"audit",
	"organization",
	"template_asset",
	"template_file",
	"template",
	"package",
}

// simpleLoads are the kinds loaded as whole top-level collections.
var simpleLoads = []Kind{
	KindActionKey,
	KindAuditEntry,
	KindOrganization,
	KindPackage,
	KindTemplate,
}

// nestedLoads are the kinds embedded inside template documents; each child is
// stamped with its parent template ID before normalization.
var nestedLoads = []struct {
	kind             Kind
	parentCollection string
	parentIDField    string
	childField       string
	stampField       string
}{
	{KindTemplateAsset, "templates", "id", "assets", "templateId"},
	{KindTemplateFile, "templates", "id", "files", "templateId"},
}

// insertOrder respects foreign-key dependencies. package is self-referential
// and may hold forward references, so its triggers are suspended around the
// batch.
var insertOrder = []struct {
	kind            Kind
	suspendTriggers bool
}{
	{KindPackage, true},
	{KindTemplate, false},
	{KindAuditEntry, false},
	{KindOrganization, false},
	{KindActionKey, false},
	{KindTemplateAsset, false},
	{KindTemplateFile, false},
}

// Migrator drives the end-to-end registry migration pipeline.
type Migrator struct {
	source  SourceStore
	target  TargetStore
	objects ObjectStore
	opts    Options
	log     zerolog.Logger
	run     *metrics.Run
	snap    *Snapshot
	now     time.Time
}

// New wires a migrator. All backend connections are assumed open; Migrate
// releases them on every exit path.
func New(source SourceStore, target TargetStore, objects ObjectStore, opts Options, log zerolog.Logger, run *metrics.Run) *Migrator {
	if run == nil {
		run = metrics.NewRun()
	}
	return &Migrator{
		source:  source,
		target:  target,
		objects: objects,
		opts:    opts,
		log:     log,
		run:     run,
		snap:    &Snapshot{},
	}
}

// Snapshot exposes the loaded snapshot, primarily for tests.
func (m *Migrator) Snapshot() *Snapshot { return m.snap }

// Migrate executes the pipeline phases strictly in order. The first fatal
// error aborts all remaining phases; connections are released regardless.
func (m *Migrator) Migrate(ctx context.Context) error {
	defer m.finish()

	m.log.Info().Bool("dry_run", m.opts.DryRun).Msg("cleaning up migration targets")
	if err := m.cleanupTarget(ctx); err != nil {
		return err
	}
	if err := m.prepareObjectStore(ctx); err != nil {
		return err
	}

	m.log.Info().Msg("starting database migration")
	if err := m.load(ctx); err != nil {
		return err
	}
	if err := m.verify(); err != nil {
		return err
	}
	if err := m.insert(ctx); err != nil {
		return err
	}
	m.log.Info().Msg("database migration finished")

	m.log.Info().Msg("starting file storage migration")
	if err := m.transferAssets(ctx); err != nil {
		return err
	}
	m.log.Info().Msg("file storage migration finished")

	m.logSummary()
	return nil
}

// cleanupTarget empties the destination tables, children first. Deletes
// always execute so row counts are accurate; the transaction is only
// committed outside dry-run mode.
func (m *Migrator) cleanupTarget(ctx context.Context) error {
	for _, table := range cleanupTables {
		deleted, err := m.target.DeleteAll(ctx, table)
		if err != nil {
			return fmt.Errorf("%s: clean up target database: %w", m.target.Name(), err)
		}
		m.run.RowsDeleted.WithLabelValues(table).Add(float64(deleted))
		m.log.Debug().Str("table", table).Int64("rows", deleted).Msg("deleted rows")
	}
	if m.opts.DryRun {
		return nil
	}
	if err := m.target.Commit(ctx); err != nil {
		return fmt.Errorf("%s: commit cleanup: %w", m.target.Name(), err)
	}
	return nil
}

// prepareObjectStore brings the bucket to an empty, ready state: created when
// missing, emptied of template objects when not.
func (m *Migrator) prepareObjectStore(ctx context.Context) error {
	exists, err := m.objects.BucketExists(ctx)
	if err != nil {
		return fmt.Errorf("object store: check bucket: %w", err)
	}
	if !exists {
		m.log.Info().Bool("dry_run", m.opts.DryRun).Msg("creating object store bucket")
		if m.opts.DryRun {
			return nil
		}
		if err := m.objects.CreateBucket(ctx); err != nil {
			return fmt.Errorf("object store: create bucket: %w", err)
		}
		return nil
	}
	stored, err := m.objects.CountTemplates(ctx)
	if err != nil {
		return fmt.Errorf("object store: count stored templates: %w", err)
	}
	m.log.Debug().Int("templates", stored).Msg("existing templates in object store")
	if stored > 0 {
		m.log.Info().Bool("dry_run", m.opts.DryRun).Msg("cleaning object store bucket")
		if !m.opts.DryRun {
			if err := m.objects.DeleteTemplates(ctx); err != nil {
				return fmt.Errorf("object store: delete stored templates: %w", err)
			}
		}
	}
	return nil
}

// load captures one reference instant and populates the snapshot: simple
// collections first, then the kinds embedded in template documents.
func (m *Migrator) load(ctx context.Context) error {
	m.log.Info().Msg("loading data from source store")
	m.now = m.source.Now()

	for _, kind := range simpleLoads {
		schema := SchemaFor(kind)
		docs, err := m.source.LoadCollection(ctx, schema.Collection)
		if err != nil {
			return fmt.Errorf("source store: load %s: %w", schema.Collection, err)
		}
		for _, doc := range docs {
			rec, err := schema.Normalize(doc, m.now)
			if err != nil {
				return err
			}
			m.snap.Add(kind, rec)
		}
		m.run.RecordsLoaded.WithLabelValues(string(kind)).Add(float64(len(docs)))
		m.log.Debug().Str("kind", string(kind)).Int("records", len(docs)).Msg("loaded collection")
	}

	for _, nested := range nestedLoads {
		schema := SchemaFor(nested.kind)
		children, err := m.source.LoadEmbedded(ctx, nested.parentCollection, nested.parentIDField, nested.childField)
		if err != nil {
			return fmt.Errorf("source store: load embedded %s.%s: %w", nested.parentCollection, nested.childField, err)
		}
		for _, child := range children {
			child.Doc[nested.stampField] = child.ParentID
			rec, err := schema.Normalize(child.Doc, m.now)
			if err != nil {
				return err
			}
			m.snap.Add(nested.kind, rec)
		}
		m.run.RecordsLoaded.WithLabelValues(string(nested.kind)).Add(float64(len(children)))
		m.log.Debug().Str("kind", string(nested.kind)).Int("records", len(children)).Msg("loaded embedded collection")
	}
	return nil
}

// verify runs the integrity checker and decides whether the run may proceed.
func (m *Migrator) verify() error {
	m.log.Info().Msg("checking data integrity")
	checker := NewChecker(m.snap, m.log)
	violations := checker.CheckIntegrity()
	for _, violation := range violations {
		m.log.Warn().Str("violation", violation).Msg("integrity violation")
	}
	m.run.Violations.Add(float64(len(violations)))
	if len(violations) > 0 && !m.opts.FixIntegrity {
		return fmt.Errorf("integrity: %d violations found (see log); re-run with -fix-integrity to skip invalid records", len(violations))
	}
	return nil
}

// insert writes the Valid subset of every kind in foreign-key order, then
// commits unless dry-run.
func (m *Migrator) insert(ctx context.Context) error {
	m.log.Info().Bool("dry_run", m.opts.DryRun).Msg("inserting data into target database")
	for _, step := range insertOrder {
		if err := m.insertKind(ctx, step.kind, step.suspendTriggers); err != nil {
			return err
		}
	}
	m.log.Info().Bool("dry_run", m.opts.DryRun).Msg("committing transaction")
	if m.opts.DryRun {
		return nil
	}
	if err := m.target.Commit(ctx); err != nil {
		return fmt.Errorf("%s: commit transaction: %w", m.target.Name(), err)
	}
	return nil
}

func (m *Migrator) insertKind(ctx context.Context, kind Kind, suspendTriggers bool) error {
	schema := SchemaFor(kind)
	all := m.snap.Records(kind)
	rows := make([][]any, 0, len(all))
	for _, rec := range all {
		if !rec.Valid() {
			continue
		}
		values, err := rec.Values()
		if err != nil {
			return fmt.Errorf("materialize %s %s: %w", kind, rec.ID(), err)
		}
		rows = append(rows, values)
	}
	m.run.RecordsInserted.WithLabelValues(schema.Table).Add(float64(len(rows)))
	m.run.RecordsDropped.WithLabelValues(schema.Table).Add(float64(len(all) - len(rows)))
	m.log.Info().
		Str("table", schema.Table).
		Int("inserting", len(rows)).
		Int("loaded", len(all)).
		Msg("executing inserts")

	if suspendTriggers {
		if err := m.target.DisableTriggers(ctx, schema.Table); err != nil {
			return fmt.Errorf("%s: disable triggers on %s: %w", m.target.Name(), schema.Table, err)
		}
	}
	if err := m.target.InsertBatch(ctx, schema.Table, schema.Columns, rows); err != nil {
		return fmt.Errorf("%s: insert into %s: %w", m.target.Name(), schema.Table, err)
	}
	if suspendTriggers {
		if err := m.target.EnableTriggers(ctx, schema.Table); err != nil {
			return fmt.Errorf("%s: enable triggers on %s: %w", m.target.Name(), schema.Table, err)
		}
	}
	return nil
}

// transferAssets copies every Valid asset payload from the source store to
// the object store. A missing payload is logged and counted, never fatal.
func (m *Migrator) transferAssets(ctx context.Context) error {
	transferred, skipped := 0, 0
	m.log.Info().
		Bool("dry_run", m.opts.DryRun).
		Int("assets", len(m.snap.TemplateAssets)).
		Msg("migrating template assets")
	for _, asset := range m.snap.TemplateAssets {
		if !asset.Valid() {
			continue
		}
		data, err := m.source.FetchAssetPayload(ctx, asset.OriginalUUID)
		if err != nil {
			return fmt.Errorf("source store: fetch asset %s: %w", asset.OriginalUUID, err)
		}
		if data == nil {
			m.log.Warn().
				Str("asset", asset.UUID).
				Str("original_uuid", asset.OriginalUUID).
				Msg("no payload found for asset, skipping transfer")
			skipped++
			continue
		}
		if !m.opts.DryRun {
			if err := m.objects.StoreAsset(ctx, asset.TemplateID, asset.UUID, asset.ContentType, data); err != nil {
				return fmt.Errorf("object store: store asset %s: %w", asset.UUID, err)
			}
		}
		transferred++
	}
	m.run.AssetsTransferred.Add(float64(transferred))
	m.run.AssetsSkipped.Add(float64(skipped))
	m.log.Info().Int("transferred", transferred).Int("skipped", skipped).Msg("template assets stored")
	return nil
}

// finish releases held connections; failures here are logged, not returned,
// so they never mask the run's own outcome.
func (m *Migrator) finish() {
	m.log.Debug().Msg("closing connections")
	if err := m.target.Close(); err != nil {
		m.log.Warn().Err(err).Msg("closing target store")
	}
	if err := m.source.Close(); err != nil {
		m.log.Warn().Err(err).Msg("closing source store")
	}
}

func (m *Migrator) logSummary() {
	summary, err := m.run.Summary()
	if err != nil {
		m.log.Warn().Err(err).Msg("gathering run metrics")
		return
	}
	event := m.log.Info()
	for name, value := range summary {
		event = event.Float64(name, value)
	}
	event.Msg("migration finished")
}
