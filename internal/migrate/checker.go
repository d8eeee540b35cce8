package migrate

import (
	"fmt"

	"github.com/rs/zerolog"
)

// reference declares one referential-integrity constraint: records of kind
// must point at a Valid record of target through the named field. Optional
// references are only checked when non-null. refID extracts the referenced
// identity from a record; nil means the reference is unset.
type reference struct {
	kind     Kind
	target   Kind
	field    string
	optional bool
	refID    func(Record) *string
}

// references is the static constraint table. AuditEntry's organization
// reference is deliberately absent: it is informational only and must never
// invalidate an entry.
var references = []reference{
	{
		kind: KindActionKey, target: KindOrganization, field: "organization_id",
		refID: func(r Record) *string { v := r.(*ActionKey).OrganizationID; return &v },
	},
	{
		kind: KindPackage, target: KindPackage, field: "previous_package_id", optional: true,
		refID: func(r Record) *string { return r.(*Package).PreviousPackageID },
	},
	{
		kind: KindPackage, target: KindPackage, field: "fork_of_package_id", optional: true,
		refID: func(r Record) *string { return r.(*Package).ForkOfPackageID },
	},
	{
		kind: KindPackage, target: KindPackage, field: "merge_checkpoint_package_id", optional: true,
		refID: func(r Record) *string { return r.(*Package).MergeCheckpointPackageID },
	},
	{
		kind: KindTemplateAsset, target: KindTemplate, field: "template_id",
		refID: func(r Record) *string { v := r.(*TemplateAsset).TemplateID; return &v },
	},
	{
		kind: KindTemplateFile, target: KindTemplate, field: "template_id",
		refID: func(r Record) *string { v := r.(*TemplateFile).TemplateID; return &v },
	},
}

// referencedKinds lists the kinds that appear as reference targets; valid-ID
// sets are rebuilt for exactly these at the start of every reference pass.
var referencedKinds = []Kind{KindOrganization, KindPackage, KindTemplate}

// Checker owns the snapshot for the duration of an integrity run and
// accumulates human-readable violation descriptions.
type Checker struct {
	snap       *Snapshot
	log        zerolog.Logger
	violations []string
}

// NewChecker wraps snap. The checker mutates records in place by flipping
// their integrity markers; callers must not mutate snap concurrently.
func NewChecker(snap *Snapshot, log zerolog.Logger) *Checker {
	return &Checker{snap: snap, log: log}
}

// CheckIntegrity runs one uniqueness pass per kind followed by reference
// passes repeated until a full pass yields no new violations. The returned
// slice holds every violation found across all passes, in discovery order.
func (c *Checker) CheckIntegrity() []string {
	c.violations = nil

	c.log.Debug().Msg("checking ID uniqueness")
	for _, kind := range kindOrder {
		c.checkUniqueness(kind)
	}

	// The valid set only shrinks, so the loop converges; the bound guards
	// against a defect, not against the data.
	bound := c.snap.Total() + 1
	for pass := 0; pass < bound; pass++ {
		c.log.Debug().Int("pass", pass+1).Msg("checking references")
		if !c.checkReferences() {
			break
		}
	}

	out := make([]string, len(c.violations))
	copy(out, c.violations)
	return out
}

// checkUniqueness scans records of kind in insertion order; the first record
// seen for an identity wins, every later holder is invalidated.
func (c *Checker) checkUniqueness(kind Kind) {
	seen := make(map[string]struct{})
	for _, rec := range c.snap.Records(kind) {
		id := rec.ID()
		if _, dup := seen[id]; dup {
			rec.Invalidate()
			c.violations = append(c.violations, fmt.Sprintf("Duplicate ID for %s: %s", kind, id))
			continue
		}
		seen[id] = struct{}{}
	}
}

// checkReferences runs a single reference pass over the still-Valid records,
// using valid-ID sets captured at the start of the pass. Reports whether the
// pass produced any new violation.
func (c *Checker) checkReferences() bool {
	before := len(c.violations)

	validIDs := make(map[Kind]map[string]struct{}, len(referencedKinds))
	for _, kind := range referencedKinds {
		ids := make(map[string]struct{})
		for _, rec := range c.snap.Records(kind) {
			if rec.Valid() {
				ids[rec.ID()] = struct{}{}
			}
		}
		validIDs[kind] = ids
	}

	for _, ref := range references {
		targets := validIDs[ref.target]
		for _, rec := range c.snap.Records(ref.kind) {
			if !rec.Valid() {
				continue
			}
			id := ref.refID(rec)
			if id == nil {
				continue
			}
			if _, ok := targets[*id]; !ok {
				rec.Invalidate()
				c.violations = append(c.violations, fmt.Sprintf(
					"Missing %s (%s=%s) for %s: %s", ref.target, ref.field, *id, ref.kind, rec.ID()))
			}
		}
	}

	found := len(c.violations) - before
	c.log.Debug().Int("new_violations", found).Msg("reference pass finished")
	return found > 0
}
