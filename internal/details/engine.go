// Package details implements the three-stage details versioning shared by
// owned identities, contacts and both group models.
//
// A triple has three version pointers. Latest is the local draft, Published
// is what was last broadcast (or received) and Trusted is what the local
// user accepted. Published never exceeds Latest and Trusted only moves
// through [Engine.Trust]. Records no pointer references are pruned.
package details

import (
	"context"
	"errors"
	"fmt"

	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/internal/store"
	"github.com/MKhiriev/go-trust-engine/models"
)

var (
	// ErrNoSuchTriple is returned by mutations on a triple that was never
	// initialized.
	ErrNoSuchTriple = errors.New("details triple does not exist")

	// ErrTripleExists is returned by Init on an existing triple.
	ErrTripleExists = errors.New("details triple already exists")
)

// Engine manages details triples stored by a [store.DetailsRepository].
// Every state-changing call records a [store.BackupNeeded] event on the
// session.
type Engine struct {
	repo   store.DetailsRepository
	logger *logger.Logger
}

func NewEngine(repo store.DetailsRepository, logger *logger.Logger) *Engine {
	return &Engine{repo: repo, logger: logger}
}

// Init creates a triple whose three pointers reference version.
func (e *Engine) Init(ctx context.Context, s *store.Session, key models.DetailsKey, version int, d models.Details) error {
	v, err := e.repo.GetVersions(ctx, s, key)
	if err != nil {
		return err
	}
	if v != nil {
		return fmt.Errorf("%w: %s", ErrTripleExists, key.Kind)
	}

	if err := e.repo.PutDetails(ctx, s, key, version, d); err != nil {
		return err
	}
	if err := e.repo.PutVersions(ctx, s, key, models.DetailsVersions{Latest: version, Published: version, Trusted: version}); err != nil {
		return err
	}
	s.Record(store.BackupNeeded(key.OwnedIdentity))
	return nil
}

// Get returns the triple with its referenced records, or nil.
func (e *Engine) Get(ctx context.Context, s *store.Session, key models.DetailsKey) (*models.DetailsTriple, error) {
	v, err := e.repo.GetVersions(ctx, s, key)
	if err != nil || v == nil {
		return nil, err
	}

	t := &models.DetailsTriple{Versions: *v}
	for _, version := range distinct(v.Latest, v.Published, v.Trusted) {
		d, err := e.repo.GetDetails(ctx, s, key, version)
		if err != nil {
			return nil, err
		}
		if d != nil {
			t.Records = append(t.Records, models.VersionedDetails{Version: version, Details: *d})
		}
	}
	return t, nil
}

// Versions returns the pointers of the triple, or nil.
func (e *Engine) Versions(ctx context.Context, s *store.Session, key models.DetailsKey) (*models.DetailsVersions, error) {
	return e.repo.GetVersions(ctx, s, key)
}

// SetLatest stages d as the draft. The first draft after a publication gets
// version Published+1; later drafts overwrite it.
func (e *Engine) SetLatest(ctx context.Context, s *store.Session, key models.DetailsKey, d models.Details) error {
	v, err := e.mustVersions(ctx, s, key)
	if err != nil {
		return err
	}

	if v.Latest == v.Published {
		v.Latest = v.Published + 1
	}
	if err := e.repo.PutDetails(ctx, s, key, v.Latest, d); err != nil {
		return err
	}
	if err := e.repo.PutVersions(ctx, s, key, *v); err != nil {
		return err
	}
	s.Record(store.BackupNeeded(key.OwnedIdentity))
	return nil
}

// Publish makes the draft the published version and returns it. It returns
// [models.NoVersion] when there is no draft. With autoTrust the published
// version also becomes trusted, as group owners do with their own details.
func (e *Engine) Publish(ctx context.Context, s *store.Session, key models.DetailsKey, autoTrust bool) (int, error) {
	v, err := e.mustVersions(ctx, s, key)
	if err != nil {
		return models.NoVersion, err
	}
	if v.Latest == v.Published {
		return models.NoVersion, nil
	}

	v.Published = v.Latest
	if autoTrust {
		v.Trusted = v.Latest
	}
	if err := e.save(ctx, s, key, *v); err != nil {
		return models.NoVersion, err
	}
	return v.Published, nil
}

// DiscardLatest drops the draft and reverts Latest to Published.
func (e *Engine) DiscardLatest(ctx context.Context, s *store.Session, key models.DetailsKey) error {
	v, err := e.mustVersions(ctx, s, key)
	if err != nil {
		return err
	}
	if v.Latest == v.Published {
		return nil
	}

	v.Latest = v.Published
	return e.save(ctx, s, key, *v)
}

// ApplyPublished stores details received from their author at version.
// Versions not above the current published one are ignored unless
// allowDowngrade is set. It reports whether the triple changed.
func (e *Engine) ApplyPublished(ctx context.Context, s *store.Session, key models.DetailsKey, version int, d models.Details, allowDowngrade bool) (bool, error) {
	v, err := e.mustVersions(ctx, s, key)
	if err != nil {
		return false, err
	}
	if version <= v.Published && !allowDowngrade {
		return false, nil
	}
	if version == v.Published {
		existing, err := e.repo.GetDetails(ctx, s, key, version)
		if err != nil {
			return false, err
		}
		if existing != nil && existing.Equal(d) {
			return false, nil
		}
	}

	if err := e.repo.PutDetails(ctx, s, key, version, d); err != nil {
		return false, err
	}
	if v.Latest == v.Published || v.Latest < version || allowDowngrade {
		v.Latest = version
	}
	v.Published = version
	if err := e.save(ctx, s, key, *v); err != nil {
		return false, err
	}
	return true, nil
}

// Trust makes the published version the trusted one. It reports whether the
// trusted version moved.
func (e *Engine) Trust(ctx context.Context, s *store.Session, key models.DetailsKey) (bool, error) {
	v, err := e.mustVersions(ctx, s, key)
	if err != nil {
		return false, err
	}
	if v.Trusted == v.Published {
		return false, nil
	}

	v.Trusted = v.Published
	if err := e.save(ctx, s, key, *v); err != nil {
		return false, err
	}
	return true, nil
}

// TrustVersion trusts version only if it is the published one, so a stale
// trust decision is ignored.
func (e *Engine) TrustVersion(ctx context.Context, s *store.Session, key models.DetailsKey, version int) (bool, error) {
	v, err := e.repo.GetVersions(ctx, s, key)
	if err != nil || v == nil {
		return false, err
	}
	if v.Published != version {
		return false, nil
	}
	return e.Trust(ctx, s, key)
}

// ResetPublished rolls Latest and Published back to version. When no record
// exists at version the trusted record is copied there, so the pointers
// never dangle.
func (e *Engine) ResetPublished(ctx context.Context, s *store.Session, key models.DetailsKey, version int) error {
	v, err := e.mustVersions(ctx, s, key)
	if err != nil {
		return err
	}

	d, err := e.repo.GetDetails(ctx, s, key, version)
	if err != nil {
		return err
	}
	if d == nil {
		trusted, err := e.repo.GetDetails(ctx, s, key, v.Trusted)
		if err != nil {
			return err
		}
		if trusted == nil {
			return fmt.Errorf("%w: no record to reset to", ErrNoSuchTriple)
		}
		if err := e.repo.PutDetails(ctx, s, key, version, *trusted); err != nil {
			return err
		}
	}

	v.Latest = version
	v.Published = version
	return e.save(ctx, s, key, *v)
}

// Delete removes the triple and its records.
func (e *Engine) Delete(ctx context.Context, s *store.Session, key models.DetailsKey) error {
	if err := e.repo.Delete(ctx, s, key); err != nil {
		return err
	}
	s.Record(store.BackupNeeded(key.OwnedIdentity))
	return nil
}

// Restore writes a triple read from a snapshot, replacing any existing one.
func (e *Engine) Restore(ctx context.Context, s *store.Session, key models.DetailsKey, t models.DetailsTriple) error {
	if err := e.repo.Delete(ctx, s, key); err != nil {
		return err
	}
	for _, r := range t.Records {
		if err := e.repo.PutDetails(ctx, s, key, r.Version, r.Details); err != nil {
			return err
		}
	}
	if err := e.save(ctx, s, key, t.Versions); err != nil {
		return err
	}
	return nil
}

// DeleteUnreachable prunes, across every triple, the records no pointer
// references.
func (e *Engine) DeleteUnreachable(ctx context.Context, s *store.Session) (int64, error) {
	return e.repo.DeleteUnreachable(ctx, s)
}

func (e *Engine) mustVersions(ctx context.Context, s *store.Session, key models.DetailsKey) (*models.DetailsVersions, error) {
	v, err := e.repo.GetVersions(ctx, s, key)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchTriple, key.Kind)
	}
	return v, nil
}

// save stores the pointers, prunes unreferenced records of the triple and
// records the backup event.
func (e *Engine) save(ctx context.Context, s *store.Session, key models.DetailsKey, v models.DetailsVersions) error {
	if v.Published > v.Latest {
		v.Latest = v.Published
	}
	if err := e.repo.PutVersions(ctx, s, key, v); err != nil {
		return err
	}
	if _, err := e.repo.DeleteVersionsExcept(ctx, s, key, distinct(v.Latest, v.Published, v.Trusted)...); err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*Engine.save").Msg("error pruning details versions")
		return err
	}
	s.Record(store.BackupNeeded(key.OwnedIdentity))
	return nil
}

func distinct(versions ...int) []int {
	out := make([]int, 0, len(versions))
	for _, v := range versions {
		seen := false
		for _, o := range out {
			if o == v {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, v)
		}
	}
	return out
}
