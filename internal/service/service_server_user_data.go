package service

import (
	"context"

	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/internal/store"
	"github.com/MKhiriev/go-trust-engine/models"
)

// serverUserDataService implements [ServerUserDataService].
type serverUserDataService struct {
	repos  *store.Repositories
	logger *logger.Logger
}

func (u *serverUserDataService) CreateServerUserData(ctx context.Context, s *store.Session, d models.ServerUserData) error {
	ok, err := u.repos.OwnedIdentities.Exists(ctx, s, d.OwnedIdentity)
	if err != nil || !ok {
		return err
	}
	if err = u.repos.ServerUserData.Put(ctx, s, d); err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*serverUserDataService.CreateServerUserData").Msg("error storing server user data")
		return err
	}
	return nil
}

func (u *serverUserDataService) GetServerUserData(ctx context.Context, s *store.Session, owned models.Identity, label []byte) (*models.ServerUserData, error) {
	return u.repos.ServerUserData.Get(ctx, s, owned, label)
}

func (u *serverUserDataService) ListServerUserDataToRefresh(ctx context.Context, s *store.Session, timestamp int64) ([]models.ServerUserData, error) {
	return u.repos.ServerUserData.ListToRefresh(ctx, s, timestamp)
}

func (u *serverUserDataService) RefreshServerUserData(ctx context.Context, s *store.Session, owned models.Identity, label []byte, nextRefreshTimestamp int64) error {
	d, err := u.repos.ServerUserData.Get(ctx, s, owned, label)
	if err != nil || d == nil {
		return err
	}
	d.NextRefreshTimestamp = nextRefreshTimestamp
	return u.repos.ServerUserData.Put(ctx, s, *d)
}

func (u *serverUserDataService) DeleteServerUserData(ctx context.Context, s *store.Session, owned models.Identity, label []byte) error {
	return u.repos.ServerUserData.Delete(ctx, s, owned, label)
}

// DeleteOrphanServerUserData removes group photos of groups that no longer
// exist, and entries of owned identities that were deleted.
func (u *serverUserDataService) DeleteOrphanServerUserData(ctx context.Context, s *store.Session) (int, error) {
	all, err := u.repos.ServerUserData.ListAll(ctx, s)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, d := range all {
		orphan, err := u.isOrphan(ctx, s, d)
		if err != nil {
			return deleted, err
		}
		if !orphan {
			continue
		}
		if err = u.repos.ServerUserData.Delete(ctx, s, d.OwnedIdentity, d.Label); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func (u *serverUserDataService) isOrphan(ctx context.Context, s *store.Session, d models.ServerUserData) (bool, error) {
	ok, err := u.repos.OwnedIdentities.Exists(ctx, s, d.OwnedIdentity)
	if err != nil || !ok {
		return !ok, err
	}
	if d.GroupIdentifier == nil {
		return false, nil
	}
	group, err := u.repos.GroupsV2.Get(ctx, s, d.OwnedIdentity, *d.GroupIdentifier)
	if err != nil {
		return false, err
	}
	return group == nil, nil
}
