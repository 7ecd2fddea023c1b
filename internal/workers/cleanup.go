package workers

import (
	"context"
	"time"

	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/internal/service"
	"github.com/MKhiriev/go-trust-engine/internal/store"
)

type cleanupStep struct {
	name string
	run  func(ctx context.Context, s *store.Session) (int64, error)
}

// Cleanup prunes data nothing references anymore. Each step runs in its own
// transaction; a failing step is logged and does not stop the others.
type Cleanup struct {
	db     *store.DB
	steps  []cleanupStep
	logger *logger.Logger
	now    func() time.Time
}

func NewCleanup(storages *store.Storages, serverUserData service.ServerUserDataService, logger *logger.Logger) *Cleanup {
	c := &Cleanup{db: storages.DB, logger: logger, now: time.Now}
	repos := storages.Repositories
	c.steps = []cleanupStep{
		{
			name: "expired pre-key materials",
			run: func(ctx context.Context, s *store.Session) (int64, error) {
				return repos.PreKeyMaterials.DeleteExpired(ctx, s, c.now().UnixMilli())
			},
		},
		{
			name: "orphan server user data",
			run: func(ctx context.Context, s *store.Session) (int64, error) {
				n, err := serverUserData.DeleteOrphanServerUserData(ctx, s)
				return int64(n), err
			},
		},
		{
			name: "unreachable details",
			run: func(ctx context.Context, s *store.Session) (int64, error) {
				return repos.Details.DeleteUnreachable(ctx, s)
			},
		},
	}
	return c
}

func (c *Cleanup) Run(ctx context.Context) {
	for _, step := range c.steps {
		var deleted int64
		err := c.db.WithinTransaction(ctx, func(s *store.Session) error {
			var err error
			deleted, err = step.run(ctx, s)
			return err
		})
		if err != nil {
			c.logger.Err(err).Str("func", "*Cleanup.Run").Str("step", step.name).Msg("cleanup step failed")
			continue
		}
		c.logger.Debug().Str("step", step.name).Int64("deleted", deleted).Msg("cleanup step done")
	}
}
