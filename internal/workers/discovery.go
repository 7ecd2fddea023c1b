package workers

import (
	"context"
	"time"

	"github.com/MKhiriev/go-trust-engine/internal/logger"
	"github.com/MKhiriev/go-trust-engine/internal/service"
	"github.com/MKhiriev/go-trust-engine/internal/store"
	"github.com/MKhiriev/go-trust-engine/models"
)

// DeviceDiscovery asks the protocol layer to refresh the device lists of
// every active owned identity and of its active contacts, once at startup
// and then every interval.
type DeviceDiscovery struct {
	db         *store.DB
	identities service.IdentityService
	contacts   service.ContactService
	protocols  service.ProtocolTrigger
	interval   time.Duration
	logger     *logger.Logger
	done       chan struct{}
}

func NewDeviceDiscovery(db *store.DB, identities service.IdentityService, contacts service.ContactService,
	protocols service.ProtocolTrigger, interval time.Duration, logger *logger.Logger,
) *DeviceDiscovery {
	return &DeviceDiscovery{
		db:         db,
		identities: identities,
		contacts:   contacts,
		protocols:  protocols,
		interval:   interval,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

func (d *DeviceDiscovery) Run(ctx context.Context) {
	go func() {
		defer close(d.done)

		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		for {
			d.discover(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (d *DeviceDiscovery) Done() <-chan struct{} {
	return d.done
}

// discover returns the number of triggers it sent.
func (d *DeviceDiscovery) discover(ctx context.Context) int {
	s := d.db.Session(ctx)
	owned, err := d.identities.ListOwnedIdentities(ctx, s)
	if err != nil {
		d.logger.Err(err).Str("func", "*DeviceDiscovery.discover").Msg("error listing owned identities")
		return 0
	}

	sent := 0
	for _, o := range owned {
		if !o.Active {
			continue
		}
		sent += d.discoverOwned(logger.WithField(ctx, "owned", o.Identity.String()), s, o.Identity)
	}
	return sent
}

func (d *DeviceDiscovery) discoverOwned(ctx context.Context, s *store.Session, owned models.Identity) int {
	log := logger.FromContext(ctx)

	sent := 0
	if err := d.protocols.StartDeviceDiscovery(ctx, owned, owned); err != nil {
		log.Warn().Err(err).Msg("error triggering owned device discovery")
	} else {
		sent++
	}

	contacts, err := d.contacts.ListContactIdentities(ctx, s, owned)
	if err != nil {
		log.Err(err).Str("func", "*DeviceDiscovery.discoverOwned").Msg("error listing contacts")
		return sent
	}
	for _, c := range contacts {
		if !c.Active {
			continue
		}
		if err = d.protocols.StartDeviceDiscovery(ctx, owned, c.ContactIdentity); err != nil {
			log.Warn().Err(err).Str("contact", c.ContactIdentity.String()).Msg("error triggering contact device discovery")
			continue
		}
		sent++
	}
	return sent
}
