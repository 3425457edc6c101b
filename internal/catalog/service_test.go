package catalog_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"smartattend/internal/catalog"
	catalogstore "smartattend/internal/catalog/store"
	"smartattend/internal/ledger"
	ledgerstore "smartattend/internal/ledger/store"
	id "smartattend/pkg/domain"
	dErrors "smartattend/pkg/domain-errors"
	"smartattend/pkg/requestcontext"
)

var admin = id.Actor{ID: "admin-1", Role: id.RoleAdmin, TenantID: "school-a"}

// =============================================================================
// Catalog Service Test Suite
// =============================================================================

type CatalogServiceSuite struct {
	suite.Suite
	store       *catalogstore.InMemoryStore
	ledgerStore *ledgerstore.InMemoryStore
	service     *catalog.Service
}

func TestCatalogServiceSuite(t *testing.T) {
	suite.Run(t, new(CatalogServiceSuite))
}

func (s *CatalogServiceSuite) SetupTest() {
	s.store = catalogstore.NewInMemory()
	s.ledgerStore = ledgerstore.NewInMemory()

	ldg, err := ledger.New(s.ledgerStore)
	s.Require().NoError(err)

	s.service, err = catalog.New(context.Background(), s.store, ldg)
	s.Require().NoError(err)
}

func (s *CatalogServiceSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
}

// =============================================================================
// Bootstrap Tests
// =============================================================================

func (s *CatalogServiceSuite) TestSeedsDefaults() {
	snap := s.service.Snapshot()
	s.Equal(1, snap.Version)
	s.Contains(snap.ReasonCodes, "SCAN_ACCEPTED")
	s.True(snap.Matrix.Reachable(id.StatePending, id.StateVerified))
}

// =============================================================================
// Update Tests
// =============================================================================

func (s *CatalogServiceSuite) TestUpdate() {
	s.Run("bumps the version and publishes the change", func() {
		next, err := s.service.Update(s.ctx(), admin, "tighten kiosk drift policy", func(snap *catalog.Snapshot) {
			bands := snap.Drift.Bands[id.DeviceKiosk]
			bands.Warning = 20 * time.Second
			snap.Drift.Bands[id.DeviceKiosk] = bands
		})
		s.Require().NoError(err)
		s.Equal(2, next.Version)
		s.Equal(admin.ID, next.UpdatedBy)
		s.Equal(20*time.Second, s.service.Snapshot().Drift.Bands[id.DeviceKiosk].Warning)
	})

	s.Run("update is audited with version before and after", func() {
		entries, err := s.ledgerStore.Query(context.Background(),
			ledger.Query{Action: ledger.ActionCatalogUpdated},
			ledger.CallerScope{ActorID: "root-1", Role: id.RoleSuperadmin})
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.JSONEq(`{"version":1}`, string(entries[0].Before))
		s.JSONEq(`{"version":2}`, string(entries[0].After))
		s.Equal("tighten kiosk drift policy", entries[0].Justification)
	})

	s.Run("operations in flight keep their snapshot", func() {
		held := s.service.Snapshot()
		_, err := s.service.Update(s.ctx(), admin, "another revision", func(snap *catalog.Snapshot) {})
		s.Require().NoError(err)
		s.Equal(2, held.Version)
		s.Equal(3, s.service.Snapshot().Version)
	})
}

func (s *CatalogServiceSuite) TestUpdateGuards() {
	s.Run("requires an operator role", func() {
		coordinator := id.Actor{ID: "coord-1", Role: id.RoleCoordinator, TenantID: "school-a"}
		_, err := s.service.Update(s.ctx(), coordinator, "why not", func(*catalog.Snapshot) {})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("requires a justification", func() {
		_, err := s.service.Update(s.ctx(), admin, "", func(*catalog.Snapshot) {})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("rejects non-monotonic drift bands", func() {
		_, err := s.service.Update(s.ctx(), admin, "break the bands", func(snap *catalog.Snapshot) {
			bands := snap.Drift.Bands[id.DeviceWeb]
			bands.Blocked = bands.Critical + time.Hour
			snap.Drift.Bands[id.DeviceWeb] = bands
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Equal(1, s.service.Snapshot().Version)
	})

	s.Run("a rejected update leaves the catalog untouched", func() {
		s.False(s.service.Snapshot().Matrix.Reachable(id.StateVerified, id.StateVerified))
	})
}
