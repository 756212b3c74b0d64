package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/reporthub/backend-go/internal/kafka"
	"github.com/reporthub/backend-go/internal/models"
	"github.com/reporthub/backend-go/internal/retrieval"
)

func reconcilerFixture(t *testing.T) (*ReconcilerService, *mockIntentRepo, *mockMappingRepo, *mockVectorIndex, *mockEventPublisher) {
	t.Helper()
	intents := new(mockIntentRepo)
	mappings := new(mockMappingRepo)
	index := new(mockVectorIndex)
	events := new(mockEventPublisher)

	svc := NewReconcilerService(testServicesConfig(), intents, mappings, index)
	svc.SetEventPublisher(events)
	return svc, intents, mappings, index, events
}

func staleIntent(pointID string, reportID uint, chunkIndex int) models.IngestIntent {
	return models.IngestIntent{
		PointID:    pointID,
		ReportID:   reportID,
		ChunkIndex: chunkIndex,
		Status:     models.IntentStatusPending,
		CreatedAt:  time.Now().Add(-time.Hour),
	}
}

func TestReconcileScanWindow(t *testing.T) {
	svc, intents, _, _, _ := reconcilerFixture(t)

	intents.On("ListPendingBefore", mock.Anything, mock.MatchedBy(func(cutoff time.Time) bool {
		age := time.Since(cutoff)
		return age > 299*time.Second && age < 302*time.Second
	}), 50).Return([]models.IngestIntent{}, nil)

	stats, err := svc.ReconcileOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, ReconcileStats{}, stats)
	intents.AssertExpectations(t)
}

func TestReconcileMarksCompleteWhenMappingExists(t *testing.T) {
	svc, intents, mappings, index, events := reconcilerFixture(t)

	intents.On("ListPendingBefore", mock.Anything, mock.Anything, mock.Anything).
		Return([]models.IngestIntent{staleIntent("p-1", 5, 0)}, nil)
	mappings.On("GetByPointID", mock.Anything, "p-1").
		Return(&models.VectorMapping{PointID: "p-1", ReportID: 5, ChunkIndex: 0}, nil)
	intents.On("MarkComplete", mock.Anything, "p-1").Return(nil)
	events.On("PublishAudit", mock.Anything, mock.MatchedBy(func(e retrieval.AuditEvent) bool {
		return e.Action == "reconcile_completed" && e.ReportID == 5
	})).Return(nil)

	stats, err := svc.ReconcileOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)
	index.AssertNotCalled(t, "RetrievePoint", mock.Anything, mock.Anything, mock.Anything)
	intents.AssertExpectations(t)
	events.AssertExpectations(t)
}

func TestReconcileRepairsMissingMapping(t *testing.T) {
	svc, intents, mappings, index, events := reconcilerFixture(t)

	intents.On("ListPendingBefore", mock.Anything, mock.Anything, mock.Anything).
		Return([]models.IngestIntent{staleIntent("p-2", 5, 3)}, nil)
	mappings.On("GetByPointID", mock.Anything, "p-2").Return(nil, gorm.ErrRecordNotFound)
	index.On("RetrievePoint", mock.Anything, "employee_reports", "p-2").
		Return(retrieval.Payload{"report_id": float64(5)}, true, nil)
	mappings.On("Create", mock.Anything, mock.MatchedBy(func(m *models.VectorMapping) bool {
		return m.PointID == "p-2" && m.ReportID == 5 && m.ChunkIndex == 3
	})).Return(nil)
	intents.On("MarkComplete", mock.Anything, "p-2").Return(nil)
	events.On("PublishAudit", mock.Anything, mock.MatchedBy(func(e retrieval.AuditEvent) bool {
		return e.Action == "reconcile_repaired"
	})).Return(nil)

	stats, err := svc.ReconcileOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Repaired)
	mappings.AssertExpectations(t)
	intents.AssertExpectations(t)
}

func TestReconcileRepairToleratesDuplicateMapping(t *testing.T) {
	svc, intents, mappings, index, events := reconcilerFixture(t)

	intents.On("ListPendingBefore", mock.Anything, mock.Anything, mock.Anything).
		Return([]models.IngestIntent{staleIntent("p-2", 5, 3)}, nil)
	mappings.On("GetByPointID", mock.Anything, "p-2").Return(nil, gorm.ErrRecordNotFound)
	index.On("RetrievePoint", mock.Anything, "employee_reports", "p-2").
		Return(retrieval.Payload{}, true, nil)
	mappings.On("Create", mock.Anything, mock.Anything).
		Return(gorm.ErrDuplicatedKey)
	intents.On("MarkComplete", mock.Anything, "p-2").Return(nil)
	events.On("PublishAudit", mock.Anything, mock.Anything).Return(nil)

	stats, err := svc.ReconcileOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Repaired)
	intents.AssertExpectations(t)
}

func TestReconcileOrphansMissingPoint(t *testing.T) {
	svc, intents, mappings, index, events := reconcilerFixture(t)

	intents.On("ListPendingBefore", mock.Anything, mock.Anything, mock.Anything).
		Return([]models.IngestIntent{staleIntent("p-3", 8, 1)}, nil)
	mappings.On("GetByPointID", mock.Anything, "p-3").Return(nil, gorm.ErrRecordNotFound)
	index.On("RetrievePoint", mock.Anything, "employee_reports", "p-3").
		Return(nil, false, nil)
	intents.On("MarkOrphaned", mock.Anything, "p-3").Return(nil)
	events.On("PublishOrphan", mock.Anything, mock.MatchedBy(func(e kafka.OrphanEvent) bool {
		return e.PointID == "p-3" && e.ReportID == 8 && e.ChunkIndex == 1 &&
			e.Reason == "point missing from index"
	})).Return(nil)
	events.On("PublishAudit", mock.Anything, mock.MatchedBy(func(e retrieval.AuditEvent) bool {
		return e.Action == "reconcile_orphaned"
	})).Return(nil)

	stats, err := svc.ReconcileOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Orphaned)
	mappings.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	events.AssertExpectations(t)
}

func TestReconcileKeepsFailingIntentPending(t *testing.T) {
	svc, intents, mappings, index, _ := reconcilerFixture(t)

	intents.On("ListPendingBefore", mock.Anything, mock.Anything, mock.Anything).
		Return([]models.IngestIntent{staleIntent("p-4", 9, 0)}, nil)
	mappings.On("GetByPointID", mock.Anything, "p-4").Return(nil, gorm.ErrRecordNotFound)
	index.On("RetrievePoint", mock.Anything, "employee_reports", "p-4").
		Return(nil, false, assert.AnError)

	stats, err := svc.ReconcileOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	intents.AssertNotCalled(t, "MarkComplete", mock.Anything, mock.Anything)
	intents.AssertNotCalled(t, "MarkOrphaned", mock.Anything, mock.Anything)
}

func TestReconcileProcessesBatchIndependently(t *testing.T) {
	svc, intents, mappings, index, events := reconcilerFixture(t)

	intents.On("ListPendingBefore", mock.Anything, mock.Anything, mock.Anything).
		Return([]models.IngestIntent{
			staleIntent("p-ok", 1, 0),
			staleIntent("p-bad", 2, 0),
			staleIntent("p-gone", 3, 0),
		}, nil)

	mappings.On("GetByPointID", mock.Anything, "p-ok").
		Return(&models.VectorMapping{PointID: "p-ok"}, nil)
	intents.On("MarkComplete", mock.Anything, "p-ok").Return(nil)

	mappings.On("GetByPointID", mock.Anything, "p-bad").Return(nil, assert.AnError)

	mappings.On("GetByPointID", mock.Anything, "p-gone").Return(nil, gorm.ErrRecordNotFound)
	index.On("RetrievePoint", mock.Anything, "employee_reports", "p-gone").
		Return(nil, false, nil)
	intents.On("MarkOrphaned", mock.Anything, "p-gone").Return(nil)

	events.On("PublishAudit", mock.Anything, mock.Anything).Return(nil)
	events.On("PublishOrphan", mock.Anything, mock.Anything).Return(nil)

	stats, err := svc.ReconcileOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, stats.Scanned)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Orphaned)
}

func TestReconcilerDisabledDoesNotStart(t *testing.T) {
	cfg := testServicesConfig()
	cfg.Reconciler.Enabled = false

	intents := new(mockIntentRepo)
	svc := NewReconcilerService(cfg, intents, new(mockMappingRepo), new(mockVectorIndex))

	svc.Start()
	svc.Stop()

	intents.AssertNotCalled(t, "ListPendingBefore", mock.Anything, mock.Anything, mock.Anything)
}
