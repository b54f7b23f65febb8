package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebook/clinic-ledger/internal/ledger"
	"github.com/carebook/clinic-ledger/pkg/logger"
	"github.com/carebook/clinic-ledger/pkg/types"
)

func setupDirectory(t *testing.T) (*Service, *ledger.Store) {
	store := ledger.NewStore(logger.New("error"))
	return New(store, logger.New("error")), store
}

func TestDoctor_NormalizesLookupKey(t *testing.T) {
	svc, store := setupDirectory(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "doctors/dra@clinic", map[string]interface{}{
		"Name": "Dr. Adams",
		"Spl":  "Cardiology",
	})
	require.NoError(t, err)

	// the raw login identity resolves to the same partition
	doctor, err := svc.Doctor(ctx, "DrA@clinic.com")
	require.NoError(t, err)
	assert.Equal(t, "dra@clinic", doctor.ID)
	assert.Equal(t, "Dr. Adams", doctor.Name)
	assert.Equal(t, "Cardiology", doctor.Specialty)
}

func TestDoctor_NotFound(t *testing.T) {
	svc, _ := setupDirectory(t)

	_, err := svc.Doctor(context.Background(), "unknown@clinic.com")
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
}

func TestDisplayName_FallsBackToIdentifier(t *testing.T) {
	svc, store := setupDirectory(t)
	ctx := context.Background()

	assert.Equal(t, "ghost@clinic", svc.DisplayName(ctx, "ghost@clinic"))

	_, err := store.Put(ctx, "doctors/dra@clinic", map[string]interface{}{"Name": "Dr. Adams"})
	require.NoError(t, err)
	assert.Equal(t, "Dr. Adams", svc.DisplayName(ctx, "dra@clinic"))
}

func TestPatientSummary_JoinsProfile(t *testing.T) {
	svc, store := setupDirectory(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "users/p1", map[string]interface{}{
		"name":         "Jane Doe",
		"age":          34,
		"healthNumber": "HN-1234",
	})
	require.NoError(t, err)

	apt := &types.Appointment{PatientID: "p1", PatientName: "J. Doe", Date: "8/30/2026", Status: types.StatusConfirmed}
	summary := svc.PatientSummary(ctx, apt)

	assert.Equal(t, "Jane Doe", summary.PatientName)
	assert.Equal(t, 34, summary.Age)
	assert.Equal(t, "HN-1234", summary.HealthNumber)
	assert.Equal(t, "8/30/2026", summary.LastVisit)
}

func TestPatientSummary_MissingProfileStaysPartial(t *testing.T) {
	svc, _ := setupDirectory(t)

	apt := &types.Appointment{PatientID: "p9", PatientName: "Walk In", Date: "1/2/2026", Status: types.StatusConfirmed}
	summary := svc.PatientSummary(context.Background(), apt)

	assert.Equal(t, "Walk In", summary.PatientName)
	assert.Zero(t, summary.Age)
	assert.Empty(t, summary.HealthNumber)
}

func TestDoctors_ListsAll(t *testing.T) {
	svc, store := setupDirectory(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "doctors/dra@clinic", map[string]interface{}{"Name": "Dr. Adams"})
	require.NoError(t, err)
	_, err = store.Put(ctx, "doctors/drb@clinic", map[string]interface{}{"Name": "Dr. Brown"})
	require.NoError(t, err)

	doctors, err := svc.Doctors(ctx)
	require.NoError(t, err)
	require.Len(t, doctors, 2)
	assert.Equal(t, "dra@clinic", doctors[0].ID)
	assert.Equal(t, "drb@clinic", doctors[1].ID)
}
