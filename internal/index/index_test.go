package index

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebook/clinic-ledger/internal/directory"
	"github.com/carebook/clinic-ledger/internal/ledger"
	"github.com/carebook/clinic-ledger/pkg/logger"
	"github.com/carebook/clinic-ledger/pkg/types"
)

func setupIndex(t *testing.T) (*PatientIndex, *ledger.Store) {
	log := logger.New("error")
	store := ledger.NewStore(log)
	return New(store, directory.New(store, log), log), store
}

func putAppointment(t *testing.T, store *ledger.Store, doctorID, patientID string, status types.AppointmentStatus, date, clock string) {
	t.Helper()
	_, err := store.Put(context.Background(), "appointments/"+doctorID+"/"+patientID, &types.Appointment{
		DoctorID:    doctorID,
		PatientID:   patientID,
		PatientName: "Patient " + patientID,
		Date:        date,
		Time:        clock,
		Status:      status,
	})
	require.NoError(t, err)
}

func TestAppointmentsForPatient_FiltersAcrossDoctors(t *testing.T) {
	idx, store := setupIndex(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "doctors/d1@clinic", map[string]interface{}{"Name": "Dr. One"})
	require.NoError(t, err)
	_, err = store.Put(ctx, "doctors/d2@clinic", map[string]interface{}{"Name": "Dr. Two"})
	require.NoError(t, err)

	// only D1 has an appointment with P; D2 sees another patient
	putAppointment(t, store, "d1@clinic", "p1", types.StatusPending, "8/30/2026", "10:00 AM")
	putAppointment(t, store, "d2@clinic", "p2", types.StatusPending, "8/30/2026", "11:00 AM")

	view, err := idx.AppointmentsForPatient(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, view, 1)
	assert.Equal(t, "d1@clinic", view[0].DoctorID)
	assert.Equal(t, "Dr. One", view[0].DoctorDisplayName)
	assert.Equal(t, types.StatusPending, view[0].Status)
}

func TestAppointmentsForPatient_MissingDoctorJoinFallsBack(t *testing.T) {
	idx, store := setupIndex(t)

	putAppointment(t, store, "ghost@clinic", "p1", types.StatusPending, "8/30/2026", "9:00 AM")

	view, err := idx.AppointmentsForPatient(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, view, 1)
	assert.Equal(t, "ghost@clinic", view[0].DoctorDisplayName)
}

func TestAppointmentsForPatient_SkipsMalformedRecords(t *testing.T) {
	idx, store := setupIndex(t)
	ctx := context.Background()

	putAppointment(t, store, "d1@clinic", "p1", types.StatusConfirmed, "8/30/2026", "9:00 AM")
	// a record with an undefined status must not poison the listing
	_, err := store.Put(ctx, "appointments/d2@clinic/p1", map[string]interface{}{
		"PatientID": "p1",
		"Status":    "Rescheduled",
	})
	require.NoError(t, err)

	view, err := idx.AppointmentsForPatient(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, view, 1)
	assert.Equal(t, "d1@clinic", view[0].DoctorID)
}

func TestAppointmentsForPatient_EmptyTree(t *testing.T) {
	idx, _ := setupIndex(t)

	view, err := idx.AppointmentsForPatient(context.Background(), "p1")
	require.NoError(t, err)
	assert.Empty(t, view)
}

func TestConfirmedForPatient(t *testing.T) {
	idx, store := setupIndex(t)

	putAppointment(t, store, "d1@clinic", "p1", types.StatusConfirmed, "8/30/2026", "9:00 AM")
	putAppointment(t, store, "d2@clinic", "p1", types.StatusPending, "8/31/2026", "9:00 AM")
	putAppointment(t, store, "d3@clinic", "p1", types.StatusCancelled, "9/1/2026", "9:00 AM")

	view, err := idx.ConfirmedForPatient(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, view, 1)
	assert.Equal(t, "d1@clinic", view[0].DoctorID)
}

func TestSortChronological(t *testing.T) {
	view := []types.PatientAppointment{
		{Appointment: types.Appointment{DoctorID: "late", Date: "9/2/2026", Time: "9:00 AM"}},
		{Appointment: types.Appointment{DoctorID: "early-pm", Date: "9/1/2026", Time: "2:30 PM"}},
		{Appointment: types.Appointment{DoctorID: "early-am", Date: "9/1/2026", Time: "8:15 AM"}},
		{Appointment: types.Appointment{DoctorID: "undated", Date: "sometime"}},
	}

	SortChronological(view)

	order := []string{view[0].DoctorID, view[1].DoctorID, view[2].DoctorID, view[3].DoctorID}
	assert.Equal(t, []string{"early-am", "early-pm", "late", "undated"}, order)
}

func TestWatch_DeliversFreshView(t *testing.T) {
	idx, store := setupIndex(t)

	var mu sync.Mutex
	var latest []types.PatientAppointment
	sub, err := idx.Watch("p1", func(view []types.PatientAppointment) {
		mu.Lock()
		latest = view
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Release()

	putAppointment(t, store, "d1@clinic", "p1", types.StatusPending, "8/30/2026", "10:00 AM")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(latest) == 1 && latest[0].Status == types.StatusPending
	}, 2*time.Second, 10*time.Millisecond)

	// a status change re-scans and delivers the updated view
	putAppointment(t, store, "d1@clinic", "p1", types.StatusConfirmed, "8/30/2026", "10:00 AM")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(latest) == 1 && latest[0].Status == types.StatusConfirmed
	}, 2*time.Second, 10*time.Millisecond)
}
