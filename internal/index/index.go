// Package index derives a patient-keyed view over the doctor-partitioned
// appointment collection. Primary storage partitions appointments by doctor,
// so a patient's "my appointments" query has no direct lookup path: the index
// scans every doctor partition, filters by patient, and joins in the doctor's
// display name. Cost is O(total appointments) per refresh, which is accepted
// at small fleet scale.
package index

import (
	"context"
	"sort"
	"time"

	"github.com/carebook/clinic-ledger/internal/directory"
	"github.com/carebook/clinic-ledger/internal/ledger"
	"github.com/carebook/clinic-ledger/pkg/logger"
	"github.com/carebook/clinic-ledger/pkg/monitoring"
	"github.com/carebook/clinic-ledger/pkg/types"
)

const appointmentsRoot = "appointments"

// PatientIndex answers patient-side appointment queries
type PatientIndex struct {
	store     *ledger.Store
	directory *directory.Service
	logger    *logger.Logger
}

// New creates a new patient index
func New(store *ledger.Store, dir *directory.Service, log *logger.Logger) *PatientIndex {
	return &PatientIndex{
		store:     store,
		directory: dir,
		logger:    log,
	}
}

// AppointmentsForPatient scans all doctor partitions for the patient's
// appointments. Ordering across partitions is unspecified; callers needing a
// deterministic order apply SortChronological. A doctor with no profile
// record still appears, annotated with the identifier as display name.
func (idx *PatientIndex) AppointmentsForPatient(ctx context.Context, patientID string) ([]types.PatientAppointment, error) {
	if patientID == "" {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "patient ID is required", nil)
	}

	start := time.Now()
	defer func() { monitoring.ObserveIndexRefresh(time.Since(start)) }()

	snapshot, ok, err := idx.store.Get(ctx, appointmentsRoot)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	partitions, ok := snapshot.(map[string]interface{})
	if !ok {
		return nil, types.NewSchemaError("appointments root is not a collection", nil)
	}

	var results []types.PatientAppointment
	for doctorID, partition := range partitions {
		slots, ok := partition.(map[string]interface{})
		if !ok {
			continue
		}
		raw, ok := slots[patientID]
		if !ok {
			continue
		}

		var apt types.Appointment
		if err := ledger.Decode(raw, &apt); err != nil {
			// one malformed record must not fail the whole listing
			idx.logger.WithError(err).WithFields(map[string]interface{}{
				"doctor_id":  doctorID,
				"patient_id": patientID,
			}).Warn("Skipping undecodable appointment record")
			continue
		}
		apt.DoctorID = doctorID

		results = append(results, types.PatientAppointment{
			Appointment:       apt,
			DoctorDisplayName: idx.directory.DisplayName(ctx, doctorID),
		})
	}
	return results, nil
}

// ConfirmedForPatient returns only the patient's confirmed visits. The
// medical-history read side hangs off this: prescriptions are surfaced only
// in the context of a confirmed appointment between the same doctor and
// patient.
func (idx *PatientIndex) ConfirmedForPatient(ctx context.Context, patientID string) ([]types.PatientAppointment, error) {
	all, err := idx.AppointmentsForPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	confirmed := all[:0]
	for _, apt := range all {
		if apt.Status == types.StatusConfirmed {
			confirmed = append(confirmed, apt)
		}
	}
	return confirmed, nil
}

// Refresh re-executes the scan for a patient and logs the fresh view size.
// The workflow engine calls this after each status transition.
func (idx *PatientIndex) Refresh(ctx context.Context, patientID string) error {
	view, err := idx.AppointmentsForPatient(ctx, patientID)
	if err != nil {
		return err
	}
	idx.logger.WithFields(map[string]interface{}{
		"patient_id":   patientID,
		"appointments": len(view),
	}).Debug("Patient index refreshed")
	return nil
}

// Watch subscribes the patient's view to the appointments collection. Every
// write under the collection re-executes the scan and delivers the fresh
// view; rapid writes may coalesce to a single delivery carrying the latest
// state. Release the returned subscription to stop delivery.
func (idx *PatientIndex) Watch(patientID string, fn func(view []types.PatientAppointment)) (*ledger.Subscription, error) {
	return idx.store.Subscribe(appointmentsRoot, func(interface{}, bool) {
		view, err := idx.AppointmentsForPatient(context.Background(), patientID)
		if err != nil {
			idx.logger.WithError(err).WithField("patient_id", patientID).Error("Patient index watch scan failed")
			return
		}
		fn(view)
	})
}

// SortChronological orders a patient view by date then time, the client-side
// sort key the scan itself cannot provide. Unparseable dates sort last in
// their original relative order.
func SortChronological(view []types.PatientAppointment) {
	sort.SliceStable(view, func(i, j int) bool {
		di, iok := parseDate(view[i].Date)
		dj, jok := parseDate(view[j].Date)
		switch {
		case iok && !jok:
			return true
		case !iok && jok:
			return false
		case !iok && !jok:
			return false
		}
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		ti, iok := parseClock(view[i].Time)
		tj, jok := parseClock(view[j].Time)
		if iok && jok {
			return ti.Before(tj)
		}
		return view[i].Time < view[j].Time
	})
}

// parseDate reads the ledger's M/D/YYYY calendar strings
func parseDate(s string) (time.Time, bool) {
	t, err := time.Parse("1/2/2006", s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// parseClock reads clock labels like "9:30 AM"; 24h "14:00" also accepted
func parseClock(s string) (time.Time, bool) {
	for _, layout := range []string{"3:04 PM", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
