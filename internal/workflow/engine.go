// Package workflow implements the appointment lifecycle: patient-initiated
// booking and the doctor-side status machine Pending → {Confirmed, Cancelled}.
// Confirmed and Cancelled are terminal; nothing re-opens them.
package workflow

import (
	"context"
	"fmt"

	"github.com/carebook/clinic-ledger/internal/ledger"
	"github.com/carebook/clinic-ledger/pkg/identity"
	"github.com/carebook/clinic-ledger/pkg/logger"
	"github.com/carebook/clinic-ledger/pkg/monitoring"
	"github.com/carebook/clinic-ledger/pkg/types"
)

// IndexRefresher is the slice of the patient index the engine drives as a
// post-transition side effect
type IndexRefresher interface {
	Refresh(ctx context.Context, patientID string) error
}

// Notifier receives appointment lifecycle events
type Notifier interface {
	BookingReceived(ctx context.Context, apt *types.Appointment)
	StatusChanged(ctx context.Context, apt *types.Appointment)
}

// BookingRequest carries a patient's booking submission
type BookingRequest struct {
	DoctorID    string `json:"doctor_id"`
	PatientID   string `json:"patient_id"`
	PatientName string `json:"patient_name"`
	Date        string `json:"date"`
	Time        string `json:"time"`
}

// Engine validates and applies appointment lifecycle operations
type Engine struct {
	store    *ledger.Store
	index    IndexRefresher
	notifier Notifier
	logger   *logger.Logger

	// allowRebook keeps the historical upsert semantics: booking the same
	// doctor/patient pair again replaces any prior appointment state. When
	// false, a live (Pending or Confirmed) slot rejects the new booking.
	allowRebook bool
}

// New creates a new workflow engine
func New(store *ledger.Store, idx IndexRefresher, notifier Notifier, allowRebook bool, log *logger.Logger) *Engine {
	return &Engine{
		store:       store,
		index:       idx,
		notifier:    notifier,
		allowRebook: allowRebook,
		logger:      log,
	}
}

func appointmentPath(doctorID, patientID string) string {
	return "appointments/" + doctorID + "/" + patientID
}

// Book writes a new Pending appointment under the doctor's partition.
// One logical slot exists per doctor/patient pair; see allowRebook for the
// overwrite policy.
func (e *Engine) Book(ctx context.Context, req *BookingRequest) (*types.Appointment, error) {
	if err := validateBooking(req); err != nil {
		return nil, err
	}

	doctorID, err := identity.Normalize(req.DoctorID)
	if err != nil {
		return nil, err
	}

	apt := &types.Appointment{
		DoctorID:    doctorID,
		PatientID:   req.PatientID,
		PatientName: req.PatientName,
		Date:        req.Date,
		Time:        req.Time,
		Status:      types.StatusPending,
	}
	path := appointmentPath(doctorID, req.PatientID)

	if e.allowRebook {
		if _, err := e.store.Put(ctx, path, apt); err != nil {
			return nil, err
		}
	} else {
		_, err := e.store.CompareAndPut(ctx, path, func(current interface{}, ok bool) error {
			if !ok {
				return nil
			}
			var existing types.Appointment
			if derr := ledger.Decode(current, &existing); derr != nil {
				return derr
			}
			if existing.Status != types.StatusCancelled {
				return types.NewConflictError(fmt.Sprintf(
					"an appointment with status %s already exists for this patient", existing.Status))
			}
			return nil
		}, apt)
		if err != nil {
			return nil, err
		}
	}

	e.logger.Audit(req.PatientID, "book_appointment", path, true, map[string]interface{}{
		"doctor_id": doctorID,
		"date":      req.Date,
		"time":      req.Time,
	})

	if e.notifier != nil {
		e.notifier.BookingReceived(ctx, apt)
	}
	return apt, nil
}

// Transition moves a Pending appointment to Confirmed or Cancelled. The
// write is conditional: if the stored status changed between the read and
// the commit, the operation fails with a conflict instead of silently losing
// the concurrent update. The full record is written back, never a partial
// patch.
func (e *Engine) Transition(ctx context.Context, doctorID, patientID string, target types.AppointmentStatus) (apt *types.Appointment, err error) {
	defer func() { monitoring.RecordTransition(string(target), err) }()

	if !target.Valid() || !target.Terminal() {
		err = types.NewInvalidTransitionError(
			fmt.Sprintf("%q is not a valid transition target", target),
			map[string]interface{}{"target": target})
		return nil, err
	}

	key, nerr := identity.Normalize(doctorID)
	if nerr != nil {
		err = nerr
		return nil, err
	}
	path := appointmentPath(key, patientID)

	var current types.Appointment
	if err = e.store.GetInto(ctx, path, &current); err != nil {
		return nil, err
	}
	if current.Status != types.StatusPending {
		err = types.NewInvalidTransitionError(
			fmt.Sprintf("appointment is %s; only Pending appointments can transition", current.Status),
			map[string]interface{}{"status": current.Status, "target": target})
		return nil, err
	}

	updated := current
	updated.DoctorID = key
	updated.Status = target

	_, err = e.store.CompareAndPut(ctx, path, func(stored interface{}, ok bool) error {
		if !ok {
			return types.NewNotFoundError("appointment vanished at " + path)
		}
		var latest types.Appointment
		if derr := ledger.Decode(stored, &latest); derr != nil {
			return derr
		}
		if latest.Status != types.StatusPending {
			return types.NewConflictError(fmt.Sprintf(
				"appointment status changed to %s by a concurrent writer", latest.Status))
		}
		return nil
	}, &updated)
	if err != nil {
		return nil, err
	}

	e.logger.Audit(key, "transition_appointment", path, true, map[string]interface{}{
		"patient_id": patientID,
		"target":     target,
	})

	// side effects are best-effort; the committed transition stands
	if e.index != nil {
		if rerr := e.index.Refresh(ctx, patientID); rerr != nil {
			e.logger.WithError(rerr).WithField("patient_id", patientID).Error("Patient index refresh failed")
		}
	}
	if e.notifier != nil {
		e.notifier.StatusChanged(ctx, &updated)
	}
	return &updated, nil
}

// Get reads one appointment slot
func (e *Engine) Get(ctx context.Context, doctorID, patientID string) (*types.Appointment, error) {
	key, err := identity.Normalize(doctorID)
	if err != nil {
		return nil, err
	}

	var apt types.Appointment
	if err := e.store.GetInto(ctx, appointmentPath(key, patientID), &apt); err != nil {
		return nil, err
	}
	apt.DoctorID = key
	return &apt, nil
}

// DoctorAppointments lists a doctor's partition, optionally filtered to one
// calendar date (M/D/YYYY). Malformed records are skipped with a warning
// rather than failing the listing.
func (e *Engine) DoctorAppointments(ctx context.Context, doctorID, date string) ([]types.Appointment, error) {
	key, err := identity.Normalize(doctorID)
	if err != nil {
		return nil, err
	}

	patients, err := e.store.Children(ctx, "appointments/"+key)
	if err != nil {
		return nil, err
	}

	appointments := make([]types.Appointment, 0, len(patients))
	for _, patientID := range patients {
		var apt types.Appointment
		if err := e.store.GetInto(ctx, appointmentPath(key, patientID), &apt); err != nil {
			e.logger.WithError(err).WithFields(map[string]interface{}{
				"doctor_id":  key,
				"patient_id": patientID,
			}).Warn("Skipping undecodable appointment record")
			continue
		}
		if date != "" && apt.Date != date {
			continue
		}
		apt.DoctorID = key
		appointments = append(appointments, apt)
	}
	return appointments, nil
}

// validateBooking rejects incomplete booking submissions
func validateBooking(req *BookingRequest) error {
	missing := func(field string) error {
		return types.NewValidationError(types.ErrCodeInvalidInput, field+" is required", nil)
	}
	switch {
	case req.DoctorID == "":
		return missing("doctor ID")
	case req.PatientID == "":
		return missing("patient ID")
	case req.PatientName == "":
		return missing("patient name")
	case req.Date == "":
		return missing("date")
	case req.Time == "":
		return missing("time")
	}
	return nil
}
