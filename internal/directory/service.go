// Package directory provides read-side lookups over the doctor and patient
// registration collections. Both collections are written by the external
// registration flow; this service only reads them.
package directory

import (
	"context"

	"github.com/carebook/clinic-ledger/internal/ledger"
	"github.com/carebook/clinic-ledger/pkg/identity"
	"github.com/carebook/clinic-ledger/pkg/logger"
	"github.com/carebook/clinic-ledger/pkg/types"
)

// Service resolves doctor and patient profiles from the ledger
type Service struct {
	store  *ledger.Store
	logger *logger.Logger
}

// New creates a new directory service
func New(store *ledger.Store, log *logger.Logger) *Service {
	return &Service{
		store:  store,
		logger: log,
	}
}

// Doctor retrieves a doctor profile by raw or normalized identity
func (s *Service) Doctor(ctx context.Context, doctorID string) (*types.Doctor, error) {
	key, err := identity.Normalize(doctorID)
	if err != nil {
		return nil, err
	}

	var doctor types.Doctor
	if err := s.store.GetInto(ctx, "doctors/"+key, &doctor); err != nil {
		return nil, err
	}
	doctor.ID = key
	return &doctor, nil
}

// Doctors lists every registered doctor profile
func (s *Service) Doctors(ctx context.Context) ([]*types.Doctor, error) {
	keys, err := s.store.Children(ctx, "doctors")
	if err != nil {
		return nil, err
	}

	doctors := make([]*types.Doctor, 0, len(keys))
	for _, key := range keys {
		var doctor types.Doctor
		if err := s.store.GetInto(ctx, "doctors/"+key, &doctor); err != nil {
			s.logger.WithError(err).WithField("doctor_id", key).Warn("Skipping undecodable doctor profile")
			continue
		}
		doctor.ID = key
		doctors = append(doctors, &doctor)
	}
	return doctors, nil
}

// DisplayName resolves a doctor's display name, falling back to the
// identifier itself when the profile is absent. A missing join is not an
// error: patient-facing listings must not fail because one doctor never
// completed registration.
func (s *Service) DisplayName(ctx context.Context, doctorID string) string {
	doctor, err := s.Doctor(ctx, doctorID)
	if err != nil || doctor.Name == "" {
		return doctorID
	}
	return doctor.Name
}

// Patient retrieves a patient profile by stable identifier
func (s *Service) Patient(ctx context.Context, patientID string) (*types.Patient, error) {
	if patientID == "" {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "patient ID is required", nil)
	}

	var patient types.Patient
	if err := s.store.GetInto(ctx, "users/"+patientID, &patient); err != nil {
		return nil, err
	}
	patient.ID = patientID
	return &patient, nil
}

// PatientSummary joins an appointment with the patient's profile for the
// doctor-side records view. Absent profile fields stay empty rather than
// failing the join.
func (s *Service) PatientSummary(ctx context.Context, apt *types.Appointment) *types.PatientSummary {
	summary := &types.PatientSummary{
		PatientID:   apt.PatientID,
		PatientName: apt.PatientName,
		LastVisit:   apt.Date,
	}

	patient, err := s.Patient(ctx, apt.PatientID)
	if err != nil {
		s.logger.WithField("patient_id", apt.PatientID).Debug("No profile for patient, summary left partial")
		return summary
	}

	if patient.Name != "" {
		summary.PatientName = patient.Name
	}
	summary.Age = patient.Age
	summary.HealthNumber = patient.HealthNumber
	return summary
}
