// Package prescription records prescription entries against a doctor/patient
// pair. Entries are append-only: each write mints a fresh push key, so
// concurrent doctors never clobber each other's notes.
package prescription

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/carebook/clinic-ledger/internal/ledger"
	"github.com/carebook/clinic-ledger/pkg/identity"
	"github.com/carebook/clinic-ledger/pkg/logger"
	"github.com/carebook/clinic-ledger/pkg/types"
)

// RecordRequest carries a new prescription entry submission
type RecordRequest struct {
	DoctorID       string `json:"doctor_id"`
	PatientID      string `json:"patient_id"`
	Text           string `json:"prescription"`
	AttachmentName string `json:"attachment_name,omitempty"`
	Attachment     []byte `json:"attachment,omitempty"`
}

// Service implements prescription recording and retrieval
type Service struct {
	store  *ledger.Store
	blobs  BlobStore
	logger *logger.Logger
	now    func() time.Time
}

// New creates a new prescription service
func New(store *ledger.Store, blobs BlobStore, log *logger.Logger) *Service {
	return &Service{
		store:  store,
		blobs:  blobs,
		logger: log,
		now:    time.Now,
	}
}

func entryPath(doctorID, patientID, entryID string) string {
	return "prescriptions/" + doctorID + "/" + patientID + "/" + entryID
}

// attachmentExt carries the original file extension into the blob name so
// resolved attachments keep a recognizable type
func attachmentExt(name string) string {
	ext := filepath.Ext(filepath.Base(name))
	if len(ext) > 8 || strings.ContainsAny(ext, "/\\") {
		return ""
	}
	return strings.ToLower(ext)
}

// Record appends a prescription entry. An attachment is uploaded first and
// linked by reference; if the upload fails the entry is still written,
// without the attachment, so the prescription text is never lost to a
// storage outage.
func (s *Service) Record(ctx context.Context, req *RecordRequest) (*types.Prescription, error) {
	if req.Text == "" {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "prescription text is required", nil)
	}
	if req.PatientID == "" {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "patient ID is required", nil)
	}

	doctorID, err := identity.Normalize(req.DoctorID)
	if err != nil {
		return nil, err
	}

	entryID, err := s.store.Push(ctx, "prescriptions/"+doctorID+"/"+req.PatientID)
	if err != nil {
		return nil, err
	}

	entry := &types.Prescription{
		DoctorID:  doctorID,
		PatientID: req.PatientID,
		EntryID:   entryID,
		Text:      req.Text,
		CreatedAt: s.now().UTC(),
	}

	if len(req.Attachment) > 0 {
		name := entryPath(doctorID, req.PatientID, entryID) + attachmentExt(req.AttachmentName)
		ref, uerr := s.blobs.Upload(ctx, name, req.Attachment)
		if uerr != nil {
			s.logger.WithError(uerr).WithFields(map[string]interface{}{
				"doctor_id":  doctorID,
				"patient_id": req.PatientID,
				"entry_id":   entryID,
			}).Warn("Attachment upload failed; recording prescription without it")
		} else {
			entry.AttachmentRef = ref
		}
	}

	if _, err := s.store.Put(ctx, entryPath(doctorID, req.PatientID, entryID), entry); err != nil {
		return nil, err
	}

	s.logger.Audit(doctorID, "record_prescription", entryPath(doctorID, req.PatientID, entryID), true, map[string]interface{}{
		"patient_id":     req.PatientID,
		"has_attachment": entry.AttachmentRef != "",
	})
	return entry, nil
}

// List returns a patient's prescription history under one doctor, oldest
// first. A patient with no entries lists as empty, not as an error.
func (s *Service) List(ctx context.Context, doctorID, patientID string) ([]types.Prescription, error) {
	key, err := identity.Normalize(doctorID)
	if err != nil {
		return nil, err
	}

	entryIDs, err := s.store.Children(ctx, "prescriptions/"+key+"/"+patientID)
	if err != nil {
		return nil, err
	}

	entries := make([]types.Prescription, 0, len(entryIDs))
	for _, entryID := range entryIDs {
		var entry types.Prescription
		if err := s.store.GetInto(ctx, entryPath(key, patientID, entryID), &entry); err != nil {
			s.logger.WithError(err).WithFields(map[string]interface{}{
				"doctor_id":  key,
				"patient_id": patientID,
				"entry_id":   entryID,
			}).Warn("Skipping undecodable prescription entry")
			continue
		}
		entry.DoctorID = key
		entry.PatientID = patientID
		entry.EntryID = entryID
		entries = append(entries, entry)
	}
	return entries, nil
}

// ResolveAttachment maps a stored attachment reference to a retrievable location
func (s *Service) ResolveAttachment(ctx context.Context, ref string) (string, error) {
	return s.blobs.Resolve(ctx, ref)
}
