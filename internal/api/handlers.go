package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/carebook/clinic-ledger/internal/index"
	"github.com/carebook/clinic-ledger/internal/prescription"
	"github.com/carebook/clinic-ledger/internal/workflow"
	"github.com/carebook/clinic-ledger/pkg/types"
)

// attachments above this size are rejected before buffering
const maxAttachmentBytes = 10 << 20

// bookAppointmentHandler handles a patient's booking submission. The patient
// identity comes from the token, never the request body.
func (s *Server) bookAppointmentHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	var req workflow.BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.PatientID = actor.Subject

	apt, err := s.engine.Book(r.Context(), &req)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSONResponse(w, http.StatusCreated, apt)
}

// doctorAppointmentsHandler lists the calling doctor's partition
func (s *Server) doctorAppointmentsHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	appointments, err := s.engine.DoctorAppointments(r.Context(), actor.Subject, r.URL.Query().Get("date"))
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, appointments)
}

// doctorPatientsHandler lists summaries for the patients the calling doctor
// has confirmed appointments with
func (s *Server) doctorPatientsHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	appointments, err := s.engine.DoctorAppointments(r.Context(), actor.Subject, "")
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	summaries := make([]*types.PatientSummary, 0, len(appointments))
	for i := range appointments {
		if appointments[i].Status != types.StatusConfirmed {
			continue
		}
		summaries = append(summaries, s.directory.PatientSummary(r.Context(), &appointments[i]))
	}
	s.writeJSONResponse(w, http.StatusOK, summaries)
}

// transitionHandler moves one of the calling doctor's appointments to target
func (s *Server) transitionHandler(target types.AppointmentStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())
		patientID := mux.Vars(r)["patientId"]

		apt, err := s.engine.Transition(r.Context(), actor.Subject, patientID, target)
		if err != nil {
			s.writeLedgerError(w, err)
			return
		}
		s.writeJSONResponse(w, http.StatusOK, apt)
	}
}

// patientAppointmentsHandler returns the calling patient's appointments
// across all doctors, in chronological order
func (s *Server) patientAppointmentsHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	view, err := s.index.AppointmentsForPatient(r.Context(), actor.Subject)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	index.SortChronological(view)
	s.writeJSONResponse(w, http.StatusOK, view)
}

// medicalHistoryHandler returns the calling patient's confirmed visits
func (s *Server) medicalHistoryHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	view, err := s.index.ConfirmedForPatient(r.Context(), actor.Subject)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	index.SortChronological(view)
	s.writeJSONResponse(w, http.StatusOK, view)
}

// recordPrescriptionHandler appends a prescription entry for the given
// patient. Accepts either a JSON body or a multipart form with an optional
// attachment part.
func (s *Server) recordPrescriptionHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	req := prescription.RecordRequest{
		DoctorID:  actor.Subject,
		PatientID: mux.Vars(r)["patientId"],
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxAttachmentBytes); err != nil {
			s.writeErrorResponse(w, http.StatusBadRequest, "Invalid multipart form", err)
			return
		}
		req.Text = r.FormValue("prescription")

		if file, header, err := r.FormFile("attachment"); err == nil {
			defer file.Close()
			data, rerr := io.ReadAll(io.LimitReader(file, maxAttachmentBytes))
			if rerr != nil {
				s.writeErrorResponse(w, http.StatusBadRequest, "Failed to read attachment", rerr)
				return
			}
			req.Attachment = data
			req.AttachmentName = header.Filename
		}
	} else {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
		req.DoctorID = actor.Subject
		req.PatientID = mux.Vars(r)["patientId"]
	}

	entry, err := s.prescriptions.Record(r.Context(), &req)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSONResponse(w, http.StatusCreated, entry)
}

// listPrescriptionsHandler lists prescription entries. A doctor passes a
// patient ID and reads their own partition; a patient passes a doctor ID and
// reads their own history under that doctor.
func (s *Server) listPrescriptionsHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	id := mux.Vars(r)["id"]

	var doctorID, patientID string
	switch actor.Role {
	case RoleDoctor:
		doctorID, patientID = actor.Subject, id
	case RolePatient:
		doctorID, patientID = id, actor.Subject
	default:
		s.writeErrorResponse(w, http.StatusForbidden, "Unknown role", nil)
		return
	}

	entries, err := s.prescriptions.List(r.Context(), doctorID, patientID)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, entries)
}

// attachmentHandler serves a prescription attachment by its stored reference
func (s *Server) attachmentHandler(w http.ResponseWriter, r *http.Request) {
	path, err := s.prescriptions.ResolveAttachment(r.Context(), mux.Vars(r)["ref"])
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	http.ServeFile(w, r, path)
}

// doctorView exposes the partition key alongside the stored record
type doctorView struct {
	ID string `json:"id"`
	*types.Doctor
}

// listDoctorsHandler returns the doctor directory
func (s *Server) listDoctorsHandler(w http.ResponseWriter, r *http.Request) {
	doctors, err := s.directory.Doctors(r.Context())
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	view := make([]doctorView, 0, len(doctors))
	for _, doctor := range doctors {
		view = append(view, doctorView{ID: doctor.ID, Doctor: doctor})
	}
	s.writeJSONResponse(w, http.StatusOK, view)
}
