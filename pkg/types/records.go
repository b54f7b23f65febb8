package types

import "time"

// The wire field names below are fixed by the persisted ledger layout and are
// shared with every client reading the same realtime tree. Appointment fields
// are PascalCase, doctor and user profiles carry their historical lowercase
// keys. Do not rename tags without migrating the tree.

// AppointmentStatus represents appointment lifecycle states
type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "Pending"
	StatusConfirmed AppointmentStatus = "Confirmed"
	StatusCancelled AppointmentStatus = "Cancelled"
)

// Valid reports whether s is a defined appointment status
func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s admits no further transitions
func (s AppointmentStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusCancelled
}

// Doctor represents a registered doctor profile, read-only to this service
type Doctor struct {
	ID        string `json:"-"`
	Name      string `json:"Name"`
	Specialty string `json:"Spl"`
	ImageRef  string `json:"image,omitempty"`
}

// Patient represents a registered patient profile, read-only to this service
type Patient struct {
	ID           string `json:"-"`
	Name         string `json:"name"`
	Age          int    `json:"age"`
	HealthNumber string `json:"healthNumber"`
}

// Appointment represents one appointment slot under a doctor's partition.
// Date is a calendar date string (M/D/YYYY, no time zone), Time a clock label.
type Appointment struct {
	DoctorID    string            `json:"DoctorID"`
	PatientID   string            `json:"PatientID"`
	PatientName string            `json:"PatientName"`
	Date        string            `json:"Date"`
	Time        string            `json:"Time"`
	Status      AppointmentStatus `json:"Status"`
}

// Validate rejects records that would propagate absent or partial data forward
func (a *Appointment) Validate() error {
	if a.PatientID == "" {
		return NewSchemaError("appointment record has no patient ID", nil)
	}
	if !a.Status.Valid() {
		return NewSchemaError("appointment record holds undefined status "+string(a.Status), nil)
	}
	return nil
}

// PatientAppointment is the secondary index view of an appointment,
// annotated with the doctor it was scanned out from
type PatientAppointment struct {
	Appointment
	DoctorDisplayName string `json:"DoctorName"`
}

// Prescription represents one immutable prescription entry.
// EntryID is the store-minted append-only key; entries list in EntryID order.
type Prescription struct {
	DoctorID      string    `json:"-"`
	PatientID     string    `json:"-"`
	EntryID       string    `json:"-"`
	Text          string    `json:"prescription"`
	AttachmentRef string    `json:"fileUrl,omitempty"`
	CreatedAt     time.Time `json:"date"`
}

// Validate rejects prescription records with no text body
func (p *Prescription) Validate() error {
	if p.Text == "" {
		return NewSchemaError("prescription record has no text", nil)
	}
	return nil
}

// PatientSummary joins a confirmed appointment with the patient's profile,
// used by the doctor-side records view
type PatientSummary struct {
	PatientID    string `json:"PatientID"`
	PatientName  string `json:"PatientName"`
	Age          int    `json:"PatientAge"`
	HealthNumber string `json:"healthNumber"`
	LastVisit    string `json:"Date"`
}
