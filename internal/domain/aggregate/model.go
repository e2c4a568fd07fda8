package aggregate

import (
	"github.com/chartsync/chartsync/internal/domain/tableroute"
)

// Row is one generically-typed record as stored in the backing table. Column
// values keep whatever type the driver produced.
type Row map[string]any

// MirroredList holds two parallel sequences of the same conceptual entity:
// rows of record kept locally and rows mirrored from the external EHR. The
// two sides are never merged server-side.
type MirroredList struct {
	Local    []Row `json:"local"`
	DrChrono []Row `json:"drchrono"`
}

// HistoryBundle groups the history sub-collections.
type HistoryBundle struct {
	Family   []Row `json:"family"`
	Social   []Row `json:"social"`
	Surgical []Row `json:"surgical"`
}

// BillingBundle groups claims and payments.
type BillingBundle struct {
	Claims   []Row `json:"claims"`
	Payments []Row `json:"payments"`
}

// PatientRecordBundle is the full nested snapshot for one patient. Every
// collection is always present and non-nil (possibly empty), so consumers
// never null-check before iterating. Patient and Pharmacy are nil when the
// corresponding point lookup found nothing.
type PatientRecordBundle struct {
	PatientID     string        `json:"patient_id"`
	Patient       Row           `json:"patient"`
	Medications   MirroredList  `json:"medications"`
	Allergies     MirroredList  `json:"allergies"`
	Problems      MirroredList  `json:"problems"`
	Vitals        []Row         `json:"vitals"`
	Appointments  []Row         `json:"appointments"`
	ClinicalNotes MirroredList  `json:"clinical_notes"`
	Documents     MirroredList  `json:"documents"`
	LabResults    MirroredList  `json:"lab_results"`
	Immunizations []Row         `json:"immunizations"`
	Insurance     []Row         `json:"insurance"`
	History       HistoryBundle `json:"history"`
	Prescriptions []Row         `json:"prescriptions"`
	Orders        []Row         `json:"orders"`
	Billing       BillingBundle `json:"billing"`
	CarePlans     []Row         `json:"care_plans"`
	Alerts        []Row         `json:"alerts"`
	Pharmacy      Row           `json:"pharmacy"`
}

// NewPatientRecordBundle returns a bundle with every collection initialized
// to an empty slice.
func NewPatientRecordBundle(patientID string) *PatientRecordBundle {
	return &PatientRecordBundle{
		PatientID:     patientID,
		Medications:   MirroredList{Local: []Row{}, DrChrono: []Row{}},
		Allergies:     MirroredList{Local: []Row{}, DrChrono: []Row{}},
		Problems:      MirroredList{Local: []Row{}, DrChrono: []Row{}},
		Vitals:        []Row{},
		Appointments:  []Row{},
		ClinicalNotes: MirroredList{Local: []Row{}, DrChrono: []Row{}},
		Documents:     MirroredList{Local: []Row{}, DrChrono: []Row{}},
		LabResults:    MirroredList{Local: []Row{}, DrChrono: []Row{}},
		Immunizations: []Row{},
		Insurance:     []Row{},
		History:       HistoryBundle{Family: []Row{}, Social: []Row{}, Surgical: []Row{}},
		Prescriptions: []Row{},
		Orders:        []Row{},
		Billing:       BillingBundle{Claims: []Row{}, Payments: []Row{}},
		CarePlans:     []Row{},
		Alerts:        []Row{},
	}
}

// ListFor returns a pointer to the mutable collection for the domain, which
// for mirrored domains is the local side. It returns nil for the patient
// profile (a point record, not a list) and for domains outside the bundle.
// The switch is exhaustive over the router's domain set; adding a domain
// without a case here is caught by TestListForCoversAllRoutes.
func (b *PatientRecordBundle) ListFor(d tableroute.Domain) *[]Row {
	switch d {
	case tableroute.Medications:
		return &b.Medications.Local
	case tableroute.Allergies:
		return &b.Allergies.Local
	case tableroute.Problems:
		return &b.Problems.Local
	case tableroute.Vitals:
		return &b.Vitals
	case tableroute.Appointments:
		return &b.Appointments
	case tableroute.ClinicalNotes:
		return &b.ClinicalNotes.Local
	case tableroute.Documents:
		return &b.Documents.Local
	case tableroute.LabResults:
		return &b.LabResults.Local
	case tableroute.Immunizations:
		return &b.Immunizations
	case tableroute.Insurance:
		return &b.Insurance
	case tableroute.FamilyHistory:
		return &b.History.Family
	case tableroute.SocialHistory:
		return &b.History.Social
	case tableroute.SurgicalHistory:
		return &b.History.Surgical
	case tableroute.Prescriptions:
		return &b.Prescriptions
	case tableroute.LabOrders:
		return &b.Orders
	case tableroute.BillingClaims:
		return &b.Billing.Claims
	case tableroute.BillingPayments:
		return &b.Billing.Payments
	case tableroute.CarePlans:
		return &b.CarePlans
	case tableroute.Alerts:
		return &b.Alerts
	}
	return nil
}

// mirrorFor returns a pointer to the external-EHR side of a mirrored domain,
// or nil for everything else.
func (b *PatientRecordBundle) mirrorFor(d tableroute.Domain) *[]Row {
	switch d {
	case tableroute.Medications:
		return &b.Medications.DrChrono
	case tableroute.Allergies:
		return &b.Allergies.DrChrono
	case tableroute.Problems:
		return &b.Problems.DrChrono
	case tableroute.ClinicalNotes:
		return &b.ClinicalNotes.DrChrono
	case tableroute.Documents:
		return &b.Documents.DrChrono
	case tableroute.LabResults:
		return &b.LabResults.DrChrono
	}
	return nil
}

// ID extracts the row's primary id as a string, or "" when absent.
func (r Row) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Origin reports where a mirrored-domain row came from; rows without an
// origin column are local.
func (r Row) Origin() string {
	o, _ := r["origin"].(string)
	return o
}
