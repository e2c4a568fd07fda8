// Package tableroute is the single source of truth tying a clinical domain to
// its backing table, its position in the patient record bundle, and the
// mutation verbs permitted on it. The aggregator's query list, the mutation
// whitelists, and the client cache's splice targets all derive from this one
// table, so they cannot drift apart.
package tableroute

// Domain enumerates every resource the patient data layer serves.
type Domain int

const (
	Patients Domain = iota
	Medications
	Allergies
	Problems
	Vitals
	Appointments
	ClinicalNotes
	Documents
	LabResults
	Immunizations
	Insurance
	FamilyHistory
	SocialHistory
	SurgicalHistory
	Prescriptions
	LabOrders
	BillingClaims
	BillingPayments
	CarePlans
	Alerts
	Referrals
	StaffTasks
	Pharmacy

	domainCount // sentinel, keep last
)

// Route describes one domain's wiring.
type Route struct {
	Domain Domain
	// Table is the backing relational table name.
	Table string
	// BundlePath is the dotted path to the domain's collection inside the
	// patient record bundle. Empty for domains that are mutable through the
	// generic surface but not part of the bundle (referrals, staff tasks).
	BundlePath string
	// Mirrored domains carry a parallel external-EHR sequence alongside the
	// local one; mutations always target the local side.
	Mirrored bool
	// Singleton domains map to a single point record rather than a list.
	Singleton bool
	AllowPut    bool
	AllowPost   bool
	AllowDelete bool
}

// routes is indexed by Domain. The sentinel-sized array makes a missing entry
// a zero Route, which TestRoutesExhaustive rejects.
var routes = [domainCount]Route{
	Patients:        {Domain: Patients, Table: "patients", BundlePath: "patient", Singleton: true, AllowPut: true, AllowDelete: true},
	Medications:     {Domain: Medications, Table: "patient_medications", BundlePath: "medications.local", Mirrored: true, AllowPut: true, AllowPost: true, AllowDelete: true},
	Allergies:       {Domain: Allergies, Table: "patient_allergies", BundlePath: "allergies.local", Mirrored: true, AllowPut: true, AllowPost: true, AllowDelete: true},
	Problems:        {Domain: Problems, Table: "patient_problems", BundlePath: "problems.local", Mirrored: true, AllowPut: true, AllowPost: true, AllowDelete: true},
	Vitals:          {Domain: Vitals, Table: "patient_vitals", BundlePath: "vitals", AllowPut: true, AllowPost: true, AllowDelete: true},
	Appointments:    {Domain: Appointments, Table: "appointments", BundlePath: "appointments", AllowPut: true, AllowPost: true},
	ClinicalNotes:   {Domain: ClinicalNotes, Table: "clinical_notes", BundlePath: "clinical_notes.local", Mirrored: true, AllowPut: true, AllowPost: true, AllowDelete: true},
	Documents:       {Domain: Documents, Table: "patient_documents", BundlePath: "documents.local", Mirrored: true, AllowPut: true, AllowPost: true, AllowDelete: true},
	LabResults:      {Domain: LabResults, Table: "lab_results", BundlePath: "lab_results.local", Mirrored: true, AllowPut: true, AllowPost: true, AllowDelete: true},
	Immunizations:   {Domain: Immunizations, Table: "patient_immunizations", BundlePath: "immunizations", AllowPut: true, AllowPost: true, AllowDelete: true},
	Insurance:       {Domain: Insurance, Table: "patient_insurance", BundlePath: "insurance", AllowPut: true, AllowPost: true, AllowDelete: true},
	FamilyHistory:   {Domain: FamilyHistory, Table: "patient_family_history", BundlePath: "history.family", AllowPut: true, AllowPost: true, AllowDelete: true},
	SocialHistory:   {Domain: SocialHistory, Table: "patient_social_history", BundlePath: "history.social", AllowPut: true, AllowPost: true, AllowDelete: true},
	SurgicalHistory: {Domain: SurgicalHistory, Table: "patient_surgical_history", BundlePath: "history.surgical", AllowPut: true, AllowPost: true, AllowDelete: true},
	Prescriptions:   {Domain: Prescriptions, Table: "prescriptions", BundlePath: "prescriptions", AllowPut: true, AllowPost: true, AllowDelete: true},
	LabOrders:       {Domain: LabOrders, Table: "lab_orders", BundlePath: "orders", AllowPut: true, AllowPost: true, AllowDelete: true},
	BillingClaims:   {Domain: BillingClaims, Table: "billing_claims", BundlePath: "billing.claims", AllowPut: true, AllowPost: true},
	BillingPayments: {Domain: BillingPayments, Table: "billing_payments", BundlePath: "billing.payments", AllowPut: true, AllowPost: true},
	CarePlans:       {Domain: CarePlans, Table: "care_plans", BundlePath: "care_plans", AllowPut: true, AllowPost: true, AllowDelete: true},
	Alerts:          {Domain: Alerts, Table: "cdss_alerts", BundlePath: "alerts", AllowPut: true, AllowPost: true, AllowDelete: true},
	Referrals:       {Domain: Referrals, Table: "referrals", AllowPut: true, AllowPost: true, AllowDelete: true},
	StaffTasks:      {Domain: StaffTasks, Table: "staff_tasks", AllowPut: true, AllowPost: true, AllowDelete: true},
	Pharmacy:        {Domain: Pharmacy, Table: "patient_pharmacy", BundlePath: "pharmacy", Singleton: true},
}

var byTable = func() map[string]Route {
	m := make(map[string]Route, len(routes))
	for _, r := range routes {
		m[r.Table] = r
	}
	return m
}()

// Lookup returns the route for a domain.
func Lookup(d Domain) Route {
	return routes[d]
}

// ByTable resolves a backing table name to its route. The second return is
// false for any table outside the closed set.
func ByTable(table string) (Route, bool) {
	r, ok := byTable[table]
	return r, ok
}

// All returns every route in domain order.
func All() []Route {
	out := make([]Route, len(routes))
	copy(out, routes[:])
	return out
}

// Verb identifies a mutation verb on the generic surface.
type Verb int

const (
	VerbPut Verb = iota
	VerbPost
	VerbDelete
)

// Allowed reports whether the table may be mutated with the given verb.
// Unknown tables are never allowed.
func Allowed(table string, v Verb) bool {
	r, ok := byTable[table]
	if !ok {
		return false
	}
	switch v {
	case VerbPut:
		return r.AllowPut
	case VerbPost:
		return r.AllowPost
	case VerbDelete:
		return r.AllowDelete
	}
	return false
}

// Tables returns the backing table names permitted for the given verb.
func Tables(v Verb) []string {
	var out []string
	for _, r := range routes {
		if Allowed(r.Table, v) {
			out = append(out, r.Table)
		}
	}
	return out
}

func (d Domain) String() string {
	if d < 0 || d >= domainCount {
		return "unknown"
	}
	return routes[d].Table
}
