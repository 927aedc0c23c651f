package model

import "time"

// OutcomeState is the review state of a property-platform pair.
type OutcomeState string

const (
	// OutcomePending means the pipeline recorded evidence and a reviewer has
	// not yet decided.
	OutcomePending OutcomeState = "pending"
	// OutcomeInvestigate is the reviewer decision that the listing warrants
	// follow-up.
	OutcomeInvestigate OutcomeState = "investigate"
	// OutcomeNoMatch is the reviewer decision that the hit is not the
	// managed property.
	OutcomeNoMatch OutcomeState = "no_match"
	// OutcomeError means every scrape attempt for the pair failed outright.
	OutcomeError OutcomeState = "error"
)

// ReviewDecision reports whether s is a state a reviewer may set.
func (s OutcomeState) ReviewDecision() bool {
	return s == OutcomeInvestigate || s == OutcomeNoMatch
}

// Terminal reports whether the state admits no further transition.
// Pending is the only reviewable state; everything else is final.
func (s OutcomeState) Terminal() bool {
	return s != OutcomePending
}

// CanTransition reports whether moving from s to next is a legal review
// transition. Only pending → investigate|no_match is allowed; outcomes never
// move backward and never transition twice.
func (s OutcomeState) CanTransition(next OutcomeState) bool {
	return s == OutcomePending && next.ReviewDecision()
}

// MatchOutcome is the persisted, reviewable record for one (property,
// platform) pair. The pipeline creates it with detection evidence; only a
// human reviewer moves Outcome off pending, and only once.
type MatchOutcome struct {
	JobID            string       `json:"job_id"`
	ContactID        string       `json:"contact_id"`
	PropertyPostcode string       `json:"property_postcode"`
	Platform         Platform     `json:"platform"`
	Outcome          OutcomeState `json:"outcome"`
	Found            bool         `json:"found"`
	Method           MatchMethod  `json:"method"`
	Confidence       float64      `json:"confidence"`
	ListingURL       string       `json:"listing_url,omitempty"`
	Attempts         int          `json:"attempts"`
	CostUnits        int          `json:"cost_units"`
	ReviewedAt       *time.Time   `json:"reviewed_at,omitempty"`
	ReviewedBy       string       `json:"reviewed_by,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// Suggested returns the outcome the evidence points at, for the review UI:
// investigate when the detector found the postcode, no_match when it did not,
// and error passes through unchanged.
func (o MatchOutcome) Suggested() OutcomeState {
	if o.Outcome == OutcomeError {
		return OutcomeError
	}
	if o.Found {
		return OutcomeInvestigate
	}
	return OutcomeNoMatch
}

// OutcomeCounts aggregates review states per job for reporting.
type OutcomeCounts struct {
	Pending     int `json:"pending"`
	Investigate int `json:"investigate"`
	NoMatch     int `json:"no_match"`
	Error       int `json:"error"`
}

// Total returns the number of outcome rows counted.
func (c OutcomeCounts) Total() int {
	return c.Pending + c.Investigate + c.NoMatch + c.Error
}
