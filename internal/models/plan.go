package models

import "time"

type ActivityType string

const (
	ActivityTheory    ActivityType = "TEORIA"
	ActivityReview    ActivityType = "REVISAO"
	ActivityQuestions ActivityType = "QUESTOES"
	ActivityLawText   ActivityType = "LEI_SECA"
)

var ActivityTypes = []ActivityType{ActivityTheory, ActivityReview, ActivityQuestions, ActivityLawText}

func (a ActivityType) Valid() bool {
	for _, t := range ActivityTypes {
		if a == t {
			return true
		}
	}
	return false
}

// PlanDateLayout is the calendar-date format of DailyPlan.Date.
const PlanDateLayout = "2006-01-02"

type StudySlot struct {
	ID              string       `json:"id"`
	Subject         string       `json:"subject"`
	Topic           string       `json:"topic"`
	ActivityType    ActivityType `json:"activity_type"`
	DurationMinutes int          `json:"duration_minutes"`
	Notes           string       `json:"notes,omitempty"`
	Completed       bool         `json:"completed"`
}

type DailyPlan struct {
	ID          string      `json:"id"`
	Date        string      `json:"date"`
	TargetHours float64     `json:"target_hours"`
	Slots       []StudySlot `json:"slots"`
}

// IsFor reports whether the plan was generated for the calendar day of t.
func (p *DailyPlan) IsFor(t time.Time) bool {
	return p.Date == t.Format(PlanDateLayout)
}

func (p *DailyPlan) CompletedMinutes() int {
	total := 0
	for _, s := range p.Slots {
		if s.Completed {
			total += s.DurationMinutes
		}
	}
	return total
}

type GeneratePlanRequest struct {
	AvailableHours float64 `json:"available_hours"`
}
