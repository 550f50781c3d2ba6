package domain

import (
	"fmt"
	"strings"
	"time"
)

// Weekdays in the order the schedule is presented.
var Weekdays = []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

type BasicInfo struct {
	BusinessName    string `json:"businessName"`
	BusinessAddress string `json:"businessAddress"`
	BusinessCity    string `json:"businessCity"`
	BusinessPhone   string `json:"businessPhone"`
	BusinessEmail   string `json:"businessEmail"`
	BusinessWebsite string `json:"businessWebsite"`
}

type DaySchedule struct {
	Open       string `json:"open"`
	Close      string `json:"close"`
	BreakStart string `json:"breakStart"`
	BreakEnd   string `json:"breakEnd"`
}

type Service struct {
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Duration int     `json:"duration"`
	Notes    string  `json:"notes"`
}

type Appointments struct {
	Type               string `json:"type"`
	Simultaneous       int    `json:"simultaneous"`
	Interval           int    `json:"interval"`
	CancellationPolicy string `json:"cancellationPolicy"`
}

type WhatsAppSettings struct {
	WelcomeMessage string `json:"welcomeMessage"`
	AutoResponse   string `json:"autoResponse"`
	FAQ            string `json:"faq"`
}

// BusinessProfile is the business configuration attached to an instance and
// forwarded to its webhook.
type BusinessProfile struct {
	InstanceID   string                 `json:"instanceId"`
	Timestamp    time.Time              `json:"timestamp"`
	BasicInfo    BasicInfo              `json:"basicInfo"`
	Schedule     map[string]DaySchedule `json:"schedule"`
	Services     []Service              `json:"services"`
	Appointments Appointments           `json:"appointments"`
	WhatsApp     WhatsAppSettings       `json:"whatsapp"`
}

// FieldError is one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every rejected field of a submission.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

// Normalize trims text fields, drops incomplete services, fills appointment
// defaults and makes sure all seven weekdays are present.
func (p *BusinessProfile) Normalize() {
	b := &p.BasicInfo
	b.BusinessName = strings.TrimSpace(b.BusinessName)
	b.BusinessAddress = strings.TrimSpace(b.BusinessAddress)
	b.BusinessCity = strings.TrimSpace(b.BusinessCity)
	b.BusinessPhone = strings.TrimSpace(b.BusinessPhone)
	b.BusinessEmail = strings.TrimSpace(b.BusinessEmail)
	b.BusinessWebsite = strings.TrimSpace(b.BusinessWebsite)

	if p.Schedule == nil {
		p.Schedule = make(map[string]DaySchedule, len(Weekdays))
	}
	for _, day := range Weekdays {
		p.Schedule[day] = p.Schedule[day]
	}

	services := p.Services[:0]
	for _, s := range p.Services {
		s.Name = strings.TrimSpace(s.Name)
		s.Notes = strings.TrimSpace(s.Notes)
		if s.Name == "" {
			continue
		}
		services = append(services, s)
	}
	p.Services = services

	if p.Appointments.Simultaneous <= 0 {
		p.Appointments.Simultaneous = 1
	}
	if p.Appointments.Interval <= 0 {
		p.Appointments.Interval = 30
	}
	p.WhatsApp.WelcomeMessage = strings.TrimSpace(p.WhatsApp.WelcomeMessage)
}

// Validate checks required fields. The returned warnings do not block saving.
func (p *BusinessProfile) Validate() (warnings []string, err error) {
	verr := &ValidationError{}
	b := p.BasicInfo
	if strings.TrimSpace(b.BusinessName) == "" {
		verr.add("basicInfo.businessName", "business name is required")
	}
	if strings.TrimSpace(b.BusinessCity) == "" {
		verr.add("basicInfo.businessCity", "city is required")
	}
	if strings.TrimSpace(b.BusinessPhone) == "" {
		verr.add("basicInfo.businessPhone", "phone is required")
	} else if !IsValidPhone(b.BusinessPhone) {
		verr.add("basicInfo.businessPhone", "phone must have 10 to 15 digits")
	}
	if strings.TrimSpace(p.WhatsApp.WelcomeMessage) == "" {
		verr.add("whatsapp.welcomeMessage", "welcome message is required")
	}
	if b.BusinessEmail != "" && !IsValidEmail(b.BusinessEmail) {
		verr.add("basicInfo.businessEmail", "invalid email")
	}
	if b.BusinessWebsite != "" && !IsValidURL(b.BusinessWebsite) {
		verr.add("basicInfo.businessWebsite", "invalid website URL")
	}
	for i, s := range p.Services {
		if s.Price < 0 {
			verr.add(fmt.Sprintf("services[%d].price", i), "price must not be negative")
		}
		if s.Duration < 0 || s.Duration > 1440 {
			verr.add(fmt.Sprintf("services[%d].duration", i), "duration must be between 0 and 1440 minutes")
		}
	}
	for day := range p.Schedule {
		if !isWeekday(day) {
			verr.add("schedule."+day, "unknown weekday")
		}
	}
	if len(verr.Fields) > 0 {
		return nil, verr
	}
	if len(p.Services) == 0 {
		warnings = append(warnings, "add at least one service or product")
	}
	return warnings, nil
}

func isWeekday(day string) bool {
	for _, d := range Weekdays {
		if d == day {
			return true
		}
	}
	return false
}
