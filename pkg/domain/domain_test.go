package domain

import (
	"errors"
	"testing"
	"time"
)

func TestIsValidPhone(t *testing.T) {
	cases := map[string]bool{
		"5511999998888":       true,
		"+55 (11) 99999-8888": true,
		"123456789":           false,
		"1234567890123456":    false,
		"":                    false,
	}
	for in, want := range cases {
		if got := IsValidPhone(in); got != want {
			t.Fatalf("IsValidPhone(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestIsValidURL(t *testing.T) {
	if !IsValidURL("https://n8n.example.com/webhook/abc") {
		t.Fatalf("expected absolute https URL to be valid")
	}
	for _, bad := range []string{"", "not a url", "/relative/path", "example.com"} {
		if IsValidURL(bad) {
			t.Fatalf("IsValidURL(%q) should be false", bad)
		}
	}
}

func TestSanitizeName(t *testing.T) {
	if got := SanitizeName("  Loja  Centro #1 "); got != "Loja-Centro-1" {
		t.Fatalf("SanitizeName = %q", got)
	}
}

func TestSessionValidAt(t *testing.T) {
	login := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	s := Session{LoginTime: login}
	if !s.ValidAt(login.Add(23*time.Hour), 24*time.Hour) {
		t.Fatalf("session should be valid inside the window")
	}
	if s.ValidAt(login.Add(24*time.Hour), 24*time.Hour) {
		t.Fatalf("session should expire at the window edge")
	}
}

func validProfile() BusinessProfile {
	return BusinessProfile{
		BasicInfo: BasicInfo{
			BusinessName:  " Barbearia Silva ",
			BusinessCity:  "Campinas/SP",
			BusinessPhone: "(19) 99876-5432",
			BusinessEmail: "contato@silva.com.br",
		},
		Services: []Service{{Name: "Corte", Price: 40, Duration: 30}, {Name: "  "}},
		WhatsApp: WhatsAppSettings{WelcomeMessage: "Olá!"},
	}
}

func TestBusinessProfileNormalize(t *testing.T) {
	p := validProfile()
	p.Normalize()
	if p.BasicInfo.BusinessName != "Barbearia Silva" {
		t.Fatalf("name not trimmed: %q", p.BasicInfo.BusinessName)
	}
	if len(p.Services) != 1 {
		t.Fatalf("blank services should be dropped, got %d", len(p.Services))
	}
	if p.Appointments.Simultaneous != 1 || p.Appointments.Interval != 30 {
		t.Fatalf("appointment defaults not applied: %+v", p.Appointments)
	}
	if len(p.Schedule) != 7 {
		t.Fatalf("schedule should contain seven days, got %d", len(p.Schedule))
	}
}

func TestBusinessProfileValidate(t *testing.T) {
	p := validProfile()
	p.Normalize()
	warnings, err := p.Validate()
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}

	p.Services = nil
	warnings, err = p.Validate()
	if err != nil || len(warnings) != 1 {
		t.Fatalf("empty services should warn only, got %v %v", warnings, err)
	}

	bad := BusinessProfile{BasicInfo: BasicInfo{BusinessPhone: "123", BusinessEmail: "nope"}}
	_, err = bad.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	// name, city, phone, welcome message, email
	if len(verr.Fields) != 5 {
		t.Fatalf("expected 5 field errors, got %d: %v", len(verr.Fields), verr)
	}
}
