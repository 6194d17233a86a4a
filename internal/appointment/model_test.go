package appointment

import (
	"context"
	"testing"
)

func TestLookupOffering(t *testing.T) {
	tests := []struct {
		in      string
		want    Offering
		minutes int
		ok      bool
	}{
		{"Dental", OfferingDental, 45, true},
		{"  eye exam ", OfferingEyeExam, 30, true},
		{"LAB TEST", OfferingLabTest, 20, true},
		{"Surgery", "", 0, false},
		{"", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, minutes, ok := LookupOffering(tt.in)
			if got != tt.want || minutes != tt.minutes || ok != tt.ok {
				t.Fatalf("LookupOffering(%q) = %q, %d, %v; want %q, %d, %v",
					tt.in, got, minutes, ok, tt.want, tt.minutes, tt.ok)
			}
		})
	}
}

func TestOfferings_AllBookable(t *testing.T) {
	f := newFixture(t)
	for i, svc := range Offerings() {
		appt, err := f.svc.Create(context.Background(), f.student, CreateInput{
			Service:   string(svc),
			StartTime: f.tomorrowAt(8 + i),
		})
		if err != nil {
			t.Fatalf("create %s: %v", svc, err)
		}
		_, minutes, _ := LookupOffering(string(svc))
		if appt.Service != svc || appt.Duration != minutes {
			t.Fatalf("booked %s for %d min, want %s for %d", appt.Service, appt.Duration, svc, minutes)
		}
	}
}
