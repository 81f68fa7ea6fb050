package risk_test

import (
	"testing"

	"github.com/reviso/reviso/internal/risk"
)

func testConfig(t *testing.T) risk.Config {
	t.Helper()
	cfg := risk.Config{}
	if err := cfg.Finalize(); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	return cfg
}

func findByCategory(findings []risk.Finding, category string) *risk.Finding {
	for i := range findings {
		if findings[i].Category == category {
			return &findings[i]
		}
	}
	return nil
}

func TestAnalyzeIdenticalText(t *testing.T) {
	analyzer := risk.NewAnalyzer(testConfig(t))

	original := `The Tenant shall pay rent of 1,500 dollars on the first day of each month.`
	findings := analyzer.Analyze(original, original)

	if len(findings) != 0 {
		t.Errorf("got %d findings, want 0: %+v", len(findings), findings)
	}
}

func TestSemanticDeviation(t *testing.T) {
	analyzer := risk.NewAnalyzer(testConfig(t))

	tests := []struct {
		name      string
		original  string
		rewritten string
		severity  risk.Severity
	}{
		{
			name:      "unrelated text is critical",
			original:  "the tenant shall maintain the premises in good repair",
			rewritten: "purple elephants dance beneath seventeen glowing moons tonight",
			severity:  risk.SeverityCritical,
		},
		{
			// Shared stopword distribution, disjoint vocabulary otherwise:
			// similarity lands between the critical and high thresholds.
			name:      "partial overlap is high",
			original:  "the tenant shall maintain the premises in good repair throughout the term",
			rewritten: "the occupant must keep the dwelling under sound upkeep across the duration",
			severity:  risk.SeverityHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := analyzer.Analyze(tt.original, tt.rewritten)
			f := findByCategory(findings, "semantic_deviation")
			if f == nil {
				sim := risk.CosineSimilarity(tt.original, tt.rewritten)
				t.Fatalf("no semantic_deviation finding (similarity=%v): %+v", sim, findings)
			}
			if f.Severity != tt.severity {
				t.Errorf("got severity %s, want %s", f.Severity, tt.severity)
			}
		})
	}
}

func TestLengthAnomaly(t *testing.T) {
	analyzer := risk.NewAnalyzer(testConfig(t))

	original := "the landlord shall provide written notice before entering the premises " +
		"and the tenant shall permit reasonable access for inspection and repair"

	t.Run("severe truncation flagged", func(t *testing.T) {
		findings := analyzer.Analyze(original, "the landlord shall notice")
		f := findByCategory(findings, "length_anomaly")
		if f == nil {
			t.Fatalf("no length_anomaly finding: %+v", findings)
		}
		if f.Severity != risk.SeverityHigh {
			t.Errorf("got severity %s, want %s", f.Severity, risk.SeverityHigh)
		}
	})

	t.Run("comparable length passes", func(t *testing.T) {
		rewritten := "the landlord shall give the tenant written notice before entering " +
			"and the tenant shall allow reasonable access for inspection and repair work"
		findings := analyzer.Analyze(original, rewritten)
		if f := findByCategory(findings, "length_anomaly"); f != nil {
			t.Errorf("unexpected length_anomaly finding: %+v", f)
		}
	})
}

func TestNumericDrift(t *testing.T) {
	analyzer := risk.NewAnalyzer(testConfig(t))

	tests := []struct {
		name      string
		original  string
		rewritten string
		want      bool
	}{
		{
			name:      "number removed",
			original:  "the tenant shall pay 1,500 within 30 days of notice being served here",
			rewritten: "the tenant shall pay the agreed amount within 30 days of notice being served here",
			want:      true,
		},
		{
			name:      "number introduced",
			original:  "the deposit is refundable at the end of the lease term as agreed",
			rewritten: "the deposit of 2,000 is refundable at the end of the lease term as agreed",
			want:      true,
		},
		{
			name:      "numbers preserved",
			original:  "payment of 1,500 is due within 30 days of the invoice being issued",
			rewritten: "within 30 days of the invoice being issued, payment of 1,500 is due",
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := analyzer.Analyze(tt.original, tt.rewritten)
			f := findByCategory(findings, "numeric_drift")
			if tt.want && f == nil {
				t.Fatalf("no numeric_drift finding: %+v", findings)
			}
			if !tt.want && f != nil {
				t.Errorf("unexpected numeric_drift finding: %+v", f)
			}
			if tt.want && f.Severity != risk.SeverityHigh {
				t.Errorf("got severity %s, want %s", f.Severity, risk.SeverityHigh)
			}
		})
	}
}

func TestDateDrift(t *testing.T) {
	analyzer := risk.NewAnalyzer(testConfig(t))

	original := "this agreement commences on 2024-01-15 and continues for the full term stated"
	rewritten := "this agreement commences on 2024-02-15 and continues for the full term stated"

	findings := analyzer.Analyze(original, rewritten)
	f := findByCategory(findings, "date_drift")
	if f == nil {
		t.Fatalf("no date_drift finding: %+v", findings)
	}
	if f.Severity != risk.SeverityHigh {
		t.Errorf("got severity %s, want %s", f.Severity, risk.SeverityHigh)
	}
}

func TestPartyChange(t *testing.T) {
	analyzer := risk.NewAnalyzer(testConfig(t))

	original := `the party identified as "Acme Holdings" shall indemnify the counterparty in full measure`
	rewritten := `the first party shall indemnify the counterparty in full measure as agreed above`

	findings := analyzer.Analyze(original, rewritten)
	f := findByCategory(findings, "party_change")
	if f == nil {
		t.Fatalf("no party_change finding: %+v", findings)
	}
	if f.Severity != risk.SeverityCritical {
		t.Errorf("got severity %s, want %s", f.Severity, risk.SeverityCritical)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want float64
	}{
		{"identical", "the quick brown fox", "the quick brown fox", 1.0},
		{"empty a", "", "words here", 0},
		{"empty b", "words here", "", 0},
		{"disjoint", "alpha beta gamma", "delta epsilon zeta", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := risk.CosineSimilarity(tt.a, tt.b); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMaxSeverity(t *testing.T) {
	tests := []struct {
		name     string
		findings []risk.Finding
		want     risk.Severity
	}{
		{"empty", nil, risk.SeverityInfo},
		{
			"highest wins",
			[]risk.Finding{
				{Severity: risk.SeverityLow},
				{Severity: risk.SeverityCritical},
				{Severity: risk.SeverityHigh},
			},
			risk.SeverityCritical,
		},
		{
			"single",
			[]risk.Finding{{Severity: risk.SeverityMedium}},
			risk.SeverityMedium,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := risk.MaxSeverity(tt.findings); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     risk.Config
		wantErr bool
	}{
		{"defaults valid", risk.Config{}, false},
		{"critical above high", risk.Config{CriticalSimilarity: 0.8, HighSimilarity: 0.5}, true},
		{"inverted length band", risk.Config{MinLengthRatio: 5.0, MaxLengthRatio: 0.2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Finalize()
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
