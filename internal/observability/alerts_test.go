package observability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertGroup struct {
	Name  string      `yaml:"name"`
	Rules []alertRule `yaml:"rules"`
}

type alertSpec struct {
	Groups []alertGroup `yaml:"groups"`
}

func TestQuotationAlertRules(t *testing.T) {
	path := filepath.Join("..", "..", "deploy", "prometheus", "alerts", "quotations.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read alert file: %v", err)
	}

	var spec alertSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		t.Fatalf("failed to unmarshal alert file: %v", err)
	}

	if len(spec.Groups) == 0 {
		t.Fatal("expected at least one alert group")
	}

	var group *alertGroup
	for i := range spec.Groups {
		if spec.Groups[i].Name == "quotations" {
			group = &spec.Groups[i]
			break
		}
	}
	if group == nil {
		t.Fatal("quotations alert group missing")
	}

	// exprContains pins each rule to a metric the services actually emit:
	// the worker registers quotedesk_jobs_runs_total{job,status} and the API
	// registers the HTTP series.
	expected := map[string]struct {
		severity     string
		runbook      string
		exprContains string
	}{
		"HighErrorRate": {
			severity:     "critical",
			runbook:      "docs/runbook-ops-quotations.md#high-error-rate",
			exprContains: "quotedesk_http_requests_total",
		},
		"HighLatency": {
			severity:     "warning",
			runbook:      "docs/runbook-ops-quotations.md#high-latency",
			exprContains: "quotedesk_http_request_duration_seconds_bucket",
		},
		"DigestJobFailing": {
			severity:     "warning",
			runbook:      "docs/runbook-ops-quotations.md#digest-job-failing",
			exprContains: `quotedesk_jobs_runs_total{job="quotation:expiry_digest",status="failure"}`,
		},
	}

	if len(group.Rules) != len(expected) {
		t.Fatalf("expected %d rules, got %d", len(expected), len(group.Rules))
	}

	for _, rule := range group.Rules {
		want, ok := expected[rule.Alert]
		if !ok {
			t.Fatalf("unexpected rule %q", rule.Alert)
		}
		if rule.Labels["severity"] != want.severity {
			t.Fatalf("rule %s severity mismatch: %s", rule.Alert, rule.Labels["severity"])
		}
		if rule.Annotations["runbook"] != want.runbook {
			t.Fatalf("rule %s runbook mismatch: %s", rule.Alert, rule.Annotations["runbook"])
		}
		if rule.Annotations["summary"] == "" || rule.Annotations["description"] == "" {
			t.Fatalf("rule %s must include summary and description annotations", rule.Alert)
		}
		if rule.Expr == "" {
			t.Fatalf("rule %s must define an expression", rule.Alert)
		}
		if !strings.Contains(rule.Expr, want.exprContains) {
			t.Fatalf("rule %s must query %s, got: %s", rule.Alert, want.exprContains, rule.Expr)
		}
		if rule.For == "" {
			t.Fatalf("rule %s must define a hold duration", rule.Alert)
		}
	}
}
