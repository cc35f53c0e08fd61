package tasks

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/roach88/sovereign/internal/record"
)

var responders = []responder{
	{name: "investigator", messageType: "investigation_report", analyze: investigate},
	{name: "counter_intel", messageType: "counter_intel_report", analyze: counterIntel},
	{name: "repo_analyzer", messageType: "repo_analysis", analyze: analyzeRepos},
	{name: "code_scanner", messageType: "code_scan_report", analyze: scanCode},
	{name: "volatility_analyzer", messageType: "volatility_report", analyze: analyzeVolatility},
	{name: "risk_assessor", messageType: "risk_assessment", analyze: assessRisk},
	{name: "plan_optimizer", messageType: "plan_optimization", analyze: optimizePlan},
	{name: "risk_mitigator", messageType: "risk_mitigation", analyze: mitigateRisk},
}

// criticalKeywords mark credentials that grant direct access.
var criticalKeywords = []string{"private_key", "secret_key", "aws_secret", "password", "token", "mnemonic"}

func keywordSeverity(keywords []string) string {
	if len(keywords) == 0 {
		return "none"
	}
	for _, k := range keywords {
		lk := strings.ToLower(k)
		for _, c := range criticalKeywords {
			if strings.Contains(lk, c) {
				return "critical"
			}
		}
	}
	if len(keywords) > 2 {
		return "high"
	}
	return "medium"
}

func investigate(p ResponseParams) record.Payload {
	keywords := p.TriggerData.Strings("secret_keywords")
	repo, _ := p.TriggerData.String("repo")
	return record.Payload{
		"repo":           repo,
		"keywords":       keywords,
		"keyword_count":  len(keywords),
		"severity":       keywordSeverity(keywords),
		"recommendation": "confirm exposure and identify the committing account",
	}
}

func counterIntel(p ResponseParams) record.Payload {
	keywords := p.TriggerData.Strings("secret_keywords")
	actions := []string{"monitor repository for further commits"}
	if keywordSeverity(keywords) == "critical" {
		actions = append([]string{"rotate exposed credentials", "revoke active sessions"}, actions...)
	}
	return record.Payload{
		"severity": keywordSeverity(keywords),
		"actions":  actions,
	}
}

func analyzeRepos(p ResponseParams) record.Payload {
	n := p.TriggerData.NumberOr("new_repos", 0)
	repos := p.TriggerData.Strings("repos")
	velocity := "normal"
	switch {
	case n > 10:
		velocity = "surge"
	case n > 2:
		velocity = "elevated"
	}
	return record.Payload{
		"new_repos": n,
		"repos":     repos,
		"velocity":  velocity,
	}
}

// suspiciousMarkers flag repository names worth a closer look.
var suspiciousMarkers = []string{"wallet", "drainer", "exploit", "airdrop", "stealer", "bot"}

func scanCode(p ResponseParams) record.Payload {
	var flagged []string
	for _, repo := range p.TriggerData.Strings("repos") {
		lr := strings.ToLower(repo)
		for _, m := range suspiciousMarkers {
			if strings.Contains(lr, m) {
				flagged = append(flagged, repo)
				break
			}
		}
	}
	sort.Strings(flagged)
	return record.Payload{
		"scanned": p.TriggerData.Len("repos"),
		"flagged": flagged,
	}
}

func volatilityBand(magnitude float64) string {
	switch {
	case magnitude > 25:
		return "extreme"
	case magnitude > 10:
		return "high"
	case magnitude > 5:
		return "moderate"
	default:
		return "low"
	}
}

func analyzeVolatility(p ResponseParams) record.Payload {
	r := p.TriggerData.NumberOr("return_pct", 0)
	direction := "flat"
	switch {
	case r > 0:
		direction = "up"
	case r < 0:
		direction = "down"
	}
	symbol, _ := p.TriggerData.String("symbol")
	return record.Payload{
		"symbol":     symbol,
		"return_pct": r,
		"direction":  direction,
		"band":       volatilityBand(math.Abs(r)),
	}
}

func assessRisk(p ResponseParams) record.Payload {
	magnitude := math.Abs(p.TriggerData.NumberOr("return_pct", 0))
	score := math.Min(1, magnitude/50)
	level := "low"
	switch {
	case score >= 0.5:
		level = "high"
	case score >= 0.2:
		level = "medium"
	}
	return record.Payload{
		"risk_score": math.Round(score*100) / 100,
		"risk_level": level,
	}
}

// challenges extracts the challenge list of a plan validation.
func challenges(p ResponseParams) []record.Payload {
	raw, ok := p.TriggerData["challenges"].([]any)
	if !ok {
		return nil
	}
	out := make([]record.Payload, 0, len(raw))
	for _, c := range raw {
		switch m := c.(type) {
		case map[string]any:
			out = append(out, record.Payload(m))
		case record.Payload:
			out = append(out, m)
		}
	}
	return out
}

func optimizePlan(p ResponseParams) record.Payload {
	var suggestions []string
	for _, c := range challenges(p) {
		if s, ok := c.String("recommendation"); ok && s != "" {
			suggestions = append(suggestions, s)
		}
	}
	if len(suggestions) == 0 {
		suggestions = []string{"re-scope the plan into smaller verifiable steps"}
	}
	plan, _ := p.TriggerData.String("plan_name")
	return record.Payload{
		"plan":        plan,
		"suggestions": suggestions,
	}
}

func mitigateRisk(p ResponseParams) record.Payload {
	var mitigations []string
	for _, c := range challenges(p) {
		risk, _ := c.String("risk")
		if risk != "High" {
			continue
		}
		what, _ := c.String("challenge")
		fix, _ := c.String("recommendation")
		mitigations = append(mitigations, fmt.Sprintf("%s: %s", what, fix))
	}
	return record.Payload{
		"high_risks":  len(mitigations),
		"mitigations": mitigations,
	}
}
