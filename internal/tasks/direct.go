package tasks

import (
	"context"
	"fmt"

	"github.com/roach88/sovereign/internal/incubator"
	"github.com/roach88/sovereign/internal/record"
)

// stringParam returns the string at key or def. A present non-string value
// is an error.
func stringParam(p record.Payload, key, def string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %T", key, v)
	}
	if s == "" {
		return def, nil
	}
	return s, nil
}

// GeologistParams selects the resource to research.
type GeologistParams struct {
	Resource string
	Location string
}

func geologistTemplate() incubator.Template {
	return incubator.TemplateFunc{Type: "geologist", New: func(p record.Payload) (incubator.Task, error) {
		var gp GeologistParams
		var err error
		if gp.Resource, err = stringParam(p, "resource", "lithium"); err != nil {
			return nil, err
		}
		if gp.Location, err = stringParam(p, "location", "Chile"); err != nil {
			return nil, err
		}
		return incubator.TaskFunc(func(ctx context.Context, env incubator.Env) (record.Payload, error) {
			env.Logger.Info("researching resource", "resource", gp.Resource, "location", gp.Location)
			return finish(ctx, env, "geology_report", record.Payload{
				"resource":          gp.Resource,
				"location":          gp.Location,
				"reserves":          "High",
				"extraction_cost":   "$3,200/ton",
				"regulatory_status": "Permits required",
			})
		}), nil
	}}
}

// LegalAuditorParams selects the legal topic to audit.
type LegalAuditorParams struct {
	Topic        string
	Jurisdiction string
}

func legalAuditorTemplate() incubator.Template {
	return incubator.TemplateFunc{Type: "legal_auditor", New: func(p record.Payload) (incubator.Task, error) {
		var lp LegalAuditorParams
		var err error
		if lp.Topic, err = stringParam(p, "topic", "mining_law"); err != nil {
			return nil, err
		}
		if lp.Jurisdiction, err = stringParam(p, "jurisdiction", "Chile"); err != nil {
			return nil, err
		}
		return incubator.TaskFunc(func(ctx context.Context, env incubator.Env) (record.Payload, error) {
			env.Logger.Info("auditing topic", "topic", lp.Topic, "jurisdiction", lp.Jurisdiction)
			return finish(ctx, env, "legal_report", record.Payload{
				"topic":               lp.Topic,
				"jurisdiction":        lp.Jurisdiction,
				"compliance_required": true,
				"key_statutes":        []string{"Law 18.248", "Decree 132"},
				"risk_level":          "Medium",
			})
		}), nil
	}}
}

// MarketScannerParams selects the symbol to scan.
type MarketScannerParams struct {
	Symbol string
}

func marketScannerTemplate() incubator.Template {
	return incubator.TemplateFunc{Type: "market_scanner", New: func(p record.Payload) (incubator.Task, error) {
		symbol, err := stringParam(p, "symbol", "BTC")
		if err != nil {
			return nil, err
		}
		mp := MarketScannerParams{Symbol: symbol}
		return incubator.TaskFunc(func(ctx context.Context, env incubator.Env) (record.Payload, error) {
			env.Logger.Info("scanning market", "symbol", mp.Symbol)
			return finish(ctx, env, "market_scan", record.Payload{
				"symbol": mp.Symbol,
				"price":  42000,
				"trend":  "bullish",
				"volume": "high",
			})
		}), nil
	}}
}
