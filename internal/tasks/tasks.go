// Package tasks provides the built-in task types of the incubator.
//
// Response agents answer trigger events: they receive the trigger name, the
// triggering payload and the rule's mission, analyze the payload and write
// one report to the ledger. Direct-request agents (geologist, legal_auditor,
// market_scanner) take their own parameters and are spawned by operators.
package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/sovereign/internal/incubator"
	"github.com/roach88/sovereign/internal/record"
)

// NotesFile is the scratch file every built-in task writes in its workspace.
const NotesFile = "notes.md"

// Templates returns every built-in template.
func Templates() []incubator.Template {
	out := make([]incubator.Template, 0, len(responders)+3)
	for _, r := range responders {
		out = append(out, r)
	}
	out = append(out, geologistTemplate(), legalAuditorTemplate(), marketScannerTemplate())
	return out
}

// Names returns the built-in task types, sorted.
func Names() []string {
	var names []string
	for _, t := range Templates() {
		names = append(names, t.Name())
	}
	sort.Strings(names)
	return names
}

// ResponseParams is the bundle the incubator hands a response agent.
type ResponseParams struct {
	TriggerEvent string
	TriggerData  record.Payload
	Mission      string
}

// ParseResponseParams extracts ResponseParams. Spawns outside a trigger
// (operator requests) get trigger "manual".
func ParseResponseParams(p record.Payload) (ResponseParams, error) {
	rp := ResponseParams{TriggerEvent: "manual", TriggerData: record.Payload{}}
	if v, ok := p["trigger_event"]; ok {
		s, ok := v.(string)
		if !ok {
			return ResponseParams{}, fmt.Errorf("trigger_event must be a string, got %T", v)
		}
		rp.TriggerEvent = s
	}
	if v, ok := p["trigger_data"]; ok && v != nil {
		switch d := v.(type) {
		case record.Payload:
			rp.TriggerData = d
		case map[string]any:
			rp.TriggerData = record.Payload(d)
		default:
			return ResponseParams{}, fmt.Errorf("trigger_data must be an object, got %T", v)
		}
	}
	rp.Mission, _ = p.String("mission")
	return rp, nil
}

// responder is a Template for one response agent.
type responder struct {
	name        string
	messageType string
	analyze     func(ResponseParams) record.Payload
}

func (r responder) Name() string { return r.name }

func (r responder) Build(params record.Payload) (incubator.Task, error) {
	rp, err := ParseResponseParams(params)
	if err != nil {
		return nil, err
	}
	return incubator.TaskFunc(func(ctx context.Context, env incubator.Env) (record.Payload, error) {
		findings := r.analyze(rp)
		findings["trigger_event"] = rp.TriggerEvent
		findings["mission"] = rp.Mission
		return finish(ctx, env, r.messageType, findings)
	}), nil
}

// finish writes the notes file and reports findings under the task identity.
func finish(ctx context.Context, env incubator.Env, messageType string, findings record.Payload) (record.Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := writeNotes(env, messageType, findings); err != nil {
		return nil, err
	}
	if _, err := env.Report(ctx, messageType, findings); err != nil {
		return nil, err
	}
	env.Logger.Info("task report written", "event", "task_report", "message_type", messageType)
	return findings, nil
}

func writeNotes(env incubator.Env, messageType string, findings record.Payload) error {
	keys := make([]string, 0, len(findings))
	for k := range findings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "# %s (%s)\n\n", messageType, env.AgentID)
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %v\n", k, findings[k])
	}
	return os.WriteFile(filepath.Join(env.Workspace, NotesFile), []byte(b.String()), 0o600)
}
