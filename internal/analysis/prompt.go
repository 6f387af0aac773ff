package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/raphaelgruber/intake/internal/models"
)

const classifySystem = `You classify recordings and documents from design-week sessions of an AI agent rollout.

Session types:
- kickoff: introductions, goals, stakeholders, success metrics
- process: walkthrough of the business process, happy path, exceptions, volumes
- technical: systems, integrations, data fields, security
- signoff: review of scope and guardrails, approvals, decisions

Respond with JSON only:
{"session_type": "kickoff|process|technical|signoff", "confidence": 0.0-1.0, "rationale": "one sentence"}`

const extractSystem = `You extract structured knowledge items from design-week sessions of an AI agent rollout.

Item types:
%s

Rules:
- One atomic fact per item. Do not merge unrelated facts.
- "content" is a short self-contained statement.
- "confidence" is how sure you are the fact was actually stated (0.0-1.0).
- Quote the source in "source_quote" and give "speaker" and "timestamp" when known.
- Put type-specific structure in "payload" (for example {"system": "SAP", "direction": "read"}).
- Only use the listed types. Skip anything that fits none.

Respond with JSON only:
{"items": [{"type": "...", "content": "...", "confidence": 0.0, "payload": {}, "source_quote": "...", "speaker": "...", "timestamp": "..."}]}`

// focusTypes are the item types specialized extraction digs into per session type.
var focusTypes = map[models.SessionType][]models.ItemType{
	models.SessionKickoff: {
		models.ItemStakeholder, models.ItemGoal, models.ItemKPITarget,
		models.ItemVolumeExpectation, models.ItemTimelineConstraint,
	},
	models.SessionProcess: {
		models.ItemHappyPathStep, models.ItemExceptionCase, models.ItemBusinessRule,
		models.ItemEscalationRule, models.ItemVolumeExpectation,
	},
	models.SessionTechnical: {
		models.ItemSystemIntegration, models.ItemSecurityRequirement, models.ItemDataField,
		models.ItemBusinessRule, models.ItemRisk,
	},
	models.SessionSignoff: {
		models.ItemScopeIn, models.ItemScopeOut, models.ItemGuardrailNever,
		models.ItemGuardrailAlways, models.ItemDecision, models.ItemApproval,
	},
}

// FocusTypes returns the item types specialized extraction targets for st.
// Unknown session types get the whole taxonomy.
func FocusTypes(st models.SessionType) []models.ItemType {
	if types, ok := focusTypes[st]; ok {
		return types
	}
	return models.ItemTypes
}

func typeList(types []models.ItemType) string {
	var b strings.Builder
	for _, t := range types {
		fmt.Fprintf(&b, "- %s\n", t)
	}
	return strings.TrimRight(b.String(), "\n")
}

// buildRequest renders the prompt for task. Binary content becomes an
// attachment; text is inlined.
func buildRequest(content Content, task Task, opts Options) (Request, error) {
	req := Request{
		MaxTokens:   8192,
		Temperature: 0.1,
		JSON:        true,
	}

	var instruction string
	switch task {
	case TaskClassify:
		req.System = classifySystem
		req.MaxTokens = 512
		instruction = "Classify this session."

	case TaskGeneral, TaskTranscript:
		req.System = fmt.Sprintf(extractSystem, typeList(models.ItemTypes))
		instruction = "Extract every recognizable item across all types."
		if opts.SessionType != "" && opts.SessionType != models.SessionUnknown {
			instruction += fmt.Sprintf(" This is a %s session.", opts.SessionType)
		}

	case TaskSpecialized:
		types := FocusTypes(opts.SessionType)
		req.System = fmt.Sprintf(extractSystem, typeList(types))
		instruction = fmt.Sprintf("This is a %s session. Go deep on the listed types: capture every detail a broad pass would miss.", opts.SessionType)

	case TaskRefine:
		if len(opts.Items) == 0 {
			return Request{}, fmt.Errorf("refine: no items given")
		}
		req.System = fmt.Sprintf(extractSystem, typeList(models.ItemTypes))
		draft, err := json.Marshal(map[string]any{"items": opts.Items})
		if err != nil {
			return Request{}, fmt.Errorf("refine: encode items: %w", err)
		}
		instruction = "These draft items were extracted with low confidence:\n" + string(draft) +
			"\n\nRe-check each one against the source. Correct wording, type and provenance, raise or lower confidence to match the evidence, and drop items the source does not support. Return the corrected items only."

	default:
		return Request{}, fmt.Errorf("unknown analysis task %q", task)
	}

	if opts.Parts > 1 {
		instruction += fmt.Sprintf(" This is part %d of %d of the transcript.", opts.Part, opts.Parts)
	}

	if content.IsText() {
		req.Prompt = instruction + "\n\nSource:\n" + content.Text
	} else {
		req.Prompt = instruction + fmt.Sprintf("\n\nThe source is the attached file %q.", content.Filename)
		req.Attachment = &Attachment{
			Data:     content.Data,
			MIMEType: content.MIMEType,
			Filename: content.Filename,
		}
	}
	return req, nil
}
