// Package domain holds the desk workflow entities and their pure behavior.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/louisbranch/bankdesk/internal/services/desk/storage"
)

// StepKind identifies one instruction step variant.
type StepKind string

const (
	// StepScreenshot asks the user for one or more screenshots.
	StepScreenshot StepKind = "screenshot"
	// StepDataRequest collects verification fields from the user.
	StepDataRequest StepKind = "data_request"
	// StepDataDelivery has an operator hand values to the user.
	StepDataDelivery StepKind = "data_delivery"
	// StepRequisites collects payout requisites; it terminates the flow.
	StepRequisites StepKind = "requisites"
	// StepUnknown is the fallback for unrecognized legacy kinds.
	StepUnknown StepKind = "unknown"
)

// FieldKind identifies how one requested data field is validated.
type FieldKind string

const (
	// FieldPhone is validated and normalized as a phone number.
	FieldPhone FieldKind = "phone"
	// FieldEmail is validated and normalized as an email address.
	FieldEmail FieldKind = "email"
	// FieldText is accepted as non-empty free text.
	FieldText FieldKind = "text"
)

// FieldSpec describes one field a data-request step collects.
type FieldSpec struct {
	Name     string    `json:"name"`
	Kind     FieldKind `json:"kind"`
	Required bool      `json:"required"`
}

// ScreenshotPayload configures a screenshot-capture step.
type ScreenshotPayload struct{}

// DataRequestPayload configures a user-data-request step.
type DataRequestPayload struct {
	Fields []FieldSpec `json:"fields"`
}

// DataDeliveryPayload configures an operator-data-delivery step.
type DataDeliveryPayload struct {
	SendPhone bool `json:"send_phone"`
	SendEmail bool `json:"send_email"`
}

// RequisitesPayload configures a payout-requisites step.
type RequisitesPayload struct {
	Required []string `json:"required"`
}

// UnknownPayload carries the raw kind of an unrecognized step. The flow
// treats such a step as a single-screenshot capture so a configuration
// mistake never stalls a user.
type UnknownPayload struct {
	RawKind string `json:"raw_kind,omitempty"`
}

// StepPayload is the closed set of step variant payloads.
type StepPayload interface {
	stepPayload()
}

func (ScreenshotPayload) stepPayload()   {}
func (DataRequestPayload) stepPayload()  {}
func (DataDeliveryPayload) stepPayload() {}
func (RequisitesPayload) stepPayload()   {}
func (UnknownPayload) stepPayload()      {}

// Step is one decoded instruction step within a (bank, action) flow.
type Step struct {
	BankName       string
	Action         storage.Action
	Number         int
	Kind           StepKind
	Text           string
	Examples       []string
	MinAge         int
	RequiredPhotos int
	Payload        StepPayload
}

// EffectiveRequiredPhotos returns the photo count a screenshot step needs,
// defaulting to 1 when unspecified.
func (s Step) EffectiveRequiredPhotos() int {
	if s.RequiredPhotos > 0 {
		return s.RequiredPhotos
	}
	return 1
}

// DecodeStep converts one stored step row into its typed variant. A
// malformed embedded payload degrades to the variant's zero payload and is
// reported through the returned warning instead of failing the read.
func DecodeStep(record storage.StepRecord) (Step, error) {
	step := Step{
		BankName:       record.BankName,
		Action:         record.Action,
		Number:         record.Number,
		Text:           record.Text,
		MinAge:         record.MinAge,
		RequiredPhotos: record.RequiredPhotos,
	}

	var warn error
	if raw := strings.TrimSpace(record.ExamplesJSON); raw != "" && raw != "[]" {
		if err := json.Unmarshal([]byte(raw), &step.Examples); err != nil {
			step.Examples = nil
			warn = fmt.Errorf("decode step examples %s/%s#%d: %w", record.BankName, record.Action, record.Number, err)
		}
	}

	payloadRaw := []byte(strings.TrimSpace(record.PayloadJSON))
	if len(payloadRaw) == 0 {
		payloadRaw = []byte("{}")
	}

	switch StepKind(record.Kind) {
	case StepScreenshot:
		step.Kind = StepScreenshot
		step.Payload = ScreenshotPayload{}
	case StepDataRequest:
		step.Kind = StepDataRequest
		var payload DataRequestPayload
		if err := json.Unmarshal(payloadRaw, &payload); err != nil {
			warn = fmt.Errorf("decode step payload %s/%s#%d: %w", record.BankName, record.Action, record.Number, err)
			payload = DataRequestPayload{}
		}
		step.Payload = payload
	case StepDataDelivery:
		step.Kind = StepDataDelivery
		var payload DataDeliveryPayload
		if err := json.Unmarshal(payloadRaw, &payload); err != nil {
			warn = fmt.Errorf("decode step payload %s/%s#%d: %w", record.BankName, record.Action, record.Number, err)
			payload = DataDeliveryPayload{}
		}
		step.Payload = payload
	case StepRequisites:
		step.Kind = StepRequisites
		var payload RequisitesPayload
		if err := json.Unmarshal(payloadRaw, &payload); err != nil {
			warn = fmt.Errorf("decode step payload %s/%s#%d: %w", record.BankName, record.Action, record.Number, err)
			payload = RequisitesPayload{}
		}
		step.Payload = payload
	default:
		step.Kind = StepUnknown
		step.Payload = UnknownPayload{RawKind: record.Kind}
	}
	return step, warn
}

// EncodePayload serializes one step payload for storage.
func EncodePayload(payload StepPayload) (string, error) {
	if payload == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode step payload: %w", err)
	}
	return string(raw), nil
}

// EncodeExamples serializes example-image references for storage.
func EncodeExamples(examples []string) (string, error) {
	if len(examples) == 0 {
		return "[]", nil
	}
	raw, err := json.Marshal(examples)
	if err != nil {
		return "", fmt.Errorf("encode step examples: %w", err)
	}
	return string(raw), nil
}

// KindForPayload returns the stored kind tag for one payload variant.
func KindForPayload(payload StepPayload) StepKind {
	switch p := payload.(type) {
	case ScreenshotPayload:
		return StepScreenshot
	case DataRequestPayload:
		return StepDataRequest
	case DataDeliveryPayload:
		return StepDataDelivery
	case RequisitesPayload:
		return StepRequisites
	case UnknownPayload:
		if p.RawKind != "" {
			return StepKind(p.RawKind)
		}
		return StepUnknown
	default:
		return StepUnknown
	}
}
