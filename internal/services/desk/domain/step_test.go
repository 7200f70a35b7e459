package domain

import (
	"testing"

	"github.com/louisbranch/bankdesk/internal/services/desk/storage"
)

func TestDecodeStepScreenshot(t *testing.T) {
	record := storage.StepRecord{
		BankName:       "mono",
		Action:         storage.ActionRegister,
		Number:         0,
		Kind:           string(StepScreenshot),
		Text:           "Open the app",
		ExamplesJSON:   `["file-1","file-2"]`,
		RequiredPhotos: 2,
	}

	step, warn := DecodeStep(record)
	if warn != nil {
		t.Fatalf("decode: %v", warn)
	}
	if step.Kind != StepScreenshot {
		t.Fatalf("unexpected kind %q", step.Kind)
	}
	if _, ok := step.Payload.(ScreenshotPayload); !ok {
		t.Fatalf("unexpected payload %T", step.Payload)
	}
	if len(step.Examples) != 2 {
		t.Fatalf("unexpected examples %v", step.Examples)
	}
	if step.EffectiveRequiredPhotos() != 2 {
		t.Fatalf("unexpected photo count %d", step.EffectiveRequiredPhotos())
	}
}

func TestDecodeStepDataRequestFields(t *testing.T) {
	record := storage.StepRecord{
		BankName:    "mono",
		Action:      storage.ActionRegister,
		Kind:        string(StepDataRequest),
		PayloadJSON: `{"fields":[{"name":"phone","kind":"phone","required":true}]}`,
	}

	step, warn := DecodeStep(record)
	if warn != nil {
		t.Fatalf("decode: %v", warn)
	}
	payload, ok := step.Payload.(DataRequestPayload)
	if !ok {
		t.Fatalf("unexpected payload %T", step.Payload)
	}
	if len(payload.Fields) != 1 || payload.Fields[0].Kind != FieldPhone || !payload.Fields[0].Required {
		t.Fatalf("unexpected fields %+v", payload.Fields)
	}
}

func TestDecodeStepUnknownKindDegrades(t *testing.T) {
	record := storage.StepRecord{
		BankName: "mono",
		Action:   storage.ActionChange,
		Kind:     "video_call",
		Text:     "Join the call",
	}

	step, warn := DecodeStep(record)
	if warn != nil {
		t.Fatalf("decode: %v", warn)
	}
	if step.Kind != StepUnknown {
		t.Fatalf("unexpected kind %q", step.Kind)
	}
	payload, ok := step.Payload.(UnknownPayload)
	if !ok {
		t.Fatalf("unexpected payload %T", step.Payload)
	}
	if payload.RawKind != "video_call" {
		t.Fatalf("unexpected raw kind %q", payload.RawKind)
	}
	if step.EffectiveRequiredPhotos() != 1 {
		t.Fatalf("unexpected photo count %d", step.EffectiveRequiredPhotos())
	}
}

func TestDecodeStepMalformedPayloadWarns(t *testing.T) {
	record := storage.StepRecord{
		BankName:    "mono",
		Action:      storage.ActionRegister,
		Kind:        string(StepDataRequest),
		PayloadJSON: `{"fields":`,
	}

	step, warn := DecodeStep(record)
	if warn == nil {
		t.Fatal("expected warning for malformed payload")
	}
	payload, ok := step.Payload.(DataRequestPayload)
	if !ok {
		t.Fatalf("unexpected payload %T", step.Payload)
	}
	if len(payload.Fields) != 0 {
		t.Fatalf("expected empty fields, got %+v", payload.Fields)
	}
}

func TestEncodePayloadRoundTripsKind(t *testing.T) {
	payload := RequisitesPayload{Required: []string{"card", "iban"}}
	raw, err := EncodePayload(payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	step, warn := DecodeStep(storage.StepRecord{
		Kind:        string(KindForPayload(payload)),
		PayloadJSON: raw,
	})
	if warn != nil {
		t.Fatalf("decode: %v", warn)
	}
	decoded, ok := step.Payload.(RequisitesPayload)
	if !ok {
		t.Fatalf("unexpected payload %T", step.Payload)
	}
	if len(decoded.Required) != 2 || decoded.Required[0] != "card" {
		t.Fatalf("unexpected requisites %v", decoded.Required)
	}
}
