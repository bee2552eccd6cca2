// Package structural implements the envelope structural validator: the
// first of the ingestion pipeline's boundary checks. It enforces envelope
// shape, field types, the RFC3339-with-timezone timestamp format, the
// signal_id charset, and the schema_version pattern.
//
// A coarse github.com/santhosh-tekuri/jsonschema/v5 pass gates the request
// body shape (object vs array vs scalar, field types) ahead of the
// hand-written field-level checks that produce the stable error codes.
package structural

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/meridianlabs/licl/pkg/contracts"
)

var (
	signalIDCharset    = regexp.MustCompile(`^[A-Za-z0-9._:-]+$`)
	schemaVersionShape = regexp.MustCompile(`^v[0-9]+$`)
	// rfc3339TZ requires an explicit 'T' date/time separator and a mandatory
	// timezone designator (Z or +/-HH:MM). A bare space instead of 'T', or
	// no timezone at all, must be rejected.
	rfc3339TZ = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})$`)
)

const envelopeSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "org_id": {"type": "string"},
    "signal_id": {"type": "string"},
    "source_system": {"type": "string"},
    "learner_reference": {"type": "string"},
    "timestamp": {"type": "string"},
    "schema_version": {"type": "string"},
    "payload": {},
    "metadata": {"type": "object"}
  }
}`

var envelopeSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://licl.local/schemas/signal-envelope.schema.json"
	if err := c.AddResource(url, strings.NewReader(envelopeSchemaJSON)); err != nil {
		panic(fmt.Sprintf("structural: failed to register envelope schema: %v", err))
	}
	compiled, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("structural: failed to compile envelope schema: %v", err))
	}
	return compiled
}

// Result is the outcome of validating a raw envelope body.
type Result struct {
	Envelope *contracts.SignalEnvelope
	Errors   []contracts.CodedError
}

// OK reports whether validation produced zero errors.
func (r Result) OK() bool { return len(r.Errors) == 0 }

// ValidateEnvelope validates a raw request body against the SignalEnvelope
// contract. It returns all errors found from a single pass where
// practical; the caller (the Ingestion Orchestrator) may still choose to
// act only on the first error for a simpler client-facing response.
func ValidateEnvelope(raw []byte) Result {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return Result{Errors: []contracts.CodedError{{
			Code:    contracts.CodeInvalidType,
			Message: "request body is not valid JSON",
		}}}
	}

	if schemaErr := envelopeSchema.Validate(generic); schemaErr != nil {
		return Result{Errors: []contracts.CodedError{{
			Code:    contracts.CodeInvalidType,
			Message: fmt.Sprintf("envelope does not match required shape: %v", schemaErr),
		}}}
	}

	var env contracts.SignalEnvelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return Result{Errors: []contracts.CodedError{{
			Code:    contracts.CodeInvalidType,
			Message: "request body could not be decoded into a signal envelope",
		}}}
	}

	var errs []contracts.CodedError
	requireNonBlank(&errs, "org_id", env.OrgID, contracts.CodeOrgScopeRequired)
	requireLen(&errs, "org_id", env.OrgID, 1, 128)
	requireNonBlank(&errs, "signal_id", env.SignalID, contracts.CodeMissingRequiredField)
	requireLen(&errs, "signal_id", env.SignalID, 1, 256)
	if env.SignalID != "" && !signalIDCharset.MatchString(env.SignalID) {
		errs = append(errs, contracts.CodedError{
			Code:      contracts.CodeInvalidCharset,
			Message:   "signal_id contains characters outside [A-Za-z0-9._:-]",
			FieldPath: "signal_id",
		})
	}
	requireNonBlank(&errs, "source_system", env.SourceSystem, contracts.CodeMissingRequiredField)
	requireNonBlank(&errs, "learner_reference", env.LearnerReference, contracts.CodeMissingRequiredField)
	requireLen(&errs, "learner_reference", env.LearnerReference, 1, 256)

	requireNonBlank(&errs, "timestamp", env.Timestamp, contracts.CodeMissingRequiredField)
	if env.Timestamp != "" && !rfc3339TZ.MatchString(env.Timestamp) {
		errs = append(errs, contracts.CodedError{
			Code:      contracts.CodeInvalidTimestamp,
			Message:   "timestamp must be RFC3339 with an explicit timezone",
			FieldPath: "timestamp",
		})
	} else if env.Timestamp != "" {
		if _, err := time.Parse(time.RFC3339Nano, env.Timestamp); err != nil {
			errs = append(errs, contracts.CodedError{
				Code:      contracts.CodeInvalidTimestamp,
				Message:   "timestamp is not a valid RFC3339 instant",
				FieldPath: "timestamp",
			})
		}
	}

	requireNonBlank(&errs, "schema_version", env.SchemaVersion, contracts.CodeMissingRequiredField)
	if env.SchemaVersion != "" && !schemaVersionShape.MatchString(env.SchemaVersion) {
		errs = append(errs, contracts.CodedError{
			Code:      contracts.CodeInvalidSchemaVersion,
			Message:   fmt.Sprintf("schema_version %q does not match ^v[0-9]+$", env.SchemaVersion),
			FieldPath: "schema_version",
		})
	}

	if len(env.Payload) == 0 {
		errs = append(errs, contracts.CodedError{
			Code:      contracts.CodeMissingRequiredField,
			Message:   "payload is required",
			FieldPath: "payload",
		})
	} else {
		trimmed := bytes.TrimSpace(env.Payload)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			errs = append(errs, contracts.CodedError{
				Code:      contracts.CodePayloadNotObject,
				Message:   "payload must be a JSON object",
				FieldPath: "payload",
			})
		} else if string(trimmed) == "null" {
			errs = append(errs, contracts.CodedError{
				Code:      contracts.CodePayloadNotObject,
				Message:   "payload must not be null",
				FieldPath: "payload",
			})
		}
	}

	return Result{Envelope: &env, Errors: errs}
}

func requireNonBlank(errs *[]contracts.CodedError, field, value, code string) {
	if strings.TrimSpace(value) == "" {
		*errs = append(*errs, contracts.CodedError{
			Code:      code,
			Message:   fmt.Sprintf("%s is required", field),
			FieldPath: field,
		})
	}
}

func requireLen(errs *[]contracts.CodedError, field, value string, min, max int) {
	if value == "" {
		return // already reported as missing
	}
	if len(value) < min || len(value) > max {
		*errs = append(*errs, contracts.CodedError{
			Code:      contracts.CodeInvalidLength,
			Message:   fmt.Sprintf("%s must be between %d and %d characters", field, min, max),
			FieldPath: field,
		})
	}
}
