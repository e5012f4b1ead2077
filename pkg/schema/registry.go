package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBaseURL = "https://agentlens.dev/schema/v1/"

// FieldError is one structured validation failure. Path is a JSON pointer
// into the offending document, Keyword the schema keyword that failed.
type FieldError struct {
	Path    string `json:"path"`
	Keyword string `json:"keyword"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Path, e.Message, e.Keyword)
}

// Registry holds the compiled v1 schemas, one per event type.
type Registry struct {
	schemas map[EventType]*jsonschema.Schema
	printer *message.Printer
}

// schemaFiles maps each event type to its embedded schema document.
var schemaFiles = map[EventType]string{
	EventOrchestrationRunStarted:   "orchestration_run_started.json",
	EventOrchestrationRunCompleted: "orchestration_run_completed.json",
	EventAgentRunStarted:           "agent_run_started.json",
	EventAgentRunCompleted:         "agent_run_completed.json",
	EventRetrievalContextAttached:  "retrieval_context_attached.json",
	EventSignalEmitted:             "signal_emitted.json",
	EventMarketOutcomeIngested:     "market_outcome_ingested.json",
}

// NewRegistry compiles all embedded schemas. A failure here means the
// embedded documents are broken, so callers treat it as fatal.
func NewRegistry() (*Registry, error) {
	c := jsonschema.NewCompiler()

	addResource := func(name string) error {
		raw, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return fmt.Errorf("reading embedded schema %s: %w", name, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("unmarshaling schema %s: %w", name, err)
		}
		if err := c.AddResource(schemaBaseURL+name, doc); err != nil {
			return fmt.Errorf("adding schema resource %s: %w", name, err)
		}
		return nil
	}

	if err := addResource("envelope.json"); err != nil {
		return nil, err
	}
	for _, name := range schemaFiles {
		if err := addResource(name); err != nil {
			return nil, err
		}
	}

	r := &Registry{
		schemas: make(map[EventType]*jsonschema.Schema, len(schemaFiles)),
		printer: message.NewPrinter(language.English),
	}
	for typ, name := range schemaFiles {
		compiled, err := c.Compile(schemaBaseURL + name)
		if err != nil {
			return nil, fmt.Errorf("compiling schema for %s: %w", typ, err)
		}
		r.schemas[typ] = compiled
	}
	return r, nil
}

// ValidateEvent validates one raw event object. On success it returns the
// decoded event; on failure a non-empty list of field errors.
func (r *Registry) ValidateEvent(raw json.RawMessage) (*Event, []FieldError) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, []FieldError{{Path: "", Keyword: "syntax", Message: "invalid JSON: " + err.Error()}}
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, []FieldError{{Path: "", Keyword: "type", Message: "event must be a JSON object"}}
	}

	// Dispatch on the declared type before full validation so that the
	// right schema produces the detailed errors.
	version, _ := obj["schema_version"].(string)
	if version != SchemaVersion {
		return nil, []FieldError{{
			Path:    "/schema_version",
			Keyword: "const",
			Message: fmt.Sprintf("unsupported schema_version %q, want %q", version, SchemaVersion),
		}}
	}
	typ, _ := obj["type"].(string)
	compiled, ok := r.schemas[EventType(typ)]
	if !ok {
		return nil, []FieldError{{
			Path:    "/type",
			Keyword: "enum",
			Message: fmt.Sprintf("unknown event type %q", typ),
		}}
	}

	if err := compiled.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return nil, r.flatten(verr)
		}
		return nil, []FieldError{{Path: "", Keyword: "schema", Message: err.Error()}}
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, []FieldError{{Path: "", Keyword: "syntax", Message: "decoding envelope: " + err.Error()}}
	}
	return &Event{Envelope: env, Raw: raw}, nil
}

// ValidateBatch validates an ingest batch. The body may be either a bare
// JSON array of events or an object {"schema_version": "v1", "events":
// [...]}. Field error paths for array items are prefixed with /events/<i>.
func (r *Registry) ValidateBatch(body []byte) (*Batch, []FieldError) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	var rawEvents []json.RawMessage

	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(body, &rawEvents); err != nil {
			return nil, []FieldError{{Path: "", Keyword: "syntax", Message: "invalid JSON array: " + err.Error()}}
		}
	} else {
		var wrapper struct {
			SchemaVersion string            `json:"schema_version"`
			Events        []json.RawMessage `json:"events"`
		}
		if err := json.Unmarshal(body, &wrapper); err != nil {
			return nil, []FieldError{{Path: "", Keyword: "syntax", Message: "invalid JSON body: " + err.Error()}}
		}
		if wrapper.SchemaVersion != "" && wrapper.SchemaVersion != SchemaVersion {
			return nil, []FieldError{{
				Path:    "/schema_version",
				Keyword: "const",
				Message: fmt.Sprintf("unsupported schema_version %q, want %q", wrapper.SchemaVersion, SchemaVersion),
			}}
		}
		rawEvents = wrapper.Events
	}

	if len(rawEvents) == 0 {
		return nil, []FieldError{{Path: "/events", Keyword: "minItems", Message: "batch contains no events"}}
	}

	batch := &Batch{SchemaVersion: SchemaVersion, Events: make([]*Event, 0, len(rawEvents))}
	var errs []FieldError
	for i, raw := range rawEvents {
		ev, fieldErrs := r.ValidateEvent(raw)
		if len(fieldErrs) > 0 {
			for _, fe := range fieldErrs {
				fe.Path = fmt.Sprintf("/events/%d%s", i, fe.Path)
				errs = append(errs, fe)
			}
			continue
		}
		batch.Events = append(batch.Events, ev)
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return batch, nil
}

// flatten walks the validation error tree and collects leaf failures.
func (r *Registry) flatten(verr *jsonschema.ValidationError) []FieldError {
	var out []FieldError
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, FieldError{
				Path:    pointer(e.InstanceLocation),
				Keyword: keyword(e),
				Message: e.ErrorKind.LocalizedString(r.printer),
			})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	return out
}

func pointer(loc []string) string {
	if len(loc) == 0 {
		return ""
	}
	escaped := make([]string, len(loc))
	for i, tok := range loc {
		tok = strings.ReplaceAll(tok, "~", "~0")
		escaped[i] = strings.ReplaceAll(tok, "/", "~1")
	}
	return "/" + strings.Join(escaped, "/")
}

func keyword(e *jsonschema.ValidationError) string {
	kp := e.ErrorKind.KeywordPath()
	if len(kp) == 0 {
		return "schema"
	}
	return kp[len(kp)-1]
}
