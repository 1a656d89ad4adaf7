package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBaseURL = "https://farmbot.invalid/schemas/"

var (
	schemaOnce      sync.Once
	schemaErr       error
	handshakeSchema *jsonschema.Schema
	responseSchema  *jsonschema.Schema
)

func loadSchemas() error {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		for _, name := range []string{"handshake.schema.json", "response.schema.json"} {
			b, err := schemaFS.ReadFile("schemas/" + name)
			if err != nil {
				schemaErr = err
				return
			}
			if err := c.AddResource(schemaBaseURL+name, bytes.NewReader(b)); err != nil {
				schemaErr = fmt.Errorf("schema %s: %w", name, err)
				return
			}
		}
		if handshakeSchema, schemaErr = c.Compile(schemaBaseURL + "handshake.schema.json"); schemaErr != nil {
			return
		}
		responseSchema, schemaErr = c.Compile(schemaBaseURL + "response.schema.json")
	})
	return schemaErr
}

func validate(s *jsonschema.Schema, raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return s.Validate(v)
}

// DecodeHandshake validates and decodes a handshake payload.
func DecodeHandshake(raw []byte) (Handshake, error) {
	if err := loadSchemas(); err != nil {
		return Handshake{}, err
	}
	if err := validate(handshakeSchema, raw); err != nil {
		return Handshake{}, fmt.Errorf("handshake: %w", err)
	}
	var m HandshakeMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		return Handshake{}, fmt.Errorf("handshake: %w", err)
	}
	return m.Handshake(), nil
}

// DecodeResponse validates and decodes an action response.
func DecodeResponse(raw []byte) (Response, error) {
	if err := loadSchemas(); err != nil {
		return Response{}, err
	}
	if err := validate(responseSchema, raw); err != nil {
		return Response{}, fmt.Errorf("response: %w", err)
	}
	var r Response
	if err := json.Unmarshal(raw, &r); err != nil {
		return Response{}, fmt.Errorf("response: %w", err)
	}
	return r, nil
}
