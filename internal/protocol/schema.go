package protocol

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

var ErrMalformed = errors.New("malformed message")

const frameSchemaURL = "https://relaycollab.dev/schemas/frame.json"

//go:embed frame.schema.json
var frameSchemaJSON []byte

var (
	frameSchemaOnce sync.Once
	frameSchema     *jsonschema.Schema
	frameSchemaErr  error
)

func compiledFrameSchema() (*jsonschema.Schema, error) {
	frameSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(frameSchemaJSON))
		if err != nil {
			frameSchemaErr = fmt.Errorf("parse frame schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(frameSchemaURL, doc); err != nil {
			frameSchemaErr = fmt.Errorf("load frame schema: %w", err)
			return
		}
		frameSchema, frameSchemaErr = compiler.Compile(frameSchemaURL)
	})
	return frameSchema, frameSchemaErr
}

func validateFrame(data []byte) error {
	schema, err := compiledFrameSchema()
	if err != nil {
		return err
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
