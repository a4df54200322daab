package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/genius/internal/archetype"
	"github.com/kalambet/genius/internal/compress"
)

// Normalize fills defaults for optional fields and validates the request.
// The returned request is safe to run.
func Normalize(req Request) (Request, error) {
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		return req, &InvalidInputError{Field: "question", Reason: "must not be empty"}
	}
	if req.ProcessingDepth < MinDepth || req.ProcessingDepth > MaxDepth {
		return req, &InvalidInputError{
			Field:  "processingDepth",
			Reason: fmt.Sprintf("%d out of range [%d,%d]", req.ProcessingDepth, MinDepth, MaxDepth),
		}
	}
	if req.CircuitType == "" {
		req.CircuitType = Sequential
	}
	if !req.CircuitType.Valid() {
		return req, &InvalidInputError{Field: "circuitType", Reason: fmt.Sprintf("unknown circuit %q", req.CircuitType)}
	}
	if req.OutputType == "" {
		req.OutputType = compress.Practical
	}
	if !compress.ValidOutputType(req.OutputType) {
		return req, &InvalidInputError{Field: "outputType", Reason: fmt.Sprintf("unknown output type %q", req.OutputType)}
	}
	settings := compress.Settings{Length: compress.Medium}
	if req.CompressionSettings != nil {
		settings = *req.CompressionSettings
		if settings.Length == "" {
			settings.Length = compress.Medium
		}
	}
	if !compress.ValidLength(settings.Length) {
		return req, &InvalidInputError{Field: "compressionSettings.length", Reason: fmt.Sprintf("unknown length %q", settings.Length)}
	}
	req.CompressionSettings = &settings
	return req, nil
}

// ResolveArchetypes overlays custom onto defaults and validates the result.
func ResolveArchetypes(defaults, custom []archetype.Archetype) ([]archetype.Archetype, error) {
	for _, a := range custom {
		if !a.Name.Valid() {
			return nil, &InvalidInputError{Field: "customArchetypes", Reason: fmt.Sprintf("unknown archetype %q", a.Name)}
		}
	}
	set := archetype.Merge(defaults, custom)
	if err := archetype.Validate(set); err != nil {
		reason := err.Error()
		if errors.Is(err, archetype.ErrInvalid) {
			reason = strings.TrimPrefix(reason, archetype.ErrInvalid.Error()+": ")
		}
		return nil, &InvalidInputError{Field: "customArchetypes", Reason: reason}
	}
	return set, nil
}
