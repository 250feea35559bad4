// Package validator provides batch envelope shape validation.
package validator

import (
	"fmt"

	"github.com/jittakal/loglake/internal/errors"
	"github.com/jittakal/loglake/pkg/record"
)

// EnvelopeValidator checks decoded batch envelopes against the wire
// contract. Shape violations fail fast as malformed batches instead of
// being papered over by opportunistic field access.
type EnvelopeValidator struct{}

// NewEnvelopeValidator creates a new envelope validator.
func NewEnvelopeValidator() *EnvelopeValidator {
	return &EnvelopeValidator{}
}

// Validate validates a batch envelope. Only data envelopes carry events;
// control envelopes pass validation with no event requirements.
func (v *EnvelopeValidator) Validate(env *record.Envelope) error {
	if env.MessageType == "" {
		return fmt.Errorf("%w: missing messageType", errors.ErrMalformedBatch)
	}

	if env.MessageType != record.MessageTypeData {
		return nil
	}

	if env.LogGroup == "" {
		return fmt.Errorf("%w: missing logGroup", errors.ErrMalformedBatch)
	}
	if env.LogStream == "" {
		return fmt.Errorf("%w: missing logStream", errors.ErrMalformedBatch)
	}

	for i, ev := range env.LogEvents {
		if ev.ID == "" {
			return fmt.Errorf("%w: logEvents[%d] missing id", errors.ErrMalformedBatch, i)
		}
		if ev.Timestamp <= 0 {
			return fmt.Errorf("%w: logEvents[%d] missing timestamp", errors.ErrMalformedBatch, i)
		}
	}

	return nil
}
