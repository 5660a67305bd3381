package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrEnvelopeField is returned when the root object has no field with the
	// requested name.
	ErrEnvelopeField = errors.New("json: envelope field not found")

	// ErrTrailingData is returned when anything but whitespace follows the
	// root object.
	ErrTrailingData = errors.New("json: trailing data after root object")
)

// StreamItems decodes the envelope object read from r and calls emit once per
// element of its array field, in document order, without buffering the array.
//
// Behavior:
//   - The root must be a JSON object. Other root fields are skipped without
//     being materialized, whether they come before or after field.
//   - A null field value or null array elements produce no records.
//   - index is the 1-based position of the element within the array.
//   - An error returned by emit stops the stream and is returned as is.
func StreamItems[T any](ctx context.Context, r io.Reader, field string, emit func(index int, item *T) error) error {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: read first token: %w", err)
	}
	if tok != json.Delim('{') {
		return fmt.Errorf("json: unsupported root token %v (want object)", tok)
	}

	found := false
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: read object key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("json: object key not a string (got %T)", keyTok)
		}

		if key != field || found {
			if err := skipNextValue(dec); err != nil {
				return err
			}
			continue
		}
		found = true

		valTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: read %s value: %w", field, err)
		}
		if valTok == nil {
			continue
		}
		if valTok != json.Delim('[') {
			return fmt.Errorf("json: field %s is %v, want array", field, valTok)
		}
		if err := streamArray(ctx, dec, field, emit); err != nil {
			return err
		}
		if end, err := dec.Token(); err != nil {
			return fmt.Errorf("json: read %s array end: %w", field, err)
		} else if end != json.Delim(']') {
			return fmt.Errorf("json: expected ']' after %s, got %v", field, end)
		}
	}

	if end, err := dec.Token(); err != nil {
		return fmt.Errorf("json: read object end: %w", err)
	} else if end != json.Delim('}') {
		return fmt.Errorf("json: expected object end '}', got %v", end)
	}

	if _, err := dec.Token(); err != io.EOF {
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTrailingData, err)
		}
		return ErrTrailingData
	}

	if !found {
		return fmt.Errorf("%w: %s", ErrEnvelopeField, field)
	}
	return nil
}

// streamArray decodes elements of the current array (after '[' has been
// consumed) one at a time.
func streamArray[T any](ctx context.Context, dec *json.Decoder, field string, emit func(int, *T) error) error {
	index := 0
	for dec.More() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		index++
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("json: decode %s[%d]: %w", field, index, err)
		}
		if string(raw) == "null" {
			continue
		}
		item := new(T)
		if err := json.Unmarshal(raw, item); err != nil {
			return fmt.Errorf("json: decode %s[%d]: %w", field, index, err)
		}
		if err := emit(index, item); err != nil {
			return err
		}
	}
	return nil
}

// skipNextValue skips the next JSON value from the decoder, without materializing it.
func skipNextValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: skip value token: %w", err)
	}
	d, ok := tok.(json.Delim)
	if !ok {
		return nil
	}

	// Objects and arrays: track depth until the matching close.
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: skip %s: %w", d, err)
		}
		if nd, ok := tok.(json.Delim); ok {
			switch nd {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}
