package repository

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/fastygo/taskledger/domain"
)

// Encode converts a typed entity into canonical JSON-typed fields so every
// backend stores and compares the same representation.
func Encode(v any) (Fields, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var fields Fields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return fields, nil
}

// Decode fills out from fields. Missing keys and mismatched types fail closed
// with a *domain.DecodeError instead of producing a partially filled value.
func Decode(collection, id string, fields Fields, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     out,
		TagName:    "json",
		ErrorUnset: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
			base64BytesHook,
		),
	})
	if err != nil {
		return &domain.DecodeError{Collection: collection, ID: id, Err: err}
	}
	if err := decoder.Decode(map[string]any(fields)); err != nil {
		return &domain.DecodeError{Collection: collection, ID: id, Err: err}
	}
	if key, ok := fields["id"].(string); !ok || key != id {
		return &domain.DecodeError{Collection: collection, ID: id, Err: fmt.Errorf("id field %v does not match record key", fields["id"])}
	}
	return nil
}

// DecodeRecord decodes a single record into T.
func DecodeRecord[T any](collection string, rec Record) (T, error) {
	var out T
	err := Decode(collection, rec.ID, rec.Fields, &out)
	return out, err
}

// DecodeSnapshot decodes every record of a snapshot. Records that fail are
// reported in the joined error and left out of the result; the IDs of the
// failed records are returned so callers can keep their local versions.
func DecodeSnapshot[T any](snap Snapshot) (map[string]T, []string, error) {
	out := make(map[string]T, len(snap.Records))
	var (
		failed []string
		errs   []error
	)
	for _, rec := range snap.Records {
		item, err := DecodeRecord[T](snap.Collection, rec)
		if err != nil {
			failed = append(failed, rec.ID)
			errs = append(errs, err)
			continue
		}
		out[rec.ID] = item
	}
	return out, failed, errors.Join(errs...)
}

func base64BytesHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf([]byte(nil)) {
		return data, nil
	}
	return base64.StdEncoding.DecodeString(data.(string))
}
