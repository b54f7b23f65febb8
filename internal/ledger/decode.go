package ledger

import (
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/carebook/clinic-ledger/pkg/types"
)

// validator is implemented by records that can reject absent or partial data
type validator interface {
	Validate() error
}

// Decode maps a raw tree value onto a typed record. The tree stores plain
// JSON shapes, so numeric fields arrive as float64 and are weakly converted
// back. Records implementing Validate get a final schema check so partial
// data fails here instead of propagating forward.
func Decode(value interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		Result:           out,
	})
	if err != nil {
		return types.NewInternalError("failed to build record decoder", err)
	}
	if err := decoder.Decode(value); err != nil {
		return types.NewSchemaError("stored value does not match record shape", err)
	}
	if v, ok := out.(validator); ok {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}
