package controller

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Worker jobs and command return values cross the process boundary as
// deterministic CBOR.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("controller: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("controller: CBOR decoder initialization failed: " + err.Error())
	}
}

func marshalCBOR(v any) ([]byte, error) { return encMode.Marshal(v) }

func unmarshalCBOR(data []byte, v any) error { return decMode.Unmarshal(data, v) }
