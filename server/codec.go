package server

import (
	"fmt"

	"connectrpc.com/connect"
	"github.com/fxamacker/cbor/v2"
)

// codecName selects the connect codec by content type: requests travel
// as application/cbor.
const codecName = "cbor"

var codecEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("server: failed to create CBOR enc mode: %v", err))
	}
	codecEncMode = em
}

// cborCodec is the connect message codec. The wire format is CBOR end to
// end, the same encoding movie archives use; there is no IDL layer.
type cborCodec struct{}

func newCBORCodec() connect.Codec {
	return cborCodec{}
}

func (cborCodec) Name() string {
	return codecName
}

func (cborCodec) Marshal(message any) ([]byte, error) {
	return codecEncMode.Marshal(message)
}

func (cborCodec) Unmarshal(data []byte, message any) error {
	return cbor.Unmarshal(data, message)
}
