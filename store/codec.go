package store

import (
	"github.com/fxamacker/cbor/v2"
)

// MaxCollectionLen is the largest array or map a record may hold.
const MaxCollectionLen = 1<<31 - 1

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: MaxCollectionLen,
		MaxMapPairs:      MaxCollectionLen,
	}.DecMode()
	if err != nil {
		panic("store: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes a record deterministically: the same value always yields
// the same bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
