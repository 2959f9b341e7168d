package storage

import (
	"encoding"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// DBToken is the persisted credential of the signed-in user.
type DBToken struct {
	UserID  string `msgpack:"userId"`
	Token   string `msgpack:"token"`
	SavedAt int64  `msgpack:"savedAt"`
}

// Key is fixed: the client keeps at most one credential.
func (t *DBToken) Key() []byte {
	return keyAuthToken
}

func (t *DBToken) MarshalBinary() (data []byte, err error) {
	type alias DBToken
	return msgpack.Marshal((*alias)(t))
}

func (t *DBToken) UnmarshalBinary(data []byte) error {
	type alias DBToken
	return msgpack.Unmarshal(data, (*alias)(t))
}
