package ledger

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jcikl/ledgersync/core/bus"
)

var ErrUnknownKind = errors.New("unknown event kind")

// Envelope is the wire form of an Event.
type Envelope struct {
	Kind bus.Kind        `json:"kind"`
	Data json.RawMessage `json:"data"`
}

var decoders = map[bus.Kind]func([]byte) (Event, error){
	KindTransactionCreated: decodeAs[TransactionCreated],
	KindTransactionUpdated: decodeAs[TransactionUpdated],
	KindTransactionDeleted: decodeAs[TransactionDeleted],
	KindProjectCreated:     decodeAs[ProjectCreated],
	KindProjectUpdated:     decodeAs[ProjectUpdated],
	KindProjectDeleted:     decodeAs[ProjectDeleted],
	KindAccountUpdated:     decodeAs[AccountUpdated],
	KindCategoryUpdated:    decodeAs[CategoryUpdated],
	KindBankAccountUpdated: decodeAs[BankAccountUpdated],
}

func decodeAs[T Event](data []byte) (Event, error) {
	var ev T
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Encode wraps ev into an Envelope and marshals it.
func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.EventKind(), err)
	}
	return json.Marshal(Envelope{Kind: ev.EventKind(), Data: data})
}

// Decode parses an Envelope produced by Encode.
func Decode(b []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	decode, ok := decoders[env.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
	ev, err := decode(env.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
	}
	return ev, nil
}
