package krpc

import (
	"github.com/pkg/errors"

	"github.com/fusetim/bitcrawler/bencode"
)

// ErrorCode is the KRPC protocol error code. The set below is closed:
// decoding rejects any integer outside it rather than inventing an
// Unknown variant, mirroring the source's TryFrom<i64>.
type ErrorCode int64

const (
	ErrorCodeGeneric       ErrorCode = 201
	ErrorCodeServer        ErrorCode = 202
	ErrorCodeProtocol      ErrorCode = 203
	ErrorCodeMethodUnknown ErrorCode = 204
)

func errorCodeFromInt(v int64) (ErrorCode, error) {
	switch ErrorCode(v) {
	case ErrorCodeGeneric, ErrorCodeServer, ErrorCodeProtocol, ErrorCodeMethodUnknown:
		return ErrorCode(v), nil
	default:
		return 0, errors.New("Invalid error code")
	}
}

// ErrorMessage is a KRPC error response ({"y":"e","e":[code,message]}).
type ErrorMessage struct {
	TransactionID []byte
	Code          ErrorCode
	Message       string
}

// Equal compares ErrorMessages by code only, matching the source's
// PartialEq impl: transaction ID and human-readable message are not
// part of an error's identity.
func (e ErrorMessage) Equal(other ErrorMessage) bool {
	return e.Code == other.Code
}

// ToBencoded builds the top-level {"t","y","e"} dict.
func (e ErrorMessage) ToBencoded() bencode.Value {
	return bencode.Dict([]bencode.DictEntry{
		{Key: []byte("t"), Value: bencode.String(e.TransactionID)},
		{Key: []byte("y"), Value: bencode.String([]byte("e"))},
		{Key: []byte("e"), Value: bencode.List([]bencode.Value{
			bencode.Integer(int64(e.Code)),
			bencode.String([]byte(e.Message)),
		})},
	})
}

// ErrorMessageFromBencoded parses a KRPC error message.
func ErrorMessageFromBencoded(v bencode.Value) (ErrorMessage, error) {
	if v.Kind != bencode.KindDict {
		return ErrorMessage{}, errors.New("Invalid error format")
	}
	messageType, err := lookupString(v, "y", "Missing 'y' field")
	if err != nil {
		return ErrorMessage{}, err
	}
	if string(messageType) != "e" {
		return ErrorMessage{}, errors.New("Invalid message type")
	}
	transactionID, err := lookupString(v, "t", "Missing 't' field")
	if err != nil {
		return ErrorMessage{}, err
	}
	errorValue, ok := bencode.Lookup(v, "e")
	if !ok || errorValue.Kind != bencode.KindList || len(errorValue.List) != 2 {
		return ErrorMessage{}, errors.New("Missing 'e' field")
	}
	codeValue := errorValue.List[0]
	messageValue := errorValue.List[1]
	if codeValue.Kind != bencode.KindInteger || !codeValue.Int.IsInt64() {
		return ErrorMessage{}, errors.New("Invalid error code")
	}
	if messageValue.Kind != bencode.KindString {
		return ErrorMessage{}, errors.New("Invalid error message")
	}
	code, err := errorCodeFromInt(codeValue.Int.Int64())
	if err != nil {
		return ErrorMessage{}, err
	}
	return ErrorMessage{TransactionID: transactionID, Code: code, Message: string(messageValue.Str)}, nil
}
