package bencode

import "math/big"

// decodeString reads a ByteString starting at the beginning of input.
// Returns the number of bytes consumed and the raw payload.
func decodeString(input []byte) (int, []byte, error) {
	sep := -1
	for i, c := range input {
		if c == ':' {
			sep = i
			break
		}
	}
	if sep < 0 {
		return 0, nil, newDecodeError(InvalidString)
	}

	length := 0
	for _, c := range input[:sep] {
		if c < '0' || c > '9' {
			return 0, nil, newDecodeError(InvalidString)
		}
		length = length*10 + int(c-'0')
	}

	if length == 0 {
		return sep + 1, []byte{}, nil
	}
	if length > len(input)-sep-1 {
		return 0, nil, newDecodeError(InvalidString)
	}
	return sep + 1 + length, input[sep+1 : sep+1+length], nil
}

// decodeInteger reads an Integer starting at the beginning of input.
func decodeInteger(input []byte) (int, *big.Int, error) {
	if len(input) == 0 || input[0] != 'i' {
		return 0, nil, newDecodeError(InvalidInteger)
	}
	end := -1
	for i, c := range input {
		if c == 'e' {
			end = i
			break
		}
	}
	if end <= 0 {
		return 0, nil, newDecodeError(InvalidInteger)
	}

	digits := input[1:end]
	n, ok := new(big.Int).SetString(string(digits), 10)
	if !ok {
		return 0, nil, newDecodeError(InvalidInteger)
	}
	return end + 1, n, nil
}

// decodeState mirrors the Rust implementation's explicit work-stack
// frames so the decoder never recurses on container nesting.
type decodeStateKind int

const (
	stateStart decodeStateKind = iota
	stateValue
	stateListStart
	stateDictStart
	stateDictKey
	stateDictEntry
)

type decodeState struct {
	kind  decodeStateKind
	value Value
	key   []byte
}

// Decode parses a single bencode value from the front of input. It
// returns the number of bytes consumed and the decoded value; trailing
// bytes past that value are left unconsumed. Recursion is implemented
// with an explicit stack so deeply nested malformed input cannot exhaust
// the native call stack.
func Decode(input []byte) (int, Value, error) {
	length := len(input)
	stack := []decodeState{{kind: stateStart}}

	cursor := 0
	for cursor < length {
		if len(stack) == 2 && stack[1].kind == stateValue {
			break
		}
		c := input[cursor]
		rest := input[cursor:]

		switch c {
		case 'i':
			n, value, err := decodeInteger(rest)
			if err != nil {
				return 0, Value{}, err
			}
			cursor += n
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if top.kind == stateDictKey {
				stack = append(stack, decodeState{kind: stateDictEntry, key: top.key, value: BigInteger(value)})
			} else {
				stack = append(stack, top, decodeState{kind: stateValue, value: BigInteger(value)})
			}

		case 'l':
			stack = append(stack, decodeState{kind: stateListStart})
			cursor++

		case 'd':
			stack = append(stack, decodeState{kind: stateDictStart})
			cursor++

		case 'e':
			cursor++
			var collected []decodeState
			for {
				if len(stack) == 0 {
					return 0, Value{}, newDecodeError(InvalidValue)
				}
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]

				switch top.kind {
				case stateListStart:
					items := make([]Value, len(collected))
					for i, frame := range collected {
						if frame.kind != stateValue {
							return 0, Value{}, newDecodeError(InvalidValue)
						}
						items[len(collected)-1-i] = frame.value
					}
					listValue := List(items)
					if len(stack) == 0 {
						return 0, Value{}, newDecodeError(InvalidValue)
					}
					prev := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					if prev.kind == stateDictKey {
						stack = append(stack, decodeState{kind: stateDictEntry, key: prev.key, value: listValue})
					} else {
						stack = append(stack, prev, decodeState{kind: stateValue, value: listValue})
					}
					goto containerDone

				case stateDictStart:
					entries := make([]DictEntry, len(collected))
					for i, frame := range collected {
						if frame.kind != stateDictEntry {
							return 0, Value{}, newDecodeError(InvalidValue)
						}
						entries[len(collected)-1-i] = DictEntry{Key: frame.key, Value: frame.value}
					}
					dictValue := Dict(entries)
					if len(stack) == 0 {
						return 0, Value{}, newDecodeError(InvalidValue)
					}
					prev := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					if prev.kind == stateDictKey {
						stack = append(stack, decodeState{kind: stateDictEntry, key: prev.key, value: dictValue})
					} else {
						stack = append(stack, prev, decodeState{kind: stateValue, value: dictValue})
					}
					goto containerDone

				case stateValue, stateDictEntry:
					collected = append(collected, top)

				default:
					return 0, Value{}, newDecodeError(InvalidValue)
				}
			}
		containerDone:

		default:
			n, raw, err := decodeString(rest)
			if err != nil {
				return 0, Value{}, err
			}
			cursor += n
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			switch top.kind {
			case stateDictKey:
				stack = append(stack, decodeState{kind: stateDictEntry, key: top.key, value: String(raw)})
			case stateDictEntry, stateDictStart:
				stack = append(stack, top, decodeState{kind: stateDictKey, key: raw})
			default:
				stack = append(stack, top, decodeState{kind: stateValue, value: String(raw)})
			}
		}
	}

	if len(stack) != 2 {
		return 0, Value{}, newDecodeError(InvalidValue)
	}
	top := stack[len(stack)-1]
	if top.kind != stateValue {
		return 0, Value{}, newDecodeError(InvalidValue)
	}
	return cursor, top.value, nil
}
