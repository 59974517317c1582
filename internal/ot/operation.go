package ot

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrVersionMismatch  = errors.New("version mismatch")
	ErrOutOfBounds      = errors.New("operation out of bounds")
	ErrInvalidOperation = errors.New("invalid operation")
)

type OpType string

const (
	OpInsert OpType = "insert"
	OpDelete OpType = "delete"
	OpRetain OpType = "retain"
)

// Operation is a single edit addressed in UTF-8 byte offsets of the document
// it is defined against. Only the fields of its Type are meaningful.
type Operation struct {
	Type     OpType
	Position int
	Text     string
	Length   int
}

func Insert(position int, text string) Operation {
	return Operation{Type: OpInsert, Position: position, Text: text}
}

func Delete(position, length int) Operation {
	return Operation{Type: OpDelete, Position: position, Length: length}
}

func Retain(length int) Operation {
	return Operation{Type: OpRetain, Length: length}
}

func (op Operation) String() string {
	switch op.Type {
	case OpInsert:
		return fmt.Sprintf("Insert{%d,%q}", op.Position, op.Text)
	case OpDelete:
		return fmt.Sprintf("Delete{%d,%d}", op.Position, op.Length)
	case OpRetain:
		return fmt.Sprintf("Retain{%d}", op.Length)
	default:
		return fmt.Sprintf("Operation{%s}", op.Type)
	}
}

func (op Operation) Validate() error {
	switch op.Type {
	case OpInsert:
		if op.Position < 0 {
			return fmt.Errorf("%w: negative insert position", ErrInvalidOperation)
		}
	case OpDelete:
		if op.Position < 0 || op.Length < 0 {
			return fmt.Errorf("%w: negative delete range", ErrInvalidOperation)
		}
	case OpRetain:
		if op.Length < 0 {
			return fmt.Errorf("%w: negative retain length", ErrInvalidOperation)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidOperation, op.Type)
	}
	return nil
}

type wireInsert struct {
	Type     OpType `json:"type"`
	Position int    `json:"position"`
	Text     string `json:"text"`
}

type wireDelete struct {
	Type     OpType `json:"type"`
	Position int    `json:"position"`
	Length   int    `json:"length"`
}

type wireRetain struct {
	Type   OpType `json:"type"`
	Length int    `json:"length"`
}

func (op Operation) MarshalJSON() ([]byte, error) {
	switch op.Type {
	case OpInsert:
		return json.Marshal(wireInsert{Type: op.Type, Position: op.Position, Text: op.Text})
	case OpDelete:
		return json.Marshal(wireDelete{Type: op.Type, Position: op.Position, Length: op.Length})
	case OpRetain:
		return json.Marshal(wireRetain{Type: op.Type, Length: op.Length})
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidOperation, op.Type)
	}
}

func (op *Operation) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type     OpType `json:"type"`
		Position int    `json:"position"`
		Text     string `json:"text"`
		Length   int    `json:"length"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded := Operation{Type: raw.Type}
	switch raw.Type {
	case OpInsert:
		decoded.Position = raw.Position
		decoded.Text = raw.Text
	case OpDelete:
		decoded.Position = raw.Position
		decoded.Length = raw.Length
	case OpRetain:
		decoded.Length = raw.Length
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidOperation, raw.Type)
	}
	if err := decoded.Validate(); err != nil {
		return err
	}
	*op = decoded
	return nil
}

// Record is an applied operation stamped with the version it produced.
type Record struct {
	Operation Operation `json:"operation"`
	Version   uint64    `json:"version"`
	ClientID  string    `json:"clientId"`
	Timestamp int64     `json:"timestamp"`
}

// ApplyTo applies op to text without any engine bookkeeping.
func ApplyTo(text string, op Operation) (string, error) {
	if err := op.Validate(); err != nil {
		return text, err
	}
	if err := checkBounds(op, len(text)); err != nil {
		return text, err
	}
	switch op.Type {
	case OpInsert:
		return text[:op.Position] + op.Text + text[op.Position:], nil
	case OpDelete:
		return text[:op.Position] + text[op.Position+op.Length:], nil
	default:
		return text, nil
	}
}

// checkBounds returns ErrOutOfBounds when op does not fit a document of
// size bytes.
func checkBounds(op Operation, size int) error {
	switch op.Type {
	case OpInsert:
		if op.Position > size {
			return ErrOutOfBounds
		}
	case OpDelete:
		// written as a subtraction so huge lengths cannot overflow
		if op.Position > size || op.Length > size-op.Position {
			return ErrOutOfBounds
		}
	}
	return nil
}

// Diff returns the operations turning from into to: at most one Delete
// followed by one Insert, covering the span between the common prefix and
// suffix.
func Diff(from, to string) []Operation {
	prefix := 0
	for prefix < len(from) && prefix < len(to) && from[prefix] == to[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(from)-prefix && suffix < len(to)-prefix &&
		from[len(from)-1-suffix] == to[len(to)-1-suffix] {
		suffix++
	}
	var ops []Operation
	if removed := len(from) - prefix - suffix; removed > 0 {
		ops = append(ops, Delete(prefix, removed))
	}
	if inserted := to[prefix : len(to)-suffix]; inserted != "" {
		ops = append(ops, Insert(prefix, inserted))
	}
	return ops
}
