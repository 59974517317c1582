package ot

import "fmt"

// TransformPair rewrites op1 so it applies after op2, where both were
// defined against the same document. Concurrent inserts at one position
// order op2 first.
func TransformPair(op1, op2 Operation) (Operation, error) {
	if op1.Type == OpRetain || op2.Type == OpRetain {
		return op1, nil
	}
	switch op1.Type {
	case OpInsert:
		switch op2.Type {
		case OpInsert:
			return transformInsertInsert(op1, op2), nil
		case OpDelete:
			return transformInsertDelete(op1, op2), nil
		}
	case OpDelete:
		switch op2.Type {
		case OpInsert:
			return transformDeleteInsert(op1, op2)
		case OpDelete:
			return transformDeleteDelete(op1, op2), nil
		}
	}
	return op1, fmt.Errorf("%w: cannot transform %s against %s", ErrInvalidOperation, op1.Type, op2.Type)
}

func transformInsertInsert(op1, op2 Operation) Operation {
	if op1.Position < op2.Position {
		return op1
	}
	op1.Position += len(op2.Text)
	return op1
}

func transformInsertDelete(op1, op2 Operation) Operation {
	if op1.Position <= op2.Position {
		return op1
	}
	op1.Position -= min(op1.Position-op2.Position, op2.Length)
	return op1
}

func transformDeleteInsert(op1, op2 Operation) (Operation, error) {
	end1 := op1.Position + op1.Length
	insertEnd := op2.Position + len(op2.Text)
	switch {
	case end1 <= op2.Position:
		return op1, nil
	case op1.Position >= insertEnd:
		op1.Position += len(op2.Text)
		return op1, nil
	}

	position := op1.Position
	length := op1.Length
	if op1.Position > op2.Position {
		position = insertEnd
		length = saturatingSub(length, op1.Position-op2.Position)
	}
	if end1 > insertEnd {
		length = saturatingSub(length, end1-insertEnd)
	}
	if length == 0 {
		return op1, fmt.Errorf("%w: delete collapsed to zero length", ErrInvalidOperation)
	}
	return Delete(position, length), nil
}

func transformDeleteDelete(op1, op2 Operation) Operation {
	end1 := op1.Position + op1.Length
	end2 := op2.Position + op2.Length
	switch {
	case end1 <= op2.Position:
		return op1
	case op1.Position >= end2:
		op1.Position -= op2.Length
		return op1
	}
	position := min(op1.Position, op2.Position)
	return Delete(position, max(end1, end2)-position)
}

func saturatingSub(a, b int) int {
	if b >= a {
		return 0
	}
	return a - b
}
