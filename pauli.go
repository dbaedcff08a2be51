package qshard

import (
	"fmt"
	"sort"
	"strings"
)

const pauliAlphabet = "IXYZ"

/*
PauliStringSpace maps Pauli strings of one fixed length, such as "XIZ", to
complex coefficients. Every key is checked against the alphabet and the
register size.
*/
type PauliStringSpace struct {
	numQubits int
	terms     map[string]complex128
}

// NewPauliStringSpace starts with the identity string at coefficient 0.
func NewPauliStringSpace(numQubits int) *PauliStringSpace {
	return &PauliStringSpace{
		numQubits: numQubits,
		terms:     map[string]complex128{strings.Repeat("I", numQubits): 0},
	}
}

// NewPauliStringSpaceFrom takes its size from the keys, which must all agree.
func NewPauliStringSpaceFrom(terms map[string]complex128) (*PauliStringSpace, error) {
	s := &PauliStringSpace{numQubits: -1, terms: make(map[string]complex128, len(terms))}

	for key, value := range terms {
		if s.numQubits < 0 {
			s.numQubits = len(key)
		}
		if err := s.Set(key, value); err != nil {
			return nil, err
		}
	}

	if s.numQubits < 0 {
		s.numQubits = 0
	}
	return s, nil
}

func (s *PauliStringSpace) validate(key string) error {
	if len(key) != s.numQubits || strings.Trim(key, pauliAlphabet) != "" {
		return fmt.Errorf("%w: %q is not a Pauli string of length %d", ErrWrongPauliString, key, s.numQubits)
	}
	return nil
}

// At returns the coefficient of key, failing when key is not present.
func (s *PauliStringSpace) At(key string) (complex128, error) {
	if err := s.validate(key); err != nil {
		return 0, err
	}

	value, ok := s.terms[key]
	if !ok {
		return 0, fmt.Errorf("%w: no term %q", ErrOutOfRange, key)
	}
	return value, nil
}

func (s *PauliStringSpace) Set(key string, value complex128) error {
	if err := s.validate(key); err != nil {
		return err
	}
	s.terms[key] = value
	return nil
}

// Add accumulates value onto key, creating it at zero first.
func (s *PauliStringSpace) Add(key string, value complex128) error {
	if err := s.validate(key); err != nil {
		return err
	}
	s.terms[key] += value
	return nil
}

func (s *PauliStringSpace) Find(key string) (complex128, bool, error) {
	if err := s.validate(key); err != nil {
		return 0, false, err
	}
	value, ok := s.terms[key]
	return value, ok, nil
}

// Contains never fails; a malformed key is simply absent.
func (s *PauliStringSpace) Contains(key string) bool {
	_, ok := s.terms[key]
	return ok
}

func (s *PauliStringSpace) Len() int {
	return len(s.terms)
}

func (s *PauliStringSpace) NumQubits() int {
	return s.numQubits
}

// Keys lists the strings in lexical order.
func (s *PauliStringSpace) Keys() []string {
	keys := make([]string, 0, len(s.terms))
	for key := range s.terms {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
