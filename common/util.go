package common

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Assertf simple assertion with message formatting
func Assertf(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

// AssertNoError panics on non-nil error
func AssertNoError(err error) {
	Assertf(err == nil, "error: %v", err)
}

// Concat concatenates bytes of byte-able objects
func Concat(par ...interface{}) []byte {
	var buf bytes.Buffer
	for _, p := range par {
		switch p := p.(type) {
		case []byte:
			buf.Write(p)
		case byte:
			buf.WriteByte(p)
		case string:
			buf.Write([]byte(p))
		case uint64:
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], p)
			buf.Write(b[:])
		case interface{ Bytes() []byte }:
			buf.Write(p.Bytes())
		default:
			Assertf(false, "Concat: unsupported type %T", p)
		}
	}
	return buf.Bytes()
}

// MustBytes most common way of serialization
func MustBytes(o interface{ Write(w io.Writer) error }) []byte {
	var buf bytes.Buffer
	if err := o.Write(&buf); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

//----------------------------------------------------------------------------
// r/w helpers for the binary serialization of storage records

func WriteByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

func ReadByte(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func WriteUint64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func ReadUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// WriteBytes8 writes a byte slice of size <= 255 prefixed with 1 byte of length
func WriteBytes8(w io.Writer, data []byte) error {
	if len(data) > 255 {
		return fmt.Errorf("WriteBytes8: size %d > 255", len(data))
	}
	if err := WriteByte(w, byte(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func ReadBytes8(r io.Reader) ([]byte, error) {
	sz, err := ReadByte(r)
	if err != nil {
		return nil, err
	}
	ret := make([]byte, sz)
	if _, err = io.ReadFull(r, ret); err != nil {
		return nil, err
	}
	return ret, nil
}
