package resp

import (
	"bytes"
	"io"
	"strconv"
)

// Encoder writes RESP3 Values onto a connection, buffering pending writes
// so a pipelined batch of responses goes out in a single Flush.
type Encoder struct {
	w   io.Writer
	buf []byte
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode appends v's wire representation to the pending buffer; call Flush
// to actually write it to the connection.
func (e *Encoder) Encode(v Value) {
	buf := getBuffer()
	writeValue(buf, v)
	e.buf = append(e.buf, buf.Bytes()...)
	putBuffer(buf)
}

// Flush writes every pending encoded Value and resets the buffer.
func (e *Encoder) Flush() error {
	if len(e.buf) == 0 {
		return nil
	}
	_, err := e.w.Write(e.buf)
	e.buf = e.buf[:0]
	return err
}

func writeValue(buf *bytes.Buffer, v Value) {
	switch v.Type {
	case TypeSimpleString:
		writeLine(buf, byte(TypeSimpleString), v.Str)
	case TypeError:
		writeLine(buf, byte(TypeError), v.Str)
	case TypeInteger:
		writeLine(buf, byte(TypeInteger), strconv.FormatInt(v.Int, 10))
	case TypeBigNumber:
		writeLine(buf, byte(TypeBigNumber), v.Str)
	case TypeDouble:
		writeLine(buf, byte(TypeDouble), formatDouble(v.Double))
	case TypeBoolean:
		s := "f"
		if v.Bool {
			s = "t"
		}
		writeLine(buf, byte(TypeBoolean), s)
	case TypeNull:
		buf.WriteByte(byte(TypeNull))
		buf.WriteString("\r\n")
	case TypeBulkString:
		if v.Null {
			buf.WriteByte(byte(TypeNull))
			buf.WriteString("\r\n")
			return
		}
		writeLine(buf, byte(TypeBulkString), strconv.Itoa(len(v.Str)))
		buf.WriteString(v.Str)
		buf.WriteString("\r\n")
	case TypeVerbatim:
		payload := v.Verbatim + ":" + v.Str
		writeLine(buf, byte(TypeVerbatim), strconv.Itoa(len(payload)))
		buf.WriteString(payload)
		buf.WriteString("\r\n")
	case TypeArray, TypePush:
		writeLine(buf, byte(v.Type), strconv.Itoa(len(v.Array)))
		for _, item := range v.Array {
			writeValue(buf, item)
		}
	case TypeSet:
		writeLine(buf, byte(TypeSet), strconv.Itoa(len(v.Set)))
		for _, item := range v.Set {
			writeValue(buf, item)
		}
	case TypeMap:
		writeLine(buf, byte(TypeMap), strconv.Itoa(len(v.Map)/2))
		for _, item := range v.Map {
			writeValue(buf, item)
		}
	}
}

func writeLine(buf *bytes.Buffer, prefix byte, s string) {
	buf.WriteByte(prefix)
	buf.WriteString(s)
	buf.WriteString("\r\n")
}

func formatDouble(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
