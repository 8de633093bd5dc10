package tcpcomm

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Handshake layout: magic, version, rank, rank count, name. Data payloads
// after the handshake carry no header at all; both sides derive the length
// from the cached vertex distribution and the data dimensionality.
const (
	handshakeMagic   = "CPLC"
	handshakeVersion = 1
)

type handshake struct {
	Name      string
	Rank      int
	RankCount int
	SessionID string
}

func writeHandshake(w io.Writer, h handshake) error {
	name := []byte(h.Name)
	session := []byte(h.SessionID)

	buf := make([]byte, 0, 4+1+4+4+2+len(name)+2+len(session))
	buf = append(buf, handshakeMagic...)
	buf = append(buf, handshakeVersion)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(h.Rank))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(h.RankCount))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(name)))
	buf = append(buf, name...)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(session)))
	buf = append(buf, session...)

	_, err := w.Write(buf)

	return err
}

func readHandshake(r io.Reader) (handshake, error) {
	head := make([]byte, 4+1+4+4+2)
	if _, err := io.ReadFull(r, head); err != nil {
		return handshake{}, err
	}

	if string(head[:4]) != handshakeMagic {
		return handshake{}, fmt.Errorf("bad handshake magic %q", head[:4])
	}

	if head[4] != handshakeVersion {
		return handshake{}, fmt.Errorf(
			"handshake version %d, want %d", head[4], handshakeVersion)
	}

	h := handshake{
		Rank:      int(binary.LittleEndian.Uint32(head[5:9])),
		RankCount: int(binary.LittleEndian.Uint32(head[9:13])),
	}

	name := make([]byte, binary.LittleEndian.Uint16(head[13:15]))
	if _, err := io.ReadFull(r, name); err != nil {
		return handshake{}, err
	}
	h.Name = string(name)

	var sessionLen [2]byte
	if _, err := io.ReadFull(r, sessionLen[:]); err != nil {
		return handshake{}, err
	}

	session := make([]byte, binary.LittleEndian.Uint16(sessionLen[:]))
	if _, err := io.ReadFull(r, session); err != nil {
		return handshake{}, err
	}
	h.SessionID = string(session)

	return h, nil
}

func encodeFloats(buf []float64) []byte {
	out := make([]byte, 8*len(buf))
	for i, v := range buf {
		binary.LittleEndian.PutUint64(out[8*i:], math.Float64bits(v))
	}

	return out
}

func decodeFloats(raw []byte, buf []float64) {
	for i := range buf {
		buf[i] = math.Float64frombits(
			binary.LittleEndian.Uint64(raw[8*i:]))
	}
}

func encodeInts(buf []int) []byte {
	out := make([]byte, 8*len(buf))
	for i, v := range buf {
		binary.LittleEndian.PutUint64(out[8*i:], uint64(int64(v)))
	}

	return out
}

func decodeInts(raw []byte, buf []int) {
	for i := range buf {
		buf[i] = int(int64(binary.LittleEndian.Uint64(raw[8*i:])))
	}
}
