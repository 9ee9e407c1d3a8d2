package baostock

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"
)

const (
	protocolVersion = "00.8.90"
	delim           = "\x01"
	terminator      = "<![CDATA[]]>\n"
	// version + delim + 2-char type + delim + 10-digit length
	headerLen = len(protocolVersion) + 1 + 2 + 1 + 10
)

// Message types. Responses to a request type are request+1.
const (
	msgLogin          = "00"
	msgLoginResp      = "01"
	msgLogout         = "02"
	msgLogoutResp     = "03"
	msgQueryKData     = "95"
	msgQueryKDataResp = "96"
)

// compressed response types carry a zlib body.
var compressed = map[string]bool{msgQueryKDataResp: true}

// Result codes.
const (
	codeOK          = "0"
	codeNotLoggedIn = "10001001"
)

var errBadFrame = errors.New("baostock: malformed frame")

type frame struct {
	Type   string
	Fields []string
}

func encodeFrame(f frame) ([]byte, error) {
	body := []byte(strings.Join(f.Fields, delim))
	if compressed[f.Type] {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		body = buf.Bytes()
	}

	head := fmt.Sprintf("%s%s%s%s%010d", protocolVersion, delim, f.Type, delim, len(body))
	msg := append([]byte(head), body...)
	crc := crc32.ChecksumIEEE(msg)

	out := make([]byte, 0, len(msg)+len(terminator)+12)
	out = append(out, msg...)
	out = append(out, delim...)
	out = strconv.AppendUint(out, uint64(crc), 10)
	out = append(out, terminator...)
	return out, nil
}

func readFrame(r *bufio.Reader) (frame, error) {
	head := make([]byte, headerLen)
	if _, err := io.ReadFull(r, head); err != nil {
		return frame{}, err
	}
	parts := strings.Split(string(head), delim)
	if len(parts) != 3 || parts[0] != protocolVersion {
		return frame{}, fmt.Errorf("%w: header %q", errBadFrame, head)
	}
	size, err := strconv.Atoi(parts[2])
	if err != nil || size < 0 {
		return frame{}, fmt.Errorf("%w: length %q", errBadFrame, parts[2])
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return frame{}, err
	}

	// trailer is delim + crc + terminator
	trailer, err := r.ReadString('\n')
	if err != nil {
		return frame{}, err
	}
	crcText, ok := strings.CutSuffix(trailer, terminator)
	if !ok || !strings.HasPrefix(crcText, delim) {
		return frame{}, fmt.Errorf("%w: trailer %q", errBadFrame, trailer)
	}
	want, err := strconv.ParseUint(crcText[len(delim):], 10, 32)
	if err != nil {
		return frame{}, fmt.Errorf("%w: crc %q", errBadFrame, crcText)
	}
	if got := crc32.ChecksumIEEE(append(head, body...)); uint64(got) != want {
		return frame{}, fmt.Errorf("%w: crc mismatch", errBadFrame)
	}

	msgType := parts[1]
	if compressed[msgType] {
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return frame{}, fmt.Errorf("%w: %w", errBadFrame, err)
		}
		body, err = io.ReadAll(zr)
		_ = zr.Close()
		if err != nil {
			return frame{}, fmt.Errorf("%w: %w", errBadFrame, err)
		}
	}

	return frame{Type: msgType, Fields: strings.Split(string(body), delim)}, nil
}

// Code and Message are the leading fields of every response.
func (f frame) Code() string    { return f.field(0) }
func (f frame) Message() string { return f.field(1) }

func (f frame) field(i int) string {
	if i < len(f.Fields) {
		return f.Fields[i]
	}
	return ""
}
