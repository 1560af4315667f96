package httpwire

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedResponse 表示上游响应头无法解析。
var ErrMalformedResponse = errors.New("malformed response")

// ErrIncompleteResponse 表示连接关闭时仍未收到完整响应头。
var ErrIncompleteResponse = errors.New("incomplete response")

// FramingMode 描述响应体的结束判定规则。
type FramingMode int

const (
	FramingPending FramingMode = iota
	FramingHeadOnly
	FramingChunked
	FramingLength
	FramingClose
)

func (m FramingMode) String() string {
	switch m {
	case FramingHeadOnly:
		return "head_only"
	case FramingChunked:
		return "chunked"
	case FramingLength:
		return "content_length"
	case FramingClose:
		return "until_close"
	default:
		return "pending"
	}
}

// ResponseHead 是解析后的状态行与头部。
type ResponseHead struct {
	Proto      string
	StatusCode int
	Status     string
	Lines      []string
}

// ParseResponseHead 解析不含结束空行的响应头。
func ParseResponseHead(head []byte) (*ResponseHead, error) {
	lines := splitLines(head)
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty status line", ErrMalformedResponse)
	}
	proto, rest, _ := strings.Cut(lines[0], " ")
	if !strings.HasPrefix(proto, "HTTP/") {
		return nil, fmt.Errorf("%w: status line %q", ErrMalformedResponse, lines[0])
	}
	codeRaw, _, _ := strings.Cut(strings.TrimSpace(rest), " ")
	code, err := strconv.Atoi(codeRaw)
	if err != nil || code < 100 || code > 999 {
		return nil, fmt.Errorf("%w: status code %q", ErrMalformedResponse, codeRaw)
	}
	return &ResponseHead{
		Proto:      proto,
		StatusCode: code,
		Status:     strings.TrimSpace(rest),
		Lines:      lines,
	}, nil
}

// Get 大小写不敏感地查找头部。
func (h *ResponseHead) Get(name string) (string, bool) {
	return lookupHeader(h.Lines[1:], name)
}

// ContentType 返回 Content-Type 的值（可能为空）。
func (h *ResponseHead) ContentType() string {
	value, _ := h.Get("Content-Type")
	return value
}

// Chunked 判断 Transfer-Encoding 是否包含 chunked。
func (h *ResponseHead) Chunked() bool {
	value, ok := h.Get("Transfer-Encoding")
	return ok && strings.Contains(strings.ToLower(value), "chunked")
}

// ContentLength 返回声明的正文长度，非法值视为未声明。
func (h *ResponseHead) ContentLength() (int64, bool) {
	raw, ok := h.Get("Content-Length")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Bytes 重新拼装头部，并以 CRLF CRLF 结束。
func (h *ResponseHead) Bytes() []byte {
	return []byte(strings.Join(h.Lines, crlf) + headerTerm)
}

// withDecodedLength 去掉 Transfer-Encoding 并写入解码后的 Content-Length。
func (h *ResponseHead) withDecodedLength(n int) *ResponseHead {
	lines := make([]string, 0, len(h.Lines)+1)
	lines = append(lines, h.Lines[0])
	for _, line := range h.Lines[1:] {
		key, _, _ := strings.Cut(line, ":")
		key = strings.TrimSpace(key)
		if strings.EqualFold(key, "Transfer-Encoding") || strings.EqualFold(key, "Content-Length") {
			continue
		}
		lines = append(lines, line)
	}
	lines = append(lines, "Content-Length: "+strconv.Itoa(n))
	clone := *h
	clone.Lines = lines
	return &clone
}

// Response 是经过分帧后的完整上游响应。
type Response struct {
	Head *ResponseHead
	// Header 为发送给客户端的头部字节（含结束空行）。
	Header []byte
	Body   []byte
	Mode   FramingMode
	// Complete 为 false 表示对端在声明的边界前关闭了连接。
	Complete bool
}

// Bytes 返回头部与正文拼接后的原始字节。
func (r *Response) Bytes() []byte {
	out := make([]byte, 0, len(r.Header)+len(r.Body))
	out = append(out, r.Header...)
	return append(out, r.Body...)
}

// HeaderEnd 返回头部结束（含 CRLF CRLF）的位置，未找到时返回 -1。
func HeaderEnd(buf []byte) int {
	idx := bytes.Index(buf, []byte(headerTerm))
	if idx == -1 {
		return -1
	}
	return idx + len(headerTerm)
}

// Framer 逐块接收上游数据，依据已收到的头部判断响应何时结束。
// 判定顺序：chunked → Content-Length → 读到连接关闭。
type Framer struct {
	headOnly bool

	buf       []byte
	bodyStart int
	head      *ResponseHead
	mode      FramingMode
	length    int64
	done      bool

	chunks   chunkDecoder
	chunkErr error
}

// NewFramer 创建分帧器；headOnly 对应 HEAD 请求，头部结束即完成。
func NewFramer(headOnly bool) *Framer {
	return &Framer{headOnly: headOnly, bodyStart: -1}
}

// Mode 返回当前分帧规则。
func (f *Framer) Mode() FramingMode {
	return f.mode
}

// Write 追加一段数据，返回响应是否已经完整。
func (f *Framer) Write(p []byte) (bool, error) {
	if f.done {
		return true, nil
	}
	f.buf = append(f.buf, p...)

	if f.head == nil {
		end := HeaderEnd(f.buf)
		if end == -1 {
			return false, nil
		}
		head, err := ParseResponseHead(f.buf[:end-len(headerTerm)])
		if err != nil {
			return false, err
		}
		f.head = head
		f.bodyStart = end
		f.selectMode()
		if f.done {
			f.buf = f.buf[:f.bodyStart]
			return true, nil
		}
	}

	switch f.mode {
	case FramingChunked:
		if f.chunkErr != nil {
			return false, nil
		}
		complete, err := f.chunks.feed(f.buf[f.bodyStart:])
		if err != nil {
			// 无法解码时退回到读到连接关闭，并原样透传正文。
			f.chunkErr = err
			return false, nil
		}
		f.done = complete
	case FramingLength:
		if int64(len(f.buf)-f.bodyStart) >= f.length {
			f.buf = f.buf[:f.bodyStart+int(f.length)]
			f.done = true
		}
	}
	return f.done, nil
}

func (f *Framer) selectMode() {
	switch {
	case f.headOnly:
		f.mode = FramingHeadOnly
		f.done = true
	case f.head.StatusCode == 204 || f.head.StatusCode == 304 || f.head.StatusCode < 200:
		f.mode = FramingLength
		f.done = true
	case f.head.Chunked():
		f.mode = FramingChunked
	default:
		if n, ok := f.head.ContentLength(); ok {
			f.mode = FramingLength
			f.length = n
			f.done = n == 0
			return
		}
		f.mode = FramingClose
	}
}

// Result 在读取结束（完整或对端关闭）后产出响应。
func (f *Framer) Result() (*Response, error) {
	if f.head == nil {
		return nil, fmt.Errorf("%w: no header boundary in %d bytes", ErrIncompleteResponse, len(f.buf))
	}
	body := f.buf[f.bodyStart:]
	resp := &Response{
		Head:     f.head,
		Header:   f.buf[:f.bodyStart],
		Body:     body,
		Mode:     f.mode,
		Complete: f.done,
	}
	if f.mode == FramingClose {
		resp.Complete = true
	}
	if f.mode == FramingChunked && f.done && f.chunkErr == nil {
		decoded := f.chunks.decoded
		resp.Head = f.head.withDecodedLength(len(decoded))
		resp.Header = resp.Head.Bytes()
		resp.Body = decoded
	}
	return resp, nil
}

// DecodeChunked 解码完整的 chunked 正文；complete 表示是否遇到结束块。
func DecodeChunked(body []byte) ([]byte, bool, error) {
	var d chunkDecoder
	complete, err := d.feed(body)
	return d.decoded, complete, err
}

// maxChunkSize 是单个块允许的最大长度，超出视为格式错误。
const maxChunkSize = 1<<31 - 1

// chunkDecoder 以增量方式解码 chunked 正文，offset 指向下一个块长度行。
type chunkDecoder struct {
	offset  int
	decoded []byte
}

func (d *chunkDecoder) feed(body []byte) (bool, error) {
	for {
		rest := body[d.offset:]
		lineEnd := bytes.Index(rest, []byte(crlf))
		if lineEnd == -1 {
			return false, nil
		}
		sizeRaw := string(rest[:lineEnd])
		if semi := strings.IndexByte(sizeRaw, ';'); semi != -1 {
			sizeRaw = sizeRaw[:semi]
		}
		size, err := strconv.ParseInt(strings.TrimSpace(sizeRaw), 16, 64)
		if err != nil || size < 0 {
			return false, fmt.Errorf("%w: chunk size %q", ErrMalformedResponse, sizeRaw)
		}
		dataStart := lineEnd + len(crlf)

		if size == 0 {
			trailers := rest[dataStart:]
			if bytes.HasPrefix(trailers, []byte(crlf)) || bytes.Contains(trailers, []byte(headerTerm)) {
				return true, nil
			}
			return false, nil
		}

		if size > maxChunkSize {
			return false, fmt.Errorf("%w: chunk size %d exceeds limit", ErrMalformedResponse, size)
		}
		if int64(len(rest)-dataStart-len(crlf)) < size {
			return false, nil
		}
		need := dataStart + int(size) + len(crlf)
		if !bytes.Equal(rest[need-len(crlf):need], []byte(crlf)) {
			return false, fmt.Errorf("%w: missing CRLF after chunk", ErrMalformedResponse)
		}
		d.decoded = append(d.decoded, rest[dataStart:dataStart+int(size)]...)
		d.offset += need
	}
}
