package wire

import "github.com/shardroute/dbproxy/internal/doc"

// EncodeQuery serializes a QueryMessage to a complete framed message,
// filling in the header length from the encoded body.
func EncodeQuery(m QueryMessage) []byte {
	body := make([]byte, 0, 64)
	body = appendUint32(body, m.Flags)
	body = appendCString(body, m.Namespace)
	body = appendUint32(body, m.Skip)
	body = appendUint32(body, uint32(int32ToUint32(m.Return)))
	body = EncodeDoc(body, m.Query)
	hasSel := byte(0)
	if m.HasSelector {
		hasSel = 1
	}
	body = append(body, hasSel)
	if m.HasSelector {
		body = EncodeDoc(body, m.FieldSelector)
	}

	h := m.Header
	h.OpCode = OpQuery
	h.Length = uint32(headerLen + len(body))
	out := make([]byte, headerLen, h.Length)
	putHeader(out, h)
	return append(out, body...)
}

// DecodeQuery parses a complete framed message as a QueryMessage. The
// caller has already validated the header via PeekHeader.
func DecodeQuery(buf []byte) (QueryMessage, error) {
	h := getHeader(buf)
	body := buf[headerLen:]

	flags, body, err := readUint32(body)
	if err != nil {
		return QueryMessage{}, err
	}
	ns, body, err := readCString(body)
	if err != nil {
		return QueryMessage{}, err
	}
	skip, body, err := readUint32(body)
	if err != nil {
		return QueryMessage{}, err
	}
	ret, body, err := readUint32(body)
	if err != nil {
		return QueryMessage{}, err
	}
	query, body, err := DecodeDoc(body)
	if err != nil {
		return QueryMessage{}, err
	}
	if len(body) < 1 {
		return QueryMessage{}, ErrTruncated
	}
	hasSel := body[0] != 0
	body = body[1:]

	m := QueryMessage{
		Header:    h,
		Flags:     flags,
		Namespace: ns,
		Skip:      skip,
		Return:    uint32ToInt32(ret),
		Query:     query,
	}
	if hasSel {
		sel, _, err := DecodeDoc(body)
		if err != nil {
			return QueryMessage{}, err
		}
		m.FieldSelector = sel
		m.HasSelector = true
	}
	return m, nil
}

// EncodeReply serializes a ReplyMessage to a complete framed message.
func EncodeReply(m ReplyMessage) []byte {
	body := make([]byte, 0, 64)
	body = appendUint32(body, m.Flags)
	body = appendUint64(body, m.CursorID)
	body = appendUint32(body, m.StartingFrom)
	body = appendUint32(body, uint32(len(m.Docs)))
	for _, d := range m.Docs {
		body = EncodeDoc(body, d)
	}

	h := m.Header
	h.OpCode = OpReply
	h.Length = uint32(headerLen + len(body))
	out := make([]byte, headerLen, h.Length)
	putHeader(out, h)
	return append(out, body...)
}

// DecodeReply parses a complete framed message as a ReplyMessage.
func DecodeReply(buf []byte) (ReplyMessage, error) {
	h := getHeader(buf)
	body := buf[headerLen:]

	flags, body, err := readUint32(body)
	if err != nil {
		return ReplyMessage{}, err
	}
	cursorID, body, err := readUint64(body)
	if err != nil {
		return ReplyMessage{}, err
	}
	startingFrom, body, err := readUint32(body)
	if err != nil {
		return ReplyMessage{}, err
	}
	count, body, err := readUint32(body)
	if err != nil {
		return ReplyMessage{}, err
	}
	docs := make([]doc.Doc, 0, count)
	for i := uint32(0); i < count; i++ {
		d, rest, err := DecodeDoc(body)
		if err != nil {
			return ReplyMessage{}, err
		}
		docs = append(docs, d)
		body = rest
	}
	return ReplyMessage{
		Header:       h,
		Flags:        flags,
		CursorID:     cursorID,
		StartingFrom: startingFrom,
		Count:        count,
		Docs:         docs,
	}, nil
}

// EncodeGetMore serializes a GetMoreMessage.
func EncodeGetMore(m GetMoreMessage) []byte {
	body := make([]byte, 0, 32)
	body = appendUint32(body, 0) // reserved
	body = appendCString(body, m.Namespace)
	body = appendUint32(body, uint32(int32ToUint32(m.Return)))
	body = appendUint64(body, m.CursorID)

	h := m.Header
	h.OpCode = OpGetMore
	h.Length = uint32(headerLen + len(body))
	out := make([]byte, headerLen, h.Length)
	putHeader(out, h)
	return append(out, body...)
}

// DecodeGetMore parses a GetMoreMessage.
func DecodeGetMore(buf []byte) (GetMoreMessage, error) {
	h := getHeader(buf)
	body := buf[headerLen:]
	_, body, err := readUint32(body)
	if err != nil {
		return GetMoreMessage{}, err
	}
	ns, body, err := readCString(body)
	if err != nil {
		return GetMoreMessage{}, err
	}
	ret, body, err := readUint32(body)
	if err != nil {
		return GetMoreMessage{}, err
	}
	cursorID, _, err := readUint64(body)
	if err != nil {
		return GetMoreMessage{}, err
	}
	return GetMoreMessage{Header: h, Namespace: ns, Return: uint32ToInt32(ret), CursorID: cursorID}, nil
}

// EncodeKillCursors serializes a KillCursorsMessage.
func EncodeKillCursors(m KillCursorsMessage) []byte {
	body := make([]byte, 0, 16)
	body = appendUint32(body, 0) // reserved
	body = appendUint32(body, uint32(len(m.CursorIDs)))
	for _, id := range m.CursorIDs {
		body = appendUint64(body, id)
	}

	h := m.Header
	h.OpCode = OpKillCursors
	h.Length = uint32(headerLen + len(body))
	out := make([]byte, headerLen, h.Length)
	putHeader(out, h)
	return append(out, body...)
}

// DecodeKillCursors parses a KillCursorsMessage.
func DecodeKillCursors(buf []byte) (KillCursorsMessage, error) {
	h := getHeader(buf)
	body := buf[headerLen:]
	_, body, err := readUint32(body)
	if err != nil {
		return KillCursorsMessage{}, err
	}
	n, body, err := readUint32(body)
	if err != nil {
		return KillCursorsMessage{}, err
	}
	ids := make([]uint64, 0, n)
	for i := uint32(0); i < n; i++ {
		id, rest, err := readUint64(body)
		if err != nil {
			return KillCursorsMessage{}, err
		}
		ids = append(ids, id)
		body = rest
	}
	return KillCursorsMessage{Header: h, CursorIDs: ids}, nil
}

// EncodeWrite serializes an update/insert/delete WriteMessage.
func EncodeWrite(m WriteMessage) []byte {
	body := make([]byte, 0, 64)
	body = appendUint32(body, m.Flags)
	body = appendCString(body, m.Namespace)
	body = appendUint32(body, uint32(len(m.Docs)))
	for _, d := range m.Docs {
		body = EncodeDoc(body, d)
	}

	h := m.Header
	h.OpCode = m.OpCode
	h.Length = uint32(headerLen + len(body))
	out := make([]byte, headerLen, h.Length)
	putHeader(out, h)
	return append(out, body...)
}

// DecodeWrite parses an update/insert/delete WriteMessage, taking its
// opcode from the message header.
func DecodeWrite(buf []byte) (WriteMessage, error) {
	h := getHeader(buf)
	body := buf[headerLen:]
	flags, body, err := readUint32(body)
	if err != nil {
		return WriteMessage{}, err
	}
	ns, body, err := readCString(body)
	if err != nil {
		return WriteMessage{}, err
	}
	n, body, err := readUint32(body)
	if err != nil {
		return WriteMessage{}, err
	}
	docs := make([]doc.Doc, 0, n)
	for i := uint32(0); i < n; i++ {
		d, rest, err := DecodeDoc(body)
		if err != nil {
			return WriteMessage{}, err
		}
		docs = append(docs, d)
		body = rest
	}
	return WriteMessage{Header: h, OpCode: h.OpCode, Flags: flags, Namespace: ns, Docs: docs}, nil
}

func int32ToUint32(n int32) uint32 { return uint32(n) }
func uint32ToInt32(n uint32) int32 { return int32(n) }
