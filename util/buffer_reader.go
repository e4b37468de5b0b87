package util

// 读取函数返回新的游标位置和读取到的值，调用方负责保证长度足够

func ReadByte(buf []byte, cursor int) (int, byte) {
	return cursor + 1, buf[cursor]
}

func ReadBytes(buf []byte, cursor int, n int) (int, []byte) {
	out := make([]byte, n)
	copy(out, buf[cursor:cursor+n])
	return cursor + n, out
}

func ReadUint32BE(buf []byte, cursor int) (int, uint32) {
	b := buf[cursor : cursor+4]
	v := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	return cursor + 4, v
}

func ReadInt32BE(buf []byte, cursor int) (int, int32) {
	c, v := ReadUint32BE(buf, cursor)
	return c, int32(v)
}

func ReadUint64BE(buf []byte, cursor int) (int, uint64) {
	b := buf[cursor : cursor+8]
	v := uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
		uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
	return cursor + 8, v
}

func ReadInt64BE(buf []byte, cursor int) (int, int64) {
	c, v := ReadUint64BE(buf, cursor)
	return c, int64(v)
}

// ReadBytesWithLength reads a uint32 length prefix and the bytes that follow.
// ok is false when buf is too short.
func ReadBytesWithLength(buf []byte, cursor int) (int, []byte, bool) {
	if cursor+4 > len(buf) {
		return cursor, nil, false
	}
	c, n := ReadUint32BE(buf, cursor)
	if uint64(c)+uint64(n) > uint64(len(buf)) {
		return cursor, nil, false
	}
	c, out := ReadBytes(buf, c, int(n))
	return c, out, true
}
