package protocol

import "encoding/binary"

// EncodeHeader serializes a header into its 8-byte wire form.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = h.Type
	buf[1] = h.Flags
	binary.BigEndian.PutUint16(buf[2:4], h.Sequence)
	binary.BigEndian.PutUint32(buf[4:8], h.Length)
	return buf
}

// DecodeHeader deserializes the first 8 bytes of data into a header. No
// bound is applied to Length here; that is the relay's responsibility.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, ErrTruncated
	}
	return Header{
		Type:     data[0],
		Flags:    data[1],
		Sequence: binary.BigEndian.Uint16(data[2:4]),
		Length:   binary.BigEndian.Uint32(data[4:8]),
	}, nil
}

// EncodeVideo serializes a video frame payload: width, height, pixel bytes.
func EncodeVideo(f VideoFrame) []byte {
	buf := make([]byte, 4+len(f.Data))
	binary.BigEndian.PutUint16(buf[0:2], f.Width)
	binary.BigEndian.PutUint16(buf[2:4], f.Height)
	copy(buf[4:], f.Data)
	return buf
}

// DecodeVideo deserializes a video frame payload. Everything after the
// 4-byte dimensions is the opaque pixel or delta data.
func DecodeVideo(data []byte) (VideoFrame, error) {
	if len(data) < 4 {
		return VideoFrame{}, ErrTruncated
	}
	f := VideoFrame{
		Width:  binary.BigEndian.Uint16(data[0:2]),
		Height: binary.BigEndian.Uint16(data[2:4]),
	}
	if len(data) > 4 {
		f.Data = make([]byte, len(data)-4)
		copy(f.Data, data[4:])
	}
	return f, nil
}

// EncodeInput serializes an input event payload into its 4-byte wire form.
func EncodeInput(e InputEvent) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], e.Buttons)
	binary.BigEndian.PutUint16(buf[2:4], e.Reserved)
	return buf
}

// DecodeInput deserializes an input event payload.
func DecodeInput(data []byte) (InputEvent, error) {
	if len(data) < 4 {
		return InputEvent{}, ErrTruncated
	}
	return InputEvent{
		Buttons:  binary.BigEndian.Uint16(data[0:2]),
		Reserved: binary.BigEndian.Uint16(data[2:4]),
	}, nil
}

// EncodeAudio serializes an audio chunk payload: sample rate, channel
// count, then each sample as a big-endian int16.
func EncodeAudio(c AudioChunk) []byte {
	buf := make([]byte, 3+len(c.Samples)*2)
	binary.BigEndian.PutUint16(buf[0:2], c.SampleRate)
	buf[2] = c.Channels
	for i, s := range c.Samples {
		binary.BigEndian.PutUint16(buf[3+i*2:], uint16(s))
	}
	return buf
}

// DecodeAudio deserializes an audio chunk payload. A trailing byte that
// does not complete a sample is discarded, not an error.
func DecodeAudio(data []byte) (AudioChunk, error) {
	if len(data) < 3 {
		return AudioChunk{}, ErrTruncated
	}
	c := AudioChunk{
		SampleRate: binary.BigEndian.Uint16(data[0:2]),
		Channels:   data[2],
	}
	n := (len(data) - 3) / 2
	if n > 0 {
		c.Samples = make([]int16, n)
		for i := range c.Samples {
			c.Samples[i] = int16(binary.BigEndian.Uint16(data[3+i*2:]))
		}
	}
	return c, nil
}
